package repository

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

const (
	testUserID   = "0192a5e0-0000-7000-8000-000000000001"
	testForumID  = "0192a5e0-0000-7000-8000-000000000101"
	testThreadID = "0192a5e0-0000-7000-8000-000000000201"
	testPostID   = "0192a5e0-0000-7000-8000-000000000301"
	testPostID2  = "0192a5e0-0000-7000-8000-000000000302"
)

// newMock はsqlmockのDBとモックを生成し、テスト終了時に期待値の検証とクローズを行う。
func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet SQL expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}
