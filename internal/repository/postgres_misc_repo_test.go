package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/lib/pq"
)

// プロフィールは作成を試みた後に行ロックして読み取ることを検証
func TestPostgresProfileRepo_FindOrCreateForUpdate(t *testing.T) {
	db, mock := newMock(t)
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO forum_user_profiles .+ ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs(testUserID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM forum_user_profiles WHERE user_id = \$1 FOR UPDATE`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "notify", "last_post_at"}).
			AddRow(testUserID, true, last))

	repo := NewPostgresProfileRepo(db)
	p, err := repo.FindOrCreateForUpdate(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.LastPostAt == nil || !p.LastPostAt.Equal(last) {
		t.Errorf("LastPostAt = %v, want %v", p.LastPostAt, last)
	}
}

// スレッド購読は thread_subscriptions に対して UPSERT することを検証
func TestPostgresSubscriptionRepo_Upsert_Thread(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO thread_subscriptions \(user_id, thread_id, active, created_at, updated_at\).+ON CONFLICT \(user_id, thread_id\) DO UPDATE`).
		WithArgs(testUserID, testThreadID, true, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresSubscriptionRepo(db)
	err := repo.Upsert(context.Background(), &model.Subscription{
		Kind: model.TargetThread, UserID: testUserID, TargetID: testThreadID,
		Active: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// 不明な粒度はSQLを発行せずにエラーを返すことを検証
func TestPostgresSubscriptionRepo_UnknownKind(t *testing.T) {
	db, _ := newMock(t)
	repo := NewPostgresSubscriptionRepo(db)

	if _, err := repo.ListActiveSubscriberIDs(context.Background(), model.TargetKind("blog"), testForumID); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

// 有効な購読者のIDを返すことを検証
func TestPostgresSubscriptionRepo_ListActiveSubscriberIDs(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT user_id FROM forum_subscriptions WHERE forum_id = \$1 AND active`).
		WithArgs(testForumID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2"))

	repo := NewPostgresSubscriptionRepo(db)
	ids, err := repo.ListActiveSubscriberIDs(context.Background(), model.TargetForum, testForumID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
		t.Errorf("ids = %v", ids)
	}
}

// 既読マーカーが存在しない場合はnilを返すことを検証
func TestPostgresReadMarkerRepo_Find_NotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM forum_read_markers WHERE user_id = \$1 AND forum_id = \$2`).
		WithArgs(testUserID, testForumID).
		WillReturnError(sql.ErrNoRows)

	repo := NewPostgresReadMarkerRepo(db)
	m, err := repo.Find(context.Background(), model.TargetForum, testUserID, testForumID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil, got %+v", m)
	}
}

// 既読マーカーの無効化は active=false を設定することを検証
func TestPostgresReadMarkerRepo_Deactivate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`UPDATE thread_read_markers SET active = false`).
		WithArgs(testUserID, testThreadID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresReadMarkerRepo(db)
	if err := repo.Deactivate(context.Background(), model.TargetThread, testUserID, testThreadID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ユーザーもIPも無い場合はDBに問い合わせないことを検証
func TestPostgresStrikeRepo_FindActive_NoKeys(t *testing.T) {
	db, _ := newMock(t)
	repo := NewPostgresStrikeRepo(db)

	s, err := repo.FindActive(context.Background(), nil, nil, time.Now())
	if err != nil || s != nil {
		t.Fatalf("FindActive = (%v, %v), want (nil, nil)", s, err)
	}
}

// アクセス禁止を優先する順序で1件取得することを検証
func TestPostgresStrikeRepo_FindActive(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ip := "198.51.100.7"

	mock.ExpectQuery(`ORDER BY block_access DESC, created_at DESC`).
		WithArgs(nil, ip, now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "author_id", "target_user_id", "target_ip",
			"created_at", "expires_at", "block_access", "internal_reason", "public_reason",
		}).AddRow("s1", testUserID, nil, ip, now, nil, true, "spam", "spam"))

	repo := NewPostgresStrikeRepo(db)
	s, err := repo.FindActive(context.Background(), nil, &ip, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil || !s.BlockAccess || s.TargetIP == nil || *s.TargetIP != ip {
		t.Errorf("unexpected strike: %+v", s)
	}
}

// ユーザーの権限が配列として読み取られることを検証
func TestPostgresUserRepo_FindByID(t *testing.T) {
	db, mock := newMock(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM users u\s+LEFT JOIN user_permissions p`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "email", "language", "is_active", "created_at", "permissions",
		}).AddRow(testUserID, "alice", "alice@example.com", "ja", true, created, []byte("{change_post,delete_post}")))

	repo := NewPostgresUserRepo(db)
	u, err := repo.FindByID(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u == nil {
		t.Fatal("expected user, got nil")
	}
	if !u.Has(model.CapChangePost) || !u.Has(model.CapDeletePost) || u.Has(model.CapChangeThread) {
		t.Errorf("Permissions = %v", u.Permissions)
	}
}

// 未処理の同一通知がある場合はfalseを返すことを検証
func TestPostgresNotificationRepo_Create_Duplicate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO notifications .+ ON CONFLICT \(recipient_id, dismiss_code\) WHERE dismissed_at IS NULL DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostgresNotificationRepo(db)
	created, err := repo.Create(context.Background(), &model.Notification{
		ID: "n1", RecipientID: testUserID, DismissCode: "thread:" + testThreadID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected created=false for duplicate")
	}
}

// 一意制約違反がSLUG_IN_USEに変換されることを検証
func TestPostgresForumRepo_Create_SlugInUse(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO forums`).
		WillReturnError(&pq.Error{Code: "23505"})

	repo := NewPostgresForumRepo(db)
	err := repo.Create(context.Background(), &model.Forum{ID: testForumID, Slug: "general", SlugPath: "general"})
	if !model.HasCode(err, model.ErrCodeSlugInUse) {
		t.Fatalf("expected SLUG_IN_USE, got %v", err)
	}
}

// 部分木の取得が前方一致と行ロックを用いることを検証
func TestPostgresForumRepo_ListSubtreeForUpdate(t *testing.T) {
	db, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "parent_id", "slug", "slug_path", "title",
		"description_source", "description_html", "description_text",
		"ordering", "private", "closed", "deleted_at", "last_modified", "created_at",
	}
	mock.ExpectQuery(`left\(slug_path, length\(\$1\) \+ 1\) = \$1 \|\| '/'.+FOR UPDATE`).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(testForumID, nil, "a", "a", "A", "", "", "", 0, false, false, nil, ts, ts).
			AddRow("f2", testForumID, "b", "a/b", "B", "", "", "", 0, false, false, nil, ts, ts))

	repo := NewPostgresForumRepo(db)
	forums, err := repo.ListSubtreeForUpdate(context.Background(), "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(forums) != 2 || forums[1].ParentID == nil || *forums[1].ParentID != testForumID {
		t.Errorf("unexpected forums: %+v", forums)
	}
}

// fnがエラーを返した場合はロールバックし、そのエラーを返すことを検証
func TestPostgresDatabase_WithinTx_Rollback(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	want := errors.New("boom")
	d := NewPostgresDatabase(db)
	err := d.WithinTx(context.Background(), func(ctx context.Context, tx Store) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

// fnが成功した場合はコミットすることを検証
func TestPostgresDatabase_WithinTx_Commit(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE forum_user_profiles SET last_post_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	d := NewPostgresDatabase(db)
	err := d.WithinTx(context.Background(), func(ctx context.Context, tx Store) error {
		return tx.Profiles().SetLastPostAt(ctx, testUserID, time.Now())
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
