package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore はPostgreSQLリポジトリ群をまとめたStore。
// dbには *sql.DB または *sql.Tx を渡す。
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Users() UserRepository                 { return NewPostgresUserRepo(s.db) }
func (s *PostgresStore) Forums() ForumRepository               { return NewPostgresForumRepo(s.db) }
func (s *PostgresStore) Threads() ThreadRepository             { return NewPostgresThreadRepo(s.db) }
func (s *PostgresStore) Posts() PostRepository                 { return NewPostgresPostRepo(s.db) }
func (s *PostgresStore) Profiles() ProfileRepository           { return NewPostgresProfileRepo(s.db) }
func (s *PostgresStore) Subscriptions() SubscriptionRepository { return NewPostgresSubscriptionRepo(s.db) }
func (s *PostgresStore) ReadMarkers() ReadMarkerRepository     { return NewPostgresReadMarkerRepo(s.db) }
func (s *PostgresStore) Strikes() StrikeRepository             { return NewPostgresStrikeRepo(s.db) }
func (s *PostgresStore) Notifications() NotificationRepository {
	return NewPostgresNotificationRepo(s.db)
}

// PostgresDatabase はトランザクションを扱えるPostgresStore。
type PostgresDatabase struct {
	*PostgresStore
	beginner TxBeginner
}

// NewPostgresDatabase はPostgresDatabaseを生成する。
func NewPostgresDatabase(db *sql.DB) *PostgresDatabase {
	return &PostgresDatabase{
		PostgresStore: NewPostgresStore(db),
		beginner:      db,
	}
}

// WithinTx はfnを1つのトランザクション内で実行する。
// コンテキストがキャンセルされた場合、database/sqlがトランザクションをロールバックする。
func (d *PostgresDatabase) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	tx, err := d.beginner.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, NewPostgresStore(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// rowScanner は *sql.Row と *sql.Rows の共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

// validID はIDがUUIDとして解釈できるかを返す。
// 不正なIDはDBに問い合わせず「見つからない」として扱う。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// compile-time interface check
var (
	_ Store    = (*PostgresStore)(nil)
	_ Database = (*PostgresDatabase)(nil)
)
