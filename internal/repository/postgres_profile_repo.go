package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したフォーラム利用者プロフィールリポジトリ。
type PostgresProfileRepo struct {
	db DBTX
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db DBTX) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

func scanProfile(s rowScanner) (*model.ForumUserProfile, error) {
	p := &model.ForumUserProfile{}
	var lastPostAt sql.NullTime
	if err := s.Scan(&p.UserID, &p.NotifyOfReplyByDefault, &lastPostAt); err != nil {
		return nil, err
	}
	p.LastPostAt = timePtr(lastPostAt)
	return p, nil
}

// Find は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) Find(ctx context.Context, userID string) (*model.ForumUserProfile, error) {
	if !validID(userID) {
		return nil, nil
	}
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT user_id, notify_of_reply_by_default, last_post_at
		 FROM forum_user_profiles WHERE user_id = $1`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return p, nil
}

// FindOrCreateForUpdate はプロフィール行を（無ければ作成して）ロックして返す。
// 同一ユーザーの同時投稿はこの行ロックで直列化される。
func (r *PostgresProfileRepo) FindOrCreateForUpdate(ctx context.Context, userID string) (*model.ForumUserProfile, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO forum_user_profiles (user_id, notify_of_reply_by_default)
		 VALUES ($1, true)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}

	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT user_id, notify_of_reply_by_default, last_post_at
		 FROM forum_user_profiles WHERE user_id = $1 FOR UPDATE`,
		userID,
	))
	if err != nil {
		return nil, fmt.Errorf("プロフィールのロックに失敗しました: %w", err)
	}
	return p, nil
}

// SetLastPostAt は最終投稿時刻を更新する。
func (r *PostgresProfileRepo) SetLastPostAt(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE forum_user_profiles SET last_post_at = $2 WHERE user_id = $1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("最終投稿時刻の更新に失敗しました: %w", err)
	}
	return nil
}

// SaveSettings は返信通知の既定値を保存する。
func (r *PostgresProfileRepo) SaveSettings(ctx context.Context, userID string, notifyOfReplyByDefault bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO forum_user_profiles (user_id, notify_of_reply_by_default)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET notify_of_reply_by_default = EXCLUDED.notify_of_reply_by_default`,
		userID, notifyOfReplyByDefault,
	)
	if err != nil {
		return fmt.Errorf("プロフィール設定の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
