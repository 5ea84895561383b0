package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db DBTX
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db DBTX) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// Create は通知を作成する。
// (recipient_id, dismiss_code) の部分ユニークインデックスにより未処理の重複は挿入されない。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, recipient_id, title, text_body, html_body, dismiss_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (recipient_id, dismiss_code) WHERE dismissed_at IS NULL DO NOTHING`,
		n.ID, n.RecipientID, n.Title, n.TextBody, n.HTMLBody, n.DismissCode, n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("通知の作成に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("作成件数の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListPending は受信者の未処理通知を新しい順に返す。
func (r *PostgresNotificationRepo) ListPending(ctx context.Context, recipientID string, limit int) ([]*model.Notification, error) {
	if !validID(recipientID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, recipient_id, title, text_body, html_body, dismiss_code, created_at
		 FROM notifications
		 WHERE recipient_id = $1 AND dismissed_at IS NULL
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		recipientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &n.TextBody, &n.HTMLBody, &n.DismissCode, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("通知行の読み取りに失敗しました: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知一覧の走査に失敗しました: %w", err)
	}
	return list, nil
}

// Dismiss は受信者の指定DismissCodeの通知を処理済みにする。
func (r *PostgresNotificationRepo) Dismiss(ctx context.Context, recipientID, dismissCode string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET dismissed_at = $3
		 WHERE recipient_id = $1 AND dismiss_code = $2 AND dismissed_at IS NULL`,
		recipientID, dismissCode, at,
	)
	if err != nil {
		return fmt.Errorf("通知の既読化に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
