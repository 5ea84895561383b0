package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forumd/internal/model"
)

// targetTable は粒度ごとのテーブル名と対象ID列名を返す。
// 値は固定の識別子のみで、ユーザー入力をSQLに埋め込むことはない。
func targetTable(prefix string, kind model.TargetKind) (table, column string, err error) {
	switch kind {
	case model.TargetForum:
		return "forum_" + prefix, "forum_id", nil
	case model.TargetThread:
		return "thread_" + prefix, "thread_id", nil
	default:
		return "", "", fmt.Errorf("不明な対象種別です: %q", kind)
	}
}

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db DBTX
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db DBTX) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// Upsert は (user, target) の購読を作成または更新する。
func (r *PostgresSubscriptionRepo) Upsert(ctx context.Context, sub *model.Subscription) error {
	table, column, err := targetTable("subscriptions", sub.Kind)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO `+table+` (user_id, `+column+`, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, `+column+`) DO UPDATE
		 SET active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
		sub.UserID, sub.TargetID, sub.Active, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("購読の保存に失敗しました: %w", err)
	}
	return nil
}

// Find は購読を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) Find(ctx context.Context, kind model.TargetKind, userID, targetID string) (*model.Subscription, error) {
	table, column, err := targetTable("subscriptions", kind)
	if err != nil {
		return nil, err
	}
	if !validID(userID) || !validID(targetID) {
		return nil, nil
	}
	sub := &model.Subscription{Kind: kind}
	err = r.db.QueryRowContext(ctx,
		`SELECT user_id, `+column+`, active, created_at, updated_at
		 FROM `+table+` WHERE user_id = $1 AND `+column+` = $2`,
		userID, targetID,
	).Scan(&sub.UserID, &sub.TargetID, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	return sub, nil
}

// ListActiveSubscriberIDs は対象を有効に購読しているユーザーIDを返す。
func (r *PostgresSubscriptionRepo) ListActiveSubscriberIDs(ctx context.Context, kind model.TargetKind, targetID string) ([]string, error) {
	table, column, err := targetTable("subscriptions", kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM `+table+` WHERE `+column+` = $1 AND active ORDER BY user_id`,
		targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("購読者行の読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読者一覧の走査に失敗しました: %w", err)
	}
	return ids, nil
}

// ListActiveByUser はユーザーの有効な購読を新しい順に返す。
func (r *PostgresSubscriptionRepo) ListActiveByUser(ctx context.Context, kind model.TargetKind, userID string) ([]*model.Subscription, error) {
	table, column, err := targetTable("subscriptions", kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, `+column+`, active, created_at, updated_at
		 FROM `+table+` WHERE user_id = $1 AND active
		 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub := &model.Subscription{Kind: kind}
		if err := rows.Scan(&sub.UserID, &sub.TargetID, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("購読行の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}
	return subs, nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
