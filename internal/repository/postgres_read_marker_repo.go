package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forumd/internal/model"
)

// PostgresReadMarkerRepo はPostgreSQLを使用した既読マーカーリポジトリ。
type PostgresReadMarkerRepo struct {
	db DBTX
}

// NewPostgresReadMarkerRepo はPostgresReadMarkerRepoを生成する。
func NewPostgresReadMarkerRepo(db DBTX) *PostgresReadMarkerRepo {
	return &PostgresReadMarkerRepo{db: db}
}

// Upsert は (user, target) の既読マーカーを作成または更新する。
func (r *PostgresReadMarkerRepo) Upsert(ctx context.Context, m *model.ReadMarker) error {
	table, column, err := targetTable("read_markers", m.Kind)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO `+table+` (user_id, `+column+`, last_read_at, active)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, `+column+`) DO UPDATE
		 SET last_read_at = EXCLUDED.last_read_at, active = EXCLUDED.active`,
		m.UserID, m.TargetID, m.LastReadAt, m.Active,
	)
	if err != nil {
		return fmt.Errorf("既読マーカーの保存に失敗しました: %w", err)
	}
	return nil
}

// Find は既読マーカーを取得する。見つからない場合はnilを返す。
func (r *PostgresReadMarkerRepo) Find(ctx context.Context, kind model.TargetKind, userID, targetID string) (*model.ReadMarker, error) {
	table, column, err := targetTable("read_markers", kind)
	if err != nil {
		return nil, err
	}
	if !validID(userID) || !validID(targetID) {
		return nil, nil
	}
	m := &model.ReadMarker{Kind: kind}
	err = r.db.QueryRowContext(ctx,
		`SELECT user_id, `+column+`, last_read_at, active
		 FROM `+table+` WHERE user_id = $1 AND `+column+` = $2`,
		userID, targetID,
	).Scan(&m.UserID, &m.TargetID, &m.LastReadAt, &m.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("既読マーカーの取得に失敗しました: %w", err)
	}
	m.LastReadAt = m.LastReadAt.UTC()
	return m, nil
}

// Deactivate は既読マーカーを無効化する。
func (r *PostgresReadMarkerRepo) Deactivate(ctx context.Context, kind model.TargetKind, userID, targetID string) error {
	table, column, err := targetTable("read_markers", kind)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE `+table+` SET active = false WHERE user_id = $1 AND `+column+` = $2`,
		userID, targetID,
	)
	if err != nil {
		return fmt.Errorf("既読マーカーの無効化に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ReadMarkerRepository = (*PostgresReadMarkerRepo)(nil)
