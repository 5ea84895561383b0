package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

// PostgresStrikeRepo はPostgreSQLを使用したモデレーション処分リポジトリ。
type PostgresStrikeRepo struct {
	db DBTX
}

// NewPostgresStrikeRepo はPostgresStrikeRepoを生成する。
func NewPostgresStrikeRepo(db DBTX) *PostgresStrikeRepo {
	return &PostgresStrikeRepo{db: db}
}

// Create は処分を作成する。
func (r *PostgresStrikeRepo) Create(ctx context.Context, s *model.Strike) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO strikes (id, author_id, target_user_id, target_ip,
			created_at, expires_at, block_access, internal_reason, public_reason)
		 VALUES ($1, $2, $3, $4::inet, $5, $6, $7, $8, $9)`,
		s.ID, s.AuthorID, nullableString(s.TargetUserID), nullableString(s.TargetIP),
		s.CreatedAt, nullableTime(s.ExpiresAt), s.BlockAccess, s.InternalReason, s.PublicReason,
	)
	if err != nil {
		return fmt.Errorf("処分の作成に失敗しました: %w", err)
	}
	return nil
}

// FindActive はユーザーIDまたはIPアドレスに一致する有効な処分を1件返す。
// アクセス禁止を優先し、同じ種別では新しいものを返す。
func (r *PostgresStrikeRepo) FindActive(ctx context.Context, userID, ip *string, now time.Time) (*model.Strike, error) {
	if userID == nil && ip == nil {
		return nil, nil
	}
	s := &model.Strike{}
	var targetUserID, targetIP sql.NullString
	var expiresAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, author_id, target_user_id, host(target_ip),
			created_at, expires_at, block_access, internal_reason, public_reason
		 FROM strikes
		 WHERE (target_user_id = $1::uuid OR target_ip = $2::inet)
		   AND (expires_at IS NULL OR expires_at > $3)
		 ORDER BY block_access DESC, created_at DESC
		 LIMIT 1`,
		nullableString(userID), nullableString(ip), now,
	).Scan(&s.ID, &s.AuthorID, &targetUserID, &targetIP,
		&s.CreatedAt, &expiresAt, &s.BlockAccess, &s.InternalReason, &s.PublicReason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("処分の取得に失敗しました: %w", err)
	}
	s.TargetUserID = stringPtr(targetUserID)
	s.TargetIP = stringPtr(targetIP)
	s.ExpiresAt = timePtr(expiresAt)
	return s, nil
}

// compile-time interface check
var _ StrikeRepository = (*PostgresStrikeRepo)(nil)
