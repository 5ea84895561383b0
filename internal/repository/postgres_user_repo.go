package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forumd/internal/model"
	"github.com/lib/pq"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// users と user_permissions はIDプロバイダー側が管理し、フォーラムは参照のみ行う。
type PostgresUserRepo struct {
	db DBTX
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを権限付きで取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !validID(id) {
		return nil, nil
	}
	user := &model.User{}
	var perms []string
	err := r.db.QueryRowContext(ctx,
		`SELECT u.id, u.username, u.email, u.language, u.is_active, u.created_at,
			COALESCE(array_agg(p.permission ORDER BY p.permission)
				FILTER (WHERE p.permission IS NOT NULL), '{}')
		 FROM users u
		 LEFT JOIN user_permissions p ON p.user_id = u.id
		 WHERE u.id = $1
		 GROUP BY u.id`,
		id,
	).Scan(&user.ID, &user.Username, &user.Email, &user.Language, &user.IsActive, &user.CreatedAt,
		pq.Array(&perms))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	user.Permissions = perms
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
