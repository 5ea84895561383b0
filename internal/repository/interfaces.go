// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

// DBTX は *sql.DB と *sql.Tx の共通部分。
// リポジトリはトランザクションの内外で同じ実装を使う。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UserRepository はIDプロバイダーのユーザー情報を参照するインターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを権限付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// ForumRepository はフォーラムツリーの永続化インターフェース。
type ForumRepository interface {
	// FindByID は指定IDのフォーラムを取得する。論理削除済みも返す。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Forum, error)

	// FindBySlugPath はスラッグパスでフォーラムを取得する。見つからない場合はnilを返す。
	FindBySlugPath(ctx context.Context, slugPath string) (*model.Forum, error)

	// FindBySlugPaths は複数のスラッグパスに一致するフォーラムを一括で取得する。
	// パンくずリスト（祖先の列）の解決に使う。順序は保証しない。
	FindBySlugPaths(ctx context.Context, slugPaths []string) ([]*model.Forum, error)

	// SlugExists は同じ親の下に同じスラッグのフォーラムが存在するかを返す。
	// excludeIDが指定された場合はそのフォーラム自身を除外する。
	SlugExists(ctx context.Context, parentID *string, slug string, excludeID *string) (bool, error)

	// Create はフォーラムを作成する。
	Create(ctx context.Context, forum *model.Forum) error

	// Update はフォーラムの可変項目（親、スラッグ、パス、表示項目、フラグ、削除日時）を更新する。
	Update(ctx context.Context, forum *model.Forum) error

	// ListChildren は論理削除されていない子フォーラムを (ordering, title) 順で返す。
	// parentIDがnilの場合はルートフォーラムを返す。
	ListChildren(ctx context.Context, parentID *string) ([]*model.Forum, error)

	// ListSubtreeForUpdate は指定スラッグパスのフォーラムとその子孫を行ロックして返す。
	// 親は常に子より先に並ぶ。
	ListSubtreeForUpdate(ctx context.Context, slugPath string) ([]*model.Forum, error)
}

// ThreadRepository はスレッドの永続化インターフェース。
type ThreadRepository interface {
	// FindByID は指定IDのスレッドを取得する。論理削除済みも返す。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Thread, error)

	// FindByIDForUpdate はスレッド行をロックして取得する。見つからない場合はnilを返す。
	FindByIDForUpdate(ctx context.Context, id string) (*model.Thread, error)

	// Create はスレッドを作成する。最初の投稿と同一トランザクションで呼び出すこと。
	Create(ctx context.Context, thread *model.Thread) error

	// Update はタイトル・スラッグ・所属フォーラム・各フラグ・更新日時を更新する。
	Update(ctx context.Context, thread *model.Thread) error

	// CompareAndSwapLastPost は last_post_id が expected の場合に限り next に置き換える。
	// 一致しなかった場合はCONFLICTエラーを返す。
	CompareAndSwapLastPost(ctx context.Context, threadID, expected, next string, now time.Time) error

	// SoftDelete はスレッドに削除日時を設定する。
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// ListByForum はフォーラムのスレッド一覧を表示順で返す。
	// 他フォーラムの全体固定スレッドも含む。
	ListByForum(ctx context.Context, q model.ThreadListQuery) ([]model.ThreadListEntry, error)

	// CountByForum はListByForumの対象件数を返す。
	CountByForum(ctx context.Context, q model.ThreadListQuery) (int, error)

	// ListLatestByForum はフォーラムのスレッドを作成日時の新しい順に返す（フィード用）。
	ListLatestByForum(ctx context.Context, forumID string, limit int) ([]model.ThreadListEntry, error)

	// SetClosedByForums は指定フォーラム群の論理削除されていないスレッドの closed を一括設定する。
	SetClosedByForums(ctx context.Context, forumIDs []string, closed bool, now time.Time) error

	// SoftDeleteByForums は指定フォーラム群のスレッドを一括で論理削除する。
	SoftDeleteByForums(ctx context.Context, forumIDs []string, at time.Time) error
}

// PostRepository は投稿の永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿を取得する。論理削除済みも返す。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// Update は本文・レンダリングキャッシュ・更新日時・更新者・投稿元IPを更新する。
	Update(ctx context.Context, post *model.Post) error

	// SoftDelete は投稿に削除日時を設定する。
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// FindNewestAlive はスレッド内で論理削除されていない投稿のうち
	// last_modified_at が最新のものを返す。存在しない場合はnilを返す。
	FindNewestAlive(ctx context.Context, threadID string) (*model.Post, error)

	// ListByThread はスレッドの投稿を (published_at, id) 昇順で返す。
	ListByThread(ctx context.Context, threadID string, includeDeleted bool, offset, limit int) ([]*model.Post, error)

	// CountByThread はスレッドの投稿数を返す。
	CountByThread(ctx context.Context, threadID string, includeDeleted bool) (int, error)

	// CountBefore は同じスレッドで (published_at, id) が post より前の投稿数を返す。
	CountBefore(ctx context.Context, post *model.Post, includeDeleted bool) (int, error)
}

// ProfileRepository はフォーラム利用者プロフィールの永続化インターフェース。
type ProfileRepository interface {
	// Find は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID string) (*model.ForumUserProfile, error)

	// FindOrCreateForUpdate はプロフィール行を（無ければ作成して）ロックして返す。
	// 連続投稿制限の判定と最終投稿時刻の更新を原子的に行うために使う。
	FindOrCreateForUpdate(ctx context.Context, userID string) (*model.ForumUserProfile, error)

	// SetLastPostAt は最終投稿時刻を更新する。
	SetLastPostAt(ctx context.Context, userID string, at time.Time) error

	// SaveSettings は返信通知の既定値を保存する。
	SaveSettings(ctx context.Context, userID string, notifyOfReplyByDefault bool) error
}

// SubscriptionRepository はフォーラム・スレッド購読の永続化インターフェース。
type SubscriptionRepository interface {
	// Upsert は (user, target) の購読を作成または更新する。
	// UNIQUE(user_id, target_id) 制約により同時実行でも重複しない。
	Upsert(ctx context.Context, sub *model.Subscription) error

	// Find は購読を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, kind model.TargetKind, userID, targetID string) (*model.Subscription, error)

	// ListActiveSubscriberIDs は対象を有効に購読しているユーザーIDを返す。
	ListActiveSubscriberIDs(ctx context.Context, kind model.TargetKind, targetID string) ([]string, error)

	// ListActiveByUser はユーザーの有効な購読を新しい順に返す。
	ListActiveByUser(ctx context.Context, kind model.TargetKind, userID string) ([]*model.Subscription, error)
}

// ReadMarkerRepository は既読マーカーの永続化インターフェース。
type ReadMarkerRepository interface {
	// Upsert は (user, target) の既読マーカーを作成または更新する。
	Upsert(ctx context.Context, marker *model.ReadMarker) error

	// Find は既読マーカーを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, kind model.TargetKind, userID, targetID string) (*model.ReadMarker, error)

	// Deactivate は既読マーカーを無効化する（未読に戻す）。
	Deactivate(ctx context.Context, kind model.TargetKind, userID, targetID string) error
}

// StrikeRepository はモデレーション処分の永続化インターフェース。
type StrikeRepository interface {
	// Create は処分を作成する。
	Create(ctx context.Context, strike *model.Strike) error

	// FindActive はユーザーIDまたはIPアドレスに一致する有効な処分のうち、
	// アクセス禁止を優先し、次に新しいものを1件返す。見つからない場合はnilを返す。
	FindActive(ctx context.Context, userID, ip *string, now time.Time) (*model.Strike, error)
}

// NotificationRepository は通知の永続化インターフェース。
type NotificationRepository interface {
	// Create は通知を作成する。同じ受信者に未処理の同一DismissCodeがあれば何もせずfalseを返す。
	Create(ctx context.Context, n *model.Notification) (bool, error)

	// ListPending は受信者の未処理通知を新しい順に返す。
	ListPending(ctx context.Context, recipientID string, limit int) ([]*model.Notification, error)

	// Dismiss は受信者の指定DismissCodeの通知を処理済みにする。
	Dismiss(ctx context.Context, recipientID, dismissCode string, at time.Time) error
}

// Store はリポジトリ群へのアクセスを提供する。
type Store interface {
	Users() UserRepository
	Forums() ForumRepository
	Threads() ThreadRepository
	Posts() PostRepository
	Profiles() ProfileRepository
	Subscriptions() SubscriptionRepository
	ReadMarkers() ReadMarkerRepository
	Strikes() StrikeRepository
	Notifications() NotificationRepository
}

// Database はトランザクションを開始できるStore。
type Database interface {
	Store

	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
