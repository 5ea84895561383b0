// Package memory はインメモリのリポジトリ実装を提供する。
// ローカル開発（DATABASE_URL=memory://）とサービス層のテストで使用する。
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/repository"
)

type targetKey struct {
	kind   model.TargetKind
	user   string
	target string
}

// state はすべての行を値で保持する。ポインタ型フィールドの参照先は書き換えない。
type state struct {
	users         map[string]model.User
	forums        map[string]model.Forum
	threads       map[string]model.Thread
	posts         map[string]model.Post
	profiles      map[string]model.ForumUserProfile
	subscriptions map[targetKey]model.Subscription
	markers       map[targetKey]model.ReadMarker
	strikes       map[string]model.Strike
	notifications []notificationRow
}

type notificationRow struct {
	model.Notification
	dismissed bool
}

func newState() *state {
	return &state{
		users:         map[string]model.User{},
		forums:        map[string]model.Forum{},
		threads:       map[string]model.Thread{},
		posts:         map[string]model.Post{},
		profiles:      map[string]model.ForumUserProfile{},
		subscriptions: map[targetKey]model.Subscription{},
		markers:       map[targetKey]model.ReadMarker{},
		strikes:       map[string]model.Strike{},
	}
}

func (s *state) clone() *state {
	return &state{
		users:         maps.Clone(s.users),
		forums:        maps.Clone(s.forums),
		threads:       maps.Clone(s.threads),
		posts:         maps.Clone(s.posts),
		profiles:      maps.Clone(s.profiles),
		subscriptions: maps.Clone(s.subscriptions),
		markers:       maps.Clone(s.markers),
		strikes:       maps.Clone(s.strikes),
		notifications: slices.Clone(s.notifications),
	}
}

// Database はインメモリのrepository.Database実装。
// トランザクションはデータベース全体の排他ロックで直列化し、
// エラー時は開始時点のスナップショットに戻す。
type Database struct {
	mu sync.Mutex
	st *state
}

// New は空のDatabaseを生成する。
func New() *Database {
	return &Database{st: newState()}
}

// PutUser はIDプロバイダーのユーザーを登録する。
func (d *Database) PutUser(u *model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *u
	c.Permissions = slices.Clone(u.Permissions)
	d.st.users[u.ID] = c
}

// DeleteUser はIDプロバイダーからユーザーを削除する。
func (d *Database) DeleteUser(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.st.users, id)
}

// WithinTx はfnをデータベース全体のロックを保持したまま実行する。
func (d *Database) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot := d.st.clone()
	if err := fn(ctx, &store{db: d, inTx: true}); err != nil {
		d.st = snapshot
		return err
	}
	return nil
}

func (d *Database) Users() repository.UserRepository                 { return (&store{db: d}).Users() }
func (d *Database) Forums() repository.ForumRepository               { return (&store{db: d}).Forums() }
func (d *Database) Threads() repository.ThreadRepository             { return (&store{db: d}).Threads() }
func (d *Database) Posts() repository.PostRepository                 { return (&store{db: d}).Posts() }
func (d *Database) Profiles() repository.ProfileRepository           { return (&store{db: d}).Profiles() }
func (d *Database) Subscriptions() repository.SubscriptionRepository { return (&store{db: d}).Subscriptions() }
func (d *Database) ReadMarkers() repository.ReadMarkerRepository     { return (&store{db: d}).ReadMarkers() }
func (d *Database) Strikes() repository.StrikeRepository             { return (&store{db: d}).Strikes() }
func (d *Database) Notifications() repository.NotificationRepository {
	return (&store{db: d}).Notifications()
}

// store はトランザクション内外のリポジトリ群。
// inTx の場合は呼び出し元が既にロックを保持している。
type store struct {
	db   *Database
	inTx bool
}

func (s *store) Users() repository.UserRepository                 { return &userRepo{s} }
func (s *store) Forums() repository.ForumRepository               { return &forumRepo{s} }
func (s *store) Threads() repository.ThreadRepository             { return &threadRepo{s} }
func (s *store) Posts() repository.PostRepository                 { return &postRepo{s} }
func (s *store) Profiles() repository.ProfileRepository           { return &profileRepo{s} }
func (s *store) Subscriptions() repository.SubscriptionRepository { return &subscriptionRepo{s} }
func (s *store) ReadMarkers() repository.ReadMarkerRepository     { return &readMarkerRepo{s} }
func (s *store) Strikes() repository.StrikeRepository             { return &strikeRepo{s} }
func (s *store) Notifications() repository.NotificationRepository {
	return &notificationRepo{s}
}

// acquire はロックを取得して状態を返す。戻り値の関数で解放する。
func (s *store) acquire() (*state, func()) {
	if s.inTx {
		return s.db.st, func() {}
	}
	s.db.mu.Lock()
	return s.db.st, s.db.mu.Unlock
}

func checkKind(kind model.TargetKind) error {
	if !kind.Valid() {
		return model.NewInvalidRequestError("不明な対象種別です: " + string(kind))
	}
	return nil
}

// compile-time interface check
var (
	_ repository.Database = (*Database)(nil)
	_ repository.Store    = (*store)(nil)
)
