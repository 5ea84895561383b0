package thread

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/forumd/internal/antiflood"
	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/forum"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/render"
	"github.com/hitoshi/forumd/internal/repository"
	"github.com/hitoshi/forumd/internal/repository/memory"
)

var testStart = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

const floodInterval = 30 * time.Second

type fixture struct {
	db      *memory.Database
	clock   *clock.Fake
	svc     *Service
	forums  *forum.Service
	general *model.Forum
	alice   *model.User
	bob     *model.User
	mod     *model.User
}

func newFixture(t *testing.T, configure ...func(*Config)) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	for _, fn := range configure {
		fn(&cfg)
	}
	db := memory.New()
	clk := clock.NewFake(testStart)
	renderer := render.NewHTMLRenderer()
	fx := &fixture{
		db:     db,
		clock:  clk,
		svc:    NewService(db, renderer, clk, antiflood.NewGate(floodInterval), cfg),
		forums: forum.NewService(db, renderer, clk),
		alice:  &model.User{ID: model.NewID(), Username: "alice", IsActive: true},
		bob:    &model.User{ID: model.NewID(), Username: "bob", IsActive: true},
		mod: &model.User{ID: model.NewID(), Username: "mod", IsActive: true, Permissions: []string{
			model.CapChangePost, model.CapDeletePost, model.CapChangeThread,
			model.CapDeleteThread, model.CapSeePostIP, model.CapSeePrivateForum,
			model.CapAllowTitlesInPost,
		}},
	}
	for _, u := range []*model.User{fx.alice, fx.bob, fx.mod} {
		db.PutUser(u)
	}
	fx.general = fx.forum(t, "general", false)
	return fx
}

func (fx *fixture) forum(t *testing.T, slug string, private bool) *model.Forum {
	t.Helper()
	f, err := fx.forums.CreateForum(context.Background(), forum.CreateForumInput{Slug: slug, Title: slug, Private: private})
	if err != nil {
		t.Fatalf("CreateForum(%s) error = %v", slug, err)
	}
	return f
}

// wait は連続投稿制限の間隔だけ時計を進める。
func (fx *fixture) wait() {
	fx.clock.Advance(floodInterval)
}

func (fx *fixture) createThread(t *testing.T, author *model.User, title string) (*model.Thread, *model.Post) {
	t.Helper()
	fx.wait()
	th, p, err := fx.svc.CreateThread(context.Background(), author, CreateThreadInput{
		ForumID: fx.general.ID, Title: title, Content: "first post of " + title,
	})
	if err != nil {
		t.Fatalf("CreateThread(%s) error = %v", title, err)
	}
	return th, p
}

func (fx *fixture) reply(t *testing.T, author *model.User, threadID, content string) *model.Post {
	t.Helper()
	fx.wait()
	p, err := fx.svc.Reply(context.Background(), author, threadID, ReplyInput{Content: content})
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	return p
}

func (fx *fixture) thread(t *testing.T, id string) *model.Thread {
	t.Helper()
	th, err := fx.db.Threads().FindByID(context.Background(), id)
	if err != nil || th == nil {
		t.Fatalf("FindByID(%s) = %v, %v", id, th, err)
	}
	return th
}

func (fx *fixture) post(t *testing.T, id string) *model.Post {
	t.Helper()
	p, err := fx.db.Posts().FindByID(context.Background(), id)
	if err != nil || p == nil {
		t.Fatalf("FindByID(%s) = %v, %v", id, p, err)
	}
	return p
}

// --- モック ---

type recordingNotifier struct {
	mu      sync.Mutex
	threads []model.PublishEvent
	replies []model.PublishEvent
}

func (n *recordingNotifier) NewThread(ctx context.Context, ev model.PublishEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.threads = append(n.threads, ev)
}

func (n *recordingNotifier) NewReply(ctx context.Context, ev model.PublishEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replies = append(n.replies, ev)
}

type crossPosterFunc func(ctx context.Context, ev model.PublishEvent)

func (f crossPosterFunc) Announce(ctx context.Context, ev model.PublishEvent) { f(ctx, ev) }

// conflictDB はトランザクション内の比較交換を指定回数だけ失敗させる。
type conflictDB struct {
	*memory.Database
	remaining int
}

func (d *conflictDB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return d.Database.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		return fn(ctx, &conflictStore{Store: tx, db: d})
	})
}

type conflictStore struct {
	repository.Store
	db *conflictDB
}

func (s *conflictStore) Threads() repository.ThreadRepository {
	return &conflictThreads{ThreadRepository: s.Store.Threads(), db: s.db}
}

type conflictThreads struct {
	repository.ThreadRepository
	db *conflictDB
}

func (r *conflictThreads) CompareAndSwapLastPost(ctx context.Context, threadID, expected, next string, now time.Time) error {
	if r.db.remaining > 0 {
		r.db.remaining--
		return model.NewConflictError()
	}
	return r.ThreadRepository.CompareAndSwapLastPost(ctx, threadID, expected, next, now)
}

// staleDB はスレッド行のロック前に読んだ投稿として、指定したスナップショットを返す。
// ロック待ちの間に他のトランザクションが投稿を更新した状況を再現する。
type staleDB struct {
	*memory.Database
	snapshot *model.Post
}

func (d *staleDB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return d.Database.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		return fn(ctx, &staleStore{Store: tx, snapshot: d.snapshot})
	})
}

type staleStore struct {
	repository.Store
	snapshot *model.Post
	locked   bool
}

func (s *staleStore) Threads() repository.ThreadRepository {
	return &lockingThreads{ThreadRepository: s.Store.Threads(), store: s}
}

func (s *staleStore) Posts() repository.PostRepository {
	return &stalePosts{PostRepository: s.Store.Posts(), store: s}
}

type lockingThreads struct {
	repository.ThreadRepository
	store *staleStore
}

func (r *lockingThreads) FindByIDForUpdate(ctx context.Context, id string) (*model.Thread, error) {
	r.store.locked = true
	return r.ThreadRepository.FindByIDForUpdate(ctx, id)
}

type stalePosts struct {
	repository.PostRepository
	store *staleStore
}

func (r *stalePosts) FindByID(ctx context.Context, id string) (*model.Post, error) {
	if !r.store.locked && r.store.snapshot != nil && r.store.snapshot.ID == id {
		p := *r.store.snapshot
		return &p, nil
	}
	return r.PostRepository.FindByID(ctx, id)
}

// --- CreateThread ---

// 作成者が既定でスレッドを購読し、subscribe=falseでは購読しないことを検証
func TestCreateThread_AutoSubscribe(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	th, _ := fx.createThread(t, fx.alice, "Hello")
	sub, _ := fx.db.Subscriptions().Find(ctx, model.TargetThread, fx.alice.ID, th.ID)
	if sub == nil || !sub.Active {
		t.Errorf("author subscription = %+v, want active", sub)
	}

	no := false
	fx.wait()
	th2, _, err := fx.svc.CreateThread(ctx, fx.bob, CreateThreadInput{ForumID: fx.general.ID, Title: "Quiet", Content: "x", Subscribe: &no})
	if err != nil {
		t.Fatal(err)
	}
	if sub, _ := fx.db.Subscriptions().Find(ctx, model.TargetThread, fx.bob.ID, th2.ID); sub != nil {
		t.Errorf("subscription = %+v, want none", sub)
	}

	// プロフィールで既定値を無効にした場合
	if err := fx.db.Profiles().SaveSettings(ctx, fx.bob.ID, false); err != nil {
		t.Fatal(err)
	}
	th3, _ := fx.createThread(t, fx.bob, "Also quiet")
	if sub, _ := fx.db.Subscriptions().Find(ctx, model.TargetThread, fx.bob.ID, th3.ID); sub != nil {
		t.Errorf("subscription with profile default off = %+v, want none", sub)
	}
}

func TestCreateThread_Rejections(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	closed := fx.forum(t, "closed", false)
	if err := fx.forums.SetClosed(ctx, closed.ID, true, false, false); err != nil {
		t.Fatal(err)
	}
	private := fx.forum(t, "private", true)

	tests := []struct {
		name   string
		author *model.User
		in     CreateThreadInput
		code   string
	}{
		{"anonymous", nil, CreateThreadInput{ForumID: fx.general.ID, Title: "t", Content: "c"}, model.ErrCodeUnauthorized},
		{"empty title", fx.alice, CreateThreadInput{ForumID: fx.general.ID, Title: "  ", Content: "c"}, model.ErrCodeInvalidRequest},
		{"long title", fx.alice, CreateThreadInput{ForumID: fx.general.ID, Title: strings.Repeat("あ", MaxTitleLength+1), Content: "c"}, model.ErrCodeInvalidRequest},
		{"empty content", fx.alice, CreateThreadInput{ForumID: fx.general.ID, Title: "t", Content: "\n"}, model.ErrCodeInvalidRequest},
		{"closed forum", fx.alice, CreateThreadInput{ForumID: closed.ID, Title: "t", Content: "c"}, model.ErrCodeThreadClosed},
		{"private forum", fx.alice, CreateThreadInput{ForumID: private.ID, Title: "t", Content: "c"}, model.ErrCodeAccessDenied},
		{"missing forum", fx.alice, CreateThreadInput{ForumID: model.NewID(), Title: "t", Content: "c"}, model.ErrCodeForumNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := fx.svc.CreateThread(ctx, tt.author, tt.in)
			if !model.HasCode(err, tt.code) {
				t.Errorf("error = %v, want %s", err, tt.code)
			}
		})
	}
}

// コミット後に通知とクロスポストが呼ばれることを検証
func TestCreateThread_PostCommitHooks(t *testing.T) {
	fx := newFixture(t)
	notifier := &recordingNotifier{}
	var announced []string
	fx.svc.SetNotifier(notifier)
	fx.svc.SetCrossPoster(crossPosterFunc(func(ctx context.Context, ev model.PublishEvent) {
		announced = append(announced, ev.Thread.Title)
	}))

	th, _ := fx.createThread(t, fx.alice, "Hello")
	fx.reply(t, fx.bob, th.ID, "hi")

	if len(notifier.threads) != 1 || notifier.threads[0].Thread.ID != th.ID || notifier.threads[0].Author.ID != fx.alice.ID {
		t.Errorf("NewThread events = %+v", notifier.threads)
	}
	if len(notifier.replies) != 1 || notifier.replies[0].Post.AuthorID != fx.bob.ID {
		t.Errorf("NewReply events = %+v", notifier.replies)
	}
	if !slices.Equal(announced, []string{"Hello"}) {
		t.Errorf("announced = %v, want [Hello]", announced)
	}
}

// --- Reply ---

func TestReply_Rejections(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	locked, _ := fx.createThread(t, fx.alice, "Locked")
	if _, err := fx.svc.UpdateThread(ctx, fx.mod, locked.ID, ThreadPatch{Locked: ptr(true)}); err != nil {
		t.Fatal(err)
	}
	closed, _ := fx.createThread(t, fx.alice, "Closed")
	if _, err := fx.svc.UpdateThread(ctx, fx.mod, closed.ID, ThreadPatch{Closed: ptr(true)}); err != nil {
		t.Fatal(err)
	}
	deleted, _ := fx.createThread(t, fx.alice, "Deleted")
	if err := fx.svc.DeleteThread(ctx, fx.mod, deleted.ID); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		threadID string
		code     string
	}{
		{"locked", locked.ID, model.ErrCodeThreadClosed},
		{"closed", closed.ID, model.ErrCodeThreadClosed},
		{"deleted", deleted.ID, model.ErrCodeThreadNotFound},
		{"missing", model.NewID(), model.ErrCodeThreadNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx.wait()
			_, err := fx.svc.Reply(ctx, fx.bob, tt.threadID, ReplyInput{Content: "x"})
			if !model.HasCode(err, tt.code) {
				t.Errorf("error = %v, want %s", err, tt.code)
			}
		})
	}
}

// フォーラムのクローズで返信できなくなることを検証
func TestReply_ClosedForum(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	th, _ := fx.createThread(t, fx.alice, "Hello")
	if err := fx.forums.SetClosed(ctx, fx.general.ID, true, false, false); err != nil {
		t.Fatal(err)
	}
	fx.wait()
	if _, err := fx.svc.Reply(ctx, fx.bob, th.ID, ReplyInput{Content: "x"}); !model.HasCode(err, model.ErrCodeThreadClosed) {
		t.Errorf("error = %v, want THREAD_CLOSED", err)
	}
}

// 比較交換の競合が上限回数まで再試行されることを検証
func TestReply_RetriesOnConflict(t *testing.T) {
	fx := newFixture(t)
	th, _ := fx.createThread(t, fx.alice, "Hello")
	ctx := context.Background()

	db := &conflictDB{Database: fx.db, remaining: 2}
	svc := NewService(db, render.NewHTMLRenderer(), fx.clock, antiflood.NewGate(floodInterval), DefaultConfig())
	fx.wait()
	p, err := svc.Reply(ctx, fx.bob, th.ID, ReplyInput{Content: "after two conflicts"})
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if got := fx.thread(t, th.ID).LastPostID; got != p.ID {
		t.Errorf("LastPostID = %s, want %s", got, p.ID)
	}

	db.remaining = 10
	fx.wait()
	_, err = svc.Reply(ctx, fx.bob, th.ID, ReplyInput{Content: "gives up"})
	if !model.HasCode(err, model.ErrCodeConflict) {
		t.Fatalf("error = %v, want CONFLICT", err)
	}
	if n, _ := fx.db.Posts().CountByThread(ctx, th.ID, true); n != 2 {
		t.Errorf("posts = %d, want 2 (failed attempts rolled back)", n)
	}
	if db.remaining != 10-DefaultConfig().ConflictMaxRetries {
		t.Errorf("attempts = %d, want %d", 10-db.remaining, DefaultConfig().ConflictMaxRetries)
	}
}

// --- EditPost ---

// 本人の編集で本文・更新日時・投稿元IPが更新されることを検証
func TestEditPost_ByAuthor(t *testing.T) {
	fx := newFixture(t)
	th, p0 := fx.createThread(t, fx.alice, "Hello")
	fx.clock.Advance(time.Minute)

	ip := "198.51.100.4"
	edited, err := fx.svc.EditPost(context.Background(), fx.alice, p0.ID, EditPostInput{Content: "<p>changed</p>", EditorIP: &ip})
	if err != nil {
		t.Fatalf("EditPost() error = %v", err)
	}
	now := fx.clock.Now()
	if !edited.LastContentModifiedAt.Equal(now) || !edited.LastModifiedAt.Equal(now) {
		t.Errorf("timestamps = %v / %v, want %v", edited.LastContentModifiedAt, edited.LastModifiedAt, now)
	}
	if !strings.Contains(edited.ContentHTML, "<p>changed</p>") || edited.ContentText != "changed" {
		t.Errorf("rendered = %q / %q", edited.ContentHTML, edited.ContentText)
	}
	if edited.AuthorIP == nil || *edited.AuthorIP != ip {
		t.Errorf("AuthorIP = %v, want %s", edited.AuthorIP, ip)
	}
	checkInvariants(t, fx, th.ID)
}

// 他人による編集では投稿元IPが変わらず、著者の権限で再レンダリングされることを検証
func TestEditPost_ByModerator(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	ip := "198.51.100.4"
	fx.wait()
	_, p0, err := fx.svc.CreateThread(ctx, fx.alice, CreateThreadInput{ForumID: fx.general.ID, Title: "Hello", Content: "x", AuthorIP: &ip})
	if err != nil {
		t.Fatal(err)
	}
	fx.clock.Advance(time.Minute)
	before := fx.post(t, p0.ID)

	modIP := "203.0.113.9"
	edited, err := fx.svc.EditPost(ctx, fx.mod, p0.ID, EditPostInput{Content: "x", EditorIP: &modIP})
	if err != nil {
		t.Fatalf("EditPost() error = %v", err)
	}
	if *edited.AuthorIP != ip {
		t.Errorf("AuthorIP = %s, want unchanged %s", *edited.AuthorIP, ip)
	}
	if !edited.LastContentModifiedAt.Equal(before.LastContentModifiedAt) {
		t.Error("LastContentModifiedAt should not change when content is unchanged")
	}
	if edited.LastModifiedByID != fx.mod.ID {
		t.Errorf("LastModifiedByID = %s, want moderator", edited.LastModifiedByID)
	}

	// モデレーターの権限ではなく著者の権限で見出しが無効になる
	titled := "<h1>Title</h1>"
	edited, err = fx.svc.EditPost(ctx, fx.mod, p0.ID, EditPostInput{Content: titled})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(edited.ContentHTML, "<h1") {
		t.Errorf("ContentHTML = %q, headings must follow the author's capabilities", edited.ContentHTML)
	}
}

func TestEditPost_Permissions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	th, p0 := fx.createThread(t, fx.alice, "Hello")
	p1 := fx.reply(t, fx.alice, th.ID, "reply")

	if _, err := fx.svc.EditPost(ctx, fx.bob, p0.ID, EditPostInput{Content: "hijack"}); !model.HasCode(err, model.ErrCodeAccessDenied) {
		t.Errorf("other user error = %v, want ACCESS_DENIED", err)
	}

	if _, err := fx.svc.UpdateThread(ctx, fx.mod, th.ID, ThreadPatch{Locked: ptr(true)}); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.svc.EditPost(ctx, fx.alice, p1.ID, EditPostInput{Content: "late edit"}); !model.HasCode(err, model.ErrCodeThreadClosed) {
		t.Errorf("locked reply error = %v, want THREAD_CLOSED", err)
	}
	if _, err := fx.svc.EditPost(ctx, fx.alice, p0.ID, EditPostInput{Content: "first post stays editable"}); err != nil {
		t.Errorf("locked first post error = %v", err)
	}
	if _, err := fx.svc.EditPost(ctx, fx.mod, p1.ID, EditPostInput{Content: "moderated"}); err != nil {
		t.Errorf("moderator edit in locked thread error = %v", err)
	}
}

// 古い投稿の編集で last_post がその投稿に移ることを検証
func TestEditPost_MovesLastPost(t *testing.T) {
	fx := newFixture(t)
	th, p0 := fx.createThread(t, fx.alice, "Hello")
	fx.reply(t, fx.bob, th.ID, "reply")
	fx.clock.Advance(time.Minute)

	if _, err := fx.svc.EditPost(context.Background(), fx.alice, p0.ID, EditPostInput{Content: "edited"}); err != nil {
		t.Fatal(err)
	}
	if got := fx.thread(t, th.ID).LastPostID; got != p0.ID {
		t.Errorf("LastPostID = %s, want edited first post %s", got, p0.ID)
	}
	checkInvariants(t, fx, th.ID)
}

// スレッドのロック待ちの間に削除された投稿は、ロック後の状態で判定されることを検証
func TestEditPost_RereadsPostAfterThreadLock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	th, _ := fx.createThread(t, fx.alice, "Hello")
	p1 := fx.reply(t, fx.bob, th.ID, "original")
	snapshot := *fx.post(t, p1.ID)

	if _, err := fx.svc.DeletePost(ctx, fx.mod, p1.ID); err != nil {
		t.Fatalf("DeletePost() error = %v", err)
	}

	db := &staleDB{Database: fx.db, snapshot: &snapshot}
	svc := NewService(db, render.NewHTMLRenderer(), fx.clock, antiflood.NewGate(floodInterval), DefaultConfig())
	fx.clock.Advance(time.Minute)
	_, err := svc.EditPost(ctx, fx.bob, p1.ID, EditPostInput{Content: "edited"})
	if !model.HasCode(err, model.ErrCodePostNotFound) {
		t.Fatalf("error = %v, want POST_NOT_FOUND", err)
	}
	got := fx.post(t, p1.ID)
	if !got.IsDeleted() || got.ContentSource != "original" {
		t.Errorf("post = deleted:%v content:%q, want deleted and unchanged", got.IsDeleted(), got.ContentSource)
	}
}

// --- DeletePost / DeleteThread ---

func TestDeletePost_Rules(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	th, p0 := fx.createThread(t, fx.alice, "Hello")
	p1 := fx.reply(t, fx.bob, th.ID, "one")
	p2 := fx.reply(t, fx.bob, th.ID, "two")

	if _, err := fx.svc.DeletePost(ctx, fx.alice, p1.ID); !model.HasCode(err, model.ErrCodeAccessDenied) {
		t.Errorf("non-author error = %v, want ACCESS_DENIED", err)
	}
	if deleted, err := fx.svc.DeletePost(ctx, fx.bob, p1.ID); err != nil || deleted {
		t.Fatalf("DeletePost(own) = %v, %v", deleted, err)
	}
	if _, err := fx.svc.DeletePost(ctx, fx.bob, p1.ID); !model.HasCode(err, model.ErrCodePostNotFound) {
		t.Errorf("already deleted error = %v, want POST_NOT_FOUND", err)
	}
	if got := fx.thread(t, th.ID).LastPostID; got != p2.ID {
		t.Errorf("LastPostID = %s, want %s (middle deletion keeps last)", got, p2.ID)
	}

	// 最初の投稿の削除はスレッドの削除になる
	deleted, err := fx.svc.DeletePost(ctx, fx.mod, p0.ID)
	if err != nil || !deleted {
		t.Fatalf("DeletePost(first) = %v, %v", deleted, err)
	}
	if !fx.thread(t, th.ID).IsDeleted() {
		t.Fatal("thread should be deleted")
	}
	if _, err := fx.svc.DeletePost(ctx, fx.mod, p2.ID); !model.HasCode(err, model.ErrCodeInvalidState) {
		t.Errorf("post of deleted thread error = %v, want INVALID_STATE", err)
	}
}

// 作成者は返信1件までのスレッドだけを削除できることを検証
func TestDeleteThread_AuthorLimit(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	small, _ := fx.createThread(t, fx.alice, "Small")
	fx.reply(t, fx.bob, small.ID, "one")
	if err := fx.svc.DeleteThread(ctx, fx.alice, small.ID); err != nil {
		t.Errorf("author delete with one reply error = %v", err)
	}

	busy, _ := fx.createThread(t, fx.alice, "Busy")
	fx.reply(t, fx.bob, busy.ID, "one")
	fx.reply(t, fx.bob, busy.ID, "two")
	if err := fx.svc.DeleteThread(ctx, fx.alice, busy.ID); !model.HasCode(err, model.ErrCodeAccessDenied) {
		t.Errorf("author delete with two replies error = %v, want ACCESS_DENIED", err)
	}
	if err := fx.svc.DeleteThread(ctx, fx.bob, busy.ID); !model.HasCode(err, model.ErrCodeAccessDenied) {
		t.Errorf("non-author error = %v, want ACCESS_DENIED", err)
	}
	if err := fx.svc.DeleteThread(ctx, fx.mod, busy.ID); err != nil {
		t.Errorf("moderator delete error = %v", err)
	}
	if err := fx.svc.DeleteThread(ctx, fx.mod, busy.ID); !model.HasCode(err, model.ErrCodeThreadNotFound) {
		t.Errorf("second delete error = %v, want THREAD_NOT_FOUND", err)
	}
}

// --- UpdateThread ---

func TestUpdateThread_AuthorFields(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	th, _ := fx.createThread(t, fx.alice, "Hello")

	updated, err := fx.svc.UpdateThread(ctx, fx.alice, th.ID, ThreadPatch{Title: ptr("Solved: Hello"), Resolved: ptr(true)})
	if err != nil {
		t.Fatalf("UpdateThread() error = %v", err)
	}
	if updated.Title != "Solved: Hello" || updated.Slug != "solved-hello" || !updated.Resolved {
		t.Errorf("updated = %+v", updated)
	}

	if _, err := fx.svc.UpdateThread(ctx, fx.alice, th.ID, ThreadPatch{Sticky: ptr(true)}); !model.HasCode(err, model.ErrCodeAccessDenied) {
		t.Errorf("author sticky error = %v, want ACCESS_DENIED", err)
	}
	if _, err := fx.svc.UpdateThread(ctx, fx.bob, th.ID, ThreadPatch{Resolved: ptr(false)}); !model.HasCode(err, model.ErrCodeAccessDenied) {
		t.Errorf("other user error = %v, want ACCESS_DENIED", err)
	}
	if _, err := fx.svc.UpdateThread(ctx, fx.alice, th.ID, ThreadPatch{}); !model.HasCode(err, model.ErrCodeInvalidRequest) {
		t.Errorf("empty patch error = %v, want INVALID_REQUEST", err)
	}
}

// 全体固定が固定を含意することを検証
func TestUpdateThread_GlobalStickyImpliesSticky(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	th, _ := fx.createThread(t, fx.alice, "Announcement")

	updated, err := fx.svc.UpdateThread(ctx, fx.mod, th.ID, ThreadPatch{GlobalSticky: ptr(true)})
	if err != nil {
		t.Fatal(err)
	}
	if !updated.Sticky || !updated.GlobalSticky {
		t.Errorf("after global sticky = %+v", updated)
	}

	updated, err = fx.svc.UpdateThread(ctx, fx.mod, th.ID, ThreadPatch{Sticky: ptr(false)})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Sticky || updated.GlobalSticky {
		t.Errorf("after unsticky = %+v", updated)
	}

	_, err = fx.svc.UpdateThread(ctx, fx.mod, th.ID, ThreadPatch{Sticky: ptr(false), GlobalSticky: ptr(true)})
	if !model.HasCode(err, model.ErrCodeInvalidRequest) {
		t.Errorf("contradictory patch error = %v, want INVALID_REQUEST", err)
	}
}

func TestUpdateThread_Move(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	other := fx.forum(t, "other", false)
	th, _ := fx.createThread(t, fx.alice, "Hello")

	updated, err := fx.svc.UpdateThread(ctx, fx.mod, th.ID, ThreadPatch{ForumID: &other.ID})
	if err != nil {
		t.Fatalf("UpdateThread(move) error = %v", err)
	}
	if updated.ForumID != other.ID {
		t.Errorf("ForumID = %s, want %s", updated.ForumID, other.ID)
	}
	missing := model.NewID()
	if _, err := fx.svc.UpdateThread(ctx, fx.mod, th.ID, ThreadPatch{ForumID: &missing}); !model.HasCode(err, model.ErrCodeForumNotFound) {
		t.Errorf("move to missing forum error = %v, want FORUM_NOT_FOUND", err)
	}
}

// --- 参照系 ---

// 一覧が全体固定・固定・最終活動の順に並び、古さと既読が付くことを検証
func TestListThreads_OrderAndFlags(t *testing.T) {
	fx := newFixture(t, func(c *Config) { c.OldPostAge = 24 * time.Hour })
	ctx := context.Background()
	other := fx.forum(t, "other", false)
	hidden := fx.forum(t, "hidden", true)

	oldest, _ := fx.createThread(t, fx.alice, "Oldest")
	fx.clock.Advance(48 * time.Hour)
	sticky, _ := fx.createThread(t, fx.alice, "Sticky")
	newest, _ := fx.createThread(t, fx.alice, "Newest")

	fx.wait()
	global, _, err := fx.svc.CreateThread(ctx, fx.alice, CreateThreadInput{ForumID: other.ID, Title: "Global", Content: "x"})
	if err != nil {
		t.Fatal(err)
	}
	fx.wait()
	secret, _, err := fx.svc.CreateThread(ctx, fx.mod, CreateThreadInput{ForumID: hidden.ID, Title: "Secret", Content: "x"})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []struct {
		id    string
		patch ThreadPatch
	}{
		{sticky.ID, ThreadPatch{Sticky: ptr(true)}},
		{global.ID, ThreadPatch{GlobalSticky: ptr(true)}},
		{secret.ID, ThreadPatch{GlobalSticky: ptr(true)}},
	} {
		if _, err := fx.svc.UpdateThread(ctx, fx.mod, p.id, p.patch); err != nil {
			t.Fatal(err)
		}
	}
	if err := fx.db.ReadMarkers().Upsert(ctx, &model.ReadMarker{
		Kind: model.TargetThread, UserID: fx.bob.ID, TargetID: newest.ID, LastReadAt: fx.clock.Now(), Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	page, err := fx.svc.ListThreads(ctx, fx.bob, fx.general.ID, 1)
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	var ids []string
	for _, e := range page.Entries {
		ids = append(ids, e.ID)
	}
	want := []string{global.ID, sticky.ID, newest.ID, oldest.ID}
	if !slices.Equal(ids, want) {
		t.Fatalf("order = %v, want %v", ids, want)
	}
	if page.Total != 4 || page.TotalPages != 1 {
		t.Errorf("Total = %d, TotalPages = %d", page.Total, page.TotalPages)
	}
	if !page.Entries[3].IsOld || page.Entries[2].IsOld {
		t.Errorf("IsOld = %v / %v, want oldest only", page.Entries[3].IsOld, page.Entries[2].IsOld)
	}
	if !page.Entries[2].IsRead || page.Entries[1].IsRead {
		t.Errorf("IsRead = %v / %v, want newest only", page.Entries[2].IsRead, page.Entries[1].IsRead)
	}

	// 非公開フォーラムの全体固定は閲覧権限者にだけ見える
	page, err = fx.svc.ListThreads(ctx, fx.mod, fx.general.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 {
		t.Errorf("moderator Total = %d, want 5", page.Total)
	}
}

func TestListThreads_Paging(t *testing.T) {
	fx := newFixture(t, func(c *Config) { c.ThreadsPerPage = 2 })
	for i := 0; i < 5; i++ {
		fx.createThread(t, fx.alice, "T")
	}
	page, err := fx.svc.ListThreads(context.Background(), nil, fx.general.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 1 || page.TotalPages != 3 || page.Page != 3 {
		t.Errorf("page = %d entries, %d/%d", len(page.Entries), page.Page, page.TotalPages)
	}
	if page, _ := fx.svc.ListThreads(context.Background(), nil, fx.general.ID, 0); page.Page != 1 {
		t.Errorf("page 0 normalized to %d, want 1", page.Page)
	}
}

// 削除済み投稿と投稿元IPの可視性が権限に従うことを検証
func TestListPosts_Visibility(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	ip := "198.51.100.4"
	fx.wait()
	th, _, err := fx.svc.CreateThread(ctx, fx.alice, CreateThreadInput{ForumID: fx.general.ID, Title: "Hello", Content: "x", AuthorIP: &ip})
	if err != nil {
		t.Fatal(err)
	}
	p1 := fx.reply(t, fx.bob, th.ID, "gone soon")
	fx.reply(t, fx.bob, th.ID, "stays")
	if _, err := fx.svc.DeletePost(ctx, fx.bob, p1.ID); err != nil {
		t.Fatal(err)
	}

	page, err := fx.svc.ListPosts(ctx, fx.bob, th.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || len(page.Posts) != 2 {
		t.Errorf("member sees %d posts, want 2", len(page.Posts))
	}
	if page.Posts[0].AuthorIP != nil {
		t.Error("AuthorIP should be hidden without see_post_ip")
	}

	page, err = fx.svc.ListPosts(ctx, fx.mod, th.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Posts) != 3 || !page.Posts[1].IsDeleted() {
		t.Errorf("moderator sees %d posts", len(page.Posts))
	}
	if page.Posts[0].AuthorIP == nil || *page.Posts[0].AuthorIP != ip {
		t.Error("AuthorIP should be visible with see_post_ip")
	}
}

// 削除済みスレッドはモデレーターにだけ見えることを検証
func TestGetThread_Deleted(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	th, _ := fx.createThread(t, fx.alice, "Hello")
	if err := fx.svc.DeleteThread(ctx, fx.alice, th.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := fx.svc.GetThread(ctx, fx.alice, th.ID); !model.HasCode(err, model.ErrCodeThreadNotFound) {
		t.Errorf("member error = %v, want THREAD_NOT_FOUND", err)
	}
	if got, _, err := fx.svc.GetThread(ctx, fx.mod, th.ID); err != nil || got.ID != th.ID {
		t.Errorf("moderator GetThread = %v, %v", got, err)
	}
}

func TestResolvePermalink(t *testing.T) {
	fx := newFixture(t, func(c *Config) { c.PostsPerPage = 2 })
	ctx := context.Background()
	th, p0 := fx.createThread(t, fx.alice, "Hello World")
	var posts []*model.Post
	for i := 0; i < 4; i++ {
		posts = append(posts, fx.reply(t, fx.bob, th.ID, "r"))
	}

	tests := []struct {
		postID string
		page   int
	}{
		{p0.ID, 1},
		{posts[0].ID, 1},
		{posts[1].ID, 2},
		{posts[2].ID, 2},
		{posts[3].ID, 3},
	}
	for _, tt := range tests {
		link, err := fx.svc.ResolvePermalink(ctx, nil, tt.postID)
		if err != nil {
			t.Fatalf("ResolvePermalink(%s) error = %v", tt.postID, err)
		}
		if link.Page != tt.page {
			t.Errorf("page of %s = %d, want %d", tt.postID, link.Page, tt.page)
		}
	}

	link, _ := fx.svc.ResolvePermalink(ctx, nil, posts[3].ID)
	want := "/api/threads/" + th.ID + "/hello-world?page=3#post-" + posts[3].ID
	if link.URL() != want {
		t.Errorf("URL = %q, want %q", link.URL(), want)
	}

	// 削除済み投稿は順位の計算から除かれる
	if _, err := fx.svc.DeletePost(ctx, fx.bob, posts[0].ID); err != nil {
		t.Fatal(err)
	}
	link, _ = fx.svc.ResolvePermalink(ctx, nil, posts[1].ID)
	if link.Page != 1 {
		t.Errorf("page after deletion = %d, want 1", link.Page)
	}
	if _, err := fx.svc.ResolvePermalink(ctx, nil, posts[0].ID); !model.HasCode(err, model.ErrCodePostNotFound) {
		t.Errorf("deleted post error = %v, want POST_NOT_FOUND", err)
	}
}

func ptr[T any](v T) *T { return &v }
