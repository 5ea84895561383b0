package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/forumd/internal/forum"
	"github.com/hitoshi/forumd/internal/middleware"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/moderation"
	"github.com/hitoshi/forumd/internal/thread"
)

// --- モック定義 ---

// mockThreadService はThreadServiceInterfaceとThreadListerInterfaceのモック実装。
type mockThreadService struct {
	createThreadFn     func(ctx context.Context, author *model.User, in thread.CreateThreadInput) (*model.Thread, *model.Post, error)
	replyFn            func(ctx context.Context, author *model.User, threadID string, in thread.ReplyInput) (*model.Post, error)
	getThreadFn        func(ctx context.Context, viewer *model.User, threadID string) (*model.Thread, *model.Forum, error)
	listPostsFn        func(ctx context.Context, viewer *model.User, threadID string, page int) (*thread.PostPage, error)
	listThreadsFn      func(ctx context.Context, viewer *model.User, forumID string, page int) (*thread.ThreadPage, error)
	updateThreadFn     func(ctx context.Context, actor *model.User, threadID string, patch thread.ThreadPatch) (*model.Thread, error)
	deleteThreadFn     func(ctx context.Context, actor *model.User, threadID string) error
	editPostFn         func(ctx context.Context, editor *model.User, postID string, in thread.EditPostInput) (*model.Post, error)
	deletePostFn       func(ctx context.Context, actor *model.User, postID string) (bool, error)
	resolvePermalinkFn func(ctx context.Context, viewer *model.User, postID string) (*thread.Permalink, error)
}

func (m *mockThreadService) CreateThread(ctx context.Context, author *model.User, in thread.CreateThreadInput) (*model.Thread, *model.Post, error) {
	if m.createThreadFn != nil {
		return m.createThreadFn(ctx, author, in)
	}
	return nil, nil, nil
}

func (m *mockThreadService) Reply(ctx context.Context, author *model.User, threadID string, in thread.ReplyInput) (*model.Post, error) {
	if m.replyFn != nil {
		return m.replyFn(ctx, author, threadID, in)
	}
	return nil, nil
}

func (m *mockThreadService) GetThread(ctx context.Context, viewer *model.User, threadID string) (*model.Thread, *model.Forum, error) {
	if m.getThreadFn != nil {
		return m.getThreadFn(ctx, viewer, threadID)
	}
	return nil, nil, nil
}

func (m *mockThreadService) ListPosts(ctx context.Context, viewer *model.User, threadID string, page int) (*thread.PostPage, error) {
	if m.listPostsFn != nil {
		return m.listPostsFn(ctx, viewer, threadID, page)
	}
	return nil, nil
}

func (m *mockThreadService) ListThreads(ctx context.Context, viewer *model.User, forumID string, page int) (*thread.ThreadPage, error) {
	if m.listThreadsFn != nil {
		return m.listThreadsFn(ctx, viewer, forumID, page)
	}
	return nil, nil
}

func (m *mockThreadService) UpdateThread(ctx context.Context, actor *model.User, threadID string, patch thread.ThreadPatch) (*model.Thread, error) {
	if m.updateThreadFn != nil {
		return m.updateThreadFn(ctx, actor, threadID, patch)
	}
	return nil, nil
}

func (m *mockThreadService) DeleteThread(ctx context.Context, actor *model.User, threadID string) error {
	if m.deleteThreadFn != nil {
		return m.deleteThreadFn(ctx, actor, threadID)
	}
	return nil
}

func (m *mockThreadService) EditPost(ctx context.Context, editor *model.User, postID string, in thread.EditPostInput) (*model.Post, error) {
	if m.editPostFn != nil {
		return m.editPostFn(ctx, editor, postID, in)
	}
	return nil, nil
}

func (m *mockThreadService) DeletePost(ctx context.Context, actor *model.User, postID string) (bool, error) {
	if m.deletePostFn != nil {
		return m.deletePostFn(ctx, actor, postID)
	}
	return false, nil
}

func (m *mockThreadService) ResolvePermalink(ctx context.Context, viewer *model.User, postID string) (*thread.Permalink, error) {
	if m.resolvePermalinkFn != nil {
		return m.resolvePermalinkFn(ctx, viewer, postID)
	}
	return nil, nil
}

// mockReadTracker はReadTrackerInterfaceのモック実装。
type mockReadTracker struct {
	markForumReadFn    func(ctx context.Context, userID, forumID string) error
	markThreadReadFn   func(ctx context.Context, userID, threadID string, seenUpTo time.Time) error
	markThreadUnreadFn func(ctx context.Context, userID, threadID string) error
}

func (m *mockReadTracker) MarkForumRead(ctx context.Context, userID, forumID string) error {
	if m.markForumReadFn != nil {
		return m.markForumReadFn(ctx, userID, forumID)
	}
	return nil
}

func (m *mockReadTracker) MarkThreadRead(ctx context.Context, userID, threadID string, seenUpTo time.Time) error {
	if m.markThreadReadFn != nil {
		return m.markThreadReadFn(ctx, userID, threadID, seenUpTo)
	}
	return nil
}

func (m *mockReadTracker) MarkThreadUnread(ctx context.Context, userID, threadID string) error {
	if m.markThreadUnreadFn != nil {
		return m.markThreadUnreadFn(ctx, userID, threadID)
	}
	return nil
}

// mockForumService はForumServiceInterfaceのモック実装。
type mockForumService struct {
	getFn             func(ctx context.Context, forumID string, viewer *model.User) (*model.Forum, error)
	viewFn            func(ctx context.Context, slugPath string, viewer *model.User) (*model.Forum, error)
	visibleChildrenFn func(ctx context.Context, parentID *string, viewer *model.User) ([]*model.Forum, error)
	breadcrumbsFn     func(ctx context.Context, f *model.Forum) ([]*model.Forum, error)
}

func (m *mockForumService) Get(ctx context.Context, forumID string, viewer *model.User) (*model.Forum, error) {
	if m.getFn != nil {
		return m.getFn(ctx, forumID, viewer)
	}
	return nil, nil
}

func (m *mockForumService) View(ctx context.Context, slugPath string, viewer *model.User) (*model.Forum, error) {
	if m.viewFn != nil {
		return m.viewFn(ctx, slugPath, viewer)
	}
	return nil, nil
}

func (m *mockForumService) VisibleChildren(ctx context.Context, parentID *string, viewer *model.User) ([]*model.Forum, error) {
	if m.visibleChildrenFn != nil {
		return m.visibleChildrenFn(ctx, parentID, viewer)
	}
	return nil, nil
}

func (m *mockForumService) Breadcrumbs(ctx context.Context, f *model.Forum) ([]*model.Forum, error) {
	if m.breadcrumbsFn != nil {
		return m.breadcrumbsFn(ctx, f)
	}
	return nil, nil
}

// mockForumAdmin はForumAdminServiceInterfaceのモック実装。
type mockForumAdmin struct {
	createForumFn func(ctx context.Context, in forum.CreateForumInput) (*model.Forum, error)
	updateForumFn func(ctx context.Context, forumID string, in forum.UpdateForumInput) (*model.Forum, error)
	moveForumFn   func(ctx context.Context, forumID string, newParentID *string) (*model.Forum, error)
	setClosedFn   func(ctx context.Context, forumID string, closed, cascadeToThreads, cascadeToSubforums bool) error
	setPrivateFn  func(ctx context.Context, forumID string, private, cascadeToSubforums bool) error
	deleteForumFn func(ctx context.Context, forumID string) error
}

func (m *mockForumAdmin) CreateForum(ctx context.Context, in forum.CreateForumInput) (*model.Forum, error) {
	if m.createForumFn != nil {
		return m.createForumFn(ctx, in)
	}
	return nil, nil
}

func (m *mockForumAdmin) UpdateForum(ctx context.Context, forumID string, in forum.UpdateForumInput) (*model.Forum, error) {
	if m.updateForumFn != nil {
		return m.updateForumFn(ctx, forumID, in)
	}
	return &model.Forum{ID: forumID}, nil
}

func (m *mockForumAdmin) MoveForum(ctx context.Context, forumID string, newParentID *string) (*model.Forum, error) {
	if m.moveForumFn != nil {
		return m.moveForumFn(ctx, forumID, newParentID)
	}
	return &model.Forum{ID: forumID, ParentID: newParentID}, nil
}

func (m *mockForumAdmin) SetClosed(ctx context.Context, forumID string, closed, cascadeToThreads, cascadeToSubforums bool) error {
	if m.setClosedFn != nil {
		return m.setClosedFn(ctx, forumID, closed, cascadeToThreads, cascadeToSubforums)
	}
	return nil
}

func (m *mockForumAdmin) SetPrivate(ctx context.Context, forumID string, private, cascadeToSubforums bool) error {
	if m.setPrivateFn != nil {
		return m.setPrivateFn(ctx, forumID, private, cascadeToSubforums)
	}
	return nil
}

func (m *mockForumAdmin) DeleteForum(ctx context.Context, forumID string) error {
	if m.deleteForumFn != nil {
		return m.deleteForumFn(ctx, forumID)
	}
	return nil
}

// mockSubscriptionService はSubscriptionServiceInterfaceのモック実装。
type mockSubscriptionService struct {
	subscribeFn     func(ctx context.Context, user *model.User, kind model.TargetKind, targetID string) error
	unsubscribeFn   func(ctx context.Context, user *model.User, kind model.TargetKind, targetID string) error
	listForUserFn   func(ctx context.Context, userID string) ([]*model.Subscription, error)
	profileFn       func(ctx context.Context, userID string) (*model.ForumUserProfile, error)
	updateProfileFn func(ctx context.Context, userID string, notify bool) (*model.ForumUserProfile, error)
}

func (m *mockSubscriptionService) Subscribe(ctx context.Context, user *model.User, kind model.TargetKind, targetID string) error {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, user, kind, targetID)
	}
	return nil
}

func (m *mockSubscriptionService) Unsubscribe(ctx context.Context, user *model.User, kind model.TargetKind, targetID string) error {
	if m.unsubscribeFn != nil {
		return m.unsubscribeFn(ctx, user, kind, targetID)
	}
	return nil
}

func (m *mockSubscriptionService) ListForUser(ctx context.Context, userID string) ([]*model.Subscription, error) {
	if m.listForUserFn != nil {
		return m.listForUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockSubscriptionService) Profile(ctx context.Context, userID string) (*model.ForumUserProfile, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx, userID)
	}
	return &model.ForumUserProfile{UserID: userID, NotifyOfReplyByDefault: true}, nil
}

func (m *mockSubscriptionService) UpdateProfile(ctx context.Context, userID string, notify bool) (*model.ForumUserProfile, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, userID, notify)
	}
	return &model.ForumUserProfile{UserID: userID, NotifyOfReplyByDefault: notify}, nil
}

// mockStrikeService はStrikeServiceInterfaceのモック実装。
type mockStrikeService struct {
	addStrikeFn func(ctx context.Context, author *model.User, in moderation.StrikeInput) (*model.Strike, error)
}

func (m *mockStrikeService) AddStrike(ctx context.Context, author *model.User, in moderation.StrikeInput) (*model.Strike, error) {
	if m.addStrikeFn != nil {
		return m.addStrikeFn(ctx, author, in)
	}
	return &model.Strike{ID: "strike-1"}, nil
}

// mockFeedBuilder はFeedBuilderInterfaceのモック実装。
type mockFeedBuilder struct {
	forumFeedFn func(ctx context.Context, forumID string) ([]byte, error)
}

func (m *mockFeedBuilder) ForumFeed(ctx context.Context, forumID string) ([]byte, error) {
	if m.forumFeedFn != nil {
		return m.forumFeedFn(ctx, forumID)
	}
	return nil, nil
}

// --- テストヘルパー ---

var testUser = &model.User{ID: "user-123", Username: "alice", IsActive: true}

// withUser はテスト用にリクエストコンテキストにユーザーを注入するヘルパー。
func withUser(r *http.Request, u *model.User) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), u))
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。
// kvはキーと値を交互に並べる。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディをdstにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response: %v (body=%s)", err, w.Body.String())
	}
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }
