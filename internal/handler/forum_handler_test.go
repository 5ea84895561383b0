package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/thread"
)

func sampleThreadPage(f *model.Forum) *thread.ThreadPage {
	return &thread.ThreadPage{
		Forum: f,
		Entries: []thread.ThreadEntry{
			{
				ThreadListEntry: model.ThreadListEntry{
					Thread:             model.Thread{ID: "thread-1", ForumID: f.ID, Slug: "hello", Title: "Hello", Sticky: true},
					LastPostModifiedAt: testNow.Add(-3 * time.Minute),
					ReplyCount:         4,
					IsRead:             true,
				},
			},
			{
				ThreadListEntry: model.ThreadListEntry{
					Thread:             model.Thread{ID: "thread-2", ForumID: f.ID, Slug: "old", Title: "Old"},
					LastPostModifiedAt: testNow.Add(-200 * 24 * time.Hour),
				},
				IsOld: true,
			},
		},
		Page:       1,
		TotalPages: 1,
		Total:      2,
	}
}

// TestForumHandler_ListRoots は閲覧できるルートフォーラムを返すことを検証する。
func TestForumHandler_ListRoots(t *testing.T) {
	forums := &mockForumService{
		visibleChildrenFn: func(ctx context.Context, parentID *string, viewer *model.User) ([]*model.Forum, error) {
			if parentID != nil {
				t.Errorf("parentID = %v, want nil", *parentID)
			}
			return []*model.Forum{
				{ID: "f1", Slug: "general", SlugPath: "general", Title: "General"},
				{ID: "f2", Slug: "news", SlugPath: "news", Title: "News", Closed: true},
			}, nil
		},
	}
	h := NewForumHandler(forums, &mockThreadService{}, &mockReadTracker{}, clock.NewFake(testNow))
	w := httptest.NewRecorder()

	h.ListRoots(w, httptest.NewRequest(http.MethodGet, "/api/forums", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp []forumResponse
	decodeBody(t, w, &resp)
	if len(resp) != 2 || resp[0].SlugPath != "general" || !resp[1].Closed {
		t.Errorf("response = %+v", resp)
	}
}

// TestForumHandler_ListThreads は一覧の各行に既読・古さ・最終活動の相対表記が含まれることを検証する。
func TestForumHandler_ListThreads(t *testing.T) {
	f := &model.Forum{ID: "forum-1", Slug: "general", SlugPath: "general", Title: "General"}
	threads := &mockThreadService{
		listThreadsFn: func(ctx context.Context, viewer *model.User, forumID string, page int) (*thread.ThreadPage, error) {
			if forumID != "forum-1" || page != 1 {
				t.Errorf("ListThreads(%q, %d)", forumID, page)
			}
			return sampleThreadPage(f), nil
		},
	}
	h := NewForumHandler(&mockForumService{}, threads, &mockReadTracker{}, clock.NewFake(testNow))
	req := httptest.NewRequest(http.MethodGet, "/api/forums/forum-1/threads", nil)
	req = withChiURLParams(req, "forumID", "forum-1")
	w := httptest.NewRecorder()

	h.ListThreads(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp threadListResponse
	decodeBody(t, w, &resp)
	if len(resp.Threads) != 2 {
		t.Fatalf("len(threads) = %d, want 2", len(resp.Threads))
	}
	first := resp.Threads[0]
	if !first.Sticky || !first.IsRead || first.ReplyCount != 4 {
		t.Errorf("first = %+v", first)
	}
	if first.LastActivityHuman != "3 minutes ago" {
		t.Errorf("last_activity_human = %q, want %q", first.LastActivityHuman, "3 minutes ago")
	}
	if !resp.Threads[1].IsOld || resp.Threads[1].IsRead {
		t.Errorf("second = %+v", resp.Threads[1])
	}
}

// TestForumHandler_ListThreads_PrivateForum は非公開フォーラムの一覧が403になることを検証する。
func TestForumHandler_ListThreads_PrivateForum(t *testing.T) {
	threads := &mockThreadService{
		listThreadsFn: func(ctx context.Context, viewer *model.User, forumID string, page int) (*thread.ThreadPage, error) {
			return nil, model.NewAccessDeniedError()
		},
	}
	h := NewForumHandler(&mockForumService{}, threads, &mockReadTracker{}, clock.NewFake(testNow))
	req := httptest.NewRequest(http.MethodGet, "/api/forums/staff/threads", nil)
	req = withChiURLParams(req, "forumID", "staff")
	w := httptest.NewRecorder()

	h.ListThreads(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if got := parseAPIErrorResponse(t, w)["code"]; got != model.ErrCodeAccessDenied {
		t.Errorf("code = %v, want ACCESS_DENIED", got)
	}
}

// TestForumHandler_ViewByPath はスラッグパスからフォーラム・パンくず・子・スレッド一覧をまとめて返すことを検証する。
func TestForumHandler_ViewByPath(t *testing.T) {
	parentID := "root-1"
	f := &model.Forum{ID: "forum-1", ParentID: &parentID, Slug: "go", SlugPath: "lang/go", Title: "Go"}
	forums := &mockForumService{
		viewFn: func(ctx context.Context, slugPath string, viewer *model.User) (*model.Forum, error) {
			if slugPath != "lang/go" {
				return nil, model.NewForumNotFoundError(slugPath)
			}
			return f, nil
		},
		breadcrumbsFn: func(ctx context.Context, got *model.Forum) ([]*model.Forum, error) {
			return []*model.Forum{{ID: "root-1", Slug: "lang", SlugPath: "lang", Title: "Languages"}}, nil
		},
		visibleChildrenFn: func(ctx context.Context, parentID *string, viewer *model.User) ([]*model.Forum, error) {
			if parentID == nil || *parentID != "forum-1" {
				t.Errorf("parentID = %v, want forum-1", parentID)
			}
			return []*model.Forum{{ID: "child", Slug: "generics", SlugPath: "lang/go/generics"}}, nil
		},
	}
	threads := &mockThreadService{
		listThreadsFn: func(ctx context.Context, viewer *model.User, forumID string, page int) (*thread.ThreadPage, error) {
			if page != 2 {
				t.Errorf("page = %d, want 2", page)
			}
			return sampleThreadPage(f), nil
		},
	}
	h := NewForumHandler(forums, threads, &mockReadTracker{}, clock.NewFake(testNow))

	req := httptest.NewRequest(http.MethodGet, "/api/forums/by-path/lang/go?page=2", nil)
	req = withChiURLParams(req, "*", "lang/go")
	w := httptest.NewRecorder()
	h.ViewByPath(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	var resp forumViewResponse
	decodeBody(t, w, &resp)
	if resp.Forum.SlugPath != "lang/go" {
		t.Errorf("forum = %+v", resp.Forum)
	}
	if len(resp.Breadcrumbs) != 1 || resp.Breadcrumbs[0].Slug != "lang" {
		t.Errorf("breadcrumbs = %+v", resp.Breadcrumbs)
	}
	if len(resp.Children) != 1 || resp.Children[0].Slug != "generics" {
		t.Errorf("children = %+v", resp.Children)
	}
	if resp.Threads.Total != 2 {
		t.Errorf("threads.total = %d, want 2", resp.Threads.Total)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/forums/by-path/nope", nil)
	req = withChiURLParams(req, "*", "nope")
	w = httptest.NewRecorder()
	h.ViewByPath(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown path: status = %d, want 404", w.Code)
	}
}

// TestForumHandler_MarkRead は閲覧できるフォーラムだけを既読にすることを検証する。
func TestForumHandler_MarkRead(t *testing.T) {
	forums := &mockForumService{
		getFn: func(ctx context.Context, forumID string, viewer *model.User) (*model.Forum, error) {
			if forumID == "gone" {
				return nil, model.NewForumNotFoundError(forumID)
			}
			return &model.Forum{ID: forumID}, nil
		},
	}
	var marked []string
	reads := &mockReadTracker{
		markForumReadFn: func(ctx context.Context, userID, forumID string) error {
			marked = append(marked, userID+":"+forumID)
			return nil
		},
	}
	h := NewForumHandler(forums, &mockThreadService{}, reads, clock.NewFake(testNow))

	for _, tc := range []struct {
		id   string
		want int
	}{
		{"forum-1", http.StatusNoContent},
		{"gone", http.StatusNotFound},
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/forums/"+tc.id+"/read", nil)
		req = withChiURLParams(withUser(req, testUser), "forumID", tc.id)
		w := httptest.NewRecorder()
		h.MarkRead(w, req)
		if w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.id, w.Code, tc.want)
		}
	}
	if len(marked) != 1 || marked[0] != "user-123:forum-1" {
		t.Errorf("marked = %v", marked)
	}
}
