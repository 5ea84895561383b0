package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/middleware"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/thread"
)

// ForumServiceInterface はフォーラム閲覧ハンドラーが必要とするサービスインターフェース。
type ForumServiceInterface interface {
	// Get はIDでフォーラムを取得し、閲覧権限を確認する。
	Get(ctx context.Context, forumID string, viewer *model.User) (*model.Forum, error)
	// View はスラッグパスからフォーラムを解決し、閲覧権限を確認する。
	View(ctx context.Context, slugPath string, viewer *model.User) (*model.Forum, error)
	// VisibleChildren は閲覧者がアクセスできる子フォーラムを返す。
	VisibleChildren(ctx context.Context, parentID *string, viewer *model.User) ([]*model.Forum, error)
	// Breadcrumbs はルートから親までの祖先フォーラムを返す。
	Breadcrumbs(ctx context.Context, f *model.Forum) ([]*model.Forum, error)
}

// ThreadListerInterface はスレッド一覧の取得に必要なインターフェース。
type ThreadListerInterface interface {
	ListThreads(ctx context.Context, viewer *model.User, forumID string, page int) (*thread.ThreadPage, error)
}

// ForumReadMarker はフォーラム単位の既読化に必要なインターフェース。
type ForumReadMarker interface {
	MarkForumRead(ctx context.Context, userID, forumID string) error
}

// ForumHandler はフォーラム閲覧のHTTPハンドラー。
type ForumHandler struct {
	forums  ForumServiceInterface
	threads ThreadListerInterface
	reads   ForumReadMarker
	clock   clock.Clock
}

// NewForumHandler はForumHandlerを生成する。
func NewForumHandler(forums ForumServiceInterface, threads ThreadListerInterface, reads ForumReadMarker, clk clock.Clock) *ForumHandler {
	return &ForumHandler{
		forums:  forums,
		threads: threads,
		reads:   reads,
		clock:   clk,
	}
}

// forumViewResponse はスラッグパスで解決したフォーラムページのAPIレスポンス。
type forumViewResponse struct {
	Forum       forumResponse      `json:"forum"`
	Breadcrumbs []forumResponse    `json:"breadcrumbs"`
	Children    []forumResponse    `json:"children"`
	Threads     threadListResponse `json:"threads"`
}

// ListRoots は閲覧できるルートフォーラムを返す。
// GET /api/forums
func (h *ForumHandler) ListRoots(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.UserFromContext(r.Context())
	forums, err := h.forums.VisibleChildren(r.Context(), nil, viewer)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toForumResponses(forums))
}

// ViewByPath はスラッグパスからフォーラムを解決し、子フォーラム・パンくず・スレッド一覧をまとめて返す。
// GET /api/forums/by-path/*
func (h *ForumHandler) ViewByPath(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	viewer := middleware.UserFromContext(ctx)

	f, err := h.forums.View(ctx, chi.URLParam(r, "*"), viewer)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	breadcrumbs, err := h.forums.Breadcrumbs(ctx, f)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	children, err := h.forums.VisibleChildren(ctx, &f.ID, viewer)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	threads, err := h.threads.ListThreads(ctx, viewer, f.ID, page)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, forumViewResponse{
		Forum:       toForumResponse(f),
		Breadcrumbs: toForumResponses(breadcrumbs),
		Children:    toForumResponses(children),
		Threads:     toThreadListResponse(threads, h.clock.Now()),
	})
}

// ListThreads はフォーラムのスレッド一覧を返す。
// GET /api/forums/{forumID}/threads?page=
func (h *ForumHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(w, r)
	if !ok {
		return
	}
	viewer := middleware.UserFromContext(r.Context())
	threads, err := h.threads.ListThreads(r.Context(), viewer, chi.URLParam(r, "forumID"), page)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toThreadListResponse(threads, h.clock.Now()))
}

// MarkRead はフォーラム内のすべてのスレッドを既読にする。
// POST /api/forums/{forumID}/read
func (h *ForumHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.UserFromContext(ctx)
	f, err := h.forums.Get(ctx, chi.URLParam(r, "forumID"), user)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.reads.MarkForumRead(ctx, user.ID, f.ID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
