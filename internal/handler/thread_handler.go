package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/forumd/internal/middleware"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/thread"
)

// ThreadServiceInterface はスレッド・投稿ハンドラーが必要とするサービスインターフェース。
type ThreadServiceInterface interface {
	CreateThread(ctx context.Context, author *model.User, in thread.CreateThreadInput) (*model.Thread, *model.Post, error)
	Reply(ctx context.Context, author *model.User, threadID string, in thread.ReplyInput) (*model.Post, error)
	GetThread(ctx context.Context, viewer *model.User, threadID string) (*model.Thread, *model.Forum, error)
	ListPosts(ctx context.Context, viewer *model.User, threadID string, page int) (*thread.PostPage, error)
	UpdateThread(ctx context.Context, actor *model.User, threadID string, patch thread.ThreadPatch) (*model.Thread, error)
	DeleteThread(ctx context.Context, actor *model.User, threadID string) error
	EditPost(ctx context.Context, editor *model.User, postID string, in thread.EditPostInput) (*model.Post, error)
	DeletePost(ctx context.Context, actor *model.User, postID string) (bool, error)
	ResolvePermalink(ctx context.Context, viewer *model.User, postID string) (*thread.Permalink, error)
}

// ThreadReadMarker はスレッド単位の既読・未読化に必要なインターフェース。
type ThreadReadMarker interface {
	MarkThreadRead(ctx context.Context, userID, threadID string, seenUpTo time.Time) error
	MarkThreadUnread(ctx context.Context, userID, threadID string) error
}

// ThreadHandler はスレッドと投稿のHTTPハンドラー。
type ThreadHandler struct {
	service ThreadServiceInterface
	reads   ThreadReadMarker
}

// NewThreadHandler はThreadHandlerを生成する。
func NewThreadHandler(service ThreadServiceInterface, reads ThreadReadMarker) *ThreadHandler {
	return &ThreadHandler{
		service: service,
		reads:   reads,
	}
}

// createThreadRequest はスレッド作成リクエストのボディ。
type createThreadRequest struct {
	Title     string `json:"title" validate:"required,max=200"`
	Content   string `json:"content" validate:"required"`
	Subscribe *bool  `json:"subscribe"`
}

// replyRequest は返信リクエストのボディ。
type replyRequest struct {
	Content   string `json:"content" validate:"required"`
	Subscribe *bool  `json:"subscribe"`
}

// editPostRequest は投稿編集リクエストのボディ。
type editPostRequest struct {
	Content string `json:"content" validate:"required"`
}

// updateThreadRequest はスレッド変更リクエストのボディ。省略した項目は変更しない。
type updateThreadRequest struct {
	Title        *string `json:"title" validate:"omitempty,min=1,max=200"`
	Sticky       *bool   `json:"sticky"`
	GlobalSticky *bool   `json:"global_sticky"`
	Closed       *bool   `json:"closed"`
	Locked       *bool   `json:"locked"`
	Resolved     *bool   `json:"resolved"`
	ForumID      *string `json:"forum_id" validate:"omitempty,min=1"`
}

// createThreadResponse はスレッド作成のAPIレスポンス。
type createThreadResponse struct {
	Thread threadResponse `json:"thread"`
	Post   postResponse   `json:"post"`
}

// deletePostResponse は投稿削除のAPIレスポンス。
type deletePostResponse struct {
	ThreadDeleted bool `json:"thread_deleted"`
}

// CreateThread はスレッドを作成する。
// POST /api/forums/{forumID}/threads
func (h *ThreadHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	author := middleware.UserFromContext(r.Context())
	t, p, err := h.service.CreateThread(r.Context(), author, thread.CreateThreadInput{
		ForumID:   chi.URLParam(r, "forumID"),
		Title:     req.Title,
		Content:   req.Content,
		AuthorIP:  clientIP(r),
		Subscribe: req.Subscribe,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createThreadResponse{
		Thread: toThreadResponse(t),
		Post:   toPostResponse(p),
	})
}

// Reply はスレッドに返信する。
// POST /api/threads/{threadID}/posts
func (h *ThreadHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	author := middleware.UserFromContext(r.Context())
	p, err := h.service.Reply(r.Context(), author, chi.URLParam(r, "threadID"), thread.ReplyInput{
		Content:   req.Content,
		AuthorIP:  clientIP(r),
		Subscribe: req.Subscribe,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostResponse(p))
}

// GetThread はスレッドと投稿の1ページを返す。ログイン中の閲覧者にはスレッドを既読にする。
// GET /api/threads/{threadID}?page=
// GET /api/threads/{threadID}/{slug}?page=
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	viewer := middleware.UserFromContext(ctx)

	result, err := h.service.ListPosts(ctx, viewer, chi.URLParam(r, "threadID"), page)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	if viewer != nil {
		if err := h.reads.MarkThreadRead(ctx, viewer.ID, result.Thread.ID, result.LastPostModifiedAt); err != nil {
			slog.Warn("既読の記録に失敗しました",
				slog.String("thread_id", result.Thread.ID),
				slog.String("user_id", viewer.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, toThreadPageResponse(result))
}

// UpdateThread はスレッドのタイトル・フラグ・所属フォーラムを変更する。
// PATCH /api/threads/{threadID}
func (h *ThreadHandler) UpdateThread(w http.ResponseWriter, r *http.Request) {
	var req updateThreadRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	actor := middleware.UserFromContext(r.Context())
	t, err := h.service.UpdateThread(r.Context(), actor, chi.URLParam(r, "threadID"), thread.ThreadPatch{
		Title:        req.Title,
		Sticky:       req.Sticky,
		GlobalSticky: req.GlobalSticky,
		Closed:       req.Closed,
		Locked:       req.Locked,
		Resolved:     req.Resolved,
		ForumID:      req.ForumID,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toThreadResponse(t))
}

// DeleteThread はスレッドを論理削除する。
// DELETE /api/threads/{threadID}
func (h *ThreadHandler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	actor := middleware.UserFromContext(r.Context())
	if err := h.service.DeleteThread(r.Context(), actor, chi.URLParam(r, "threadID")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkUnread はスレッドを未読に戻す。
// DELETE /api/threads/{threadID}/read
func (h *ThreadHandler) MarkUnread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.UserFromContext(ctx)
	t, _, err := h.service.GetThread(ctx, user, chi.URLParam(r, "threadID"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.reads.MarkThreadUnread(ctx, user.ID, t.ID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Permalink は投稿が載っているスレッドのページへリダイレクトする。
// GET /api/posts/{postID}
func (h *ThreadHandler) Permalink(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.UserFromContext(r.Context())
	link, err := h.service.ResolvePermalink(r.Context(), viewer, chi.URLParam(r, "postID"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	http.Redirect(w, r, link.URL(), http.StatusFound)
}

// EditPost は投稿を編集する。
// PUT /api/posts/{postID}
func (h *ThreadHandler) EditPost(w http.ResponseWriter, r *http.Request) {
	var req editPostRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	editor := middleware.UserFromContext(r.Context())
	p, err := h.service.EditPost(r.Context(), editor, chi.URLParam(r, "postID"), thread.EditPostInput{
		Content:  req.Content,
		EditorIP: clientIP(r),
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(p))
}

// DeletePost は投稿を論理削除する。最初の投稿を削除した場合はスレッドも削除される。
// DELETE /api/posts/{postID}
func (h *ThreadHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	actor := middleware.UserFromContext(r.Context())
	threadDeleted, err := h.service.DeletePost(r.Context(), actor, chi.URLParam(r, "postID"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletePostResponse{ThreadDeleted: threadDeleted})
}
