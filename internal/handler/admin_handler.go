package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/forumd/internal/forum"
	"github.com/hitoshi/forumd/internal/middleware"
	"github.com/hitoshi/forumd/internal/model"
)

// ForumAdminServiceInterface はフォーラム管理ハンドラーが必要とするサービスインターフェース。
// 呼び出し元で manage_forums 権限を確認済みであること。
type ForumAdminServiceInterface interface {
	CreateForum(ctx context.Context, in forum.CreateForumInput) (*model.Forum, error)
	UpdateForum(ctx context.Context, forumID string, in forum.UpdateForumInput) (*model.Forum, error)
	MoveForum(ctx context.Context, forumID string, newParentID *string) (*model.Forum, error)
	SetClosed(ctx context.Context, forumID string, closed, cascadeToThreads, cascadeToSubforums bool) error
	SetPrivate(ctx context.Context, forumID string, private, cascadeToSubforums bool) error
	DeleteForum(ctx context.Context, forumID string) error
}

// AdminHandler はフォーラム管理のHTTPハンドラー。
type AdminHandler struct {
	service ForumAdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service ForumAdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// createForumRequest はフォーラム作成リクエストのボディ。
type createForumRequest struct {
	ParentID    *string `json:"parent_id" validate:"omitempty,min=1"`
	Slug        string  `json:"slug" validate:"required,max=64"`
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description"`
	Ordering    int     `json:"ordering"`
	Private     bool    `json:"private"`
	Closed      bool    `json:"closed"`
}

// moveTarget は移動先。parent_id がnullの場合はルートへ移動する。
type moveTarget struct {
	ParentID *string `json:"parent_id" validate:"omitempty,min=1"`
}

// updateForumRequest はフォーラム更新リクエストのボディ。省略した項目は変更しない。
type updateForumRequest struct {
	Title       *string     `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string     `json:"description"`
	Ordering    *int        `json:"ordering"`
	Move        *moveTarget `json:"move"`
}

// setClosedRequest はクローズ状態の設定リクエストのボディ。
type setClosedRequest struct {
	Closed             *bool `json:"closed" validate:"required"`
	CascadeToThreads   bool  `json:"cascade_to_threads"`
	CascadeToSubforums bool  `json:"cascade_to_subforums"`
}

// setPrivateRequest は非公開状態の設定リクエストのボディ。
type setPrivateRequest struct {
	Private            *bool `json:"private" validate:"required"`
	CascadeToSubforums bool  `json:"cascade_to_subforums"`
}

// CreateForum はフォーラムを作成する。
// POST /api/admin/forums
func (h *AdminHandler) CreateForum(w http.ResponseWriter, r *http.Request) {
	var req createForumRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	f, err := h.service.CreateForum(r.Context(), forum.CreateForumInput{
		ParentID:          req.ParentID,
		Slug:              req.Slug,
		Title:             req.Title,
		DescriptionSource: req.Description,
		Ordering:          req.Ordering,
		Private:           req.Private,
		Closed:            req.Closed,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toForumResponse(f))
}

// UpdateForum はフォーラムの表示項目を更新し、moveが指定されていれば移動する。
// PATCH /api/admin/forums/{forumID}
func (h *AdminHandler) UpdateForum(w http.ResponseWriter, r *http.Request) {
	var req updateForumRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ctx := r.Context()
	forumID := chi.URLParam(r, "forumID")

	f, err := h.service.UpdateForum(ctx, forumID, forum.UpdateForumInput{
		Title:             req.Title,
		DescriptionSource: req.Description,
		Ordering:          req.Ordering,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if req.Move != nil {
		f, err = h.service.MoveForum(ctx, forumID, req.Move.ParentID)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toForumResponse(f))
}

// SetClosed はフォーラムのクローズ状態を設定する。
// POST /api/admin/forums/{forumID}/closed
func (h *AdminHandler) SetClosed(w http.ResponseWriter, r *http.Request) {
	var req setClosedRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	err := h.service.SetClosed(r.Context(), chi.URLParam(r, "forumID"),
		*req.Closed, req.CascadeToThreads, req.CascadeToSubforums)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPrivate はフォーラムの非公開状態を設定する。
// POST /api/admin/forums/{forumID}/private
func (h *AdminHandler) SetPrivate(w http.ResponseWriter, r *http.Request) {
	var req setPrivateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	err := h.service.SetPrivate(r.Context(), chi.URLParam(r, "forumID"), *req.Private, req.CascadeToSubforums)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteForum はフォーラムを部分木ごと論理削除する。
// DELETE /api/admin/forums/{forumID}
func (h *AdminHandler) DeleteForum(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteForum(r.Context(), chi.URLParam(r, "forumID")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
