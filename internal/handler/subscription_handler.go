package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/forumd/internal/middleware"
	"github.com/hitoshi/forumd/internal/model"
)

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	Subscribe(ctx context.Context, user *model.User, kind model.TargetKind, targetID string) error
	Unsubscribe(ctx context.Context, user *model.User, kind model.TargetKind, targetID string) error
	ListForUser(ctx context.Context, userID string) ([]*model.Subscription, error)
	Profile(ctx context.Context, userID string) (*model.ForumUserProfile, error)
	UpdateProfile(ctx context.Context, userID string, notifyOfReplyByDefault bool) (*model.ForumUserProfile, error)
}

// SubscriptionHandler は購読とフォーラム利用者設定のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// updateProfileRequest はフォーラム利用者設定の更新リクエストのボディ。
type updateProfileRequest struct {
	NotifyOfReplyByDefault *bool `json:"notify_of_reply_by_default" validate:"required"`
}

// Subscribe は対象の購読ハンドラーを返す。URLパラメータparamが対象IDを表す。
// PUT /api/forums/{forumID}/subscription
// PUT /api/threads/{threadID}/subscription
func (h *SubscriptionHandler) Subscribe(kind model.TargetKind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := middleware.UserFromContext(r.Context())
		if err := h.service.Subscribe(r.Context(), user, kind, chi.URLParam(r, param)); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Unsubscribe は対象の購読解除ハンドラーを返す。
// DELETE /api/forums/{forumID}/subscription
// DELETE /api/threads/{threadID}/subscription
func (h *SubscriptionHandler) Unsubscribe(kind model.TargetKind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := middleware.UserFromContext(r.Context())
		if err := h.service.Unsubscribe(r.Context(), user, kind, chi.URLParam(r, param)); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListMine はログイン中のユーザーの購読一覧を返す。
// GET /api/me/subscriptions
func (h *SubscriptionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	subs, err := h.service.ListForUser(r.Context(), user.ID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	out := make([]subscriptionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, subscriptionResponse{
			Kind:      s.Kind,
			TargetID:  s.TargetID,
			CreatedAt: s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetProfile はフォーラム利用者設定を返す。
// GET /api/me/forum-profile
func (h *SubscriptionHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	p, err := h.service.Profile(r.Context(), user.ID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{NotifyOfReplyByDefault: p.NotifyOfReplyByDefault})
}

// UpdateProfile はフォーラム利用者設定を更新する。
// PUT /api/me/forum-profile
func (h *SubscriptionHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	user := middleware.UserFromContext(r.Context())
	p, err := h.service.UpdateProfile(r.Context(), user.ID, *req.NotifyOfReplyByDefault)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{NotifyOfReplyByDefault: p.NotifyOfReplyByDefault})
}
