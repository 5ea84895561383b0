package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/forumd/internal/middleware"
)

// FeedBuilderInterface はAtomフィードの生成に必要なインターフェース。
type FeedBuilderInterface interface {
	ForumFeed(ctx context.Context, forumID string) ([]byte, error)
}

// FeedHandler は公開フォーラムのAtomフィードを配信するHTTPハンドラー。
type FeedHandler struct {
	builder FeedBuilderInterface
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(builder FeedBuilderInterface) *FeedHandler {
	return &FeedHandler{builder: builder}
}

// ForumFeed はフォーラムの最新スレッドのAtomフィードを返す。
// GET /api/forums/{forumID}/feed.atom
func (h *FeedHandler) ForumFeed(w http.ResponseWriter, r *http.Request) {
	body, err := h.builder.ForumFeed(r.Context(), chi.URLParam(r, "forumID"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("フィードの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}
