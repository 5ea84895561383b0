package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/forumd/internal/middleware"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/moderation"
)

// StrikeServiceInterface は処分ハンドラーが必要とするサービスインターフェース。
type StrikeServiceInterface interface {
	AddStrike(ctx context.Context, author *model.User, in moderation.StrikeInput) (*model.Strike, error)
}

// StrikeHandler は処分のHTTPハンドラー。
type StrikeHandler struct {
	service StrikeServiceInterface
}

// NewStrikeHandler はStrikeHandlerを生成する。
func NewStrikeHandler(service StrikeServiceInterface) *StrikeHandler {
	return &StrikeHandler{service: service}
}

// addStrikeRequest は処分作成リクエストのボディ。
// target_user_id と target_ip の少なくとも一方が必要。duration_hours が0の場合は無期限。
type addStrikeRequest struct {
	TargetUserID   string `json:"target_user_id" validate:"required_without=TargetIP"`
	TargetIP       string `json:"target_ip" validate:"omitempty,ip"`
	DurationHours  int    `json:"duration_hours" validate:"gte=0,lte=87600"`
	BlockAccess    bool   `json:"block_access"`
	InternalReason string `json:"internal_reason" validate:"max=2000"`
	PublicReason   string `json:"public_reason" validate:"max=2000"`
}

// AddStrike はユーザーまたはIPアドレスに処分を科す。
// POST /api/strikes
func (h *StrikeHandler) AddStrike(w http.ResponseWriter, r *http.Request) {
	var req addStrikeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	author := middleware.UserFromContext(r.Context())
	s, err := h.service.AddStrike(r.Context(), author, moderation.StrikeInput{
		TargetUserID:   optional(req.TargetUserID),
		TargetIP:       optional(req.TargetIP),
		Duration:       time.Duration(req.DurationHours) * time.Hour,
		BlockAccess:    req.BlockAccess,
		InternalReason: req.InternalReason,
		PublicReason:   req.PublicReason,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, strikeResponse{
		ID:             s.ID,
		TargetUserID:   s.TargetUserID,
		TargetIP:       s.TargetIP,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		BlockAccess:    s.BlockAccess,
		InternalReason: s.InternalReason,
		PublicReason:   s.PublicReason,
	})
}

// optional は空文字列をnilに変換する。
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
