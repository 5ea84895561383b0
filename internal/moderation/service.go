// Package moderation はユーザーとIPアドレスへの処分（警告・アクセス禁止）を管理する。
package moderation

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/repository"
)

// StrikeInput は処分の作成入力。TargetUserID と TargetIP の少なくとも一方が必要。
type StrikeInput struct {
	TargetUserID   *string
	TargetIP       *string
	Duration       time.Duration // 0の場合は無期限
	BlockAccess    bool
	InternalReason string
	PublicReason   string
}

// Service は処分のサービス層。
type Service struct {
	strikes repository.StrikeRepository
	clock   clock.Clock
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(strikes repository.StrikeRepository, clk clock.Clock) *Service {
	return &Service{strikes: strikes, clock: clk}
}

// FindActiveStrike はユーザーIDまたはIPアドレスに一致する有効な処分を返す。
// アクセス禁止を優先し、次に新しいものを返す。無い場合はnil。
func (s *Service) FindActiveStrike(ctx context.Context, userID, ip *string) (*model.Strike, error) {
	if userID != nil && *userID == "" {
		userID = nil
	}
	if ip != nil && net.ParseIP(*ip) == nil {
		ip = nil
	}
	if userID == nil && ip == nil {
		return nil, nil
	}
	strike, err := s.strikes.FindActive(ctx, userID, ip, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("処分の取得に失敗しました: %w", err)
	}
	return strike, nil
}

// AddStrike は処分を作成する。add_strike 権限が必要。
func (s *Service) AddStrike(ctx context.Context, author *model.User, in StrikeInput) (*model.Strike, error) {
	if author.IsAnonymous() {
		return nil, model.NewUnauthorizedError()
	}
	if !author.Has(model.CapAddStrike) {
		return nil, model.NewAccessDeniedError()
	}

	target := in.TargetUserID
	if target != nil && strings.TrimSpace(*target) == "" {
		target = nil
	}
	ip := in.TargetIP
	if ip != nil {
		parsed := net.ParseIP(strings.TrimSpace(*ip))
		if parsed == nil {
			return nil, model.NewInvalidRequestError("IPアドレスの形式が不正です")
		}
		normalized := parsed.String()
		ip = &normalized
	}
	if target == nil && ip == nil {
		return nil, model.NewInvalidRequestError("処分対象のユーザーまたはIPアドレスを指定してください")
	}
	if in.Duration < 0 {
		return nil, model.NewInvalidRequestError("処分期間が不正です")
	}

	now := s.clock.Now()
	strike := &model.Strike{
		ID:             model.NewID(),
		AuthorID:       author.ID,
		TargetUserID:   target,
		TargetIP:       ip,
		CreatedAt:      now,
		BlockAccess:    in.BlockAccess,
		InternalReason: in.InternalReason,
		PublicReason:   in.PublicReason,
	}
	if in.Duration > 0 {
		expires := now.Add(in.Duration)
		strike.ExpiresAt = &expires
	}
	if err := s.strikes.Create(ctx, strike); err != nil {
		return nil, fmt.Errorf("処分の作成に失敗しました: %w", err)
	}
	return strike, nil
}
