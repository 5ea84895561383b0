// Package notify は購読者への通知の配信先（シンク）を提供する。
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/repository"
)

// Sink は通知の配信先。
type Sink interface {
	Deliver(ctx context.Context, n model.Notification) error
}

// Named はメトリクスやログで使うシンク名を返せるシンク。
type Named interface {
	Name() string
}

// NameOf はシンク名を返す。Namedでない場合は型名を返す。
func NameOf(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// PostgresSink は通知をnotificationsテーブルに保存する。
// 未処理の同じ (受信者, DismissCode) が既にあれば何もしない。
type PostgresSink struct {
	repo repository.NotificationRepository
}

// NewPostgresSink はPostgresSinkを生成する。
func NewPostgresSink(repo repository.NotificationRepository) *PostgresSink {
	return &PostgresSink{repo: repo}
}

// Name はシンク名を返す。
func (s *PostgresSink) Name() string { return "postgres" }

// Deliver は通知を保存する。
func (s *PostgresSink) Deliver(ctx context.Context, n model.Notification) error {
	if _, err := s.repo.Create(ctx, &n); err != nil {
		return fmt.Errorf("通知の保存に失敗しました: %w", err)
	}
	return nil
}

// MultiSink は複数のシンクに順に配信する。
// 一部が失敗しても残りへの配信は続け、失敗をまとめて返す。
type MultiSink []Sink

// Name はシンク名を返す。
func (m MultiSink) Name() string { return "multi" }

// Deliver はすべてのシンクに配信する。
func (m MultiSink) Deliver(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", NameOf(s), err))
		}
	}
	return errors.Join(errs...)
}
