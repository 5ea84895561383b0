package subscription

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/metrics"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/notify"
	"github.com/hitoshi/forumd/internal/repository"
)

// DefaultMaxConcurrent は同時に配信する通知数の既定値。
const DefaultMaxConcurrent = 8

// deliveryTimeout は1件の通知配信のタイムアウト。
const deliveryTimeout = 15 * time.Second

// excerptLength は通知本文に含める投稿の抜粋の最大文字数。
const excerptLength = 280

// titleLength は通知タイトルの最大文字数。notifications.title の桁数と一致させる。
const titleLength = 255

// DismissCode はスレッドに関する通知の重複排除キーを返す。
func DismissCode(threadID string) string {
	return "thread:" + threadID
}

// Fanout はコミット済みの投稿を購読者に通知する。
// 配信は非同期で行い、同時実行数を制限する。配信の失敗はログとメトリクスに記録するだけで返さない。
type Fanout struct {
	store   repository.Store
	sink    notify.Sink
	clock   clock.Clock
	baseURL string
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	sem chan struct{}
	wg  sync.WaitGroup
}

// FanoutConfig はFanoutの設定。
type FanoutConfig struct {
	BaseURL       string
	MaxConcurrent int
}

// NewFanout はFanoutを生成する。
func NewFanout(store repository.Store, sink notify.Sink, clk clock.Clock, cfg FanoutConfig, logger *slog.Logger, m metrics.MetricsCollector) *Fanout {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Fanout{
		store:   store,
		sink:    sink,
		clock:   clk,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
		metrics: m,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// NewThread はフォーラムの購読者（作成者を除く）に新しいスレッドを通知する。
func (f *Fanout) NewThread(ctx context.Context, ev model.PublishEvent) {
	f.dispatch(ctx, model.TargetForum, ev.Forum.ID, ev)
}

// NewReply はスレッドの購読者（投稿者を除く）に新しい返信を通知する。
func (f *Fanout) NewReply(ctx context.Context, ev model.PublishEvent) {
	f.dispatch(ctx, model.TargetThread, ev.Thread.ID, ev)
}

// Wait は実行中の配信がすべて終わるまで待つ。
func (f *Fanout) Wait() {
	f.wg.Wait()
}

// dispatch はリクエストのキャンセルを引き継がないコンテキストで配信を開始する。
func (f *Fanout) dispatch(ctx context.Context, kind model.TargetKind, targetID string, ev model.PublishEvent) {
	ctx = context.WithoutCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		ids, err := f.store.Subscriptions().ListActiveSubscriberIDs(ctx, kind, targetID)
		if err != nil {
			f.logger.Error("購読者一覧の取得に失敗しました",
				slog.String("kind", string(kind)),
				slog.String("target_id", targetID),
				slog.String("error", err.Error()),
			)
			return
		}

		for _, id := range ids {
			if id == ev.Author.ID {
				continue
			}
			f.sem <- struct{}{}
			f.wg.Add(1)
			go func(recipientID string) {
				defer f.wg.Done()
				defer func() { <-f.sem }()
				f.deliver(ctx, kind, recipientID, ev)
			}(id)
		}
	}()
}

func (f *Fanout) deliver(ctx context.Context, kind model.TargetKind, recipientID string, ev model.PublishEvent) {
	u, err := f.store.Users().FindByID(ctx, recipientID)
	if err != nil {
		f.logger.Error("通知先ユーザーの取得に失敗しました",
			slog.String("recipient_id", recipientID),
			slog.String("error", err.Error()),
		)
		return
	}
	if u == nil || !u.IsActive || !ev.Forum.AccessibleBy(u) {
		return
	}

	n := f.buildNotification(kind, recipientID, ev)
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	err = f.sink.Deliver(ctx, n)
	f.metrics.RecordNotification(notify.NameOf(f.sink), err == nil)
	if err != nil {
		f.logger.Warn("通知の配信に失敗しました",
			slog.String("recipient_id", recipientID),
			slog.String("thread_id", ev.Thread.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (f *Fanout) buildNotification(kind model.TargetKind, recipientID string, ev model.PublishEvent) model.Notification {
	link := fmt.Sprintf("%s/api/posts/%s", f.baseURL, ev.Post.ID)
	title := fmt.Sprintf("「%s」に新しい返信があります", ev.Thread.Title)
	if kind == model.TargetForum {
		title = fmt.Sprintf("%sに新しいスレッド「%s」が作成されました", ev.Forum.Title, ev.Thread.Title)
	}

	title = truncate(title, titleLength)
	excerpt := truncate(ev.Post.ContentText, excerptLength)

	text := fmt.Sprintf("%s さんの投稿:\n\n%s\n\n%s", ev.Author.Username, excerpt, link)
	htmlBody := fmt.Sprintf(`<p>%s さんの投稿:</p><blockquote>%s</blockquote><p><a href="%s">スレッドを開く</a></p>`,
		html.EscapeString(ev.Author.Username), ev.Post.ContentHTML, html.EscapeString(link))

	return model.Notification{
		ID:          model.NewID(),
		RecipientID: recipientID,
		Title:       title,
		TextBody:    text,
		HTMLBody:    htmlBody,
		DismissCode: DismissCode(ev.Thread.ID),
		CreatedAt:   f.clock.Now(),
	}
}

// truncate はsを最大n文字（省略記号を含む）に切り詰める。
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
