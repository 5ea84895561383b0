package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/model"
)

// DefaultDedupWindow は重複排除の既定の時間幅。
const DefaultDedupWindow = 10 * time.Minute

// Deduper はキーを一定時間だけ予約する。
// 予約できた（ウィンドウ内で初めての）場合にtrueを返す。
// Release は配信に失敗した予約を取り消す。
type Deduper interface {
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// DedupSink は同じ (受信者, DismissCode) への通知をウィンドウ内で1回に抑える。
// 人気スレッドへの連続返信で同じ受信者に通知が殺到するのを防ぐ。
type DedupSink struct {
	next    Sink
	deduper Deduper
	window  time.Duration
	logger  *slog.Logger
}

// NewDedupSink はDedupSinkを生成する。
func NewDedupSink(next Sink, deduper Deduper, window time.Duration, logger *slog.Logger) *DedupSink {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupSink{next: next, deduper: deduper, window: window, logger: logger}
}

// Name は内側のシンク名を返す。
func (s *DedupSink) Name() string { return NameOf(s.next) }

// Deliver はウィンドウ内で初めての通知だけを内側のシンクに渡す。
// 予約の確認に失敗した場合は配信する。配信に失敗した場合は予約を取り消し、
// 次の通知が抑止されないようにする。
func (s *DedupSink) Deliver(ctx context.Context, n model.Notification) error {
	key := "notify:" + n.RecipientID + ":" + n.DismissCode
	first, err := s.deduper.Claim(ctx, key, s.window)
	claimed := err == nil
	if err != nil {
		s.logger.Warn("通知の重複確認に失敗しました",
			slog.String("recipient_id", n.RecipientID),
			slog.String("error", err.Error()),
		)
		first = true
	}
	if !first {
		return nil
	}

	deliverErr := s.next.Deliver(ctx, n)
	if deliverErr != nil && claimed {
		if err := s.deduper.Release(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("通知の重複排除キーの解放に失敗しました",
				slog.String("recipient_id", n.RecipientID),
				slog.String("error", err.Error()),
			)
		}
	}
	return deliverErr
}

// redisKeyer は *redis.Client のうちRedisDeduperが使う部分。
type redisKeyer interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisDeduper はRedisの SET NX EX で予約する。複数インスタンス間で共有される。
type RedisDeduper struct {
	client redisKeyer
}

// NewRedisDeduper はRedisDeduperを生成する。
func NewRedisDeduper(client redisKeyer) *RedisDeduper {
	return &RedisDeduper{client: client}
}

// Claim はキーを予約する。
func (d *RedisDeduper) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	return d.client.SetNX(ctx, key, "1", window).Result()
}

// Release はキーを削除する。
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, key).Err()
}

// MemoryDeduper はプロセス内のマップで予約する。単一インスタンス構成用。
type MemoryDeduper struct {
	mu      sync.Mutex
	clock   clock.Clock
	expires map[string]time.Time
}

// NewMemoryDeduper はMemoryDeduperを生成する。
func NewMemoryDeduper(clk clock.Clock) *MemoryDeduper {
	return &MemoryDeduper{clock: clk, expires: make(map[string]time.Time)}
}

// Claim はキーを予約する。期限切れのキーはこのとき掃除する。
func (d *MemoryDeduper) Claim(_ context.Context, key string, window time.Duration) (bool, error) {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, exp := range d.expires {
		if !now.Before(exp) {
			delete(d.expires, k)
		}
	}
	if _, ok := d.expires[key]; ok {
		return false, nil
	}
	d.expires[key] = now.Add(window)
	return true, nil
}

// Release はキーの予約を取り消す。
func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.expires, key)
	return nil
}
