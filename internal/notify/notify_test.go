package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/repository/memory"
)

// --- モック ---

type mockSink struct {
	deliverFn func(ctx context.Context, n model.Notification) error
	delivered []model.Notification
}

func (m *mockSink) Deliver(ctx context.Context, n model.Notification) error {
	m.delivered = append(m.delivered, n)
	if m.deliverFn != nil {
		return m.deliverFn(ctx, n)
	}
	return nil
}

type mockDeduper struct {
	claimFn  func(ctx context.Context, key string, window time.Duration) (bool, error)
	released []string
}

func (m *mockDeduper) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	return m.claimFn(ctx, key, window)
}

func (m *mockDeduper) Release(ctx context.Context, key string) error {
	m.released = append(m.released, key)
	return nil
}

type fakeRedis struct {
	keys    []string
	windows []time.Duration
	deleted []string
	result  *redis.BoolCmd
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.keys = append(f.keys, key)
	f.windows = append(f.windows, expiration)
	return f.result
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.deleted = append(f.deleted, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleNotification() model.Notification {
	return model.Notification{
		ID:          "n1",
		RecipientID: "u1",
		Title:       "新しい返信",
		TextBody:    "本文",
		HTMLBody:    "<p>本文</p>",
		DismissCode: "thread:t1",
		CreatedAt:   time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

// 未処理の同じDismissCodeの通知が1件しか保存されないことを検証
func TestPostgresSink_Idempotent(t *testing.T) {
	db := memory.New()
	sink := NewPostgresSink(db.Notifications())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		n := sampleNotification()
		n.ID = model.NewID()
		if err := sink.Deliver(ctx, n); err != nil {
			t.Fatalf("Deliver() error = %v", err)
		}
	}
	pending, err := db.Notifications().ListPending(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}

// WebhookがJSONでPOSTされることを検証
func TestWebhookSink_Deliver(t *testing.T) {
	var got webhookPayload
	var contentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL, ts.Client())
	if err := sink.Deliver(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if got.RecipientID != "u1" || got.DismissCode != "thread:t1" || got.HTML != "<p>本文</p>" {
		t.Errorf("payload = %+v", got)
	}
}

// 2xx以外の応答がエラーになることを検証
func TestWebhookSink_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	err := NewWebhookSink(ts.URL, ts.Client()).Deliver(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("error = %v, want status 502", err)
	}
}

// 一部のシンクが失敗しても残りに配信され、エラーがまとめて返ることを検証
func TestMultiSink_ContinuesOnError(t *testing.T) {
	failing := &mockSink{deliverFn: func(context.Context, model.Notification) error { return errors.New("down") }}
	ok := &mockSink{}

	err := MultiSink{failing, ok}.Deliver(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("error = %v, want joined error", err)
	}
	if len(ok.delivered) != 1 {
		t.Errorf("second sink delivered = %d, want 1", len(ok.delivered))
	}
}

// ウィンドウ内の2回目の通知が抑止され、ウィンドウ経過後は再び配信されることを検証
func TestDedupSink_MemoryWindow(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	inner := &mockSink{}
	sink := NewDedupSink(inner, NewMemoryDeduper(clk), 10*time.Minute, testLogger())
	ctx := context.Background()

	_ = sink.Deliver(ctx, sampleNotification())
	_ = sink.Deliver(ctx, sampleNotification())
	if len(inner.delivered) != 1 {
		t.Fatalf("delivered = %d, want 1", len(inner.delivered))
	}

	other := sampleNotification()
	other.RecipientID = "u2"
	_ = sink.Deliver(ctx, other)
	if len(inner.delivered) != 2 {
		t.Fatalf("other recipient delivered = %d, want 2", len(inner.delivered))
	}

	clk.Advance(10 * time.Minute)
	_ = sink.Deliver(ctx, sampleNotification())
	if len(inner.delivered) != 3 {
		t.Errorf("after window delivered = %d, want 3", len(inner.delivered))
	}
}

// 重複確認に失敗した場合は配信されることを検証
func TestDedupSink_FailOpen(t *testing.T) {
	inner := &mockSink{}
	deduper := &mockDeduper{claimFn: func(context.Context, string, time.Duration) (bool, error) {
		return false, errors.New("redis down")
	}}
	sink := NewDedupSink(inner, deduper, time.Minute, testLogger())

	if err := sink.Deliver(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(inner.delivered) != 1 {
		t.Errorf("delivered = %d, want 1", len(inner.delivered))
	}
}

// RedisDeduperがSET NXにキーと有効期限を渡すことを検証
func TestRedisDeduper_Claim(t *testing.T) {
	fake := &fakeRedis{result: redis.NewBoolResult(false, nil)}
	inner := &mockSink{}
	sink := NewDedupSink(inner, NewRedisDeduper(fake), 5*time.Minute, testLogger())

	if err := sink.Deliver(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(inner.delivered) != 0 {
		t.Errorf("delivered = %d, want 0 when key exists", len(inner.delivered))
	}
	if len(fake.keys) != 1 || fake.keys[0] != "notify:u1:thread:t1" || fake.windows[0] != 5*time.Minute {
		t.Errorf("SetNX called with keys=%v windows=%v", fake.keys, fake.windows)
	}
}

// 配信に失敗した通知は予約が取り消され、次の配信が抑止されないことを検証
func TestDedupSink_FailedDeliveryReleasesKey(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	failing := true
	inner := &mockSink{deliverFn: func(context.Context, model.Notification) error {
		if failing {
			return errors.New("webhook down")
		}
		return nil
	}}
	sink := NewDedupSink(inner, NewMemoryDeduper(clk), 10*time.Minute, testLogger())
	ctx := context.Background()

	if err := sink.Deliver(ctx, sampleNotification()); err == nil {
		t.Fatal("Deliver() error = nil, want inner error")
	}

	failing = false
	clk.Advance(time.Minute)
	if err := sink.Deliver(ctx, sampleNotification()); err != nil {
		t.Fatalf("retry Deliver() error = %v", err)
	}
	if len(inner.delivered) != 2 {
		t.Fatalf("inner calls = %d, want 2", len(inner.delivered))
	}

	// 成功した配信はウィンドウ内の次の通知を抑止する
	if err := sink.Deliver(ctx, sampleNotification()); err != nil {
		t.Fatal(err)
	}
	if len(inner.delivered) != 2 {
		t.Errorf("inner calls = %d, want 2 after a successful delivery", len(inner.delivered))
	}
}

// 重複確認に失敗して配信した場合は取り消すべき予約がないことを検証
func TestDedupSink_FailOpenDoesNotRelease(t *testing.T) {
	inner := &mockSink{deliverFn: func(context.Context, model.Notification) error {
		return errors.New("db down")
	}}
	deduper := &mockDeduper{claimFn: func(context.Context, string, time.Duration) (bool, error) {
		return false, errors.New("redis down")
	}}
	sink := NewDedupSink(inner, deduper, time.Minute, testLogger())

	if err := sink.Deliver(context.Background(), sampleNotification()); err == nil {
		t.Fatal("Deliver() error = nil, want inner error")
	}
	if len(deduper.released) != 0 {
		t.Errorf("released = %v, want none", deduper.released)
	}
}

// RedisDeduperが配信失敗時にキーをDELすることを検証
func TestRedisDeduper_ReleaseOnFailure(t *testing.T) {
	fake := &fakeRedis{result: redis.NewBoolResult(true, nil)}
	inner := &mockSink{deliverFn: func(context.Context, model.Notification) error {
		return errors.New("webhook down")
	}}
	sink := NewDedupSink(inner, NewRedisDeduper(fake), 5*time.Minute, testLogger())

	if err := sink.Deliver(context.Background(), sampleNotification()); err == nil {
		t.Fatal("Deliver() error = nil, want inner error")
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "notify:u1:thread:t1" {
		t.Errorf("Del called with %v", fake.deleted)
	}
}

func TestNameOf(t *testing.T) {
	if got := NameOf(NewWebhookSink("", nil)); got != "webhook" {
		t.Errorf("NameOf(webhook) = %q", got)
	}
	if got := NameOf(NewDedupSink(NewPostgresSink(nil), nil, 0, nil)); got != "postgres" {
		t.Errorf("NameOf(dedup(postgres)) = %q", got)
	}
	if got := NameOf(&mockSink{}); got != "*notify.mockSink" {
		t.Errorf("NameOf(mock) = %q", got)
	}
}
