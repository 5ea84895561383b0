// Package crosspost は新規スレッドをマイクロブログへ告知する機能を提供する。
package crosspost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

const (
	// maxStatusLength はマイクロブログ投稿の最大文字数。
	maxStatusLength = 500
	// announceTimeout は1件の告知に許す時間。
	announceTimeout = 15 * time.Second
)

// Config はクロスポストの設定。
type Config struct {
	Endpoint string   // 投稿APIのURL
	Token    string   // Bearerトークン
	Forums   []string // 告知対象フォーラムのスラッグパス（配下のフォーラムを含む）
	BaseURL  string   // スレッドURLの組み立てに使うサービスの公開URL
}

// Announcer はマイクロブログの投稿APIクライアント。
// 告知はコミット後に非同期で行い、失敗はログに記録するだけで呼び出し元には返さない。
type Announcer struct {
	httpClient *http.Client
	logger     *slog.Logger
	cfg        Config
	wg         sync.WaitGroup
}

// NewAnnouncer はAnnouncerの新しいインスタンスを生成する。
// httpClient には security.OutboundGuard が生成したクライアントを渡す。
func NewAnnouncer(httpClient *http.Client, logger *slog.Logger, cfg Config) *Announcer {
	forums := make([]string, 0, len(cfg.Forums))
	for _, p := range cfg.Forums {
		if p = strings.Trim(strings.TrimSpace(p), "/"); p != "" {
			forums = append(forums, p)
		}
	}
	cfg.Forums = forums
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Announcer{
		httpClient: httpClient,
		logger:     logger,
		cfg:        cfg,
	}
}

// Targets は告知対象のフォーラムかどうかを返す。非公開フォーラムは対象外。
func (a *Announcer) Targets(f model.Forum) bool {
	if f.Private || a.cfg.Endpoint == "" {
		return false
	}
	for _, p := range a.cfg.Forums {
		if f.SlugPath == p || strings.HasPrefix(f.SlugPath, p+"/") {
			return true
		}
	}
	return false
}

// Announce は対象フォーラムの新規スレッドをバックグラウンドで告知する。
// リクエストのキャンセルは告知を中断しない。
func (a *Announcer) Announce(ctx context.Context, ev model.PublishEvent) {
	if !a.Targets(ev.Forum) {
		return
	}
	status := a.statusFor(ev)
	ctx = context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, announceTimeout)
		defer cancel()
		if err := a.Post(ctx, status, ev.Thread.ID); err != nil {
			a.logger.Warn("スレッドの告知に失敗しました",
				slog.String("thread_id", ev.Thread.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		a.logger.Info("スレッドを告知しました",
			slog.String("thread_id", ev.Thread.ID),
			slog.String("forum", ev.Forum.SlugPath),
		)
	}()
}

// Wait は実行中の告知がすべて終わるまで待つ。
func (a *Announcer) Wait() {
	a.wg.Wait()
}

type statusRequest struct {
	Status     string `json:"status"`
	Visibility string `json:"visibility"`
}

// Post はステータスを1件投稿する。idempotencyKey が同じ投稿は
// API側で重複として扱われる。
func (a *Announcer) Post(ctx context.Context, status, idempotencyKey string) error {
	body, err := json.Marshal(statusRequest{Status: status, Visibility: "public"})
	if err != nil {
		return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "forumd/1.0")
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("マイクロブログAPIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()
	// 接続を再利用するために本文を読み捨てる
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("マイクロブログAPIがステータス %d を返しました", resp.StatusCode)
	}
	return nil
}

// statusFor は告知文を組み立てる。タイトルは本文が上限に収まるよう切り詰める。
func (a *Announcer) statusFor(ev model.PublishEvent) string {
	link := fmt.Sprintf("%s/api/threads/%s/%s", a.cfg.BaseURL, ev.Thread.ID, ev.Thread.Slug)
	prefix := fmt.Sprintf("[%s] ", ev.Forum.Title)
	budget := maxStatusLength - len([]rune(prefix)) - len([]rune(link)) - 1
	title := []rune(ev.Thread.Title)
	if budget < 1 {
		return link
	}
	if len(title) > budget {
		title = append(title[:budget-1], '…')
	}
	return prefix + string(title) + " " + link
}
