package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

// DefaultWebhookTimeout はWebhook送信のタイムアウト既定値。
const DefaultWebhookTimeout = 10 * time.Second

// webhookPayload はWebhookに送るJSON。
type webhookPayload struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	HTML        string    `json:"html"`
	DismissCode string    `json:"dismiss_code"`
	CreatedAt   time.Time `json:"created_at"`
}

// WebhookSink は通知をJSONで外部エンドポイントにPOSTする。
// メール配信などは受信側のサービスが行う。
type WebhookSink struct {
	endpoint string
	client   *http.Client
}

// NewWebhookSink はWebhookSinkを生成する。
// clientにはsecurity.OutboundGuardが生成するSSRF防止付きクライアントを渡す。
func NewWebhookSink(endpoint string, client *http.Client) *WebhookSink {
	return &WebhookSink{endpoint: endpoint, client: client}
}

// Name はシンク名を返す。
func (s *WebhookSink) Name() string { return "webhook" }

// Deliver は通知をPOSTする。2xx以外の応答はエラーとする。
func (s *WebhookSink) Deliver(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(webhookPayload{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Title:       n.Title,
		Text:        n.TextBody,
		HTML:        n.HTMLBody,
		DismissCode: n.DismissCode,
		CreatedAt:   n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("通知のシリアライズに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("Webhookリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "forumd-notify/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("Webhookの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhookがエラーを返しました: status=%d", resp.StatusCode)
	}
	return nil
}
