package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/hitoshi/forumd/internal/model"
)

const (
	// strikeSeenCookieName は表示済みの警告IDを保持するCookieの名前。
	strikeSeenCookieName = "strike_seen"

	// moderationNoticeHeader は警告の公開理由を返すレスポンスヘッダー。
	moderationNoticeHeader = "X-Moderation-Notice"
)

// StrikeFinder は有効な警告・アクセス禁止を検索する。
// moderation.Service が実装する。
type StrikeFinder interface {
	FindActiveStrike(ctx context.Context, userID, ip *string) (*model.Strike, error)
}

// NewStrikeMiddleware はユーザーまたは接続元IPに対する有効な警告を確認するミドルウェアを返す。
// アクセス禁止の場合は403（ACCESS_BLOCKED）を返す。
// 警告のみの場合は公開理由をセッションごとに1回だけ X-Moderation-Notice ヘッダーで返す。
// 認証ミドルウェアの後に配置すること。
func NewStrikeMiddleware(finder StrikeFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID *string
			if u := UserFromContext(r.Context()); !u.IsAnonymous() {
				userID = &u.ID
			}
			ip := ClientIP(r)

			strike, err := finder.FindActiveStrike(r.Context(), userID, &ip)
			if err != nil {
				// 確認できない場合は通常どおり処理する
				slog.Error("警告の確認に失敗しました",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if strike == nil {
				next.ServeHTTP(w, r)
				return
			}

			if strike.BlockAccess {
				slog.Warn("アクセス禁止中のリクエストを拒否しました",
					slog.String("strike_id", strike.ID),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewAccessBlockedError(strike.PublicReason))
				return
			}

			if c, err := r.Cookie(strikeSeenCookieName); err != nil || c.Value != strike.ID {
				if strike.PublicReason != "" {
					w.Header().Set(moderationNoticeHeader, strike.PublicReason)
				}
				http.SetCookie(w, &http.Cookie{
					Name:     strikeSeenCookieName,
					Value:    strike.ID,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP はリクエストの接続元IPを返す。
// プロキシ配下では chi の RealIP ミドルウェアで RemoteAddr を書き換えておくこと。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
