// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/forumd/internal/model"
)

// sessionCookieName はブラウザ向けにトークンを保持するCookieの名前。
const sessionCookieName = "forum_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey       = contextKey("user")
	cookieAuthContextKey = contextKey("cookie_auth")
)

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewAuthMiddleware はBearerトークンまたはセッションCookieのJWT（HS256）を検証し、
// 認証済みユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// トークンのないリクエストは匿名として通す。不正なトークンには401を返す。
func NewAuthMiddleware(secret []byte, users UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, fromCookie := tokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := ParseToken(secret, token)
			if err != nil {
				slog.Warn("トークンの検証に失敗しました",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := users.FindByID(r.Context(), userID)
			if err != nil {
				slog.Error("ユーザーの取得に失敗しました",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil || !user.IsActive {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
				return
			}

			noteUser(r.Context(), user.ID)
			ctx := ContextWithUser(r.Context(), user)
			if fromCookie {
				ctx = context.WithValue(ctx, cookieAuthContextKey, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser は匿名リクエストに401を返すミドルウェア。
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokenFromRequest はAuthorizationヘッダー、無ければセッションCookieからトークンを取り出す。
func tokenFromRequest(r *http.Request) (token string, fromCookie bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, value, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value), false
		}
		return "", false
	}
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// ParseToken はHS256で署名されたJWTを検証し、subクレームのユーザーIDを返す。
func ParseToken(secret []byte, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("トークンが不正です: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("トークンにsubクレームがありません")
	}
	return claims.Subject, nil
}

// SignToken はユーザーIDをsubに持つHS256のJWTを発行する。
func SignToken(secret []byte, userID string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗しました: %w", err)
	}
	return signed, nil
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。匿名の場合はnil。
func UserFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(userContextKey).(*model.User)
	return u
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	u := UserFromContext(ctx)
	if u.IsAnonymous() {
		return "", fmt.Errorf("user ID not found in context")
	}
	return u.ID, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// authenticatedByCookie はCookieのトークンで認証されたリクエストかどうかを返す。
func authenticatedByCookie(ctx context.Context) bool {
	v, _ := ctx.Value(cookieAuthContextKey).(bool)
	return v
}
