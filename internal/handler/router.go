package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/metrics"
	"github.com/hitoshi/forumd/internal/middleware"
	"github.com/hitoshi/forumd/internal/model"
)

// ReadTrackerInterface はフォーラム・スレッドの既読管理に必要なインターフェース。
type ReadTrackerInterface interface {
	ForumReadMarker
	ThreadReadMarker
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilの場合は /metrics を公開しない
	HealthChecker     HealthChecker
	JWTSecret         []byte
	Users             middleware.UserFinder
	Strikes           middleware.StrikeFinder
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	TrustProxyHeaders bool
	Clock             clock.Clock

	// フォーラム
	ForumService ForumServiceInterface
	ForumAdmin   ForumAdminServiceInterface

	// スレッド・投稿
	ThreadService ThreadServiceInterface
	ThreadLister  ThreadListerInterface
	ReadTracker   ReadTrackerInterface

	// 購読
	SubscriptionService SubscriptionServiceInterface

	// 処分
	StrikeService StrikeServiceInterface

	// 配信
	FeedBuilder FeedBuilderInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → Auth → Strike → CSRF → RateLimit(General)
//
// /health と /metrics は認証チェーンの外に配置する。
// 書き込み系のルートは RequireUser を、スレッド作成と返信はさらに投稿用のレート制限を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}

	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	forumHandler := NewForumHandler(deps.ForumService, deps.ThreadLister, deps.ReadTracker, clk)
	threadHandler := NewThreadHandler(deps.ThreadService, deps.ReadTracker)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService)
	strikeHandler := NewStrikeHandler(deps.StrikeService)
	adminHandler := NewAdminHandler(deps.ForumAdmin)
	feedHandler := NewFeedHandler(deps.FeedBuilder)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---
	// 匿名でも閲覧できる。書き込みは RequireUser で保護する。
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.JWTSecret, deps.Users))
		r.Use(middleware.NewStrikeMiddleware(deps.Strikes))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		posting := deps.RateLimiter.PostingMiddleware()

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// フォーラム
		r.Route("/api/forums", func(r chi.Router) {
			r.Get("/", forumHandler.ListRoots)
			r.Get("/by-path/*", forumHandler.ViewByPath)

			r.Route("/{forumID}", func(r chi.Router) {
				r.Get("/threads", forumHandler.ListThreads)
				r.Get("/feed.atom", feedHandler.ForumFeed)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireUser)
					r.With(posting).Post("/threads", threadHandler.CreateThread)
					r.Post("/read", forumHandler.MarkRead)
					r.Put("/subscription", subHandler.Subscribe(model.TargetForum, "forumID"))
					r.Delete("/subscription", subHandler.Unsubscribe(model.TargetForum, "forumID"))
				})
			})
		})

		// スレッド
		r.Route("/api/threads/{threadID}", func(r chi.Router) {
			r.Get("/", threadHandler.GetThread)
			r.Get("/{slug}", threadHandler.GetThread)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser)
				r.Patch("/", threadHandler.UpdateThread)
				r.Delete("/", threadHandler.DeleteThread)
				r.With(posting).Post("/posts", threadHandler.Reply)
				r.Delete("/read", threadHandler.MarkUnread)
				r.Put("/subscription", subHandler.Subscribe(model.TargetThread, "threadID"))
				r.Delete("/subscription", subHandler.Unsubscribe(model.TargetThread, "threadID"))
			})
		})

		// 投稿
		r.Route("/api/posts/{postID}", func(r chi.Router) {
			r.Get("/", threadHandler.Permalink)
			r.With(middleware.RequireUser).Put("/", threadHandler.EditPost)
			r.With(middleware.RequireUser).Delete("/", threadHandler.DeletePost)
		})

		// ログイン中のユーザー
		r.Route("/api/me", func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Get("/forum-profile", subHandler.GetProfile)
			r.Put("/forum-profile", subHandler.UpdateProfile)
			r.Get("/subscriptions", subHandler.ListMine)
		})

		// 処分
		r.With(middleware.RequireUser).Post("/api/strikes", strikeHandler.AddStrike)

		// フォーラム管理
		r.Route("/api/admin/forums", func(r chi.Router) {
			r.Use(requireCapability(model.CapManageForums))
			r.Post("/", adminHandler.CreateForum)
			r.Route("/{forumID}", func(r chi.Router) {
				r.Patch("/", adminHandler.UpdateForum)
				r.Delete("/", adminHandler.DeleteForum)
				r.Post("/closed", adminHandler.SetClosed)
				r.Post("/private", adminHandler.SetPrivate)
			})
		})
	})

	return r
}
