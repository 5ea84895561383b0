package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/forumd/internal/antiflood"
	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/config"
	"github.com/hitoshi/forumd/internal/crosspost"
	"github.com/hitoshi/forumd/internal/database"
	"github.com/hitoshi/forumd/internal/forum"
	"github.com/hitoshi/forumd/internal/handler"
	"github.com/hitoshi/forumd/internal/logger"
	"github.com/hitoshi/forumd/internal/metrics"
	"github.com/hitoshi/forumd/internal/middleware"
	"github.com/hitoshi/forumd/internal/moderation"
	"github.com/hitoshi/forumd/internal/notify"
	"github.com/hitoshi/forumd/internal/readtrack"
	"github.com/hitoshi/forumd/internal/render"
	"github.com/hitoshi/forumd/internal/repository"
	"github.com/hitoshi/forumd/internal/repository/memory"
	"github.com/hitoshi/forumd/internal/security"
	"github.com/hitoshi/forumd/internal/subscription"
	"github.com/hitoshi/forumd/internal/syndication"
	"github.com/hitoshi/forumd/internal/thread"
	"github.com/hitoshi/forumd/internal/worker/cleanup"
)

// crosspostTimeout はマイクロブログへの告知1件のHTTPタイムアウト。
const crosspostTimeout = 15 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		_, err := io.WriteString(w, Usage())
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	// 設定が読めた後でログファイルへの出力を追加する
	logFile := logger.SetupWithFile(w, logger.FileConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogRetentionDays,
	})
	defer logFile.Close()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("memory_store", cfg.UsesMemoryStore()),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// server はserveモードで組み立てた依存関係。
type server struct {
	handler   http.Handler
	limiter   *middleware.RateLimiter
	fanout    *subscription.Fanout
	announcer *crosspost.Announcer
	redis     *redis.Client
}

// close はバックグラウンド処理の完了を待ち、外部接続を閉じる。
func (s *server) close() {
	s.limiter.Stop()
	s.fanout.Wait()
	if s.announcer != nil {
		s.announcer.Wait()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
}

// openStore はDATABASE_URLに応じてストアを開く。
// PostgreSQLの場合は *sql.DB も返す（インメモリストアの場合はnil）。
func openStore(cfg *config.Config) (repository.Database, *sql.DB, error) {
	if cfg.UsesMemoryStore() {
		slog.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return repository.NewPostgresDatabase(db), db, nil
}

// newServer はストアから全依存関係をワイヤリングし、ルーターを構築する。
func newServer(cfg *config.Config, store repository.Database, sqlDB *sql.DB, clk clock.Clock) (*server, error) {
	log := slog.Default()

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. 外部送信（通知Webhook・クロスポスト）
	for _, endpoint := range []string{cfg.NotifyWebhookURL, cfg.MicroblogEndpoint} {
		if endpoint == "" {
			continue
		}
		if err := security.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("invalid outbound endpoint %q: %w", endpoint, err)
		}
	}
	guard := security.NewOutboundGuard(cfg.NotifyWebhookURL, cfg.MicroblogEndpoint)

	// 3. 通知シンク
	sinks := notify.MultiSink{notify.NewPostgresSink(store.Notifications())}
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.NotifyWebhookURL, guard.Client(notify.DefaultWebhookTimeout)))
	}

	var redisClient *redis.Client
	var deduper notify.Deduper = notify.NewMemoryDeduper(clk)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opt)
		deduper = notify.NewRedisDeduper(redisClient)
	}
	sink := notify.NewDedupSink(sinks, deduper, cfg.NotifyDedupWindow, log)

	// 4. ドメインサービス
	renderer := render.NewHTMLRenderer()
	forums := forum.NewService(store, renderer, clk)

	threads := thread.NewService(store, renderer, clk, antiflood.NewGate(cfg.MinPostInterval()), thread.Config{
		ThreadsPerPage:     cfg.ThreadsPerPage,
		PostsPerPage:       cfg.PostsPerPage,
		OldPostAge:         cfg.OldPostAge(),
		ConflictMaxRetries: cfg.ConflictMaxRetries,
	})
	threads.SetMetrics(collector)

	fanout := subscription.NewFanout(store, sink, clk, subscription.FanoutConfig{
		BaseURL:       cfg.BaseURL,
		MaxConcurrent: cfg.NotifyMaxConcurrent,
	}, log, collector)
	threads.SetNotifier(fanout)

	var announcer *crosspost.Announcer
	if cfg.MicroblogEndpoint != "" {
		announcer = crosspost.NewAnnouncer(guard.Client(crosspostTimeout), log, crosspost.Config{
			Endpoint: cfg.MicroblogEndpoint,
			Token:    cfg.MicroblogToken,
			Forums:   cfg.MicroblogForums,
			BaseURL:  cfg.BaseURL,
		})
		threads.SetCrossPoster(announcer)
	}

	strikes := moderation.NewService(store.Strikes(), clk)
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitPosting))

	// 5. ルーター
	deps := &handler.RouterDeps{
		Logger:            log,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		JWTSecret:         []byte(cfg.JWTSecret),
		Users:             store.Users(),
		Strikes:           strikes,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:       limiter,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Clock:             clk,

		ForumService:        forums,
		ForumAdmin:          forums,
		ThreadService:       threads,
		ThreadLister:        threads,
		ReadTracker:         readtrack.NewTracker(store, clk),
		SubscriptionService: subscription.NewService(store, clk),
		StrikeService:       strikes,
		FeedBuilder:         syndication.NewFeedBuilder(store, cfg.BaseURL, syndication.DefaultLimit),
	}
	if sqlDB != nil {
		deps.HealthChecker = sqlDB
	}

	return &server{
		handler:   handler.NewRouter(deps),
		limiter:   limiter,
		fanout:    fanout,
		announcer: announcer,
		redis:     redisClient,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	store, sqlDB, err := openStore(cfg)
	if err != nil {
		return err
	}
	if sqlDB != nil {
		defer sqlDB.Close()
	}

	srv, err := newServer(cfg, store, sqlDB, clock.NewSystem())
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-listenErr:
		srv.close()
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// コミット済み投稿の通知と告知を送り切ってから終了する
	srv.close()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、メンテナンススケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.UsesMemoryStore() {
		return errors.New("worker requires a PostgreSQL DATABASE_URL")
	}

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. メンテナンスジョブの初期化
	job := cleanup.NewCleanupJob(db, slog.Default(), clock.NewSystem(), nil)
	job.ThreadGrace = cfg.ThreadGrace()
	job.PostGrace = cfg.PostGrace()

	scheduler, err := cleanup.NewScheduler(job, cfg.MaintenanceCron, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.String("maintenance_cron", cfg.MaintenanceCron),
		slog.Int("thread_grace_days", cfg.ThreadGraceDays),
		slog.Int("post_grace_days", cfg.PostGraceDays),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.UsesMemoryStore() {
		slog.Info("in-memory store selected; no migrations to run")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
