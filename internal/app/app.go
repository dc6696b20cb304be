package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/subwatch/internal/config"
	"github.com/hitoshi/subwatch/internal/content"
	"github.com/hitoshi/subwatch/internal/database"
	"github.com/hitoshi/subwatch/internal/fanout"
	"github.com/hitoshi/subwatch/internal/handler"
	"github.com/hitoshi/subwatch/internal/logger"
	"github.com/hitoshi/subwatch/internal/metrics"
	"github.com/hitoshi/subwatch/internal/middleware"
	"github.com/hitoshi/subwatch/internal/notify"
	"github.com/hitoshi/subwatch/internal/post"
	"github.com/hitoshi/subwatch/internal/reddit"
	"github.com/hitoshi/subwatch/internal/repository"
	"github.com/hitoshi/subwatch/internal/security"
	"github.com/hitoshi/subwatch/internal/subscription"
	"github.com/hitoshi/subwatch/internal/watermark"
	"github.com/hitoshi/subwatch/internal/worker/cleanup"
	"github.com/hitoshi/subwatch/internal/worker/ingest"
)

// fetchLockName は取り込みパイプラインの排他に使うアドバイザリロック名。
const fetchLockName = "subwatch:fetch-posts"

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込みの失敗もログに残せるよう、先に既定レベルで初期化する
	logger.SetupDefault(w, slog.LevelInfo)

	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandFetch:
		return runFetch(ctx, cfg, w)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// components はserve、worker、fetchで共有する依存関係。
type components struct {
	db       *sql.DB
	registry *prometheus.Registry

	sessionRepo  *repository.PostgresSessionRepo
	subRepo      *repository.PostgresSubscriptionRepo
	userPostRepo *repository.PostgresUserPostRepo
	tagRepo      *repository.PostgresTagRepo

	client       *reddit.Client
	materializer *fanout.Materializer
	pipeline     *ingest.Pipeline
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// buildComponents は取り込みパイプラインとその依存関係を組み立てる。
func buildComponents(cfg *config.Config, db *sql.DB, log *slog.Logger) (*components, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリ
	sessionRepo := repository.NewPostgresSessionRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	contentRepo := repository.NewPostgresContentRepo(db)
	userPostRepo := repository.NewPostgresUserPostRepo(db)
	tagRepo := repository.NewPostgresTagRepo(db)
	notifRepo := repository.NewPostgresNotificationRepo(db)
	watermarkRepo := repository.NewPostgresWatermarkRepo(database.Wrap(db))

	// 3. 検索クライアント（外部接続はSSRFガード経由）
	guard := security.NewSSRFGuard()
	endpoints := []string{cfg.SearchAPIBaseURL}
	if cfg.RedditRSSFallback {
		endpoints = append(endpoints, cfg.RedditBaseURL)
	}
	for _, endpoint := range endpoints {
		if err := guard.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("invalid search endpoint %q: %w", endpoint, err)
		}
	}
	client := reddit.NewClient(
		guard.NewSafeClient(cfg.SearchTimeout),
		reddit.Config{
			BaseURL:         cfg.SearchAPIBaseURL,
			RedditBaseURL:   cfg.RedditBaseURL,
			MaxRetries:      cfg.SearchMaxRetries,
			RetryInterval:   cfg.SearchRetryInterval,
			RatePerMinute:   cfg.SearchRatePerMinute,
			MaxResponseSize: cfg.SearchMaxResponseSize,
			ReplyLimit:      cfg.ReplyLimit,
			RSSFallback:     cfg.RedditRSSFallback,
		},
		collector,
		log,
	)

	// 4. ドメインサービス
	watermarks := watermark.NewService(
		watermarkRepo, contentRepo,
		cfg.DefaultRefreshIntervalMinutes, cfg.InitialBackfillWindow, log,
	)
	store := content.NewStore(contentRepo)
	materializer := fanout.NewMaterializer(subRepo, userPostRepo, tagRepo, contentRepo, log)

	// 5. 通知
	var sender notify.Sender
	if cfg.SMTPEnabled() {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		sender = notify.NewLogSender(log)
	}
	dispatcher := notify.NewDispatcher(
		notifRepo, userPostRepo,
		notify.NewDigestBuilder(security.NewDigestSanitizer(), cfg.BaseURL),
		sender, cfg.DigestMaxItems, log,
	)

	// 6. パイプライン
	pipeline := ingest.NewPipeline(ingest.PipelineDeps{
		Locker:     database.NewAdvisoryLocker(db, fetchLockName),
		SubRepo:    subRepo,
		Watermarks: watermarks,
		Client:     client,
		Store:      store,
		Fanout:     materializer,
		Dispatcher: dispatcher,
		Metrics:    collector,
		Logger:     log,
	})

	return &components{
		db:           db,
		registry:     registry,
		sessionRepo:  sessionRepo,
		subRepo:      subRepo,
		userPostRepo: userPostRepo,
		tagRepo:      tagRepo,
		client:       client,
		materializer: materializer,
		pipeline:     pipeline,
	}, nil
}

// newRouterDeps はAPIサーバーのルーター依存関係を組み立てる。
func newRouterDeps(cfg *config.Config, c *components, rl *middleware.RateLimiter, log *slog.Logger) *handler.RouterDeps {
	return &handler.RouterDeps{
		Logger:            log,
		HealthChecker:     c.db,
		Gatherer:          c.registry,
		SessionFinder:     c.sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: isHTTPS(cfg.BaseURL),
		},
		RateLimiter:      rl,
		CronSecret:       cfg.CronSecret,
		SubredditService: subscription.NewService(c.subRepo, c.client, c.materializer, log),
		PostService:      post.NewService(c.userPostRepo, c.tagRepo),
		Pipeline:         c.pipeline,
		RunTimeout:       cfg.RunTimeout,
	}
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db, log)
	if err != nil {
		return err
	}

	rl := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSubscribe), log,
	)
	defer rl.Stop()

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     handler.NewRouter(newRouterDeps(cfg, c, rl, log)),
		ReadTimeout: 15 * time.Second,
		// /cron/fetch-postsはRunTimeoutまで応答を待つ
		WriteTimeout: cfg.RunTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 取り込みスケジューラと日次のセッションクリーンアップを実行し、ctxのキャンセルで終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db, log)
	if err != nil {
		return err
	}

	cleanupJob := cleanup.NewCleanupJob(db, cfg.SessionRetentionDays, log)
	go cleanupJob.Start(ctx, 24*time.Hour)

	slog.Info("worker starting",
		slog.Duration("fetch_interval", cfg.FetchInterval),
		slog.Duration("run_timeout", cfg.RunTimeout),
	)

	scheduler := ingest.NewScheduler(c.pipeline, log, cfg.RunTimeout)
	scheduler.Start(ctx, cfg.FetchInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runFetch は取り込みパイプラインを1回だけ実行し、集計結果をJSONでwに書き出す。
// 外部のcronランナーから呼び出すことを想定している。
func runFetch(ctx context.Context, cfg *config.Config, w io.Writer) error {
	log := slog.Default()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db, log)
	if err != nil {
		return err
	}

	result := ingest.NewScheduler(c.pipeline, log, cfg.RunTimeout).RunOnce(ctx)
	if result == nil {
		return fmt.Errorf("fetch run failed")
	}

	if w == nil {
		w = os.Stdout
	}
	return json.NewEncoder(w).Encode(result)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
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
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

func isHTTPS(baseURL string) bool {
	return strings.HasPrefix(strings.ToLower(baseURL), "https://")
}
