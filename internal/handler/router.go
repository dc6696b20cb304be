package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/subwatch/internal/metrics"
	"github.com/hitoshi/subwatch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 運用エンドポイント
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	CronSecret        string

	// サービス
	SubredditService SubredditServiceInterface
	PostService      PostServiceInterface

	// 取り込み
	Pipeline   PipelineRunner
	RunTimeout time.Duration
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全ルート共通のミドルウェア:
//
//	RequestID → Logging → Recovery → SecurityHeaders
//
// /api/* には CORS → CSRF → Session → RateLimit(General) を追加で適用し、
// /cron/* はBearerトークンで認証する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	subredditHandler := NewSubredditHandler(deps.SubredditService, logger)
	postHandler := NewPostHandler(deps.PostService, logger)
	cronHandler := NewCronHandler(deps.Pipeline, deps.RunTimeout, logger)

	// --- 運用エンドポイント ---
	r.Get("/health", newHealthHandler(deps.HealthChecker, logger))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- スケジューラーからの取り込み起動 ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCronAuthMiddleware(deps.CronSecret, logger))
		r.Get("/cron/fetch-posts", cronHandler.FetchPosts)
		r.Post("/cron/fetch-posts", cronHandler.FetchPosts)
	})

	// --- テナントAPI ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig, logger))

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig, logger))

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, logger))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Route("/subreddits", func(r chi.Router) {
				r.Get("/", subredditHandler.List)
				r.With(deps.RateLimiter.SubscribeMiddleware()).Post("/", subredditHandler.Subscribe)
				r.Delete("/{name}", subredditHandler.Unsubscribe)
			})

			r.Put("/posts/{id}/status", postHandler.UpdateStatus)
			r.Delete("/tags/{id}", postHandler.DeleteTag)
		})
	})

	return r
}
