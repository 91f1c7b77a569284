package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/mobilbff/internal/metrics"
	"github.com/hitoshi/mobilbff/internal/middleware"
	"github.com/hitoshi/mobilbff/internal/model"
)

var notFoundError = &model.APIError{
	Code:     "NOT_FOUND",
	Message:  "resource not found",
	Category: "validation",
	Action:   "Check the request path.",
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// 認証
	AuthService AuthServiceInterface

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS → RateLimit(General)
//
// /auth/loginと/auth/registerにはさらにログイン専用のレート制限を掛ける。
// /profileはSessionMiddlewareの内側に配置する。
// /healthと/metricsはレート制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, notFoundError)
	})

	app := NewAppHandler(deps.HealthChecker)
	r.Get("/health", app.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService)
	sessionMW := middleware.NewSessionMiddleware(deps.AuthService)

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Get("/menu", app.Menu)

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if deps.RateLimiter != nil {
					r.Use(deps.RateLimiter.AuthMiddleware())
				}
				r.Post("/login", authHandler.Login)
				r.Post("/register", authHandler.Register)
			})

			r.Get("/me", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
		})

		r.With(sessionMW).Get("/profile", app.Profile)
	})

	return r
}
