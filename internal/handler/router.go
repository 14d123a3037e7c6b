package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/eyescreen/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー名簿・利用申請
	UserService          UserServiceInterface
	AccessRequestService AccessRequestServiceInterface

	// 判定
	PredictionService PredictionServiceInterface
	MaxUploadSize     int64

	// 運用
	Logger         *slog.Logger
	StatusRecorder middleware.StatusRecorder
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → RealIP → Logging → StatusMetrics → CORS → SecurityHeaders → (認証ルート) SessionMiddleware → RateLimit → CSRF → [RequireAdmin]
//
// /auth/*、/health、/metrics、利用申請はセッションなしで到達できる。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RealIP)
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewStatusMetricsMiddleware(deps.StatusRecorder))
	}
	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	requestHandler := NewAccessRequestHandler(deps.AccessRequestService)
	predictionHandler := NewPredictionHandler(deps.PredictionService, deps.MaxUploadSize)

	// --- 認証不要のルート ---

	r.Get("/health", HealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/google", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		// ログアウトはセッション・CSRFトークンの有無にかかわらず常に200を返す
		r.Delete("/logout", authHandler.Logout)
	})

	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// 利用申請（IP単位のレート制限のみ）
	r.With(deps.RateLimiter.AccessRequestMiddleware()).Post("/api/user/request", requestHandler.Submit)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/", userHandler.Me)
		r.Post("/api/predict", predictionHandler.Predict)
		r.Get("/api/predictions", predictionHandler.ListPredictions)
		r.Put("/api/user/profile", userHandler.UpdateProfile)

		// 管理者専用
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Get("/api/users", userHandler.ListUsers)
			r.Post("/api/user", userHandler.CreateUser)
			r.Put("/api/user/{id}", userHandler.UpdateUser)
			r.Delete("/api/user/{id}", userHandler.DeleteUser)

			r.Get("/api/user/requests", requestHandler.List)
			r.Get("/api/user/approve/{id}", requestHandler.Approve)
			r.Get("/api/user/reject/{id}", requestHandler.Reject)
		})
	})

	return r
}
