package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// HealthChecker はデータ層への疎通を確認する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// プロフィール
	ProfileService ProfileServiceInterface

	// コメント
	CommentService CommentServiceInterface

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → Metrics → SecurityHeaders → CORS → OriginCheck
//
// 認証が必要なルートではさらに Auth → RateLimit(General) を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	// サインアウトはどこから送られても302で応答する
	r.Use(middleware.NewOriginCheckMiddleware([]string{deps.CORSAllowedOrigin}, "/auth/signout"))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("Resource"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed,
			model.NewValidationError("method_not_allowed", "Method not allowed"))
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.ProfileService, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileService)
	commentHandler := NewCommentHandler(deps.CommentService)
	authMiddleware := middleware.NewAuthMiddleware(deps.AuthService)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート ---
	r.Route("/auth", func(r chi.Router) {
		r.Get("/callback", authHandler.Callback)
		r.Post("/signout", authHandler.SignOut)

		// サインイン・サインアップはIP単位のレート制限
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/signin", authHandler.SignIn)
			r.Post("/signup", authHandler.SignUp)
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Get("/session", authHandler.Session)
			r.Get("/authorize", authHandler.Authorize)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// コメント
		r.Route("/comments/{id}", func(r chi.Router) {
			r.Put("/", commentHandler.EditComment)
			r.Delete("/", commentHandler.DeleteComment)
			r.Post("/vote", commentHandler.Vote)
		})

		// プロフィール
		r.Post("/profile", profileHandler.UpdateProfile)
		r.Route("/user/{id}", func(r chi.Router) {
			r.Get("/", profileHandler.GetUser)
			r.Put("/", profileHandler.UpdateUser)
		})
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler はデータ層に疎通できれば200、できなければ503を返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.Ping(r.Context()); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
