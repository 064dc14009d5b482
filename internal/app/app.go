// Package app はアプリケーションの起動処理を提供する。
// 設定の読み込み、依存関係の組み立て、サブコマンドの実行を担う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/backend"
	"github.com/hitoshi/authgate/internal/comment"
	"github.com/hitoshi/authgate/internal/config"
	"github.com/hitoshi/authgate/internal/database"
	"github.com/hitoshi/authgate/internal/handler"
	"github.com/hitoshi/authgate/internal/logger"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/profile"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
)

const (
	shutdownTimeout  = 30 * time.Second
	redisPingTimeout = 3 * time.Second
	redisKeyPrefix   = "authgate:ratelimit"
)

// Init はアプリケーションの初期化を行う。
// 設定を読み込み、JSON形式のslogロガーをグローバルに設定する。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はサブコマンドを実行する。argsにはos.Args[1:]を渡す。
func Run(ctx context.Context, w io.Writer, args []string) error {
	if args == nil {
		// nilだとcobraがos.Argsを読むため
		args = []string{}
	}
	root := NewRootCmd(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runServe はAPIサーバーを起動し、SIGINT/SIGTERMで graceful shutdown する。
func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting application",
		slog.String("command", CommandServe),
		slog.String("port", cfg.ServerPort),
		slog.String("data_backend", cfg.DataBackend),
	)

	deps, cleanup, err := buildRouterDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("API server stopped gracefully")
	return nil
}

// buildRouterDeps は設定からルーターの依存関係を組み立てる。
// 返されるcleanupは確保したリソースを逆順に解放する。
func buildRouterDeps(ctx context.Context, cfg *config.Config) (*handler.RouterDeps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	client, err := backend.NewClient(backend.Config{
		BaseURL:  cfg.BackendURL,
		APIKey:   cfg.BackendPublicKey,
		Timeout:  cfg.BackendTimeout,
		Observer: collector,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	var (
		profileRepo repository.ProfileRepository
		commentRepo repository.CommentRepository
		health      handler.HealthChecker = client
	)
	switch cfg.DataBackend {
	case config.DataBackendPostgres:
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { db.Close() })
		slog.Info("connected to database", slog.String("url", maskDatabaseURL(cfg.DatabaseURL)))

		profileRepo = repository.NewPostgresProfileRepo(db)
		commentRepo = repository.NewPostgresCommentRepo(db)
		health = dbPinger{db: db}
	default:
		profileRepo = repository.NewRESTProfileRepo(client)
		commentRepo = repository.NewRESTCommentRepo(client)
	}

	authLimiter, generalLimiter, closeLimiters, err := newLimiters(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, closeLimiters)

	profileService := profile.NewService(profileRepo)

	return &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(authLimiter, generalLimiter, collector),
		StatusRecorder:    collector,
		AuthService:       auth.NewService(client, profileService, collector),
		AuthConfig: handler.AuthHandlerConfig{
			Cookies:   cfg.CookieConfig(),
			ErrorPath: cfg.AuthErrorPath,
		},
		ProfileService: profileService,
		CommentService: comment.NewService(commentRepo, security.NewCommentSanitizer()),
		HealthChecker:  health,
		MetricsHandler: metrics.Handler(reg),
	}, cleanup, nil
}

// newLimiters はREDIS_URLが設定されていればRedis、なければインメモリのリミッターを返す。
func newLimiters(ctx context.Context, cfg *config.Config) (authLimiter, generalLimiter middleware.Limiter, closeFn func(), err error) {
	if cfg.RedisURL == "" {
		interval := middleware.DefaultRateLimiterConfig().CleanupInterval
		a := middleware.NewMemoryLimiter(cfg.RateLimitAuth, interval)
		g := middleware.NewMemoryLimiter(cfg.RateLimitGeneral, interval)
		return a, g, func() {
			a.Stop()
			g.Stop()
		}, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// 制限判定はRedis障害時に許可側へ倒れるため、起動は継続する
		slog.Warn("redis is not reachable", slog.String("error", err.Error()))
	}

	return middleware.NewRedisLimiter(rdb, redisKeyPrefix, cfg.RateLimitAuth),
		middleware.NewRedisLimiter(rdb, redisKeyPrefix, cfg.RateLimitGeneral),
		func() { rdb.Close() },
		nil
}

// dbPinger は*sql.DBをhandler.HealthCheckerに適合させる。
type dbPinger struct {
	db *sql.DB
}

func (p dbPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate() error {
	cfg, err := config.LoadMigrate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("running database migrations", slog.String("url", maskDatabaseURL(cfg.DatabaseURL)))
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return err
	}
	slog.Info("database migrations completed")
	return nil
}

// runHealthcheck は稼働中のサーバーの/healthを確認する。
// コンテナのHEALTHCHECKから呼ばれる。
func runHealthcheck(ctx context.Context, port string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%s/health", port), nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
