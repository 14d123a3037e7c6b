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
	"golang.org/x/time/rate"

	"github.com/hitoshi/eyescreen/internal/accessrequest"
	"github.com/hitoshi/eyescreen/internal/auth"
	"github.com/hitoshi/eyescreen/internal/config"
	"github.com/hitoshi/eyescreen/internal/database"
	"github.com/hitoshi/eyescreen/internal/handler"
	"github.com/hitoshi/eyescreen/internal/inference"
	"github.com/hitoshi/eyescreen/internal/logger"
	"github.com/hitoshi/eyescreen/internal/metrics"
	"github.com/hitoshi/eyescreen/internal/middleware"
	"github.com/hitoshi/eyescreen/internal/prediction"
	"github.com/hitoshi/eyescreen/internal/repository"
	"github.com/hitoshi/eyescreen/internal/security"
	"github.com/hitoshi/eyescreen/internal/storage"
	"github.com/hitoshi/eyescreen/internal/user"
	"github.com/hitoshi/eyescreen/internal/worker/cleanup"
)

const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newSessionRepository はSESSION_STOREに応じたセッションストアを返す。
// 返却するclose関数はRedis接続の後始末に使う。
func newSessionRepository(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.SessionRepository, func() error, error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		return repository.NewPostgresSessionRepo(db), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis session store connected", slog.String("addr", opts.Addr))
	return repository.NewRedisSessionRepo(client), client.Close, nil
}

// newImageStore は画像保存先を構築する。S3_BUCKETが未設定の場合は保存しない。
func newImageStore(ctx context.Context, cfg *config.Config) (storage.ImageStore, error) {
	if !cfg.ImageStorageEnabled() {
		slog.Warn("image storage is not configured; predictions will not be recorded")
		return storage.DisabledStore{}, nil
	}

	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		ForcePathStyle:  cfg.S3ForcePathStyle,
		KeyPrefix:       cfg.S3KeyPrefix,
		PublicBaseURL:   cfg.S3PublicBaseURL,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image storage: %w", err)
	}
	return store, nil
}

// newOAuthProvider はGoogle OAuthプロバイダーを構築する。
// クライアント認証情報が未設定の場合はnilを返し、ログインは利用不可になる。
func newOAuthProvider(cfg *config.Config) auth.OAuthProvider {
	if !cfg.GoogleLoginEnabled() {
		slog.Warn("google oauth credentials are not configured; login is unavailable")
		return nil
	}
	return auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
	})
}

// newRateLimiterConfig は設定値（req/min）からレート制限設定を構築する。
func newRateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	rl.GeneralRate = perMinute(cfg.RateLimitGeneral)
	rl.GeneralBurst = cfg.RateLimitGeneral
	rl.AccessRequestRate = perMinute(cfg.RateLimitAccessRequest)
	rl.AccessRequestBurst = cfg.RateLimitAccessRequest
	return rl
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// newMetricsRegistry はアプリケーションメトリクスとランタイムメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildRouterDeps は全依存関係をワイヤリングしてRouterDepsを構築する。
func buildRouterDeps(
	cfg *config.Config,
	db *sql.DB,
	sessionRepo repository.SessionRepository,
	images storage.ImageStore,
	oauthProvider auth.OAuthProvider,
	reg *prometheus.Registry,
	collector *metrics.Collector,
) *handler.RouterDeps {
	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	requestRepo := repository.NewPostgresAccessRequestRepo(db)
	predictionRepo := repository.NewPostgresPredictionRepo(db)

	// ドメインサービス
	sanitizer := security.NewTextSanitizer()
	authService := auth.NewService(
		oauthProvider, userRepo, sessionRepo, collector, sanitizer,
		auth.ServiceConfig{SessionMaxAge: time.Duration(cfg.SessionMaxAge) * time.Second},
	)
	userService := user.NewService(userRepo, sanitizer)
	requestService := accessrequest.NewService(requestRepo, userRepo, collector)

	classifier := inference.NewClient(
		&http.Client{Timeout: cfg.InferenceTimeout},
		slog.Default(),
		cfg.InferenceURL,
	)
	predictionService := prediction.NewService(classifier, images, predictionRepo, collector)

	return &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(newRateLimiterConfig(cfg)),
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			UIBaseURL:     cfg.UIBaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		UserService:          userService,
		AccessRequestService: requestService,

		PredictionService: predictionService,
		MaxUploadSize:     cfg.MaxUploadSize,

		Logger:         slog.Default(),
		StatusRecorder: collector,
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. セッションストア・画像保存先・OAuth
	sessionRepo, closeSessions, err := newSessionRepository(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	images, err := newImageStore(ctx, cfg)
	if err != nil {
		return err
	}

	// 3. ルーターの構築
	reg, collector := newMetricsRegistry()
	deps := buildRouterDeps(cfg, db, sessionRepo, images, newOAuthProvider(cfg), reg, collector)
	defer deps.RateLimiter.Stop()

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.InferenceTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server)
}

// serveUntilDone はctxがキャンセルされるまでサーバーを動かし、グレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行し、/metricsを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SessionStore == config.SessionStoreRedis {
		slog.Info("session store is redis; expired sessions are evicted by TTL and the worker has nothing to do")
		return nil
	}

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg, collector := newMetricsRegistry()
	job := cleanup.NewSessionCleanupJob(db, slog.Default())

	// 2. メトリクス公開
	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := serveUntilDone(ctx, metricsServer); err != nil {
			slog.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	// 3. クリーンアップジョブを定期実行（ブロッキング）
	runPeriodically(ctx, cfg.SessionCleanupInterval, func(ctx context.Context) {
		deleted, err := job.Run(ctx)
		if err != nil {
			slog.Error("session cleanup job failed", slog.String("error", err.Error()))
			return
		}
		collector.RecordSessionsCleaned(deleted)
	})

	slog.Info("worker stopped gracefully")
	return nil
}

// runPeriodically は起動直後に1回、その後interval毎にfnを実行する。ctxのキャンセルで戻る。
func runPeriodically(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// downが0の場合はすべての未適用マイグレーションを適用し、正の値の場合はその数だけ戻す。
func runMigrate(w io.Writer, cfg *config.Config, down int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("down", down),
	)

	status, err := database.Migrate(cfg.DatabaseURL, down)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("dirty", status.Dirty),
	)
	fmt.Fprintf(w, "schema version %d (dirty=%t)\n", status.Version, status.Dirty)
	return nil
}

// runCreateAdmin は指定emailのユーザーを管理者として登録する。
// 最初の管理者を用意するためのサブコマンド。
func runCreateAdmin(w io.Writer, cfg *config.Config, email string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := user.NewService(repository.NewPostgresUserRepo(db), security.NewTextSanitizer())
	admin, created, err := svc.EnsureAdmin(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	if created {
		fmt.Fprintf(w, "created admin %s (%s)\n", admin.Email, admin.ID)
	} else {
		fmt.Fprintf(w, "%s is now an admin (%s)\n", admin.Email, admin.ID)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(baseURL + "/health")
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
