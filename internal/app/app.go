package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/mobilbff/internal/auth"
	"github.com/hitoshi/mobilbff/internal/config"
	"github.com/hitoshi/mobilbff/internal/database"
	"github.com/hitoshi/mobilbff/internal/handler"
	"github.com/hitoshi/mobilbff/internal/logger"
	"github.com/hitoshi/mobilbff/internal/metrics"
	"github.com/hitoshi/mobilbff/internal/middleware"
	"github.com/hitoshi/mobilbff/internal/repository"
	"github.com/hitoshi/mobilbff/internal/security"
	"github.com/hitoshi/mobilbff/internal/woocommerce"
	"github.com/hitoshi/mobilbff/internal/wordpress"
	"github.com/hitoshi/mobilbff/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
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
		slog.String("wp_base_url", cfg.WPBaseURL),
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

// openDatabase はプール設定付きでDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*repository.PostgresStore, func(), error) {
	db, err := database.OpenWithPool(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return repository.NewPostgresStore(db), func() { db.Close() }, nil
}

// newRegistry はGo/プロセスメトリクスを登録済みのレジストリとアプリのCollectorを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, metrics.NewCollector(registry)
}

// validateProviderURLs は起動時にプロバイダURLを静的検証する。
func validateProviderURLs(cfg *config.Config) error {
	urls := map[string]string{
		"WP_BASE_URL":      cfg.WPBaseURL,
		"WP_JWT_TOKEN_URL": cfg.WPJWTTokenURL,
		"WOO_BASE_URL":     cfg.WooBaseURL,
	}
	for name, u := range urls {
		if err := security.ValidateProviderURL(u, cfg.ProviderAllowPrivate); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// newAuthService は外部プロバイダクライアントを構築し、認証サービスを返す。
func newAuthService(cfg *config.Config, store auth.Store, collector metrics.MetricsCollector) *auth.Service {
	httpClient := security.NewOutboundClient(security.OutboundConfig{
		Timeout:      cfg.ProviderTimeout,
		AllowPrivate: cfg.ProviderAllowPrivate,
	})

	wpClient := wordpress.NewClient(httpClient, wordpress.Config{
		BaseURL:         cfg.WPBaseURL,
		TokenURL:        cfg.WPJWTTokenURL,
		MaxResponseSize: cfg.ProviderMaxResponseSize,
	})

	wooClient := woocommerce.NewClient(httpClient, woocommerce.Config{
		BaseURL:         cfg.WooBaseURL,
		ConsumerKey:     cfg.WooConsumerKey,
		ConsumerSecret:  cfg.WooConsumerSecret,
		MaxResponseSize: cfg.ProviderMaxResponseSize,
	})
	if !cfg.WooConfigured() {
		slog.Warn("woocommerce credentials are not set; registration is disabled")
	}

	return auth.NewService(wpClient, wooClient, store, collector, auth.ServiceConfig{
		RememberTTL:   cfg.SessionRememberTTL,
		ShortTTL:      cfg.SessionShortTTL,
		EnforceExpiry: cfg.SessionEnforceExpiry,
	})
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. プロバイダURLの検証
	if err := validateProviderURLs(cfg); err != nil {
		return err
	}

	// 2. DB接続
	store, closeDB, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	slog.Info("database connection established")

	// 3. メトリクス
	registry, collector := newRegistry()

	// 4. ドメインサービスの初期化
	authService := newAuthService(cfg, store, collector)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitAuth, cfg.RateLimitGeneral),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		AuthService:       authService,
		HealthChecker:     store,
		MetricsHandler:    metrics.Handler(registry),
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMで停止する。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
	case <-stop:
	}

	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行し、/metricsを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	store, closeDB, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	slog.Info("database connection established (worker)")

	// 2. メトリクス
	registry, collector := newRegistry()
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics listen error", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(store.Repositories().Sessions, slog.Default(), collector)
	cleanupJob.RetentionDays = cfg.SessionRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
		slog.Int("retention_days", cfg.SessionRetentionDays),
		slog.String("metrics_addr", metricsServer.Addr),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
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

	slog.Info("database migrations completed successfully")
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
