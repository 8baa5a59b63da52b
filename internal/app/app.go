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

	"github.com/hitoshi/rewear/internal/auth"
	"github.com/hitoshi/rewear/internal/backend"
	"github.com/hitoshi/rewear/internal/backend/supabase"
	"github.com/hitoshi/rewear/internal/client"
	"github.com/hitoshi/rewear/internal/config"
	"github.com/hitoshi/rewear/internal/database"
	"github.com/hitoshi/rewear/internal/handler"
	"github.com/hitoshi/rewear/internal/logger"
	"github.com/hitoshi/rewear/internal/metrics"
	"github.com/hitoshi/rewear/internal/middleware"
	"github.com/hitoshi/rewear/internal/repository"
	"github.com/hitoshi/rewear/internal/security"
	"github.com/hitoshi/rewear/internal/selfhost"
	"github.com/hitoshi/rewear/internal/telemetry"
	"github.com/hitoshi/rewear/internal/worker/cleanup"
)

const serviceName = "rewear"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 設定読み込みの失敗もJSONで記録できるよう、先にInfoレベルで初期化する
	log := logger.SetupDefault(w, "info")

	cfg, err := config.Load()
	if err != nil {
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}

	log = logger.SetupDefault(w, cfg.LogLevel)
	return cfg, log, nil
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

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("mode", cfg.BackendMode()),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// backendSetup は起動モードごとに組み立てたバックエンドと付随リソース。
type backendSetup struct {
	backend  *backend.Backend
	health   handler.HealthChecker
	sessions cleanup.SessionPurger
	close    func()
}

// buildBackend は設定に従ってバックエンドを組み立てる。
// Supabase設定があればSupabase、DATABASE_URLのみであればセルフホスト、
// どちらもなければバックエンドなし（デモモード）になる。
func buildBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backendSetup, error) {
	switch cfg.BackendMode() {
	case config.ModeSupabase:
		c := supabase.NewClient(supabase.NewHTTPClient(cfg.SupabaseTimeout), cfg.SupabaseURL, cfg.SupabaseAnonKey, log)
		log.Info("using Supabase backend", slog.String("url", cfg.SupabaseURL))
		return &backendSetup{backend: supabase.NewBackend(c), close: func() {}}, nil

	case config.ModeSelfHost:
		db, err := openDatabase(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		authSvc := auth.NewService(
			repository.NewPostgresCredentialRepo(db),
			repository.NewPostgresSessionRepo(db),
			auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL),
			auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
			log,
		)
		log.Info("using self-hosted backend")
		return &backendSetup{
			backend:  selfhost.NewBackend(authSvc, db),
			health:   db,
			sessions: authSvc,
			close:    func() { db.Close() },
		}, nil

	default:
		log.Warn("no backend configured; running in demo mode",
			slog.String("hint", "set SUPABASE_URL and SUPABASE_ANON_KEY, or DATABASE_URL"),
		)
		return &backendSetup{close: func() {}}, nil
	}
}

// openDatabase はDBに接続し、未適用のマイグレーションを適用する。
func openDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("database connection established")

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーとクリーンアップジョブを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTracing, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, log)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promReg)

	setup, err := buildBackend(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to set up backend: %w", err)
	}
	defer setup.close()

	registry := client.NewRegistry(setup.backend, security.NewTextSanitizer(), log, collector, cfg.ClientIdleTimeout)
	registry.SetMaxClients(cfg.MaxClients)
	defer registry.Close()

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	cleanupJob := cleanup.NewCleanupJob(registry, setup.sessions, log)
	go cleanupJob.Start(jobCtx, cfg.CleanupInterval)

	router := handler.NewRouter(&handler.RouterDeps{
		Registry: registry,
		Mode:     registry,
		Cookies: middleware.CookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: cfg.SessionMaxAge,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            log,
		Metrics:           collector,
		Gatherer:          promReg,
		HealthChecker:     setup.health,
	})

	// WebSocketの長時間接続があるため、WriteTimeoutは設定しない
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	log.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runMigrate はセルフホスト構成のデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	log.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	c := &http.Client{Timeout: 5 * time.Second}

	resp, err := c.Get(url)
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
