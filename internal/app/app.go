package app

import (
	"context"
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

	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/config"
	"github.com/hitoshi/todoman/internal/database"
	"github.com/hitoshi/todoman/internal/handler"
	"github.com/hitoshi/todoman/internal/logger"
	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/security"
	"github.com/hitoshi/todoman/internal/todo"
	"github.com/hitoshi/todoman/internal/validation"
	"github.com/hitoshi/todoman/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

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

	// 3. LOG_LEVELを反映する
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
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

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("store_backend", cfg.StoreBackend),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateUser:
		return runCreateUser(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// newServer は設定とストアから全依存関係をワイヤリングしたHTTPサーバーを構築する。
// 返り値のstop関数でバックグラウンド処理を停止する。
func newServer(cfg *config.Config, st *stores) (*http.Server, func()) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(reg)

	// 2. ドメインサービスの初期化
	authService := auth.NewService(st.users, st.sessions, auth.ScryptHasher{}, mc,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	todoService := todo.NewService(st.todos,
		todo.WithSanitizer(security.NewTextSanitizer()),
		todo.WithMetrics(mc),
		todo.WithForbiddenAsNotFound(cfg.ForbiddenAsNotFound),
	)

	// 3. ルーターの構築
	// configのRATE_LIMIT_*はreq/min単位なので、NewRateLimiterConfigでreq/secに変換する
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder: st.sessions,
		SessionCookie: middleware.SessionCookie{
			Secret: []byte(cfg.SessionSecret),
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: time.Duration(cfg.SessionMaxAge) * time.Second,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           mc,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     st.health,
		Validator:         validation.MustNew(),
		AuthService:       authService,
		TodoService:       todoService,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server, rateLimiter.Stop
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	st, err := openStores(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	server, stopBackground := newServer(cfg, st)
	defer stopBackground()

	// インメモリストアはワーカーと共有できないため、サーバー内でクリーンアップを回す
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.StoreBackend == config.BackendMemory && st.sessionsInDatabase {
		job := cleanup.NewSessionCleanupJob(st.sessions, slog.Default(), nil)
		go job.Start(ctx, cfg.SessionCleanupInterval)
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップをSESSION_CLEANUP_INTERVALごとに実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.StoreBackend == config.BackendMemory {
		return fmt.Errorf("worker cannot share the in-memory store with the API server")
	}

	st, err := openStores(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	if !st.sessionsInDatabase {
		slog.Info("sessions expire by redis TTL; nothing to clean up")
		<-ctx.Done()
		return nil
	}

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	job := cleanup.NewSessionCleanupJob(st.sessions, slog.Default(), nil)
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はスキーマを最新にする。
// PostgreSQLは埋め込みマイグレーションを適用し、SQLiteはAutoMigrate、MongoDBはインデックスを作成する。
func runMigrate(cfg *config.Config) error {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

	case config.BackendSQLite, config.BackendMongo:
		// 接続時にスキーマ・インデックスを整える
		st, err := openStores(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if err := st.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}

	case config.BackendMemory:
		slog.Info("in-memory store has no schema; skipping migrations")
		return nil
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runCreateUser は管理用にユーザーを作成する。
// 既に同名のユーザーが存在する場合はエラーにせず終了する。
func runCreateUser(cfg *config.Config, args []string) error {
	if len(args) < 2 || args[0] == "" || args[1] == "" {
		return fmt.Errorf("usage: todoman create-user <username> <password>")
	}
	username, password := args[0], args[1]

	if cfg.StoreBackend == config.BackendMemory {
		return fmt.Errorf("create-user requires a persistent store backend")
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return createUser(ctx, st.users, username, password)
}

// createUser はユーザーを作成する。既存ユーザーの場合はログを出して正常終了する。
func createUser(ctx context.Context, users repository.UserRepository, username, password string) error {
	svc := auth.NewService(users, nil, auth.ScryptHasher{}, nil, auth.ServiceConfig{})

	user, err := svc.CreateUser(ctx, username, password)
	if errors.Is(err, auth.ErrUserExists) {
		slog.Info("user already exists", slog.String("username", username))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created successfully",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.Redacted()
}
