package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/todoman/internal/config"
	"github.com/hitoshi/todoman/internal/database"
	"github.com/hitoshi/todoman/internal/handler"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/redis/go-redis/v9"
)

// stores は選択されたバックエンドのリポジトリ一式を保持する。
type stores struct {
	users    repository.UserRepository
	todos    repository.TodoRepository
	sessions repository.SessionRepository

	// sessionsInDatabase はセッションがタスクと同じストアにあるかどうか。
	// falseの場合（Redis）は期限切れの削除をTTLに任せる。
	sessionsInDatabase bool

	health  handler.HealthChecker
	closers []func() error
}

// Close は開いた接続をすべて閉じる。
func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStores はSTORE_BACKENDとSESSION_STOREに従ってリポジトリを初期化する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{sessionsInDatabase: true}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.users = repository.NewPostgresUserRepo(db)
		s.todos = repository.NewPostgresTodoRepo(db)
		s.sessions = repository.NewPostgresSessionRepo(db)
		s.health = db

	case config.BackendSQLite:
		gdb, err := database.OpenSQLite(cfg.SQLitePath, repository.SQLiteModels()...)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		s.closers = append(s.closers, sqlDB.Close)
		s.users = repository.NewSQLiteUserRepo(gdb)
		s.todos = repository.NewSQLiteTodoRepo(gdb)
		s.sessions = repository.NewSQLiteSessionRepo(gdb)
		s.health = sqlDB

	case config.BackendMongo:
		client, err := database.OpenMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		s.closers = append(s.closers, func() error { return client.Disconnect(context.Background()) })
		db := client.Database(cfg.MongoDatabase)
		if err := repository.EnsureMongoIndexes(ctx, db); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to ensure mongo indexes: %w", err)
		}
		s.users = repository.NewMongoUserRepo(db)
		s.todos = repository.NewMongoTodoRepo(db)
		s.sessions = repository.NewMongoSessionRepo(db)
		s.health = handler.HealthCheckerFunc(func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		})

	case config.BackendMemory:
		slog.Warn("インメモリストアを使用します。再起動するとデータは失われます")
		s.users = repository.NewMemoryUserRepo()
		s.todos = repository.NewMemoryTodoRepo()
		s.sessions = repository.NewMemorySessionRepo()

	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.StoreBackend)
	}

	if cfg.SessionStore == config.SessionStoreRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		s.closers = append(s.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.sessions = repository.NewRedisSessionRepo(client)
		s.sessionsInDatabase = false
	}

	slog.Info("store initialized",
		slog.String("backend", cfg.StoreBackend),
		slog.String("session_store", cfg.SessionStore),
	)
	return s, nil
}
