// Package auth はユーザー名・パスワード認証とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
)

// ErrUserExists はCreateUserで既に同名のユーザーが存在する場合に返される。
var ErrUserExists = errors.New("user already exists")

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time

	// dummyHash は存在しないユーザーのログイン時にも照合を行い、応答時間を揃えるために使う。
	dummyHash string
}

// NewService はServiceを生成する。hasherがnilの場合はScryptHasherを使う。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	mc metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if hasher == nil {
		hasher = ScryptHasher{}
	}
	if mc == nil {
		mc = metrics.Noop{}
	}
	dummy, err := hasher.Hash("todoman-dummy-password")
	if err != nil {
		slog.Warn("ダミーハッシュの生成に失敗しました", slog.String("error", err.Error()))
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		metrics:     mc,
		config:      config,
		now:         time.Now,
		dummyHash:   dummy,
	}
}

// Register はユーザーを登録し、そのままログインしたセッションを発行する。
// ユーザー名が使用済みの場合はUSERNAME_TAKENエラーを返す。
func (s *Service) Register(ctx context.Context, username, password string) (*model.User, *model.Session, error) {
	user, err := s.createUser(ctx, username, password)
	if err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, nil, model.NewUsernameTakenError(username)
		}
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, session, nil
}

// Login はユーザー名とパスワードを照合し、セッションを発行する。
// ユーザーが存在しない場合とパスワードが誤っている場合は区別しない。
func (s *Service) Login(ctx context.Context, username, password string) (*model.User, *model.Session, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}

	encoded := s.dummyHash
	if user != nil {
		encoded = user.PasswordHash
	}
	ok, err := s.hasher.Verify(password, encoded)
	if err != nil && user != nil {
		slog.Error("保存済みパスワードハッシュの検証に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	if user == nil || !ok {
		s.metrics.RecordLoginAttempt(false)
		slog.Warn("login failed", slog.String("username", username))
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordLoginAttempt(true)
	slog.Info("user logged in", slog.String("user_id", user.ID))
	return user, session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はユーザーIDから現在のユーザーを取得する。
// 見つからない場合はUNAUTHORIZEDエラーを返す。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// ResolveSession はセッションIDから有効なセッションを取得する。期限切れ・不明の場合はnilを返す。
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// CreateUser は管理用にユーザーを作成する。セッションは発行しない。
// 同名のユーザーが存在する場合はErrUserExistsを返す。
func (s *Service) CreateUser(ctx context.Context, username, password string) (*model.User, error) {
	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	user, err := s.createUser(ctx, username, password)
	if errors.Is(err, repository.ErrUsernameTaken) {
		return nil, ErrUserExists
	}
	return user, err
}

func (s *Service) createUser(ctx context.Context, username, password string) (*model.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.userRepo.Create(ctx, username, hash)
	if err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now().UTC()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
