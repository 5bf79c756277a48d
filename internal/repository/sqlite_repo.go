package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
	"gorm.io/gorm"
)

// userRecord はusersテーブルのgormエンティティ。
type userRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Username  string    `gorm:"uniqueIndex;not null"`
	Password  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (userRecord) TableName() string { return "users" }

func (u *userRecord) toModel() *model.User {
	return &model.User{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.Password,
		CreatedAt:    u.CreatedAt,
	}
}

// todoRecord はtodosテーブルのgormエンティティ。
type todoRecord struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Title       string    `gorm:"not null"`
	Description string    `gorm:"not null"`
	Priority    string    `gorm:"size:10;not null"`
	Completed   bool      `gorm:"not null"`
	UserID      string    `gorm:"size:36;not null;index:idx_todos_user_created,priority:1"`
	CreatedAt   time.Time `gorm:"not null;index:idx_todos_user_created,priority:2"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (todoRecord) TableName() string { return "todos" }

func (t *todoRecord) toModel() *model.Todo {
	return &model.Todo{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    model.Priority(t.Priority),
		Completed:   t.Completed,
		UserID:      t.UserID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// sessionRecord はsessionsテーブルのgormエンティティ。
type sessionRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"size:36;not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (sessionRecord) TableName() string { return "sessions" }

// SQLiteModels はAutoMigrateに渡すエンティティの一覧を返す。
func SQLiteModels() []any {
	return []any{&userRecord{}, &todoRecord{}, &sessionRecord{}}
}

// SQLiteUserRepo はgorm + SQLiteを使用したユーザーリポジトリ。
type SQLiteUserRepo struct {
	db *gorm.DB
}

// NewSQLiteUserRepo はSQLiteUserRepoを生成する。
// dbはgorm.Config{TranslateError: true}で開いたものを渡すこと。
func NewSQLiteUserRepo(db *gorm.DB) *SQLiteUserRepo {
	return &SQLiteUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLiteUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *SQLiteUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "username = ?", username)
}

func (r *SQLiteUserRepo) findOne(ctx context.Context, cond string, arg string) (*model.User, error) {
	var rec userRecord
	if err := r.db.WithContext(ctx).First(&rec, cond, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return rec.toModel(), nil
}

// Create はユーザーを作成する。
func (r *SQLiteUserRepo) Create(ctx context.Context, username, passwordHash string) (*model.User, error) {
	rec := userRecord{
		ID:        uuid.New().String(),
		Username:  username,
		Password:  passwordHash,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return rec.toModel(), nil
}

// SQLiteTodoRepo はgorm + SQLiteを使用したタスクリポジトリ。
type SQLiteTodoRepo struct {
	db *gorm.DB
}

// NewSQLiteTodoRepo はSQLiteTodoRepoを生成する。
func NewSQLiteTodoRepo(db *gorm.DB) *SQLiteTodoRepo {
	return &SQLiteTodoRepo{db: db}
}

// ListByOwner は指定ユーザーのタスクを作成順で返す。
func (r *SQLiteTodoRepo) ListByOwner(ctx context.Context, userID string) ([]*model.Todo, error) {
	var recs []todoRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}

	todos := make([]*model.Todo, 0, len(recs))
	for i := range recs {
		todos = append(todos, recs[i].toModel())
	}
	return todos, nil
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *SQLiteTodoRepo) FindByID(ctx context.Context, id string) (*model.Todo, error) {
	var rec todoRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find todo: %w", err)
	}
	return rec.toModel(), nil
}

// Create はタスクを作成する。
func (r *SQLiteTodoRepo) Create(ctx context.Context, input model.NewTodo, userID string) (*model.Todo, error) {
	id, err := newTodoID()
	if err != nil {
		return nil, err
	}
	todo := newTodo(input, userID)
	now := time.Now().UTC()
	rec := todoRecord{
		ID:          id,
		Title:       todo.Title,
		Description: todo.Description,
		Priority:    string(todo.Priority),
		Completed:   false,
		UserID:      todo.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("failed to create todo: %w", err)
	}
	return rec.toModel(), nil
}

// Update はpatchの非nilフィールドのみを更新し、更新後のレコードを再取得して返す。
func (r *SQLiteTodoRepo) Update(ctx context.Context, id string, patch model.TodoPatch) (*model.Todo, error) {
	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Priority != nil {
		updates["priority"] = string(*patch.Priority)
	}
	if patch.Completed != nil {
		updates["completed"] = *patch.Completed
	}

	result := r.db.WithContext(ctx).Model(&todoRecord{}).Where("id = ?", id).Updates(updates)
	if err := result.Error; err != nil {
		return nil, fmt.Errorf("failed to update todo: %w", err)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	todo, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if todo == nil {
		// 更新直後に別リクエストで削除された
		return nil, ErrNotFound
	}
	return todo, nil
}

// DeleteByID は指定IDのタスクを削除する。
func (r *SQLiteTodoRepo) DeleteByID(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&todoRecord{}, "id = ?", id)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SQLiteSessionRepo はgorm + SQLiteを使用したセッションリポジトリ。
type SQLiteSessionRepo struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLiteSessionRepo はSQLiteSessionRepoを生成する。
func NewSQLiteSessionRepo(db *gorm.DB) *SQLiteSessionRepo {
	return &SQLiteSessionRepo{db: db, now: time.Now}
}

// Create はセッションを作成する。
func (r *SQLiteSessionRepo) Create(ctx context.Context, session *model.Session) error {
	rec := sessionRecord{
		ID:        session.ID,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt.UTC(),
		CreatedAt: session.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *SQLiteSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var rec sessionRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if !rec.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	return &model.Session{
		ID:        rec.ID,
		UserID:    rec.UserID,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *SQLiteSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&sessionRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *SQLiteSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Delete(&sessionRecord{}, "expires_at <= ?", r.now().UTC())
	if err := result.Error; err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected, nil
}

// compile-time interface check
var (
	_ UserRepository    = (*SQLiteUserRepo)(nil)
	_ TodoRepository    = (*SQLiteTodoRepo)(nil)
	_ SessionRepository = (*SQLiteSessionRepo)(nil)
)
