package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
)

// MemoryUserRepo はインメモリのユーザーリポジトリ。
// 開発・テスト用途。プロセス終了でデータは失われる。
type MemoryUserRepo struct {
	mu         sync.RWMutex
	byID       map[string]*model.User
	byUsername map[string]string // username -> id
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:       make(map[string]*model.User),
		byUsername: make(map[string]string),
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[username]
	if !ok {
		return nil, nil
	}
	copied := *r.byID[id]
	return &copied, nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(ctx context.Context, username, passwordHash string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[username]; exists {
		return nil, ErrUsernameTaken
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	r.byID[user.ID] = user
	r.byUsername[username] = user.ID

	copied := *user
	return &copied, nil
}

// MemoryTodoRepo はインメモリのタスクリポジトリ。
// 一覧の順序は挿入順。返す値はすべてコピーで、内部状態を共有しない。
type MemoryTodoRepo struct {
	mu    sync.RWMutex
	todos map[string]*model.Todo
	order []string
}

// NewMemoryTodoRepo はMemoryTodoRepoを生成する。
func NewMemoryTodoRepo() *MemoryTodoRepo {
	return &MemoryTodoRepo{
		todos: make(map[string]*model.Todo),
	}
}

// ListByOwner は指定ユーザーのタスクを挿入順で返す。
func (r *MemoryTodoRepo) ListByOwner(ctx context.Context, userID string) ([]*model.Todo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	todos := []*model.Todo{}
	for _, id := range r.order {
		t := r.todos[id]
		if t.UserID == userID {
			copied := *t
			todos = append(todos, &copied)
		}
	}
	return todos, nil
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *MemoryTodoRepo) FindByID(ctx context.Context, id string) (*model.Todo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.todos[id]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

// Create はタスクを作成する。
func (r *MemoryTodoRepo) Create(ctx context.Context, input model.NewTodo, userID string) (*model.Todo, error) {
	id, err := newTodoID()
	if err != nil {
		return nil, err
	}
	todo := newTodo(input, userID)
	todo.ID = id
	now := time.Now().UTC()
	todo.CreatedAt = now
	todo.UpdatedAt = now

	r.mu.Lock()
	r.todos[todo.ID] = &todo
	r.order = append(r.order, todo.ID)
	r.mu.Unlock()

	copied := todo
	return &copied, nil
}

// Update はpatchの非nilフィールドを既存レコードにマージする。
func (r *MemoryTodoRepo) Update(ctx context.Context, id string, patch model.TodoPatch) (*model.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.todos[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(t)
	t.UpdatedAt = time.Now().UTC()

	copied := *t
	return &copied, nil
}

// DeleteByID は指定IDのタスクを削除する。
func (r *MemoryTodoRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.todos[id]; !ok {
		return ErrNotFound
	}
	delete(r.todos, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// MemorySessionRepo はインメモリのセッションリポジトリ。
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	now      func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]*model.Session),
		now:      time.Now,
	}
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || !s.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var (
	_ UserRepository    = (*MemoryUserRepo)(nil)
	_ TodoRepository    = (*MemoryTodoRepo)(nil)
	_ SessionRepository = (*MemorySessionRepo)(nil)
)
