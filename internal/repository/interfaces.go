// Package repository はデータ永続化のインターフェースと各バックエンドの実装を提供する。
//
// バックエンドはPostgreSQL、SQLite（gorm）、MongoDB、インメモリの4種類。
// どのバックエンドでもIDは不透明な文字列として扱い、型変換は各実装の境界でのみ行う。
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
)

// ErrNotFound は更新・削除対象のレコードが存在しない場合に返される。
// すべてのバックエンドで同じ値を返す。
var ErrNotFound = errors.New("record not found")

// ErrUsernameTaken はユーザー名が既に登録済みの場合に返される。
var ErrUsernameTaken = errors.New("username already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。passwordHashはハッシュ済みの値を渡すこと。
	// ユーザー名が重複する場合はErrUsernameTakenを返す。
	Create(ctx context.Context, username, passwordHash string) (*model.User, error)
}

// TodoRepository はタスクデータの永続化インターフェース。
// 所有者の検証は行わない。認可は呼び出し側（todo.Service）の責務。
type TodoRepository interface {
	// ListByOwner は指定ユーザーのタスクを作成順で返す。
	// 該当なし、または解釈できないIDの場合は空スライスを返す。
	// ストアのエラーは握りつぶさずに返す。
	ListByOwner(ctx context.Context, userID string) ([]*model.Todo, error)

	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Todo, error)

	// Create はタスクを作成する。completedは常にfalse、優先度省略時はmediumとなる。
	Create(ctx context.Context, input model.NewTodo, userID string) (*model.Todo, error)

	// Update はpatchの非nilフィールドを既存レコードにマージし、更新後のレコードを返す。
	// 存在しない場合はErrNotFoundを返す。バージョン検査は行わず、後勝ちとなる。
	Update(ctx context.Context, id string, patch model.TodoPatch) (*model.Todo, error)

	// DeleteByID は指定IDのタスクを削除する。存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// newTodo は作成入力から保存前のタスクを組み立てる。
func newTodo(input model.NewTodo, userID string) model.Todo {
	priority := input.Priority
	if priority == "" {
		priority = model.DefaultPriority
	}
	return model.Todo{
		Title:       input.Title,
		Description: input.Description,
		Priority:    priority,
		Completed:   false,
		UserID:      userID,
	}
}

// newTodoID はタスクIDを生成する。
// UUIDv7は生成順に単調増加するため、作成時刻が同じタスクもIDで作成順に並ぶ。
func newTodoID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate todo ID: %w", err)
	}
	return id.String(), nil
}
