package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
)

// PostgresTodoRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTodoRepo struct {
	db *sql.DB
}

// NewPostgresTodoRepo はPostgresTodoRepoを生成する。
func NewPostgresTodoRepo(db *sql.DB) *PostgresTodoRepo {
	return &PostgresTodoRepo{db: db}
}

const todoColumns = `id, title, description, priority, completed, user_id, created_at, updated_at`

// ListByOwner は指定ユーザーのタスクを作成順で返す。
func (r *PostgresTodoRepo) ListByOwner(ctx context.Context, userID string) ([]*model.Todo, error) {
	todos := []*model.Todo{}
	if !isUUID(userID) {
		return todos, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+todoColumns+`
		 FROM todos
		 WHERE user_id = $1
		 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, todo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate todos: %w", err)
	}

	return todos, nil
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTodoRepo) FindByID(ctx context.Context, id string) (*model.Todo, error) {
	if !isUUID(id) {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE id = $1`,
		id,
	)
	todo, err := scanTodo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find todo by ID: %w", err)
	}

	return todo, nil
}

// Create はタスクを作成する。
func (r *PostgresTodoRepo) Create(ctx context.Context, input model.NewTodo, userID string) (*model.Todo, error) {
	id, err := newTodoID()
	if err != nil {
		return nil, err
	}
	todo := newTodo(input, userID)
	todo.ID = id
	now := time.Now().UTC()
	todo.CreatedAt = now
	todo.UpdatedAt = now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO todos (`+todoColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		todo.ID, todo.Title, todo.Description, string(todo.Priority), todo.Completed,
		todo.UserID, todo.CreatedAt, todo.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert todo: %w", err)
	}

	return &todo, nil
}

// Update はpatchの非nilフィールドのみを更新する。
// 1文のUPDATEで行うため、存在確認と書き込みの間に他の更新が割り込むことはない。
func (r *PostgresTodoRepo) Update(ctx context.Context, id string, patch model.TodoPatch) (*model.Todo, error) {
	if !isUUID(id) {
		return nil, ErrNotFound
	}

	var priority *string
	if patch.Priority != nil {
		p := string(*patch.Priority)
		priority = &p
	}

	row := r.db.QueryRowContext(ctx,
		`UPDATE todos SET
		   title       = COALESCE($2, title),
		   description = COALESCE($3, description),
		   priority    = COALESCE($4, priority),
		   completed   = COALESCE($5, completed),
		   updated_at  = $6
		 WHERE id = $1
		 RETURNING `+todoColumns,
		id, patch.Title, patch.Description, priority, patch.Completed, time.Now().UTC(),
	)
	todo, err := scanTodo(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update todo: %w", err)
	}

	return todo, nil
}

// DeleteByID は指定IDのタスクを削除する。
func (r *PostgresTodoRepo) DeleteByID(ctx context.Context, id string) error {
	if !isUUID(id) {
		return ErrNotFound
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM todos WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(s rowScanner) (*model.Todo, error) {
	todo := &model.Todo{}
	var priority string
	err := s.Scan(
		&todo.ID, &todo.Title, &todo.Description, &priority, &todo.Completed,
		&todo.UserID, &todo.CreatedAt, &todo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	todo.Priority = model.Priority(priority)
	return todo, nil
}

// isUUID はUUID列に渡せる値かどうかを判定する。
// 解釈できないIDは存在しないIDとして扱う。
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// compile-time interface check
var _ TodoRepository = (*PostgresTodoRepo)(nil)
