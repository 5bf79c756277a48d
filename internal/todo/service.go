// Package todo はタスク操作のドメインロジックを提供する。
//
// すべての操作は認証済みユーザーのIDを受け取り、単一レコードの参照と
// すべての変更の前にAuthorizeで所有者を確認する。
package todo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
)

// Sanitizer はタイトル・説明の文字列を無害化する。
type Sanitizer interface {
	Sanitize(raw string) string
}

type passthrough struct{}

func (passthrough) Sanitize(raw string) string { return raw }

// Service はタスク操作のサービス層。
type Service struct {
	repo          repository.TodoRepository
	sanitizer     Sanitizer
	metrics       metrics.MetricsCollector
	maskForbidden bool
}

// Option はServiceの生成オプション。
type Option func(*Service)

// WithSanitizer はタイトル・説明の無害化に使うSanitizerを設定する。
func WithSanitizer(s Sanitizer) Option {
	return func(svc *Service) { svc.sanitizer = s }
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(svc *Service) { svc.metrics = m }
}

// WithForbiddenAsNotFound がtrueの場合、他ユーザーのタスクへのアクセスを
// 403ではなく404（タスク未検出）として返す。
func WithForbiddenAsNotFound(mask bool) Option {
	return func(svc *Service) { svc.maskForbidden = mask }
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.TodoRepository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		sanitizer: passthrough{},
		metrics:   metrics.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List はユーザーのタスクを作成順で返す。
func (s *Service) List(ctx context.Context, userID string) (todos []*model.Todo, err error) {
	defer s.record("list", &err)

	todos, err = s.repo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	return todos, nil
}

// Get はユーザーが所有するタスクを1件返す。
func (s *Service) Get(ctx context.Context, userID, todoID string) (todo *model.Todo, err error) {
	defer s.record("get", &err)

	return s.findOwned(ctx, userID, todoID)
}

// Create はタスクを作成する。所有者は常にuserIDとなり、completedはfalseで始まる。
func (s *Service) Create(ctx context.Context, userID string, input model.NewTodo) (todo *model.Todo, err error) {
	defer s.record("create", &err)

	input, err = s.cleanInput(input)
	if err != nil {
		return nil, err
	}

	todo, err = s.repo.Create(ctx, input, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create todo: %w", err)
	}

	slog.Debug("タスクを作成しました",
		slog.String("user_id", userID),
		slog.String("todo_id", todo.ID),
	)
	return todo, nil
}

// Replace はタイトル・説明・優先度をまとめて置き換える。completedは変更しない。
// 優先度を省略した場合はmediumとなる。
func (s *Service) Replace(ctx context.Context, userID, todoID string, input model.NewTodo) (todo *model.Todo, err error) {
	defer s.record("replace", &err)

	input, err = s.cleanInput(input)
	if err != nil {
		return nil, err
	}
	if input.Priority == "" {
		input.Priority = model.DefaultPriority
	}

	if _, err := s.findOwned(ctx, userID, todoID); err != nil {
		return nil, err
	}

	return s.update(ctx, todoID, model.TodoPatch{
		Title:       &input.Title,
		Description: &input.Description,
		Priority:    &input.Priority,
	})
}

// Patch は指定されたフィールドのみを更新する。空のパッチは現在のタスクをそのまま返す。
func (s *Service) Patch(ctx context.Context, userID, todoID string, patch model.TodoPatch) (todo *model.Todo, err error) {
	defer s.record("patch", &err)

	patch, err = s.cleanPatch(patch)
	if err != nil {
		return nil, err
	}

	current, err := s.findOwned(ctx, userID, todoID)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return current, nil
	}

	return s.update(ctx, todoID, patch)
}

// Delete はユーザーが所有するタスクを削除する。
func (s *Service) Delete(ctx context.Context, userID, todoID string) (err error) {
	defer s.record("delete", &err)

	if _, err := s.findOwned(ctx, userID, todoID); err != nil {
		return err
	}

	if err := s.repo.DeleteByID(ctx, todoID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 認可確認後に別リクエストで削除された
			return model.NewTodoNotFoundError(todoID)
		}
		return fmt.Errorf("failed to delete todo: %w", err)
	}

	slog.Debug("タスクを削除しました",
		slog.String("user_id", userID),
		slog.String("todo_id", todoID),
	)
	return nil
}

// findOwned はタスクを取得し、所有者でなければ拒否エラーを返す。
func (s *Service) findOwned(ctx context.Context, userID, todoID string) (*model.Todo, error) {
	todo, err := s.repo.FindByID(ctx, todoID)
	if err != nil {
		return nil, fmt.Errorf("failed to find todo: %w", err)
	}
	if todo == nil {
		return nil, model.NewTodoNotFoundError(todoID)
	}

	if Authorize(userID, todo) == Deny {
		slog.Warn("他ユーザーのタスクへのアクセスを拒否しました",
			slog.String("user_id", userID),
			slog.String("todo_id", todoID),
		)
		if s.maskForbidden {
			return nil, model.NewTodoNotFoundError(todoID)
		}
		return nil, model.NewForbiddenError()
	}
	return todo, nil
}

func (s *Service) update(ctx context.Context, todoID string, patch model.TodoPatch) (*model.Todo, error) {
	todo, err := s.repo.Update(ctx, todoID, patch)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewTodoNotFoundError(todoID)
		}
		return nil, fmt.Errorf("failed to update todo: %w", err)
	}
	return todo, nil
}

func (s *Service) cleanInput(input model.NewTodo) (model.NewTodo, error) {
	input.Title = s.sanitizer.Sanitize(input.Title)
	input.Description = s.sanitizer.Sanitize(input.Description)
	if input.Title == "" {
		return input, emptyTitleError()
	}
	return input, nil
}

func (s *Service) cleanPatch(patch model.TodoPatch) (model.TodoPatch, error) {
	if patch.Title != nil {
		title := s.sanitizer.Sanitize(*patch.Title)
		if title == "" {
			return patch, emptyTitleError()
		}
		patch.Title = &title
	}
	if patch.Description != nil {
		desc := s.sanitizer.Sanitize(*patch.Description)
		patch.Description = &desc
	}
	return patch, nil
}

func emptyTitleError() *model.APIError {
	return model.NewValidationError([]model.FieldError{
		{Field: "title", Message: "空にできません。"},
	})
}

// record は操作結果をメトリクスに記録する。deferで呼び出す。
func (s *Service) record(operation string, errp *error) {
	s.metrics.RecordTodoOperation(operation, resultOf(*errp))
}

func resultOf(err error) string {
	if err == nil {
		return metrics.ResultOK
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return metrics.ResultError
	}
	switch apiErr.Code {
	case model.ErrCodeTodoNotFound:
		return metrics.ResultNotFound
	case model.ErrCodeForbidden:
		return metrics.ResultForbidden
	case model.ErrCodeValidation:
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}
