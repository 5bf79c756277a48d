// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/validation"
)

// todoIDPattern はパスで受け付けるタスクIDの形式。
// uuidとMongoDBのObjectID（16進数）の両方を含む。
var todoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// TodoServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TodoServiceInterface interface {
	List(ctx context.Context, userID string) ([]*model.Todo, error)
	Get(ctx context.Context, userID, todoID string) (*model.Todo, error)
	Create(ctx context.Context, userID string, input model.NewTodo) (*model.Todo, error)
	Replace(ctx context.Context, userID, todoID string, input model.NewTodo) (*model.Todo, error)
	Patch(ctx context.Context, userID, todoID string, patch model.TodoPatch) (*model.Todo, error)
	Delete(ctx context.Context, userID, todoID string) error
}

// TodoHandler はタスク操作のHTTPハンドラー。
type TodoHandler struct {
	service   TodoServiceInterface
	validator *validation.Validator
}

// NewTodoHandler はTodoHandlerを生成する。
func NewTodoHandler(service TodoServiceInterface, validator *validation.Validator) *TodoHandler {
	return &TodoHandler{
		service:   service,
		validator: validator,
	}
}

// todoResponse はタスクのAPIレスポンス。
type todoResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Completed   bool      `json:"completed"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toTodoResponse(t *model.Todo) todoResponse {
	return todoResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Completed:   t.Completed,
		OwnerID:     t.UserID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// List はログインユーザーのタスク一覧を返す。
// GET /api/todos
func (h *TodoHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	todos, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]todoResponse, len(todos))
	for i, t := range todos {
		resp[i] = toTodoResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create はタスクを作成する。
// POST /api/todos
func (h *TodoHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	input, err := h.validator.TodoInput(body)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	todo, err := h.service.Create(r.Context(), userID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTodoResponse(todo))
}

// Get はタスクを1件返す。
// GET /api/todos/{id}
func (h *TodoHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, todoID, ok := h.target(w, r)
	if !ok {
		return
	}

	todo, err := h.service.Get(r.Context(), userID, todoID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTodoResponse(todo))
}

// Replace はタイトル・説明・優先度をまとめて更新する。
// PUT /api/todos/{id}
func (h *TodoHandler) Replace(w http.ResponseWriter, r *http.Request) {
	userID, todoID, ok := h.target(w, r)
	if !ok {
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	input, err := h.validator.TodoInput(body)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	todo, err := h.service.Replace(r.Context(), userID, todoID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTodoResponse(todo))
}

// Patch は指定されたフィールドのみ更新する。完了状態の切り替えにも使う。
// PATCH /api/todos/{id}
func (h *TodoHandler) Patch(w http.ResponseWriter, r *http.Request) {
	userID, todoID, ok := h.target(w, r)
	if !ok {
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	patch, err := h.validator.TodoPatch(body)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	todo, err := h.service.Patch(r.Context(), userID, todoID, patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTodoResponse(todo))
}

// Delete はタスクを削除する。
// DELETE /api/todos/{id}
func (h *TodoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, todoID, ok := h.target(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, todoID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// target はユーザーIDとパスのタスクIDを取り出し、IDの形式を検証する。
func (h *TodoHandler) target(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return "", "", false
	}

	todoID := chi.URLParam(r, "id")
	if !todoIDPattern.MatchString(todoID) {
		handleServiceError(w, model.NewInvalidTodoIDError(todoID))
		return "", "", false
	}
	return userID, todoID, true
}

// SetupTodoRoutes はタスク操作のルーティングを登録する。
func SetupTodoRoutes(r chi.Router, h *TodoHandler) {
	r.Route("/api/todos", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Replace)
			r.Patch("/", h.Patch)
			r.Delete("/", h.Delete)
		})
	})
}
