package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/validation"
)

// --- モック定義 ---

// mockTodoService はTodoServiceInterfaceのモック実装。
type mockTodoService struct {
	listFn    func(ctx context.Context, userID string) ([]*model.Todo, error)
	getFn     func(ctx context.Context, userID, todoID string) (*model.Todo, error)
	createFn  func(ctx context.Context, userID string, input model.NewTodo) (*model.Todo, error)
	replaceFn func(ctx context.Context, userID, todoID string, input model.NewTodo) (*model.Todo, error)
	patchFn   func(ctx context.Context, userID, todoID string, patch model.TodoPatch) (*model.Todo, error)
	deleteFn  func(ctx context.Context, userID, todoID string) error
}

func (m *mockTodoService) List(ctx context.Context, userID string) ([]*model.Todo, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []*model.Todo{}, nil
}

func (m *mockTodoService) Get(ctx context.Context, userID, todoID string) (*model.Todo, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, todoID)
	}
	return nil, model.NewTodoNotFoundError(todoID)
}

func (m *mockTodoService) Create(ctx context.Context, userID string, input model.NewTodo) (*model.Todo, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, input)
	}
	return nil, errors.New("not implemented")
}

func (m *mockTodoService) Replace(ctx context.Context, userID, todoID string, input model.NewTodo) (*model.Todo, error) {
	if m.replaceFn != nil {
		return m.replaceFn(ctx, userID, todoID, input)
	}
	return nil, errors.New("not implemented")
}

func (m *mockTodoService) Patch(ctx context.Context, userID, todoID string, patch model.TodoPatch) (*model.Todo, error) {
	if m.patchFn != nil {
		return m.patchFn(ctx, userID, todoID, patch)
	}
	return nil, errors.New("not implemented")
}

func (m *mockTodoService) Delete(ctx context.Context, userID, todoID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, todoID)
	}
	return nil
}

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseErrorBody はレスポンスボディから統一エラーフォーマットをパースするヘルパー。
func parseErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

func sampleTodo(id, owner string) *model.Todo {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &model.Todo{
		ID:          id,
		Title:       "牛乳を買う",
		Description: "低脂肪",
		Priority:    model.PriorityHigh,
		Completed:   false,
		UserID:      owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newTestTodoHandler(svc TodoServiceInterface) *TodoHandler {
	return NewTodoHandler(svc, validation.MustNew())
}

// --- テスト ---

func TestTodoHandler_List(t *testing.T) {
	svc := &mockTodoService{
		listFn: func(ctx context.Context, userID string) ([]*model.Todo, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			return []*model.Todo{sampleTodo("t1", "user-1"), sampleTodo("t2", "user-1")}, nil
		},
	}
	h := newTestTodoHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/todos", nil), "user-1")
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	first := got[0]
	for _, key := range []string{"id", "title", "description", "priority", "completed", "ownerId", "createdAt", "updatedAt"} {
		if _, ok := first[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}
	if first["ownerId"] != "user-1" || first["priority"] != "high" {
		t.Errorf("unexpected todo: %v", first)
	}
}

func TestTodoHandler_List_EmptyIsArray(t *testing.T) {
	h := newTestTodoHandler(&mockTodoService{})

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/todos", nil), "user-1")
	w := httptest.NewRecorder()
	h.List(w, req)

	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", w.Body.String())
	}
}

func TestTodoHandler_List_StoreErrorIs500(t *testing.T) {
	svc := &mockTodoService{
		listFn: func(ctx context.Context, userID string) ([]*model.Todo, error) {
			return nil, errors.New("connection refused")
		},
	}
	h := newTestTodoHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/todos", nil), "user-1")
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Error("internal error detail must not leak")
	}
}

func TestTodoHandler_Unauthenticated(t *testing.T) {
	h := newTestTodoHandler(&mockTodoService{})

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/todos", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestTodoHandler_Create(t *testing.T) {
	var captured model.NewTodo
	svc := &mockTodoService{
		createFn: func(ctx context.Context, userID string, input model.NewTodo) (*model.Todo, error) {
			captured = input
			todo := sampleTodo("new-id", userID)
			todo.Title = input.Title
			return todo, nil
		},
	}
	h := newTestTodoHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/todos",
		strings.NewReader(`{"title":"牛乳を買う","priority":"low","completed":true}`)), "user-1")
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body=%s", w.Code, w.Body.String())
	}
	if captured.Title != "牛乳を買う" || captured.Priority != model.PriorityLow {
		t.Errorf("captured input = %+v", captured)
	}
	var got todoResponse
	json.NewDecoder(w.Body).Decode(&got)
	if got.ID != "new-id" || got.Completed {
		t.Errorf("response = %+v", got)
	}
}

func TestTodoHandler_Create_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
		field    string
	}{
		{"タイトルなし", `{"description":"x"}`, model.ErrCodeValidation, "title"},
		{"不正な優先度", `{"title":"a","priority":"urgent"}`, model.ErrCodeValidation, "priority"},
		{"不正なJSON", `{"title":`, model.ErrCodeInvalidRequest, ""},
		{"空ボディ", ``, model.ErrCodeInvalidRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockTodoService{
				createFn: func(ctx context.Context, userID string, input model.NewTodo) (*model.Todo, error) {
					called = true
					return nil, nil
				},
			}
			h := newTestTodoHandler(svc)

			req := withUserID(httptest.NewRequest(http.MethodPost, "/api/todos", strings.NewReader(tt.body)), "user-1")
			w := httptest.NewRecorder()
			h.Create(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			body := parseErrorBody(t, w)
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if tt.field != "" && (len(body.Details) == 0 || body.Details[0].Field != tt.field) {
				t.Errorf("details = %+v, want field %q", body.Details, tt.field)
			}
			if called {
				t.Error("service should not be called for invalid input")
			}
		})
	}
}

func TestTodoHandler_Create_BodyTooLarge(t *testing.T) {
	h := newTestTodoHandler(&mockTodoService{})

	big := `{"title":"` + strings.Repeat("a", maxBodySize) + `"}`
	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/todos", strings.NewReader(big)), "user-1")
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := parseErrorBody(t, w); body.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want INVALID_REQUEST", body.Code)
	}
}

func TestTodoHandler_Get_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"未検出", model.NewTodoNotFoundError("t1"), http.StatusNotFound, model.ErrCodeTodoNotFound},
		{"他人のタスク", model.NewForbiddenError(), http.StatusForbidden, model.ErrCodeForbidden},
		{"ストアエラー", errors.New("boom"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTodoService{
				getFn: func(ctx context.Context, userID, todoID string) (*model.Todo, error) {
					return nil, tt.err
				},
			}
			h := newTestTodoHandler(svc)

			req := httptest.NewRequest(http.MethodGet, "/api/todos/t1", nil)
			req = withChiURLParam(withUserID(req, "user-1"), "id", "t1")
			w := httptest.NewRecorder()
			h.Get(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := parseErrorBody(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestTodoHandler_InvalidTodoID(t *testing.T) {
	for _, id := range []string{"", "has space", "semi;colon", strings.Repeat("a", 65), "../etc"} {
		t.Run(id, func(t *testing.T) {
			called := false
			svc := &mockTodoService{
				deleteFn: func(ctx context.Context, userID, todoID string) error {
					called = true
					return nil
				},
			}
			h := newTestTodoHandler(svc)

			req := httptest.NewRequest(http.MethodDelete, "/api/todos/x", nil)
			req = withChiURLParam(withUserID(req, "user-1"), "id", id)
			w := httptest.NewRecorder()
			h.Delete(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if body := parseErrorBody(t, w); body.Code != model.ErrCodeInvalidTodoID {
				t.Errorf("code = %q, want INVALID_TODO_ID", body.Code)
			}
			if called {
				t.Error("service should not be called")
			}
		})
	}
}

func TestTodoHandler_Replace(t *testing.T) {
	svc := &mockTodoService{
		replaceFn: func(ctx context.Context, userID, todoID string, input model.NewTodo) (*model.Todo, error) {
			if todoID != "abc" || input.Title != "新しいタイトル" || input.Priority != "" {
				t.Errorf("unexpected call: %s %+v", todoID, input)
			}
			todo := sampleTodo(todoID, userID)
			todo.Title = input.Title
			todo.Priority = model.DefaultPriority
			return todo, nil
		},
	}
	h := newTestTodoHandler(svc)

	req := httptest.NewRequest(http.MethodPut, "/api/todos/abc", strings.NewReader(`{"title":"新しいタイトル"}`))
	req = withChiURLParam(withUserID(req, "user-1"), "id", "abc")
	w := httptest.NewRecorder()
	h.Replace(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var got todoResponse
	json.NewDecoder(w.Body).Decode(&got)
	if got.Priority != "medium" {
		t.Errorf("priority = %q, want medium", got.Priority)
	}
}

func TestTodoHandler_Patch(t *testing.T) {
	var captured model.TodoPatch
	svc := &mockTodoService{
		patchFn: func(ctx context.Context, userID, todoID string, patch model.TodoPatch) (*model.Todo, error) {
			captured = patch
			todo := sampleTodo(todoID, userID)
			patch.Apply(todo)
			return todo, nil
		},
	}
	h := newTestTodoHandler(svc)

	req := httptest.NewRequest(http.MethodPatch, "/api/todos/abc", strings.NewReader(`{"completed":true}`))
	req = withChiURLParam(withUserID(req, "user-1"), "id", "abc")
	w := httptest.NewRecorder()
	h.Patch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if captured.Completed == nil || !*captured.Completed || captured.Title != nil {
		t.Errorf("captured patch = %+v", captured)
	}
	var got todoResponse
	json.NewDecoder(w.Body).Decode(&got)
	if !got.Completed {
		t.Error("completed should be true")
	}
}

func TestTodoHandler_Patch_WrongType(t *testing.T) {
	h := newTestTodoHandler(&mockTodoService{})

	req := httptest.NewRequest(http.MethodPatch, "/api/todos/abc", strings.NewReader(`{"completed":"yes"}`))
	req = withChiURLParam(withUserID(req, "user-1"), "id", "abc")
	w := httptest.NewRecorder()
	h.Patch(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := parseErrorBody(t, w); body.Code != model.ErrCodeValidation {
		t.Errorf("code = %q, want VALIDATION_ERROR", body.Code)
	}
}

func TestTodoHandler_Delete(t *testing.T) {
	var deletedID string
	svc := &mockTodoService{
		deleteFn: func(ctx context.Context, userID, todoID string) error {
			deletedID = todoID
			return nil
		},
	}
	h := newTestTodoHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/todos/abc", nil)
	req = withChiURLParam(withUserID(req, "user-1"), "id", "abc")
	w := httptest.NewRecorder()
	h.Delete(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if deletedID != "abc" {
		t.Errorf("deleted = %q, want abc", deletedID)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body should be empty, got %q", w.Body.String())
	}
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := map[string]int{
		model.ErrCodeValidation:         http.StatusBadRequest,
		model.ErrCodeInvalidRequest:     http.StatusBadRequest,
		model.ErrCodeInvalidTodoID:      http.StatusBadRequest,
		model.ErrCodeUnauthorized:       http.StatusUnauthorized,
		model.ErrCodeInvalidCredentials: http.StatusUnauthorized,
		model.ErrCodeForbidden:          http.StatusForbidden,
		model.ErrCodeTodoNotFound:       http.StatusNotFound,
		model.ErrCodeUsernameTaken:      http.StatusConflict,
		model.ErrCodeRateLimited:        http.StatusTooManyRequests,
		model.ErrCodeInternal:           http.StatusInternalServerError,
		"SOMETHING_ELSE":                http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: code}); got != want {
			t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
}
