package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/validation"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, username, password string) (*model.User, *model.Session, error)
	Login(ctx context.Context, username, password string) (*model.User, *model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandler はユーザー登録・ログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	validator *validation.Validator
	cookie    middleware.SessionCookie
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, validator *validation.Validator, cookie middleware.SessionCookie) *AuthHandler {
	return &AuthHandler{
		service:   service,
		validator: validator,
		cookie:    cookie,
	}
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username}
}

// Register はユーザーを登録し、セッションCookieを発行する。
// POST /api/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.credentials(w, r)
	if !ok {
		return
	}

	user, session, err := h.service.Register(r.Context(), creds.Username, creds.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.cookie.Set(w, session.ID)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Login はユーザー名とパスワードで認証し、セッションCookieを発行する。
// POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.credentials(w, r)
	if !ok {
		return
	}

	user, session, err := h.service.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.cookie.Set(w, session.ID)
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Logout はセッションを破棄する。
// POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := h.cookie.SessionIDFromRequest(r); ok {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.cookie.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のユーザー情報を返す。SessionMiddlewareの後に配置すること。
// GET /api/user
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *AuthHandler) credentials(w http.ResponseWriter, r *http.Request) (validation.Credentials, bool) {
	body, err := readBody(w, r)
	if err != nil {
		handleServiceError(w, err)
		return validation.Credentials{}, false
	}
	creds, err := h.validator.Credentials(body)
	if err != nil {
		handleServiceError(w, err)
		return validation.Credentials{}, false
	}
	return creds, true
}
