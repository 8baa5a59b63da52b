package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/rewear/internal/middleware"
	"github.com/hitoshi/rewear/internal/model"
)

// AuthHandler はSession ProviderをHTTPで公開するハンドラー。
// 操作対象のProviderはリクエストのクライアントInstanceから取得する。
type AuthHandler struct {
	cookies middleware.CookieConfig
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(cookies middleware.CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{cookies: cookies, logger: logger}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetPasswordRequest struct {
	Email string `json:"email"`
}

// meResponse は GET /api/auth/me のレスポンス。
type meResponse struct {
	User             *model.Account `json:"user"`
	SessionExpiresAt *time.Time     `json:"session_expires_at"`
	Initializing     bool           `json:"initializing"`
	Mode             string         `json:"mode"`
}

// SignUp はアカウントを作成する。
// POST /api/auth/signup
// メール確認が必要な構成ではサインイン状態にならず、userはnullで返る。
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	inst := instance(w, r, h.logger)
	if inst == nil {
		return
	}
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := inst.Provider.SignUp(r.Context(), req.Email, req.Password, req.Username); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	middleware.SyncRefreshCookie(w, r, inst, h.cookies)
	h.writeMe(w, http.StatusCreated, inst.Provider)
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	inst := instance(w, r, h.logger)
	if inst == nil {
		return
	}
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := inst.Provider.SignIn(r.Context(), req.Email, req.Password); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	middleware.SyncRefreshCookie(w, r, inst, h.cookies)
	h.writeMe(w, http.StatusOK, inst.Provider)
}

// SignOut はサインアウトする。
// POST /api/auth/signout
// バックエンドの失効処理が失敗してもローカルのセッションは破棄済みのため、Cookieは常に削除する。
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	inst := instance(w, r, h.logger)
	if inst == nil {
		return
	}

	err := inst.Provider.SignOut(r.Context())
	middleware.SyncRefreshCookie(w, r, inst, h.cookies)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword はパスワード再設定メールの送信を要求する。
// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	inst := instance(w, r, h.logger)
	if inst == nil {
		return
	}
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := inst.Provider.ResetPassword(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Me は現在のセッション状態を返す。
// GET /api/auth/me
// 未サインインでも200を返し、userはnullになる。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	inst := instance(w, r, h.logger)
	if inst == nil {
		return
	}
	h.writeMe(w, http.StatusOK, inst.Provider)
}

// sessionState はmeResponseの組み立てに必要なProviderの読み取り操作。
type sessionState interface {
	CurrentUser() *model.Account
	CurrentSession() *model.Session
	IsInitializing() bool
	Mode() string
}

func (h *AuthHandler) writeMe(w http.ResponseWriter, status int, p sessionState) {
	resp := meResponse{
		User:         p.CurrentUser(),
		Initializing: p.IsInitializing(),
		Mode:         p.Mode(),
	}
	if s := p.CurrentSession(); s != nil && !s.ExpiresAt.IsZero() {
		exp := s.ExpiresAt.UTC()
		resp.SessionExpiresAt = &exp
	}
	writeJSON(w, status, resp)
}
