package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/eyescreen/internal/middleware"
	"github.com/hitoshi/eyescreen/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	// oauthStateMaxAge はGoogleの同意画面から戻るまでの猶予（秒）。
	oauthStateMaxAge = 600
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) (string, error)
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	UIBaseURL     string // ログイン後のリダイレクト先
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はGoogleログインとログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// cookie はこのハンドラーが発行するHttpOnly Cookieを組み立てる。maxAgeが負なら削除になる。
func (h *AuthHandler) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Login はstateを発行してGoogleの同意画面へリダイレクトする。
// GET /auth/google
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.service.GetLoginURL(state)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, h.cookie(oauthStateCookie, state, oauthStateMaxAge))
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// Callback はGoogleからの戻りを処理し、名簿に登録済みのユーザーにだけセッションを発行する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// 1. stateの照合。照合後はstate Cookieを破棄する
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}
	http.SetCookie(w, h.cookie(oauthStateCookie, "", -1))

	// 2. 同意画面でキャンセルされた場合はerrorパラメータが付く
	if idpErr := query.Get("error"); idpErr != "" {
		slog.Info("google sign-in was not completed", slog.String("idp_error", idpErr))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewLoginDeniedError(idpErr))
		return
	}

	code := query.Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	// 3. コード交換と名簿照合
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			slog.Error("oauth callback failed", slog.String("error", err.Error()))
		}
		handleServiceError(w, err)
		return
	}

	// 4. セッションCookieを設定してUIへ戻す
	http.SetCookie(w, h.cookie(middleware.SessionCookieName, session.ID, h.config.SessionMaxAge))
	http.Redirect(w, r, h.config.UIBaseURL, http.StatusFound)
}

// Logout はセッションを破棄する。セッションの有無や破棄の成否にかかわらず200を返し、Cookieを消す。
// DELETE /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, h.cookie(middleware.SessionCookieName, "", -1))
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

// generateState はOAuthのstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
