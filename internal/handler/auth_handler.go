// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/authz"
	"github.com/hitoshi/authgate/internal/backend"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/security"
)

// コールバック失敗時にエラーページへ渡すエラーコード
const (
	callbackErrMissingCode = "missing_code"
	callbackErrInvalidCode = "invalid_code"
	callbackErrNoUser      = "no_user"
	callbackErrGeneric     = "callback_error"
)

const signUpPendingMessage = "Check your email to confirm your account"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, *model.Session, error)
	SignUp(ctx context.Context, email, password, fullName string) (*model.Identity, *model.Session, error)
	ExchangeCode(ctx context.Context, code, verifier string) (*model.Identity, *model.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetCurrentUser(ctx context.Context, accessToken string) (*model.Identity, error)
}

// ProfileReader はプロフィールの取得を行う。
type ProfileReader interface {
	Get(ctx context.Context, identityID string) (*model.Profile, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookies auth.CookieConfig

	// ErrorPath はコールバック失敗時のリダイレクト先（サイト内パス）。
	ErrorPath string
}

// AuthHandler はサインイン・サインアップ・セッション関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	profiles ProfileReader
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, profiles ProfileReader, config AuthHandlerConfig) *AuthHandler {
	if config.ErrorPath == "" {
		config.ErrorPath = "/auth"
	}
	return &AuthHandler{
		service:  service,
		profiles: profiles,
		config:   config,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type signInResponse struct {
	User    *model.Identity `json:"user"`
	Profile *model.Profile  `json:"profile"`
}

type signUpResponse struct {
	Success bool            `json:"success"`
	User    *model.Identity `json:"user,omitempty"`
	Message string          `json:"message,omitempty"`
}

type sessionResponse struct {
	User    *model.Identity `json:"user"`
	Session sessionToken    `json:"session"`
}

type sessionToken struct {
	AccessToken string `json:"access_token"`
}

type authorizeResponse struct {
	Allowed  bool       `json:"allowed"`
	Role     model.Role `json:"role"`
	Required model.Role `json:"required"`
}

// Callback は認可コードをセッションに交換し、nextへリダイレクトする。
// GET /auth/callback?code=xxx&next=/path
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectCallbackError(w, r, callbackErrMissingCode)
		return
	}

	cookies := auth.NewCookieStore(w, r, h.config.Cookies)
	verifier, hasVerifier := cookies.Get(auth.CodeVerifierCookie)

	identity, session, err := h.service.ExchangeCode(r.Context(), code, verifier)
	if err != nil {
		h.redirectCallbackError(w, r, callbackErrorCode(err))
		return
	}

	if hasVerifier {
		cookies.Delete(auth.CodeVerifierCookie)
	}
	cookies.SetSession(session)

	slog.Info("code exchange succeeded", slog.String("user_id", identity.ID))
	http.Redirect(w, r, security.SafeRedirectPath(r.URL.Query().Get("next")), http.StatusFound)
}

// callbackErrorCode は交換失敗の原因をエラーページ用のコードに変換する。
func callbackErrorCode(err error) string {
	if errors.Is(err, auth.ErrNoUser) {
		return callbackErrNoUser
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidCode {
		return callbackErrInvalidCode
	}
	return callbackErrGeneric
}

func (h *AuthHandler) redirectCallbackError(w http.ResponseWriter, r *http.Request, code string) {
	slog.Warn("auth callback failed", slog.String("error_code", code))
	target := h.config.ErrorPath + "?" + url.Values{"error": {code}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// Session は現在のユーザーとアクセストークンを返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	identity, err := requireIdentity(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		User:    identity,
		Session: sessionToken{AccessToken: backend.AccessTokenFromContext(r.Context())},
	})
}

// SignIn はメールアドレスとパスワードでサインインし、セッションCookieを設定する。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	identity, session, err := h.service.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	auth.NewCookieStore(w, r, h.config.Cookies).SetSession(session)

	// プロフィールが取得できなくてもサインイン自体は成功とする
	ctx := backend.ContextWithAccessToken(r.Context(), session.AccessToken)
	profile, err := h.profiles.Get(ctx, identity.ID)
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Kind != model.KindNotFound {
			slog.Warn("failed to load profile after sign-in",
				slog.String("user_id", identity.ID),
				slog.String("error", err.Error()),
			)
		}
		profile = nil
	}

	writeJSON(w, http.StatusOK, signInResponse{User: identity, Profile: profile})
}

// SignUp はアカウントを作成する。メール確認が必要な場合はCookieを設定せずメッセージを返す。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	identity, session, err := h.service.SignUp(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if session == nil {
		writeJSON(w, http.StatusOK, signUpResponse{Success: true, Message: signUpPendingMessage})
		return
	}

	auth.NewCookieStore(w, r, h.config.Cookies).SetSession(session)
	writeJSON(w, http.StatusOK, signUpResponse{Success: true, User: identity})
}

// SignOut はセッションを破棄し、全セッションCookieを削除して/へリダイレクトする。
// バックエンド側の失敗はログのみに記録し、常にリダイレクトする。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context(), auth.TokenFromRequest(r)); err != nil {
		slog.Warn("sign-out failed, clearing cookies anyway", slog.String("error", err.Error()))
	}

	auth.NewCookieStore(w, r, h.config.Cookies).ClearSession()
	http.Redirect(w, r, "/", http.StatusFound)
}

// Authorize は現在のユーザーのロールがroleクエリ以上かを判定する。
// GET /auth/authorize?role=editor
func (h *AuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	required, err := authz.ParseRequiredRole(r.URL.Query().Get("role"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	identity, err := requireIdentity(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	role, err := viewerRole(r.Context(), h.profiles, identity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := authz.RequireRole(role, required); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authorizeResponse{Allowed: true, Role: role, Required: required})
}

// viewerRole はidentityのプロフィールに記録されたロールを返す。
// プロフィールが無い場合は最下位のロールとみなす。
func viewerRole(ctx context.Context, profiles ProfileReader, identity *model.Identity) (model.Role, error) {
	p, err := profiles.Get(ctx, identity.ID)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Kind == model.KindNotFound {
			return model.RoleSubscriber, nil
		}
		return "", err
	}
	return p.Role, nil
}
