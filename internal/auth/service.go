// Package auth はバックエンドの認証APIを介したサインイン・サインアップ・
// 認可コード交換・サインアウト・現在ユーザー取得と、セッションCookieの読み書きを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authgate/internal/backend"
	"github.com/hitoshi/authgate/internal/model"
)

// ErrNoUser は認可コード交換の応答にユーザーが含まれなかったことを示す。
var ErrNoUser = errors.New("code exchange returned no user")

// IdentityBackend は認証APIのインターフェース。
// backend.Clientの部分集合として定義する。
type IdentityBackend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*backend.TokenResponse, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*backend.SignUpResponse, error)
	ExchangeCode(ctx context.Context, code, verifier string) (*backend.TokenResponse, error)
	Logout(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*backend.User, error)
}

// ProfileEnsurer はサインアップ・コード交換後にプロフィールを保証する。
type ProfileEnsurer interface {
	Ensure(ctx context.Context, identity *model.Identity) (*model.Profile, error)
}

// AttemptRecorder は認証操作の結果を記録する。
type AttemptRecorder interface {
	RecordAuthAttempt(operation, result string)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	backend  IdentityBackend
	profiles ProfileEnsurer
	metrics  AttemptRecorder
	now      func() time.Time
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(b IdentityBackend, profiles ProfileEnsurer, metrics AttemptRecorder) *Service {
	return &Service{
		backend:  b,
		profiles: profiles,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
// 空の引数ではバックエンドを呼ばない。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (identity *model.Identity, session *model.Session, err error) {
	defer func() { s.record("sign_in", err) }()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, nil, model.NewMissingFieldsError("email", "password")
	}

	tok, err := s.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, nil, mapBackendError(err, func(be *backend.Error) *model.APIError {
			return model.NewInvalidCredentialsError(be)
		})
	}
	if tok.AccessToken == "" || tok.User == nil {
		return nil, nil, model.NewInternalError(errors.New("sign-in response missing session"))
	}

	slog.Info("user signed in", slog.String("user_id", tok.User.ID))
	return tok.User.ToIdentity(), s.sessionFrom(tok), nil
}

// SignUp はアカウントを作成する。
// メール確認が必要な場合、セッションはnilで返る。
// セッションが発行された場合はプロフィールを保証する。保証の失敗はログのみでサインアップは成功扱い。
func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (identity *model.Identity, session *model.Session, err error) {
	defer func() { s.record("sign_up", err) }()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, nil, model.NewMissingFieldsError("email", "password")
	}

	name := strings.TrimSpace(fullName)
	if name == "" {
		name = model.EmailLocalPart(email)
	}

	resp, err := s.backend.SignUp(ctx, email, password, map[string]any{"full_name": name})
	if err != nil {
		return nil, nil, mapBackendError(err, mapSignUpRejection)
	}

	user := resp.SessionUser()
	if user == nil {
		return nil, nil, model.NewInternalError(errors.New("sign-up response missing user"))
	}
	identity = user.ToIdentity()

	if !resp.HasSession() {
		slog.Info("sign-up pending email confirmation", slog.String("user_id", identity.ID))
		return identity, nil, nil
	}

	s.ensureProfile(ctx, identity, resp.AccessToken)
	slog.Info("user signed up", slog.String("user_id", identity.ID))
	return identity, s.sessionFrom(&resp.TokenResponse), nil
}

// ExchangeCode はOAuth・マジックリンクの認可コードをセッションに交換し、プロフィールを保証する。
// バックエンドの4xxは全てinvalid_codeとして扱う。再試行はしない。
func (s *Service) ExchangeCode(ctx context.Context, code, verifier string) (identity *model.Identity, session *model.Session, err error) {
	defer func() { s.record("exchange_code", err) }()

	if code == "" {
		return nil, nil, model.NewMissingFieldsError("code")
	}

	tok, err := s.backend.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return nil, nil, mapBackendError(err, func(be *backend.Error) *model.APIError {
			return model.NewInvalidCodeError(be)
		})
	}
	if tok.User == nil || tok.User.ID == "" {
		return nil, nil, model.NewInternalError(ErrNoUser)
	}

	identity = tok.User.ToIdentity()
	s.ensureProfile(ctx, identity, tok.AccessToken)

	slog.Info("authorization code exchanged", slog.String("user_id", identity.ID))
	return identity, s.sessionFrom(tok), nil
}

// SignOut はセッションを失効させる。
// トークンが空、またはバックエンドが既に無効と判断した場合（401/403/404）も成功とする。
func (s *Service) SignOut(ctx context.Context, accessToken string) (err error) {
	defer func() { s.record("sign_out", err) }()

	if accessToken == "" {
		return nil
	}

	err = s.backend.Logout(ctx, accessToken)
	if be, ok := backend.AsError(err); ok {
		switch be.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return nil
		}
	}
	if err != nil {
		return mapBackendError(err, nil)
	}
	return nil
}

// GetCurrentUser はアクセストークンの持ち主を返す。
// JWTとして不正な形式、または期限切れのトークンはバックエンドを呼ばずに拒否する。
func (s *Service) GetCurrentUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	if accessToken == "" {
		return nil, model.NewUnauthenticatedError(errors.New("no access token"))
	}
	if err := s.precheckToken(accessToken); err != nil {
		return nil, model.NewUnauthenticatedError(err)
	}

	user, err := s.backend.GetUser(ctx, accessToken)
	if err != nil {
		return nil, mapBackendError(err, func(be *backend.Error) *model.APIError {
			return model.NewUnauthenticatedError(be)
		})
	}
	if user == nil || user.ID == "" {
		return nil, model.NewUnauthenticatedError(errors.New("backend returned no user"))
	}
	return user.ToIdentity(), nil
}

// precheckToken は署名を検証せずにJWTの形式とexpを確認する。
// 署名の検証はバックエンドが行う。
func (s *Service) precheckToken(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("malformed access token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp != nil && !s.now().Before(exp.Time) {
		return errors.New("access token expired")
	}
	return nil
}

// sessionFrom はトークン応答からSessionを作る。
// 有効期限が応答に無い場合はJWTのexpで補う。
func (s *Service) sessionFrom(tok *backend.TokenResponse) *model.Session {
	session := tok.ToSession(s.now())
	if session.ExpiresAt.IsZero() {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				session.ExpiresAt = exp.Time
			}
		}
	}
	return session
}

// ensureProfile は発行されたばかりのトークンで行APIを呼び、プロフィールを保証する。
func (s *Service) ensureProfile(ctx context.Context, identity *model.Identity, accessToken string) {
	if s.profiles == nil {
		return
	}
	ctx = backend.ContextWithAccessToken(ctx, accessToken)
	if _, err := s.profiles.Ensure(ctx, identity); err != nil {
		slog.Error("failed to ensure profile",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) record(operation string, err error) {
	if s.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = model.ErrCodeInternal
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			result = apiErr.Code
		}
	}
	s.metrics.RecordAuthAttempt(operation, result)
}

// mapSignUpRejection はサインアップの4xxを分類する。
func mapSignUpRejection(be *backend.Error) *model.APIError {
	switch {
	case be.Code == "user_already_exists" || be.Code == "email_exists" ||
		strings.Contains(strings.ToLower(be.Message), "already registered"):
		return model.NewDuplicateEmailError(be)
	case be.Code == "weak_password":
		return model.NewWeakPasswordError(be.Message, be)
	default:
		slog.Warn("sign-up rejected by backend",
			slog.Int("status", be.Status),
			slog.String("backend_code", be.Code),
			slog.String("backend_message", be.Message),
		)
		return model.NewInvalidInputError(be)
	}
}

// mapBackendError はバックエンドのエラーを分類する。
// onClientErrorは4xx（429を除く）に対して呼ばれる。それ以外は内部エラー、
// 到達不能・タイムアウト・429は再試行可能なbackend_unavailableになる。
func mapBackendError(err error, onClientError func(*backend.Error) *model.APIError) error {
	if errors.Is(err, backend.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return model.NewBackendUnavailableError(err)
	}
	if be, ok := backend.AsError(err); ok {
		if be.Status == http.StatusTooManyRequests {
			return model.NewBackendUnavailableError(err)
		}
		if be.IsClientError() && onClientError != nil {
			return onClientError(be)
		}
	}
	return model.NewInternalError(err)
}

// compile-time interface check
var _ IdentityBackend = (*backend.Client)(nil)
