package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// User は認証APIが返すユーザー。
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// ToIdentity はmodel.Identityへ変換する。
func (u *User) ToIdentity() *model.Identity {
	if u == nil {
		return nil
	}
	return &model.Identity{
		ID:       u.ID,
		Email:    u.Email,
		Metadata: u.UserMetadata,
	}
}

// TokenResponse は認証APIのトークン発行レスポンス。
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// ToSession はmodel.Sessionへ変換する。
// expires_atが無い場合はnow+expires_inで補う。
func (t *TokenResponse) ToSession(now time.Time) *model.Session {
	s := &model.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresIn:    t.ExpiresIn,
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return s
}

// SignUpResponse はサインアップのレスポンス。
// メール確認が必要な場合、トークンは空でユーザー項目がトップレベルに入る。
type SignUpResponse struct {
	TokenResponse
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// SessionUser はレスポンスのユーザーを返す。
func (r *SignUpResponse) SessionUser() *User {
	if r.User != nil {
		return r.User
	}
	if r.ID == "" {
		return nil
	}
	return &User{ID: r.ID, Email: r.Email, UserMetadata: r.UserMetadata}
}

// HasSession はセッションが発行されたかどうかを返す。
func (r *SignUpResponse) HasSession() bool {
	return r.AccessToken != ""
}

// SignInWithPassword はメールアドレスとパスワードでトークンを発行する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*TokenResponse, error) {
	var out TokenResponse
	err := c.do(ctx, request{
		operation: "sign_in",
		method:    http.MethodPost,
		path:      authPathPrefix + "/token",
		query:     url.Values{"grant_type": {"password"}},
		body: map[string]string{
			"email":    email,
			"password": password,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SignUp はアカウントを作成する。metadataはuser_metadataとして保存される。
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResponse, error) {
	var out SignUpResponse
	err := c.do(ctx, request{
		operation: "sign_up",
		method:    http.MethodPost,
		path:      authPathPrefix + "/signup",
		body: map[string]any{
			"email":    email,
			"password": password,
			"data":     metadata,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExchangeCode はOAuth・マジックリンクの認可コードをトークンに交換する。
// verifierはPKCEのcode_verifierで、空でもよい。
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*TokenResponse, error) {
	var out TokenResponse
	err := c.do(ctx, request{
		operation: "exchange_code",
		method:    http.MethodPost,
		path:      authPathPrefix + "/token",
		query:     url.Values{"grant_type": {"pkce"}},
		body: map[string]string{
			"auth_code":     code,
			"code_verifier": verifier,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout はアクセストークンに紐づくセッションを失効させる。
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, request{
		operation: "sign_out",
		method:    http.MethodPost,
		path:      authPathPrefix + "/logout",
		bearer:    accessToken,
	}, nil)
}

// GetUser はアクセストークンの持ち主を取得する。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var out User
	err := c.do(ctx, request{
		operation: "get_user",
		method:    http.MethodGet,
		path:      authPathPrefix + "/user",
		bearer:    accessToken,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
