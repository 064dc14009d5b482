// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Identity はバックエンドが管理する認証主体を表す。
// このサービスでは読み取り専用で、変更はIdentityGateway経由のみ。
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// FullName はメタデータのfull_nameを返す。未設定または文字列以外の場合は空文字列。
func (i *Identity) FullName() string {
	if i == nil || i.Metadata == nil {
		return ""
	}
	name, _ := i.Metadata["full_name"].(string)
	return strings.TrimSpace(name)
}

// EmailLocalPart はメールアドレスの@より前の部分を返す。
func EmailLocalPart(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found {
		return email
	}
	return local
}

// Session はバックエンドが発行したトークンの組を表す。
// このサービスでは永続化せず、Cookieまたはヘッダーでのみ運ぶ。
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int       `json:"expires_in,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// MaxAge はアクセストークンCookieに設定する有効期間（秒）を返す。
// 期限切れの場合は0を返す。
func (s *Session) MaxAge(now time.Time) int {
	if s.ExpiresAt.IsZero() {
		return s.ExpiresIn
	}
	remaining := int(s.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Profile はIdentityと1対1で対応するプロフィールを表す。
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name"`
	Username  *string   `json:"username"`
	AvatarURL *string   `json:"avatar_url"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileDetails はオーナーが変更できるプロフィール項目。
// nilのフィールドは更新しない。roleは含めない。
type ProfileDetails struct {
	FullName  *string
	AvatarURL *string
}
