// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/backend"
	"github.com/hitoshi/authgate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey     = contextKey("user_id")
	identityContextKey   = contextKey("identity")
	userIDSlotContextKey = contextKey("user_id_slot")
)

// Authenticator はアクセストークンから現在のユーザーを解決する。
// auth.Serviceの部分集合として定義する。
type Authenticator interface {
	GetCurrentUser(ctx context.Context, accessToken string) (*model.Identity, error)
}

// NewAuthMiddleware はAuthorizationヘッダーまたはアクセストークンCookieから
// ユーザーを解決し、リクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401、バックエンド不達には503を返す。
// 注入したトークンは以降の行APIの呼び出しでも使われる。
func NewAuthMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r)
			if token == "" {
				WriteError(w, r, model.NewUnauthenticatedError(errors.New("no access token")))
				return
			}

			identity, err := authenticator.GetCurrentUser(r.Context(), token)
			if err != nil {
				WriteError(w, r, err)
				return
			}

			ctx := ContextWithIdentity(r.Context(), identity)
			ctx = backend.ContextWithAccessToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext は認証ミドルウェアが注入したIdentityを返す。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	return identity, ok && identity != nil
}

// ContextWithIdentity はコンテキストにIdentityとそのユーザーIDを注入する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	ctx = context.WithValue(ctx, identityContextKey, identity)
	if identity != nil {
		ctx = ContextWithUserID(ctx, identity.ID)
	}
	return ctx
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", errors.New("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if slot, ok := ctx.Value(userIDSlotContextKey).(*string); ok {
		*slot = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

// withUserIDSlot は外側のミドルウェアが内側で確定したユーザーIDを受け取るための書き込み先を登録する。
func withUserIDSlot(ctx context.Context, slot *string) context.Context {
	return context.WithValue(ctx, userIDSlotContextKey, slot)
}
