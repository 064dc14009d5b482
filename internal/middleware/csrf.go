package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
)

// NewOriginCheckMiddleware は状態変更メソッドのクロスサイト送信を拒否するミドルウェアを返す。
// セッションCookieはSameSite=Laxだが、同一サイトの別オリジンからの送信も防ぐため
// Originヘッダーを許可オリジンまたは自ホストと照合する。
// Originを送らないクライアント（サーバー間呼び出しなど）はそのまま通す。
// exemptPathsに一致するパスは照合しない（常にリダイレクトするサインアウトなど）。
func NewOriginCheckMiddleware(allowedOrigins []string, exemptPaths ...string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exempt[r.URL.Path]; ok || isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			o := normalizeOrigin(origin)
			if _, ok := allowed[o]; ok || sameHost(o, r.Host) {
				next.ServeHTTP(w, r)
				return
			}

			slog.Warn("cross-origin request rejected",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("origin", origin),
			)
			WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
				Kind:    model.KindAuthorization,
				Code:    "cross_origin_rejected",
				Message: "Cross-origin request rejected",
			})
		})
	}
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// normalizeOrigin はscheme://host形式に揃える。解釈できない値は空文字を返す。
func normalizeOrigin(origin string) string {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func sameHost(origin, host string) bool {
	if origin == "" || host == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}
