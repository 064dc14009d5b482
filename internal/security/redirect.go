package security

import (
	"net/url"
	"strings"
)

// SafeRedirectPath はサイト内の相対パスのみを許可し、それ以外は"/"を返す。
// スキーム付きURL、"//host"、バックスラッシュを含むパスはオープンリダイレクトになり得るため拒否する。
func SafeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	if strings.HasPrefix(candidate, "//") || strings.ContainsAny(candidate, "\\\r\n\t") {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return "/"
	}
	return candidate
}
