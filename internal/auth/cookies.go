package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// セッションCookie名。クライアント側のスクリプトと共有しているため変更しないこと。
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
	LegacyAuthCookie   = "supabase-auth-token"

	// CodeVerifierCookie はPKCEのcode_verifierをクライアントが保存するCookie。
	CodeVerifierCookie = "sb-code-verifier"
)

// sessionCookieNames はClearSessionで削除する全Cookie名。
var sessionCookieNames = []string{AccessTokenCookie, RefreshTokenCookie, LegacyAuthCookie}

// CookieConfig はセッションCookieの属性設定。
// SecureとSameSite=Laxは固定で、設定では変更できない。
type CookieConfig struct {
	Domain string
	Path   string

	// アクセストークンCookieは既定でスクリプトから読める（クライアント側のトークン更新が読むため）。
	AccessTokenHTTPOnly  bool
	RefreshTokenHTTPOnly bool
	RefreshTokenMaxAge   time.Duration
}

// CookieAttrs はCookieごとに変わる属性。
type CookieAttrs struct {
	HTTPOnly bool
	MaxAge   int // 秒。0はブラウザセッション限り
}

// CookieStore は1つのレスポンスに対するCookieの読み書きを扱う。
// 同一レスポンス内では同名Cookieへの最後の書き込みだけが残る。
type CookieStore struct {
	w   http.ResponseWriter
	r   *http.Request
	cfg CookieConfig
	now func() time.Time
}

// NewCookieStore はリクエスト・レスポンスの組に対するCookieStoreを生成する。
func NewCookieStore(w http.ResponseWriter, r *http.Request, cfg CookieConfig) *CookieStore {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &CookieStore{w: w, r: r, cfg: cfg, now: time.Now}
}

// Get はリクエストに含まれるCookieの値を返す。
func (s *CookieStore) Get(name string) (string, bool) {
	c, err := s.r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Set はCookieを書き込む。
func (s *CookieStore) Set(name, value string, attrs CookieAttrs) {
	s.write(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.cfg.Path,
		Domain:   s.cfg.Domain,
		MaxAge:   attrs.MaxAge,
		HttpOnly: attrs.HTTPOnly,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Delete は設定時と同じPathとDomainでCookieを失効させる。
func (s *CookieStore) Delete(name string) {
	s.write(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     s.cfg.Path,
		Domain:   s.cfg.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetSession はアクセストークンと、あればリフレッシュトークンを書き込む。
func (s *CookieStore) SetSession(session *model.Session) {
	if session == nil || session.AccessToken == "" {
		return
	}
	s.Set(AccessTokenCookie, session.AccessToken, CookieAttrs{
		HTTPOnly: s.cfg.AccessTokenHTTPOnly,
		MaxAge:   session.MaxAge(s.now()),
	})
	if session.RefreshToken != "" {
		s.Set(RefreshTokenCookie, session.RefreshToken, CookieAttrs{
			HTTPOnly: s.cfg.RefreshTokenHTTPOnly,
			MaxAge:   int(s.cfg.RefreshTokenMaxAge.Seconds()),
		})
	}
}

// ClearSession は既知のセッションCookieを、存在の有無にかかわらず全て削除する。
func (s *CookieStore) ClearSession() {
	for _, name := range sessionCookieNames {
		s.Delete(name)
	}
}

// write は同名の保留中Set-Cookieを取り除いてから追加する。
func (s *CookieStore) write(c *http.Cookie) {
	h := s.w.Header()
	existing := h.Values("Set-Cookie")
	kept := make([]string, 0, len(existing))
	for _, v := range existing {
		if pc, err := http.ParseSetCookie(v); err == nil && pc.Name == c.Name {
			continue
		}
		kept = append(kept, v)
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
	http.SetCookie(s.w, c)
}

// TokenFromRequest はアクセストークンを取り出す。
// Authorization: Bearerヘッダーがあればそれを優先し、無ければアクセストークンCookieを使う。
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil {
		return c.Value
	}
	return ""
}
