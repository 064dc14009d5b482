package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/authgate/internal/model"
)

func responseCookies(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestCookieStore_SetAttributes(t *testing.T) {
	rec := httptest.NewRecorder()
	store := NewCookieStore(rec, httptest.NewRequest(http.MethodGet, "/", nil), CookieConfig{Domain: "example.com"})

	store.Set("name", "value", CookieAttrs{HTTPOnly: true, MaxAge: 60})

	c := responseCookies(rec)["name"]
	require.NotNil(t, c)
	assert.Equal(t, "value", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, "example.com", c.Domain)
	assert.Equal(t, 60, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestCookieStore_LastWriteWins(t *testing.T) {
	rec := httptest.NewRecorder()
	store := NewCookieStore(rec, httptest.NewRequest(http.MethodGet, "/", nil), CookieConfig{})

	store.Set("a", "1", CookieAttrs{})
	store.Set("b", "keep", CookieAttrs{})
	store.Set("a", "2", CookieAttrs{})
	store.Delete("b")
	store.Set("b", "again", CookieAttrs{})

	headers := rec.Header().Values("Set-Cookie")
	assert.Len(t, headers, 2)

	cookies := responseCookies(rec)
	assert.Equal(t, "2", cookies["a"].Value)
	assert.Equal(t, "again", cookies["b"].Value)
}

func TestCookieStore_Delete(t *testing.T) {
	rec := httptest.NewRecorder()
	store := NewCookieStore(rec, httptest.NewRequest(http.MethodGet, "/", nil), CookieConfig{Domain: "example.com", Path: "/app"})

	store.Delete(AccessTokenCookie)

	c := responseCookies(rec)[AccessTokenCookie]
	require.NotNil(t, c)
	assert.Empty(t, c.Value)
	assert.Equal(t, -1, c.MaxAge)
	assert.Equal(t, "/app", c.Path)
	assert.Equal(t, "example.com", c.Domain)
}

func TestCookieStore_Get(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CodeVerifierCookie, Value: "ver"})
	req.AddCookie(&http.Cookie{Name: "empty", Value: ""})
	store := NewCookieStore(httptest.NewRecorder(), req, CookieConfig{})

	v, ok := store.Get(CodeVerifierCookie)
	assert.True(t, ok)
	assert.Equal(t, "ver", v)

	_, ok = store.Get("empty")
	assert.False(t, ok)
	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestCookieStore_SetSession(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := httptest.NewRecorder()
	store := NewCookieStore(rec, httptest.NewRequest(http.MethodGet, "/", nil), CookieConfig{
		RefreshTokenHTTPOnly: true,
		RefreshTokenMaxAge:   720 * time.Hour,
	})
	store.now = func() time.Time { return now }

	store.SetSession(&model.Session{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: now.Add(time.Hour)})

	cookies := responseCookies(rec)
	access := cookies[AccessTokenCookie]
	require.NotNil(t, access)
	assert.Equal(t, "acc", access.Value)
	assert.Equal(t, 3600, access.MaxAge)
	assert.False(t, access.HttpOnly, "access token is readable by client script by default")

	refresh := cookies[RefreshTokenCookie]
	require.NotNil(t, refresh)
	assert.Equal(t, "ref", refresh.Value)
	assert.Equal(t, 720*3600, refresh.MaxAge)
	assert.True(t, refresh.HttpOnly)
}

func TestCookieStore_SetSessionWithoutRefreshToken(t *testing.T) {
	rec := httptest.NewRecorder()
	store := NewCookieStore(rec, httptest.NewRequest(http.MethodGet, "/", nil), CookieConfig{})

	store.SetSession(&model.Session{AccessToken: "acc", ExpiresIn: 3600})

	cookies := responseCookies(rec)
	assert.Contains(t, cookies, AccessTokenCookie)
	assert.NotContains(t, cookies, RefreshTokenCookie)
}

func TestCookieStore_ClearSession(t *testing.T) {
	rec := httptest.NewRecorder()
	store := NewCookieStore(rec, httptest.NewRequest(http.MethodGet, "/", nil), CookieConfig{})

	store.Set(AccessTokenCookie, "acc", CookieAttrs{})
	store.ClearSession()

	cookies := responseCookies(rec)
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, LegacyAuthCookie} {
		c, ok := cookies[name]
		require.True(t, ok, "cookie %s should be cleared", name)
		assert.Equal(t, -1, c.MaxAge)
	}
	assert.Len(t, rec.Header().Values("Set-Cookie"), 3)
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"header only", "Bearer h", "", "h"},
		{"cookie only", "", "c", "c"},
		{"header wins", "Bearer h", "c", "h"},
		{"lowercase scheme", "bearer h", "", "h"},
		{"non bearer falls back", "Basic xyz", "c", "c"},
		{"empty bearer falls back", "Bearer ", "c", "c"},
		{"neither", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, TokenFromRequest(req))
		})
	}
}
