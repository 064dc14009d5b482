package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "anon-key", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresURLAndKey(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k"})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "http://localhost"})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "not a url", APIKey: "k"})
	assert.Error(t, err)
}

func TestClient_SignInWithPassword_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@example.com", body["email"])
		assert.Equal(t, "secret123", body["password"])

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"token_type":    "bearer",
			"expires_in":    3600,
			"expires_at":    1900000000,
			"user":          map[string]any{"id": "u1", "email": "a@example.com"},
		})
	})

	tok, err := c.SignInWithPassword(context.Background(), "a@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "u1", tok.User.ID)

	s := tok.ToSession(time.Now())
	assert.Equal(t, time.Unix(1900000000, 0), s.ExpiresAt)
}

func TestClient_SignUp_ConfirmationPending(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		data := body["data"].(map[string]any)
		assert.Equal(t, "alice", data["full_name"])

		// メール確認待ちの場合はユーザー項目がトップレベルに返る
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "u2",
			"email": "alice@example.com",
		})
	})

	resp, err := c.SignUp(context.Background(), "alice@example.com", "secret123", map[string]any{"full_name": "alice"})
	require.NoError(t, err)
	assert.False(t, resp.HasSession())
	require.NotNil(t, resp.SessionUser())
	assert.Equal(t, "u2", resp.SessionUser().ID)
}

func TestClient_ExchangeCode_SendsVerifier(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pkce", r.URL.Query().Get("grant_type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "the-code", body["auth_code"])
		assert.Equal(t, "the-verifier", body["code_verifier"])
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at", "expires_in": 60})
	})

	tok, err := c.ExchangeCode(context.Background(), "the-code", "the-verifier")
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
}

func TestClient_BearerFromContextForRowAPI(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("id"))
		w.Write([]byte(`[{"id":"u1"}]`))
	})

	ctx := ContextWithAccessToken(context.Background(), "user-token")
	var rows []map[string]any
	err := c.Select(ctx, "profiles", url.Values{"id": {Eq("u1")}}, &rows)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestClient_FallsBackToAPIKeyBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		w.Write([]byte(`null`))
	})

	require.NoError(t, c.RPC(context.Background(), "noop", map[string]any{}, nil))
}

func TestClient_DecodesErrorShapes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"auth error_code", 422, `{"code":422,"error_code":"user_already_exists","msg":"User already registered"}`, "user_already_exists", "User already registered"},
		{"oauth style", 400, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`, "invalid_grant", "Invalid login credentials"},
		{"row api", 409, `{"code":"23505","message":"duplicate key value","details":null}`, "23505", "duplicate key value"},
		{"legacy numeric code", 400, `{"code":400,"msg":"bad"}`, "", "bad"},
		{"plain text", 502, `upstream down`, "", "upstream down"},
		{"empty", 503, ``, "", "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.GetUser(context.Background(), "tok")
			be, ok := AsError(err)
			require.True(t, ok, "expected *Error, got %v", err)
			assert.Equal(t, tt.status, be.Status)
			assert.Equal(t, tt.wantCode, be.Code)
			assert.Equal(t, tt.wantMsg, be.Message)
		})
	}
}

func TestClient_TransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = c.GetUser(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	_, isBackendErr := AsError(err)
	assert.False(t, isBackendErr)
}

type recordingObserver struct {
	ops []string
}

func (o *recordingObserver) RecordBackendLatency(op string, _ time.Duration) {
	o.ops = append(o.ops, op)
}

func TestClient_RecordsLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Observer: obs})
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background(), "tok"))
	assert.Equal(t, []string{"sign_out"}, obs.ops)
}
