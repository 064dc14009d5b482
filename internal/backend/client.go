// Package backend は外部の認証・データバックエンド（GoTrue互換の認証APIと
// PostgREST互換の行API）へのHTTPクライアントを提供する。
// 起動時に1つだけ生成し、各コンポーネントに注入して使う。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	authPathPrefix = "/auth/v1"
	restPathPrefix = "/rest/v1"

	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
)

// LatencyObserver はバックエンド呼び出しのレイテンシを記録する。
type LatencyObserver interface {
	RecordBackendLatency(operation string, duration time.Duration)
}

// Config はバックエンドクライアントの設定。
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// テスト用にオーバーライド可能
	HTTPClient *http.Client
	Observer   LatencyObserver
}

// Client はバックエンドへの唯一のハンドル。並行利用して安全。
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	observer LatencyObserver
}

// NewClient はClientを生成する。BaseURLとAPIKeyは必須。
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("backend API key is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		http:     httpClient,
		observer: cfg.Observer,
	}, nil
}

// request はバックエンドへの1回のHTTP呼び出しを表す。
type request struct {
	operation string
	method    string
	path      string
	query     url.Values
	body      any
	bearer    string
	headers   map[string]string
}

// do はリクエストを送信し、2xxならoutへデコードする。
// 2xx以外は*Errorを返す。通信失敗とタイムアウトはErrUnavailableをラップする。
// 再試行はしない。
func (c *Client) do(ctx context.Context, req request, out any) error {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.RecordBackendLatency(req.operation, time.Since(start))
		}
	}()

	endpoint := c.baseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", req.operation, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", req.operation, err)
	}
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	bearer := req.bearer
	if bearer == "" {
		bearer = c.apiKey
	}
	httpReq.Header.Set("Authorization", "Bearer "+bearer)
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request failed: %w: %w", req.operation, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w: %w", req.operation, ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", req.operation, err)
	}
	return nil
}

type accessTokenKey struct{}

// ContextWithAccessToken は行APIの呼び出しに使うユーザーのアクセストークンを
// コンテキストに格納する。行レベルのアクセス制御はこのトークンで評価される。
func ContextWithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessTokenFromContext はコンテキストのアクセストークンを返す。未設定なら空文字列。
func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenKey{}).(string)
	return token
}
