package backend

import (
	"context"
	"net/http"
	"net/url"
)

// PostgRESTのエラーコード
const (
	// CodeNoRows はsingle-objectで0件だった場合のコード。
	CodeNoRows = "PGRST116"
)

// Select はテーブルの行を取得してoutへデコードする。
// queryにはPostgRESTのフィルタ（例: id=eq.xxx）を渡す。
func (c *Client) Select(ctx context.Context, table string, query url.Values, out any) error {
	return c.do(ctx, request{
		operation: "select_" + table,
		method:    http.MethodGet,
		path:      restPathPrefix + "/" + table,
		query:     query,
		bearer:    AccessTokenFromContext(ctx),
	}, out)
}

// Update はフィルタに一致する行を更新し、更新後の行をoutへデコードする。
func (c *Client) Update(ctx context.Context, table string, query url.Values, values any, out any) error {
	return c.do(ctx, request{
		operation: "update_" + table,
		method:    http.MethodPatch,
		path:      restPathPrefix + "/" + table,
		query:     query,
		body:      values,
		bearer:    AccessTokenFromContext(ctx),
		headers:   map[string]string{"Prefer": "return=representation"},
	}, out)
}

// RPC はデータベース関数を呼び出し、戻り値をoutへデコードする。
func (c *Client) RPC(ctx context.Context, function string, args any, out any) error {
	return c.do(ctx, request{
		operation: "rpc_" + function,
		method:    http.MethodPost,
		path:      restPathPrefix + "/rpc/" + function,
		body:      args,
		bearer:    AccessTokenFromContext(ctx),
	}, out)
}

// Ping はバックエンドの行APIに到達できるかを確認する。
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, request{
		operation: "ping",
		method:    http.MethodGet,
		path:      restPathPrefix + "/",
	}, nil)
}

// Eq はPostgRESTの等価フィルタ値を返す。
func Eq(v string) string {
	return "eq." + v
}

// Neq はPostgRESTの非等価フィルタ値を返す。
func Neq(v string) string {
	return "neq." + v
}
