package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrUnavailable はバックエンドに到達できなかった、またはタイムアウトしたことを示す。
var ErrUnavailable = errors.New("backend unavailable")

// Error はバックエンドが返した2xx以外の応答を表す。
// 認証APIと行APIのエラー形式の違いはdecodeErrorで吸収する。
type Error struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// IsClientError は4xx応答かどうかを返す。
func (e *Error) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// AsError はerrが*Errorを含む場合にそれを返す。
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// HasCode はerrが指定コードのいずれかを持つ*Errorかどうかを返す。
func HasCode(err error, codes ...string) bool {
	be, ok := AsError(err)
	if !ok {
		return false
	}
	for _, c := range codes {
		if be.Code == c {
			return true
		}
	}
	return false
}

// decodeError はエラー応答ボディを*Errorに変換する。
// 対応する形式:
//
//	{"error_code": "...", "msg": "..."}               認証API
//	{"error": "...", "error_description": "..."}      OAuth風
//	{"code": "23505", "message": "...", "details": ...} 行API
//	{"code": 400, "msg": "..."}                        旧認証API
func decodeError(status int, body []byte) *Error {
	e := &Error{Status: status}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
		return e
	}

	e.Code = firstString(raw, "error_code", "code", "error")
	e.Message = firstString(raw, "msg", "message", "error_description", "error")
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// firstString は最初に見つかった非空の値を文字列として返す。
// 数値のcodeはHTTPステータスの重複なので無視する。
func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			if k != "code" {
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
	}
	return ""
}
