// Package security はアプリケーションのセキュリティ機能を提供する。
//
// CommentSanitizer はコメント本文からマークアップを除去し、
// 保存される本文がプレーンテキストのみになるようにする。
// リダイレクト先の検証はSafeRedirectPathを使う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はコメント本文のサニタイズ機能のインターフェースを定義する。
type ContentSanitizer interface {
	// Sanitize は全てのタグを除去し、前後の空白をトリムしたプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// commentSanitizer はContentSanitizerの実装。
// bluemondayのポリシーはスレッドセーフで、生成後は共有して使う。
type commentSanitizer struct {
	policy *bluemonday.Policy
}

// NewCommentSanitizer はタグを一切許可しないStrictPolicyのサニタイザを生成する。
func NewCommentSanitizer() *commentSanitizer {
	return &commentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses は実体参照の多重エンコードを剥がす回数の上限。
const maxSanitizePasses = 8

// Sanitize はタグを除去し、bluemondayがエスケープした実体参照を元に戻す。
// 戻した結果に再びタグが現れうるため、出力が変化しなくなるまで繰り返す。
// 上限までに収束しない場合はエスケープされたままの本文を返す。
// 本文はJSONで返却され、表示側でエスケープされる。
func (s *commentSanitizer) Sanitize(raw string) string {
	current := raw
	for range maxSanitizePasses {
		stripped := s.policy.Sanitize(current)
		next := strings.TrimSpace(html.UnescapeString(stripped))
		if next == current {
			return next
		}
		current = next
	}
	return strings.TrimSpace(s.policy.Sanitize(current))
}

// compile-time interface check
var _ ContentSanitizer = (*commentSanitizer)(nil)
