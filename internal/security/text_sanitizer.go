// Package security はユーザー入力の無害化など、アプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はタスクのタイトル・説明からHTMLマークアップを取り除き、
// プレーンテキストとして保存できる形に整える。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はbluemondayのStrictPolicyでマークアップをすべて除去する。
// ポリシーはスレッドセーフなので1インスタンスを共有してよい。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エスケープされた実体参照を元の文字に戻して返す。
// 前後の空白は取り除く。script・styleの中身はテキストとしても残らない。
// 同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
