package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプロバイダから受け取った文字列（エラーメッセージ、表示名）を
// プレーンテキストに変換する。
// WordPressのエラーメッセージは"<strong>Error:</strong> ..."のようにHTMLを含むため、
// クライアントへ中継する前にタグを除去する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグをすべて除去するTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Plain はHTMLタグを除去し、エンティティを復元して連続空白を1つにまとめる。
func (s *TextSanitizer) Plain(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	// bluemondayはテキストをエスケープして返すため、プレーンテキストとして戻す
	unescaped := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(unescaped), " ")
}
