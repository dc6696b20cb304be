// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// DigestSanitizer はダイジェストメールのHTMLを許可リストでサニタイズする。
// 投稿タイトルや本文は外部由来のため、テンプレートのエスケープに加えて送信前に通す。
type DigestSanitizer struct {
	policy *bluemonday.Policy
}

// NewDigestSanitizer はダイジェスト用のポリシーを構築する。
//   - 許可タグ: p, br, ul, li, em, strong, a
//   - aのhrefはhttp/httpsの絶対URLのみ
//   - aにはtarget="_blank"とrel="noopener noreferrer"を付与
func NewDigestSanitizer() *DigestSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("p", "br", "ul", "li", "em", "strong")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &DigestSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズして返す。同一入力に対して常に同一出力を返す。
func (s *DigestSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
