// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は出品アイテムのタイトルや説明文からマークアップを除去し、
// 一覧表示時のXSSを防ぐ。bluemondayのStrictPolicyで全タグを落とした後、
// エンティティを戻してプレーンテキストとして保存する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はユーザー入力テキストのサニタイズ機能のインターフェース。
type TextSanitizerService interface {
	// SanitizeText は全てのHTMLタグを除去し、前後の空白を落としたプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string

	// SanitizeImageRef は画像参照を検証する。
	// http/httpsのURLまたはスキームなしのストレージパスのみ受け付け、
	// javascript:やdata:などは拒否する。
	SanitizeImageRef(ref string) (string, bool)
}

// textSanitizer はTextSanitizerServiceの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses はエンティティの多重エンコードを剥がす回数の上限。
const maxSanitizePasses = 8

// SanitizeText はタグを除去したプレーンテキストを返す。
// StrictPolicyは&などをエスケープするため、保存前にエンティティを戻す。
// 戻した結果にタグが現れうるので、出力が変化しなくなるまで繰り返す。
// 上限までに収束しない入力はエスケープ済みのまま返す。
func (s *textSanitizer) SanitizeText(raw string) string {
	cur := strings.TrimSpace(raw)
	for i := 0; i < maxSanitizePasses; i++ {
		if cur == "" {
			return ""
		}
		next := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(cur)))
		if next == cur {
			return cur
		}
		cur = next
	}
	return strings.TrimSpace(s.policy.Sanitize(cur))
}

// SanitizeImageRef は画像参照を検証して正規化した値を返す。
func (s *textSanitizer) SanitizeImageRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.ContainsAny(ref, "<>\"' \t\r\n") {
		return "", false
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return "", false
		}
		return ref, true
	case "":
		// ストレージ内パス（例: items/abc.jpg）。プロトコル相対URLは拒否する。
		if strings.HasPrefix(ref, "//") {
			return "", false
		}
		return ref, true
	default:
		return "", false
	}
}
