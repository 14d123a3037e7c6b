// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが入力する自由記述フィールド（氏名・地区・州）から
// マークアップを除去し、プレーンテキストとして保存できる形にする。
// bluemondayのStrictPolicyを使用し、すべてのタグを取り除く。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化の機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は入力からすべてのHTMLタグを除去し、前後の空白を取り除いて返す。
	// script/styleタグはその中身ごと除去される。
	// 文字参照はデコードされ、保存値はエスケープされていないプレーンテキストになる。
	// 空文字列の入力には空文字列を返す。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses は除去とデコードを繰り返す上限。
// 多重に文字参照化されたタグもこの回数内で除去される。
const maxSanitizePasses = 4

// angleBrackets は上限回数で収束しなかった入力に残る山括弧を除去する。
var angleBrackets = strings.NewReplacer("<", "", ">", "")

// Sanitize はマークアップを除去したプレーンテキストを返す。
// 文字参照をデコードした結果にタグが現れた場合はそれも除去する。
// 除去とデコードを出力が変わらなくなるまで繰り返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	text := raw
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			return strings.TrimSpace(text)
		}
		text = next
	}
	return strings.TrimSpace(angleBrackets.Replace(text))
}
