// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MemoRenderer はメモ本文とリンクを画面表示用のHTMLに変換する。
// 入力はすべてプレーンテキストとして扱ってエスケープしたうえで、
// bluemondayの許可リストポリシーを通してから出力する。
package security

import (
	"html"
	"html/template"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MemoRenderer はメモの表示用HTMLを生成する。
// 生成したHTMLはテンプレートでエスケープせずに埋め込まれるため、
// 出力は必ずポリシーを通過したものに限る。
type MemoRenderer struct {
	contentPolicy *bluemonday.Policy
	linkPolicy    *bluemonday.Policy
}

// NewMemoRenderer はMemoRendererを生成する。
// ポリシーの内容:
//   - 本文: brのみ許可（改行の保持）
//   - リンク: aのhrefのみ許可。http/httpsの絶対URLに限り、
//     target="_blank" と rel="nofollow noopener noreferrer" を付与する
func NewMemoRenderer() *MemoRenderer {
	content := bluemonday.NewPolicy()
	content.AllowElements("br")

	link := bluemonday.NewPolicy()
	link.AllowAttrs("href").OnElements("a")
	link.AllowURLSchemes("http", "https")
	link.AllowRelativeURLs(false)
	link.RequireParseableURLs(true)
	link.RequireNoFollowOnLinks(true)
	link.RequireNoReferrerOnLinks(true)
	link.AddTargetBlankToFullyQualifiedLinks(true)

	return &MemoRenderer{
		contentPolicy: content,
		linkPolicy:    link,
	}
}

// RenderContent はメモ本文をHTMLに変換する。改行は<br>として保持する。
func (m *MemoRenderer) RenderContent(content string) template.HTML {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		lines[i] = html.EscapeString(line)
	}
	return template.HTML(m.contentPolicy.Sanitize(strings.Join(lines, "<br>")))
}

// RenderLink はリンクを外部サイトへのアンカーに変換する。
// http/https以外のURLや空文字の場合はURLをテキストとしてのみ表示する。
func (m *MemoRenderer) RenderLink(link string) template.HTML {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if !isHTTPURL(link) {
		return template.HTML(html.EscapeString(link))
	}

	anchor := `<a href="` + html.EscapeString(link) + `">` + html.EscapeString(link) + `</a>`
	return template.HTML(m.linkPolicy.Sanitize(anchor))
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
