package conversation

import (
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/memohai/dingtalk-bridge/internal/dingtalk"
)

const (
	// MediaOnlyPlaceholder replaces an empty reply whose content was all sent as media.
	MediaOnlyPlaceholder = "（媒体内容已单独发送）"
	defaultTitle         = "回复"
	titleLimit           = 20
)

var markdownParser = goldmark.New().Parser()

// LooksLikeMarkdown reports whether a reply should be sent as markdown: it starts with a
// heading or list marker, contains a newline, or embeds an image.
func LooksLikeMarkdown(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.Contains(s, "\n") || strings.Contains(s, "![") {
		return true
	}
	switch s[0] {
	case '#', '-', '*':
		return true
	}
	if s[0] >= '0' && s[0] <= '9' {
		i := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
		return i > 0 && s[i] == '.'
	}
	return false
}

// MarkdownTitle returns the notification title of a markdown body: the first heading,
// else the first line of text, cut to a short preview.
func MarkdownTitle(body string) string {
	src := []byte(body)
	doc := markdownParser.Parse(text.NewReader(src))

	var heading, first string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if heading == "" {
				heading = plainText(node, src)
			}
		case *ast.Paragraph, *ast.TextBlock:
			if first == "" {
				first = plainText(node, src)
			}
		}
		if heading != "" {
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	title := heading
	if title == "" {
		title = first
	}
	if line, _, _ := strings.Cut(strings.TrimSpace(title), "\n"); line != "" {
		title = line
	} else {
		return defaultTitle
	}
	runes := []rune(strings.TrimSpace(title))
	if len(runes) > titleLimit {
		return string(runes[:titleLimit]) + "…"
	}
	return string(runes)
}

func plainText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Image:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// ReplyMessage wraps a final reply as markdown or plain text.
func ReplyMessage(reply string) dingtalk.Message {
	if LooksLikeMarkdown(reply) {
		return dingtalk.MarkdownMessage(MarkdownTitle(reply), reply)
	}
	return dingtalk.TextMessage(reply)
}
