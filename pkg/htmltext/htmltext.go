// Package htmltext turns HTML fragments from upstream metadata into plain text.
package htmltext

import (
	"strings"

	"golang.org/x/net/html"
)

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"svg": true, "iframe": true, "template": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "section": true, "article": true, "blockquote": true, "pre": true,
}

// Text converts an HTML fragment to plain text. Block elements become line
// breaks, list items are prefixed with "- " and links keep their target in
// parentheses. Input without markup is only whitespace-normalised.
func Text(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return tidy(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return tidy(s)
	}

	var sb strings.Builder
	walk(doc, &sb)
	return tidy(sb.String())
}

func walk(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		if skipTags[n.Data] {
			return
		}
		if blockTags[n.Data] {
			sb.WriteString("\n")
		}
		if n.Data == "li" {
			sb.WriteString("- ")
		}
	}

	if n.Type == html.TextNode {
		sb.WriteString(collapse(n.Data))
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb)
	}

	if n.Type == html.ElementNode {
		if n.Data == "a" {
			if href := attr(n, "href"); href != "" && href != textOf(n) && !strings.HasPrefix(href, "#") {
				sb.WriteString(" (" + href + ")")
			}
		}
		if blockTags[n.Data] {
			sb.WriteString("\n")
		}
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return strings.TrimSpace(sb.String())
}

// collapse replaces each run of ASCII whitespace with a single space,
// keeping one leading and trailing space where the input had any.
func collapse(s string) string {
	fields := strings.FieldsFunc(s, isSpace)
	if len(fields) == 0 {
		if s != "" {
			return " "
		}
		return ""
	}
	out := strings.Join(fields, " ")
	if isSpace(rune(s[0])) {
		out = " " + out
	}
	if isSpace(rune(s[len(s)-1])) {
		out += " "
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f'
}

// tidy trims every line and drops blank ones.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(collapse(l)); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
