package util

import (
	"strings"

	"golang.org/x/net/html"
)

// PlainText strips any HTML markup a model may have emitted, returning the
// concatenated text content. Input without markup passes through unchanged.
func PlainText(raw string) string {
	if !strings.ContainsAny(raw, "<>") {
		return raw
	}
	node, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return sb.String()
}

// CountWords counts whitespace-separated words in the plain-text rendering
// of raw. Used for the words-generated usage counter.
func CountWords(raw string) int {
	return len(strings.Fields(PlainText(raw)))
}
