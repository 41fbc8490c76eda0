package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// CleanedPage is page content reduced to what extraction needs.
type CleanedPage struct {
	// Content is cleaned HTML, or plain text when cleaned in text mode.
	Content     string
	Title       string
	Description string
	Truncated   bool
}

var (
	skippedElements = setOf("script", "style", "noscript", "iframe", "embed", "object", "svg", "template", "canvas")

	blockElements = setOf("div", "p", "section", "article", "header", "footer", "nav", "main", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "table", "tr", "td", "th",
		"form", "fieldset", "blockquote", "pre", "dl", "dt", "dd")

	voidElements = setOf("area", "base", "br", "col", "embed", "hr", "img", "input", "link", "meta",
		"param", "source", "track", "wbr")

	globalAttributes = setOf("id", "role", "aria-label", "aria-describedby", "title")
)

func setOf(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

// cleaner walks a parsed document into a size-bounded output.
type cleaner struct {
	b        strings.Builder
	limit    int
	textOnly bool
	full     bool
}

// cleanPage parses rawHTML and keeps semantic structure and targeting
// attributes, dropping scripts, styles and other noise. In text mode only
// visible text survives, one block per line. limit bounds the output in
// bytes; zero or less means DefaultMaxHTMLLength.
func cleanPage(rawHTML string, limit int, textOnly bool) (*CleanedPage, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if limit <= 0 {
		limit = DefaultMaxHTMLLength
	}

	c := &cleaner{limit: limit, textOnly: textOnly}
	body := findElement(doc, "body")
	if body == nil {
		body = doc
	}
	c.walk(body, 0)

	content := c.b.String()
	if textOnly {
		content = collapseBlankLines(content)
	}

	return &CleanedPage{
		Content:     content,
		Title:       findTitle(doc),
		Description: findMetaDescription(doc),
		Truncated:   c.full,
	}, nil
}

func (c *cleaner) remaining() int {
	return c.limit - c.b.Len()
}

// write appends s, cutting it at the limit. It reports false once full.
func (c *cleaner) write(s string) bool {
	if c.full {
		return false
	}
	if len(s) > c.remaining() {
		c.b.WriteString(s[:c.remaining()])
		c.b.WriteString("...")
		c.full = true
		return false
	}
	c.b.WriteString(s)
	return true
}

func (c *cleaner) walk(n *html.Node, depth int) {
	if c.full {
		return
	}

	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
			if c.textOnly && c.b.Len() > 0 && !strings.HasSuffix(c.b.String(), "\n") {
				c.write(" ")
			}
			c.write(text)
		}
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedElements[tag] || isHidden(n) {
			return
		}
		if c.textOnly {
			c.walkTextElement(n, tag, depth)
		} else {
			c.walkElement(n, tag, depth)
		}
		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, depth)
	}
}

func (c *cleaner) walkTextElement(n *html.Node, tag string, depth int) {
	block := blockElements[tag] || tag == "br"
	if block {
		c.write("\n")
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, depth+1)
	}
	if block {
		c.write("\n")
	}
}

func (c *cleaner) walkElement(n *html.Node, tag string, depth int) {
	block := blockElements[tag]
	if block && depth > 0 {
		c.write("\n" + strings.Repeat("  ", depth))
	}

	var open strings.Builder
	open.WriteString("<" + tag)
	for _, attr := range n.Attr {
		if keepAttribute(tag, attr.Key) {
			fmt.Fprintf(&open, ` %s="%s"`, attr.Key, html.EscapeString(attr.Val))
		}
	}
	open.WriteString(">")
	if !c.write(open.String()) {
		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, depth+1)
	}

	if voidElements[tag] {
		return
	}
	if block {
		c.write("\n" + strings.Repeat("  ", depth))
	}
	c.write("</" + tag + ">")
}

// keepAttribute reports whether an attribute helps identify or target an element.
func keepAttribute(tag, attr string) bool {
	attr = strings.ToLower(attr)
	if globalAttributes[attr] || strings.HasPrefix(attr, "data-") {
		return true
	}

	switch tag {
	case "a":
		return attr == "href"
	case "img":
		return attr == "alt"
	case "input", "textarea", "select":
		return attr == "name" || attr == "type" || attr == "placeholder" || attr == "value"
	case "button":
		return attr == "type" || attr == "name"
	case "form":
		return attr == "action" || attr == "method"
	case "td", "th":
		return attr == "colspan" || attr == "rowspan"
	}
	return false
}

func isHidden(n *html.Node) bool {
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "hidden":
			return true
		case "aria-hidden":
			if attr.Val == "true" {
				return true
			}
		case "type":
			if strings.EqualFold(n.Data, "input") && strings.EqualFold(attr.Val, "hidden") {
				return true
			}
		}
	}
	return false
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func findTitle(doc *html.Node) string {
	title := findElement(doc, "title")
	if title == nil || title.FirstChild == nil || title.FirstChild.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(title.FirstChild.Data)
}

func findMetaDescription(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "meta" {
		var isDescription bool
		var content string
		for _, attr := range n.Attr {
			switch attr.Key {
			case "name":
				isDescription = strings.EqualFold(attr.Val, "description")
			case "content":
				content = attr.Val
			}
		}
		if isDescription && content != "" {
			return strings.TrimSpace(content)
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if d := findMetaDescription(child); d != "" {
			return d
		}
	}
	return ""
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
