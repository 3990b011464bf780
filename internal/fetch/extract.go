package fetch

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements contains elements whose text content should not be
// extracted (scripts, styles, navigation chrome).
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Button:   true,
	atom.Svg:      true,
	atom.Canvas:   true,
}

// extractHTML parses HTML and returns the page title and readable text.
// Falls back to tag stripping if parsing fails.
func extractHTML(htmlStr string) (title, content string) {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return "", stripTags(htmlStr)
	}

	title = findTitle(doc)

	var sb strings.Builder
	extractText(doc, &sb)
	content = cleanWhitespace(sb.String())

	return title, content
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return strings.TrimSpace(getTextContent(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func getTextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(getTextContent(c))
	}
	return sb.String()
}

func extractText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && skipElements[n.DataAtom] {
		return
	}

	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
		return
	}

	// Add line breaks for block elements
	if n.Type == html.ElementNode && isBlockElement(n.DataAtom) {
		sb.WriteString("\n")
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb)
	}

	if n.Type == html.ElementNode && isBlockElement(n.DataAtom) {
		sb.WriteString("\n")
	}
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Li, atom.Tr, atom.Br, atom.Blockquote, atom.Pre, atom.Article,
		atom.Section, atom.Table:
		return true
	}
	return false
}

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]{2,}`)
)

func cleanWhitespace(s string) string {
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewline.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripTags is a crude fallback when HTML parsing fails.
func stripTags(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	return cleanWhitespace(s)
}
