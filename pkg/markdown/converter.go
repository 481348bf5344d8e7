package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

const (
	ansiBold      = "\x1b[1m"
	ansiItalic    = "\x1b[3m"
	ansiUnderline = "\x1b[4m"
	ansiDim       = "\x1b[2m"
	ansiReset     = "\x1b[0m"
)

// ToTerminal converts markdown to ANSI-styled terminal text
func ToTerminal(markdown string) string {
	if markdown == "" {
		return ""
	}

	// Convert markdown to HTML using blackfriday, then restyle for a terminal
	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))

	return restyleForTerminal(html)
}

// restyleForTerminal rewrites the intermediate HTML into ANSI escapes
func restyleForTerminal(html string) string {
	// Paragraphs become plain blocks
	html = regexp.MustCompile(`(?s)<p>(.*?)</p>`).ReplaceAllString(html, "$1\n")

	// Headings
	html = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`).ReplaceAllString(html, ansiBold+ansiUnderline+"$1"+ansiReset+"\n")

	// Emphasis
	html = strings.ReplaceAll(html, "<strong>", ansiBold)
	html = strings.ReplaceAll(html, "</strong>", ansiReset)
	html = strings.ReplaceAll(html, "<em>", ansiItalic)
	html = strings.ReplaceAll(html, "</em>", ansiReset)

	// Code blocks
	html = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`).ReplaceAllString(html, ansiDim+"$1"+ansiReset)

	// Inline code
	html = regexp.MustCompile(`(?s)<code>(.*?)</code>`).ReplaceAllString(html, ansiDim+"$1"+ansiReset)

	// Lists keep their content with bullet markers
	html = strings.ReplaceAll(html, "<ul>", "")
	html = strings.ReplaceAll(html, "</ul>", "")
	html = strings.ReplaceAll(html, "<ol>", "")
	html = strings.ReplaceAll(html, "</ol>", "")
	html = strings.ReplaceAll(html, "<li>", "• ")
	html = strings.ReplaceAll(html, "</li>", "\n")

	// Blockquotes
	html = regexp.MustCompile(`(?s)<blockquote>\s*(.*?)\s*</blockquote>`).ReplaceAllString(html, ansiDim+"> $1"+ansiReset+"\n")

	// Strip anything left over
	html = regexp.MustCompile(`</?[a-zA-Z]+(?:\s[^>]*)?>`).ReplaceAllString(html, "")

	// Unescape the entities blackfriday produces
	html = strings.ReplaceAll(html, "&amp;", "&")
	html = strings.ReplaceAll(html, "&lt;", "<")
	html = strings.ReplaceAll(html, "&gt;", ">")
	html = strings.ReplaceAll(html, "&quot;", "\"")
	html = strings.ReplaceAll(html, "&#39;", "'")

	// Clean up extra newlines
	html = regexp.MustCompile(`\n{3,}`).ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
