package export

import (
	"html"
	"regexp"
	"strings"
)

type mdRule struct {
	pattern *regexp.Regexp
	replace string
}

// Applied in order: a tag rule only sees output of the rules before it.
var markdownRules = []mdRule{
	{regexp.MustCompile(`(?i)<h1\b[^>]*>(.*?)</h1>`), "# $1\n\n"},
	{regexp.MustCompile(`(?i)<h2\b[^>]*>(.*?)</h2>`), "## $1\n\n"},
	{regexp.MustCompile(`(?i)<h3\b[^>]*>(.*?)</h3>`), "### $1\n\n"},
	{regexp.MustCompile(`(?i)<strong\b[^>]*>(.*?)</strong>`), "**$1**"},
	{regexp.MustCompile(`(?i)<em\b[^>]*>(.*?)</em>`), "*$1*"},
	{regexp.MustCompile(`(?i)<u\b[^>]*>(.*?)</u>`), "_${1}_"},
	{regexp.MustCompile(`(?i)<p\b[^>]*>(.*?)</p>`), "$1\n\n"},
	{regexp.MustCompile(`(?i)<br\b[^>]*>`), "\n"},
	{regexp.MustCompile(`<[^>]*>`), ""},
	{regexp.MustCompile(`\n\n+`), "\n\n"},
}

// HTMLToMarkdown is a lossy conversion of rendered document markup. Headings
// 1 to 3, bold, italic, underline, paragraphs and line breaks survive; every
// other tag is dropped and its text kept.
func HTMLToMarkdown(markup string) string {
	out := markup
	for _, rule := range markdownRules {
		out = rule.pattern.ReplaceAllString(out, rule.replace)
	}
	return strings.TrimSpace(html.UnescapeString(out))
}
