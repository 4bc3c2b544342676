package tui

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// 不显示内容的元素
var hiddenTags = map[string]bool{
	"head":     true,
	"script":   true,
	"style":    true,
	"title":    true,
	"template": true,
	"noscript": true,
}

// 前后换行的块级元素
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "table": true,
	"ul": true, "ol": true, "blockquote": true, "hr": true, "section": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "footer": true, "pre": true,
}

var (
	spacePattern = regexp.MustCompile(`\s+`)
	blankPattern = regexp.MustCompile(`\n{3,}`)
)

// plainText 把 HTML 正文转换为终端可读的纯文本
func plainText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidy(b.String())

		case html.TextToken:
			if skip == 0 {
				b.WriteString(spacePattern.ReplaceAllString(string(z.Text()), " "))
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case tag == "body":
				skip = 0
			case hiddenTags[tag]:
				if tt == html.StartTagToken {
					skip++
				}
			case tag == "li":
				b.WriteString("\n- ")
			case blockTags[tag]:
				b.WriteByte('\n')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case hiddenTags[tag]:
				if skip > 0 {
					skip--
				}
			case blockTags[tag]:
				b.WriteByte('\n')
			}
		}
	}
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(blankPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
