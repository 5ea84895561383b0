package render

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// buildSummary は見出しの入れ子リスト（目次）を生成する。
// レベルが飛んでいても1段ずつ入れ子にする。
func buildSummary(headings []*heading) string {
	if len(headings) == 0 {
		return ""
	}
	var b strings.Builder
	var levels []int
	for i, h := range headings {
		switch {
		case i == 0:
			b.WriteString(`<ul class="summary"><li>`)
			levels = append(levels, h.level)
		case h.level > levels[len(levels)-1]:
			b.WriteString("<ul><li>")
			levels = append(levels, h.level)
		default:
			for len(levels) > 1 && h.level < levels[len(levels)-1] {
				b.WriteString("</li></ul>")
				levels = levels[:len(levels)-1]
			}
			b.WriteString("</li><li>")
		}
		text := strings.Join(strings.Fields(h.text.String()), " ")
		fmt.Fprintf(&b, `<a href="#%s">%s</a>`, h.id, html.EscapeString(text))
	}
	for len(levels) > 1 {
		b.WriteString("</li></ul>")
		levels = levels[:len(levels)-1]
	}
	b.WriteString("</li></ul>")
	return b.String()
}
