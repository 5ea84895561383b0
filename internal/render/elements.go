package render

import (
	"fmt"
	"regexp"

	"golang.org/x/net/html"
)

// element はソース上のタグの変換規則。
type element struct {
	enabled func(RenderCaps) bool
	void    bool
	block   bool
	// open は出力する開始タグを返す。okがfalseの場合はリテラルとして扱う。
	open func(attrs map[string]string) (tag string, ok bool)
	// close は出力する終了タグ。
	close string
}

var (
	alertKinds = regexp.MustCompile(`^(info|success|warning|danger)$`)
	colorValue = regexp.MustCompile(`^(#[0-9a-fA-F]{3}|#[0-9a-fA-F]{6}|[a-z]{3,20})$`)
	directions = regexp.MustCompile(`^(ltr|rtl)$`)
)

func simple(name string, block bool, enabled func(RenderCaps) bool) element {
	return element{
		enabled: enabled,
		block:   block,
		open:    func(map[string]string) (string, bool) { return "<" + name + ">", true },
		close:   "</" + name + ">",
	}
}

func attr(name, value string) string {
	return fmt.Sprintf(` %s="%s"`, name, html.EscapeString(value))
}

func always(RenderCaps) bool { return true }

func titles(c RenderCaps) bool       { return c.AllowTitles }
func codeBlocks(c RenderCaps) bool   { return c.AllowCodeBlocks }
func formatting(c RenderCaps) bool   { return c.AllowTextFormatting }
func textExtra(c RenderCaps) bool    { return c.AllowTextExtra }
func modifiers(c RenderCaps) bool    { return c.AllowTextModifiers }
func figures(c RenderCaps) bool      { return c.AllowFigures }
func lists(c RenderCaps) bool        { return c.AllowLists }
func definitions(c RenderCaps) bool  { return c.AllowDefinitionLists }
func tables(c RenderCaps) bool       { return c.AllowTables }
func quotes(c RenderCaps) bool       { return c.AllowQuotes }
func cdmExtra(c RenderCaps) bool     { return c.AllowCDMExtra }
func footnotesOn(c RenderCaps) bool  { return c.AllowFootnotes }
func alignments(c RenderCaps) bool   { return c.AllowTextAlignments }
func acronyms(c RenderCaps) bool     { return c.AllowAcronyms }
func spoilers(c RenderCaps) bool     { return c.AllowSpoilers }
func todoLists(c RenderCaps) bool    { return c.AllowTodoLists }
func linksOn(c RenderCaps) bool      { return c.AllowLinks }
func medias(c RenderCaps) bool       { return c.AllowMedias }
func colors(c RenderCaps) bool       { return c.AllowTextColors }
func directionsOn(c RenderCaps) bool { return c.AllowTextDirections }
func alerts(c RenderCaps) bool       { return c.AllowAlertsBox }

// elements はソースで使用できるタグの一覧。ここに無いタグは常にリテラルになる。
// 見出し（h1-h6）と脚注（fn）はレンダラーが個別に処理する。
var elements = map[string]element{
	"p":  simple("p", true, always),
	"br": {enabled: always, void: true, block: true, open: func(map[string]string) (string, bool) { return "<br>", true }},

	"pre":  simple("pre", true, codeBlocks),
	"code": simple("code", false, codeBlocks),

	"b":      simple("b", false, formatting),
	"strong": simple("strong", false, formatting),
	"i":      simple("i", false, formatting),
	"em":     simple("em", false, formatting),
	"u":      simple("u", false, formatting),

	"sup":   simple("sup", false, textExtra),
	"sub":   simple("sub", false, textExtra),
	"small": simple("small", false, textExtra),
	"kbd":   simple("kbd", false, textExtra),

	"s":    simple("s", false, modifiers),
	"del":  simple("del", false, modifiers),
	"ins":  simple("ins", false, modifiers),
	"mark": simple("mark", false, modifiers),

	"center":  alignment("center"),
	"right":   alignment("right"),
	"justify": alignment("justify"),

	"bdo": {
		enabled: directionsOn,
		open: func(a map[string]string) (string, bool) {
			dir := a["dir"]
			if dir == "" {
				dir = "ltr"
			}
			if !directions.MatchString(dir) {
				return "", false
			}
			return "<bdo" + attr("dir", dir) + ">", true
		},
		close: "</bdo>",
	},

	"color": {
		enabled: colors,
		open: func(a map[string]string) (string, bool) {
			v := a["value"]
			if !colorValue.MatchString(v) {
				return "", false
			}
			return "<span" + attr("style", "color: "+v) + ">", true
		},
		close: "</span>",
	},

	"alert": {
		enabled: alerts,
		block:   true,
		open: func(a map[string]string) (string, bool) {
			kind := a["type"]
			if kind == "" {
				kind = "info"
			}
			if !alertKinds.MatchString(kind) {
				return "", false
			}
			return "<div" + attr("class", "alert alert-"+kind) + ">", true
		},
		close: "</div>",
	},

	"spoiler": {
		enabled: spoilers,
		block:   true,
		open: func(a map[string]string) (string, bool) {
			title := a["title"]
			if title == "" {
				title = "Spoiler"
			}
			return `<details class="spoiler"><summary>` + html.EscapeString(title) + `</summary>`, true
		},
		close: "</details>",
	},

	"figure":     simple("figure", true, figures),
	"figcaption": simple("figcaption", true, figures),

	"ul": simple("ul", true, lists),
	"ol": simple("ol", true, lists),
	"li": simple("li", true, lists),

	"todo": {
		enabled: todoLists,
		block:   true,
		open: func(a map[string]string) (string, bool) {
			if _, done := a["done"]; done {
				return `<li class="todo todo-done">`, true
			}
			return `<li class="todo">`, true
		},
		close: "</li>",
	},

	"dl": simple("dl", true, definitions),
	"dt": simple("dt", true, definitions),
	"dd": simple("dd", true, definitions),

	"table": simple("table", true, tables),
	"thead": simple("thead", true, tables),
	"tbody": simple("tbody", true, tables),
	"tr":    simple("tr", true, tables),
	"th":    simple("th", true, tables),
	"td":    simple("td", true, tables),

	"blockquote": simple("blockquote", true, quotes),
	"q":          simple("q", false, quotes),

	"abbr": {
		enabled: acronyms,
		open: func(a map[string]string) (string, bool) {
			if t, ok := a["title"]; ok {
				return "<abbr" + attr("title", t) + ">", true
			}
			return "<abbr>", true
		},
		close: "</abbr>",
	},

	"a": {
		enabled: linksOn,
		open: func(a map[string]string) (string, bool) {
			href, ok := a["href"]
			if !ok || href == "" {
				return "", false
			}
			return "<a" + attr("href", href) + ">", true
		},
		close: "</a>",
	},

	"img": {
		enabled: medias,
		void:    true,
		open: func(a map[string]string) (string, bool) {
			src, ok := a["src"]
			if !ok || src == "" {
				return "", false
			}
			return "<img" + attr("src", src) + attr("alt", a["alt"]) + ">", true
		},
	},

	"hr":   {enabled: cdmExtra, void: true, block: true, open: func(map[string]string) (string, bool) { return "<hr>", true }},
	"ruby": simple("ruby", false, cdmExtra),
	"rt":   simple("rt", false, cdmExtra),
	"rp":   simple("rp", false, cdmExtra),
}

func alignment(kind string) element {
	return element{
		enabled: alignments,
		block:   true,
		open: func(map[string]string) (string, bool) {
			return `<div class="text-` + kind + `">`, true
		},
		close: "</div>",
	}
}

// headingLevel はh1-h6のレベルを返す。見出しでなければ0。
func headingLevel(name string) int {
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 0
}
