package render

import (
	"regexp"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	generatedID    = regexp.MustCompile(`^(title|fn|fnref)-[0-9]+$`)
	generatedClass = regexp.MustCompile(`^[a-z][a-z0-9 _-]*$`)
	colorStyle     = regexp.MustCompile(`^(#[0-9a-fA-F]{3}|#[0-9a-fA-F]{6}|[a-z]{3,20})$`)
)

// policyCache はRenderCapsごとに構築済みのポリシーを保持する。
// bluemondayのポリシーは構築後の並行利用が安全。
type policyCache struct {
	mu       sync.Mutex
	policies map[RenderCaps]*bluemonday.Policy
}

func (c *policyCache) get(caps RenderCaps) *bluemonday.Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.policies[caps]; ok {
		return p
	}
	if c.policies == nil {
		c.policies = make(map[RenderCaps]*bluemonday.Policy)
	}
	p := newPolicy(caps)
	c.policies[caps] = p
	return p
}

// newPolicy は有効な構文に対応する要素・属性だけを許可するポリシーを構築する。
// レンダラーが生成した出力の最終防衛線として使う。
func newPolicy(caps RenderCaps) *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br")
	p.AllowAttrs("id").Matching(generatedID).Globally()
	p.AllowAttrs("class").Matching(generatedClass).Globally()

	if caps.AllowTitles {
		p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")
	}
	if caps.AllowCodeBlocks {
		p.AllowElements("pre", "code")
	}
	if caps.AllowTextFormatting {
		p.AllowElements("b", "strong", "i", "em", "u")
	}
	if caps.AllowTextExtra {
		p.AllowElements("sup", "sub", "small", "kbd")
	}
	if caps.AllowTextModifiers {
		p.AllowElements("s", "del", "ins", "mark")
	}
	if caps.AllowTextAlignments || caps.AllowAlertsBox {
		p.AllowElements("div")
	}
	if caps.AllowTextDirections {
		p.AllowElements("bdo")
		p.AllowAttrs("dir").Matching(directions).OnElements("bdo")
	}
	if caps.AllowTextColors {
		p.AllowElements("span")
		p.AllowStyles("color").Matching(colorStyle).OnElements("span")
	}
	if caps.AllowSpoilers {
		p.AllowElements("details", "summary")
	}
	if caps.AllowFigures {
		p.AllowElements("figure", "figcaption")
	}
	if caps.AllowLists || caps.AllowTodoLists || caps.AllowFootnotes {
		p.AllowElements("ul", "ol", "li")
	}
	if caps.AllowDefinitionLists {
		p.AllowElements("dl", "dt", "dd")
	}
	if caps.AllowTables {
		p.AllowElements("table", "thead", "tbody", "tr", "th", "td")
	}
	if caps.AllowQuotes {
		p.AllowElements("blockquote", "q")
	}
	if caps.AllowAcronyms {
		p.AllowAttrs("title").OnElements("abbr")
	}
	if caps.AllowLinks || caps.AllowFootnotes || caps.AllowMedias {
		p.AllowURLSchemes("http", "https", "mailto")
		p.AllowRelativeURLs(true)
		p.RequireParseableURLs(true)
	}
	if caps.AllowLinks || caps.AllowFootnotes {
		p.AllowAttrs("href").OnElements("a")
		p.RequireNoFollowOnLinks(caps.ForceNofollow)
	}
	if caps.AllowFootnotes {
		p.AllowElements("sup")
	}
	if caps.AllowMedias {
		p.AllowImages()
		p.AllowAttrs("src", "alt").OnElements("img")
	}
	if caps.AllowCDMExtra {
		p.AllowElements("hr", "ruby", "rt", "rp")
	}
	return p
}
