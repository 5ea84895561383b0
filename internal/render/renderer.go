package render

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/forumd/internal/model"
)

// MaxSourceLength はレンダリングできるソースの最大長（バイト）。
const MaxSourceLength = 200_000

// Rendered はレンダリング結果。
type Rendered struct {
	HTML          string
	Text          string
	SummaryHTML   string // 見出し階層から生成した目次
	FootnotesHTML string
}

// Renderer はマークアップのレンダラー。
// 同じソースと同じRenderCapsに対しては常に同じ結果を返す。
type Renderer interface {
	Render(source string, caps RenderCaps) (Rendered, error)
}

// HTMLRenderer はHTMLのサブセットをソースとするRenderer実装。
type HTMLRenderer struct {
	policies policyCache
}

// NewHTMLRenderer はHTMLRendererを生成する。
func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{}
}

// openElement は出力中の要素。
type openElement struct {
	name  string
	close string
	block bool
}

type heading struct {
	level int
	id    string
	text  strings.Builder
}

type footnote struct {
	n    int
	body string
}

// renderState は1回のレンダリングの状態。
type renderState struct {
	caps  RenderCaps
	body  strings.Builder
	fn    strings.Builder
	out   *strings.Builder
	plain strings.Builder

	stack []openElement

	headings []*heading
	current  *heading

	footnotes []footnote
	fnDepth   int // 脚注開始時のスタックの深さ。脚注外では-1
}

// Render はソースをレンダリングする。
func (r *HTMLRenderer) Render(source string, caps RenderCaps) (Rendered, error) {
	if len(source) > MaxSourceLength {
		return Rendered{}, model.NewInvalidRequestError(fmt.Sprintf("本文が長すぎます（最大%dバイト）", MaxSourceLength))
	}

	st := &renderState{caps: caps, fnDepth: -1}
	st.out = &st.body

	z := html.NewTokenizer(strings.NewReader(source))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return Rendered{}, fmt.Errorf("マークアップの解析に失敗しました: %w", err)
			}
			break
		}
		raw := string(z.Raw())
		tok := z.Token()

		switch tt {
		case html.TextToken:
			st.text(tok.Data)
		case html.StartTagToken, html.SelfClosingTagToken:
			st.start(tok, raw, tt == html.SelfClosingTagToken)
		case html.EndTagToken:
			st.end(tok, raw)
		default:
			// コメントやDOCTYPEもリテラルとして表示する
			st.literal(raw)
		}
	}
	if st.fnDepth >= 0 {
		st.finishFootnote()
	}
	st.closeTo(0)

	policy := r.policies.get(caps)
	return Rendered{
		HTML:          policy.Sanitize(st.body.String()),
		Text:          normalizeText(st.plain.String()),
		SummaryHTML:   buildSummary(st.headings),
		FootnotesHTML: policy.Sanitize(buildFootnotes(st.footnotes)),
	}, nil
}

func (st *renderState) text(s string) {
	st.out.WriteString(html.EscapeString(s))
	st.plain.WriteString(s)
	if st.current != nil {
		st.current.text.WriteString(s)
	}
}

func (st *renderState) literal(raw string) {
	st.out.WriteString(html.EscapeString(raw))
	st.plain.WriteString(raw)
	if st.current != nil {
		st.current.text.WriteString(raw)
	}
}

func attrMap(tok html.Token) map[string]string {
	m := make(map[string]string, len(tok.Attr))
	for _, a := range tok.Attr {
		if _, dup := m[a.Key]; !dup {
			m[a.Key] = a.Val
		}
	}
	return m
}

func (st *renderState) start(tok html.Token, raw string, selfClosing bool) {
	name := tok.Data

	if level := headingLevel(name); level > 0 {
		if !st.caps.AllowTitles || st.current != nil || st.fnDepth >= 0 || selfClosing {
			st.literal(raw)
			return
		}
		h := &heading{level: level, id: fmt.Sprintf("title-%d", len(st.headings)+1)}
		st.headings = append(st.headings, h)
		st.current = h
		fmt.Fprintf(st.out, `<h%d id="%s">`, level, h.id)
		st.stack = append(st.stack, openElement{name: name, close: fmt.Sprintf("</h%d>", level), block: true})
		return
	}

	if name == "fn" {
		if !st.caps.AllowFootnotes || st.fnDepth >= 0 || selfClosing {
			st.literal(raw)
			return
		}
		st.fnDepth = len(st.stack)
		st.fn.Reset()
		st.out = &st.fn
		st.plain.WriteString(" (")
		return
	}

	el, ok := elements[name]
	if !ok || !el.enabled(st.caps) {
		st.literal(raw)
		return
	}
	tag, ok := el.open(attrMap(tok))
	if !ok {
		st.literal(raw)
		return
	}
	st.out.WriteString(tag)
	if el.void {
		if el.block {
			st.plain.WriteString("\n")
		}
		return
	}
	if selfClosing {
		st.out.WriteString(el.close)
		return
	}
	st.stack = append(st.stack, openElement{name: name, close: el.close, block: el.block})
}

func (st *renderState) end(tok html.Token, raw string) {
	name := tok.Data

	if name == "fn" {
		if st.fnDepth < 0 {
			st.literal(raw)
			return
		}
		st.finishFootnote()
		return
	}

	floor := 0
	if st.fnDepth >= 0 {
		floor = st.fnDepth
	}
	for i := len(st.stack) - 1; i >= floor; i-- {
		if st.stack[i].name == name {
			st.closeTo(i)
			return
		}
	}
	st.literal(raw)
}

// closeTo はスタックの深さdepthまでの要素を閉じる。
func (st *renderState) closeTo(depth int) {
	for len(st.stack) > depth {
		top := st.stack[len(st.stack)-1]
		st.stack = st.stack[:len(st.stack)-1]
		st.out.WriteString(top.close)
		if top.block {
			st.plain.WriteString("\n")
		}
		if headingLevel(top.name) > 0 {
			st.current = nil
		}
	}
}

func (st *renderState) finishFootnote() {
	st.closeTo(st.fnDepth)
	n := len(st.footnotes) + 1
	st.footnotes = append(st.footnotes, footnote{n: n, body: st.fn.String()})
	st.fnDepth = -1
	st.out = &st.body
	st.plain.WriteString(")")
	fmt.Fprintf(st.out, `<sup class="footnote-ref"><a href="#fn-%d" id="fnref-%d">%d</a></sup>`, n, n, n)
}

func buildFootnotes(notes []footnote) string {
	if len(notes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<ol class="footnotes">`)
	for _, n := range notes {
		fmt.Fprintf(&b, `<li id="fn-%d">%s <a href="#fnref-%d" class="footnote-backref">&#8617;</a></li>`, n.n, n.body, n.n)
	}
	b.WriteString(`</ol>`)
	return b.String()
}

// normalizeText は行ごとに空白を詰め、連続する空行を1つにまとめる。
func normalizeText(s string) string {
	var lines []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if len(lines) > 0 && !blank {
				blank = true
			}
			continue
		}
		if blank {
			lines = append(lines, "")
			blank = false
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
