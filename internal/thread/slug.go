package thread

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLength はスレッドスラッグの最大長。
const MaxSlugLength = 80

const fallbackSlug = "thread"

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify はタイトルからURL用のスラッグを生成する。
// 発音記号を除いた英小文字と数字の語をハイフンで連結し、語が無い場合は "thread" を返す。
func Slugify(title string) string {
	folded, _, err := transform.String(stripMarks, title)
	if err != nil {
		folded = title
	}
	words := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	var b strings.Builder
	for _, w := range words {
		if b.Len() > 0 {
			if b.Len()+1+len(w) > MaxSlugLength {
				break
			}
			b.WriteByte('-')
		} else if len(w) > MaxSlugLength {
			w = w[:MaxSlugLength]
		}
		b.WriteString(w)
	}
	if b.Len() == 0 {
		return fallbackSlug
	}
	return b.String()
}
