package index

import (
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

const summaryLimit = 240

// Summarize reduces a markdown body to a short plain-text summary: markup is
// stripped via the goldmark AST, whitespace collapsed, and the result
// truncated to 240 runes.
func Summarize(body string) string {
	src := []byte(body)
	md := goldmark.New()
	root := md.Parser().Parse(gmtext.NewReader(src))

	var b strings.Builder
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		if t, ok := n.(*gmast.Text); ok {
			b.Write(t.Segment.Value(src))
			b.WriteByte(' ')
		}
		return gmast.WalkContinue, nil
	})

	compact := strings.Join(strings.Fields(b.String()), " ")
	runes := []rune(compact)
	if len(runes) <= summaryLimit {
		return compact
	}
	return string(runes[:summaryLimit-3]) + "..."
}
