package qq

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var blankRunsRe = regexp.MustCompile(`\n{3,}`)

// MarkdownToPlain flattens markdown to plain text. QQ renders messages
// verbatim, so emphasis markers, heading hashes and link syntax must
// not leak into the sent message.
func MarkdownToPlain(source string) string {
	src := []byte(source)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var out strings.Builder
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			// Container blocks (lists, quotes) delegate spacing to the
			// leaf blocks inside them.
			if node.Type() == ast.TypeBlock {
				if first := node.FirstChild(); first == nil || first.Type() != ast.TypeBlock {
					out.WriteString("\n\n")
				}
			}
			return ast.WalkContinue, nil
		}

		switch n := node.(type) {
		case *ast.Text:
			out.Write(n.Segment.Value(src))
			if n.SoftLineBreak() || n.HardLineBreak() {
				out.WriteString("\n")
			}
		case *ast.AutoLink:
			out.Write(n.URL(src))
		case *ast.FencedCodeBlock:
			writeLines(&out, src, n)
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			writeLines(&out, src, n)
			return ast.WalkSkipChildren, nil
		case *ast.Image:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	plain := blankRunsRe.ReplaceAllString(out.String(), "\n\n")
	return strings.TrimSpace(plain)
}

func writeLines(out *strings.Builder, src []byte, node ast.Node) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		out.Write(segment.Value(src))
	}
}
