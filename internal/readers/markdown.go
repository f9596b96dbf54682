package readers

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownReader strips markdown syntax and keeps the readable text.
type MarkdownReader struct{}

func (r *MarkdownReader) Ext() string      { return ".md" }
func (r *MarkdownReader) MimeType() string { return "text/markdown" }

func (r *MarkdownReader) ReadText(data []byte) (string, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(data))
	var sb strings.Builder
	err := ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Type() == ast.TypeBlock && node.Kind() != ast.KindDocument && sb.Len() > 0 {
				if !strings.HasSuffix(sb.String(), "\n") {
					sb.WriteByte('\n')
				}
			}
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Text:
			sb.Write(n.Segment.Value(data))
			if n.SoftLineBreak() || n.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(n.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(data))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}
