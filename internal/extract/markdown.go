package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// extractMarkdown parses markdown into its AST and renders plain text,
// separating block elements with blank lines so paragraph boundaries survive
// into chunking.
func extractMarkdown(content []byte) (string, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(content))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.Blockquote:
				buf.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(content))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.FencedCodeBlock:
			writeLines(&buf, node, content)
			buf.WriteString("\n\n")
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			writeLines(&buf, node, content)
			buf.WriteString("\n\n")
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("walk markdown: %w", err)
	}
	out := blankRuns.ReplaceAllString(buf.String(), "\n\n")
	return strings.TrimSpace(out), nil
}

func writeLines(buf *bytes.Buffer, node ast.Node, content []byte) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(content))
	}
}
