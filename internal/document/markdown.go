package document

import (
	"bytes"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// FromMarkdown builds a document from Markdown source. Every heading is given
// a fresh id; none start collapsed.
func FromMarkdown(src []byte) *Document {
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(src))

	doc := Doc()
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if block := convertBlock(n, src); block != nil {
			doc.Content = append(doc.Content, block)
		}
	}
	return New(doc)
}

func convertBlock(n ast.Node, src []byte) *Node {
	switch node := n.(type) {
	case *ast.Heading:
		return Heading(uuid.NewString(), node.Level, inlineText(n, src), false)
	case *ast.Paragraph, *ast.TextBlock:
		return Paragraph(inlineText(n, src))
	case *ast.List:
		list := &Node{Type: "bulletList"}
		if node.IsOrdered() {
			list.Type = "orderedList"
			list.Attrs = map[string]any{"start": float64(node.Start)}
		}
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			li := &Node{Type: "listItem"}
			li.Content = convertChildren(item, src)
			if len(li.Content) == 0 {
				li.Content = []*Node{Paragraph("")}
			}
			list.Content = append(list.Content, li)
		}
		return list
	case *ast.Blockquote:
		return &Node{Type: "blockquote", Content: convertChildren(n, src)}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		code := &Node{Type: "codeBlock"}
		if fenced, ok := node.(*ast.FencedCodeBlock); ok {
			if lang := string(fenced.Language(src)); lang != "" {
				code.Attrs = map[string]any{"language": lang}
			}
		}
		if body := strings.TrimRight(blockLines(n, src), "\n"); body != "" {
			code.Content = []*Node{{Type: TypeText, Text: body}}
		}
		return code
	case *ast.ThematicBreak:
		return &Node{Type: "horizontalRule"}
	default:
		t := inlineText(n, src)
		if t == "" {
			return nil
		}
		return Paragraph(t)
	}
}

func convertChildren(n ast.Node, src []byte) []*Node {
	var out []*Node
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if block := convertBlock(c, src); block != nil {
			out = append(out, block)
		}
	}
	return out
}

func blockLines(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(src))
	}
	return buf.String()
}

// inlineText gets the text content of a goldmark block, soft breaks folded to
// spaces.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				buf.Write(t.Value(src))
				if t.SoftLineBreak() || t.HardLineBreak() {
					buf.WriteByte(' ')
				}
			case *ast.String:
				buf.Write(t.Value)
			default:
				walk(c)
			}
		}
	}
	walk(n)
	if buf.Len() == 0 && n.Type() == ast.TypeBlock {
		buf.WriteString(blockLines(n, src))
	}
	return strings.TrimSpace(buf.String())
}
