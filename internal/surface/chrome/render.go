package chrome

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
)

// HeaderHeight is the height of the fixed toolbar above the editor pane.
const HeaderHeight = 48

// RenderHTML renders the document body. Headings carry data-toc-id and
// data-pos; hidden blocks carry the hidden attribute.
func RenderHTML(doc *document.Document) string {
	var b strings.Builder
	pos := 0
	for _, child := range doc.Root().Content {
		renderNode(&b, child, pos)
		pos += child.Size()
	}
	return b.String()
}

func renderNode(b *strings.Builder, n *document.Node, pos int) {
	hidden := ""
	if n.Hidden() {
		hidden = " hidden"
	}
	switch n.Type {
	case document.TypeParagraph:
		fmt.Fprintf(b, "<p%s>", hidden)
		renderContent(b, n, pos)
		b.WriteString("</p>\n")
	case document.TypeHeading:
		level := min(n.Level(), 6)
		attrs := ""
		if id := n.HeadingID(); id != "" {
			attrs = fmt.Sprintf(` data-toc-id="%s" data-pos="%d"`, html.EscapeString(id), pos)
		}
		if n.Collapsed() {
			attrs += ` data-collapsed="true"`
		}
		fmt.Fprintf(b, "<h%d%s%s>", level, attrs, hidden)
		renderContent(b, n, pos)
		fmt.Fprintf(b, "</h%d>\n", level)
	case "bulletList":
		wrap(b, "ul", hidden, n, pos)
	case "orderedList":
		wrap(b, "ol", hidden, n, pos)
	case "listItem":
		wrap(b, "li", hidden, n, pos)
	case "blockquote":
		wrap(b, "blockquote", hidden, n, pos)
	case "codeBlock":
		fmt.Fprintf(b, "<pre%s><code>%s</code></pre>\n", hidden, html.EscapeString(n.TextContent()))
	case document.TypeText:
		b.WriteString(renderTextWithMarks(n.Text, n.Marks))
	case "hardBreak":
		b.WriteString("<br>")
	case "horizontalRule":
		fmt.Fprintf(b, "<hr%s>\n", hidden)
	case "image":
		src, _ := n.Attrs["src"].(string)
		fmt.Fprintf(b, `<img src="%s"%s>`, html.EscapeString(src), hidden)
	default:
		if n.IsLeaf() {
			return
		}
		fmt.Fprintf(b, `<div data-type="%s"%s>`, html.EscapeString(n.Type), hidden)
		renderContent(b, n, pos)
		b.WriteString("</div>\n")
	}
}

func wrap(b *strings.Builder, tag, hidden string, n *document.Node, pos int) {
	fmt.Fprintf(b, "<%s%s>\n", tag, hidden)
	renderContent(b, n, pos)
	fmt.Fprintf(b, "</%s>\n", tag)
}

func renderContent(b *strings.Builder, n *document.Node, pos int) {
	child := pos + 1
	for _, c := range n.Content {
		renderNode(b, c, child)
		child += c.Size()
	}
}

// renderTextWithMarks renders text with formatting marks
func renderTextWithMarks(text string, marks []document.Mark) string {
	if text == "" {
		return ""
	}

	htmlText := html.EscapeString(text)

	// Apply marks from outside in
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			htmlText = fmt.Sprintf("<strong>%s</strong>", htmlText)
		case "italic":
			htmlText = fmt.Sprintf("<em>%s</em>", htmlText)
		case "code":
			htmlText = fmt.Sprintf("<code>%s</code>", htmlText)
		case "link":
			href, _ := marks[i].Attrs["href"].(string)
			htmlText = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), htmlText)
		case "strike":
			htmlText = fmt.Sprintf("<s>%s</s>", htmlText)
		case "underline":
			htmlText = fmt.Sprintf("<u>%s</u>", htmlText)
		}
	}

	return htmlText
}

type pageData struct {
	Title        string
	HeaderHeight int
	ContentHTML  template.HTML
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    html, body { margin: 0; height: 100%; overflow: hidden; }
    body { font-family: Arial, sans-serif; }
    header { height: {{.HeaderHeight}}px; border-bottom: 1px solid #ddd; box-sizing: border-box; }
    #editor { height: calc(100% - {{.HeaderHeight}}px); overflow-y: auto; padding: 0 2rem; box-sizing: border-box; }
    #editor > * { margin: 0; line-height: 24px; }
    [hidden] { display: none !important; }
    @media print {
      html, body, #editor { height: auto; overflow: visible; }
      header { display: none; }
    }
  </style>
</head>
<body>
  <header>{{.Title}}</header>
  <main id="editor">{{.ContentHTML}}</main>
</body>
</html>`))

// RenderPage renders a full page: a fixed header and a scrolling editor pane
// holding the document.
func RenderPage(title string, doc *document.Document) (string, error) {
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, pageData{
		Title:        title,
		HeaderHeight: HeaderHeight,
		ContentHTML:  template.HTML(RenderHTML(doc)),
	})
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return buf.String(), nil
}

// percentEncodeForDataURL encodes a string for use in a data URL
// Unlike url.QueryEscape, this properly encodes spaces as %20 for data URLs
func percentEncodeForDataURL(s string) string {
	var result strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '~':
			result.WriteRune(r)
		case r == ' ':
			result.WriteString("%20")
		default:
			for _, c := range []byte(string(r)) {
				fmt.Fprintf(&result, "%%%02X", c)
			}
		}
	}
	return result.String()
}
