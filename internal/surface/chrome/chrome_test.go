package chrome

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/collapse"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/surface"
)

func TestRenderHTML(t *testing.T) {
	doc := document.New(document.Doc(
		document.Heading("a", 1, "Intro", false),
		document.Paragraph("Hello <world>"),
		document.Heading("b", 2, "Detail", true),
		document.Paragraph("folded"),
	))
	collapse.RecomputeVisibility(doc)

	tests := []struct {
		name     string
		expected string
	}{
		{name: "heading tag", expected: `<h1 data-toc-id="a" data-pos="0">Intro</h1>`},
		{name: "escaped text", expected: "<p>Hello &lt;world&gt;</p>"},
		{name: "collapsed heading", expected: `<h2 data-toc-id="b" data-pos="22" data-collapsed="true">Detail</h2>`},
		{name: "hidden block", expected: "<p hidden>folded</p>"},
	}
	got := RenderHTML(doc)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(got, tt.expected) {
				t.Errorf("RenderHTML() missing %q\ngot: %s", tt.expected, got)
			}
		})
	}
}

func TestRenderHTMLNestedPositions(t *testing.T) {
	quote := &document.Node{Type: "blockquote", Content: []*document.Node{
		document.Paragraph("q"),
		document.Heading("inner", 3, "Inner", false),
	}}
	doc := document.New(document.Doc(document.Paragraph("p"), quote))
	_, pos, ok := doc.FindHeading("inner")
	if !ok {
		t.Fatal("expected inner heading")
	}
	want := fmt.Sprintf(`<h3 data-toc-id="inner" data-pos="%d">Inner</h3>`, pos)
	if got := RenderHTML(doc); !strings.Contains(got, want) {
		t.Errorf("RenderHTML() missing %q\ngot: %s", want, got)
	}
}

func TestRenderTextWithMarks(t *testing.T) {
	marks := []document.Mark{
		{Type: "bold"},
		{Type: "link", Attrs: map[string]any{"href": "https://example.com/?a=1&b=2"}},
	}
	got := renderTextWithMarks("x", marks)
	want := `<strong><a href="https://example.com/?a=1&amp;b=2">x</a></strong>`
	if got != want {
		t.Errorf("renderTextWithMarks() = %q, want %q", got, want)
	}
}

func TestRenderPage(t *testing.T) {
	page, err := RenderPage("Notes & more", document.New(document.Doc(document.Paragraph("body"))))
	if err != nil {
		t.Fatalf("RenderPage() error = %v", err)
	}
	for _, want := range []string{`<main id="editor"><p>body</p>`, "Notes &amp; more", "height: 48px"} {
		if !strings.Contains(page, want) {
			t.Errorf("RenderPage() missing %q", want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	if got := percentEncodeForDataURL("a b#é"); got != "a%20b%23%C3%A9" {
		t.Errorf("percentEncodeForDataURL() = %q", got)
	}
}

func newSurface(t *testing.T) *Surface {
	t.Helper()
	s, err := New(context.Background(), Options{Width: 1280, Height: 800})
	if errors.Is(err, ErrBrowserMissing) {
		t.Skip("chromium not installed")
	}
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSurfaceInBrowser(t *testing.T) {
	s := newSurface(t)

	blocks := []*document.Node{document.Heading("top", 1, "Top", false)}
	for i := 0; i < 80; i++ {
		blocks = append(blocks, document.Paragraph(fmt.Sprintf("line %d", i)))
	}
	blocks = append(blocks, document.Heading("end", 1, "End", false))
	doc := document.New(document.Doc(blocks...))
	if err := s.Refresh(doc); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if got := len(s.Scan()); got != 2 {
		t.Fatalf("Scan() returned %d elements, want 2", got)
	}
	el, ok := s.Find("end")
	if !ok {
		t.Fatal("Find(end) failed")
	}
	if !el.Connected() {
		t.Fatal("expected live element")
	}
	_, pos, _ := doc.FindHeading("end")
	if el.Pos() != pos {
		t.Fatalf("Pos() = %d, want %d", el.Pos(), pos)
	}

	container := surface.ScrollParent(s, el)
	box := container.Box()
	if box.OverflowY != "auto" || !surface.Scrollable(box) {
		t.Fatalf("expected the editor pane as scroll container, got %+v", box)
	}
	container.ScrollTo(200)
	if got := container.Box().ScrollTop; got != 200 {
		t.Fatalf("ScrollTop = %v, want 200", got)
	}

	if err := s.Refresh(doc); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if el.Connected() {
		t.Fatal("expected handle from earlier rendering to be disconnected")
	}
	if _, ok := s.Find("missing"); ok {
		t.Fatal("Find(missing) should fail")
	}

	pdf, err := s.PrintPDF()
	if err != nil {
		t.Fatalf("PrintPDF() error = %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("PrintPDF() returned %d bytes without a PDF header", len(pdf))
	}
}
