package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/events"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/outline"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/surface"
)

type recordingSink struct {
	messages []string
	err      error
}

func (r *recordingSink) Persist(_ context.Context, _ *document.Document, message string) error {
	r.messages = append(r.messages, message)
	return r.err
}

func scenarioDoc() *document.Document {
	blocks := []*document.Node{document.Heading("A", 1, "A", false)}
	for i := 0; i < 40; i++ {
		blocks = append(blocks, document.Paragraph(fmt.Sprintf("intro %d", i)))
	}
	blocks = append(blocks,
		document.Heading("B", 2, "B", true),
		document.Heading("C", 3, "C", false),
		document.Paragraph("under C"),
		document.Heading("D", 2, "D", false),
	)
	for i := 0; i < 40; i++ {
		blocks = append(blocks, document.Paragraph(fmt.Sprintf("tail %d", i)))
	}
	return document.New(document.Doc(blocks...))
}

func openSession(t *testing.T, doc *document.Document, opts Options) (*Session, *surface.Static) {
	t.Helper()
	if opts.DocumentID == "" {
		opts.DocumentID = "doc-1"
	}
	surf := surface.NewStatic(nil, surface.LayoutOptions{})
	s, err := Open(doc, surf, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s, surf
}

func TestOpenComputesOutlineAndVisibility(t *testing.T) {
	ids := 0
	doc := document.New(document.Doc(
		document.Heading("", 1, "Untitled", false),
		document.Heading("x", 2, "X", true),
		document.Paragraph("inside x"),
	))
	s, surf := openSession(t, doc, Options{NewID: func() string {
		ids++
		return fmt.Sprintf("gen-%d", ids)
	}})

	got := s.Outline().IDs()
	if !reflect.DeepEqual(got, []string{"gen-1", "x"}) {
		t.Fatalf("Outline().IDs() = %v, want [gen-1 x]", got)
	}
	hidden := map[string]bool{}
	doc.Flow(func(n *document.Node, _ int) {
		hidden[n.TextContent()] = n.Hidden()
	})
	if !hidden["inside x"] || hidden["X"] {
		t.Fatalf("hidden = %v, want only the paragraph under x hidden", hidden)
	}
	if _, ok := surf.Find("x"); !ok {
		t.Fatal("expected surface to be rendered on open")
	}
}

func TestOpenRejectsNilArguments(t *testing.T) {
	if _, err := Open(nil, surface.NewStatic(nil, surface.LayoutOptions{}), Options{}); err == nil {
		t.Fatal("expected error for nil document")
	}
	if _, err := Open(document.New(document.Doc()), nil, Options{}); err == nil {
		t.Fatal("expected error for nil surface")
	}
}

func TestEditsAreCoalescedUntilTick(t *testing.T) {
	doc := scenarioDoc()
	s, _ := openSession(t, doc, Options{})

	var seen []outline.Snapshot
	stop := s.Subscribe(func(snap outline.Snapshot) { seen = append(seen, snap) })
	defer stop()
	if len(seen) != 1 {
		t.Fatalf("expected initial outline delivery, got %d", len(seen))
	}

	if err := doc.Apply(document.SetCollapsed("A", true)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := doc.Apply(document.SetCollapsed("D", true)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(seen) != 1 {
		t.Fatal("expected no recompute before tick")
	}
	if h, _ := s.Outline().Get("A"); h.Collapsed {
		t.Fatal("outline changed before tick")
	}

	if n := s.Tick(); n != 2 {
		t.Fatalf("Tick() = %d, want 2 (outline + registry)", n)
	}
	if len(seen) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(seen))
	}
	a, _ := seen[1].Get("A")
	d, _ := seen[1].Get("D")
	if !a.Collapsed || !d.Collapsed {
		t.Fatalf("delivered outline A=%+v D=%+v, want both collapsed", a, d)
	}
	if n := s.Tick(); n != 0 {
		t.Fatalf("second Tick() = %d, want 0", n)
	}
}

func TestSetCollapsedPersists(t *testing.T) {
	sink := &recordingSink{}
	s, _ := openSession(t, scenarioDoc(), Options{Sink: sink})
	ctx := context.Background()

	changed, err := s.SetCollapsed(ctx, "D", true)
	if err != nil || !changed {
		t.Fatalf("SetCollapsed() = (%t, %v), want (true, nil)", changed, err)
	}
	changed, err = s.SetCollapsed(ctx, "D", true)
	if err != nil || changed {
		t.Fatalf("repeat SetCollapsed() = (%t, %v), want (false, nil)", changed, err)
	}
	changed, err = s.SetCollapsed(ctx, "missing", true)
	if err != nil || changed {
		t.Fatalf("SetCollapsed(missing) = (%t, %v), want (false, nil)", changed, err)
	}
	if changed, err := s.Toggle(ctx, "D"); err != nil || !changed {
		t.Fatalf("Toggle() = (%t, %v), want (true, nil)", changed, err)
	}
	want := []string{"Collapse heading D", "Expand heading D"}
	if !reflect.DeepEqual(sink.messages, want) {
		t.Fatalf("persisted = %v, want %v", sink.messages, want)
	}
}

func TestSetCollapsedReportsSinkFailure(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	s, _ := openSession(t, scenarioDoc(), Options{Sink: sink})

	changed, err := s.SetCollapsed(context.Background(), "A", true)
	if !changed {
		t.Fatal("expected the document to change even when persisting fails")
	}
	if err == nil || !errors.Is(err, sink.err) {
		t.Fatalf("SetCollapsed() error = %v, want wrapped %v", err, sink.err)
	}
}

func TestActivateScenario(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, surf := openSession(t, scenarioDoc(), Options{Metrics: reg})

	res, ok := s.Activate(context.Background(), "D")
	if !ok {
		t.Fatal("expected D to activate")
	}
	if id, _ := s.ActiveID(); id != "D" {
		t.Fatalf("ActiveID() = %q, want D", id)
	}
	if h, _ := s.Outline().Get("B"); !h.Collapsed {
		t.Fatal("expected B to remain collapsed")
	}
	if res.Container != surf.Pane() || res.ScrollTop <= 0 {
		t.Fatalf("scroll = (%v, %v), want pane scrolled", res.Container, res.ScrollTop)
	}
	if got, err := testutil.GatherAndCount(reg, "outline_registry_rebuilds_total"); err != nil || got == 0 {
		t.Fatalf("GatherAndCount() = (%d, %v), want registered rebuild counter", got, err)
	}
}

func TestActivateSeesPendingEdits(t *testing.T) {
	doc := scenarioDoc()
	s, surf := openSession(t, doc, Options{})

	if err := doc.Apply(document.SetCollapsed("B", false)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	res, ok := s.Activate(context.Background(), "D")
	if !ok {
		t.Fatal("expected D to activate")
	}
	// C and its paragraph are visible again, so D sits two blocks lower.
	el, _ := surf.Find("D")
	if el.Box().Top+res.ScrollTop != float64(44*24) {
		t.Fatalf("D offset = %v, want %v", el.Box().Top+res.ScrollTop, 44*24)
	}
}

func TestActivateExpansionIsPersisted(t *testing.T) {
	sink := &recordingSink{}
	s, _ := openSession(t, scenarioDoc(), Options{Sink: sink})

	res, ok := s.Activate(context.Background(), "C")
	if !ok {
		t.Fatal("expected C to activate")
	}
	if !reflect.DeepEqual(res.Expanded, []string{"B"}) {
		t.Fatalf("Expanded = %v, want [B]", res.Expanded)
	}
	if !reflect.DeepEqual(sink.messages, []string{"Expand ancestors of C"}) {
		t.Fatalf("persisted = %v", sink.messages)
	}
}

func TestActivateUnknownIsNoop(t *testing.T) {
	s, _ := openSession(t, document.New(document.Doc()), Options{})

	if _, ok := s.Activate(context.Background(), "nope"); ok {
		t.Fatal("expected no-op")
	}
	if _, ok := s.ActiveID(); ok {
		t.Fatal("expected no active entry")
	}
	if len(s.Outline()) != 0 {
		t.Fatal("expected empty outline")
	}
}

func TestRemoveReactivatesNeighbour(t *testing.T) {
	s, _ := openSession(t, scenarioDoc(), Options{})
	s.Activate(context.Background(), "D")

	s.Remove("D")
	if id, ok := s.ActiveID(); !ok || id != "C" {
		t.Fatalf("ActiveID() = (%q, %t), want (C, true)", id, ok)
	}
}

func TestRemoteToggleAppliedOnTick(t *testing.T) {
	bus := events.NewBus(nil)
	s, _ := openSession(t, scenarioDoc(), Options{Bus: bus})

	bus.Publish(events.Event{
		Type:       events.TypeHeadingToggled,
		DocumentID: "doc-1",
		Origin:     "peer",
		Toggle:     &events.Toggle{HeadingID: "D", Level: 2, Collapsed: true},
	})
	bus.Publish(events.Event{
		Type:       events.TypeHeadingToggled,
		DocumentID: "other-doc",
		Origin:     "peer",
		Toggle:     &events.Toggle{HeadingID: "A", Level: 1, Collapsed: true},
	})
	d, _, _ := s.Document().FindHeading("D")
	if d.Collapsed() {
		t.Fatal("remote toggle applied before tick")
	}

	s.Tick()
	if !d.Collapsed() {
		t.Fatal("expected remote toggle to collapse D")
	}
	a, _, _ := s.Document().FindHeading("A")
	if a.Collapsed() {
		t.Fatal("toggle for another document was applied")
	}
	s.Tick()
	if h, _ := s.Outline().Get("D"); !h.Collapsed {
		t.Fatal("expected outline to reflect remote toggle")
	}
}

func TestRemoteTogglesDuringClose(t *testing.T) {
	bus := events.NewBus(nil)
	s, err := Open(scenarioDoc(), surface.NewStatic(nil, surface.LayoutOptions{}), Options{DocumentID: "doc-1", Bus: bus})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	other, _ := openSession(t, scenarioDoc(), Options{DocumentID: "doc-2", Bus: bus})

	var wg sync.WaitGroup
	for _, documentID := range []string{"doc-1", "doc-2"} {
		wg.Add(1)
		go func(documentID string) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				bus.Publish(events.Event{
					Type:       events.TypeHeadingToggled,
					DocumentID: documentID,
					Origin:     "peer",
					Toggle:     &events.Toggle{HeadingID: "D", Level: 2, Collapsed: i%2 == 0},
				})
			}
		}(documentID)
	}
	s.Close()
	wg.Wait()

	s.Tick()
	if d, _, _ := s.Document().FindHeading("D"); d.Collapsed() {
		t.Fatal("remote toggle applied to a closed session")
	}
	other.Tick()
	if d, _, _ := other.Document().FindHeading("D"); d.Collapsed() {
		t.Fatal("expected the last toggle for doc-2 to expand D")
	}
}

func TestClose(t *testing.T) {
	bus := events.NewBus(nil)
	doc := scenarioDoc()
	surf := surface.NewStatic(nil, surface.LayoutOptions{})
	s, err := Open(doc, surf, Options{DocumentID: "doc-1", Bus: bus})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.Activate(context.Background(), "A")
	if bus.Len() == 0 {
		t.Fatal("expected session subscriptions")
	}

	s.Close()
	s.Close()
	if bus.Len() != 0 {
		t.Fatalf("bus subscriptions = %d after Close, want 0", bus.Len())
	}
	if _, ok := s.ActiveID(); ok {
		t.Fatal("expected no active entry after Close")
	}
	if err := doc.Apply(document.SetCollapsed("A", true)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if n := s.Tick(); n != 0 {
		t.Fatalf("Tick() = %d after Close, want 0", n)
	}
	if _, err := s.SetCollapsed(context.Background(), "A", false); !errors.Is(err, ErrClosed) {
		t.Fatalf("SetCollapsed() error = %v, want ErrClosed", err)
	}
}
