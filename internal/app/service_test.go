package app

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/config"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/docstore"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/events"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/relay"
)

func testConfig(t *testing.T, reposDir string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ReposDir = reposDir
	cfg.Author = "Avery"
	return cfg
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Config.ReposDir == "" {
		opts.Config = testConfig(t, t.TempDir())
	}
	if opts.Store == nil {
		opts.Store = docstore.New(opts.Config.ReposDir)
	}
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(svc.Shutdown)
	return svc
}

// sampleDocument is a > b (collapsed) > c, then d at b's level.
func sampleDocument() *document.Document {
	return document.New(document.Doc(
		document.Heading("a", 1, "Intro", false),
		document.Paragraph("intro text"),
		document.Heading("b", 2, "Setup", true),
		document.Heading("c", 3, "Details", false),
		document.Paragraph("detail text"),
		document.Heading("d", 2, "Usage", false),
	))
}

func domainCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := NewService(Options{Config: config.Default()}); err == nil {
		t.Fatal("expected error without a document store")
	}
	cfg := config.Default()
	cfg.Staleness = 0
	if _, err := NewService(Options{Config: cfg, Store: docstore.New(t.TempDir())}); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
}

func TestImportDocumentOpensOutline(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	snap, err := svc.ImportDocument(ctx, "doc-1", "Guide", sampleDocument())
	if err != nil {
		t.Fatalf("ImportDocument() error = %v", err)
	}
	if got := snap.IDs(); !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
		t.Fatalf("outline = %v, want [a b c d]", got)
	}
	if b, _ := snap.Get("b"); !b.Collapsed || b.Text != "Setup" {
		t.Fatalf("b = %+v, want collapsed Setup", b)
	}
	if got := svc.OpenDocuments(); !reflect.DeepEqual(got, []string{"doc-1"}) {
		t.Fatalf("OpenDocuments() = %v", got)
	}

	history, err := svc.History(ctx, "doc-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %+v, want only the baseline", history)
	}
}

func TestImportDocumentValidation(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	if _, err := svc.ImportDocument(ctx, "doc-1", "", sampleDocument()); err != nil {
		t.Fatalf("ImportDocument() error = %v", err)
	}
	tests := []struct {
		name string
		id   string
		doc  *document.Document
		code string
	}{
		{name: "duplicate", id: "doc-1", doc: sampleDocument(), code: "DOCUMENT_EXISTS"},
		{name: "path traversal", id: "../doc-1", doc: sampleDocument(), code: "INVALID_DOCUMENT_ID"},
		{name: "empty id", id: "", doc: sampleDocument(), code: "INVALID_DOCUMENT_ID"},
		{name: "missing body", id: "doc-2", doc: nil, code: "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ImportDocument(ctx, tt.id, "", tt.doc)
			if got := domainCode(err); got != tt.code {
				t.Fatalf("ImportDocument() error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestOpenCommitsAssignedHeadingIDs(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	doc := document.New(document.Doc(
		document.Heading("", 1, "Untitled", false),
		document.Heading("kept", 2, "Kept", false),
	))
	snap, err := svc.ImportDocument(ctx, "doc-1", "Draft", doc)
	if err != nil {
		t.Fatalf("ImportDocument() error = %v", err)
	}
	if len(snap) != 2 || snap[0].ID == "" || snap[1].ID != "kept" {
		t.Fatalf("outline = %+v, want a generated id then kept", snap)
	}

	history, err := svc.History(ctx, "doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || strings.TrimSpace(history[0].Message) != "Assign heading ids" {
		t.Fatalf("history = %+v, want the id assignment on top of the baseline", history)
	}

	svc.CloseDocument("doc-1")
	again, err := svc.Outline(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Outline() error = %v", err)
	}
	if !reflect.DeepEqual(again.IDs(), snap.IDs()) {
		t.Fatalf("ids after reopen = %v, want %v", again.IDs(), snap.IDs())
	}
}

func TestSetCollapsedCommitsAndCompares(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()
	if _, err := svc.ImportDocument(ctx, "doc-1", "Guide", sampleDocument()); err != nil {
		t.Fatalf("ImportDocument() error = %v", err)
	}

	changed, snap, err := svc.SetCollapsed(ctx, "doc-1", "d", true)
	if err != nil || !changed {
		t.Fatalf("SetCollapsed() = (%t, %v), want (true, nil)", changed, err)
	}
	if d, _ := snap.Get("d"); !d.Collapsed {
		t.Fatal("expected returned outline to show d collapsed")
	}
	changed, _, err = svc.SetCollapsed(ctx, "doc-1", "d", true)
	if err != nil || changed {
		t.Fatalf("repeat SetCollapsed() = (%t, %v), want (false, nil)", changed, err)
	}

	history, err := svc.History(ctx, "doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %+v, want baseline plus one commit", history)
	}
	if got := strings.TrimSpace(history[0].Message); got != "Collapse heading d" {
		t.Fatalf("latest message = %q", got)
	}
	if history[0].Author != "Avery" {
		t.Fatalf("author = %q, want Avery", history[0].Author)
	}

	changes, err := svc.Compare(ctx, "doc-1", history[1].Hash, "")
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	want := []docstore.CollapseChange{{HeadingID: "d", Text: "Usage", Before: false, After: true}}
	if !reflect.DeepEqual(changes, want) {
		t.Fatalf("Compare() = %+v, want %+v", changes, want)
	}
}

func TestToggleAndUnknownHeading(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()
	if _, err := svc.ImportDocument(ctx, "doc-1", "Guide", sampleDocument()); err != nil {
		t.Fatalf("ImportDocument() error = %v", err)
	}

	changed, snap, err := svc.Toggle(ctx, "doc-1", "b")
	if err != nil || !changed {
		t.Fatalf("Toggle() = (%t, %v), want (true, nil)", changed, err)
	}
	if b, _ := snap.Get("b"); b.Collapsed {
		t.Fatal("expected b to be expanded")
	}

	if _, _, err := svc.Toggle(ctx, "doc-1", "zzz"); domainCode(err) != "HEADING_NOT_FOUND" {
		t.Fatalf("Toggle(zzz) error = %v, want HEADING_NOT_FOUND", err)
	}
	if _, err := svc.Activate(ctx, "doc-1", "zzz"); domainCode(err) != "HEADING_NOT_FOUND" {
		t.Fatalf("Activate(zzz) error = %v, want HEADING_NOT_FOUND", err)
	}
}

func TestActivateExpandsAndPersists(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := newTestService(t, Options{Metrics: reg})
	ctx := context.Background()
	if _, err := svc.ImportDocument(ctx, "doc-1", "Guide", sampleDocument()); err != nil {
		t.Fatalf("ImportDocument() error = %v", err)
	}

	got, err := svc.Activate(ctx, "doc-1", "c")
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if !reflect.DeepEqual(got.Expanded, []string{"b"}) {
		t.Fatalf("Expanded = %v, want [b]", got.Expanded)
	}
	if got.Container != "root" || got.ScrollTop != 0 {
		t.Fatalf("scroll = (%s, %v), want unscrolled root for a short document", got.Container, got.ScrollTop)
	}
	if b, _ := got.Outline.Get("b"); b.Collapsed {
		t.Fatal("expected b to be expanded in returned outline")
	}

	history, err := svc.History(ctx, "doc-1", 1)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if msg := strings.TrimSpace(history[0].Message); msg != "Expand ancestors of c" {
		t.Fatalf("latest message = %q", msg)
	}
	if n, err := testutil.GatherAndCount(reg, "outline_registry_lookups_total"); err != nil || n == 0 {
		t.Fatalf("GatherAndCount() = (%d, %v), want lookup metrics", n, err)
	}
}

func TestClosedDocumentReopensFromStore(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()
	if _, err := svc.ImportDocument(ctx, "doc-1", "Guide", sampleDocument()); err != nil {
		t.Fatalf("ImportDocument() error = %v", err)
	}
	if _, _, err := svc.SetCollapsed(ctx, "doc-1", "a", true); err != nil {
		t.Fatalf("SetCollapsed() error = %v", err)
	}

	if !svc.CloseDocument("doc-1") {
		t.Fatal("expected an open session to close")
	}
	if svc.CloseDocument("doc-1") {
		t.Fatal("expected second close to report nothing open")
	}
	snap, err := svc.Outline(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Outline() error = %v", err)
	}
	if a, _ := snap.Get("a"); !a.Collapsed {
		t.Fatal("expected collapse to survive reopening")
	}
}

func TestMissingDocument(t *testing.T) {
	svc := newTestService(t, Options{})

	_, err := svc.Outline(context.Background(), "nope")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("Outline() error = %v, want ErrNotFound", err)
	}
	if status, code, _, _ := mapError(err); status != http.StatusNotFound || code != "DOCUMENT_NOT_FOUND" {
		t.Fatalf("mapError() = (%d, %s)", status, code)
	}
}

func TestTogglesReachOtherProcess(t *testing.T) {
	mr := miniredis.RunT(t)
	reposDir := t.TempDir()
	ctx := context.Background()

	newPeer := func() *Service {
		bus := events.NewBus(nil)
		r, err := relay.NewRedisRelay("redis://"+mr.Addr(), bus, nil)
		if err != nil {
			t.Fatalf("NewRedisRelay() error = %v", err)
		}
		t.Cleanup(func() { _ = r.Close() })
		return newTestService(t, Options{
			Config: testConfig(t, reposDir),
			Store:  docstore.New(reposDir),
			Bus:    bus,
			Relay:  r,
		})
	}
	left, right := newPeer(), newPeer()

	if _, err := left.ImportDocument(ctx, "doc-1", "Guide", sampleDocument()); err != nil {
		t.Fatalf("ImportDocument() error = %v", err)
	}
	if _, err := right.Outline(ctx, "doc-1"); err != nil {
		t.Fatalf("right Outline() error = %v", err)
	}
	if err := right.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	if _, _, err := left.SetCollapsed(ctx, "doc-1", "d", true); err != nil {
		t.Fatalf("SetCollapsed() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := right.Outline(ctx, "doc-1")
		if err != nil {
			t.Fatalf("right Outline() error = %v", err)
		}
		if d, _ := snap.Get("d"); d.Collapsed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("toggle never reached the other process")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
