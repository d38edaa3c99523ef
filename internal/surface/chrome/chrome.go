// Package chrome renders a document in headless Chrome and exposes the page
// as an outline surface: heading lookups, geometry and scrolling all go
// through page JavaScript.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/surface"
)

var ErrBrowserMissing = errors.New("chrome surface: no chromium or chrome binary found")

var browserNames = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

type Options struct {
	Width   int64
	Height  int64
	Title   string
	Timeout time.Duration
	// ExecPath overrides browser discovery.
	ExecPath string
	Logger   *slog.Logger
}

// Surface is a live Chrome tab. It is not safe for concurrent use.
type Surface struct {
	opts       Options
	ctx        context.Context
	cancel     func()
	logger     *slog.Logger
	generation int
}

// LookupBrowser returns the first browser binary on PATH.
func LookupBrowser() (string, error) {
	for _, name := range browserNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrBrowserMissing
}

// New starts a headless browser sized to the given viewport.
func New(ctx context.Context, opts Options) (*Surface, error) {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 800
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Title == "" {
		opts.Title = "Document"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ExecPath == "" {
		path, err := LookupBrowser()
		if err != nil {
			return nil, err
		}
		opts.ExecPath = path
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(opts.ExecPath),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(int(opts.Width), int(opts.Height)),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	s := &Surface{
		opts:   opts,
		ctx:    taskCtx,
		logger: opts.Logger,
		cancel: func() {
			cancelTask()
			cancelAlloc()
		},
	}

	if err := s.run(emulation.SetDeviceMetricsOverride(opts.Width, opts.Height, 1, false)); err != nil {
		s.cancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return s, nil
}

// Close shuts the browser down.
func (s *Surface) Close() {
	s.cancel()
}

// Refresh loads a fresh rendering of doc. Earlier element handles become
// disconnected.
func (s *Surface) Refresh(doc *document.Document) error {
	page, err := RenderPage(s.opts.Title, doc)
	if err != nil {
		return err
	}
	dataURL := "data:text/html;charset=utf-8," + percentEncodeForDataURL(page)

	var installed bool
	err = s.run(
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("#editor", chromedp.ByQuery),
		chromedp.Evaluate(helperScript, &installed),
	)
	if err != nil {
		return fmt.Errorf("chrome refresh: %w", err)
	}
	s.generation++
	return nil
}

// PrintPDF prints the current rendering on US Letter paper. Collapsed
// sections stay hidden in the output.
func (s *Surface) PrintPDF() ([]byte, error) {
	var data []byte
	err := s.run(chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		data, _, err = page.PrintToPDF().
			WithPrintBackground(true).
			WithPaperWidth(8.5).
			WithPaperHeight(11.0).
			WithMarginTop(0.75).
			WithMarginBottom(0.75).
			WithMarginLeft(0.75).
			WithMarginRight(0.75).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("chrome print pdf: %w", err)
	}
	return data, nil
}

func (s *Surface) Scan() []surface.Element {
	var items []elementInfo
	if err := s.eval("window.__outline.scan()", &items); err != nil {
		s.logger.Warn("chrome: scan failed", "error", err)
		return nil
	}
	out := make([]surface.Element, 0, len(items))
	for _, item := range items {
		out = append(out, s.element(item))
	}
	return out
}

func (s *Surface) Find(id string) (surface.Element, bool) {
	var item elementInfo
	if err := s.eval("window.__outline.find("+strconv.Quote(id)+")", &item); err != nil {
		s.logger.Warn("chrome: find failed", "heading", id, "error", err)
		return nil, false
	}
	if !item.Found {
		return nil, false
	}
	return s.element(item), true
}

func (s *Surface) Root() surface.Element {
	return &element{surface: s, ref: rootRef, generation: s.generation, pos: -1}
}

func (s *Surface) ViewportWidth() float64 {
	return float64(s.opts.Width)
}

func (s *Surface) element(item elementInfo) *element {
	return &element{
		surface:    s,
		ref:        item.Ref,
		headingID:  item.ID,
		pos:        item.Pos,
		generation: s.generation,
	}
}

func (s *Surface) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.Timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

func (s *Surface) eval(expr string, res any) error {
	return s.run(chromedp.Evaluate(expr, res))
}

const rootRef = "root"

type elementInfo struct {
	Found bool   `json:"found"`
	Ref   string `json:"ref"`
	ID    string `json:"id"`
	Pos   int    `json:"pos"`
}

type boxInfo struct {
	Found        bool    `json:"found"`
	Top          float64 `json:"top"`
	Height       float64 `json:"height"`
	ScrollTop    float64 `json:"scrollTop"`
	ScrollHeight float64 `json:"scrollHeight"`
	ClientHeight float64 `json:"clientHeight"`
	OverflowY    string  `json:"overflowY"`
}

type element struct {
	surface    *Surface
	ref        string
	headingID  string
	pos        int
	generation int
}

func (e *element) HeadingID() string { return e.headingID }

func (e *element) Pos() int { return e.pos }

func (e *element) Connected() bool {
	if e.generation != e.surface.generation {
		return false
	}
	var ok bool
	if err := e.surface.eval("window.__outline.connected("+strconv.Quote(e.ref)+")", &ok); err != nil {
		return false
	}
	return ok
}

func (e *element) Parent() (surface.Element, bool) {
	if e.ref == rootRef {
		return nil, false
	}
	var item elementInfo
	if err := e.surface.eval("window.__outline.parent("+strconv.Quote(e.ref)+")", &item); err != nil || !item.Found {
		return nil, false
	}
	return e.surface.element(item), true
}

func (e *element) Box() surface.Box {
	var b boxInfo
	if err := e.surface.eval("window.__outline.box("+strconv.Quote(e.ref)+")", &b); err != nil {
		e.surface.logger.Warn("chrome: box failed", "ref", e.ref, "error", err)
		return surface.Box{}
	}
	return surface.Box{
		Top:          b.Top,
		Height:       b.Height,
		ScrollTop:    b.ScrollTop,
		ScrollHeight: b.ScrollHeight,
		ClientHeight: b.ClientHeight,
		OverflowY:    b.OverflowY,
	}
}

func (e *element) ScrollTo(top float64) {
	var ok bool
	expr := fmt.Sprintf("window.__outline.scrollTo(%s, %s)", strconv.Quote(e.ref), strconv.FormatFloat(top, 'f', -1, 64))
	if err := e.surface.eval(expr, &ok); err != nil {
		e.surface.logger.Warn("chrome: scroll failed", "ref", e.ref, "error", err)
	}
}

// helperScript tags elements with stable refs so handles survive between
// calls within one rendering.
const helperScript = `(() => {
  const api = {
    next: 0,
    get(ref) {
      if (ref === "root") return document.scrollingElement;
      return document.querySelector('[data-outline-ref="' + ref + '"]');
    },
    describe(el) {
      if (!el.dataset.outlineRef) el.dataset.outlineRef = String(++this.next);
      return {found: true, ref: el.dataset.outlineRef, id: el.dataset.tocId || "", pos: Number(el.dataset.pos || -1)};
    },
    scan() {
      return Array.from(document.querySelectorAll("[data-toc-id]")).map((el) => this.describe(el));
    },
    find(id) {
      const el = document.querySelector('[data-toc-id="' + CSS.escape(id) + '"]');
      return el ? this.describe(el) : {found: false};
    },
    connected(ref) {
      const el = this.get(ref);
      return !!el && el.isConnected;
    },
    parent(ref) {
      const el = this.get(ref);
      const parent = el && el.parentElement;
      if (!parent || parent === document.scrollingElement) return {found: false};
      return this.describe(parent);
    },
    box(ref) {
      const el = this.get(ref);
      if (!el) return {found: false};
      const rect = ref === "root" ? {top: 0, height: window.innerHeight} : el.getBoundingClientRect();
      return {
        found: true,
        top: rect.top,
        height: rect.height,
        scrollTop: el.scrollTop,
        scrollHeight: el.scrollHeight,
        clientHeight: el.clientHeight,
        overflowY: getComputedStyle(el).overflowY,
      };
    },
    scrollTo(ref, top) {
      const el = this.get(ref);
      if (!el) return false;
      el.scrollTop = top;
      return true;
    },
  };
  window.__outline = api;
  return true;
})()`
