package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/config"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/docstore"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/events"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/navigator"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/outline"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/relay"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/session"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/surface"
)

var documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// Relay shares heading toggles between processes serving the same document.
type Relay interface {
	Forward(documentID string)
	StopForward(documentID string)
	Listen(ctx context.Context, documentIDs ...string) (*relay.Subscription, error)
	Ping(ctx context.Context) error
}

type Options struct {
	Config config.Config
	Store  *docstore.Service
	// Bus must be the bus the relay was created with.
	Bus     *events.Bus
	Relay   Relay
	Metrics prometheus.Registerer
	Logger  *slog.Logger
	Layout  surface.LayoutOptions
}

// Service keeps one live session per open document. Sessions are opened from
// the document store on first use and every collapse change is committed back.
type Service struct {
	cfg     config.Config
	store   *docstore.Service
	bus     *events.Bus
	relay   Relay
	metrics prometheus.Registerer
	logger  *slog.Logger
	layout  surface.LayoutOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	open map[string]*openDocument
}

type openDocument struct {
	mu      sync.Mutex
	session *session.Session
	surface *surface.Static
	sub     *relay.Subscription
}

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("new service: nil document store")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("new service: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:     opts.Config,
		store:   opts.Store,
		bus:     bus,
		relay:   opts.Relay,
		metrics: opts.Metrics,
		logger:  logger,
		layout:  opts.Layout,
		ctx:     ctx,
		cancel:  cancel,
		open:    make(map[string]*openDocument),
	}, nil
}

// Ping checks the relay when one is configured.
func (s *Service) Ping(ctx context.Context) error {
	if s.relay == nil {
		return nil
	}
	return s.relay.Ping(ctx)
}

// ImportDocument creates the repository for a new document and opens it.
func (s *Service) ImportDocument(ctx context.Context, documentID, title string, doc *document.Document) (outline.Snapshot, error) {
	if err := validateDocumentID(documentID); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, validationError("document body is required")
	}
	if strings.TrimSpace(title) == "" {
		title = documentID
	}
	if _, _, err := s.store.Load(documentID, docstore.MainBranch); err == nil {
		return nil, domainError(http.StatusConflict, "DOCUMENT_EXISTS", "Document already exists", map[string]any{"documentId": documentID})
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	if err := s.store.EnsureDocumentRepo(documentID, docstore.Content{Title: title, Doc: raw}, s.cfg.Author); err != nil {
		return nil, err
	}
	s.logger.Info("app: imported document", "document", documentID, "title", title)
	return s.Outline(ctx, documentID)
}

func (s *Service) Outline(ctx context.Context, documentID string) (outline.Snapshot, error) {
	var snap outline.Snapshot
	err := s.withSession(ctx, documentID, func(sess *session.Session) error {
		snap = sess.Outline()
		return nil
	})
	return snap, err
}

// SetCollapsed collapses or expands one heading and returns the outline after
// the change.
func (s *Service) SetCollapsed(ctx context.Context, documentID, headingID string, collapsed bool) (bool, outline.Snapshot, error) {
	var (
		changed bool
		snap    outline.Snapshot
	)
	err := s.withSession(ctx, documentID, func(sess *session.Session) error {
		if sess.Outline().Index(headingID) < 0 {
			return headingNotFound(documentID, headingID)
		}
		var err error
		changed, err = sess.SetCollapsed(ctx, headingID, collapsed)
		sess.Tick()
		snap = sess.Outline()
		return err
	})
	return changed, snap, err
}

func (s *Service) Toggle(ctx context.Context, documentID, headingID string) (bool, outline.Snapshot, error) {
	var (
		changed bool
		snap    outline.Snapshot
	)
	err := s.withSession(ctx, documentID, func(sess *session.Session) error {
		if sess.Outline().Index(headingID) < 0 {
			return headingNotFound(documentID, headingID)
		}
		var err error
		changed, err = sess.Toggle(ctx, headingID)
		sess.Tick()
		snap = sess.Outline()
		return err
	})
	return changed, snap, err
}

// Activation is the result of navigating to a heading.
type Activation struct {
	HeadingID string           `json:"headingId"`
	Expanded  []string         `json:"expanded"`
	Selection int              `json:"selection"`
	ScrollTop float64          `json:"scrollTop"`
	Container string           `json:"container"`
	Outline   outline.Snapshot `json:"outline"`
}

func (s *Service) Activate(ctx context.Context, documentID, headingID string) (Activation, error) {
	var out Activation
	err := s.withDocument(ctx, documentID, func(od *openDocument) error {
		sess := od.session
		if sess.Outline().Index(headingID) < 0 {
			return headingNotFound(documentID, headingID)
		}
		res, ok := sess.Activate(ctx, headingID)
		if !ok {
			return domainError(http.StatusConflict, "HEADING_NOT_RENDERED", "Heading is not rendered", map[string]any{"headingId": headingID})
		}
		sess.Tick()
		out = activation(res, sess.Outline(), od.surface)
		return nil
	})
	return out, err
}

func activation(res navigator.Result, snap outline.Snapshot, surf *surface.Static) Activation {
	expanded := res.Expanded
	if expanded == nil {
		expanded = []string{}
	}
	container := "root"
	if res.Container == surf.Pane() {
		container = "pane"
	}
	return Activation{
		HeadingID: res.ID,
		Expanded:  expanded,
		Selection: res.Selection,
		ScrollTop: res.ScrollTop,
		Container: container,
		Outline:   snap,
	}
}

func (s *Service) History(_ context.Context, documentID string, limit int) ([]docstore.CommitInfo, error) {
	if err := validateDocumentID(documentID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.History(documentID, docstore.MainBranch, limit)
}

// Compare lists the headings whose collapsed state differs between two
// commits. An empty to compares against the branch head.
func (s *Service) Compare(_ context.Context, documentID, from, to string) ([]docstore.CollapseChange, error) {
	if err := validateDocumentID(documentID); err != nil {
		return nil, err
	}
	before, err := s.store.ContentAt(documentID, from)
	if err != nil {
		return nil, err
	}
	var after docstore.Content
	if to == "" {
		after, _, err = s.store.Load(documentID, docstore.MainBranch)
	} else {
		after, err = s.store.ContentAt(documentID, to)
	}
	if err != nil {
		return nil, err
	}
	return docstore.CollapseChanges(before, after)
}

// CloseDocument drops the live session of a document. It reports whether one
// was open.
func (s *Service) CloseDocument(documentID string) bool {
	s.mu.Lock()
	od, ok := s.open[documentID]
	delete(s.open, documentID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.release(documentID, od)
	return true
}

// OpenDocuments returns the ids of documents with a live session.
func (s *Service) OpenDocuments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown closes every session and stops relay listeners.
func (s *Service) Shutdown() {
	s.cancel()
	s.mu.Lock()
	open := s.open
	s.open = make(map[string]*openDocument)
	s.mu.Unlock()
	for id, od := range open {
		s.release(id, od)
	}
}

func (s *Service) release(documentID string, od *openDocument) {
	od.mu.Lock()
	defer od.mu.Unlock()
	if od.sub != nil {
		if err := od.sub.Close(); err != nil {
			s.logger.Warn("app: close relay subscription failed", "document", documentID, "error", err)
		}
	}
	if s.relay != nil {
		s.relay.StopForward(documentID)
	}
	od.session.Close()
	s.logger.Debug("app: closed document", "document", documentID)
}

// withSession runs fn with exclusive access to the document's session after
// draining its queued work.
func (s *Service) withSession(ctx context.Context, documentID string, fn func(*session.Session) error) error {
	return s.withDocument(ctx, documentID, func(od *openDocument) error {
		return fn(od.session)
	})
}

func (s *Service) withDocument(ctx context.Context, documentID string, fn func(*openDocument) error) error {
	od, err := s.acquire(ctx, documentID)
	if err != nil {
		return err
	}
	od.mu.Lock()
	defer od.mu.Unlock()
	od.session.Tick()
	return fn(od)
}

func (s *Service) acquire(ctx context.Context, documentID string) (*openDocument, error) {
	if err := validateDocumentID(documentID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if od, ok := s.open[documentID]; ok {
		return od, nil
	}

	content, _, err := s.store.Load(documentID, docstore.MainBranch)
	if err != nil {
		return nil, err
	}
	doc, err := content.Document()
	if err != nil {
		return nil, fmt.Errorf("parse stored document: %w", err)
	}
	sink := s.store.Sink(documentID, docstore.MainBranch, s.cfg.Author)
	cfg := s.cfg
	surf := surface.NewStatic(nil, s.layout)
	sess, err := session.Open(doc, surf, session.Options{
		DocumentID: documentID,
		Config:     &cfg,
		Logger:     s.logger,
		Bus:        s.bus,
		Metrics:    s.metrics,
		Sink:       sink,
	})
	if err != nil {
		return nil, err
	}
	// Ids assigned on open are committed so every process agrees on them.
	if err := sink.Persist(ctx, doc, "Assign heading ids"); err != nil {
		s.logger.Warn("app: persist heading ids failed", "document", documentID, "error", err)
	}

	od := &openDocument{session: sess, surface: surf}
	if s.relay != nil {
		s.relay.Forward(documentID)
		sub, err := s.relay.Listen(s.ctx, documentID)
		if err != nil {
			s.logger.Warn("app: relay listen failed", "document", documentID, "error", err)
		} else {
			od.sub = sub
		}
	}
	s.open[documentID] = od
	s.logger.Info("app: opened document", "document", documentID, "headings", len(sess.Outline()))
	return od, nil
}

func validateDocumentID(documentID string) error {
	if !documentIDPattern.MatchString(documentID) {
		return domainError(http.StatusBadRequest, "INVALID_DOCUMENT_ID", "Invalid document id", map[string]any{"documentId": documentID})
	}
	return nil
}
