// Package collapse decides which blocks a collapsed heading hides and issues
// the commands that collapse or expand headings.
package collapse

import (
	"fmt"
	"log/slog"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/events"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/outline"
)

// Propagator applies collapse changes to a document and announces them on the
// bus.
type Propagator struct {
	documentID string
	bus        *events.Bus
	logger     *slog.Logger
}

// New creates a propagator. bus may be nil when nobody listens.
func New(documentID string, bus *events.Bus, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{documentID: documentID, bus: bus, logger: logger}
}

// SetCollapsed returns the command persisting a heading's collapsed state, or
// nil when id is not in the snapshot.
func SetCollapsed(snap outline.Snapshot, id string, collapsed bool) document.Command {
	if snap.Index(id) < 0 {
		return nil
	}
	return document.SetCollapsed(id, collapsed)
}

// Set collapses or expands one heading. It reports whether the document
// changed; an unknown id is a no-op.
func (p *Propagator) Set(doc *document.Document, snap outline.Snapshot, id string, collapsed bool) (bool, error) {
	cmd := SetCollapsed(snap, id, collapsed)
	if cmd == nil {
		p.logger.Debug("collapse: heading not in outline", "heading", id)
		return false, nil
	}
	node, _, ok := doc.FindHeading(id)
	if !ok {
		p.logger.Debug("collapse: heading no longer in document", "heading", id)
		return false, nil
	}
	if node.Collapsed() == collapsed {
		return false, nil
	}
	heading, _ := snap.Get(id)
	return p.commit(doc, []outline.HeadingDescriptor{heading}, collapsed, []document.Command{cmd})
}

// PlanExpandAncestors returns the ids that must be expanded to reveal id, in
// snapshot order.
//
// The heading itself is always expanded. A level-1 heading also expands its
// whole section, up to the next level-1 heading. For a deeper heading the walk
// goes backwards expanding every heading with a lower level than the target,
// stopping after the first level-1 heading or at the start of the document.
func PlanExpandAncestors(snap outline.Snapshot, id string) []string {
	i := snap.Index(id)
	if i < 0 {
		return nil
	}
	if snap[i].Level == 1 {
		ids := []string{id}
		for j := i + 1; j < len(snap) && snap[j].Level != 1; j++ {
			ids = append(ids, snap[j].ID)
		}
		return ids
	}

	var chain []string
	level := snap[i].Level
	for j := i - 1; j >= 0; j-- {
		if snap[j].Level >= level {
			continue
		}
		chain = append(chain, snap[j].ID)
		if snap[j].Level == 1 {
			break
		}
	}
	ids := make([]string, 0, len(chain)+1)
	for k := len(chain) - 1; k >= 0; k-- {
		ids = append(ids, chain[k])
	}
	return append(ids, id)
}

// ExpandAncestors expands everything PlanExpandAncestors names in one batch
// and returns the ids whose state actually changed.
func (p *Propagator) ExpandAncestors(doc *document.Document, snap outline.Snapshot, id string) ([]string, error) {
	planned := PlanExpandAncestors(snap, id)
	if len(planned) == 0 {
		p.logger.Debug("collapse: expand target not in outline", "heading", id)
		return nil, nil
	}

	var (
		targets []outline.HeadingDescriptor
		cmds    []document.Command
		changed []string
	)
	for _, hid := range planned {
		if !isCollapsed(doc, hid) {
			continue
		}
		heading, _ := snap.Get(hid)
		targets = append(targets, heading)
		cmds = append(cmds, document.SetCollapsed(hid, false))
		changed = append(changed, hid)
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	if _, err := p.commit(doc, targets, false, cmds); err != nil {
		return nil, err
	}
	return changed, nil
}

// isCollapsed reads the live node; the snapshot may predate recent commands.
func isCollapsed(doc *document.Document, id string) bool {
	node, _, ok := doc.FindHeading(id)
	return ok && node.Collapsed()
}

func (p *Propagator) commit(doc *document.Document, targets []outline.HeadingDescriptor, collapsed bool, cmds []document.Command) (bool, error) {
	if err := doc.Apply(cmds...); err != nil {
		return false, fmt.Errorf("collapse: %w", err)
	}
	p.logger.Debug("collapse: applied", "commands", document.Describe(cmds))
	if p.bus == nil {
		return true, nil
	}
	for _, heading := range targets {
		p.bus.Publish(events.Event{
			Type:       events.TypeHeadingToggled,
			DocumentID: p.documentID,
			Toggle: &events.Toggle{
				HeadingID: heading.ID,
				Level:     heading.Level,
				Collapsed: collapsed,
			},
		})
	}
	return true, nil
}
