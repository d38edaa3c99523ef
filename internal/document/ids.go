package document

import "github.com/google/uuid"

// MissingHeadingIDs plans the commands that give every heading a unique id:
// headings without one, and every repeat of an id already seen earlier in the
// document (pasted or split headings carry their source's id).
func (d *Document) MissingHeadingIDs(newID func() string) []Command {
	if newID == nil {
		newID = uuid.NewString
	}
	seen := make(map[string]struct{})
	var cmds []Command
	d.Walk(func(n *Node, pos int) bool {
		if !n.IsHeading() {
			return true
		}
		id := n.HeadingID()
		if _, dup := seen[id]; id == "" || dup {
			id = newID()
			cmds = append(cmds, SetNodeAttr{Pos: pos, Key: AttrID, Value: id})
		}
		seen[id] = struct{}{}
		return false
	})
	return cmds
}

// EnsureHeadingIDs applies MissingHeadingIDs and reports how many headings
// were (re)assigned.
func (d *Document) EnsureHeadingIDs(newID func() string) (int, error) {
	cmds := d.MissingHeadingIDs(newID)
	if err := d.Apply(cmds...); err != nil {
		return 0, err
	}
	return len(cmds), nil
}
