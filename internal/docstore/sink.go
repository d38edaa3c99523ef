package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
)

// Sink commits a live document to one branch of its repository.
type Sink struct {
	store      *Service
	documentID string
	branch     string
	author     string
}

func (s *Service) Sink(documentID, branch, author string) *Sink {
	if branch == "" {
		branch = MainBranch
	}
	return &Sink{store: s, documentID: documentID, branch: branch, author: author}
}

// Persist commits doc unless it matches the branch head.
func (k *Sink) Persist(ctx context.Context, doc *document.Document, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	head, _, err := k.store.Load(k.documentID, k.branch)
	if err != nil {
		return err
	}
	next := Content{Title: head.Title, Doc: raw}
	if !HasChanges(head, next) {
		return nil
	}
	if _, err := k.store.Commit(k.documentID, k.branch, next, k.author, message); err != nil {
		return err
	}
	return nil
}
