package store

import (
	"context"
	"strings"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/work"
)

// Writer records index mutations on behalf of one Session.Apply call.
// It must not be retained after the call returns.
type Writer struct {
	s    *Session
	ctx  context.Context
	done bool
}

func (w *Writer) check() error {
	if w.done {
		return ierrors.InternalError("index writer used outside of Session.Apply", nil)
	}
	return nil
}

// AddDocument records an add of doc, replacing any document with the same id.
func (w *Writer) AddDocument(doc Document) error {
	if err := w.check(); err != nil {
		return err
	}
	if doc.EntityType == "" || doc.Identifier == "" {
		return ierrors.ValidationError("document requires entity type and identifier", nil)
	}
	if strings.Contains(doc.EntityType, work.TypeSeparator) {
		return ierrors.ValidationError("document entity type "+doc.EntityType+" contains "+work.TypeSeparator, nil)
	}
	w.record(op{id: doc.ID(), doc: doc})
	return nil
}

// DeleteByTerms records deletion of every document, committed or pending,
// that satisfies all terms. It returns the number of documents matched.
func (w *Writer) DeleteByTerms(terms ...Term) (int, error) {
	if err := w.check(); err != nil {
		return 0, err
	}

	matched := make(map[string]Document)
	ids, err := w.s.matchCommitted(w.ctx, terms)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		entityType, identifier := SplitDocumentID(id)
		matched[id] = Document{EntityType: entityType, Identifier: identifier}
	}
	for id, p := range w.s.pending {
		if p.present && p.doc.matches(terms) {
			matched[id] = p.doc
		} else if !p.present {
			// Already deleted in this session.
			delete(matched, id)
		}
	}

	for id, doc := range matched {
		w.record(op{id: id, doc: doc, delete: true})
	}
	return len(matched), nil
}

// RequestOptimize asks for the index to be compacted after the next commit.
func (w *Writer) RequestOptimize() error {
	if err := w.check(); err != nil {
		return err
	}
	w.s.optimize = true
	return nil
}

func (w *Writer) record(o op) {
	w.s.ops = append(w.s.ops, o)
	w.s.pending[o.id] = pendingDoc{doc: o.doc, present: !o.delete}
}
