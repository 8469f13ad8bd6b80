// Package delegate translates work items into index writer operations.
//
// Every work kind has exactly one delegate, looked up in a table indexed by
// kind. A delegate performs the item against a Writer and reports completed
// work to a progress monitor.
package delegate

import (
	"context"
	"fmt"
	"log/slog"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/work"
)

// Writer is the part of the index writer the delegates need.
// *store.Writer implements it.
type Writer interface {
	AddDocument(doc store.Document) error
	DeleteByTerms(terms ...store.Term) (int, error)
	RequestOptimize() error
}

type delegate struct {
	perform func(item work.Item, w Writer) error
	logDone func(item work.Item, m work.ProgressMonitor)
}

// table holds the delegate of every kind.
var table = [...]delegate{
	work.KindAdd:      {perform: performAdd, logDone: logDocumentAdded},
	work.KindUpdate:   {perform: performUpdate, logDone: logDocumentAdded},
	work.KindDelete:   {perform: performDelete, logDone: logNothing},
	work.KindPurge:    {perform: performDelete, logDone: logNothing},
	work.KindPurgeAll: {perform: performPurgeAll, logDone: logNothing},
	work.KindOptimize: {perform: performOptimize, logDone: logNothing},
}

// Set dispatches items to the delegate of their kind.
type Set struct {
	logger *slog.Logger
}

// NewSet returns a delegate set logging to logger (slog.Default() if nil).
func NewSet(logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{logger: logger}
}

func lookup(kind work.Kind) (delegate, error) {
	if !kind.Valid() {
		return delegate{}, ierrors.New(ierrors.ErrCodeInvalidWorkItem, "no delegate for work kind "+kind.String(), nil)
	}
	return table[kind], nil
}

// Perform applies item through w. Failures are returned as
// IndexMutationFailure carrying the entity type and the cause.
func (s *Set) Perform(ctx context.Context, item work.Item, w Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := lookup(item.Kind())
	if err != nil {
		return err
	}
	if err := d.perform(item, w); err != nil {
		return ierrors.IndexMutationFailure(item.EntityType(), failureMessage(item), err).
			WithDetail("kind", item.Kind().String())
	}
	return nil
}

// LogWorkDone reports a successfully applied item to m. A panicking monitor
// is logged and otherwise ignored.
func (s *Set) LogWorkDone(item work.Item, m work.ProgressMonitor) {
	if m == nil {
		return
	}
	d, err := lookup(item.Kind())
	if err != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			ferr := ierrors.MonitorCallbackFailure("DocumentsAdded", cause)
			s.logger.LogAttrs(context.Background(), slog.LevelWarn, "monitor_callback_failed",
				append(ierrors.LogAttrs(ferr), slog.String("item", item.String()))...)
		}
	}()
	d.logDone(item, m)
}

func failureMessage(item work.Item) string {
	switch item.Kind() {
	case work.KindAdd:
		return "unable to add entity to index: " + item.String()
	case work.KindUpdate:
		return "unable to update entity in index: " + item.String()
	case work.KindDelete, work.KindPurge:
		return "unable to delete entity from index: " + item.String()
	case work.KindPurgeAll:
		return "unable to purge all from index: " + item.EntityType()
	default:
		return "unable to optimize index"
	}
}

func document(item work.Item) store.Document {
	return store.Document{
		EntityType: item.EntityType(),
		Identifier: item.Identifier(),
		Fields:     item.Fields(),
	}
}

func performAdd(item work.Item, w Writer) error {
	return w.AddDocument(document(item))
}

func performUpdate(item work.Item, w Writer) error {
	if _, err := w.DeleteByTerms(store.ClassTerm(item.EntityType()), store.IDTerm(item.Identifier())); err != nil {
		return err
	}
	return w.AddDocument(document(item))
}

func performDelete(item work.Item, w Writer) error {
	_, err := w.DeleteByTerms(store.ClassTerm(item.EntityType()), store.IDTerm(item.Identifier()))
	return err
}

func performPurgeAll(item work.Item, w Writer) error {
	_, err := w.DeleteByTerms(store.ClassTerm(item.EntityType()))
	return err
}

func performOptimize(_ work.Item, w Writer) error {
	return w.RequestOptimize()
}

func logDocumentAdded(_ work.Item, m work.ProgressMonitor) {
	m.DocumentsAdded(1)
}

func logNothing(work.Item, work.ProgressMonitor) {}
