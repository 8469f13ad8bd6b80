package backend

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Aman-CERP/indexsync/internal/cluster"
	"github.com/Aman-CERP/indexsync/internal/delegate"
	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/store"
)

// RegistryOptions configures how the backends of all indexes are opened.
type RegistryOptions struct {
	// IndexDir holds one bleve directory per index. Empty means in-memory.
	IndexDir string

	DefaultAnalyzer string
	FieldAnalyzers  map[string]string

	// Local applies to every index unless overridden in PerIndex.
	Local    LocalOptions
	PerIndex map[string]LocalOptions

	// Transport enables clustered mode when set.
	Transport cluster.Transport

	LockRetry ierrors.RetryConfig

	// Settings, when set, is consulted every time an index is opened and
	// takes precedence over the static options above. ok false falls back
	// to them. It lets indexes opened after a reconfiguration pick up the
	// new settings.
	Settings func(index string) (IndexSettings, bool)

	// OnCommit runs after each commit of an index.
	OnCommit func(index string)

	Logger *slog.Logger
}

// IndexSettings are the settings an index is opened with.
type IndexSettings struct {
	Local           LocalOptions
	DefaultAnalyzer string
	FieldAnalyzers  map[string]string
}

// Registry lazily opens and holds one backend per index.
type Registry struct {
	opts      RegistryOptions
	delegates *delegate.Set
	logger    *slog.Logger

	mu       sync.Mutex
	backends map[string]Backend
	closed   bool
}

// NewRegistry creates a registry. In clustered mode it installs itself as
// the transport's receive handler.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Registry{
		opts:      opts,
		delegates: delegate.NewSet(opts.Logger),
		logger:    opts.Logger,
		backends:  make(map[string]Backend),
	}
	if opts.Transport != nil {
		opts.Transport.OnReceive(r.receive)
	}
	return r
}

// Get returns the backend of index, creating it on first use.
func (r *Registry) Get(ctx context.Context, index string) (Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ierrors.New(ierrors.ErrCodeBackendClosed, "backend registry is closed", nil)
	}
	if b, ok := r.backends[index]; ok {
		return b, nil
	}

	var b Backend
	if r.opts.Transport != nil {
		b = NewClustered(index, r.opts.Transport, func(ctx context.Context) (*Local, error) {
			return r.openLocal(ctx, index)
		}, r.logger)
	} else {
		local, err := r.openLocal(ctx, index)
		if err != nil {
			return nil, err
		}
		b = local
	}
	r.backends[index] = b
	return b, nil
}

// settings resolves the settings of index.
func (r *Registry) settings(index string) IndexSettings {
	if r.opts.Settings != nil {
		if s, ok := r.opts.Settings(index); ok {
			if s.Local.OnError == nil {
				s.Local.OnError = r.opts.Local.OnError
			}
			return s
		}
	}
	s := IndexSettings{
		Local:           r.opts.Local,
		DefaultAnalyzer: r.opts.DefaultAnalyzer,
		FieldAnalyzers:  r.opts.FieldAnalyzers,
	}
	if o, ok := r.opts.PerIndex[index]; ok {
		s.Local = o
	}
	return s
}

func (r *Registry) openLocal(ctx context.Context, index string) (*Local, error) {
	path := ""
	if r.opts.IndexDir != "" {
		path = filepath.Join(r.opts.IndexDir, index)
	}
	settings := r.settings(index)
	session, err := store.Open(ctx, store.Options{
		Name:            index,
		Path:            path,
		DefaultAnalyzer: settings.DefaultAnalyzer,
		FieldAnalyzers:  settings.FieldAnalyzers,
		LockRetry:       r.opts.LockRetry,
		Logger:          r.logger,
	})
	if err != nil {
		return nil, err
	}
	if r.opts.OnCommit != nil {
		session.OnCommit(func() { r.opts.OnCommit(index) })
	}

	opts := settings.Local
	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	return NewLocal(index, session, r.delegates, opts), nil
}

// Local returns the local backend of index. It fails on nodes that are not
// master of a clustered index.
func (r *Registry) Local(ctx context.Context, index string) (*Local, error) {
	b, err := r.Get(ctx, index)
	if err != nil {
		return nil, err
	}
	switch b := b.(type) {
	case *Local:
		return b, nil
	case *Clustered:
		if err := b.Refresh(ctx); err != nil {
			return nil, err
		}
		if local, ok := b.Local(); ok {
			return local, nil
		}
	}
	return nil, ierrors.New(ierrors.ErrCodeMasterUnavailable, "index "+index+" is not held by this node", nil)
}

// Session returns the local index writer session of index, for searching.
// It fails on nodes that are not master of a clustered index.
func (r *Registry) Session(ctx context.Context, index string) (*store.Session, error) {
	local, err := r.Local(ctx, index)
	if err != nil {
		return nil, err
	}
	return local.Session(), nil
}

// receive routes an envelope to the clustered backend of its index.
func (r *Registry) receive(ctx context.Context, env cluster.Envelope) error {
	b, err := r.Get(ctx, env.IndexName())
	if err != nil {
		return err
	}
	c, ok := b.(*Clustered)
	if !ok {
		return ierrors.InternalError("index "+env.IndexName()+" is not clustered", nil)
	}
	return c.Receive(ctx, env)
}

// Refresh re-evaluates mastership of every opened clustered index.
func (r *Registry) Refresh(ctx context.Context) error {
	for _, index := range r.Indexes() {
		b, err := r.Get(ctx, index)
		if err != nil {
			return err
		}
		if c, ok := b.(*Clustered); ok {
			if err := c.Refresh(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Indexes lists the indexes opened so far.
func (r *Registry) Indexes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FlushAll flushes every opened backend.
func (r *Registry) FlushAll(ctx context.Context) error {
	for _, index := range r.Indexes() {
		b, err := r.Get(ctx, index)
		if err != nil {
			return err
		}
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	for index, b := range r.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
			r.logger.Warn("backend_close_failed", slog.String("index", index), slog.String("error", err.Error()))
		}
	}
	return firstErr
}
