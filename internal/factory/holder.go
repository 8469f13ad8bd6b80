package factory

import (
	"sync/atomic"
)

// Holder publishes the current State. Readers never block; a reader keeps
// the snapshot it loaded even after a swap.
type Holder struct {
	p atomic.Pointer[State]
}

// NewHolder creates a holder publishing initial.
func NewHolder(initial *State) *Holder {
	h := &Holder{}
	h.p.Store(initial)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *State {
	return h.p.Load()
}

// Swap publishes next and returns the previous snapshot.
func (h *Holder) Swap(next *State) *State {
	return h.p.Swap(next)
}

// Update builds the next snapshot from the current one with fn and
// publishes it. Concurrent updates are retried so none is lost.
func (h *Holder) Update(fn func(b *Builder)) (*State, error) {
	for {
		old := h.p.Load()
		b := CopyStateFromOld(old)
		fn(b)
		next, err := b.Build()
		if err != nil {
			return nil, err
		}
		if h.p.CompareAndSwap(old, next) {
			return next, nil
		}
	}
}
