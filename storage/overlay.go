package storage

import (
	"errors"
	"fmt"
	"sort"
)

var errOverlayClosed = errors.New("storage: overlay already committed or discarded")

// Overlay buffers writes on top of a Database. Reads observe the pending
// writes first. Nothing reaches the backing database until Commit, and
// Discard drops the buffer entirely.
type Overlay struct {
	base    Database
	pending map[string][]byte
	deleted map[string]struct{}
	closed  bool
}

// NewOverlay opens a write buffer over base.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

// Get returns the buffered value when present, otherwise the stored one.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	if o.closed {
		return nil, errOverlayClosed
	}
	k := string(key)
	if _, ok := o.deleted[k]; ok {
		return nil, ErrNotFound
	}
	if value, ok := o.pending[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.base.Get(key)
}

// Put buffers a write.
func (o *Overlay) Put(key, value []byte) error {
	if o.closed {
		return errOverlayClosed
	}
	if value == nil {
		value = []byte{}
	}
	k := string(key)
	delete(o.deleted, k)
	o.pending[k] = append([]byte(nil), value...)
	return nil
}

// Delete buffers a removal.
func (o *Overlay) Delete(key []byte) error {
	if o.closed {
		return errOverlayClosed
	}
	k := string(key)
	delete(o.pending, k)
	o.deleted[k] = struct{}{}
	return nil
}

// Dirty reports the number of buffered mutations.
func (o *Overlay) Dirty() int {
	return len(o.pending) + len(o.deleted)
}

// Commit flushes the buffer to the backing database in one atomic write.
func (o *Overlay) Commit() error {
	if o.closed {
		return errOverlayClosed
	}
	changes := make([]Change, 0, o.Dirty())
	for k, v := range o.pending {
		changes = append(changes, Change{Key: []byte(k), Value: v})
	}
	for k := range o.deleted {
		changes = append(changes, Change{Key: []byte(k)})
	}
	sort.Slice(changes, func(i, j int) bool { return string(changes[i].Key) < string(changes[j].Key) })
	if err := o.base.Write(changes); err != nil {
		return fmt.Errorf("storage: commit overlay: %w", err)
	}
	o.closed = true
	return nil
}

// Discard abandons every buffered mutation.
func (o *Overlay) Discard() {
	o.pending = nil
	o.deleted = nil
	o.closed = true
}
