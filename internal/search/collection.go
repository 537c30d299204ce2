package search

import (
	"fmt"
	"sort"
	"sync"
)

// ChangeKind says what happened to a search in a Collection
type ChangeKind int

const (
	Added ChangeKind = iota
	Updated
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change is delivered to subscribers after a Collection is modified
type Change struct {
	Kind     ChangeKind
	Metadata Metadata
}

// Compiled pairs a search definition with its predicate
type Compiled struct {
	Metadata  Metadata
	Predicate *Predicate
	seq       int
}

type subscriber struct {
	id int
	fn func(Change)
}

// Collection holds the active searches keyed by case-insensitive text
type Collection struct {
	mu      sync.RWMutex
	entries map[string]Compiled
	seq     int
	opts    []CompileOption

	subMu  sync.Mutex
	subs   []subscriber
	nextID int
}

// NewCollection creates an empty collection. opts are applied to every
// predicate it compiles.
func NewCollection(opts ...CompileOption) *Collection {
	return &Collection{entries: make(map[string]Compiled), opts: opts}
}

// Add compiles and inserts a search. A Position of AutoPosition places it
// after every existing search.
func (c *Collection) Add(meta Metadata) (Compiled, error) {
	if meta.Text == "" {
		return Compiled{}, ErrEmptySearch
	}
	pred, err := Compile(meta, c.opts...)
	if err != nil {
		return Compiled{}, err
	}

	c.mu.Lock()
	key := meta.Key()
	if _, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return Compiled{}, fmt.Errorf("%w: %s", ErrDuplicateSearch, meta.Text)
	}
	if meta.Position < 0 {
		meta.Position = c.nextPositionLocked()
		pred.meta.Position = meta.Position
	}
	c.seq++
	entry := Compiled{Metadata: meta, Predicate: pred, seq: c.seq}
	c.entries[key] = entry
	c.mu.Unlock()

	c.notify(Change{Kind: Added, Metadata: meta})
	return entry, nil
}

// Update replaces the definition of an existing search with the same key.
// Insertion order is kept.
func (c *Collection) Update(meta Metadata) (Compiled, error) {
	pred, err := Compile(meta, c.opts...)
	if err != nil {
		return Compiled{}, err
	}

	c.mu.Lock()
	key := meta.Key()
	old, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return Compiled{}, fmt.Errorf("%w: %s", ErrNotFound, meta.Text)
	}
	if meta.Position < 0 {
		meta.Position = old.Metadata.Position
		pred.meta.Position = meta.Position
	}
	entry := Compiled{Metadata: meta, Predicate: pred, seq: old.seq}
	c.entries[key] = entry
	c.mu.Unlock()

	c.notify(Change{Kind: Updated, Metadata: meta})
	return entry, nil
}

// Remove deletes the search with the given text, ignoring case
func (c *Collection) Remove(text string) bool {
	c.mu.Lock()
	key := Key(text)
	old, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok {
		c.notify(Change{Kind: Removed, Metadata: old.Metadata})
	}
	return ok
}

// Get looks up a search by text, ignoring case
func (c *Collection) Get(text string) (Compiled, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[Key(text)]
	return entry, ok
}

// Len returns the number of searches
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns the searches ordered by Position, ties broken by
// insertion order.
func (c *Collection) Snapshot() []Compiled {
	c.mu.RLock()
	out := make([]Compiled, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry)
	}
	c.mu.RUnlock()

	SortCompiled(out)
	return out
}

// SortCompiled orders searches by Position then insertion
func SortCompiled(list []Compiled) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Metadata.Position != list[j].Metadata.Position {
			return list[i].Metadata.Position < list[j].Metadata.Position
		}
		return list[i].seq < list[j].seq
	})
}

func (c *Collection) nextPositionLocked() int {
	next := 0
	for _, entry := range c.entries {
		if entry.Metadata.Position >= next {
			next = entry.Metadata.Position + 1
		}
	}
	return next
}

// Subscribe registers fn to be called after every change. Callbacks run on
// the goroutine that made the change and must not modify the collection.
// The returned function unsubscribes.
func (c *Collection) Subscribe(fn func(Change)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

func (c *Collection) notify(change Change) {
	c.subMu.Lock()
	subs := c.subs
	c.subMu.Unlock()
	for _, s := range subs {
		s.fn(change)
	}
}
