package feed

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ReconcileOutcome reports what Reconcile did with a confirmed item.
type ReconcileOutcome int

const (
	// Reconciled means the placeholder was replaced in place.
	Reconciled ReconcileOutcome = iota
	// AlreadyMerged means a snapshot delivered the confirmed item first.
	AlreadyMerged
	// Evicted means the placeholder was removed before confirmation; the item was discarded.
	Evicted
	// Dropped means the scope was closed or superseded.
	Dropped
)

func (o ReconcileOutcome) String() string {
	switch o {
	case Reconciled:
		return "reconciled"
	case AlreadyMerged:
		return "already_merged"
	case Evicted:
		return "evicted"
	default:
		return "dropped"
	}
}

// Scope is a handle on an opened feed context. Handles from a closed or reopened scope are stale.
type Scope struct {
	name string
	gen  uint64
}

// Name returns the logical scope name.
func (s Scope) Name() string { return s.name }

// IsZero reports whether the handle was never opened.
func (s Scope) IsZero() bool { return s.gen == 0 }

// Entry is a copy of one ordered store entry.
type Entry[T Item] struct {
	ID   ItemID `json:"id"`
	Item T      `json:"item"`
}

// Pending reports whether the entry awaits server confirmation.
func (e Entry[T]) Pending() bool { return e.ID.Pending() }

type entry[T Item] struct {
	id    ItemID
	item  T
	seq   uint64
	print string
	// set by Reconcile until a snapshot includes the item
	awaitingEcho bool
}

type scopeState[T Item] struct {
	gen        uint64
	seq        uint64
	entries    []*entry[T]
	aliases    map[string]string
	tombstones map[string]string
}

// Store keeps the ordered, de-duplicated items of every open scope.
// All operations are serialised; operations on stale scopes are silently dropped.
type Store[T Item] struct {
	mu       sync.Mutex
	gen      uint64
	scopes   map[string]*scopeState[T]
	newID    func() string
	observer func(Scope)
}

// NewStore builds an empty store.
func NewStore[T Item]() *Store[T] {
	return &Store[T]{
		scopes: make(map[string]*scopeState[T]),
		newID:  uuid.NewString,
	}
}

// OnChange registers a callback invoked after every applied mutation, outside the store lock.
func (s *Store[T]) OnChange(fn func(Scope)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// Open starts a fresh scope under the name, superseding any previous handle for it.
func (s *Store[T]) Open(name string) Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.scopes[name] = &scopeState[T]{
		gen:        s.gen,
		aliases:    make(map[string]string),
		tombstones: make(map[string]string),
	}
	return Scope{name: name, gen: s.gen}
}

// Close discards the scope. Later operations with the handle are dropped.
func (s *Store[T]) Close(scope Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.scopes[scope.name]; ok && st.gen == scope.gen {
		delete(s.scopes, scope.name)
	}
}

// Active reports whether the handle still addresses an open scope.
func (s *Store[T]) Active(scope Scope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(scope) != nil
}

// ReplaceSnapshot merges a full server result set into the scope.
func (s *Store[T]) ReplaceSnapshot(scope Scope, items []T) bool {
	s.mu.Lock()
	st := s.state(scope)
	if st == nil {
		s.mu.Unlock()
		return false
	}

	order := make([]string, 0, len(items))
	latest := make(map[string]T, len(items))
	tombstonedPrints := make(map[string]struct{}, len(st.tombstones))
	for _, p := range st.tombstones {
		if p != "" {
			tombstonedPrints[p] = struct{}{}
		}
	}
	for _, it := range items {
		id := it.ItemID()
		if id == "" {
			continue
		}
		if _, gone := st.tombstones[it.ItemClientRef()]; gone && it.ItemClientRef() != "" {
			continue
		}
		if _, gone := tombstonedPrints[Fingerprint(it)]; gone {
			continue
		}
		if _, seen := latest[id]; !seen {
			order = append(order, id)
		}
		latest[id] = it
	}

	confirmed := make(map[string]*entry[T])
	byLocal := make(map[string]*entry[T])
	byPrint := make(map[string]*entry[T])
	for _, e := range st.entries {
		if e.id.Pending() {
			byLocal[e.id.value] = e
			if e.print != "" {
				byPrint[e.print] = e
			}
			continue
		}
		confirmed[e.id.value] = e
	}

	inSnapshot := make(map[*entry[T]]struct{}, len(order))
	var added []*entry[T]
	for _, id := range order {
		it := latest[id]
		if e, ok := confirmed[id]; ok {
			e.item = it
			e.awaitingEcho = false
			inSnapshot[e] = struct{}{}
			continue
		}
		if e := matchPending(byLocal, byPrint, it); e != nil {
			delete(byLocal, e.id.value)
			delete(byPrint, e.print)
			st.aliases[e.id.value] = id
			e.id = ConfirmedID(id)
			e.item = it
			e.print = ""
			confirmed[id] = e
			inSnapshot[e] = struct{}{}
			continue
		}
		st.seq++
		e := &entry[T]{id: ConfirmedID(id), item: it, seq: st.seq}
		confirmed[id] = e
		inSnapshot[e] = struct{}{}
		added = append(added, e)
	}

	next := make([]*entry[T], 0, len(st.entries)+len(added))
	for _, e := range st.entries {
		if e.id.Pending() {
			next = append(next, e)
			continue
		}
		if _, ok := inSnapshot[e]; ok || e.awaitingEcho {
			next = append(next, e)
		}
	}
	next = append(next, added...)
	sortEntries(next)
	st.entries = next

	return s.notify(scope)
}

func matchPending[T Item](byLocal, byPrint map[string]*entry[T], it T) *entry[T] {
	if ref := it.ItemClientRef(); ref != "" {
		if e, ok := byLocal[ref]; ok {
			return e
		}
	}
	if p := Fingerprint(it); p != "" {
		if e, ok := byPrint[p]; ok {
			return e
		}
	}
	return nil
}

// InsertOptimistic prepends a draft under a fresh placeholder id and returns that id.
func (s *Store[T]) InsertOptimistic(scope Scope, draft T) (ItemID, bool) {
	s.mu.Lock()
	st := s.state(scope)
	if st == nil {
		s.mu.Unlock()
		return ItemID{}, false
	}
	st.seq++
	id := PendingID(s.newID())
	e := &entry[T]{id: id, item: draft, seq: st.seq, print: Fingerprint(draft)}
	st.entries = append([]*entry[T]{e}, st.entries...)
	s.notify(scope)
	return id, true
}

// Reconcile replaces the placeholder with its confirmed item at the same position.
func (s *Store[T]) Reconcile(scope Scope, placeholder ItemID, confirmed T) ReconcileOutcome {
	s.mu.Lock()
	st := s.state(scope)
	if st == nil {
		s.mu.Unlock()
		return Dropped
	}
	if !placeholder.Pending() {
		s.mu.Unlock()
		return Evicted
	}
	local := placeholder.value
	if _, ok := st.aliases[local]; ok {
		s.mu.Unlock()
		return AlreadyMerged
	}
	idx := st.index(placeholder)
	if idx < 0 {
		s.mu.Unlock()
		return Evicted
	}

	serverID := confirmed.ItemID()
	st.aliases[local] = serverID
	if dup := st.index(ConfirmedID(serverID)); dup >= 0 {
		st.entries = append(st.entries[:idx], st.entries[idx+1:]...)
		s.notify(scope)
		return AlreadyMerged
	}
	e := st.entries[idx]
	e.id = ConfirmedID(serverID)
	e.item = confirmed
	e.print = ""
	e.awaitingEcho = true
	s.notify(scope)
	return Reconciled
}

// Remove deletes the entry. Removing an absent id is a no-op.
func (s *Store[T]) Remove(scope Scope, id ItemID) bool {
	s.mu.Lock()
	st := s.state(scope)
	if st == nil {
		s.mu.Unlock()
		return false
	}
	id = st.resolve(id)
	idx := st.index(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	e := st.entries[idx]
	if e.id.Pending() {
		st.tombstones[e.id.value] = e.print
	}
	st.entries = append(st.entries[:idx], st.entries[idx+1:]...)
	return s.notify(scope)
}

// Update applies a partial update to the entry. Absent ids are a no-op.
func (s *Store[T]) Update(scope Scope, id ItemID, patch func(*T)) bool {
	s.mu.Lock()
	st := s.state(scope)
	if st == nil || patch == nil {
		s.mu.Unlock()
		return false
	}
	idx := st.index(st.resolve(id))
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	patch(&st.entries[idx].item)
	return s.notify(scope)
}

// Resolve maps a placeholder id to the confirmed id that replaced it, if any.
func (s *Store[T]) Resolve(scope Scope, id ItemID) ItemID {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(scope)
	if st == nil {
		return id
	}
	return st.resolve(id)
}

// Get returns a copy of the entry.
func (s *Store[T]) Get(scope Scope, id ItemID) (Entry[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(scope)
	if st == nil {
		return Entry[T]{}, false
	}
	idx := st.index(st.resolve(id))
	if idx < 0 {
		return Entry[T]{}, false
	}
	e := st.entries[idx]
	return Entry[T]{ID: e.id, Item: e.item}, true
}

// Items returns a copy of the ordered entries.
func (s *Store[T]) Items(scope Scope) []Entry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(scope)
	if st == nil {
		return nil
	}
	out := make([]Entry[T], len(st.entries))
	for i, e := range st.entries {
		out[i] = Entry[T]{ID: e.id, Item: e.item}
	}
	return out
}

// Len returns the number of entries in the scope.
func (s *Store[T]) Len(scope Scope) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.state(scope); st != nil {
		return len(st.entries)
	}
	return 0
}

func (s *Store[T]) state(scope Scope) *scopeState[T] {
	st, ok := s.scopes[scope.name]
	if !ok || st.gen != scope.gen {
		return nil
	}
	return st
}

// notify releases the lock and reports the change. Callers must hold s.mu.
func (s *Store[T]) notify(scope Scope) bool {
	observer := s.observer
	s.mu.Unlock()
	if observer != nil {
		observer(scope)
	}
	return true
}

func (st *scopeState[T]) resolve(id ItemID) ItemID {
	if !id.Pending() {
		return id
	}
	if server, ok := st.aliases[id.value]; ok {
		return ConfirmedID(server)
	}
	return id
}

func (st *scopeState[T]) index(id ItemID) int {
	for i, e := range st.entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

// sortEntries orders by createdAt descending. Pending entries and entries without a
// resolved timestamp count as "now"; ties go to the most recently inserted entry.
func sortEntries[T Item](entries []*entry[T]) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		aNow, bNow := sortsAsNow(a), sortsAsNow(b)
		if aNow != bNow {
			return aNow
		}
		if !aNow {
			ta, tb := a.item.ItemCreatedAt(), b.item.ItemCreatedAt()
			if !ta.Equal(tb) {
				return ta.After(tb)
			}
		}
		return a.seq > b.seq
	})
}

func sortsAsNow[T Item](e *entry[T]) bool {
	return e.id.Pending() || e.item.ItemCreatedAt().IsZero()
}
