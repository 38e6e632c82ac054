package replicated

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dobject-go/dobject/pkg/dobject/core"
	"github.com/dobject-go/dobject/pkg/dobject/types"
)

// AddOnlySet is a commutative grow-only set (spec.md §4.5): items is the
// union of every element ever observed; removal, discard, pop, clear, and
// symmetric-difference-update are unsupported by design.
type AddOnlySet[T comparable] struct {
	mu sync.Mutex

	items map[T]struct{}

	handler   *core.UnorderedHandler
	log       types.Logger
	listeners []func([]T)
}

// NewAddOnlySet constructs an empty set over handler.
func NewAddOnlySet[T comparable](handler *core.UnorderedHandler, log types.Logger) *AddOnlySet[T] {
	s := &AddOnlySet[T]{
		items:   make(map[T]struct{}),
		handler: handler,
		log:     log,
	}
	handler.SetObject(s)
	return s
}

// Add inserts x if it is new.
func (s *AddOnlySet[T]) Add(x T) {
	s.Update([]T{x})
}

// Update inserts every element of items that is not already present,
// broadcasting the resulting diff as a one-element-or-more collection,
// never a bare singleton (SPEC_FULL.md §12).
func (s *AddOnlySet[T]) Update(items []T) {
	s.mu.Lock()
	diff := s.diffLocked(items)
	if len(diff) == 0 {
		s.mu.Unlock()
		return
	}
	s.insertLocked(diff)
	s.mu.Unlock()

	s.notify(diff)
	s.broadcast(diff)
}

func (s *AddOnlySet[T]) diffLocked(items []T) []T {
	var diff []T
	seen := make(map[T]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		if _, ok := s.items[it]; !ok {
			diff = append(diff, it)
		}
	}
	return diff
}

func (s *AddOnlySet[T]) insertLocked(diff []T) {
	for _, it := range diff {
		s.items[it] = struct{}{}
	}
}

func (s *AddOnlySet[T]) broadcast(diff []T) {
	payload, err := json.Marshal(diff)
	if err != nil {
		s.log.Errorf("addonlyset: failed marshalling diff: %v", err)
		return
	}
	s.handler.Send(payload)
}

func (s *AddOnlySet[T]) notify(diff []T) {
	s.mu.Lock()
	listeners := make([]func([]T), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, l := range listeners {
		if l == nil {
			continue
		}
		l(diff)
	}
}

// RegisterListener subscribes to newly inserted elements. Unlike the
// register, there is no "current value" to deliver synchronously — an
// empty-diff notification would be meaningless for a set that may
// legitimately start empty — so the listener only ever fires on actual
// insertions, matching spec.md §4.5.
func (s *AddOnlySet[T]) RegisterListener(listener func(inserted []T)) func() {
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	idx := len(s.listeners) - 1
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.listeners) {
			s.listeners[idx] = nil
		}
	}
}

// Items returns a snapshot of the current set contents.
func (s *AddOnlySet[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.items))
	for it := range s.items {
		out = append(out, it)
	}
	return out
}

// ReceiveMessage implements types.ReplicatedObject.
func (s *AddOnlySet[T]) ReceiveMessage(_ string, message []byte) {
	var items []T
	if err := json.Unmarshal(message, &items); err != nil {
		s.log.Warnf("addonlyset: %v: %v", types.ErrSerializationMismatch, err)
		return
	}

	s.mu.Lock()
	diff := s.diffLocked(items)
	if len(diff) == 0 {
		s.mu.Unlock()
		return
	}
	s.insertLocked(diff)
	s.mu.Unlock()

	s.notify(diff)
}

// GetHistory implements types.ReplicatedObject: the full set.
func (s *AddOnlySet[T]) GetHistory() ([]byte, error) {
	return json.Marshal(s.Items())
}

// AddHistory implements types.ReplicatedObject.
func (s *AddOnlySet[T]) AddHistory(snapshot []byte) error {
	var items []T
	if err := json.Unmarshal(snapshot, &items); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerializationMismatch, err)
	}

	s.mu.Lock()
	diff := s.diffLocked(items)
	if len(diff) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.insertLocked(diff)
	s.mu.Unlock()

	s.notify(diff)
	return nil
}

// AddOnlySortedSet is the sorted variant of AddOnlySet (spec.md §4.5):
// same convergence semantics, but items are also retrievable by index in
// a deterministic comparator order, maintained with binary-search
// insertion and deduplication.
type AddOnlySortedSet[T comparable] struct {
	mu sync.Mutex

	members map[T]struct{}
	sorted  []T
	less    func(a, b T) bool

	handler   *core.UnorderedHandler
	log       types.Logger
	listeners []func([]T)
}

// NewAddOnlySortedSet constructs an empty sorted set. less is injected
// rather than fixed, so callers supply their own comparator
// (SPEC_FULL.md §12).
func NewAddOnlySortedSet[T comparable](handler *core.UnorderedHandler, log types.Logger, less func(a, b T) bool) *AddOnlySortedSet[T] {
	s := &AddOnlySortedSet[T]{
		members: make(map[T]struct{}),
		less:    less,
		handler: handler,
		log:     log,
	}
	handler.SetObject(s)
	return s
}

func (s *AddOnlySortedSet[T]) Add(x T) {
	s.Update([]T{x})
}

func (s *AddOnlySortedSet[T]) Update(items []T) {
	s.mu.Lock()
	diff := s.diffLocked(items)
	if len(diff) == 0 {
		s.mu.Unlock()
		return
	}
	sort.Slice(diff, func(i, j int) bool { return s.less(diff[i], diff[j]) })
	s.insertLocked(diff)
	s.mu.Unlock()

	s.notify(diff)
	s.broadcast(diff)
}

func (s *AddOnlySortedSet[T]) diffLocked(items []T) []T {
	var diff []T
	seen := make(map[T]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		if _, ok := s.members[it]; !ok {
			diff = append(diff, it)
		}
	}
	return diff
}

// insertLocked inserts each element of diff at its sorted position via
// binary search.
func (s *AddOnlySortedSet[T]) insertLocked(diff []T) {
	for _, it := range diff {
		s.members[it] = struct{}{}
		pos := sort.Search(len(s.sorted), func(i int) bool {
			return !s.less(s.sorted[i], it)
		})
		s.sorted = append(s.sorted, it)
		copy(s.sorted[pos+1:], s.sorted[pos:])
		s.sorted[pos] = it
	}
}

func (s *AddOnlySortedSet[T]) broadcast(diff []T) {
	payload, err := json.Marshal(diff)
	if err != nil {
		s.log.Errorf("addonlysortedset: failed marshalling diff: %v", err)
		return
	}
	s.handler.Send(payload)
}

func (s *AddOnlySortedSet[T]) notify(diff []T) {
	s.mu.Lock()
	listeners := make([]func([]T), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, l := range listeners {
		if l == nil {
			continue
		}
		l(diff)
	}
}

// RegisterListener subscribes to newly inserted elements, delivered in
// sorted order (spec.md §4.5: "its listener receives new items in that
// order").
func (s *AddOnlySortedSet[T]) RegisterListener(listener func(inserted []T)) func() {
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	idx := len(s.listeners) - 1
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.listeners) {
			s.listeners[idx] = nil
		}
	}
}

// Items returns the set contents in comparator order.
func (s *AddOnlySortedSet[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.sorted))
	copy(out, s.sorted)
	return out
}

// At returns the element at sorted index i.
func (s *AddOnlySortedSet[T]) At(i int) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted[i]
}

// Len reports the set's cardinality.
func (s *AddOnlySortedSet[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sorted)
}

// ReceiveMessage implements types.ReplicatedObject.
func (s *AddOnlySortedSet[T]) ReceiveMessage(_ string, message []byte) {
	var items []T
	if err := json.Unmarshal(message, &items); err != nil {
		s.log.Warnf("addonlysortedset: %v: %v", types.ErrSerializationMismatch, err)
		return
	}
	s.mu.Lock()
	diff := s.diffLocked(items)
	if len(diff) == 0 {
		s.mu.Unlock()
		return
	}
	sort.Slice(diff, func(i, j int) bool { return s.less(diff[i], diff[j]) })
	s.insertLocked(diff)
	s.mu.Unlock()
	s.notify(diff)
}

// GetHistory implements types.ReplicatedObject.
func (s *AddOnlySortedSet[T]) GetHistory() ([]byte, error) {
	return json.Marshal(s.Items())
}

// AddHistory implements types.ReplicatedObject.
func (s *AddOnlySortedSet[T]) AddHistory(snapshot []byte) error {
	var items []T
	if err := json.Unmarshal(snapshot, &items); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerializationMismatch, err)
	}
	s.mu.Lock()
	diff := s.diffLocked(items)
	if len(diff) == 0 {
		s.mu.Unlock()
		return nil
	}
	sort.Slice(diff, func(i, j int) bool { return s.less(diff[i], diff[j]) })
	s.insertLocked(diff)
	s.mu.Unlock()
	s.notify(diff)
	return nil
}
