package replicated_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dobject-go/dobject/pkg/dobject/definition"
	"github.com/dobject-go/dobject/pkg/dobject/replicated"
	"github.com/dobject-go/dobject/pkg/dobject/transport/loopback"
)

// TestAddOnlySet_UpdateOnlyBroadcastsNewItems covers spec.md §4.5 and the
// supplemented singleton-bug closure (SPEC_FULL.md §12): Update always
// diffs against the held set and never re-inserts or re-broadcasts an
// already-known item.
func TestAddOnlySet_UpdateOnlyBroadcastsNewItems(t *testing.T) {
	bus := loopback.NewBus()
	handler := newHandlerOn(bus, "initiator", "set")
	log := definition.NewDefaultLogger("test")

	set := replicated.NewAddOnlySet[string](handler, log)
	var seen [][]string
	set.RegisterListener(func(inserted []string) { seen = append(seen, inserted) })

	set.Update([]string{"a", "b", "a"})
	set.Update([]string{"a", "c"})

	assert.ElementsMatch(t, []string{"a", "b", "c"}, set.Items())
	assert.Len(t, seen, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, seen[0])
	assert.Equal(t, []string{"c"}, seen[1])
}

// TestAddOnlySet_ConvergesAcrossPeers covers spec.md §8 S1: commutative
// convergence regardless of delivery order.
func TestAddOnlySet_ConvergesAcrossPeers(t *testing.T) {
	bus := loopback.NewBus()
	log := definition.NewDefaultLogger("test")

	aHandler := newHandlerOn(bus, "a", "set")
	aSet := replicated.NewAddOnlySet[string](aHandler, log)

	bHandler := newHandlerOn(bus, "b", "set")
	bSet := replicated.NewAddOnlySet[string](bHandler, log)

	aSet.Add("from-a")
	bSet.Add("from-b")

	assert.Eventually(t, func() bool {
		items := aSet.Items()
		return len(items) == 2
	}, twoSeconds, tenMillis)
	assert.Eventually(t, func() bool {
		items := bSet.Items()
		return len(items) == 2
	}, twoSeconds, tenMillis)
	assert.ElementsMatch(t, []string{"from-a", "from-b"}, aSet.Items())
}

// TestAddOnlySet_UnsubscribedListenerIsNotCalledAndDoesNotPanic covers
// spec.md §4 "no panics on valid input": unsubscribing a listener then
// triggering a further Add must not invoke the unsubscribed (now nil)
// slot.
func TestAddOnlySet_UnsubscribedListenerIsNotCalledAndDoesNotPanic(t *testing.T) {
	bus := loopback.NewBus()
	handler := newHandlerOn(bus, "initiator", "set")
	log := definition.NewDefaultLogger("test")

	set := replicated.NewAddOnlySet[string](handler, log)
	var fires int
	unsubscribe := set.RegisterListener(func([]string) { fires++ })
	unsubscribe()

	assert.NotPanics(t, func() {
		set.Add("after-unsubscribe")
	})
	assert.Equal(t, 0, fires)
}

// TestAddOnlySortedSet_MaintainsComparatorOrder covers spec.md §4.5's
// sorted variant and the supplemented injected-comparator feature
// (SPEC_FULL.md §12).
func TestAddOnlySortedSet_MaintainsComparatorOrder(t *testing.T) {
	bus := loopback.NewBus()
	handler := newHandlerOn(bus, "initiator", "sorted-set")
	log := definition.NewDefaultLogger("test")

	set := replicated.NewAddOnlySortedSet[int](handler, log, func(a, b int) bool { return a < b })
	set.Update([]int{5, 1, 3})
	set.Add(2)

	assert.Equal(t, []int{1, 2, 3, 5}, set.Items())
	assert.Equal(t, 4, set.Len())
	assert.Equal(t, 3, set.At(2))
}

// TestAddOnlySortedSet_ListenerReceivesInsertedInSortedOrder covers
// spec.md §4.5: "its listener receives new items in that order".
func TestAddOnlySortedSet_ListenerReceivesInsertedInSortedOrder(t *testing.T) {
	bus := loopback.NewBus()
	handler := newHandlerOn(bus, "initiator", "sorted-set")
	log := definition.NewDefaultLogger("test")

	set := replicated.NewAddOnlySortedSet[int](handler, log, func(a, b int) bool { return a < b })
	var seen []int
	set.RegisterListener(func(inserted []int) { seen = append(seen, inserted...) })

	set.Update([]int{9, 2, 5})
	assert.Equal(t, []int{2, 5, 9}, seen)
}

// TestAddOnlySortedSet_UnsubscribedListenerIsNotCalledAndDoesNotPanic
// covers spec.md §4 "no panics on valid input": unsubscribing a listener
// then triggering a further Add must not invoke the unsubscribed (now
// nil) slot.
func TestAddOnlySortedSet_UnsubscribedListenerIsNotCalledAndDoesNotPanic(t *testing.T) {
	bus := loopback.NewBus()
	handler := newHandlerOn(bus, "initiator", "sorted-set")
	log := definition.NewDefaultLogger("test")

	set := replicated.NewAddOnlySortedSet[int](handler, log, func(a, b int) bool { return a < b })
	var fires int
	unsubscribe := set.RegisterListener(func([]int) { fires++ })
	unsubscribe()

	assert.NotPanics(t, func() {
		set.Add(1)
	})
	assert.Equal(t, 0, fires)
}
