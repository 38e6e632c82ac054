package core

import (
	"sync"

	"github.com/dobject-go/dobject/pkg/dobject/types"
)

// Listener is invoked exactly once with the channel and whether this
// replica is the session initiator, either synchronously from Subscribe
// (if the box is already latched) or from the single Insert call that
// latches it.
type Listener func(channel types.Channel, isInitiator bool)

// TubeBox is a latch holding a possibly-absent Channel (spec.md §4.1).
// Handlers subscribe before the channel is known to exist; TubeBox
// notifies them once, in subscription order, the moment it arrives.
//
// Insert may be called at most once. A second call is a documented
// no-op: the box keeps the first channel it ever latched and does not
// re-notify listeners, rather than risk corrupting already-dispatched
// state with a second, possibly different, channel.
type TubeBox struct {
	mu          sync.Mutex
	channel     types.Channel
	isInitiator bool
	latched     bool
	listeners   []Listener
}

// NewTubeBox returns an empty, unlatched box.
func NewTubeBox() *TubeBox {
	return &TubeBox{}
}

// Insert latches the box with channel. Only the first call has any
// effect; every registered listener is invoked, in subscription order,
// with (channel, isInitiator).
func (b *TubeBox) Insert(channel types.Channel, isInitiator bool) {
	b.mu.Lock()
	if b.latched {
		b.mu.Unlock()
		return
	}
	b.latched = true
	b.channel = channel
	b.isInitiator = isInitiator
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		l(channel, isInitiator)
	}
}

// Subscribe registers listener to be notified once the channel arrives.
// If the box is already latched, listener is invoked synchronously,
// before Subscribe returns.
func (b *TubeBox) Subscribe(listener Listener) {
	b.mu.Lock()
	if b.latched {
		channel, isInitiator := b.channel, b.isInitiator
		b.mu.Unlock()
		listener(channel, isInitiator)
		return
	}
	b.listeners = append(b.listeners, listener)
	b.mu.Unlock()
}
