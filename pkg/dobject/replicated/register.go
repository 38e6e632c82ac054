package replicated

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dobject-go/dobject/pkg/dobject/core"
	"github.com/dobject-go/dobject/pkg/dobject/types"
)

// registerWire is the wire payload for a register update (spec.md §6):
// (value, score) without ties, (value, score, tiebreaker) with them.
// Per the resolved Open Question (SPEC_FULL.md §12/§13), the tiebreaker
// field is always encoded; a decoded message from a peer that omitted it
// is treated as tiebreaker 0.
type registerWire struct {
	Value      json.RawMessage `json:"value"`
	Score      float64         `json:"score"`
	Tiebreaker float64         `json:"tiebreaker"`
}

// HighScore is a last-writer-wins register (spec.md §4.4): the state
// always equals the lexicographic maximum, over (score, tiebreaker), of
// every observation ever made locally or received from a peer.
type HighScore[V any] struct {
	mu sync.Mutex

	hasValue   bool
	value      V
	score      float64
	tiebreaker float64

	breakTies bool
	rng       *rand.Rand

	handler   *core.UnorderedHandler
	log       types.Logger
	listeners []func(V, float64)
}

// NewHighScore constructs a register over handler.
// breakTies enables the random tiebreaker used to deterministically
// resolve equal-score races (spec.md §4.4, §8 S2).
func NewHighScore[V any](handler *core.UnorderedHandler, log types.Logger, breakTies bool) *HighScore[V] {
	h := &HighScore[V]{
		handler:   handler,
		log:       log,
		breakTies: breakTies,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	handler.SetObject(h)
	return h
}

func (h *HighScore[V]) key(score, tiebreaker float64) (float64, float64) {
	if h.breakTies {
		return score, tiebreaker
	}
	return score, 0
}

// beats reports whether (score, tiebreaker) strictly beats the current
// held key under the configured ordering. With breakTies disabled, two
// peers that locally set distinct values at an identical score never
// converge: neither key strictly beats the other, so each peer keeps its
// own incumbent forever (spec.md §8 S2's no-breaker case).
func (h *HighScore[V]) beats(score, tiebreaker float64) bool {
	if !h.hasValue {
		return true
	}
	cs, ct := h.key(score, tiebreaker)
	hs, ht := h.key(h.score, h.tiebreaker)
	if cs != hs {
		return cs > hs
	}
	return ct > ht
}

// SetValue proposes value at score. If it beats the current state the
// register is replaced locally, listeners fire, and the update is
// broadcast; otherwise this is a no-op.
func (h *HighScore[V]) SetValue(value V, score float64) {
	h.mu.Lock()
	tiebreaker := 0.0
	if h.breakTies {
		tiebreaker = h.rng.Float64()
	}
	if !h.beats(score, tiebreaker) {
		h.mu.Unlock()
		return
	}
	h.hasValue = true
	h.value, h.score, h.tiebreaker = value, score, tiebreaker
	v := h.value
	h.mu.Unlock()

	h.notify(v, score)
	h.broadcast(value, score, tiebreaker)
}

func (h *HighScore[V]) broadcast(value V, score, tiebreaker float64) {
	raw, err := json.Marshal(value)
	if err != nil {
		h.log.Errorf("highscore: failed marshalling value: %v", err)
		return
	}
	payload, err := json.Marshal(registerWire{Value: raw, Score: score, Tiebreaker: tiebreaker})
	if err != nil {
		h.log.Errorf("highscore: failed marshalling message: %v", err)
		return
	}
	h.handler.Send(payload)
}

func (h *HighScore[V]) notify(value V, score float64) {
	h.mu.Lock()
	listeners := make([]func(V, float64), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()
	for _, l := range listeners {
		if l == nil {
			continue
		}
		l(value, score)
	}
}

// RegisterListener subscribes to value changes and, if a value has been
// set, immediately delivers it synchronously, before returning (spec.md
// §8 property 5). A register that has never held a value delivers
// nothing. The returned function unsubscribes.
func (h *HighScore[V]) RegisterListener(listener func(value V, score float64)) func() {
	h.mu.Lock()
	h.listeners = append(h.listeners, listener)
	idx := len(h.listeners) - 1
	hasValue, value, score := h.hasValue, h.value, h.score
	h.mu.Unlock()

	if hasValue {
		listener(value, score)
	}

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if idx < len(h.listeners) {
			h.listeners[idx] = nil
		}
	}
}

// Value returns the current winning value, score, and whether one has
// ever been set.
func (h *HighScore[V]) Value() (value V, score float64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.score, h.hasValue
}

// ReceiveMessage implements types.ReplicatedObject.
func (h *HighScore[V]) ReceiveMessage(_ string, message []byte) {
	var wire registerWire
	if err := json.Unmarshal(message, &wire); err != nil {
		h.log.Warnf("highscore: %v: %v", types.ErrSerializationMismatch, err)
		return
	}
	var value V
	if err := json.Unmarshal(wire.Value, &value); err != nil {
		h.log.Warnf("highscore: %v: %v", types.ErrSerializationMismatch, err)
		return
	}

	h.mu.Lock()
	if !h.beats(wire.Score, wire.Tiebreaker) {
		h.mu.Unlock()
		return
	}
	h.hasValue = true
	h.value, h.score, h.tiebreaker = value, wire.Score, wire.Tiebreaker
	v := h.value
	h.mu.Unlock()

	h.notify(v, wire.Score)
}

// GetHistory implements types.ReplicatedObject: the full (value, score,
// tiebreaker) triple.
func (h *HighScore[V]) GetHistory() ([]byte, error) {
	h.mu.Lock()
	value, score, tiebreaker, hasValue := h.value, h.score, h.tiebreaker, h.hasValue
	h.mu.Unlock()
	if !hasValue {
		return json.Marshal(registerWire{})
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("highscore: failed marshalling value: %w", err)
	}
	return json.Marshal(registerWire{Value: raw, Score: score, Tiebreaker: tiebreaker})
}

// AddHistory implements types.ReplicatedObject: applies the same
// comparison a received message would.
func (h *HighScore[V]) AddHistory(snapshot []byte) error {
	var wire registerWire
	if err := json.Unmarshal(snapshot, &wire); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerializationMismatch, err)
	}
	if len(wire.Value) == 0 {
		return nil
	}
	var value V
	if err := json.Unmarshal(wire.Value, &value); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerializationMismatch, err)
	}

	h.mu.Lock()
	if !h.beats(wire.Score, wire.Tiebreaker) {
		h.mu.Unlock()
		return nil
	}
	h.hasValue = true
	h.value, h.score, h.tiebreaker = value, wire.Score, wire.Tiebreaker
	v := h.value
	h.mu.Unlock()

	h.notify(v, wire.Score)
	return nil
}
