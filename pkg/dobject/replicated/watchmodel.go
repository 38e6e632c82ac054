package replicated

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dobject-go/dobject/pkg/dobject/core"
	"github.com/dobject-go/dobject/pkg/dobject/types"
)

// watchHistoryWire is the wire payload for a full WatchModel snapshot
// (spec.md §6): ((init_mode, init_timeval), array of (t, kind)).
type watchHistoryWire struct {
	InitMode    types.Mode    `json:"init_mode"`
	InitTimeval float64       `json:"init_timeval"`
	Events      []types.Event `json:"events"`
}

// Fold computes the deterministic reduction of init over history,
// applied in (t, kind) sorted order (spec.md §4.6). It is exported
// standalone because it is pure and the host, or tests, may want to
// project a state without constructing a WatchModel.
func Fold(init types.State, history []types.Event) types.State {
	sorted := make([]types.Event, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	state := init
	for _, ev := range sorted {
		switch state.Mode {
		case types.Paused:
			switch ev.Kind {
			case types.Run:
				state.Mode = types.Running
				state.Timeval = ev.T - state.Timeval
			case types.Reset:
				state.Timeval = 0
			}
		case types.Running:
			switch ev.Kind {
			case types.Reset:
				state.Timeval = ev.T
			case types.Pause:
				state.Mode = types.Paused
				state.Timeval = ev.T - state.Timeval
			}
		}
	}
	return state
}

// WatchModel is the replicated stopwatch event log (spec.md §4.6): an
// ordered log with a deterministic fold to (mode, timeval), deduplicated
// by (t, kind), with listeners fired on every view-visible change.
//
// The history mutex is documented in spec.md §5 as reentrant, to let
// AddHistory recompute from within a locked region. This implementation
// achieves the same effect without a recursive lock: every exported
// method takes the mutex at its own entry point and, while holding it,
// calls only unexported helpers that expect it held (insertLocked,
// recomputeLocked); listener fan-out (notify) locks it again only after
// the method has released it — no call path ever re-enters the mutex, so a plain
// (non-reentrant) sync.Mutex is sufficient and avoids the surprises of a
// hand-rolled recursive lock (see DESIGN.md).
type WatchModel struct {
	mu sync.Mutex

	name      string
	initState types.State
	history   []types.Event
	known     map[types.Event]struct{}
	state     types.State

	handler   *core.UnorderedHandler
	log       types.Logger
	metrics   types.MetricsSink
	listeners []func(types.State)
}

// NewWatchModel constructs a model starting at initState, wrapping name
// over handler.
func NewWatchModel(name string, handler *core.UnorderedHandler, log types.Logger, metrics types.MetricsSink, initState types.State) *WatchModel {
	w := &WatchModel{
		name:      name,
		initState: initState,
		known:     make(map[types.Event]struct{}),
		state:     initState,
		handler:   handler,
		log:       log,
		metrics:   types.OrNoop(metrics),
	}
	handler.SetObject(w)
	return w
}

// insertLocked inserts ev into the sorted history if new, returning
// whether it was actually new. Caller must hold mu.
func (w *WatchModel) insertLocked(ev types.Event) bool {
	if _, ok := w.known[ev]; ok {
		return false
	}
	w.known[ev] = struct{}{}
	pos := sort.Search(len(w.history), func(i int) bool {
		return !w.history[i].Less(ev)
	})
	w.history = append(w.history, ev)
	copy(w.history[pos+1:], w.history[pos:])
	w.history[pos] = ev
	return true
}

func (w *WatchModel) recomputeLocked() types.State {
	return Fold(w.initState, w.history)
}

// AddEventFromView applies a locally generated UI event (spec.md §4.6).
// A duplicate event (already known, e.g. a double-dispatched click) is a
// no-op per the dedup invariant (spec.md §8 property 4). Otherwise the
// event is inserted, the state is recomputed, listeners always fire and
// the event is always broadcast — even when folding it left the state
// unchanged — so a UI click issued against a stale local clock still
// gets a corrective listener callback to re-sync its display.
func (w *WatchModel) AddEventFromView(ev types.Event) {
	w.mu.Lock()
	if !w.insertLocked(ev) {
		w.mu.Unlock()
		return
	}
	w.state = w.recomputeLocked()
	state := w.state
	w.mu.Unlock()

	w.metrics.IncEventApplied(w.name)
	w.notify(state)
	w.broadcast(ev)
}

// AddEventFromNet applies an inbound network event (spec.md §4.6).
// Listeners fire, and the event is re-broadcast, only if it is new AND
// it actually changed the folded state.
func (w *WatchModel) AddEventFromNet(ev types.Event) {
	w.mu.Lock()
	if !w.insertLocked(ev) {
		w.mu.Unlock()
		return
	}
	before := w.state
	after := w.recomputeLocked()
	w.state = after
	changed := before != after
	w.mu.Unlock()

	if changed {
		w.metrics.IncEventApplied(w.name)
		w.notify(after)
		w.broadcast(ev)
	}
}

// AddHistorySnapshot overwrites init_state, union-merges events, and
// recomputes, notifying listeners only if the resulting state changed
// (spec.md §4.6).
func (w *WatchModel) AddHistorySnapshot(initState types.State, events []types.Event) {
	w.mu.Lock()
	w.initState = initState
	for _, ev := range events {
		w.insertLocked(ev)
	}
	before := w.state
	after := w.recomputeLocked()
	w.state = after
	changed := before != after
	w.mu.Unlock()

	if changed {
		w.notify(after)
	}
}

// Reset sets a fresh init_state and clears history entirely (spec.md
// §4.6). Used at activity start, never broadcast — it defines a local
// replica's starting point, not a group-visible event.
func (w *WatchModel) Reset(initState types.State) {
	w.mu.Lock()
	w.initState = initState
	w.history = nil
	w.known = make(map[types.Event]struct{})
	w.state = initState
	state := w.state
	w.mu.Unlock()

	w.notify(state)
}

// GetState returns the current folded (mode, timeval).
func (w *WatchModel) GetState() types.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// History returns the init state and the sorted, deduplicated event log.
func (w *WatchModel) History() (types.State, []types.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]types.Event, len(w.history))
	copy(out, w.history)
	return w.initState, out
}

func (w *WatchModel) notify(state types.State) {
	w.mu.Lock()
	listeners := make([]func(types.State), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()
	for _, l := range listeners {
		if l == nil {
			continue
		}
		l(state)
	}
}

func (w *WatchModel) broadcast(ev types.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		w.log.Errorf("watchmodel: failed marshalling event: %v", err)
		return
	}
	w.handler.Send(payload)
}

// RegisterListener subscribes to state changes and immediately delivers
// the current folded state synchronously (spec.md §8 property 5). The
// returned function unsubscribes.
func (w *WatchModel) RegisterListener(listener func(types.State)) func() {
	w.mu.Lock()
	w.listeners = append(w.listeners, listener)
	idx := len(w.listeners) - 1
	state := w.state
	w.mu.Unlock()

	listener(state)

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if idx < len(w.listeners) {
			w.listeners[idx] = nil
		}
	}
}

// ReceiveMessage implements types.ReplicatedObject.
func (w *WatchModel) ReceiveMessage(_ string, message []byte) {
	var ev types.Event
	if err := json.Unmarshal(message, &ev); err != nil {
		w.log.Warnf("watchmodel: %v: %v", types.ErrSerializationMismatch, err)
		return
	}
	w.AddEventFromNet(ev)
}

// GetHistory implements types.ReplicatedObject.
func (w *WatchModel) GetHistory() ([]byte, error) {
	initState, events := w.History()
	return json.Marshal(watchHistoryWire{
		InitMode:    initState.Mode,
		InitTimeval: initState.Timeval,
		Events:      events,
	})
}

// AddHistory implements types.ReplicatedObject.
func (w *WatchModel) AddHistory(snapshot []byte) error {
	var wire watchHistoryWire
	if err := json.Unmarshal(snapshot, &wire); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerializationMismatch, err)
	}
	w.AddHistorySnapshot(types.State{Mode: wire.InitMode, Timeval: wire.InitTimeval}, wire.Events)
	return nil
}
