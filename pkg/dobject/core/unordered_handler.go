package core

import (
	"context"
	"sync"
	"time"

	"github.com/dobject-go/dobject/pkg/dobject/types"
)

const (
	unorderedIface       = "org.dobject.Unordered"
	unorderedBasePath    = "/org/dobject/Unordered/"
	signalSend           = "send"
	signalAskHistory     = "ask_history"
	methodReceiveHistory = "receive_history"
)

// UnorderedHandler is the generic anti-entropy / message-dispatch adapter
// every replicated object is registered with (spec.md §4.3). It knows
// nothing about the object's semantics beyond the ReplicatedObject
// capability interface; all commutativity/LWW reasoning lives in the
// wrapped object.
type UnorderedHandler struct {
	mu sync.Mutex

	name string
	path string
	log  types.Logger

	box     *TubeBox
	channel types.Channel
	object  types.ReplicatedObject

	metrics types.MetricsSink

	// historyAsked guards against asking twice: the initial AskHistory
	// is sent once, after whichever of the channel and the object
	// (attached via SetObject after construction) arrives second.
	historyAsked bool
}

// NewUnorderedHandler constructs the handler for the named object and
// subscribes it to box. The wrapped object is supplied via SetObject,
// before or after the channel's arrival; whichever happens second
// triggers the initial AskHistory broadcast.
func NewUnorderedHandler(name string, box *TubeBox, log types.Logger, metrics types.MetricsSink) *UnorderedHandler {
	h := &UnorderedHandler{
		name:    name,
		path:    unorderedBasePath + name,
		log:     log,
		box:     box,
		metrics: types.OrNoop(metrics),
	}
	box.Subscribe(h.onTube)
	return h
}

// SetObject attaches the wrapped replicated object. Safe to call once,
// before or after the channel has arrived.
func (h *UnorderedHandler) SetObject(object types.ReplicatedObject) {
	h.mu.Lock()
	h.object = object
	channel := h.channel
	already := h.historyAsked
	h.mu.Unlock()

	if channel != nil && !already {
		h.maybeAskHistory()
	}
}

func (h *UnorderedHandler) onTube(channel types.Channel, isInitiator bool) {
	h.mu.Lock()
	h.channel = channel
	h.mu.Unlock()

	if _, err := channel.Subscribe(h.path, unorderedIface, signalSend, true, h.handleSend); err != nil {
		h.log.Errorf("unordered %s: failed subscribing to %s: %v", h.name, signalSend, err)
	}
	if _, err := channel.Subscribe(h.path, unorderedIface, signalAskHistory, true, h.handleAskHistory); err != nil {
		h.log.Errorf("unordered %s: failed subscribing to %s: %v", h.name, signalAskHistory, err)
	}
	if err := channel.RegisterMethod(h.path, unorderedIface, methodReceiveHistory, h.handleReceiveHistory); err != nil {
		h.log.Errorf("unordered %s: failed registering %s: %v", h.name, methodReceiveHistory, err)
	}
	channel.WatchParticipants(h.onParticipantsChanged)

	h.maybeAskHistory()
}

func (h *UnorderedHandler) maybeAskHistory() {
	h.mu.Lock()
	if h.historyAsked || h.channel == nil || h.object == nil {
		h.mu.Unlock()
		return
	}
	h.historyAsked = true
	channel := h.channel
	h.mu.Unlock()

	if err := channel.Emit(h.path, unorderedIface, signalAskHistory, nil); err != nil {
		h.log.Errorf("unordered %s: failed emitting %s: %v", h.name, signalAskHistory, err)
	}
}

// Send broadcasts a local, self-sufficient incremental update produced
// by the wrapped object.
func (h *UnorderedHandler) Send(message []byte) {
	h.mu.Lock()
	channel := h.channel
	h.mu.Unlock()
	if channel == nil {
		// ChannelAbsent: the object already applied the update locally;
		// it will be rebroadcast to newly-arriving peers via
		// push-on-join once the channel latches. Nothing further to
		// do here (spec.md §7, ChannelAbsent).
		return
	}
	if err := channel.Emit(h.path, unorderedIface, signalSend, message); err != nil {
		h.log.Errorf("unordered %s: failed emitting %s: %v", h.name, signalSend, err)
		return
	}
	h.metrics.IncBroadcast(h.name)
}

func (h *UnorderedHandler) selfSent(sender string) bool {
	h.mu.Lock()
	channel := h.channel
	h.mu.Unlock()
	return channel != nil && sender != "" && sender == channel.UniqueName()
}

func (h *UnorderedHandler) handleSend(sender string, args []byte) {
	if h.selfSent(sender) {
		h.metrics.IncSelfEchoDropped(h.name)
		return
	}

	h.mu.Lock()
	object := h.object
	h.mu.Unlock()
	if object == nil {
		h.log.Warnf("unordered %s: %v from %s", h.name, types.ErrPreRegistration, sender)
		return
	}
	object.ReceiveMessage(sender, args)
}

func (h *UnorderedHandler) handleAskHistory(sender string, _ []byte) {
	if h.selfSent(sender) {
		return
	}

	h.mu.Lock()
	channel := h.channel
	object := h.object
	h.mu.Unlock()
	h.metrics.IncHistoryRequest(h.name)

	if object == nil {
		h.log.Warnf("unordered %s: %v from %s", h.name, types.ErrPreRegistration, sender)
		return
	}

	snapshot, err := object.GetHistory()
	if err != nil {
		h.log.Errorf("unordered %s: failed building history snapshot: %v", h.name, err)
		return
	}

	peer, err := channel.GetPeer(sender, h.path)
	if err != nil {
		h.log.Errorf("unordered %s: failed resolving peer %s: %v", h.name, sender, err)
		return
	}
	h.pushHistory(peer, snapshot, sender)
}

func (h *UnorderedHandler) handleReceiveHistory(sender string, args []byte) ([]byte, error) {
	if h.selfSent(sender) {
		return nil, nil
	}
	h.mu.Lock()
	object := h.object
	h.mu.Unlock()
	if object == nil {
		h.log.Warnf("unordered %s: %v from %s", h.name, types.ErrPreRegistration, sender)
		return nil, nil
	}
	if err := object.AddHistory(args); err != nil {
		h.log.Errorf("unordered %s: failed merging history from %s: %v", h.name, sender, err)
	}
	return nil, nil
}

// onParticipantsChanged pushes the current history snapshot to every
// newly-added participant, the "push-on-join" anti-entropy leg (spec.md
// §4.3, §8 S5).
func (h *UnorderedHandler) onParticipantsChanged(added, _ []types.Participant) {
	if len(added) == 0 {
		return
	}

	h.mu.Lock()
	channel := h.channel
	object := h.object
	h.mu.Unlock()
	if channel == nil || object == nil {
		return
	}

	self := channel.UniqueName()
	snapshot, err := object.GetHistory()
	if err != nil {
		h.log.Errorf("unordered %s: failed building history snapshot: %v", h.name, err)
		return
	}

	for _, participant := range added {
		if participant.Name == self {
			continue
		}
		peer, err := channel.GetPeer(participant.Name, h.path)
		if err != nil {
			h.log.Errorf("unordered %s: failed resolving new peer %s: %v", h.name, participant.Name, err)
			continue
		}
		h.pushHistory(peer, snapshot, participant.Name)
	}
}

func (h *UnorderedHandler) pushHistory(peer types.PeerStub, snapshot []byte, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		defer cancel()
		peer.CallMethod(ctx, methodReceiveHistory, snapshot,
			func([]byte) {},
			func(err error) {
				// RpcFailure: silently ignored, the peer will
				// resynchronize on its own next join (spec.md §7).
				h.log.Warnf("unordered %s: receive_history to %s failed: %v", h.name, target, err)
			},
		)
	}()
}
