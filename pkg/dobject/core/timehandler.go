package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dobject-go/dobject/pkg/dobject/types"
)

const (
	timeHandlerIface    = "org.dobject.TimeHandler"
	timeHandlerBasePath = "/org/dobject/TimeHandler/"
	signalWhatTime      = "what_time_is_it"
	methodReceiveTime   = "receive_time"
)

// whatTimeIsIt is the broadcast payload a follower sends on join.
type whatTimeIsIt struct {
	AskTime float64 `json:"ask_time"`
}

// receiveTime is the directed-call payload a peer that already knows its
// offset answers with (spec.md §4.2).
type receiveTime struct {
	AskTime    float64 `json:"ask_time"`
	StartTime  float64 `json:"start_time"`
	FinishTime float64 `json:"finish_time"`
}

// TimeHandler estimates the additive offset between the local wall clock
// and a shared group clock by a single request/first-response exchange
// (spec.md §4.2). The initiator starts already synchronized at offset 0;
// every other replica remains unsynchronized until some peer answers.
type TimeHandler struct {
	mu          sync.Mutex
	offset      float64
	knowOffset  bool
	isInitiator bool

	name string
	path string
	log  types.Logger
	box  *TubeBox

	channel types.Channel
	metrics types.MetricsSink

	// now is the local wall clock; overridable in tests.
	now func() time.Time

	// answered guards "first response wins" (subsequent ReceiveTime
	// calls for the same exchange are ignored).
	answered bool
}

// NewTimeHandler constructs a TimeHandler for the named session and
// subscribes it to box; once the channel arrives it registers its
// signal/method and, if not the initiator, asks the group for the time.
func NewTimeHandler(name string, box *TubeBox, log types.Logger, metrics types.MetricsSink) *TimeHandler {
	th := &TimeHandler{
		name:    name,
		path:    timeHandlerBasePath + name,
		log:     log,
		box:     box,
		metrics: types.OrNoop(metrics),
		now:     time.Now,
	}
	box.Subscribe(th.onTube)
	return th
}

func (t *TimeHandler) onTube(channel types.Channel, isInitiator bool) {
	t.mu.Lock()
	t.channel = channel
	t.isInitiator = isInitiator
	if isInitiator {
		t.offset = 0
		t.knowOffset = true
	}
	t.mu.Unlock()

	if _, err := channel.Subscribe(t.path, timeHandlerIface, signalWhatTime, true, t.handleWhatTimeIsIt); err != nil {
		t.log.Errorf("timehandler %s: failed subscribing to %s: %v", t.name, signalWhatTime, err)
	}
	if err := channel.RegisterMethod(t.path, timeHandlerIface, methodReceiveTime, t.handleReceiveTime); err != nil {
		t.log.Errorf("timehandler %s: failed registering %s: %v", t.name, methodReceiveTime, err)
	}

	if !isInitiator {
		t.askTime()
	}
}

func (t *TimeHandler) localTime() float64 {
	return float64(t.now().UnixNano()) / float64(time.Second)
}

// GroupTime returns local_time() + offset, the shared clock every
// time-stamped register reads (spec.md Glossary, "Group time").
func (t *TimeHandler) GroupTime() float64 {
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()
	return t.localTime() + offset
}

// KnowOffset reports whether the offset estimate has been learned yet.
func (t *TimeHandler) KnowOffset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.knowOffset
}

func (t *TimeHandler) askTime() {
	t.mu.Lock()
	channel := t.channel
	t.mu.Unlock()
	if channel == nil {
		return
	}

	ask := whatTimeIsIt{AskTime: t.localTime()}
	payload, err := json.Marshal(ask)
	if err != nil {
		t.log.Errorf("timehandler %s: failed marshalling ask: %v", t.name, err)
		return
	}
	if err := channel.Emit(t.path, timeHandlerIface, signalWhatTime, payload); err != nil {
		t.log.Errorf("timehandler %s: failed emitting %s: %v", t.name, signalWhatTime, err)
	}
}

// handleWhatTimeIsIt answers a follower's broadcast if this replica
// already knows its own offset (spec.md §4.2).
func (t *TimeHandler) handleWhatTimeIsIt(sender string, args []byte) {
	t.mu.Lock()
	channel := t.channel
	offset := t.offset
	know := t.knowOffset
	t.mu.Unlock()

	if channel != nil && sender == channel.UniqueName() {
		return
	}
	if !know {
		return
	}

	var ask whatTimeIsIt
	if err := json.Unmarshal(args, &ask); err != nil {
		t.log.Warnf("timehandler %s: failed decoding %s from %s: %v", t.name, signalWhatTime, sender, err)
		return
	}

	startTime := t.localTime() + offset
	peer, err := channel.GetPeer(sender, t.path)
	if err != nil {
		t.log.Errorf("timehandler %s: failed resolving peer %s: %v", t.name, sender, err)
		return
	}
	finishTime := t.localTime() + offset
	reply := receiveTime{AskTime: ask.AskTime, StartTime: startTime, FinishTime: finishTime}
	payload, err := json.Marshal(reply)
	if err != nil {
		t.log.Errorf("timehandler %s: failed marshalling reply: %v", t.name, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	peer.CallMethod(ctx, methodReceiveTime, payload,
		func([]byte) {},
		func(err error) {
			t.log.Warnf("timehandler %s: receive_time to %s failed: %v", t.name, sender, err)
		},
	)
}

// handleReceiveTime completes the offset estimate. First response wins;
// subsequent calls are ignored (spec.md §4.2, §8 property 7).
func (t *TimeHandler) handleReceiveTime(sender string, args []byte) ([]byte, error) {
	var resp receiveTime
	if err := json.Unmarshal(args, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSerializationMismatch, err)
	}

	rtime := t.localTime()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.knowOffset || t.answered {
		return nil, nil
	}
	t.answered = true
	t.offset = (resp.StartTime+resp.FinishTime)/2 - (resp.AskTime+rtime)/2
	t.knowOffset = true
	t.metrics.ObserveOffset(t.offset)
	return nil, nil
}
