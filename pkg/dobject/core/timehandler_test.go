package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/dobject-go/dobject/pkg/dobject/core"
	"github.com/dobject-go/dobject/pkg/dobject/definition"
	"github.com/dobject-go/dobject/pkg/dobject/transport/loopback"
)

// TestTimeHandler_InitiatorStartsSynchronized covers spec.md §8 property
// 7's initiator half: the session initiator is at offset 0 immediately,
// without ever asking the group.
func TestTimeHandler_InitiatorStartsSynchronized(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := loopback.NewBus()
	channel := bus.NewChannel("initiator")
	log := definition.NewDefaultLogger("test")

	box := core.NewTubeBox()
	handler := core.NewTimeHandler("session", box, log, nil)
	box.Insert(channel, true)

	assert.True(t, handler.KnowOffset())
	assert.InDelta(t, 0, handler.GroupTime()-float64(time.Now().UnixNano())/float64(time.Second), 1.0)
}

// TestTimeHandler_FollowerLearnsOffsetFromFirstResponder covers spec.md
// §4.2 and §8 property 7's follower half: a late joiner is unsynchronized
// before its channel arrives and learns its offset once the initiator, a
// peer that already knows its offset, answers.
func TestTimeHandler_FollowerLearnsOffsetFromFirstResponder(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := loopback.NewBus()
	log := definition.NewDefaultLogger("test")

	initiatorChannel := bus.NewChannel("initiator")
	initiatorBox := core.NewTubeBox()
	initiatorHandler := core.NewTimeHandler("session", initiatorBox, log, nil)
	initiatorBox.Insert(initiatorChannel, true)

	followerChannel := bus.NewChannel("follower")
	followerBox := core.NewTubeBox()
	followerHandler := core.NewTimeHandler("session", followerBox, log, nil)

	assert.False(t, followerHandler.KnowOffset())
	followerBox.Insert(followerChannel, false)

	assert.Eventually(t, followerHandler.KnowOffset, 2*time.Second, 10*time.Millisecond)
	_ = initiatorHandler
}

// TestTimeHandler_NoResponderLeavesFollowerUnsynchronized covers spec.md
// §4.2's "remains unsynchronized" edge case: a lone follower with no
// peer that already knows its offset never learns one.
func TestTimeHandler_NoResponderLeavesFollowerUnsynchronized(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := loopback.NewBus()
	channel := bus.NewChannel("lonely")
	log := definition.NewDefaultLogger("test")

	box := core.NewTubeBox()
	handler := core.NewTimeHandler("session", box, log, nil)
	box.Insert(channel, false)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, handler.KnowOffset())
}
