package replicated_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dobject-go/dobject/pkg/dobject/core"
	"github.com/dobject-go/dobject/pkg/dobject/definition"
	"github.com/dobject-go/dobject/pkg/dobject/replicated"
	"github.com/dobject-go/dobject/pkg/dobject/transport/loopback"
)

func newClockOn(bus *loopback.Bus, peerName, object string) (*core.TimeHandler, *core.UnorderedHandler) {
	channel := bus.NewChannel(peerName)
	box := core.NewTubeBox()
	log := definition.NewDefaultLogger(peerName)
	clock := core.NewTimeHandler(peerName+"-clock", box, log, nil)
	handler := core.NewUnorderedHandler(object, box, log, nil)
	box.Insert(channel, peerName == "initiator")
	return clock, handler
}

// TestLatest_SetStampsWithGroupTime covers spec.md §4.4: "Latest =
// HighScore where score is group-time".
func TestLatest_SetStampsWithGroupTime(t *testing.T) {
	bus := loopback.NewBus()
	clock, handler := newClockOn(bus, "initiator", "latest")
	log := definition.NewDefaultLogger("test")

	latest := replicated.NewLatest[string](handler, clock, log, false)
	before := clock.GroupTime()
	latest.Set("hello")
	after := clock.GroupTime()

	value, score, ok := latest.Value()
	assert.True(t, ok)
	assert.Equal(t, "hello", value)
	assert.GreaterOrEqual(t, score, before)
	assert.LessOrEqual(t, score, after+1.0)
}

// TestNameRegister_SetLabelAndLabel covers spec.md §4.7.
func TestNameRegister_SetLabelAndLabel(t *testing.T) {
	bus := loopback.NewBus()
	clock, handler := newClockOn(bus, "initiator", "name")
	log := definition.NewDefaultLogger("test")

	names := replicated.NewNameRegister(handler, clock, log)
	assert.Equal(t, "", names.Label())

	names.SetLabel("Morning run")
	assert.Equal(t, "Morning run", names.Label())
}
