package replicated

import (
	"github.com/dobject-go/dobject/pkg/dobject/core"
	"github.com/dobject-go/dobject/pkg/dobject/types"
)

// Latest is the HighScore specialization where the score is always the
// group clock (spec.md §4.4): "Latest = HighScore where score is
// group-time." It composes a register with a TimeHandler.
type Latest[V any] struct {
	*HighScore[V]
	clock *core.TimeHandler
}

// NewLatest constructs a Latest register over handler, using clock's
// GroupTime() as the score for every local write.
func NewLatest[V any](handler *core.UnorderedHandler, clock *core.TimeHandler, log types.Logger, breakTies bool) *Latest[V] {
	return &Latest[V]{
		HighScore: NewHighScore[V](handler, log, breakTies),
		clock:     clock,
	}
}

// Set proposes value, stamped with the current group time.
func (l *Latest[V]) Set(value V) {
	l.HighScore.SetValue(value, l.clock.GroupTime())
}
