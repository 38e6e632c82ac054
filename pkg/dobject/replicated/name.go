package replicated

import (
	"github.com/dobject-go/dobject/pkg/dobject/core"
	"github.com/dobject-go/dobject/pkg/dobject/types"
)

// NameRegister is the per-watch label register (spec.md §4.7): an
// instance of the LWW register over group-time. UI writes call
// SetLabel; inbound changes reach the listener registered with
// RegisterListener.
type NameRegister struct {
	*Latest[string]
}

// NewNameRegister constructs a label register. Ties are not broken for
// names (breakTies is off): if two peers rename at the identical group
// time, neither write beats the other, so each peer keeps its own label.
func NewNameRegister(handler *core.UnorderedHandler, clock *core.TimeHandler, log types.Logger) *NameRegister {
	return &NameRegister{Latest: NewLatest[string](handler, clock, log, false)}
}

// SetLabel is the UI-facing write (spec.md §4.7: "UI writes produce
// set_value(text)").
func (n *NameRegister) SetLabel(text string) {
	n.Set(text)
}

// Label returns the current label, or "" if none has ever been set.
func (n *NameRegister) Label() string {
	value, _, _ := n.Value()
	return value
}
