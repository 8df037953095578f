// Package dispatch delivers outbound events to the game service.
// Emit never blocks the caller and never reports failure back,
// transports log their errors and move on.
package dispatch

import (
	"github.com/temoto/cabinet/internal/types"
	"github.com/temoto/cabinet/log2"
)

type Emitter interface {
	Emit(types.Event)
}

// CommandFunc receives parsed inbound command.
type CommandFunc func(types.Command) error

type Func func(types.Event)

func (f Func) Emit(e types.Event) { f(e) }

// Multi sends every event to all emitters in order.
type Multi []Emitter

func (self Multi) Emit(e types.Event) {
	for _, x := range self {
		x.Emit(e)
	}
}

type Log struct{ Log *log2.Log }

func (self Log) Emit(e types.Event) { self.Log.Infof("event %s", e.String()) }
