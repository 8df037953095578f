package input

import (
	"fmt"

	"github.com/temoto/cabinet/hardware/pin"
	"github.com/temoto/cabinet/internal/types"
)

const EdgeSourceTag = "gpio"

// EdgeSource turns GPIO edges into pulses on one line.
type EdgeSource struct {
	line types.Line
	w    pin.Watcher
}

var _ Source = new(EdgeSource)

func NewEdgeSource(line types.Line, w pin.Watcher) *EdgeSource {
	return &EdgeSource{line: line, w: w}
}

func (self *EdgeSource) String() string { return fmt.Sprintf("%s/%s", EdgeSourceTag, self.line) }

func (self *EdgeSource) Read() (types.InputEvent, error) {
	for {
		at, err := self.w.Wait(0)
		if pin.IsTimeout(err) {
			continue
		}
		if err != nil {
			return types.InputEvent{}, err
		}
		return types.InputEvent{Source: EdgeSourceTag, Line: self.line, Time: at}, nil
	}
}

func (self *EdgeSource) Close() error { return self.w.Close() }
