package input

import (
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/inputevent-go"
	"github.com/temoto/cabinet/internal/types"
)

const DevInputEventTag = "dev-input-event"

// linux/input-event-codes.h
const evKey = 0x01

// DevInputEventSource reads keyboard encoder. Keys listed in Lines are
// pulses, other key presses are buttons. Releases and autorepeat are ignored.
type DevInputEventSource struct {
	f     io.ReadCloser
	Lines map[uint16]types.Line
}

// compile-time interface compliance test
var _ Source = new(DevInputEventSource)

func (self *DevInputEventSource) String() string { return DevInputEventTag }

func NewDevInputEventSource(device string, lines map[uint16]types.Line) (*DevInputEventSource, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, errors.Annotate(err, DevInputEventTag)
	}
	return NewDevInputEventReader(f, lines), nil
}

func NewDevInputEventReader(r io.ReadCloser, lines map[uint16]types.Line) *DevInputEventSource {
	return &DevInputEventSource{f: r, Lines: lines}
}

func (self *DevInputEventSource) Read() (types.InputEvent, error) {
	for {
		ie, err := inputevent.ReadOne(self.f)
		if err != nil {
			return types.InputEvent{}, err
		}
		if ie.Type != evKey || ie.Value != int32(inputevent.KeyStateDown) {
			continue
		}
		ev := types.InputEvent{
			Source: DevInputEventTag,
			Key:    ie.Code,
			Time:   time.Unix(ie.Time.Unix()),
		}
		if line, ok := self.Lines[ie.Code]; ok && ie.Code != 0 {
			ev.Line = line
			ev.Key = 0
		}
		return ev, nil
	}
}

func (self *DevInputEventSource) Close() error { return self.f.Close() }

func isEOF(err error) bool {
	cause := errors.Cause(err)
	if pe, ok := cause.(*os.PathError); ok {
		cause = pe.Err
	}
	return cause == io.EOF || cause == os.ErrClosed
}
