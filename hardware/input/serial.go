package input

import (
	"io"
	"time"

	"github.com/juju/errors"
	"github.com/tarm/serial"
	"github.com/temoto/cabinet/internal/types"
)

const SerialSourceTag = "serial"

// SerialSource reads microcontroller bridge which sends one byte per edge.
// Bytes listed in Lines are pulses, others are reported as button keys.
type SerialSource struct {
	r     io.ReadCloser
	buf   []byte
	pos   int
	Lines map[byte]types.Line
}

var _ Source = new(SerialSource)

func (self *SerialSource) String() string { return SerialSourceTag }

func NewSerialSource(device string, baud int, lines map[byte]types.Line) (*SerialSource, error) {
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, errors.Annotatef(err, "serial open device=%s baud=%d", device, baud)
	}
	return NewSerialReader(port, lines), nil
}

func NewSerialReader(r io.ReadCloser, lines map[byte]types.Line) *SerialSource {
	return &SerialSource{r: r, buf: make([]byte, 0, 64), Lines: lines}
}

func (self *SerialSource) Read() (types.InputEvent, error) {
	for self.pos >= len(self.buf) {
		self.buf = self.buf[:cap(self.buf)]
		n, err := self.r.Read(self.buf)
		self.buf = self.buf[:n]
		self.pos = 0
		if n == 0 && err != nil {
			return types.InputEvent{}, err
		}
	}
	b := self.buf[self.pos]
	self.pos++
	ev := types.InputEvent{Source: SerialSourceTag, Time: time.Now()}
	if line, ok := self.Lines[b]; ok {
		ev.Line = line
	} else {
		ev.Key = uint16(b)
	}
	return ev, nil
}

func (self *SerialSource) Close() error { return self.r.Close() }
