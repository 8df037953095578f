package pin

import (
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// periph WaitForEdge is not woken by edge reset, Wait polls closed flag this often.
const periphPoll = 200 * time.Millisecond

// Periph resolves pins by periph.io names, like "GPIO17" or "P1_11".
type Periph struct {
	Pull Pull
}

var _ Driver = Periph{}

func OpenPeriph(pull Pull) (Periph, error) {
	if _, err := host.Init(); err != nil {
		return Periph{}, errors.Annotate(err, "periph/init")
	}
	return Periph{Pull: pull}, nil
}

func (Periph) Close() error { return nil }

func (Periph) Output(name string, activeLow bool) (Output, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.NotFoundf("periph pin=%s", name)
	}
	o := &periphOutput{p: p, activeLow: activeLow}
	if err := o.Set(false); err != nil {
		return nil, err
	}
	return o, nil
}

func (self Periph) Watch(name string, edge Edge) (Watcher, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.NotFoundf("periph pin=%s", name)
	}
	return watchPeriph(p, edge, self.Pull)
}

func watchPeriph(p gpio.PinIO, edge Edge, pull Pull) (*periphWatcher, error) {
	pe := gpio.FallingEdge
	switch edge {
	case EdgeRising:
		pe = gpio.RisingEdge
	case EdgeBoth:
		pe = gpio.BothEdges
	}
	var err error
	switch pull {
	case PullAuto:
		// generic sysfs pins reject any bias
		if err = p.In(gpio.PullUp, pe); err != nil {
			err = p.In(gpio.PullNoChange, pe)
		}
	case PullUp:
		err = p.In(gpio.PullUp, pe)
	case PullDown:
		err = p.In(gpio.PullDown, pe)
	case PullNone:
		err = p.In(gpio.Float, pe)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "periph pin=%s input", p.Name())
	}
	return &periphWatcher{p: p}, nil
}

type periphOutput struct {
	p         gpio.PinIO
	activeLow bool
}

func (self *periphOutput) Set(on bool) error {
	level := gpio.Level(on != self.activeLow)
	return errors.Annotatef(self.p.Out(level), "periph pin=%s out=%s", self.p.Name(), level)
}

func (self *periphOutput) Close() error {
	errOff := self.Set(false)
	if err := self.p.Halt(); err != nil && errOff == nil {
		return errors.Annotate(err, "periph halt")
	}
	return errOff
}

type periphWatcher struct {
	p      gpio.PinIO
	closed uint32
}

func (self *periphWatcher) Wait(timeout time.Duration) (time.Time, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if atomic.LoadUint32(&self.closed) != 0 {
			return time.Time{}, ErrClosed
		}
		slice := periphPoll
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return time.Time{}, ErrTimeout
			}
			if left < slice {
				slice = left
			}
		}
		if self.p.WaitForEdge(slice) {
			if atomic.LoadUint32(&self.closed) != 0 {
				return time.Time{}, ErrClosed
			}
			return time.Now(), nil
		}
	}
}

func (self *periphWatcher) Close() error {
	if !atomic.CompareAndSwapUint32(&self.closed, 0, 1) {
		return nil
	}
	return errors.Annotate(self.p.In(gpio.PullNoChange, gpio.NoEdge), "periph edge off")
}
