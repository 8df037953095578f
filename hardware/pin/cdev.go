package pin

import (
	"sync"
	"time"

	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
)

type Cdev struct {
	chip     gpio.Chiper
	consumer string
}

var _ Driver = new(Cdev)

func OpenCdev(path, consumer string) (*Cdev, error) {
	chip, err := gpio.Open(path, consumer)
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open chip=%s", path)
	}
	return NewCdev(chip, consumer), nil
}

// NewCdev wraps already open chip, tests pass gpio_mock.MockChip here.
func NewCdev(chip gpio.Chiper, consumer string) *Cdev {
	return &Cdev{chip: chip, consumer: consumer}
}

func (self *Cdev) Close() error { return self.chip.Close() }

func (self *Cdev) Output(name string, activeLow bool) (Output, error) {
	line, err := parseLine(name)
	if err != nil {
		return nil, err
	}
	flag := gpio.GPIOHANDLE_REQUEST_OUTPUT
	if activeLow {
		flag |= gpio.GPIOHANDLE_REQUEST_ACTIVE_LOW
	}
	lines, err := self.chip.OpenLines(flag, self.consumer, line)
	if err != nil {
		return nil, errors.Annotatef(err, "gpio output line=%d", line)
	}
	o := &cdevOutput{lines: lines, set: lines.SetFunc(line), line: line}
	if err = o.Set(false); err != nil {
		_ = lines.Close()
		return nil, err
	}
	return o, nil
}

func (self *Cdev) Watch(name string, edge Edge) (Watcher, error) {
	line, err := parseLine(name)
	if err != nil {
		return nil, err
	}
	var flag gpio.EventFlag
	switch edge {
	case EdgeRising:
		flag = gpio.GPIOEVENT_REQUEST_RISING_EDGE
	case EdgeFalling:
		flag = gpio.GPIOEVENT_REQUEST_FALLING_EDGE
	case EdgeBoth:
		flag = gpio.GPIOEVENT_REQUEST_BOTH_EDGES
	}
	ev, err := self.chip.GetLineEvent(line, 0, flag, self.consumer)
	if err != nil {
		return nil, errors.Annotatef(err, "gpio.GetLineEvent line=%d", line)
	}
	return &cdevWatcher{ev: ev}, nil
}

type cdevOutput struct {
	mu    sync.Mutex
	lines gpio.Lineser
	set   gpio.LineSetFunc
	line  uint32
}

func (self *cdevOutput) Set(on bool) error {
	var v byte
	if on {
		v = 1
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	self.set(v)
	return errors.Annotatef(self.lines.Flush(), "gpio set line=%d value=%d", self.line, v)
}

// Close leaves line inactive.
func (self *cdevOutput) Close() error {
	errOff := self.Set(false)
	errClose := self.lines.Close()
	if errOff != nil {
		return errOff
	}
	return errClose
}

type cdevWatcher struct {
	ev gpio.Eventer
}

func (self *cdevWatcher) Wait(timeout time.Duration) (time.Time, error) {
	_, err := self.ev.Wait(timeout)
	switch {
	case err == nil:
		return time.Now(), nil
	case gpio.IsTimeout(err):
		return time.Time{}, ErrTimeout
	case gpio.IsClosed(err):
		return time.Time{}, ErrClosed
	}
	return time.Time{}, errors.Annotate(err, "gpio edge wait")
}

func (self *cdevWatcher) Close() error { return self.ev.Close() }
