// Package pin is GPIO access for cabinet: one output line per actuator,
// edge watch per pulse input. Backends: Linux gpio character device,
// periph.io host drivers, in-memory mock for bench and tests.
package pin

import (
	"io"
	"strconv"
	"time"

	"github.com/juju/errors"
)

var ErrClosed = errors.New("pin closed")

// ErrTimeout is returned by Watcher.Wait when no edge arrived in time.
var ErrTimeout = errors.Timeoutf("pin wait")

func IsTimeout(err error) bool { return err == ErrTimeout || errors.IsTimeout(err) }

type Edge uint8

const (
	EdgeFalling Edge = iota
	EdgeRising
	EdgeBoth
)

func ParseEdge(s string) (Edge, error) {
	switch s {
	case "", "falling":
		return EdgeFalling, nil
	case "rising":
		return EdgeRising, nil
	case "both":
		return EdgeBoth, nil
	}
	return EdgeFalling, errors.NotValidf("edge=%s", s)
}

// Pull is input bias. Auto asks for pull-up and falls back to
// leaving bias as is when driver rejects it.
type Pull uint8

const (
	PullAuto Pull = iota
	PullUp
	PullDown
	PullNone
)

func ParsePull(s string) (Pull, error) {
	switch s {
	case "", "auto":
		return PullAuto, nil
	case "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	case "none":
		return PullNone, nil
	}
	return PullAuto, errors.NotValidf("pull=%s", s)
}

// Output is actuator line, Set(true) means active.
type Output interface {
	io.Closer
	Set(on bool) error
}

// Watcher reports edges on input line.
type Watcher interface {
	io.Closer
	// Wait blocks until next edge, timeout=0 waits forever.
	Wait(timeout time.Duration) (time.Time, error)
}

type Driver interface {
	io.Closer
	Output(name string, activeLow bool) (Output, error)
	Watch(name string, edge Edge) (Watcher, error)
}

const (
	DriverCdev   = "cdev"
	DriverPeriph = "periph"
	DriverMock   = "mock"
)

// Open returns driver by name. chip is used by cdev only, pull by periph
// only (cdev v1 ABI has no bias flags, line bias comes from device tree).
func Open(driver, chip, consumer string, pull Pull) (Driver, error) {
	switch driver {
	case DriverCdev, "":
		return OpenCdev(chip, consumer)
	case DriverPeriph:
		return OpenPeriph(pull)
	case DriverMock:
		return NewMock(), nil
	}
	return nil, errors.NotSupportedf("gpio driver=%s", driver)
}

func parseLine(name string) (uint32, error) {
	n, err := strconv.ParseUint(name, 10, 16)
	if err != nil {
		return 0, errors.Annotatef(err, "pin=%s must be line number", name)
	}
	return uint32(n), nil
}
