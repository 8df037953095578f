// Package hopper drives coin hopper payout: motor relay on, count coin-out
// sensor pulses against requested amount, relay off. Jam is detected by
// deadline scaled to requested amount.
//
// Controller is not safe for concurrent use, call it from control loop only.
package hopper

import (
	"fmt"
	"time"

	"github.com/temoto/cabinet/internal/clock"
	"github.com/temoto/cabinet/internal/types"
	"github.com/temoto/cabinet/log2"
)

type State uint8

const (
	StateIdle State = iota
	StateDispensing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispensing:
		return "dispensing"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Motor is payout actuator line. Set(true) energizes relay.
type Motor interface {
	Set(on bool) error
}

// DeadlineFunc returns time allowed to dispense target units.
type DeadlineFunc func(target int) time.Duration

// LinearDeadline allows Base plus PerUnit for each requested unit, at most Max.
type LinearDeadline struct {
	Base    time.Duration
	PerUnit time.Duration
	Max     time.Duration
}

func (self LinearDeadline) Duration(target int) time.Duration {
	if self.Max > 0 && self.PerUnit > 0 && int64(target) > int64((self.Max-self.Base)/self.PerUnit) {
		return self.Max
	}
	d := self.Base + self.PerUnit*time.Duration(target)
	if self.Max > 0 && d > self.Max {
		d = self.Max
	}
	return d
}

type Config struct {
	// Units counted per coin-out sensor pulse.
	UnitsPerPulse int
	// Emit WITHDRAW_DISPENSE with increment on each sensor pulse.
	Progress bool
	Deadline DeadlineFunc
}

type Controller struct {
	Log    *log2.Log
	clock  clock.Clock
	motor  Motor
	emit   func(types.Event)
	config Config

	state     State
	target    int
	dispensed int
	deadline  clock.Timer

	sessions uint32
	jams     uint32
}

func New(log *log2.Log, c clock.Clock, motor Motor, emit func(types.Event), config Config) *Controller {
	if config.UnitsPerPulse <= 0 {
		config.UnitsPerPulse = 1
	}
	if config.Deadline == nil {
		panic("code error hopper config Deadline=nil")
	}
	return &Controller{
		Log:    log,
		clock:  c,
		motor:  motor,
		emit:   emit,
		config: config,
	}
}

// Start begins dispense session. Ignored when already dispensing or target<=0.
// Returns true if session started.
func (self *Controller) Start(target int) bool {
	if self.state == StateDispensing {
		self.Log.Errorf("start target=%d ignored, dispensing target=%d dispensed=%d",
			target, self.target, self.dispensed)
		return false
	}
	if target <= 0 {
		self.Log.Errorf("start target=%d ignored, must be positive", target)
		return false
	}

	self.sessions++
	self.target = target
	self.dispensed = 0
	if err := self.motor.Set(true); err != nil {
		self.Log.Errorf("start target=%d motor on err=%v", target, err)
		if err := self.motor.Set(false); err != nil {
			self.Log.Errorf("motor off err=%v", err)
		}
		self.emit(types.WithdrawComplete(0))
		return false
	}
	self.state = StateDispensing

	d := self.config.Deadline(target)
	var t clock.Timer
	t = self.clock.AfterFunc(d, func() { self.onDeadline(t) })
	self.deadline = t
	self.Log.Infof("start target=%d deadline=%v", target, d)
	return true
}

// Pulse accounts one coin-out sensor pulse.
func (self *Controller) Pulse() { self.CoinOut(self.config.UnitsPerPulse) }

func (self *Controller) CoinOut(n int) {
	if self.state != StateDispensing {
		self.Log.Errorf("coin-out n=%d while idle, hopper may be leaking", n)
		return
	}
	self.dispensed += n
	self.Log.Debugf("coin-out n=%d dispensed=%d/%d", n, self.dispensed, self.target)
	if self.config.Progress {
		self.emit(types.WithdrawDispense(n))
	}
	if self.dispensed >= self.target {
		self.Stop()
	}
}

// Stop ends session, repeated calls are no-op.
func (self *Controller) Stop() {
	if self.state != StateDispensing {
		return
	}
	if err := self.motor.Set(false); err != nil {
		self.Log.Errorf("CRITICAL motor off err=%v", err)
	}
	if self.deadline != nil {
		self.deadline.Stop()
		self.deadline = nil
	}
	self.state = StateIdle
	if self.dispensed < self.target {
		self.Log.Errorf("stop dispensed=%d < target=%d", self.dispensed, self.target)
	} else {
		self.Log.Infof("stop dispensed=%d target=%d", self.dispensed, self.target)
	}
	self.emit(types.WithdrawComplete(self.dispensed))
}

func (self *Controller) onDeadline(t clock.Timer) {
	if self.state != StateDispensing || t != self.deadline {
		return
	}
	self.jams++
	self.Log.Errorf("jam target=%d dispensed=%d", self.target, self.dispensed)
	self.Stop()
}

func (self *Controller) State() State     { return self.state }
func (self *Controller) Target() int      { return self.target }
func (self *Controller) Dispensed() int   { return self.dispensed }
func (self *Controller) Sessions() uint32 { return self.sessions }
func (self *Controller) Jams() uint32     { return self.jams }
