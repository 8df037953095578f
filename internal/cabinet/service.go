// Package cabinet owns the control loop. Every state change (pulse,
// timer, command, status query) runs as a step on one goroutine, so
// coin and hopper state machines need no locks.
package cabinet

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/cabinet/hardware/input"
	"github.com/temoto/cabinet/internal/clock"
	"github.com/temoto/cabinet/internal/coin"
	"github.com/temoto/cabinet/internal/dispatch"
	"github.com/temoto/cabinet/internal/hopper"
	"github.com/temoto/cabinet/internal/types"
	"github.com/temoto/cabinet/log2"
)

var ErrStopped = errors.New("cabinet stopped")

const DefaultInbox = 256

type Config struct {
	Debounce coin.DebounceConfig
	Resolver coin.Resolver
	BatchGap time.Duration
	Hopper   hopper.Config
	// Button key code to action name.
	Buttons input.Keymap
	Inbox   int
}

type Service struct {
	Log      *log2.Log
	clock    clock.Clock
	motor    hopper.Motor
	emitter  dispatch.Emitter
	buttons  input.Keymap
	inbox    chan func()
	alive    *alive.Alive
	// posting holds read lock, Run takes write lock to close inbox
	inboxMu  sync.RWMutex
	closed   bool
	done     chan struct{}
	debounce *coin.Debouncer
	resolver coin.Resolver
	batch    *coin.Batcher
	hopper   *hopper.Controller

	// loop owned
	stopping     bool
	pulses       uint32
	hopperPulses uint32
	groups       uint32
	unresolved   uint32
	credited     uint32
	// any goroutine, wall time in UnixNano
	errors      uint32
	lastPulse   atomic_clock.Clock
	lastCommand atomic_clock.Clock
}

// New installs error counting hook on log, pass dedicated child logger.
func New(log *log2.Log, c clock.Clock, motor hopper.Motor, emitter dispatch.Emitter, config Config) *Service {
	if config.Resolver == nil {
		panic("code error cabinet config Resolver=nil")
	}
	if config.Inbox <= 0 {
		config.Inbox = DefaultInbox
	}
	self := &Service{
		Log:      log,
		motor:    motor,
		emitter:  emitter,
		buttons:  config.Buttons,
		resolver: config.Resolver,
		inbox:    make(chan func(), config.Inbox),
		alive:    alive.NewAlive(),
		done:     make(chan struct{}),
	}
	parentErrorFunc := log.ErrorFunc()
	self.Log.SetErrorFunc(func(err error) {
		atomic.AddUint32(&self.errors, 1)
		if parentErrorFunc != nil {
			parentErrorFunc(err)
		}
	})
	self.clock = clock.Serial(c, self.post)
	self.debounce = coin.NewDebouncer(log.WithPrefix("coin"), self.clock, config.Debounce, self.onGroup)
	self.batch = coin.NewBatcher(log.WithPrefix("batch"), self.clock, config.BatchGap, self.onCredit)
	self.hopper = hopper.New(log.WithPrefix("hopper"), self.clock, motor, self.emit, config.Hopper)
	return self
}

// Run executes steps until Stop. Call once.
func (self *Service) Run() {
	defer close(self.done)
	stopch := self.alive.StopChan()
	for {
		select {
		case step := <-self.inbox:
			step()
		case <-stopch:
			self.inboxMu.Lock()
			self.closed = true
			self.inboxMu.Unlock()
			// accepted before close, run so every caller gets an answer
			self.stopping = true
			queued := 0
			for len(self.inbox) > 0 {
				step := <-self.inbox
				step()
				queued++
			}
			if queued > 0 {
				self.Log.Infof("shutdown ran queued steps=%d", queued)
			}
			self.shutdown()
			return
		}
	}
}

// Stop finishes dispense session, forces actuator off, flushes pending
// credit and returns after loop exit. Run must have been started.
func (self *Service) Stop() {
	self.alive.Stop()
	<-self.done
}

func (self *Service) Done() <-chan struct{} { return self.done }

// Input accepts event from any goroutine. Dropped after Stop.
func (self *Service) Input(e types.InputEvent) {
	self.post(func() { self.handleInput(e) })
}

// Command queues command for control loop.
func (self *Service) Command(cmd types.Command) error {
	switch cmd.Kind {
	case types.CommandWithdraw:
	default:
		return errors.NotSupportedf("command type=%s", string(cmd.Kind))
	}
	if !self.post(func() { self.withdraw(cmd) }) {
		return ErrStopped
	}
	self.lastCommand.Set(self.clock.Now().UnixNano())
	self.Log.Infof("queued %s", cmd.String())
	return nil
}

// Status returns snapshot taken on control loop.
func (self *Service) Status() (types.Status, error) {
	ch := make(chan types.Status, 1)
	if !self.post(func() { ch <- self.status() }) {
		return types.Status{}, ErrStopped
	}
	select {
	case st := <-ch:
		return st, nil
	case <-self.done:
		return types.Status{}, ErrStopped
	}
}

// LastPulse is time of last coin pulse, zero if none. Safe from any goroutine.
func (self *Service) LastPulse() time.Time {
	return clockTime(&self.lastPulse)
}

// LastCommand is time of last accepted command, zero if none.
func (self *Service) LastCommand() time.Time {
	return clockTime(&self.lastCommand)
}

func (self *Service) post(step func()) bool {
	self.inboxMu.RLock()
	defer self.inboxMu.RUnlock()
	if self.closed {
		return false
	}
	select {
	case self.inbox <- step:
		return true
	case <-self.alive.StopChan():
		return false
	}
}

func (self *Service) handleInput(e types.InputEvent) {
	switch e.Line {
	case types.LineCoin:
		self.pulses++
		self.lastPulse.Set(self.clock.Now().UnixNano())
		self.debounce.Pulse()
	case types.LineHopper:
		self.hopperPulses++
		self.hopper.Pulse()
	default:
		if action, ok := self.buttons.Action(e.Key); ok {
			self.emit(types.ButtonEvent(action))
		} else {
			self.Log.Debugf("key=%d source=%s not mapped", e.Key, e.Source)
		}
	}
}

func (self *Service) withdraw(cmd types.Command) {
	if self.stopping {
		self.Log.Errorf("shutdown drop %s", cmd.String())
		self.emit(types.WithdrawComplete(0))
		return
	}
	self.hopper.Start(cmd.Amount)
}

func (self *Service) onGroup(g coin.Group) {
	self.groups++
	credits, ok := self.resolver.Resolve(g.Pulses)
	if !ok {
		self.unresolved++
		self.Log.Errorf("unresolved coin %s resolver=%s", g.String(), self.resolver.String())
		return
	}
	self.credited += uint32(credits)
	self.Log.Infof("coin credits=%d %s", credits, g.String())
	self.batch.Add(credits)
}

func (self *Service) onCredit(credits int) { self.emit(types.CoinEvent(credits)) }

func (self *Service) emit(e types.Event) {
	self.Log.Debugf("emit %s", e.String())
	self.emitter.Emit(e)
}

func (self *Service) shutdown() {
	self.hopper.Stop()
	if err := self.motor.Set(false); err != nil {
		self.Log.Errorf("CRITICAL shutdown motor off err=%v", err)
	}
	if g, open := self.debounce.Reset(); open {
		self.Log.Errorf("shutdown discard open coin %s", g.String())
	}
	self.batch.Flush()
	self.Log.Infof("shutdown complete")
}

func (self *Service) status() types.Status {
	return types.Status{
		HopperState:     self.hopper.State().String(),
		Target:          self.hopper.Target(),
		Dispensed:       self.hopper.Dispensed(),
		PendingCredits:  self.batch.Pending(),
		GroupOpen:       self.debounce.IsOpen(),
		Pulses:          self.pulses,
		HopperPulses:    self.hopperPulses,
		Groups:          self.groups,
		Unresolved:      self.unresolved,
		Overflowed:      self.debounce.Overflowed(),
		Credited:        self.credited,
		Sessions:        self.hopper.Sessions(),
		Jams:            self.hopper.Jams(),
		Errors:          atomic.LoadUint32(&self.errors),
		LastPulseUnix:   unix(clockTime(&self.lastPulse)),
		LastCommandUnix: unix(clockTime(&self.lastCommand)),
	}
}

// clockTime reads back wall time stored as UnixNano.
func clockTime(c *atomic_clock.Clock) time.Time {
	if c.IsZero() {
		return time.Time{}
	}
	var zero atomic_clock.Clock
	return time.Unix(0, int64(c.Sub(&zero)))
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
