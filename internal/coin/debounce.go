// Package coin interprets coin acceptor pulse stream as credit.
//
// Pipeline: Debouncer groups raw pulses separated by less than idle gap,
// Resolver maps pulse count of a finished group to credit value,
// Batcher coalesces coins inserted in quick succession into one event.
//
// All methods must be called from single control loop, including
// callbacks of the clock. Nothing here is safe for concurrent use.
package coin

import (
	"fmt"
	"time"

	"github.com/temoto/cabinet/internal/clock"
	"github.com/temoto/cabinet/log2"
)

// Group is a run of pulses treated as one physical coin.
type Group struct {
	Pulses int
	Start  time.Time
	Last   time.Time
	MaxGap time.Duration
}

func (g Group) String() string {
	return fmt.Sprintf("pulses=%d duration=%v maxgap=%v", g.Pulses, g.Last.Sub(g.Start), g.MaxGap)
}

type GroupFunc func(Group)

type DebounceConfig struct {
	IdleGap time.Duration
	// Group with more pulses is acceptor noise. It is absorbed until
	// idle gap and then discarded without credit. Zero disables the limit.
	MaxPulses int
}

type Debouncer struct {
	Log        *log2.Log
	clock      clock.Clock
	config     DebounceConfig
	onGroup    GroupFunc
	open       bool
	overflow   bool
	group      Group
	idle       clock.Timer
	overflowed uint32
}

func NewDebouncer(log *log2.Log, c clock.Clock, config DebounceConfig, onGroup GroupFunc) *Debouncer {
	if config.IdleGap <= 0 {
		panic(fmt.Sprintf("code error coin debounce idle gap=%v", config.IdleGap))
	}
	return &Debouncer{
		Log:     log,
		clock:   c,
		config:  config,
		onGroup: onGroup,
	}
}

// Pulse accounts one raw electrical pulse.
func (self *Debouncer) Pulse() {
	now := self.clock.Now()
	if !self.open {
		self.open = true
		self.overflow = false
		self.group = Group{Pulses: 1, Start: now, Last: now}
	} else {
		gap := now.Sub(self.group.Last)
		self.group.Pulses++
		self.group.Last = now
		if gap > self.group.MaxGap {
			self.group.MaxGap = gap
		}
		self.Log.Debugf("pulse=%d gap=%v", self.group.Pulses, gap)
		if !self.overflow && self.config.MaxPulses > 0 && self.group.Pulses > self.config.MaxPulses {
			self.overflow = true
			self.Log.Errorf("pulse group overflow max=%d, will discard", self.config.MaxPulses)
		}
	}
	self.arm()
}

func (self *Debouncer) arm() {
	if self.idle != nil {
		self.idle.Stop()
	}
	var t clock.Timer
	t = self.clock.AfterFunc(self.config.IdleGap, func() { self.onIdle(t) })
	self.idle = t
}

func (self *Debouncer) onIdle(t clock.Timer) {
	if !self.open || t != self.idle {
		// stale, group was re-armed or reset after this timer was queued
		return
	}
	g, overflow := self.group, self.overflow
	self.clear()
	if overflow {
		self.overflowed++
		self.Log.Errorf("discard noise group %s", g.String())
		return
	}
	self.Log.Debugf("group finalized %s", g.String())
	self.onGroup(g)
}

func (self *Debouncer) clear() {
	if self.idle != nil {
		self.idle.Stop()
		self.idle = nil
	}
	self.open = false
	self.overflow = false
	self.group = Group{}
}

// Reset drops open group without finalizing it.
// Returns dropped group and whether one was open.
func (self *Debouncer) Reset() (Group, bool) {
	g, open := self.group, self.open
	self.clear()
	return g, open
}

func (self *Debouncer) IsOpen() bool { return self.open }

// Overflowed returns number of discarded noise groups.
func (self *Debouncer) Overflowed() uint32 { return self.overflowed }
