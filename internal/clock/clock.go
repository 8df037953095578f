// Package clock is the timer facility for the control loop.
//
// Components arm single-shot timers through Clock.AfterFunc and keep the
// returned Timer as their "armed handle". Serial wraps a Clock so callbacks
// run as steps of the owner's single consumer loop instead of on timer
// goroutines. Mock fires callbacks synchronously from Advance, for tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

type Timer interface {
	// Stop returns false if timer already fired or was stopped.
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// PostFunc enqueues step for sequential execution.
// Returns false if the loop is stopped and step was dropped.
type PostFunc func(step func()) bool

type serial struct {
	Clock
	post PostFunc
}

// Serial returns Clock whose AfterFunc callbacks are delivered through post.
// A stopped timer may still have its step queued, so callbacks must compare
// their handle with the currently armed one.
func Serial(c Clock, post PostFunc) Clock {
	return serial{Clock: c, post: post}
}

func (self serial) AfterFunc(d time.Duration, f func()) Timer {
	return self.Clock.AfterFunc(d, func() { self.post(f) })
}

// Mock is manual clock. Advance fires due callbacks in deadline order
// on the calling goroutine.
type Mock struct {
	mu        sync.Mutex
	now       time.Time
	seq       uint64
	timers    []*mockTimer
	scheduled int
}

type mockTimer struct {
	m    *Mock
	when time.Time
	seq  uint64
	f    func()
}

func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

func (self *Mock) Now() time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.now
}

func (self *Mock) AfterFunc(d time.Duration, f func()) Timer {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.seq++
	self.scheduled++
	t := &mockTimer{m: self, when: self.now.Add(d), seq: self.seq, f: f}
	self.timers = append(self.timers, t)
	return t
}

func (self *mockTimer) Stop() bool {
	self.m.mu.Lock()
	defer self.m.mu.Unlock()
	for i, t := range self.m.timers {
		if t == self {
			self.m.timers = append(self.m.timers[:i], self.m.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves time forward by d, firing every timer due on the way.
// Timers armed by callbacks fire too if they fall inside the window.
func (self *Mock) Advance(d time.Duration) {
	self.mu.Lock()
	target := self.now.Add(d)
	self.mu.Unlock()
	for {
		self.mu.Lock()
		sort.SliceStable(self.timers, func(i, j int) bool {
			a, b := self.timers[i], self.timers[j]
			if a.when.Equal(b.when) {
				return a.seq < b.seq
			}
			return a.when.Before(b.when)
		})
		if len(self.timers) == 0 || self.timers[0].when.After(target) {
			self.now = target
			self.mu.Unlock()
			return
		}
		t := self.timers[0]
		self.timers = self.timers[1:]
		self.now = t.when
		self.mu.Unlock()
		t.f()
	}
}

// Pending returns number of armed timers.
func (self *Mock) Pending() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.timers)
}

// Scheduled returns total number of AfterFunc calls.
func (self *Mock) Scheduled() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.scheduled
}
