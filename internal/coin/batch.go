package coin

import (
	"time"

	"github.com/temoto/cabinet/internal/clock"
	"github.com/temoto/cabinet/log2"
)

type CreditFunc func(credits int)

// Batcher accumulates resolved coins until nothing arrives for Gap.
// Accumulated credit is either pending or flushed exactly once.
type Batcher struct {
	Log     *log2.Log
	clock   clock.Clock
	gap     time.Duration
	onFlush CreditFunc
	credits int
	coins   int
	flush   clock.Timer
}

// NewBatcher with gap=0 flushes every coin immediately.
func NewBatcher(log *log2.Log, c clock.Clock, gap time.Duration, onFlush CreditFunc) *Batcher {
	return &Batcher{
		Log:     log,
		clock:   c,
		gap:     gap,
		onFlush: onFlush,
	}
}

func (self *Batcher) Add(credits int) {
	self.credits += credits
	self.coins++
	if self.gap <= 0 {
		self.Flush()
		return
	}
	if self.flush != nil {
		self.flush.Stop()
	}
	var t clock.Timer
	t = self.clock.AfterFunc(self.gap, func() {
		if t != self.flush {
			return
		}
		self.Flush()
	})
	self.flush = t
}

// Flush emits pending credit now, if any.
func (self *Batcher) Flush() {
	if self.flush != nil {
		self.flush.Stop()
		self.flush = nil
	}
	credits, coins := self.credits, self.coins
	self.credits, self.coins = 0, 0
	if credits <= 0 {
		return
	}
	self.Log.Debugf("flush credits=%d coins=%d", credits, coins)
	self.onFlush(credits)
}

func (self *Batcher) Pending() int { return self.credits }
