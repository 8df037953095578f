// Package input collects pulses and key presses from hardware sources
// and fans them out to subscribers.
package input

import (
	"fmt"
	"io"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/cabinet/hardware/pin"
	"github.com/temoto/cabinet/internal/types"
	"github.com/temoto/cabinet/log2"
)

func Drain(ch <-chan types.InputEvent) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// Source blocks in Read until next event. Read returns pin.ErrClosed
// (or io.EOF) after source is closed.
type Source interface {
	io.Closer
	Read() (types.InputEvent, error)
	String() string
}

type EventFunc func(types.InputEvent)
type sub struct {
	name string
	ch   chan<- types.InputEvent
	fun  EventFunc
	stop <-chan struct{}
}

type Dispatch struct {
	Log  *log2.Log
	bus  chan types.InputEvent
	mu   sync.Mutex
	subs map[string]*sub
	stop <-chan struct{}
	wg   sync.WaitGroup
}

func NewDispatch(log *log2.Log, stop <-chan struct{}) *Dispatch {
	return &Dispatch{
		Log:  log,
		bus:  make(chan types.InputEvent),
		subs: make(map[string]*sub, 4),
		stop: stop,
	}
}

func (self *Dispatch) SubscribeChan(name string, substop <-chan struct{}) chan types.InputEvent {
	target := make(chan types.InputEvent)
	sub := &sub{
		name: name,
		ch:   target,
		stop: substop,
	}
	self.safeSubscribe(sub)
	return target
}

// SubscribeFunc calls fun from Run goroutine, fun must not block.
func (self *Dispatch) SubscribeFunc(name string, fun EventFunc, substop <-chan struct{}) {
	sub := &sub{
		name: name,
		fun:  fun,
		stop: substop,
	}
	self.safeSubscribe(sub)
}

func (self *Dispatch) Unsubscribe(name string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if sub, ok := self.subs[name]; ok {
		self.subClose(sub)
	} else {
		panic("code error input sub not found name=" + name)
	}
}

// Read starts one reader goroutine per source. Reader exits when its
// source is closed, Wait blocks until they do.
func (self *Dispatch) Read(sources []Source) {
	for _, source := range sources {
		self.wg.Add(1)
		go self.readSource(source)
	}
}

// Run delivers events to subscribers until stop, sources are passed to Read.
func (self *Dispatch) Run(sources []Source) {
	self.Read(sources)

	for {
		select {
		case event := <-self.bus:
			handled := false
			self.mu.Lock()
			for _, sub := range self.subs {
				self.subFire(sub, event)
				handled = true
			}
			self.mu.Unlock()
			if !handled {
				self.Log.Errorf("input is not handled event=%#v", event)
			}

		case <-self.stop:
			Drain(self.bus)
			return
		}
	}
}

func (self *Dispatch) Wait() { self.wg.Wait() }

func (self *Dispatch) Emit(event types.InputEvent) {
	select {
	case self.bus <- event:
		self.Log.Debugf("input emit=%#v", event)
	case <-self.stop:
		return
	}
}

func (self *Dispatch) subFire(sub *sub, event types.InputEvent) {
	select {
	case <-sub.stop:
		self.subClose(sub)
		return
	default:
	}

	if sub.ch == nil && sub.fun == nil {
		panic(fmt.Sprintf("input sub=%s ch=nil fun=nil", sub.name))
	}
	if sub.fun != nil {
		sub.fun(event)
	}
	if sub.ch != nil {
		select {
		case sub.ch <- event:
		case <-sub.stop:
			self.subClose(sub)
		}
	}
}

func (self *Dispatch) subClose(s *sub) {
	if s.ch != nil {
		close(s.ch)
	}
	delete(self.subs, s.name)
}

func (self *Dispatch) safeSubscribe(s *sub) {
	self.mu.Lock()
	if existing, ok := self.subs[s.name]; ok {
		select {
		case <-s.stop:
			panic("code error input subscribe already closed name=" + s.name)
		case <-existing.stop:
			self.subClose(existing)
		default:
			panic("code error input duplicate subscribe name=" + s.name)
		}
	}
	self.subs[s.name] = s
	self.mu.Unlock()
}

func (self *Dispatch) readSource(source Source) {
	defer self.wg.Done()
	tag := source.String()
	for {
		event, err := source.Read()
		if err != nil {
			if IsClosed(err) {
				self.Log.Debugf("input source=%s closed", tag)
				return
			}
			self.Log.Error(errors.Annotatef(err, "input source=%s", tag))
			return
		}
		self.Emit(event)
		select {
		case <-self.stop:
			return
		default:
		}
	}
}

func IsClosed(err error) bool {
	return errors.Cause(err) == pin.ErrClosed || isEOF(err)
}

// Keymap names button actions by key code.
type Keymap map[uint16]string

func (self Keymap) Action(key uint16) (string, bool) {
	a, ok := self[key]
	return a, ok
}
