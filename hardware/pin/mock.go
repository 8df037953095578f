package pin

import (
	"sync"
	"time"
)

// Mock is in-memory driver. Console bench and tests inject edges with Fire.
type Mock struct {
	mu       sync.Mutex
	outputs  map[string]*MockOutput
	watchers map[string]*MockWatcher
}

var _ Driver = new(Mock)

func NewMock() *Mock {
	return &Mock{
		outputs:  make(map[string]*MockOutput),
		watchers: make(map[string]*MockWatcher),
	}
}

func (self *Mock) Close() error { return nil }

func (self *Mock) Output(name string, activeLow bool) (Output, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	o, ok := self.outputs[name]
	if !ok {
		o = &MockOutput{}
		self.outputs[name] = o
	}
	return o, nil
}

func (self *Mock) Watch(name string, edge Edge) (Watcher, error) {
	return self.Watcher(name), nil
}

// Watcher returns named mock line, created on first use.
func (self *Mock) Watcher(name string) *MockWatcher {
	self.mu.Lock()
	defer self.mu.Unlock()
	w, ok := self.watchers[name]
	if !ok {
		w = &MockWatcher{ch: make(chan time.Time, 256), done: make(chan struct{})}
		self.watchers[name] = w
	}
	return w
}

// MockOutput returns named output or nil if never opened.
func (self *Mock) MockOutput(name string) *MockOutput {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.outputs[name]
}

type MockOutput struct {
	mu      sync.Mutex
	level   bool
	history []bool
	Err     error
}

func (self *MockOutput) Set(on bool) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.Err != nil {
		return self.Err
	}
	self.level = on
	self.history = append(self.history, on)
	return nil
}

func (self *MockOutput) Close() error { return self.Set(false) }

func (self *MockOutput) Level() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.level
}

func (self *MockOutput) History() []bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]bool(nil), self.history...)
}

type MockWatcher struct {
	ch        chan time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// Fire injects n edges.
func (self *MockWatcher) Fire(n int) {
	for i := 0; i < n; i++ {
		select {
		case self.ch <- time.Now():
		case <-self.done:
			return
		}
	}
}

func (self *MockWatcher) Wait(timeout time.Duration) (time.Time, error) {
	var tmr <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		tmr = t.C
	}
	select {
	case at := <-self.ch:
		return at, nil
	case <-tmr:
		return time.Time{}, ErrTimeout
	case <-self.done:
		return time.Time{}, ErrClosed
	}
}

func (self *MockWatcher) Close() error {
	self.closeOnce.Do(func() { close(self.done) })
	return nil
}
