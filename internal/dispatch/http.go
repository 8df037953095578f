package dispatch

import (
	"bytes"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/cabinet/internal/types"
	"github.com/temoto/cabinet/log2"
)

const HeaderEventId = "X-Event-Id"

type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Queue   int
	Workers int
}

// HTTP posts each event as JSON from worker goroutines.
// Failed deliveries are logged and dropped, no retry.
type HTTP struct {
	Log    *log2.Log
	client *http.Client
	url    string
	queue  chan types.Event
	alive  *alive.Alive

	workers int
	sent    uint32
	failed  uint32
	dropped uint32
}

type HTTPStat struct {
	Sent    uint32
	Failed  uint32
	Dropped uint32
}

// NewHTTP creates stopped emitter, transport=nil uses http.DefaultTransport.
func NewHTTP(log *log2.Log, config HTTPConfig, transport http.RoundTripper) *HTTP {
	if config.Queue <= 0 {
		config.Queue = 64
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &HTTP{
		Log:     log,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
		url:     config.URL,
		queue:   make(chan types.Event, config.Queue),
		alive:   alive.NewAlive(),
		workers: config.Workers,
	}
}

func (self *HTTP) Start() {
	for i := 0; i < self.workers; i++ {
		if !self.alive.Add(1) {
			return
		}
		go self.worker()
	}
}

// Stop rejects new events, waits until queued ones are delivered or failed.
func (self *HTTP) Stop() {
	self.alive.Stop()
	self.alive.Wait()
	st := self.Stat()
	self.Log.Debugf("stopped sent=%d failed=%d dropped=%d", st.Sent, st.Failed, st.Dropped)
}

func (self *HTTP) Emit(e types.Event) {
	if !self.alive.IsRunning() {
		atomic.AddUint32(&self.dropped, 1)
		self.Log.Errorf("emit %s after stop, dropped", e.String())
		return
	}
	select {
	case self.queue <- e:
	default:
		atomic.AddUint32(&self.dropped, 1)
		self.Log.Errorf("queue full, %s dropped", e.String())
	}
}

func (self *HTTP) Stat() HTTPStat {
	return HTTPStat{
		Sent:    atomic.LoadUint32(&self.sent),
		Failed:  atomic.LoadUint32(&self.failed),
		Dropped: atomic.LoadUint32(&self.dropped),
	}
}

func (self *HTTP) worker() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	for {
		select {
		case e := <-self.queue:
			self.deliver(e)
		case <-stopch:
			for {
				select {
				case e := <-self.queue:
					self.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (self *HTTP) deliver(e types.Event) {
	id := uuid.New().String()
	if err := self.post(id, e); err != nil {
		atomic.AddUint32(&self.failed, 1)
		self.Log.Error(errors.Annotatef(err, "post %s id=%s", e.String(), id))
		return
	}
	atomic.AddUint32(&self.sent, 1)
	self.Log.Debugf("sent %s id=%s", e.String(), id)
}

func (self *HTTP) post(id string, e types.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return errors.Annotate(err, "json")
	}
	req, err := http.NewRequest(http.MethodPost, self.url, bytes.NewReader(b))
	if err != nil {
		return errors.Trace(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventId, id)
	resp, err := self.client.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	_, _ = io.Copy(ioutil.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("status=%s", resp.Status)
	}
	return nil
}
