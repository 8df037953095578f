package command

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/cabinet/internal/types"
	"github.com/temoto/cabinet/log2"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeService struct {
	cmds    []types.Command
	status  types.Status
	stopped bool
}

var errStopped = errors.New("stopped")

func (self *fakeService) Command(c types.Command) error {
	if self.stopped {
		return errStopped
	}
	self.cmds = append(self.cmds, c)
	return nil
}

func (self *fakeService) Status() (types.Status, error) {
	if self.stopped {
		return types.Status{}, errStopped
	}
	return self.status, nil
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	h.ServeHTTP(w, req)
	return w
}

func TestPostCommand(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	s := NewServer(log2.NewTest(t, log2.LDebug), svc)
	h := s.Handler()

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"ok", `{"type":"WITHDRAW","amount":30}`, http.StatusAccepted},
		{"zero-reaches-loop", `{"type":"WITHDRAW","amount":0}`, http.StatusAccepted},
		{"unknown-type", `{"type":"REFUND","amount":30}`, http.StatusBadRequest},
		{"no-type", `{"amount":30}`, http.StatusBadRequest},
		{"bad-json", `{type`, http.StatusBadRequest},
		{"wrong-amount-type", `{"type":"WITHDRAW","amount":"30"}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		w := do(h, http.MethodPost, "/command", c.body)
		assert.Equal(t, c.status, w.Code, "case=%s body=%s", c.name, w.Body.String())
	}
	assert.Equal(t, []types.Command{
		{Kind: types.CommandWithdraw, Amount: 30},
		{Kind: types.CommandWithdraw, Amount: 0},
	}, svc.cmds)

	svc.stopped = true
	w := do(h, http.MethodPost, "/command", `{"type":"WITHDRAW","amount":30}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusHealth(t *testing.T) {
	t.Parallel()

	svc := &fakeService{status: types.Status{HopperState: "dispensing", Target: 50, Dispensed: 20, Pulses: 7}}
	h := NewServer(log2.NewTest(t, log2.LDebug), svc).Handler()

	w := do(h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st types.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, svc.status, st)

	w = do(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	svc.stopped = true
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/status", "").Code)
}

func TestServerListen(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	s := NewServer(log2.NewTest(t, log2.LDebug), svc)
	require.NoError(t, s.Start("127.0.0.1:0"))
	resp, err := http.Post("http://"+s.Addr()+"/command", "application/json",
		bytes.NewBufferString(`{"type":"WITHDRAW","amount":5}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, s.Stop(context.Background()))
	assert.Len(t, svc.cmds, 1)
}
