package helpers

import (
	"bufio"
	"bytes"
	"net/http"
	"sync/atomic"
)

// MockHTTP is http.RoundTripper for tests of outbound clients.
// Fun takes over when set, otherwise Err or raw Header+Body response is returned.
type MockHTTP struct {
	Fun    func(*http.Request) (*http.Response, error)
	Header []byte
	Body   []byte
	Err    error

	calls uint32
}

func (m *MockHTTP) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddUint32(&m.calls, 1)
	if m.Fun != nil {
		return m.Fun(req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	header := m.Header
	if header == nil {
		header = []byte("HTTP/1.0 200 OK\r\n\r\n")
	}
	rb := make([]byte, 0, len(header)+len(m.Body))
	rb = append(rb, header...)
	rb = append(rb, m.Body...)
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(rb)), req)
}

// Calls counts RoundTrip invocations, including failed.
func (m *MockHTTP) Calls() int { return int(atomic.LoadUint32(&m.calls)) }
