package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockOrder(t *testing.T) {
	t.Parallel()

	m := NewMock(time.Unix(1000, 0))
	fired := make([]string, 0, 4)
	m.AfterFunc(30*time.Millisecond, func() { fired = append(fired, "c") })
	m.AfterFunc(10*time.Millisecond, func() {
		fired = append(fired, "a")
		m.AfterFunc(5*time.Millisecond, func() { fired = append(fired, "a2") })
	})
	m.AfterFunc(20*time.Millisecond, func() { fired = append(fired, "b") })
	stopped := m.AfterFunc(25*time.Millisecond, func() { fired = append(fired, "x") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	m.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "a2", "b"}, fired)
	assert.Equal(t, 1, m.Pending())
	m.Advance(time.Hour)
	assert.Equal(t, []string{"a", "a2", "b", "c"}, fired)
	assert.Equal(t, 0, m.Pending())
	assert.Equal(t, 5, m.Scheduled())
	assert.Equal(t, time.Unix(1000, 0).Add(time.Hour+20*time.Millisecond), m.Now())
}

func TestMockNowInsideCallback(t *testing.T) {
	t.Parallel()

	start := time.Unix(0, 0)
	m := NewMock(start)
	var at time.Time
	m.AfterFunc(7*time.Millisecond, func() { at = m.Now() })
	m.Advance(time.Second)
	assert.Equal(t, start.Add(7*time.Millisecond), at)
}

func TestSerialPostsCallbacks(t *testing.T) {
	t.Parallel()

	queue := make(chan func(), 1)
	c := Serial(Real(), func(step func()) bool {
		queue <- step
		return true
	})
	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case step := <-queue:
		select {
		case <-done:
			t.Fatal("callback ran outside of loop")
		default:
		}
		step()
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
	_, ok := <-done
	require.False(t, ok)
}
