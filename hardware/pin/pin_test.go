package pin

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gpio "github.com/temoto/gpio-cdev-go"
	gpio_mock "github.com/temoto/gpio-cdev-go/mock"
)

func TestParseEdge(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input  string
		expect Edge
		err    bool
	}{
		{"", EdgeFalling, false},
		{"falling", EdgeFalling, false},
		{"rising", EdgeRising, false},
		{"both", EdgeBoth, false},
		{"up", EdgeFalling, true},
	}
	for _, c := range cases {
		e, err := ParseEdge(c.input)
		if c.err {
			assert.True(t, errors.IsNotValid(err), "input=%s", c.input)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, c.expect, e)
	}
}

func TestOpenUnknown(t *testing.T) {
	t.Parallel()
	_, err := Open("sysfs", "", "test", PullAuto)
	assert.True(t, errors.IsNotSupported(err))
}

func TestCdevOutput(t *testing.T) {
	t.Parallel()

	values := []byte{}
	lines := &gpio_mock.MockLines{}
	lines.On("SetFunc", uint32(17)).Return(gpio.LineSetFunc(func(v byte) { values = append(values, v) }))
	lines.On("Flush").Return(nil)
	lines.On("Close").Return(nil)
	chip := &gpio_mock.MockChip{}
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT|gpio.GPIOHANDLE_REQUEST_ACTIVE_LOW, "test", uint32(17)).Return(lines, nil)

	d := NewCdev(chip, "test")
	o, err := d.Output("17", true)
	require.NoError(t, err)
	require.NoError(t, o.Set(true))
	require.NoError(t, o.Set(false))
	require.NoError(t, o.Close())
	assert.Equal(t, []byte{0, 1, 0, 0}, values)
	lines.AssertNumberOfCalls(t, "Flush", 4)
	lines.AssertCalled(t, "Close")
}

func TestCdevOutputFlushError(t *testing.T) {
	t.Parallel()

	lines := &gpio_mock.MockLines{}
	lines.On("SetFunc", uint32(3)).Return(gpio.LineSetFunc(func(byte) {}))
	lines.On("Flush").Return(errors.New("device gone"))
	lines.On("Close").Return(nil)
	chip := &gpio_mock.MockChip{}
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, "test", uint32(3)).Return(lines, nil)

	_, err := NewCdev(chip, "test").Output("3", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device gone")
	lines.AssertCalled(t, "Close")
}

func TestCdevBadLineName(t *testing.T) {
	t.Parallel()
	d := NewCdev(&gpio_mock.MockChip{}, "test")
	_, err := d.Output("GPIO17", false)
	assert.Error(t, err)
	_, err = d.Watch("", EdgeFalling)
	assert.Error(t, err)
}

func TestCdevWatch(t *testing.T) {
	t.Parallel()

	ev := &gpio_mock.MockEvent{}
	ev.On("Wait", time.Second).Return(gpio.EventData{ID: gpio.GPIOEVENT_EVENT_FALLING_EDGE}, nil).Once()
	ev.On("Wait", time.Second).Return(gpio.EventData{}, gpio.ErrTimeout).Once()
	ev.On("Wait", time.Second).Return(gpio.EventData{}, gpio.ErrClosed).Once()
	ev.On("Close").Return(nil)
	chip := &gpio_mock.MockChip{}
	chip.On("GetLineEvent", uint32(5), gpio.RequestFlag(0), gpio.GPIOEVENT_REQUEST_FALLING_EDGE, "test").Return(ev, nil)

	w, err := NewCdev(chip, "test").Watch("5", EdgeFalling)
	require.NoError(t, err)
	at, err := w.Wait(time.Second)
	require.NoError(t, err)
	assert.False(t, at.IsZero())
	_, err = w.Wait(time.Second)
	assert.True(t, IsTimeout(err))
	_, err = w.Wait(time.Second)
	assert.Equal(t, ErrClosed, err)
	require.NoError(t, w.Close())
	ev.AssertExpectations(t)
	chip.AssertExpectations(t)
}

func TestMock(t *testing.T) {
	t.Parallel()

	d := NewMock()
	o, err := d.Output("motor", false)
	require.NoError(t, err)
	require.NoError(t, o.Set(true))
	assert.True(t, d.MockOutput("motor").Level())
	require.NoError(t, o.Close())
	assert.Equal(t, []bool{true, false}, d.MockOutput("motor").History())
	assert.Nil(t, d.MockOutput("other"))

	w, err := d.Watch("coin", EdgeFalling)
	require.NoError(t, err)
	d.Watcher("coin").Fire(2)
	for i := 0; i < 2; i++ {
		_, err = w.Wait(time.Second)
		require.NoError(t, err)
	}
	_, err = w.Wait(time.Millisecond)
	assert.True(t, IsTimeout(err))

	done := make(chan error)
	go func() {
		_, err := w.Wait(0)
		done <- err
	}()
	require.NoError(t, w.Close())
	select {
	case err = <-done:
		assert.Equal(t, ErrClosed, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait not released by Close")
	}
}
