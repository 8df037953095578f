package state

import (
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/cabinet/hardware/pin"
	"github.com/temoto/cabinet/internal/coin"
	"github.com/temoto/cabinet/internal/types"
	"github.com/temoto/cabinet/log2"
)

const testBaseConfig = `
coin {
	value "5" { credits = 5 }
	value "10" { credits = 10 }
}
hardware { gpio {
	driver = "mock"
	coin_pin = "17"
	hopper_sensor_pin = "27"
	hopper_motor_pin = "22"
} }
`

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"defaults", "", func(t testing.TB, c *Config) {
			d := c.Debounce()
			assert.Equal(t, DefaultIdleGapMs*time.Millisecond, d.IdleGap)
			assert.Equal(t, DefaultMaxPulses, d.MaxPulses)
			assert.Equal(t, DefaultBatchGapMs*time.Millisecond, c.BatchGap())
			assert.Equal(t, 1, c.Hopper.UnitsPerPulse)
			assert.Equal(t, 3*time.Second+5*time.Second, c.HopperConfig().Deadline(5))
			assert.Equal(t, time.Minute, c.HopperConfig().Deadline(1000))
			assert.Equal(t, DefaultGpioChip, c.Hardware.Gpio.Chip)
			assert.Equal(t, DefaultCommandListen, c.Command.Listen)
			assert.Equal(t, DefaultSerialBaud, c.Hardware.Input.Serial.Baud)
			assert.Equal(t, pin.PullAuto, c.GpioPull())
			assert.Equal(t, []ValueConfig{{Pulses: "5", Credits: 5}, {Pulses: "10", Credits: 10}}, c.Coin.Values)
			r, err := c.Resolver()
			require.NoError(t, err)
			credits, ok := r.Resolve(10)
			assert.True(t, ok)
			assert.Equal(t, 10, credits)
			_, ok = r.Resolve(9)
			assert.False(t, ok)
		}, ""},

		{"coin-tuning", `
coin { idle_gap_ms = 150 batch_gap_ms = -1 max_pulses_per_group = 30 resolve = "tolerance" tolerance = 1 }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, coin.DebounceConfig{IdleGap: 150 * time.Millisecond, MaxPulses: 30}, c.Debounce())
				assert.Equal(t, time.Duration(0), c.BatchGap())
				r, err := c.Resolver()
				require.NoError(t, err)
				credits, ok := r.Resolve(9)
				assert.True(t, ok)
				assert.Equal(t, 10, credits)
			}, ""},

		{"hopper", `
hopper { units_per_pulse = 2 progress = true deadline_base_ms = 1000 deadline_per_unit_ms = 100 deadline_max_ms = 2000 }`,
			func(t testing.TB, c *Config) {
				h := c.HopperConfig()
				assert.Equal(t, 2, h.UnitsPerPulse)
				assert.True(t, h.Progress)
				assert.Equal(t, 1500*time.Millisecond, h.Deadline(5))
				assert.Equal(t, 2*time.Second, h.Deadline(50))
			}, ""},

		{"inputs", `
hardware {
	gpio { edge = "both" motor_active_low = true pull = "none" }
	input {
		dev_input_event { device = "/dev/input/event3" coin_key = 59 hopper_key = 60 }
		serial { device = "/dev/ttyS1" baud = 115200 coin_byte = 67 hopper_byte = 72 }
	}
	button "2" { action = "bet" }
	button "28" { action = "spin" }
}`,
			func(t testing.TB, c *Config) {
				assert.True(t, c.Hardware.Gpio.MotorActiveLow)
				edge, err := pin.ParseEdge(c.Hardware.Gpio.Edge)
				require.NoError(t, err)
				assert.Equal(t, pin.EdgeBoth, edge)
				assert.Equal(t, pin.PullNone, c.GpioPull())
				assert.Equal(t, map[uint16]types.Line{59: types.LineCoin, 60: types.LineHopper}, c.InputKeyLines())
				assert.Equal(t, map[byte]types.Line{'C': types.LineCoin, 'H': types.LineHopper}, c.SerialByteLines())
				assert.Equal(t, 115200, c.Hardware.Input.Serial.Baud)
				buttons, err := c.Buttons()
				require.NoError(t, err)
				assert.Equal(t, map[uint16]string{2: "bet", 28: "spin"}, buttons)
			}, ""},

		{"dispatch", `
dispatch {
	http { enable = true url = "http://game/event" workers = 3 }
	mqtt { enable = true broker = "tcp://broker:1883" client_id = "cab7" keepalive_sec = 10 }
}`,
			func(t testing.TB, c *Config) {
				h := c.HTTPConfig()
				assert.Equal(t, "http://game/event", h.URL)
				assert.Equal(t, DefaultHTTPTimeoutMs*time.Millisecond, h.Timeout)
				assert.Equal(t, 3, h.Workers)
				m := c.MqttConfig()
				assert.Equal(t, "cab7", m.ClientID)
				assert.Equal(t, 10*time.Second, m.KeepAlive)
			}, ""},

		{"include-optional", `
include "hopper-units-4" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 4, c.Hopper.UnitsPerPulse)
			}, ""},

		{"include-overwrites", `
hopper { units_per_pulse = 1 }
include "hopper-units-4" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 4, c.Hopper.UnitsPerPulse)
			}, ""},

		{"include-normalize", `include "./empty" {}`, nil, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-duplicate-value", `coin { value "5" { credits = 50 } }`, nil, "duplicate pulses=5"},
		{"error-value-key", `coin { value "five" { credits = 5 } }`, nil, "value pulses='five'"},
		{"error-pull", `hardware { gpio { pull = "sideways" } }`, nil, "hardware.gpio.pull"},
		{"error-serial-byte", `hardware { input { serial { coin_byte = 323 } } }`, nil, "serial.coin_byte=323 out of range 0-255"},
		{"error-input-key", `hardware { input { dev_input_event { hopper_key = 70000 } } }`, nil, "dev_input_event.hopper_key=70000 out of range 0-65535"},
		{"error-resolve", `coin { resolve = "nearest" }`, nil, "nearest"},
		{"error-edge", `hardware { gpio { edge = "high" } }`, nil, "hardware.gpio.edge"},
		{"error-button", `hardware { button "enter" { action = "spin" } }`, nil, "hardware.button key=enter"},
		{"error-http-url", `dispatch { http { enable = true } }`, nil, "dispatch.http.url empty"},
		{"error-deadline", `hopper { deadline_base_ms = 5000 deadline_max_ms = 1000 }`, nil, "hopper deadline"},
		{"error-multiple", `coin { idle_gap_ms = -5 } hopper { units_per_pulse = -1 }`, nil, "hopper.units_per_pulse=-1"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(map[string]string{
				"base":           testBaseConfig,
				"test-inline":    c.input,
				"empty":          "",
				"hopper-units-4": "hopper{units_per_pulse=4}",
				"include-loop":   `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "base", "test-inline")
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, cfg)
				}
			} else {
				require.Error(t, err)
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../../cabinet.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	c := MustReadConfig(log, NewOsFullReader(), "../../cabinet.hcl")
	assert.Len(t, c.Coin.Values, 3)
	r, err := c.Resolver()
	require.NoError(t, err)
	credits, ok := r.Resolve(20)
	assert.True(t, ok)
	assert.Equal(t, 20, credits)
}
