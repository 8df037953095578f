package state

import (
	"math"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/cabinet/hardware/pin"
	"github.com/temoto/cabinet/helpers"
	"github.com/temoto/cabinet/internal/coin"
	"github.com/temoto/cabinet/internal/dispatch"
	"github.com/temoto/cabinet/internal/hopper"
	"github.com/temoto/cabinet/internal/types"
	"github.com/temoto/cabinet/log2"
)

const (
	DefaultIdleGapMs         = 200
	DefaultBatchGapMs        = 800
	DefaultMaxPulses         = 50
	DefaultDeadlineBaseMs    = 3000
	DefaultDeadlinePerUnitMs = 1000
	DefaultDeadlineMaxMs     = 60000
	DefaultGpioChip          = "/dev/gpiochip0"
	DefaultSerialBaud        = 9600
	DefaultHTTPTimeoutMs     = 3000
	DefaultCommandListen     = ":8081"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogDebug bool `hcl:"log_debug"`

	Coin struct {
		IdleGapMs int `hcl:"idle_gap_ms"`
		// 0 = default, negative = emit every coin immediately
		BatchGapMs int           `hcl:"batch_gap_ms"`
		MaxPulses  int           `hcl:"max_pulses_per_group"`
		Resolve    string        `hcl:"resolve"`
		Tolerance  int           `hcl:"tolerance"`
		Values     []ValueConfig `hcl:"value"`
	} `hcl:"coin"`

	Hopper struct {
		UnitsPerPulse     int  `hcl:"units_per_pulse"`
		Progress          bool `hcl:"progress"`
		DeadlineBaseMs    int  `hcl:"deadline_base_ms"`
		DeadlinePerUnitMs int  `hcl:"deadline_per_unit_ms"`
		DeadlineMaxMs     int  `hcl:"deadline_max_ms"`
	} `hcl:"hopper"`

	Hardware struct {
		Gpio struct {
			Driver          string `hcl:"driver"`
			Chip            string `hcl:"chip"`
			CoinPin         string `hcl:"coin_pin"`
			HopperSensorPin string `hcl:"hopper_sensor_pin"`
			HopperMotorPin  string `hcl:"hopper_motor_pin"`
			MotorActiveLow  bool   `hcl:"motor_active_low"`
			Edge            string `hcl:"edge"`
			// auto|up|down|none, periph driver only
			Pull            string `hcl:"pull"`
		} `hcl:"gpio"`
		Input struct {
			DevInputEvent struct {
				Enable    bool   `hcl:"enable"`
				Device    string `hcl:"device"`
				CoinKey   int    `hcl:"coin_key"`
				HopperKey int    `hcl:"hopper_key"`
			} `hcl:"dev_input_event"`
			Serial struct {
				Enable     bool   `hcl:"enable"`
				Device     string `hcl:"device"`
				Baud       int    `hcl:"baud"`
				CoinByte   int    `hcl:"coin_byte"`
				HopperByte int    `hcl:"hopper_byte"`
			} `hcl:"serial"`
		} `hcl:"input"`
		Buttons []ButtonConfig `hcl:"button"`
	} `hcl:"hardware"`

	Dispatch struct {
		HTTP struct {
			Enable    bool   `hcl:"enable"`
			URL       string `hcl:"url"`
			TimeoutMs int    `hcl:"timeout_ms"`
			Queue     int    `hcl:"queue"`
			Workers   int    `hcl:"workers"`
		} `hcl:"http"`
		Mqtt struct {
			Enable       bool   `hcl:"enable"`
			Broker       string `hcl:"broker"`
			ClientID     string `hcl:"client_id"`
			Username     string `hcl:"username"`
			Password     string `hcl:"password"`
			TopicPrefix  string `hcl:"topic_prefix"`
			KeepaliveSec int    `hcl:"keepalive_sec"`
		} `hcl:"mqtt"`
	} `hcl:"dispatch"`

	Command struct {
		Listen string `hcl:"listen"`
	} `hcl:"command"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

// ValueConfig is one coin table row, block key is pulse count:
// value "5" { credits = 50 }
type ValueConfig struct {
	Pulses  string `hcl:"pulses,key"`
	Credits int    `hcl:"credits"`
}

type ButtonConfig struct {
	Key    string `hcl:"key,key"`
	Action string `hcl:"action"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

// Validate fills defaults and reports every invalid setting at once.
func (c *Config) Validate() error {
	errs := make([]error, 0)

	if c.Coin.IdleGapMs == 0 {
		c.Coin.IdleGapMs = DefaultIdleGapMs
	} else if c.Coin.IdleGapMs < 0 {
		errs = append(errs, errors.NotValidf("config: coin.idle_gap_ms=%d", c.Coin.IdleGapMs))
	}
	if c.Coin.BatchGapMs == 0 {
		c.Coin.BatchGapMs = DefaultBatchGapMs
	}
	if c.Coin.MaxPulses == 0 {
		c.Coin.MaxPulses = DefaultMaxPulses
	} else if c.Coin.MaxPulses < 0 {
		errs = append(errs, errors.NotValidf("config: coin.max_pulses_per_group=%d", c.Coin.MaxPulses))
	}
	if _, err := c.Resolver(); err != nil {
		errs = append(errs, errors.Annotate(err, "config: coin"))
	}

	if c.Hopper.UnitsPerPulse == 0 {
		c.Hopper.UnitsPerPulse = 1
	} else if c.Hopper.UnitsPerPulse < 0 {
		errs = append(errs, errors.NotValidf("config: hopper.units_per_pulse=%d", c.Hopper.UnitsPerPulse))
	}
	if c.Hopper.DeadlineBaseMs == 0 {
		c.Hopper.DeadlineBaseMs = DefaultDeadlineBaseMs
	}
	if c.Hopper.DeadlinePerUnitMs == 0 {
		c.Hopper.DeadlinePerUnitMs = DefaultDeadlinePerUnitMs
	}
	if c.Hopper.DeadlineMaxMs == 0 {
		c.Hopper.DeadlineMaxMs = DefaultDeadlineMaxMs
	}
	if c.Hopper.DeadlineBaseMs < 0 || c.Hopper.DeadlinePerUnitMs < 0 || c.Hopper.DeadlineMaxMs < c.Hopper.DeadlineBaseMs {
		errs = append(errs, errors.NotValidf("config: hopper deadline base=%d per_unit=%d max=%d",
			c.Hopper.DeadlineBaseMs, c.Hopper.DeadlinePerUnitMs, c.Hopper.DeadlineMaxMs))
	}

	gpio := &c.Hardware.Gpio
	if gpio.Driver == "" {
		gpio.Driver = pin.DriverCdev
	}
	if gpio.Chip == "" {
		gpio.Chip = DefaultGpioChip
	}
	if gpio.HopperMotorPin == "" {
		errs = append(errs, errors.NotValidf("config: hardware.gpio.hopper_motor_pin empty"))
	}
	if _, err := pin.ParseEdge(gpio.Edge); err != nil {
		errs = append(errs, errors.Annotate(err, "config: hardware.gpio.edge"))
	}
	if _, err := pin.ParsePull(gpio.Pull); err != nil {
		errs = append(errs, errors.Annotate(err, "config: hardware.gpio.pull"))
	}
	in := &c.Hardware.Input
	for _, k := range []struct {
		name  string
		value int
		max   int
	}{
		{"dev_input_event.coin_key", in.DevInputEvent.CoinKey, math.MaxUint16},
		{"dev_input_event.hopper_key", in.DevInputEvent.HopperKey, math.MaxUint16},
		{"serial.coin_byte", in.Serial.CoinByte, math.MaxUint8},
		{"serial.hopper_byte", in.Serial.HopperByte, math.MaxUint8},
	} {
		if k.value < 0 || k.value > k.max {
			errs = append(errs, errors.NotValidf("config: hardware.input.%s=%d out of range 0-%d", k.name, k.value, k.max))
		}
	}
	if c.Hardware.Input.Serial.Baud == 0 {
		c.Hardware.Input.Serial.Baud = DefaultSerialBaud
	}
	if _, err := c.Buttons(); err != nil {
		errs = append(errs, err)
	}

	if c.Dispatch.HTTP.Enable && c.Dispatch.HTTP.URL == "" {
		errs = append(errs, errors.NotValidf("config: dispatch.http.url empty"))
	}
	if c.Dispatch.HTTP.TimeoutMs == 0 {
		c.Dispatch.HTTP.TimeoutMs = DefaultHTTPTimeoutMs
	}
	if c.Dispatch.Mqtt.Enable && (c.Dispatch.Mqtt.Broker == "" || c.Dispatch.Mqtt.ClientID == "") {
		errs = append(errs, errors.NotValidf("config: dispatch.mqtt broker and client_id required"))
	}
	if c.Command.Listen == "" {
		c.Command.Listen = DefaultCommandListen
	}

	return helpers.FoldErrors(errs)
}

func (c *Config) Resolver() (coin.Resolver, error) {
	nominals := make([]coin.Nominal, len(c.Coin.Values))
	for i, v := range c.Coin.Values {
		pulses, err := strconv.Atoi(v.Pulses)
		if err != nil {
			return nil, errors.NotValidf("value pulses='%s'", v.Pulses)
		}
		nominals[i] = coin.Nominal{Pulses: pulses, Credits: v.Credits}
	}
	return coin.NewResolver(c.Coin.Resolve, nominals, c.Coin.Tolerance)
}

func (c *Config) GpioPull() pin.Pull {
	p, _ := pin.ParsePull(c.Hardware.Gpio.Pull)
	return p
}

func (c *Config) Debounce() coin.DebounceConfig {
	return coin.DebounceConfig{
		IdleGap:   helpers.IntMillisecondDefault(c.Coin.IdleGapMs, DefaultIdleGapMs*time.Millisecond),
		MaxPulses: c.Coin.MaxPulses,
	}
}

func (c *Config) BatchGap() time.Duration {
	if c.Coin.BatchGapMs < 0 {
		return 0
	}
	return helpers.IntMillisecondDefault(c.Coin.BatchGapMs, DefaultBatchGapMs*time.Millisecond)
}

func (c *Config) Deadline() hopper.LinearDeadline {
	return hopper.LinearDeadline{
		Base:    time.Duration(c.Hopper.DeadlineBaseMs) * time.Millisecond,
		PerUnit: time.Duration(c.Hopper.DeadlinePerUnitMs) * time.Millisecond,
		Max:     time.Duration(c.Hopper.DeadlineMaxMs) * time.Millisecond,
	}
}

func (c *Config) HopperConfig() hopper.Config {
	return hopper.Config{
		UnitsPerPulse: c.Hopper.UnitsPerPulse,
		Progress:      c.Hopper.Progress,
		Deadline:      c.Deadline().Duration,
	}
}

func (c *Config) Buttons() (map[uint16]string, error) {
	m := make(map[uint16]string, len(c.Hardware.Buttons))
	for _, b := range c.Hardware.Buttons {
		key, err := strconv.ParseUint(b.Key, 10, 16)
		if err != nil {
			return nil, errors.NotValidf("config: hardware.button key=%s", b.Key)
		}
		if b.Action == "" {
			return nil, errors.NotValidf("config: hardware.button key=%s action empty", b.Key)
		}
		m[uint16(key)] = b.Action
	}
	return m, nil
}

func (c *Config) InputKeyLines() map[uint16]types.Line {
	in := c.Hardware.Input.DevInputEvent
	m := make(map[uint16]types.Line, 2)
	if in.CoinKey > 0 {
		m[uint16(in.CoinKey)] = types.LineCoin
	}
	if in.HopperKey > 0 {
		m[uint16(in.HopperKey)] = types.LineHopper
	}
	return m
}

func (c *Config) SerialByteLines() map[byte]types.Line {
	in := c.Hardware.Input.Serial
	m := make(map[byte]types.Line, 2)
	if in.CoinByte > 0 {
		m[byte(in.CoinByte)] = types.LineCoin
	}
	if in.HopperByte > 0 {
		m[byte(in.HopperByte)] = types.LineHopper
	}
	return m
}

func (c *Config) HTTPConfig() dispatch.HTTPConfig {
	h := c.Dispatch.HTTP
	return dispatch.HTTPConfig{
		URL:     h.URL,
		Timeout: helpers.IntMillisecondDefault(h.TimeoutMs, DefaultHTTPTimeoutMs*time.Millisecond),
		Queue:   h.Queue,
		Workers: h.Workers,
	}
}

func (c *Config) MqttConfig() dispatch.MqttConfig {
	m := c.Dispatch.Mqtt
	return dispatch.MqttConfig{
		Broker:      m.Broker,
		ClientID:    m.ClientID,
		Username:    m.Username,
		Password:    m.Password,
		TopicPrefix: m.TopicPrefix,
		KeepAlive:   helpers.IntSecondDefault(m.KeepaliveSec, 60*time.Second),
	}
}
