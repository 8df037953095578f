package state

import (
	"github.com/juju/errors"
	"github.com/temoto/cabinet/hardware/input"
	"github.com/temoto/cabinet/hardware/pin"
	"github.com/temoto/cabinet/helpers"
	"github.com/temoto/cabinet/internal/types"
)

const gpioConsumer = "cabinet"

type hardware struct {
	// Pins may only be preset by tests and console, otherwise opened from config.
	Pins    pin.Driver
	Motor   pin.Output
	Sources []input.Source
}

func (g *Global) initHardware() error {
	cfg := &g.Config.Hardware
	if g.Hardware.Pins == nil {
		pins, err := pin.Open(cfg.Gpio.Driver, cfg.Gpio.Chip, gpioConsumer, g.Config.GpioPull())
		if err != nil {
			return errors.Annotatef(err, "config: hardware.gpio driver=%s chip=%s", cfg.Gpio.Driver, cfg.Gpio.Chip)
		}
		g.Hardware.Pins = pins
	}

	motor, err := g.Hardware.Pins.Output(cfg.Gpio.HopperMotorPin, cfg.Gpio.MotorActiveLow)
	if err != nil {
		return errors.Annotatef(err, "config: hardware.gpio.hopper_motor_pin=%s", cfg.Gpio.HopperMotorPin)
	}
	g.Hardware.Motor = motor

	edge, _ := pin.ParseEdge(cfg.Gpio.Edge)
	lines := []struct {
		name string
		line types.Line
	}{
		{cfg.Gpio.CoinPin, types.LineCoin},
		{cfg.Gpio.HopperSensorPin, types.LineHopper},
	}
	for _, l := range lines {
		if l.name == "" {
			continue
		}
		w, err := g.Hardware.Pins.Watch(l.name, edge)
		if err != nil {
			return errors.Annotatef(err, "config: hardware.gpio %s pin=%s", l.line, l.name)
		}
		g.Hardware.Sources = append(g.Hardware.Sources, input.NewEdgeSource(l.line, w))
	}

	if x := cfg.Input.DevInputEvent; x.Enable {
		src, err := input.NewDevInputEventSource(x.Device, g.Config.InputKeyLines())
		if err != nil {
			return errors.Annotate(err, "config: hardware.input.dev_input_event")
		}
		g.Hardware.Sources = append(g.Hardware.Sources, src)
	}
	if x := cfg.Input.Serial; x.Enable {
		src, err := input.NewSerialSource(x.Device, x.Baud, g.Config.SerialByteLines())
		if err != nil {
			return errors.Annotate(err, "config: hardware.input.serial")
		}
		g.Hardware.Sources = append(g.Hardware.Sources, src)
	}
	if len(g.Hardware.Sources) == 0 {
		g.Log.Errorf("config: no input sources, coin and hopper pulses will not be seen")
	}
	return nil
}

func (g *Global) closeSources() error {
	errs := make([]error, 0, len(g.Hardware.Sources))
	for _, s := range g.Hardware.Sources {
		if err := s.Close(); err != nil && !input.IsClosed(err) {
			errs = append(errs, errors.Annotatef(err, "close source=%s", s.String()))
		}
	}
	return helpers.FoldErrors(errs)
}

func (g *Global) closePins() error {
	return helpers.CloseAll(g.Hardware.Motor, g.Hardware.Pins)
}
