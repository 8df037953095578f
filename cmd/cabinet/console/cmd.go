package console

import (
	"context"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/cabinet/cmd/cabinet/subcmd"
	"github.com/temoto/cabinet/hardware/pin"
	"github.com/temoto/cabinet/helpers/cli"
	"github.com/temoto/cabinet/internal/console"
	"github.com/temoto/cabinet/internal/state"
)

var Mod = subcmd.Mod{Name: "console", Main: Main}

// Main runs real pipeline on mock pins, pulses come from operator input.
func Main(ctx context.Context, config *state.Config) error {
	config.Hardware.Gpio.Driver = pin.DriverMock
	config.Hardware.Input.DevInputEvent.Enable = false
	config.Hardware.Input.Serial.Enable = false
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	if err := g.Start(); err != nil {
		return errors.Annotate(err, "start")
	}
	c, err := console.New(g, os.Stdout)
	if err != nil {
		g.Stop()
		return err
	}

	exec := func(line string) {
		switch err := c.Exec(line); err {
		case nil:
		case console.ErrStop:
			os.Exit(0)
		default:
			g.Log.Error(err)
		}
	}
	cli.MainLoop("cabinet", exec, cli.Completer(console.Suggests()), g.Stop)
	g.Stop()
	g.Wait()
	return nil
}
