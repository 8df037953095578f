// Package console is bench REPL over the full pipeline on mock pins.
// Operator injects coin and hopper sensor pulses, withdraw commands
// and reads control loop status.
package console

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/cabinet/hardware/pin"
	"github.com/temoto/cabinet/internal/state"
	"github.com/temoto/cabinet/internal/types"
)

const usage = `commands:
- coin N      inject N coin acceptor pulses
- out N       inject N hopper sensor pulses
- withdraw N  start dispensing N units
- status      print control loop status
- stop        shut down and exit
`

// ErrStop is returned by Exec after `stop` shut everything down.
var ErrStop = errors.New("console stop")

type Console struct {
	g    *state.Global
	pins *pin.Mock
	out  io.Writer
}

// New requires Global initialized with mock gpio driver.
func New(g *state.Global, out io.Writer) (*Console, error) {
	pins, ok := g.Hardware.Pins.(*pin.Mock)
	if !ok {
		return nil, errors.NotSupportedf("console gpio driver=%s, only %s", g.Config.Hardware.Gpio.Driver, pin.DriverMock)
	}
	return &Console{g: g, pins: pins, out: out}, nil
}

func Suggests() []prompt.Suggest {
	return []prompt.Suggest{
		{Text: "coin", Description: "inject coin pulses"},
		{Text: "out", Description: "inject hopper sensor pulses"},
		{Text: "withdraw", Description: "start dispensing"},
		{Text: "status", Description: "print status"},
		{Text: "stop", Description: "shut down and exit"},
		{Text: "help"},
	}
}

func (self *Console) Exec(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	switch parts[0] {
	case "coin":
		n, err := argN(parts)
		if err != nil {
			return err
		}
		return self.fire(self.g.Config.Hardware.Gpio.CoinPin, "coin_pin", n)

	case "out":
		n, err := argN(parts)
		if err != nil {
			return err
		}
		return self.fire(self.g.Config.Hardware.Gpio.HopperSensorPin, "hopper_sensor_pin", n)

	case "withdraw":
		n, err := argN(parts)
		if err != nil {
			return err
		}
		return self.g.Service.Command(types.Command{Kind: types.CommandWithdraw, Amount: n})

	case "status":
		st, err := self.g.Service.Status()
		if err != nil {
			return err
		}
		b, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return errors.Annotate(err, "status json")
		}
		_, err = fmt.Fprintf(self.out, "%s\n", b)
		return err

	case "stop":
		self.g.Stop()
		self.g.Wait()
		return ErrStop

	case "help", "?":
		_, err := io.WriteString(self.out, usage)
		return err
	}
	return errors.NotValidf("command '%s', try help", parts[0])
}

func (self *Console) fire(name, key string, n int) error {
	if name == "" {
		return errors.NotFoundf("config hardware.gpio.%s", key)
	}
	self.pins.Watcher(name).Fire(n)
	return nil
}

func argN(parts []string) (int, error) {
	if len(parts) != 2 {
		return 0, errors.NotValidf("%s expects one number argument", parts[0])
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errors.NotValidf("%s argument '%s'", parts[0], parts[1])
	}
	return n, nil
}
