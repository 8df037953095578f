package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/errors"
)

type Line uint8

const (
	LineNone Line = iota
	LineCoin      // coin acceptor pulse output
	LineHopper    // hopper coin-out sensor
)

func (l Line) String() string {
	switch l {
	case LineCoin:
		return "coin"
	case LineHopper:
		return "hopper"
	}
	return "none"
}

// InputEvent is produced by input sources.
// Pulses carry Line, button presses carry Key with Line=LineNone.
type InputEvent struct {
	Source string
	Line   Line
	Key    uint16
	Time   time.Time
}

func (e *InputEvent) IsPulse() bool { return e.Line != LineNone }

type EventKind string

const (
	EventCoin             EventKind = "COIN"
	EventWithdrawComplete EventKind = "WITHDRAW_COMPLETE"
	EventWithdrawDispense EventKind = "WITHDRAW_DISPENSE"
	EventButton           EventKind = "BUTTON"
)

// Event is outbound message for game service.
type Event struct {
	Kind      EventKind
	Credits   int
	Dispensed int
	Action    string
}

func CoinEvent(credits int) Event          { return Event{Kind: EventCoin, Credits: credits} }
func WithdrawComplete(dispensed int) Event { return Event{Kind: EventWithdrawComplete, Dispensed: dispensed} }
func WithdrawDispense(increment int) Event { return Event{Kind: EventWithdrawDispense, Dispensed: increment} }
func ButtonEvent(action string) Event      { return Event{Kind: EventButton, Action: action} }

func (e Event) String() string {
	switch e.Kind {
	case EventCoin:
		return fmt.Sprintf("Event(%s credits=%d)", e.Kind, e.Credits)
	case EventWithdrawComplete, EventWithdrawDispense:
		return fmt.Sprintf("Event(%s dispensed=%d)", e.Kind, e.Dispensed)
	case EventButton:
		return fmt.Sprintf("Event(%s action=%s)", e.Kind, e.Action)
	}
	return fmt.Sprintf("Event(%s)", e.Kind)
}

// MarshalJSON emits exactly the fields of each event type, zero values included.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventCoin:
		return json.Marshal(struct {
			Type    EventKind `json:"type"`
			Credits int       `json:"credits"`
		}{e.Kind, e.Credits})
	case EventWithdrawComplete, EventWithdrawDispense:
		return json.Marshal(struct {
			Type      EventKind `json:"type"`
			Dispensed int       `json:"dispensed"`
		}{e.Kind, e.Dispensed})
	case EventButton:
		return json.Marshal(struct {
			Type   EventKind `json:"type"`
			Action string    `json:"action"`
		}{e.Kind, e.Action})
	}
	return nil, errors.NotValidf("event type=%q", string(e.Kind))
}

type CommandKind string

const CommandWithdraw CommandKind = "WITHDRAW"

// Command is inbound request from game service.
type Command struct {
	Kind   CommandKind `json:"type"`
	Amount int         `json:"amount"`
}

func (c Command) String() string { return fmt.Sprintf("Command(%s amount=%d)", c.Kind, c.Amount) }

// ParseCommand decodes and validates command JSON.
// Amount is not range checked here, state machine ignores non-positive.
func ParseCommand(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Command{}, errors.NewNotValid(err, "command json")
	}
	switch c.Kind {
	case CommandWithdraw:
		return c, nil
	case "":
		return Command{}, errors.NotValidf("command type empty")
	}
	return Command{}, errors.NotSupportedf("command type=%s", string(c.Kind))
}

// Status is snapshot of control loop state.
type Status struct {
	HopperState     string `json:"hopper_state"`
	Target          int    `json:"target"`
	Dispensed       int    `json:"dispensed"`
	PendingCredits  int    `json:"pending_credits"`
	GroupOpen       bool   `json:"group_open"`
	Pulses          uint32 `json:"pulses"`
	HopperPulses    uint32 `json:"hopper_pulses"`
	Groups          uint32 `json:"groups"`
	Unresolved      uint32 `json:"unresolved"`
	Overflowed      uint32 `json:"overflowed"`
	Credited        uint32 `json:"credited"`
	Sessions        uint32 `json:"sessions"`
	Jams            uint32 `json:"jams"`
	Errors          uint32 `json:"errors"`
	LastPulseUnix   int64  `json:"last_pulse_unix"`
	LastCommandUnix int64  `json:"last_command_unix"`
}
