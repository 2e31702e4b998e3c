package network

import (
	"errors"
	"fmt"
	"time"
)

// DeviceID identifies a physical unit. ConsoleID is the display unit and is
// never a player.
type DeviceID int

const ConsoleID DeviceID = 0

type Kind string

// Coordinator to device.
const (
	KindRole       Kind = "role"
	KindHealth     Kind = "health"
	KindLightWheel Kind = "light_wheel"
	KindClear      Kind = "clear"
	KindWin        Kind = "win"
	KindOff        Kind = "off"
	KindExit       Kind = "exit"
)

// Device to coordinator.
const (
	KindID         Kind = "id"
	KindConnect    Kind = "connect"
	KindDisconnect Kind = "disconnect"
	KindPick       Kind = "pick"
	KindGuess      Kind = "guess"
	KindBet        Kind = "bet"
	KindHeartbeat  Kind = "heartbeat"
	KindPing       Kind = "ping"
)

// Both directions.
const (
	KindOK    Kind = "ok"
	KindStart Kind = "start"
)

// WheelDone is the payload the console sends once a wheel animation ends.
const WheelDone = "done"

const (
	MinValue = 0
	MaxValue = 100
)

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrUnknownKind = errors.New("unknown message kind")
)

// Role is the per-round role tag. The numeric values are what devices see
// on the wire.
type Role int

const (
	RoleIdle       Role = 1
	RolePicker     Role = 2
	RoleGuesser    Role = 3
	RoleBettor     Role = 4
	RoleEliminated Role = 5
)

func (r Role) String() string {
	switch r {
	case RoleIdle:
		return "idle"
	case RolePicker:
		return "picker"
	case RoleGuesser:
		return "guesser"
	case RoleBettor:
		return "bettor"
	case RoleEliminated:
		return "eliminated"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Message is an inbound frame that passed boundary validation. Numeric
// submissions carry Value; guess and bet also carry the 1-based Slot.
type Message struct {
	From     DeviceID
	Kind     Kind
	Slot     int
	Value    int
	Text     string
	Received time.Time
}

// IsControl reports whether the message only concerns the transport and is
// never forwarded to the message log.
func (m Message) IsControl() bool {
	switch m.Kind {
	case KindHeartbeat, KindPing, KindOK:
		return true
	}
	return false
}

// InRange reports whether a submitted number is an acceptable pick, guess
// or bet.
func InRange(v int) bool {
	return v >= MinValue && v <= MaxValue
}

// Command is an outbound instruction to a single device.
type Command struct {
	Kind    Kind       `json:"kind"`
	Role    Role       `json:"role,omitempty"`
	Slot    int        `json:"slot,omitempty"`
	Value   int        `json:"value,omitempty"`
	Targets []DeviceID `json:"targets,omitempty"`
	Off     bool       `json:"off,omitempty"`
}

func (c Command) String() string {
	frame, err := TextCodec{}.Encode(c)
	if err != nil {
		return string(c.Kind)
	}
	return string(frame)
}

func RoleCommand(role Role, slot int) Command {
	return Command{Kind: KindRole, Role: role, Slot: slot}
}

func HealthCommand(health int) Command {
	return Command{Kind: KindHealth, Value: health}
}

func WheelCommand(targets ...DeviceID) Command {
	return Command{Kind: KindLightWheel, Targets: targets}
}

func WheelOffCommand() Command {
	return Command{Kind: KindLightWheel, Off: true}
}

func Simple(kind Kind) Command {
	return Command{Kind: kind}
}

// Validate checks that an operator-supplied command is something a device
// understands.
func (c Command) Validate() error {
	switch c.Kind {
	case KindRole:
		if c.Role < RoleIdle || c.Role > RoleEliminated {
			return fmt.Errorf("%w: role %d", ErrMalformed, c.Role)
		}
	case KindLightWheel:
		if !c.Off && (len(c.Targets) == 0 || len(c.Targets) > 2) {
			return fmt.Errorf("%w: light_wheel needs one or two targets", ErrMalformed)
		}
	case KindHealth, KindClear, KindWin, KindOff, KindExit, KindStart, KindOK:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	return nil
}
