package network

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Codec converts between wire frames and the structured envelope. Parsing
// happens here and nowhere downstream.
type Codec interface {
	Encode(cmd Command) ([]byte, error)
	Decode(frame []byte) (Message, error)
}

// TextCodec is the line protocol spoken over byte streams:
// "pick:42", "guess+1:40", "bet+2:17", "role:4+1", "light_wheel:[1, 2]".
type TextCodec struct{}

func (TextCodec) Encode(cmd Command) ([]byte, error) {
	switch cmd.Kind {
	case KindRole:
		if cmd.Slot > 0 {
			return []byte(fmt.Sprintf("role:%d+%d", cmd.Role, cmd.Slot)), nil
		}
		return []byte(fmt.Sprintf("role:%d", cmd.Role)), nil
	case KindHealth:
		return []byte(fmt.Sprintf("health:%d", cmd.Value)), nil
	case KindLightWheel:
		switch {
		case cmd.Off:
			return []byte("light_wheel:off"), nil
		case len(cmd.Targets) == 1:
			return []byte(fmt.Sprintf("light_wheel:%d", cmd.Targets[0])), nil
		case len(cmd.Targets) == 2:
			return []byte(fmt.Sprintf("light_wheel:[%d, %d]", cmd.Targets[0], cmd.Targets[1])), nil
		}
		return nil, fmt.Errorf("%w: light_wheel with %d targets", ErrMalformed, len(cmd.Targets))
	case "":
		return nil, fmt.Errorf("%w: empty kind", ErrMalformed)
	default:
		return []byte(cmd.Kind), nil
	}
}

func (TextCodec) Decode(frame []byte) (Message, error) {
	s := strings.TrimSpace(string(frame))
	if s == "" {
		return Message{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	head, arg, hasArg := strings.Cut(s, ":")
	name, slotText, hasSlot := strings.Cut(head, "+")
	msg := Message{Kind: Kind(name)}

	switch msg.Kind {
	case KindHeartbeat, KindPing, KindOK, KindStart, KindConnect, KindDisconnect:
		return msg, nil

	case KindID:
		n, err := parseNumber(arg, hasArg)
		if err != nil || n < 0 {
			return Message{}, fmt.Errorf("%w: bad device id in %q", ErrMalformed, s)
		}
		msg.From = DeviceID(n)
		msg.Value = n
		return msg, nil

	case KindPick:
		n, err := parseNumber(arg, hasArg)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
		}
		msg.Value = n
		return msg, nil

	case KindGuess, KindBet:
		if !hasSlot {
			return Message{}, fmt.Errorf("%w: %q has no slot", ErrMalformed, s)
		}
		slot, err := strconv.Atoi(slotText)
		if err != nil || slot < 1 {
			return Message{}, fmt.Errorf("%w: bad slot in %q", ErrMalformed, s)
		}
		n, err := parseNumber(arg, hasArg)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
		}
		msg.Slot = slot
		msg.Value = n
		return msg, nil

	case KindLightWheel:
		msg.Text = strings.TrimSpace(arg)
		return msg, nil
	}

	return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

func parseNumber(arg string, present bool) (int, error) {
	if !present {
		return 0, fmt.Errorf("missing value")
	}
	return strconv.Atoi(strings.TrimSpace(arg))
}

// JSONCodec is the envelope used on publish/subscribe subjects:
// {"type":"guess","data":40,"id":3,"index":1}.
type JSONCodec struct{}

type jsonFrame struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	ID     *int            `json:"id,omitempty"`
	Index  int             `json:"index,omitempty"`
	Health *int            `json:"health,omitempty"`
}

func (JSONCodec) Encode(cmd Command) ([]byte, error) {
	out := struct {
		Type   string `json:"type"`
		Data   any    `json:"data,omitempty"`
		Index  int    `json:"index,omitempty"`
		Health *int   `json:"health,omitempty"`
	}{Type: string(cmd.Kind)}

	switch cmd.Kind {
	case KindRole:
		out.Data = int(cmd.Role)
		out.Index = cmd.Slot
	case KindHealth:
		h := cmd.Value
		out.Data = h
		out.Health = &h
	case KindLightWheel:
		switch {
		case cmd.Off:
			out.Data = "off"
		case len(cmd.Targets) == 1:
			out.Data = int(cmd.Targets[0])
		case len(cmd.Targets) == 2:
			out.Data = []int{int(cmd.Targets[0]), int(cmd.Targets[1])}
		default:
			return nil, fmt.Errorf("%w: light_wheel with %d targets", ErrMalformed, len(cmd.Targets))
		}
	case "":
		return nil, fmt.Errorf("%w: empty kind", ErrMalformed)
	}
	return json.Marshal(out)
}

func (JSONCodec) Decode(frame []byte) (Message, error) {
	var f jsonFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.ID == nil || *f.ID < 0 {
		return Message{}, fmt.Errorf("%w: missing device id", ErrMalformed)
	}
	msg := Message{From: DeviceID(*f.ID), Kind: Kind(f.Type)}

	switch msg.Kind {
	case KindHeartbeat, KindPing, KindOK, KindStart, KindConnect, KindDisconnect:
		return msg, nil

	case KindPick:
		n, err := rawNumber(f.Data)
		if err != nil {
			return Message{}, fmt.Errorf("%w: pick: %v", ErrMalformed, err)
		}
		msg.Value = n
		return msg, nil

	case KindGuess, KindBet:
		if f.Index < 1 {
			return Message{}, fmt.Errorf("%w: %s without index", ErrMalformed, f.Type)
		}
		n, err := rawNumber(f.Data)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Type, err)
		}
		msg.Slot = f.Index
		msg.Value = n
		return msg, nil

	case KindLightWheel:
		var text string
		if err := json.Unmarshal(f.Data, &text); err != nil {
			return Message{}, fmt.Errorf("%w: light_wheel: %v", ErrMalformed, err)
		}
		msg.Text = text
		return msg, nil
	}

	return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, f.Type)
}

// rawNumber accepts both 42 and "42"; devices have sent either.
func rawNumber(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing value")
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("value is neither a number nor a string")
	}
	return strconv.Atoi(strings.TrimSpace(s))
}
