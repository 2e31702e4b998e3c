package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/wfunc/guessroulette/broadcast"
	"github.com/wfunc/guessroulette/network"
)

// commandRequest mirrors the device JSON envelope:
// {"kind":"role","data":4,"slot":1}, {"kind":"light_wheel","data":[1,2]}.
type commandRequest struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
	Slot int             `json:"slot,omitempty"`
}

func decodeCommand(r *http.Request) (network.Command, error) {
	var req commandRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return network.Command{}, fmt.Errorf("invalid body: %w", err)
	}
	cmd, err := req.command()
	if err != nil {
		return network.Command{}, err
	}
	if err := cmd.Validate(); err != nil {
		return network.Command{}, err
	}
	return cmd, nil
}

func (req commandRequest) command() (network.Command, error) {
	cmd := network.Command{Kind: network.Kind(req.Kind), Slot: req.Slot}

	switch cmd.Kind {
	case network.KindRole:
		var role int
		if err := json.Unmarshal(req.Data, &role); err != nil {
			return cmd, fmt.Errorf("role needs a numeric data field")
		}
		cmd.Role = network.Role(role)
	case network.KindHealth:
		if err := json.Unmarshal(req.Data, &cmd.Value); err != nil {
			return cmd, fmt.Errorf("health needs a numeric data field")
		}
	case network.KindLightWheel:
		var off string
		if json.Unmarshal(req.Data, &off) == nil {
			if off != "off" {
				return cmd, fmt.Errorf("light_wheel data must be a device id, a pair or \"off\"")
			}
			cmd.Off = true
			break
		}
		var one int
		if json.Unmarshal(req.Data, &one) == nil {
			cmd.Targets = []network.DeviceID{network.DeviceID(one)}
			break
		}
		var pair []network.DeviceID
		if err := json.Unmarshal(req.Data, &pair); err != nil {
			return cmd, fmt.Errorf("light_wheel data must be a device id, a pair or \"off\"")
		}
		cmd.Targets = pair
	}
	return cmd, nil
}

func sortedIDs(result broadcast.Result) []network.DeviceID {
	ids := make([]network.DeviceID, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
