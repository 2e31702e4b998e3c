// broadcast/broadcast.go
package broadcast

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wfunc/guessroulette/network"
	"github.com/wfunc/guessroulette/session"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Sender delivers one command to one device.
type Sender interface {
	Send(ctx context.Context, id network.DeviceID, cmd network.Command, opts session.SendOptions) error
}

// Directory lists the devices currently reachable.
type Directory interface {
	Snapshot() []network.DeviceID
}

// Result holds the outcome per target; a nil entry means delivered.
type Result map[network.DeviceID]error

// Failed returns the targets that were not reached, in ascending order.
func (r Result) Failed() []network.DeviceID {
	var ids []network.DeviceID
	for id, err := range r {
		if err != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r Result) Err() error {
	var err error
	for _, id := range r.Failed() {
		err = multierr.Append(err, fmt.Errorf("device %d: %w", id, r[id]))
	}
	return err
}

// Fanout sends the same command to every target concurrently. Per-device
// ordering is kept by the session; a slow device only delays itself.
func Fanout(ctx context.Context, sender Sender, ids []network.DeviceID, cmd network.Command, opts session.SendOptions) Result {
	cmds := make(map[network.DeviceID]network.Command, len(ids))
	for _, id := range ids {
		cmds[id] = cmd
	}
	return FanoutEach(ctx, sender, cmds, opts)
}

// FanoutEach sends a distinct command to each target concurrently and
// returns once every send has completed or failed.
func FanoutEach(ctx context.Context, sender Sender, cmds map[network.DeviceID]network.Command, opts session.SendOptions) Result {
	result := make(Result, len(cmds))
	var mutex sync.Mutex
	var g errgroup.Group

	for id, cmd := range cmds {
		g.Go(func() error {
			err := sender.Send(ctx, id, cmd, opts)
			mutex.Lock()
			result[id] = err
			mutex.Unlock()
			return nil
		})
	}
	g.Wait()
	return result
}

type Broadcaster interface {
	BroadcastToAll(ctx context.Context, cmd network.Command, opts session.SendOptions) Result
	BroadcastToDevices(ctx context.Context, ids []network.DeviceID, cmd network.Command, opts session.SendOptions) Result
}

// DeviceBroadcaster fans commands out over whatever is registered.
type DeviceBroadcaster struct {
	sender    Sender
	directory Directory
}

func NewDeviceBroadcaster(sender Sender, directory Directory) *DeviceBroadcaster {
	return &DeviceBroadcaster{
		sender:    sender,
		directory: directory,
	}
}

func (b *DeviceBroadcaster) BroadcastToAll(ctx context.Context, cmd network.Command, opts session.SendOptions) Result {
	return Fanout(ctx, b.sender, b.directory.Snapshot(), cmd, opts)
}

func (b *DeviceBroadcaster) BroadcastToDevices(ctx context.Context, ids []network.DeviceID, cmd network.Command, opts session.SendOptions) Result {
	return Fanout(ctx, b.sender, ids, cmd, opts)
}
