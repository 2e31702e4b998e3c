package game

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/guessroulette/engine"
	"github.com/wfunc/guessroulette/inbox"
	"github.com/wfunc/guessroulette/network"
	"github.com/wfunc/guessroulette/session"
)

type MockDirectory struct {
	mutex sync.Mutex
	ids   map[network.DeviceID]bool
}

func NewMockDirectory(ids ...network.DeviceID) *MockDirectory {
	d := &MockDirectory{ids: make(map[network.DeviceID]bool)}
	for _, id := range ids {
		d.ids[id] = true
	}
	return d
}

func (d *MockDirectory) Snapshot() []network.DeviceID {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	out := make([]network.DeviceID, 0, len(d.ids))
	for id := range d.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *MockDirectory) Contains(id network.DeviceID) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.ids[id]
}

type MockSender struct {
	mutex sync.Mutex
	sent  map[network.DeviceID][]network.Command
}

func NewMockSender() *MockSender {
	return &MockSender{sent: make(map[network.DeviceID][]network.Command)}
}

func (s *MockSender) Send(ctx context.Context, id network.DeviceID, cmd network.Command, opts session.SendOptions) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sent[id] = append(s.sent[id], cmd)
	return nil
}

func (s *MockSender) Kinds(id network.DeviceID) []network.Kind {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var out []network.Kind
	for _, c := range s.sent[id] {
		out = append(out, c.Kind)
	}
	return out
}

type MockRecorder struct {
	results []engine.Result
}

func (r *MockRecorder) SaveGameResult(ctx context.Context, res engine.Result) error {
	r.results = append(r.results, res)
	return nil
}

func (r *MockRecorder) Close() error { return nil }

type fixture struct {
	t          *testing.T
	ctx        context.Context
	clock      *clockwork.FakeClock
	messages   *inbox.Log
	devices    *MockDirectory
	sender     *MockSender
	recorder   *MockRecorder
	engine     *engine.Engine
	controller *Controller
}

func newFixture(t *testing.T, ids ...network.DeviceID) *fixture {
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		clock:    clockwork.NewFakeClock(),
		messages: inbox.New(0),
		devices:  NewMockDirectory(ids...),
		sender:   NewMockSender(),
		recorder: &MockRecorder{},
	}
	f.engine = engine.New(engine.DefaultConfig(), f.sender, f.clock, engine.WithRand(rand.New(rand.NewPCG(1, 2))))
	f.controller = NewController(f.engine, f.messages, f.devices, f.sender, f.clock, Options{Recorder: f.recorder})
	return f
}

func (f *fixture) push(from network.DeviceID, frame string) {
	f.t.Helper()
	msg, err := network.TextCodec{}.Decode([]byte(frame))
	require.NoError(f.t, err)
	msg.From = from
	f.messages.Append(msg)
}

func (f *fixture) connect(ids ...network.DeviceID) {
	for _, id := range ids {
		f.messages.Append(network.Message{From: id, Kind: network.KindConnect})
	}
}

// roles returns the picker and the two guessers from the published snapshot.
func (f *fixture) roles() (picker network.DeviceID, guessers [2]network.DeviceID) {
	for _, p := range f.engine.Snapshot().Players {
		switch p.Role {
		case network.RolePicker:
			picker = p.ID
		case network.RoleGuesser:
			guessers[p.Slot-1] = p.ID
		}
	}
	return picker, guessers
}

func TestController_FullGame(t *testing.T) {
	f := newFixture(t, 0, 1, 2, 3)
	c := f.controller

	f.connect(1, 2, 3)
	f.push(network.ConsoleID, "start")
	assert.False(t, c.Tick(f.ctx))
	require.Equal(t, StatusPlaying, c.Status())
	require.Equal(t, engine.PhaseSelecting, f.engine.Phase())
	for _, id := range []network.DeviceID{1, 2, 3} {
		assert.Equal(t, network.KindStart, f.sender.Kinds(id)[0])
	}

	f.push(network.ConsoleID, "light_wheel:done")
	c.Tick(f.ctx)
	require.Equal(t, engine.PhaseAwaitingPicker, f.engine.Phase())

	picker, guessers := f.roles()
	require.NotZero(t, picker)
	f.push(picker, "pick:50")
	f.push(network.ConsoleID, "light_wheel:done")
	c.Tick(f.ctx)
	require.Equal(t, engine.PhaseAwaitingSubmissions, f.engine.Phase())

	f.push(guessers[0], "guess+1:40")
	f.push(guessers[1], "guess+2:45")
	c.Tick(f.ctx)
	assert.Equal(t, engine.PhaseResolving, f.engine.Phase())
	c.Tick(f.ctx)
	require.Equal(t, engine.PhaseGameOver, f.engine.Phase())
	assert.Equal(t, StatusPlaying, c.Status(), "cool-down still running")

	f.clock.Advance(engine.DefaultConfig().Cooldown)
	assert.True(t, c.Tick(f.ctx))
	assert.Equal(t, StatusFinished, c.Status())

	require.Len(t, f.recorder.results, 1)
	res := f.recorder.results[0]
	stored, ok := c.Result()
	require.True(t, ok)
	assert.Equal(t, res.GameID, stored.GameID)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 90, res.FinalHealth[guessers[0]])
	want := []network.DeviceID{picker, guessers[1]}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	assert.Equal(t, want, res.Winners)

	kinds := f.sender.Kinds(network.ConsoleID)
	assert.Equal(t, network.KindOff, kinds[len(kinds)-1])

	// finished controllers stay finished
	assert.True(t, c.Tick(f.ctx))
	assert.Len(t, f.recorder.results, 1)
}

func TestController_StartNeedsThreePlayers(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	f.connect(1, 2)
	f.push(network.ConsoleID, "start")

	assert.False(t, f.controller.Tick(f.ctx))
	assert.Equal(t, StatusEnrolling, f.controller.Status())
	assert.Equal(t, engine.PhaseIdle, f.engine.Phase())
	assert.Empty(t, f.sender.Kinds(1))
}

func TestController_StartOnlyFromConsole(t *testing.T) {
	f := newFixture(t, 0, 1, 2, 3)
	f.connect(1, 2, 3)
	f.push(2, "start")

	f.controller.Tick(f.ctx)
	assert.Equal(t, StatusEnrolling, f.controller.Status())
}

func TestController_OperatorStart(t *testing.T) {
	f := newFixture(t, 0, 1, 2, 3)
	f.connect(1, 2, 3)
	f.controller.Tick(f.ctx)
	require.Equal(t, StatusEnrolling, f.controller.Status())

	f.controller.Start()
	f.controller.Tick(f.ctx)
	assert.Equal(t, StatusPlaying, f.controller.Status())
}

func TestController_StartSyncsWithRegistry(t *testing.T) {
	// device 4 announced itself but has since left the registry; device 5
	// registered without its connect event reaching the log yet.
	f := newFixture(t, 0, 1, 2, 5)
	f.connect(1, 2, 4)
	f.push(network.ConsoleID, "start")

	f.controller.Tick(f.ctx)
	require.Equal(t, StatusPlaying, f.controller.Status())
	assert.Equal(t, []network.DeviceID{1, 2, 5}, f.engine.PlayerIDs())
}

func TestController_LateJoinerIsNotEnrolled(t *testing.T) {
	f := newFixture(t, 0, 1, 2, 3)
	f.connect(1, 2, 3)
	f.push(network.ConsoleID, "start")
	f.controller.Tick(f.ctx)
	require.Equal(t, StatusPlaying, f.controller.Status())

	f.connect(9)
	f.controller.Tick(f.ctx)
	_, ok := f.engine.Player(9)
	assert.False(t, ok)
}

func TestController_GameplayIgnoredWhileEnrolling(t *testing.T) {
	f := newFixture(t, 0, 1, 2, 3)
	f.connect(1, 2, 3)
	f.push(1, "pick:10")
	f.push(2, "guess+1:3")

	f.controller.Tick(f.ctx)
	assert.Equal(t, engine.PhaseIdle, f.engine.Phase())
	p, ok := f.engine.Player(1)
	require.True(t, ok)
	assert.Nil(t, p.LastValue)
}

func TestController_View(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	f.connect(1, 2)
	f.controller.Tick(f.ctx)

	v := f.controller.View()
	assert.Equal(t, "enrolling", v.Status)
	assert.True(t, v.ConsoleConnected)
	assert.Equal(t, []network.DeviceID{0, 1, 2}, v.Connected)
	require.NotNil(t, v.Game)
	assert.Len(t, v.Game.Players, 2)
}

func TestController_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() { errs <- f.controller.Run(ctx) }()
	cancel()

	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
