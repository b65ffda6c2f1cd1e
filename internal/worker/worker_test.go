package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/qduel/internal/errors"
	"github.com/victornm/qduel/internal/protocol"
	"github.com/victornm/qduel/internal/worker"
)

func TestUnit_Dispatch(t *testing.T) {
	engine := &fakeEngine{calls: make(chan protocol.CommandName, 8)}
	u := worker.NewUnit("unit-0", engine, &fakeEmitter{})
	u.Start()
	defer u.Stop()

	commands := []protocol.CommandName{
		protocol.CommandCreateMatch,
		protocol.CommandJoinMatch,
		protocol.CommandConnectToMatch,
		protocol.CommandPlayerReady,
		protocol.CommandSubmitAnswer,
	}

	for _, name := range commands {
		require.NoError(t, u.Dispatch(protocol.Command{Name: name, MatchID: "m1"}))
	}

	for _, want := range commands {
		select {
		case got := <-engine.calls:
			require.Equal(t, want, got, "commands should run in dispatch order")
		case <-time.After(time.Second):
			t.Fatalf("engine never received %s", want)
		}
	}
}

func TestUnit_DispatchAfterStop(t *testing.T) {
	u := worker.NewUnit("unit-0", &fakeEngine{}, &fakeEmitter{})
	u.Start()
	u.Stop()

	err := u.Dispatch(protocol.Command{Name: protocol.CommandPlayerReady})
	require.Equal(t, errors.CodeUnavailable, errors.Convert(err).Code)
}

func TestUnit_EngineErrorGoesBackToSocket(t *testing.T) {
	engine := &fakeEngine{
		calls: make(chan protocol.CommandName, 1),
		err: errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("match is full")),
	}
	emitter := &fakeEmitter{sent: make(chan sent, 1), failed: make(chan protocol.Command, 1)}

	u := worker.NewUnit("unit-0", engine, emitter)
	u.Start()
	defer u.Stop()

	require.NoError(t, u.Dispatch(protocol.Command{
		Name: protocol.CommandJoinMatch, SocketID: "s1", MatchID: "m1",
	}))

	select {
	case got := <-emitter.failed:
		require.Equal(t, "m1", got.MatchID, "the routing layer should hear about the rejection")
		require.Equal(t, "s1", got.SocketID)
	case <-time.After(time.Second):
		t.Fatal("rejection never reached the emitter")
	}

	select {
	case got := <-emitter.sent:
		require.Equal(t, "s1", got.socketID)
		require.Equal(t, protocol.EventMatchError, got.event.Event)
		require.Equal(t, "STATE_CONFLICT", got.event.Data.(protocol.MatchErrorPayload).Code)
	case <-time.After(time.Second):
		t.Fatal("error never reached the emitter")
	}
}

func TestUnit_Ping(t *testing.T) {
	u := worker.NewUnit("unit-0", &fakeEngine{}, &fakeEmitter{})
	u.Start()

	require.NoError(t, u.Ping(time.Second))

	u.Stop()
	err := u.Ping(100 * time.Millisecond)
	require.Equal(t, errors.CodeUnavailable, errors.Convert(err).Code)
}

type fakeEngine struct {
	mu    sync.Mutex
	calls chan protocol.CommandName
	err   error
}

func (f *fakeEngine) record(name protocol.CommandName) error {
	if f.calls != nil {
		f.calls <- name
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeEngine) CreateMatch(ctx context.Context, cmd protocol.Command) error {
	return f.record(cmd.Name)
}

func (f *fakeEngine) JoinMatch(ctx context.Context, cmd protocol.Command) error {
	return f.record(cmd.Name)
}

func (f *fakeEngine) ConnectToMatch(ctx context.Context, cmd protocol.Command) error {
	return f.record(cmd.Name)
}

func (f *fakeEngine) PlayerReady(ctx context.Context, cmd protocol.Command) error {
	return f.record(cmd.Name)
}

func (f *fakeEngine) SubmitAnswer(ctx context.Context, cmd protocol.Command) error {
	return f.record(cmd.Name)
}

func (f *fakeEngine) ActiveSessions() int { return 0 }

type sent struct {
	socketID string
	event    protocol.ServerEvent
}

type fakeEmitter struct {
	sent   chan sent
	failed chan protocol.Command
}

func (f *fakeEmitter) ToSocket(socketID string, e protocol.ServerEvent) {
	if f.sent != nil {
		f.sent <- sent{socketID: socketID, event: e}
	}
}

func (f *fakeEmitter) CommandFailed(cmd protocol.Command, err error) {
	if f.failed != nil {
		f.failed <- cmd
	}
}
