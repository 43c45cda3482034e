package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeSocket is a scripted hub endpoint: reads deliver whatever the test (or
// auto-reply) queued, writes are recorded.
type fakeSocket struct {
	mu        sync.Mutex
	writes    []Frame
	autoReply bool // answer every invoke with an ok result
	failWith  map[string]string
	onClose   func()

	incoming  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		incoming: make(chan []byte, 16),
		done:     make(chan struct{}),
		failWith: map[string]string{},
	}
}

func (s *fakeSocket) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-s.done:
		return 0, nil, net.ErrClosed
	case data := <-s.incoming:
		return websocket.MessageText, data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (s *fakeSocket) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	select {
	case <-s.done:
		return net.ErrClosed
	default:
	}

	var f Frame
	if err := json.Unmarshal(p, &f); err != nil {
		return err
	}
	s.mu.Lock()
	s.writes = append(s.writes, f)
	reply := s.autoReply && f.Type == FrameInvoke
	errMsg := s.failWith[f.Target]
	s.mu.Unlock()

	if reply {
		s.push(Frame{Type: FrameResult, ID: f.ID, Error: errMsg})
	}
	return nil
}

func (s *fakeSocket) Close(websocket.StatusCode, string) error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *fakeSocket) push(f Frame) {
	data, _ := json.Marshal(f)
	s.incoming <- data
}

func (s *fakeSocket) written() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.writes...)
}

func dialTo(sock *fakeSocket) DialFunc {
	return func(context.Context, string) (Socket, error) {
		return sock, nil
	}
}

func startedConn(t *testing.T, sock *fakeSocket) *Conn {
	t.Helper()
	c := newConn("ws://test/hubs/game", "ann", dialTo(sock), zaptest.NewLogger(t))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestConn_InvokeRoundtrip(t *testing.T) {
	sock := newFakeSocket()
	sock.autoReply = true
	c := startedConn(t, sock)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Invoke(ctx, OpJoinGame, "g1"))

	writes := sock.written()
	require.Len(t, writes, 1)
	require.Equal(t, FrameInvoke, writes[0].Type)
	require.Equal(t, OpJoinGame, writes[0].Target)
	require.NotEmpty(t, writes[0].ID)

	var arg string
	require.NoError(t, json.Unmarshal(writes[0].Args[0], &arg))
	require.Equal(t, "g1", arg)
}

func TestConn_RemoteErrorSurfacesVerbatim(t *testing.T) {
	sock := newFakeSocket()
	sock.autoReply = true
	sock.failWith[OpJoinGame] = "game not found"
	c := startedConn(t, sock)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.Invoke(ctx, OpJoinGame, "nope")

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "game not found", remote.Message)
}

func TestConn_InvokeWhenNotConnected(t *testing.T) {
	c := newConn("ws://test", "ann", dialTo(newFakeSocket()), zaptest.NewLogger(t))
	err := c.Invoke(context.Background(), OpJoinLobby)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestConn_EventDispatchAndDetach(t *testing.T) {
	sock := newFakeSocket()
	c := startedConn(t, sock)

	got := make(chan string, 4)
	off := c.On(EvPlayerLeft, func(args []json.RawMessage) {
		var name string
		_ = json.Unmarshal(args[0], &name)
		got <- name
	})

	raw, _ := json.Marshal("bob")
	sock.push(Frame{Type: FrameEvent, Target: EvPlayerLeft, Args: []json.RawMessage{raw}})

	select {
	case name := <-got:
		require.Equal(t, "bob", name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	off()
	sock.push(Frame{Type: FrameEvent, Target: EvPlayerLeft, Args: []json.RawMessage{raw}})
	select {
	case name := <-got:
		t.Fatalf("detached handler still fired with %q", name)
	case <-time.After(100 * time.Millisecond):
		// good: nothing delivered
	}
}

func TestConn_ReconnectRunsHooks(t *testing.T) {
	first := newFakeSocket()
	second := newFakeSocket()

	var mu sync.Mutex
	socks := []*fakeSocket{first, second}
	dial := func(context.Context, string) (Socket, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(socks) == 0 {
			return nil, errors.New("no more sockets")
		}
		s := socks[0]
		socks = socks[1:]
		return s, nil
	}

	c := newConn("ws://test", "ann", dial, zaptest.NewLogger(t))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	reconnected := make(chan struct{}, 1)
	c.OnReconnected(func() { reconnected <- struct{}{} })

	// Drop the transport out from under the read loop.
	_ = first.Close(websocket.StatusAbnormalClosure, "drop")

	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reconnect")
	}
	require.Equal(t, Connected, c.State())
}

func TestConn_StopFailsInflightInvocations(t *testing.T) {
	sock := newFakeSocket() // no auto-reply: the invoke hangs until Stop
	c := startedConn(t, sock)

	errs := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs <- c.Invoke(ctx, OpJoinLobby)
	}()

	// Let the invoke get written before tearing down.
	require.Eventually(t, func() bool { return len(sock.written()) == 1 },
		time.Second, 10*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrConnClosed)
	case <-time.After(time.Second):
		t.Fatal("invoke did not fail after stop")
	}
}
