package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestManager_ConcurrentAcquireSharesOneDial(t *testing.T) {
	var dials atomic.Int32
	dial := func(context.Context, string) (Socket, error) {
		dials.Add(1)
		return newFakeSocket(), nil
	}
	m := NewManagerWithDial("ws://test/hubs/game", dial, zaptest.NewLogger(t))
	defer m.Release(context.Background())

	const callers = 16
	conns := make([]*Conn, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := m.Acquire(context.Background(), "ann")
			require.NoError(t, err)
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), dials.Load(), "expected a single underlying connect")
	for _, conn := range conns {
		require.Same(t, conns[0], conn)
	}
}

func TestManager_IdentitySwitchStopsOldHandleFirst(t *testing.T) {
	// Record the interleaving of dials and closes so ordering is checkable.
	var mu sync.Mutex
	var events []string
	var targets []string

	dial := func(_ context.Context, target string) (Socket, error) {
		mu.Lock()
		events = append(events, "dial")
		targets = append(targets, target)
		mu.Unlock()
		sock := newFakeSocket()
		sock.onClose = func() {
			mu.Lock()
			events = append(events, "close")
			mu.Unlock()
		}
		return sock, nil
	}

	m := NewManagerWithDial("ws://test/hubs/game", dial, zaptest.NewLogger(t))
	defer m.Release(context.Background())

	annConn, err := m.Acquire(context.Background(), "ann")
	require.NoError(t, err)
	require.Equal(t, Connected, annConn.State())

	bobConn, err := m.Acquire(context.Background(), "bob")
	require.NoError(t, err)
	require.NotSame(t, annConn, bobConn)
	require.Equal(t, Disconnected, annConn.State())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"dial", "close", "dial"}, events)
	require.Contains(t, targets[0], "player=ann")
	require.Contains(t, targets[1], "player=bob")
}

func TestManager_ConcurrentDistinctIdentitiesKeepOneLiveHandle(t *testing.T) {
	// Count sockets that are open at the same moment; the dial sleeps to
	// widen any window where a second dial could start before the previous
	// handle was stopped.
	var live, maxLive atomic.Int32
	dial := func(context.Context, string) (Socket, error) {
		n := live.Add(1)
		for {
			max := maxLive.Load()
			if n <= max || maxLive.CompareAndSwap(max, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		sock := newFakeSocket()
		sock.onClose = func() { live.Add(-1) }
		return sock, nil
	}
	m := NewManagerWithDial("ws://test/hubs/game", dial, zaptest.NewLogger(t))
	defer m.Release(context.Background())

	names := []string{"ann", "bob"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			conn, err := m.Acquire(context.Background(), name)
			require.NoError(t, err)
			require.Equal(t, name, conn.Identity())
		}(names[i%2])
	}
	wg.Wait()

	require.Equal(t, int32(1), maxLive.Load(), "two hub connections were live at once")
	require.Equal(t, int32(1), live.Load())
}

func TestManager_SameIdentityReusesHandle(t *testing.T) {
	var dials atomic.Int32
	dial := func(context.Context, string) (Socket, error) {
		dials.Add(1)
		return newFakeSocket(), nil
	}
	m := NewManagerWithDial("ws://test", dial, zaptest.NewLogger(t))
	defer m.Release(context.Background())

	c1, err := m.Acquire(context.Background(), "ann")
	require.NoError(t, err)
	c2, err := m.Acquire(context.Background(), "ann")
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.Equal(t, int32(1), dials.Load())
}

func TestManager_ReleaseClearsStateEvenAfterFailure(t *testing.T) {
	bad := errors.New("connect refused")
	var allowed atomic.Bool
	dial := func(context.Context, string) (Socket, error) {
		if !allowed.Load() {
			return nil, bad
		}
		return newFakeSocket(), nil
	}
	m := NewManagerWithDial("ws://test", dial, zaptest.NewLogger(t))

	_, err := m.Acquire(context.Background(), "ann")
	require.ErrorIs(t, err, bad)

	m.Release(context.Background())

	allowed.Store(true)
	conn, err := m.Acquire(context.Background(), "ann")
	require.NoError(t, err)
	require.Equal(t, Connected, conn.State())
	m.Release(context.Background())
}

func TestManager_InvokeFailsFastWhenNotConnected(t *testing.T) {
	dial := func(context.Context, string) (Socket, error) {
		return nil, errors.New("refused")
	}
	m := NewManagerWithDial("ws://test", dial, zaptest.NewLogger(t))
	err := m.Invoke(context.Background(), "ann", OpJoinLobby)
	require.Error(t, err)
}

func TestManager_InvokeForwardsToHub(t *testing.T) {
	sock := newFakeSocket()
	sock.autoReply = true
	m := NewManagerWithDial("ws://test", dialTo(sock), zaptest.NewLogger(t))
	defer m.Release(context.Background())

	require.NoError(t, m.Invoke(context.Background(), "ann", OpJoinLobby))
	writes := sock.written()
	require.Len(t, writes, 1)
	require.Equal(t, OpJoinLobby, writes[0].Target)
}

func TestHubTarget(t *testing.T) {
	require.Equal(t, "ws://h/hubs/game?player=ann", hubTarget("ws://h/hubs/game", "ann"))
	require.Equal(t, "ws://h/hubs/game?x=1&player=b+c", hubTarget("ws://h/hubs/game?x=1", "b c"))
	require.Equal(t, "ws://h/hubs/game", hubTarget("ws://h/hubs/game", ""))
}
