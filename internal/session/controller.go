package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tictacgo/internal/realtime"
	"tictacgo/internal/transport"
	"tictacgo/pkg/game"
)

type Kind int

const (
	KindLobby Kind = iota
	KindGame
)

// Room describes which hub room a controller is bound to.
type Room struct {
	Kind   Kind
	GameID string
}

func LobbyRoom() Room         { return Room{Kind: KindLobby} }
func GameRoom(id string) Room { return Room{Kind: KindGame, GameID: id} }

type Phase int

const (
	Idle Phase = iota
	Joining
	Joined
	Leaving
	Errored
)

var (
	ErrNotJoined   = errors.New("session: not joined")
	ErrBusy        = errors.New("session: already entered; leave first")
	ErrNotGameRoom = errors.New("session: action requires a game room")
	ErrUnusable    = errors.New("session: controller errored; create a new one")
)

// Lobby is the lobby view state: the open-games listing plus the viewer's
// own scoreboard, refreshed together on every LobbyUpdated push.
type Lobby struct {
	Open  []game.OpenGame
	Stats game.Stats
}

// Controller runs the join/leave handshake for one view and keeps its view
// state reconciled with server pushes. One instance per lobby or game view;
// it is not reusable after an entry failure.
type Controller struct {
	api      *transport.Client
	mgr      *realtime.Manager
	identity string
	log      *zap.Logger

	// presentation callbacks; fired outside the lock, never after Leave
	onGame   func(*game.Snapshot)
	onLobby  func(Lobby)
	onNotice func(string)

	mu       sync.Mutex
	phase    Phase
	room     Room
	alive    bool // liveness flag: false once teardown begins
	conn     *realtime.Conn
	detach   []func()
	snapshot *game.Snapshot
	lobby    Lobby
	lobbyGen uint64 // bumped per refresh; stale fetch results are dropped
}

func New(api *transport.Client, mgr *realtime.Manager, identity string, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{api: api, mgr: mgr, identity: identity, log: log}
}

// OnGameUpdated registers the presentation callback for snapshot changes.
// Must be set before Enter.
func (c *Controller) OnGameUpdated(fn func(*game.Snapshot)) { c.onGame = fn }

// OnLobbyUpdated registers the callback for lobby refreshes.
func (c *Controller) OnLobbyUpdated(fn func(Lobby)) { c.onLobby = fn }

// OnNotice registers the callback for transient notices such as an opponent
// leaving. Notices never alter the snapshot.
func (c *Controller) OnNotice(fn func(string)) { c.onNotice = fn }

// Enter performs the full join handshake: connection, room join, initial
// fetch, listener attachment. For a game room the initial snapshot is
// returned; a lobby enter returns nil. On any failure the controller lands
// in Errored and must be recreated.
func (c *Controller) Enter(ctx context.Context, room Room) (*game.Snapshot, error) {
	c.mu.Lock()
	switch c.phase {
	case Idle:
	case Errored:
		c.mu.Unlock()
		return nil, ErrUnusable
	default:
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.phase = Joining
	c.room = room
	c.alive = true
	c.mu.Unlock()

	conn, err := c.mgr.Acquire(ctx, c.identity)
	if err != nil {
		return nil, c.abort(fmt.Errorf("connect: %w", err))
	}
	if err := c.mgr.EnsureReady(ctx, conn); err != nil {
		return nil, c.abort(fmt.Errorf("connect: %w", err))
	}
	if conn.State() != realtime.Connected {
		return nil, c.abort(realtime.ErrNotConnected)
	}

	switch room.Kind {
	case KindGame:
		// Coming from the lobby view the server may still have us in the
		// lobby group; dropping out is best-effort.
		if err := conn.Invoke(ctx, realtime.OpLeaveLobby); err != nil {
			c.log.Debug("leave lobby before game join", zap.Error(err))
		}
		if err := conn.Invoke(ctx, realtime.OpJoinGame, room.GameID); err != nil {
			return nil, c.abort(err)
		}
	case KindLobby:
		if err := conn.Invoke(ctx, realtime.OpJoinLobby); err != nil {
			return nil, c.abort(err)
		}
	}

	// Initial fetch, then listeners. A push racing the fetch is fine: both
	// carry authoritative state and the later assignment wins.
	var snap *game.Snapshot
	switch room.Kind {
	case KindGame:
		snap, err = c.api.GetGame(ctx, room.GameID)
		if err != nil {
			return nil, c.abort(err)
		}
		c.mu.Lock()
		c.snapshot = snap
		c.mu.Unlock()
	case KindLobby:
		lobby, err := c.fetchLobby(ctx)
		if err != nil {
			return nil, c.abort(err)
		}
		c.mu.Lock()
		c.lobby = lobby
		c.mu.Unlock()
	}

	offs := c.attach(conn, room)

	c.mu.Lock()
	c.conn = conn
	c.detach = offs
	c.phase = Joined
	c.mu.Unlock()
	return snap, nil
}

// attach wires the push listeners for the room. Every callback checks the
// liveness flag before touching controller state, so events delivered after
// teardown are no-ops.
func (c *Controller) attach(conn *realtime.Conn, room Room) []func() {
	var offs []func()

	switch room.Kind {
	case KindGame:
		offs = append(offs, conn.On(realtime.EvGameUpdated, func(args []json.RawMessage) {
			if len(args) == 0 {
				return
			}
			var snap game.Snapshot
			if err := json.Unmarshal(args[0], &snap); err != nil {
				c.log.Warn("bad GameUpdated payload", zap.Error(err))
				return
			}
			c.replaceSnapshot(&snap)
		}))
		offs = append(offs, conn.On(realtime.EvPlayerLeft, func(args []json.RawMessage) {
			var name string
			if len(args) > 0 {
				_ = json.Unmarshal(args[0], &name)
			}
			c.notice(fmt.Sprintf("%s left the game", name))
		}))
	case KindLobby:
		offs = append(offs, conn.On(realtime.EvLobbyUpdated, func(_ []json.RawMessage) {
			gen := c.bumpLobbyGen()
			go c.refreshLobby(gen)
		}))
	}

	offs = append(offs, conn.OnReconnected(func() {
		c.rejoin()
	}))
	return offs
}

// Leave detaches listeners first, so no further mutation can arrive, then
// tells the hub best-effort. Cleanup failure never blocks navigation.
func (c *Controller) Leave(ctx context.Context) {
	c.mu.Lock()
	if c.phase != Joined {
		c.mu.Unlock()
		return
	}
	c.phase = Leaving
	c.alive = false
	offs := c.detach
	c.detach = nil
	conn := c.conn
	room := c.room
	c.mu.Unlock()

	for _, off := range offs {
		off()
	}

	if conn != nil && conn.State() == realtime.Connected {
		var err error
		switch room.Kind {
		case KindGame:
			err = conn.Invoke(ctx, realtime.OpLeaveGame, room.GameID)
		case KindLobby:
			err = conn.Invoke(ctx, realtime.OpLeaveLobby)
		}
		if err != nil {
			c.log.Debug("leave room", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.phase = Idle
	c.mu.Unlock()
}

// Action is a state-changing request against the current game room.
type Action struct {
	kind actionKind
	cell int
}

type actionKind int

const (
	actMove actionKind = iota
	actJoin
	actRematch
)

func MoveAction(cell int) Action { return Action{kind: actMove, cell: cell} }
func JoinAction() Action         { return Action{kind: actJoin} }
func RematchAction() Action      { return Action{kind: actRematch} }

// Act submits the action and refreshes the snapshot from the response
// cycle. A failure leaves the controller Joined with its last-known-good
// snapshot; a push racing the refetch wins by arriving later.
func (c *Controller) Act(ctx context.Context, a Action) (*game.Snapshot, error) {
	c.mu.Lock()
	if c.phase != Joined {
		c.mu.Unlock()
		return nil, ErrNotJoined
	}
	if c.room.Kind != KindGame {
		c.mu.Unlock()
		return nil, ErrNotGameRoom
	}
	id := c.room.GameID
	c.mu.Unlock()

	var err error
	switch a.kind {
	case actMove:
		err = c.api.Move(ctx, id, c.identity, a.cell)
	case actJoin:
		err = c.api.JoinGame(ctx, id, c.identity)
	case actRematch:
		err = c.api.Rematch(ctx, id, c.identity)
	}
	if err != nil {
		return nil, err
	}

	snap, err := c.api.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}
	c.replaceSnapshot(snap)
	return snap, nil
}

// CreateGame asks the service for a fresh game owned by this viewer.
func (c *Controller) CreateGame(ctx context.Context) (string, error) {
	return c.api.CreateGame(ctx, c.identity)
}

// Snapshot returns the last-observed game state, nil before the first fetch.
func (c *Controller) Snapshot() *game.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// LobbyState returns the last lobby view state.
func (c *Controller) LobbyState() Lobby {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lobby
}

// View projects the current snapshot for this controller's viewer.
func (c *Controller) View() game.View {
	return game.Project(c.Snapshot(), c.identity)
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) abort(err error) error {
	c.mu.Lock()
	c.phase = Errored
	c.alive = false
	offs := c.detach
	c.detach = nil
	c.mu.Unlock()
	for _, off := range offs {
		off()
	}
	return err
}

// replaceSnapshot is the single snapshot write path: last write wins, and
// nothing lands after teardown.
func (c *Controller) replaceSnapshot(snap *game.Snapshot) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.snapshot = snap
	fn := c.onGame
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (c *Controller) notice(msg string) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	fn := c.onNotice
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// bumpLobbyGen claims the next refresh generation. Installing a result is
// conditional on the generation still being current, so overlapping refresh
// fetches cannot land out of order.
func (c *Controller) bumpLobbyGen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lobbyGen++
	return c.lobbyGen
}

// refreshLobby re-fetches the lobby listing and stats after a LobbyUpdated
// push. Fetch errors are logged and the previous state kept; the next push
// will try again. A result superseded by a newer refresh is dropped.
func (c *Controller) refreshLobby(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lobby, err := c.fetchLobby(ctx)
	if err != nil {
		c.log.Warn("lobby refresh", zap.Error(err))
		return
	}

	c.mu.Lock()
	if !c.alive || gen != c.lobbyGen {
		c.mu.Unlock()
		return
	}
	c.lobby = lobby
	fn := c.onLobby
	c.mu.Unlock()
	if fn != nil {
		fn(lobby)
	}
}

// fetchLobby pulls the open-games list and the viewer's stats concurrently.
func (c *Controller) fetchLobby(ctx context.Context) (Lobby, error) {
	var lobby Lobby
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		open, err := c.api.OpenGames(ctx)
		lobby.Open = open
		return err
	})
	g.Go(func() error {
		stats, err := c.api.Stats(ctx, c.identity)
		lobby.Stats = stats
		return err
	})
	if err := g.Wait(); err != nil {
		return Lobby{}, err
	}
	return lobby, nil
}

// rejoin re-runs the join handshake after the transport reconnected, since
// the server dropped our room membership with the old socket. Missed pushes
// are covered by a fresh fetch.
func (c *Controller) rejoin() {
	c.mu.Lock()
	if !c.alive || c.phase != Joined {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	room := c.room
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch room.Kind {
	case KindGame:
		err = conn.Invoke(ctx, realtime.OpJoinGame, room.GameID)
	case KindLobby:
		err = conn.Invoke(ctx, realtime.OpJoinLobby)
	}
	if err != nil {
		c.log.Warn("rejoin after reconnect", zap.Error(err))
		return
	}

	switch room.Kind {
	case KindGame:
		if snap, err := c.api.GetGame(ctx, room.GameID); err == nil {
			c.replaceSnapshot(snap)
		}
	case KindLobby:
		c.refreshLobby(c.bumpLobbyGen())
	}
}
