package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"tictacgo/internal/realtime"
	"tictacgo/pkg/game"
)

type hubClient struct {
	player string

	sendMu sync.Mutex
	closed bool
	out    chan realtime.Frame

	// guarded by hub.mu
	inLobby bool
	gameID  string
}

// trySend queues a frame unless the client is gone or its outbox is full. A
// lost frame to a slow or departed client is fine.
func (c *hubClient) trySend(f realtime.Frame) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- f:
		return true
	default:
		return false
	}
}

func (c *hubClient) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

// hub tracks which socket sits in which room and pushes events to them. It
// speaks the same frame protocol the client's realtime package does.
type hub struct {
	store *store
	log   *zap.Logger

	mu      sync.Mutex
	clients map[*hubClient]bool
}

func newHub(store *store, log *zap.Logger) *hub {
	return &hub{store: store, log: log, clients: make(map[*hubClient]bool)}
}

func (h *hub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &hubClient{
			player: r.URL.Query().Get("player"),
			out:    make(chan realtime.Frame, 8),
		}
		h.mu.Lock()
		h.clients[c] = true
		h.mu.Unlock()
		defer h.drop(c)

		// Writer goroutine: sole writer on this socket.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for f := range c.out {
				payload, _ := json.Marshal(f)
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var f realtime.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			if f.Type != realtime.FrameInvoke {
				continue
			}
			h.invoke(c, f)
		}
	}
}

func (h *hub) invoke(c *hubClient, f realtime.Frame) {
	var errMsg string

	switch f.Target {
	case realtime.OpJoinLobby:
		h.mu.Lock()
		c.inLobby = true
		h.mu.Unlock()

	case realtime.OpLeaveLobby:
		h.mu.Lock()
		c.inLobby = false
		h.mu.Unlock()

	case realtime.OpJoinGame:
		var id string
		if len(f.Args) > 0 {
			_ = json.Unmarshal(f.Args[0], &id)
		}
		if _, err := h.store.get(id); err != nil {
			errMsg = err.Error()
			break
		}
		h.mu.Lock()
		c.gameID = id
		h.mu.Unlock()

	case realtime.OpLeaveGame:
		var id string
		if len(f.Args) > 0 {
			_ = json.Unmarshal(f.Args[0], &id)
		}
		h.mu.Lock()
		left := c.gameID == id
		if left {
			c.gameID = ""
		}
		h.mu.Unlock()
		if left && c.player != "" {
			h.playerLeft(id, c.player)
		}

	default:
		errMsg = "unknown operation: " + f.Target
	}

	h.send(c, realtime.Frame{Type: realtime.FrameResult, ID: f.ID, Error: errMsg})
}

// drop unregisters a gone socket. Leaving mid-game counts the same as an
// explicit LeaveGame for the players still watching.
func (h *hub) drop(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	gameID := c.gameID
	h.mu.Unlock()
	c.close()

	if gameID != "" && c.player != "" {
		h.playerLeft(gameID, c.player)
	}
}

func (h *hub) lobbyChanged() {
	h.broadcast(realtime.Frame{Type: realtime.FrameEvent, Target: realtime.EvLobbyUpdated},
		func(c *hubClient) bool { return c.inLobby })
}

func (h *hub) gameChanged(snap game.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.log.Error("encode snapshot", zap.Error(err))
		return
	}
	h.broadcast(realtime.Frame{
		Type:   realtime.FrameEvent,
		Target: realtime.EvGameUpdated,
		Args:   []json.RawMessage{payload},
	}, func(c *hubClient) bool { return c.gameID == snap.ID })
}

func (h *hub) playerLeft(gameID, name string) {
	payload, _ := json.Marshal(name)
	h.broadcast(realtime.Frame{
		Type:   realtime.FrameEvent,
		Target: realtime.EvPlayerLeft,
		Args:   []json.RawMessage{payload},
	}, func(c *hubClient) bool { return c.gameID == gameID && c.player != name })
}

func (h *hub) broadcast(f realtime.Frame, want func(*hubClient) bool) {
	h.mu.Lock()
	targets := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		if want(c) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.send(c, f)
	}
}

func (h *hub) send(c *hubClient, f realtime.Frame) {
	if !c.trySend(f) {
		h.log.Warn("dropping hub frame", zap.String("player", c.player), zap.String("target", f.Target))
	}
}
