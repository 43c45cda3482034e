package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConnState is the lifecycle of the hub connection.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	ErrConnClosed   = errors.New("realtime: connection stopped")
	ErrNotConnected = errors.New("realtime: connection is not connected")
	ErrStartPending = errors.New("realtime: connection start already in progress")
)

// Socket is the slice of *websocket.Conn the connection needs. Tests swap in
// a scripted fake here.
type Socket interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// DialFunc opens a Socket against the hub target.
type DialFunc func(ctx context.Context, target string) (Socket, error)

// Dial is the production DialFunc.
func Dial(ctx context.Context, target string) (Socket, error) {
	c, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// EventHandler receives a pushed event's raw argument list.
type EventHandler func(args []json.RawMessage)

// Conn is one hub connection bound to one identity. It owns the read loop,
// routes result frames back to in-flight invocations, fans events out to
// registered handlers, and reconnects on its own when the transport drops.
type Conn struct {
	target   string
	identity string
	dial     DialFunc
	log      *zap.Logger

	wmu sync.Mutex // serializes socket writes

	mu          sync.Mutex
	state       ConnState
	sock        Socket
	closed      bool
	pending     map[string]chan Frame
	handlers    map[string]map[int]EventHandler
	reconnected map[int]func()
	nextID      int
}

func newConn(target, identity string, dial DialFunc, log *zap.Logger) *Conn {
	return &Conn{
		target:      target,
		identity:    identity,
		dial:        dial,
		log:         log,
		pending:     make(map[string]chan Frame),
		handlers:    make(map[string]map[int]EventHandler),
		reconnected: make(map[int]func()),
	}
}

// Identity returns the player name this connection was established for.
func (c *Conn) Identity() string { return c.identity }

func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start dials the hub and begins the read loop. The call resolves only once
// the underlying dial completes or fails. Only valid from Disconnected.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	switch c.state {
	case Connected:
		c.mu.Unlock()
		return nil
	case Connecting:
		c.mu.Unlock()
		return ErrStartPending
	}
	c.state = Connecting
	c.mu.Unlock()

	sock, err := c.dial(ctx, c.target)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if sock != nil {
			_ = sock.Close(websocket.StatusNormalClosure, "stopped during start")
		}
		return ErrConnClosed
	}
	if err != nil {
		c.state = Disconnected
		c.mu.Unlock()
		return err
	}
	c.sock = sock
	c.state = Connected
	c.mu.Unlock()

	go c.readLoop(sock)
	return nil
}

// Stop tears the connection down for good. All in-flight invocations fail
// with ErrConnClosed and the Conn cannot be started again.
func (c *Conn) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = Disconnected
	sock := c.sock
	c.sock = nil
	c.dropPendingLocked()
	c.mu.Unlock()

	if sock == nil {
		return nil
	}
	return sock.Close(websocket.StatusNormalClosure, "bye")
}

// Invoke sends a hub invocation and waits for its result frame. A non-empty
// error in the result surfaces verbatim as a *RemoteError.
func (c *Conn) Invoke(ctx context.Context, target string, args ...any) error {
	c.mu.Lock()
	if c.state != Connected || c.sock == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	sock := c.sock
	id := uuid.NewString()
	reply := make(chan Frame, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame, err := invokeFrame(id, target, args...)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	err = sock.Write(ctx, websocket.MessageText, payload)
	c.wmu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res, ok := <-reply:
		if !ok {
			return ErrConnClosed
		}
		if res.Error != "" {
			return &RemoteError{Target: target, Message: res.Error}
		}
		return nil
	}
}

// On registers a handler for a pushed event and returns its detach func.
// Handlers run on the read loop, in delivery order.
func (c *Conn) On(event string, fn EventHandler) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]EventHandler)
	}
	id := c.nextID
	c.nextID++
	c.handlers[event][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

// OnReconnected registers a hook fired after the read loop re-establishes a
// dropped transport. Sessions use it to re-run their join handshake, since
// the server forgets room membership when the socket goes away.
func (c *Conn) OnReconnected(fn func()) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.reconnected[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.reconnected, id)
	}
}

func (c *Conn) readLoop(sock Socket) {
	for {
		_, data, err := sock.Read(context.Background())
		if err != nil {
			sock = c.redial()
			if sock == nil {
				return
			}
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("bad hub frame", zap.Error(err))
			continue
		}
		c.dispatch(f)
	}
}

func (c *Conn) dispatch(f Frame) {
	switch f.Type {
	case FrameResult:
		c.mu.Lock()
		reply := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if reply != nil {
			reply <- f
		}
	case FrameEvent:
		c.mu.Lock()
		fns := make([]EventHandler, 0, len(c.handlers[f.Target]))
		for _, fn := range c.handlers[f.Target] {
			fns = append(fns, fn)
		}
		c.mu.Unlock()
		for _, fn := range fns {
			fn(f.Args)
		}
	}
}

// redial runs the automatic-reconnect loop after a transport drop. Returns
// the fresh socket, or nil once it gives up or the Conn was stopped. While
// retrying the state reads Connecting so nobody double-starts it.
func (c *Conn) redial() Socket {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.sock = nil
	c.dropPendingLocked()
	c.mu.Unlock()

	c.log.Info("hub connection lost, reconnecting", zap.String("identity", c.identity))

	backoff := 250 * time.Millisecond
	for attempt := 0; attempt < 8; attempt++ {
		time.Sleep(backoff)
		if backoff < 15*time.Second {
			backoff *= 2
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sock, err := c.dial(ctx, c.target)
		cancel()
		if err != nil {
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = sock.Close(websocket.StatusNormalClosure, "stopped during reconnect")
			return nil
		}
		c.sock = sock
		c.state = Connected
		hooks := make([]func(), 0, len(c.reconnected))
		for _, fn := range c.reconnected {
			hooks = append(hooks, fn)
		}
		c.mu.Unlock()

		c.log.Info("hub connection re-established", zap.String("identity", c.identity))
		// Off the read loop: hooks invoke the hub and need it reading replies.
		go func() {
			for _, fn := range hooks {
				fn()
			}
		}()
		return sock
	}

	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()
	c.log.Warn("gave up reconnecting", zap.String("identity", c.identity))
	return nil
}

// dropPendingLocked abandons every in-flight invocation; their reply frames
// can no longer arrive on this socket.
func (c *Conn) dropPendingLocked() {
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
}
