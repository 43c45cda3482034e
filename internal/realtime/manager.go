package realtime

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Manager owns the process-wide hub connection. At most one non-stopped Conn
// exists at a time; everyone else borrows it. Acquiring under a new identity
// tears the old connection down first, and all concurrent acquires funnel
// through a single singleflight key so no two dials ever overlap.
type Manager struct {
	hubURL string
	dial   DialFunc
	log    *zap.Logger

	sf singleflight.Group

	mu       sync.Mutex
	conn     *Conn
	identity string
}

func NewManager(hubURL string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{hubURL: hubURL, dial: Dial, log: log}
}

// NewManagerWithDial exists so tests can substitute a fake socket factory.
func NewManagerWithDial(hubURL string, dial DialFunc, log *zap.Logger) *Manager {
	m := NewManager(hubURL, log)
	m.dial = dial
	return m
}

// Acquire returns a started Conn bound to identity, reusing the current one
// when identities match. Every dial goes through one singleflight key: only
// one handle may exist per process, so dials under different identities must
// contend on the same flight, and the flight stops whatever handle is
// installed before dialing its own.
func (m *Manager) Acquire(ctx context.Context, identity string) (*Conn, error) {
	for {
		m.mu.Lock()
		if m.conn != nil && m.identity == identity {
			conn := m.conn
			m.mu.Unlock()
			return conn, nil
		}
		m.mu.Unlock()

		v, err, _ := m.sf.Do("acquire", func() (any, error) {
			// A caller that raced past the check above may land here after
			// an earlier flight already installed its connection.
			m.mu.Lock()
			if m.conn != nil && m.identity == identity {
				conn := m.conn
				m.mu.Unlock()
				return conn, nil
			}
			old := m.conn
			m.conn = nil
			m.identity = ""
			m.mu.Unlock()

			// Await full stop before dialing as someone else.
			if old != nil {
				if err := old.Stop(ctx); err != nil {
					m.log.Warn("stopping previous hub connection", zap.Error(err))
				}
			}

			conn := newConn(hubTarget(m.hubURL, identity), identity, m.dial, m.log)
			if err := conn.Start(ctx); err != nil {
				return nil, err
			}

			m.mu.Lock()
			m.conn = conn
			m.identity = identity
			m.mu.Unlock()
			return conn, nil
		})
		if err != nil {
			return nil, err
		}
		if conn := v.(*Conn); conn.Identity() == identity {
			return conn, nil
		}
		// Shared a flight that dialed for somebody else; take our own turn.
	}
}

// EnsureReady restarts a fully disconnected Conn. Transitional states are
// left alone; the caller's fail-fast check in Invoke covers them.
func (m *Manager) EnsureReady(ctx context.Context, conn *Conn) error {
	if conn == nil {
		return ErrNotConnected
	}
	if conn.State() == Disconnected {
		return conn.Start(ctx)
	}
	return nil
}

// Invoke is acquire + ensure-ready + the hub call, failing fast when the
// connection never reached Connected.
func (m *Manager) Invoke(ctx context.Context, identity, target string, args ...any) error {
	conn, err := m.Acquire(ctx, identity)
	if err != nil {
		return err
	}
	if err := m.EnsureReady(ctx, conn); err != nil {
		return err
	}
	if conn.State() != Connected {
		return ErrNotConnected
	}
	return conn.Invoke(ctx, target, args...)
}

// Release stops the current connection if there is one. State is cleared
// unconditionally so a failed stop never wedges a later Acquire.
func (m *Manager) Release(ctx context.Context) {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.identity = ""
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Stop(ctx); err != nil {
			m.log.Warn("stopping hub connection", zap.Error(err))
		}
	}
}

// hubTarget appends the identity query parameter to the hub address.
func hubTarget(hubURL, identity string) string {
	if identity == "" {
		return hubURL
	}
	sep := "?"
	if strings.Contains(hubURL, "?") {
		sep = "&"
	}
	return hubURL + sep + "player=" + url.QueryEscape(identity)
}
