// Package conn maintains exactly one logical connection to the match
// server across its physical interruptions: dial, token handshake,
// heartbeat liveness, reconnect with backoff, and queued outbound sends.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/leagueofsolvers/satclient/log"
	"github.com/leagueofsolvers/satclient/metrics"
	"github.com/leagueofsolvers/satclient/protocol"
	"github.com/leagueofsolvers/satclient/types"
)

// Default timings. All are configurable; these match the documented
// defaults in the sample config.
const (
	DefaultAuthTimeout       = 10 * time.Second
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultIdleThreshold     = 60 * time.Second
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffCap        = 60 * time.Second
	DefaultQueueLimit        = 64
)

// State is the connection lifecycle state.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dialer establishes the raw transport. The default dials TCP to
// Config.Addr; tests substitute net.Pipe ends.
type Dialer func(ctx context.Context) (net.Conn, error)

// Config configures a Manager.
type Config struct {
	// Addr is the server address (host:port). Ignored when Dialer is set.
	Addr string
	// Token is the competition credential sent in the handshake.
	Token string
	// AuthTimeout bounds the handshake round trip.
	AuthTimeout time.Duration
	// HeartbeatInterval is the outbound liveness period.
	HeartbeatInterval time.Duration
	// IdleThreshold forces a reconnect when no traffic at all (heartbeats
	// included) arrives for this long.
	IdleThreshold time.Duration
	// QueueLimit bounds the outbound queue.
	QueueLimit int
	// BackoffBase and BackoffCap shape the reconnect delay.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Dialer overrides transport establishment (tests).
	Dialer Dialer
	// Logger is required.
	Logger *log.Logger
	// Collector records connection counters, may be nil.
	Collector *metrics.Collector
}

// Manager owns the persistent connection. Inbound messages are delivered
// in arrival order on Inbound(); state transitions to Ready and
// Disconnected are announced on StateChanges(). Outbound messages are
// queued via Send and flushed while Ready.
type Manager struct {
	config Config
	queue  *sendQueue

	inbound chan protocol.Message
	states  chan State

	state        atomic.Int32
	lastActivity atomic.Int64
}

// NewManager validates the configuration and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Addr == "" && cfg.Dialer == nil {
		return nil, errors.New("server address is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("competition token is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = DefaultQueueLimit
	}
	if cfg.Dialer == nil {
		addr := cfg.Addr
		cfg.Dialer = func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}

	return &Manager{
		config:  cfg,
		queue:   newSendQueue(cfg.QueueLimit),
		inbound: make(chan protocol.Message, 64),
		states:  make(chan State, 32),
	}, nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Ready reports whether the connection is authenticated and flushing.
func (m *Manager) Ready() bool {
	return m.State() == StateReady
}

// Inbound delivers decoded server messages in arrival order. Heartbeats
// are consumed internally and never appear here.
func (m *Manager) Inbound() <-chan protocol.Message {
	return m.inbound
}

// StateChanges announces transitions to Ready and Disconnected. The
// session runner must drain this channel.
func (m *Manager) StateChanges() <-chan State {
	return m.states
}

// Send enqueues msg for transmission. Messages enqueued while not Ready
// are held until reconnection; queue overflow evicts the oldest
// non-critical message, never a pending result submission.
func (m *Manager) Send(msg protocol.Message) {
	if m.queue.push(msg) {
		m.config.Collector.IncMessageDropped()
		m.config.Logger.Warn("outbound queue overflow, dropped oldest non-critical message", map[string]any{
			"depth": m.queue.len(),
		})
	}
}

// QueueDepth returns the current outbound queue depth.
func (m *Manager) QueueDepth() int {
	return m.queue.len()
}

// Run drives the connection until ctx is canceled or authentication is
// rejected. All other failures reconnect with capped, jittered
// exponential backoff and an unbounded retry count; the delay resets to
// base on every successful handshake.
func (m *Manager) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.config.BackoffBase
	bo.MaxInterval = m.config.BackoffCap
	bo.MaxElapsedTime = 0

	for {
		err := m.runConnection(ctx, bo)

		if IsAuthError(err) {
			m.config.Logger.Error("authentication rejected, giving up", map[string]any{
				"error": err.Error(),
			})
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := bo.NextBackOff()
		m.config.Collector.IncReconnect()
		m.config.Logger.Warn("connection lost, reconnecting", map[string]any{
			"error": err.Error(),
			"delay": delay.String(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runConnection performs one dial-handshake-serve cycle and returns the
// error that ended it.
func (m *Manager) runConnection(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	m.setState(StateConnecting)

	c, err := m.config.Dialer(ctx)
	if err != nil {
		m.setState(StateDisconnected)
		return &TransportError{Op: "dial", Err: err}
	}
	defer func() { _ = c.Close() }()

	if err := m.handshake(c); err != nil {
		m.setState(StateDisconnected)
		m.announce(StateDisconnected)
		return err
	}

	// Full handshake success is the only point where backoff resets.
	bo.Reset()
	m.lastActivity.Store(time.Now().UnixNano())
	m.setState(StateReady)
	m.announce(StateReady)
	m.queue.kick()

	m.config.Logger.Info("connection ready", map[string]any{
		"queued": m.queue.len(),
	})

	stop := make(chan struct{})
	errCh := make(chan error, 3)
	go m.readLoop(c, stop, errCh)
	go m.writeLoop(c, stop, errCh)
	go m.keepalive(stop, errCh)

	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	close(stop)
	_ = c.Close()
	m.setState(StateDisconnected)
	m.announce(StateDisconnected)
	return err
}

// handshake authenticates within AuthTimeout.
func (m *Manager) handshake(c net.Conn) error {
	m.setState(StateAuthenticating)

	if err := c.SetDeadline(time.Now().Add(m.config.AuthTimeout)); err != nil {
		return &TransportError{Op: "deadline", Err: err}
	}

	w := protocol.NewFrameWriter(c)
	if err := w.WriteMessage(&protocol.Authenticate{
		Token:         m.config.Token,
		ClientVersion: types.Version,
	}); err != nil {
		return &TransportError{Op: "authenticate", Err: err}
	}

	r := protocol.NewFrameReader(c)
	msg, err := r.ReadMessage()
	if err != nil {
		return &TransportError{Op: "auth response", Err: err}
	}

	switch resp := msg.(type) {
	case *protocol.AuthAccepted:
		// Handshake done, clear the deadline for steady-state traffic.
		if err := c.SetDeadline(time.Time{}); err != nil {
			return &TransportError{Op: "deadline", Err: err}
		}
		return nil
	case *protocol.AuthRejected:
		return &AuthError{Reason: resp.Reason}
	default:
		return &TransportError{
			Op:  "auth response",
			Err: fmt.Errorf("unexpected %q message during handshake", msg.Kind()),
		}
	}
}

// readLoop decodes inbound frames and forwards them in arrival order.
func (m *Manager) readLoop(c net.Conn, stop <-chan struct{}, errCh chan<- error) {
	r := protocol.NewFrameReader(c)
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			var protoErr *protocol.ProtocolError
			if errors.As(err, &protoErr) {
				// Malformed wire data: log and reset the connection.
				m.config.Collector.IncProtocolError()
				m.config.Logger.Error("protocol error, resetting connection", map[string]any{
					"error":     protoErr.Error(),
					"raw_bytes": len(protoErr.Raw),
				})
			}
			select {
			case errCh <- &TransportError{Op: "read", Err: err}:
			case <-stop:
			}
			return
		}

		m.lastActivity.Store(time.Now().UnixNano())

		if _, ok := msg.(*protocol.Heartbeat); ok {
			m.config.Logger.Debug("heartbeat received", nil)
			continue
		}

		select {
		case m.inbound <- msg:
		case <-stop:
			return
		}
	}
}

// writeLoop flushes the outbound queue while the connection lives.
func (m *Manager) writeLoop(c net.Conn, stop <-chan struct{}, errCh chan<- error) {
	w := protocol.NewFrameWriter(c)
	for {
		select {
		case <-stop:
			return
		case <-m.queue.wake:
		}

		for {
			msg, ok := m.queue.pop()
			if !ok {
				break
			}
			if err := w.WriteMessage(msg); err != nil {
				// A failed critical write goes back to the head of the
				// queue so it is retransmitted first after reconnect.
				if critical(msg) {
					m.queue.requeueFront(msg)
				}
				select {
				case errCh <- &TransportError{Op: "write", Err: err}:
				case <-stop:
				}
				return
			}
		}
	}
}

// keepalive sends periodic heartbeats and forces a reconnect when the
// link has been silent past the idle threshold, even if the transport
// never reported an error.
func (m *Manager) keepalive(stop <-chan struct{}, errCh chan<- error) {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		idle := time.Since(time.Unix(0, m.lastActivity.Load()))
		if idle > m.config.IdleThreshold {
			m.config.Collector.IncHeartbeatDrop()
			select {
			case errCh <- &TransportError{
				Op:  "keepalive",
				Err: fmt.Errorf("no traffic for %s", idle.Round(time.Second)),
			}:
			case <-stop:
			}
			return
		}

		m.Send(&protocol.Heartbeat{})
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// announce notifies the session runner of Ready/Disconnected transitions.
func (m *Manager) announce(s State) {
	select {
	case m.states <- s:
	default:
		m.config.Logger.Warn("state change channel full, dropping notification", map[string]any{
			"state": s.String(),
		})
	}
}
