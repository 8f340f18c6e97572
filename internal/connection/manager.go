// Package connection holds the long-lived streaming link to a voice
// device: dialing, heartbeat liveness, inbound message dispatch, and
// automatic reconnection after unclean closes.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"voicebridge/internal/config"
	"voicebridge/internal/device"
	"voicebridge/internal/event"
	"voicebridge/internal/protocol"
)

// ErrNotConnected is returned by the send operations whenever the
// manager is not in the connected state.
var ErrNotConnected = errors.New("not connected")

// ReconnectFailedPayload is the reconnect_failed event payload.
type ReconnectFailedPayload struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Attempts int    `json:"attempts"`
}

// Status is a point-in-time snapshot of the manager for the API.
type Status struct {
	State            string    `json:"state"`
	Host             string    `json:"host,omitempty"`
	Port             int       `json:"port,omitempty"`
	ReconnectAttempt int       `json:"reconnect_attempt,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	LastTraffic      time.Time `json:"last_traffic,omitempty"`
}

// Manager owns at most one streaming connection at a time. All state
// transitions go through one mutex; goroutines belonging to an old
// transport carry a generation number and no-op once it is stale.
type Manager struct {
	cfg    *config.Config
	bus    *event.Bus
	dialer Dialer

	mu          sync.Mutex
	state       State
	conn        Conn
	gen         int
	host        string
	port        int
	lastErr     error
	attempt     int
	intentional bool
	lastSeen    time.Time
	stopHB      chan struct{}
	cancelRetry chan struct{}

	// writeMu serializes frame writes; the transport is not safe for
	// concurrent writers.
	writeMu sync.Mutex
}

// NewManager builds a manager over the real websocket transport.
func NewManager(cfg *config.Config, bus *event.Bus) *Manager {
	return NewManagerWithDialer(cfg, bus, wsDialer{})
}

// NewManagerWithDialer is NewManager with the transport swapped out.
func NewManagerWithDialer(cfg *config.Config, bus *event.Bus, dialer Dialer) *Manager {
	return &Manager{
		cfg:    cfg,
		bus:    bus,
		dialer: dialer,
		state:  StateDisconnected,
	}
}

// Connect binds the manager to host:port and blocks until the stream
// is open or the attempt fails. It returns whether the connection was
// established; on false the failure is available via LastError. An
// existing connection to any target is torn down first.
func (m *Manager) Connect(ctx context.Context, host string, port int) bool {
	m.mu.Lock()
	busy := m.state != StateDisconnected
	m.mu.Unlock()
	if busy {
		m.Disconnect()
	}

	m.mu.Lock()
	m.intentional = false
	m.host = host
	m.port = port
	m.attempt = 0
	m.setStateLocked(StateConnecting, "connect requested")
	m.mu.Unlock()

	if m.dial(ctx) {
		return true
	}

	m.mu.Lock()
	if m.state == StateConnecting {
		m.setStateLocked(StateDisconnected, "connect failed")
	}
	m.mu.Unlock()
	return false
}

// ConnectDevice is Connect aimed at a discovered device record.
func (m *Manager) ConnectDevice(ctx context.Context, d device.Device) bool {
	return m.Connect(ctx, d.Address, d.Port)
}

// Disconnect tears the connection down deliberately. It is idempotent;
// calling it while already disconnected does nothing and emits no
// events. A deliberate disconnect never triggers reconnection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDisconnected {
		return
	}

	m.intentional = true
	if m.cancelRetry != nil {
		close(m.cancelRetry)
		m.cancelRetry = nil
	}

	m.setStateLocked(StateDisconnecting, "disconnect requested")
	m.teardownLocked()
	m.setStateLocked(StateDisconnected, "disconnect complete")
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent transport failure, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Status snapshots the manager for status reporting.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		State:            m.state.String(),
		Host:             m.host,
		Port:             m.port,
		ReconnectAttempt: m.attempt,
		LastTraffic:      m.lastSeen,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Send transmits an already-encoded message frame.
func (m *Manager) Send(data []byte) error {
	return m.writeFrame(TextFrame, data)
}

// SendMessage encodes and transmits a protocol message.
func (m *Manager) SendMessage(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return m.writeFrame(TextFrame, data)
}

// SendAudio transmits one opaque audio chunk as a binary frame.
func (m *Manager) SendAudio(chunk []byte) error {
	return m.writeFrame(BinaryFrame, chunk)
}

func (m *Manager) writeFrame(frameType int, data []byte) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteFrame(frameType, data)
}

// dial opens the transport to the bound target and, on success, moves
// to connected and starts the read and heartbeat loops. The generation
// snapshot taken before dialing guards the install: any teardown while
// the dial was in flight bumps the generation, so a superseded dial
// closes its transport instead of installing it.
func (m *Manager) dial(ctx context.Context) bool {
	m.mu.Lock()
	url := fmt.Sprintf("ws://%s:%d%s", m.host, m.port, m.cfg.Service.StreamPath)
	startGen := m.gen
	m.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, m.cfg.Connection.ConnectTimeout.Duration())
	defer cancel()

	conn, err := m.dialer.Dial(dctx, url)
	if err != nil {
		m.mu.Lock()
		if m.gen == startGen && !m.intentional {
			m.lastErr = err
		}
		m.mu.Unlock()
		log.Printf("connection: dial %s failed: %v", url, err)
		return false
	}

	m.mu.Lock()
	if m.intentional || m.gen != startGen {
		// A disconnect or a newer connect superseded this dial.
		m.mu.Unlock()
		conn.Close()
		return false
	}

	m.conn = conn
	m.gen++
	gen := m.gen
	m.attempt = 0
	m.lastErr = nil
	m.lastSeen = time.Now()
	m.stopHB = make(chan struct{})
	stop := m.stopHB
	m.setStateLocked(StateConnected, "transport open")
	m.mu.Unlock()

	go m.readLoop(conn, gen)
	go m.heartbeatLoop(gen, stop)
	return true
}

// readLoop pulls frames off one transport until it dies. Any inbound
// frame, whatever its content, counts as proof of life.
func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		frameType, data, err := conn.ReadFrame()
		if err != nil {
			m.handleClose(gen, err)
			return
		}

		m.touch(gen)

		if frameType != TextFrame {
			// Binary from the device carries no envelope; liveness only.
			continue
		}
		m.dispatch(data)
	}
}

// dispatch decodes one inbound text frame and routes it by type.
// Undecodable and unknown-type frames are logged and dropped without
// disturbing the connection.
func (m *Manager) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Printf("connection: dropping undecodable frame: %v", err)
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		pong, err := protocol.NewMessage(protocol.TypePong, nil)
		if err == nil {
			err = m.SendMessage(pong)
		}
		if err != nil {
			log.Printf("connection: pong reply failed: %v", err)
		}

	case protocol.TypePong:
		// Liveness already recorded in the read loop.

	case protocol.TypeRecognitionResult:
		result, err := protocol.DecodeRecognitionResult(msg)
		if err != nil {
			log.Printf("connection: dropping malformed recognition result: %v", err)
			return
		}
		m.bus.Publish(event.Event{Type: event.EventRecognitionResult, Payload: result})

	case protocol.TypeError:
		m.bus.Publish(event.Event{
			Type:    event.EventConnectionError,
			Payload: protocol.DecodeError(msg),
		})

	default:
		log.Printf("connection: dropping unknown message type %q", msg.Type)
	}
}

// touch records inbound traffic as liveness for the current transport.
func (m *Manager) touch(gen int) {
	m.mu.Lock()
	if gen == m.gen {
		m.lastSeen = time.Now()
	}
	m.mu.Unlock()
}

// handleClose reacts to a transport read failure. Clean closes settle
// in disconnected; anything else starts reconnection.
func (m *Manager) handleClose(gen int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		// A newer transport (or a deliberate teardown) superseded this
		// one; nothing to do.
		return
	}
	if m.intentional {
		// Disconnect drives the state transitions itself.
		return
	}
	if m.state != StateConnected {
		return
	}

	if errors.Is(err, ErrCleanClose) {
		log.Printf("connection: peer closed the stream")
		m.teardownLocked()
		m.setStateLocked(StateDisconnected, "peer closed")
		return
	}

	m.lastErr = err
	log.Printf("connection: stream lost: %v", err)
	m.teardownLocked()
	m.startReconnectLocked("unclean close")
}

// heartbeatLoop sends periodic pings on one transport and declares the
// peer dead when nothing at all has arrived for DeadFactor intervals.
func (m *Manager) heartbeatLoop(gen int, stop chan struct{}) {
	interval := m.cfg.Connection.HeartbeatInterval.Duration()
	deadAfter := time.Duration(m.cfg.Connection.DeadFactor) * interval

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if gen != m.gen || m.state != StateConnected {
			m.mu.Unlock()
			return
		}
		silent := time.Since(m.lastSeen)
		if silent > deadAfter {
			log.Printf("connection: no traffic for %v, treating peer as dead", silent.Round(time.Millisecond))
			m.teardownLocked()
			m.startReconnectLocked("heartbeat timeout")
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		ping, err := protocol.NewMessage(protocol.TypePing, nil)
		if err == nil {
			err = m.SendMessage(ping)
		}
		if err != nil && !errors.Is(err, ErrNotConnected) {
			log.Printf("connection: heartbeat send failed: %v", err)
		}
	}
}

// teardownLocked closes the live transport, stops its heartbeat and
// invalidates its goroutines. Callers hold m.mu.
func (m *Manager) teardownLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.stopHB != nil {
		close(m.stopHB)
		m.stopHB = nil
	}
	m.gen++
}

// startReconnectLocked moves to reconnecting and launches the retry
// loop. Callers hold m.mu.
func (m *Manager) startReconnectLocked(reason string) {
	m.setStateLocked(StateReconnecting, reason)
	m.cancelRetry = make(chan struct{})
	go m.reconnectLoop(m.cancelRetry)
}

// reconnectLoop retries the bound target with a fixed delay between
// attempts, up to the configured maximum. Exhaustion settles the
// manager in disconnected and emits a terminal reconnect_failed event.
func (m *Manager) reconnectLoop(cancel chan struct{}) {
	max := m.cfg.Connection.MaxReconnectAttempts
	delay := m.cfg.Connection.ReconnectDelay.Duration()

	for attempt := 1; attempt <= max; attempt++ {
		select {
		case <-cancel:
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.attempt = attempt
		m.mu.Unlock()

		log.Printf("connection: reconnect attempt %d/%d", attempt, max)
		if m.dial(context.Background()) {
			return
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReconnecting {
		return
	}
	m.setStateLocked(StateDisconnected, "reconnect attempts exhausted")
	m.bus.Publish(event.Event{
		Type: event.EventReconnectFailed,
		Payload: ReconnectFailedPayload{
			Host:     m.host,
			Port:     m.port,
			Attempts: max,
		},
	})
}

// setStateLocked performs one state transition, logging it and
// publishing a state_changed event. Callers hold m.mu. Publishing
// under the lock is safe: the bus never blocks.
func (m *Manager) setStateLocked(to State, reason string) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	log.Printf("connection: %s -> %s (%s)", from, to, reason)
	m.bus.Publish(event.Event{
		Type: event.EventStateChanged,
		Payload: StateChange{
			From:   from.String(),
			To:     to.String(),
			Reason: reason,
		},
	})
}
