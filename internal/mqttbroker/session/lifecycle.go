package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/meta/model"
)

// State is a connection's position in the lifecycle table spec.md §4.1
// "Connection lifecycle" describes.
type State int

const (
	StateAccepted State = iota
	StateAwaitingConnect
	StateAuthenticating
	StateEstablished
	StateClosing
	StateClosed
)

// CloseReason names why a connection is moving to Closing, mirroring
// the "Triggering event" column of spec.md's lifecycle table.
type CloseReason int

const (
	CloseDisconnect CloseReason = iota
	CloseKeepAliveMiss
	CloseAdminKick
	CloseReplacedBySameClientID
	CloseIOError
)

// Connection is one live MQTT connection's lifecycle state.
type Connection struct {
	ID            uint64
	ClientID      string
	State         State
	LastActive    time.Time
	KeepAlive     time.Duration // wall-clock timeout = 1.5 * client's declared keep-alive
	SessionExpiry uint32
	SendWill      bool // false only for v5 DISCONNECT reason 0x04 "normal w/o will"
}

// KeepAliveTimeout is spec.md's "start keep-alive timer (1.5x
// keep_alive)".
func KeepAliveTimeout(keepAlive time.Duration) time.Duration {
	return keepAlive + keepAlive/2
}

// SessionStore is the session persistence surface the lifecycle manager
// needs from the meta service (spec.md §4.1 Established/Closing rows).
type SessionStore interface {
	Get(ctx context.Context, clusterName, clientID string) (*model.Session, bool, error)
	Create(ctx context.Context, s model.Session) error
	Update(ctx context.Context, s model.Session) error
	Delete(ctx context.Context, clusterName, clientID string) error
}

// Kicker force-disconnects a live connection, used when a new CONNECT
// arrives for a client_id that already has a live connection (spec.md:
// "duplicate live ID for the same cluster forces disconnect of the
// older session with reason 'session taken over'").
type Kicker interface {
	Kick(connectionID uint64, reason string)
}

// Manager tracks live connections per client_id and drives the
// lifecycle transitions (spec.md §4.1 "Connection lifecycle",
// "Client-ID validation"). Each live connection gets one Session
// bundling its lifecycle record with the per-connection runtime state
// (packet-id allocator, flow-control gates, topic aliases) nothing else
// may share (spec.md §4.1: connection state is exclusively owned by the
// broker holding the socket, never replicated).
type Manager struct {
	clusterName string
	brokerID    uint64
	store       SessionStore
	kicker      Kicker

	mu    sync.Mutex
	conns map[string]*Session // client_id -> live connection
}

func NewManager(clusterName string, brokerID uint64, store SessionStore, kicker Kicker) *Manager {
	return &Manager{clusterName: clusterName, brokerID: brokerID, store: store, kicker: kicker, conns: make(map[string]*Session)}
}

// GenerateClientID produces a broker-assigned client id for a CONNECT
// that supplied an empty one (spec.md: "If client supplies empty ID,
// broker generates one").
func GenerateClientID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "auto-" + hex.EncodeToString(buf)
}

// Connect validates client_id presence/uniqueness, kicks any existing
// live connection for the same client_id, and resumes or creates the
// session record (spec.md §3 Session invariant: "at most one live
// connection per client_id"). receiveMax is this broker's configured
// inbound receive maximum; clientReceiveMax is the value the client
// declared in its CONNECT, bounding outbound deliveries to it (spec.md
// §4.1 "Flow control").
func (m *Manager) Connect(ctx context.Context, connID uint64, clientID string, cleanSession bool, keepAlive time.Duration, sessionExpiry uint32, receiveMax int32, clientReceiveMax int) (*Session, *model.Session, error) {
	if clientID == "" {
		clientID = GenerateClientID()
	}

	m.mu.Lock()
	if existing, ok := m.conns[clientID]; ok {
		m.kicker.Kick(existing.Conn.ID, "session taken over")
		delete(m.conns, clientID)
	}
	conn := &Connection{
		ID: connID, ClientID: clientID, State: StateAuthenticating,
		LastActive: time.Now(), KeepAlive: KeepAliveTimeout(keepAlive),
		SessionExpiry: sessionExpiry, SendWill: true,
	}
	runtime := NewSession(conn, receiveMax, clientReceiveMax)
	m.conns[clientID] = runtime
	m.mu.Unlock()

	sess, found, err := m.store.Get(ctx, m.clusterName, clientID)
	if err != nil {
		return nil, nil, err
	}

	brokerID := &m.brokerID
	connIDCopy := connID
	if found && !cleanSession {
		sess.ConnectionID = &connIDCopy
		sess.BrokerID = brokerID
		sess.LastUpdateTime = time.Now()
		if err := m.store.Update(ctx, *sess); err != nil {
			return nil, nil, err
		}
	} else {
		sess = &model.Session{
			ClusterName: m.clusterName, ClientID: clientID,
			ConnectionID: &connIDCopy, BrokerID: brokerID,
			SessionExpiry: sessionExpiry, CreateTime: time.Now(), LastUpdateTime: time.Now(),
		}
		if err := m.store.Create(ctx, *sess); err != nil {
			return nil, nil, err
		}
	}

	conn.State = StateEstablished
	return runtime, sess, nil
}

// Get returns the runtime Session for a live connection, used by the
// connection-handling loop to reach packet-id allocation, flow control
// and topic aliases once a connection is established.
func (m *Manager) Get(clientID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.conns[clientID]
	return s, ok
}

// Touch records packet activity, matching the Established row's "update
// last_active; decrement keep-alive timer".
func (m *Manager) Touch(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if runtime, ok := m.conns[clientID]; ok {
		runtime.Conn.LastActive = time.Now()
	}
}

// Close runs the Closing row's side effects. If SessionExpiry>0 it
// persists the session with its connection cleared and, when a will
// applies, records the will on it with ReadyAt = now + lastWillDelay for
// the meta-service last-will controller to fire. Otherwise it deletes the
// session and no will is recorded. Close itself publishes nothing.
func (m *Manager) Close(ctx context.Context, clientID string, reason CloseReason, lastWill *model.LastWill, lastWillDelay *uint32) error {
	m.mu.Lock()
	runtime, ok := m.conns[clientID]
	if ok {
		runtime.Conn.State = StateClosing
		delete(m.conns, clientID)
	}
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.NotFound, "no live connection for client_id")
	}
	conn := runtime.Conn

	sess, found, err := m.store.Get(ctx, m.clusterName, clientID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if conn.SessionExpiry == 0 {
		return m.store.Delete(ctx, m.clusterName, clientID)
	}

	sess.ConnectionID = nil
	sess.BrokerID = nil
	sess.LastUpdateTime = time.Now()
	if conn.SendWill && lastWill != nil {
		ready := time.Now()
		if lastWillDelay != nil {
			ready = ready.Add(time.Duration(*lastWillDelay) * time.Second)
		}
		willCopy := *lastWill
		willCopy.ReadyAt = ready
		sess.LastWill = &willCopy
	}
	return m.store.Update(ctx, *sess)
}
