// Package session implements the per-connection FIX state machine: logon,
// heartbeat, order routing and logout, exactly the table spec'd for a
// single peer. It is grounded in the teacher's WebSocket connection
// handler idiom (services/websocket/websocket_core.go) — a per-connection
// struct holding mutex-guarded activity timestamps and a read loop that
// dispatches by message kind — generalized from a JSON/WebSocket frame to
// a decoded FIX codec.Message, and from a gorilla/websocket conn to a raw
// net.Conn wrapped in a codec.FrameSplitter.
package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/abdoElHodaky/fixsim/internal/eventbus"
	"github.com/abdoElHodaky/fixsim/internal/fix/codec"
	"github.com/abdoElHodaky/fixsim/internal/matching"
	"github.com/abdoElHodaky/fixsim/internal/matching/validate"
	"github.com/abdoElHodaky/fixsim/internal/persistence"
	"github.com/abdoElHodaky/fixsim/pkg/tradserr"
)

// State is a node in the session state machine of spec §4.5.
type State int

const (
	StateDisconnected State = iota
	StateAwaitingLogon
	StateLoggedIn
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateAwaitingLogon:
		return "AwaitingLogon"
	case StateLoggedIn:
		return "LoggedIn"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Deps bundles the collaborators a Session routes decoded messages to.
type Deps struct {
	Engine    *matching.Engine
	Validator *validate.Validator
	Bus       *eventbus.Bus
	Store     persistence.Port
	Logger    *zap.Logger
	WritePool *ants.Pool

	// OrderIDFunc mints the server-assigned, k-sortable order id handed
	// out on every accepted NewOrderSingle.
	OrderIDFunc func() string

	// Registry routes a crossed counterparty's fill back to the session
	// that owns it. Shared across every Session the acceptor creates; may
	// be nil in tests that only exercise a single order's own replies.
	Registry *OrderDirectory

	// CancelOnDisconnect, when true, cancels every order this session has
	// resting once the connection drops instead of leaving it to rest.
	// Default false per spec §9(b).
	CancelOnDisconnect bool

	// WriteTimeout bounds how long a single outbound frame write may
	// block before the session treats the peer as gone.
	WriteTimeout time.Duration
}

// Session owns one accepted connection end to end: read loop, state,
// sequence numbers and the per-session ClOrdID→OrderID index. Orders
// themselves are never retained here once accepted — only identifiers —
// so cancel flows always dereference through the engine's book.
type Session struct {
	ID string

	mu                sync.Mutex
	state             State
	conn              net.Conn
	splitter          *codec.FrameSplitter
	senderID          string
	targetID          string
	incomingSeq       uint64
	outgoingSeq       uint64
	heartbeatInterval time.Duration
	lastActivity      time.Time

	heartbeatTimer *time.Timer
	deadTimer      *time.Timer

	ordersBySymbol map[string]string // ClOrdID -> OrderID, keyed loosely for cancel lookup
	orderSymbol    map[string]string // OrderID -> Symbol

	deps Deps
}

// New wraps conn in a Session ready to Run. The session starts
// Disconnected and transitions to AwaitingLogon the instant Run begins.
func New(id string, conn net.Conn, deps Deps) *Session {
	if deps.WriteTimeout == 0 {
		deps.WriteTimeout = 5 * time.Second
	}
	return &Session{
		ID:             id,
		state:          StateDisconnected,
		conn:           conn,
		splitter:       codec.NewFrameSplitter(conn),
		lastActivity:   time.Now(),
		ordersBySymbol: make(map[string]string),
		orderSymbol:    make(map[string]string),
		deps:           deps,
	}
}

// State returns the session's current state machine node.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the session until the connection closes or ctx is canceled.
// ctx is checked between frames only; a read already blocked waiting for
// the next frame returns when the connection closes.
// It never returns an error for protocol-level problems — those are
// reported to the peer and the loop continues, per spec's propagation
// policy that ProtocolError/ValidationError never escape a session.
func (s *Session) Run(ctx context.Context) {
	s.mu.Lock()
	s.state = StateAwaitingLogon
	s.mu.Unlock()

	defer s.close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := s.splitter.Next()
		if err != nil {
			s.logf(zap.WarnLevel, "read loop terminated", zap.Error(err))
			return
		}

		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		s.resetDeadTimer()

		msg, derr := codec.Decode(raw)
		if derr != nil {
			s.handleDecodeError(derr)
			continue
		}
		s.dispatch(ctx, msg)
	}
}

func (s *Session) handleDecodeError(err error) {
	s.logf(zap.DebugLevel, "decode error", zap.Error(err))
	if tradserr.Is(err, tradserr.ErrChecksumMismatch) {
		// Scenario 8: checksum failures are silently dropped, not replied to.
		return
	}
	s.sendSessionReject("malformed message")
}

func (s *Session) dispatch(ctx context.Context, msg *codec.Message) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if gap := s.checkSequence(msg); gap {
		s.sendSessionReject("sequence gap")
		return
	}

	switch state {
	case StateAwaitingLogon:
		s.handleAwaitingLogon(ctx, msg)
	case StateLoggedIn:
		s.handleLoggedIn(ctx, msg)
	default:
		// Closing/Disconnected: ignore further traffic.
	}
}

// checkSequence enforces monotonic incoming sequence numbers. A gap is
// reported, never resend-repaired, per spec §4.5.
func (s *Session) checkSequence(msg *codec.Message) bool {
	raw, ok := msg.Get(codec.TagMsgSeqNum)
	if !ok {
		return false
	}
	seq, err := parseUint(raw)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	expected := s.incomingSeq + 1
	if s.incomingSeq != 0 && seq != expected {
		return true
	}
	s.incomingSeq = seq
	return false
}

func (s *Session) close() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()

	if s.heartbeatTimer != nil {
		s.heartbeatTimer.Stop()
	}
	if s.deadTimer != nil {
		s.deadTimer.Stop()
	}
	s.conn.Close()

	if s.deps.Validator != nil {
		s.deps.Validator.Forget(s.ID)
	}

	if s.deps.CancelOnDisconnect {
		s.cancelAllResting(context.Background())
	}
}

func (s *Session) cancelAllResting(ctx context.Context) {
	s.mu.Lock()
	toCancel := make(map[string]string, len(s.orderSymbol))
	for orderID, symbol := range s.orderSymbol {
		toCancel[orderID] = symbol
	}
	s.mu.Unlock()

	for orderID, symbol := range toCancel {
		if _, err := s.deps.Engine.Cancel(ctx, symbol, orderID); err != nil {
			s.logf(zap.DebugLevel, "cancel-on-disconnect failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}
}

// resetDeadTimer arms the peer-silence watchdog: if nothing is received
// within 2x the heartbeat interval, the session is considered dead.
func (s *Session) resetDeadTimer() {
	s.mu.Lock()
	interval := s.heartbeatInterval
	s.mu.Unlock()
	if interval == 0 {
		return
	}

	if s.deadTimer != nil {
		s.deadTimer.Stop()
	}
	s.deadTimer = time.AfterFunc(2*interval, func() {
		s.logf(zap.WarnLevel, "peer silent past 2x heartbeat interval, closing")
		s.conn.Close()
	})
}

// armHeartbeatTimer sends an unsolicited Heartbeat if nothing has been
// sent within heartbeat_interval seconds.
func (s *Session) armHeartbeatTimer() {
	s.mu.Lock()
	interval := s.heartbeatInterval
	s.mu.Unlock()
	if interval == 0 {
		return
	}

	if s.heartbeatTimer != nil {
		s.heartbeatTimer.Stop()
	}
	s.heartbeatTimer = time.AfterFunc(interval, func() {
		s.sendHeartbeat()
		s.armHeartbeatTimer()
	})
}

func (s *Session) logf(level zapcore.Level, msg string, fields ...zap.Field) {
	if s.deps.Logger == nil {
		return
	}
	fields = append(fields, zap.String("session_id", s.ID))
	switch level {
	case zap.DebugLevel:
		s.deps.Logger.Debug(msg, fields...)
	case zap.WarnLevel:
		s.deps.Logger.Warn(msg, fields...)
	default:
		s.deps.Logger.Info(msg, fields...)
	}
}

func parseUint(s string) (uint64, error) {
	var n uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, tradserr.New(tradserr.ErrMalformedFrame, "non-numeric sequence number")
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
}
