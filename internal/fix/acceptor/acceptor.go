// Package acceptor owns the TCP listener and the registry of live FIX
// sessions. It is grounded in the teacher's gRPC server idiom
// (internal/grpc/server/server.go) — a struct wrapping a net.Listener with
// Start/Stop and an options bag — generalized from grpc.Server.Serve to a
// raw accept loop that hands each connection off to its own session.Session,
// the way the WebSocket gateway (services/websocket/websocket_core.go)
// spawns one goroutine per accepted connection and tracks it in a
// mutex-guarded map.
package acceptor

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/fixsim/internal/fix/session"
)

// SessionFactory builds the per-connection Deps bundle. It is called once
// per accepted connection, so each Session receives its own Deps value;
// the collaborators inside it (engine, bus, store, write pool) are shared.
type SessionFactory func() session.Deps

// Deps bundles what the acceptor needs to stand up new sessions.
type Deps struct {
	Logger      *zap.Logger
	SessionDeps SessionFactory
	// IDFunc mints the session id handed to session.New for each accepted
	// connection; distinct from the order id minter in session.Deps.
	IDFunc func() string
}

// Acceptor listens for inbound FIX connections and tracks the sessions it
// has spawned so Stop can wait for them to drain.
type Acceptor struct {
	deps     Deps
	listener net.Listener

	mu       sync.Mutex
	sessions map[string]*session.Session
	wg       sync.WaitGroup
}

// New builds an Acceptor. Call Start to begin listening.
func New(deps Deps) *Acceptor {
	return &Acceptor{
		deps:     deps,
		sessions: make(map[string]*session.Session),
	}
}

// Start binds address and begins accepting connections in the background.
// It returns once the listener is bound; Accept errors after that point are
// logged, not returned, matching the fire-and-forget accept loop idiom.
func (a *Acceptor) Start(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	a.listener = listener

	a.deps.Logger.Info("fix acceptor listening", zap.String("address", address))

	go a.acceptLoop(ctx)
	return nil
}

func (a *Acceptor) acceptLoop(ctx context.Context) {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			a.deps.Logger.Warn("accept loop terminated", zap.Error(err))
			return
		}

		id := a.deps.IDFunc()
		sess := session.New(id, conn, a.deps.SessionDeps())

		a.mu.Lock()
		a.sessions[id] = sess
		a.mu.Unlock()

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer a.forget(id)
			sess.Run(ctx)
		}()
	}
}

func (a *Acceptor) forget(id string) {
	a.mu.Lock()
	delete(a.sessions, id)
	a.mu.Unlock()
}

// ActiveSessions reports how many connections are currently being served.
func (a *Acceptor) ActiveSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Stop closes the listener and waits for every in-flight session goroutine
// to return. It does not itself close individual connections; a Session's
// own Run loop exits once its net.Conn is closed, or once ctx is canceled
// and the loop next checks it between frames.
func (a *Acceptor) Stop() error {
	var err error
	if a.listener != nil {
		err = a.listener.Close()
	}
	a.wg.Wait()
	return err
}
