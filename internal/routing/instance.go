package routing

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pires/go-proxyproto"
	"golang.org/x/sync/semaphore"

	"github.com/deployra/dbrouter/internal/hostguard"
)

// shutdownJoinDeadline bounds how long Stop waits for in-flight workers to
// exit before giving up and logging a warning about stragglers.
const shutdownJoinDeadline = 5 * time.Second

// Handler is the per-connection entry point an Instance hands accepted
// sockets to. *forwarder.Forwarder satisfies this; the interface lives here
// rather than being referenced from internal/forwarder directly so that
// package can depend on this one (for AccessMode, Protocol, ConnMetrics)
// without a cycle.
type Handler interface {
	Handle(ctx context.Context, client net.Conn, clientAddr string, modeHint AccessMode, metrics ConnMetrics)
}

// Instance is one configured [routing:NAME] listener: it owns the
// listening socket(s), the accept loop, admission control, and orderly
// shutdown. Backend selection and the handshake-aware relay are delegated
// to a Handler (in practice, a *forwarder.Forwarder).
//
// Grounded on the teacher's Server (proxies/mysql/pkg/proxy/server.go):
// Start/acceptConnections' semaphore-gated accept loop and
// connections-WaitGroup-bounded graceful shutdown are the same shape,
// generalized from one hardcoded listener to N independently configured
// named instances (see internal/registry).
type Instance struct {
	Name                 string
	BindAddress          string
	BindPort             uint16
	SocketPath           string
	AccessMode           AccessMode
	Protocol             Protocol
	MaxConnections       int64
	ClientConnectTimeout time.Duration
	UseProxyProtocol     bool

	Hosts   *hostguard.Tracker
	Handler Handler
	Logger  hclog.Logger

	listeners        []net.Listener
	sem              *semaphore.Weighted
	activeConns      atomic.Int64
	connections      sync.WaitGroup
	stopAccepting    chan struct{}
	acceptLoopsDone  sync.WaitGroup
}

// Start binds every configured listener (TCP and/or unix) and begins
// accepting connections in background goroutines. It returns once binding
// has either fully succeeded or failed; on partial failure, any listener
// already bound is closed before the error is returned (see registry.go
// for the analogous cross-instance unwind).
func (in *Instance) Start(ctx context.Context, bindTCP func(addr string, port uint16) (net.Listener, error), bindUnix func(path string) (net.Listener, error)) error {
	in.sem = semaphore.NewWeighted(in.MaxConnections)
	in.stopAccepting = make(chan struct{})

	if in.BindAddress != "" {
		ln, err := bindTCP(in.BindAddress, in.BindPort)
		if err != nil {
			return err
		}
		in.listeners = append(in.listeners, in.wrapProxyProto(ln))
	}

	if in.SocketPath != "" {
		ln, err := bindUnix(in.SocketPath)
		if err != nil {
			in.closeListeners()
			return err
		}
		in.listeners = append(in.listeners, ln)
	}

	for _, ln := range in.listeners {
		in.acceptLoopsDone.Add(1)
		go in.acceptLoop(ctx, ln)
	}
	return nil
}

func (in *Instance) wrapProxyProto(ln net.Listener) net.Listener {
	if !in.UseProxyProtocol {
		return ln
	}
	return &proxyproto.Listener{Listener: ln}
}

func (in *Instance) closeListeners() {
	for _, ln := range in.listeners {
		ln.Close()
	}
	in.listeners = nil
}

func (in *Instance) acceptLoop(ctx context.Context, ln net.Listener) {
	defer in.acceptLoopsDone.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-in.stopAccepting:
				return
			default:
				in.Logger.Error("accept failed", "instance", in.Name, "error", err)
				continue
			}
		}

		if !in.sem.TryAcquire(1) {
			in.activeConns.Add(1)
			in.connections.Add(1)
			go func() {
				defer in.connections.Done()
				defer in.activeConns.Add(-1)
				sendTooManyConnections(conn, in.Protocol)
			}()
			continue
		}

		in.activeConns.Add(1)
		in.connections.Add(1)
		go func() {
			defer in.connections.Done()
			defer in.sem.Release(1)
			defer in.activeConns.Add(-1)
			in.Handler.Handle(ctx, conn, conn.RemoteAddr().String(), in.AccessMode, nil)
		}()
	}
}

// ActiveConnections returns the current number of in-flight connections.
func (in *Instance) ActiveConnections() int64 {
	return in.activeConns.Load()
}

// Stop closes the listening sockets (causing Accept to return) and waits
// up to shutdownJoinDeadline for in-flight connection workers to finish;
// stragglers are logged and left to exit on their own as the process
// continues shutting down.
func (in *Instance) Stop() {
	close(in.stopAccepting)
	in.closeListeners()
	in.acceptLoopsDone.Wait()

	done := make(chan struct{})
	go func() {
		in.connections.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownJoinDeadline):
		in.Logger.Warn("shutdown join deadline reached; some connections may still be open", "instance", in.Name)
	}
}
