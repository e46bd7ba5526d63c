// Package netio is the single seam through which the router touches the
// operating system's socket primitives, so the rest of the router can be
// unit tested against a fake. See Facade.
package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Error taxonomy. Connect returns one of these (wrapped with context via
// fmt.Errorf's %w) or nil; ListenTCP and ListenUnix wrap the underlying OS
// error instead. The facade never retries.
var (
	ErrTimedOut      = errors.New("netio: timed out")
	ErrWouldBlock    = errors.New("netio: would block")
	ErrClosed        = errors.New("netio: connection closed")
	ErrRefused       = errors.New("netio: connection refused")
	ErrUnreachable   = errors.New("netio: host unreachable")
	ErrNameResolution = errors.New("netio: name resolution failed")
)

// Endpoint is a stable reference to a backend: either host:port or a unix
// socket path.
type Endpoint struct {
	Host       string
	Port       uint16
	SocketPath string
}

// Network returns the net.Dial network for this endpoint.
func (e Endpoint) Network() string {
	if e.SocketPath != "" {
		return "unix"
	}
	return "tcp"
}

// Address returns the net.Dial address for this endpoint.
func (e Endpoint) Address() string {
	if e.SocketPath != "" {
		return e.SocketPath
	}
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

func (e Endpoint) String() string {
	return e.Address()
}

// Facade is the set of socket operations the rest of the router needs;
// NewFacade returns the real (non-mock) implementation. Tests substitute their own fake implementation
// of this same interface by construction (see e.g. fakeFacade in
// internal/destination's tests), never via a package-global singleton.
type Facade interface {
	// Connect resolves and dials endpoint, giving up at deadline. IPv4 and
	// IPv6 candidates are tried in resolver order (net.Dialer's default
	// behavior). On timeout the partially-opened socket is always closed
	// before returning, so the caller never leaks an fd on ErrTimedOut.
	Connect(ctx context.Context, endpoint Endpoint, deadline time.Time) (net.Conn, error)

	// ListenTCP binds bindAddr:port with the operating system's default
	// backlog.
	ListenTCP(bindAddr string, port uint16) (net.Listener, error)

	// ListenUnix binds a unix socket at path. The stale socket file is
	// removed first only if nothing else is currently listening on it, and
	// the resulting socket is chmod'd 0777 to match mysqld's own local
	// socket permissions — every local user may connect to it; that is
	// intentional parity, not a bug (see SPEC_FULL.md).
	ListenUnix(path string) (net.Listener, error)
}

type facade struct {
	dialer net.Dialer
}

// NewFacade returns the production Facade backed by the real network stack.
func NewFacade() Facade {
	return &facade{}
}

func (f *facade) Connect(ctx context.Context, endpoint Endpoint, deadline time.Time) (net.Conn, error) {
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := f.dialer.DialContext(dialCtx, endpoint.Network(), endpoint.Address())
	if err == nil {
		return conn, nil
	}

	switch {
	case errors.Is(dialCtx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: connecting to %s", ErrTimedOut, endpoint)
	case isRefused(err):
		return nil, fmt.Errorf("%w: %s: %v", ErrRefused, endpoint, err)
	case isNoSuchHost(err):
		return nil, fmt.Errorf("%w: %s: %v", ErrNameResolution, endpoint, err)
	default:
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, endpoint, err)
	}
}

func (f *facade) ListenTCP(bindAddr string, port uint16) (net.Listener, error) {
	addr := net.JoinHostPort(bindAddr, fmt.Sprintf("%d", port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netio: listen %s: %w", addr, err)
	}
	return ln, nil
}

func (f *facade) ListenUnix(path string) (net.Listener, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, fmt.Errorf("netio: removing stale socket %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("netio: listen unix %s: %w", path, err)
	}

	// World-accessible, matching mysqld's own local socket. Deliberate.
	if err := os.Chmod(path, 0o777); err != nil {
		ln.Close()
		return nil, fmt.Errorf("netio: chmod %s: %w", path, err)
	}
	return ln, nil
}

// removeStaleSocket removes a leftover socket file at path only if nothing
// is currently listening on it — dialing it first tells us which case we're
// in without racing a concurrent owner.
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socket %s is already in use by another listener", path)
	}

	return os.Remove(path)
}
