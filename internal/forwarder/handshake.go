package forwarder

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/deployra/dbrouter/internal/protocol/classic"
	"github.com/deployra/dbrouter/internal/protocol/xproto"
	"github.com/deployra/dbrouter/internal/routing"
)

// readEvent is one observation from a pump goroutine: either n>0 bytes read
// (possibly alongside a subsequent error on the very next read) or a
// terminal error with no data.
type readEvent struct {
	fromClient bool
	data       []byte
	err        error
}

// pump blocks reading conn in a loop, resetting a deadline before every
// read, and forwards what it sees to events. It exits when stop is closed
// or a read fails (including on timeout, which shows up as a net.Error).
//
// This single-goroutine-per-direction design stands in for poll(2): Go's
// net.Conn doesn't expose a portable way to multiplex readability across
// two arbitrary conns, so each direction gets its own blocking reader and a
// shared coordinator (the handshake loop below) serializes access to the
// protocol adapter, mirroring the C++ router's single shared handshake
// state threaded through both directions of copy_packets().
func (f *Forwarder) pump(conn net.Conn, fromClient bool, events chan<- readEvent, stop <-chan struct{}, deadline time.Duration) {
	buf := f.pool.Get()
	defer f.pool.Put(buf)

	for {
		conn.SetReadDeadline(time.Now().Add(deadline))
		n, err := conn.Read(*buf)
		if n > 0 {
			data := append([]byte(nil), (*buf)[:n]...)
			select {
			case events <- readEvent{fromClient: fromClient, data: data}:
			case <-stop:
				return
			}
		}
		if err != nil {
			select {
			case events <- readEvent{fromClient: fromClient, err: err}:
			case <-stop:
			}
			return
		}
		select {
		case <-stop:
			return
		default:
		}
	}
}

// handshake runs the handshake-aware relay for client/server, returning
// done=true once the adapter has observed a complete handshake (in which
// case the caller moves on to the steady-state shuttle), or an error
// wrapping ErrProtocolViolation on any read/write failure, deadline
// expiry, or adapter-rejected message.
func (f *Forwarder) handshake(client, server net.Conn) (done bool, err error) {
	if f.Protocol == routing.X {
		return f.handshakeXProto(client, server)
	}
	return f.handshakeClassic(client, server)
}

func (f *Forwarder) startPumps(client, server net.Conn) (events chan readEvent, stop func()) {
	ch := make(chan readEvent)
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); f.pump(client, true, ch, stopCh, f.ClientConnectTimeout) }()
	go func() { defer wg.Done(); f.pump(server, false, ch, stopCh, f.ClientConnectTimeout) }()

	return ch, func() {
		close(stopCh)
		// An already-expired deadline wakes any pump still blocked in Read.
		client.SetReadDeadline(time.Now())
		server.SetReadDeadline(time.Now())
		wg.Wait()
		client.SetReadDeadline(time.Time{})
		server.SetReadDeadline(time.Time{})
	}
}

func (f *Forwarder) handshakeClassic(client, server net.Conn) (bool, error) {
	events, stop := f.startPumps(client, server)
	defer stop()

	adapter := classic.NewAdapter()
	var clientCur, serverCur classic.Cursor

	for ev := range events {
		if ev.err != nil {
			return false, fmt.Errorf("%w: %v", ErrProtocolViolation, ev.err)
		}

		cur := &serverCur
		side := classic.FromServer
		dst := client
		if ev.fromClient {
			cur = &clientCur
			side = classic.FromClient
			dst = server
		}

		dst.SetWriteDeadline(time.Now().Add(f.ClientConnectTimeout))
		if _, werr := dst.Write(ev.data); werr != nil {
			return false, fmt.Errorf("%w: %v", ErrProtocolViolation, werr)
		}

		packets, perr := cur.Feed(ev.data, f.NetBufferLength)
		if perr != nil {
			return false, fmt.Errorf("%w: %v", ErrProtocolViolation, perr)
		}
		for _, p := range packets {
			if aerr := adapter.Feed(side, p.Payload, p.SeqID); aerr != nil {
				return false, fmt.Errorf("%w: %v", ErrProtocolViolation, aerr)
			}
		}
		if adapter.Done() {
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: connection closed before handshake completed", ErrProtocolViolation)
}

func (f *Forwarder) handshakeXProto(client, server net.Conn) (bool, error) {
	events, stop := f.startPumps(client, server)
	defer stop()

	adapter := xproto.NewAdapter()

	for ev := range events {
		if ev.err != nil {
			return false, fmt.Errorf("%w: %v", ErrProtocolViolation, ev.err)
		}

		side := xproto.FromServer
		dst := client
		if ev.fromClient {
			side = xproto.FromClient
			dst = server
		}

		if aerr := adapter.Feed(side, ev.data); aerr != nil {
			return false, fmt.Errorf("%w: %v", ErrProtocolViolation, aerr)
		}

		dst.SetWriteDeadline(time.Now().Add(f.ClientConnectTimeout))
		if _, werr := dst.Write(ev.data); werr != nil {
			return false, fmt.Errorf("%w: %v", ErrProtocolViolation, werr)
		}

		if adapter.Done() {
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: connection closed before handshake completed", ErrProtocolViolation)
}
