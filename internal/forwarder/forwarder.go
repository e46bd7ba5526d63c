// Package forwarder implements the per-connection state machine: select a
// backend, perform the handshake-aware byte relay that lets C2/C3 observe
// enough of the conversation to know when the handshake has completed, then
// fall back to a plain bidirectional byte shuttle for the rest of the
// session.
//
// Grounded on the teacher's handleConnection/completeHandshake
// (proxies/mysql/pkg/proxy/server.go), generalized from "always forward a
// captured client auth packet" to the spec's full handshake-adapter
// tracking, plus original_source/src/routing/src/classic_protocol.cc and
// x_protocol.cc for exactly when "handshake done" fires.
package forwarder

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/deployra/dbrouter/internal/destination"
	"github.com/deployra/dbrouter/internal/hostguard"
	"github.com/deployra/dbrouter/internal/netio"
	"github.com/deployra/dbrouter/internal/protocol/classic"
	"github.com/deployra/dbrouter/internal/protocol/xproto"
	"github.com/deployra/dbrouter/internal/routing"
)

// ErrProtocolViolation marks a handshake abandoned because of a malformed
// or disallowed message, the client host having gone idle past the
// handshake deadline, or the underlying connection erroring before the
// handshake completed.
var ErrProtocolViolation = errors.New("forwarder: handshake protocol violation")

type noopMetrics struct{}

func (noopMetrics) AddBytesUp(int64)   {}
func (noopMetrics) AddBytesDown(int64) {}

// Forwarder drives one routing instance's connection handling policy. It is
// safe for concurrent use: one Forwarder is shared by every connection a
// routing instance accepts.
type Forwarder struct {
	Protocol                  routing.Protocol
	Selector                  destination.Selector
	Hosts                     *hostguard.Tracker
	Facade                    netio.Facade
	NetBufferLength           int
	ClientConnectTimeout      time.Duration
	DestinationConnectTimeout time.Duration
	Logger                    hclog.Logger

	pool *BufferPool
}

// New builds a Forwarder, allocating its buffer pool from NetBufferLength.
func New(f Forwarder) *Forwarder {
	f.pool = NewBufferPool(f.NetBufferLength)
	if f.Logger == nil {
		f.Logger = hclog.NewNullLogger()
	}
	return &f
}

// Handle runs the full per-connection lifecycle for one accepted client
// socket: host-block check, backend selection, handshake-aware relay, then
// a plain byte shuttle. It always closes client before returning.
func (f *Forwarder) Handle(ctx context.Context, client net.Conn, clientAddr string, modeHint routing.AccessMode, metrics routing.ConnMetrics) {
	defer client.Close()
	if metrics == nil {
		metrics = noopMetrics{}
	}

	if f.Hosts.IsBlocked(clientAddr) {
		f.sendClientError(client, codeHostBlocked, hostBlockedMessage(clientAddr))
		return
	}

	server, backend, err := f.selectAndConnect(ctx, modeHint)
	if err != nil {
		f.sendClientError(client, codeCantConnect, cantConnectMessage())
		return
	}
	defer server.Close()

	done, handshakeErr := f.handshake(client, server)
	if handshakeErr != nil {
		f.Selector.ReportConnectResult(backend, destination.ConnectOK) // handshake failure is not a connect failure
		if crossed := f.Hosts.RecordHandshakeFailure(clientAddr); crossed {
			f.Logger.Warn("blocking client host after repeated handshake failures", "host", clientAddr)
			f.disposeBackend(server)
		}
		return
	}
	if !done {
		return
	}

	f.shuttle(client, server, metrics)
}

func (f *Forwarder) selectAndConnect(ctx context.Context, modeHint routing.AccessMode) (net.Conn, netio.Endpoint, error) {
	attempts := f.maxSelectionAttempts()
	for i := 0; i < attempts; i++ {
		backend, err := f.Selector.GetNextBackend(modeHint)
		if err != nil {
			return nil, netio.Endpoint{}, err
		}

		conn, err := f.Facade.Connect(ctx, backend, time.Now().Add(f.DestinationConnectTimeout))
		if err != nil {
			outcome := destination.ConnectUnreachable
			if errors.Is(err, netio.ErrTimedOut) {
				outcome = destination.ConnectTimedOut
			}
			f.Selector.ReportConnectResult(backend, outcome)
			continue
		}
		f.Selector.ReportConnectResult(backend, destination.ConnectOK)
		return conn, backend, nil
	}
	return nil, netio.Endpoint{}, destination.ErrExhaustedTemporarily
}

// maxSelectionAttempts caps the backend-selection retry loop. The spec ties
// this to "the size of the destination list at time of entry"; lacking a
// direct way to ask a Selector its length (the metadata-cache strategy's
// length varies snapshot to snapshot), a fixed generous cap serves the same
// anti-infinite-loop purpose.
func (f *Forwarder) maxSelectionAttempts() int {
	return 8
}

func (f *Forwarder) sendClientError(client net.Conn, code int, message string) {
	var packet []byte
	switch f.Protocol {
	case routing.X:
		packet = xproto.BuildError(uint32(code), "HY000", message)
	default:
		packet = classic.BuildError(uint16(code), "HY000", message)
	}
	client.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, _ = client.Write(packet)
}

// disposeBackend sends a backend a syntactically valid but bogus handshake
// continuation so it records the session as an authentication failure
// rather than an abruptly aborted connection — see
// classic.BuildFakeHandshakeResponse and xproto.BuildCapabilitiesGet.
func (f *Forwarder) disposeBackend(server net.Conn) {
	var packet []byte
	switch f.Protocol {
	case routing.X:
		packet = xproto.BuildCapabilitiesGet()
	default:
		packet = classic.BuildFakeHandshakeResponse()
	}
	server.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, _ = server.Write(packet)
	server.Close()
}

// shuttle runs the steady-state bidirectional byte relay until either side
// closes or errors, propagating a half-close and draining the other
// direction, matching the teacher's io.CopyBuffer-based relay
// (proxies/mysql/pkg/proxy/server.go's handleConnection).
func (f *Forwarder) shuttle(client, server net.Conn, metrics routing.ConnMetrics) {
	errCh := make(chan error, 2)

	go func() {
		buf := f.pool.Get()
		defer f.pool.Put(buf)
		n, err := io.CopyBuffer(server, client, *buf)
		metrics.AddBytesUp(n)
		if tc, ok := server.(interface{ CloseWrite() error }); ok {
			tc.CloseWrite()
		}
		errCh <- err
	}()

	go func() {
		buf := f.pool.Get()
		defer f.pool.Put(buf)
		n, err := io.CopyBuffer(client, server, *buf)
		metrics.AddBytesDown(n)
		if tc, ok := client.(interface{ CloseWrite() error }); ok {
			tc.CloseWrite()
		}
		errCh <- err
	}()

	if err := <-errCh; err == nil {
		// Clean EOF on one direction: the half-close has been propagated,
		// so let the other direction drain before closing both sockets.
		<-errCh
		client.Close()
		server.Close()
		return
	}
	client.Close()
	server.Close()
	<-errCh
}
