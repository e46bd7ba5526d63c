package registry

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/deployra/dbrouter/internal/routing"
)

type noopHandler struct{}

func (noopHandler) Handle(context.Context, net.Conn, string, routing.AccessMode, routing.ConnMetrics) {
}

func bindTCP(string, uint16) (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}

func failingBindTCP(string, uint16) (net.Listener, error) {
	return nil, errors.New("bind: address in use")
}

func TestStartAllSucceeds(t *testing.T) {
	instances := []*routing.Instance{
		{Name: "a", BindAddress: "127.0.0.1", MaxConnections: 1, Handler: noopHandler{}, Logger: hclog.NewNullLogger()},
		{Name: "b", BindAddress: "127.0.0.1", MaxConnections: 1, Handler: noopHandler{}, Logger: hclog.NewNullLogger()},
	}

	reg, err := StartAll(context.Background(), instances, bindTCP, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.StopAll()

	if len(reg.Instances()) != 2 {
		t.Fatalf("got %d instances, want 2", len(reg.Instances()))
	}
}

func TestStartAllUnwindsOnPartialFailure(t *testing.T) {
	calls := 0
	bind := func(addr string, port uint16) (net.Listener, error) {
		calls++
		if calls == 2 {
			return failingBindTCP(addr, port)
		}
		return bindTCP(addr, port)
	}

	instances := []*routing.Instance{
		{Name: "a", BindAddress: "127.0.0.1", MaxConnections: 1, Handler: noopHandler{}, Logger: hclog.NewNullLogger()},
		{Name: "b", BindAddress: "127.0.0.1", MaxConnections: 1, Handler: noopHandler{}, Logger: hclog.NewNullLogger()},
	}

	_, err := StartAll(context.Background(), instances, bind, nil)
	if err == nil {
		t.Fatal("expected an error from the second instance's failed bind")
	}
}
