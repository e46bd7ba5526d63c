package config

import (
	"strings"
	"testing"
	"time"

	"github.com/deployra/dbrouter/internal/routing"
)

func TestParseStaticRoute(t *testing.T) {
	src := `
[routing:primary]
bind_address=0.0.0.0
bind_port=7001
destinations=127.0.0.1:13306,127.0.0.1:13307
mode=read-write
protocol=classic
max_connections=100
client_connect_timeout=5
destination_connect_timeout=2
`
	routes, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 1 {
		t.Fatalf("got %d routes, want 1", len(routes))
	}
	r := routes[0]
	if r.Name != "primary" || r.BindPort != 7001 || r.MaxConnections != 100 {
		t.Fatalf("got %+v", r)
	}
	if len(r.Destinations.Static) != 2 {
		t.Fatalf("got %d static destinations, want 2", len(r.Destinations.Static))
	}
	if r.ClientConnectTimeout != 5*time.Second {
		t.Fatalf("client_connect_timeout = %s", r.ClientConnectTimeout)
	}
	if r.Mode != routing.ReadWrite || r.Protocol != routing.Classic {
		t.Fatalf("mode/protocol mismatch: %+v", r)
	}
}

func TestParseMetadataCacheDestinations(t *testing.T) {
	src := `
[routing:ro]
bind_address=127.0.0.1
bind_port=7002
destinations=metadata-cache://rs1/default?role=SECONDARY&allow_primary_reads=yes
mode=read-only
protocol=classic
`
	routes, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	mc := routes[0].Destinations.MetadataCache
	if mc == nil {
		t.Fatal("expected a metadata-cache destination")
	}
	if mc.Replicaset != "rs1" {
		t.Fatalf("replicaset = %q, want rs1", mc.Replicaset)
	}
	if !mc.AllowPrimaryReads {
		t.Fatal("expected allow_primary_reads to be true")
	}
}

func TestParseRejectsMissingBindTarget(t *testing.T) {
	src := `
[routing:bad]
destinations=127.0.0.1:3306
mode=read-write
protocol=classic
`
	if _, err := Parse(strings.NewReader(src)); err == nil {
		t.Fatal("expected an error when neither bind_address nor socket is set")
	}
}

func TestParseRejectsEmptyDestinations(t *testing.T) {
	src := `
[routing:bad]
bind_address=127.0.0.1
bind_port=7001
mode=read-write
protocol=classic
`
	if _, err := Parse(strings.NewReader(src)); err == nil {
		t.Fatal("expected an error for empty destinations")
	}
}

func TestParseRejectsBadDestinationConnectTimeout(t *testing.T) {
	src := `
[routing:bad]
bind_address=127.0.0.1
bind_port=7001
destinations=127.0.0.1:3306
mode=read-write
protocol=classic
destination_connect_timeout=0.1
`
	if _, err := Parse(strings.NewReader(src)); err == nil {
		t.Fatal("expected an error for a destination_connect_timeout below 1s")
	}
}

func TestParseUseProxyProtocol(t *testing.T) {
	src := `
[routing:primary]
bind_address=127.0.0.1
bind_port=7001
destinations=127.0.0.1:3306
mode=read-write
protocol=classic
use_proxy_protocol=yes
`
	routes, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if !routes[0].UseProxyProtocol {
		t.Fatal("expected use_proxy_protocol=yes to parse as true")
	}
}

func TestParseUseProxyProtocolDefaultsFalse(t *testing.T) {
	src := `
[routing:primary]
bind_address=127.0.0.1
bind_port=7001
destinations=127.0.0.1:3306
mode=read-write
protocol=classic
`
	routes, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if routes[0].UseProxyProtocol {
		t.Fatal("expected use_proxy_protocol to default to false")
	}
}

func TestParseSkipsNonRoutingSections(t *testing.T) {
	src := `
[logger]
level=debug

[routing:primary]
bind_address=127.0.0.1
bind_port=7001
destinations=127.0.0.1:3306
mode=read-write
protocol=classic
`
	routes, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 1 {
		t.Fatalf("got %d routes, want 1", len(routes))
	}
}

func TestParseMultipleRoutes(t *testing.T) {
	src := `
[routing:a]
bind_address=127.0.0.1
bind_port=7001
destinations=127.0.0.1:3306
mode=read-write
protocol=classic

[routing:b]
bind_address=127.0.0.1
bind_port=7002
destinations=127.0.0.1:3307
mode=read-only
protocol=x
`
	routes, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}
	if routes[1].Protocol != routing.X {
		t.Fatalf("expected second route's protocol to be x, got %v", routes[1].Protocol)
	}
}
