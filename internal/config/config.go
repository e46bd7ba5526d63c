// Package config parses the INI-style [routing:NAME] configuration sections
// this router is driven by and validates them into the values internal/routing
// consumes. mysql-router's own configuration grammar is INI; nothing in the
// retrieved example corpus ships an INI or TOML parsing library, so this one
// concern is hand-rolled against the standard library — see DESIGN.md.
package config

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/deployra/dbrouter/internal/netio"
	"github.com/deployra/dbrouter/internal/routing"
)

var sectionHeader = regexp.MustCompile(`^\[routing:([A-Za-z0-9_.-]+)\]$`)

// Destinations is either a static endpoint list or a metadata-cache
// reference, mirroring the two forms the `destinations` key accepts.
type Destinations struct {
	Static         []netio.Endpoint
	MetadataCache  *MetadataCacheRef
}

// MetadataCacheRef is the parsed form of a
// metadata-cache://REPLICASET/default?role=...&allow_primary_reads=yes URI.
type MetadataCacheRef struct {
	Replicaset        string
	AllowPrimaryReads bool
}

// Route is one validated [routing:NAME] section.
type Route struct {
	Name                     string
	BindAddress              string
	BindPort                 uint16
	SocketPath               string
	Destinations             Destinations
	Mode                     routing.AccessMode
	Protocol                 routing.Protocol
	MaxConnections           int
	MaxConnectErrors         uint64
	ClientConnectTimeout     time.Duration
	DestinationConnectTimeout time.Duration
	NetBufferLength          int
	UseProxyProtocol         bool
}

// Parse reads every [routing:NAME] section out of r and validates it.
func Parse(r io.Reader) ([]Route, error) {
	raw, err := parseSections(r)
	if err != nil {
		return nil, err
	}

	routes := make([]Route, 0, len(raw))
	for _, sec := range raw {
		route, err := validate(sec)
		if err != nil {
			return nil, fmt.Errorf("config: section [routing:%s]: %w", sec.name, err)
		}
		routes = append(routes, route)
	}
	return routes, nil
}

type section struct {
	name   string
	values map[string]string
}

func parseSections(r io.Reader) ([]section, error) {
	scanner := bufio.NewScanner(r)
	var sections []section
	var current *section
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			m := sectionHeader.FindStringSubmatch(line)
			if m == nil {
				// A non-routing section (e.g. [DEFAULT], [logger]); skip its
				// body without attempting to parse keys from it.
				sections = append(sections, section{name: "", values: nil})
				current = &sections[len(sections)-1]
				continue
			}
			sections = append(sections, section{name: m[1], values: make(map[string]string)})
			current = &sections[len(sections)-1]
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("config: line %d: key outside of any section", lineNo)
		}
		if current.values == nil {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("config: line %d: expected key=value", lineNo)
		}
		current.values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	out := sections[:0]
	for _, s := range sections {
		if s.name != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func validate(sec section) (Route, error) {
	route := Route{
		Name:                     sec.name,
		MaxConnections:           routing.DefaultMaxConnections,
		MaxConnectErrors:         routing.DefaultMaxConnectErrors,
		ClientConnectTimeout:     routing.DefaultClientConnectTimeoutSec * time.Second,
		DestinationConnectTimeout: routing.DefaultDestConnectTimeoutSec * time.Second,
		NetBufferLength:          routing.DefaultNetBufferLength,
	}

	route.BindAddress = sec.values["bind_address"]
	route.SocketPath = sec.values["socket"]

	if v, ok := sec.values["bind_port"]; ok {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return Route{}, fmt.Errorf("bind_port must be between 1 and 65535, got %q", v)
		}
		route.BindPort = uint16(port)
	}

	if route.BindAddress == "" && route.SocketPath == "" {
		return Route{}, fmt.Errorf("at least one of bind_address or socket must be set")
	}

	mode, err := routing.ParseAccessMode(sec.values["mode"])
	if err != nil {
		return Route{}, err
	}
	route.Mode = mode

	protocol, err := routing.ParseProtocol(sec.values["protocol"])
	if err != nil {
		return Route{}, err
	}
	route.Protocol = protocol

	dests, err := parseDestinations(sec.values["destinations"])
	if err != nil {
		return Route{}, err
	}
	route.Destinations = dests
	if dests.MetadataCache == nil && len(dests.Static) == 0 {
		return Route{}, fmt.Errorf("destinations must be non-empty for the static strategy")
	}

	if v, ok := sec.values["max_connections"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Route{}, fmt.Errorf("max_connections must be >= 1, got %q", v)
		}
		route.MaxConnections = n
	}

	if v, ok := sec.values["max_connect_errors"]; ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Route{}, fmt.Errorf("max_connect_errors must be a non-negative integer, got %q", v)
		}
		route.MaxConnectErrors = n
	}

	if v, ok := sec.values["client_connect_timeout"]; ok {
		d, err := parseSeconds(v)
		if err != nil {
			return Route{}, fmt.Errorf("client_connect_timeout: %w", err)
		}
		route.ClientConnectTimeout = d
	}

	if v, ok := sec.values["destination_connect_timeout"]; ok {
		d, err := parseSeconds(v)
		if err != nil {
			return Route{}, fmt.Errorf("destination_connect_timeout: %w", err)
		}
		if d < time.Second {
			return Route{}, fmt.Errorf("destination_connect_timeout must be >= 1s, got %s", d)
		}
		route.DestinationConnectTimeout = d
	}

	if v, ok := sec.values["net_buffer_length"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Route{}, fmt.Errorf("net_buffer_length must be >= 1, got %q", v)
		}
		route.NetBufferLength = n
	}

	route.UseProxyProtocol = sec.values["use_proxy_protocol"] == "yes"

	return route, nil
}

func parseSeconds(v string) (time.Duration, error) {
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("expected a number of seconds, got %q", v)
	}
	return time.Duration(n * float64(time.Second)), nil
}

func parseDestinations(v string) (Destinations, error) {
	if v == "" {
		return Destinations{}, nil
	}

	if strings.HasPrefix(v, "metadata-cache://") {
		u, err := url.Parse(v)
		if err != nil {
			return Destinations{}, fmt.Errorf("invalid metadata-cache URI %q: %w", v, err)
		}
		replicaset := strings.Trim(u.Host, "/")
		if replicaset == "" {
			return Destinations{}, fmt.Errorf("metadata-cache URI %q is missing a replicaset name", v)
		}
		q := u.Query()
		return Destinations{MetadataCache: &MetadataCacheRef{
			Replicaset:        replicaset,
			AllowPrimaryReads: q.Get("allow_primary_reads") == "yes",
		}}, nil
	}

	var eps []netio.Endpoint
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, portStr, err := splitHostPort(part)
		if err != nil {
			return Destinations{}, fmt.Errorf("invalid destination %q: %w", part, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return Destinations{}, fmt.Errorf("invalid destination port in %q", part)
		}
		eps = append(eps, netio.Endpoint{Host: host, Port: uint16(port)})
	}
	return Destinations{Static: eps}, nil
}

func splitHostPort(s string) (host, port string, err error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("expected host:port")
	}
	return s[:idx], s[idx+1:], nil
}
