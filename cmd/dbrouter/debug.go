package main

import (
	"expvar"

	"github.com/deployra/dbrouter/internal/registry"
)

// publishBlockedHostsVar publishes each routing instance's blocked-host list
// and active connection count as the expvar variable dbrouter_instances,
// the standard library's own introspection convention — nothing in the
// source corpus runs an admin HTTP endpoint, so there's no existing pattern
// to imitate here. expvar serves it under /debug/vars on
// http.DefaultServeMux; this command starts no HTTP server of its own.
func publishBlockedHostsVar(reg *registry.Registry) {
	expvar.Publish("dbrouter_instances", expvar.Func(func() interface{} {
		snapshot := make(map[string]instanceVars, len(reg.Instances()))
		for _, in := range reg.Instances() {
			snapshot[in.Name] = instanceVars{
				ActiveConnections: in.ActiveConnections(),
				BlockedHosts:      in.Hosts.BlockedHosts(),
			}
		}
		return snapshot
	}))
}

type instanceVars struct {
	ActiveConnections int64    `json:"active_connections"`
	BlockedHosts      []string `json:"blocked_hosts"`
}
