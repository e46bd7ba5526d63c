// Command dbrouter is the MySQL classic/X-protocol connection router: it
// reads a set of [routing:NAME] sections from an INI-style config file and
// runs one listening, admission-controlled routing.Instance per section
// until told to stop.
//
// Grounded on the teacher's proxies/postgresql/main.go: flag-parsed config
// path, a cancelable root context driven by SIGINT/SIGTERM, and a single
// blocking run call.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/deployra/dbrouter/internal/config"
	"github.com/deployra/dbrouter/internal/destination"
	"github.com/deployra/dbrouter/internal/forwarder"
	"github.com/deployra/dbrouter/internal/hostguard"
	"github.com/deployra/dbrouter/internal/kube"
	"github.com/deployra/dbrouter/internal/netio"
	"github.com/deployra/dbrouter/internal/registry"
	"github.com/deployra/dbrouter/internal/routing"
)

func main() {
	configPath := flag.String("config", "", "path to the routing config file (required)")
	kubeconfig := flag.String("kubeconfig", "", "path to a kubeconfig file; empty tries in-cluster config, then ~/.kube/config")
	kubeNamespace := flag.String("kube-namespace", "", "namespace to watch for metadata-cache member pods; empty watches all namespaces the service account can list")
	logLevel := flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "dbrouter",
		Level: hclog.LevelFromString(*logLevel),
	})

	if *configPath == "" {
		logger.Error("missing required -config flag")
		os.Exit(2)
	}

	if err := run(*configPath, *kubeconfig, *kubeNamespace, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(configPath, kubeconfig, kubeNamespace string, logger hclog.Logger) error {
	f, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	routes, err := config.Parse(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if len(routes) == 0 {
		return fmt.Errorf("config %s defines no [routing:NAME] sections", configPath)
	}

	facade := netio.NewFacade()

	var metaCache *kube.Cache
	for _, route := range routes {
		if route.Destinations.MetadataCache != nil {
			metaCache, err = kube.New(kubeconfig, kubeNamespace, logger)
			if err != nil {
				return fmt.Errorf("building metadata-cache collaborator: %w", err)
			}
			metaCache.Start()
			break
		}
	}
	if metaCache != nil {
		defer metaCache.Stop()
	}

	instances := make([]*routing.Instance, 0, len(routes))
	var selectors []destination.Selector
	for _, route := range routes {
		selector, err := buildSelector(route, facade, metaCache)
		if err != nil {
			return fmt.Errorf("route %q: %w", route.Name, err)
		}
		selectors = append(selectors, selector)

		hosts := hostguard.New(route.MaxConnectErrors)

		fw := forwarder.New(forwarder.Forwarder{
			Protocol:                  route.Protocol,
			Selector:                  selector,
			Hosts:                     hosts,
			Facade:                    facade,
			NetBufferLength:           route.NetBufferLength,
			ClientConnectTimeout:      route.ClientConnectTimeout,
			DestinationConnectTimeout: route.DestinationConnectTimeout,
			Logger:                    logger.Named(route.Name),
		})

		instances = append(instances, &routing.Instance{
			Name:                 route.Name,
			BindAddress:          route.BindAddress,
			BindPort:             route.BindPort,
			SocketPath:           route.SocketPath,
			AccessMode:           route.Mode,
			Protocol:             route.Protocol,
			MaxConnections:       int64(route.MaxConnections),
			ClientConnectTimeout: route.ClientConnectTimeout,
			UseProxyProtocol:     route.UseProxyProtocol,
			Hosts:                hosts,
			Handler:              fw,
			Logger:               logger.Named(route.Name),
		})
	}
	defer func() {
		for _, s := range selectors {
			s.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("received termination signal, shutting down")
		cancel()
	}()

	reg, err := registry.StartAll(ctx, instances, facade.ListenTCP, facade.ListenUnix)
	if err != nil {
		return fmt.Errorf("starting routes: %w", err)
	}

	for _, route := range routes {
		logger.Info("routing instance started", "name", route.Name, "bind_address", route.BindAddress, "bind_port", route.BindPort, "socket", route.SocketPath, "mode", route.Mode, "protocol", route.Protocol)
	}

	publishBlockedHostsVar(reg)

	<-ctx.Done()
	reg.StopAll()
	return nil
}

// buildSelector constructs the destination.Selector a route's forwarder
// uses, from either a static endpoint list or a metadata-cache reference.
// metaCache is nil only when no route in the config needs one; buildSelector
// is never called with a MetadataCache destination in that case, since run
// constructs metaCache up front whenever any route requires it.
func buildSelector(route config.Route, facade netio.Facade, metaCache *kube.Cache) (destination.Selector, error) {
	switch {
	case route.Destinations.MetadataCache != nil:
		ref := route.Destinations.MetadataCache
		return destination.NewMetadataCacheSelector(metaCache, ref.Replicaset, ref.AllowPrimaryReads), nil
	case len(route.Destinations.Static) > 0:
		return destination.NewStaticSelector(facade, route.Destinations.Static), nil
	default:
		return nil, fmt.Errorf("no destinations configured")
	}
}
