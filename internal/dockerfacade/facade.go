// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dockerfacade provides a typed, read-only view over a Docker
// daemon: listing running containers, listing networks, and subscribing
// to the lifecycle event stream. It is the sole point of contact with
// Docker; nothing else in the controller imports the Docker SDK.
package dockerfacade

import (
	"context"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	dfwerrors "dfw.sh/dfw/internal/errors"
	"dfw.sh/dfw/internal/logging"
)

// NetworkAttachment is one container's membership in one Docker network.
type NetworkAttachment struct {
	NetworkName string
	IPv4        string // empty if the container has no v4 endpoint on this network
	IPv6        string // empty if the container has no v6 endpoint on this network
	Aliases     []string
}

// ContainerSnapshot is one running container at snapshot time.
type ContainerSnapshot struct {
	ID       string
	Name     string // human name, unique within Docker, leading "/" stripped
	Networks []NetworkAttachment
	Labels   map[string]string
}

// NetworkSnapshot is one Docker network at snapshot time.
type NetworkSnapshot struct {
	Name        string
	ID          string
	BridgeIface string // host-visible interface name, e.g. "docker0", "br-3f2a91"
	IPAMSubnets []string
}

// EventKind enumerates the lifecycle events the Reconciler cares about.
type EventKind string

const (
	EventContainerStart    EventKind = "start"
	EventContainerDie      EventKind = "die"
	EventContainerDestroy  EventKind = "destroy"
	EventNetworkConnect    EventKind = "network_connect"
	EventNetworkDisconnect EventKind = "network_disconnect"
)

// Event is a single Docker lifecycle event relevant to reconciliation.
type Event struct {
	Kind EventKind
}

// Facade is the read-only view over a Docker daemon consumed by the
// Resolver and Reconciler.
type Facade interface {
	// Snapshot returns the currently running containers and all networks,
	// regardless of whether any container is attached to them.
	Snapshot(ctx context.Context) ([]ContainerSnapshot, []NetworkSnapshot, error)
	// Events streams lifecycle events until ctx is canceled. The returned
	// channel is closed when the subscription ends (canceled or errored).
	Events(ctx context.Context) (<-chan Event, <-chan error)
	Close() error
}

// dockerFacade implements Facade against a real Docker daemon via the
// official SDK.
type dockerFacade struct {
	cli    *client.Client
	logger *logging.Logger
}

// New connects to the Docker daemon at the given host (empty string for
// the default, platform-specific socket).
func New(host string, logger *logging.Logger) (Facade, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, dfwerrors.Wrap(err, dfwerrors.KindDockerUnavailable, "connect to docker daemon")
	}
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &dockerFacade{cli: cli, logger: logger.WithComponent("dockerfacade")}, nil
}

// NewWithClient wraps an already-constructed SDK client (used by tests
// with a fake transport, or a host process that already holds one open).
func NewWithClient(cli *client.Client, logger *logging.Logger) Facade {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &dockerFacade{cli: cli, logger: logger.WithComponent("dockerfacade")}
}

func (f *dockerFacade) Close() error {
	return f.cli.Close()
}

func (f *dockerFacade) Snapshot(ctx context.Context) ([]ContainerSnapshot, []NetworkSnapshot, error) {
	rawContainers, err := f.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, nil, dfwerrors.Wrap(err, dfwerrors.KindDockerUnavailable, "list containers")
	}
	rawNetworks, err := f.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, nil, dfwerrors.Wrap(err, dfwerrors.KindDockerUnavailable, "list networks")
	}

	networks := make([]NetworkSnapshot, 0, len(rawNetworks))
	for _, n := range rawNetworks {
		networks = append(networks, NetworkSnapshot{
			Name:        n.Name,
			ID:          n.ID,
			BridgeIface: bridgeInterfaceName(n),
			IPAMSubnets: ipamSubnets(n),
		})
	}

	containers := make([]ContainerSnapshot, 0, len(rawContainers))
	for _, c := range rawContainers {
		if c.State != "running" {
			continue
		}
		snap := ContainerSnapshot{
			ID:     c.ID,
			Name:   primaryName(c.Names),
			Labels: c.Labels,
		}
		if c.NetworkSettings != nil {
			for netName, ep := range c.NetworkSettings.Networks {
				snap.Networks = append(snap.Networks, NetworkAttachment{
					NetworkName: netName,
					IPv4:        ep.IPAddress,
					IPv6:        ep.GlobalIPv6Address,
					Aliases:     ep.Aliases,
				})
			}
		}
		containers = append(containers, snap)
	}

	// Sort by ID so callers (the Resolver) get the deterministic,
	// tie-break-ready ordering spec.md §4.2 requires.
	sort.Slice(containers, func(i, j int) bool { return containers[i].ID < containers[j].ID })

	return containers, networks, nil
}

func (f *dockerFacade) Events(ctx context.Context) (<-chan Event, <-chan error) {
	out := make(chan Event, 16)
	errs := make(chan error, 1)

	filterArgs := filters.NewArgs(
		filters.Arg("type", "container"),
		filters.Arg("type", "network"),
	)
	msgs, errCh := f.cli.Events(ctx, events.ListOptions{Filters: filterArgs})

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errCh:
				if !ok {
					return
				}
				if err != nil {
					select {
					case errs <- err:
					default:
					}
					return
				}
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				kind, ok := translateEvent(msg)
				if !ok {
					continue
				}
				select {
				case out <- Event{Kind: kind}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errs
}

func translateEvent(msg events.Message) (EventKind, bool) {
	switch msg.Type {
	case events.ContainerEventType:
		switch msg.Action {
		case events.ActionStart:
			return EventContainerStart, true
		case events.ActionDie:
			return EventContainerDie, true
		case events.ActionDestroy:
			return EventContainerDestroy, true
		}
	case events.NetworkEventType:
		switch msg.Action {
		case events.ActionConnect:
			return EventNetworkConnect, true
		case events.ActionDisconnect:
			return EventNetworkDisconnect, true
		}
	}
	return "", false
}

func primaryName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	n := names[0]
	if len(n) > 0 && n[0] == '/' {
		n = n[1:]
	}
	return n
}

// bridgeInterfaceName derives the host-visible interface name for a
// network. Docker exposes it as a driver option when the administrator
// picked one explicitly; otherwise it follows Docker's own naming
// convention ("docker0" for the default bridge, "br-<id prefix>" for
// user-defined bridges).
func bridgeInterfaceName(n network.Summary) string {
	if name, ok := n.Options["com.docker.network.bridge.name"]; ok && name != "" {
		return name
	}
	if n.Name == "bridge" {
		return "docker0"
	}
	if len(n.ID) >= 12 {
		return "br-" + n.ID[:12]
	}
	return "br-" + n.ID
}

func ipamSubnets(n network.Summary) []string {
	var subnets []string
	for _, cfg := range n.IPAM.Config {
		if cfg.Subnet != "" {
			subnets = append(subnets, cfg.Subnet)
		}
	}
	return subnets
}

// WaitForDaemon retries Snapshot until it succeeds, the retry budget is
// exhausted, or ctx is canceled — per spec.md §7, a transient
// DockerUnavailable error is retried with exponential backoff.
func WaitForDaemon(ctx context.Context, f Facade, attempts int, initialBackoff time.Duration) error {
	backoff := initialBackoff
	var lastErr error
	for i := 0; i < attempts; i++ {
		_, _, err := f.Snapshot(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return dfwerrors.Wrapf(lastErr, dfwerrors.KindDockerUnavailable, "docker daemon unreachable after %d attempts", attempts)
}
