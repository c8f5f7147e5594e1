// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package resolver

import (
	"sort"

	"dfw.sh/dfw/internal/dockerfacade"
	"dfw.sh/dfw/internal/firewall"
)

// snapshot bundles the Docker state the resolver needs to look up names
// against, built once per Resolve call.
type snapshot struct {
	byName   map[string][]dockerfacade.ContainerSnapshot // duplicates sorted by ID, first wins
	networks map[string]dockerfacade.NetworkSnapshot
}

func newSnapshot(containers []dockerfacade.ContainerSnapshot, networks []dockerfacade.NetworkSnapshot) *snapshot {
	s := &snapshot{
		byName:   make(map[string][]dockerfacade.ContainerSnapshot),
		networks: make(map[string]dockerfacade.NetworkSnapshot),
	}
	for _, c := range containers {
		s.byName[c.Name] = append(s.byName[c.Name], c)
	}
	for name, group := range s.byName {
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		s.byName[name] = group
	}
	for _, n := range networks {
		s.networks[n.Name] = n
	}
	return s
}

// container resolves a container name to the running container that owns
// it. Docker guarantees container names are unique among running
// containers, but a stale or racing snapshot can momentarily show two; the
// lowest container ID wins and a warning Event is emitted for the rest
// (spec.md §4.2's name-resolution tie-break rule).
func (s *snapshot) container(name string) (dockerfacade.ContainerSnapshot, bool, []Event) {
	group, ok := s.byName[name]
	if !ok || len(group) == 0 {
		return dockerfacade.ContainerSnapshot{}, false, nil
	}
	var events []Event
	if len(group) > 1 {
		events = append(events, warnf("container name %q resolved to %d running containers, using lowest id %s", name, len(group), group[0].ID))
	}
	return group[0], true, events
}

// network resolves a network name to its bridge interface.
func (s *snapshot) network(name string) (dockerfacade.NetworkSnapshot, bool) {
	n, ok := s.networks[name]
	return n, ok
}

// endpoint returns the family-appropriate address of a container's
// attachment to a network, if any.
func endpoint(c dockerfacade.ContainerSnapshot, networkName string, family firewall.Family) (string, bool) {
	for _, att := range c.Networks {
		if att.NetworkName != networkName {
			continue
		}
		if family == firewall.FamilyV6 {
			return att.IPv6, att.IPv6 != ""
		}
		return att.IPv4, att.IPv4 != ""
	}
	return "", false
}

// attachedBridges returns every network's bridge interface that has at
// least one running container attached to it, sorted for deterministic
// output. Attachment is checked regardless of family: the bridge-scoped
// default rules these feed (spec.md §4.2 steps 5/7) carry no address
// filter, so which family is being rendered does not change which
// bridges are "in use".
func (s *snapshot) attachedBridges(containers []dockerfacade.ContainerSnapshot) []string {
	inUse := make(map[string]bool)
	for _, c := range containers {
		for _, att := range c.Networks {
			if n, ok := s.networks[att.NetworkName]; ok && n.BridgeIface != "" {
				inUse[n.BridgeIface] = true
			}
		}
	}
	bridges := make([]string, 0, len(inUse))
	for b := range inUse {
		bridges = append(bridges, b)
	}
	sort.Strings(bridges)
	return bridges
}
