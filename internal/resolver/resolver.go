// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package resolver turns a policy and a Docker snapshot into an ordered
// sequence of firewall operations. Resolve is a pure function: given the
// same three inputs it always produces the same []firewall.Op, which is
// what makes the reconciliation loop's rebuilds idempotent and lets the
// whole translation be tested without touching a kernel or a daemon.
package resolver

import (
	"fmt"
	"strings"

	"dfw.sh/dfw/internal/dockerfacade"
	"dfw.sh/dfw/internal/firewall"
	"dfw.sh/dfw/internal/policy"
)

// Resolve computes the ordered operation batch for one protocol family.
// The name-collision tie-break does not depend on the order of
// containers: containers sharing a name are sorted by ID when the
// snapshot index is built, and the lowest ID wins.
func Resolve(pol *policy.Policy, containers []dockerfacade.ContainerSnapshot, networks []dockerfacade.NetworkSnapshot, family firewall.Family) ([]firewall.Op, []Event) {
	r := &run{
		pol:    pol,
		snap:   newSnapshot(containers, networks),
		family: family,
	}

	r.initManagedChains()
	r.defaultPolicies()
	r.baselineAndJumps()
	r.initializationRules()
	r.containerToContainer()
	r.containerToWiderWorld()
	r.containerToHost()
	r.widerWorldToContainer()
	r.containerDNAT()
	r.ops = append(r.ops, firewall.Commit())

	return r.ops, r.events
}

// run accumulates the ops/events produced by one Resolve call.
type run struct {
	pol    *policy.Policy
	snap   *snapshot
	family firewall.Family

	ops    []firewall.Op
	events []Event
}

func (r *run) emit(op firewall.Op) { r.ops = append(r.ops, op) }
func (r *run) note(e ...Event)     { r.events = append(r.events, e...) }

// step 1: create + flush every managed chain, in a fixed order, so a
// fresh rebuild always starts from an empty slate regardless of what a
// previous pass left behind (spec.md §4.2 step 1, and §8's atomicity
// property: the transcript always opens with these four create/flush pairs).
func (r *run) initManagedChains() {
	for _, c := range []struct{ table, chain string }{
		{firewall.TableFilter, firewall.ChainInput},
		{firewall.TableFilter, firewall.ChainForward},
		{firewall.TableNAT, firewall.ChainPrerouting},
		{firewall.TableNAT, firewall.ChainPostrouting},
	} {
		r.emit(firewall.CreateChain(c.table, c.chain))
		r.emit(firewall.FlushChain(c.table, c.chain))
	}
}

// step 2: apply [defaults] to the built-in INPUT/FORWARD/OUTPUT policies,
// when configured. A policy with no configured default leaves whatever
// the kernel already has in place untouched.
func (r *run) defaultPolicies() {
	for _, d := range []struct {
		chain  string
		action policy.Action
	}{
		{"INPUT", r.pol.Defaults.Input},
		{"FORWARD", r.pol.Defaults.Forward},
		{"OUTPUT", r.pol.Defaults.Output},
	} {
		if d.action == "" {
			continue
		}
		r.emit(firewall.Execute(firewall.TableFilter, fmt.Sprintf("-P %s %s", d.chain, target(d.action))))
	}
}

// step 3: the fixed baseline every managed chain gets regardless of
// policy content — drop invalid traffic, accept established/related
// traffic, and make sure the built-in chains jump into the managed ones.
// The jumps use AppendReplace so a chain that already has the jump from
// a previous pass is never duplicated (spec.md invariant 2).
func (r *run) baselineAndJumps() {
	r.emit(firewall.Append(firewall.TableFilter, firewall.ChainInput, "-m state --state INVALID -j DROP"))
	r.emit(firewall.Append(firewall.TableFilter, firewall.ChainInput, "-m state --state RELATED,ESTABLISHED -j ACCEPT"))
	r.emit(firewall.AppendReplace(firewall.TableFilter, "INPUT", "-j "+firewall.ChainInput))

	r.emit(firewall.Append(firewall.TableFilter, firewall.ChainForward, "-m state --state INVALID -j DROP"))
	r.emit(firewall.Append(firewall.TableFilter, firewall.ChainForward, "-m state --state RELATED,ESTABLISHED -j ACCEPT"))
	r.emit(firewall.AppendReplace(firewall.TableFilter, "FORWARD", "-j "+firewall.ChainForward))

	r.emit(firewall.AppendReplace(firewall.TableNAT, "PREROUTING", "-j "+firewall.ChainPrerouting))
	r.emit(firewall.AppendReplace(firewall.TableNAT, "POSTROUTING", "-j "+firewall.ChainPostrouting))
}

// step 4: initialization rules, verbatim and family-scoped. Each line may
// optionally start with "-t <table>"; absent that, it targets filter.
func (r *run) initializationRules() {
	lines := r.pol.Initialization.V4
	if r.family == firewall.FamilyV6 {
		lines = r.pol.Initialization.V6
	}
	for _, raw := range lines {
		table, rest := splitTablePrefix(raw)
		r.emit(firewall.Execute(table, rest))
	}
}

func splitTablePrefix(raw string) (table, rest string) {
	fields := strings.Fields(raw)
	if len(fields) >= 2 && (fields[0] == "-t" || fields[0] == "--table") {
		return fields[1], strings.Join(fields[2:], " ")
	}
	return firewall.TableFilter, raw
}

// step 5: container_to_container — forward rules between two containers
// on the same bridge, then a bridge-scoped default for every bridge with
// an attached container (spec.md §4.2 step 5, invariant 4).
func (r *run) containerToContainer() {
	sec := r.pol.ContainerToContainer
	for i, rule := range sec.Rules {
		bridge, ok := r.snap.network(rule.Network)
		if !ok {
			r.note(warnf("container_to_container.rules[%d]: network %q not found, skipping", i, rule.Network))
			continue
		}
		conds := []string{"-i", bridge.BridgeIface, "-o", bridge.BridgeIface}

		if rule.SrcContainer != "" {
			ip, ok := r.resolveAttachedIP(rule.SrcContainer, rule.Network, i, "container_to_container", "src_container")
			if !ok {
				continue
			}
			conds = append(conds, "-s", ip)
		}
		if rule.DstContainer != "" {
			c, found, evs := r.snap.container(rule.DstContainer)
			r.note(evs...)
			if !found {
				r.note(warnf("container_to_container.rules[%d]: dst_container %q is not running, skipping", i, rule.DstContainer))
				continue
			}
			ip, ok := endpoint(c, rule.Network, r.family)
			if !ok {
				r.note(debugf("container_to_container.rules[%d]: dst_container %q has no %s endpoint on %q, skipping", i, rule.DstContainer, r.family, rule.Network))
				continue
			}
			conds = append(conds, "-d", ip)
		}

		action := rule.Action
		if action == "" {
			action = policy.ActionDrop
		}
		r.emit(firewall.Append(firewall.TableFilter, firewall.ChainForward, buildRule(conds, rule.Filter, action)))
	}

	for _, bridge := range r.snap.attachedBridges(r.allContainers()) {
		if sec.DefaultPolicy == "" {
			continue
		}
		r.emit(firewall.Append(firewall.TableFilter, firewall.ChainForward,
			buildRule([]string{"-i", bridge, "-o", bridge}, "", sec.DefaultPolicy)))
	}
}

// step 6: container_to_wider_world — forward rules for traffic entering
// from a container bridge, plus a MASQUERADE postrouting rule when the
// rule both accepts and names an external interface (spec.md §4.2 step 6).
// The forward rule matches -o <external interface> when one is named;
// otherwise it has no outbound-interface match, so it also covers traffic
// forwarded onto another (or the same) bridge.
func (r *run) containerToWiderWorld() {
	sec := r.pol.ContainerToWiderWorld
	for i, rule := range sec.Rules {
		var conds []string
		var masqSrc string

		if rule.Network != "" {
			bridge, ok := r.snap.network(rule.Network)
			if !ok {
				r.note(warnf("container_to_wider_world.rules[%d]: network %q not found, skipping", i, rule.Network))
				continue
			}
			conds = append(conds, "-i", bridge.BridgeIface)
		}
		if rule.SrcContainer != "" {
			ip, ok := r.resolveAttachedIP(rule.SrcContainer, rule.Network, i, "container_to_wider_world", "src_container")
			if !ok {
				continue
			}
			conds = append(conds, "-s", ip)
			masqSrc = ip
		}

		action := rule.Action
		if action == "" {
			action = policy.ActionAccept
		}

		bridges := []string{""}
		if rule.Network == "" {
			bridges = r.snap.attachedBridges(r.allContainers())
		}
		for _, b := range bridges {
			c := append([]string(nil), conds...)
			if rule.Network == "" && b != "" {
				c = append([]string{"-i", b}, c...)
			}
			if rule.ExternalNetworkInterface != "" {
				c = append(c, "-o", rule.ExternalNetworkInterface)
			}
			r.emit(firewall.Append(firewall.TableFilter, firewall.ChainForward, buildRule(c, rule.Filter, action)))
		}

		if action == policy.ActionAccept && rule.ExternalNetworkInterface != "" {
			src := masqSrc
			if src == "" && rule.Network != "" {
				if n, ok := r.snap.network(rule.Network); ok && len(n.IPAMSubnets) > 0 {
					src = n.IPAMSubnets[0]
				}
			}
			masqConds := []string{"-o", rule.ExternalNetworkInterface}
			if src != "" {
				masqConds = []string{"-s", src, "-o", rule.ExternalNetworkInterface}
			}
			r.emit(firewall.Append(firewall.TableNAT, firewall.ChainPostrouting,
				strings.Join(append(masqConds, "-j", "MASQUERADE"), " ")))
		}
	}

	for _, bridge := range r.snap.attachedBridges(r.allContainers()) {
		if sec.DefaultPolicy == "" {
			continue
		}
		r.emit(firewall.Append(firewall.TableFilter, firewall.ChainForward,
			buildRule([]string{"-i", bridge}, "", sec.DefaultPolicy)))
	}
}

// step 7: container_to_host — INPUT rules for traffic from a container
// bridge toward the host itself.
func (r *run) containerToHost() {
	sec := r.pol.ContainerToHost
	for i, rule := range sec.Rules {
		bridge, ok := r.snap.network(rule.Network)
		if !ok {
			r.note(warnf("container_to_host.rules[%d]: network %q not found, skipping", i, rule.Network))
			continue
		}
		conds := []string{"-i", bridge.BridgeIface}
		if rule.SrcContainer != "" {
			ip, ok := r.resolveAttachedIP(rule.SrcContainer, rule.Network, i, "container_to_host", "src_container")
			if !ok {
				continue
			}
			conds = append(conds, "-s", ip)
		}
		action := rule.Action
		if action == "" {
			action = policy.ActionDrop
		}
		r.emit(firewall.Append(firewall.TableFilter, firewall.ChainInput, buildRule(conds, rule.Filter, action)))
	}

	for _, bridge := range r.snap.attachedBridges(r.allContainers()) {
		if sec.DefaultPolicy == "" {
			continue
		}
		r.emit(firewall.Append(firewall.TableFilter, firewall.ChainInput,
			buildRule([]string{"-i", bridge}, "", sec.DefaultPolicy)))
	}
}

// step 8: wider_world_to_container — for each exposed port, accept the
// forwarded traffic and DNAT it from the external interface to the
// container's address (spec.md §4.2 step 8). IPv6 has no NAT step: the
// DNAT half is only emitted for the v4 family, matching the schema's
// "expose_port" being a NAT-only concept.
func (r *run) widerWorldToContainer() {
	for i, rule := range r.pol.WiderWorldToContainer.Rules {
		c, found, evs := r.snap.container(rule.DstContainer)
		r.note(evs...)
		if !found {
			r.note(warnf("wider_world_to_container.rules[%d]: dst_container %q is not running, skipping", i, rule.DstContainer))
			continue
		}
		ip, ok := endpoint(c, rule.Network, r.family)
		if !ok {
			r.note(debugf("wider_world_to_container.rules[%d]: dst_container %q has no %s endpoint on %q, skipping", i, rule.DstContainer, r.family, rule.Network))
			continue
		}
		if _, ok := r.snap.network(rule.Network); !ok {
			r.note(warnf("wider_world_to_container.rules[%d]: network %q not found, skipping", i, rule.Network))
			continue
		}

		for _, raw := range rule.ExposePort {
			ep, err := policy.ParseExposePort(raw)
			if err != nil {
				r.note(warnf("wider_world_to_container.rules[%d]: %v, skipping port", i, err))
				continue
			}
			proto := string(ep.Proto)

			fwdConds := []string{"-d", ip}
			if rule.ExternalNetworkInterface != "" {
				fwdConds = append(fwdConds, "-i", rule.ExternalNetworkInterface)
			}
			fwdConds = append(fwdConds, "-p", proto, "--dport", fmt.Sprint(ep.ContainerPort))
			r.emit(firewall.Append(firewall.TableFilter, firewall.ChainForward,
				buildRule(fwdConds, "", policy.ActionAccept)))

			if r.family != firewall.FamilyV4 {
				continue
			}
			dnatConds := []string{"-p", proto, "--dport", fmt.Sprint(ep.HostPort)}
			if rule.ExternalNetworkInterface != "" {
				dnatConds = append([]string{"-i", rule.ExternalNetworkInterface}, dnatConds...)
			}
			ruleLine := strings.Join(append(dnatConds, "-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", ip, ep.ContainerPort)), " ")
			r.emit(firewall.Append(firewall.TableNAT, firewall.ChainPrerouting, ruleLine))
		}
	}
}

// step 9: container_dnat — container-to-container port redirection,
// expressed the same way as wider_world_to_container's DNAT half but
// scoped to forwarding between two named containers on two named
// networks (spec.md §4.2 step 9).
func (r *run) containerDNAT() {
	for i, rule := range r.pol.ContainerDNAT.Rules {
		dst, found, evs := r.snap.container(rule.DstContainer)
		r.note(evs...)
		if !found {
			r.note(warnf("container_dnat.rules[%d]: dst_container %q is not running, skipping", i, rule.DstContainer))
			continue
		}
		dstIP, ok := endpoint(dst, rule.DstNetwork, r.family)
		if !ok {
			r.note(debugf("container_dnat.rules[%d]: dst_container %q has no %s endpoint on %q, skipping", i, rule.DstContainer, r.family, rule.DstNetwork))
			continue
		}
		if _, ok := r.snap.network(rule.DstNetwork); !ok {
			r.note(warnf("container_dnat.rules[%d]: dst_network %q not found, skipping", i, rule.DstNetwork))
			continue
		}

		ep, err := policy.ParseExposePort(rule.ExposePort)
		if err != nil {
			r.note(warnf("container_dnat.rules[%d]: %v, skipping", i, err))
			continue
		}
		proto := string(ep.Proto)

		if r.family != firewall.FamilyV4 {
			continue
		}

		var dnatConds []string
		if rule.SrcContainer != "" && rule.SrcNetwork != "" {
			src, found, evs := r.snap.container(rule.SrcContainer)
			r.note(evs...)
			if found {
				if srcIP, ok := endpoint(src, rule.SrcNetwork, r.family); ok {
					if srcBridge, ok := r.snap.network(rule.SrcNetwork); ok {
						dnatConds = append(dnatConds, "-i", srcBridge.BridgeIface, "-s", srcIP)
					}
				}
			}
		}
		dnatConds = append(dnatConds, "-p", proto, "--dport", fmt.Sprint(ep.HostPort))
		ruleLine := strings.Join(append(dnatConds, "-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", dstIP, ep.ContainerPort)), " ")
		r.emit(firewall.Append(firewall.TableNAT, firewall.ChainPrerouting, ruleLine))
	}
}

// resolveAttachedIP resolves src_container against network, emitting the
// standard skip event when either the container isn't running or it has
// no endpoint for the current family on that network.
func (r *run) resolveAttachedIP(containerName, networkName string, i int, section, field string) (string, bool) {
	c, found, evs := r.snap.container(containerName)
	r.note(evs...)
	if !found {
		r.note(warnf("%s.rules[%d]: %s %q is not running, skipping", section, i, field, containerName))
		return "", false
	}
	ip, ok := endpoint(c, networkName, r.family)
	if !ok {
		r.note(debugf("%s.rules[%d]: %s %q has no %s endpoint on %q, skipping", section, i, field, containerName, r.family, networkName))
		return "", false
	}
	return ip, true
}

// allContainers flattens the snapshot's name index back into a flat list
// for the bridge-in-use scan. The order of the list is not defined (map
// iteration); attachedBridges sorts its own result.
func (r *run) allContainers() []dockerfacade.ContainerSnapshot {
	var out []dockerfacade.ContainerSnapshot
	for _, group := range r.snap.byName {
		out = append(out, group...)
	}
	return out
}

// buildRule joins match conditions, an optional verbatim filter fragment,
// and the terminal jump into one rule-argument string.
func buildRule(conds []string, filter string, action policy.Action) string {
	parts := append([]string(nil), conds...)
	if filter != "" {
		parts = append(parts, filter)
	}
	parts = append(parts, "-j", target(action))
	return strings.Join(parts, " ")
}

func target(a policy.Action) string {
	switch a {
	case policy.ActionAccept:
		return "ACCEPT"
	case policy.ActionDrop:
		return "DROP"
	case policy.ActionReject:
		return "REJECT"
	default:
		return "DROP"
	}
}
