// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy holds the declarative firewall description and its
// purely structural validation. References to containers and networks
// are plain strings here — they are resolved against live Docker state
// by internal/resolver, never validated in this package.
package policy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	dfwerrors "dfw.sh/dfw/internal/errors"
)

// Action is the terminal verdict of a rule or section default.
type Action string

const (
	ActionAccept Action = "accept"
	ActionDrop   Action = "drop"
	ActionReject Action = "reject"
)

func (a Action) valid() bool {
	switch a {
	case ActionAccept, ActionDrop, ActionReject, "":
		return true
	default:
		return false
	}
}

// Proto is a transport protocol accepted in expose_port entries.
type Proto string

const (
	ProtoTCP Proto = "tcp"
	ProtoUDP Proto = "udp"
)

// ExposePort is a parsed expose_port entry: "N", "N:M", with an optional
// "/tcp" or "/udp" suffix (default tcp).
type ExposePort struct {
	HostPort      int
	ContainerPort int
	Proto         Proto
}

// ParseExposePort parses one of the two accepted grammars from §6:
// "N" (host and container port equal) or "N:M" (host N -> container M),
// each with an optional protocol suffix.
func ParseExposePort(s string) (ExposePort, error) {
	proto := ProtoTCP
	portPart := s
	if idx := strings.LastIndex(s, "/"); idx != -1 {
		portPart = s[:idx]
		switch suffix := s[idx+1:]; suffix {
		case "tcp":
			proto = ProtoTCP
		case "udp":
			proto = ProtoUDP
		default:
			return ExposePort{}, dfwerrors.Errorf(dfwerrors.KindPolicyParse, "expose_port %q: unknown protocol suffix %q", s, suffix)
		}
	}

	host, container, err := splitPortPart(portPart)
	if err != nil {
		return ExposePort{}, dfwerrors.Wrapf(err, dfwerrors.KindPolicyParse, "expose_port %q", s)
	}
	return ExposePort{HostPort: host, ContainerPort: container, Proto: proto}, nil
}

func splitPortPart(s string) (host, container int, err error) {
	if idx := strings.Index(s, ":"); idx != -1 {
		host, err = strconv.Atoi(s[:idx])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid host port %q", s[:idx])
		}
		container, err = strconv.Atoi(s[idx+1:])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid container port %q", s[idx+1:])
		}
		return host, container, nil
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q", s)
	}
	return port, port, nil
}

// Defaults holds the [defaults] section: per-chain kernel defaults and
// any pre-creation hints for custom tables.
type Defaults struct {
	Input        Action   `toml:"input"`
	Forward      Action   `toml:"forward"`
	Output       Action   `toml:"output"`
	CustomTables []string `toml:"custom_tables"`
}

// Initialization holds raw, verbatim, family-scoped rule lines applied
// once per reconciliation pass before the managed chains are populated.
type Initialization struct {
	V4 []string `toml:"v4"`
	V6 []string `toml:"v6"`
}

// ContainerToContainerRule is one [[container_to_container.rules]] entry.
type ContainerToContainerRule struct {
	Network      string `toml:"network"`
	SrcContainer string `toml:"src_container"`
	DstContainer string `toml:"dst_container"`
	Filter       string `toml:"filter"`
	Action       Action `toml:"action"`
}

// ContainerToContainer holds the [container_to_container] section.
type ContainerToContainer struct {
	DefaultPolicy Action                     `toml:"default_policy"`
	Rules         []ContainerToContainerRule `toml:"rules"`
}

// ContainerToWiderWorldRule is one [[container_to_wider_world.rules]] entry.
type ContainerToWiderWorldRule struct {
	Network                  string `toml:"network"`
	SrcContainer             string `toml:"src_container"`
	Filter                   string `toml:"filter"`
	ExternalNetworkInterface string `toml:"external_network_interface"`
	Action                   Action `toml:"action"`
}

// ContainerToWiderWorld holds the [container_to_wider_world] section.
type ContainerToWiderWorld struct {
	DefaultPolicy Action                      `toml:"default_policy"`
	Rules         []ContainerToWiderWorldRule `toml:"rules"`
}

// ContainerToHostRule is one [[container_to_host.rules]] entry.
type ContainerToHostRule struct {
	Network      string `toml:"network"`
	SrcContainer string `toml:"src_container"`
	Filter       string `toml:"filter"`
	Action       Action `toml:"action"`
}

// ContainerToHost holds the [container_to_host] section.
type ContainerToHost struct {
	DefaultPolicy Action                `toml:"default_policy"`
	Rules         []ContainerToHostRule `toml:"rules"`
}

// WiderWorldToContainerRule is one [[wider_world_to_container.rules]] entry.
type WiderWorldToContainerRule struct {
	Network                  string   `toml:"network"`
	DstContainer             string   `toml:"dst_container"`
	ExposePort               []string `toml:"expose_port"`
	ExternalNetworkInterface string   `toml:"external_network_interface"`
}

// ContainerDNATRule is one [[container_dnat.rules]] entry.
type ContainerDNATRule struct {
	SrcNetwork   string `toml:"src_network"`
	SrcContainer string `toml:"src_container"`
	DstNetwork   string `toml:"dst_network"`
	DstContainer string `toml:"dst_container"`
	ExposePort   string `toml:"expose_port"`
}

// Policy is the parsed policy document. All top-level fields are
// optional unless documented otherwise by the base spec's §6 schema.
type Policy struct {
	Defaults              Defaults              `toml:"defaults"`
	Initialization        Initialization        `toml:"initialization"`
	ContainerToContainer  ContainerToContainer  `toml:"container_to_container"`
	ContainerToWiderWorld ContainerToWiderWorld `toml:"container_to_wider_world"`
	ContainerToHost       ContainerToHost       `toml:"container_to_host"`
	WiderWorldToContainer struct {
		Rules []WiderWorldToContainerRule `toml:"rules"`
	} `toml:"wider_world_to_container"`
	ContainerDNAT struct {
		Rules []ContainerDNATRule `toml:"rules"`
	} `toml:"container_dnat"`
}

// Load reads and structurally validates a single policy file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dfwerrors.Wrapf(err, dfwerrors.KindPolicyParse, "read policy file %s", path)
	}
	return parse(data, path)
}

// LoadDir reads every *.toml file in dir and shallow-merges them in
// lexicographic filename order: a later fragment's top-level section
// overrides an earlier fragment's section of the same name. This
// resolves the CLI surface's "--config <path> (or directory of
// fragments)" without the base spec specifying a merge order.
func LoadDir(dir string) (*Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, dfwerrors.Wrapf(err, dfwerrors.KindPolicyParse, "read policy directory %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	merged := &Policy{}
	for _, name := range names {
		frag, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		merge(merged, frag)
	}
	return merged, nil
}

func merge(dst, src *Policy) {
	if !isZeroDefaults(src.Defaults) {
		dst.Defaults = src.Defaults
	}
	if len(src.Initialization.V4) > 0 || len(src.Initialization.V6) > 0 {
		dst.Initialization = src.Initialization
	}
	if len(src.ContainerToContainer.Rules) > 0 || src.ContainerToContainer.DefaultPolicy != "" {
		dst.ContainerToContainer = src.ContainerToContainer
	}
	if len(src.ContainerToWiderWorld.Rules) > 0 || src.ContainerToWiderWorld.DefaultPolicy != "" {
		dst.ContainerToWiderWorld = src.ContainerToWiderWorld
	}
	if len(src.ContainerToHost.Rules) > 0 || src.ContainerToHost.DefaultPolicy != "" {
		dst.ContainerToHost = src.ContainerToHost
	}
	if len(src.WiderWorldToContainer.Rules) > 0 {
		dst.WiderWorldToContainer = src.WiderWorldToContainer
	}
	if len(src.ContainerDNAT.Rules) > 0 {
		dst.ContainerDNAT = src.ContainerDNAT
	}
}

func isZeroDefaults(d Defaults) bool {
	return d.Input == "" && d.Forward == "" && d.Output == "" && len(d.CustomTables) == 0
}

func parse(data []byte, sourceName string) (*Policy, error) {
	var p Policy
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, dfwerrors.Wrapf(err, dfwerrors.KindPolicyParse, "parse policy %s", sourceName)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that every action and protocol value is drawn from
// its closed set, and that every expose_port string matches one of the
// two accepted grammars. It never inspects container or network names —
// those are resolved lazily against live Docker state.
func (p *Policy) Validate() error {
	if !p.Defaults.Input.valid() || !p.Defaults.Forward.valid() || !p.Defaults.Output.valid() {
		return dfwerrors.New(dfwerrors.KindPolicyParse, "defaults: action must be one of accept, drop, reject")
	}

	if !p.ContainerToContainer.DefaultPolicy.valid() {
		return dfwerrors.New(dfwerrors.KindPolicyParse, "container_to_container.default_policy: invalid action")
	}
	for i, r := range p.ContainerToContainer.Rules {
		if r.Network == "" {
			return dfwerrors.Errorf(dfwerrors.KindPolicyParse, "container_to_container.rules[%d]: network is required", i)
		}
		if !r.Action.valid() {
			return dfwerrors.Errorf(dfwerrors.KindPolicyParse, "container_to_container.rules[%d]: invalid action %q", i, r.Action)
		}
	}

	if !p.ContainerToWiderWorld.DefaultPolicy.valid() {
		return dfwerrors.New(dfwerrors.KindPolicyParse, "container_to_wider_world.default_policy: invalid action")
	}
	for i, r := range p.ContainerToWiderWorld.Rules {
		if !r.Action.valid() {
			return dfwerrors.Errorf(dfwerrors.KindPolicyParse, "container_to_wider_world.rules[%d]: invalid action %q", i, r.Action)
		}
	}

	if !p.ContainerToHost.DefaultPolicy.valid() {
		return dfwerrors.New(dfwerrors.KindPolicyParse, "container_to_host.default_policy: invalid action")
	}
	for i, r := range p.ContainerToHost.Rules {
		if r.Network == "" {
			return dfwerrors.Errorf(dfwerrors.KindPolicyParse, "container_to_host.rules[%d]: network is required", i)
		}
		if !r.Action.valid() {
			return dfwerrors.Errorf(dfwerrors.KindPolicyParse, "container_to_host.rules[%d]: invalid action %q", i, r.Action)
		}
	}

	for i, r := range p.WiderWorldToContainer.Rules {
		if r.Network == "" || r.DstContainer == "" {
			return dfwerrors.Errorf(dfwerrors.KindPolicyParse, "wider_world_to_container.rules[%d]: network and dst_container are required", i)
		}
		for _, ep := range r.ExposePort {
			if _, err := ParseExposePort(ep); err != nil {
				return err
			}
		}
	}

	for i, r := range p.ContainerDNAT.Rules {
		if r.DstNetwork == "" || r.DstContainer == "" {
			return dfwerrors.Errorf(dfwerrors.KindPolicyParse, "container_dnat.rules[%d]: dst_network and dst_container are required", i)
		}
		if _, err := ParseExposePort(r.ExposePort); err != nil {
			return err
		}
	}

	return nil
}

// Marshal serializes the policy back into TOML, used by the round-trip
// test property (spec.md §8 property 6).
func (p *Policy) Marshal() ([]byte, error) {
	return toml.Marshal(p)
}
