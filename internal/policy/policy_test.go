// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"os"
	"path/filepath"
	"testing"

	dfwerrors "dfw.sh/dfw/internal/errors"
)

func TestParseExposePort(t *testing.T) {
	tests := []struct {
		in      string
		want    ExposePort
		wantErr bool
	}{
		{"80", ExposePort{80, 80, ProtoTCP}, false},
		{"443/tcp", ExposePort{443, 443, ProtoTCP}, false},
		{"5353:53/udp", ExposePort{5353, 53, ProtoUDP}, false},
		{"8080:80", ExposePort{8080, 80, ProtoTCP}, false},
		{"abc", ExposePort{}, true},
		{"80/sctp", ExposePort{}, true},
		{"80:abc", ExposePort{}, true},
	}
	for _, tt := range tests {
		got, err := ParseExposePort(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseExposePort(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseExposePort(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseExposePort(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestLoadValidPolicy(t *testing.T) {
	doc := `
[defaults]
forward = "drop"

[container_to_container]
default_policy = "drop"
[[container_to_container.rules]]
network = "inner"
src_container = "a"
dst_container = "b"
action = "drop"

[[wider_world_to_container.rules]]
network = "pub"
dst_container = "web"
expose_port = ["80", "443/tcp"]
external_network_interface = "eth0"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.toml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	pol, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pol.Defaults.Forward != ActionDrop {
		t.Errorf("expected forward default drop, got %v", pol.Defaults.Forward)
	}
	if len(pol.ContainerToContainer.Rules) != 1 {
		t.Fatalf("expected 1 container_to_container rule, got %d", len(pol.ContainerToContainer.Rules))
	}
	if len(pol.WiderWorldToContainer.Rules) != 1 {
		t.Fatalf("expected 1 wider_world_to_container rule, got %d", len(pol.WiderWorldToContainer.Rules))
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	doc := `
[container_to_container]
bogus_field = "oops"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.toml")
	os.WriteFile(path, []byte(doc), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if dfwerrors.GetKind(err) != dfwerrors.KindPolicyParse {
		t.Errorf("expected KindPolicyParse, got %v", dfwerrors.GetKind(err))
	}
}

func TestLoadRejectsInvalidAction(t *testing.T) {
	doc := `
[container_to_container]
default_policy = "maybe"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.toml")
	os.WriteFile(path, []byte(doc), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid action")
	}
}

func TestValidateNeverChecksReferences(t *testing.T) {
	// A policy referencing containers/networks that don't exist anywhere
	// must still validate: reference resolution is the Resolver's job.
	pol := &Policy{}
	pol.ContainerToContainer.Rules = []ContainerToContainerRule{
		{Network: "ghost-network", SrcContainer: "ghost-a", DstContainer: "ghost-b", Action: ActionAccept},
	}
	if err := pol.Validate(); err != nil {
		t.Errorf("Validate() should not check references, got error: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	pol := &Policy{}
	pol.Defaults.Forward = ActionDrop
	pol.ContainerToContainer.DefaultPolicy = ActionDrop
	pol.ContainerToContainer.Rules = []ContainerToContainerRule{
		{Network: "inner", SrcContainer: "a", DstContainer: "b", Action: ActionDrop},
	}

	data, err := pol.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	reparsed, err := parse(data, "roundtrip")
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}

	if reparsed.Defaults.Forward != pol.Defaults.Forward {
		t.Errorf("round trip changed Defaults.Forward: got %v, want %v", reparsed.Defaults.Forward, pol.Defaults.Forward)
	}
	if len(reparsed.ContainerToContainer.Rules) != 1 || reparsed.ContainerToContainer.Rules[0] != pol.ContainerToContainer.Rules[0] {
		t.Errorf("round trip changed container_to_container rules: got %+v, want %+v",
			reparsed.ContainerToContainer.Rules, pol.ContainerToContainer.Rules)
	}
}

func TestLoadDirMergesInLexicographicOrder(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "01-defaults.toml"), []byte(`
[defaults]
forward = "drop"
`), 0o644)
	os.WriteFile(filepath.Join(dir, "02-rules.toml"), []byte(`
[container_to_container]
default_policy = "accept"
[[container_to_container.rules]]
network = "inner"
action = "accept"
`), 0o644)

	pol, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if pol.Defaults.Forward != ActionDrop {
		t.Errorf("expected merged forward default drop, got %v", pol.Defaults.Forward)
	}
	if len(pol.ContainerToContainer.Rules) != 1 {
		t.Errorf("expected 1 rule merged in, got %d", len(pol.ContainerToContainer.Rules))
	}
}
