// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dockerfacade

import (
	"testing"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/network"
)

func TestPrimaryName(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"/web-server"}, "web-server"},
		{[]string{"web-server"}, "web-server"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := primaryName(tt.in); got != tt.want {
			t.Errorf("primaryName(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBridgeInterfaceName(t *testing.T) {
	tests := []struct {
		name string
		n    network.Summary
		want string
	}{
		{
			name: "default bridge",
			n:    network.Summary{Name: "bridge", ID: "abc123def456"},
			want: "docker0",
		},
		{
			name: "user-defined network uses id prefix",
			n:    network.Summary{Name: "appnet", ID: "0123456789abcdef"},
			want: "br-0123456789ab",
		},
		{
			name: "explicit bridge name option wins",
			n: network.Summary{
				Name: "appnet",
				ID:   "0123456789abcdef",
				Options: map[string]string{
					"com.docker.network.bridge.name": "br_app",
				},
			},
			want: "br_app",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bridgeInterfaceName(tt.n); got != tt.want {
				t.Errorf("bridgeInterfaceName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIpamSubnets(t *testing.T) {
	n := network.Summary{
		IPAM: network.IPAM{
			Config: []network.IPAMConfig{
				{Subnet: "172.18.0.0/16"},
				{Subnet: ""},
				{Subnet: "fd00::/64"},
			},
		},
	}
	got := ipamSubnets(n)
	want := []string{"172.18.0.0/16", "fd00::/64"}
	if len(got) != len(want) {
		t.Fatalf("ipamSubnets() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ipamSubnets()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTranslateEvent(t *testing.T) {
	tests := []struct {
		name     string
		msg      events.Message
		wantKind EventKind
		wantOK   bool
	}{
		{"container start", events.Message{Type: events.ContainerEventType, Action: events.ActionStart}, EventContainerStart, true},
		{"container die", events.Message{Type: events.ContainerEventType, Action: events.ActionDie}, EventContainerDie, true},
		{"container destroy", events.Message{Type: events.ContainerEventType, Action: events.ActionDestroy}, EventContainerDestroy, true},
		{"network connect", events.Message{Type: events.NetworkEventType, Action: events.ActionConnect}, EventNetworkConnect, true},
		{"network disconnect", events.Message{Type: events.NetworkEventType, Action: events.ActionDisconnect}, EventNetworkDisconnect, true},
		{"irrelevant container action", events.Message{Type: events.ContainerEventType, Action: events.ActionExecCreate}, "", false},
		{"irrelevant type", events.Message{Type: events.ImageEventType, Action: events.ActionPull}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := translateEvent(tt.msg)
			if ok != tt.wantOK || kind != tt.wantKind {
				t.Errorf("translateEvent(%+v) = (%v, %v), want (%v, %v)", tt.msg, kind, ok, tt.wantKind, tt.wantOK)
			}
		})
	}
}
