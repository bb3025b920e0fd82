package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTopology(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write topology fixture: %v", err)
	}
	return path
}

func TestLoadTopologyDecodesWorkers(t *testing.T) {
	path := writeTopology(t, `
[[worker]]
name = "tlog-0"
address = "127.0.0.1"
port = 9000
zone = "zone-a"
data_hall = "hall-1"

[[worker]]
name = "tlog-1"
address = "127.0.0.1"
port = 9001
zone = "zone-b"
data_hall = "hall-2"
`)

	topo, err := LoadTopology(path)
	if err != nil {
		t.Fatalf("load_topology: %v", err)
	}
	if len(topo.Workers) != 2 {
		t.Fatalf("got %d workers, want 2", len(topo.Workers))
	}
	if topo.Workers[0].DataHall != "hall-1" || topo.Workers[1].DataHall != "hall-2" {
		t.Fatalf("data_hall not decoded correctly: %+v", topo.Workers)
	}

	localities := topo.Localities()
	if localities[0].Zone != "zone-a" || localities[1].Zone != "zone-b" {
		t.Fatalf("localities() = %+v", localities)
	}

	addrs := topo.Addresses()
	if addrs[0].Port != 9000 || addrs[1].Port != 9001 {
		t.Fatalf("addresses() = %+v", addrs)
	}
}

func TestLoadTopologyMissingFile(t *testing.T) {
	if _, err := LoadTopology(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error loading a nonexistent topology file")
	}
}
