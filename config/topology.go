package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/tagpartitioned/tlogsystem/tlog"
)

// WorkerFixture is one candidate TLog endpoint in a demo/test cluster
// topology file, grounded on danmuck-dps_files/src/key_store/config.go's
// pattern of decoding a typed struct straight out of TOML.
type WorkerFixture struct {
	Name     string
	Address  string
	Port     uint16
	Zone     string
	DataHall string `toml:"data_hall"`
}

// Topology is a demo cluster's worker set, loaded once at startup.
type Topology struct {
	Workers []WorkerFixture `toml:"worker"`
}

// LoadTopology decodes a TOML fixture file into a Topology.
func LoadTopology(path string) (Topology, error) {
	var t Topology
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return Topology{}, fmt.Errorf("config: load topology %s: %w", path, err)
	}
	return t, nil
}

// Localities extracts the LocalityData slice a locality.Set is built from.
func (t Topology) Localities() []tlog.LocalityData {
	out := make([]tlog.LocalityData, len(t.Workers))
	for i, w := range t.Workers {
		out[i] = tlog.LocalityData{Zone: w.Zone, DataHall: w.DataHall}
	}
	return out
}

// Addresses extracts the NetworkAddress slice in worker order.
func (t Topology) Addresses() []tlog.NetworkAddress {
	out := make([]tlog.NetworkAddress, len(t.Workers))
	for i, w := range t.Workers {
		out[i] = tlog.NetworkAddress{IP: w.Address, Port: w.Port}
	}
	return out
}
