// cmd/demo wires every core component end to end over a small in-process
// cluster: it loads a topology fixture, recruits a fresh epoch (C9), and
// walks through push/peek/pop/confirm_epoch_live against the resulting
// Log System Facade (C10). It is the generalized analogue of the teacher's
// cmd/server+cmd/client pair, collapsed into one process since the
// transport those talked over is out of scope here (§1).
package main

import (
	"context"
	"flag"
	"fmt"
	"hash/fnv"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/spf13/viper"

	"github.com/tagpartitioned/tlogsystem/clockenv"
	"github.com/tagpartitioned/tlogsystem/config"
	"github.com/tagpartitioned/tlogsystem/logsystem"
	"github.com/tagpartitioned/tlogsystem/newepoch"
	"github.com/tagpartitioned/tlogsystem/policy"
	"github.com/tagpartitioned/tlogsystem/recovery"
	"github.com/tagpartitioned/tlogsystem/tlog"
)

func main() {
	logs.Configure(logs.DefaultConfig())

	topologyPath := flag.String("topology", "config/fixtures/demo-topology.toml", "worker topology TOML file")
	replicationFactor := flag.Int("replication-factor", 2, "TLog replication factor")
	antiQuorum := flag.Int("anti-quorum", 1, "TLog write anti-quorum")
	minZones := flag.Int("min-zones", 2, "minimum distinct zones the replication policy requires")
	flag.Parse()

	v := viper.New()
	v.SetEnvPrefix("TLOGSYS")
	v.AutomaticEnv()
	knobs := config.LoadKnobs(v)

	topo, err := config.LoadTopology(*topologyPath)
	if err != nil {
		logs.Errorf(err, "demo: failed to load topology")
		return
	}

	pol := policy.Simple{MinZones: *minZones}
	env := clockenv.System{}

	workers := make([]newepoch.Worker, len(topo.Workers))
	for i, w := range topo.Workers {
		uid := uidFromName(w.Name)
		workers[i] = newepoch.Worker{
			UID:      uid,
			Locality: tlog.LocalityData{Zone: w.Zone, DataHall: w.DataHall},
			Recruit:  newepoch.LocalRecruiter{UID: uid},
		}
	}

	addrs := make(map[tlog.UID]tlog.NetworkAddress, len(topo.Workers))
	for i, w := range topo.Workers {
		addrs[workers[i].UID] = tlog.NetworkAddress{IP: w.Address, Port: w.Port}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cand := recovery.Candidate{Policy: pol} // cold start: no prior epoch to freeze
	result, err := newepoch.Build(ctx, cand, workers, *replicationFactor, *antiQuorum, pol, env, knobs.TLogTimeout)
	if err != nil {
		logs.Errorf(err, "demo: new epoch recruitment failed")
		return
	}
	logs.Infof("demo: recruited %d TLogs, replication_factor=%d anti_quorum=%d", len(result.Handles), *replicationFactor, *antiQuorum)

	facade, err := logsystem.NewCurrent(result.Config, result.Handles, addrs, env)
	if err != nil {
		logs.Errorf(err, "demo: failed to bind facade")
		return
	}
	defer facade.Close()

	for _, entry := range facade.GetLogsValue() {
		logs.Infof("demo: tlog %s at %s", entry.UID, entry.Address)
	}

	const tagA, tagB tlog.Tag = 0, 1
	if err := facade.Push(ctx, 0, 1, 0, []byte("first commit"), []tlog.Tag{tagA, tagB}, "demo-push-1"); err != nil {
		logs.Errorf(err, "demo: push failed")
		return
	}
	logs.Infof("demo: push(version=1) acknowledged by quorum")

	if err := facade.Push(ctx, 1, 2, 1, []byte("second commit"), []tlog.Tag{tagA}, "demo-push-2"); err != nil {
		logs.Errorf(err, "demo: push failed")
		return
	}
	logs.Infof("demo: push(version=2) acknowledged by quorum")

	if err := facade.ConfirmEpochLive(ctx, "demo-confirm"); err != nil {
		logs.Errorf(err, "demo: confirm_epoch_live failed")
		return
	}
	logs.Infof("demo: epoch confirmed live")

	cur, err := facade.Peek(0, tagA)
	if err != nil {
		logs.Errorf(err, "demo: peek failed")
		return
	}
	defer cur.Close()
	for i := 0; i < 2; i++ {
		peekCtx, peekCancel := context.WithTimeout(ctx, time.Second)
		msg, err := cur.Advance(peekCtx)
		peekCancel()
		if err != nil {
			logs.Errorf(err, "demo: peek advance stopped early")
			break
		}
		fmt.Printf("tag=%d version=%d data=%q\n", msg.Tag, msg.Version, msg.Data)
	}

	facade.Pop(ctx, 2, tagA)
	logs.Infof("demo: popped tag=%d up_to=2 (coalesced, async)", tagA)

	state := facade.ToCoreState()
	logs.Infof("demo: core state: %d current tlogs, %d old epochs", len(state.TLogs), len(state.OldTLogData))
}

func uidFromName(name string) tlog.UID {
	var uid tlog.UID
	h := fnv.New128a()
	_, _ = h.Write([]byte(name))
	copy(uid[:], h.Sum(nil))
	return uid
}
