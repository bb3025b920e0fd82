// cmd/loadgen drives a push throughput benchmark against an in-process Log
// System Facade, the generalized analogue of the teacher's cmd/perf
// MultiPut benchmark: concurrent workers hammering push instead of
// MultiPut, with the same job-queue/worker-pool/throughput-report shape.
package main

import (
	"context"
	"flag"
	"math/rand"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"

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
	totalReq := flag.Int("total-requests", 10000, "total number of push requests")
	concurrency := flag.Int("concurrency", 32, "number of concurrent workers")
	tagsPerReq := flag.Int("tags-per-req", 2, "number of tags per push request")
	valueSize := flag.Int("value-bytes", 1024, "message payload size in bytes")
	flag.Parse()

	logs.Infof("push benchmark start: topology=%s total=%d concurrency=%d tags-per-req=%d value-bytes=%d",
		*topologyPath, *totalReq, *concurrency, *tagsPerReq, *valueSize)

	topo, err := config.LoadTopology(*topologyPath)
	if err != nil {
		logs.Errorf(err, "loadgen: failed to load topology")
		return
	}

	pol := policy.Simple{MinZones: 1}
	env := clockenv.System{}

	workers := make([]newepoch.Worker, len(topo.Workers))
	for i, w := range topo.Workers {
		var uid tlog.UID
		uid[0] = byte(i)
		workers[i] = newepoch.Worker{
			UID:      uid,
			Locality: tlog.LocalityData{Zone: w.Zone, DataHall: w.DataHall},
			Recruit:  newepoch.LocalRecruiter{UID: uid},
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := newepoch.Build(ctx, recovery.Candidate{Policy: pol}, workers, *replicationFactor, *antiQuorum, pol, env, 2*time.Second)
	if err != nil {
		logs.Errorf(err, "loadgen: new epoch recruitment failed")
		return
	}

	facade, err := logsystem.NewCurrent(result.Config, result.Handles, nil, env)
	if err != nil {
		logs.Errorf(err, "loadgen: failed to bind facade")
		return
	}
	defer facade.Close()

	value := make([]byte, *valueSize)
	rnd := rand.New(rand.NewSource(1))
	for i := range value {
		value[i] = byte(rnd.Intn(256))
	}

	numTags := len(topo.Workers)
	if numTags == 0 {
		numTags = 1
	}

	type job struct {
		version tlog.Version
		tags    []tlog.Tag
	}
	jobs := make(chan job, *totalReq)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		errCount  int
		startTime = time.Now()
	)

	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				reqCtx, reqCancel := context.WithTimeout(ctx, 10*time.Second)
				err := facade.Push(reqCtx, j.version-1, j.version, j.version-1, value, j.tags, "loadgen")
				reqCancel()
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < *totalReq; i++ {
		tags := make([]tlog.Tag, *tagsPerReq)
		for t := range tags {
			tags[t] = tlog.Tag((i + t) % numTags)
		}
		jobs <- job{version: tlog.Version(i + 1), tags: tags}
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(startTime).Seconds()
	successReq := *totalReq - errCount
	totalBytes := float64(successReq * (*valueSize))
	qps := float64(successReq) / elapsed
	mbps := totalBytes / (1024 * 1024) / elapsed

	logs.Infof("=== push benchmark result ===")
	logs.Infof("Total requests:      %d", *totalReq)
	logs.Infof("Successful requests: %d", successReq)
	logs.Infof("Failed requests:     %d", errCount)
	logs.Infof("Elapsed time:        %.3f s", elapsed)
	logs.Infof("Throughput:          %.2f req/s", qps)
	logs.Infof("Data throughput:     %.2f MB/s", mbps)
}
