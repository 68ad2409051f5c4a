// Command chunkmasterd is the minimal wiring entrypoint for the chunk
// management core: it constructs a core.Core and the scheduler.Scheduler
// that drives it, loads the chunk snapshot if one exists, and starts the
// tick goroutine. Its only CLI flag is -data-dir, and it has no HTTP
// front-end — both are out of scope (spec.md §1); a real deployment wraps this
// construction with its own config/transport layer the way cmd/siad wraps
// modules.New* calls with an HTTP API server.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NebulousLabs/errors"

	"github.com/moosefs/chunkmaster/build"
	"github.com/moosefs/chunkmaster/chunkid"
	"github.com/moosefs/chunkmaster/config"
	"github.com/moosefs/chunkmaster/core"
	"github.com/moosefs/chunkmaster/csreg"
	"github.com/moosefs/chunkmaster/engine"
	"github.com/moosefs/chunkmaster/filelist"
	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/persist"
	"github.com/moosefs/chunkmaster/placement"
	"github.com/moosefs/chunkmaster/queue"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
	"github.com/moosefs/chunkmaster/scheduler"
	"github.com/moosefs/chunkmaster/sclass"
	"github.com/moosefs/chunkmaster/snapshot"
	"github.com/moosefs/chunkmaster/stats"
)

// buildCore assembles a core.Core from fresh collaborators, the same
// wiring a test's setup helper does, just with real (not fake) arenas and
// registries. dataDir holds chunks.mdat (the snapshot) and histogram.db
// (the bbolt-backed loop histogram); both are optional on first start.
func buildCore(dataDir string, log *persist.Logger) (*core.Core, *stats.Histogram, uint64, error) {
	replicaArena := replica.NewArena()
	fileArena := filelist.NewArena()
	reg := registry.New(replicaArena, fileArena)
	servers := csreg.New()
	classes := sclass.NewMapRegistry()

	c := &core.Core{
		Registry: reg,
		Servers:  servers,
		Queues:   queue.New(),
		Classes:  classes,
		Matcher:  placement.DecodingMatcher{},
		ChunkIDs: chunkid.New(),
		Delay:    queue.NewDelayProtector(),
		Replock:  queue.NewReplicationLock(),
		Ops:      stats.NewOpCounters(),
		Repl:     stats.NewReplicationCounters(),
		Sclasses: stats.NewSclassCounters(),
		Cluster:  stats.NewClusterSnapshot(),
	}

	var nextChunkID uint64 = 1
	snapPath := filepath.Join(dataDir, "chunks.mdat")
	if f, err := os.Open(snapPath); err == nil {
		defer f.Close()
		n, err := snapshot.Load(f, reg, fileArena)
		if err != nil {
			return nil, nil, 0, errors.AddContext(err, "loading chunk snapshot")
		}
		nextChunkID = n
		log.Printf("loaded chunk snapshot %s, next chunk id %d", snapPath, nextChunkID)
	} else if !os.IsNotExist(err) {
		return nil, nil, 0, errors.AddContext(err, "opening chunk snapshot")
	}
	c.ChunkIDs = chunkid.NewFrom(nextChunkID)

	hist, err := stats.OpenHistogram(filepath.Join(dataDir, "histogram.db"), 10000)
	if err != nil {
		return nil, nil, 0, errors.AddContext(err, "opening loop histogram")
	}

	return c, hist, nextChunkID, nil
}

// buildScheduler wires a scheduler.Scheduler around c, with a no-op Sink
// that only logs commands: a real deployment supplies a Sink that actually
// writes to the chunk-server connections, which belongs to the (out of
// scope) transport layer.
func buildScheduler(c *core.Core, log *persist.Logger) *scheduler.Scheduler {
	tunables := config.Default().Sanitize()

	info := &core.ServerInfo{Servers: c.Servers, Repl: c.Repl}
	job := &engine.Job{
		Tunables:     tunables,
		Classes:      c.Classes,
		Servers:      c.Servers,
		Matcher:      placement.DecodingMatcher{},
		Info:         info,
		ReplicaArena: c.Registry.ReplicaArena(),
		Delay:        c.Delay,
		Replock:      c.Replock,
		Queues:       c.Queues,
	}

	sink := scheduler.SinkFunc(func(cmd ops.Command) {
		log.Debugln("command issued:", cmd)
	})

	return scheduler.New(c.Registry, c.Servers, job, tunables, sink)
}

func main() {
	dataDir := flag.String("data-dir", "chunkmasterd-data", "directory holding the chunk snapshot and stats database")
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0700); err != nil {
		fmt.Fprintln(os.Stderr, "chunkmasterd:", err)
		os.Exit(1)
	}

	log, err := persist.NewFileLogger(filepath.Join(*dataDir, "chunkmasterd.log"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "chunkmasterd:", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Printf("chunkmasterd %s starting (release %s)", build.Version, build.Release)

	c, hist, _, err := buildCore(*dataDir, log)
	if err != nil {
		log.Critical("chunkmasterd: failed to build core:", err)
		os.Exit(1)
	}
	defer hist.Close()

	sched := buildScheduler(c, log)
	if err := sched.Start(); err != nil {
		log.Critical("chunkmasterd: failed to start scheduler:", err)
		os.Exit(1)
	}
	defer sched.Stop()

	log.Println("chunkmasterd ready")
	select {}
}
