package namespace

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/ftahirops/nvmequal/device"
	"github.com/ftahirops/nvmequal/logger"
	"github.com/ftahirops/nvmequal/util"
)

// SecondsPerOp is the background load runtime budgeted per churn iteration.
const SecondsPerOp = 8

// Op is one churn step.
type Op int

const (
	OpCreate Op = iota
	OpDelete
)

func (o Op) String() string {
	if o == OpCreate {
		return "create"
	}
	return "delete"
}

// ChurnStats counts what a churn run did.
type ChurnStats struct {
	Created int
	Deleted int
	Skipped int
	Elapsed time.Duration
}

// Churn randomly creates and deletes namespaces while unsynchronized background
// I/O runs against the reserved namespaces.
//
// The background loads are detached: nothing observes their exit, and the run
// relies on their runtime (ops × SecondsPerOp) covering the whole loop.
type Churn struct {
	Manager *Manager
	Fio     *device.Fio
	Rand    *rand.Rand

	// Reserved ids carry the background load and are never deleted.
	Reserved []int
	// Below Min namespaces a create is forced; above Max a delete is.
	Min, Max int
}

// NewChurn returns a Churn reserving namespaces 1 and 2 with bounds 4 and 15.
func NewChurn(m *Manager, fio *device.Fio, r *rand.Rand) *Churn {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Churn{Manager: m, Fio: fio, Rand: r, Reserved: []int{1, 2}, Min: 4, Max: 15}
}

// LoadJobs returns the sequential-write and random read/write background jobs
// against the first two reserved namespaces.
func (c *Churn) LoadJobs(dev string, runtime int) []device.Job {
	return []device.Job{
		{
			Name: "seqwrite", RW: "write", BlockSize: "256k", IODepth: 64, NumJobs: 32,
			Runtime: runtime, Sync: true, Files: []string{device.NamespacePath(dev, c.Reserved[0])},
		},
		{
			Name: "4krand5050", RW: "randrw", BlockSize: "4k", IODepth: 1, NumJobs: 32,
			Runtime: runtime, Sync: true, Files: []string{device.NamespacePath(dev, c.Reserved[1])},
		},
	}
}

// StartLoad launches the background loads without keeping any handle on them.
func (c *Churn) StartLoad(ctx context.Context, dev string, runtime int) error {
	log := logger.FromContext(ctx)
	for _, j := range c.LoadJobs(dev, runtime) {
		if err := c.Fio.Start(j); err != nil {
			return fmt.Errorf("start %s load: %w", j.Name, err)
		}
		log.Debug("background load started", "job", j.Name, "file", j.Files[0], "runtime", runtime)
	}
	return nil
}

// Choose picks the next operation for a controller showing count namespaces.
func (c *Churn) Choose(count int) Op {
	switch {
	case count > c.Max:
		return OpDelete
	case count < c.Min:
		return OpCreate
	}
	return Op(c.Rand.IntN(2))
}

// Victim picks a namespace to delete uniformly among the non-reserved ids.
func (c *Churn) Victim(ids []int) (int, bool) {
	var candidates []int
	for _, id := range ids {
		if !slices.Contains(c.Reserved, id) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[c.Rand.IntN(len(candidates))], true
}

// Run performs ops create/delete iterations of size-byte namespaces on dev.
// Every iteration reads a fresh snapshot.
func (c *Churn) Run(ctx context.Context, dev string, size uint64, ops int) (ChurnStats, error) {
	log := logger.FromContext(ctx)
	var stats ChurnStats
	start := time.Now()

	for i := 0; i < ops; i++ {
		ctrl, err := c.Manager.Tree.Controller(ctx, dev)
		if err != nil {
			return stats, err
		}
		ids := ctrl.NamespaceIDs()

		switch op := c.Choose(len(ids)); op {
		case OpCreate:
			log.Debug("creating a namespace", "iteration", i, "count", len(ids))
			if _, err := c.Manager.Create(ctx, dev, size, DefaultBlockSize, ctrl.ControllerID); err != nil {
				return stats, err
			}
			stats.Created++
		case OpDelete:
			victim, ok := c.Victim(ids)
			if !ok {
				log.Debug("only reserved namespaces left, skipping delete", "iteration", i)
				stats.Skipped++
				continue
			}
			log.Debug("deleting a namespace", "iteration", i, "nsid", victim)
			if err := c.Manager.Delete(ctx, dev, victim, DefaultDeleteTimeout); err != nil {
				return stats, err
			}
			stats.Deleted++
		}
	}

	stats.Elapsed = time.Since(start)
	log.Info("churn complete", "created", stats.Created, "deleted", stats.Deleted,
		"skipped", stats.Skipped, "ops_per_sec", util.Rate(stats.Created+stats.Deleted, stats.Elapsed))
	return stats, nil
}
