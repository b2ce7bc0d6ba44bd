package procedure

import (
	"context"
	"errors"

	"github.com/ftahirops/nvmequal/device"
	"github.com/ftahirops/nvmequal/engine"
	"github.com/ftahirops/nvmequal/namespace"
	"github.com/ftahirops/nvmequal/util"
)

// reusedIDs are deleted and recreated by the layout check.
var reusedIDs = []int{1, 2, 3}

// NSLayout fills the drive with namespaces and checks deleted ids are reused.
type NSLayout struct {
	engine.Base
	env *Env
}

func NewNSLayout(env *Env) *NSLayout {
	return &NSLayout{
		Base: engine.NewBase("ns_layout",
			"Executes laying out many namespaces on the drive to ensure proper namespace ordering."),
		env: env,
	}
}

func (p *NSLayout) Execute(ctx context.Context) error {
	ctx, log := p.Begin(ctx)
	e := p.env
	count := e.Config.Tests.General.MaxNS

	if ok, err := e.supports(ctx, log, count); !ok {
		return err
	}
	if err := e.reset(ctx, log); err != nil {
		return err
	}

	err := e.Namespaces.VerifyIDReuse(ctx, e.drive(), count, util.GiB(e.Config.Tests.NSLayout.NSSize), reusedIDs)
	var reuse *namespace.ReuseError
	var mismatch *namespace.CountError
	switch {
	case errors.As(err, &reuse):
		log.Error("the namespace ids were not reused, a deleted identifier should be reused on a subsequent create",
			"diff", reuse.Error())
		return nil
	case errors.As(err, &mismatch):
		log.Error("the number of namespaces is not accurate, please investigate", "want", mismatch.Want, "got", mismatch.Got)
		return nil
	case err != nil:
		return err
	}
	log.Info("namespaces created in slots of prior deleted")
	p.Pass()
	return nil
}

// parallelMinNamespaces is the id space the churn needs above its bounds.
const parallelMinNamespaces = 16

// Parallel churns namespaces while background I/O hammers two reserved ones.
// A hang is the failure signal.
type Parallel struct {
	engine.Base
	env *Env

	// Stats of the last churn.
	Stats namespace.ChurnStats
}

func NewParallel(env *Env) *Parallel {
	return &Parallel{
		Base: engine.NewBase("parallel", "Executes I/O operations in parallel to namespace create/delete."),
		env:  env,
	}
}

func (p *Parallel) Execute(ctx context.Context) error {
	ctx, log := p.Begin(ctx)
	e := p.env
	cfg := e.Config.Tests.Parallel

	if ok, err := e.supports(ctx, log, parallelMinNamespaces); !ok {
		return err
	}
	log.Info("note, this test takes a while, failure is a hang")
	if err := e.reset(ctx, log); err != nil {
		return err
	}

	log.Debug("creating baseline namespaces for background I/O")
	if _, err := e.createAll(ctx, cfg.NSFioSize, 2); err != nil {
		return err
	}

	churn := namespace.NewChurn(e.Namespaces, e.Fio, e.Rand)
	if err := churn.StartLoad(ctx, e.drive(), cfg.RandomOps*namespace.SecondsPerOp); err != nil {
		return err
	}

	log.Debug("creating namespaces to start namespace ops", "count", cfg.InitialNS)
	if _, err := e.createAll(ctx, cfg.NSSize, cfg.InitialNS); err != nil {
		return err
	}

	log.Debug("running create/delete namespace ops while fio runs", "ops", cfg.RandomOps)
	stats, err := churn.Run(ctx, e.drive(), util.GiB(cfg.NSSize), cfg.RandomOps)
	p.Stats = stats
	if err != nil {
		return err
	}
	log.Info("completed parallel I/O and namespace creation test")
	p.Pass()
	return nil
}

// MultiNSPerf runs a mixed workload across the maximum number of namespaces.
type MultiNSPerf struct {
	engine.Base
	env *Env

	Stats device.Stats
}

func NewMultiNSPerf(env *Env) *MultiNSPerf {
	return &MultiNSPerf{
		Base: engine.NewBase("multi_ns_perf",
			"Runs I/O tests across many namespaces and validates the overall performance."),
		env: env,
	}
}

func (p *MultiNSPerf) Execute(ctx context.Context) error {
	ctx, log := p.Begin(ctx)
	e := p.env
	cfg := e.Config.Tests.MultiNSPerf
	count := e.Config.Tests.General.MaxNS

	if ok, err := e.supports(ctx, log, count); !ok {
		return err
	}
	if err := e.reset(ctx, log); err != nil {
		return err
	}
	files, err := e.createAll(ctx, cfg.NSSize, count)
	if err != nil {
		return err
	}

	j := e.job("seqmixed", "rw", "256k", 64, e.Config.Tests.General.FioRuntime, files...)
	j.IOEngine = ""
	stats, ok, err := e.measure(ctx, log, j)
	p.Stats = stats
	if !ok {
		return err
	}
	if !mixedOK(log, stats, cfg.BWRead, cfg.BWWrite, cfg.BWMixed) {
		return nil
	}
	log.Info("drive met minimum bandwidth")
	p.Pass()
	return nil
}
