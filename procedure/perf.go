package procedure

import (
	"context"
	"log/slog"

	"github.com/ftahirops/nvmequal/device"
	"github.com/ftahirops/nvmequal/engine"
)

// Perf runs one fio workload on a factory reset drive and checks it against
// minimum thresholds.
type Perf struct {
	engine.Base
	env *Env

	job   func() device.Job
	check func(log *slog.Logger, s device.Stats) bool

	// Stats of the last run.
	Stats device.Stats
}

func newPerf(env *Env, name, description string, job func() device.Job, check func(*slog.Logger, device.Stats) bool) *Perf {
	return &Perf{Base: engine.NewBase(name, description), env: env, job: job, check: check}
}

func (p *Perf) Execute(ctx context.Context) error {
	ctx, log := p.Begin(ctx)
	if err := p.env.factoryReset(ctx, log); err != nil {
		return err
	}
	stats, ok, err := p.env.measure(ctx, log, p.job())
	p.Stats = stats
	if !ok {
		return err
	}
	if !p.check(log, stats) {
		return nil
	}
	log.Info("drive passed bandwidth requirements")
	p.Pass()
	return nil
}

func (e *Env) n1() string { return device.NamespacePath(e.drive(), 1) }

func NewSeqRead(env *Env) *Perf {
	cfg := env.Config.Tests.PerfSeqRead
	return newPerf(env, "perf_seq_read", "Executes a sequential large block (256k) read only test",
		func() device.Job { return env.job("seqread", "read", "128k", 64, env.Config.Runtime(cfg.Runtime), env.n1()) },
		func(log *slog.Logger, s device.Stats) bool { return atLeast(log, "bandwidth", s.ReadBW, cfg.Bandwidth) })
}

func NewSeqWrite(env *Env) *Perf {
	cfg := env.Config.Tests.PerfSeqWrite
	return newPerf(env, "perf_seq_write", "Executes a sequential large block (256k) write only test",
		func() device.Job { return env.job("seqwrite", "write", "128k", 64, env.Config.Runtime(cfg.Runtime), env.n1()) },
		func(log *slog.Logger, s device.Stats) bool { return atLeast(log, "bandwidth", s.WriteBW, cfg.Bandwidth) })
}

func NewSeqMixed(env *Env) *Perf {
	cfg := env.Config.Tests.PerfSeqMixed
	return newPerf(env, "perf_seq_mixed", "Executes a sequential large block (256k) read/write test",
		func() device.Job { return env.job("seqmixed", "rw", "128k", 64, env.Config.Runtime(cfg.Runtime), env.n1()) },
		func(log *slog.Logger, s device.Stats) bool { return mixedOK(log, s, cfg.BWRead, cfg.BWWrite, cfg.BWMixed) })
}

func NewRandRead(env *Env) *Perf {
	cfg := env.Config.Tests.PerfRandRead
	return newPerf(env, "perf_rand_read", "Executes a random small block (4k) read test",
		func() device.Job {
			return env.job("4krandread", "randread", "4k", 4, env.Config.Runtime(cfg.Runtime), env.n1())
		},
		func(log *slog.Logger, s device.Stats) bool { return atLeast(log, "iops", s.ReadIOPS, cfg.IOPS) })
}

func NewRandWrite(env *Env) *Perf {
	cfg := env.Config.Tests.PerfRandWrite
	return newPerf(env, "perf_rand_write", "Executes a random small block (4k) write test",
		func() device.Job {
			return env.job("4krandwrite", "randwrite", "4k", 1, env.Config.Runtime(cfg.Runtime), env.n1())
		},
		func(log *slog.Logger, s device.Stats) bool { return atLeast(log, "iops", s.WriteIOPS, cfg.IOPS) })
}

func atLeast(log *slog.Logger, metric string, got, want float64) bool {
	if got < want {
		log.Error("drive failed", "metric", metric, "required", want, "measured", got)
		return false
	}
	log.Info("threshold met", "metric", metric, "required", want, "measured", got)
	return true
}

// mixedOK checks the combined bandwidth first, then each direction.
func mixedOK(log *slog.Logger, s device.Stats, read, write, mixed float64) bool {
	return atLeast(log, "mixed bandwidth", s.ReadBW+s.WriteBW, mixed) &&
		atLeast(log, "read bandwidth", s.ReadBW, read) &&
		atLeast(log, "write bandwidth", s.WriteBW, write)
}
