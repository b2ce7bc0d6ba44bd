// Package procedure implements the qualification procedures run against the
// drive under test.
package procedure

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ftahirops/nvmequal/collector"
	"github.com/ftahirops/nvmequal/config"
	"github.com/ftahirops/nvmequal/device"
	"github.com/ftahirops/nvmequal/engine"
	"github.com/ftahirops/nvmequal/namespace"
	"github.com/ftahirops/nvmequal/opal"
	"github.com/ftahirops/nvmequal/runner"
	"github.com/ftahirops/nvmequal/util"
)

// Env is everything a procedure needs to reach the drive.
type Env struct {
	Config     *config.Config
	NVMe       *device.NVMe
	Parted     *device.Parted
	Fio        *device.Fio
	Hexdump    *device.Hexdump
	Tree       *collector.Builder
	Namespaces *namespace.Manager
	Opal       opal.Tool
	Rand       *rand.Rand

	// Sleep waits between firmware polls; a context-aware timer when nil.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewEnv wires the command wrappers for cfg on top of r.
func NewEnv(cfg *config.Config, r runner.Runner) *Env {
	nvme := &device.NVMe{Runner: r, Path: cfg.Tools.NVMe}
	parted := &device.Parted{Runner: r, Path: cfg.Tools.Parted}
	tree := &collector.Builder{NVMe: nvme, SysfsRoot: cfg.Tools.Sysfs}

	mgr := namespace.NewManager(nvme, parted, tree)
	mgr.CreateSettle = cfg.Timing.CreateSettle
	mgr.DeleteSettle = cfg.Timing.DeleteSettle

	return &Env{
		Config:     cfg,
		NVMe:       nvme,
		Parted:     parted,
		Fio:        &device.Fio{Runner: r, Path: cfg.Tools.Fio},
		Hexdump:    &device.Hexdump{Runner: r, Path: cfg.Tools.Hexdump},
		Tree:       tree,
		Namespaces: mgr,
		Opal:       opal.NewSedutil(r, cfg.Tools.Sedutil),
	}
}

// All returns every procedure in run order.
func All(env *Env) []engine.Procedure {
	return []engine.Procedure{
		NewOpalCapable(env),
		NewOpalLockTest(env),
		NewNSLayout(env),
		NewParallel(env),
		NewSeqRead(env),
		NewSeqWrite(env),
		NewSeqMixed(env),
		NewRandRead(env),
		NewRandWrite(env),
		NewMultiNSPerf(env),
		NewSecureEraseDrive(env),
		NewSecureEraseMultiNamespace(env),
		NewFirmwareUpdate(env),
	}
}

// Names returns the names of procs in order.
func Names(procs []engine.Procedure) []string {
	names := make([]string, len(procs))
	for i, p := range procs {
		names[i] = p.Name()
	}
	return names
}

func (e *Env) drive() string { return e.Config.Drive.Name }

func (e *Env) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// reset deletes every namespace of the drive.
func (e *Env) reset(ctx context.Context, log *slog.Logger) error {
	log.Info("resetting drive", "device", e.drive())
	c, err := e.Tree.Controller(ctx, e.drive())
	if err != nil {
		return err
	}
	return e.Namespaces.ResetDrive(ctx, c)
}

// factoryReset leaves the drive with a single namespace spanning all capacity.
func (e *Env) factoryReset(ctx context.Context, log *slog.Logger) error {
	id, err := e.Tree.Identity(e.drive())
	if err != nil {
		return err
	}
	log.Info("factory resetting drive", "device", e.drive(), "serial", id.Serial)
	_, err = e.Namespaces.FactoryReset(ctx, id.Serial)
	return err
}

// supports checks the drive handles at least want namespaces, logging why not.
func (e *Env) supports(ctx context.Context, log *slog.Logger, want int) (bool, error) {
	n, err := e.Namespaces.Max(ctx, e.drive())
	if err != nil {
		return false, err
	}
	if n < want {
		log.Error("drive does not support enough namespaces", "device", e.drive(), "supported", n, "required", want)
		return false, nil
	}
	return true, nil
}

// createAll creates qty namespaces of sizeGiB each and returns their block devices.
func (e *Env) createAll(ctx context.Context, sizeGiB, qty int) ([]string, error) {
	ids, err := e.Namespaces.BulkCreate(ctx, e.drive(), util.GiB(sizeGiB), namespace.DefaultBlockSize, qty)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = device.NamespacePath(e.drive(), id)
	}
	return paths, nil
}

// job returns a 32-job synchronous fio workload with the configured ramp and engine.
func (e *Env) job(name, rw, bs string, iodepth, runtime int, files ...string) device.Job {
	g := e.Config.Tests.General
	return device.Job{
		Name:      name,
		RW:        rw,
		BlockSize: bs,
		IODepth:   iodepth,
		NumJobs:   32,
		Runtime:   runtime,
		Ramp:      g.FioRamptime,
		Sync:      true,
		IOEngine:  g.IOEngine,
		Files:     files,
		JSON:      true,
	}
}

// measure runs j and parses its statistics. ok is false when fio failed.
func (e *Env) measure(ctx context.Context, log *slog.Logger, j device.Job) (stats device.Stats, ok bool, err error) {
	log.Info("running fio", "job", j.Name, "files", len(j.Files), "runtime", j.Runtime)
	res, err := e.Fio.Run(ctx, j)
	if err != nil {
		return stats, false, err
	}
	if res.ExitCode != 0 {
		log.Error("failed to run test", "exit", res.ExitCode, "stderr", res.Stderr)
		return stats, false, nil
	}
	log.Info("I/O command completed, comparing data")
	stats, err = device.ParseStats(res.Stdout)
	if err != nil {
		return stats, false, err
	}
	log.Debug("raw test results", "output", res.Stdout)
	return stats, true, nil
}
