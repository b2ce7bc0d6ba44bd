package procedure

import (
	"context"
	"log/slog"

	"github.com/ftahirops/nvmequal/config"
	"github.com/ftahirops/nvmequal/device"
	"github.com/ftahirops/nvmequal/engine"
)

// Sampled bytes of each namespace compared around an erase.
const (
	sampleBytes  = 100
	sampleOffset = 1000000
)

// SecureErase fills namespaces with data, erases and compares raw samples.
type SecureErase struct {
	engine.Base
	env *Env
	cfg func() config.Erase

	// whole erases every namespace; otherwise only namespace 1 and the rest
	// must be untouched.
	whole bool
}

func NewSecureEraseDrive(env *Env) *SecureErase {
	return &SecureErase{
		Base:  engine.NewBase("secure_erase_drive", "Verifies that a secure erase occurs drive wide"),
		env:   env,
		cfg:   func() config.Erase { return env.Config.Tests.SecureEraseDrive },
		whole: true,
	}
}

func NewSecureEraseMultiNamespace(env *Env) *SecureErase {
	return &SecureErase{
		Base: engine.NewBase("secure_erase_multi_namespace",
			"Verifies that a secure erase occurs on a disk with multiple namespaces. Will erase first, but not second."),
		env: env,
		cfg: func() config.Erase { return env.Config.Tests.SecureEraseMultiNamespace },
	}
}

func (p *SecureErase) Execute(ctx context.Context) error {
	ctx, log := p.Begin(ctx)
	e := p.env
	cfg := p.cfg()

	if err := e.reset(ctx, log); err != nil {
		return err
	}
	if ok, err := e.supports(ctx, log, cfg.NS); !ok {
		return err
	}
	files, err := e.createAll(ctx, cfg.NSSize, cfg.NS)
	if err != nil {
		return err
	}

	fill := device.Job{
		Name: "diskfill", RW: "write", BlockSize: "256k", IODepth: 8,
		NumJobs: len(files), Files: files, JSON: true,
	}
	log.Info("filling namespaces", "count", len(files))
	res, err := e.Fio.Run(ctx, fill)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		log.Error("unable to fill namespaces", "stderr", res.Stderr)
		return nil
	}

	before, err := p.sample(ctx, files)
	if err != nil {
		return err
	}

	if p.whole {
		res, err = e.NVMe.FormatAll(ctx, e.drive())
	} else {
		res, err = e.NVMe.Format(ctx, e.drive(), 1, 2)
	}
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		log.Error("format failed", "whole", p.whole, "stderr", res.Stderr)
		return nil
	}

	after, err := p.sample(ctx, files)
	if err != nil {
		return err
	}
	if !p.compare(log, files, before, after) {
		return nil
	}
	if p.whole {
		log.Info("secure erase successfully completed")
	} else {
		log.Info("erase of individual namespace completed successfully")
	}
	p.Pass()
	return nil
}

func (p *SecureErase) sample(ctx context.Context, files []string) ([]string, error) {
	out := make([]string, len(files))
	for i, f := range files {
		s, err := p.env.Hexdump.Sample(ctx, f, sampleBytes, sampleOffset)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// compare requires every erased namespace to change and every other one not to.
func (p *SecureErase) compare(log *slog.Logger, files, before, after []string) bool {
	for i, f := range files {
		erased := p.whole || i == 0
		changed := before[i] != after[i]
		switch {
		case erased && !changed:
			log.Error("namespace does not appear to be wiped cleanly", "namespace", f)
			return false
		case !erased && changed:
			log.Error("namespace appears to have been affected by the format, this must not happen", "namespace", f)
			return false
		}
	}
	return true
}
