package procedure

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/ftahirops/nvmequal/device"
	"github.com/ftahirops/nvmequal/engine"
)

const (
	// firmware commit action: replace the image in the slot and activate at reset.
	fwCommitAction = 1
	fwSlot         = 1

	fwPollAttempts = 60
	fwPollInterval = time.Second
)

// FirmwareUpdate downloads, activates and verifies a new firmware image.
type FirmwareUpdate struct {
	engine.Base
	env *Env
}

func NewFirmwareUpdate(env *Env) *FirmwareUpdate {
	return &FirmwareUpdate{
		Base: engine.NewBase("fw_update_simple",
			"Applies new firmware on a disk. Does with a single namespace."),
		env: env,
	}
}

func (p *FirmwareUpdate) Execute(ctx context.Context) error {
	ctx, log := p.Begin(ctx)
	e := p.env
	cfg := e.Config.Tests.FirmwareUpdate

	if err := e.factoryReset(ctx, log); err != nil {
		return err
	}
	if _, err := os.Stat(cfg.File); err != nil {
		log.Error("firmware not available", "path", cfg.File, "err", err)
		return nil
	}

	steps := []struct {
		what string
		run  func() (string, int, error)
	}{
		{"download", func() (string, int, error) {
			res, err := e.NVMe.FirmwareDownload(ctx, e.drive(), cfg.File)
			return res.Stdout + res.Stderr, res.ExitCode, err
		}},
		{"activate", func() (string, int, error) {
			res, err := e.NVMe.FirmwareActivate(ctx, e.drive(), fwCommitAction, fwSlot)
			return res.Stdout + res.Stderr, res.ExitCode, err
		}},
		{"reset", func() (string, int, error) {
			res, err := e.NVMe.Reset(ctx, e.drive())
			return res.Stdout + res.Stderr, res.ExitCode, err
		}},
	}
	for _, s := range steps {
		out, code, err := s.run()
		if err != nil {
			return err
		}
		if code != 0 {
			log.Error("firmware step failed", "step", s.what, "device", e.drive(), "exit", code, "output", out)
			return nil
		}
		log.Info("firmware step completed", "step", s.what, "response", strings.TrimSpace(out))
	}

	n1 := device.NamespacePath(e.drive(), 1)
	for i := 0; i < fwPollAttempts; i++ {
		if i > 0 {
			if err := e.sleep(ctx, fwPollInterval); err != nil {
				return err
			}
		}
		namespaces, err := e.NVMe.List(ctx)
		if err != nil {
			log.Debug("device list unavailable after reset", "err", err)
			continue
		}
		for _, ns := range namespaces {
			if ns.DevicePath != n1 {
				continue
			}
			if ns.Firmware != cfg.ExpectedVersion {
				log.Error("unexpected firmware", "found", ns.Firmware, "expected", cfg.ExpectedVersion)
				return nil
			}
			log.Info("firmware applied correctly", "version", ns.Firmware)
			p.Pass()
			return nil
		}
	}
	log.Error("device not found after firmware update", "device", n1, "waited", fwPollAttempts*fwPollInterval)
	return nil
}
