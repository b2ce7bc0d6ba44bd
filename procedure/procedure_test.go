package procedure

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftahirops/nvmequal/config"
	"github.com/ftahirops/nvmequal/engine"
	"github.com/ftahirops/nvmequal/logger"
	"github.com/ftahirops/nvmequal/model"
	"github.com/ftahirops/nvmequal/opal"
	"github.com/ftahirops/nvmequal/runner/runnertest"
)

type fixture struct {
	host *runnertest.Host
	dev  *runnertest.Device
	cfg  *config.Config
	env  *Env
}

func newFixture(t *testing.T, tune ...func(*runnertest.Device)) *fixture {
	t.Helper()
	dev := runnertest.NewDevice("nvme0")
	for _, f := range tune {
		f(dev)
	}
	host := runnertest.NewHost(dev)
	root := t.TempDir()
	require.NoError(t, host.Sysfs(root))

	cfg := config.Default()
	cfg.Drive = config.Drive{Name: "nvme0", PSID: dev.PSID}
	cfg.Tools.Sysfs = root
	cfg.Timing = config.Timing{}
	cfg.Tests.General.FioRuntime = 10
	cfg.Tests.NSLayout.NSSize = 1
	cfg.Tests.MultiNSPerf.NSSize = 1
	cfg.Tests.Parallel = config.Parallel{RandomOps: 25, NSFioSize: 100, NSSize: 1, InitialNS: 8}
	cfg.Tests.SecureEraseDrive = config.Erase{NS: 4, NSSize: 1}
	cfg.Tests.SecureEraseMultiNamespace = config.Erase{NS: 4, NSSize: 1}

	env := NewEnv(&cfg, host)
	env.Parted.Glob = func(string) ([]string, error) { return nil, nil }
	env.Rand = rand.New(rand.NewPCG(7, 11))
	env.Sleep = func(context.Context, time.Duration) error { return nil }
	return &fixture{host: host, dev: dev, cfg: &cfg, env: env}
}

// fioLines returns the journaled fio command lines.
func (f *fixture) fioLines() []string {
	var out []string
	for _, line := range f.host.Journal() {
		if strings.HasPrefix(line, "fio ") {
			out = append(out, line)
		}
	}
	return out
}

func execute(t *testing.T, p engine.Procedure) error {
	t.Helper()
	return p.Execute(context.Background())
}

func TestAllInRunOrder(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		"opal_capable", "opal_test_locked_write", "ns_layout", "parallel",
		"perf_seq_read", "perf_seq_write", "perf_seq_mixed", "perf_rand_read", "perf_rand_write",
		"multi_ns_perf", "secure_erase_drive", "secure_erase_multi_namespace", "fw_update_simple",
	}, Names(All(f.env)))
	for _, p := range All(f.env) {
		assert.Equal(t, model.Ignored, p.Result(), p.Name())
		assert.NotEmpty(t, p.Description(), p.Name())
	}
}

func TestOpalCapable(t *testing.T) {
	f := newFixture(t)
	p := NewOpalCapable(f.env)
	require.NoError(t, execute(t, p))
	assert.Equal(t, model.Passed, p.Result())

	f = newFixture(t, func(d *runnertest.Device) { d.OpalCapable = false })
	p = NewOpalCapable(f.env)
	require.NoError(t, execute(t, p))
	assert.Equal(t, model.Failed, p.Result())
	assert.Contains(t, p.Report(), "not capable of OPAL")
}

func TestOpalLockTest(t *testing.T) {
	f := newFixture(t)
	p := NewOpalLockTest(f.env)
	require.NoError(t, execute(t, p))

	assert.Equal(t, model.Passed, p.Result())
	assert.Equal(t, opal.Reverted, p.Session.State)
	assert.Equal(t, []int{1}, f.host.Attached("nvme0"))
	assert.False(t, f.host.OpalSetup("nvme0"))

	lines := f.fioLines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "--ramp_time=2")
	assert.Contains(t, lines[0], "--runtime=5")
	assert.NotContains(t, lines[0], "--ioengine")
}

func TestOpalLockTestFailureReverts(t *testing.T) {
	f := newFixture(t)
	f.host.FailOn("--setLockingRange LK")
	p := NewOpalLockTest(f.env)

	err := execute(t, p)
	var step *opal.StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, model.Failed, p.Result())
	assert.Equal(t, opal.Reverted, p.Session.State)
	assert.False(t, f.host.Locked("nvme0"))
}

func TestNSLayout(t *testing.T) {
	f := newFixture(t)
	f.host.AddNamespace("nvme0", 5, 1<<30, true)
	p := NewNSLayout(f.env)
	require.NoError(t, execute(t, p))

	assert.Equal(t, model.Passed, p.Result(), p.Report())
	assert.Len(t, f.host.Attached("nvme0"), 32)
	assert.Contains(t, p.Report(), "slots of prior deleted")
}

func TestNSLayoutDetectsMissingReuse(t *testing.T) {
	f := newFixture(t, func(d *runnertest.Device) {
		d.MaxNS = 40
		d.MonotonicIDs = true
	})
	p := NewNSLayout(f.env)
	require.NoError(t, execute(t, p))
	assert.Equal(t, model.Failed, p.Result())
	assert.Contains(t, p.Report(), "were not reused")
}

func TestNSLayoutNeedsEnoughNamespaces(t *testing.T) {
	f := newFixture(t, func(d *runnertest.Device) { d.MaxNS = 8 })
	p := NewNSLayout(f.env)
	require.NoError(t, execute(t, p))
	assert.Equal(t, model.Failed, p.Result())
	assert.Contains(t, p.Report(), "required=32")
	assert.Zero(t, f.host.Count("create-ns"))
}

func TestParallel(t *testing.T) {
	f := newFixture(t)
	p := NewParallel(f.env)
	require.NoError(t, execute(t, p))

	assert.Equal(t, model.Passed, p.Result(), p.Report())
	assert.Equal(t, 25, p.Stats.Created+p.Stats.Deleted+p.Stats.Skipped)
	attached := f.host.Attached("nvme0")
	assert.Contains(t, attached, 1)
	assert.Contains(t, attached, 2)

	detached := f.host.Detached()
	require.Len(t, detached, 2)
	assert.Contains(t, detached[0].Args, "--runtime=200")
	assert.Contains(t, detached[0].Args, "--filename=/dev/nvme0n1")
	assert.Contains(t, detached[1].Args, "--filename=/dev/nvme0n2")
}

func TestParallelNeedsSixteenNamespaces(t *testing.T) {
	f := newFixture(t, func(d *runnertest.Device) { d.MaxNS = 15 })
	p := NewParallel(f.env)
	require.NoError(t, execute(t, p))
	assert.Equal(t, model.Failed, p.Result())
	assert.Empty(t, f.host.Detached())
}

func TestPerf(t *testing.T) {
	tests := []struct {
		name    string
		mk      func(*Env) *Perf
		tune    func(*config.Config)
		pass    bool
		cmdline []string
		absent  []string
	}{
		{
			name: "seq read passes",
			mk:   NewSeqRead,
			tune: func(c *config.Config) { c.Tests.PerfSeqRead.Bandwidth = 2_500_000 },
			pass: true,
			cmdline: []string{"--name=seqread", "--rw=read", "--bs=128k", "--iodepth=64", "--runtime=10",
				"--ramp_time=5", "--numjobs=32", "--sync=1", "--filename=/dev/nvme0n1"},
			absent: []string{"--ioengine"},
		},
		{
			name: "seq read with configured ioengine",
			mk:   NewSeqRead,
			tune: func(c *config.Config) {
				c.Tests.General.IOEngine = "libaio"
				c.Tests.PerfSeqRead.Bandwidth = 2_500_000
			},
			pass:    true,
			cmdline: []string{"--rw=read", "--ioengine=libaio"},
		},
		{
			name: "seq write too slow",
			mk:   NewSeqWrite,
			tune: func(c *config.Config) { c.Tests.PerfSeqWrite.Bandwidth = 2_500_000 },
			pass: false,
		},
		{
			name: "seq mixed passes",
			mk:   NewSeqMixed,
			tune: func(c *config.Config) {
				c.Tests.PerfSeqMixed = config.Mixed{BWRead: 1_000_000, BWWrite: 1_000_000, BWMixed: 4_500_000}
			},
			pass:    true,
			cmdline: []string{"--rw=rw", "--bs=128k"},
		},
		{
			name: "seq mixed combined too slow",
			mk:   NewSeqMixed,
			tune: func(c *config.Config) { c.Tests.PerfSeqMixed = config.Mixed{BWMixed: 6_000_000} },
			pass: false,
		},
		{
			name: "rand read own runtime",
			mk:   NewRandRead,
			tune: func(c *config.Config) { c.Tests.PerfRandRead = config.IOPS{Runtime: 3, IOPS: 600_000} },
			pass: true,
			cmdline: []string{"--name=4krandread", "--rw=randread", "--bs=4k", "--iodepth=4", "--runtime=3"},
		},
		{
			name: "rand write too slow",
			mk:   NewRandWrite,
			tune: func(c *config.Config) { c.Tests.PerfRandWrite.IOPS = 200_000 },
			pass: false,
			cmdline: []string{"--rw=randwrite", "--iodepth=1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.tune(f.cfg)
			p := tt.mk(f.env)
			require.NoError(t, execute(t, p))

			if tt.pass {
				assert.Equal(t, model.Passed, p.Result(), p.Report())
			} else {
				assert.Equal(t, model.Failed, p.Result())
				assert.Contains(t, p.Report(), "drive failed")
			}
			assert.Equal(t, []int{1}, f.host.Attached("nvme0"), "factory reset leaves one namespace")

			lines := f.fioLines()
			require.Len(t, lines, 1)
			fields := strings.Fields(lines[0])
			for _, arg := range tt.cmdline {
				assert.Contains(t, fields, arg)
			}
			for _, arg := range tt.absent {
				assert.NotContains(t, lines[0], arg)
			}
		})
	}
}

func TestPerfChecksMixedBeforeDirections(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tests.PerfSeqMixed = config.Mixed{BWRead: 9_000_000, BWMixed: 9_000_000}
	p := NewSeqMixed(f.env)
	require.NoError(t, execute(t, p))
	assert.Contains(t, p.Report(), `metric="mixed bandwidth"`)
	assert.NotContains(t, p.Report(), `metric="read bandwidth"`)
}

func TestPerfFioFailure(t *testing.T) {
	f := newFixture(t)
	f.host.FailOn("fio")
	p := NewSeqRead(f.env)
	require.NoError(t, execute(t, p))
	assert.Equal(t, model.Failed, p.Result())
	assert.Contains(t, p.Report(), "failed to run test")
}

func TestMultiNSPerfUsesEveryNamespace(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tests.General.MaxNS = 4
	f.cfg.Tests.MultiNSPerf = config.MultiNSPerf{NSSize: 1, BWRead: 1, BWWrite: 1, BWMixed: 1}
	p := NewMultiNSPerf(f.env)
	require.NoError(t, execute(t, p))

	assert.Equal(t, model.Passed, p.Result(), p.Report())
	lines := f.fioLines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "--filename=/dev/nvme0n1:/dev/nvme0n2:/dev/nvme0n3:/dev/nvme0n4")
	assert.Contains(t, lines[0], "--bs=256k")
}

func TestSecureErase(t *testing.T) {
	for _, mk := range []func(*Env) *SecureErase{NewSecureEraseDrive, NewSecureEraseMultiNamespace} {
		f := newFixture(t)
		p := mk(f.env)
		t.Run(p.Name(), func(t *testing.T) {
			require.NoError(t, execute(t, p))
			assert.Equal(t, model.Passed, p.Result(), p.Report())
			assert.Equal(t, 8, f.host.Count("hexdump"))
		})
	}
}

func TestSecureEraseFillFailure(t *testing.T) {
	f := newFixture(t)
	p := NewSecureEraseDrive(f.env)
	f.host.FailOnce("fio")
	require.NoError(t, execute(t, p))
	assert.Equal(t, model.Failed, p.Result())
	assert.Contains(t, p.Report(), "unable to fill")
}

func TestSecureEraseCompare(t *testing.T) {
	files := []string{"/dev/nvme0n1", "/dev/nvme0n2"}
	before := []string{"aaaa", "bbbb"}
	tests := []struct {
		name  string
		whole bool
		after []string
		want  bool
	}{
		{"drive wiped", true, []string{"0000", "0000"}, true},
		{"drive partly wiped", true, []string{"0000", "bbbb"}, false},
		{"namespace wiped alone", false, []string{"0000", "bbbb"}, true},
		{"neighbour affected", false, []string{"0000", "0000"}, false},
		{"namespace untouched", false, []string{"aaaa", "bbbb"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &SecureErase{whole: tt.whole}
			assert.Equal(t, tt.want, p.compare(logger.Discard(), files, before, tt.after))
		})
	}
}

func TestFirmwareUpdate(t *testing.T) {
	f := newFixture(t, func(d *runnertest.Device) { d.PendingFirmware = "GDC7302Q" })
	fw := filepath.Join(t.TempDir(), "GDC7302Q.bin")
	require.NoError(t, os.WriteFile(fw, []byte("image"), 0600))
	f.cfg.Tests.FirmwareUpdate = config.Firmware{File: fw, ExpectedVersion: "GDC7302Q"}

	p := NewFirmwareUpdate(f.env)
	require.NoError(t, execute(t, p))
	assert.Equal(t, model.Passed, p.Result(), p.Report())
	assert.Equal(t, 1, f.host.Count("fw-download", "/dev/nvme0", "--fw="+fw))
	assert.Equal(t, 1, f.host.Count("fw-activate", "-a", "1", "-s", "1"))
	assert.Equal(t, 1, f.host.Count("reset", "/dev/nvme0"))
}

func TestFirmwareUpdateWrongVersion(t *testing.T) {
	f := newFixture(t, func(d *runnertest.Device) { d.PendingFirmware = "GDC7301Q" })
	fw := filepath.Join(t.TempDir(), "GDC7302Q.bin")
	require.NoError(t, os.WriteFile(fw, []byte("image"), 0600))
	f.cfg.Tests.FirmwareUpdate = config.Firmware{File: fw, ExpectedVersion: "GDC7302Q"}

	p := NewFirmwareUpdate(f.env)
	require.NoError(t, execute(t, p))
	assert.Equal(t, model.Failed, p.Result())
	assert.Contains(t, p.Report(), "found=GDC7301Q")
}

func TestFirmwareUpdateMissingImage(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tests.FirmwareUpdate = config.Firmware{File: "/nonexistent/fw.bin", ExpectedVersion: "X"}
	p := NewFirmwareUpdate(f.env)
	require.NoError(t, execute(t, p))
	assert.Equal(t, model.Failed, p.Result())
	assert.Zero(t, f.host.Count("fw-download"))
}

func TestFirmwareUpdateStepFailure(t *testing.T) {
	f := newFixture(t)
	fw := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(fw, nil, 0600))
	f.cfg.Tests.FirmwareUpdate = config.Firmware{File: fw, ExpectedVersion: "X"}
	f.host.FailOn("fw-activate")

	p := NewFirmwareUpdate(f.env)
	require.NoError(t, execute(t, p))
	assert.Equal(t, model.Failed, p.Result())
	assert.Contains(t, p.Report(), "step=activate")
	assert.Zero(t, f.host.Count("reset", "/dev/nvme0"))
}
