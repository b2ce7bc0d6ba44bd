package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qual.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
drive:
  name: nvme1
  psid: ABCDEF
execute:
  - ns_layout
  - perf_seq_read
test_config:
  general:
    max_ns: 16
    fio_runtime: 30
    ioengine: libaio
  perf_seq_read:
    bandwidth: 2500000
  perf_rand_read:
    runtime: 10
    iops: 500000
timing:
  create_settle: 500ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nvme1", cfg.Drive.Name)
	assert.Equal(t, "ABCDEF", cfg.Drive.PSID)
	assert.Equal(t, []string{"ns_layout", "perf_seq_read"}, cfg.Execute)
	assert.Equal(t, 16, cfg.Tests.General.MaxNS)
	assert.Equal(t, 5, cfg.Tests.General.FioRamptime, "default kept")
	assert.Equal(t, "libaio", cfg.Tests.General.IOEngine, "opted in")
	assert.Equal(t, 2500000.0, cfg.Tests.PerfSeqRead.Bandwidth)
	assert.Equal(t, 500*time.Millisecond, cfg.Timing.CreateSettle)
	assert.Equal(t, time.Second, cfg.Timing.DeleteSettle)
	assert.Equal(t, "fio", cfg.Tools.Fio)

	assert.Equal(t, 30, cfg.Runtime(cfg.Tests.PerfSeqRead.Runtime))
	assert.Equal(t, 10, cfg.Runtime(cfg.Tests.PerfRandRead.Runtime))
}

func TestDefaultLeavesIOEngineToFio(t *testing.T) {
	assert.Empty(t, Default().Tests.General.IOEngine)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
drive:
  name: nvme0
test_config:
  perf_seq_read:
    bandwith: 100
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bandwith")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing drive", func(c *Config) { c.Drive.Name = "" }, "drive.name"},
		{"partition given", func(c *Config) { c.Drive.Name = "nvme0n1" }, "drive.name"},
		{"zero max ns", func(c *Config) { c.Tests.General.MaxNS = 0 }, "general.max_ns"},
		{"zero erase size", func(c *Config) { c.Tests.SecureEraseDrive.NSSize = 0 }, "secure_erase_drive.ns_size"},
		{"too many initial", func(c *Config) { c.Tests.Parallel.InitialNS = 16 }, "initial_ns"},
		{"single erase namespace", func(c *Config) { c.Tests.SecureEraseMultiNamespace.NS = 1 }, "at least 2"},
		{"negative pause", func(c *Config) { c.Timing.ProcedurePause = -time.Second }, "timing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Drive.Name = "nvme0"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Drive = Drive{Name: "nvme3", PSID: "XYZ"}
	cfg.Tests.FirmwareUpdate = Firmware{File: "/opt/fw/GDC7302Q.bin", ExpectedVersion: "GDC7302Q"}
	cfg.Timing.CreateSettle = 3 * time.Second

	path := filepath.Join(t.TempDir(), "sub", "qual.yaml")
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
