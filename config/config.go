// Package config loads the qualification run configuration.
package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds every recognized option of a qualification run.
type Config struct {
	Drive Drive `yaml:"drive"`
	// Execute selects procedures by name; empty runs all of them.
	Execute []string `yaml:"execute,omitempty"`
	Tests   Tests    `yaml:"test_config"`
	Tools   Tools    `yaml:"tools"`
	Timing  Timing   `yaml:"timing"`
	Notify  Notify   `yaml:"notify,omitempty"`
}

type Drive struct {
	Name string `yaml:"name"` // e.g. "nvme0"
	PSID string `yaml:"psid"`
}

type Tests struct {
	General                   General     `yaml:"general"`
	NSLayout                  NSLayout    `yaml:"ns_layout"`
	MultiNSPerf               MultiNSPerf `yaml:"multi_ns_perf"`
	Parallel                  Parallel    `yaml:"parallel"`
	PerfSeqRead               Bandwidth   `yaml:"perf_seq_read"`
	PerfSeqWrite              Bandwidth   `yaml:"perf_seq_write"`
	PerfSeqMixed              Mixed       `yaml:"perf_seq_mixed"`
	PerfRandRead              IOPS        `yaml:"perf_rand_read"`
	PerfRandWrite             IOPS        `yaml:"perf_rand_write"`
	SecureEraseDrive          Erase       `yaml:"secure_erase_drive"`
	SecureEraseMultiNamespace Erase       `yaml:"secure_erase_multi_namespace"`
	FirmwareUpdate            Firmware    `yaml:"fw_update_simple"`
}

type General struct {
	MaxNS       int    `yaml:"max_ns"`
	FioRuntime  int    `yaml:"fio_runtime"`  // seconds
	FioRamptime int    `yaml:"fio_ramptime"` // seconds
	IOEngine    string `yaml:"ioengine"`
	LogLevel    string `yaml:"log_level"`
}

// Sizes are GiB.
type NSLayout struct {
	NSSize int `yaml:"ns_size"`
}

type MultiNSPerf struct {
	NSSize  int     `yaml:"ns_size"`
	BWRead  float64 `yaml:"bw_read"`
	BWWrite float64 `yaml:"bw_write"`
	BWMixed float64 `yaml:"bw_mixed"`
}

type Parallel struct {
	RandomOps int `yaml:"random_ops"`
	NSFioSize int `yaml:"ns_fio_size"`
	NSSize    int `yaml:"ns_size"`
	InitialNS int `yaml:"initial_ns"`
}

// Bandwidth thresholds are KiB/s as reported by fio. Runtime 0 uses the general one.
type Bandwidth struct {
	Runtime   int     `yaml:"runtime,omitempty"`
	Bandwidth float64 `yaml:"bandwidth"`
}

type Mixed struct {
	Runtime int     `yaml:"runtime,omitempty"`
	BWRead  float64 `yaml:"bw_read"`
	BWWrite float64 `yaml:"bw_write"`
	BWMixed float64 `yaml:"bw_mixed"`
}

type IOPS struct {
	Runtime int     `yaml:"runtime,omitempty"`
	IOPS    float64 `yaml:"iops"`
}

type Erase struct {
	NS     int `yaml:"ns"`
	NSSize int `yaml:"ns_size"`
}

type Firmware struct {
	File            string `yaml:"fw_file"`
	ExpectedVersion string `yaml:"expected_version"`
}

// Tools are the external binaries and the sysfs mount the qualifier uses.
type Tools struct {
	NVMe    string `yaml:"nvme"`
	Sedutil string `yaml:"sedutil"`
	Fio     string `yaml:"fio"`
	Parted  string `yaml:"parted"`
	Hexdump string `yaml:"hexdump"`
	Sysfs   string `yaml:"sysfs"`
}

type Timing struct {
	CreateSettle   time.Duration `yaml:"create_settle"`
	DeleteSettle   time.Duration `yaml:"delete_settle"`
	ProcedurePause time.Duration `yaml:"procedure_pause"`
}

// Notify names where the end of a run is announced.
type Notify struct {
	Webhook string `yaml:"webhook,omitempty"` // receives the run summary as JSON
	Command string `yaml:"command,omitempty"` // run with sh -c
}

// Default returns a config with every option set except the drive.
func Default() Config {
	return Config{
		Tests: Tests{
			General: General{
				MaxNS:       32,
				FioRuntime:  60,
				FioRamptime: 5,
				LogLevel:    "info",
			},
			NSLayout:    NSLayout{NSSize: 10},
			MultiNSPerf: MultiNSPerf{NSSize: 10},
			Parallel: Parallel{
				RandomOps: 100,
				NSFioSize: 100,
				NSSize:    10,
				InitialNS: 8,
			},
			SecureEraseDrive:          Erase{NS: 4, NSSize: 10},
			SecureEraseMultiNamespace: Erase{NS: 4, NSSize: 10},
		},
		Tools: Tools{
			NVMe:    "nvme",
			Sedutil: "sedutil-cli",
			Fio:     "fio",
			Parted:  "parted",
			Hexdump: "hexdump",
			Sysfs:   "/sys",
		},
		Timing: Timing{
			CreateSettle:   2 * time.Second,
			DeleteSettle:   time.Second,
			ProcedurePause: time.Second,
		},
	}
}

// Runtime returns override when set, else the general fio runtime.
func (c *Config) Runtime(override int) int {
	if override > 0 {
		return override
	}
	return c.Tests.General.FioRuntime
}

var driveName = regexp.MustCompile(`^nvme\d+$`)

// Validate checks the options once, at load.
func (c *Config) Validate() error {
	var errs []error
	if !driveName.MatchString(c.Drive.Name) {
		errs = append(errs, fmt.Errorf("drive.name %q must look like nvme0", c.Drive.Name))
	}
	t := c.Tests
	positive := map[string]int{
		"general.max_ns":                       t.General.MaxNS,
		"general.fio_runtime":                  t.General.FioRuntime,
		"ns_layout.ns_size":                    t.NSLayout.NSSize,
		"multi_ns_perf.ns_size":                t.MultiNSPerf.NSSize,
		"parallel.ns_fio_size":                 t.Parallel.NSFioSize,
		"parallel.ns_size":                     t.Parallel.NSSize,
		"secure_erase_drive.ns":                t.SecureEraseDrive.NS,
		"secure_erase_drive.ns_size":           t.SecureEraseDrive.NSSize,
		"secure_erase_multi_namespace.ns":      t.SecureEraseMultiNamespace.NS,
		"secure_erase_multi_namespace.ns_size": t.SecureEraseMultiNamespace.NSSize,
	}
	for _, k := range slices.Sorted(maps.Keys(positive)) {
		if positive[k] <= 0 {
			errs = append(errs, fmt.Errorf("test_config.%s must be positive", k))
		}
	}
	if t.General.FioRamptime < 0 {
		errs = append(errs, errors.New("test_config.general.fio_ramptime must not be negative"))
	}
	if t.Parallel.RandomOps < 0 {
		errs = append(errs, errors.New("test_config.parallel.random_ops must not be negative"))
	}
	if t.Parallel.InitialNS < 0 || t.Parallel.InitialNS > 15 {
		errs = append(errs, fmt.Errorf("test_config.parallel.initial_ns %d must be between 0 and 15", t.Parallel.InitialNS))
	}
	if t.SecureEraseMultiNamespace.NS < 2 {
		errs = append(errs, errors.New("test_config.secure_erase_multi_namespace.ns needs at least 2 namespaces"))
	}
	if c.Timing.CreateSettle < 0 || c.Timing.DeleteSettle < 0 || c.Timing.ProcedurePause < 0 {
		errs = append(errs, errors.New("timing values must not be negative"))
	}
	if w := c.Notify.Webhook; w != "" {
		if u, err := url.Parse(w); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("notify.webhook %q must be an http or https URL", w))
		}
	}
	return errors.Join(errs...)
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as YAML.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
