package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ftahirops/nvmequal/runner"
)

// Job describes one fio invocation against raw namespaces.
type Job struct {
	Name      string
	RW        string // read, write, rw, randread, randwrite, randrw
	BlockSize string // e.g. "128k"
	IODepth   int
	NumJobs   int
	Runtime   int // seconds, 0 runs to completion
	Ramp      int // seconds
	Sync      bool
	IOEngine  string
	Files     []string
	JSON      bool
}

// Args renders the job as fio command-line arguments.
func (j Job) Args() []string {
	args := []string{
		"--name=" + j.Name,
		"--rw=" + j.RW,
		"--bs=" + j.BlockSize,
	}
	if j.IODepth > 0 {
		args = append(args, "--iodepth="+strconv.Itoa(j.IODepth))
	}
	if j.Runtime > 0 {
		args = append(args, "--runtime="+strconv.Itoa(j.Runtime))
	}
	if j.Ramp > 0 {
		args = append(args, "--ramp_time="+strconv.Itoa(j.Ramp))
	}
	args = append(args, "--group_reporting")
	if j.NumJobs > 0 {
		args = append(args, "--numjobs="+strconv.Itoa(j.NumJobs))
	}
	if j.Sync {
		args = append(args, "--sync=1")
	}
	args = append(args, "--direct=1", "--size=100%")
	if j.IOEngine != "" {
		args = append(args, "--ioengine="+j.IOEngine)
	}
	args = append(args, "--filename="+strings.Join(j.Files, ":"))
	if j.JSON {
		args = append(args, "--output-format=json")
	}
	return args
}

// Fio runs I/O workloads.
type Fio struct {
	Runner runner.Runner
	Path   string
}

// Run executes a job and waits for it. The result is returned for the caller to
// judge; a locked namespace is expected to make it fail.
func (f *Fio) Run(ctx context.Context, j Job) (runner.Result, error) {
	return f.Runner.Run(ctx, runner.Probe(f.Path, j.Args()...))
}

// Start launches a job in the background without observing it.
func (f *Fio) Start(j Job) error {
	return f.Runner.RunDetached(runner.Probe(f.Path, j.Args()...))
}

// Stats is the aggregate of the first (group reported) job of a fio JSON report.
type Stats struct {
	ReadBW    float64 // KiB/s
	WriteBW   float64 // KiB/s
	ReadIOPS  float64
	WriteIOPS float64
}

// ParseStats extracts bandwidth and IOPS from fio --output-format=json output.
func ParseStats(out string) (Stats, error) {
	if !gjson.Valid(out) {
		return Stats{}, fmt.Errorf("fio output is not valid JSON")
	}
	job := gjson.Get(out, "jobs.0")
	if !job.Exists() {
		return Stats{}, fmt.Errorf("fio output has no jobs")
	}
	return Stats{
		ReadBW:    job.Get("read.bw").Float(),
		WriteBW:   job.Get("write.bw").Float(),
		ReadIOPS:  job.Get("read.iops").Float(),
		WriteIOPS: job.Get("write.iops").Float(),
	}, nil
}
