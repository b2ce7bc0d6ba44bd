// Package runnertest provides an in-memory NVMe host that answers the nvme-cli,
// sedutil-cli, fio, parted and hexdump command lines issued by the qualifier.
package runnertest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ftahirops/nvmequal/runner"
)

// Device is one simulated controller and its namespaces.
type Device struct {
	Name        string
	Serial      string
	Model       string
	Firmware    string
	CntlID      int
	MaxNS       int
	Capacity    uint64
	OpalCapable bool
	PSID        string

	// PendingFirmware becomes Firmware on the next controller reset.
	PendingFirmware string

	// MonotonicIDs hands out ids above the highest ever assigned instead of
	// reusing the lowest free one, until the id space is exhausted.
	MonotonicIDs bool

	// Stats are reported by every successful fio run (KiB/s and IOPS).
	ReadBW, WriteBW, ReadIOPS, WriteIOPS float64

	ns      map[int]*simNS
	opal    opalState
	gen     int
	highest int
}

type simNS struct {
	blocks    uint64
	blockSize int
	attached  bool
	data      int // 0 means zeroed media
}

func (n *simNS) size() uint64 { return n.blocks * uint64(n.blockSize) }

type opalState struct {
	setup        bool
	password     string
	rangeEnabled bool
	locked       bool
}

// NewDevice returns an OPAL capable 1 TiB controller supporting 32 namespaces.
func NewDevice(name string) *Device {
	return &Device{
		Name:        name,
		Serial:      "S5XNA0R" + strings.ToUpper(name),
		Model:       "SIMULATED NVMe 1TB",
		Firmware:    "GDC7102Q",
		CntlID:      6,
		MaxNS:       32,
		Capacity:    1 << 40,
		OpalCapable: true,
		PSID:        "PSID0123456789ABCDEF0123456789AB",
		ReadBW:      3_000_000,
		WriteBW:     2_000_000,
		ReadIOPS:    700_000,
		WriteIOPS:   150_000,
		ns:          make(map[int]*simNS),
	}
}

func (d *Device) path() string { return "/dev/" + d.Name }

func (d *Device) unallocated() uint64 {
	used := uint64(0)
	for _, n := range d.ns {
		used += n.size()
	}
	if used > d.Capacity {
		return 0
	}
	return d.Capacity - used
}

func (d *Device) ids(attachedOnly bool) []int {
	var ids []int
	for id, n := range d.ns {
		if attachedOnly && !n.attached {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Host is a simulated machine with one or more NVMe controllers. It implements
// runner.Runner and is safe for concurrent use.
type Host struct {
	mu sync.Mutex

	Devices []*Device
	// NVMeVersion selects the "nvme list" JSON layout: below 2.11 flat, else nested.
	NVMeVersion string

	journal  []string
	detached []runner.Cmd
	fail     map[string]int
}

// NewHost returns a host with the given controllers and nvme-cli 2.3.
func NewHost(devs ...*Device) *Host {
	return &Host{Devices: devs, NVMeVersion: "2.3", fail: make(map[string]int)}
}

// FailOn makes every future occurrence of op fail. Ops are nvme subcommands
// ("create-ns"), sedutil flags ("--initialSetup", "--setLockingRange LK"), "psid",
// "fio", "detached" and the behaviours "unlocked-io" (a locked range still serves
// I/O) and "no-locking-enabled" (setup leaves locking and encryption disabled).
func (h *Host) FailOn(op string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail[op] = -1
}

// FailOnce makes the next occurrence of op fail.
func (h *Host) FailOnce(op string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail[op] = 1
}

func (h *Host) failing(op string) bool {
	n, ok := h.fail[op]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		h.fail[op] = n - 1
	}
	return true
}

// Journal returns every command line run so far; detached ones are prefixed "&".
func (h *Host) Journal() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.journal...)
}

// Count returns how many journaled command lines contain all of the given words.
func (h *Host) Count(words ...string) int {
	n := 0
	for _, line := range h.Journal() {
		fields := strings.Fields(line)
		if containsAll(fields, words) {
			n++
		}
	}
	return n
}

func containsAll(fields, words []string) bool {
	for _, w := range words {
		found := false
		for _, f := range fields {
			if f == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Detached returns the commands launched with RunDetached.
func (h *Host) Detached() []runner.Cmd {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]runner.Cmd(nil), h.detached...)
}

// Allocated returns the sorted ids of every namespace of a controller.
func (h *Host) Allocated(name string) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d := h.byName(name); d != nil {
		return d.ids(false)
	}
	return nil
}

// Attached returns the sorted ids of the attached namespaces of a controller.
func (h *Host) Attached(name string) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d := h.byName(name); d != nil {
		return d.ids(true)
	}
	return nil
}

// Locked reports whether the controller's locking range 0 currently refuses I/O.
func (h *Host) Locked(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.byName(name)
	return d != nil && d.opal.locked && d.opal.rangeEnabled
}

// OpalSetup reports whether the controller has been taken ownership of.
func (h *Host) OpalSetup(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.byName(name)
	return d != nil && d.opal.setup
}

// AddNamespace allocates a namespace directly, bypassing create-ns.
func (h *Host) AddNamespace(name string, id int, size uint64, attached bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.byName(name)
	d.ns[id] = &simNS{blocks: size / 4096, blockSize: 4096, attached: attached}
}

// Sysfs lays out <root>/class/nvme/<name>/{serial,model,firmware_rev} for every
// controller, padded the way the kernel pads them.
func (h *Host) Sysfs(root string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.Devices {
		dir := filepath.Join(root, "class", "nvme", d.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		files := map[string]string{
			"serial":       fmt.Sprintf("%-20s\n", d.Serial),
			"model":        fmt.Sprintf("%-40s\n", d.Model),
			"firmware_rev": fmt.Sprintf("%-8s\n", d.Firmware),
		}
		for f, v := range files {
			if err := os.WriteFile(filepath.Join(dir, f), []byte(v), 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Host) byName(name string) *Device {
	for _, d := range h.Devices {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// resolve maps "/dev/nvme0" or "/dev/nvme0n3" to its device and namespace id.
func (h *Host) resolve(path string) (*Device, int) {
	for _, d := range h.Devices {
		if path == d.path() {
			return d, 0
		}
		if rest, ok := strings.CutPrefix(path, d.path()+"n"); ok {
			id, err := strconv.Atoi(rest)
			if err == nil {
				return d, id
			}
		}
	}
	return nil, 0
}

// Run implements runner.Runner.
func (h *Host) Run(ctx context.Context, c runner.Cmd) (runner.Result, error) {
	h.mu.Lock()
	h.journal = append(h.journal, c.String())
	var res runner.Result
	switch filepath.Base(c.Path) {
	case "nvme":
		res = h.nvme(c.Args)
	case "sedutil-cli":
		res = h.sedutil(c.Args)
	case "fio":
		res = h.fio(c.Args)
	case "hexdump":
		res = h.hexdump(c.Args)
	case "parted":
		res = ok("")
	default:
		h.mu.Unlock()
		return runner.Result{ExitCode: -1}, fmt.Errorf("run %q: executable file not found", c.String())
	}
	h.mu.Unlock()
	return runner.Check(ctx, c, res)
}

// RunDetached implements runner.Runner. The command is recorded, never run.
func (h *Host) RunDetached(c runner.Cmd) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failing("detached") {
		return fmt.Errorf("start %q: resource temporarily unavailable", c.String())
	}
	h.journal = append(h.journal, "& "+c.String())
	h.detached = append(h.detached, c)
	return nil
}

func ok(out string) runner.Result { return runner.Result{Stdout: out} }

func fail(code int, stderr string) runner.Result {
	return runner.Result{ExitCode: code, Stderr: stderr}
}

// flag returns the value following name in args.
func flag(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
		if v, found := strings.CutPrefix(a, name+"="); found {
			return v
		}
	}
	return ""
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
