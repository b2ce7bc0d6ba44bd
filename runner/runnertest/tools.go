package runnertest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ftahirops/nvmequal/runner"
)

const psidFlag = "--yesIreallywanttoERASEALLmydatausingthePSID"

func yn(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

func (h *Host) sedutil(args []string) runner.Result {
	if len(args) < 2 {
		return fail(1, "Invalid command line args")
	}
	d, _ := h.resolve(args[len(args)-1])
	if d == nil {
		return fail(1, "Invalid or unsupported disk "+args[len(args)-1])
	}

	switch args[0] {
	case "--query":
		if h.failing("--query") {
			return fail(1, "Invalid or unsupported disk "+d.path())
		}
		if !d.OpalCapable {
			return ok(fmt.Sprintf("%s NVMe %s %s\nThis device is not Opal compliant", d.path(), d.Model, d.Firmware))
		}
		enabled := d.opal.setup && !h.noLocking()
		return ok(fmt.Sprintf(
			"%s NVMe %s %s\nLocking function (0x0002)\n    Locked = %s, LockingEnabled = %s, LockingSupported = Y, MBRDone = N, MBREnabled = N, MediaEncrypt = %s",
			d.path(), d.Model, d.Firmware, yn(d.opal.locked), yn(enabled), yn(enabled)))

	case "--initialSetup":
		if !d.OpalCapable || h.failing("--initialSetup") {
			return fail(1, "takeOwnership failed")
		}
		d.opal.setup = true
		d.opal.password = args[1]
		// Enterprise drives typically reject the shadow MBR steps.
		return runner.Result{
			ExitCode: 1,
			Stdout:   "takeOwnership complete\nLocking SP Activate Complete\nLockingRange0 disabled\nLockingRange0 set to RW\nMBRDone set on\nMBREnable set on",
			Stderr:   "SetMBREnable failed\nInitial setup failed",
		}

	case "--enablelockingrange":
		if len(args) < 4 || args[2] != d.opal.password || h.failing("--enablelockingrange") {
			return fail(1, "method status code NOT_AUTHORIZED")
		}
		d.opal.rangeEnabled = true
		return ok("LockingRange0 enabled ReadLocking,WriteLocking")

	case "--setLockingRange":
		if len(args) < 5 || args[3] != d.opal.password {
			return fail(1, "method status code NOT_AUTHORIZED")
		}
		state := args[2]
		if h.failing("--setLockingRange " + state) {
			return fail(1, "method status code FAIL")
		}
		d.opal.locked = state == "LK"
		return ok("LockingRange0 set to " + state)

	case psidFlag:
		if h.failing("psid") || args[1] != d.PSID {
			return fail(1, "method status code NOT_AUTHORIZED\nrevertTper failed")
		}
		d.opal = opalState{}
		for _, n := range d.ns {
			n.data = 0
		}
		return ok("revertTper completed successfully")
	}
	return fail(1, "Invalid command line args")
}

func (h *Host) noLocking() bool {
	n, found := h.fail["no-locking-enabled"]
	return found && n != 0
}

func (h *Host) fio(args []string) runner.Result {
	if h.failing("fio") {
		return fail(1, "fio: pid=0, err=5/file:io_u.c:1845, func=io_u error, error=Input/output error")
	}
	files := strings.Split(flag(args, "--filename"), ":")
	rw := flag(args, "--rw")
	var dev *Device
	for _, f := range files {
		d, id := h.resolve(f)
		if d == nil || id == 0 || d.ns[id] == nil || !d.ns[id].attached {
			return fail(1, fmt.Sprintf("fio: looks like your file system does not support direct=1/buffered=0\nfio: destination does not support O_DIRECT\n%s: No such file or directory", f))
		}
		if d.opal.locked && d.opal.rangeEnabled && !h.unlockedIO() {
			return fail(1, fmt.Sprintf("fio: io_u error on file %s: Input/output error: read offset=0, buflen=131072", f))
		}
		dev = d
	}

	if strings.Contains(rw, "write") || rw == "rw" || rw == "randrw" || rw == "readwrite" {
		dev.gen++
		for _, f := range files {
			_, id := h.resolve(f)
			dev.ns[id].data = dev.gen
		}
	}

	if flag(args, "--output-format") != "json" {
		return ok(fmt.Sprintf("%s: (groupid=0, jobs=1): err= 0", flag(args, "--name")))
	}
	type io struct {
		BW   float64 `json:"bw"`
		IOPS float64 `json:"iops"`
	}
	job := map[string]any{"jobname": flag(args, "--name"), "error": 0, "read": io{}, "write": io{}}
	if strings.Contains(rw, "read") || rw == "rw" {
		job["read"] = io{dev.ReadBW, dev.ReadIOPS}
	}
	if strings.Contains(rw, "write") || rw == "rw" || rw == "randrw" {
		job["write"] = io{dev.WriteBW, dev.WriteIOPS}
	}
	b, _ := json.Marshal(map[string]any{"fio version": "fio-3.28", "jobs": []any{job}})
	return ok(string(b))
}

func (h *Host) unlockedIO() bool {
	n, found := h.fail["unlocked-io"]
	return found && n != 0
}
