package runnertest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blang/semver/v4"

	"github.com/ftahirops/nvmequal/runner"
)

func (h *Host) nvme(args []string) runner.Result {
	if len(args) == 0 {
		return fail(1, "usage: nvme <command> [<device>] [<args>]")
	}
	sub := args[0]
	if h.failing(sub) {
		return fail(1, "NVMe status: INTERNAL: The command was not completed successfully due to an internal error(0x6)")
	}

	switch sub {
	case "version":
		return ok(fmt.Sprintf("nvme version %s (git %s)", h.NVMeVersion, h.NVMeVersion))
	case "list":
		return h.nvmeList()
	}

	if len(args) < 2 {
		return fail(1, "nvme "+sub+": missing device")
	}
	d, _ := h.resolve(args[1])
	if d == nil {
		return fail(1, fmt.Sprintf("Failed to open %s: No such file or directory", args[1]))
	}
	nsid := atoi(flag(args, "-n"))

	switch sub {
	case "id-ctrl":
		b, _ := json.Marshal(map[string]any{
			"vid":     5197,
			"sn":      fmt.Sprintf("%-20s", d.Serial),
			"mn":      fmt.Sprintf("%-40s", d.Model),
			"fr":      fmt.Sprintf("%-8s", d.Firmware),
			"cntlid":  d.CntlID,
			"nn":      d.MaxNS,
			"tnvmcap": d.Capacity,
			"unvmcap": d.unallocated(),
		})
		return ok(string(b))

	case "smart-log":
		b, _ := json.Marshal(map[string]any{
			"critical_warning":    0,
			"temperature":         310,
			"avail_spare":         100,
			"spare_thresh":        10,
			"percent_used":        1,
			"data_units_read":     fmt.Sprint(1000 + d.gen),
			"data_units_written":  fmt.Sprint(2000 + d.gen),
			"power_cycles":        12,
			"power_on_hours":      345,
			"unsafe_shutdowns":    3,
			"media_errors":        0,
			"num_err_log_entries": 0,
		})
		return ok(string(b))

	case "ns-rescan":
		return ok("")

	case "create-ns":
		blocks := uint64(atoi(flag(args, "-s")))
		bs := atoi(flag(args, "-b"))
		if bs == 0 {
			bs = 512
		}
		id := 0
		start := 1
		if d.MonotonicIDs && d.highest < d.MaxNS {
			start = d.highest + 1
		}
		for i := start; i <= d.MaxNS; i++ {
			if _, used := d.ns[i]; !used {
				id = i
				break
			}
		}
		if id == 0 {
			return fail(1, "NVMe status: NS_ID_UNAVAILABLE: The number of namespaces supported has been exceeded(0x2116)")
		}
		if blocks*uint64(bs) > d.unallocated() {
			return fail(1, "NVMe status: NS_INSUFFICIENT_CAPACITY: Creating the namespace requires more free space than is currently available(0x2115)")
		}
		d.ns[id] = &simNS{blocks: blocks, blockSize: bs}
		d.highest = max(d.highest, id)
		return ok(fmt.Sprintf("create-ns: Success, created nsid:%d", id))

	case "attach-ns":
		n, found := d.ns[nsid]
		if !found || atoi(flag(args, "-c")) != d.CntlID {
			return fail(1, "NVMe status: INVALID_FIELD: A reserved coded value or an unsupported value in a defined field(0x4002)")
		}
		if n.attached {
			return fail(1, "NVMe status: NS_ALREADY_ATTACHED: The controller is already attached to the namespace specified(0x2118)")
		}
		n.attached = true
		return ok(fmt.Sprintf("attach-ns: Success, nsid:%d", nsid))

	case "detach-ns":
		n, found := d.ns[nsid]
		if !found || !n.attached {
			return fail(1, "NVMe status: NS_NOT_ATTACHED: The request to detach the controller could not be completed because the controller is not attached to the namespace(0x211a)")
		}
		n.attached = false
		return ok(fmt.Sprintf("detach-ns: Success, nsid:%d", nsid))

	case "delete-ns":
		if _, found := d.ns[nsid]; !found {
			return fail(1, "NVMe status: INVALID_NS: The namespace or the format of that namespace is invalid(0xb)")
		}
		delete(d.ns, nsid)
		return ok(fmt.Sprintf("delete-ns: Success, deleted nsid:%d", nsid))

	case "format":
		if flag(args, "-n") == "0xffffffff" {
			for _, n := range d.ns {
				n.data = 0
			}
			return ok("Success formatting namespace:ffffffff")
		}
		n, found := d.ns[nsid]
		if !found || !n.attached {
			return fail(1, "NVMe status: INVALID_NS: The namespace or the format of that namespace is invalid(0xb)")
		}
		n.data = 0
		return ok(fmt.Sprintf("Success formatting namespace:%x", nsid))

	case "list-ns":
		type entry struct {
			NSID int `json:"nsid"`
		}
		list := []entry{}
		for _, id := range d.ids(!contains(args, "--all")) {
			list = append(list, entry{id})
		}
		b, _ := json.Marshal(map[string]any{"nsid_list": list})
		return ok(string(b))

	case "fw-download":
		return ok("Firmware download success")

	case "fw-activate":
		return ok("Success committing firmware action:1 slot:1")

	case "reset":
		if d.PendingFirmware != "" {
			d.Firmware = d.PendingFirmware
			d.PendingFirmware = ""
		}
		return ok("")
	}
	return fail(1, "unknown command "+sub)
}

func contains(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}
	return false
}

func (h *Host) nestedList() bool {
	v, err := semver.ParseTolerant(h.NVMeVersion)
	return err == nil && v.GTE(semver.Version{Major: 2, Minor: 11})
}

func (h *Host) nvmeList() runner.Result {
	if h.nestedList() {
		type ns struct {
			NameSpace    string `json:"NameSpace"`
			NSID         int    `json:"NSID"`
			PhysicalSize uint64 `json:"PhysicalSize"`
			SectorSize   int    `json:"SectorSize"`
		}
		type ctrl struct {
			Controller   string `json:"Controller"`
			SerialNumber string `json:"SerialNumber"`
			ModelNumber  string `json:"ModelNumber"`
			Firmware     string `json:"Firmware"`
			Namespaces   []ns   `json:"Namespaces"`
		}
		type sub struct {
			Subsystem   string `json:"Subsystem"`
			Controllers []ctrl `json:"Controllers"`
		}
		var subs []sub
		for i, d := range h.Devices {
			c := ctrl{Controller: d.Name, SerialNumber: d.Serial, ModelNumber: d.Model, Firmware: d.Firmware, Namespaces: []ns{}}
			for _, id := range d.ids(true) {
				c.Namespaces = append(c.Namespaces, ns{
					NameSpace:    fmt.Sprintf("%sn%d", d.Name, id),
					NSID:         id,
					PhysicalSize: d.ns[id].size(),
					SectorSize:   d.ns[id].blockSize,
				})
			}
			subs = append(subs, sub{Subsystem: fmt.Sprintf("nvme-subsys%d", i), Controllers: []ctrl{c}})
		}
		b, _ := json.Marshal(map[string]any{"Devices": []map[string]any{{"HostNQN": "nqn.2014-08.org.nvmexpress:uuid:sim", "Subsystems": subs}}})
		return ok(string(b))
	}

	type dev struct {
		NameSpace    int    `json:"NameSpace"`
		DevicePath   string `json:"DevicePath"`
		Firmware     string `json:"Firmware"`
		Index        int    `json:"Index"`
		ModelNumber  string `json:"ModelNumber"`
		SerialNumber string `json:"SerialNumber"`
		UsedBytes    uint64 `json:"UsedBytes"`
		PhysicalSize uint64 `json:"PhysicalSize"`
		SectorSize   int    `json:"SectorSize"`
	}
	devs := []dev{}
	for i, d := range h.Devices {
		for _, id := range d.ids(true) {
			devs = append(devs, dev{
				NameSpace:    id,
				DevicePath:   fmt.Sprintf("%sn%d", d.path(), id),
				Firmware:     d.Firmware,
				Index:        i,
				ModelNumber:  d.Model,
				SerialNumber: d.Serial,
				PhysicalSize: d.ns[id].size(),
				SectorSize:   d.ns[id].blockSize,
			})
		}
	}
	if len(devs) == 0 {
		return ok("")
	}
	b, _ := json.Marshal(map[string]any{"Devices": devs})
	return ok(string(b))
}

func (h *Host) hexdump(args []string) runner.Result {
	if len(args) == 0 {
		return fail(1, "hexdump: missing file")
	}
	d, id := h.resolve(args[0])
	if d == nil || id == 0 || d.ns[id] == nil || !d.ns[id].attached {
		return fail(1, fmt.Sprintf("hexdump: %s: No such file or directory", args[0]))
	}
	word := fmt.Sprintf("%04x", d.ns[id].data)
	if d.ns[id].data == 0 {
		return ok("00f4240 0000 0000 0000 0000 0000 0000 0000 0000\n*\n00f42a4")
	}
	return ok("00f4240 " + strings.TrimSpace(strings.Repeat(word+" ", 8)) + "\n*\n00f42a4")
}
