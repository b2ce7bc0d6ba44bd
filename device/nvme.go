// Package device wraps the vendor command-line tools that mutate and query the drive.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/blang/semver/v4"

	"github.com/ftahirops/nvmequal/model"
	"github.com/ftahirops/nvmequal/runner"
)

// AllNamespaces addresses every namespace of a controller at once.
const AllNamespaces = "0xffffffff"

// nestedListSince is the first nvme-cli release printing the subsystem-nested list format.
var nestedListSince = semver.Version{Major: 2, Minor: 11}

// NVMe drives nvme-cli.
type NVMe struct {
	Runner runner.Runner
	Path   string

	version *semver.Version
}

// DevPath returns the character device of a controller name ("nvme0" -> "/dev/nvme0").
func DevPath(name string) string {
	if strings.HasPrefix(name, "/dev/") {
		return name
	}
	return "/dev/" + name
}

// NamespacePath returns the block device of a namespace ("nvme0", 3 -> "/dev/nvme0n3").
func NamespacePath(name string, nsid int) string {
	return fmt.Sprintf("%sn%d", DevPath(name), nsid)
}

// Version detects the nvme-cli version and remembers it for choosing output decoders.
func (n *NVMe) Version(ctx context.Context) (semver.Version, error) {
	if n.version != nil {
		return *n.version, nil
	}
	res, err := n.Runner.Run(ctx, runner.Must(n.Path, "version"))
	if err != nil {
		return semver.Version{}, err
	}
	v, err := parseVersion(res.Stdout)
	if err != nil {
		return semver.Version{}, err
	}
	n.version = &v
	return v, nil
}

// parseVersion reads "nvme version 2.3 (git 2.3)".
func parseVersion(out string) (semver.Version, error) {
	fields := strings.Fields(out)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return semver.ParseTolerant(fields[i+1])
		}
	}
	return semver.Version{}, fmt.Errorf("unrecognized nvme version output %q", out)
}

// List returns every attached namespace on the host, from "nvme list -o json".
func (n *NVMe) List(ctx context.Context) ([]model.Namespace, error) {
	res, err := n.Runner.Run(ctx, runner.Must(n.Path, "list", "-o", "json"))
	if err != nil {
		return nil, err
	}
	if res.Stdout == "" {
		return nil, nil
	}
	nested := false
	if n.version != nil {
		nested = n.version.GTE(nestedListSince)
	}
	return decodeList([]byte(res.Stdout), nested)
}

// IDCtrl is the subset of "nvme id-ctrl -o json" the qualifier needs.
type IDCtrl struct {
	ControllerID        int    `json:"cntlid"`
	MaxNamespaces       int    `json:"nn"`
	TotalCapacity       uint64 `json:"tnvmcap"`
	UnallocatedCapacity uint64 `json:"unvmcap"`
	Serial              string `json:"sn"`
	Model               string `json:"mn"`
	Firmware            string `json:"fr"`
}

func (c *IDCtrl) UnmarshalJSON(b []byte) error {
	var raw struct {
		CntlID  nvmeNumber `json:"cntlid"`
		NN      nvmeNumber `json:"nn"`
		TNVMCap nvmeNumber `json:"tnvmcap"`
		UNVMCap nvmeNumber `json:"unvmcap"`
		SN      string     `json:"sn"`
		MN      string     `json:"mn"`
		FR      string     `json:"fr"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = IDCtrl{
		ControllerID:        int(raw.CntlID.uint()),
		MaxNamespaces:       int(raw.NN.uint()),
		TotalCapacity:       raw.TNVMCap.uint(),
		UnallocatedCapacity: raw.UNVMCap.uint(),
		Serial:              strings.TrimSpace(raw.SN),
		Model:               strings.TrimSpace(raw.MN),
		Firmware:            strings.TrimSpace(raw.FR),
	}
	return nil
}

// IDCtrl identifies a controller.
func (n *NVMe) IDCtrl(ctx context.Context, name string) (IDCtrl, error) {
	var v IDCtrl
	res, err := n.Runner.Run(ctx, runner.Must(n.Path, "id-ctrl", DevPath(name), "-o", "json"))
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(res.Stdout), &v); err != nil {
		return v, fmt.Errorf("decode id-ctrl %s: %w", name, err)
	}
	return v, nil
}

// SmartLog reads the health information log of a controller.
func (n *NVMe) SmartLog(ctx context.Context, name string) (model.SmartLog, error) {
	res, err := n.Runner.Run(ctx, runner.Must(n.Path, "smart-log", DevPath(name), "-o", "json"))
	if err != nil {
		return model.SmartLog{}, err
	}
	return decodeSmartLog([]byte(res.Stdout))
}

// Rescan asks the kernel to re-enumerate the namespaces of a controller.
func (n *NVMe) Rescan(ctx context.Context, name string) error {
	_, err := n.Runner.Run(ctx, runner.Must(n.Path, "ns-rescan", DevPath(name)))
	return err
}

// CreateNS creates a namespace of blocks × blockSize bytes and returns its id.
func (n *NVMe) CreateNS(ctx context.Context, name string, blocks uint64, blockSize int) (int, error) {
	count := strconv.FormatUint(blocks, 10)
	res, err := n.Runner.Run(ctx, runner.Must(n.Path, "create-ns", DevPath(name),
		"-s", count, "-c", count, "-b", strconv.Itoa(blockSize)))
	if err != nil {
		return 0, err
	}
	return parseCreatedID(res.Stdout)
}

// parseCreatedID reads "create-ns: Success, created nsid:3".
func parseCreatedID(out string) (int, error) {
	pos := strings.LastIndex(out, ":")
	id, err := strconv.Atoi(strings.TrimSpace(out[pos+1:]))
	if err != nil {
		return 0, fmt.Errorf("unrecognized create-ns output %q", out)
	}
	return id, nil
}

// AttachNS attaches a namespace to a controller id.
func (n *NVMe) AttachNS(ctx context.Context, name string, nsid, cntlid int) error {
	_, err := n.Runner.Run(ctx, runner.Must(n.Path, "attach-ns", DevPath(name),
		"-n", strconv.Itoa(nsid), "-c", strconv.Itoa(cntlid)))
	return err
}

// DetachNS detaches a namespace from a controller id.
func (n *NVMe) DetachNS(ctx context.Context, name string, nsid, cntlid int) error {
	_, err := n.Runner.Run(ctx, runner.Must(n.Path, "detach-ns", DevPath(name),
		"-n", strconv.Itoa(nsid), "-c", strconv.Itoa(cntlid)))
	return err
}

// DeleteNS deletes a namespace, waiting up to timeoutMs for the controller.
func (n *NVMe) DeleteNS(ctx context.Context, name string, nsid, timeoutMs int) error {
	_, err := n.Runner.Run(ctx, runner.Must(n.Path, "delete-ns", DevPath(name),
		"-n", strconv.Itoa(nsid), "-t", strconv.Itoa(timeoutMs)))
	return err
}

// Format formats one namespace with the given secure erase setting. The result is
// returned for the caller to judge.
func (n *NVMe) Format(ctx context.Context, name string, nsid, ses int) (runner.Result, error) {
	return n.Runner.Run(ctx, runner.Probe(n.Path, "format", DevPath(name),
		"-n", strconv.Itoa(nsid), "-s", strconv.Itoa(ses)))
}

// FormatAll user-data erases every namespace of the controller.
func (n *NVMe) FormatAll(ctx context.Context, name string) (runner.Result, error) {
	return n.Runner.Run(ctx, runner.Probe(n.Path, "format", DevPath(name),
		"-n", AllNamespaces, "-s", "1", "-l", "0"))
}

// ListAllocated returns the ids of every allocated namespace, attached or not.
func (n *NVMe) ListAllocated(ctx context.Context, name string) ([]int, error) {
	res, err := n.Runner.Run(ctx, runner.Must(n.Path, "list-ns", DevPath(name), "--all", "-o", "json"))
	if err != nil {
		return nil, err
	}
	var v struct {
		List []struct {
			NSID int `json:"nsid"`
		} `json:"nsid_list"`
	}
	if res.Stdout == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(res.Stdout), &v); err != nil {
		return nil, fmt.Errorf("decode list-ns %s: %w", name, err)
	}
	ids := make([]int, 0, len(v.List))
	for _, e := range v.List {
		ids = append(ids, e.NSID)
	}
	return ids, nil
}

// FirmwareDownload transfers a firmware image to the controller.
func (n *NVMe) FirmwareDownload(ctx context.Context, name, file string) (runner.Result, error) {
	return n.Runner.Run(ctx, runner.Probe(n.Path, "fw-download", DevPath(name), "--fw="+file))
}

// FirmwareActivate commits the downloaded image to slot with the given action.
func (n *NVMe) FirmwareActivate(ctx context.Context, name string, action, slot int) (runner.Result, error) {
	return n.Runner.Run(ctx, runner.Probe(n.Path, "fw-activate", DevPath(name),
		"-a", strconv.Itoa(action), "-s", strconv.Itoa(slot)))
}

// Reset resets the controller.
func (n *NVMe) Reset(ctx context.Context, name string) (runner.Result, error) {
	return n.Runner.Run(ctx, runner.Probe(n.Path, "reset", DevPath(name)))
}
