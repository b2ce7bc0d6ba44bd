package model

import (
	"sort"
	"strings"
)

// Namespace is a logical partition of a controller's capacity.
type Namespace struct {
	ID         int    `json:"id"`
	DevicePath string `json:"device_path"` // e.g. "/dev/nvme0n3"
	SizeBytes  uint64 `json:"size_bytes"`
	SectorSize int    `json:"sector_size"`
	Serial     string `json:"serial"` // serial of the owning controller
	Firmware   string `json:"firmware"`
	Attached   bool   `json:"attached"`
}

// Controller is one physical NVMe device adapter, as seen at snapshot time.
type Controller struct {
	Name                string      `json:"name"` // e.g. "nvme0"
	Serial              string      `json:"serial"`
	Firmware            string      `json:"firmware"`
	Model               string      `json:"model"`
	ControllerID        int         `json:"cntlid"`
	TotalCapacity       uint64      `json:"tnvmcap"`
	UnallocatedCapacity uint64      `json:"unvmcap"`
	MaxNamespaces       int         `json:"nn"`
	Namespaces          []Namespace `json:"namespaces"`
	Smart               SmartLog    `json:"smart"`
}

// DevicePath returns the controller character device, e.g. "/dev/nvme0".
func (c *Controller) DevicePath() string {
	return "/dev/" + c.Name
}

// NamespaceIDs returns the ids of the attached namespaces in ascending order.
func (c *Controller) NamespaceIDs() []int {
	ids := make([]int, 0, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		ids = append(ids, ns.ID)
	}
	sort.Ints(ids)
	return ids
}

// HasNamespace reports whether namespace id is attached to the controller.
func (c *Controller) HasNamespace(id int) bool {
	for _, ns := range c.Namespaces {
		if ns.ID == id {
			return true
		}
	}
	return false
}

// HasAllocations reports whether any capacity is still held by namespaces, attached or not.
func (c *Controller) HasAllocations() bool {
	return c.UnallocatedCapacity < c.TotalCapacity
}

// Tree maps controller names to freshly enumerated controllers.
type Tree map[string]*Controller

// BySerial finds a controller by serial number. Serials are compared trimmed,
// since sysfs and nvme-cli pad them differently.
func (t Tree) BySerial(serial string) (*Controller, bool) {
	want := strings.TrimSpace(serial)
	for _, c := range t {
		if strings.TrimSpace(c.Serial) == want {
			return c, true
		}
	}
	return nil, false
}

// Names returns the controller names in sorted order.
func (t Tree) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
