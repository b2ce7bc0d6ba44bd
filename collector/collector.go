// Package collector derives the controller resource tree from the vendor tooling
// and sysfs. Nothing is cached: every call re-enumerates.
package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ftahirops/nvmequal/device"
	"github.com/ftahirops/nvmequal/logger"
	"github.com/ftahirops/nvmequal/model"
	"github.com/ftahirops/nvmequal/util"
)

var controllerName = regexp.MustCompile(`^nvme\d+$`)

// Builder assembles snapshots of every NVMe controller on the host.
type Builder struct {
	NVMe *device.NVMe

	// SysfsRoot is "/sys" when empty.
	SysfsRoot string
}

func (b *Builder) classDir() string {
	root := b.SysfsRoot
	if root == "" {
		root = "/sys"
	}
	return filepath.Join(root, "class", "nvme")
}

// Controllers lists the controller names present in sysfs, sorted.
func (b *Builder) Controllers() ([]string, error) {
	entries, err := os.ReadDir(b.classDir())
	if err != nil {
		return nil, fmt.Errorf("list controllers: %w", err)
	}
	var names []string
	for _, e := range entries {
		if controllerName.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Identity reads serial, model and firmware revision of a controller from sysfs.
// Values are trimmed; the kernel pads them with spaces.
func (b *Builder) Identity(name string) (model.DriveIdentity, error) {
	dir := filepath.Join(b.classDir(), name)
	id := model.DriveIdentity{Name: name}
	for file, dst := range map[string]*string{
		"serial":       &id.Serial,
		"model":        &id.Model,
		"firmware_rev": &id.Firmware,
	} {
		v, err := util.ReadFileString(filepath.Join(dir, file))
		if err != nil {
			return id, fmt.Errorf("read identity of %s: %w", name, err)
		}
		*dst = strings.TrimSpace(v)
	}
	return id, nil
}

// Snapshot rescans every controller, lists all namespaces once and assembles one
// Controller per device with its namespaces cross-referenced by serial number.
func (b *Builder) Snapshot(ctx context.Context) (model.Tree, error) {
	log := logger.FromContext(ctx)

	names, err := b.Controllers()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := b.NVMe.Rescan(ctx, name); err != nil {
			return nil, fmt.Errorf("rescan %s: %w", name, err)
		}
	}

	// The list layout depends on the nvme-cli release; decoding sniffs when unknown.
	if _, err := b.NVMe.Version(ctx); err != nil {
		log.Debug("nvme-cli version unknown", "err", err)
	}
	namespaces, err := b.NVMe.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}

	tree := make(model.Tree, len(names))
	for _, name := range names {
		c, err := b.controller(ctx, name, namespaces)
		if err != nil {
			return nil, err
		}
		tree[name] = c
	}
	return tree, nil
}

// Controller returns a fresh snapshot of a single controller.
func (b *Builder) Controller(ctx context.Context, name string) (*model.Controller, error) {
	tree, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := tree[name]
	if !ok {
		return nil, fmt.Errorf("controller %s not found", name)
	}
	return c, nil
}

func (b *Builder) controller(ctx context.Context, name string, namespaces []model.Namespace) (*model.Controller, error) {
	id, err := b.Identity(name)
	if err != nil {
		return nil, err
	}
	ctrl, err := b.NVMe.IDCtrl(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("identify %s: %w", name, err)
	}
	if id.Serial == "" {
		id.Serial = ctrl.Serial
	}

	c := &model.Controller{
		Name:                name,
		Serial:              id.Serial,
		Firmware:            id.Firmware,
		Model:               id.Model,
		ControllerID:        ctrl.ControllerID,
		TotalCapacity:       ctrl.TotalCapacity,
		UnallocatedCapacity: ctrl.UnallocatedCapacity,
		MaxNamespaces:       ctrl.MaxNamespaces,
	}
	for _, ns := range namespaces {
		if ns.Serial == c.Serial {
			c.Namespaces = append(c.Namespaces, ns)
		}
	}
	sort.Slice(c.Namespaces, func(i, j int) bool { return c.Namespaces[i].ID < c.Namespaces[j].ID })
	c.Smart = b.smart(ctx, name)
	return c, nil
}
