// Package namespace creates, attaches, detaches and deletes namespaces with the
// settle delays the kernel's asynchronous enumeration requires.
package namespace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ftahirops/nvmequal/collector"
	"github.com/ftahirops/nvmequal/device"
	"github.com/ftahirops/nvmequal/logger"
	"github.com/ftahirops/nvmequal/model"
)

const (
	DefaultBlockSize     = 4096
	DefaultDeleteTimeout = 120000 // ms
	DefaultCreateSettle  = 2 * time.Second
	DefaultDeleteSettle  = 1 * time.Second

	// secure erase setting used before deleting: cryptographic erase.
	deleteSES = 2
)

// ErrNoSuchDrive is returned by FactoryReset when no controller has the serial.
var ErrNoSuchDrive = errors.New("no drive with that serial number")

// Manager drives the namespace lifecycle of one host's controllers.
type Manager struct {
	NVMe   *device.NVMe
	Parted *device.Parted
	Tree   *collector.Builder

	CreateSettle time.Duration
	DeleteSettle time.Duration

	// SweepDetached makes ResetDrive also delete allocated namespaces that are not
	// attached to the controller.
	SweepDetached bool

	// Sleep waits out a settle delay; a context-aware timer when nil.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewManager returns a Manager with the default settle delays and sweeping on.
func NewManager(nvme *device.NVMe, parted *device.Parted, tree *collector.Builder) *Manager {
	return &Manager{
		NVMe:          nvme,
		Parted:        parted,
		Tree:          tree,
		CreateSettle:  DefaultCreateSettle,
		DeleteSettle:  DefaultDeleteSettle,
		SweepDetached: true,
	}
}

func (m *Manager) settle(ctx context.Context, d time.Duration) error {
	if m.Sleep != nil {
		return m.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ControllerID returns the numeric controller id namespaces are attached to.
func (m *Manager) ControllerID(ctx context.Context, dev string) (int, error) {
	id, err := m.NVMe.IDCtrl(ctx, dev)
	if err != nil {
		return 0, err
	}
	return id.ControllerID, nil
}

// Max returns the number of namespaces the controller supports.
func (m *Manager) Max(ctx context.Context, dev string) (int, error) {
	id, err := m.NVMe.IDCtrl(ctx, dev)
	if err != nil {
		return 0, err
	}
	return id.MaxNamespaces, nil
}

// Create creates a namespace of size bytes and attaches it to cntlid, resolving
// the controller id first when cntlid is negative. Every mutation is followed by
// a settle delay, and the namespace list is rescanned after create and after
// attach. It returns the new id once attach has been requested; callers needing
// the block device must take a fresh snapshot.
func (m *Manager) Create(ctx context.Context, dev string, size uint64, blockSize, cntlid int) (int, error) {
	log := logger.FromContext(ctx)
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if cntlid < 0 {
		id, err := m.ControllerID(ctx, dev)
		if err != nil {
			return 0, fmt.Errorf("resolve controller of %s: %w", dev, err)
		}
		cntlid = id
	}
	blocks := size / uint64(blockSize)

	log.Debug("creating namespace", "device", dev, "bytes", size, "block_size", blockSize)
	nsid, err := m.NVMe.CreateNS(ctx, dev, blocks, blockSize)
	if err != nil {
		return 0, fmt.Errorf("create namespace on %s: %w", dev, err)
	}
	log.Debug("namespace created", "device", dev, "nsid", nsid)

	steps := []struct {
		what string
		fn   func() error
	}{
		{"rescan", func() error { return m.NVMe.Rescan(ctx, dev) }},
		{"attach", func() error { return m.NVMe.AttachNS(ctx, dev, nsid, cntlid) }},
		{"rescan", func() error { return m.NVMe.Rescan(ctx, dev) }},
	}
	if err := m.settle(ctx, m.CreateSettle); err != nil {
		return nsid, err
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return nsid, fmt.Errorf("%s namespace %d on %s: %w", s.what, nsid, dev, err)
		}
		if err := m.settle(ctx, m.CreateSettle); err != nil {
			return nsid, err
		}
	}
	return nsid, nil
}

// BulkCreate creates qty namespaces of size bytes, resolving the controller id once.
func (m *Manager) BulkCreate(ctx context.Context, dev string, size uint64, blockSize, qty int) ([]int, error) {
	cntlid, err := m.ControllerID(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("resolve controller of %s: %w", dev, err)
	}
	ids := make([]int, 0, qty)
	for i := 0; i < qty; i++ {
		id, err := m.Create(ctx, dev, size, blockSize, cntlid)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete secure-erases, detaches and deletes a namespace. Format, detach and
// rescan are best-effort and only logged; the result is that of the delete.
func (m *Manager) Delete(ctx context.Context, dev string, nsid, timeoutMs int) error {
	log := logger.FromContext(ctx).With("device", dev, "nsid", nsid)
	if timeoutMs <= 0 {
		timeoutMs = DefaultDeleteTimeout
	}

	log.Debug("formatting namespace", "ses", deleteSES)
	if res, err := m.NVMe.Format(ctx, dev, nsid, deleteSES); err != nil {
		log.Warn("format failed", "err", err)
	} else if res.ExitCode != 0 {
		log.Warn("format failed", "rc", res.ExitCode, "stderr", res.Stderr)
	}
	if err := m.settle(ctx, m.DeleteSettle); err != nil {
		return err
	}

	if cntlid, err := m.ControllerID(ctx, dev); err != nil {
		log.Warn("cannot detach without controller id", "err", err)
	} else if err := m.NVMe.DetachNS(ctx, dev, nsid, cntlid); err != nil {
		log.Warn("detach failed", "err", err)
	}
	if err := m.settle(ctx, m.DeleteSettle); err != nil {
		return err
	}

	if err := m.NVMe.Rescan(ctx, dev); err != nil {
		log.Warn("rescan failed", "err", err)
	}
	if err := m.settle(ctx, m.DeleteSettle); err != nil {
		return err
	}

	if err := m.NVMe.DeleteNS(ctx, dev, nsid, timeoutMs); err != nil {
		return fmt.Errorf("delete namespace %d on %s: %w", nsid, dev, err)
	}
	log.Debug("namespace deleted")
	return nil
}

// ResetDrive removes the partitions of every attached namespace and deletes it.
// With SweepDetached, namespaces still holding capacity afterwards are looked up
// with list-ns and deleted as well.
func (m *Manager) ResetDrive(ctx context.Context, c *model.Controller) error {
	log := logger.FromContext(ctx)
	for _, ns := range c.Namespaces {
		for _, part := range m.Parted.Partitions(ns.DevicePath) {
			log.Debug("deleting partition", "namespace", ns.DevicePath, "partition", part)
			if err := m.Parted.Remove(ctx, ns.DevicePath, part); err != nil {
				return fmt.Errorf("remove partition %s of %s: %w", part, ns.DevicePath, err)
			}
		}
		if err := m.Delete(ctx, c.Name, ns.ID, DefaultDeleteTimeout); err != nil {
			return err
		}
	}
	if !m.SweepDetached {
		return nil
	}
	return m.sweep(ctx, c.Name)
}

// sweep deletes namespaces that are allocated but not attached.
func (m *Manager) sweep(ctx context.Context, dev string) error {
	log := logger.FromContext(ctx)
	id, err := m.NVMe.IDCtrl(ctx, dev)
	if err != nil {
		return fmt.Errorf("identify %s: %w", dev, err)
	}
	if id.UnallocatedCapacity == id.TotalCapacity {
		return nil
	}
	ids, err := m.NVMe.ListAllocated(ctx, dev)
	if err != nil {
		return fmt.Errorf("list allocated namespaces of %s: %w", dev, err)
	}
	log.Info("deleting unattached namespaces", "device", dev, "ids", ids)
	for _, nsid := range ids {
		if err := m.Delete(ctx, dev, nsid, DefaultDeleteTimeout); err != nil {
			return err
		}
	}
	return nil
}

// FactoryReset locates the controller by serial in a fresh snapshot, resets it
// and creates one namespace spanning all unallocated capacity.
func (m *Manager) FactoryReset(ctx context.Context, serial string) (int, error) {
	log := logger.FromContext(ctx)
	tree, err := m.Tree.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	c, ok := tree.BySerial(serial)
	if !ok {
		log.Error("unable to factory reset drive, no disk with that serial number", "serial", serial)
		return 0, fmt.Errorf("factory reset %s: %w", serial, ErrNoSuchDrive)
	}

	log.Debug("removing all namespaces", "device", c.Name)
	if err := m.ResetDrive(ctx, c); err != nil {
		return 0, fmt.Errorf("reset %s: %w", c.Name, err)
	}

	id, err := m.NVMe.IDCtrl(ctx, c.Name)
	if err != nil {
		return 0, fmt.Errorf("identify %s: %w", c.Name, err)
	}
	log.Debug("creating single namespace", "device", c.Name, "bytes", id.UnallocatedCapacity)
	nsid, err := m.Create(ctx, c.Name, id.UnallocatedCapacity, DefaultBlockSize, id.ControllerID)
	if err != nil {
		return 0, err
	}
	return nsid, nil
}
