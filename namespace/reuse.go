package namespace

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/go-cmp/cmp"

	"github.com/ftahirops/nvmequal/logger"
)

// ReuseError reports namespace ids that were not handed back out after deletion.
type ReuseError struct {
	Before []int
	After  []int
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("namespace ids were not reused (-before +after):\n%s", cmp.Diff(e.Before, e.After))
}

// CountError reports a controller showing a different number of namespaces than created.
type CountError struct {
	Want, Got int
}

func (e *CountError) Error() string {
	return fmt.Sprintf("expected %d namespaces, controller shows %d", e.Want, e.Got)
}

// VerifyIDReuse checks first-fit id reuse on dev, which must be empty: it creates
// count namespaces of size bytes, deletes the ids in remove, creates as many
// replacements and requires the sorted id set to be unchanged.
func (m *Manager) VerifyIDReuse(ctx context.Context, dev string, count int, size uint64, remove []int) error {
	log := logger.FromContext(ctx)

	log.Debug("creating namespaces", "count", count)
	if _, err := m.BulkCreate(ctx, dev, size, DefaultBlockSize, count); err != nil {
		return err
	}

	before, err := m.attachedIDs(ctx, dev)
	if err != nil {
		return err
	}
	if len(before) != count {
		return &CountError{Want: count, Got: len(before)}
	}

	log.Info("deleting a few namespaces", "ids", remove)
	for _, id := range remove {
		if err := m.Delete(ctx, dev, id, DefaultDeleteTimeout); err != nil {
			return err
		}
	}

	log.Info("adding namespaces back in", "count", len(remove))
	if _, err := m.BulkCreate(ctx, dev, size, DefaultBlockSize, len(remove)); err != nil {
		return err
	}

	after, err := m.attachedIDs(ctx, dev)
	if err != nil {
		return err
	}
	if !slices.Equal(before, after) {
		return &ReuseError{Before: before, After: after}
	}
	log.Info("namespaces created in slots of prior deleted")
	return nil
}

func (m *Manager) attachedIDs(ctx context.Context, dev string) ([]int, error) {
	c, err := m.Tree.Controller(ctx, dev)
	if err != nil {
		return nil, err
	}
	return c.NamespaceIDs(), nil
}
