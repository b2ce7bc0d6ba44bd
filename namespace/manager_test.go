package namespace_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftahirops/nvmequal/collector"
	"github.com/ftahirops/nvmequal/device"
	"github.com/ftahirops/nvmequal/namespace"
	"github.com/ftahirops/nvmequal/runner"
	"github.com/ftahirops/nvmequal/runner/runnertest"
)

const gib = 1 << 30

type fixture struct {
	host    *runnertest.Host
	mgr     *namespace.Manager
	parts   map[string][]string
	settles []time.Duration
}

func newFixture(t *testing.T, devs ...*runnertest.Device) *fixture {
	t.Helper()
	if len(devs) == 0 {
		devs = []*runnertest.Device{runnertest.NewDevice("nvme0")}
	}
	f := &fixture{host: runnertest.NewHost(devs...), parts: map[string][]string{}}
	root := t.TempDir()
	require.NoError(t, f.host.Sysfs(root))

	nvme := &device.NVMe{Runner: f.host, Path: "/usr/sbin/nvme"}
	parted := &device.Parted{
		Runner: f.host,
		Path:   "/sbin/parted",
		Glob: func(pattern string) ([]string, error) {
			return f.parts[strings.TrimSuffix(pattern, "*")], nil
		},
	}
	f.mgr = namespace.NewManager(nvme, parted, &collector.Builder{NVMe: nvme, SysfsRoot: root})
	f.mgr.Sleep = func(_ context.Context, d time.Duration) error {
		f.settles = append(f.settles, d)
		return nil
	}
	return f
}

// mutations returns the journaled nvme subcommands that change device state, in order.
func (f *fixture) mutations() []string {
	var out []string
	for _, line := range f.host.Journal() {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[1] {
		case "create-ns", "attach-ns", "detach-ns", "delete-ns", "format", "ns-rescan":
			out = append(out, fields[1])
		}
	}
	return out
}

func TestCreateSettlesAndRescans(t *testing.T) {
	f := newFixture(t)

	id, err := f.mgr.Create(context.Background(), "nvme0", gib, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, []int{1}, f.host.Attached("nvme0"))

	assert.Equal(t, []string{"create-ns", "ns-rescan", "attach-ns", "ns-rescan"}, f.mutations())
	assert.Equal(t, 1, f.host.Count("create-ns", "-s", "262144", "-c", "262144", "-b", "4096"))
	assert.Equal(t, 1, f.host.Count("attach-ns", "-n", "1", "-c", "6"))
	require.Len(t, f.settles, 4)
	for _, d := range f.settles {
		assert.Equal(t, namespace.DefaultCreateSettle, d)
	}
}

func TestCreateFailFast(t *testing.T) {
	f := newFixture(t)
	f.host.FailOn("attach-ns")

	_, err := f.mgr.Create(context.Background(), "nvme0", gib, 4096, 6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runner.ErrUnexpectedExit))
	assert.Contains(t, err.Error(), "attach namespace 1 on nvme0")
}

func TestBulkCreateResolvesControllerOnce(t *testing.T) {
	f := newFixture(t)

	ids, err := f.mgr.BulkCreate(context.Background(), "nvme0", gib, 4096, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, ids)
	assert.Equal(t, 1, f.host.Count("id-ctrl"))
}

func TestDeleteSequence(t *testing.T) {
	f := newFixture(t)
	f.host.AddNamespace("nvme0", 3, gib, true)

	require.NoError(t, f.mgr.Delete(context.Background(), "nvme0", 3, 0))
	assert.Empty(t, f.host.Allocated("nvme0"))
	assert.Equal(t, []string{"format", "detach-ns", "ns-rescan", "delete-ns"}, f.mutations())
	assert.Equal(t, 1, f.host.Count("format", "-n", "3", "-s", "2"))
	assert.Equal(t, 1, f.host.Count("delete-ns", "-n", "3", "-t", "120000"))
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, f.settles)
}

func TestDeleteBestEffortSteps(t *testing.T) {
	f := newFixture(t)
	f.host.AddNamespace("nvme0", 1, gib, true)
	f.host.FailOn("format")
	f.host.FailOn("detach-ns")
	f.host.FailOn("ns-rescan")

	require.NoError(t, f.mgr.Delete(context.Background(), "nvme0", 1, 0))
	assert.Empty(t, f.host.Allocated("nvme0"))
}

func TestDeleteResultIsDeleteStatus(t *testing.T) {
	f := newFixture(t)
	f.host.AddNamespace("nvme0", 1, gib, true)
	f.host.FailOn("delete-ns")

	err := f.mgr.Delete(context.Background(), "nvme0", 1, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runner.ErrUnexpectedExit))
}

func TestResetDrive(t *testing.T) {
	f := newFixture(t)
	f.host.AddNamespace("nvme0", 1, gib, true)
	f.host.AddNamespace("nvme0", 2, gib, true)
	f.host.AddNamespace("nvme0", 7, gib, false)
	f.parts["/dev/nvme0n1p"] = []string{"/dev/nvme0n1p1", "/dev/nvme0n1p2"}

	ctx := context.Background()
	c, err := f.mgr.Tree.Controller(ctx, "nvme0")
	require.NoError(t, err)
	require.NoError(t, f.mgr.ResetDrive(ctx, c))

	assert.Empty(t, f.host.Allocated("nvme0"))
	assert.Equal(t, 2, f.host.Count("/sbin/parted", "-s", "/dev/nvme0n1", "rm"))
	assert.Equal(t, 1, f.host.Count("list-ns", "--all"))
}

func TestResetDriveWithoutSweepKeepsUnattached(t *testing.T) {
	f := newFixture(t)
	f.mgr.SweepDetached = false
	f.host.AddNamespace("nvme0", 1, gib, true)
	f.host.AddNamespace("nvme0", 7, gib, false)

	ctx := context.Background()
	c, err := f.mgr.Tree.Controller(ctx, "nvme0")
	require.NoError(t, err)
	require.NoError(t, f.mgr.ResetDrive(ctx, c))
	assert.Equal(t, []int{7}, f.host.Allocated("nvme0"))
}

func TestFactoryReset(t *testing.T) {
	f := newFixture(t)
	f.host.AddNamespace("nvme0", 1, gib, true)
	f.host.AddNamespace("nvme0", 2, gib, true)

	ctx := context.Background()
	id, err := f.mgr.FactoryReset(ctx, "  S5XNA0RNVME0 ")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	c, err := f.mgr.Tree.Controller(ctx, "nvme0")
	require.NoError(t, err)
	require.Equal(t, []int{1}, c.NamespaceIDs())
	assert.Equal(t, uint64(1<<40), c.Namespaces[0].SizeBytes)
	assert.Zero(t, c.UnallocatedCapacity)
}

func TestFactoryResetUnknownSerial(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.FactoryReset(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, namespace.ErrNoSuchDrive))
	assert.Zero(t, f.host.Count("create-ns"))
}

func TestMax(t *testing.T) {
	f := newFixture(t)
	n, err := f.mgr.Max(context.Background(), "nvme0")
	require.NoError(t, err)
	assert.Equal(t, 32, n)
}

func TestVerifyIDReuseThirtyTwoNamespaces(t *testing.T) {
	f := newFixture(t)

	err := f.mgr.VerifyIDReuse(context.Background(), "nvme0", 32, gib, []int{1, 2, 3})
	require.NoError(t, err)

	want := make([]int, 32)
	for i := range want {
		want[i] = i + 1
	}
	if diff := cmp.Diff(want, f.host.Attached("nvme0")); diff != "" {
		t.Errorf("attached ids mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, f.host.Count("delete-ns"))
}

func TestVerifyIDReuseDetectsHighWaterAllocation(t *testing.T) {
	d := runnertest.NewDevice("nvme0")
	d.MonotonicIDs = true
	d.MaxNS = 8
	f := newFixture(t, d)

	err := f.mgr.VerifyIDReuse(context.Background(), "nvme0", 4, gib, []int{1, 2, 3})
	var reuse *namespace.ReuseError
	require.ErrorAs(t, err, &reuse)
	assert.Equal(t, []int{1, 2, 3, 4}, reuse.Before)
	assert.Equal(t, []int{4, 5, 6, 7}, reuse.After)
}

func TestVerifyIDReuseCountMismatch(t *testing.T) {
	f := newFixture(t)
	f.host.AddNamespace("nvme0", 9, gib, true)

	err := f.mgr.VerifyIDReuse(context.Background(), "nvme0", 2, gib, []int{1})
	var count *namespace.CountError
	require.ErrorAs(t, err, &count)
	assert.Equal(t, 2, count.Want)
	assert.Equal(t, 3, count.Got)
}

func TestSettleHonoursContext(t *testing.T) {
	f := newFixture(t)
	f.mgr.Sleep = nil
	f.mgr.CreateSettle = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.mgr.Create(ctx, "nvme0", gib, 4096, 6)
	assert.ErrorIs(t, err, context.Canceled)
}
