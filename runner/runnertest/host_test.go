package runnertest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftahirops/nvmequal/runner"
)

func TestFirstFitAllocation(t *testing.T) {
	ctx := context.Background()
	h := NewHost(NewDevice("nvme0"))
	for i := 0; i < 4; i++ {
		_, err := h.Run(ctx, runner.Must("nvme", "create-ns", "/dev/nvme0", "-s", "256", "-c", "256", "-b", "4096"))
		require.NoError(t, err)
	}
	_, err := h.Run(ctx, runner.Must("nvme", "delete-ns", "/dev/nvme0", "-n", "2"))
	require.NoError(t, err)

	res, err := h.Run(ctx, runner.Must("nvme", "create-ns", "/dev/nvme0", "-s", "256", "-c", "256", "-b", "4096"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Stdout, "nsid:2"))
	assert.Equal(t, []int{1, 2, 3, 4}, h.Allocated("nvme0"))
}

func TestFailOnce(t *testing.T) {
	ctx := context.Background()
	h := NewHost(NewDevice("nvme0"))
	h.FailOnce("ns-rescan")

	_, err := h.Run(ctx, runner.Must("nvme", "ns-rescan", "/dev/nvme0"))
	assert.True(t, errors.Is(err, runner.ErrUnexpectedExit))
	_, err = h.Run(ctx, runner.Must("nvme", "ns-rescan", "/dev/nvme0"))
	assert.NoError(t, err)
}

func TestUnknownTool(t *testing.T) {
	h := NewHost(NewDevice("nvme0"))
	res, err := h.Run(context.Background(), runner.Probe("/usr/bin/dd", "if=/dev/zero"))
	assert.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}

func TestLockedRangeRefusesIO(t *testing.T) {
	ctx := context.Background()
	d := NewDevice("nvme0")
	h := NewHost(d)
	h.AddNamespace("nvme0", 1, 1<<30, true)

	steps := [][]string{
		{"--initialSetup", "passw0rd", "/dev/nvme0"},
		{"--enablelockingrange", "0", "passw0rd", "/dev/nvme0"},
		{"--setLockingRange", "0", "LK", "passw0rd", "/dev/nvme0"},
	}
	for _, s := range steps {
		_, err := h.Run(ctx, runner.Probe("sedutil-cli", s...))
		require.NoError(t, err)
	}
	assert.True(t, h.Locked("nvme0"))

	res, err := h.Run(ctx, runner.Probe("fio", "--name=r", "--rw=read", "--filename=/dev/nvme0n1"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "error on file /dev/nvme0n1")

	res, err = h.Run(ctx, runner.Probe("sedutil-cli", "--yesIreallywanttoERASEALLmydatausingthePSID", d.PSID, "/dev/nvme0"))
	require.NoError(t, err)
	assert.Zero(t, res.ExitCode)
	assert.False(t, h.Locked("nvme0"))
	assert.False(t, h.OpalSetup("nvme0"))
}

func TestSysfs(t *testing.T) {
	root := t.TempDir()
	h := NewHost(NewDevice("nvme0"), NewDevice("nvme1"))
	require.NoError(t, h.Sysfs(root))
	matches, err := filepath.Glob(filepath.Join(root, "class", "nvme", "*", "serial"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestRunDetachedJournal(t *testing.T) {
	h := NewHost(NewDevice("nvme0"))
	require.NoError(t, h.RunDetached(runner.Probe("fio", "--name=bg")))
	assert.Equal(t, []string{"& fio --name=bg"}, h.Journal())

	h.FailOnce("detached")
	assert.Error(t, h.RunDetached(runner.Probe("fio", "--name=bg")))
}
