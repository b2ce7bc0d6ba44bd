package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments(t *testing.T) {
	out := "/dev/nvme0 NVMe SIM 1.0\nLocking function (0x0002)\n    Locked = N, LockingEnabled = Y, LockingSupported = Y, MediaEncrypt = Y"
	m := ParseAssignments(out)
	assert.Equal(t, "N", m["Locked"])
	assert.Equal(t, "Y", m["LockingEnabled"])
	assert.Equal(t, "Y", m["MediaEncrypt"])
	assert.NotContains(t, m, "Locking function (0x0002)")
}

func TestGiB(t *testing.T) {
	assert.Equal(t, uint64(1073741824), GiB(1))
	assert.Zero(t, GiB(0))
	assert.Zero(t, GiB(-3))
}

func TestReadFileString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serial")
	require.NoError(t, os.WriteFile(path, []byte("S1   \n"), 0o644))
	s, err := ReadFileString(path)
	require.NoError(t, err)
	assert.Equal(t, "S1   \n", s)

	_, err = ReadFileString(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRateAndDelta(t *testing.T) {
	assert.Equal(t, 2.0, Rate(10, 5*time.Second))
	assert.Zero(t, Rate(10, 0))
	assert.Equal(t, uint64(5), Delta(10, 15))
	assert.Zero(t, Delta(15, 10))
}
