package device

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ftahirops/nvmequal/runner"
)

// Parted manages partitions on namespace block devices.
type Parted struct {
	Runner runner.Runner
	Path   string

	// Glob lists partition device nodes; filepath.Glob when nil.
	Glob func(pattern string) ([]string, error)
}

// Partitions returns the partition numbers present on a namespace, e.g. "1", "2"
// for /dev/nvme0n1p1 and /dev/nvme0n1p2.
func (p *Parted) Partitions(nsPath string) []string {
	glob := p.Glob
	if glob == nil {
		glob = filepath.Glob
	}
	prefix := nsPath + "p"
	matches, err := glob(prefix + "*")
	if err != nil {
		return nil
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, m[len(prefix):])
	}
	sort.Slice(parts, func(i, j int) bool {
		a, _ := strconv.Atoi(parts[i])
		b, _ := strconv.Atoi(parts[j])
		return a < b
	})
	return parts
}

// Remove deletes one partition.
func (p *Parted) Remove(ctx context.Context, nsPath, partition string) error {
	_, err := p.Runner.Run(ctx, runner.Must(p.Path, "-s", nsPath, "rm", partition))
	return err
}
