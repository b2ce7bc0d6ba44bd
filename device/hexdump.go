package device

import (
	"context"
	"strconv"

	"github.com/ftahirops/nvmequal/runner"
)

// Hexdump samples raw bytes of a block device.
type Hexdump struct {
	Runner runner.Runner
	Path   string
}

// Sample dumps n bytes starting at offset.
func (h *Hexdump) Sample(ctx context.Context, dev string, n, offset int) (string, error) {
	res, err := h.Runner.Run(ctx, runner.Must(h.Path, dev, "-n", strconv.Itoa(n), "-s", strconv.Itoa(offset)))
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}
