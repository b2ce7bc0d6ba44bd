package collector

import (
	"context"

	"github.com/ftahirops/nvmequal/logger"
	"github.com/ftahirops/nvmequal/model"
)

// smart reads the health log of a controller. A failure is not fatal to the
// snapshot; the returned log carries the error string and zero counters.
func (b *Builder) smart(ctx context.Context, name string) model.SmartLog {
	s, err := b.NVMe.SmartLog(ctx, name)
	if err != nil {
		logger.FromContext(ctx).Warn("smart-log unavailable", "controller", name, "err", err)
		return model.SmartLog{ErrorString: err.Error()}
	}
	return s
}
