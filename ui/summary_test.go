package ui

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ftahirops/nvmequal/model"
)

func TestSummary(t *testing.T) {
	r := testReport()
	r.Capacity = 1 << 40
	r.Summary.Started = time.Now().Add(-90 * time.Second)
	r.Summary.Finished = time.Now()

	out := Summary(r)
	assert.Contains(t, out, "/dev/nvme0")
	assert.Contains(t, out, "1.0 TiB")
	assert.Contains(t, out, "run-1")
	for _, e := range r.Summary.Entries {
		assert.Contains(t, out, e.Name)
	}
	assert.Contains(t, out, "executed 2")
	assert.Contains(t, out, "ignored 1")
	assert.Contains(t, out, "minute")
	assert.NotContains(t, out, "run aborted")
	assert.NotContains(t, out, "Health")

	r.Health = &Health{After: model.SmartLog{CriticalWarning: 4, Temperature: 350}}
	assert.Contains(t, Summary(r), "critical warning, 77 C")

	r.Summary.Aborted = errors.New("context canceled")
	assert.Contains(t, Summary(r), "run aborted: context canceled")
}

func TestSummaryWithoutRun(t *testing.T) {
	out := Summary(Report{Drive: model.DriveIdentity{Name: "nvme2", Model: "Acme"}})
	assert.Contains(t, out, "/dev/nvme2")
	assert.NotContains(t, out, "TEST")
}

func TestBar(t *testing.T) {
	assert.Equal(t, 10, len([]rune(bar(50, 10))))
	assert.Equal(t, 5, len([]rune(bar(-3, 5))))
	assert.Equal(t, 10, len([]rune(bar(1, 0))))
}
