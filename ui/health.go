package ui

import (
	"github.com/ftahirops/nvmequal/model"
	"github.com/ftahirops/nvmequal/util"
)

// dataUnit is the size of one SMART data unit: 1000 blocks of 512 bytes.
const dataUnit = 512 * 1000

// Health is the SMART log of the drive before and after a run.
type Health struct {
	Before model.SmartLog
	After  model.SmartLog
}

// Read returns the bytes read from the media during the run.
func (h Health) Read() uint64 {
	return util.Delta(h.Before.DataUnitsRead, h.After.DataUnitsRead) * dataUnit
}

// Written returns the bytes written to the media during the run.
func (h Health) Written() uint64 {
	return util.Delta(h.Before.DataUnitsWritten, h.After.DataUnitsWritten) * dataUnit
}

func (h Health) MediaErrors() uint64 {
	return util.Delta(h.Before.MediaErrors, h.After.MediaErrors)
}
