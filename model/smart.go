package model

// SmartLog holds the NVMe SMART / health information log of one controller.
type SmartLog struct {
	CriticalWarning  int    `json:"critical_warning"`
	Temperature      int    `json:"temperature"` // Kelvin, as reported by the controller
	AvailSpare       int    `json:"avail_spare"`
	SpareThresh      int    `json:"spare_thresh"`
	PercentUsed      int    `json:"percent_used"`
	DataUnitsRead    uint64 `json:"data_units_read"`
	DataUnitsWritten uint64 `json:"data_units_written"`
	PowerCycles      uint64 `json:"power_cycles"`
	PowerOnHours     uint64 `json:"power_on_hours"`
	UnsafeShutdowns  uint64 `json:"unsafe_shutdowns"`
	MediaErrors      uint64 `json:"media_errors"`
	NumErrLogEntries uint64 `json:"num_err_log_entries"`
	ErrorString      string `json:"error,omitempty"` // non-empty if smart-log failed
}

// TemperatureC returns the composite temperature in Celsius, or 0 if unknown.
func (s SmartLog) TemperatureC() int {
	if s.Temperature <= 0 {
		return 0
	}
	return s.Temperature - 273
}

// Healthy reports whether no critical warning bit is set and spare is above threshold.
func (s SmartLog) Healthy() bool {
	return s.CriticalWarning == 0 && s.AvailSpare >= s.SpareThresh
}
