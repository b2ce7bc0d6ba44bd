package device

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ftahirops/nvmequal/model"
)

// flatList is the "nvme list -o json" format of nvme-cli before 2.11.
type flatList struct {
	Devices []struct {
		NameSpace    nvmeNumber `json:"NameSpace"`
		DevicePath   string     `json:"DevicePath"`
		Firmware     string     `json:"Firmware"`
		ModelNumber  string     `json:"ModelNumber"`
		SerialNumber string     `json:"SerialNumber"`
		PhysicalSize nvmeNumber `json:"PhysicalSize"`
		SectorSize   nvmeNumber `json:"SectorSize"`
	} `json:"Devices"`
}

// nestedList is the subsystem-nested format printed since nvme-cli 2.11.
type nestedList struct {
	Devices []struct {
		Subsystems []struct {
			Controllers []struct {
				Controller   string `json:"Controller"`
				SerialNumber string `json:"SerialNumber"`
				ModelNumber  string `json:"ModelNumber"`
				Firmware     string `json:"Firmware"`
				Namespaces   []struct {
					NameSpace    string     `json:"NameSpace"`
					NSID         nvmeNumber `json:"NSID"`
					PhysicalSize nvmeNumber `json:"PhysicalSize"`
					SectorSize   nvmeNumber `json:"SectorSize"`
				} `json:"Namespaces"`
			} `json:"Controllers"`
		} `json:"Subsystems"`
	} `json:"Devices"`
}

// decodeList decodes either list format. When nested is false the flat format is
// tried first and the nested one is used if the devices carry no DevicePath.
func decodeList(b []byte, nested bool) ([]model.Namespace, error) {
	if !nested {
		var flat flatList
		if err := json.Unmarshal(b, &flat); err != nil {
			return nil, err
		}
		if len(flat.Devices) == 0 || flat.Devices[0].DevicePath != "" {
			out := make([]model.Namespace, 0, len(flat.Devices))
			for _, d := range flat.Devices {
				out = append(out, model.Namespace{
					ID:         int(d.NameSpace.uint()),
					DevicePath: d.DevicePath,
					SizeBytes:  d.PhysicalSize.uint(),
					SectorSize: int(d.SectorSize.uint()),
					Serial:     strings.TrimSpace(d.SerialNumber),
					Firmware:   strings.TrimSpace(d.Firmware),
					Attached:   true,
				})
			}
			return out, nil
		}
	}

	var v nestedList
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	var out []model.Namespace
	for _, dev := range v.Devices {
		for _, sub := range dev.Subsystems {
			for _, ctrl := range sub.Controllers {
				for _, ns := range ctrl.Namespaces {
					path := ns.NameSpace
					if !strings.HasPrefix(path, "/dev/") {
						path = "/dev/" + path
					}
					id := int(ns.NSID.uint())
					if id == 0 {
						id = nsidFromPath(path)
					}
					out = append(out, model.Namespace{
						ID:         id,
						DevicePath: path,
						SizeBytes:  ns.PhysicalSize.uint(),
						SectorSize: int(ns.SectorSize.uint()),
						Serial:     strings.TrimSpace(ctrl.SerialNumber),
						Firmware:   strings.TrimSpace(ctrl.Firmware),
						Attached:   true,
					})
				}
			}
		}
	}
	return out, nil
}

// nsidFromPath reads the namespace id from a block device path ("/dev/nvme0n12" -> 12).
func nsidFromPath(path string) int {
	i := strings.LastIndexByte(path, 'n')
	if i < 0 {
		return 0
	}
	id, _ := strconv.Atoi(path[i+1:])
	return id
}

type smartLogJSON struct {
	CriticalWarning  json.RawMessage `json:"critical_warning"`
	Temperature      nvmeNumber      `json:"temperature"`
	AvailSpare       nvmeNumber      `json:"avail_spare"`
	SpareThresh      nvmeNumber      `json:"spare_thresh"`
	PercentUsed      nvmeNumber      `json:"percent_used"`
	DataUnitsRead    nvmeNumber      `json:"data_units_read"`
	DataUnitsWritten nvmeNumber      `json:"data_units_written"`
	PowerCycles      nvmeNumber      `json:"power_cycles"`
	PowerOnHours     nvmeNumber      `json:"power_on_hours"`
	UnsafeShutdowns  nvmeNumber      `json:"unsafe_shutdowns"`
	MediaErrors      nvmeNumber      `json:"media_errors"`
	NumErrLogEntries nvmeNumber      `json:"num_err_log_entries"`
}

func decodeSmartLog(b []byte) (model.SmartLog, error) {
	var v smartLogJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return model.SmartLog{}, err
	}

	// nvme-cli 2.11 prints critical_warning as an object with a "value" field.
	var warning nvmeNumber
	if len(v.CriticalWarning) > 0 {
		var obj struct {
			Value int `json:"value"`
		}
		if err := json.Unmarshal(v.CriticalWarning, &obj); err == nil {
			warning = nvmeNumber(strconv.Itoa(obj.Value))
		} else {
			warning = nvmeNumber(bytes.Trim(v.CriticalWarning, `"`))
		}
	}

	return model.SmartLog{
		CriticalWarning:  int(warning.uint()),
		Temperature:      int(v.Temperature.uint()),
		AvailSpare:       int(v.AvailSpare.uint()),
		SpareThresh:      int(v.SpareThresh.uint()),
		PercentUsed:      int(v.PercentUsed.uint()),
		DataUnitsRead:    v.DataUnitsRead.uint(),
		DataUnitsWritten: v.DataUnitsWritten.uint(),
		PowerCycles:      v.PowerCycles.uint(),
		PowerOnHours:     v.PowerOnHours.uint(),
		UnsafeShutdowns:  v.UnsafeShutdowns.uint(),
		MediaErrors:      v.MediaErrors.uint(),
		NumErrLogEntries: v.NumErrLogEntries.uint(),
	}, nil
}

// nvmeNumber accepts numbers printed either bare or as strings; some nvme-cli
// releases quote large counters and percentages ("3%").
type nvmeNumber string

func (n *nvmeNumber) UnmarshalJSON(b []byte) error {
	*n = nvmeNumber(bytes.Trim(b, `"`))
	return nil
}

func (n nvmeNumber) uint() uint64 {
	s := strings.TrimSuffix(strings.TrimSpace(string(n)), "%")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || s == "null" {
		return 0
	}
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return uint64(f)
	}
	return 0
}
