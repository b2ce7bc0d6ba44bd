package model

import "strings"

// DriveIdentity is the report metadata of the drive under test, read from sysfs.
type DriveIdentity struct {
	Name     string `json:"name"`
	Serial   string `json:"serial"`
	Model    string `json:"model"`
	Firmware string `json:"firmware"`
}

// DevicePath returns the controller character device, e.g. "/dev/nvme0".
func (d DriveIdentity) DevicePath() string {
	if strings.HasPrefix(d.Name, "/dev/") {
		return d.Name
	}
	return "/dev/" + d.Name
}
