package models

// DeviceDescriptor identifies a discoverable or previously paired adapter.
type DeviceDescriptor struct {
	DisplayName string `json:"name"`
	Address     string `json:"address"`
}

// Equal compares devices by address only.
func (d DeviceDescriptor) Equal(o DeviceDescriptor) bool {
	return d.Address == o.Address
}

func (d DeviceDescriptor) String() string {
	if d.DisplayName == "" || d.DisplayName == d.Address {
		return d.Address
	}
	return d.DisplayName + " (" + d.Address + ")"
}

// ContainsDevice reports whether list holds a device with the same address.
func ContainsDevice(list []DeviceDescriptor, d DeviceDescriptor) bool {
	for _, e := range list {
		if e.Equal(d) {
			return true
		}
	}
	return false
}
