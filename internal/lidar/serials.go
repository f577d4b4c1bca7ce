package lidar

// DeviceSerial pairs a runtime device handle with the manufacturer serial.
type DeviceSerial struct {
	Handle uint32
	Serial string
}

// SerialMap records the devices observed during a session in discovery
// order. Entries are never removed.
type SerialMap []DeviceSerial

// Add appends handle unless it is already present. It reports whether a new
// entry was recorded.
func (m *SerialMap) Add(handle uint32, serial string) bool {
	if _, ok := m.Lookup(handle); ok {
		return false
	}
	*m = append(*m, DeviceSerial{Handle: handle, Serial: serial})
	return true
}

// Lookup returns the serial recorded for handle.
func (m SerialMap) Lookup(handle uint32) (string, bool) {
	for _, d := range m {
		if d.Handle == handle {
			return d.Serial, true
		}
	}
	return "", false
}
