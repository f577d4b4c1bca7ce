package lidar

// ImuData is one 6-axis inertial sample.
type ImuData struct {
	Timestamp     uint64  // ns, verbatim from the packet
	GyroX         float32 // rad/s
	GyroY         float32
	GyroZ         float32
	AccX          float32 // g
	AccY          float32
	AccZ          float32
	ImuID         uint32 // runtime device handle
	TimestampUnix uint64 // ns since the Unix epoch when the packet was consumed
}
