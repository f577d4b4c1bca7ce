package livox

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PacketHeaderSize is the fixed header preceding point and IMU payloads.
const PacketHeaderSize = 36

// Payload item sizes per data type.
const (
	IMUItemSize        = 24
	HighPointSize      = 14
	LowPointSize       = 8
	SphericalPointSize = 10
	MaxPacketSize      = 1500
)

// DataType identifies the payload layout of an EthernetPacket.
type DataType uint8

const (
	DataTypeIMU           DataType = 0
	DataTypeCartesianHigh DataType = 1
	DataTypeCartesianLow  DataType = 2
	DataTypeSpherical     DataType = 3
)

func (d DataType) String() string {
	switch d {
	case DataTypeIMU:
		return "imu"
	case DataTypeCartesianHigh:
		return "cartesian-high"
	case DataTypeCartesianLow:
		return "cartesian-low"
	case DataTypeSpherical:
		return "spherical"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// itemSize returns the payload bytes per item, or 0 for unknown types.
func (d DataType) itemSize() int {
	switch d {
	case DataTypeIMU:
		return IMUItemSize
	case DataTypeCartesianHigh:
		return HighPointSize
	case DataTypeCartesianLow:
		return LowPointSize
	case DataTypeSpherical:
		return SphericalPointSize
	default:
		return 0
	}
}

// EthernetPacket is one point or IMU datagram pushed by the sensor.
// Data references the receive buffer and is only valid for the duration
// of the callback it is delivered to.
type EthernetPacket struct {
	Version      uint8
	Length       uint16
	TimeInterval uint16 // units of 0.1us
	DotNum       uint16
	UDPCount     uint16
	FrameCount   uint8
	DataType     DataType
	TimeType     uint8
	CRC32        uint32
	Timestamp    uint64 // nanoseconds
	Data         []byte
}

// HighRawPoint is one cartesian-high record; coordinates in millimetres.
type HighRawPoint struct {
	X, Y, Z      int32
	Reflectivity uint8
	Tag          uint8
}

// RawIMU is one IMU record: angular rate in rad/s, acceleration in g.
type RawIMU struct {
	GyroX, GyroY, GyroZ float32
	AccX, AccY, AccZ    float32
}

// ParseEthernetPacket decodes the header of b and checks that the payload
// holds DotNum items of the declared type.
func ParseEthernetPacket(b []byte) (*EthernetPacket, error) {
	if len(b) < PacketHeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes", len(b))
	}
	p := &EthernetPacket{
		Version:      b[0],
		Length:       binary.LittleEndian.Uint16(b[1:3]),
		TimeInterval: binary.LittleEndian.Uint16(b[3:5]),
		DotNum:       binary.LittleEndian.Uint16(b[5:7]),
		UDPCount:     binary.LittleEndian.Uint16(b[7:9]),
		FrameCount:   b[9],
		DataType:     DataType(b[10]),
		TimeType:     b[11],
		CRC32:        binary.LittleEndian.Uint32(b[24:28]),
		Timestamp:    binary.LittleEndian.Uint64(b[28:36]),
		Data:         b[PacketHeaderSize:],
	}
	size := p.DataType.itemSize()
	if size == 0 {
		return nil, fmt.Errorf("unknown data type %d", uint8(p.DataType))
	}
	if need := int(p.DotNum) * size; len(p.Data) < need {
		return nil, fmt.Errorf("%s payload truncated: have %d bytes, need %d", p.DataType, len(p.Data), need)
	}
	return p, nil
}

// HighPoints decodes the cartesian-high records of p. It returns nil for
// any other data type.
func (p *EthernetPacket) HighPoints() []HighRawPoint {
	if p.DataType != DataTypeCartesianHigh {
		return nil
	}
	n := int(p.DotNum)
	if limit := len(p.Data) / HighPointSize; n > limit {
		n = limit
	}
	out := make([]HighRawPoint, n)
	for i := range out {
		d := p.Data[i*HighPointSize:]
		out[i] = HighRawPoint{
			X:            int32(binary.LittleEndian.Uint32(d[0:4])),
			Y:            int32(binary.LittleEndian.Uint32(d[4:8])),
			Z:            int32(binary.LittleEndian.Uint32(d[8:12])),
			Reflectivity: d[12],
			Tag:          d[13],
		}
	}
	return out
}

// IMU decodes the first IMU record of p.
func (p *EthernetPacket) IMU() (RawIMU, error) {
	if p.DataType != DataTypeIMU {
		return RawIMU{}, fmt.Errorf("not an imu packet: %s", p.DataType)
	}
	if len(p.Data) < IMUItemSize {
		return RawIMU{}, fmt.Errorf("imu payload truncated: %d bytes", len(p.Data))
	}
	f := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(p.Data[off : off+4]))
	}
	return RawIMU{
		GyroX: f(0), GyroY: f(4), GyroZ: f(8),
		AccX: f(12), AccY: f(16), AccZ: f(20),
	}, nil
}

// Encode serialises p, filling Length from the payload size.
func (p *EthernetPacket) Encode() []byte {
	b := make([]byte, PacketHeaderSize+len(p.Data))
	b[0] = p.Version
	binary.LittleEndian.PutUint16(b[1:3], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[3:5], p.TimeInterval)
	binary.LittleEndian.PutUint16(b[5:7], p.DotNum)
	binary.LittleEndian.PutUint16(b[7:9], p.UDPCount)
	b[9] = p.FrameCount
	b[10] = uint8(p.DataType)
	b[11] = p.TimeType
	binary.LittleEndian.PutUint32(b[24:28], p.CRC32)
	binary.LittleEndian.PutUint64(b[28:36], p.Timestamp)
	copy(b[PacketHeaderSize:], p.Data)
	return b
}

// NewHighPacket builds a cartesian-high packet carrying points.
func NewHighPacket(timestamp uint64, points []HighRawPoint) *EthernetPacket {
	data := make([]byte, len(points)*HighPointSize)
	for i, pt := range points {
		d := data[i*HighPointSize:]
		binary.LittleEndian.PutUint32(d[0:4], uint32(pt.X))
		binary.LittleEndian.PutUint32(d[4:8], uint32(pt.Y))
		binary.LittleEndian.PutUint32(d[8:12], uint32(pt.Z))
		d[12] = pt.Reflectivity
		d[13] = pt.Tag
	}
	return &EthernetPacket{
		Length:    uint16(PacketHeaderSize + len(data)),
		DotNum:    uint16(len(points)),
		DataType:  DataTypeCartesianHigh,
		Timestamp: timestamp,
		Data:      data,
	}
}

// NewIMUPacket builds an IMU packet carrying one record.
func NewIMUPacket(timestamp uint64, imu RawIMU) *EthernetPacket {
	data := make([]byte, IMUItemSize)
	for i, v := range []float32{imu.GyroX, imu.GyroY, imu.GyroZ, imu.AccX, imu.AccY, imu.AccZ} {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return &EthernetPacket{
		Length:    uint16(PacketHeaderSize + len(data)),
		DotNum:    1,
		DataType:  DataTypeIMU,
		Timestamp: timestamp,
		Data:      data,
	}
}
