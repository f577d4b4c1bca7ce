package livox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"net"
)

// Control frame layout.
const (
	ControlSOF        = 0xAA
	ControlVersion    = 0
	ControlHeaderSize = 22
)

// Command identifiers.
const (
	CmdDiscovery   uint16 = 0x0000
	CmdParamConfig uint16 = 0x0100
)

// Command types and senders.
const (
	CmdTypeRequest uint8 = 0
	CmdTypeAck     uint8 = 1
	SenderHost     uint8 = 0
	SenderLidar    uint8 = 1
)

// Parameter keys written during capture setup.
const (
	KeyWorkTargetMode uint16 = 0x001A
	KeyIMUDataEnable  uint16 = 0x001C
)

// DeviceTypeMid360 is the device type reported by a Mid-360.
const DeviceTypeMid360 uint8 = 9

var errBadFrame = errors.New("malformed control frame")

// ControlFrame is a command, or its acknowledgement, on the control port.
type ControlFrame struct {
	Seq        uint16
	CmdID      uint16
	CmdType    uint8
	SenderType uint8
	Data       []byte
}

// Encode serialises f with both checksums filled in.
func (f ControlFrame) Encode() []byte {
	b := make([]byte, ControlHeaderSize+len(f.Data))
	b[0] = ControlSOF
	b[1] = ControlVersion
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[4:6], f.Seq)
	binary.LittleEndian.PutUint16(b[6:8], f.CmdID)
	b[8] = f.CmdType
	b[9] = f.SenderType
	binary.LittleEndian.PutUint16(b[16:18], crc16(b[:16]))
	binary.LittleEndian.PutUint32(b[18:22], crc32.ChecksumIEEE(f.Data))
	copy(b[ControlHeaderSize:], f.Data)
	return b
}

// ParseControlFrame validates and decodes a control frame.
func ParseControlFrame(b []byte) (ControlFrame, error) {
	if len(b) < ControlHeaderSize || b[0] != ControlSOF {
		return ControlFrame{}, errBadFrame
	}
	length := int(binary.LittleEndian.Uint16(b[2:4]))
	if length < ControlHeaderSize || length > len(b) {
		return ControlFrame{}, fmt.Errorf("%w: length %d, have %d bytes", errBadFrame, length, len(b))
	}
	if got, want := binary.LittleEndian.Uint16(b[16:18]), crc16(b[:16]); got != want {
		return ControlFrame{}, fmt.Errorf("%w: header crc %#04x, want %#04x", errBadFrame, got, want)
	}
	data := b[ControlHeaderSize:length]
	if got, want := binary.LittleEndian.Uint32(b[18:22]), crc32.ChecksumIEEE(data); got != want {
		return ControlFrame{}, fmt.Errorf("%w: data crc %#08x, want %#08x", errBadFrame, got, want)
	}
	return ControlFrame{
		Seq:        binary.LittleEndian.Uint16(b[4:6]),
		CmdID:      binary.LittleEndian.Uint16(b[6:8]),
		CmdType:    b[8],
		SenderType: b[9],
		Data:       data,
	}, nil
}

// crc16 is CRC-16/CCITT-FALSE.
func crc16(b []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, c := range b {
		crc ^= uint16(c) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// DeviceInfo describes a sensor announced through discovery.
type DeviceInfo struct {
	DevType uint8
	Serial  string
	IP      net.IP
	CmdPort uint16
}

// Handle derives the runtime handle of a device from its IPv4 address.
func Handle(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(v4)
}

// DiscoveryRequest is the broadcast sent to find sensors.
func DiscoveryRequest(seq uint16) ControlFrame {
	return ControlFrame{Seq: seq, CmdID: CmdDiscovery, CmdType: CmdTypeRequest, SenderType: SenderHost}
}

const discoveryAckSize = 24

// ParseDiscoveryAck decodes the payload of a discovery acknowledgement.
func ParseDiscoveryAck(data []byte) (DeviceInfo, error) {
	if len(data) < discoveryAckSize {
		return DeviceInfo{}, fmt.Errorf("discovery ack too short: %d bytes", len(data))
	}
	if data[0] != 0 {
		return DeviceInfo{}, fmt.Errorf("discovery ack return code %d", data[0])
	}
	sn := data[2:18]
	if i := bytes.IndexByte(sn, 0); i >= 0 {
		sn = sn[:i]
	}
	return DeviceInfo{
		DevType: data[1],
		Serial:  string(sn),
		IP:      net.IPv4(data[18], data[19], data[20], data[21]).To4(),
		CmdPort: binary.LittleEndian.Uint16(data[22:24]),
	}, nil
}

// EncodeDiscoveryAck builds the payload a sensor answers discovery with.
func EncodeDiscoveryAck(info DeviceInfo) []byte {
	data := make([]byte, discoveryAckSize)
	data[1] = info.DevType
	copy(data[2:18], info.Serial)
	copy(data[18:22], info.IP.To4())
	binary.LittleEndian.PutUint16(data[22:24], info.CmdPort)
	return data
}

// KeyValue is one parameter entry of a configuration command.
type KeyValue struct {
	Key   uint16
	Value []byte
}

// ParamConfigRequest builds a parameter configuration command.
func ParamConfigRequest(seq uint16, kvs ...KeyValue) ControlFrame {
	size := 4
	for _, kv := range kvs {
		size += 4 + len(kv.Value)
	}
	data := make([]byte, size)
	binary.LittleEndian.PutUint16(data[0:2], uint16(len(kvs)))
	off := 4
	for _, kv := range kvs {
		binary.LittleEndian.PutUint16(data[off:], kv.Key)
		binary.LittleEndian.PutUint16(data[off+2:], uint16(len(kv.Value)))
		copy(data[off+4:], kv.Value)
		off += 4 + len(kv.Value)
	}
	return ControlFrame{Seq: seq, CmdID: CmdParamConfig, CmdType: CmdTypeRequest, SenderType: SenderHost, Data: data}
}

// ParseParamConfig decodes the entries of a parameter configuration command.
func ParseParamConfig(data []byte) ([]KeyValue, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("param config too short: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint16(data[0:2]))
	kvs := make([]KeyValue, 0, n)
	off := 4
	for i := 0; i < n; i++ {
		if off+4 > len(data) {
			return nil, fmt.Errorf("param config entry %d truncated", i)
		}
		key := binary.LittleEndian.Uint16(data[off:])
		l := int(binary.LittleEndian.Uint16(data[off+2:]))
		if off+4+l > len(data) {
			return nil, fmt.Errorf("param config entry %d value truncated", i)
		}
		kvs = append(kvs, KeyValue{Key: key, Value: data[off+4 : off+4+l]})
		off += 4 + l
	}
	return kvs, nil
}
