package laz

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// HeaderSize is the size of a LAS 1.2 public header block.
const HeaderSize = 227

// Point record lengths of the supported point data formats.
const (
	Format0RecordLength = 20
	Format1RecordLength = 28
)

// Header is the LAS public header block. Open computes HeaderSize,
// OffsetToPointData and NumberOfVLRs; every other field is written as set.
type Header struct {
	FileSourceID       uint16
	GlobalEncoding     uint16
	ProjectID          [16]byte
	VersionMajor       uint8
	VersionMinor       uint8
	SystemIdentifier   string
	GeneratingSoftware string
	CreationDay        uint16
	CreationYear       uint16

	PointDataFormat        uint8
	PointDataRecordLength  uint16
	NumberOfPointRecords   uint32
	NumberOfPointsByReturn [5]uint32

	XScaleFactor, YScaleFactor, ZScaleFactor float64
	XOffset, YOffset, ZOffset                float64

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// SetCreationDate fills CreationDay and CreationYear from t.
func (h *Header) SetCreationDate(t time.Time) {
	h.CreationDay = uint16(t.YearDay())
	h.CreationYear = uint16(t.Year())
}

func (h *Header) validate() error {
	if h.VersionMajor != 1 || h.VersionMinor > 2 {
		return fmt.Errorf("unsupported LAS version %d.%d", h.VersionMajor, h.VersionMinor)
	}
	switch h.PointDataFormat {
	case 0:
		if h.PointDataRecordLength != Format0RecordLength {
			return fmt.Errorf("format 0 needs record length %d, got %d", Format0RecordLength, h.PointDataRecordLength)
		}
	case 1:
		if h.PointDataRecordLength != Format1RecordLength {
			return fmt.Errorf("format 1 needs record length %d, got %d", Format1RecordLength, h.PointDataRecordLength)
		}
	default:
		return fmt.Errorf("unsupported point data format %d", h.PointDataFormat)
	}
	if h.XScaleFactor == 0 || h.YScaleFactor == 0 || h.ZScaleFactor == 0 {
		return errors.New("scale factors must be non-zero")
	}
	return nil
}

// encode writes the header into b, which must hold HeaderSize bytes.
func (h *Header) encode(b []byte) {
	le := binary.LittleEndian
	copy(b[0:4], "LASF")
	le.PutUint16(b[4:], h.FileSourceID)
	le.PutUint16(b[6:], h.GlobalEncoding)
	copy(b[8:24], h.ProjectID[:])
	b[24] = h.VersionMajor
	b[25] = h.VersionMinor
	putString(b[26:58], h.SystemIdentifier)
	putString(b[58:90], h.GeneratingSoftware)
	le.PutUint16(b[90:], h.CreationDay)
	le.PutUint16(b[92:], h.CreationYear)
	le.PutUint16(b[94:], HeaderSize)
	le.PutUint32(b[96:], HeaderSize)
	le.PutUint32(b[100:], 0)
	b[104] = h.PointDataFormat
	le.PutUint16(b[105:], h.PointDataRecordLength)
	le.PutUint32(b[107:], h.NumberOfPointRecords)
	for i, n := range h.NumberOfPointsByReturn {
		le.PutUint32(b[111+4*i:], n)
	}
	for i, v := range []float64{
		h.XScaleFactor, h.YScaleFactor, h.ZScaleFactor,
		h.XOffset, h.YOffset, h.ZOffset,
		h.MaxX, h.MinX, h.MaxY, h.MinY, h.MaxZ, h.MinZ,
	} {
		le.PutUint64(b[131+8*i:], math.Float64bits(v))
	}
}

func putString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

// Point is the record filled before each WritePoint. X, Y and Z hold the
// scaled integers set through SetCoordinates.
type Point struct {
	X, Y, Z           int32
	Intensity         uint16
	ReturnNumber      uint8
	NumberOfReturns   uint8
	ScanDirectionFlag bool
	EdgeOfFlightLine  bool
	Classification    uint8
	Synthetic         bool
	KeyPoint          bool
	Withheld          bool
	ScanAngleRank     int8
	UserData          uint8
	PointSourceID     uint16
	GPSTime           float64
}

// encode writes p in the given format into b.
func (p *Point) encode(b []byte, format uint8) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], uint32(p.X))
	le.PutUint32(b[4:], uint32(p.Y))
	le.PutUint32(b[8:], uint32(p.Z))
	le.PutUint16(b[12:], p.Intensity)

	returns := p.ReturnNumber&0x07 | (p.NumberOfReturns&0x07)<<3
	if p.ScanDirectionFlag {
		returns |= 0x40
	}
	if p.EdgeOfFlightLine {
		returns |= 0x80
	}
	b[14] = returns

	class := p.Classification & 0x1F
	if p.Synthetic {
		class |= 0x20
	}
	if p.KeyPoint {
		class |= 0x40
	}
	if p.Withheld {
		class |= 0x80
	}
	b[15] = class
	b[16] = uint8(p.ScanAngleRank)
	b[17] = p.UserData
	le.PutUint16(b[18:], p.PointSourceID)
	if format == 1 {
		le.PutUint64(b[20:], math.Float64bits(p.GPSTime))
	}
}

// quantize converts a coordinate to its scaled integer.
func quantize(v, scale, offset float64) (int32, error) {
	q := math.Round((v - offset) / scale)
	if math.IsNaN(q) || q < math.MinInt32 || q > math.MaxInt32 {
		return 0, fmt.Errorf("coordinate %g out of range for scale %g", v, scale)
	}
	return int32(q), nil
}
