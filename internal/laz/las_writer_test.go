package laz

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jblindsay/lidario"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/savelaz/internal/monitoring"
)

func format1Header(w Codec, n uint32) {
	h := w.Header()
	h.FileSourceID = 4711
	h.VersionMajor = 1
	h.VersionMinor = 2
	h.GeneratingSoftware = "save-laz test"
	h.PointDataFormat = 1
	h.PointDataRecordLength = Format1RecordLength
	h.NumberOfPointRecords = n
	h.XScaleFactor, h.YScaleFactor, h.ZScaleFactor = 1e-4, 1e-4, 1e-4
	h.MinX, h.MaxX = -1.5, 2.25
	h.MinY, h.MaxY = 0, 3
	h.MinZ, h.MaxZ = -0.5, 0.5
}

func TestLASWriter_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.las")
	w := NewLASWriter()
	format1Header(w, 2)
	w.Header().SetCreationDate(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, w.Open(path, false))

	p := w.Point()
	p.Intensity = 200
	p.Classification = 0x12
	p.GPSTime = 1.5
	w.SetCoordinates(-1.5, 0, 0.5)
	require.NoError(t, w.WritePoint())

	p.Intensity = 3
	p.Classification = 0xFF
	p.GPSTime = 2.25
	w.SetCoordinates(2.25, 3, -0.5)
	require.NoError(t, w.WritePoint())

	require.NoError(t, w.Close())
	w.Destroy()

	lf, err := lidario.NewLasFile(path, "r")
	require.NoError(t, err)
	defer lf.Close()

	assert.Equal(t, 4711, lf.Header.FileSourceID)
	assert.Equal(t, byte(1), lf.Header.VersionMajor)
	assert.Equal(t, byte(2), lf.Header.VersionMinor)
	assert.Equal(t, byte(1), lf.Header.PointFormatID)
	assert.Equal(t, Format1RecordLength, lf.Header.PointRecordLength)
	assert.Equal(t, HeaderSize, lf.Header.HeaderSize)
	assert.Equal(t, HeaderSize, lf.Header.OffsetToPoints)
	assert.Equal(t, 2, lf.Header.NumberPoints)
	assert.Equal(t, "save-laz test", lf.Header.GeneratingSoftware)
	assert.Equal(t, 32, lf.Header.FileCreationDay)
	assert.Equal(t, 2024, lf.Header.FileCreationYear)
	assert.Equal(t, 1e-4, lf.Header.XScaleFactor)
	assert.Equal(t, -1.5, lf.Header.MinX)
	assert.Equal(t, 2.25, lf.Header.MaxX)
	assert.Equal(t, 3.0, lf.Header.MaxY)

	first, err := lf.LasPoint(0)
	require.NoError(t, err)
	assert.InDelta(t, -1.5, first.PointData().X, 1e-9)
	assert.InDelta(t, 0.5, first.PointData().Z, 1e-9)
	assert.Equal(t, uint16(200), first.PointData().Intensity)
	assert.Equal(t, byte(0x12), first.PointData().ClassBitField.Classification())
	assert.Equal(t, 1.5, first.GpsTimeData())

	second, err := lf.LasPoint(1)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, second.PointData().Y, 1e-9)
	// Only the low five bits carry the class; flags above it stay clear
	// unless set explicitly.
	assert.Equal(t, byte(0x1F), second.PointData().ClassBitField.Value)
	assert.Equal(t, 2.25, second.GpsTimeData())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize+2*Format1RecordLength), info.Size())
}

func TestLASWriter_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.las")
	w := NewLASWriter()
	format1Header(w, 0)
	require.NoError(t, w.Open(path, false))
	require.NoError(t, w.Close())
	w.Destroy()

	lf, err := lidario.NewLasFile(path, "r")
	require.NoError(t, err)
	defer lf.Close()
	assert.Equal(t, 0, lf.Header.NumberPoints)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize), info.Size())
}

func TestLASWriter_CountMismatchPatchesHeader(t *testing.T) {
	var lines []string
	restore := monitoring.Capture(&lines)
	defer restore()

	path := filepath.Join(t.TempDir(), "short.las")
	w := NewLASWriter()
	format1Header(w, 5)
	require.NoError(t, w.Open(path, false))
	w.SetCoordinates(0, 0, 0)
	require.NoError(t, w.WritePoint())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[107:111]))
	require.Len(t, lines, 1)
	assert.True(t, strings.Contains(lines[0], "declared 5 point records but 1 were written"), lines[0])
}

func TestLASWriter_Quantization(t *testing.T) {
	tests := []struct {
		in   float64
		want int32
	}{
		{0, 0},
		{1.23456789, 12346},
		{-0.00005, -1},
		{0.00004999, 0},
		{70.0, 700000},
	}
	for _, tt := range tests {
		got, err := quantize(tt.in, 1e-4, 0)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "quantize(%v)", tt.in)
	}

	_, err := quantize(1e6, 1e-4, 0)
	assert.Error(t, err)
	_, err = quantize(math.NaN(), 1e-4, 0)
	assert.Error(t, err)
}

func TestLASWriter_OutOfRangeCoordinate(t *testing.T) {
	w := NewLASWriter()
	format1Header(w, 1)
	require.NoError(t, w.Open(filepath.Join(t.TempDir(), "far.las"), false))
	defer w.Destroy()

	w.SetCoordinates(1e9, 0, 0)
	assert.Error(t, w.WritePoint())
}

func TestLASWriter_OpenErrors(t *testing.T) {
	dir := t.TempDir()

	w := NewLASWriter()
	format1Header(w, 0)
	assert.ErrorIs(t, w.Open(filepath.Join(dir, "a.laz"), true), ErrCompressionUnavailable)

	bad := NewLASWriter()
	format1Header(bad, 0)
	bad.Header().PointDataRecordLength = 25
	assert.Error(t, bad.Open(filepath.Join(dir, "b.las"), false))

	noScale := NewLASWriter()
	format1Header(noScale, 0)
	noScale.Header().ZScaleFactor = 0
	assert.Error(t, noScale.Open(filepath.Join(dir, "c.las"), false))

	v13 := NewLASWriter()
	format1Header(v13, 0)
	v13.Header().VersionMinor = 3
	assert.Error(t, v13.Open(filepath.Join(dir, "d.las"), false))

	missingDir := NewLASWriter()
	format1Header(missingDir, 0)
	assert.Error(t, missingDir.Open(filepath.Join(dir, "nope", "e.las"), false))
	missingDir.Destroy()

	unopened := NewLASWriter()
	assert.ErrorIs(t, unopened.WritePoint(), ErrNotOpen)
	assert.ErrorIs(t, unopened.Close(), ErrNotOpen)
	unopened.Destroy()
}

func TestLASWriter_Format0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f0.las")
	w := NewLASWriter()
	format1Header(w, 1)
	w.Header().PointDataFormat = 0
	w.Header().PointDataRecordLength = Format0RecordLength
	require.NoError(t, w.Open(path, false))
	w.Point().ReturnNumber = 1
	w.Point().NumberOfReturns = 1
	w.SetCoordinates(1, 2, 3)
	require.NoError(t, w.WritePoint())
	require.NoError(t, w.Close())

	lf, err := lidario.NewLasFile(path, "r")
	require.NoError(t, err)
	defer lf.Close()
	assert.Equal(t, [5]int{1, 0, 0, 0, 0}, lf.Header.NumberPointsByReturn)
	x, y, z, err := lf.GetXYZ(0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, x, 1e-9)
	assert.InDelta(t, 2.0, y, 1e-9)
	assert.InDelta(t, 3.0, z, 1e-9)
}

func TestNew(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	defer c.Destroy()
	assert.NotNil(t, c.Header())
	assert.NotNil(t, c.Point())
}
