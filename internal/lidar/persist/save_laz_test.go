package persist

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jblindsay/lidario"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/savelaz/internal/fsutil"
	"github.com/banshee-data/savelaz/internal/laz"
	"github.com/banshee-data/savelaz/internal/lidar"
	"github.com/banshee-data/savelaz/internal/monitoring"
	"github.com/banshee-data/savelaz/internal/timeutil"
)

func TestDecimationStep(t *testing.T) {
	tests := []struct {
		n, step, records int
	}{
		{0, 1, 0},
		{1, 1, 1},
		{3, 1, 3},
		{1_999_999, 1, 1_999_999},
		{2_000_000, 1, 2_000_000},
		{3_999_999, 1, 3_999_999},
		{4_000_000, 2, 2_000_000},
		{4_000_001, 2, 2_000_001},
		{5_999_999, 2, 3_000_000},
		{10_000_000, 5, 2_000_000},
	}
	for _, tt := range tests {
		step := DecimationStep(tt.n)
		assert.Equal(t, tt.step, step, "DecimationStep(%d)", tt.n)
		assert.Equal(t, tt.records, RecordCount(tt.n, step), "RecordCount(%d, %d)", tt.n, step)
	}
}

func TestSaveLaz_ThreePoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan0001.laz")
	points := []lidar.Point{
		{X: 1, Y: 2, Z: 3, Intensity: 10, Tag: 1, GPSTime: 0.5},
		{X: -1, Y: 0, Z: 0.5, Intensity: 20, Tag: 2, GPSTime: 0.5},
		{X: 0.25, Y: -4, Z: 1, Intensity: 30, Tag: 0, GPSTime: 0.5},
	}

	stats := SaveLaz(path, points, 1200*time.Millisecond, WithCompression(false), WithCodec(laz.NewLAS))
	assert.Equal(t, 3, stats.PointCount)
	assert.Equal(t, 1, stats.DecimationStep)
	assert.Equal(t, 3, stats.RecordCount)
	assert.Equal(t, 1200*time.Millisecond, stats.CaptureDuration)
	assert.Equal(t, int64(laz.HeaderSize+3*laz.Format1RecordLength), stats.FileSize)
	assert.True(t, stats.Succeeded())

	lf, err := lidario.NewLasFile(path, "r")
	require.NoError(t, err)
	defer lf.Close()

	h := lf.Header
	assert.Equal(t, FileSourceID, h.FileSourceID)
	assert.Equal(t, byte(1), h.VersionMajor)
	assert.Equal(t, byte(2), h.VersionMinor)
	assert.Equal(t, byte(1), h.PointFormatID)
	assert.Equal(t, 28, h.PointRecordLength)
	assert.Equal(t, 3, h.NumberPoints)
	assert.Equal(t, ScaleFactor, h.XScaleFactor)
	assert.Equal(t, ScaleFactor, h.ZScaleFactor)
	assert.Equal(t, 0.0, h.XOffset)
	assert.Equal(t, -1.0, h.MinX)
	assert.Equal(t, 1.0, h.MaxX)
	assert.Equal(t, -4.0, h.MinY)
	assert.Equal(t, 2.0, h.MaxY)
	assert.Equal(t, 0.5, h.MinZ)
	assert.Equal(t, 3.0, h.MaxZ)
	assert.True(t, strings.HasPrefix(h.GeneratingSoftware, "save-laz"))

	for i, want := range points {
		p, err := lf.LasPoint(i)
		require.NoError(t, err)
		assert.InDelta(t, want.X, p.PointData().X, 1e-9)
		assert.InDelta(t, want.Y, p.PointData().Y, 1e-9)
		assert.InDelta(t, want.Z, p.PointData().Z, 1e-9)
		assert.Equal(t, uint16(want.Intensity), p.PointData().Intensity)
		assert.Equal(t, want.Tag, p.PointData().ClassBitField.Classification())
		assert.Equal(t, uint8(0), p.PointData().UserData)
		assert.Equal(t, uint16(0), p.PointData().PointSourceID)
		assert.Equal(t, want.GPSTime, p.GpsTimeData())
	}
}

func TestSaveLaz_BoundsMatchInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	points := make([]lidar.Point, 5000)
	for i := range points {
		points[i] = lidar.Point{
			X: rng.Float64()*140 - 70,
			Y: rng.Float64()*140 - 70,
			Z: rng.Float64()*20 - 5,
		}
	}
	want := ComputeBounds(points)

	codec := &fakeCodec{fs: fsutil.NewMemoryFileSystem()}
	stats := SaveLaz("cloud.laz", points, 0, WithCodec(codec.factory()), WithFileSystem(codec.fs))

	h := codec.header
	assert.Equal(t, want.Min.X, h.MinX)
	assert.Equal(t, want.Max.X, h.MaxX)
	assert.Equal(t, want.Min.Y, h.MinY)
	assert.Equal(t, want.Max.Y, h.MaxY)
	assert.Equal(t, want.Min.Z, h.MinZ)
	assert.Equal(t, want.Max.Z, h.MaxZ)
	for _, p := range points {
		assert.True(t, p.X >= h.MinX && p.X <= h.MaxX)
	}
	assert.Equal(t, uint32(5000), h.NumberOfPointRecords)
	assert.Equal(t, 5000, codec.writes)
	assert.True(t, codec.compress, "compression is the default")
	assert.Equal(t, int64(laz.HeaderSize+5000*laz.Format1RecordLength), stats.FileSize)
	assert.True(t, codec.closed)
	assert.True(t, codec.destroyed)
}

func TestSaveLaz_EmptyInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.las")
	stats := SaveLaz(path, nil, time.Second, WithCompression(false), WithCodec(laz.NewLAS))

	assert.Equal(t, 0, stats.PointCount)
	assert.Equal(t, 1, stats.DecimationStep)
	assert.Equal(t, 0, stats.RecordCount)
	assert.Equal(t, int64(laz.HeaderSize), stats.FileSize)
	assert.False(t, stats.Succeeded())

	lf, err := lidario.NewLasFile(path, "r")
	require.NoError(t, err)
	defer lf.Close()
	assert.Equal(t, 0, lf.Header.NumberPoints)
	assert.Equal(t, 0.0, lf.Header.MinX)
	assert.Equal(t, 0.0, lf.Header.MaxZ)
}

func TestSaveLaz_DecimatesLargeInput(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates four million points")
	}
	for _, n := range []int{3_999_999, 4_000_001} {
		points := make([]lidar.Point, n)
		for i := range points {
			points[i].X = float64(i) * 1e-6
		}
		codec := &fakeCodec{fs: fsutil.NewMemoryFileSystem()}
		stats := SaveLaz("big.laz", points, 0, WithCodec(codec.factory()), WithFileSystem(codec.fs))

		want := RecordCount(n, DecimationStep(n))
		assert.Equal(t, want, codec.writes, "n=%d", n)
		assert.Equal(t, uint32(want), codec.header.NumberOfPointRecords, "n=%d", n)
		assert.Equal(t, n, stats.PointCount)
		assert.Equal(t, want, stats.RecordCount)
	}
}

func TestSaveLaz_StrideKeepsPrefixPoints(t *testing.T) {
	points := make([]lidar.Point, 7)
	for i := range points {
		points[i] = lidar.Point{X: float64(i), Intensity: uint8(i), Tag: uint8(i), GPSTime: float64(i)}
	}
	codec := &fakeCodec{keep: true, fs: fsutil.NewMemoryFileSystem()}
	cfg := saveConfig{newCodec: codec.factory(), fs: codec.fs, clock: timeutil.RealClock{}}

	written, _, err := encode(cfg, "s.laz", points, ComputeBounds(points), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.Equal(t, [][3]float64{{0, 0, 0}, {3, 0, 0}, {6, 0, 0}}, codec.coords)
	assert.Equal(t, uint16(6), codec.records[2].Intensity)
	assert.Equal(t, uint8(6), codec.records[2].Classification)
	assert.Equal(t, 6.0, codec.records[2].GPSTime)
}

func TestSaveLaz_WriteDurationFromClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	codec := &fakeCodec{fs: fsutil.NewMemoryFileSystem()}
	sink := sinkFunc(func(lidar.Point) error {
		clock.Advance(10 * time.Millisecond)
		return nil
	})
	stats := SaveLaz("t.laz", make([]lidar.Point, 4), 0,
		WithCodec(codec.factory()), WithFileSystem(codec.fs), WithClock(clock), WithPointSink(sink))
	assert.Equal(t, 40*time.Millisecond, stats.WriteDuration)
}

type sinkFunc func(lidar.Point) error

func (f sinkFunc) WritePoint(p lidar.Point) error { return f(p) }

func TestSaveLaz_Failures(t *testing.T) {
	points := []lidar.Point{{X: 1}, {X: 2}, {X: 3}}

	t.Run("create", func(t *testing.T) {
		var lines []string
		restore := monitoring.Capture(&lines)
		defer restore()

		partial := &fakeCodec{}
		stats := SaveLaz("x.laz", points, time.Second, WithCodec(func() (laz.Codec, error) {
			return partial, errors.New("out of memory")
		}))
		assert.Zero(t, stats.FileSize)
		assert.Equal(t, 3, stats.PointCount)
		assert.Equal(t, time.Second, stats.CaptureDuration)
		assert.True(t, partial.destroyed)
		require.NotEmpty(t, lines)
		assert.Contains(t, lines[0], "out of memory")
	})

	t.Run("open", func(t *testing.T) {
		codec := &fakeCodec{openErr: errors.New("permission denied")}
		stats := SaveLaz("x.laz", points, 0, WithCodec(codec.factory()))
		assert.Zero(t, stats.FileSize)
		assert.False(t, codec.closed, "close only follows a successful open")
		assert.True(t, codec.destroyed)
		assert.Zero(t, codec.writes)
	})

	t.Run("write", func(t *testing.T) {
		codec := &fakeCodec{writeErrAt: 2, fs: fsutil.NewMemoryFileSystem()}
		stats := SaveLaz("x.laz", points, 0, WithCodec(codec.factory()), WithFileSystem(codec.fs))
		assert.Zero(t, stats.FileSize)
		assert.Equal(t, 1, stats.RecordCount)
		assert.False(t, stats.Succeeded())
		assert.True(t, codec.closed)
		assert.True(t, codec.destroyed)
	})

	t.Run("close", func(t *testing.T) {
		codec := &fakeCodec{closeErr: errors.New("flush failed")}
		stats := SaveLaz("x.laz", points, 0, WithCodec(codec.factory()), WithFileSystem(fsutil.NewMemoryFileSystem()))
		assert.Zero(t, stats.FileSize)
		assert.False(t, stats.Written)
		assert.True(t, codec.destroyed)
	})

	t.Run("stat", func(t *testing.T) {
		codec := &fakeCodec{}
		stats := SaveLaz("x.laz", points, 0, WithCodec(codec.factory()), WithFileSystem(fsutil.NewMemoryFileSystem()))
		assert.Zero(t, stats.FileSize)
		assert.Equal(t, 3, stats.RecordCount)
		assert.True(t, stats.Written)
		assert.True(t, stats.Succeeded(), "a failed size check still succeeds")
	})

	t.Run("compression unavailable", func(t *testing.T) {
		if laz.Compressed {
			t.Skip("built with LASzip")
		}
		path := filepath.Join(t.TempDir(), "x.laz")
		stats := SaveLaz(path, points, 0)
		assert.Zero(t, stats.FileSize)
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestSaveLaz_SinkFailureContinues(t *testing.T) {
	var lines []string
	restore := monitoring.Capture(&lines)
	defer restore()

	calls := 0
	sink := sinkFunc(func(lidar.Point) error {
		calls++
		return errors.New("no space left on device")
	})
	codec := &fakeCodec{fs: fsutil.NewMemoryFileSystem()}
	stats := SaveLaz("x.laz", make([]lidar.Point, 5), 0,
		WithCodec(codec.factory()), WithFileSystem(codec.fs), WithPointSink(sink))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 5, codec.writes)
	assert.True(t, stats.Succeeded())
	assert.Len(t, lines, 1)
}

func TestSaveLaz_MirrorsPointsToCSV(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	csv, err := CreatePointCSV(fsys, "scan.csv")
	require.NoError(t, err)

	codec := &fakeCodec{fs: fsys}
	points := []lidar.Point{{X: 1.5, Intensity: 9}, {X: -2, Tag: 16}}
	SaveLaz("scan.laz", points, 0, WithCodec(codec.factory()), WithFileSystem(fsys), WithPointSink(csv))
	require.NoError(t, csv.Close())

	data, err := fsys.ReadFile("scan.csv")
	require.NoError(t, err)
	assert.Equal(t, PointCSVHeader+"\n1.5,0,0,9,0,0,0,0\n-2,0,0,0,0,0,16,0\n", string(data))
}
