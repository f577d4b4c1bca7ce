// Package persist writes a captured point cloud and its companion files.
package persist

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/savelaz/internal/fsutil"
	"github.com/banshee-data/savelaz/internal/laz"
	"github.com/banshee-data/savelaz/internal/lidar"
	"github.com/banshee-data/savelaz/internal/monitoring"
	"github.com/banshee-data/savelaz/internal/timeutil"
	"github.com/banshee-data/savelaz/internal/version"
)

// Header constants of every file SaveLaz writes.
const (
	FileSourceID    = 4711
	ScaleFactor     = 1e-4
	MaxStoredPoints = 2_000_000
)

// DecimationStep returns the stride that keeps at most about
// MaxStoredPoints of n points: max(1, n/MaxStoredPoints).
func DecimationStep(n int) int {
	if step := n / MaxStoredPoints; step > 1 {
		return step
	}
	return 1
}

// RecordCount returns how many of n points a prefix stride of step keeps.
func RecordCount(n, step int) int {
	if n <= 0 {
		return 0
	}
	return (n + step - 1) / step
}

type saveConfig struct {
	newCodec laz.Factory
	fs       fsutil.FileSystem
	clock    timeutil.Clock
	sink     PointSink
	compress bool
}

// SaveOption configures SaveLaz.
type SaveOption func(*saveConfig)

// WithCodec replaces the codec factory.
func WithCodec(f laz.Factory) SaveOption {
	return func(c *saveConfig) { c.newCodec = f }
}

// WithFileSystem sets the filesystem used to size the written file.
func WithFileSystem(fsys fsutil.FileSystem) SaveOption {
	return func(c *saveConfig) { c.fs = fsys }
}

// WithClock sets the clock timing the write loop.
func WithClock(clock timeutil.Clock) SaveOption {
	return func(c *saveConfig) { c.clock = clock }
}

// WithPointSink mirrors every written point to sink.
func WithPointSink(sink PointSink) SaveOption {
	return func(c *saveConfig) { c.sink = sink }
}

// WithCompression selects LAZ (true, the default) or plain LAS output.
func WithCompression(compress bool) SaveOption {
	return func(c *saveConfig) { c.compress = compress }
}

// SaveLaz writes points to path as a LAS 1.2 point format 1 cloud,
// decimated to at most about MaxStoredPoints records. Failures are logged
// and reported through a zero FileSize; the returned stats always carry the
// point count, step and capture duration.
func SaveLaz(path string, points []lidar.Point, captureDuration time.Duration, opts ...SaveOption) LazStats {
	cfg := saveConfig{
		newCodec: laz.New,
		fs:       fsutil.OSFileSystem{},
		clock:    timeutil.RealClock{},
		compress: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	stats := LazStats{
		PointCount:      len(points),
		DecimationStep:  DecimationStep(len(points)),
		CaptureDuration: captureDuration,
	}
	bounds := ComputeBounds(points)

	written, elapsed, err := encode(cfg, path, points, bounds, stats.DecimationStep)
	stats.RecordCount = written
	stats.WriteDuration = elapsed
	if err != nil {
		monitoring.Logf("Failed to write %s: %v", path, err)
		return stats
	}
	stats.Written = true

	info, err := cfg.fs.Stat(path)
	if err != nil {
		monitoring.Logf("Failed to stat %s: %v", path, err)
		return stats
	}
	stats.FileSize = info.Size()
	return stats
}

func encode(cfg saveConfig, path string, points []lidar.Point, b Bounds, step int) (written int, elapsed time.Duration, err error) {
	codec, err := cfg.newCodec()
	if err != nil {
		if codec != nil {
			codec.Destroy()
		}
		return 0, 0, fmt.Errorf("failed to create LAZ writer: %w", err)
	}
	opened := false
	defer func() {
		if opened {
			err = multierr.Append(err, codec.Close())
		}
		codec.Destroy()
	}()

	h := codec.Header()
	h.FileSourceID = FileSourceID
	h.VersionMajor = 1
	h.VersionMinor = 2
	h.GeneratingSoftware = version.GeneratingSoftware()
	h.PointDataFormat = 1
	h.PointDataRecordLength = laz.Format1RecordLength
	h.NumberOfPointRecords = uint32(RecordCount(len(points), step))
	h.XScaleFactor, h.YScaleFactor, h.ZScaleFactor = ScaleFactor, ScaleFactor, ScaleFactor
	h.MinX, h.MaxX = b.Min.X, b.Max.X
	h.MinY, h.MaxY = b.Min.Y, b.Max.Y
	h.MinZ, h.MaxZ = b.Min.Z, b.Max.Z

	if err := codec.Open(path, cfg.compress); err != nil {
		return 0, 0, fmt.Errorf("failed to open LAZ writer: %w", err)
	}
	opened = true

	sink := cfg.sink
	pt := codec.Point()
	start := cfg.clock.Now()
	for i := 0; i < len(points); i += step {
		p := points[i]
		pt.Intensity = uint16(p.Intensity)
		pt.GPSTime = p.GPSTime
		pt.UserData = 0
		pt.Classification = p.Tag
		pt.PointSourceID = 0
		codec.SetCoordinates(p.X, p.Y, p.Z)
		if err := codec.WritePoint(); err != nil {
			return written, cfg.clock.Since(start), fmt.Errorf("failed to write point %d: %w", i, err)
		}
		written++

		if sink != nil {
			if err := sink.WritePoint(p); err != nil {
				monitoring.Logf("Failed to write point text, continuing without it: %v", err)
				sink = nil
			}
		}
	}
	return written, cfg.clock.Since(start), nil
}
