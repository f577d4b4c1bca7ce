package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/banshee-data/savelaz/internal/laz"
	"github.com/banshee-data/savelaz/internal/ledger"
	"github.com/banshee-data/savelaz/internal/lidar/capture"
	"github.com/banshee-data/savelaz/internal/lidar/persist"
	"github.com/banshee-data/savelaz/internal/livox"
	"github.com/banshee-data/savelaz/internal/monitoring"
)

var errNoPoints = errors.New("no points written")

func runCapture(cmd *cobra.Command, v *viper.Viper, d deps, output string) error {
	compress := v.GetBool("compress")
	if compress && !laz.Compressed {
		return fmt.Errorf("cannot write %s (pass --compress=false for LAS): %w", output, laz.ErrCompressionUnavailable)
	}
	if !compress && strings.EqualFold(filepath.Ext(output), ".laz") {
		monitoring.Logf("Writing uncompressed LAS 1.2 to %s", output)
	}
	paths := persist.DeriveOutputPaths(output)
	if filepath.Clean(paths.PointCSV) == filepath.Clean(paths.LAZ) {
		return fmt.Errorf("output %s collides with its point text file", output)
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := d.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	rt := newRuntime(v, d)
	sess := capture.NewSession(rt, sessionOptions(v, d)...)
	res, err := sess.Capture(cmd.Context(), v.GetString("sdk_config"))
	if err != nil {
		return fmt.Errorf("failed to collect points: %w", err)
	}

	opts := []persist.SaveOption{
		persist.WithCodec(d.newCodec),
		persist.WithFileSystem(d.fs),
		persist.WithCompression(compress),
	}
	csv, err := persist.CreatePointCSV(d.fs, paths.PointCSV)
	if err != nil {
		monitoring.Logf("Failed to open %s: %v", paths.PointCSV, err)
	} else {
		opts = append(opts, persist.WithPointSink(csv))
	}

	stats := persist.SaveLaz(output, res.Points, res.Duration, opts...)
	if csv != nil {
		if err := csv.Close(); err != nil {
			monitoring.Logf("Failed to close %s: %v", paths.PointCSV, err)
		}
	}

	if err := persist.WriteIMU(d.fs, paths.IMU, res.IMUs); err != nil {
		monitoring.Logf("Failed to write %s: %v", paths.IMU, err)
	}
	if err := persist.WriteStatus(d.fs, paths.Status, stats.Status(output)); err != nil {
		monitoring.Logf("Failed to write %s: %v", paths.Status, err)
	}

	imu := persist.SummarizeIMU(res.IMUs)
	bounds := persist.ComputeBounds(res.Points)
	monitoring.Logf("Captured %s points in %.3fs from %d device(s); wrote %s records with step %d in %.3fs (%s bytes)",
		livox.FormatWithCommas(int64(stats.PointCount)), stats.CaptureDuration.Seconds(), len(res.Serials),
		livox.FormatWithCommas(int64(stats.RecordCount)), stats.DecimationStep, stats.WriteDuration.Seconds(),
		livox.FormatWithCommas(stats.FileSize))
	if !bounds.Empty {
		monitoring.Logf("Bounds min=(%.3f, %.3f, %.3f) max=(%.3f, %.3f, %.3f) diagonal=%.2fm",
			bounds.Min.X, bounds.Min.Y, bounds.Min.Z, bounds.Max.X, bounds.Max.Y, bounds.Max.Z, bounds.Diagonal())
	}
	if imu.Count > 0 {
		monitoring.Logf("IMU: %d samples at %.1fHz, |acc| %.3f±%.3fg, |gyro| %.3frad/s",
			imu.Count, imu.RateHz, imu.MeanAccG, imu.StdDevAccG, imu.MeanGyroRad)
	}

	if path := v.GetString("ledger.path"); path != "" {
		if err := record(cmd.Context(), path, v.GetInt("ledger.max_entries"), output, stats, imu, res); err != nil {
			monitoring.Logf("Failed to record capture in %s: %v", path, err)
		}
	}

	if !stats.Succeeded() {
		return errNoPoints
	}
	return nil
}

func record(ctx context.Context, path string, maxEntries int, output string, stats persist.LazStats, imu persist.IMUSummary, res capture.Result) (err error) {
	l, err := ledger.Open(path, maxEntries)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := l.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	serials := make([]string, 0, len(res.Serials))
	for _, s := range res.Serials {
		serials = append(serials, s.Serial)
	}
	_, err = l.Record(ctx, ledger.Entry{
		Filename:        output,
		PointCount:      stats.PointCount,
		DecimationStep:  stats.DecimationStep,
		CaptureDuration: stats.CaptureDuration,
		WriteDuration:   stats.WriteDuration,
		FileSize:        stats.FileSize,
		IMUCount:        imu.Count,
		IMURateHz:       imu.RateHz,
		Serials:         serials,
	})
	return err
}
