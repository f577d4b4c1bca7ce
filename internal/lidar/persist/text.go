package persist

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/multierr"

	"github.com/banshee-data/savelaz/internal/fsutil"
	"github.com/banshee-data/savelaz/internal/lidar"
)

// PointCSVHeader is the first line of the point text file.
const PointCSVHeader = "x,y,z,intensity,gps_time,line_id,tag,laser_id"

// IMUHeader is the first line of the IMU text file.
const IMUHeader = "timestamp gyroX gyroY gyroZ accX accY accZ imuId timestampUnix"

// PointSink receives every point written to the point cloud.
type PointSink interface {
	WritePoint(p lidar.Point) error
}

// PointCSVWriter writes points as comma-separated text.
type PointCSVWriter struct {
	f   io.WriteCloser
	w   *bufio.Writer
	buf []byte
}

// CreatePointCSV creates path and writes the header line.
func CreatePointCSV(fsys fsutil.FileSystem, path string) (*PointCSVWriter, error) {
	f, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create point text file: %w", err)
	}
	w := &PointCSVWriter{f: f, w: bufio.NewWriterSize(f, 1<<20), buf: make([]byte, 0, 128)}
	if _, err := w.w.WriteString(PointCSVHeader + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write point text header: %w", err)
	}
	return w, nil
}

// WritePoint appends one line.
func (w *PointCSVWriter) WritePoint(p lidar.Point) error {
	b := w.buf[:0]
	b = strconv.AppendFloat(b, p.X, 'g', -1, 64)
	b = append(b, ',')
	b = strconv.AppendFloat(b, p.Y, 'g', -1, 64)
	b = append(b, ',')
	b = strconv.AppendFloat(b, p.Z, 'g', -1, 64)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(p.Intensity), 10)
	b = append(b, ',')
	b = strconv.AppendFloat(b, p.GPSTime, 'g', -1, 64)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(p.LineID), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(p.Tag), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(p.LaserID), 10)
	b = append(b, '\n')
	w.buf = b
	_, err := w.w.Write(b)
	return err
}

// Close flushes and closes the file.
func (w *PointCSVWriter) Close() error {
	return multierr.Append(w.w.Flush(), w.f.Close())
}

// WriteIMU writes imus as space-separated text to path.
func WriteIMU(fsys fsutil.FileSystem, path string, imus []lidar.ImuData) (err error) {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create imu text file: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(IMUHeader + "\n"); err != nil {
		return err
	}
	b := make([]byte, 0, 160)
	for _, m := range imus {
		b = b[:0]
		b = strconv.AppendUint(b, m.Timestamp, 10)
		for _, v := range []float32{m.GyroX, m.GyroY, m.GyroZ, m.AccX, m.AccY, m.AccZ} {
			b = append(b, ' ')
			b = strconv.AppendFloat(b, float64(v), 'g', -1, 32)
		}
		b = append(b, ' ')
		b = strconv.AppendUint(b, uint64(m.ImuID), 10)
		b = append(b, ' ')
		b = strconv.AppendUint(b, m.TimestampUnix, 10)
		b = append(b, '\n')
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return w.Flush()
}
