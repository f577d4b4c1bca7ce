package laz

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/savelaz/internal/monitoring"
)

// LASWriter is the pure Go Codec. It writes uncompressed LAS only.
type LASWriter struct {
	header Header
	point  Point

	f        *os.File
	w        *bufio.Writer
	path     string
	rec      []byte
	written  uint32
	byReturn [5]uint32
	coordErr error
}

// NewLASWriter creates an uncompressed LAS codec.
func NewLASWriter() *LASWriter {
	return &LASWriter{}
}

// NewLAS is a Factory for LASWriter.
func NewLAS() (Codec, error) {
	return NewLASWriter(), nil
}

// Header returns the header slot.
func (l *LASWriter) Header() *Header { return &l.header }

// Point returns the point slot.
func (l *LASWriter) Point() *Point { return &l.point }

// Open validates the header and writes it to a new file at path.
func (l *LASWriter) Open(path string, compress bool) error {
	if compress {
		return ErrCompressionUnavailable
	}
	if l.f != nil {
		return fmt.Errorf("laz writer already open on %s", l.path)
	}
	if err := l.header.validate(); err != nil {
		return err
	}
	if l.header.CreationYear == 0 {
		l.header.SetCreationDate(time.Now().UTC())
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	hdr := make([]byte, HeaderSize)
	l.header.encode(hdr)
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}

	l.f = f
	l.w = bufio.NewWriterSize(f, 1<<20)
	l.path = path
	l.rec = make([]byte, l.header.PointDataRecordLength)
	l.written = 0
	l.byReturn = [5]uint32{}
	return nil
}

// SetCoordinates quantizes with the header's scale and offset.
func (l *LASWriter) SetCoordinates(x, y, z float64) {
	var ex, ey, ez error
	l.point.X, ex = quantize(x, l.header.XScaleFactor, l.header.XOffset)
	l.point.Y, ey = quantize(y, l.header.YScaleFactor, l.header.YOffset)
	l.point.Z, ez = quantize(z, l.header.ZScaleFactor, l.header.ZOffset)
	l.coordErr = multierr.Combine(ex, ey, ez)
}

// WritePoint appends the point slot.
func (l *LASWriter) WritePoint() error {
	if l.f == nil {
		return ErrNotOpen
	}
	if l.coordErr != nil {
		return l.coordErr
	}
	l.point.encode(l.rec, l.header.PointDataFormat)
	if _, err := l.w.Write(l.rec); err != nil {
		return fmt.Errorf("failed to write point %d: %w", l.written, err)
	}
	l.written++
	if r := l.point.ReturnNumber; r >= 1 && r <= 5 {
		l.byReturn[r-1]++
	}
	return nil
}

// Close flushes the points and rewrites the header with the count
// actually written.
func (l *LASWriter) Close() error {
	if l.f == nil {
		return ErrNotOpen
	}
	f := l.f
	l.f = nil

	if l.written != l.header.NumberOfPointRecords {
		monitoring.Logf("Warning: %s declared %d point records but %d were written",
			l.path, l.header.NumberOfPointRecords, l.written)
		l.header.NumberOfPointRecords = l.written
	}
	if l.header.NumberOfPointsByReturn == [5]uint32{} {
		l.header.NumberOfPointsByReturn = l.byReturn
	}

	err := l.w.Flush()
	hdr := make([]byte, HeaderSize)
	l.header.encode(hdr)
	if _, werr := f.WriteAt(hdr, 0); werr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to finalize header: %w", werr))
	}
	err = multierr.Append(err, f.Close())
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", l.path, err)
	}
	return nil
}

// Destroy closes a file left open by an aborted write.
func (l *LASWriter) Destroy() {
	if l.f != nil {
		l.f.Close()
		l.f = nil
	}
	l.w = nil
	l.rec = nil
}
