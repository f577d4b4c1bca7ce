package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/savelaz/internal/fsutil"
)

// LazStats reports one SaveLaz run.
type LazStats struct {
	PointCount      int           // points received, before decimation
	DecimationStep  int           // stride through the input, at least 1
	RecordCount     int           // records written to the file
	CaptureDuration time.Duration // runtime start until the wait ended, by frame or timeout
	WriteDuration   time.Duration // time spent in the point loop
	FileSize        int64         // bytes on disk, 0 when the write or the size check failed
	Written         bool          // the writer opened, wrote and closed without error
}

// Status is the status document written next to the point cloud.
type Status struct {
	Filename        string  `json:"filename"`
	PointCount      int     `json:"point_count"`
	DecimationStep  int     `json:"decimation_step"`
	CaptureDuration float64 `json:"capture_duration"`
	WriteDuration   float64 `json:"write_duration"`
	FileSize        int64   `json:"file_size"`
}

// Status returns the document for the file written as filename. Durations
// are in seconds.
func (s LazStats) Status(filename string) Status {
	return Status{
		Filename:        filename,
		PointCount:      s.PointCount,
		DecimationStep:  s.DecimationStep,
		CaptureDuration: s.CaptureDuration.Seconds(),
		WriteDuration:   s.WriteDuration.Seconds(),
		FileSize:        s.FileSize,
	}
}

// Succeeded reports whether at least one record was written to a file that
// closed cleanly. A failed size check does not affect it.
func (s LazStats) Succeeded() bool {
	return s.Written && s.RecordCount > 0
}

// WriteStatus writes st as indented JSON to path.
func WriteStatus(fsys fsutil.FileSystem, path string, st Status) (err error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create status file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close status file: %w", cerr)
		}
	}()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	return nil
}
