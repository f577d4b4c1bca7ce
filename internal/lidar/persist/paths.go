package persist

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// OutputPaths are the files written for one capture.
type OutputPaths struct {
	LAZ      string
	PointCSV string
	IMU      string
	Status   string
	Index    int
}

// DeriveOutputPaths derives the sibling outputs of a point cloud path. The
// index is the run of digits ending the file stem, 0 when there is none;
// "scans/base0042.laz" gives "scans/imu0042.csv" and
// "scans/status0042.json".
func DeriveOutputPaths(output string) OutputPaths {
	dir := filepath.Dir(output)
	ext := filepath.Ext(output)
	stem := strings.TrimSuffix(output, ext)
	base := filepath.Base(stem)

	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	index, err := strconv.Atoi(base[i:])
	if err != nil {
		index = 0
	}

	return OutputPaths{
		LAZ:      output,
		PointCSV: stem + ".csv",
		IMU:      filepath.Join(dir, fmt.Sprintf("imu%04d.csv", index)),
		Status:   filepath.Join(dir, fmt.Sprintf("status%04d.json", index)),
		Index:    index,
	}
}
