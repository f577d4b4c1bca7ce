package persist

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDeriveOutputPaths(t *testing.T) {
	tests := []struct {
		in   string
		want OutputPaths
	}{
		{
			in: "scans/base0042.laz",
			want: OutputPaths{
				LAZ:      "scans/base0042.laz",
				PointCSV: "scans/base0042.csv",
				IMU:      filepath.Join("scans", "imu0042.csv"),
				Status:   filepath.Join("scans", "status0042.json"),
				Index:    42,
			},
		},
		{
			in: "capture.laz",
			want: OutputPaths{
				LAZ:      "capture.laz",
				PointCSV: "capture.csv",
				IMU:      "imu0000.csv",
				Status:   "status0000.json",
			},
		},
		{
			in: "/data/run7",
			want: OutputPaths{
				LAZ:      "/data/run7",
				PointCSV: "/data/run7.csv",
				IMU:      "/data/imu0007.csv",
				Status:   "/data/status0007.json",
				Index:    7,
			},
		},
		{
			in: "out/scan12345.las",
			want: OutputPaths{
				LAZ:      "out/scan12345.las",
				PointCSV: "out/scan12345.csv",
				IMU:      filepath.Join("out", "imu12345.csv"),
				Status:   filepath.Join("out", "status12345.json"),
				Index:    12345,
			},
		},
		{
			in: "v2.1/cloud.laz",
			want: OutputPaths{
				LAZ:      "v2.1/cloud.laz",
				PointCSV: "v2.1/cloud.csv",
				IMU:      filepath.Join("v2.1", "imu0000.csv"),
				Status:   filepath.Join("v2.1", "status0000.json"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, DeriveOutputPaths(tt.in)); diff != "" {
				t.Errorf("DeriveOutputPaths(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}
