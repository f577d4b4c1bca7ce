package persist

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/savelaz/internal/lidar"
)

// IMUSummary condenses the IMU samples of a capture.
type IMUSummary struct {
	Count       int
	RateHz      float64 // from the mean gap between sensor timestamps
	MeanAccG    float64 // mean magnitude of the acceleration vector
	StdDevAccG  float64
	MeanGyroRad float64 // mean magnitude of the angular rate vector
}

// SummarizeIMU computes rate and magnitude statistics over imus.
func SummarizeIMU(imus []lidar.ImuData) IMUSummary {
	s := IMUSummary{Count: len(imus)}
	if len(imus) == 0 {
		return s
	}

	acc := make([]float64, len(imus))
	gyro := make([]float64, len(imus))
	for i, m := range imus {
		acc[i] = r3.Vector{X: float64(m.AccX), Y: float64(m.AccY), Z: float64(m.AccZ)}.Norm()
		gyro[i] = r3.Vector{X: float64(m.GyroX), Y: float64(m.GyroY), Z: float64(m.GyroZ)}.Norm()
	}
	s.MeanAccG, s.StdDevAccG = stat.MeanStdDev(acc, nil)
	if len(imus) == 1 {
		s.StdDevAccG = 0
	}
	s.MeanGyroRad = stat.Mean(gyro, nil)

	gaps := make([]float64, 0, len(imus)-1)
	for i := 1; i < len(imus); i++ {
		if imus[i].Timestamp > imus[i-1].Timestamp {
			gaps = append(gaps, float64(imus[i].Timestamp-imus[i-1].Timestamp)*lidar.GPSTimeScale)
		}
	}
	if len(gaps) > 0 {
		if mean := stat.Mean(gaps, nil); mean > 0 {
			s.RateHz = 1 / mean
		}
	}
	return s
}
