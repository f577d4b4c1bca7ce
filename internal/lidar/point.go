// Package lidar holds the in-memory records shared by the capture session and
// the point-cloud writer.
package lidar

// Unit conversions applied when a raw sensor packet becomes a Point.
const (
	// MillimetresToMetres scales the integer millimetre coordinates of a
	// cartesian-high packet to metres.
	MillimetresToMetres = 1e-3

	// GPSTimeScale converts the nanosecond packet timestamp to GPSTime
	// seconds. Some older writers stored milliseconds here; readers that
	// expect that unit must rescale.
	GPSTimeScale = 1e-9
)

// Point is one LiDAR return in metric coordinates.
type Point struct {
	X, Y, Z   float64 // metres
	Intensity uint8   // reflectivity, verbatim from the sensor
	Tag       uint8   // sensor-defined classification bitfield
	LineID    uint8   // scan line, 0 when unavailable
	LaserID   uint16  // emitter index, 0 when unavailable
	GPSTime   float64 // seconds
}

// PointFromRaw builds a Point from a raw cartesian-high return. x, y and z are
// millimetres; tsNanos is the packet timestamp.
func PointFromRaw(x, y, z int32, reflectivity, tag uint8, tsNanos uint64) Point {
	return Point{
		X:         float64(x) * MillimetresToMetres,
		Y:         float64(y) * MillimetresToMetres,
		Z:         float64(z) * MillimetresToMetres,
		Intensity: reflectivity,
		Tag:       tag,
		GPSTime:   float64(tsNanos) * GPSTimeScale,
	}
}
