package persist

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/savelaz/internal/lidar"
)

// Bounds is the axis-aligned box enclosing a point set. The zero value is
// the bounds of an empty set.
type Bounds struct {
	Min, Max r3.Vector
	Empty    bool
}

// ComputeBounds returns the component-wise min and max over points in a
// single pass. Empty input yields zeroed bounds.
func ComputeBounds(points []lidar.Point) Bounds {
	if len(points) == 0 {
		return Bounds{Empty: true}
	}
	lo := r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range points {
		lo.X, hi.X = math.Min(lo.X, p.X), math.Max(hi.X, p.X)
		lo.Y, hi.Y = math.Min(lo.Y, p.Y), math.Max(hi.Y, p.Y)
		lo.Z, hi.Z = math.Min(lo.Z, p.Z), math.Max(hi.Z, p.Z)
	}
	return Bounds{Min: lo, Max: hi}
}

// Size returns the extent along each axis.
func (b Bounds) Size() r3.Vector {
	return b.Max.Sub(b.Min)
}

// Diagonal returns the length of the box diagonal.
func (b Bounds) Diagonal() float64 {
	return b.Size().Norm()
}
