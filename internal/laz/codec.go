// Package laz writes LAS 1.2 point clouds, optionally LASzip compressed.
package laz

import (
	"errors"
)

var (
	// ErrCompressionUnavailable is returned by Open when compression is
	// requested from a build without the LASzip library.
	ErrCompressionUnavailable = errors.New("LAZ compression unavailable in this build (rebuild with -tags laszip)")

	// ErrNotOpen is returned by operations that need Open first.
	ErrNotOpen = errors.New("laz writer not open")
)

// Codec is a point cloud writer. Callers fill Header before Open, then set
// coordinates and fill Point before each WritePoint.
type Codec interface {
	// Header returns the header slot written on Open.
	Header() *Header

	// Point returns the point slot consumed by WritePoint.
	Point() *Point

	// Open creates the file at path. compress selects LAZ over LAS.
	Open(path string, compress bool) error

	// SetCoordinates quantizes x, y and z into the point slot.
	SetCoordinates(x, y, z float64)

	// WritePoint appends the point slot to the file.
	WritePoint() error

	// Close finalizes the header and closes the file.
	Close() error

	// Destroy releases the codec. It is safe after a failed Open.
	Destroy()
}

// Factory creates a Codec.
type Factory func() (Codec, error)

// New creates the default codec for this build.
func New() (Codec, error) {
	return newDefault()
}
