//go:build !laszip || !cgo

package laz

// Compressed reports whether this build can write LAZ.
const Compressed = false

func newDefault() (Codec, error) {
	return NewLASWriter(), nil
}
