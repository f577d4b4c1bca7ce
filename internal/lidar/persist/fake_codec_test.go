package persist

import (
	"errors"

	"github.com/banshee-data/savelaz/internal/fsutil"
	"github.com/banshee-data/savelaz/internal/laz"
)

// fakeCodec records what SaveLaz does with a codec without encoding.
type fakeCodec struct {
	header laz.Header
	point  laz.Point
	fs     *fsutil.MemoryFileSystem

	openErr    error
	writeErrAt int // 1-based WritePoint call that fails; 0 never
	closeErr   error
	keep       bool

	path      string
	compress  bool
	opened    bool
	closed    bool
	destroyed bool
	writes    int
	coords    [][3]float64
	records   []laz.Point
}

func (c *fakeCodec) Header() *laz.Header { return &c.header }
func (c *fakeCodec) Point() *laz.Point   { return &c.point }

func (c *fakeCodec) Open(path string, compress bool) error {
	if c.openErr != nil {
		return c.openErr
	}
	c.path, c.compress, c.opened = path, compress, true
	return nil
}

func (c *fakeCodec) SetCoordinates(x, y, z float64) {
	if c.keep {
		c.coords = append(c.coords, [3]float64{x, y, z})
	}
}

func (c *fakeCodec) WritePoint() error {
	if !c.opened {
		return laz.ErrNotOpen
	}
	c.writes++
	if c.writeErrAt != 0 && c.writes == c.writeErrAt {
		return errors.New("disk full")
	}
	if c.keep {
		c.records = append(c.records, c.point)
	}
	return nil
}

func (c *fakeCodec) Close() error {
	c.closed = true
	if c.closeErr != nil {
		return c.closeErr
	}
	if c.fs != nil {
		c.fs.WriteFile(c.path, make([]byte, laz.HeaderSize+c.writes*laz.Format1RecordLength))
	}
	return nil
}

func (c *fakeCodec) Destroy() { c.destroyed = true }

func (c *fakeCodec) factory() laz.Factory {
	return func() (laz.Codec, error) { return c, nil }
}
