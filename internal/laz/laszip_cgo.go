//go:build laszip && cgo

package laz

/*
#cgo LDFLAGS: -llaszip
#include <stdlib.h>
#include <laszip/laszip_api.h>

static void savelaz_set_flags(laszip_point_struct* p,
	laszip_U8 ret, laszip_U8 nret, laszip_U8 sdir, laszip_U8 edge,
	laszip_U8 cls, laszip_U8 syn, laszip_U8 key, laszip_U8 wh) {
	p->return_number = ret;
	p->number_of_returns = nret;
	p->scan_direction_flag = sdir;
	p->edge_of_flight_line = edge;
	p->classification = cls;
	p->synthetic_flag = syn;
	p->keypoint_flag = key;
	p->withheld_flag = wh;
}

static const char* savelaz_error(laszip_POINTER w) {
	laszip_CHAR* msg = NULL;
	if (laszip_get_error(w, &msg) != 0 || msg == NULL) {
		return "unknown LASzip error";
	}
	return msg;
}
*/
import "C"

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/banshee-data/savelaz/internal/monitoring"
)

// Compressed reports whether this build can write LAZ.
const Compressed = true

// LASzipWriter is a Codec backed by the LASzip library.
type LASzipWriter struct {
	ptr    C.laszip_POINTER
	header Header
	point  Point
	coords [3]C.laszip_F64

	hdr     *C.laszip_header_struct
	pt      *C.laszip_point_struct
	path    string
	open    bool
	written uint32
}

func newDefault() (Codec, error) {
	w, err := NewLASzipWriter()
	if err != nil {
		return nil, err
	}
	return w, nil
}

// createHandle allocates w.ptr and reports whether LASzip accepted it.
var createHandle = func(w *LASzipWriter) bool {
	return C.laszip_create(&w.ptr) == 0
}

// NewLASzipWriter creates a LASzip handle.
func NewLASzipWriter() (*LASzipWriter, error) {
	w := &LASzipWriter{}
	if !createHandle(w) {
		if w.ptr == nil {
			return nil, fmt.Errorf("failed to create LASzip writer")
		}
		err := w.lastError("create")
		w.Destroy()
		return nil, err
	}
	if C.laszip_get_header_pointer(w.ptr, &w.hdr) != 0 {
		err := w.lastError("get header pointer")
		w.Destroy()
		return nil, err
	}
	if C.laszip_get_point_pointer(w.ptr, &w.pt) != 0 {
		err := w.lastError("get point pointer")
		w.Destroy()
		return nil, err
	}
	return w, nil
}

func (w *LASzipWriter) lastError(op string) error {
	return fmt.Errorf("laszip %s: %s", op, C.GoString(C.savelaz_error(w.ptr)))
}

// Header returns the header slot.
func (w *LASzipWriter) Header() *Header { return &w.header }

// Point returns the point slot.
func (w *LASzipWriter) Point() *Point { return &w.point }

// Open copies the header into LASzip and opens the file.
func (w *LASzipWriter) Open(path string, compress bool) error {
	if w.open {
		return fmt.Errorf("laz writer already open on %s", w.path)
	}
	if err := w.header.validate(); err != nil {
		return err
	}
	if w.header.CreationYear == 0 {
		w.header.SetCreationDate(time.Now().UTC())
	}
	w.syncHeader()

	name := C.CString(path)
	defer C.free(unsafe.Pointer(name))
	var c C.laszip_BOOL
	if compress {
		c = 1
	}
	if C.laszip_open_writer(w.ptr, name, c) != 0 {
		return w.lastError("open writer " + path)
	}
	w.path = path
	w.open = true
	w.written = 0
	return nil
}

func (w *LASzipWriter) syncHeader() {
	h, src := w.hdr, &w.header
	h.file_source_ID = C.laszip_U16(src.FileSourceID)
	h.global_encoding = C.laszip_U16(src.GlobalEncoding)
	h.version_major = C.laszip_U8(src.VersionMajor)
	h.version_minor = C.laszip_U8(src.VersionMinor)
	copyCString(h.system_identifier[:], src.SystemIdentifier)
	copyCString(h.generating_software[:], src.GeneratingSoftware)
	h.file_creation_day = C.laszip_U16(src.CreationDay)
	h.file_creation_year = C.laszip_U16(src.CreationYear)
	h.point_data_format = C.laszip_U8(src.PointDataFormat)
	h.point_data_record_length = C.laszip_U16(src.PointDataRecordLength)
	h.number_of_point_records = C.laszip_U32(src.NumberOfPointRecords)
	for i, n := range src.NumberOfPointsByReturn {
		h.number_of_points_by_return[i] = C.laszip_U32(n)
	}
	h.x_scale_factor = C.laszip_F64(src.XScaleFactor)
	h.y_scale_factor = C.laszip_F64(src.YScaleFactor)
	h.z_scale_factor = C.laszip_F64(src.ZScaleFactor)
	h.x_offset = C.laszip_F64(src.XOffset)
	h.y_offset = C.laszip_F64(src.YOffset)
	h.z_offset = C.laszip_F64(src.ZOffset)
	h.min_x, h.max_x = C.laszip_F64(src.MinX), C.laszip_F64(src.MaxX)
	h.min_y, h.max_y = C.laszip_F64(src.MinY), C.laszip_F64(src.MaxY)
	h.min_z, h.max_z = C.laszip_F64(src.MinZ), C.laszip_F64(src.MaxZ)
}

func copyCString(dst []C.laszip_CHAR, s string) {
	for i := range dst {
		dst[i] = 0
		if i < len(s) {
			dst[i] = C.laszip_CHAR(s[i])
		}
	}
}

// SetCoordinates hands the coordinates to LASzip, which quantizes them.
func (w *LASzipWriter) SetCoordinates(x, y, z float64) {
	w.coords = [3]C.laszip_F64{C.laszip_F64(x), C.laszip_F64(y), C.laszip_F64(z)}
	C.laszip_set_coordinates(w.ptr, &w.coords[0])
}

// WritePoint copies the point slot's attributes into LASzip and writes it.
func (w *LASzipWriter) WritePoint() error {
	if !w.open {
		return ErrNotOpen
	}
	p := &w.point
	w.pt.intensity = C.laszip_U16(p.Intensity)
	C.savelaz_set_flags(w.pt,
		C.laszip_U8(p.ReturnNumber&0x07), C.laszip_U8(p.NumberOfReturns&0x07),
		cbool(p.ScanDirectionFlag), cbool(p.EdgeOfFlightLine),
		C.laszip_U8(p.Classification&0x1F),
		cbool(p.Synthetic), cbool(p.KeyPoint), cbool(p.Withheld))
	w.pt.scan_angle_rank = C.laszip_I8(p.ScanAngleRank)
	w.pt.user_data = C.laszip_U8(p.UserData)
	w.pt.point_source_ID = C.laszip_U16(p.PointSourceID)
	w.pt.gps_time = C.laszip_F64(p.GPSTime)

	if C.laszip_write_point(w.ptr) != 0 {
		return w.lastError("write point")
	}
	w.written++
	return nil
}

func cbool(b bool) C.laszip_U8 {
	if b {
		return 1
	}
	return 0
}

// Close finalizes and closes the file.
func (w *LASzipWriter) Close() error {
	if !w.open {
		return ErrNotOpen
	}
	w.open = false
	if w.written != w.header.NumberOfPointRecords {
		monitoring.Logf("Warning: %s declared %d point records but %d were written",
			w.path, w.header.NumberOfPointRecords, w.written)
	}
	if C.laszip_close_writer(w.ptr) != 0 {
		return w.lastError("close writer " + w.path)
	}
	return nil
}

// Destroy releases the LASzip handle.
func (w *LASzipWriter) Destroy() {
	if w.ptr == nil {
		return
	}
	if w.open {
		C.laszip_close_writer(w.ptr)
		w.open = false
	}
	C.laszip_destroy(w.ptr)
	w.ptr = nil
	w.hdr, w.pt = nil, nil
}
