package lidar

import (
	"math"
	"testing"
)

func TestPointFromRaw(t *testing.T) {
	p := PointFromRaw(1000, -2000, 3, 5, 0x12, 1_700_000_000_123_456_789)

	if p.X != 1.0 || p.Y != -2.0 || math.Abs(p.Z-0.003) > 1e-12 {
		t.Errorf("unexpected coordinates (%v, %v, %v)", p.X, p.Y, p.Z)
	}
	if p.Intensity != 5 || p.Tag != 0x12 {
		t.Errorf("intensity/tag not copied: %d/%d", p.Intensity, p.Tag)
	}
	if p.LineID != 0 || p.LaserID != 0 {
		t.Errorf("line/laser id should default to 0, got %d/%d", p.LineID, p.LaserID)
	}
	want := float64(uint64(1_700_000_000_123_456_789)) * 1e-9
	if p.GPSTime != want {
		t.Errorf("GPSTime = %v, want %v", p.GPSTime, want)
	}
}

func TestPointFromRaw_GPSTimeIsSeconds(t *testing.T) {
	tests := []uint64{0, 1, 999_999_999, 1_000_000_000, 86_400_000_000_000}
	for _, ts := range tests {
		p := PointFromRaw(0, 0, 0, 0, 0, ts)
		if p.GPSTime != float64(ts)*1e-9 {
			t.Errorf("ts=%d: GPSTime = %v", ts, p.GPSTime)
		}
	}
}

func TestPointFromRaw_MillimetreGrid(t *testing.T) {
	// Every raw millimetre value must survive the 1e-4 LAS grid.
	for _, mm := range []int32{-150000, -1, 0, 1, 999, 123456, 200000} {
		p := PointFromRaw(mm, mm, mm, 0, 0, 0)
		q := math.Round(p.X/1e-4) * 1e-4
		if math.Abs(q*1000-float64(mm)) > 1e-4*1000 {
			t.Errorf("mm=%d quantised to %v", mm, q)
		}
	}
}

func TestSerialMap_AddKeepsOrderAndDedupes(t *testing.T) {
	var m SerialMap
	if !m.Add(7, "47MDL9A0010001") {
		t.Fatal("first add should record")
	}
	if !m.Add(3, "47MDL9A0010002") {
		t.Fatal("second handle should record")
	}
	if m.Add(7, "other") {
		t.Error("duplicate handle must not be recorded")
	}
	if len(m) != 2 || m[0].Handle != 7 || m[1].Handle != 3 {
		t.Fatalf("unexpected map %+v", m)
	}
	if sn, ok := m.Lookup(7); !ok || sn != "47MDL9A0010001" {
		t.Errorf("Lookup(7) = %q, %v", sn, ok)
	}
	if _, ok := m.Lookup(99); ok {
		t.Error("Lookup of unknown handle should fail")
	}
}
