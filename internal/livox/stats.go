package livox

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/savelaz/internal/monitoring"
)

// PacketStats counts datagrams received by a runtime.
type PacketStats struct {
	mu         sync.Mutex
	packets    int64
	bytes      int64
	dropped    int64
	points     int64
	imuSamples int64
	started    time.Time
}

// StatsSnapshot is a point-in-time copy of PacketStats.
type StatsSnapshot struct {
	Packets    int64
	Bytes      int64
	Dropped    int64
	Points     int64
	IMUSamples int64
	Elapsed    time.Duration
}

// NewPacketStats creates a PacketStats starting now.
func NewPacketStats() *PacketStats {
	return &PacketStats{started: time.Now()}
}

// AddPacket counts one received datagram of n bytes.
func (ps *PacketStats) AddPacket(n int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packets++
	ps.bytes += int64(n)
}

// AddDropped counts one datagram that failed to decode.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.dropped++
}

// AddPoints counts decoded points.
func (ps *PacketStats) AddPoints(n int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.points += int64(n)
}

// AddIMU counts one IMU sample.
func (ps *PacketStats) AddIMU() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.imuSamples++
}

// Snapshot returns the current counters.
func (ps *PacketStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return StatsSnapshot{
		Packets:    ps.packets,
		Bytes:      ps.bytes,
		Dropped:    ps.dropped,
		Points:     ps.points,
		IMUSamples: ps.imuSamples,
		Elapsed:    time.Since(ps.started),
	}
}

// String formats the snapshot as a single log line.
func (s StatsSnapshot) String() string {
	msg := fmt.Sprintf("Sensor stats: %s packets (%.2f MB), %s points, %s imu samples in %v",
		FormatWithCommas(s.Packets), float64(s.Bytes)/(1024*1024),
		FormatWithCommas(s.Points), FormatWithCommas(s.IMUSamples), s.Elapsed.Round(time.Millisecond))
	if s.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped", s.Dropped)
	}
	return msg
}

// LogStats logs the totals if anything was received.
func (ps *PacketStats) LogStats() {
	s := ps.Snapshot()
	if s.Packets == 0 && s.Dropped == 0 {
		return
	}
	monitoring.Logf("%s", s)
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := n < 0
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	out := make([]byte, 0, len(s)+len(s)/3+1)
	if neg {
		out = append(out, '-')
	}
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}
