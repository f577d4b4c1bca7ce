// Package capture runs a single bounded capture against a sensor runtime
// and hands back everything the runtime delivered.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/savelaz/internal/lidar"
	"github.com/banshee-data/savelaz/internal/livox"
	"github.com/banshee-data/savelaz/internal/monitoring"
	"github.com/banshee-data/savelaz/internal/timeutil"
)

const (
	// DefaultTimeout bounds how long Capture waits for the first frame and
	// Discover waits for a device.
	DefaultTimeout = 5 * time.Second

	// DefaultPollInterval is how often the foreground checks for a frame.
	DefaultPollInterval = 100 * time.Millisecond
)

var (
	// ErrRuntimeInit is returned when the sensor runtime cannot start.
	ErrRuntimeInit = errors.New("sensor runtime initialization failed")

	// ErrNoFrame is returned when no point packet arrived before the deadline.
	ErrNoFrame = errors.New("no point frame received")

	// ErrNoDevice is returned by Discover when no device announced itself.
	ErrNoDevice = errors.New("no device discovered")
)

// Result is what a capture hands back. The slices are owned by the caller.
type Result struct {
	Points   []lidar.Point
	IMUs     []lidar.ImuData
	Serials  lidar.SerialMap
	Duration time.Duration
	OK       bool
}

// Session collects points and IMU samples from a runtime. A Session may be
// reused for consecutive captures but not concurrently.
type Session struct {
	rt           livox.Runtime
	clock        timeutil.Clock
	wallClock    func() time.Time
	timeout      time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	points  []lidar.Point
	imus    []lidar.ImuData
	serials lidar.SerialMap

	state     atomic.Int32
	frameDone atomic.Bool
	running   atomic.Bool
	announce  bool
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for the deadline and polling.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithWallClock sets the source of ImuData.TimestampUnix.
func WithWallClock(f func() time.Time) Option {
	return func(s *Session) { s.wallClock = f }
}

// WithTimeout sets the capture deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPollInterval sets the polling period.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewSession creates a Session over rt.
func NewSession(rt livox.Runtime, opts ...Option) *Session {
	s := &Session{
		rt:           rt,
		clock:        timeutil.RealClock{},
		wallClock:    time.Now,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) reset() {
	s.mu.Lock()
	s.points = nil
	s.imus = nil
	s.serials = nil
	s.mu.Unlock()
	s.frameDone.Store(false)
	s.running.Store(false)
}

// Capture initialises the runtime from cfgPath, waits until the first point
// packet has been received or the timeout expires, and uninitialises the
// runtime. The runtime is uninitialised on every path. On timeout the
// partial Result is returned together with an error wrapping ErrNoFrame.
func (s *Session) Capture(ctx context.Context, cfgPath string) (Result, error) {
	s.reset()
	if err := s.rt.Init(cfgPath); err != nil {
		s.rt.Uninit()
		return Result{}, fmt.Errorf("%w: %v", ErrRuntimeInit, err)
	}
	s.setState(StateInitialized)
	s.announce = true

	s.rt.SetInfoCallback(s.onInfo)
	s.rt.SetPointCloudCallback(s.onPointCloud)
	s.rt.SetIMUCallback(s.onIMU)

	s.running.Store(true)
	if err := s.rt.Start(); err != nil {
		s.running.Store(false)
		s.rt.Uninit()
		s.setState(StateUninit)
		return Result{}, fmt.Errorf("%w: start: %v", ErrRuntimeInit, err)
	}
	s.setState(StateRunning)
	start := s.clock.Now()

	s.poll(ctx, start, s.timeout, func() bool { return s.frameDone.Load() || !s.running.Load() })
	duration := s.clock.Since(start)

	done := s.frameDone.Load()
	if done {
		s.setState(StateFrameDone)
	} else {
		s.setState(StateTimedOut)
	}
	s.rt.Uninit()
	s.setState(StateUninit)

	s.mu.Lock()
	res := Result{
		Points:   s.points,
		IMUs:     s.imus,
		Serials:  s.serials,
		Duration: duration,
		OK:       done,
	}
	s.points, s.imus, s.serials = nil, nil, nil
	s.mu.Unlock()

	if !done {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %v", ErrNoFrame, err)
		}
		return res, fmt.Errorf("%w within %v", ErrNoFrame, s.timeout)
	}
	return res, nil
}

// Discover initialises the runtime and waits up to the session timeout for
// at least one device to announce itself.
func (s *Session) Discover(ctx context.Context, cfgPath string) (lidar.SerialMap, error) {
	s.reset()
	if err := s.rt.Init(cfgPath); err != nil {
		s.rt.Uninit()
		return nil, fmt.Errorf("%w: %v", ErrRuntimeInit, err)
	}
	s.setState(StateInitialized)
	s.announce = false

	s.rt.SetInfoCallback(s.onInfo)
	s.rt.SetPointCloudCallback(nil)
	s.rt.SetIMUCallback(nil)

	if err := s.rt.Start(); err != nil {
		s.rt.Uninit()
		s.setState(StateUninit)
		return nil, fmt.Errorf("%w: start: %v", ErrRuntimeInit, err)
	}
	s.setState(StateRunning)

	found := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.serials) > 0
	}
	s.poll(ctx, s.clock.Now(), s.timeout, found)
	s.rt.Uninit()
	s.setState(StateUninit)

	s.mu.Lock()
	serials := s.serials
	s.serials = nil
	s.mu.Unlock()

	if len(serials) == 0 {
		return nil, ErrNoDevice
	}
	return serials, nil
}

// poll sleeps in pollInterval steps until done reports true, limit has
// elapsed since start or ctx is cancelled.
func (s *Session) poll(ctx context.Context, start time.Time, limit time.Duration, done func() bool) {
	for !done() {
		if s.clock.Since(start) >= limit || ctx.Err() != nil {
			return
		}
		s.clock.Sleep(s.pollInterval)
	}
}

func (s *Session) onInfo(handle uint32, info livox.DeviceInfo) {
	s.mu.Lock()
	added := s.serials.Add(handle, info.Serial)
	s.mu.Unlock()
	if added {
		monitoring.Logf("Device %s connected (handle %d, %v)", info.Serial, handle, info.IP)
	}
	if !s.announce {
		return
	}

	// Fire-and-forget; failures are only logged.
	if err := s.rt.SetWorkMode(handle, livox.WorkModeNormal); err != nil {
		monitoring.Logf("Failed to set work mode on %s: %v", info.Serial, err)
	}
	if err := s.rt.EnableIMU(handle); err != nil {
		monitoring.Logf("Failed to enable IMU on %s: %v", info.Serial, err)
	}
}

func (s *Session) onPointCloud(handle uint32, devType uint8, pkt *livox.EthernetPacket) {
	if pkt == nil || pkt.DataType != livox.DataTypeCartesianHigh {
		return
	}
	ts := pkt.Timestamp
	raw := pkt.HighPoints()
	pts := make([]lidar.Point, len(raw))
	for i, r := range raw {
		pts[i] = lidar.PointFromRaw(r.X, r.Y, r.Z, r.Reflectivity, r.Tag, ts)
	}

	s.mu.Lock()
	s.points = append(s.points, pts...)
	s.mu.Unlock()

	s.frameDone.Store(true)
	s.running.Store(false)
}

func (s *Session) onIMU(handle uint32, devType uint8, pkt *livox.EthernetPacket) {
	if pkt == nil || pkt.DataType != livox.DataTypeIMU {
		return
	}
	raw, err := pkt.IMU()
	if err != nil {
		return
	}
	imu := lidar.ImuData{
		Timestamp:     pkt.Timestamp,
		GyroX:         raw.GyroX,
		GyroY:         raw.GyroY,
		GyroZ:         raw.GyroZ,
		AccX:          raw.AccX,
		AccY:          raw.AccY,
		AccZ:          raw.AccZ,
		ImuID:         handle,
		TimestampUnix: uint64(s.wallClock().UnixNano()),
	}

	s.mu.Lock()
	s.imus = append(s.imus, imu)
	s.mu.Unlock()
}
