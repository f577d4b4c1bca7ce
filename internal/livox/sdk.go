package livox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/savelaz/internal/monitoring"
)

const (
	defaultReadTimeout       = 100 * time.Millisecond
	defaultDiscoveryInterval = time.Second
	defaultReceiveBuffer     = 4 << 20
)

// SDK is the network Runtime. It binds the host ports from the
// configuration, broadcasts discovery and delivers decoded packets.
type SDK struct {
	factory           UDPSocketFactory
	rcvBuf            int
	readTimeout       time.Duration
	discoveryInterval time.Duration
	broadcast         *net.UDPAddr

	mu          sync.Mutex
	cfg         Config
	initialized bool
	started     bool
	infoCb      InfoCallback
	pointCb     PacketCallback
	imuCb       PacketCallback
	devices     map[uint32]DeviceInfo
	seq         uint16

	discSock  UDPSocket
	cmdSock   UDPSocket
	pointSock UDPSocket
	imuSock   UDPSocket

	stats  *PacketStats
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SDKOption configures an SDK.
type SDKOption func(*SDK)

// WithSocketFactory replaces the socket factory.
func WithSocketFactory(f UDPSocketFactory) SDKOption {
	return func(s *SDK) { s.factory = f }
}

// WithReceiveBuffer sets the receive buffer size for the data sockets.
func WithReceiveBuffer(n int) SDKOption {
	return func(s *SDK) { s.rcvBuf = n }
}

// WithDiscoveryInterval sets how often discovery is broadcast until a
// device answers.
func WithDiscoveryInterval(d time.Duration) SDKOption {
	return func(s *SDK) { s.discoveryInterval = d }
}

// WithBroadcastAddr sets where discovery requests are sent.
func WithBroadcastAddr(addr *net.UDPAddr) SDKOption {
	return func(s *SDK) { s.broadcast = addr }
}

// NewSDK creates an uninitialised network runtime.
func NewSDK(opts ...SDKOption) *SDK {
	s := &SDK{
		factory:           RealUDPSocketFactory{},
		rcvBuf:            defaultReceiveBuffer,
		readTimeout:       defaultReadTimeout,
		discoveryInterval: defaultDiscoveryInterval,
		broadcast:         &net.UDPAddr{IP: net.IPv4bcast, Port: DiscoveryPort},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init loads the configuration and binds the host sockets.
func (s *SDK) Init(cfgPath string) error {
	if err := acquire(); err != nil {
		return err
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		release()
		return err
	}
	if err := s.bind(cfg); err != nil {
		s.closeSockets()
		release()
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.devices = make(map[uint32]DeviceInfo)
	s.stats = NewPacketStats()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

func (s *SDK) bind(cfg Config) error {
	type binding struct {
		name string
		ip   string
		port int
		dst  *UDPSocket
	}
	bindings := []binding{
		{"discovery", cfg.Host.CmdDataIP, DiscoveryPort, &s.discSock},
		{"command", cfg.Host.CmdDataIP, cfg.Host.CmdDataPort, &s.cmdSock},
		{"point", cfg.Host.PointDataIP, cfg.Host.PointDataPort, &s.pointSock},
		{"imu", cfg.Host.IMUDataIP, cfg.Host.IMUDataPort, &s.imuSock},
	}
	for _, b := range bindings {
		addr, err := udpAddr(b.ip, b.port)
		if err != nil {
			return fmt.Errorf("failed to resolve %s address: %w", b.name, err)
		}
		sock, err := s.factory.ListenUDP("udp4", addr)
		if err != nil {
			return fmt.Errorf("failed to listen for %s data on %s: %w", b.name, addr, err)
		}
		if b.name == "point" || b.name == "imu" {
			if err := sock.SetReadBuffer(s.rcvBuf); err != nil {
				monitoring.Logf("Warning: Failed to set %s receive buffer size to %d: %v", b.name, s.rcvBuf, err)
			}
		}
		*b.dst = sock
	}
	return nil
}

func (s *SDK) closeSockets() error {
	var err error
	for _, sock := range []*UDPSocket{&s.discSock, &s.cmdSock, &s.pointSock, &s.imuSock} {
		if *sock != nil {
			err = multierr.Append(err, (*sock).Close())
			*sock = nil
		}
	}
	return err
}

// SetInfoCallback registers the device announcement callback.
func (s *SDK) SetInfoCallback(cb InfoCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infoCb = cb
}

// SetPointCloudCallback registers the point packet callback.
func (s *SDK) SetPointCloudCallback(cb PacketCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointCb = cb
}

// SetIMUCallback registers the IMU packet callback.
func (s *SDK) SetIMUCallback(cb PacketCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imuCb = cb
}

// Start launches the discovery, command and data goroutines.
func (s *SDK) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.started {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = true

	s.wg.Add(4)
	go s.discoveryLoop(ctx)
	go s.commandLoop(ctx)
	go s.dataLoop(ctx, s.pointSock, func() PacketCallback { return s.pointCallback() })
	go s.dataLoop(ctx, s.imuSock, func() PacketCallback { return s.imuCallback() })

	monitoring.Logf("Sensor runtime started: point data on :%d, imu data on :%d",
		s.cfg.Host.PointDataPort, s.cfg.Host.IMUDataPort)
	return nil
}

func (s *SDK) pointCallback() PacketCallback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pointCb
}

func (s *SDK) imuCallback() PacketCallback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imuCb
}

// readLoop reads from sock with short deadlines so ctx is honoured, and
// passes each datagram to handle.
func (s *SDK) readLoop(ctx context.Context, sock UDPSocket, handle func(b []byte, addr *net.UDPAddr), tick func()) {
	buf := make([]byte, MaxPacketSize*2)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if tick != nil {
			tick()
		}
		sock.SetReadDeadline(time.Now().Add(s.readTimeout))
		n, addr, err := sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}
		handle(buf[:n], addr)
	}
}

func (s *SDK) discoveryLoop(ctx context.Context) {
	defer s.wg.Done()
	var last time.Time
	tick := func() {
		if !last.IsZero() && time.Since(last) < s.discoveryInterval {
			return
		}
		if s.deviceCount() > 0 && !last.IsZero() {
			return
		}
		last = time.Now()
		frame := DiscoveryRequest(s.nextSeq()).Encode()
		if _, err := s.discSock.WriteToUDP(frame, s.broadcast); err != nil {
			monitoring.Logf("Failed to broadcast discovery: %v", err)
		}
	}
	s.readLoop(ctx, s.discSock, s.handleDiscovery, tick)
}

func (s *SDK) handleDiscovery(b []byte, addr *net.UDPAddr) {
	frame, err := ParseControlFrame(b)
	if err != nil {
		return
	}
	if frame.CmdID != CmdDiscovery || frame.CmdType != CmdTypeAck {
		return
	}
	info, err := ParseDiscoveryAck(frame.Data)
	if err != nil {
		monitoring.Logf("Ignoring discovery answer from %v: %v", addr, err)
		return
	}
	if info.CmdPort == 0 {
		info.CmdPort = uint16(s.cfg.Lidar.CmdDataPort)
	}
	handle := Handle(info.IP)

	s.mu.Lock()
	_, seen := s.devices[handle]
	if !seen {
		s.devices[handle] = info
	}
	cb := s.infoCb
	s.mu.Unlock()

	if seen {
		return
	}
	monitoring.Logf("Discovered device %s at %v (type %d)", info.Serial, info.IP, info.DevType)
	if cb != nil {
		cb(handle, info)
	}
}

func (s *SDK) commandLoop(ctx context.Context) {
	defer s.wg.Done()
	s.readLoop(ctx, s.cmdSock, func(b []byte, addr *net.UDPAddr) {
		frame, err := ParseControlFrame(b)
		if err != nil || frame.CmdType != CmdTypeAck {
			return
		}
		if frame.CmdID == CmdParamConfig && len(frame.Data) > 0 && frame.Data[0] != 0 {
			monitoring.Logf("Device %v rejected parameter update (seq %d, code %d)", addr.IP, frame.Seq, frame.Data[0])
		}
	}, nil)
}

func (s *SDK) dataLoop(ctx context.Context, sock UDPSocket, callback func() PacketCallback) {
	defer s.wg.Done()
	s.readLoop(ctx, sock, func(b []byte, addr *net.UDPAddr) {
		s.stats.AddPacket(len(b))
		pkt, err := ParseEthernetPacket(b)
		if err != nil {
			s.stats.AddDropped()
			return
		}
		switch pkt.DataType {
		case DataTypeIMU:
			s.stats.AddIMU()
		default:
			s.stats.AddPoints(int(pkt.DotNum))
		}
		handle := Handle(addr.IP)
		s.mu.Lock()
		devType := DeviceTypeMid360
		if info, ok := s.devices[handle]; ok {
			devType = info.DevType
		}
		s.mu.Unlock()
		if cb := callback(); cb != nil {
			cb(handle, devType, pkt)
		}
	}, nil)
}

func (s *SDK) deviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

func (s *SDK) nextSeq() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// SetWorkMode sends a work-mode change to the device.
func (s *SDK) SetWorkMode(handle uint32, mode WorkMode) error {
	return s.sendParams(handle, KeyValue{Key: KeyWorkTargetMode, Value: []byte{byte(mode)}})
}

// EnableIMU turns on the device's IMU stream.
func (s *SDK) EnableIMU(handle uint32) error {
	return s.sendParams(handle, KeyValue{Key: KeyIMUDataEnable, Value: []byte{1}})
}

func (s *SDK) sendParams(handle uint32, kvs ...KeyValue) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	info, ok := s.devices[handle]
	sock := s.cmdSock
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, handle)
	}

	dst := &net.UDPAddr{IP: info.IP, Port: int(info.CmdPort)}
	if _, err := sock.WriteToUDP(ParamConfigRequest(seq, kvs...).Encode(), dst); err != nil {
		return fmt.Errorf("failed to send parameters to %v: %w", dst, err)
	}
	return nil
}

// Stats returns the packet counters of the current session, or nil.
func (s *SDK) Stats() *PacketStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Uninit stops the goroutines, closes the sockets and releases the
// runtime slot.
func (s *SDK) Uninit() {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeSockets(); err != nil {
		monitoring.Logf("Error closing sensor sockets: %v", err)
	}
	if s.stats != nil {
		s.stats.LogStats()
	}
	s.initialized = false
	s.started = false
	s.cancel = nil
	s.infoCb, s.pointCb, s.imuCb = nil, nil, nil
	release()
}
