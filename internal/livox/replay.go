package livox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/savelaz/internal/monitoring"
)

// Replay is a Runtime that plays back a packet capture of a sensor
// session. Discovery answers in the capture announce devices; point and
// IMU datagrams are routed by their destination port.
type Replay struct {
	path     string
	realtime bool
	open     func(name string) (io.ReadCloser, error)

	mu          sync.Mutex
	cfg         Config
	initialized bool
	started     bool
	infoCb      InfoCallback
	pointCb     PacketCallback
	imuCb       PacketCallback
	devices     map[uint32]DeviceInfo
	workModes   map[uint32]WorkMode

	file   io.ReadCloser
	reader *pcapgo.Reader
	stats  *PacketStats
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ReplayOption configures a Replay.
type ReplayOption func(*Replay)

// WithRealtime paces delivery by the capture timestamps when enabled.
func WithRealtime(enabled bool) ReplayOption {
	return func(r *Replay) { r.realtime = enabled }
}

// NewReplay creates a runtime that replays the pcap file at path.
func NewReplay(path string, opts ...ReplayOption) *Replay {
	r := &Replay{
		path:     path,
		realtime: true,
		open:     func(name string) (io.ReadCloser, error) { return os.Open(name) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init loads the port layout and opens the capture. A missing
// configuration file falls back to the default ports.
func (r *Replay) Init(cfgPath string) error {
	if err := acquire(); err != nil {
		return err
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			release()
			return err
		}
		monitoring.Logf("Sensor config %s not found, replaying with default ports", cfgPath)
		cfg = DefaultConfig()
	}

	f, err := r.open(r.path)
	if err != nil {
		release()
		return fmt.Errorf("failed to open PCAP file %s: %w", r.path, err)
	}
	reader, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		release()
		return fmt.Errorf("failed to read PCAP header of %s: %w", r.path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.file = f
	r.reader = reader
	r.devices = make(map[uint32]DeviceInfo)
	r.workModes = make(map[uint32]WorkMode)
	r.stats = NewPacketStats()
	r.initialized = true
	return nil
}

// SetInfoCallback registers the device announcement callback.
func (r *Replay) SetInfoCallback(cb InfoCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infoCb = cb
}

// SetPointCloudCallback registers the point packet callback.
func (r *Replay) SetPointCloudCallback(cb PacketCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pointCb = cb
}

// SetIMUCallback registers the IMU packet callback.
func (r *Replay) SetIMUCallback(cb PacketCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imuCb = cb
}

// Start begins playback on a background goroutine.
func (r *Replay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return ErrNotInitialized
	}
	if r.started {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.started = true
	r.wg.Add(1)
	go r.play(ctx)
	return nil
}

func (r *Replay) play(ctx context.Context) {
	defer r.wg.Done()

	source := gopacket.NewPacketSource(r.reader, r.reader.LinkType())
	source.NoCopy = true
	var first, startWall time.Time
	count := 0
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("PCAP replay stopping (processed %d packets)", count)
			return
		default:
		}

		packet, err := source.NextPacket()
		if err == io.EOF {
			monitoring.Logf("PCAP replay complete: %d packets", count)
			return
		}
		if err != nil {
			// Truncated or undecodable records end the replay.
			monitoring.Logf("PCAP replay stopped after %d packets: %v", count, err)
			return
		}
		count++

		if r.realtime {
			ts := packet.Metadata().Timestamp
			if first.IsZero() {
				first, startWall = ts, time.Now()
			} else if wait := ts.Sub(first) - time.Since(startWall); wait > 0 {
				select {
				case <-ctx.Done():
					continue
				case <-time.After(wait):
				}
			}
		}
		r.route(packet)
	}
}

func (r *Replay) route(packet gopacket.Packet) {
	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return
	}
	var src net.IP
	if ip, ok := packet.NetworkLayer().(*layers.IPv4); ok {
		src = ip.SrcIP
	}
	handle := Handle(src)

	switch int(udp.DstPort) {
	case DiscoveryPort:
		r.handleDiscovery(udp.Payload, src)
	case r.cfg.Host.PointDataPort:
		r.deliver(handle, src, udp.Payload, r.pointCallback)
	case r.cfg.Host.IMUDataPort:
		r.deliver(handle, src, udp.Payload, r.imuCallback)
	}
}

func (r *Replay) handleDiscovery(payload []byte, src net.IP) {
	frame, err := ParseControlFrame(payload)
	if err != nil || frame.CmdID != CmdDiscovery || frame.CmdType != CmdTypeAck {
		return
	}
	info, err := ParseDiscoveryAck(frame.Data)
	if err != nil {
		return
	}
	r.announce(Handle(info.IP), info)
}

// announce records info and fires the info callback once per handle.
func (r *Replay) announce(handle uint32, info DeviceInfo) {
	r.mu.Lock()
	_, seen := r.devices[handle]
	if !seen {
		r.devices[handle] = info
	}
	cb := r.infoCb
	r.mu.Unlock()
	if !seen && cb != nil {
		cb(handle, info)
	}
}

func (r *Replay) deliver(handle uint32, src net.IP, payload []byte, callback func() PacketCallback) {
	r.stats.AddPacket(len(payload))
	pkt, err := ParseEthernetPacket(payload)
	if err != nil {
		r.stats.AddDropped()
		return
	}
	if pkt.DataType == DataTypeIMU {
		r.stats.AddIMU()
	} else {
		r.stats.AddPoints(int(pkt.DotNum))
	}

	// Captures that start after discovery still announce their source.
	r.mu.Lock()
	info, seen := r.devices[handle]
	r.mu.Unlock()
	if !seen {
		info = DeviceInfo{DevType: DeviceTypeMid360, IP: src, CmdPort: uint16(r.cfg.Lidar.CmdDataPort)}
		r.announce(handle, info)
	}
	if cb := callback(); cb != nil {
		cb(handle, info.DevType, pkt)
	}
}

func (r *Replay) pointCallback() PacketCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pointCb
}

func (r *Replay) imuCallback() PacketCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.imuCb
}

// SetWorkMode records the requested mode; a capture cannot be commanded.
func (r *Replay) SetWorkMode(handle uint32, mode WorkMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return ErrNotInitialized
	}
	if _, ok := r.devices[handle]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, handle)
	}
	r.workModes[handle] = mode
	return nil
}

// EnableIMU is accepted for known devices and otherwise ignored.
func (r *Replay) EnableIMU(handle uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return ErrNotInitialized
	}
	if _, ok := r.devices[handle]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, handle)
	}
	return nil
}

// workMode returns the last mode requested for handle.
func (r *Replay) workMode(handle uint32) (WorkMode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.workModes[handle]
	return m, ok
}

// Uninit stops playback and closes the capture.
func (r *Replay) Uninit() {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.file.Close(); err != nil {
		monitoring.Logf("Error closing PCAP file %s: %v", r.path, err)
	}
	r.stats.LogStats()
	r.file, r.reader = nil, nil
	r.initialized = false
	r.started = false
	r.cancel = nil
	r.infoCb, r.pointCb, r.imuCb = nil, nil, nil
	release()
}
