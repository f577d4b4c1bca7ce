package livox

import (
	"sync"
)

// MockRuntime implements Runtime for testing. Tests drive it through the
// Emit methods, either directly or from OnStart.
type MockRuntime struct {
	// InitErr is returned by Init if set.
	InitErr error
	// StartErr is returned by Start if set.
	StartErr error
	// WorkModeErr is returned by SetWorkMode if set.
	WorkModeErr error
	// OnStart, when set, runs on its own goroutine after Start. It should
	// return once Done is closed.
	OnStart func(m *MockRuntime)

	mu          sync.Mutex
	initialized bool
	infoCb      InfoCallback
	pointCb     PacketCallback
	imuCb       PacketCallback
	done        chan struct{}
	wg          sync.WaitGroup

	InitCalls   []string
	StartCalls  int
	UninitCalls int
	WorkModes   []WorkModeCall
	IMUEnabled  []uint32
}

// WorkModeCall records a SetWorkMode call.
type WorkModeCall struct {
	Handle uint32
	Mode   WorkMode
}

// NewMockRuntime creates a MockRuntime.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{}
}

// Init records the call.
func (m *MockRuntime) Init(cfgPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitCalls = append(m.InitCalls, cfgPath)
	if m.InitErr != nil {
		return m.InitErr
	}
	m.initialized = true
	m.done = make(chan struct{})
	return nil
}

func (m *MockRuntime) SetInfoCallback(cb InfoCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoCb = cb
}

func (m *MockRuntime) SetPointCloudCallback(cb PacketCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pointCb = cb
}

func (m *MockRuntime) SetIMUCallback(cb PacketCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imuCb = cb
}

// Start records the call and launches OnStart.
func (m *MockRuntime) Start() error {
	m.mu.Lock()
	m.StartCalls++
	if m.StartErr != nil {
		m.mu.Unlock()
		return m.StartErr
	}
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	hook := m.OnStart
	m.mu.Unlock()

	if hook != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			hook(m)
		}()
	}
	return nil
}

// Done is closed by Uninit.
func (m *MockRuntime) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *MockRuntime) SetWorkMode(handle uint32, mode WorkMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WorkModes = append(m.WorkModes, WorkModeCall{Handle: handle, Mode: mode})
	return m.WorkModeErr
}

func (m *MockRuntime) EnableIMU(handle uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IMUEnabled = append(m.IMUEnabled, handle)
	return nil
}

// Uninit closes Done, waits for OnStart and drops the callbacks.
func (m *MockRuntime) Uninit() {
	m.mu.Lock()
	m.UninitCalls++
	if !m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = false
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	m.infoCb, m.pointCb, m.imuCb = nil, nil, nil
	m.mu.Unlock()
}

// EmitInfo delivers a device announcement.
func (m *MockRuntime) EmitInfo(handle uint32, info DeviceInfo) {
	m.mu.Lock()
	cb := m.infoCb
	m.mu.Unlock()
	if cb != nil {
		cb(handle, info)
	}
}

// EmitPoints delivers a point packet.
func (m *MockRuntime) EmitPoints(handle uint32, pkt *EthernetPacket) {
	m.mu.Lock()
	cb := m.pointCb
	m.mu.Unlock()
	if cb != nil {
		cb(handle, DeviceTypeMid360, pkt)
	}
}

// EmitIMU delivers an IMU packet.
func (m *MockRuntime) EmitIMU(handle uint32, pkt *EthernetPacket) {
	m.mu.Lock()
	cb := m.imuCb
	m.mu.Unlock()
	if cb != nil {
		cb(handle, DeviceTypeMid360, pkt)
	}
}

// Calls returns copies of the recorded work-mode and IMU requests.
func (m *MockRuntime) Calls() ([]WorkModeCall, []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WorkModeCall(nil), m.WorkModes...), append([]uint32(nil), m.IMUEnabled...)
}
