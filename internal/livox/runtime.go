// Package livox talks to Livox Mid-360 sensors: discovery, parameter
// configuration and the point and IMU data streams.
package livox

import (
	"errors"
	"sync/atomic"
)

// WorkMode is the sensor's target operating state.
type WorkMode uint8

const (
	WorkModeNormal WorkMode = 0x01
	WorkModeWakeUp WorkMode = 0x02
	WorkModeSleep  WorkMode = 0x03
)

// InfoCallback receives a device announcement.
type InfoCallback func(handle uint32, info DeviceInfo)

// PacketCallback receives a point or IMU packet. The packet and its Data
// are only valid until the callback returns.
type PacketCallback func(handle uint32, devType uint8, pkt *EthernetPacket)

// Runtime is a process-wide sensor runtime. Callbacks run on goroutines
// owned by the runtime and may run concurrently with the caller.
type Runtime interface {
	// Init loads the configuration at cfgPath and claims the process-wide
	// runtime slot.
	Init(cfgPath string) error

	SetInfoCallback(cb InfoCallback)
	SetPointCloudCallback(cb PacketCallback)
	SetIMUCallback(cb PacketCallback)

	// Start begins discovery and data delivery.
	Start() error

	// SetWorkMode asks the device to enter mode. It does not wait for
	// the acknowledgement.
	SetWorkMode(handle uint32, mode WorkMode) error

	// EnableIMU asks the device to stream IMU data.
	EnableIMU(handle uint32) error

	// Uninit stops delivery, waits for callbacks in flight to finish and
	// releases the runtime slot. It is a no-op when not initialised.
	Uninit()
}

var (
	// ErrAlreadyInitialized is returned by Init while another runtime holds
	// the process-wide slot.
	ErrAlreadyInitialized = errors.New("sensor runtime already initialized")

	// ErrNotInitialized is returned by operations that need Init first.
	ErrNotInitialized = errors.New("sensor runtime not initialized")

	// ErrUnknownDevice is returned for handles never announced.
	ErrUnknownDevice = errors.New("unknown device handle")
)

var active atomic.Bool

func acquire() error {
	if !active.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	return nil
}

func release() {
	active.Store(false)
}
