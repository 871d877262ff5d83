// Package covert provides a façade over the tap-link device: a unit that
// pairs with its peers over LoRa, records tap gestures and replays the
// gestures of paired units on a vibration actuator.
package covert

import (
	"github.com/srivardhansajja/covert/pairing"
	"github.com/srivardhansajja/covert/protocol"
	"github.com/srivardhansajja/covert/transport"
)

// The constructors are split into build-tag specific files:
// - constructors_board.go - for the nRF52840 board (//go:build tinygo || baremetal)
// - constructors_host.go - for simulation on the host (//go:build !tinygo && !baremetal)

type (
	DeviceID = protocol.DeviceID
	Key      = protocol.Key
	Device   = transport.Device
	Config   = transport.Config
	Hardware = transport.Hardware
	Stats    = transport.Stats
	State    = pairing.State
)

// Errors exposed in the public API.
var (
	ErrInit           = protocol.ErrInit
	ErrRadioBusy      = protocol.ErrRadioBusy
	ErrStandbyTimeout = protocol.ErrStandbyTimeout
	ErrReplay         = protocol.ErrReplay
	ErrFrameLength    = protocol.ErrFrameLength
)

const (
	MasterDevice = protocol.MasterDevice

	Idle            = pairing.Idle
	Advertising     = pairing.Advertising
	AwaitingPeerKey = pairing.AwaitingPeerKey
	Exchanged       = pairing.Exchanged
	DistributingKey = pairing.DistributingKey
	Done            = pairing.Done
)

// NewDevice builds a device on hw. Nothing touches the radio until Init.
func NewDevice(cfg Config, hw Hardware) (*Device, error) {
	return transport.NewDevice(cfg, hw)
}
