//go:build tinygo || baremetal

// This file is built only for the board (using real radio hardware).
package covert

import (
	"github.com/decred/slog"
	"github.com/srivardhansajja/covert/driver/board"
)

// NewBoardDevice configures the board peripherals and builds a device on
// them. radioLog may be nil.
func NewBoardDevice(cfg Config, radioLog slog.Logger) (*Device, *board.Board, error) {
	if radioLog == nil {
		radioLog = slog.Disabled
	}
	b, err := board.New(radioLog)
	if err != nil {
		return nil, nil, err
	}
	cfg.ButtonActiveLow = true
	dev, err := NewDevice(cfg, b.Hardware())
	if err != nil {
		return nil, nil, err
	}
	return dev, b, nil
}
