//go:build tinygo || baremetal

package board

import "machine"

// Wiring of the RFM95 breakout and the user interface on an nRF52840 DK.
const (
	RadioCS    = machine.P1_12
	RadioReset = machine.P1_13
	RadioDIO0  = machine.P1_14
	RadioSCK   = machine.P1_15
	RadioSDO   = machine.P1_11
	RadioSDI   = machine.P1_10

	LED1          = machine.LED1
	LED2          = machine.LED2
	PairButton    = machine.BUTTON1
	GestureButton = machine.BUTTON2
	Vibration     = machine.P0_03
)

// SPIFrequency is the radio bus clock.
const SPIFrequency = 4_000_000
