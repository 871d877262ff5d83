package rfm95

// Register addresses of the RFM95/SX1276 in LoRa mode.
const (
	RegFifo             = 0x00
	RegOpMode           = 0x01
	RegFrfMsb           = 0x06
	RegFrfMid           = 0x07
	RegFrfLsb           = 0x08
	RegPaConfig         = 0x09
	RegFifoAddrPtr      = 0x0D
	RegFifoTxBaseAddr   = 0x0E
	RegFifoRxBaseAddr   = 0x0F
	RegFifoRxCurrentAdr = 0x10
	RegIrqFlags         = 0x12
	RegRxNbBytes        = 0x13
	RegModemConfig1     = 0x1D
	RegModemConfig2     = 0x1E
	RegSymbTimeoutLsb   = 0x1F
	RegPreambleMsb      = 0x20
	RegPreambleLsb      = 0x21
	RegPayloadLength    = 0x22
	RegModemConfig3     = 0x26
	RegInvertIQ1        = 0x33
	RegSyncWord         = 0x39
	RegInvertIQ2        = 0x3B
	RegDioMapping1      = 0x40
	RegDioMapping2      = 0x41
	RegVersion          = 0x42
	RegPaDac            = 0x4D
)

// Register values.
const (
	ChipVersion = 0x12

	ModeSleep        = 0x00
	ModeLoRa         = 0x80
	ModeStandby      = 0x81
	ModeTx           = 0x83
	ModeRxContinuous = 0x85
	ModeRxSingle     = 0x86

	PaDacLowPower  = 0x84
	PaDacHighPower = 0x87

	DioMapping1RxDone = 0x00
	DioMapping1TxDone = 0x40

	InvertIQ1OnTxOnly = 0x27
	InvertIQ1Off      = 0x26
	InvertIQ2On       = 0x19
	InvertIQ2Off      = 0x1D

	FifoTxBase = 0x80
	FifoRxBase = 0x00
	FifoSize   = 256

	// Transmit frames live in the upper half of the FIFO.
	MaxTxFrame = FifoSize - FifoTxBase
)

// IRQ flag bits in RegIrqFlags.
const (
	IrqRxTimeout       = 0x80
	IrqRxDone          = 0x40
	IrqPayloadCrcError = 0x20
	IrqValidHeader     = 0x10
	IrqTxDone          = 0x08
	IrqCadDone         = 0x04
	IrqFhssChangeChan  = 0x02
	IrqCadDetected     = 0x01
)

// Bit 7 of the address byte selects a register write.
const (
	readMask  byte = 0x7f
	writeFlag byte = 0x80
)

// Modem defaults: 915 MHz, 125 kHz bandwidth, CR 4/5, explicit header,
// SF9 with payload CRC.
var (
	frequency = [3]byte{0xE4, 0xC0, 0x26}

	modemConfig1 byte = 0x82
	modemConfig2 byte = 0x90 | 0b111
	modemConfig3 byte = 0x00
)
