package rfm9x

// SX127x register addresses used in LoRa mode.
const (
	regFIFO         = 0x00
	regOpMode       = 0x01
	regFrfMSB       = 0x06
	regPAConfig     = 0x09
	regPADac        = 0x4D
	regOCP          = 0x0B
	regLNA          = 0x0C
	regFIFOAddrPtr  = 0x0D
	regFIFOTxBase   = 0x0E
	regFIFORxBase   = 0x0F
	regFIFORxCurr   = 0x10
	regIRQFlagsMask = 0x11
	regIRQFlags     = 0x12
	regRxNbBytes    = 0x13
	regModemStat    = 0x18
	regPktSNR       = 0x19
	regPktRSSI      = 0x1A
	regModemConfig1 = 0x1D
	regModemConfig2 = 0x1E
	regSymbTimeout  = 0x1F
	regPreambleMSB  = 0x20
	regPreambleLSB  = 0x21
	regPayloadLen   = 0x22
	regMaxPayload   = 0x23
	regHopPeriod    = 0x24
	regModemConfig3 = 0x26
	regFEI          = 0x28
	regDetectOpt    = 0x31
	regInvertIQ     = 0x33
	regDetectThresh = 0x37
	regDIOMapping1  = 0x40
	regDIOMapping2  = 0x41
	regVersion      = 0x42
)

// Chip-level OpMode values (RegOpMode bits 0..2), masked onto the LoRa +
// frequency-band bits by setMode.
const (
	chipModeSleep   byte = 0
	chipModeStandby byte = 1
	chipModeFSTx    byte = 2
	chipModeTx      byte = 3
	chipModeFSRx    byte = 4
	chipModeRxCont  byte = 5
	chipModeRxSingl byte = 6
	chipModeCAD     byte = 7
)

const (
	opModeLoRaFlag = 0x80
	opModeLFFlag   = 0x08
)

// IRQ flag bits (RegIrqFlags).
const (
	irqRxTimeout     = 1 << 7
	irqRxDone        = 1 << 6
	irqPayloadCRCErr = 1 << 5
	irqValidHeader   = 1 << 4
	irqTxDone        = 1 << 3
	irqCADDone       = 1 << 2
	irqFHSSChange    = 1 << 1
	irqCADDetect     = 1 << 0
)

// RegModemStat bits.
const (
	modemStatSignalDetected      = 1 << 0
	modemStatSignalSynchronized  = 1 << 1
	modemStatRxOngoing           = 1 << 2
	modemStatHeaderInfoValid     = 1 << 3
	modemStatModemClear          = 1 << 4
)

// chipOpModeFor returns the chip-level 3-bit OpMode value for a public Mode.
func chipOpModeFor(m Mode) byte {
	switch m {
	case ModeSleep:
		return chipModeSleep
	case ModeStandby:
		return chipModeStandby
	case ModeTransmit:
		return chipModeTx
	case ModeDetection:
		return chipModeCAD
	case ModeReceiveContinuous:
		return chipModeRxCont
	case ModeReceiveSingle:
		return chipModeRxSingl
	default:
		return chipModeStandby
	}
}

// chipRawToMode maps a raw 3-bit OpMode readback back to a public Mode,
// used when the mode-ready interrupt fires and the chip is re-read to
// tolerate spurious transitions.
var chipRawToMode = map[byte]Mode{
	chipModeSleep:   ModeSleep,
	chipModeStandby: ModeStandby,
	chipModeTx:      ModeTransmit,
	chipModeCAD:     ModeDetection,
	chipModeRxCont:  ModeReceiveContinuous,
	chipModeRxSingl: ModeReceiveSingle,
}

// initRegs brings the chip to a known configuration independent of any
// radio profile: FIFO base pointers, over-current protection, LNA gain,
// masked interrupts, and IQ/detection defaults. Pairs of <address, value>.
var initRegs = []byte{
	regOCP, 0x2B, // over-current protection ~100mA
	regLNA, 0x23, // max LNA gain, boost on
	regFIFOAddrPtr, 0x00,
	regFIFOTxBase, 0x00,
	regFIFORxBase, 0x00,
	regFIFORxCurr, 0x00,
	regIRQFlagsMask, 0x00, // no masked interrupts; driver decides what to act on
	regHopPeriod, 0x00, // no hopping by default
	regDetectOpt, 0x03, // detection optimize for SF7-12
	regDetectThresh, 0x0A, // detection threshold for SF7-12
}
