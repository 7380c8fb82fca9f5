package lepton

// DeviceAddress is the 7-bit I²C address of the Lepton command interface.
const DeviceAddress = 0x2A

type register struct {
	Address  uint16
	Words    int
	ReadOnly bool
}

var (
	regStatus     = register{0x0002, 1, true}
	regCommand    = register{0x0004, 1, false}
	regDataLength = register{0x0006, 1, false}
	regData0      = register{0x0008, inlineWords, false}
	regDataBuffer = register{0xF800, dataBufferWords, false}
)

const (
	// inlineWords is the size of the DATA0..DATA15 register window.
	inlineWords = 16
	// dataBufferWords is the capacity of the shared data buffer (0x800 bytes).
	dataBufferWords = 0x0800 / 2
)

// Status register bits.
const (
	statusBusyMask       = 0x0001
	statusBootModeMask   = 0x0002
	statusBootStatusMask = 0x0004
	statusErrorCodeMask  = 0xFF00
	statusErrorCodeShift = 8
)

// Command code fields.
const (
	commandModuleMask = 0x0F00
	commandIDMask     = 0x00FC
	commandTypeMask   = 0x0003
)

// CommandType selects the operation a command performs.
type CommandType uint16

const (
	CommandGet CommandType = 0x0000
	CommandSet CommandType = 0x0001
	CommandRun CommandType = 0x0002
)

func (t CommandType) String() string {
	switch t {
	case CommandGet:
		return "GET"
	case CommandSet:
		return "SET"
	case CommandRun:
		return "RUN"
	default:
		return "INVALID"
	}
}

// CommandID is a module id combined with a command id, without the type bits.
type CommandID uint16

// AGC module.
const (
	AGCEnableState           CommandID = 0x0100
	AGCPolicy                CommandID = 0x0104
	AGCROI                   CommandID = 0x0108
	AGCStatistics            CommandID = 0x010C
	AGCHistogramClipPercent  CommandID = 0x0110
	AGCHistogramTailSize     CommandID = 0x0114
	AGCLinearMaxGain         CommandID = 0x0118
	AGCLinearMidpoint        CommandID = 0x011C
	AGCLinearDampeningFactor CommandID = 0x0120
	AGCHEQDampeningFactor    CommandID = 0x0124
	AGCHEQMaxGain            CommandID = 0x0128
	AGCHEQClipLimitHigh      CommandID = 0x012C
	AGCHEQClipLimitLow       CommandID = 0x0130
	AGCHEQBinExtension       CommandID = 0x0134
	AGCHEQMidpoint           CommandID = 0x0138
	AGCHEQEmptyCounts        CommandID = 0x013C
	AGCHEQNormalization      CommandID = 0x0140
	AGCHEQScaleFactor        CommandID = 0x0144
	AGCCalcEnableState       CommandID = 0x0148
)

// SYS module.
const (
	SysPing                  CommandID = 0x0200
	SysCameraStatus          CommandID = 0x0204
	SysFlirSerialNumber      CommandID = 0x0208
	SysCameraUptime          CommandID = 0x020C
	SysAuxTemperatureKelvin  CommandID = 0x0210
	SysFPATemperatureKelvin  CommandID = 0x0214
	SysTelemetryEnableState  CommandID = 0x0218
	SysTelemetryLocation     CommandID = 0x021C
	SysExecuteFrameAverage   CommandID = 0x0220
	SysNumFramesToAverage    CommandID = 0x0224
	SysCustomerSerialNumber  CommandID = 0x0228
	SysSceneStatistics       CommandID = 0x022C
	SysSceneROI              CommandID = 0x0230
	SysThermalShutdownCount  CommandID = 0x0234
	SysShutterPosition       CommandID = 0x0238
	SysFFCShutterMode        CommandID = 0x023C
	SysRunFFC                CommandID = 0x0240
	SysFFCStatus             CommandID = 0x0244
)

// VID module.
const (
	VidPolaritySelect  CommandID = 0x0300
	VidLUTSelect       CommandID = 0x0304
	VidLUTTransfer     CommandID = 0x0308
	VidFocusCalcEnable CommandID = 0x030C
	VidFocusROI        CommandID = 0x0310
	VidFocusThreshold  CommandID = 0x0314
	VidFocusMetric     CommandID = 0x0318
	VidSBNUCEnable     CommandID = 0x031C
	VidGammaSelect     CommandID = 0x0320
	VidFreezeEnable    CommandID = 0x0324
)

// AGCScaleFactor is the HEQ output scale.
type AGCScaleFactor uint32

const (
	AGCScaleTo8Bits  AGCScaleFactor = 0
	AGCScaleTo14Bits AGCScaleFactor = 1
)

// AGCPolicyMode selects the AGC algorithm.
type AGCPolicyMode uint32

const (
	AGCLinear AGCPolicyMode = 0
	AGCHEQ    AGCPolicyMode = 1
)

// TelemetryLocation is where the telemetry rows are placed in a frame.
type TelemetryLocation uint32

const (
	TelemetryHeader TelemetryLocation = 0
	TelemetryFooter TelemetryLocation = 1
)

func (l TelemetryLocation) String() string {
	if l == TelemetryFooter {
		return "footer"
	}
	return "header"
}

// Polarity selects white-hot or black-hot video.
type Polarity uint32

const (
	PolarityWhiteHot Polarity = 0
	PolarityBlackHot Polarity = 1
)

// PseudoColorLUT selects the on-camera color palette.
type PseudoColorLUT uint32

const (
	LUTWheel6  PseudoColorLUT = 0
	LUTFusion  PseudoColorLUT = 1
	LUTRainbow PseudoColorLUT = 2
	LUTGlobow  PseudoColorLUT = 3
	LUTSepia   PseudoColorLUT = 4
	LUTColor   PseudoColorLUT = 5
	LUTIceFire PseudoColorLUT = 6
	LUTRain    PseudoColorLUT = 7
	LUTUser    PseudoColorLUT = 8
)

// FFCStatus is the state of the flat field correction.
type FFCStatus int32

const (
	FFCStatusWriteError FFCStatus = -2
	FFCStatusError      FFCStatus = -1
	FFCStatusReady      FFCStatus = 0
	FFCStatusBusy       FFCStatus = 1
	FFCStatusCollecting FFCStatus = 2
)
