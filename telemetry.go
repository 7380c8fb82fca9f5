package lepton

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// FFCState is the flat field correction state reported in telemetry.
type FFCState uint8

const (
	FFCNever FFCState = iota
	FFCImminent
	FFCInProgress
	FFCComplete
)

func (s FFCState) String() string {
	switch s {
	case FFCNever:
		return "never"
	case FFCImminent:
		return "imminent"
	case FFCInProgress:
		return "in progress"
	default:
		return "complete"
	}
}

// Region is a rectangle of sensor pixels, bounds inclusive.
type Region struct {
	StartRow uint16
	StartCol uint16
	EndRow   uint16
	EndCol   uint16
}

// Telemetry is the decoded telemetry row A of a frame.
type Telemetry struct {
	RevisionMajor uint8
	RevisionMinor uint8

	Uptime           time.Duration
	FFCDesired       bool
	FFCState         FFCState
	AGCEnabled       bool
	ShutdownImminent bool

	SerialNumber     string
	SoftwareRevision string

	FrameCounter uint32
	FrameMean    uint16

	// Unit is the unit of all float32 temperatures below.
	Unit TemperatureMode

	FPATemperature       float32
	HousingTemperature   float32
	FPATempAtLastFFC     float32
	HousingTempAtLastFFC float32
	LastFFCTime          time.Duration

	RawFPATemperature       Kelvin100
	RawHousingTemperature   Kelvin100
	RawFPATempAtLastFFC     Kelvin100
	RawHousingTempAtLastFFC Kelvin100

	AGCRegion     Region
	AGCClipHigh   uint16
	AGCClipLow    uint16
	Log2FFCFrames uint16
}

// telemetryRowA is the payload layout of the first telemetry packet. Field
// comments are word offsets from the start of the payload, not of the packet
// header, and 32 bit fields hold their least significant word first.
type telemetryRowA struct {
	Revision           uint16    // 0
	Uptime             uint32    // 1
	Status             uint32    // 3
	Serial             [8]uint16 // 5
	SoftwareRevision   [4]uint16 // 13
	_                  [3]uint16 // 17
	FrameCounter       uint32    // 20
	FrameMean          uint16    // 22
	FPATempCounts      uint16    // 23
	FPATemp            Kelvin100 // 24
	HousingTempCounts  uint16    // 25
	HousingTemp        Kelvin100 // 26
	_                  [2]uint16 // 27
	FPATempLastFFC     Kelvin100 // 29
	TimeLastFFC        uint32    // 30
	HousingTempLastFFC Kelvin100 // 32
	_                  uint16    // 33
	AGCROITop          uint16    // 34
	AGCROILeft         uint16    // 35
	AGCROIRight        uint16    // 36
	AGCROIBottom       uint16    // 37
	AGCClipHigh        uint16    // 38
	AGCClipLow         uint16    // 39
	_                  [34]uint16
	Log2FFCFrames      uint16 // 74
	_                  [5]uint16
}

// Status bits of telemetry row A.
const (
	telemetryFFCDesired       = 1 << 3
	telemetryFFCStateMask     = 3 << 4
	telemetryFFCStateShift    = 4
	telemetryAGCEnabled       = 1 << 12
	telemetryShutdownImminent = 1 << 20
)

// DecodeTelemetry decodes a raw telemetry buffer as returned by TelemetryData:
// the 4 byte packet header followed by the row A payload. Temperatures are
// converted to mode. It returns ErrTelemetryNotReady when the buffer has not
// been filled by a capture.
func DecodeTelemetry(raw []byte, mode TemperatureMode) (*Telemetry, error) {
	if len(raw) > 0 && raw[0] == telemetryNotReady {
		return nil, ErrTelemetryNotReady
	}
	if len(raw) < packetSize {
		return nil, fmt.Errorf("telemetry buffer of %d bytes, want %d", len(raw), packetSize)
	}

	var row telemetryRowA
	if err := binary.Read(bytes.NewReader(raw[packetHeaderSize:packetSize]), big16, &row); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry: %w", err)
	}

	t := &Telemetry{
		RevisionMajor:    uint8(row.Revision),
		RevisionMinor:    uint8(row.Revision >> 8),
		Uptime:           time.Duration(row.Uptime) * time.Millisecond,
		FFCDesired:       row.Status&telemetryFFCDesired != 0,
		AGCEnabled:       row.Status&telemetryAGCEnabled != 0,
		ShutdownImminent: row.Status&telemetryShutdownImminent != 0,
		SerialNumber:     hexWords(row.Serial[:]),
		SoftwareRevision: hexWords(row.SoftwareRevision[:]),
		FrameCounter:     row.FrameCounter,
		FrameMean:        row.FrameMean,
		Unit:             mode,
		LastFFCTime:      time.Duration(row.TimeLastFFC) * time.Millisecond,

		FPATemperature:       mode.Convert(row.FPATemp),
		HousingTemperature:   mode.Convert(row.HousingTemp),
		FPATempAtLastFFC:     mode.Convert(row.FPATempLastFFC),
		HousingTempAtLastFFC: mode.Convert(row.HousingTempLastFFC),

		RawFPATemperature:       row.FPATemp,
		RawHousingTemperature:   row.HousingTemp,
		RawFPATempAtLastFFC:     row.FPATempLastFFC,
		RawHousingTempAtLastFFC: row.HousingTempLastFFC,

		AGCRegion: Region{
			StartRow: row.AGCROITop,
			StartCol: row.AGCROILeft,
			EndRow:   row.AGCROIBottom,
			EndCol:   row.AGCROIRight,
		},
		AGCClipHigh:   row.AGCClipHigh,
		AGCClipLow:    row.AGCClipLow,
		Log2FFCFrames: row.Log2FFCFrames,
	}

	state := FFCState(row.Status & telemetryFFCStateMask >> telemetryFFCStateShift)
	// Revision 9 and later count the states from one.
	if t.RevisionMajor >= 9 && state >= 1 {
		state--
	}
	t.FFCState = state

	return t, nil
}

func hexWords(words []uint16) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = fmt.Sprintf("%04X", w)
	}
	return strings.Join(parts, ":")
}

// big16 reads 16 bit words big endian, with wider values stored least
// significant word first.
var big16 big16Order

type big16Order struct{}

func (big16Order) Uint16(b []byte) uint16 {
	_ = b[1]
	return uint16(b[1]) | uint16(b[0])<<8
}

func (big16Order) PutUint16(b []byte, v uint16) {
	_ = b[1]
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func (big16Order) Uint32(b []byte) uint32 {
	_ = b[3]
	return uint32(b[1]) | uint32(b[0])<<8 | uint32(b[3])<<16 | uint32(b[2])<<24
}

func (big16Order) PutUint32(b []byte, v uint32) {
	_ = b[3]
	b[1] = byte(v)
	b[0] = byte(v >> 8)
	b[3] = byte(v >> 16)
	b[2] = byte(v >> 24)
}

func (o big16Order) Uint64(b []byte) uint64 {
	_ = b[7]
	return uint64(o.Uint32(b[:4])) | uint64(o.Uint32(b[4:8]))<<32
}

func (o big16Order) PutUint64(b []byte, v uint64) {
	_ = b[7]
	o.PutUint32(b[:4], uint32(v))
	o.PutUint32(b[4:8], uint32(v>>32))
}

func (big16Order) String() string {
	return "big16"
}

var _ binary.ByteOrder = big16
