package lepton

import (
	"fmt"
	"time"
)

// CameraState is the system state reported by SysCameraStatus.
type CameraState uint32

const (
	CameraReady CameraState = iota
	CameraInitializing
	CameraLowPowerMode
	CameraGoingIntoStandby
	CameraFlatFieldInProcess
)

func (s CameraState) String() string {
	switch s {
	case CameraReady:
		return "ready"
	case CameraInitializing:
		return "initializing"
	case CameraLowPowerMode:
		return "low power"
	case CameraGoingIntoStandby:
		return "going into standby"
	case CameraFlatFieldInProcess:
		return "flat field in process"
	default:
		return fmt.Sprintf("CameraState(%d)", uint32(s))
	}
}

// CameraStatus is the response of SysCameraStatus.
type CameraStatus struct {
	State        CameraState
	CommandCount uint16
}

// HistogramStatistics is the response of AGCStatistics.
type HistogramStatistics struct {
	MinIntensity  uint16
	MaxIntensity  uint16
	MeanIntensity uint16
	NumPixels     uint16
}

// LUTEntry is one entry of a user pseudo color table.
type LUTEntry struct {
	R, G, B uint8
}

// UserLUTSize is the number of entries in a user pseudo color table.
const UserLUTSize = 256

func (l *Lepton) getU32(id CommandID) (uint32, error) {
	return l.ReceiveCommandU32(NewCommandCode(id, CommandGet))
}

func (l *Lepton) setU32(id CommandID, v uint32) error {
	return l.SendCommandU32(NewCommandCode(id, CommandSet), v)
}

func (l *Lepton) getBool(id CommandID) (bool, error) {
	v, err := l.getU32(id)
	return v != 0, err
}

func (l *Lepton) setBool(id CommandID, enabled bool) error {
	var v uint32
	if enabled {
		v = 1
	}
	return l.setU32(id, v)
}

func (l *Lepton) getRegion(id CommandID) (Region, error) {
	var w [4]uint16
	if _, err := l.ReceiveCommandWords(NewCommandCode(id, CommandGet), w[:]); err != nil {
		return Region{}, err
	}
	return Region{StartRow: w[0], StartCol: w[1], EndRow: w[2], EndCol: w[3]}, nil
}

func (l *Lepton) setRegion(id CommandID, r Region) error {
	return l.SendCommandWords(NewCommandCode(id, CommandSet), []uint16{r.StartRow, r.StartCol, r.EndRow, r.EndCol})
}

func (l *Lepton) SetAGCEnabled(enabled bool) error {
	if err := l.setBool(AGCEnableState, enabled); err != nil {
		return fmt.Errorf("failed to set AGC state: %w", err)
	}
	return nil
}

func (l *Lepton) AGCEnabled() (bool, error) {
	enabled, err := l.getBool(AGCEnableState)
	if err != nil {
		return false, fmt.Errorf("failed to get AGC state: %w", err)
	}
	return enabled, nil
}

func (l *Lepton) SetAGCPolicy(policy AGCPolicyMode) error {
	if err := l.setU32(AGCPolicy, uint32(policy)); err != nil {
		return fmt.Errorf("failed to set AGC policy: %w", err)
	}
	return nil
}

func (l *Lepton) AGCPolicy() (AGCPolicyMode, error) {
	v, err := l.getU32(AGCPolicy)
	if err != nil {
		return 0, fmt.Errorf("failed to get AGC policy: %w", err)
	}
	return AGCPolicyMode(v), nil
}

// SetAGCHEQScaleFactor selects whether AGC output is scaled to 8 or 14 bits.
// Captures check it to decide how 8 bit storage modes rescale samples.
func (l *Lepton) SetAGCHEQScaleFactor(factor AGCScaleFactor) error {
	if err := l.setU32(AGCHEQScaleFactor, uint32(factor)); err != nil {
		return fmt.Errorf("failed to set AGC scale factor: %w", err)
	}
	return nil
}

func (l *Lepton) AGCHEQScaleFactor() (AGCScaleFactor, error) {
	v, err := l.getU32(AGCHEQScaleFactor)
	if err != nil {
		return 0, fmt.Errorf("failed to get AGC scale factor: %w", err)
	}
	return AGCScaleFactor(v), nil
}

func (l *Lepton) SetAGCCalcEnabled(enabled bool) error {
	if err := l.setBool(AGCCalcEnableState, enabled); err != nil {
		return fmt.Errorf("failed to set AGC calculation state: %w", err)
	}
	return nil
}

func (l *Lepton) AGCCalcEnabled() (bool, error) {
	enabled, err := l.getBool(AGCCalcEnableState)
	if err != nil {
		return false, fmt.Errorf("failed to get AGC calculation state: %w", err)
	}
	return enabled, nil
}

// SetAGCHistogramRegion sets the region the AGC histogram is computed over.
func (l *Lepton) SetAGCHistogramRegion(r Region) error {
	if err := l.setRegion(AGCROI, r); err != nil {
		return fmt.Errorf("failed to set AGC region: %w", err)
	}
	return nil
}

func (l *Lepton) AGCHistogramRegion() (Region, error) {
	r, err := l.getRegion(AGCROI)
	if err != nil {
		return Region{}, fmt.Errorf("failed to get AGC region: %w", err)
	}
	return r, nil
}

func (l *Lepton) AGCHistogramStatistics() (HistogramStatistics, error) {
	var w [4]uint16
	if _, err := l.ReceiveCommandWords(NewCommandCode(AGCStatistics, CommandGet), w[:]); err != nil {
		return HistogramStatistics{}, fmt.Errorf("failed to get AGC statistics: %w", err)
	}
	return HistogramStatistics{MinIntensity: w[0], MaxIntensity: w[1], MeanIntensity: w[2], NumPixels: w[3]}, nil
}

// Ping checks that the camera responds to commands.
func (l *Lepton) Ping() error {
	if err := l.SendCommand(NewCommandCode(SysPing, CommandRun)); err != nil {
		return fmt.Errorf("failed to ping camera: %w", err)
	}
	return nil
}

func (l *Lepton) CameraStatus() (CameraStatus, error) {
	var w [4]uint16
	if _, err := l.ReceiveCommandWords(NewCommandCode(SysCameraStatus, CommandGet), w[:]); err != nil {
		return CameraStatus{}, fmt.Errorf("failed to get camera status: %w", err)
	}
	return CameraStatus{
		State:        CameraState(uint32(w[0]) | uint32(w[1])<<16),
		CommandCount: w[2],
	}, nil
}

// FlirSerialNumber returns the 64 bit serial number programmed by FLIR.
func (l *Lepton) FlirSerialNumber() (uint64, error) {
	var w [4]uint16
	if _, err := l.ReceiveCommandWords(NewCommandCode(SysFlirSerialNumber, CommandGet), w[:]); err != nil {
		return 0, fmt.Errorf("failed to get serial number: %w", err)
	}
	return uint64(w[0]) | uint64(w[1])<<16 | uint64(w[2])<<32 | uint64(w[3])<<48, nil
}

func (l *Lepton) CameraUptime() (time.Duration, error) {
	ms, err := l.getU32(SysCameraUptime)
	if err != nil {
		return 0, fmt.Errorf("failed to get camera uptime: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// AuxTemperature returns the camera's auxiliary temperature in the configured unit.
func (l *Lepton) AuxTemperature() (float32, error) {
	k, err := l.ReceiveCommandU16(NewCommandCode(SysAuxTemperatureKelvin, CommandGet))
	if err != nil {
		return 0, fmt.Errorf("failed to get aux temperature: %w", err)
	}
	return l.cfg.TemperatureMode.Convert(Kelvin100(k)), nil
}

// FPATemperature returns the sensor die temperature in the configured unit.
func (l *Lepton) FPATemperature() (float32, error) {
	k, err := l.ReceiveCommandU16(NewCommandCode(SysFPATemperatureKelvin, CommandGet))
	if err != nil {
		return 0, fmt.Errorf("failed to get FPA temperature: %w", err)
	}
	return l.cfg.TemperatureMode.Convert(Kelvin100(k)), nil
}

// SetTelemetryEnabled turns telemetry rows on or off. The telemetry buffer is
// allocated or released to match once the camera accepts the change.
func (l *Lepton) SetTelemetryEnabled(enabled bool) error {
	if err := l.setBool(SysTelemetryEnableState, enabled); err != nil {
		return fmt.Errorf("failed to set telemetry state: %w", err)
	}
	l.syncTelemetryBuffer(enabled)
	return nil
}

func (l *Lepton) TelemetryEnabled() (bool, error) {
	enabled, err := l.getBool(SysTelemetryEnableState)
	if err != nil {
		return false, fmt.Errorf("failed to get telemetry state: %w", err)
	}
	l.syncTelemetryBuffer(enabled)
	return enabled, nil
}

// syncTelemetryBuffer is skipped while a capture runs; the capture's own
// preflight brings the buffer in line.
func (l *Lepton) syncTelemetryBuffer(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.Running() {
		l.buf.setTelemetryEnabled(enabled)
	}
}

func (l *Lepton) SetTelemetryLocation(loc TelemetryLocation) error {
	if err := l.setU32(SysTelemetryLocation, uint32(loc)); err != nil {
		return fmt.Errorf("failed to set telemetry location: %w", err)
	}
	return nil
}

func (l *Lepton) TelemetryLocation() (TelemetryLocation, error) {
	v, err := l.getU32(SysTelemetryLocation)
	if err != nil {
		return 0, fmt.Errorf("failed to get telemetry location: %w", err)
	}
	return TelemetryLocation(v), nil
}

// RunFFC starts a flat field correction. Poll FFCStatus for completion.
func (l *Lepton) RunFFC() error {
	if err := l.SendCommand(NewCommandCode(SysRunFFC, CommandRun)); err != nil {
		return fmt.Errorf("failed to run FFC: %w", err)
	}
	return nil
}

func (l *Lepton) FFCStatus() (FFCStatus, error) {
	v, err := l.getU32(SysFFCStatus)
	if err != nil {
		return 0, fmt.Errorf("failed to get FFC status: %w", err)
	}
	return FFCStatus(int32(v)), nil
}

func (l *Lepton) SetPolarity(p Polarity) error {
	if err := l.setU32(VidPolaritySelect, uint32(p)); err != nil {
		return fmt.Errorf("failed to set polarity: %w", err)
	}
	return nil
}

func (l *Lepton) Polarity() (Polarity, error) {
	v, err := l.getU32(VidPolaritySelect)
	if err != nil {
		return 0, fmt.Errorf("failed to get polarity: %w", err)
	}
	return Polarity(v), nil
}

func (l *Lepton) SetPseudoColorLUT(lut PseudoColorLUT) error {
	if err := l.setU32(VidLUTSelect, uint32(lut)); err != nil {
		return fmt.Errorf("failed to set color table: %w", err)
	}
	return nil
}

func (l *Lepton) PseudoColorLUT() (PseudoColorLUT, error) {
	v, err := l.getU32(VidLUTSelect)
	if err != nil {
		return 0, fmt.Errorf("failed to get color table: %w", err)
	}
	return PseudoColorLUT(v), nil
}

// SetUserColorLUT uploads the table used when LUTUser is selected.
func (l *Lepton) SetUserColorLUT(lut *[UserLUTSize]LUTEntry) error {
	words := make([]uint16, 2*UserLUTSize)
	for i, e := range lut {
		words[2*i] = uint16(e.R)
		words[2*i+1] = uint16(e.G)<<8 | uint16(e.B)
	}
	if err := l.SendCommandWords(NewCommandCode(VidLUTTransfer, CommandSet), words); err != nil {
		return fmt.Errorf("failed to set user color table: %w", err)
	}
	return nil
}

func (l *Lepton) UserColorLUT() (*[UserLUTSize]LUTEntry, error) {
	words := make([]uint16, 2*UserLUTSize)
	if _, err := l.ReceiveCommandWords(NewCommandCode(VidLUTTransfer, CommandGet), words); err != nil {
		return nil, fmt.Errorf("failed to get user color table: %w", err)
	}
	lut := new([UserLUTSize]LUTEntry)
	for i := range lut {
		lut[i] = LUTEntry{R: uint8(words[2*i]), G: uint8(words[2*i+1] >> 8), B: uint8(words[2*i+1])}
	}
	return lut, nil
}

func (l *Lepton) SetFreezeEnabled(enabled bool) error {
	if err := l.setBool(VidFreezeEnable, enabled); err != nil {
		return fmt.Errorf("failed to set freeze state: %w", err)
	}
	return nil
}

func (l *Lepton) FreezeEnabled() (bool, error) {
	enabled, err := l.getBool(VidFreezeEnable)
	if err != nil {
		return false, fmt.Errorf("failed to get freeze state: %w", err)
	}
	return enabled, nil
}
