package lepton

import (
	"encoding/binary"
	"fmt"
	"time"
)

// CommandCode is the value written to the command register: module id,
// command id and command type packed into 16 bits.
type CommandCode uint16

// NewCommandCode combines a command id and a command type into a command code.
func NewCommandCode(id CommandID, t CommandType) CommandCode {
	return CommandCode(uint16(id)&(commandModuleMask|commandIDMask) | uint16(t)&commandTypeMask)
}

func (c CommandCode) Module() uint16 {
	return uint16(c) & commandModuleMask >> 8
}

func (c CommandCode) ID() CommandID {
	return CommandID(uint16(c) & (commandModuleMask | commandIDMask))
}

func (c CommandCode) Type() CommandType {
	return CommandType(uint16(c) & commandTypeMask)
}

func (c CommandCode) String() string {
	return fmt.Sprintf("0x%04X/%s", uint16(c), c.Type())
}

// Status is the value of the CCI status register.
type Status uint16

func (s Status) Busy() bool {
	return s&statusBusyMask != 0
}

func (s Status) BootMode() bool {
	return s&statusBootModeMask != 0
}

func (s Status) BootStatus() bool {
	return s&statusBootStatusMask != 0
}

// Booted reports whether the camera has finished booting into its main firmware.
func (s Status) Booted() bool {
	return s.BootMode() && s.BootStatus()
}

// ErrorCode is the result of the last completed command.
func (s Status) ErrorCode() Result {
	return Result(int8(uint16(s) & statusErrorCodeMask >> statusErrorCodeShift))
}

func (l *Lepton) writeRegister(reg register, words ...uint16) error {
	if reg.ReadOnly {
		return fmt.Errorf("register 0x%04X is read-only", reg.Address)
	}
	if len(words) > reg.Words {
		return fmt.Errorf("write of %d words to register 0x%04X: %w", len(words), reg.Address, ErrPayloadTooLarge)
	}

	w := l.cciBuf[:2+2*len(words)]
	binary.BigEndian.PutUint16(w, reg.Address)
	for i, v := range words {
		binary.BigEndian.PutUint16(w[2+2*i:], v)
	}

	if err := l.cci.Tx(w, nil); err != nil {
		l.lastTransportErr = &TransportError{Op: "write", Register: reg.Address, Err: err}
		return l.lastTransportErr
	}
	return nil
}

func (l *Lepton) readRegister(reg register, words []uint16) error {
	if len(words) > reg.Words {
		return fmt.Errorf("read of %d words from register 0x%04X: %w", len(words), reg.Address, ErrResponseLength)
	}

	addr := l.cciBuf[:2]
	binary.BigEndian.PutUint16(addr, reg.Address)
	r := l.cciBuf[2 : 2+2*len(words)]

	if err := l.cci.Tx(addr, r); err != nil {
		l.lastTransportErr = &TransportError{Op: "read", Register: reg.Address, Err: err}
		return l.lastTransportErr
	}

	for i := range words {
		words[i] = binary.BigEndian.Uint16(r[2*i:])
	}
	return nil
}

func (l *Lepton) readStatus() (Status, error) {
	var v [1]uint16
	if err := l.readRegister(regStatus, v[:]); err != nil {
		return 0, err
	}
	return Status(v[0]), nil
}

// waitBusyClear polls the status register until the busy bit clears or the
// timeout elapses. A timeout of zero or less checks once. With latch set the
// error code of the idle status becomes the last result.
func (l *Lepton) waitBusyClear(timeout time.Duration, latch bool) (Status, error) {
	deadline := time.Now().Add(timeout)
	for {
		s, err := l.readStatus()
		if err != nil {
			return s, err
		}
		if !s.Busy() {
			if latch {
				l.lastResult = s.ErrorCode()
			}
			return s, nil
		}
		if timeout <= 0 || !time.Now().Before(deadline) {
			l.lastResult = ResultTimeout
			return s, fmt.Errorf("busy after %s (status 0x%04X): %w", timeout, uint16(s), ErrTimeout)
		}
		time.Sleep(l.cfg.PollInterval)
	}
}

// Status reads the CCI status register.
func (l *Lepton) Status() (Status, error) {
	l.cciMu.Lock()
	defer l.cciMu.Unlock()

	l.lastTransportErr = nil
	return l.readStatus()
}

// LastTransportError returns the bus failure of the most recent command, or nil.
func (l *Lepton) LastTransportError() error {
	l.cciMu.Lock()
	defer l.cciMu.Unlock()
	return l.lastTransportErr
}

// LastResult returns the result code of the most recent command. It is
// ResultTimeout when the command timed out waiting for the camera.
func (l *Lepton) LastResult() Result {
	l.cciMu.Lock()
	defer l.cciMu.Unlock()
	return l.lastResult
}

// SendCommand runs a command without payload.
func (l *Lepton) SendCommand(code CommandCode) error {
	return l.SendCommandWords(code, nil)
}

func (l *Lepton) SendCommandU16(code CommandCode, value uint16) error {
	return l.SendCommandWords(code, []uint16{value})
}

// SendCommandU32 sends a 32-bit value, least significant word first.
func (l *Lepton) SendCommandU32(code CommandCode, value uint32) error {
	return l.SendCommandWords(code, []uint16{uint16(value), uint16(value >> 16)})
}

// SendCommandWords sends a command with a payload. Payloads of up to 16 words
// are written to the data registers, longer ones are staged in the data buffer.
func (l *Lepton) SendCommandWords(code CommandCode, data []uint16) error {
	l.cciMu.Lock()
	defer l.cciMu.Unlock()

	l.beginCommand()
	if len(data) >= dataBufferWords {
		return fmt.Errorf("%d words: %w", len(data), ErrPayloadTooLarge)
	}
	if _, err := l.waitBusyClear(l.cfg.CommandTimeout, false); err != nil {
		return err
	}
	if err := l.stage(data); err != nil {
		return err
	}
	return l.execute(code)
}

func (l *Lepton) ReceiveCommandU16(code CommandCode) (uint16, error) {
	var v [1]uint16
	if _, err := l.ReceiveCommandWords(code, v[:]); err != nil {
		return 0, err
	}
	return v[0], nil
}

// ReceiveCommandU32 reads a 32-bit value sent least significant word first.
func (l *Lepton) ReceiveCommandU32(code CommandCode) (uint32, error) {
	var v [2]uint16
	if _, err := l.ReceiveCommandWords(code, v[:]); err != nil {
		return 0, err
	}
	return uint32(v[0]) | uint32(v[1])<<16, nil
}

// ReceiveCommandWords runs a command and reads its response into buf. The
// whole response is always read from the camera, but only len(buf) words are
// copied. It returns the response length reported by the camera in words.
func (l *Lepton) ReceiveCommandWords(code CommandCode, buf []uint16) (int, error) {
	l.cciMu.Lock()
	defer l.cciMu.Unlock()

	l.beginCommand()
	if _, err := l.waitBusyClear(l.cfg.CommandTimeout, false); err != nil {
		return 0, err
	}
	if len(buf) > 0 {
		if err := l.writeRegister(regDataLength, uint16(min(len(buf), dataBufferWords-1))); err != nil {
			return 0, err
		}
	}
	if err := l.execute(code); err != nil {
		return 0, err
	}
	return l.collect(buf)
}

// SendReceiveCommand sends data with a command and reads the response into buf.
func (l *Lepton) SendReceiveCommand(code CommandCode, data []uint16, buf []uint16) (int, error) {
	l.cciMu.Lock()
	defer l.cciMu.Unlock()

	l.beginCommand()
	if len(data) >= dataBufferWords {
		return 0, fmt.Errorf("%d words: %w", len(data), ErrPayloadTooLarge)
	}
	if _, err := l.waitBusyClear(l.cfg.CommandTimeout, false); err != nil {
		return 0, err
	}
	if err := l.stage(data); err != nil {
		return 0, err
	}
	if err := l.execute(code); err != nil {
		return 0, err
	}
	return l.collect(buf)
}

func (l *Lepton) beginCommand() {
	l.lastTransportErr = nil
	l.lastResult = ResultOK
}

// stage writes a payload followed by its length in words.
func (l *Lepton) stage(data []uint16) error {
	if len(data) == 0 {
		return nil
	}
	reg := regData0
	if len(data) > inlineWords {
		reg = regDataBuffer
	}
	if err := l.writeRegister(reg, data...); err != nil {
		return err
	}
	return l.writeRegister(regDataLength, uint16(len(data)))
}

// execute writes the command register and waits for the camera to finish.
func (l *Lepton) execute(code CommandCode) error {
	if err := l.writeRegister(regCommand, uint16(code)); err != nil {
		return err
	}
	if _, err := l.waitBusyClear(l.cfg.CommandTimeout, true); err != nil {
		return err
	}
	if l.lastResult != ResultOK {
		return &DeviceError{Command: code, Result: l.lastResult}
	}
	return nil
}

// collect reads the response length and then the response itself.
func (l *Lepton) collect(buf []uint16) (int, error) {
	var length [1]uint16
	if err := l.readRegister(regDataLength, length[:]); err != nil {
		return 0, err
	}
	n := int(length[0])
	if n == 0 || n >= dataBufferWords {
		return 0, fmt.Errorf("%d words: %w", n, ErrResponseLength)
	}

	reg := regData0
	if n > inlineWords {
		reg = regDataBuffer
	}
	words := l.cciWords[:n]
	if err := l.readRegister(reg, words); err != nil {
		return 0, err
	}
	copy(buf, words)
	return n, nil
}
