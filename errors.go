package lepton

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout           = errors.New("timeout waiting for camera")
	ErrPayloadTooLarge   = errors.New("payload exceeds data buffer capacity")
	ErrResponseLength    = errors.New("invalid response length")
	ErrNotBooted         = errors.New("camera has not booted")
	ErrFrameSkipLimit    = errors.New("maximum frame skip reached")
	ErrResyncExhausted   = errors.New("maximum resync retries reached")
	ErrCaptureInProgress = errors.New("capture already in progress")
	ErrUnavailable       = errors.New("frame data unavailable while capturing")
	ErrTelemetryNotReady = errors.New("telemetry not ready")
)

// IsSyncLoss reports whether err ended a capture without a complete frame
// because the camera could not be synchronized.
func IsSyncLoss(err error) bool {
	return errors.Is(err, ErrNotBooted) ||
		errors.Is(err, ErrFrameSkipLimit) ||
		errors.Is(err, ErrResyncExhausted)
}

// TransportError is a failed bus transaction on the command interface.
type TransportError struct {
	Op       string
	Register uint16
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s register 0x%04X: %v", e.Op, e.Register, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeviceError is a non-zero result code reported by the camera on command completion.
type DeviceError struct {
	Command CommandCode
	Result  Result
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("command %s failed: %s (%d)", e.Command, e.Result, int8(e.Result))
}

// Result is the camera's signed result code.
type Result int8

const (
	ResultOK                   Result = 0
	ResultError                Result = -1
	ResultNotReady             Result = -2
	ResultRangeError           Result = -3
	ResultChecksumError        Result = -4
	ResultBadArgPointer        Result = -5
	ResultDataSizeError        Result = -6
	ResultUndefinedFunction    Result = -7
	ResultFunctionNotSupported Result = -8
	ResultDataOutOfRange       Result = -9
	ResultCommandNotAllowed    Result = -11
	ResultOTPWriteError        Result = -15
	ResultOTPReadError         Result = -16
	ResultOTPNotProgrammed     Result = -18
	ResultI2CBusNotReady       Result = -20
	ResultI2CBufferOverflow    Result = -22
	ResultI2CArbitrationLost   Result = -23
	ResultI2CBusError          Result = -24
	ResultI2CNackReceived      Result = -25
	ResultI2CFail              Result = -26
	ResultDivZero              Result = -80
	ResultTimeout              Result = -109
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultError:
		return "error"
	case ResultNotReady:
		return "not ready"
	case ResultRangeError:
		return "range error"
	case ResultChecksumError:
		return "checksum error"
	case ResultBadArgPointer:
		return "bad argument pointer"
	case ResultDataSizeError:
		return "data size error"
	case ResultUndefinedFunction:
		return "undefined function"
	case ResultFunctionNotSupported:
		return "function not supported"
	case ResultDataOutOfRange:
		return "data out of range"
	case ResultCommandNotAllowed:
		return "command not allowed"
	case ResultOTPWriteError:
		return "OTP write error"
	case ResultOTPReadError:
		return "OTP read error"
	case ResultOTPNotProgrammed:
		return "OTP not programmed"
	case ResultI2CBusNotReady:
		return "I2C bus not ready"
	case ResultI2CBufferOverflow:
		return "I2C buffer overflow"
	case ResultI2CArbitrationLost:
		return "I2C arbitration lost"
	case ResultI2CBusError:
		return "I2C bus error"
	case ResultI2CNackReceived:
		return "I2C NACK received"
	case ResultI2CFail:
		return "I2C failure"
	case ResultDivZero:
		return "division by zero"
	case ResultTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown result %d", int8(r))
	}
}
