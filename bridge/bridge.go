// Package bridge talks to a USB-CDC bridge that performs I²C, SPI and GPIO
// transactions on behalf of the host. It lets the camera run from machines
// without native buses.
//
// Requests and responses share one framing: "   #", the length of the rest of
// the packet as 4 hex digits, a 4 letter packet type and hex encoded
// arguments. Responses end with a CRC-16/CCITT-FALSE of type and data, again
// as 4 hex digits.
package bridge

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// USB ids of the bridge firmware (RP2040 based).
const VendorID = "2E8A"

var ProductIDs = []string{"000A", "0009"}

var (
	ErrNotFound        = errors.New("no bridge found")
	ErrCRC             = errors.New("CRC mismatch")
	ErrInvalidResponse = errors.New("invalid response")
)

const (
	packetPrefix = "   #"
	typeError    = "ERRR"
	typeI2C      = "I2CT"
	typeSPI      = "SPIT"
	typePin      = "PINW"
)

// Bridge is an open connection to a bridge device.
type Bridge struct {
	port io.ReadWriteCloser
	mu   sync.Mutex
}

// New wraps an already opened port.
func New(port io.ReadWriteCloser) *Bridge {
	return &Bridge{port: port}
}

// Open opens the bridge on the given serial port, or on the first port with
// a matching USB id when none is given.
func Open(serialPort ...string) (*Bridge, error) {
	portName := ""
	var err error

	if len(serialPort) == 0 {
		portName, err = getSerialPort()
		if err != nil {
			return nil, fmt.Errorf("failed to open bridge: %w", err)
		}
	} else {
		portName = serialPort[0]
	}

	p, err := serial.Open(portName, &serial.Mode{}) // USB-CDC ignores the line settings
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge: %w", err)
	}
	return New(p), nil
}

func (b *Bridge) Close() error {
	return b.port.Close()
}

// I2C returns the device at the 7-bit address addr on the bridge's I²C bus.
func (b *Bridge) I2C(addr uint16) *I2CDev {
	return &I2CDev{b: b, addr: addr}
}

// SPI returns the bridge's SPI port.
func (b *Bridge) SPI() *SPIConn {
	return &SPIConn{b: b}
}

// Pin returns GPIO n of the bridge as an output.
func (b *Bridge) Pin(n uint8) *Pin {
	return &Pin{b: b, n: n}
}

// I2CDev is a device on the bridge's I²C bus.
type I2CDev struct {
	b    *Bridge
	addr uint16
}

func (d *I2CDev) String() string {
	return fmt.Sprintf("bridge-i2c(0x%02X)", d.addr)
}

// Tx writes w and then reads len(r) bytes with a repeated start.
func (d *I2CDev) Tx(w, r []byte) error {
	cmd := fmt.Sprintf("%s%02X%04X%04X%s", typeI2C, d.addr, len(w), len(r), hex.EncodeToString(w))
	return d.b.transact(cmd, r)
}

func (d *I2CDev) Duplex() conn.Duplex {
	return conn.Half
}

// SPIConn is the bridge's SPI port. Chip select is left to the caller.
type SPIConn struct {
	b *Bridge
}

func (s *SPIConn) String() string {
	return "bridge-spi"
}

// Tx clocks out w while clocking in r. A nil w sends zeros.
func (s *SPIConn) Tx(w, r []byte) error {
	if w != nil && r != nil && len(w) != len(r) {
		return fmt.Errorf("SPI transfer of %d bytes out and %d bytes in", len(w), len(r))
	}
	if w == nil {
		w = make([]byte, len(r))
	}
	cmd := fmt.Sprintf("%s%04X%s", typeSPI, len(w), hex.EncodeToString(w))
	return s.b.transact(cmd, r)
}

func (s *SPIConn) Duplex() conn.Duplex {
	return conn.Full
}

// Pin is a GPIO output of the bridge.
type Pin struct {
	b *Bridge
	n uint8
}

func (p *Pin) String() string {
	return fmt.Sprintf("bridge-gpio%d", p.n)
}

func (p *Pin) Out(l gpio.Level) error {
	v := 0
	if l == gpio.High {
		v = 1
	}
	return p.b.transact(fmt.Sprintf("%s%02X%02X", typePin, p.n, v), nil)
}

// transact sends cmd and decodes the hex data of its response into r.
func (b *Bridge) transact(cmd string, r []byte) error {
	data, err := b.sendCommand(cmd)
	if err != nil {
		return err
	}
	if len(data) != 2*len(r) {
		return fmt.Errorf("%s: %w: %d bytes of data, want %d", cmd[:4], ErrInvalidResponse, len(data)/2, len(r))
	}
	if _, err := hex.Decode(r, data); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", cmd[:4], err)
	}
	return nil
}

func (b *Bridge) sendCommand(cmd string) ([]byte, error) {
	cmdType := cmd[0:4]

	// Reformat cmd, include length
	cmd = fmt.Sprintf("%s%04X%s", packetPrefix, len(cmd), cmd)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.port.Write([]byte(cmd)); err != nil {
		return nil, fmt.Errorf("failed to write to serial port: %w", err)
	}

	for {
		packetType, data, err := b.readPacket()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		switch packetType {
		case cmdType:
			return data, nil
		case typeError:
			return nil, fmt.Errorf("bridge rejected %s: %s", cmdType, strings.TrimSpace(string(data)))
		}
	}
}

func (b *Bridge) readPacket() (packetType string, data []byte, err error) {
	// Resynchronize on the prefix one byte at a time.
	window := make([]byte, len(packetPrefix))
	one := make([]byte, 1)
	for string(window) != packetPrefix {
		if _, err = io.ReadFull(b.port, one); err != nil {
			return "", nil, fmt.Errorf("failed to read header from serial port: %w", err)
		}
		copy(window, window[1:])
		window[len(window)-1] = one[0]
	}

	header := make([]byte, 8)
	if _, err = io.ReadFull(b.port, header); err != nil {
		return "", nil, fmt.Errorf("failed to read header from serial port: %w", err)
	}
	packetType = string(header[4:])

	length, err := hex.DecodeString(string(header[:4]))
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode packet length: %w", err)
	}
	n := binary.BigEndian.Uint16(length)
	if n < 8 {
		return "", nil, fmt.Errorf("%w: packet length %d", ErrInvalidResponse, n)
	}

	data = make([]byte, n-8)
	if _, err = io.ReadFull(b.port, data); err != nil {
		return "", nil, fmt.Errorf("failed to read data from serial port: %w", err)
	}

	crc := make([]byte, 4)
	if _, err = io.ReadFull(b.port, crc); err != nil {
		return "", nil, fmt.Errorf("failed to read CRC from serial port: %w", err)
	}

	want := fmt.Sprintf("%04X", CRC16(append([]byte(packetType), data...)))
	if !strings.EqualFold(string(crc), want) {
		return "", nil, fmt.Errorf("%s packet: %w: got %s, want %s", packetType, ErrCRC, crc, want)
	}
	return packetType, data, nil
}

func getSerialPort() (string, error) {
	portDetails, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("failed to autodetect bridge serial port: %w", err)
	}

	for _, port := range portDetails {
		if port.IsUSB && strings.EqualFold(port.VID, VendorID) && slices.ContainsFunc(ProductIDs, func(pid string) bool {
			return strings.EqualFold(pid, port.PID)
		}) {
			return port.Name, nil
		}
	}

	return "", ErrNotFound
}
