package lepton

import (
	"encoding/binary"
	"io"
	"testing"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

const (
	statusBooted = statusBootModeMask | statusBootStatusMask

	addrDataLength = 0x0006
	addrCommand    = 0x0004
	addrData0      = 0x0008
	addrBuffer     = 0xF800
)

// fakeCCI simulates the camera's register file. SET commands store their
// payload per command id, GET commands answer with it.
type fakeCCI struct {
	status    uint16
	busyPolls int  // status reads reporting busy before the next idle
	stuckBusy bool // never leave busy
	txErr     error

	regs    map[uint16]uint16
	values  map[CommandID][]uint16
	results map[CommandCode]Result
	result  Result

	commands []CommandCode
	writes   []uint16 // register address of every write
	reads    []uint16 // register address of every non-status read
}

func newFakeCCI() *fakeCCI {
	return &fakeCCI{
		status:  statusBooted,
		regs:    map[uint16]uint16{},
		values:  map[CommandID][]uint16{},
		results: map[CommandCode]Result{},
	}
}

func (f *fakeCCI) String() string      { return "fake-cci" }
func (f *fakeCCI) Duplex() conn.Duplex { return conn.Half }

func (f *fakeCCI) Tx(w, r []byte) error {
	if f.txErr != nil {
		return f.txErr
	}
	addr := binary.BigEndian.Uint16(w)

	if len(w) > 2 {
		f.writes = append(f.writes, addr)
		for i := 2; i+1 < len(w); i += 2 {
			f.regs[addr+uint16(i-2)] = binary.BigEndian.Uint16(w[i:])
		}
		if addr == addrCommand {
			f.execute(CommandCode(f.regs[addrCommand]))
		}
	}

	if len(r) == 0 {
		return nil
	}
	if addr == regStatus.Address {
		s := f.status | uint16(uint8(int8(f.result)))<<statusErrorCodeShift
		if f.stuckBusy || f.busyPolls > 0 {
			if f.busyPolls > 0 {
				f.busyPolls--
			}
			s |= statusBusyMask
		}
		binary.BigEndian.PutUint16(r, s)
		return nil
	}
	f.reads = append(f.reads, addr)
	for i := 0; i+1 < len(r); i += 2 {
		binary.BigEndian.PutUint16(r[i:], f.regs[addr+uint16(i)])
	}
	return nil
}

func (f *fakeCCI) payload() []uint16 {
	n := int(f.regs[addrDataLength])
	base := uint16(addrData0)
	if n > inlineWords {
		base = addrBuffer
	}
	p := make([]uint16, n)
	for i := range p {
		p[i] = f.regs[base+uint16(2*i)]
	}
	return p
}

func (f *fakeCCI) respond(words []uint16) {
	base := uint16(addrData0)
	if len(words) > inlineWords {
		base = addrBuffer
	}
	for i, v := range words {
		f.regs[base+uint16(2*i)] = v
	}
	f.regs[addrDataLength] = uint16(len(words))
}

func (f *fakeCCI) execute(code CommandCode) {
	f.commands = append(f.commands, code)
	f.result = f.results[code]
	if f.result != ResultOK {
		return
	}

	switch code.Type() {
	case CommandSet:
		f.values[code.ID()] = f.payload()
	case CommandGet:
		v, ok := f.values[code.ID()]
		if !ok {
			v = []uint16{0, 0}
		}
		f.respond(v)
	}
}

func (f *fakeCCI) setU32(id CommandID, v uint32) {
	f.values[id] = []uint16{uint16(v), uint16(v >> 16)}
}

// fakeVoSPI plays back a byte stream of VoSPI packets. Reads are only
// allowed while chip select is asserted.
type fakeVoSPI struct {
	stream []byte
	cs     *fakeCS
	reads  int
	t      *testing.T
}

func (f *fakeVoSPI) String() string      { return "fake-vospi" }
func (f *fakeVoSPI) Duplex() conn.Duplex { return conn.Full }

func (f *fakeVoSPI) Tx(w, r []byte) error {
	if f.cs.level != gpio.Low {
		f.t.Errorf("VoSPI read of %d bytes with chip select deasserted", len(r))
	}
	if len(w) != len(r) {
		f.t.Errorf("VoSPI transfer of %d bytes out and %d bytes in", len(w), len(r))
	}
	if len(f.stream) < len(r) {
		return io.EOF
	}
	f.reads++
	copy(r, f.stream)
	f.stream = f.stream[len(r):]
	return nil
}

func (f *fakeVoSPI) push(packets ...[]byte) {
	for _, p := range packets {
		f.stream = append(f.stream, p...)
	}
}

type fakeCS struct {
	level  gpio.Level
	toggle int
}

func (c *fakeCS) Out(l gpio.Level) error {
	c.level = l
	c.toggle++
	return nil
}

func newTestLepton(t *testing.T, opts ...Option) (*Lepton, *fakeCCI, *fakeVoSPI) {
	t.Helper()

	cci := newFakeCCI()
	cs := &fakeCS{level: gpio.High}
	spi := &fakeVoSPI{cs: cs, t: t}

	opts = append([]Option{WithSyncDelay(0), WithPollInterval(0), WithCommandTimeout(50 * time.Millisecond)}, opts...)
	l, err := New(cci, spi, cs, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, cci, spi
}

// packet builds a VoSPI packet with the given number and payload words.
func packet(number uint16, words func(i int) uint16) []byte {
	p := make([]byte, packetSize)
	binary.BigEndian.PutUint16(p, number&packetIDMask)
	for i := 0; i < rawWidth; i++ {
		binary.BigEndian.PutUint16(p[packetHeaderSize+2*i:], words(i))
	}
	return p
}

func discardPacket() []byte {
	p := make([]byte, packetSize)
	p[0] = 0x0F
	p[1] = 0xFF
	return p
}

// sample is the raw value streamed for line y, column x.
func sample(y, x int) uint16 {
	return uint16(y*80+x) & 0x3FFF
}

// imagePackets returns packets first..last of a frame whose image line L is
// sent as packet L+offset.
func imagePackets(first, last, offset int, value func(y, x int) uint16) [][]byte {
	var ps [][]byte
	for y := first; y <= last; y++ {
		y := y
		ps = append(ps, packet(uint16(y+offset), func(x int) uint16 { return value(y, x) }))
	}
	return ps
}

func framePackets(value func(y, x int) uint16) [][]byte {
	return imagePackets(0, rawLines-1, 0, value)
}

func constant(v uint16) func(y, x int) uint16 {
	return func(int, int) uint16 { return v }
}
