package lepton

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

const (
	// maxResyncTries is the number of headers examined in one resync episode.
	maxResyncTries = 120
	// maxFrameSkips is the number of frame restarts tolerated in one capture.
	maxFrameSkips = 5

	discardMask   = 0x0F
	packetIDMask  = 0x0FFF
	footerPackets = rawLines
)

// ChipSelect drives the VoSPI chip select line. gpio.PinOut satisfies it.
type ChipSelect interface {
	Out(l gpio.Level) error
}

// CaptureState is the position of the frame acquirer in a capture.
type CaptureState int

const (
	StateIdle CaptureState = iota
	StatePreflight
	StateSyncing
	StateStreaming
	StateResyncing
	StateDone
	StateAbortedNotBooted
	StateAbortedFrameSkipLimit
	StateAbortedResyncExhausted
	StateFailed
)

func (s CaptureState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreflight:
		return "preflight"
	case StateSyncing:
		return "syncing"
	case StateStreaming:
		return "streaming"
	case StateResyncing:
		return "resyncing"
	case StateDone:
		return "done"
	case StateAbortedNotBooted:
		return "aborted: not booted"
	case StateAbortedFrameSkipLimit:
		return "aborted: frame skip limit"
	case StateAbortedResyncExhausted:
		return "aborted: resync exhausted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("CaptureState(%d)", int(s))
	}
}

// Running reports whether a capture is in progress in state s.
func (s CaptureState) Running() bool {
	return s >= StatePreflight && s <= StateResyncing
}

func terminalState(err error) CaptureState {
	switch {
	case err == nil:
		return StateDone
	case errors.Is(err, ErrNotBooted):
		return StateAbortedNotBooted
	case errors.Is(err, ErrFrameSkipLimit):
		return StateAbortedFrameSkipLimit
	case errors.Is(err, ErrResyncExhausted):
		return StateAbortedResyncExhausted
	default:
		return StateFailed
	}
}

// State returns the current capture state, or the terminal state of the
// last capture.
func (l *Lepton) State() CaptureState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lepton) setState(s CaptureState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// ReadNextFrame captures one frame into the image buffer, and into the
// telemetry buffer if telemetry is enabled on the camera. On failure the
// previously captured frame stays available. A call made while another
// capture is running returns ErrCaptureInProgress.
func (l *Lepton) ReadNextFrame() error {
	l.mu.Lock()
	if l.state.Running() {
		l.mu.Unlock()
		return ErrCaptureInProgress
	}
	l.state = StatePreflight
	l.mu.Unlock()

	err := l.capture()

	l.mu.Lock()
	l.state = terminalState(err)
	if err == nil {
		l.frames++
	}
	l.mu.Unlock()

	if err != nil {
		l.log.Error("capture aborted", "state", terminalState(err), "error", err)
	}
	return err
}

type captureParams struct {
	agc8      bool
	telemetry bool
	location  TelemetryLocation
}

func (l *Lepton) preflight() (captureParams, error) {
	var p captureParams

	status, err := l.Status()
	if err != nil {
		return p, fmt.Errorf("failed to read camera status: %w", err)
	}
	if !status.Booted() {
		return p, ErrNotBooted
	}

	agc, err := l.ReceiveCommandU32(NewCommandCode(AGCEnableState, CommandGet))
	if err != nil {
		return p, fmt.Errorf("failed to read AGC state: %w", err)
	}
	if agc != 0 {
		scale, err := l.ReceiveCommandU32(NewCommandCode(AGCHEQScaleFactor, CommandGet))
		if err != nil {
			return p, fmt.Errorf("failed to read AGC scale factor: %w", err)
		}
		p.agc8 = AGCScaleFactor(scale) == AGCScaleTo8Bits
	}

	tele, err := l.ReceiveCommandU32(NewCommandCode(SysTelemetryEnableState, CommandGet))
	if err != nil {
		return p, fmt.Errorf("failed to read telemetry state: %w", err)
	}
	p.telemetry = tele != 0
	if p.telemetry {
		loc, err := l.ReceiveCommandU32(NewCommandCode(SysTelemetryLocation, CommandGet))
		if err != nil {
			return p, fmt.Errorf("failed to read telemetry location: %w", err)
		}
		p.location = TelemetryLocation(loc)
	}

	l.log.Debug("preflight", "agc", agc != 0, "agc8", p.agc8, "telemetry", p.telemetry, "location", p.location)
	return p, nil
}

func (l *Lepton) capture() error {
	p, err := l.preflight()
	if err != nil {
		return err
	}
	l.buf.setTelemetryEnabled(p.telemetry)

	l.setState(StateSyncing)
	tx, err := l.beginVoSPI()
	if err != nil {
		return err
	}
	defer tx.end()

	a := &acquisition{
		l:    l,
		tx:   tx,
		b:    l.buf,
		g:    l.buf.geometry,
		agc8: p.agc8,
	}
	if p.telemetry {
		a.teleRows = telemetryRows
		a.footer = p.location == TelemetryFooter
	}

	l.setState(StateStreaming)
	if err := a.run(); err != nil {
		return err
	}
	l.buf.swap()
	return nil
}

// vospiTx is an exclusive VoSPI transaction. It holds the stream for the
// whole capture.
type vospiTx struct {
	spi   conn.Conn
	cs    ChipSelect
	hdr   [packetHeaderSize]byte
	zeros [packetPayloadSize]byte
	l     *Lepton
}

// beginVoSPI takes the VoSPI port and holds chip select deasserted for the
// sync delay, which makes the camera restart its packet stream.
func (l *Lepton) beginVoSPI() (*vospiTx, error) {
	l.spiMu.Lock()
	tx := &l.vospi
	tx.spi, tx.cs, tx.l = l.spi, l.cs, l

	if err := tx.cs.Out(gpio.Low); err != nil {
		l.spiMu.Unlock()
		return nil, fmt.Errorf("failed to assert chip select: %w", err)
	}
	if err := tx.settle(l.cfg.SyncDelay); err != nil {
		l.spiMu.Unlock()
		return nil, err
	}
	return tx, nil
}

// settle holds chip select deasserted for d so the camera restarts its
// packet stream.
func (t *vospiTx) settle(d time.Duration) error {
	if err := t.cs.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to deassert chip select: %w", err)
	}
	time.Sleep(d)
	return nil
}

func (t *vospiTx) end() {
	_ = t.cs.Out(gpio.High)
	t.l.spiMu.Unlock()
}

// readHeader asserts chip select and clocks in the packet ID and CRC.
func (t *vospiTx) readHeader() error {
	if err := t.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to assert chip select: %w", err)
	}
	if err := t.spi.Tx(t.zeros[:packetHeaderSize], t.hdr[:]); err != nil {
		return fmt.Errorf("failed to read packet header: %w", err)
	}
	return nil
}

// readPayload clocks in the payload of the current packet and releases chip select.
func (t *vospiTx) readPayload(dst []byte) error {
	if err := t.spi.Tx(t.zeros[:len(dst)], dst); err != nil {
		return fmt.Errorf("failed to read packet payload: %w", err)
	}
	if err := t.cs.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to deassert chip select: %w", err)
	}
	return nil
}

func (t *vospiTx) discard() bool {
	return t.hdr[0]&discardMask == discardMask
}

func (t *vospiTx) number() int {
	return int(binary.BigEndian.Uint16(t.hdr[:]) & packetIDMask)
}

// acquisition tracks the position within one frame.
type acquisition struct {
	l    *Lepton
	tx   *vospiTx
	b    *frameBuffers
	g    Geometry
	agc8 bool

	teleRows int
	footer   bool

	seq      int // next expected packet number
	packets  int // packets accepted in this capture, across restarts
	imgLine  int // raw image lines received
	outRow   int
	bandLine int
	teleRow  int
	skipped  int
}

func (a *acquisition) reset() {
	a.seq, a.imgLine, a.outRow, a.bandLine, a.teleRow = 0, 0, 0, 0, 0
	a.b.beginFrame()
}

func (a *acquisition) run() error {
	a.reset()
	for a.imgLine < rawLines || a.teleRow < a.teleRows {
		if err := a.tx.readHeader(); err != nil {
			return err
		}
		if a.tx.discard() || a.tx.number() != a.seq {
			if err := a.resync(); err != nil {
				return err
			}
		}
		if err := a.accept(); err != nil {
			return err
		}
	}
	return nil
}

// resync examines headers until one matches the expected position or a new
// frame starts. The header that triggered it counts against the budget. It
// returns with a matching header pending.
func (a *acquisition) resync() error {
	a.l.setState(StateResyncing)
	a.l.log.Debug("lost sync", "expected", a.seq, "got", a.tx.number(), "discard", a.tx.discard())

	// A discard packet once the frame has started may mean the stream is
	// misaligned on the byte level, which only a chip select hold recovers.
	settle := a.tx.discard() && a.packets > 0

	for tries := maxResyncTries; ; {
		n, discard := a.tx.number(), a.tx.discard()
		if !discard && n == a.seq {
			break
		}
		if !discard && n == 0 {
			a.skipped++
			if a.skipped >= maxFrameSkips {
				_ = a.tx.readPayload(a.b.drop[:])
				return ErrFrameSkipLimit
			}
			a.l.log.Debug("frame skipped", "skipped", a.skipped)
			a.reset()
			break
		}

		if err := a.tx.readPayload(a.b.drop[:]); err != nil {
			return err
		}
		if settle {
			a.l.log.Debug("settling VoSPI", "delay", a.l.cfg.SyncDelay)
			if err := a.tx.settle(a.l.cfg.SyncDelay); err != nil {
				return err
			}
			settle = false
		}
		tries--
		if tries == 0 {
			return ErrResyncExhausted
		}
		if err := a.tx.readHeader(); err != nil {
			return err
		}
	}

	a.l.setState(StateStreaming)
	return nil
}

func (a *acquisition) isTelemetry() bool {
	if a.teleRows == 0 {
		return false
	}
	if a.footer {
		return a.seq >= footerPackets
	}
	return a.seq < telemetryRows
}

// accept reads the payload of a packet whose number matches the expected one.
func (a *acquisition) accept() error {
	if a.isTelemetry() {
		dst := a.b.drop[:]
		if a.teleRow == 0 {
			copy(a.b.telemetryBack[:packetHeaderSize], a.tx.hdr[:])
			dst = a.b.telemetryBack[packetHeaderSize:]
		}
		if err := a.tx.readPayload(dst); err != nil {
			return err
		}
		a.packets++
		a.seq++
		a.teleRow++
		a.b.telemetryOK = a.teleRow == a.teleRows
		return nil
	}

	direct := a.g.LinesPerBand == 1 && a.g.BytesPerPixel == 2
	var dst []byte
	if direct {
		dst = a.b.backRow(a.imgLine)
	} else {
		dst = a.b.scratchLine(a.bandLine)
	}
	if err := a.tx.readPayload(dst); err != nil {
		return err
	}
	a.packets++
	a.seq++
	a.imgLine++
	a.bandLine++

	if a.bandLine == a.g.LinesPerBand {
		if !direct {
			writeBand(a.b.backRow(a.outRow), a.b.scratch[:], a.g.LinesPerBand, a.g.Width, a.g.BytesPerPixel, a.agc8)
		}
		a.outRow++
		a.bandLine = 0
	}
	return nil
}

// writeBand averages band x band blocks of the raw lines held in scratch
// into one output row. Samples in scratch and dst are big-endian.
func writeBand(dst, scratch []byte, band, width, bpp int, agc8 bool) {
	div := uint32(band * band)
	limit := uint32(0x3FFF)
	if bpp == 1 {
		limit = 0xFF
		if !agc8 {
			div *= 64
		}
	}

	for c := 0; c < width; c++ {
		var sum uint32
		for j := 0; j < band; j++ {
			line := scratch[j*packetStride+packetHeaderSize:]
			for k := 0; k < band; k++ {
				sum += uint32(binary.BigEndian.Uint16(line[2*(c*band+k):]))
			}
		}
		v := min(sum/div, limit)
		if bpp == 2 {
			binary.BigEndian.PutUint16(dst[2*c:], uint16(v))
		} else {
			dst[c] = byte(v)
		}
	}
}
