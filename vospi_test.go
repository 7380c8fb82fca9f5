package lepton

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

func TestReadNextFrameFullResolution(t *testing.T) {
	l, _, spi := newTestLepton(t)
	spi.push(framePackets(sample)...)

	if err := l.ReadNextFrame(); err != nil {
		t.Fatalf("ReadNextFrame() error = %v", err)
	}
	if got := l.State(); got != StateDone {
		t.Errorf("State() = %v, want %v", got, StateDone)
	}

	g := l.Geometry()
	for y := 0; y < g.Height; y++ {
		row, err := l.ImageRow(y)
		if err != nil {
			t.Fatalf("ImageRow(%d) error = %v", y, err)
		}
		for x := 0; x < g.Width; x++ {
			if got := binary.BigEndian.Uint16(row[2*x:]); got != sample(y, x) {
				t.Fatalf("pixel (%d,%d) = %d, want %d", x, y, got, sample(y, x))
			}
		}
	}
	if len(spi.stream) != 0 {
		t.Errorf("%d bytes left unread", len(spi.stream))
	}
}

func TestReadNextFrameNotBooted(t *testing.T) {
	l, cci, spi := newTestLepton(t)
	cci.status = 0
	spi.push(framePackets(sample)...)

	err := l.ReadNextFrame()
	if !errors.Is(err, ErrNotBooted) {
		t.Fatalf("ReadNextFrame() error = %v, want %v", err, ErrNotBooted)
	}
	if !IsSyncLoss(err) {
		t.Errorf("IsSyncLoss(%v) = false", err)
	}
	if got := l.State(); got != StateAbortedNotBooted {
		t.Errorf("State() = %v, want %v", got, StateAbortedNotBooted)
	}
	if spi.reads != 0 {
		t.Errorf("%d VoSPI reads, want none", spi.reads)
	}
	if _, err := l.ImageData(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ImageData() error = %v, want %v", err, ErrUnavailable)
	}
}

func TestReadNextFrameSkippedFrames(t *testing.T) {
	tests := []struct {
		name    string
		skips   int
		wantErr error
	}{
		{name: "four skips recover", skips: 4},
		{name: "five skips abort", skips: 5, wantErr: ErrFrameSkipLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, spi := newTestLepton(t)
			for i := 0; i < tt.skips; i++ {
				spi.push(imagePackets(0, 9, 0, constant(1))...)
			}
			spi.push(framePackets(sample)...)

			err := l.ReadNextFrame()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadNextFrame() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if got := l.State(); got != StateAbortedFrameSkipLimit {
					t.Errorf("State() = %v, want %v", got, StateAbortedFrameSkipLimit)
				}
				return
			}

			row, _ := l.ImageRow(5)
			if got := binary.BigEndian.Uint16(row[2*7:]); got != sample(5, 7) {
				t.Errorf("pixel (7,5) = %d, want %d", got, sample(5, 7))
			}
		})
	}
}

func TestReadNextFrameResyncBudget(t *testing.T) {
	tests := []struct {
		name     string
		discards int
		wantErr  error
	}{
		{name: "119 discards then frame", discards: maxResyncTries - 1},
		{name: "120 discards", discards: maxResyncTries, wantErr: ErrResyncExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, spi := newTestLepton(t)
			for i := 0; i < tt.discards; i++ {
				spi.push(discardPacket())
			}
			spi.push(framePackets(sample)...)

			err := l.ReadNextFrame()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadNextFrame() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if got := l.State(); got != StateAbortedResyncExhausted {
					t.Errorf("State() = %v, want %v", got, StateAbortedResyncExhausted)
				}
				// Payloads are clocked out even while probing.
				if want := len(framePackets(sample)) * packetSize; len(spi.stream) != want {
					t.Errorf("%d bytes left, want %d", len(spi.stream), want)
				}
			}
		})
	}
}

func TestReadNextFrameResumesMidFrame(t *testing.T) {
	l, _, spi := newTestLepton(t)
	spi.push(imagePackets(0, 29, 0, sample)...)
	spi.push(discardPacket(), discardPacket(), discardPacket())
	spi.push(imagePackets(30, 59, 0, sample)...)

	if err := l.ReadNextFrame(); err != nil {
		t.Fatalf("ReadNextFrame() error = %v", err)
	}
	row, _ := l.ImageRow(59)
	if got := binary.BigEndian.Uint16(row[2*79:]); got != sample(59, 79) {
		t.Errorf("pixel (79,59) = %d, want %d", got, sample(59, 79))
	}
}

func TestReadNextFrameSettlesAfterMidFrameDiscard(t *testing.T) {
	discards := [][]byte{discardPacket(), discardPacket()}

	tests := []struct {
		name    string
		packets [][]byte
		settles int
	}{
		{
			name:    "discard mid frame",
			packets: append(append(imagePackets(0, 29, 0, sample), discards...), imagePackets(30, 59, 0, sample)...),
			settles: 1,
		},
		{
			name:    "discard before the frame",
			packets: append(append([][]byte{}, discards...), framePackets(sample)...),
		},
		{
			name:    "restart mid frame",
			packets: append(imagePackets(0, 9, 0, sample), framePackets(sample)...),
		},
	}

	const delay = 5 * time.Millisecond
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, spi := newTestLepton(t, WithSyncDelay(delay))
			spi.push(tt.packets...)

			start := time.Now()
			if err := l.ReadNextFrame(); err != nil {
				t.Fatalf("ReadNextFrame() error = %v", err)
			}
			elapsed := time.Since(start)

			// Two toggles per packet, the initial sync pulse and the release at the end.
			want := 2*len(tt.packets) + 3 + tt.settles
			if spi.cs.toggle != want {
				t.Errorf("chip select toggled %d times, want %d", spi.cs.toggle, want)
			}
			if spi.cs.level != gpio.High {
				t.Error("chip select left asserted")
			}
			if least := time.Duration(1+tt.settles) * delay; elapsed < least {
				t.Errorf("capture took %v, want at least %v", elapsed, least)
			}

			row, _ := l.ImageRow(59)
			if got := binary.BigEndian.Uint16(row[2*79:]); got != sample(59, 79) {
				t.Errorf("pixel (79,59) = %d, want %d", got, sample(59, 79))
			}
		})
	}
}

func TestReadNextFrameDownsample(t *testing.T) {
	tests := []struct {
		name  string
		mode  StorageMode
		agc8  bool
		value uint16
		want  uint16
	}{
		{name: "40x30x16 equal samples", mode: StorageMode40x30x16, value: 1234, want: 1234},
		{name: "20x15x16 equal samples", mode: StorageMode20x15x16, value: 0x3FFF, want: 0x3FFF},
		{name: "40x30x8 full scale", mode: StorageMode40x30x8, value: 16320, want: 255},
		{name: "40x30x8 rescaled", mode: StorageMode40x30x8, value: 4080, want: 63},
		{name: "80x60x8 rescaled", mode: StorageMode80x60x8, value: 640, want: 10},
		{name: "20x15x8 agc output", mode: StorageMode20x15x8, agc8: true, value: 200, want: 200},
		{name: "40x30x8 clamped", mode: StorageMode40x30x8, agc8: true, value: 300, want: 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, cci, spi := newTestLepton(t, WithStorageMode(tt.mode))
			if tt.agc8 {
				cci.setU32(AGCEnableState, 1)
				cci.setU32(AGCHEQScaleFactor, uint32(AGCScaleTo8Bits))
			}
			spi.push(framePackets(constant(tt.value))...)

			if err := l.ReadNextFrame(); err != nil {
				t.Fatalf("ReadNextFrame() error = %v", err)
			}

			g := l.Geometry()
			for y := 0; y < g.Height; y++ {
				row, _ := l.ImageRow(y)
				for x := 0; x < g.Width; x++ {
					var got uint16
					if g.BytesPerPixel == 2 {
						got = binary.BigEndian.Uint16(row[2*x:])
					} else {
						got = uint16(row[x])
					}
					if got != tt.want {
						t.Fatalf("pixel (%d,%d) = %d, want %d", x, y, got, tt.want)
					}
				}
			}
		})
	}
}

func TestWriteBand(t *testing.T) {
	var scratch [maxLinesPerBand * packetStride]byte
	// Two lines, 2x2 blocks: column c of the output averages raw columns 2c and 2c+1.
	put := func(line, x int, v uint16) {
		binary.BigEndian.PutUint16(scratch[line*packetStride+packetHeaderSize+2*x:], v)
	}
	put(0, 0, 10)
	put(0, 1, 20)
	put(1, 0, 30)
	put(1, 1, 44)
	put(0, 2, 0x3FFF)
	put(0, 3, 0x3FFF)
	put(1, 2, 0x3FFF)
	put(1, 3, 0x3FFF)

	dst := make([]byte, 4)
	writeBand(dst, scratch[:], 2, 2, 2, false)
	if got := binary.BigEndian.Uint16(dst); got != 26 {
		t.Errorf("column 0 = %d, want 26", got)
	}
	if got := binary.BigEndian.Uint16(dst[2:]); got != 0x3FFF {
		t.Errorf("column 1 = %d, want %d", got, 0x3FFF)
	}
}

func TestReadNextFrameTelemetry(t *testing.T) {
	row := telemetryPayload(map[int]uint16{0: 0x0E0D, 20: 7, 22: 4321})

	tests := []struct {
		name     string
		location TelemetryLocation
		packets  func() [][]byte
	}{
		{
			name:     "header",
			location: TelemetryHeader,
			packets: func() [][]byte {
				ps := [][]byte{
					packet(0, row),
					packet(1, func(int) uint16 { return 0xAAAA }),
					packet(2, func(int) uint16 { return 0xBBBB }),
				}
				return append(ps, imagePackets(0, 59, telemetryRows, sample)...)
			},
		},
		{
			name:     "footer",
			location: TelemetryFooter,
			packets: func() [][]byte {
				ps := imagePackets(0, 59, 0, sample)
				return append(ps,
					packet(60, row),
					packet(61, func(int) uint16 { return 0xAAAA }),
					packet(62, func(int) uint16 { return 0xBBBB }),
				)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, cci, spi := newTestLepton(t)
			cci.setU32(SysTelemetryEnableState, 1)
			cci.setU32(SysTelemetryLocation, uint32(tt.location))
			spi.push(tt.packets()...)

			if err := l.ReadNextFrame(); err != nil {
				t.Fatalf("ReadNextFrame() error = %v", err)
			}

			tel, err := l.Telemetry()
			if err != nil {
				t.Fatalf("Telemetry() error = %v", err)
			}
			if tel.RevisionMajor != 0x0D || tel.RevisionMinor != 0x0E {
				t.Errorf("revision = %d.%d, want 13.14", tel.RevisionMajor, tel.RevisionMinor)
			}
			if tel.FrameCounter != 7 || tel.FrameMean != 4321 {
				t.Errorf("frame counter/mean = %d/%d, want 7/4321", tel.FrameCounter, tel.FrameMean)
			}

			img, _ := l.ImageRow(0)
			if got := binary.BigEndian.Uint16(img[2*3:]); got != sample(0, 3) {
				t.Errorf("pixel (3,0) = %d, want %d", got, sample(0, 3))
			}
			img, _ = l.ImageRow(59)
			if got := binary.BigEndian.Uint16(img[2*3:]); got != sample(59, 3) {
				t.Errorf("pixel (3,59) = %d, want %d", got, sample(59, 3))
			}
		})
	}
}

func TestReadNextFrameFailureKeepsPreviousFrame(t *testing.T) {
	l, _, spi := newTestLepton(t)
	spi.push(framePackets(constant(1))...)
	if err := l.ReadNextFrame(); err != nil {
		t.Fatalf("ReadNextFrame() error = %v", err)
	}

	spi.push(imagePackets(0, 30, 0, constant(2))...)
	for i := 0; i < maxResyncTries; i++ {
		spi.push(discardPacket())
	}
	if err := l.ReadNextFrame(); !errors.Is(err, ErrResyncExhausted) {
		t.Fatalf("ReadNextFrame() error = %v, want %v", err, ErrResyncExhausted)
	}

	data, err := l.ImageData()
	if err != nil {
		t.Fatalf("ImageData() error = %v", err)
	}
	for i := 0; i+1 < len(data); i += 2 {
		if got := binary.BigEndian.Uint16(data[i:]); got != 1 {
			t.Fatalf("sample at byte %d = %d, want 1", i, got)
		}
	}
}

func TestReadNextFrameInProgress(t *testing.T) {
	l, _, spi := newTestLepton(t)
	spi.push(framePackets(sample)...)
	if err := l.ReadNextFrame(); err != nil {
		t.Fatalf("ReadNextFrame() error = %v", err)
	}

	l.setState(StateStreaming)
	if err := l.ReadNextFrame(); !errors.Is(err, ErrCaptureInProgress) {
		t.Errorf("ReadNextFrame() error = %v, want %v", err, ErrCaptureInProgress)
	}
	if _, err := l.ImageData(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ImageData() error = %v, want %v", err, ErrUnavailable)
	}
	if _, err := l.TelemetryData(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("TelemetryData() error = %v, want %v", err, ErrUnavailable)
	}
	if got := l.State(); got != StateStreaming {
		t.Errorf("State() = %v, want %v", got, StateStreaming)
	}
}

func TestStartStream(t *testing.T) {
	l, _, spi := newTestLepton(t)
	spi.push(framePackets(sample)...)

	cancel, stream, err := l.StartStream()
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer cancel()

	frame, ok := <-stream
	if !ok {
		t.Fatal("stream closed before the first frame")
	}
	if got := frame.Image.Bounds().Dx(); got != 80 {
		t.Errorf("frame width = %d, want 80", got)
	}
	if frame.Telemetry != nil {
		t.Errorf("frame telemetry = %+v, want nil", frame.Telemetry)
	}

	// The packet stream is exhausted, which ends the stream.
	if _, ok := <-stream; ok {
		t.Error("stream delivered a second frame")
	}
}
