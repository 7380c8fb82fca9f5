package lepton

// VoSPI packet layout.
const (
	packetSize        = 164
	packetHeaderSize  = 4
	packetPayloadSize = packetSize - packetHeaderSize
	// packetStride is packetSize rounded up to the 16 byte boundary.
	packetStride = 176

	// rawLines is the number of image lines the sensor streams per frame.
	rawLines = 60
	// rawWidth is the number of samples in one raw line.
	rawWidth = packetPayloadSize / 2
	// telemetryRows is the number of telemetry packets in a frame.
	telemetryRows = 3

	maxImageBytes   = 60 * 80 * 2
	maxLinesPerBand = 4

	// telemetryNotReady marks a telemetry buffer that has not been filled.
	telemetryNotReady = 0x0F
)

// frameBuffers owns the image, VoSPI scratch and telemetry storage of a
// driver instance. All regions are fixed-capacity arrays sized for the
// largest storage mode and addressed by index. Row and scratch slot offsets
// are multiples of 16 relative to the start of their region; the regions
// themselves only carry Go's natural alignment.
//
// Captures write into the back image and telemetry regions; swap publishes
// them once a frame completes so a failed capture leaves the previous frame
// untouched.
type frameBuffers struct {
	geometry Geometry

	images [2][maxImageBytes]byte
	front  int

	scratch [maxLinesPerBand * packetStride]byte
	drop    [packetPayloadSize]byte

	telemetry     *[packetSize]byte
	telemetryBack [packetSize]byte
	telemetryOK   bool
}

func newFrameBuffers(g Geometry) *frameBuffers {
	return &frameBuffers{geometry: g}
}

func (b *frameBuffers) image() []byte {
	return b.images[b.front][:b.geometry.TotalBytes]
}

func (b *frameBuffers) imageRow(row int) []byte {
	off := row * b.geometry.Pitch
	return b.images[b.front][off : off+b.geometry.Width*b.geometry.BytesPerPixel]
}

func (b *frameBuffers) backRow(row int) []byte {
	off := row * b.geometry.Pitch
	return b.images[b.front^1][off : off+b.geometry.Width*b.geometry.BytesPerPixel]
}

// scratchLine returns the payload area of VoSPI scratch slot n.
func (b *frameBuffers) scratchLine(n int) []byte {
	off := n*packetStride + packetHeaderSize
	return b.scratch[off : off+packetPayloadSize]
}

// setTelemetryEnabled allocates the telemetry region on first use and
// releases it when telemetry is turned off.
func (b *frameBuffers) setTelemetryEnabled(enabled bool) {
	switch {
	case enabled && b.telemetry == nil:
		b.telemetry = new([packetSize]byte)
		b.telemetry[0] = telemetryNotReady
	case !enabled && b.telemetry != nil:
		b.telemetry = nil
	}
}

func (b *frameBuffers) beginFrame() {
	b.telemetryBack[0] = telemetryNotReady
	b.telemetryOK = false
}

func (b *frameBuffers) swap() {
	b.front ^= 1
	if b.telemetry != nil && b.telemetryOK {
		*b.telemetry = b.telemetryBack
	}
}
