package lepton

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// SPIClock is the VoSPI clock used by Open.
const SPIClock = 20 * physic.MegaHertz

// Lepton is a FLIR Lepton camera module attached through its command
// interface (CCI) and its video stream (VoSPI).
type Lepton struct {
	cci conn.Conn
	spi conn.Conn
	cs  ChipSelect
	cfg Config
	log Logger

	closer func() error

	cciMu            sync.Mutex
	cciBuf           [2 + 2*dataBufferWords]byte
	cciWords         [dataBufferWords]uint16
	lastTransportErr error
	lastResult       Result

	spiMu sync.Mutex
	vospi vospiTx

	mu     sync.Mutex
	state  CaptureState
	frames uint64
	buf    *frameBuffers
}

// New creates a driver on top of an already opened command interface and
// VoSPI port. cs must deassert the VoSPI chip select on gpio.High.
func New(cci, spi conn.Conn, cs ChipSelect, opts ...Option) (*Lepton, error) {
	if cci == nil || spi == nil || cs == nil {
		return nil, errors.New("command interface, VoSPI port and chip select are required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.StorageMode.Valid() {
		return nil, fmt.Errorf("invalid storage mode %d", int(cfg.StorageMode))
	}
	if !cfg.TemperatureMode.Valid() {
		return nil, fmt.Errorf("invalid temperature mode %d", int(cfg.TemperatureMode))
	}

	g := cfg.StorageMode.Geometry()
	if cfg.PackedRows {
		g = cfg.StorageMode.PackedGeometry()
	}

	l := &Lepton{
		cci: cci,
		spi: spi,
		cs:  cs,
		cfg: cfg,
		log: cfg.Logger,
		buf: newFrameBuffers(g),
	}
	l.log.Debug("lepton created", "mode", cfg.StorageMode, "pitch", g.Pitch, "bytes", g.TotalBytes)
	return l, nil
}

// Open initializes the host drivers and opens the camera on the named I²C
// bus, SPI port and chip select pin. Empty bus and port names select the
// first available one.
func Open(i2cBus, spiPort, csPin string, opts ...Option) (*Lepton, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	bus, err := i2creg.Open(i2cBus)
	if err != nil {
		return nil, fmt.Errorf("failed to open I²C bus: %w", err)
	}

	port, err := spireg.Open(spiPort)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to open SPI port: %w", err)
	}

	closeAll := func() error {
		return errors.Join(port.Close(), bus.Close())
	}

	c, err := port.Connect(SPIClock, spi.Mode3|spi.NoCS, 8)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to configure SPI port: %w", err)
	}

	pin := gpioreg.ByName(csPin)
	if pin == nil {
		closeAll()
		return nil, fmt.Errorf("unknown chip select pin %q", csPin)
	}
	if err := pin.Out(gpio.High); err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to configure chip select: %w", err)
	}

	camera, err := New(&i2c.Dev{Bus: bus, Addr: DeviceAddress}, c, pin, opts...)
	if err != nil {
		closeAll()
		return nil, err
	}
	camera.closer = closeAll
	return camera, nil
}

// Close releases the buses opened by Open.
func (l *Lepton) Close() error {
	if l.closer == nil {
		return nil
	}
	err := l.closer()
	l.closer = nil
	return err
}

func (l *Lepton) StorageMode() StorageMode {
	return l.cfg.StorageMode
}

func (l *Lepton) TemperatureMode() TemperatureMode {
	return l.cfg.TemperatureMode
}

// Geometry returns the layout of the image buffer.
func (l *Lepton) Geometry() Geometry {
	return l.buf.geometry
}

// available reports whether captured data may be read. Callers hold mu.
func (l *Lepton) available() bool {
	return !l.state.Running() && l.frames > 0
}

// ImageData returns the image buffer of the last captured frame, Geometry().Pitch
// bytes per row. 16 bit samples are big endian. The slice aliases driver memory
// and is overwritten by later captures.
func (l *Lepton) ImageData() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.available() {
		return nil, ErrUnavailable
	}
	return l.buf.image(), nil
}

// ImageRow returns row n of the last captured frame.
func (l *Lepton) ImageRow(n int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.available() {
		return nil, ErrUnavailable
	}
	if n < 0 || n >= l.buf.geometry.Height {
		return nil, fmt.Errorf("row %d out of range [0, %d)", n, l.buf.geometry.Height)
	}
	return l.buf.imageRow(n), nil
}

// Image returns a copy of the last captured frame, an *image.Gray16 for 16 bit
// storage modes and an *image.Gray for 8 bit ones.
func (l *Lepton) Image() (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.available() {
		return nil, ErrUnavailable
	}

	g := l.buf.geometry
	rect := image.Rect(0, 0, g.Width, g.Height)
	if g.BytesPerPixel == 2 {
		img := image.NewGray16(rect)
		for y := 0; y < g.Height; y++ {
			copy(img.Pix[y*img.Stride:], l.buf.imageRow(y))
		}
		return img, nil
	}

	img := image.NewGray(rect)
	for y := 0; y < g.Height; y++ {
		copy(img.Pix[y*img.Stride:], l.buf.imageRow(y))
	}
	return img, nil
}

// TelemetryData returns the raw telemetry buffer of the last captured frame:
// the packet header followed by the row A payload. It returns
// ErrTelemetryNotReady when telemetry is disabled or has not been received.
func (l *Lepton) TelemetryData() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Running() {
		return nil, ErrUnavailable
	}
	if l.buf.telemetry == nil || l.buf.telemetry[0] == telemetryNotReady {
		return nil, ErrTelemetryNotReady
	}
	return l.buf.telemetry[:], nil
}

// Telemetry decodes the telemetry of the last captured frame.
func (l *Lepton) Telemetry() (*Telemetry, error) {
	raw, err := l.TelemetryData()
	if err != nil {
		return nil, err
	}
	return DecodeTelemetry(raw, l.cfg.TemperatureMode)
}

// Frame is a captured image with the telemetry received alongside it.
type Frame struct {
	Image     image.Image
	Telemetry *Telemetry
	Time      time.Time
}

// StartStream captures frames continuously until the returned cancel function
// is called. Frames lost to synchronization failures are skipped; any other
// error ends the stream and closes the channel.
func (l *Lepton) StartStream() (context.CancelFunc, <-chan *Frame, error) {
	if l.State().Running() {
		return nil, nil, fmt.Errorf("failed to start stream: %w", ErrCaptureInProgress)
	}
	streamContext, cancel := context.WithCancel(context.Background())

	stream := make(chan *Frame, 10)
	go func() {
		defer close(stream)

		for {
			select {
			case <-streamContext.Done():
				return
			default:
			}

			if err := l.ReadNextFrame(); err != nil {
				if !IsSyncLoss(err) {
					l.log.Error("stream stopped", "error", err)
					return
				}
				select {
				case <-streamContext.Done():
					return
				case <-time.After(l.cfg.SyncDelay):
				}
				continue
			}

			img, err := l.Image()
			if err != nil {
				l.log.Error("stream stopped", "error", err)
				return
			}
			frame := &Frame{Image: img, Time: time.Now()}
			if t, err := l.Telemetry(); err == nil {
				frame.Telemetry = t
			}

			select {
			case stream <- frame:
			case <-streamContext.Done():
				return
			}
		}
	}()
	return cancel, stream, nil
}
