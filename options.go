package lepton

import "time"

// Config holds the driver configuration.
type Config struct {
	// StorageMode selects the resolution and depth of stored frames.
	StorageMode StorageMode

	// TemperatureMode selects the unit of decoded temperatures.
	TemperatureMode TemperatureMode

	// Logger is used for logging operations (optional)
	Logger Logger

	// CommandTimeout bounds each wait for the camera's busy bit.
	CommandTimeout time.Duration

	// PollInterval is the sleep between two status register polls.
	PollInterval time.Duration

	// SyncDelay is how long chip select is held deasserted to force
	// the VoSPI interface to resynchronize before a capture.
	SyncDelay time.Duration

	// PackedRows disables the 16 byte row alignment of the image buffer.
	PackedRows bool
}

func defaultConfig() Config {
	return Config{
		StorageMode:     StorageMode80x60x16,
		TemperatureMode: Celsius,
		Logger:          nopLogger{},
		CommandTimeout:  5 * time.Second,
		PollInterval:    time.Millisecond,
		SyncDelay:       185 * time.Millisecond,
	}
}

// Option is a functional option for configuring the driver.
type Option func(*Config)

// WithStorageMode selects the storage mode frames are captured in.
//
// Example:
//
//	cam, err := lepton.Open("", "", "GPIO8", lepton.WithStorageMode(lepton.StorageMode40x30x8))
func WithStorageMode(mode StorageMode) Option {
	return func(c *Config) {
		c.StorageMode = mode
	}
}

// WithTemperatureMode selects the unit temperatures are reported in.
func WithTemperatureMode(mode TemperatureMode) Option {
	return func(c *Config) {
		c.TemperatureMode = mode
	}
}

// WithLogger sets a logger for driver operations.
//
// Example:
//
//	cam, err := lepton.New(cci, spi, cs, lepton.WithLogger(lepton.NewStdLogger(log.Default())))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithCommandTimeout sets the busy wait budget of a single command phase.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.CommandTimeout = timeout
	}
}

// WithPollInterval sets the sleep between status polls.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval >= 0 {
			c.PollInterval = interval
		}
	}
}

// WithSyncDelay sets the chip select hold time used to resynchronize VoSPI.
// Default is 185ms.
func WithSyncDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.SyncDelay = delay
		}
	}
}

// WithPackedRows stores image rows back to back instead of on 16 byte boundaries.
func WithPackedRows() Option {
	return func(c *Config) {
		c.PackedRows = true
	}
}
