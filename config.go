package link

import "time"

// Config holds the line configuration for a serial port
type Config struct {
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      Parity
	ReadTimeout time.Duration // VTIME granularity: multiples of 100ms, max 25.5s
	InitialRTS  *bool
	InitialDTR  *bool
}

// Option is a functional option for configuring a serial port
type Option func(*Config) error

// DefaultConfig returns the line configuration the AWEAR firmware expects:
// 921600 baud, 8 data bits, 1 stop bit, no parity, DTR and RTS asserted.
func DefaultConfig() Config {
	asserted := true
	return Config{
		BaudRate:    921600,
		DataBits:    8,
		StopBits:    1,
		Parity:      ParityNone,
		ReadTimeout: 200 * time.Millisecond,
		InitialRTS:  &asserted,
		InitialDTR:  &asserted,
	}
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *Config) error {
		if _, err := getBaudRate(rate); err != nil {
			return err
		}
		c.BaudRate = rate
		return nil
	}
}

// WithDataBits sets the number of data bits (5, 6, 7, or 8)
func WithDataBits(bits int) Option {
	return func(c *Config) error {
		if bits < 5 || bits > 8 {
			return ErrInvalidConfig
		}
		c.DataBits = bits
		return nil
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *Config) error {
		if bits != 1 && bits != 2 {
			return ErrInvalidConfig
		}
		c.StopBits = bits
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *Config) error {
		c.Parity = parity
		return nil
	}
}

// WithReadTimeout sets the blocking read timeout. VTIME counts in tenths
// of a second, so the value must be a non-negative multiple of 100ms and
// at most 25.5 seconds. Zero makes reads non-blocking.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout < 0 || timeout > 25500*time.Millisecond {
			return ErrInvalidConfig
		}
		if timeout%(100*time.Millisecond) != 0 {
			return ErrInvalidConfig
		}
		c.ReadTimeout = timeout
		return nil
	}
}

// WithInitialRTS sets the RTS state to apply immediately after open
func WithInitialRTS(state bool) Option {
	return func(c *Config) error {
		c.InitialRTS = &state
		return nil
	}
}

// WithInitialDTR sets the DTR state to apply immediately after open
func WithInitialDTR(state bool) Option {
	return func(c *Config) error {
		c.InitialDTR = &state
		return nil
	}
}
