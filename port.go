package link

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Port represents an open serial connection to a device
type Port interface {
	Close() error
	Read(buf []byte) (int, error)
	Write(data []byte) (int, error)
	ReadContext(ctx context.Context, buf []byte) (int, error)
	WriteContext(ctx context.Context, data []byte) (int, error)
	FlushInput() error
	Drain() error
}

// Opener opens a serial port by device path. The Manager and ProbeEngine
// take an Opener so tests can substitute in-memory ports for real hardware.
type Opener func(device string, opts ...Option) (Port, error)

// port is the concrete implementation of the Port interface
type port struct {
	mu     sync.RWMutex
	fd     int
	config Config
	closed bool
}

// Ensure port implements Port interface at compile time
var _ Port = (*port)(nil)

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// getBaudRate converts an integer baud rate to the unix constant
func getBaudRate(rate int) (uint32, error) {
	switch rate {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 921600:
		return unix.B921600, nil
	case 1000000:
		return unix.B1000000, nil
	case 2000000:
		return unix.B2000000, nil
	default:
		return 0, ErrInvalidBaudRate
	}
}

// setDTR sets DTR signal state
func setDTR(fd int, state bool) error {
	if state {
		return unix.IoctlSetInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR)
	}
	return unix.IoctlSetInt(fd, unix.TIOCMBIC, unix.TIOCM_DTR)
}

// setRTS sets RTS signal state
func setRTS(fd int, state bool) error {
	if state {
		return unix.IoctlSetInt(fd, unix.TIOCMBIS, unix.TIOCM_RTS)
	}
	return unix.IoctlSetInt(fd, unix.TIOCMBIC, unix.TIOCM_RTS)
}

// Open opens a serial port with the given device path and options.
//
// Failure modes matter to callers here: an open that fails because the
// device is held by another process wraps ErrPortBusy, while a termios
// configuration the hardware refuses wraps ErrConfigRejected. The probe
// layer treats the former as retryable and the latter as a blacklist.
func Open(device string, opts ...Option) (Port, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, err
		}
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		if errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
			return nil, fmt.Errorf("open %s: %w: %v", device, ErrPortBusy, err)
		}
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENODEV) {
			return nil, fmt.Errorf("open %s: %w", device, ErrDeviceNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}

	// Exclusive access: further opens by other processes get EBUSY
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("exclusive open %s: %w: %v", device, ErrPortBusy, err)
	}

	if err := configurePort(fd, config); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// Apply initial handshake line states
	if config.InitialRTS != nil {
		if err := setRTS(fd, *config.InitialRTS); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set initial RTS: %v", err)
		}
	}
	if config.InitialDTR != nil {
		if err := setDTR(fd, *config.InitialDTR); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set initial DTR: %v", err)
		}
	}

	return &port{fd: fd, config: config}, nil
}

// configurePort applies the line configuration via termios
func configurePort(fd int, config Config) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("%w: TCGETS: %v", ErrConfigRejected, err)
	}

	// Raw mode
	termios.Cflag = unix.CREAD | unix.CLOCAL
	termios.Iflag = 0
	termios.Oflag = 0
	termios.Lflag = 0

	// VMIN=0 with VTIME from config: reads return after the timeout even
	// with no data, which is what lets read loops observe cancellation.
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = uint8(config.ReadTimeout.Milliseconds() / 100)

	baudRate, err := getBaudRate(config.BaudRate)
	if err != nil {
		return err
	}
	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | baudRate
	termios.Ispeed = baudRate
	termios.Ospeed = baudRate

	switch config.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	default:
		termios.Cflag |= unix.CS8
	}

	if config.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	switch config.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("%w: TCSETS: %v", ErrConfigRejected, err)
	}

	return nil
}

// Close closes the serial port
func (p *port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}

	err := unix.Close(p.fd)
	p.closed = true
	return err
}

// Read reads data from the serial port. Returns (0, nil) when the VTIME
// read timeout expires with no data.
func (p *port) Read(buf []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	return unix.Read(p.fd, buf)
}

// Write writes data to the serial port
func (p *port) Write(data []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	return unix.Write(p.fd, data)
}

// ReadContext reads data with context cancellation support
func (p *port) ReadContext(ctx context.Context, buf []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	type readResult struct {
		n   int
		err error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		n, err := unix.Read(p.fd, buf)
		resultCh <- readResult{n: n, err: err}
	}()

	select {
	case result := <-resultCh:
		return result.n, result.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// WriteContext writes data with context cancellation support
func (p *port) WriteContext(ctx context.Context, data []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	type writeResult struct {
		n   int
		err error
	}
	resultCh := make(chan writeResult, 1)

	go func() {
		n, err := unix.Write(p.fd, data)
		resultCh <- writeResult{n: n, err: err}
	}()

	select {
	case result := <-resultCh:
		return result.n, result.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// FlushInput discards any unread input data
func (p *port) FlushInput() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}

	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIFLUSH)
}

// Drain waits until all output written to the port has been transmitted
func (p *port) Drain() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}

	return unix.IoctlSetInt(p.fd, unix.TCSBRK, 1)
}

// isGoneError reports whether err indicates the device itself went away
// (clean unplug) rather than a transfer-level fault. Both drive the same
// teardown; only the log severity differs.
func isGoneError(err error) bool {
	return errors.Is(err, unix.ENXIO) ||
		errors.Is(err, unix.ENODEV) ||
		errors.Is(err, unix.EIO) ||
		errors.Is(err, ErrDeviceNotFound)
}
