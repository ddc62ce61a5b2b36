package link

import "errors"

// Predefined error types for robust error handling
var (
	// ErrPortBusy means the device node exists but could not be opened
	// exclusively (typically EBUSY or EACCES). Transient: the port stays
	// eligible for another probe on a later scan.
	ErrPortBusy = errors.New("serial port busy or inaccessible")

	// ErrConfigRejected means the hardware refused the requested line
	// parameters. The port is useless for this firmware and is
	// blacklisted for the session.
	ErrConfigRejected = errors.New("serial configuration rejected by hardware")

	// ErrProbeTimeout means no valid handshake arrived within the probe
	// window. The port is skipped until it disappears and reappears.
	ErrProbeTimeout = errors.New("no handshake before probe timeout")

	ErrInvalidBaudRate = errors.New("invalid baud rate")
	ErrInvalidConfig   = errors.New("invalid serial configuration")
	ErrPortClosed      = errors.New("serial port is closed")
	ErrDeviceNotFound  = errors.New("serial device not found")

	// Registry and bus errors
	ErrDeviceExists       = errors.New("device already registered for port")
	ErrBusClosed          = errors.New("packet bus is closed")
	ErrSubscriberNotFound = errors.New("subscriber id not registered")

	// Pairing errors
	ErrNotASender = errors.New("port is not an active sender")
	ErrInvalidMAC = errors.New("invalid MAC address")

	// USB-related errors
	ErrUSBInfoNotAvailable  = errors.New("USB device information not available")
	ErrUSBResetNotAvailable = errors.New("usbreset utility not available")
)
