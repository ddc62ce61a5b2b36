package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Probe timing defaults. The settle delay covers device boot after the
// port asserts DTR; the window bounds the whole classification attempt.
const (
	DefaultSettleDelay  = 1200 * time.Millisecond
	DefaultProbeTimeout = 1500 * time.Millisecond
)

// ProbeResult is the outcome of one successful classification. The
// connection stays open and is handed on to the registry; a ProbeResult
// is consumed once to construct a device record and never stored.
type ProbeResult struct {
	PortName string
	Type     DeviceType
	MAC      string
	PairedTo string
	Conn     Port
}

// ProbeEngine classifies newly discovered ports by running the identify
// handshake against them within a bounded window.
type ProbeEngine struct {
	open   Opener
	opts   []Option
	settle time.Duration
	window time.Duration
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewProbeEngine creates a probe engine. A nil opener uses the real
// serial layer; tests inject fakes.
func NewProbeEngine(open Opener, settle, window time.Duration, log zerolog.Logger, opts ...Option) *ProbeEngine {
	if open == nil {
		open = Open
	}
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	if window <= 0 {
		window = DefaultProbeTimeout
	}
	return &ProbeEngine{
		open:   open,
		opts:   opts,
		settle: settle,
		window: window,
		log:    log,
		sleep:  sleepContext,
	}
}

// Probe opens portName, sends the identify command and waits for a
// classifying handshake.
//
// Error classification drives retry policy:
//   - ErrPortBusy: transient, no blacklist, retry on a later scan
//   - ErrConfigRejected: permanent session blacklist
//   - ErrProbeTimeout: session skip until the port cycles
//   - context errors: the probe was cancelled (port vanished mid-probe)
//
// On success the returned result owns the still-open connection.
func (e *ProbeEngine) Probe(ctx context.Context, portName string) (*ProbeResult, error) {
	conn, err := e.open(portName, e.opts...)
	if err != nil {
		return nil, err
	}

	result, err := e.classify(ctx, portName, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return result, nil
}

func (e *ProbeEngine) classify(ctx context.Context, portName string, conn Port) (*ProbeResult, error) {
	// Give the device time to boot, then drop whatever it emitted while
	// doing so. The identify exchange starts from a clean input queue.
	if err := e.sleep(ctx, e.settle); err != nil {
		return nil, err
	}
	if err := conn.FlushInput(); err != nil {
		return nil, fmt.Errorf("flush %s: %w", portName, err)
	}

	if _, err := conn.WriteContext(ctx, []byte(identifyCommand+"\n")); err != nil {
		return nil, fmt.Errorf("identify %s: %w", portName, err)
	}

	readCtx, cancel := context.WithTimeout(ctx, e.window)
	defer cancel()

	var accum []byte
	buf := make([]byte, 1024)
	for {
		n, err := conn.ReadContext(readCtx, buf)
		if n > 0 {
			accum = append(accum, buf[:n]...)
			for {
				h := firstHandshake(&accum)
				if h == nil {
					break
				}
				t := h.Type()
				if t == DeviceUnknown {
					continue
				}
				e.log.Debug().
					Str("port", portName).
					Str("device", h.Device).
					Str("mac", h.MAC).
					Msg("handshake classified")
				return &ProbeResult{
					PortName: portName,
					Type:     t,
					MAC:      h.MAC,
					PairedTo: h.PairedTo,
					Conn:     conn,
				}, nil
			}
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%s: %w", portName, ErrProbeTimeout)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("probe read %s: %w", portName, err)
		}
	}
}

// firstHandshake scans the accumulated probe buffer for the first
// complete {...} object carrying both a device and a mac key. Consumed
// bytes (and any non-handshake objects) are removed from the buffer;
// garbage between objects is skipped.
func firstHandshake(accum *[]byte) *HandshakeFrame {
	buf := *accum
	for {
		start := bytes.IndexByte(buf, '{')
		if start < 0 {
			*accum = buf[:0]
			return nil
		}
		end := bytes.IndexByte(buf[start:], '}')
		if end < 0 {
			*accum = buf[start:]
			return nil
		}
		obj := buf[start : start+end+1]
		buf = buf[start+end+1:]

		if f := ParseFrame(obj); f != nil {
			if h, ok := f.(*HandshakeFrame); ok {
				*accum = buf
				return h
			}
		}
	}
}

// sleepContext sleeps for d unless the context is cancelled first
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
