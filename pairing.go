package link

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// DefaultPairAckWindow is how long a pairing-success signal stays raised
// before it clears on its own.
const DefaultPairAckWindow = 3 * time.Second

var macPattern = regexp.MustCompile(`^([0-9A-F]{2}:){5}[0-9A-F]{2}$`)

// PairingEvent is emitted when a sender acknowledges a pair command
type PairingEvent struct {
	PortName string
	At       time.Time
}

// PairingController sends pair commands to classified senders and turns
// the firmware's plain-text PAIRED_OK acknowledgment into a one-shot,
// self-clearing success signal.
type PairingController struct {
	mu     sync.Mutex
	window time.Duration
	raised map[string]*time.Timer
	events chan PairingEvent
}

// NewPairingController creates a controller whose success signals clear
// after window (DefaultPairAckWindow if non-positive).
func NewPairingController(window time.Duration) *PairingController {
	if window <= 0 {
		window = DefaultPairAckWindow
	}
	return &PairingController{
		window: window,
		raised: make(map[string]*time.Timer),
		events: make(chan PairingEvent, 8),
	}
}

// Pair writes the pair command for receiverMac to the sender's
// connection. It does not wait for the acknowledgment; observe the
// Events channel or poll Succeeded for that.
func (p *PairingController) Pair(ctx context.Context, conn Port, receiverMac string) error {
	if !macPattern.MatchString(receiverMac) {
		return fmt.Errorf("%w: %q", ErrInvalidMAC, receiverMac)
	}
	if _, err := conn.WriteContext(ctx, []byte(pairCommand+receiverMac+"\n")); err != nil {
		return fmt.Errorf("pair command: %w", err)
	}
	return nil
}

// Observe inspects a raw inbound chunk from portName for the
// acknowledgment token. The token is plain text and may arrive outside
// any structured frame, so this runs on chunks, not parsed lines.
func (p *PairingController) Observe(portName string, chunk []byte) {
	if !bytes.Contains(chunk, []byte(pairAckToken)) {
		return
	}
	p.signal(portName)
}

// signal raises the one-shot success flag for a port. A flag that is
// already raised is left alone; it clears on its own timer.
func (p *PairingController) signal(portName string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, already := p.raised[portName]; already {
		return
	}

	p.raised[portName] = time.AfterFunc(p.window, func() {
		p.mu.Lock()
		delete(p.raised, portName)
		p.mu.Unlock()
	})

	select {
	case p.events <- PairingEvent{PortName: portName, At: time.Now()}:
	default:
	}
}

// Succeeded reports whether a pairing-success signal is currently raised
// for the port.
func (p *PairingController) Succeeded(portName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.raised[portName]
	return ok
}

// Events delivers pairing acknowledgments as they arrive
func (p *PairingController) Events() <-chan PairingEvent {
	return p.events
}

// Forget cancels any raised signal for a port, used when the port is
// torn down.
func (p *PairingController) Forget(portName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, ok := p.raised[portName]; ok {
		timer.Stop()
		delete(p.raised, portName)
	}
}
