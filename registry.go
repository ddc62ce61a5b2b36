package link

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DeviceType classifies a connection after a successful handshake
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DeviceSender
	DeviceReceiver
)

func (t DeviceType) String() string {
	switch t {
	case DeviceSender:
		return "sender"
	case DeviceReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// ConnState is the connection lifecycle state
type ConnState int

const (
	StateProbing ConnState = iota
	StateActive
	StateDisconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// MACUnknown is the placeholder identity before a handshake resolves it
const MACUnknown = "Unknown"

// Device is one classified connection as exposed to subscribers.
// Snapshots hand out copies; mutating one never touches the registry.
type Device struct {
	PortName string
	Type     DeviceType
	MAC      string
	PairedTo string
	State    ConnState
	LastSeen time.Time
	Online   bool
}

type deviceEntry struct {
	dev  Device
	conn Port // exclusively owned by this entry until teardown
}

// Registry is the authoritative table of classified connections.
//
// All mutation happens under one lock scoped strictly to the in-memory
// update; no I/O is ever performed while it is held. Every mutation
// publishes a fresh immutable snapshot to subscribers, so no partial
// state is observable.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*deviceEntry
	subs    map[string]chan []Device
	log     zerolog.Logger
}

// NewRegistry creates an empty device registry
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		devices: make(map[string]*deviceEntry),
		subs:    make(map[string]chan []Device),
		log:     log,
	}
}

// Add admits a freshly classified connection. The registry takes
// ownership of conn; it is released to the caller again by BeginTeardown.
func (r *Registry) Add(dev Device, conn Port) error {
	r.mu.Lock()
	if _, exists := r.devices[dev.PortName]; exists {
		r.mu.Unlock()
		return ErrDeviceExists
	}
	if dev.MAC == "" {
		dev.MAC = MACUnknown
	}
	dev.LastSeen = time.Now()
	dev.Online = true
	r.devices[dev.PortName] = &deviceEntry{dev: dev, conn: conn}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.log.Info().
		Str("port", dev.PortName).
		Str("type", dev.Type.String()).
		Str("mac", dev.MAC).
		Msg("device admitted")

	r.broadcast(snapshot)
	return nil
}

// ResolveIdentity applies a handshake frame that arrived on an already
// admitted connection. Classification is terminal: the type is never
// changed, and a known MAC is never replaced. Only a still-unknown MAC
// is filled in.
func (r *Registry) ResolveIdentity(portName, mac, pairedTo string) {
	r.mu.Lock()
	entry, ok := r.devices[portName]
	if !ok {
		r.mu.Unlock()
		return
	}

	changed := false
	if entry.dev.MAC == MACUnknown && mac != "" {
		entry.dev.MAC = mac
		changed = true
	}
	if entry.dev.PairedTo == "" && pairedTo != "" {
		entry.dev.PairedTo = pairedTo
		changed = true
	}
	entry.dev.LastSeen = time.Now()

	var snapshot []Device
	if changed {
		snapshot = r.snapshotLocked()
	}
	r.mu.Unlock()

	if changed {
		r.broadcast(snapshot)
	}
}

// Touch updates the last-seen timestamp for a connection
func (r *Registry) Touch(portName string) {
	r.mu.Lock()
	if entry, ok := r.devices[portName]; ok {
		entry.dev.LastSeen = time.Now()
	}
	r.mu.Unlock()
}

// BeginTeardown moves a device into Disconnecting and hands the
// connection handle back to the caller for closing. The device stays
// visible (offline) until Remove; consumers never observe a half
// torn-down record.
func (r *Registry) BeginTeardown(portName string) (Port, bool) {
	r.mu.Lock()
	entry, ok := r.devices[portName]
	if !ok || entry.dev.State == StateDisconnecting {
		r.mu.Unlock()
		return nil, false
	}
	entry.dev.State = StateDisconnecting
	entry.dev.Online = false
	conn := entry.conn
	entry.conn = nil
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.broadcast(snapshot)
	return conn, true
}

// Remove deletes a device record entirely. Called only once teardown has
// reached Closed; no stale partial state survives a disconnect.
func (r *Registry) Remove(portName string) {
	r.mu.Lock()
	if _, ok := r.devices[portName]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.devices, portName)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.log.Info().Str("port", portName).Msg("device removed")
	r.broadcast(snapshot)
}

// Conn returns the connection handle for an active device
func (r *Registry) Conn(portName string) (Port, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.devices[portName]
	if !ok || entry.conn == nil {
		return nil, false
	}
	return entry.conn, true
}

// Get returns a copy of the device record for a port
func (r *Registry) Get(portName string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.devices[portName]
	if !ok {
		return Device{}, false
	}
	return entry.dev, true
}

// Receiver returns the first active receiver, if any
func (r *Registry) Receiver() (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.devices {
		if entry.dev.Type == DeviceReceiver && entry.dev.State == StateActive {
			return entry.dev, true
		}
	}
	return Device{}, false
}

// Senders returns all active senders
func (r *Registry) Senders() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var senders []Device
	for _, entry := range r.devices {
		if entry.dev.Type == DeviceSender && entry.dev.State == StateActive {
			senders = append(senders, entry.dev)
		}
	}
	return senders
}

// Snapshot returns a copy of the current device list
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Device {
	snapshot := make([]Device, 0, len(r.devices))
	for _, entry := range r.devices {
		snapshot = append(snapshot, entry.dev)
	}
	return snapshot
}

// Subscribe registers a snapshot subscriber. The current snapshot is
// delivered immediately; afterwards every mutation publishes a new one.
// Delivery is non-blocking: a subscriber that does not drain its channel
// misses intermediate snapshots, never blocks the registry.
func (r *Registry) Subscribe(buffer int) (string, <-chan []Device) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan []Device, buffer)
	id := uuid.NewString()

	r.mu.Lock()
	r.subs[id] = ch
	// The channel is fresh and buffered, so this send cannot block.
	// Delivering under the lock keeps a concurrent broadcast from
	// filling the buffer ahead of the initial snapshot.
	ch <- r.snapshotLocked()
	r.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a snapshot subscriber and closes its channel
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	ch, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.mu.Unlock()

	if ok {
		close(ch)
	}
}

func (r *Registry) broadcast(snapshot []Device) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
