package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCloseYield is how long teardown waits between cancelling a
// connection's reader and closing the hardware handle, giving the OS a
// moment to release driver locks.
const DefaultCloseYield = 50 * time.Millisecond

type managerConfig struct {
	scanInterval  time.Duration
	settleDelay   time.Duration
	probeWindow   time.Duration
	pairAckWindow time.Duration
	closeYield    time.Duration
	bufferCap     int
	open          Opener
	list          func() ([]string, error)
	skipStore     SkipStore
	portOpts      []Option
	log           zerolog.Logger
}

// ManagerOption configures a Manager
type ManagerOption func(*managerConfig) error

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(c *managerConfig) error {
		c.log = log
		return nil
	}
}

// WithScanInterval sets how often the port set is re-enumerated
func WithScanInterval(d time.Duration) ManagerOption {
	return func(c *managerConfig) error {
		if d <= 0 {
			return ErrInvalidConfig
		}
		c.scanInterval = d
		return nil
	}
}

// WithSettleDelay sets how long a probe waits after open before sending
// the identify command, covering device boot time.
func WithSettleDelay(d time.Duration) ManagerOption {
	return func(c *managerConfig) error {
		if d < 0 {
			return ErrInvalidConfig
		}
		c.settleDelay = d
		return nil
	}
}

// WithProbeWindow bounds how long a probe waits for a classifying
// handshake after the identify command is sent.
func WithProbeWindow(d time.Duration) ManagerOption {
	return func(c *managerConfig) error {
		if d <= 0 {
			return ErrInvalidConfig
		}
		c.probeWindow = d
		return nil
	}
}

// WithPairAckWindow sets how long a pairing-success signal stays raised
func WithPairAckWindow(d time.Duration) ManagerOption {
	return func(c *managerConfig) error {
		if d <= 0 {
			return ErrInvalidConfig
		}
		c.pairAckWindow = d
		return nil
	}
}

// WithCloseYield sets the teardown pause before the handle close
func WithCloseYield(d time.Duration) ManagerOption {
	return func(c *managerConfig) error {
		if d < 0 {
			return ErrInvalidConfig
		}
		c.closeYield = d
		return nil
	}
}

// WithBufferCap sets the per-connection line buffer bound
func WithBufferCap(n int) ManagerOption {
	return func(c *managerConfig) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.bufferCap = n
		return nil
	}
}

// WithOpener substitutes the serial open function, used by tests to
// inject in-memory ports.
func WithOpener(open Opener) ManagerOption {
	return func(c *managerConfig) error {
		if open == nil {
			return ErrInvalidConfig
		}
		c.open = open
		return nil
	}
}

// WithPortLister substitutes the port enumerator
func WithPortLister(list func() ([]string, error)) ManagerOption {
	return func(c *managerConfig) error {
		if list == nil {
			return ErrInvalidConfig
		}
		c.list = list
		return nil
	}
}

// WithSkipStore wires persistence for permanently blacklisted ports
func WithSkipStore(store SkipStore) ManagerOption {
	return func(c *managerConfig) error {
		c.skipStore = store
		return nil
	}
}

// WithPortOptions appends serial line options applied to every open.
// The firmware defaults (921600 8N1, DTR/RTS asserted) are always the
// base; these are for overrides in bench setups.
func WithPortOptions(opts ...Option) ManagerOption {
	return func(c *managerConfig) error {
		c.portOpts = append(c.portOpts, opts...)
		return nil
	}
}

type fault struct {
	port string
	err  error
}

type connReader struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is the device discovery and serial link coordinator. One
// goroutine drives the periodic scan and owns all lifecycle transitions;
// each active connection runs its own read loop; probes of newly seen
// ports fan out concurrently and are joined before their results are
// applied to the registry.
type Manager struct {
	cfg      managerConfig
	monitor  *PortMonitor
	engine   *ProbeEngine
	registry *Registry
	bus      *PacketBus
	pairing  *PairingController
	skips    *skipList
	log      zerolog.Logger

	mu      sync.Mutex
	probing map[string]context.CancelFunc
	pending map[string]struct{} // busy ports awaiting a retry
	conns   map[string]*connReader

	faults  chan fault
	batches chan []*ProbeResult

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	readers sync.WaitGroup
}

// NewManager creates a link manager. Without options it scans real
// hardware every 2 seconds and logs nothing.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	cfg := managerConfig{
		scanInterval:  DefaultScanInterval,
		settleDelay:   DefaultSettleDelay,
		probeWindow:   DefaultProbeTimeout,
		pairAckWindow: DefaultPairAckWindow,
		closeYield:    DefaultCloseYield,
		bufferCap:     DefaultBufferCap,
		open:          Open,
		list:          ListPorts,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	skips, err := newSkipList(cfg.skipStore)
	if err != nil {
		return nil, fmt.Errorf("load skip store: %w", err)
	}

	return &Manager{
		cfg:      cfg,
		monitor:  NewPortMonitor(cfg.list),
		engine:   NewProbeEngine(cfg.open, cfg.settleDelay, cfg.probeWindow, cfg.log, cfg.portOpts...),
		registry: NewRegistry(cfg.log),
		bus:      NewPacketBus(),
		pairing:  NewPairingController(cfg.pairAckWindow),
		skips:    skips,
		log:      cfg.log,
		probing:  make(map[string]context.CancelFunc),
		pending:  make(map[string]struct{}),
		conns:    make(map[string]*connReader),
		faults:   make(chan fault, 16),
		batches:  make(chan []*ProbeResult, 4),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the coordinating scan loop. It returns immediately;
// call Stop (or cancel ctx) to shut down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx)
	return nil
}

// Stop shuts the manager down: probes are cancelled, every active
// connection is torn down, and the packet bus is closed. Blocks until
// the coordinating loop has exited.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	started := m.started
	m.mu.Unlock()
	if !started || cancel == nil {
		return
	}
	cancel()
	<-m.done
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.scanInterval)
	defer ticker.Stop()

	m.scanTick(ctx)
	for {
		select {
		case <-ctx.Done():
			m.shutdown(ctx.Err())
			return
		case <-ticker.C:
			m.scanTick(ctx)
		case f := <-m.faults:
			m.teardown(f.port, f.err)
		case results := <-m.batches:
			m.admit(ctx, results)
		}
	}
}

// scanTick diffs the port set and reacts: vanished ports cancel any
// in-flight probe and tear down their connection, new ports are probed.
func (m *Manager) scanTick(ctx context.Context) {
	added, removed := m.monitor.Scan()

	for _, port := range removed {
		m.handleRemoved(port)
	}

	// Busy ports earn a retry while they remain present
	candidates := added
	m.mu.Lock()
	for port := range m.pending {
		delete(m.pending, port)
		if m.monitor.Present(port) {
			candidates = append(candidates, port)
		}
	}
	m.mu.Unlock()

	var batch []string
	seen := make(map[string]struct{}, len(candidates))
	for _, port := range candidates {
		if _, dup := seen[port]; dup {
			continue
		}
		seen[port] = struct{}{}
		if m.skips.skipped(port) {
			m.log.Debug().Str("port", port).Msg("port skipped")
			continue
		}
		m.mu.Lock()
		_, inFlight := m.probing[port]
		m.mu.Unlock()
		if inFlight {
			continue
		}
		if _, active := m.registry.Get(port); active {
			continue
		}
		batch = append(batch, port)
	}

	if len(batch) > 0 {
		m.probeBatch(ctx, batch)
	}
}

// probeBatch fans probes of newly seen ports out concurrently. Results
// are joined and delivered to the run loop as one batch, so one slow
// port never delays another and the registry sees them applied under
// the single coordinating goroutine.
func (m *Manager) probeBatch(ctx context.Context, ports []string) {
	type slot struct {
		port   string
		cancel context.CancelFunc
		ctx    context.Context
	}
	slots := make([]slot, 0, len(ports))

	m.mu.Lock()
	for _, port := range ports {
		pctx, cancel := context.WithCancel(ctx)
		m.probing[port] = cancel
		slots = append(slots, slot{port: port, cancel: cancel, ctx: pctx})
	}
	m.mu.Unlock()

	go func() {
		var (
			wg      sync.WaitGroup
			resMu   sync.Mutex
			results []*ProbeResult
		)
		for _, s := range slots {
			wg.Add(1)
			go func(s slot) {
				defer wg.Done()
				if res := m.probeOne(s.ctx, s.port); res != nil {
					resMu.Lock()
					results = append(results, res)
					resMu.Unlock()
				}
			}(s)
		}
		wg.Wait()

		m.mu.Lock()
		for _, s := range slots {
			s.cancel()
			delete(m.probing, s.port)
		}
		m.mu.Unlock()

		if len(results) == 0 {
			return
		}
		select {
		case m.batches <- results:
		case <-ctx.Done():
			for _, res := range results {
				res.Conn.Close()
			}
		}
	}()
}

// probeOne runs one classification attempt and applies the failure
// taxonomy: busy is left alone for a later scan, a rejected
// configuration blacklists the port permanently, a silent port is
// skipped for the session.
func (m *Manager) probeOne(ctx context.Context, port string) *ProbeResult {
	res, err := m.engine.Probe(ctx, port)
	if err == nil {
		return res
	}

	switch {
	case errors.Is(err, ErrPortBusy):
		m.mu.Lock()
		m.pending[port] = struct{}{}
		m.mu.Unlock()
		m.log.Debug().Str("port", port).Msg("port busy, will retry")
	case errors.Is(err, ErrConfigRejected):
		if serr := m.skips.addPermanent(port); serr != nil {
			m.log.Warn().Err(serr).Str("port", port).Msg("persisting blacklist failed")
		}
		m.log.Error().Err(err).Str("port", port).Msg("port blacklisted")
	case errors.Is(err, ErrProbeTimeout):
		m.skips.addSession(port)
		m.log.Info().Str("port", port).Msg("no handshake, port skipped")
	case errors.Is(err, context.Canceled):
		m.log.Debug().Str("port", port).Msg("probe cancelled")
	default:
		m.log.Warn().Err(err).Str("port", port).Msg("probe failed")
	}
	return nil
}

// admit registers joined probe results and starts their read loops. A
// result whose port vanished while its batch was still joining is
// closed instead of admitted.
func (m *Manager) admit(ctx context.Context, results []*ProbeResult) {
	for _, res := range results {
		if !m.monitor.Present(res.PortName) {
			m.log.Debug().Str("port", res.PortName).Msg("port vanished before admission")
			res.Conn.Close()
			continue
		}

		dev := Device{
			PortName: res.PortName,
			Type:     res.Type,
			MAC:      res.MAC,
			PairedTo: res.PairedTo,
			State:    StateActive,
		}
		if err := m.registry.Add(dev, res.Conn); err != nil {
			res.Conn.Close()
			continue
		}
		m.startReader(ctx, res.PortName, res.Conn)
	}
}

// startReader launches the per-connection read loop. Decoded vitals go
// to the bus, late handshake frames resolve identity (never type), and
// raw chunks are watched for the pairing acknowledgment.
func (m *Manager) startReader(ctx context.Context, port string, conn Port) {
	rctx, cancel := context.WithCancel(ctx)
	reader := &connReader{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.conns[port] = reader
	m.mu.Unlock()

	m.readers.Add(1)
	go func() {
		defer m.readers.Done()
		defer close(reader.done)

		lines := NewLineBuffer(m.cfg.bufferCap)
		buf := make([]byte, 4096)
		for {
			n, err := conn.ReadContext(rctx, buf)
			if n > 0 {
				chunk := buf[:n]
				m.pairing.Observe(port, chunk)
				for _, f := range lines.Append(chunk) {
					switch fr := f.(type) {
					case *HandshakeFrame:
						m.registry.ResolveIdentity(port, fr.MAC, fr.PairedTo)
					case *VitalsFrame:
						m.registry.Touch(port)
						m.bus.Publish(*fr)
					}
				}
			}
			if err != nil {
				if rctx.Err() != nil {
					// Teardown is already driving this connection down
					return
				}
				select {
				case m.faults <- fault{port: port, err: err}:
				case <-rctx.Done():
				}
				return
			}
		}
	}()
}

// teardown drives Active -> Disconnecting -> Closed for one connection:
// mark it disconnecting, cancel and join its reader, yield, close the
// handle, and only then remove the record. A second teardown request for
// the same port is a no-op.
func (m *Manager) teardown(port string, cause error) {
	conn, ok := m.registry.BeginTeardown(port)
	if !ok {
		return
	}

	// Clean unplug and I/O fault take the same path; only the log
	// severity differs.
	if cause != nil {
		if isGoneError(cause) || errors.Is(cause, io.EOF) {
			m.log.Debug().Str("port", port).Msg("device unplugged")
		} else if !errors.Is(cause, context.Canceled) {
			m.log.Warn().Err(cause).Str("port", port).Msg("stream fault")
		}
	}

	m.mu.Lock()
	reader := m.conns[port]
	delete(m.conns, port)
	m.mu.Unlock()

	if reader != nil {
		reader.cancel()
		<-reader.done
	}

	if m.cfg.closeYield > 0 {
		time.Sleep(m.cfg.closeYield)
	}
	if conn != nil {
		conn.Close()
	}

	m.registry.Remove(port)
	m.pairing.Forget(port)
}

// handleRemoved reacts to a port disappearing from the scan: a skip
// earned in this session is forgiven, an in-flight probe is cancelled,
// and an active connection is torn down.
func (m *Manager) handleRemoved(port string) {
	m.skips.clearSession(port)

	m.mu.Lock()
	cancelProbe := m.probing[port]
	delete(m.pending, port)
	m.mu.Unlock()
	if cancelProbe != nil {
		cancelProbe()
	}

	if _, ok := m.registry.Get(port); ok {
		m.teardown(port, ErrDeviceNotFound)
	}
}

func (m *Manager) shutdown(cause error) {
	for _, dev := range m.registry.Snapshot() {
		m.teardown(dev.PortName, cause)
	}
	m.bus.Close()
}

// Pair sends the pairing command for receiverMac to an active sender.
// It does not wait for the acknowledgment; watch PairingEvents or poll
// PairingSucceeded.
func (m *Manager) Pair(ctx context.Context, senderPort, receiverMac string) error {
	dev, ok := m.registry.Get(senderPort)
	if !ok || dev.Type != DeviceSender || dev.State != StateActive {
		return fmt.Errorf("%w: %s", ErrNotASender, senderPort)
	}
	conn, ok := m.registry.Conn(senderPort)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotASender, senderPort)
	}
	return m.pairing.Pair(ctx, conn, receiverMac)
}

// Devices subscribes to registry snapshots. The current snapshot is
// delivered immediately.
func (m *Manager) Devices(buffer int) (string, <-chan []Device) {
	return m.registry.Subscribe(buffer)
}

// UnsubscribeDevices cancels a Devices subscription
func (m *Manager) UnsubscribeDevices(id string) {
	m.registry.Unsubscribe(id)
}

// Vitals subscribes to the decoded telemetry stream
func (m *Manager) Vitals(buffer int) (string, <-chan VitalsFrame, error) {
	return m.bus.Subscribe(buffer)
}

// UnsubscribeVitals cancels a Vitals subscription
func (m *Manager) UnsubscribeVitals(id string) error {
	return m.bus.Unsubscribe(id)
}

// PairingEvents delivers pairing acknowledgments as they arrive
func (m *Manager) PairingEvents() <-chan PairingEvent {
	return m.pairing.Events()
}

// PairingSucceeded reports whether a pairing-success signal is currently
// raised for the port.
func (m *Manager) PairingSucceeded(port string) bool {
	return m.pairing.Succeeded(port)
}

// Snapshot returns the current device list
func (m *Manager) Snapshot() []Device {
	return m.registry.Snapshot()
}

// Receiver returns the first active receiver, if any
func (m *Manager) Receiver() (Device, bool) {
	return m.registry.Receiver()
}

// Senders returns all active senders
func (m *Manager) Senders() []Device {
	return m.registry.Senders()
}

// SkipReasonFor reports why a port is excluded from probing, or zero if
// it is not.
func (m *Manager) SkipReasonFor(port string) SkipReason {
	return m.skips.reason(port)
}
