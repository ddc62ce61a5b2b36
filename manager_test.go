package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const (
	receiverMAC       = "08:92:72:85:83:78"
	receiverHandshake = `{"status":"Receiver Ready","device":"AWEAR_RECEIVER","channel":1,"mac":"08:92:72:85:83:78"}` + "\n"
	senderHandshake   = `{"device":"AWEAR_SENDER","mac":"AA:BB:CC:DD:EE:FF"}` + "\n"
)

// fakeOpener hands out scripted ports by device path and counts opens
type fakeOpener struct {
	mu      sync.Mutex
	factory map[string]func() (Port, error)
	opens   map[string]int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		factory: make(map[string]func() (Port, error)),
		opens:   make(map[string]int),
	}
}

func (f *fakeOpener) add(device string, factory func() (Port, error)) {
	f.mu.Lock()
	f.factory[device] = factory
	f.mu.Unlock()
}

func (f *fakeOpener) open(device string, _ ...Option) (Port, error) {
	f.mu.Lock()
	f.opens[device]++
	factory := f.factory[device]
	f.mu.Unlock()
	if factory == nil {
		return nil, ErrDeviceNotFound
	}
	return factory()
}

func (f *fakeOpener) openCount(device string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[device]
}

func newTestManager(t *testing.T, l *fakeLister, o *fakeOpener, extra ...ManagerOption) *Manager {
	t.Helper()
	opts := []ManagerOption{
		WithScanInterval(15 * time.Millisecond),
		WithSettleDelay(time.Millisecond),
		WithProbeWindow(100 * time.Millisecond),
		WithPairAckWindow(120 * time.Millisecond),
		WithCloseYield(time.Millisecond),
		WithPortLister(l.list),
		WithOpener(o.open),
	}
	opts = append(opts, extra...)

	m, err := NewManager(opts...)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerAdmitsReceiver(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0")
	opener := newFakeOpener()
	port := identifyResponder(receiverHandshake)
	opener.add("/dev/ttyUSB0", func() (Port, error) { return port, nil })

	m := newTestManager(t, lister, opener)

	waitFor(t, "receiver admission", func() bool {
		_, ok := m.Receiver()
		return ok
	})

	recv, _ := m.Receiver()
	if recv.Type != DeviceReceiver || recv.MAC != receiverMAC {
		t.Errorf("receiver = %+v", recv)
	}
	if recv.State != StateActive {
		t.Errorf("state = %v, want active", recv.State)
	}

	// Unchanged port set: no re-probe, the device activates exactly once
	time.Sleep(80 * time.Millisecond)
	if n := opener.openCount("/dev/ttyUSB0"); n != 1 {
		t.Errorf("port opened %d times, want 1", n)
	}
}

func TestManagerPublishesVitals(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0")
	opener := newFakeOpener()
	port := identifyResponder(receiverHandshake)
	opener.add("/dev/ttyUSB0", func() (Port, error) { return port, nil })

	m := newTestManager(t, lister, opener)
	_, vitals, err := m.Vitals(8)
	if err != nil {
		t.Fatalf("Vitals failed: %v", err)
	}

	waitFor(t, "receiver admission", func() bool {
		_, ok := m.Receiver()
		return ok
	})

	port.feed(`{"sender":"AA:BB:CC:DD:EE:FF","rssi":-55,"id":4,"hr":72.5,"oxy":98,"rr":16.2,"temp":36.6,"stress":30.1,"motion":false}` + "\n")

	select {
	case frame := <-vitals:
		want := VitalsFrame{
			Sender: "AA:BB:CC:DD:EE:FF", RSSI: -55, ID: 4,
			HeartRate: 72.5, SpO2: 98, RespirationRate: 16.2,
			Temperature: 36.6, Stress: 30.1, MotionArtifact: false,
		}
		if frame != want {
			t.Errorf("frame = %+v, want %+v", frame, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no vitals frame published")
	}

	// Vitals passthrough never mutates the registry classification
	recv, _ := m.Receiver()
	if recv.Type != DeviceReceiver {
		t.Errorf("type mutated by vitals frame: %v", recv.Type)
	}
}

func TestManagerLateHandshakeNeverReclassifies(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0")
	opener := newFakeOpener()
	port := identifyResponder(receiverHandshake)
	opener.add("/dev/ttyUSB0", func() (Port, error) { return port, nil })

	m := newTestManager(t, lister, opener)
	waitFor(t, "receiver admission", func() bool {
		_, ok := m.Receiver()
		return ok
	})

	// A handshake arriving on the active connection claims to be a sender
	// with a different MAC; both identity facts are terminal.
	port.feed(`{"device":"AWEAR_SENDER","mac":"DE:AD:BE:EF:00:00"}` + "\n")
	time.Sleep(50 * time.Millisecond)

	dev, _ := m.Receiver()
	if dev.Type != DeviceReceiver || dev.MAC != receiverMAC {
		t.Errorf("late handshake reclassified the device: %+v", dev)
	}
}

func TestManagerProbeTimeoutSkips(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0")
	opener := newFakeOpener()
	port := newFakePort() // silent: never answers identify
	opener.add("/dev/ttyUSB0", func() (Port, error) { return port, nil })

	m := newTestManager(t, lister, opener)

	waitFor(t, "session skip", func() bool {
		return m.SkipReasonFor("/dev/ttyUSB0") == SkipSession
	})
	if len(m.Snapshot()) != 0 {
		t.Errorf("silent port appeared in device list: %v", m.Snapshot())
	}
	if !port.isClosed() {
		t.Error("silent port left open after timeout")
	}

	// The skip holds while the port stays present: no further opens
	opens := opener.openCount("/dev/ttyUSB0")
	time.Sleep(80 * time.Millisecond)
	if n := opener.openCount("/dev/ttyUSB0"); n != opens {
		t.Errorf("skipped port was probed again (%d -> %d opens)", opens, n)
	}
}

func TestManagerSkipClearsWhenPortCycles(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0")
	opener := newFakeOpener()
	opener.add("/dev/ttyUSB0", func() (Port, error) { return newFakePort(), nil })

	m := newTestManager(t, lister, opener)
	waitFor(t, "session skip", func() bool {
		return m.SkipReasonFor("/dev/ttyUSB0") == SkipSession
	})

	// Unplug: the session skip is forgiven
	lister.set()
	waitFor(t, "skip cleared", func() bool {
		return m.SkipReasonFor("/dev/ttyUSB0") == 0
	})

	// Replug with working firmware: the port gets another chance
	opener.add("/dev/ttyUSB0", func() (Port, error) {
		return identifyResponder(receiverHandshake), nil
	})
	lister.set("/dev/ttyUSB0")
	waitFor(t, "receiver admission after replug", func() bool {
		_, ok := m.Receiver()
		return ok
	})
}

func TestManagerBlacklistsConfigRejected(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0")
	opener := newFakeOpener()
	opener.add("/dev/ttyUSB0", func() (Port, error) { return nil, ErrConfigRejected })
	store := &memorySkipStore{}

	m := newTestManager(t, lister, opener, WithSkipStore(store))

	waitFor(t, "permanent blacklist", func() bool {
		return m.SkipReasonFor("/dev/ttyUSB0") == SkipPermanent
	})

	// Cycling the port does not forgive a permanent blacklist
	lister.set()
	time.Sleep(40 * time.Millisecond)
	lister.set("/dev/ttyUSB0")
	time.Sleep(80 * time.Millisecond)
	if m.SkipReasonFor("/dev/ttyUSB0") != SkipPermanent {
		t.Error("permanent blacklist cleared by port cycling")
	}

	waitFor(t, "blacklist persisted", func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.saves >= 1
	})
}

func TestManagerRetriesBusyPort(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0")
	opener := newFakeOpener()

	var attempts int
	var mu sync.Mutex
	opener.add("/dev/ttyUSB0", func() (Port, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return nil, ErrPortBusy
		}
		return identifyResponder(receiverHandshake), nil
	})

	m := newTestManager(t, lister, opener)

	// Busy is transient: the port stays present and is retried until
	// the open succeeds.
	waitFor(t, "receiver admission after busy retries", func() bool {
		_, ok := m.Receiver()
		return ok
	})
	if m.SkipReasonFor("/dev/ttyUSB0") != 0 {
		t.Error("busy port landed on the skip list")
	}
}

func TestManagerPairing(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyACM0")
	opener := newFakeOpener()
	port := identifyResponder(senderHandshake)
	opener.add("/dev/ttyACM0", func() (Port, error) { return port, nil })

	m := newTestManager(t, lister, opener)
	waitFor(t, "sender admission", func() bool {
		return len(m.Senders()) == 1
	})

	if err := m.Pair(context.Background(), "/dev/ttyACM0", receiverMAC); err != nil {
		t.Fatalf("Pair failed: %v", err)
	}
	if !port.wrote("PAIR:" + receiverMAC + "\n") {
		t.Error("pair command not written to the sender")
	}

	// The ack arrives as plain text, not a structured frame
	port.feed("PAIRED_OK\n")

	select {
	case ev := <-m.PairingEvents():
		if ev.PortName != "/dev/ttyACM0" {
			t.Errorf("event port = %q", ev.PortName)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pairing event")
	}
	if !m.PairingSucceeded("/dev/ttyACM0") {
		t.Error("success signal not raised")
	}

	// One-shot: the signal clears after the configured window
	waitFor(t, "signal to clear", func() bool {
		return !m.PairingSucceeded("/dev/ttyACM0")
	})
}

func TestManagerPairRejectsNonSender(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0")
	opener := newFakeOpener()
	opener.add("/dev/ttyUSB0", func() (Port, error) {
		return identifyResponder(receiverHandshake), nil
	})

	m := newTestManager(t, lister, opener)
	waitFor(t, "receiver admission", func() bool {
		_, ok := m.Receiver()
		return ok
	})

	if err := m.Pair(context.Background(), "/dev/ttyUSB0", receiverMAC); !errors.Is(err, ErrNotASender) {
		t.Errorf("Pair on a receiver err = %v, want ErrNotASender", err)
	}
	if err := m.Pair(context.Background(), "/dev/ttyUSB9", receiverMAC); !errors.Is(err, ErrNotASender) {
		t.Errorf("Pair on unknown port err = %v, want ErrNotASender", err)
	}
}

func TestManagerTearsDownRemovedPort(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0")
	opener := newFakeOpener()
	port := identifyResponder(receiverHandshake)
	opener.add("/dev/ttyUSB0", func() (Port, error) { return port, nil })

	m := newTestManager(t, lister, opener)
	waitFor(t, "receiver admission", func() bool {
		_, ok := m.Receiver()
		return ok
	})

	// Unplug: teardown must cancel the reader, close the handle, and
	// remove the record.
	lister.set()
	waitFor(t, "registry cleared", func() bool {
		return len(m.Snapshot()) == 0
	})
	waitFor(t, "handle closed", port.isClosed)
}

func TestManagerTearsDownOnStreamFault(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0")
	opener := newFakeOpener()
	port := identifyResponder(receiverHandshake)
	opener.add("/dev/ttyUSB0", func() (Port, error) { return port, nil })

	m := newTestManager(t, lister, opener)
	waitFor(t, "receiver admission", func() bool {
		_, ok := m.Receiver()
		return ok
	})

	// End-of-stream on the read loop drives the same teardown path
	port.failStream()
	waitFor(t, "registry cleared", func() bool {
		return len(m.Snapshot()) == 0
	})
	waitFor(t, "handle closed", port.isClosed)
}

func TestManagerStopTearsEverythingDown(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0", "/dev/ttyACM0")
	opener := newFakeOpener()
	recv := identifyResponder(receiverHandshake)
	send := identifyResponder(senderHandshake)
	opener.add("/dev/ttyUSB0", func() (Port, error) { return recv, nil })
	opener.add("/dev/ttyACM0", func() (Port, error) { return send, nil })

	m := newTestManager(t, lister, opener)
	waitFor(t, "both devices admitted", func() bool {
		return len(m.Snapshot()) == 2
	})

	m.Stop()

	if len(m.Snapshot()) != 0 {
		t.Errorf("devices survived Stop: %v", m.Snapshot())
	}
	if !recv.isClosed() || !send.isClosed() {
		t.Error("handles left open after Stop")
	}
}

func TestManagerCancelsProbeWhenPortVanishes(t *testing.T) {
	lister := &fakeLister{}
	lister.set("/dev/ttyUSB0")
	opener := newFakeOpener()
	port := newFakePort() // silent, so the probe hangs in its window
	opener.add("/dev/ttyUSB0", func() (Port, error) { return port, nil })

	m := newTestManager(t, lister, opener,
		WithProbeWindow(5*time.Second)) // long window: cancellation must win

	waitFor(t, "probe start", func() bool {
		return opener.openCount("/dev/ttyUSB0") == 1
	})

	// The port vanishes mid-probe; the probe must be cancelled and the
	// handle released well before the window would elapse.
	lister.set()
	waitFor(t, "probe handle released", port.isClosed)

	if _, ok := m.Receiver(); ok {
		t.Error("cancelled probe still produced a device")
	}
}
