package link

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func TestRegistryAddAndQuery(t *testing.T) {
	r := testRegistry()
	conn := newFakePort()

	err := r.Add(Device{
		PortName: "/dev/ttyUSB0",
		Type:     DeviceReceiver,
		MAC:      "08:92:72:85:83:78",
		State:    StateActive,
	}, conn)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	recv, ok := r.Receiver()
	if !ok {
		t.Fatal("Receiver() found nothing")
	}
	if recv.MAC != "08:92:72:85:83:78" {
		t.Errorf("MAC = %q", recv.MAC)
	}
	if !recv.Online {
		t.Error("admitted device not online")
	}

	if err := r.Add(Device{PortName: "/dev/ttyUSB0"}, conn); err != ErrDeviceExists {
		t.Errorf("duplicate Add err = %v, want ErrDeviceExists", err)
	}
}

func TestRegistrySendersQuery(t *testing.T) {
	r := testRegistry()
	r.Add(Device{PortName: "/dev/ttyUSB0", Type: DeviceReceiver, State: StateActive}, newFakePort())
	r.Add(Device{PortName: "/dev/ttyUSB1", Type: DeviceSender, MAC: "AA:BB:CC:DD:EE:FF", State: StateActive}, newFakePort())
	r.Add(Device{PortName: "/dev/ttyUSB2", Type: DeviceSender, MAC: "11:22:33:44:55:66", State: StateActive}, newFakePort())

	senders := r.Senders()
	if len(senders) != 2 {
		t.Fatalf("Senders() = %d devices, want 2", len(senders))
	}
	for _, s := range senders {
		if s.Type != DeviceSender {
			t.Errorf("non-sender in Senders(): %+v", s)
		}
	}
}

func TestRegistryIdentityIsTerminal(t *testing.T) {
	r := testRegistry()
	r.Add(Device{PortName: "/dev/ttyUSB0", Type: DeviceReceiver, State: StateActive}, newFakePort())

	// Unknown MAC may be filled in once
	r.ResolveIdentity("/dev/ttyUSB0", "08:92:72:85:83:78", "")
	dev, _ := r.Get("/dev/ttyUSB0")
	if dev.MAC != "08:92:72:85:83:78" {
		t.Fatalf("MAC not resolved: %q", dev.MAC)
	}

	// A later handshake must not replace it
	r.ResolveIdentity("/dev/ttyUSB0", "DE:AD:BE:EF:00:00", "")
	dev, _ = r.Get("/dev/ttyUSB0")
	if dev.MAC != "08:92:72:85:83:78" {
		t.Errorf("known MAC was replaced: %q", dev.MAC)
	}
	if dev.Type != DeviceReceiver {
		t.Errorf("type changed: %v", dev.Type)
	}
}

func TestRegistryTeardownSequence(t *testing.T) {
	r := testRegistry()
	conn := newFakePort()
	r.Add(Device{PortName: "/dev/ttyUSB0", Type: DeviceSender, State: StateActive}, conn)

	got, ok := r.BeginTeardown("/dev/ttyUSB0")
	if !ok || got != conn {
		t.Fatal("BeginTeardown did not hand the connection back")
	}

	// Device stays visible (offline, disconnecting) until Remove
	dev, present := r.Get("/dev/ttyUSB0")
	if !present {
		t.Fatal("device vanished mid-teardown")
	}
	if dev.State != StateDisconnecting || dev.Online {
		t.Errorf("mid-teardown state = %v online=%v", dev.State, dev.Online)
	}

	// A second teardown request is a no-op
	if _, ok := r.BeginTeardown("/dev/ttyUSB0"); ok {
		t.Error("second BeginTeardown succeeded")
	}

	r.Remove("/dev/ttyUSB0")
	if _, present := r.Get("/dev/ttyUSB0"); present {
		t.Error("device still present after Remove")
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := testRegistry()
	r.Add(Device{PortName: "/dev/ttyUSB0", Type: DeviceReceiver, MAC: "08:92:72:85:83:78", State: StateActive}, newFakePort())

	snap := r.Snapshot()
	snap[0].MAC = "mutated"
	snap[0].Type = DeviceSender

	dev, _ := r.Get("/dev/ttyUSB0")
	if dev.MAC != "08:92:72:85:83:78" || dev.Type != DeviceReceiver {
		t.Error("mutating a snapshot leaked into the registry")
	}
}

func TestRegistrySubscribe(t *testing.T) {
	r := testRegistry()
	id, ch := r.Subscribe(4)
	defer r.Unsubscribe(id)

	// Initial snapshot is delivered immediately
	snap := <-ch
	if len(snap) != 0 {
		t.Fatalf("initial snapshot has %d devices, want 0", len(snap))
	}

	r.Add(Device{PortName: "/dev/ttyUSB0", Type: DeviceSender, State: StateActive}, newFakePort())
	snap = <-ch
	if len(snap) != 1 || snap[0].PortName != "/dev/ttyUSB0" {
		t.Fatalf("post-add snapshot = %+v", snap)
	}

	r.Remove("/dev/ttyUSB0")
	snap = <-ch
	if len(snap) != 0 {
		t.Fatalf("post-remove snapshot has %d devices", len(snap))
	}
}

func TestRegistrySubscribeUnderConcurrentMutation(t *testing.T) {
	r := testRegistry()

	// Mutators keep broadcasts flowing while subscribers register. The
	// initial snapshot must always arrive: a broadcast sneaking into the
	// single-slot buffer between registration and that delivery would
	// hang Subscribe forever.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			port := fmt.Sprintf("/dev/ttyUSB%d", n)
			for {
				select {
				case <-stop:
					return
				default:
				}
				r.Add(Device{PortName: port, Type: DeviceSender, State: StateActive}, newFakePort())
				r.Remove(port)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20000; i++ {
			id, ch := r.Subscribe(1)
			<-ch
			r.Unsubscribe(id)
		}
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("Subscribe blocked delivering its initial snapshot")
	}
	close(stop)
	wg.Wait()
}

func TestRegistryDefaultsUnknownMAC(t *testing.T) {
	r := testRegistry()
	r.Add(Device{PortName: "/dev/ttyUSB0", Type: DeviceSender, State: StateActive}, newFakePort())

	dev, _ := r.Get("/dev/ttyUSB0")
	if dev.MAC != MACUnknown {
		t.Errorf("MAC = %q, want %q", dev.MAC, MACUnknown)
	}
}
