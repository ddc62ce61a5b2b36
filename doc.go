// Package link discovers AWEAR biometric hardware on local serial ports
// and manages the links to it.
//
// The manager enumerates serial ports on an interval, probes every newly
// seen port with the AWEAR identify handshake, and classifies what
// answers as either a receiver (the USB gateway relaying wireless
// telemetry) or a sender (a wearable transmitter). Classified
// connections get their own read loop; decoded vitals frames fan out to
// subscribers, and a pairing command channel associates senders with a
// receiver.
//
// # Basic Usage
//
// Run the manager against real hardware:
//
//	mgr, err := link.NewManager(link.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop()
//
//	_, vitals, _ := mgr.Vitals(64)
//	for frame := range vitals {
//	    fmt.Printf("%s hr=%.1f spo2=%d\n", frame.Sender, frame.HeartRate, frame.SpO2)
//	}
//
// # Device Snapshots
//
// Every registry mutation publishes an immutable snapshot of the device
// list, so consumers never observe partial state:
//
//	_, devices := mgr.Devices(8)
//	for snapshot := range devices {
//	    for _, dev := range snapshot {
//	        fmt.Printf("%s %s mac=%s\n", dev.PortName, dev.Type, dev.MAC)
//	    }
//	}
//
// # Pairing
//
// Pair an active sender with a receiver and watch for the asynchronous
// acknowledgment:
//
//	err := mgr.Pair(ctx, "/dev/ttyUSB1", receiver.MAC)
//	for ev := range mgr.PairingEvents() {
//	    fmt.Printf("paired: %s\n", ev.PortName)
//	}
//
// # Serial Layer
//
// The underlying serial layer is usable on its own and matches the
// AWEAR firmware's line configuration by default (921600 8N1, DTR and
// RTS asserted):
//
//	port, err := link.Open("/dev/ttyUSB0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//	n, err := port.ReadContext(ctx, buffer)
//
// # Error Handling
//
// Probe failures carry sentinel errors that drive the retry policy:
//
//	var (
//	    ErrPortBusy       // transient, retried on a later scan
//	    ErrConfigRejected // hardware incompatible, blacklisted
//	    ErrProbeTimeout   // no handshake, skipped for the session
//	    // ... and more
//	)
//
// Use errors.Is() for classification:
//
//	if errors.Is(err, link.ErrConfigRejected) {
//	    // this port can never carry the firmware
//	}
//
// No failure in this package is fatal to the process; everything
// degrades to "this port is currently unavailable."
//
// # Platform Support
//
// The serial layer is Linux-only (termios via golang.org/x/sys/unix).
// USB metadata extraction and device reset rely on sysfs and the
// usbreset utility.
package link
