package link

import (
	"fmt"
	"os/exec"
	"time"
)

// ResetUSBDevice performs a USB-level reset of the adapter behind a
// port. Flaky receivers sometimes wedge in a state where only a
// re-enumeration recovers them; this does it without a physical unplug.
//
// Requires the usbreset utility (usbutils package) and permissions to
// talk to the USB bus, typically root.
func ResetUSBDevice(portPath string) error {
	info, err := GetPortInfo(portPath)
	if err != nil {
		return fmt.Errorf("failed to get port info: %w", err)
	}

	if info.BusNumber == "" || info.DeviceNumber == "" {
		return ErrUSBInfoNotAvailable
	}

	if !IsUSBResetAvailable() {
		return ErrUSBResetNotAvailable
	}

	// usbreset expects zero-padded 3-digit bus and device numbers
	usbPath := fmt.Sprintf("%03s/%03s", info.BusNumber, info.DeviceNumber)

	cmd := exec.Command("usbreset", usbPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("usbreset failed: %w (output: %s)", err, string(output))
	}

	// Wait for the device to re-enumerate; typically 1-2 seconds
	time.Sleep(2 * time.Second)

	return nil
}

// ResetUSBDeviceBySerial resets a USB device by its serial number.
// Useful because the port path often changes after a reset.
func ResetUSBDeviceBySerial(serialNumber string) error {
	ports, err := ListPorts()
	if err != nil {
		return err
	}

	for _, portPath := range ports {
		info, err := GetPortInfo(portPath)
		if err != nil {
			continue
		}

		if info.SerialNumber == serialNumber {
			return ResetUSBDevice(portPath)
		}
	}

	return fmt.Errorf("device with serial %s not found", serialNumber)
}

// IsUSBResetAvailable checks if the usbreset utility is available in PATH
func IsUSBResetAvailable() bool {
	_, err := exec.LookPath("usbreset")
	return err == nil
}
