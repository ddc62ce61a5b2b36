package link

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Ports the firmware can never live on: the legacy PC UART and the Pi
// console UART are reserved for system consoles and are never probed.
var ignoredPorts = map[string]struct{}{
	"/dev/ttyS0":   {},
	"/dev/ttyAMA0": {},
}

// ListPorts returns the available serial ports on the system.
// Filters for communication-capable devices, excludes virtual terminals
// and the reserved system console ports.
func ListPorts() ([]string, error) {
	var ports []string

	devDir := "/dev"
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, err
	}

	patterns := []*regexp.Regexp{
		regexp.MustCompile(`^ttyUSB\d+$`), // USB serial adapters
		regexp.MustCompile(`^ttyACM\d+$`), // USB CDC/ACM devices
		regexp.MustCompile(`^ttyS\d+$`),   // Standard serial ports
		regexp.MustCompile(`^ttyAMA\d+$`), // ARM/Raspberry Pi serial
		regexp.MustCompile(`^ttymxc\d+$`), // i.MX serial ports
	}

	excludePatterns := []*regexp.Regexp{
		regexp.MustCompile(`^tty\d+$`),  // Virtual terminals
		regexp.MustCompile(`^console$`), // Console
		regexp.MustCompile(`^ptmx$`),    // Pseudo-terminal multiplexer
		regexp.MustCompile(`^pty.*$`),   // Pseudo-terminals
		regexp.MustCompile(`^pts/.*$`),  // Pseudo-terminal slaves
	}

	for _, entry := range entries {
		name := entry.Name()

		excluded := false
		for _, excludePattern := range excludePatterns {
			if excludePattern.MatchString(name) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}

		matched := false
		for _, pattern := range patterns {
			if pattern.MatchString(name) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		fullPath := filepath.Join(devDir, name)
		if isIgnoredPort(fullPath) {
			continue
		}

		if isCharacterDevice(fullPath) {
			ports = append(ports, fullPath)
		}
	}

	sort.Strings(ports)

	return ports, nil
}

// isIgnoredPort reports whether the port is one of the reserved system
// console ports that are never probed regardless of scan diffs.
func isIgnoredPort(path string) bool {
	_, ok := ignoredPorts[path]
	return ok
}

// isCharacterDevice checks if the given path is a character device
func isCharacterDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}

// PortInfo holds metadata about a serial port
type PortInfo struct {
	Name         string
	Path         string
	Description  string
	VendorID     string
	ProductID    string
	SerialNumber string
	BusNumber    string
	DeviceNumber string
}

// GetPortInfo returns detailed information about a specific port
func GetPortInfo(portPath string) (*PortInfo, error) {
	if !isCharacterDevice(portPath) {
		return nil, ErrDeviceNotFound
	}

	name := filepath.Base(portPath)

	info := &PortInfo{
		Name:        name,
		Path:        portPath,
		Description: getPortDescription(name),
	}

	if strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM") {
		enrichUSBInfo(info)
	}

	return info, nil
}

// getPortDescription provides human-readable descriptions for different port types
func getPortDescription(name string) string {
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return "USB Serial Port"
	case strings.HasPrefix(name, "ttyACM"):
		return "USB CDC/ACM Device"
	case strings.HasPrefix(name, "ttyAMA"):
		return "ARM Serial Port"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial Port"
	case strings.HasPrefix(name, "ttyS"):
		return "Standard Serial Port"
	default:
		return "Serial Port"
	}
}

// enrichUSBInfo reads USB device metadata from sysfs.
//
// /sys/class/tty/<dev>/device is a symlink into the USB device tree; the
// usb-device directory (the one carrying idVendor) is found by walking up
// from there.
func enrichUSBInfo(info *PortInfo) {
	base, err := filepath.EvalSymlinks(filepath.Join("/sys/class/tty", info.Name, "device"))
	if err != nil {
		return
	}

	// Walk up until a directory with idVendor appears (at most a few levels)
	dir := base
	for i := 0; i < 4; i++ {
		if _, err := os.Stat(filepath.Join(dir, "idVendor")); err == nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	readAttr := func(attr string) string {
		data, err := os.ReadFile(filepath.Join(dir, attr))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(data))
	}

	info.VendorID = readAttr("idVendor")
	info.ProductID = readAttr("idProduct")
	info.SerialNumber = readAttr("serial")
	info.BusNumber = readAttr("busnum")
	info.DeviceNumber = readAttr("devnum")

	if desc := readAttr("product"); desc != "" {
		info.Description = desc
	}
}
