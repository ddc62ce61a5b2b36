package link

import (
	"strings"
	"testing"
)

func TestListPorts(t *testing.T) {
	ports, err := ListPorts()
	if err != nil {
		t.Errorf("ListPorts failed: %v", err)
	}

	for _, port := range ports {
		if !strings.HasPrefix(port, "/dev/") {
			t.Errorf("Port path doesn't start with /dev/: %s", port)
		}
		if !isCharacterDevice(port) {
			t.Errorf("Port is not a character device: %s", port)
		}
		if isIgnoredPort(port) {
			t.Errorf("Reserved console port listed: %s", port)
		}
	}

	for i := 1; i < len(ports); i++ {
		if ports[i-1] > ports[i] {
			t.Errorf("Ports are not sorted: %s > %s", ports[i-1], ports[i])
		}
	}
}

func TestIsIgnoredPort(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/dev/ttyS0", true},
		{"/dev/ttyAMA0", true},
		{"/dev/ttyS1", false},
		{"/dev/ttyAMA1", false},
		{"/dev/ttyUSB0", false},
	}

	for _, tt := range tests {
		if got := isIgnoredPort(tt.path); got != tt.expected {
			t.Errorf("isIgnoredPort(%s) = %v, expected %v", tt.path, got, tt.expected)
		}
	}
}

func TestIsCharacterDevice(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/dev/null", true},
		{"/dev/zero", true},
		{"/tmp", false},
		{"/nonexistent", false},
	}

	for _, tt := range tests {
		if got := isCharacterDevice(tt.path); got != tt.expected {
			t.Errorf("isCharacterDevice(%s) = %v, expected %v", tt.path, got, tt.expected)
		}
	}
}

func TestGetPortDescription(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"ttyUSB0", "USB Serial Port"},
		{"ttyACM2", "USB CDC/ACM Device"},
		{"ttyAMA1", "ARM Serial Port"},
		{"ttymxc0", "i.MX Serial Port"},
		{"ttyS4", "Standard Serial Port"},
		{"other", "Serial Port"},
	}

	for _, tt := range tests {
		if got := getPortDescription(tt.name); got != tt.expected {
			t.Errorf("getPortDescription(%s) = %q, expected %q", tt.name, got, tt.expected)
		}
	}
}
