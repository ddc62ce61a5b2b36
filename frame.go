package link

import (
	"bytes"
	"encoding/json"
)

// Wire protocol literals shared with the AWEAR firmware
const (
	identifyCommand = "AWEAR_IDENTIFY"
	pairCommand     = "PAIR:"
	pairAckToken    = "PAIRED_OK"

	deviceReceiver = "AWEAR_RECEIVER"
	deviceSender   = "AWEAR_SENDER"
)

// DefaultBufferCap is the per-connection line buffer bound. A connection
// that streams this much without a newline gets its buffer discarded.
const DefaultBufferCap = 32768

// Frame is a decoded line from the wire protocol: either a HandshakeFrame
// or a VitalsFrame.
type Frame interface {
	frame()
}

// HandshakeFrame is an identify response from a receiver or sender
type HandshakeFrame struct {
	Status   string `json:"status"`
	Device   string `json:"device"`
	Channel  int    `json:"channel"`
	MAC      string `json:"mac"`
	PairedTo string `json:"paired_to,omitempty"`
}

func (*HandshakeFrame) frame() {}

// Type maps the handshake's device identifier onto a DeviceType
func (h *HandshakeFrame) Type() DeviceType {
	switch h.Device {
	case deviceReceiver:
		return DeviceReceiver
	case deviceSender:
		return DeviceSender
	default:
		return DeviceUnknown
	}
}

// VitalsFrame is one telemetry sample relayed by the receiver. Values are
// passed through untouched; this layer attaches no meaning to them.
type VitalsFrame struct {
	Sender          string  `json:"sender"`
	RSSI            int     `json:"rssi"`
	ID              uint64  `json:"id"`
	HeartRate       float64 `json:"hr"`
	SpO2            int     `json:"oxy"`
	RespirationRate float64 `json:"rr"`
	Temperature     float64 `json:"temp"`
	Stress          float64 `json:"stress"`
	MotionArtifact  bool    `json:"motion"`
}

func (*VitalsFrame) frame() {}

// ParseFrame decodes a single trimmed line. It returns nil for anything
// that is not a recognizable frame; malformed input never stops the stream.
func ParseFrame(line []byte) Frame {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(line, &keys); err != nil {
		return nil
	}

	_, hasDevice := keys["device"]
	_, hasMAC := keys["mac"]
	if hasDevice && hasMAC {
		var h HandshakeFrame
		if err := json.Unmarshal(line, &h); err != nil {
			return nil
		}
		return &h
	}

	if _, hasSender := keys["sender"]; hasSender {
		var v VitalsFrame
		if err := json.Unmarshal(line, &v); err != nil {
			return nil
		}
		return &v
	}

	return nil
}

// LineBuffer is the per-connection incremental frame parser. It owns one
// bounded buffer; bytes are appended as they arrive and complete
// newline-terminated frames are extracted.
type LineBuffer struct {
	buf      []byte
	capacity int
}

// NewLineBuffer creates a line buffer with the given capacity.
// Non-positive capacities fall back to DefaultBufferCap.
func NewLineBuffer(capacity int) *LineBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCap
	}
	return &LineBuffer{capacity: capacity}
}

// Append adds a chunk to the buffer and returns all frames completed by
// it. Empty lines and undecodable lines are skipped. If the buffer would
// exceed its capacity without containing a newline, it is discarded
// entirely: bounded memory wins over lossless delivery.
func (b *LineBuffer) Append(chunk []byte) []Frame {
	b.buf = append(b.buf, chunk...)

	var frames []Frame
	for {
		idx := bytes.IndexByte(b.buf, '\n')
		if idx < 0 {
			if len(b.buf) > b.capacity {
				b.buf = b.buf[:0]
			}
			return frames
		}

		line := bytes.TrimSpace(b.buf[:idx])
		b.buf = b.buf[idx+1:]
		if len(line) == 0 {
			continue
		}

		if f := ParseFrame(line); f != nil {
			frames = append(frames, f)
		}
	}
}

// Len returns the number of buffered bytes awaiting a newline
func (b *LineBuffer) Len() int {
	return len(b.buf)
}
