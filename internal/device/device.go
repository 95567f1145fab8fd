// Package device defines a unified interface for line-oriented output
// devices such as serial ports and LoRa modems.
package device

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrReadTimeout is returned by ReadLine when no line arrived in time.
var ErrReadTimeout = errors.New("device: read timeout")

// ErrClosed is returned by operations on a closed device.
var ErrClosed = errors.New("device: closed")

// Device defines an abstract interface for communication devices (e.g., LoRa, Serial).
type Device interface {
	// ReadLine reads a single line terminated by '\n'.
	// If timeout > 0, it must return after timeout even if no data available.
	ReadLine(timeout time.Duration) (string, error)

	// WriteLine writes s followed by '\n' to the device.
	WriteLine(s string) error

	// Close closes the device and releases underlying resources.
	Close() error
}

// WriterDevice is a write-only Device over an io.Writer, used when telemetry
// goes to stdout instead of a port.
type WriterDevice struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriterDevice wraps w.
func NewWriterDevice(w io.Writer) *WriterDevice {
	return &WriterDevice{w: bufio.NewWriter(w)}
}

// ReadLine always fails; the device is write-only.
func (d *WriterDevice) ReadLine(time.Duration) (string, error) {
	return "", errors.New("device: write-only")
}

// WriteLine writes and flushes one line.
func (d *WriterDevice) WriteLine(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return ErrClosed
	}
	if _, err := d.w.WriteString(s + "\n"); err != nil {
		return err
	}
	return d.w.Flush()
}

// Close flushes pending output. The underlying writer is left open.
func (d *WriterDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return nil
	}
	err := d.w.Flush()
	d.w = nil
	return err
}

// MemoryDevice is an in-process loopback: lines written are read back in
// order. Useful for wiring an exporter to a listener without hardware.
type MemoryDevice struct {
	lines  chan string
	mu     sync.Mutex
	closed bool
}

// NewMemoryDevice buffers up to size lines; writes beyond that fail.
func NewMemoryDevice(size int) *MemoryDevice {
	return &MemoryDevice{lines: make(chan string, size)}
}

// ReadLine pops the oldest line.
func (m *MemoryDevice) ReadLine(timeout time.Duration) (string, error) {
	if timeout <= 0 {
		line, ok := <-m.lines
		if !ok {
			return "", ErrClosed
		}
		return line, nil
	}
	select {
	case line, ok := <-m.lines:
		if !ok {
			return "", ErrClosed
		}
		return line, nil
	case <-time.After(timeout):
		return "", ErrReadTimeout
	}
}

// WriteLine queues s.
func (m *MemoryDevice) WriteLine(s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.lines <- s:
		return nil
	default:
		return errors.New("device: memory buffer full")
	}
}

// Len returns the number of unread lines.
func (m *MemoryDevice) Len() int {
	return len(m.lines)
}

// Close stops further writes; queued lines can still be read.
func (m *MemoryDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.lines)
	}
	return nil
}
