package device

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	serial "go.bug.st/serial"
)

// SerialDevice implements Device using go.bug.st/serial. A single reader
// goroutine per open port feeds ReadLine, so a timed-out read never loses
// the line that arrives later.
type SerialDevice struct {
	dev  string
	baud int

	mu    sync.Mutex
	port  io.ReadWriteCloser
	lines chan readResult
	done  chan struct{}
}

type readResult struct {
	line string
	err  error
}

// NewSerialDevice creates and opens a serial device with the given path and baudrate.
func NewSerialDevice(dev string, baud int) (*SerialDevice, error) {
	s := &SerialDevice{dev: dev, baud: baud}
	if err := s.Open(); err != nil {
		return nil, err
	}
	return s, nil
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// String returns the port path and speed.
func (s *SerialDevice) String() string {
	return fmt.Sprintf("%s@%d", s.dev, s.baud)
}

// Open (re)opens the port if it is closed.
func (s *SerialDevice) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	p, err := serial.Open(s.dev, &serial.Mode{BaudRate: s.baud})
	if err != nil {
		return fmt.Errorf("open serial %s: %w", s.dev, err)
	}
	s.attach(p)
	return nil
}

// attach starts the reader goroutine over p. Callers hold mu.
func (s *SerialDevice) attach(p io.ReadWriteCloser) {
	s.port = p
	s.lines = make(chan readResult)
	s.done = make(chan struct{})
	go readLines(bufio.NewReader(p), s.lines, s.done)
}

// readLines delivers lines until the first read error, which is delivered
// too, or until done is closed. out is closed on exit.
func readLines(r *bufio.Reader, out chan<- readResult, done <-chan struct{}) {
	defer close(out)
	for {
		line, err := r.ReadString('\n')
		select {
		case out <- readResult{line, err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Close closes the underlying serial connection and stops its reader.
func (s *SerialDevice) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	close(s.done)
	err := s.port.Close()
	s.port = nil
	return err
}

// ReadLine returns the next line including its newline, blocking until one
// arrives or timeout passes. A timeout <= 0 waits indefinitely.
func (s *SerialDevice) ReadLine(timeout time.Duration) (string, error) {
	s.mu.Lock()
	lines := s.lines
	open := s.port != nil
	s.mu.Unlock()
	if !open {
		return "", ErrClosed
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case res, ok := <-lines:
		if !ok {
			return "", ErrClosed
		}
		return res.line, res.err
	case <-expired:
		return "", ErrReadTimeout
	}
}

// WriteLine writes a single line followed by '\n' to the serial port.
func (s *SerialDevice) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrClosed
	}
	_, err := s.port.Write(append([]byte(line), '\n'))
	return err
}
