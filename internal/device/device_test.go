package device

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"TransitFleet/internal/model"
)

func TestMemoryDeviceLoopback(t *testing.T) {
	m := NewMemoryDevice(2)
	if err := m.WriteLine("a"); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteLine("b"); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteLine("c"); err == nil {
		t.Fatal("write beyond buffer succeeded")
	}
	if got, _ := m.ReadLine(time.Second); got != "a" {
		t.Fatalf("first line = %q", got)
	}
	if _, err := m.ReadLine(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReadLine(10 * time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("empty read err = %v", err)
	}
	_ = m.Close()
	_ = m.Close()
	if err := m.WriteLine("d"); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after close err = %v", err)
	}
}

func TestWriterDevice(t *testing.T) {
	var buf bytes.Buffer
	d := NewWriterDevice(&buf)
	_ = d.WriteLine("one")
	_ = d.WriteLine("two")
	if buf.String() != "one\ntwo\n" {
		t.Fatalf("output = %q", buf.String())
	}
	_ = d.Close()
	if err := d.WriteLine("three"); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after close err = %v", err)
	}
}

func TestListen(t *testing.T) {
	m := NewMemoryDevice(8)
	decode := func(line string) (model.VehicleData, error) {
		if !strings.HasPrefix(line, "v:") {
			return model.VehicleData{}, fmt.Errorf("bad line %q", line)
		}
		return model.VehicleData{VehicleID: strings.TrimPrefix(line, "v:")}, nil
	}
	for _, line := range []string{"v:bus-1", "garbage", "", "v:rail-2"} {
		_ = m.WriteLine(line)
	}

	out := make(chan model.VehicleData, 8)
	l := Listen(m, decode, out)

	var got []string
	for len(got) < 2 {
		select {
		case v := <-out:
			got = append(got, v.VehicleID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	l.Stop()
	l.Stop()

	if got[0] != "bus-1" || got[1] != "rail-2" {
		t.Fatalf("got %v", got)
	}
	if l.Rejected() != 1 {
		t.Fatalf("rejected = %d, want 1", l.Rejected())
	}
	if _, open := <-out; open {
		t.Fatal("out not closed after Stop")
	}
}

// pipePort stands in for a serial port: reads come from a pipe, writes go
// to w.
type pipePort struct {
	*io.PipeReader
	w io.Writer
}

func (p pipePort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p pipePort) Close() error                { return p.PipeReader.Close() }

func TestSerialReadAfterTimeoutKeepsLines(t *testing.T) {
	pr, pw := io.Pipe()
	var sent bytes.Buffer
	s := &SerialDevice{dev: "pipe", baud: 9600}
	s.attach(pipePort{PipeReader: pr, w: &sent})

	if _, err := s.ReadLine(20 * time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("idle read err = %v, want ErrReadTimeout", err)
	}
	if _, err := s.ReadLine(20 * time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("second idle read err = %v, want ErrReadTimeout", err)
	}

	go func() { _, _ = pw.Write([]byte("first\nsecond\n")) }()
	for _, want := range []string{"first\n", "second\n"} {
		got, err := s.ReadLine(time.Second)
		if err != nil || got != want {
			t.Fatalf("ReadLine = %q, %v; want %q", got, err, want)
		}
	}

	if err := s.WriteLine("hello"); err != nil {
		t.Fatal(err)
	}
	if sent.String() != "hello\n" {
		t.Fatalf("written = %q", sent.String())
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadLine(time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close err = %v, want ErrClosed", err)
	}
	if err := s.WriteLine("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after close err = %v, want ErrClosed", err)
	}
}

func TestSerialReadErrorEndsStream(t *testing.T) {
	pr, pw := io.Pipe()
	s := &SerialDevice{dev: "pipe", baud: 9600}
	s.attach(pipePort{PipeReader: pr, w: io.Discard})
	defer s.Close()

	go func() {
		_, _ = pw.Write([]byte("partial"))
		_ = pw.Close()
	}()
	got, err := s.ReadLine(time.Second)
	if got != "partial" || !errors.Is(err, io.EOF) {
		t.Fatalf("ReadLine = %q, %v; want partial line and EOF", got, err)
	}
	if _, err := s.ReadLine(time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after EOF err = %v, want ErrClosed", err)
	}
}
