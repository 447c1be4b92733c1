// Package mwsource drives the microwave signal generator over its serial
// SCPI interface: carrier frequency, output power and RF gating. The sweep
// runner programs it once per sweep point.
package mwsource

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/spinlab-data/nvsweep/internal/monitoring"
)

// Source is the generator contract the sweep runner programs.
type Source interface {
	// Initialize queries the instrument identity and puts it in a known
	// state: RF off, remote mode.
	Initialize() error
	SetFrequency(hz float64) error
	SetPower(dbm float64) error
	RFOn() error
	RFOff() error
	Close() error
}

// frequency and power limits of the supported generator family
const (
	minFrequencyHz = 100e3
	maxFrequencyHz = 6e9
	minPowerDBm    = -120.0
	maxPowerDBm    = 25.0
)

// SCPISource talks SCPI over a byte stream, usually a serial port. Command
// writes are serialised by a mutex so HTTP handlers and the runner cannot
// interleave half-written commands.
type SCPISource struct {
	rw        io.ReadWriteCloser
	reader    *bufio.Reader
	commandMu sync.Mutex
	logf      func(format string, v ...interface{})
}

// NewSerialSource opens the serial port at 115200 8N1 and wraps it in an
// SCPISource.
func NewSerialSource(portName string) (*SCPISource, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	return NewSCPISource(port), nil
}

// NewSCPISource wraps an already-open byte stream. Tests pass an in-memory
// pipe.
func NewSCPISource(rw io.ReadWriteCloser) *SCPISource {
	return &SCPISource{
		rw:     rw,
		reader: bufio.NewReader(rw),
		logf:   monitoring.Prefixed("mw"),
	}
}

// command writes a single SCPI command terminated by a newline.
func (s *SCPISource) command(cmd string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	return s.write(cmd)
}

// write sends a command with the mutex already held.
func (s *SCPISource) write(cmd string) error {
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	n, err := s.rw.Write([]byte(cmd))
	if err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(cmd), err)
	}
	if n != len(cmd) {
		return fmt.Errorf("short write for %q: %d of %d bytes", strings.TrimSpace(cmd), n, len(cmd))
	}
	return nil
}

// query writes a command and reads one newline-terminated reply. The mutex
// is held across the write and the read so a concurrent command cannot slip
// in between and claim the reply.
func (s *SCPISource) query(cmd string) (string, error) {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if err := s.write(cmd); err != nil {
		return "", err
	}
	line, err := s.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read reply to %q: %w", cmd, err)
	}
	return strings.TrimSpace(line), nil
}

func (s *SCPISource) Initialize() error {
	idn, err := s.query("*IDN?")
	if err != nil {
		return fmt.Errorf("identify generator: %w", err)
	}
	s.logf("connected to %s", idn)

	for _, cmd := range []string{
		"SYST:REM",  // remote control
		"OUTP OFF",  // RF off until the sweep arms it
		"FREQ:MODE CW",
		"POW:MODE FIX",
	} {
		if err := s.command(cmd); err != nil {
			return fmt.Errorf("initialise generator: %w", err)
		}
	}
	return nil
}

func (s *SCPISource) SetFrequency(hz float64) error {
	if hz < minFrequencyHz || hz > maxFrequencyHz {
		return fmt.Errorf("frequency %g Hz outside generator range [%g, %g]", hz, minFrequencyHz, maxFrequencyHz)
	}
	return s.command("FREQ " + strconv.FormatFloat(hz, 'f', -1, 64))
}

func (s *SCPISource) SetPower(dbm float64) error {
	if dbm < minPowerDBm || dbm > maxPowerDBm {
		return fmt.Errorf("power %g dBm outside generator range [%g, %g]", dbm, minPowerDBm, maxPowerDBm)
	}
	return s.command(fmt.Sprintf("POW %.2f", dbm))
}

func (s *SCPISource) RFOn() error  { return s.command("OUTP ON") }
func (s *SCPISource) RFOff() error { return s.command("OUTP OFF") }

func (s *SCPISource) Close() error {
	// best effort: leave the bench instrument silent and local
	if err := s.command("OUTP OFF"); err != nil {
		s.logf("failed to disable RF on close: %v", err)
	}
	if err := s.command("SYST:LOC"); err != nil {
		s.logf("failed to return to local mode: %v", err)
	}
	return s.rw.Close()
}
