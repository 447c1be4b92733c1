package mwsource

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedPort feeds canned replies to reads and captures writes.
type scriptedPort struct {
	io.Reader
	writes bytes.Buffer
	closed bool
}

func (p *scriptedPort) Write(b []byte) (int, error) { return p.writes.Write(b) }
func (p *scriptedPort) Close() error                { p.closed = true; return nil }

func newScriptedPort(replies string) *scriptedPort {
	return &scriptedPort{Reader: strings.NewReader(replies)}
}

func TestInitializeSendsHandshake(t *testing.T) {
	port := newScriptedPort("Stanford Research Systems,SG6000PRO,s/n 004,v1.2\n")
	src := NewSCPISource(port)

	if err := src.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	sent := port.writes.String()
	for _, want := range []string{"*IDN?\n", "SYST:REM\n", "OUTP OFF\n", "FREQ:MODE CW\n"} {
		if !strings.Contains(sent, want) {
			t.Errorf("handshake missing %q; sent: %q", want, sent)
		}
	}
}

func TestSetFrequencyFormatsHz(t *testing.T) {
	port := newScriptedPort("")
	src := NewSCPISource(port)

	if err := src.SetFrequency(2.87e9); err != nil {
		t.Fatal(err)
	}
	if got := port.writes.String(); got != "FREQ 2870000000\n" {
		t.Errorf("unexpected command: %q", got)
	}
}

func TestSetFrequencyRange(t *testing.T) {
	src := NewSCPISource(newScriptedPort(""))
	if err := src.SetFrequency(7e9); err == nil {
		t.Error("7 GHz accepted, generator tops out at 6 GHz")
	}
	if err := src.SetFrequency(10); err == nil {
		t.Error("10 Hz accepted, below minimum")
	}
}

func TestSetPower(t *testing.T) {
	port := newScriptedPort("")
	src := NewSCPISource(port)
	if err := src.SetPower(-11.5); err != nil {
		t.Fatal(err)
	}
	if got := port.writes.String(); got != "POW -11.50\n" {
		t.Errorf("unexpected command: %q", got)
	}
	if err := src.SetPower(40); err == nil {
		t.Error("40 dBm accepted, beyond output limit")
	}
}

func TestSetPowerRangeErrorNamesLimits(t *testing.T) {
	src := NewSCPISource(newScriptedPort(""))
	err := src.SetPower(-200)
	if err == nil {
		t.Fatal("-200 dBm accepted, below output limit")
	}
	if msg := err.Error(); !strings.Contains(msg, "-120") || !strings.Contains(msg, "25") {
		t.Errorf("limits missing from error: %q", msg)
	}
}

// echoPort replies to every written command with "ack <command>".
type echoPort struct {
	mu      sync.Mutex
	pending bytes.Buffer
}

func (p *echoPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.WriteString("ack " + strings.TrimSpace(string(b)) + "\n")
	return len(b), nil
}

func (p *echoPort) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if p.pending.Len() > 0 {
			n, err := p.pending.Read(b)
			p.mu.Unlock()
			return n, err
		}
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

func (p *echoPort) Close() error { return nil }

func TestConcurrentQueriesGetMatchingReplies(t *testing.T) {
	src := NewSCPISource(&echoPort{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("QUERY%d?", i)
			reply, err := src.query(cmd)
			if err != nil {
				errs <- err
				return
			}
			if reply != "ack "+cmd {
				errs <- fmt.Errorf("reply %q for %q", reply, cmd)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRFOnOff(t *testing.T) {
	port := newScriptedPort("")
	src := NewSCPISource(port)
	if err := src.RFOn(); err != nil {
		t.Fatal(err)
	}
	if err := src.RFOff(); err != nil {
		t.Fatal(err)
	}
	if got := port.writes.String(); got != "OUTP ON\nOUTP OFF\n" {
		t.Errorf("unexpected commands: %q", got)
	}
}

func TestCloseQuiescesInstrument(t *testing.T) {
	port := newScriptedPort("")
	src := NewSCPISource(port)
	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	if !port.closed {
		t.Error("underlying port not closed")
	}
	sent := port.writes.String()
	if !strings.Contains(sent, "OUTP OFF\n") || !strings.Contains(sent, "SYST:LOC\n") {
		t.Errorf("close did not quiesce instrument: %q", sent)
	}
}

func TestMockRecordsProgramming(t *testing.T) {
	m := NewMock()
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.SetFrequency(2.85e9); err != nil {
		t.Fatal(err)
	}
	if err := m.SetFrequency(2.89e9); err != nil {
		t.Fatal(err)
	}
	if err := m.SetPower(-5); err != nil {
		t.Fatal(err)
	}
	if err := m.RFOn(); err != nil {
		t.Fatal(err)
	}

	if m.Frequency() != 2.89e9 || m.Power() != -5 || !m.RFEnabled() {
		t.Errorf("mock state wrong: f=%g p=%g rf=%v", m.Frequency(), m.Power(), m.RFEnabled())
	}
	if got := m.Frequencies(); len(got) != 2 || got[0] != 2.85e9 {
		t.Errorf("frequency history wrong: %v", got)
	}

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if m.RFEnabled() {
		t.Error("RF still on after close")
	}
	if err := m.Initialize(); err == nil {
		t.Error("initialize after close should fail")
	}
}
