package mwsource

import (
	"fmt"
	"sync"
)

// Mock is an in-memory Source recording every setting it receives, used by
// dev mode and tests.
type Mock struct {
	mu          sync.Mutex
	initialized bool
	closed      bool
	rfOn        bool
	frequencyHz float64
	powerDBm    float64
	frequencies []float64

	// FailFrequency, when set, is returned by the next SetFrequency call.
	FailFrequency error
}

// NewMock returns a mock generator parked at 2.87 GHz, -20 dBm, RF off.
func NewMock() *Mock {
	return &Mock{frequencyHz: 2.87e9, powerDBm: -20}
}

func (m *Mock) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("generator closed")
	}
	m.initialized = true
	return nil
}

func (m *Mock) SetFrequency(hz float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFrequency != nil {
		err := m.FailFrequency
		m.FailFrequency = nil
		return err
	}
	m.frequencyHz = hz
	m.frequencies = append(m.frequencies, hz)
	return nil
}

func (m *Mock) SetPower(dbm float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powerDBm = dbm
	return nil
}

func (m *Mock) RFOn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rfOn = true
	return nil
}

func (m *Mock) RFOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rfOn = false
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.rfOn = false
	return nil
}

// Frequency returns the current programmed carrier.
func (m *Mock) Frequency() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frequencyHz
}

// Power returns the current programmed output power.
func (m *Mock) Power() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powerDBm
}

// RFEnabled reports whether the RF output is on.
func (m *Mock) RFEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rfOn
}

// Frequencies returns every frequency programmed so far, in order.
func (m *Mock) Frequencies() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.frequencies))
	copy(out, m.frequencies)
	return out
}
