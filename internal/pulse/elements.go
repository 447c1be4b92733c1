// Package pulse builds the pulse-pattern ensembles that drive one sweep
// point: laser gating and readout triggers on digital channels, microwave
// drive segments on the analog channels, assembled into a named ensemble the
// sequencer can compile and arm.
package pulse

import "fmt"

// Digital channel names understood by the sequencer.
const (
	ChLaser      = "laser"
	ChReadout    = "readout"
	ChMWGate     = "mw_gate"
	ChCameraTrig = "camera_trig"
)

// Element is one segment of a pattern: a fixed duration with a set of
// asserted digital channels, and optionally a microwave drive tone.
type Element struct {
	// Duration of the segment in seconds.
	Duration float64
	// Channels asserted high for the duration of the segment.
	Channels []string
	// MW enables an analog microwave tone during the segment.
	MW bool
	// FreqHz is the drive frequency when MW is set. Zero means the
	// sequencer uses the source's programmed carrier.
	FreqHz float64
	// PhaseDeg is the drive phase when MW is set.
	PhaseDeg float64
}

// Ensemble is a fully assembled pattern for a single sweep value.
type Ensemble struct {
	Name     string
	Elements []Element
}

// Duration returns the total length of the ensemble in seconds.
func (e *Ensemble) Duration() float64 {
	var total float64
	for _, el := range e.Elements {
		total += el.Duration
	}
	return total
}

// Samples returns the number of sequencer samples the ensemble occupies at
// the given sample rate. Upload memory checks are performed against this.
func (e *Ensemble) Samples(sampleRateHz float64) int64 {
	return int64(e.Duration() * sampleRateHz)
}

// Validate rejects ensembles the sequencer cannot represent.
func (e *Ensemble) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("ensemble has no name")
	}
	if len(e.Elements) == 0 {
		return fmt.Errorf("ensemble %q has no elements", e.Name)
	}
	for i, el := range e.Elements {
		if el.Duration <= 0 {
			return fmt.Errorf("ensemble %q element %d: non-positive duration %g", e.Name, i, el.Duration)
		}
		if el.FreqHz < 0 {
			return fmt.Errorf("ensemble %q element %d: negative frequency %g", e.Name, i, el.FreqHz)
		}
	}
	return nil
}

// builder accumulates elements in order while a pattern constructor lays out
// a sequence.
type builder struct {
	elements []Element
}

func (b *builder) add(el Element) {
	// a zero-length segment is no segment; tau axes often start at 0
	if el.Duration == 0 {
		return
	}
	b.elements = append(b.elements, el)
}

// laser emits an initialisation/readout laser segment with a camera trigger.
func (b *builder) readout(duration float64) {
	b.add(Element{
		Duration: duration,
		Channels: []string{ChLaser, ChReadout, ChCameraTrig},
	})
}

// initialise emits a laser polarisation segment without readout.
func (b *builder) initialise(duration float64) {
	b.add(Element{Duration: duration, Channels: []string{ChLaser}})
}

// wait emits an idle segment.
func (b *builder) wait(duration float64) {
	b.add(Element{Duration: duration})
}

// mw emits a microwave drive segment at the carrier frequency.
func (b *builder) mw(duration, phaseDeg float64) {
	b.add(Element{
		Duration: duration,
		Channels: []string{ChMWGate},
		MW:       true,
		PhaseDeg: phaseDeg,
	})
}

// mwAt emits a microwave drive segment at an explicit frequency.
func (b *builder) mwAt(duration, freqHz float64) {
	b.add(Element{
		Duration: duration,
		Channels: []string{ChMWGate},
		MW:       true,
		FreqHz:   freqHz,
	})
}
