package pulse

import "fmt"

// Timing holds the calibrated pulse durations shared by every pattern. The
// zero value is not usable; call DefaultTiming and override as needed.
type Timing struct {
	// PiPulse is the calibrated pi rotation duration in seconds.
	PiPulse float64
	// PiHalfPulse is the calibrated pi/2 rotation duration in seconds.
	PiHalfPulse float64
	// LaserInit is the laser polarisation duration before each repetition.
	LaserInit float64
	// Readout is the laser readout window in which the camera is exposed.
	Readout float64
	// Wait is the relaxation gap between laser init and microwave drive.
	Wait float64
}

// DefaultTiming returns the pulse durations used when a config supplies none.
func DefaultTiming() Timing {
	return Timing{
		PiPulse:     50e-9,
		PiHalfPulse: 25e-9,
		LaserInit:   3e-6,
		Readout:     300e-9,
		Wait:        1e-6,
	}
}

// Pattern describes one measurement type: its tau axis and a builder that
// produces the ensemble for a single tau value. Every pattern emits a signal
// repetition followed by a reference repetition (no microwave drive in the
// reference half) so the camera alternates signal and reference frames.
type Pattern struct {
	// Name identifies the pattern in metadata and filenames.
	Name string
	// FreqSweep is true when tau is a microwave frequency in Hz rather
	// than a time delay in seconds.
	FreqSweep bool
	// Taus is the ordered sweep axis.
	Taus []float64
	// Build produces the ensemble for one tau value.
	Build func(tau float64) *Ensemble
}

// signalReference lays out the common shape of every time-domain pattern:
// init, drive (as emitted by body), readout, then the same repetition with
// the microwave drive suppressed as the reference.
func signalReference(t Timing, name string, body func(b *builder)) *Ensemble {
	b := &builder{}

	// signal half
	b.initialise(t.LaserInit)
	b.wait(t.Wait)
	body(b)
	b.readout(t.Readout)

	// reference half: identical timing with the drive replaced by idle
	// time, so both frames see the same laser duty cycle
	b.initialise(t.LaserInit)
	b.wait(t.Wait)
	ref := &builder{}
	body(ref)
	for _, el := range ref.elements {
		el.Channels = nil
		el.MW = false
		el.FreqHz = 0
		b.add(el)
	}
	b.readout(t.Readout)

	return &Ensemble{Name: name, Elements: b.elements}
}

// Rabi sweeps the microwave drive duration. Taus are drive times in seconds.
func Rabi(t Timing, taus []float64) *Pattern {
	return &Pattern{
		Name: "rabi",
		Taus: taus,
		Build: func(tau float64) *Ensemble {
			return signalReference(t, fmt.Sprintf("rabi_%.3e", tau), func(b *builder) {
				b.mw(tau, 0)
			})
		},
	}
}

// T1 sweeps the relaxation delay after a pi pulse inverts the spin. Taus are
// wait times in seconds, typically log spaced.
func T1(t Timing, taus []float64) *Pattern {
	return &Pattern{
		Name: "t1",
		Taus: taus,
		Build: func(tau float64) *Ensemble {
			return signalReference(t, fmt.Sprintf("t1_%.3e", tau), func(b *builder) {
				b.mw(t.PiPulse, 0)
				b.wait(tau)
			})
		},
	}
}

// HahnEcho sweeps the free evolution time of a pi/2 - tau - pi - tau - pi/2
// echo sequence. Taus are the total free evolution times in seconds.
func HahnEcho(t Timing, taus []float64) *Pattern {
	return &Pattern{
		Name: "hahn_echo",
		Taus: taus,
		Build: func(tau float64) *Ensemble {
			return signalReference(t, fmt.Sprintf("hahn_%.3e", tau), func(b *builder) {
				b.mw(t.PiHalfPulse, 0)
				b.wait(tau / 2)
				b.mw(t.PiPulse, 0)
				b.wait(tau / 2)
				b.mw(t.PiHalfPulse, 0)
			})
		},
	}
}

// decoupling lays out the common pi/2 - (n spaced pi pulses) - pi/2 shape
// of the dynamical decoupling patterns. The inter-pulse spacing is tau/n
// shortened by the pi pulse time, so the free evolution axis stays tau as
// the pulse count grows.
func decoupling(t Timing, phases []float64, tau float64) func(b *builder) {
	spacing := tau/float64(len(phases)) - t.PiPulse
	if spacing < 0 {
		spacing = 0
	}
	return func(b *builder) {
		b.mw(t.PiHalfPulse, 0)
		for _, ph := range phases {
			b.wait(spacing / 2)
			b.mw(t.PiPulse, ph)
			b.wait(spacing / 2)
		}
		b.mw(t.PiHalfPulse, 0)
	}
}

func repeatPhases(unit []float64, order int) []float64 {
	out := make([]float64, 0, len(unit)*order)
	for i := 0; i < order; i++ {
		out = append(out, unit...)
	}
	return out
}

// xy8Unit is the XY8 phase cycle: XYXY YXYX.
var xy8Unit = []float64{0, 90, 0, 90, 90, 0, 90, 0}

func ddPattern(t Timing, name string, phases []float64, taus []float64) *Pattern {
	return &Pattern{
		Name: name,
		Taus: taus,
		Build: func(tau float64) *Ensemble {
			return signalReference(t, fmt.Sprintf("%s_%.3e", name, tau), decoupling(t, phases, tau))
		},
	}
}

// CPMG sweeps the free evolution time under n pi pulses phased 90 degrees
// from the pi/2 pulses.
func CPMG(t Timing, n int, taus []float64) *Pattern {
	phases := make([]float64, n)
	for i := range phases {
		phases[i] = 90
	}
	return ddPattern(t, fmt.Sprintf("cpmg%d", n), phases, taus)
}

// XY4 sweeps the free evolution time under order repeats of the XYXY cycle.
func XY4(t Timing, order int, taus []float64) *Pattern {
	return ddPattern(t, "xy4", repeatPhases([]float64{0, 90, 0, 90}, order), taus)
}

// XY8 sweeps the free evolution time under order repeats of XYXY YXYX.
func XY8(t Timing, order int, taus []float64) *Pattern {
	return ddPattern(t, "xy8", repeatPhases(xy8Unit, order), taus)
}

// XY16 sweeps the free evolution time under order repeats of the XY8 cycle
// followed by its phase-inverted mirror.
func XY16(t Timing, order int, taus []float64) *Pattern {
	unit := make([]float64, 0, 16)
	unit = append(unit, xy8Unit...)
	for _, ph := range xy8Unit {
		unit = append(unit, ph+180)
	}
	return ddPattern(t, "xy16", repeatPhases(unit, order), taus)
}

// Ramsey sweeps the free precession time between two pi/2 pulses.
func Ramsey(t Timing, taus []float64) *Pattern {
	return &Pattern{
		Name: "ramsey",
		Taus: taus,
		Build: func(tau float64) *Ensemble {
			return signalReference(t, fmt.Sprintf("ramsey_%.3e", tau), func(b *builder) {
				b.mw(t.PiHalfPulse, 0)
				b.wait(tau)
				b.mw(t.PiHalfPulse, 90)
			})
		},
	}
}

// ODMR sweeps the microwave frequency at a fixed calibrated pi pulse. Taus
// are drive frequencies in Hz.
func ODMR(t Timing, freqs []float64) *Pattern {
	return &Pattern{
		Name:      "odmr",
		FreqSweep: true,
		Taus:      freqs,
		Build: func(freq float64) *Ensemble {
			return signalReference(t, fmt.Sprintf("odmr_%.6e", freq), func(b *builder) {
				b.mwAt(t.PiPulse, freq)
			})
		},
	}
}

// SingleFreq drives continuously at the carrier for a fixed duration; used
// for alignment rather than sweeps, so the tau axis is a single point.
func SingleFreq(t Timing, driveTime float64) *Pattern {
	return &Pattern{
		Name: "single_freq",
		Taus: []float64{driveTime},
		Build: func(tau float64) *Ensemble {
			return signalReference(t, fmt.Sprintf("single_%.3e", tau), func(b *builder) {
				b.mw(tau, 0)
			})
		},
	}
}

// ByName returns the constructor result for a pattern name, or an error for
// unknown names. Time-domain patterns receive taus in seconds; odmr receives
// frequencies in Hz. The decoupling patterns default to 8 pi pulses (cpmg)
// and a single cycle (xy4/xy8/xy16).
func ByName(name string, t Timing, taus []float64) (*Pattern, error) {
	switch name {
	case "rabi":
		return Rabi(t, taus), nil
	case "t1":
		return T1(t, taus), nil
	case "hahn_echo", "hahn":
		return HahnEcho(t, taus), nil
	case "ramsey":
		return Ramsey(t, taus), nil
	case "cpmg":
		return CPMG(t, 8, taus), nil
	case "xy4":
		return XY4(t, 1, taus), nil
	case "xy8":
		return XY8(t, 1, taus), nil
	case "xy16":
		return XY16(t, 1, taus), nil
	case "odmr":
		return ODMR(t, taus), nil
	case "single_freq":
		drive := t.PiPulse
		if len(taus) > 0 {
			drive = taus[0]
		}
		return SingleFreq(t, drive), nil
	default:
		return nil, fmt.Errorf("unknown pulse pattern %q", name)
	}
}
