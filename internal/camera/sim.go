package camera

import (
	"context"
	"fmt"
	"sync"
)

// Response maps a frame index within a sequence to the expected mean photon
// count for that exposure. The simulator uses it to shape synthetic frames;
// dev mode installs a fluorescence-like response, tests install constants.
type Response func(frameIdx int) float64

// Sim is a deterministic software detector. Frames are generated from a
// configurable response plus a small reproducible pseudo-noise term, so
// sweeps over the simulator produce stable fits.
type Sim struct {
	mu       sync.Mutex
	name     string
	roi      ROI
	exposure float64
	gain     int
	armed    bool
	response Response
	noise    float64
	rngState uint64
}

// NewSim creates a simulated detector with the given sensor size. The
// default response is a flat 1000 counts with 1% pseudo-noise.
func NewSim(width, height int) *Sim {
	return &Sim{
		name:     "prime95b-sim",
		roi:      ROI{Width: width, Height: height},
		exposure: 0.03,
		gain:     1,
		response: func(int) float64 { return 1000 },
		noise:    10,
		rngState: 0x9e3779b97f4a7c15,
	}
}

// SetResponse replaces the synthetic response. Safe to call between sweeps.
func (s *Sim) SetResponse(r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r != nil {
		s.response = r
	}
}

// SetNoise sets the amplitude of the pseudo-noise term in counts.
func (s *Sim) SetNoise(amplitude float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noise = amplitude
}

func (s *Sim) Name() string { return s.name }

func (s *Sim) SetExposure(seconds float64) error {
	if seconds <= 0 {
		return fmt.Errorf("exposure must be positive, got %g", seconds)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposure = seconds
	return nil
}

func (s *Sim) Exposure() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposure
}

func (s *Sim) SetGain(gain int) error {
	if gain < 1 || gain > 3 {
		return fmt.Errorf("gain index out of range [1,3]: %d", gain)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = gain
	return nil
}

func (s *Sim) Gain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

func (s *Sim) SetROI(roi ROI) error {
	if roi.Width <= 0 || roi.Height <= 0 {
		return fmt.Errorf("roi must have positive dimensions, got %s", roi)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roi = roi
	return nil
}

func (s *Sim) ROI() ROI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roi
}

func (s *Sim) ArmPulsed(mode TriggerMode) error {
	if mode != TriggerLevel && mode != TriggerEdge {
		return fmt.Errorf("unknown trigger mode %q", mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	return nil
}

// nextNoise advances a splitmix64 state and maps it into [-1, 1).
func (s *Sim) nextNoise() float64 {
	s.rngState += 0x9e3779b97f4a7c15
	z := s.rngState
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return float64(int64(z>>11))/float64(1<<52) - 1
}

func (s *Sim) AcquireSequence(ctx context.Context, nFrames int) ([]Frame, error) {
	if nFrames <= 0 {
		return nil, fmt.Errorf("frame count must be positive, got %d", nFrames)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return nil, fmt.Errorf("camera not armed for pulsed acquisition")
	}

	frames := make([]Frame, 0, nFrames)
	for i := 0; i < nFrames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		level := s.response(i) * float64(s.gain)
		f := NewFrame(s.roi.Width, s.roi.Height)
		for p := range f.Pix {
			f.Pix[p] = level + s.noise*s.nextNoise()
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	return nil
}
