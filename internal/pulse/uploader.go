package pulse

import (
	"context"
	"errors"
	"sync"
)

// ErrPatternMemory is returned by an Uploader when the compiled pattern does
// not fit in the sequencer's waveform memory. The sweep treats it as fatal.
var ErrPatternMemory = errors.New("pattern exceeds sequencer memory")

// Uploader compiles an ensemble and loads it into the sequencer, leaving the
// device armed for hardware triggers.
type Uploader interface {
	// Upload compiles and loads the ensemble. Blocks until the sequencer
	// is armed or ctx is cancelled.
	Upload(ctx context.Context, e *Ensemble) error
}

// MemoryUploader is a software sequencer stand-in with a finite waveform
// memory, used in dev mode and tests. It records every ensemble it accepts.
type MemoryUploader struct {
	// SampleRateHz is the sequencer sample clock used for memory checks.
	SampleRateHz float64
	// LimitSamples is the waveform memory size; zero means unlimited.
	LimitSamples int64

	mu       sync.Mutex
	uploaded []*Ensemble
}

// NewMemoryUploader returns an uploader with the given sample rate and
// memory limit in samples.
func NewMemoryUploader(sampleRateHz float64, limitSamples int64) *MemoryUploader {
	return &MemoryUploader{SampleRateHz: sampleRateHz, LimitSamples: limitSamples}
}

func (u *MemoryUploader) Upload(ctx context.Context, e *Ensemble) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if u.LimitSamples > 0 && e.Samples(u.SampleRateHz) > u.LimitSamples {
		return ErrPatternMemory
	}
	u.mu.Lock()
	u.uploaded = append(u.uploaded, e)
	u.mu.Unlock()
	return nil
}

// Uploaded returns a copy of the ensembles accepted so far.
func (u *MemoryUploader) Uploaded() []*Ensemble {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*Ensemble, len(u.uploaded))
	copy(out, u.uploaded)
	return out
}
