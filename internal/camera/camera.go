// Package camera abstracts the sCMOS detector used for wide-field readout.
// The interface mirrors the subset of the Prime95B feature set the sweep
// needs: exposure, gain, ROI, a pulsed trigger mode and gated sequence
// acquisition.
package camera

import (
	"context"
	"fmt"
)

// ROI is a rectangular region of interest on the sensor, in pixels.
type ROI struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r ROI) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// Frame is one exposure read back from the detector, row-major.
type Frame struct {
	Width  int
	Height int
	Pix    []float64
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height int) Frame {
	return Frame{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// Mean returns the mean pixel value of the frame.
func (f Frame) Mean() float64 {
	if len(f.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range f.Pix {
		sum += v
	}
	return sum / float64(len(f.Pix))
}

// TriggerMode selects how exposures are started in pulsed acquisition.
type TriggerMode string

const (
	// TriggerLevel exposes while the trigger line is held high.
	TriggerLevel TriggerMode = "level"
	// TriggerEdge starts a fixed exposure on each rising edge.
	TriggerEdge TriggerMode = "edge"
)

// Camera is the detector contract the sweep runner acquires through.
// AcquireSequence blocks until nFrames gated exposures have been read back
// or ctx is cancelled.
type Camera interface {
	Name() string
	SetExposure(seconds float64) error
	Exposure() float64
	SetGain(gain int) error
	Gain() int
	SetROI(roi ROI) error
	ROI() ROI
	// ArmPulsed configures the detector for hardware-triggered gated
	// acquisition. Must be called before AcquireSequence.
	ArmPulsed(mode TriggerMode) error
	AcquireSequence(ctx context.Context, nFrames int) ([]Frame, error)
	Close() error
}
