package sweep

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/spinlab-data/nvsweep/internal/camera"
	"github.com/spinlab-data/nvsweep/internal/npz"
)

// Channel indices in the image and error accumulators.
const (
	ChanSignal    = 0
	ChanReference = 1
)

// Accumulator holds the per-tau averaged images and their uncertainties for
// one sweep. Data is shaped (len(taus), 2, height, width) and Err is shaped
// (len(taus), 2); both are allocated up front and filled in tau order.
type Accumulator struct {
	Taus   []float64
	Width  int
	Height int
	Data   *npz.Array
	Err    *npz.Array

	// per-tau ROI means, for live progress and fitting
	means [2][]float64
}

func NewAccumulator(taus []float64, width, height int) (*Accumulator, error) {
	if len(taus) == 0 {
		return nil, fmt.Errorf("empty tau list")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	data, err := npz.NewArray(len(taus), 2, height, width)
	if err != nil {
		return nil, err
	}
	errs, err := npz.NewArray(len(taus), 2)
	if err != nil {
		return nil, err
	}
	a := &Accumulator{
		Taus:   taus,
		Width:  width,
		Height: height,
		Data:   data,
		Err:    errs,
	}
	a.means[ChanSignal] = make([]float64, len(taus))
	a.means[ChanReference] = make([]float64, len(taus))
	return a, nil
}

// SplitAverage splits an alternating signal/reference frame sequence and
// averages each channel into one frame. Even frames are signal, odd frames
// reference, as laid out by the pulse patterns.
func SplitAverage(frames []camera.Frame, width, height int) (sig, ref camera.Frame, err error) {
	if len(frames) == 0 || len(frames)%2 != 0 {
		return sig, ref, fmt.Errorf("frame count %d is not an even, positive number", len(frames))
	}
	sig = camera.NewFrame(width, height)
	ref = camera.NewFrame(width, height)
	for i, f := range frames {
		if len(f.Pix) != width*height {
			return sig, ref, fmt.Errorf("frame %d has %d pixels, want %d", i, len(f.Pix), width*height)
		}
		dst := sig
		if i%2 == 1 {
			dst = ref
		}
		for p, v := range f.Pix {
			dst.Pix[p] += v
		}
	}
	n := float64(len(frames) / 2)
	for p := range sig.Pix {
		sig.Pix[p] /= n
		ref.Pix[p] /= n
	}
	return sig, ref, nil
}

// StdErr returns the standard error of the mean: sample standard deviation
// divided by sqrt(n). Zero for fewer than two samples.
func StdErr(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil) / math.Sqrt(float64(len(xs)))
}

// Record stores one sweep value: the per-pixel mean over runs for each
// channel, and the standard error of the per-run ROI means.
func (a *Accumulator) Record(tauIdx int, sigRuns, refRuns []camera.Frame) error {
	if tauIdx < 0 || tauIdx >= len(a.Taus) {
		return fmt.Errorf("tau index %d out of range [0,%d)", tauIdx, len(a.Taus))
	}
	if len(sigRuns) == 0 || len(sigRuns) != len(refRuns) {
		return fmt.Errorf("need matching non-empty run lists, got %d signal and %d reference", len(sigRuns), len(refRuns))
	}
	for ch, runs := range [2][]camera.Frame{ChanSignal: sigRuns, ChanReference: refRuns} {
		runMeans := make([]float64, len(runs))
		for i, f := range runs {
			if len(f.Pix) != a.Width*a.Height {
				return fmt.Errorf("run %d frame has %d pixels, want %d", i, len(f.Pix), a.Width*a.Height)
			}
			runMeans[i] = f.Mean()
			for p, v := range f.Pix {
				y := p / a.Width
				x := p % a.Width
				a.Data.Set(a.Data.At(tauIdx, ch, y, x)+v/float64(len(runs)), tauIdx, ch, y, x)
			}
		}
		a.Err.Set(StdErr(runMeans), tauIdx, ch)
		a.means[ch][tauIdx] = stat.Mean(runMeans, nil)
	}
	return nil
}

// Means returns the per-tau ROI means for one channel, truncated to the
// first n recorded values.
func (a *Accumulator) Means(ch, n int) []float64 {
	if n > len(a.Taus) {
		n = len(a.Taus)
	}
	out := make([]float64, n)
	copy(out, a.means[ch][:n])
	return out
}

// Errs returns the per-tau standard errors for one channel, truncated to
// the first n recorded values.
func (a *Accumulator) Errs(ch, n int) []float64 {
	if n > len(a.Taus) {
		n = len(a.Taus)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = a.Err.At(i, ch)
	}
	return out
}
