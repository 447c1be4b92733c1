package sweep

import (
	"math"
	"testing"

	"github.com/spinlab-data/nvsweep/internal/camera"
)

func flatFrame(width, height int, v float64) camera.Frame {
	f := camera.NewFrame(width, height)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

func TestAccumulatorShapes(t *testing.T) {
	taus := Arange(0, 10e-6, 1e-6)
	acc, err := NewAccumulator(taus, 32, 24)
	if err != nil {
		t.Fatalf("NewAccumulator: %v", err)
	}

	wantData := []int{len(taus), 2, 24, 32}
	if len(acc.Data.Shape) != 4 {
		t.Fatalf("data rank %d", len(acc.Data.Shape))
	}
	for i, d := range wantData {
		if acc.Data.Shape[i] != d {
			t.Errorf("data shape[%d] = %d, want %d", i, acc.Data.Shape[i], d)
		}
	}
	if acc.Err.Shape[0] != len(taus) || acc.Err.Shape[1] != 2 {
		t.Errorf("err shape = %v, want [%d 2]", acc.Err.Shape, len(taus))
	}
}

func TestAccumulatorRejects(t *testing.T) {
	if _, err := NewAccumulator(nil, 8, 8); err == nil {
		t.Error("empty tau list accepted")
	}
	if _, err := NewAccumulator([]float64{1}, 0, 8); err == nil {
		t.Error("zero width accepted")
	}

	acc, err := NewAccumulator([]float64{1, 2}, 4, 4)
	if err != nil {
		t.Fatalf("NewAccumulator: %v", err)
	}
	f := flatFrame(4, 4, 1)
	if err := acc.Record(5, []camera.Frame{f}, []camera.Frame{f}); err == nil {
		t.Error("out-of-range tau index accepted")
	}
	if err := acc.Record(0, []camera.Frame{f}, nil); err == nil {
		t.Error("mismatched run lists accepted")
	}
}

func TestStdErr(t *testing.T) {
	// sample stddev of {2,4,4,4,5,5,7,9} is sqrt(32/7)
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	want := math.Sqrt(32.0/7.0) / math.Sqrt(8)
	if got := StdErr(xs); math.Abs(got-want) > 1e-12 {
		t.Errorf("StdErr = %v, want %v", got, want)
	}
	if got := StdErr([]float64{3}); got != 0 {
		t.Errorf("single-sample StdErr = %v", got)
	}
}

func TestRecordMeansAndErrors(t *testing.T) {
	acc, err := NewAccumulator([]float64{1e-6}, 2, 2)
	if err != nil {
		t.Fatalf("NewAccumulator: %v", err)
	}

	// three runs with known per-run signal means 10, 12, 14
	sigRuns := []camera.Frame{
		flatFrame(2, 2, 10),
		flatFrame(2, 2, 12),
		flatFrame(2, 2, 14),
	}
	refRuns := []camera.Frame{
		flatFrame(2, 2, 20),
		flatFrame(2, 2, 20),
		flatFrame(2, 2, 20),
	}
	if err := acc.Record(0, sigRuns, refRuns); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// pixel values are the mean over runs
	if got := acc.Data.At(0, ChanSignal, 1, 1); got != 12 {
		t.Errorf("signal pixel = %v, want 12", got)
	}
	if got := acc.Data.At(0, ChanReference, 0, 0); got != 20 {
		t.Errorf("reference pixel = %v, want 20", got)
	}

	// standard error is sample stddev / sqrt(n_runs)
	wantErr := 2.0 / math.Sqrt(3)
	if got := acc.Err.At(0, ChanSignal); math.Abs(got-wantErr) > 1e-12 {
		t.Errorf("signal stderr = %v, want %v", got, wantErr)
	}
	if got := acc.Err.At(0, ChanReference); got != 0 {
		t.Errorf("reference stderr = %v, want 0", got)
	}

	if got := acc.Means(ChanSignal, 1); got[0] != 12 {
		t.Errorf("signal mean = %v, want 12", got[0])
	}
}

func TestSplitAverage(t *testing.T) {
	frames := []camera.Frame{
		flatFrame(2, 1, 1), // signal
		flatFrame(2, 1, 9), // reference
		flatFrame(2, 1, 3),
		flatFrame(2, 1, 11),
	}
	sig, ref, err := SplitAverage(frames, 2, 1)
	if err != nil {
		t.Fatalf("SplitAverage: %v", err)
	}
	if sig.Pix[0] != 2 || ref.Pix[0] != 10 {
		t.Errorf("got signal %v reference %v, want 2 and 10", sig.Pix[0], ref.Pix[0])
	}

	if _, _, err := SplitAverage(frames[:3], 2, 1); err == nil {
		t.Error("odd frame count accepted")
	}
	if _, _, err := SplitAverage(nil, 2, 1); err == nil {
		t.Error("empty frame list accepted")
	}
}
