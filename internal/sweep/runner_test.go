package sweep

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/spinlab-data/nvsweep/internal/camera"
	"github.com/spinlab-data/nvsweep/internal/db"
	"github.com/spinlab-data/nvsweep/internal/mwsource"
	"github.com/spinlab-data/nvsweep/internal/npz"
	"github.com/spinlab-data/nvsweep/internal/pulse"
)

func testHardware(width, height int) (Hardware, *camera.Sim, *mwsource.Mock) {
	cam := camera.NewSim(width, height)
	cam.SetNoise(0)
	mw := mwsource.NewMock()
	return Hardware{
		Camera:   cam,
		MW:       mw,
		Uploader: pulse.NewMemoryUploader(1.25e9, 1<<40),
	}, cam, mw
}

// waitDone polls until the runner leaves the running state.
func waitDone(t *testing.T, r *Runner) State {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st := r.GetState()
		if st.Status != StatusRunning {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sweep did not finish")
	return State{}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func TestSweepCompletes(t *testing.T) {
	hw, _, mw := testHardware(8, 6)
	database, err := db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer database.Close()

	outDir := t.TempDir()
	r := NewRunner(hw, database)
	req := Request{
		Tag:         "test",
		Pattern:     "rabi",
		TauStart:    10e-9,
		TauStop:     50e-9,
		TauStep:     10e-9,
		Repetitions: 2,
		Averages:    2,
		MWPowerDBm:  -10,
		MWFreqHz:    2.87e9,
		OutputDir:   outDir,
	}
	if err := r.Start(context.Background(), req); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitDone(t, r)
	if st.Status != StatusComplete {
		t.Fatalf("status = %s, error = %q", st.Status, st.Error)
	}
	if st.CompletedTaus != 4 || st.TotalTaus != 4 {
		t.Errorf("progress = %d/%d, want 4/4", st.CompletedTaus, st.TotalTaus)
	}

	// npz holds data (ntau,2,h,w), err (ntau,2) and x (ntau)
	arrays, err := npz.ReadFile(st.DataPath)
	if err != nil {
		t.Fatalf("read %s: %v", st.DataPath, err)
	}
	data, ok := arrays["data"]
	if !ok {
		t.Fatal("npz missing data array")
	}
	for i, want := range []int{4, 2, 6, 8} {
		if data.Shape[i] != want {
			t.Errorf("data shape[%d] = %d, want %d", i, data.Shape[i], want)
		}
	}
	if x := arrays["x"]; x == nil || x.Len() != 4 || x.Data[0] != 10e-9 {
		t.Errorf("x array = %+v", arrays["x"])
	}
	if e := arrays["err"]; e == nil || e.Shape[0] != 4 || e.Shape[1] != 2 {
		t.Errorf("err array = %+v", arrays["err"])
	}

	if _, err := os.Stat(st.ReportPath); err != nil {
		t.Errorf("report missing: %v", err)
	}
	if _, err := os.Stat(st.PlotPath); err != nil {
		t.Errorf("plot missing: %v", err)
	}

	run, err := database.GetRun(st.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != db.StatusComplete || run.DataPath != st.DataPath {
		t.Errorf("run record = %+v", run)
	}

	if mw.RFEnabled() {
		t.Error("RF left on after sweep")
	}
	if mw.Frequency() != 2.87e9 {
		t.Errorf("carrier = %g, want 2.87e9", mw.Frequency())
	}
}

func TestSweepODMRProgramsFrequencies(t *testing.T) {
	hw, _, mw := testHardware(4, 4)
	r := NewRunner(hw, nil)
	req := Request{
		Pattern:     "odmr",
		TauStart:    2.85e9,
		TauStop:     2.89e9,
		TauStep:     0.01e9,
		Repetitions: 2,
		Averages:    1,
		MWPowerDBm:  -15,
		OutputDir:   t.TempDir(),
	}
	if err := r.Start(context.Background(), req); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := waitDone(t, r)
	if st.Status != StatusComplete {
		t.Fatalf("status = %s, error = %q", st.Status, st.Error)
	}

	freqs := mw.Frequencies()
	want := Arange(2.85e9, 2.89e9, 0.01e9)
	if len(freqs) != len(want) {
		t.Fatalf("programmed %d frequencies, want %d", len(freqs), len(want))
	}
	for i := range want {
		if freqs[i] != want[i] {
			t.Errorf("frequency %d = %g, want %g", i, freqs[i], want[i])
		}
	}
}

// stopCamera stops the owning runner from inside the first acquisition, so
// the cancellation is observed at the next tau boundary.
type stopCamera struct {
	*camera.Sim
	runner *Runner
	once   bool
}

func (c *stopCamera) AcquireSequence(ctx context.Context, nFrames int) ([]camera.Frame, error) {
	if !c.once {
		c.once = true
		c.runner.Stop()
	}
	return c.Sim.AcquireSequence(context.Background(), nFrames)
}

func TestInterruptWritesNothing(t *testing.T) {
	hw, cam, _ := testHardware(4, 4)
	database, err := db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer database.Close()

	r := NewRunner(hw, database)
	sc := &stopCamera{Sim: cam, runner: r}
	r.hw.Camera = sc

	outDir := t.TempDir()
	req := Request{
		Pattern:     "t1",
		TauStart:    1e-6,
		TauStop:     10e-6,
		TauStep:     1e-6,
		Repetitions: 1,
		Averages:    1,
		OutputDir:   outDir,
	}
	if err := r.Start(context.Background(), req); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitDone(t, r)
	if st.Status != StatusError {
		t.Fatalf("status = %s, want error", st.Status)
	}
	if st.CompletedTaus >= st.TotalTaus {
		t.Errorf("sweep ran to completion: %d/%d", st.CompletedTaus, st.TotalTaus)
	}

	// no partial output files
	if names := dirEntries(t, outDir); len(names) != 0 {
		t.Errorf("output files written on interrupt: %v", names)
	}

	run, err := database.GetRun(st.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != db.StatusError || run.DataPath != "" {
		t.Errorf("run record = %+v", run)
	}
}

func TestPatternMemoryAborts(t *testing.T) {
	hw, _, _ := testHardware(4, 4)
	// a limit below any realistic ensemble length
	hw.Uploader = pulse.NewMemoryUploader(1.25e9, 1)

	outDir := t.TempDir()
	r := NewRunner(hw, nil)
	req := Request{
		Pattern:     "hahn_echo",
		TauStart:    1e-6,
		TauStop:     5e-6,
		TauStep:     1e-6,
		Repetitions: 1,
		Averages:    1,
		OutputDir:   outDir,
	}
	if err := r.Start(context.Background(), req); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitDone(t, r)
	if st.Status != StatusError {
		t.Fatalf("status = %s, want error", st.Status)
	}
	if st.CompletedTaus != 0 {
		t.Errorf("completed %d values after upload failure", st.CompletedTaus)
	}
	if names := dirEntries(t, outDir); len(names) != 0 {
		t.Errorf("output files written after upload failure: %v", names)
	}
}

func TestSecondStartRejected(t *testing.T) {
	hw, cam, _ := testHardware(4, 4)
	r := NewRunner(hw, nil)

	// hold the sweep inside acquisition long enough to observe the overlap
	block := make(chan struct{})
	sc := &blockingCamera{Sim: cam, release: block}
	r.hw.Camera = sc

	req := Request{
		Pattern:     "ramsey",
		TauStart:    1e-6,
		TauStop:     3e-6,
		TauStep:     1e-6,
		Repetitions: 1,
		Averages:    1,
		OutputDir:   t.TempDir(),
	}
	if err := r.Start(context.Background(), req); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(context.Background(), req); !errors.Is(err, ErrSweepRunning) {
		t.Errorf("second Start returned %v, want ErrSweepRunning", err)
	}

	close(block)
	waitDone(t, r)
}

type blockingCamera struct {
	*camera.Sim
	release <-chan struct{}
}

func (c *blockingCamera) AcquireSequence(ctx context.Context, nFrames int) ([]camera.Frame, error) {
	<-c.release
	return c.Sim.AcquireSequence(ctx, nFrames)
}

func TestTauAxisExplicitList(t *testing.T) {
	taus, err := tauAxis(Request{Taus: []float64{1, 2, 3}})
	if err != nil {
		t.Fatalf("tauAxis: %v", err)
	}
	if len(taus) != 3 || taus[2] != 3 {
		t.Errorf("taus = %v", taus)
	}

	if _, err := tauAxis(Request{TauStart: 1, TauStop: 1, TauStep: 1}); err == nil {
		t.Error("empty generated range accepted")
	}
}

// An oversized range must be rejected from the count alone, before the tau
// slice exists.
func TestOversizedRangeRejectedBeforeAllocation(t *testing.T) {
	hw, _, _ := testHardware(4, 4)
	r := NewRunner(hw, nil)
	req := Request{
		Pattern:  "t1",
		TauStart: 0,
		TauStop:  2,
		TauStep:  1e-7, // 20 million values
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	err := r.Start(context.Background(), req)
	runtime.ReadMemStats(&after)

	if err == nil || !strings.Contains(err.Error(), "tau range too large") {
		t.Fatalf("Start returned %v, want tau range rejection", err)
	}
	if allocated := after.TotalAlloc - before.TotalAlloc; allocated > 1<<20 {
		t.Errorf("rejection allocated %d bytes", allocated)
	}
	if st := r.GetState(); st.Status != StatusIdle {
		t.Errorf("status = %s after rejected start", st.Status)
	}
}

func TestStartAppliesDefaults(t *testing.T) {
	hw, _, mw := testHardware(4, 4)
	r := NewRunner(hw, nil)
	r.SetDefaults(Defaults{
		Repetitions: 2,
		Averages:    1,
		MWPowerDBm:  -10,
		MWFreqHz:    2.87e9,
		OutputDir:   t.TempDir(),
	})

	// only the pattern and axis given, everything else from the defaults
	req := Request{
		Pattern:  "rabi",
		TauStart: 10e-9,
		TauStop:  40e-9,
		TauStep:  10e-9,
	}
	if err := r.Start(context.Background(), req); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := waitDone(t, r)
	if st.Status != StatusComplete {
		t.Fatalf("status = %s, error = %q", st.Status, st.Error)
	}
	if mw.Frequency() != 2.87e9 {
		t.Errorf("carrier = %g, want the configured default", mw.Frequency())
	}
	if mw.Power() != -10 {
		t.Errorf("power = %g, want the configured default", mw.Power())
	}
	if st.Request.Repetitions != 2 || st.Request.Averages != 1 {
		t.Errorf("request = %+v, defaults not applied", st.Request)
	}
}
