package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spinlab-data/nvsweep/internal/camera"
	"github.com/spinlab-data/nvsweep/internal/db"
	"github.com/spinlab-data/nvsweep/internal/fit"
	"github.com/spinlab-data/nvsweep/internal/monitoring"
	"github.com/spinlab-data/nvsweep/internal/mwsource"
	"github.com/spinlab-data/nvsweep/internal/npz"
	"github.com/spinlab-data/nvsweep/internal/pulse"
	"github.com/spinlab-data/nvsweep/internal/report"
)

// Status represents the current state of a sweep run.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

const maxTaus = 1000

// ErrSweepRunning is returned by Start while another sweep is in progress.
var ErrSweepRunning = errors.New("sweep already in progress")

// Request defines the parameters for starting a sweep.
type Request struct {
	Tag     string `json:"tag,omitempty"`
	Pattern string `json:"pattern"`

	// Tau axis: explicit values, or generated from start/stop/step.
	// For frequency-sweep patterns the values are Hz, otherwise seconds.
	Taus     []float64 `json:"taus,omitempty"`
	TauStart float64   `json:"tau_start,omitempty"`
	TauStop  float64   `json:"tau_stop,omitempty"`
	TauStep  float64   `json:"tau_step,omitempty"`

	// Repetitions is the number of acquisition runs averaged per tau
	// value; Averages is the number of camera frames per channel within
	// one run.
	Repetitions int `json:"repetitions"`
	Averages    int `json:"averages"`

	MWPowerDBm float64 `json:"mw_power_dbm"`
	MWFreqHz   float64 `json:"mw_freq_hz"`

	OutputDir string `json:"output_dir,omitempty"`
}

// State holds the observable state of the runner.
type State struct {
	Status        Status     `json:"status"`
	RunID         string     `json:"run_id,omitempty"`
	Request       *Request   `json:"request,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	TotalTaus     int        `json:"total_taus"`
	CompletedTaus int        `json:"completed_taus"`
	Error         string     `json:"error,omitempty"`
	DataPath      string     `json:"data_path,omitempty"`
	ReportPath    string     `json:"report_path,omitempty"`
	PlotPath      string     `json:"plot_path,omitempty"`
	FitSummary    string     `json:"fit_summary,omitempty"`
}

// Defaults fill request fields the caller leaves zero, typically from the
// wiring config's defaults block.
type Defaults struct {
	Repetitions int
	Averages    int
	MWPowerDBm  float64
	MWFreqHz    float64
	OutputDir   string
}

// Hardware is the instrument set one sweep drives.
type Hardware struct {
	Camera   camera.Camera
	MW       mwsource.Source
	Uploader pulse.Uploader
}

// Progress is a snapshot of the accumulated means for live plotting.
type Progress struct {
	Taus      []float64 `json:"taus"`
	Signal    []float64 `json:"signal"`
	Reference []float64 `json:"reference"`
	SignalErr []float64 `json:"signal_err"`
	RefErr    []float64 `json:"reference_err"`
	FreqSweep bool      `json:"freq_sweep"`
}

// Runner orchestrates sweep runs over the hardware set. One sweep at a
// time; acquisition is sequential within the run goroutine and all shared
// state is behind the mutex.
type Runner struct {
	hw       Hardware
	runs     *db.DB // may be nil
	timing   pulse.Timing
	defaults Defaults

	mu     sync.RWMutex
	state  State
	acc    *Accumulator
	cancel context.CancelFunc
}

// NewRunner creates a sweep runner. The database handle is optional; when
// nil, runs are not recorded.
func NewRunner(hw Hardware, runs *db.DB) *Runner {
	return &Runner{
		hw:     hw,
		runs:   runs,
		timing: pulse.DefaultTiming(),
		state:  State{Status: StatusIdle},
	}
}

// SetDefaults installs the fallback request values applied by Start. Call
// before the first sweep.
func (r *Runner) SetDefaults(d Defaults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = d
}

// GetState returns a copy of the current runner state.
func (r *Runner) GetState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// GetProgress returns the accumulated means recorded so far, for plotting
// while the sweep is still running. Nil when no sweep has started.
func (r *Runner) GetProgress() *Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.acc == nil {
		return nil
	}
	n := r.state.CompletedTaus
	taus := make([]float64, n)
	copy(taus, r.acc.Taus[:n])
	freqSweep := false
	if r.state.Request != nil {
		freqSweep = r.state.Request.Pattern == "odmr"
	}
	return &Progress{
		Taus:      taus,
		Signal:    r.acc.Means(ChanSignal, n),
		Reference: r.acc.Means(ChanReference, n),
		SignalErr: r.acc.Errs(ChanSignal, n),
		RefErr:    r.acc.Errs(ChanReference, n),
		FreqSweep: freqSweep,
	}
}

// Stop cancels a running sweep. The run goroutine notices at the next
// tau boundary and aborts without writing output.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// tauAxis resolves the request's tau values: explicit list when given,
// otherwise generated from start/stop/step. The generated count is checked
// against maxTaus before the slice is built, so a tiny step in a request
// cannot allocate an unbounded axis.
func tauAxis(req Request) ([]float64, error) {
	if len(req.Taus) > 0 {
		if len(req.Taus) > maxTaus {
			return nil, fmt.Errorf("tau list too large: %d values (max %d)", len(req.Taus), maxTaus)
		}
		return req.Taus, nil
	}
	if req.TauStep == 0 {
		return nil, fmt.Errorf("empty tau range %g:%g:%g", req.TauStart, req.TauStop, req.TauStep)
	}
	count := math.Ceil((req.TauStop - req.TauStart) / req.TauStep)
	if count <= 0 || math.IsNaN(count) {
		return nil, fmt.Errorf("empty tau range %g:%g:%g", req.TauStart, req.TauStop, req.TauStep)
	}
	if count > maxTaus {
		return nil, fmt.Errorf("tau range too large: %.0f values (max %d)", count, maxTaus)
	}
	return Arange(req.TauStart, req.TauStop, req.TauStep), nil
}

// Start validates the request and launches the sweep in a background
// goroutine. Returns an error without changing state when a sweep is
// already in progress or the request is invalid.
func (r *Runner) Start(ctx context.Context, req Request) error {
	r.mu.RLock()
	defs := r.defaults
	r.mu.RUnlock()
	if req.Repetitions <= 0 {
		req.Repetitions = defs.Repetitions
	}
	if req.Repetitions <= 0 {
		req.Repetitions = 3
	}
	if req.Averages <= 0 {
		req.Averages = defs.Averages
	}
	if req.Averages <= 0 {
		req.Averages = 50
	}
	if req.MWPowerDBm == 0 {
		req.MWPowerDBm = defs.MWPowerDBm
	}
	if req.MWFreqHz == 0 {
		req.MWFreqHz = defs.MWFreqHz
	}
	if req.OutputDir == "" {
		req.OutputDir = defs.OutputDir
	}
	if req.OutputDir == "" {
		req.OutputDir = "."
	}

	taus, err := tauAxis(req)
	if err != nil {
		return err
	}

	pat, err := pulse.ByName(req.Pattern, r.timing, taus)
	if err != nil {
		return err
	}

	roi := r.hw.Camera.ROI()
	acc, err := NewAccumulator(taus, roi.Width, roi.Height)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return ErrSweepRunning
	}

	now := time.Now()
	runID := uuid.New().String()
	r.state = State{
		Status:    StatusRunning,
		RunID:     runID,
		Request:   &req,
		StartedAt: &now,
		TotalTaus: len(taus),
	}
	r.acc = acc

	sweepCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	if r.runs != nil {
		err := r.runs.InsertRun(&db.Run{
			ID:          runID,
			Tag:         req.Tag,
			Pattern:     pat.Name,
			TauStart:    req.TauStart,
			TauStop:     req.TauStop,
			TauStep:     req.TauStep,
			TauCount:    len(taus),
			Repetitions: req.Repetitions,
			Averages:    req.Averages,
			MWPowerDBm:  req.MWPowerDBm,
			MWFreqHz:    req.MWFreqHz,
			ROIWidth:    roi.Width,
			ROIHeight:   roi.Height,
			Status:      db.StatusRunning,
			StartedAt:   now.UTC(),
		})
		if err != nil {
			monitoring.Logf("[sweep] record run start: %v", err)
		}
	}

	go r.run(sweepCtx, req, pat, acc, runID)
	return nil
}

// fail marks the sweep failed. No output files are written.
func (r *Runner) fail(runID, msg string) {
	monitoring.Logf("[sweep] %s", msg)
	now := time.Now()
	r.mu.Lock()
	r.state.Status = StatusError
	r.state.Error = msg
	r.state.CompletedAt = &now
	r.cancel = nil
	r.mu.Unlock()
	if r.runs != nil {
		if err := r.runs.CompleteRun(runID, db.StatusError, msg, "", "", ""); err != nil {
			monitoring.Logf("[sweep] record run failure: %v", err)
		}
	}
}

// run executes the sweep. Per tau value: build and upload the pattern,
// program the microwave source, acquire Repetitions runs of alternating
// signal/reference frames, and accumulate. Cancellation is polled once per
// tau value. On any failure the sweep aborts and nothing is saved.
func (r *Runner) run(ctx context.Context, req Request, pat *pulse.Pattern, acc *Accumulator, runID string) {
	if err := r.hw.MW.SetPower(req.MWPowerDBm); err != nil {
		r.fail(runID, fmt.Sprintf("set microwave power: %v", err))
		return
	}
	if !pat.FreqSweep {
		if err := r.hw.MW.SetFrequency(req.MWFreqHz); err != nil {
			r.fail(runID, fmt.Sprintf("set microwave frequency: %v", err))
			return
		}
	}
	if err := r.hw.MW.RFOn(); err != nil {
		r.fail(runID, fmt.Sprintf("enable RF output: %v", err))
		return
	}
	defer func() {
		if err := r.hw.MW.RFOff(); err != nil {
			monitoring.Logf("[sweep] disable RF output: %v", err)
		}
	}()

	if err := r.hw.Camera.ArmPulsed(camera.TriggerEdge); err != nil {
		r.fail(runID, fmt.Sprintf("arm camera: %v", err))
		return
	}

	monitoring.Logf("[sweep] %s: %s sweep, %d values, %d reps x %d averages",
		runID, pat.Name, len(pat.Taus), req.Repetitions, req.Averages)

	for i, tau := range pat.Taus {
		select {
		case <-ctx.Done():
			r.fail(runID, fmt.Sprintf("sweep stopped at value %d/%d: %v", i, len(pat.Taus), ctx.Err()))
			return
		default:
		}

		if err := r.hw.Uploader.Upload(ctx, pat.Build(tau)); err != nil {
			if errors.Is(err, pulse.ErrPatternMemory) {
				r.fail(runID, fmt.Sprintf("sequencer memory exhausted at tau=%g: %v", tau, err))
				return
			}
			r.fail(runID, fmt.Sprintf("upload pattern for tau=%g: %v", tau, err))
			return
		}
		if pat.FreqSweep {
			if err := r.hw.MW.SetFrequency(tau); err != nil {
				r.fail(runID, fmt.Sprintf("set microwave frequency %g Hz: %v", tau, err))
				return
			}
		}

		sigRuns := make([]camera.Frame, 0, req.Repetitions)
		refRuns := make([]camera.Frame, 0, req.Repetitions)
		for run := 0; run < req.Repetitions; run++ {
			frames, err := r.hw.Camera.AcquireSequence(ctx, 2*req.Averages)
			if err != nil {
				r.fail(runID, fmt.Sprintf("acquire value %d run %d: %v", i, run, err))
				return
			}
			sig, ref, err := SplitAverage(frames, acc.Width, acc.Height)
			if err != nil {
				r.fail(runID, fmt.Sprintf("average value %d run %d: %v", i, run, err))
				return
			}
			sigRuns = append(sigRuns, sig)
			refRuns = append(refRuns, ref)
		}

		if err := acc.Record(i, sigRuns, refRuns); err != nil {
			r.fail(runID, fmt.Sprintf("accumulate value %d: %v", i, err))
			return
		}

		r.mu.Lock()
		r.state.CompletedTaus = i + 1
		r.mu.Unlock()
	}

	if err := r.save(req, pat, acc, runID); err != nil {
		r.fail(runID, fmt.Sprintf("save sweep output: %v", err))
		return
	}

	now := time.Now()
	r.mu.Lock()
	r.state.Status = StatusComplete
	r.state.CompletedAt = &now
	r.cancel = nil
	r.mu.Unlock()
	monitoring.Logf("[sweep] %s: complete, %d values", runID, len(pat.Taus))
}

// save persists the npz archive, the tab-delimited report, and the plot,
// then records the outcome. A fit failure is logged but does not fail the
// run; the fit columns are simply absent.
func (r *Runner) save(req Request, pat *pulse.Pattern, acc *Accumulator, runID string) error {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return err
	}

	started := time.Now()
	r.mu.RLock()
	if r.state.StartedAt != nil {
		started = *r.state.StartedAt
	}
	r.mu.RUnlock()

	base := started.Format("20060102_150405") + "_" + pat.Name
	if req.Tag != "" {
		base += "_" + req.Tag
	}
	dataPath := filepath.Join(req.OutputDir, base+".npz")
	reportPath := filepath.Join(req.OutputDir, base+".txt")
	plotPath := filepath.Join(req.OutputDir, base+".png")

	err := npz.WriteFile(dataPath, []string{"data", "err", "x"}, map[string]*npz.Array{
		"data": acc.Data,
		"err":  acc.Err,
		"x":    tauArray(acc.Taus),
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", dataPath, err)
	}

	n := len(acc.Taus)
	sig := acc.Means(ChanSignal, n)
	ref := acc.Means(ChanReference, n)
	sigErr := acc.Errs(ChanSignal, n)
	refErr := acc.Errs(ChanReference, n)

	res := r.fitContrast(pat, acc.Taus, sig, ref, runID)

	var meta report.Metadata
	meta.Add("run_id", "%s", runID)
	meta.Add("tag", "%s", req.Tag)
	meta.Add("pattern", "%s", pat.Name)
	meta.Add("tau_start", "%g", req.TauStart)
	meta.Add("tau_stop", "%g", req.TauStop)
	meta.Add("tau_step", "%g", req.TauStep)
	meta.Add("tau_count", "%d", n)
	meta.Add("repetitions", "%d", req.Repetitions)
	meta.Add("averages", "%d", req.Averages)
	meta.Add("mw_power_dbm", "%g", req.MWPowerDBm)
	meta.Add("mw_freq_hz", "%g", req.MWFreqHz)
	meta.Add("roi", "%s", r.hw.Camera.ROI().String())
	if res != nil {
		meta.Add("fit", "%s", res.String())
	}

	xLabel := "tau (s)"
	if pat.FreqSweep {
		xLabel = "frequency (Hz)"
	}
	table := report.Table{
		Columns: []string{xLabel, "signal", "reference", "signal_err", "reference_err"},
	}
	var fitCurve []float64
	if res != nil {
		table.Columns = append(table.Columns, "fit")
		fitCurve = res.Curve(acc.Taus)
	}
	for i := 0; i < n; i++ {
		row := []float64{acc.Taus[i], sig[i], ref[i], sigErr[i], refErr[i]}
		if fitCurve != nil {
			row = append(row, fitCurve[i]*ref[i])
		}
		table.Rows = append(table.Rows, row)
	}
	if err := report.WriteFile(reportPath, started, meta, table); err != nil {
		return fmt.Errorf("write %s: %w", reportPath, err)
	}

	curves := []report.Curve{
		{Name: "signal", X: acc.Taus, Y: sig, YErr: sigErr},
		{Name: "reference", X: acc.Taus, Y: ref, YErr: refErr},
	}
	if fitCurve != nil {
		scaled := make([]float64, n)
		for i := range scaled {
			scaled[i] = fitCurve[i] * ref[i]
		}
		curves = append(curves, report.Curve{Name: "fit", X: acc.Taus, Y: scaled, Line: true})
	}
	if err := report.SavePlot(plotPath, pat.Name, xLabel, "mean counts", curves); err != nil {
		return fmt.Errorf("write %s: %w", plotPath, err)
	}

	r.mu.Lock()
	r.state.DataPath = dataPath
	r.state.ReportPath = reportPath
	r.state.PlotPath = plotPath
	if res != nil {
		r.state.FitSummary = res.String()
	}
	r.mu.Unlock()

	if r.runs != nil {
		if err := r.runs.CompleteRun(runID, db.StatusComplete, "", dataPath, reportPath, plotPath); err != nil {
			return fmt.Errorf("record run completion: %w", err)
		}
	}
	return nil
}

// fitContrast fits the pattern's model to the signal/reference contrast.
// Returns nil when no model applies or the fit does not converge.
func (r *Runner) fitContrast(pat *pulse.Pattern, taus, sig, ref []float64, runID string) *fit.Result {
	m, err := fit.ModelFor(pat.Name)
	if err != nil {
		return nil
	}
	contrast := make([]float64, len(taus))
	for i := range contrast {
		if ref[i] == 0 {
			return nil
		}
		contrast[i] = sig[i] / ref[i]
	}
	res, err := fit.Fit(m, taus, contrast)
	if err != nil {
		monitoring.Logf("[sweep] %s: fit failed: %v", runID, err)
		return nil
	}
	if r.runs != nil {
		if err := r.runs.RecordFit(runID, m.Name, res.String(), res.RMSE); err != nil {
			monitoring.Logf("[sweep] %s: record fit: %v", runID, err)
		}
	}
	return res
}

func tauArray(taus []float64) *npz.Array {
	a, _ := npz.NewArray(len(taus))
	copy(a.Data, taus)
	return a
}
