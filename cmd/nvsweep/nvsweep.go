// Command nvsweep runs a single sweep from the command line and writes the
// npz archive, report and plot to the output directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spinlab-data/nvsweep/internal/config"
	"github.com/spinlab-data/nvsweep/internal/sweep"
)

var (
	confPath = flag.String("config", "config/nvsweep.yaml", "Wiring file path")
	devMode  = flag.Bool("dev", false, "Run with simulated hardware")

	pattern  = flag.String("pattern", "rabi", "Pulse pattern: rabi, t1, hahn_echo, ramsey, cpmg, xy4, xy8, xy16, odmr, single_freq")
	tauRange = flag.String("range", "", "Tau range as start:stop:step (seconds, or Hz for odmr)")
	tauList  = flag.String("taus", "", "Explicit comma-separated tau values (overrides -range)")
	reps     = flag.Int("reps", 0, "Acquisition runs per tau value")
	avgs     = flag.Int("avg", 0, "Camera frames per channel per run")
	power    = flag.Float64("power", 0, "Microwave power in dBm")
	freq     = flag.Float64("freq", 0, "Microwave frequency in Hz (ignored for odmr)")
	tag      = flag.String("tag", "", "Tag recorded in output filenames and metadata")
	outDir   = flag.String("out", "", "Output directory (default: configured data_dir)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load(*confPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	req := sweep.Request{
		Tag:         *tag,
		Pattern:     *pattern,
		Repetitions: *reps,
		Averages:    *avgs,
		MWPowerDBm:  *power,
		MWFreqHz:    *freq,
		OutputDir:   *outDir,
	}
	switch {
	case *tauList != "":
		req.Taus, err = sweep.ParseList(*tauList)
		if err != nil {
			return err
		}
	case *tauRange != "":
		req.TauStart, req.TauStop, req.TauStep, err = sweep.ParseRange(*tauRange)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("one of -range or -taus is required")
	}

	cam, mw, uploader, err := cfg.Assemble(*devMode)
	if err != nil {
		return fmt.Errorf("assemble hardware: %w", err)
	}
	defer cam.Close()
	defer mw.Close()

	if err := mw.Initialize(); err != nil {
		return fmt.Errorf("initialize microwave source: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := sweep.NewRunner(sweep.Hardware{
		Camera:   cam,
		MW:       mw,
		Uploader: uploader,
	}, nil)
	runner.SetDefaults(sweep.Defaults{
		Repetitions: cfg.Defaults.Repetitions,
		Averages:    cfg.Defaults.Averages,
		MWPowerDBm:  cfg.Defaults.MWPowerDBm,
		MWFreqHz:    cfg.Defaults.MWFreqHz,
		OutputDir:   cfg.DataDir,
	})

	if err := runner.Start(ctx, req); err != nil {
		return err
	}

	lastReported := -1
	for {
		st := runner.GetState()
		if st.CompletedTaus != lastReported && st.Status == sweep.StatusRunning {
			fmt.Fprintf(os.Stderr, "\r%d/%d values", st.CompletedTaus, st.TotalTaus)
			lastReported = st.CompletedTaus
		}
		if st.Status != sweep.StatusRunning {
			fmt.Fprintln(os.Stderr)
			if st.Status == sweep.StatusError {
				return fmt.Errorf("sweep failed: %s", st.Error)
			}
			fmt.Printf("data:   %s\n", st.DataPath)
			fmt.Printf("report: %s\n", st.ReportPath)
			fmt.Printf("plot:   %s\n", st.PlotPath)
			if st.FitSummary != "" {
				fmt.Printf("fit:    %s\n", st.FitSummary)
			}
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}
