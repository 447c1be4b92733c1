// Command nvsweepd runs the sweep daemon: it assembles the configured
// hardware, opens the run database, and serves the monitor API until
// interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spinlab-data/nvsweep/internal/api"
	"github.com/spinlab-data/nvsweep/internal/config"
	"github.com/spinlab-data/nvsweep/internal/db"
	"github.com/spinlab-data/nvsweep/internal/sweep"
	"github.com/spinlab-data/nvsweep/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run with simulated hardware")
	listen     = flag.String("listen", ":8090", "Listen address")
	confPath   = flag.String("config", "config/nvsweep.yaml", "Wiring file path")
	dataDir    = flag.String("data", "", "Override the configured data directory")
	migrations = flag.String("migrations", "", "Apply schema migrations from this directory before serving")
)

func main() {
	flag.Parse()

	log.Printf("nvsweepd %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := config.Load(*confPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if cfg.Database == "" {
		cfg.Database = "nvsweep.db"
	}

	cam, mw, uploader, err := cfg.Assemble(*devMode)
	if err != nil {
		log.Fatalf("failed to assemble hardware: %v", err)
	}
	defer cam.Close()
	defer mw.Close()

	if err := mw.Initialize(); err != nil {
		log.Fatalf("failed to initialize microwave source: %v", err)
	}

	database, err := db.NewDB(filepath.Join(cfg.DataDir, cfg.Database))
	if err != nil {
		log.Fatalf("failed to open run database: %v", err)
	}
	defer database.Close()

	if *migrations != "" {
		if err := database.MigrateUp(*migrations); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
	}

	runner := sweep.NewRunner(sweep.Hardware{
		Camera:   cam,
		MW:       mw,
		Uploader: uploader,
	}, database)
	runner.SetDefaults(sweep.Defaults{
		Repetitions: cfg.Defaults.Repetitions,
		Averages:    cfg.Defaults.Averages,
		MWPowerDBm:  cfg.Defaults.MWPowerDBm,
		MWFreqHz:    cfg.Defaults.MWFreqHz,
		OutputDir:   cfg.DataDir,
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(runner, database).ServeMux()
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("monitor API listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	// stop any running sweep on shutdown so the run goroutine exits
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		runner.Stop()
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
