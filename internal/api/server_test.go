package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spinlab-data/nvsweep/internal/camera"
	"github.com/spinlab-data/nvsweep/internal/db"
	"github.com/spinlab-data/nvsweep/internal/mwsource"
	"github.com/spinlab-data/nvsweep/internal/pulse"
	"github.com/spinlab-data/nvsweep/internal/sweep"
)

func testServer(t *testing.T) (*Server, *db.DB, string) {
	t.Helper()
	cam := camera.NewSim(4, 4)
	cam.SetNoise(0)
	hw := sweep.Hardware{
		Camera:   cam,
		MW:       mwsource.NewMock(),
		Uploader: pulse.NewMemoryUploader(1.25e9, 1<<40),
	}
	database, err := db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	outDir := t.TempDir()
	return NewServer(sweep.NewRunner(hw, database), database), database, outDir
}

func waitIdle(t *testing.T, s *Server) sweep.State {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st := s.runner.GetState()
		if st.Status != sweep.StatusRunning {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sweep did not finish")
	return sweep.State{}
}

func TestStatusEndpoint(t *testing.T) {
	s, _, _ := testServer(t)
	mux := s.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sweep/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var st sweep.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != sweep.StatusIdle {
		t.Errorf("status = %s, want idle", st.Status)
	}
}

func TestStartRunsSweep(t *testing.T) {
	s, _, outDir := testServer(t)
	mux := s.ServeMux()

	body, _ := json.Marshal(sweep.Request{
		Pattern:     "rabi",
		TauStart:    10e-9,
		TauStop:     40e-9,
		TauStep:     10e-9,
		Repetitions: 2,
		Averages:    1,
		MWFreqHz:    2.87e9,
		OutputDir:   outDir,
	})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sweep/start", bytes.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start code = %d, body %s", rec.Code, rec.Body)
	}

	st := waitIdle(t, s)
	if st.Status != sweep.StatusComplete {
		t.Fatalf("sweep status = %s, error %q", st.Status, st.Error)
	}

	// listed in run history
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("runs code = %d", rec.Code)
	}
	var runs []db.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != st.RunID {
		t.Errorf("runs = %+v", runs)
	}

	// single-run lookup
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/run?id="+st.RunID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("run code = %d", rec.Code)
	}

	// progress chart renders as HTML
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sweep/plot", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("plot code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("plot content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "echarts") {
		t.Error("plot body does not embed a chart")
	}
}

func TestStartRejectsBadRequests(t *testing.T) {
	s, _, _ := testServer(t)
	mux := s.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sweep/start", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sweep/start", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body code = %d", rec.Code)
	}

	// validation failures are the client's fault, not a conflict
	body, _ := json.Marshal(sweep.Request{Pattern: "unknown", Taus: []float64{1}})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sweep/start", bytes.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown pattern code = %d, body %s", rec.Code, rec.Body)
	}

	body, _ = json.Marshal(sweep.Request{Pattern: "rabi", TauStart: 1, TauStop: 1, TauStep: 1})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sweep/start", bytes.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty range code = %d, body %s", rec.Code, rec.Body)
	}
}

func TestStartWhileRunningConflicts(t *testing.T) {
	s, _, outDir := testServer(t)
	mux := s.ServeMux()

	if err := s.runner.Start(context.Background(), sweep.Request{
		Pattern:     "t1",
		TauStart:    1e-6,
		TauStop:     100e-6,
		TauStep:     1e-6,
		Repetitions: 1,
		Averages:    1,
		OutputDir:   outDir,
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	body, _ := json.Marshal(sweep.Request{Pattern: "rabi", Taus: []float64{1e-6}, OutputDir: outDir})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sweep/start", bytes.NewReader(body)))
	if rec.Code != http.StatusConflict {
		t.Errorf("overlapping start code = %d, body %s", rec.Code, rec.Body)
	}

	s.runner.Stop()
	waitIdle(t, s)
}

func TestStopEndpoint(t *testing.T) {
	s, _, outDir := testServer(t)
	mux := s.ServeMux()

	if err := s.runner.Start(context.Background(), sweep.Request{
		Pattern:     "t1",
		TauStart:    1e-6,
		TauStop:     100e-6,
		TauStep:     1e-6,
		Repetitions: 1,
		Averages:    1,
		OutputDir:   outDir,
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sweep/stop", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stop code = %d", rec.Code)
	}

	st := waitIdle(t, s)
	if st.Status == sweep.StatusRunning {
		t.Errorf("sweep still running after stop")
	}
}

func TestPlotWithoutData(t *testing.T) {
	s, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sweep/plot", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("plot code = %d, want 404", rec.Code)
	}
}
