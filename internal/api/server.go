// Package api exposes the sweep runner and run history over HTTP for the
// lab dashboard.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spinlab-data/nvsweep/internal/db"
	"github.com/spinlab-data/nvsweep/internal/monitoring"
	"github.com/spinlab-data/nvsweep/internal/sweep"
	"github.com/spinlab-data/nvsweep/internal/version"
)

// ANSI escape codes for request log colouring
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	runner *sweep.Runner
	db     *db.DB
}

func NewServer(runner *sweep.Runner, db *db.DB) *Server {
	return &Server{
		runner: runner,
		db:     db,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sweep/start", s.startSweep)
	mux.HandleFunc("/api/sweep/stop", s.stopSweep)
	mux.HandleFunc("/api/sweep/status", s.sweepStatus)
	mux.HandleFunc("/api/sweep/plot", s.sweepPlot)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/run", s.getRun)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) startSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req sweep.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := s.runner.Start(r.Context(), req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, sweep.ErrSweepRunning) {
			status = http.StatusConflict
		}
		s.writeJSONError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.runner.GetState())
}

func (s *Server) stopSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.runner.Stop()
	s.writeJSON(w, http.StatusOK, s.runner.GetState())
}

func (s *Server) sweepStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.runner.GetState())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "run database not configured")
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListRuns(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "run database not configured")
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'id' parameter")
		return
	}
	run, err := s.db.GetRun(id)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}
