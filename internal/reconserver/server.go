// Package reconserver exposes the reconstruction job queue over HTTP: video
// uploads on /generate and status or result retrieval on /search.
package reconserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"shopscan/internal/jobqueue"
	"shopscan/internal/logging"
	"shopscan/internal/services"
)

// maxUploadBytes caps a single video upload at 2 GiB.
const maxUploadBytes = 2 << 30

// Server is the reconstruction service's HTTP front end.
type Server struct {
	bind   string
	queue  *jobqueue.Queue
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

// New builds a server for the given queue.
func New(bind string, queue *jobqueue.Queue, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &Server{
		bind:   strings.TrimSpace(bind),
		queue:  queue,
		logger: logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/generate", srv.handleGenerate)
	mux.HandleFunc("/search", srv.handleSearch)
	mux.HandleFunc("/healthz", srv.handleHealth)
	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Handler exposes the HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving and shuts the listener down when the context ends.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("reconserver listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("reconstruction server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("reconstruction server listening",
		logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	jobID, alreadyDone, err := s.queue.Submit(header.Filename, file)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("upload failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not accept upload")
		return
	}
	if alreadyDone {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"id":      jobID,
			"message": "Result already exists.",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": jobID})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID := strings.TrimSpace(r.URL.Query().Get("id"))
	if jobID == "" {
		s.writeError(w, http.StatusBadRequest, "id parameter is required")
		return
	}

	status, known := s.queue.Lookup(jobID)
	switch {
	case known && status == jobqueue.StatusCompleted:
		payload, err := s.queue.FetchResult(jobID)
		if err != nil {
			// Completed in the table but missing on disk; report failure
			// the same way a failed job does.
			s.logger.Error("completed job has no result files",
				logging.String(logging.FieldJobID, jobID),
				logging.Error(err))
			s.writeJSON(w, http.StatusOK, map[string]int{"status": -1})
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", jobID+"_result.zip"))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(payload); err != nil {
			s.logger.Warn("result download interrupted",
				logging.String(logging.FieldJobID, jobID),
				logging.Error(err))
		}
	case known && (status == jobqueue.StatusQueued || status == jobqueue.StatusProcessing):
		s.writeJSON(w, http.StatusOK, map[string]int{"status": 0})
	default:
		s.writeJSON(w, http.StatusOK, map[string]int{"status": -1})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
