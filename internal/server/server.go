package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolibrelab/dictate/internal/audio"
	"github.com/audiolibrelab/dictate/internal/config"
	"github.com/audiolibrelab/dictate/internal/service"
)

const (
	shutdownTimeout = 5 * time.Second
	maxUploadBytes  = 25 << 20 // provider upload limit
)

// SourceLister enumerates capture devices for the /sources endpoint
type SourceLister interface {
	ListSources() ([]string, error)
	GetType() audio.BackendType
}

// Server exposes the dictation service over a local HTTP API
type Server struct {
	service service.Service
	cfg     *config.Config
	store   *config.Store
	sources SourceLister
	listen  string
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Detail  service.Status `json:"detail"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Backend string   `json:"backend"`
	Device  string   `json:"device"`
	Sources []string `json:"sources"`
}

// MaxDurationRequest changes the auto-stop limit
type MaxDurationRequest struct {
	MaxDuration string `json:"max_duration"` // Go duration, "0" disables
	Persist     bool   `json:"persist"`
}

// TranscribeResponse is returned by the upload endpoint
type TranscribeResponse struct {
	Success       bool    `json:"success"`
	Transcription string  `json:"transcription"`
	Text          string  `json:"text"`
	Duration      float64 `json:"duration_seconds,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Option configures a Server
type Option func(*Server)

// WithStore lets max-duration changes be written back to the config file
func WithStore(store *config.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithSources enables the /sources endpoint
func WithSources(sources SourceLister) Option {
	return func(s *Server) { s.sources = sources }
}

// WithListen overrides service.listen
func WithListen(addr string) Option {
	return func(s *Server) { s.listen = addr }
}

// New creates a new web server instance
func New(svc service.Service, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		service: svc,
		cfg:     cfg,
		listen:  cfg.Service.Listen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/toggle", s.handleToggle)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/max-duration", s.handleMaxDuration)
	mux.HandleFunc("/transcribe", s.handleTranscribe)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting dictate API server", "url", fmt.Sprintf("http://%s", listener.Addr()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleIndex lists the API
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.sendErrorResponse(w, http.StatusNotFound, "Not found", "path", r.URL.Path)
		return
	}
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, `dictate API

POST /start          Start recording
POST /stop           Stop recording and transcribe
POST /toggle         Start or stop
GET  /status         Current state
GET  /healthz        Liveness
GET  /sources        Capture devices
POST /max-duration   {"max_duration": "45s", "persist": true}
POST /transcribe     Multipart upload, field "file"
`)
}

// handleStart starts a new recording
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.StartRecording(r.Context()); err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "start_recording")
		return
	}

	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording started"})
}

// handleStop stops the current recording and queues it for transcription
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	// A client hanging up must not discard the recording
	clip, err := s.service.StopRecording(context.WithoutCancel(r.Context()))
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop_recording")
		return
	}

	s.sendJSON(w, http.StatusAccepted, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Recording stopped (%.1fs), transcribing", clip.Duration.Seconds()),
	})
}

// handleToggle starts or stops depending on the current state
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	action, err := s.service.Toggle(context.WithoutCancel(r.Context()))
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to toggle recording: %v", err),
			"operation", "toggle", "action", action)
		return
	}

	message := "Recording started"
	code := http.StatusOK
	if action == service.ToggleStopped {
		message = "Recording stopped, transcribing"
		code = http.StatusAccepted
	}
	s.sendJSON(w, code, GenericResponse{Success: true, Message: message})
}

// handleStatus returns the current status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	status := s.service.GetStatus()
	s.sendJSON(w, http.StatusOK, StatusResponse{
		Status:  string(status.State),
		Message: s.generateStatusMessage(status),
		Detail:  status,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "ok"})
}

// handleSources lists capture devices of the configured backend
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.sources == nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable, "Source listing is not available")
		return
	}

	sources, err := s.sources.ListSources()
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable,
			fmt.Sprintf("Failed to list sources: %v", err),
			"backend", s.sources.GetType())
		return
	}
	if sources == nil {
		sources = []string{}
	}

	s.sendJSON(w, http.StatusOK, SourcesResponse{
		Backend: string(s.sources.GetType()),
		Device:  s.cfg.Audio.Device,
		Sources: sources,
	})
}

// handleMaxDuration changes the auto-stop limit for the next recording
func (s *Server) handleMaxDuration(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req MaxDurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	limit, err := time.ParseDuration(req.MaxDuration)
	if err != nil || limit < 0 {
		s.sendErrorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid max_duration %q, expected a non-negative duration like 45s", req.MaxDuration))
		return
	}

	if req.Persist {
		if s.store == nil {
			s.sendErrorResponse(w, http.StatusServiceUnavailable, "No config file to persist to")
			return
		}
		if err := s.store.SaveMaxDuration(limit); err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to save max duration: %v", err),
				"file", s.store.File())
			return
		}
	}
	s.service.SetMaxDuration(limit)

	message := "Max duration disabled"
	if limit > 0 {
		message = fmt.Sprintf("Max duration set to %s", limit)
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: message})
}

// handleTranscribe transcribes an uploaded audio file without inserting it
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Missing audio file: %v", err))
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp(s.cfg.Recording.TempDir, "dictate_upload_*"+filepath.Ext(header.Filename))
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to store upload: %v", err))
		return
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, file)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to read upload: %v", err))
		return
	}

	result, err := s.service.TranscribeFile(r.Context(), tmp.Name())
	if result == nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Transcription failed: %v", err),
			"operation", "transcribe", "file", header.Filename)
		return
	}

	response := TranscribeResponse{
		Success:       err == nil,
		Transcription: result.Transcription,
		Text:          result.Text,
		Duration:      result.ClipDuration.Seconds(),
	}
	if err != nil {
		response.Error = err.Error()
	}
	s.sendJSON(w, http.StatusOK, response)
}

// generateStatusMessage creates a human readable line for the status
func (s *Server) generateStatusMessage(status service.Status) string {
	switch status.State {
	case service.StatusStandby:
		return ""
	case service.StatusRecording:
		if status.MaxDuration > 0 {
			return fmt.Sprintf("Recording in progress - %.0fs of %.0fs", status.Elapsed, status.MaxDuration)
		}
		return fmt.Sprintf("Recording in progress - %.0fs", status.Elapsed)
	case service.StatusProcessing:
		return fmt.Sprintf("Transcribing %d clip(s)", status.Processing)
	case service.StatusError:
		if status.LastError != "" {
			return status.LastError
		}
		return "An error occurred during the operation"
	default:
		return ""
	}
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, audio.ErrAlreadyRecording), errors.Is(err, audio.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, audio.ErrTooShort):
		return http.StatusUnprocessableEntity
	case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, audio.ErrInvalidWAV):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	s.sendJSON(w, http.StatusMethodNotAllowed, GenericResponse{Success: false, Error: "Method not allowed"})
	return false
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	s.sendJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}
