package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/dictate/internal/audio"
	"github.com/audiolibrelab/dictate/internal/config"
	"github.com/audiolibrelab/dictate/internal/inject"
	"github.com/audiolibrelab/dictate/internal/respond"
	"github.com/audiolibrelab/dictate/internal/transcribe"
	"github.com/sourcegraph/conc/pool"
)

// ErrClosed is returned by operations on a closed service
var ErrClosed = errors.New("service is closed")

// Service represents the core dictation service interface
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*audio.Clip, error)
	Toggle(ctx context.Context) (ToggleAction, error)
	GetStatus() Status

	// File operations
	TranscribeFile(ctx context.Context, path string) (*Result, error)

	// Configuration operations
	SetMaxDuration(d time.Duration)
	ApplyConfig(cfg *config.Config)

	// Information operations
	GetLastError() string

	Close(ctx context.Context) error
}

// RecordingStatus represents the externally visible service state
type RecordingStatus string

const (
	StatusStandby    RecordingStatus = "STANDBY"
	StatusRecording  RecordingStatus = "RECORDING"
	StatusProcessing RecordingStatus = "PROCESSING"
	StatusError      RecordingStatus = "ERROR"
)

// ToggleAction reports which transition Toggle performed
type ToggleAction string

const (
	ToggleStarted ToggleAction = "started"
	ToggleStopped ToggleAction = "stopped"
)

// Status is a point-in-time snapshot of the service
type Status struct {
	State       RecordingStatus `json:"state"`
	Elapsed     float64         `json:"elapsed_seconds"`
	MaxDuration float64         `json:"max_duration_seconds,omitempty"`
	Processing  int             `json:"processing"`
	LastText    string          `json:"last_text,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// Result is the outcome of processing one clip
type Result struct {
	Origin        string        `json:"origin"` // manual, auto, file
	ClipPath      string        `json:"clip_path"`
	ClipDuration  time.Duration `json:"clip_duration"`
	Transcription string        `json:"transcription"`
	Text          string        `json:"text"` // what was (or would be) inserted
	Injected      bool          `json:"injected"`
	Err           error         `json:"-"`
}

// Injector places text at the cursor
type Injector interface {
	Inject(ctx context.Context, text string) error
	Selection() (string, error)
}

// Dictation is the main service implementation
type Dictation struct {
	cfg         *config.Config
	recorder    audio.Recorder
	transcriber transcribe.Transcriber
	responder   respond.Responder
	injector    Injector
	onResult    func(Result)
	cleanClips  bool

	// Processing pool, bounded by service.workers
	pool       *pool.Pool
	submitted  sync.WaitGroup
	processing atomic.Int32
	ctx        context.Context
	cancel     context.CancelFunc

	// lifecycleMutex orders StartRecording against Close, so no recording
	// can begin once Close has released the recorder.
	lifecycleMutex sync.Mutex

	// closed is guarded by submitMutex so no clip is queued after Close
	submitMutex sync.Mutex
	closed      bool

	stateMutex  sync.RWMutex
	maxDuration time.Duration
	lastText    string

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// Option configures a Dictation service
type Option func(*Dictation)

// WithRecorder replaces the audio session built from configuration
func WithRecorder(r audio.Recorder) Option {
	return func(d *Dictation) { d.recorder = r }
}

// WithTranscriber replaces the provider transcription client
func WithTranscriber(t transcribe.Transcriber) Option {
	return func(d *Dictation) { d.transcriber = t }
}

// WithResponder sets the responder; nil disables it
func WithResponder(r respond.Responder) Option {
	return func(d *Dictation) { d.responder = r }
}

// WithInjector sets the injector; nil disables text insertion
func WithInjector(i Injector) Option {
	return func(d *Dictation) { d.injector = i }
}

// WithResultHandler is called once for every processed clip, and for
// auto-stops that produced no clip
func WithResultHandler(fn func(Result)) Option {
	return func(d *Dictation) { d.onResult = fn }
}

// WithoutClipCleanup leaves old clips in the temp directory alone. Used by
// one-shot commands that never record.
func WithoutClipCleanup() Option {
	return func(d *Dictation) { d.cleanClips = false }
}

// New creates a dictation service. Collaborators not supplied through
// options are built from cfg.
func New(cfg *config.Config, opts ...Option) (*Dictation, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dictation{
		cfg:         cfg,
		cleanClips:  !cfg.Recording.KeepClips,
		maxDuration: cfg.Recording.MaxDuration,
		ctx:         ctx,
		cancel:      cancel,
	}

	// Defaults first, so options may override them with nil
	if cfg.Responder.Enabled {
		responder, err := respond.New(cfg.Provider, cfg.Responder)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create responder: %w", err)
		}
		d.responder = responder
	}
	d.injector = inject.New(cfg.Inject)

	for _, opt := range opts {
		opt(d)
	}

	if d.transcriber == nil {
		transcriber, err := transcribe.New(cfg.Provider)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create transcriber: %w", err)
		}
		d.transcriber = transcriber
	}

	if d.recorder == nil {
		recorder, err := newSession(cfg)
		if err != nil {
			cancel()
			return nil, err
		}
		d.recorder = recorder
	}
	d.recorder.SetMaxDuration(cfg.Recording.MaxDuration)
	d.recorder.OnAutoStop(d.handleAutoStop)

	workers := cfg.Service.Workers
	if workers < 1 {
		workers = 1
	}
	d.pool = pool.New().WithMaxGoroutines(workers)

	if d.cleanClips {
		audio.CleanupStaleClips(cfg.Recording.TempDir, audio.StaleClipAge)
	}

	slog.Debug("Dictation service created",
		"workers", workers,
		"responder", d.responder != nil,
		"inject", d.injector != nil,
		"max_duration", cfg.Recording.MaxDuration)
	return d, nil
}

func newSession(cfg *config.Config) (*audio.Session, error) {
	backend, err := audio.NewBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio backend: %w", err)
	}
	if err := backend.ValidateSource(cfg.Audio.Device); err != nil {
		slog.Warn("Configured audio device not found, recording may fail", "device", cfg.Audio.Device, "backend", backend.GetType(), "error", err)
	}

	session, err := audio.NewSession(audio.ParamsFromConfig(cfg), backend, audio.NewWAVSink(cfg.Recording.TempDir),
		audio.WithMaxDuration(cfg.Recording.MaxDuration))
	if err != nil {
		return nil, fmt.Errorf("failed to create recording session: %w", err)
	}
	return session, nil
}

// StartRecording starts a new recording
func (d *Dictation) StartRecording(ctx context.Context) error {
	d.lifecycleMutex.Lock()
	defer d.lifecycleMutex.Unlock()

	if d.isClosed() {
		return ErrClosed
	}
	d.clearLastError() // Clear any previous errors when starting a new operation

	if err := d.recorder.Start(ctx); err != nil {
		if !errors.Is(err, audio.ErrAlreadyRecording) {
			d.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		}
		return err
	}
	return nil
}

// StopRecording stops the current recording and queues the clip for processing
func (d *Dictation) StopRecording(ctx context.Context) (*audio.Clip, error) {
	clip, err := d.recorder.Stop(ctx)
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrNotRecording):
		case errors.Is(err, audio.ErrTooShort):
			d.setLastError("Recording too short, nothing to transcribe")
		default:
			d.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		}
		return nil, err
	}

	d.submit(clip, "manual")
	return clip, nil
}

// Toggle starts a recording when idle and stops it otherwise
func (d *Dictation) Toggle(ctx context.Context) (ToggleAction, error) {
	if d.recorder.State() == audio.StateRecording {
		_, err := d.StopRecording(ctx)
		return ToggleStopped, err
	}
	return ToggleStarted, d.StartRecording(ctx)
}

// handleAutoStop receives clips from the max-duration timer
func (d *Dictation) handleAutoStop(clip *audio.Clip, err error) {
	if err != nil {
		if errors.Is(err, audio.ErrTooShort) {
			d.setLastError("Recording too short, nothing to transcribe")
		} else {
			d.setLastError(fmt.Sprintf("Auto-stop failed: %v", err))
		}
		if d.onResult != nil {
			d.onResult(Result{Origin: "auto", Err: err})
		}
		return
	}
	slog.Info("Recording auto-stopped", "duration", clip.Duration)
	d.submit(clip, "auto")
}

// submit hands a clip to the worker pool without blocking the caller
func (d *Dictation) submit(clip *audio.Clip, origin string) {
	d.submitMutex.Lock()
	defer d.submitMutex.Unlock()
	if d.closed {
		slog.Warn("Service closed, discarding clip", "path", clip.Path)
		d.removeClip(clip)
		return
	}

	d.processing.Add(1)
	d.submitted.Add(1)
	go func() {
		defer d.submitted.Done()
		d.pool.Go(func() {
			defer d.processing.Add(-1)
			d.process(clip, origin)
		})
	}()
}

// process runs one clip through transcription, response and injection
func (d *Dictation) process(clip *audio.Clip, origin string) {
	defer d.removeClip(clip)

	result := d.run(d.ctx, clip.Path, true)
	result.Origin = origin
	result.ClipDuration = clip.Duration
	d.finish(result)
}

// run is shared by recorded clips and file mode
func (d *Dictation) run(ctx context.Context, path string, insert bool) Result {
	result := Result{ClipPath: path}

	text, err := d.transcriber.Transcribe(ctx, path)
	if err != nil {
		result.Err = fmt.Errorf("transcription failed: %w", err)
		return result
	}
	result.Transcription = text
	if text == "" {
		slog.Info("No speech detected", "path", path)
		return result
	}

	result.Text = text
	if d.responder != nil {
		selection := ""
		if d.cfg.Responder.UseSelection && d.injector != nil {
			if s, err := d.injector.Selection(); err == nil {
				selection = s
			} else {
				slog.Debug("No selection available for responder", "error", err)
			}
		}
		answer, err := d.responder.Respond(ctx, text, selection)
		if err != nil {
			// Fall back to inserting the plain transcription
			result.Err = fmt.Errorf("response failed: %w", err)
		} else {
			result.Text = answer
		}
	}

	if insert && d.injector != nil {
		if err := d.injector.Inject(ctx, result.Text); err != nil {
			result.Err = errors.Join(result.Err, fmt.Errorf("text insertion failed: %w", err))
		} else {
			result.Injected = true
		}
	}
	return result
}

func (d *Dictation) finish(result Result) {
	if result.Text != "" {
		d.stateMutex.Lock()
		d.lastText = result.Text
		d.stateMutex.Unlock()
	}

	if result.Err != nil {
		d.setLastError(result.Err.Error())
	} else {
		d.clearLastError()
	}

	slog.Info("Clip processed",
		"origin", result.Origin,
		"duration", result.ClipDuration,
		"chars", len(result.Text),
		"injected", result.Injected,
		"error", result.Err)

	if d.onResult != nil {
		d.onResult(result)
	}
}

func (d *Dictation) removeClip(clip *audio.Clip) {
	if d.cfg.Recording.KeepClips {
		slog.Info("Keeping clip", "path", clip.Path)
		return
	}
	if err := clip.Remove(); err != nil {
		slog.Warn("Failed to remove clip", "error", err)
	}
}

// TranscribeFile transcribes an existing audio file without inserting the result
func (d *Dictation) TranscribeFile(ctx context.Context, path string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %s: %w", path, err)
	}

	var duration time.Duration
	if strings.EqualFold(filepath.Ext(abs), ".wav") {
		info, err := audio.Inspect(abs)
		if err != nil {
			return nil, err
		}
		duration = info.Duration
		slog.Debug("Transcribing WAV file", "path", abs, "duration", duration, "sample_rate", info.Params.SampleRate)
	}

	result := d.run(ctx, abs, false)
	result.Origin = "file"
	result.ClipDuration = duration
	if result.Transcription == "" && result.Err != nil {
		return nil, result.Err
	}
	return &result, result.Err
}

// GetStatus returns the current service status
func (d *Dictation) GetStatus() Status {
	d.stateMutex.RLock()
	status := Status{
		MaxDuration: d.maxDuration.Seconds(),
		LastText:    d.lastText,
	}
	d.stateMutex.RUnlock()

	status.Processing = int(d.processing.Load())
	status.LastError = d.GetLastError()

	switch {
	case d.recorder.State() == audio.StateRecording:
		status.State = StatusRecording
		status.Elapsed = d.recorder.Elapsed().Seconds()
	case status.Processing > 0:
		status.State = StatusProcessing
	case status.LastError != "":
		status.State = StatusError
	default:
		status.State = StatusStandby
	}
	return status
}

// SetMaxDuration changes the auto-stop limit from the next recording on
func (d *Dictation) SetMaxDuration(limit time.Duration) {
	d.stateMutex.Lock()
	d.maxDuration = limit
	d.stateMutex.Unlock()

	d.recorder.SetMaxDuration(limit)
	slog.Info("Max duration updated, applies to next recording", "max_duration", limit)
}

// ApplyConfig picks up settings that can change while running
func (d *Dictation) ApplyConfig(cfg *config.Config) {
	d.stateMutex.RLock()
	current := d.maxDuration
	d.stateMutex.RUnlock()

	if cfg.Recording.MaxDuration != current {
		d.SetMaxDuration(cfg.Recording.MaxDuration)
	}
}

// Close abandons any recording and waits for queued clips until ctx is done
func (d *Dictation) Close(ctx context.Context) error {
	// Waits for a StartRecording in progress
	d.lifecycleMutex.Lock()
	d.submitMutex.Lock()
	if d.closed {
		d.submitMutex.Unlock()
		d.lifecycleMutex.Unlock()
		return nil
	}
	d.closed = true
	d.submitMutex.Unlock()

	if err := d.recorder.Close(); err != nil {
		slog.Warn("Failed to close recorder", "error", err)
	}
	d.lifecycleMutex.Unlock()

	done := make(chan struct{})
	go func() {
		d.submitted.Wait()
		d.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		// Abort in-flight requests, then let workers unwind
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dictation) isClosed() bool {
	d.submitMutex.Lock()
	defer d.submitMutex.Unlock()
	return d.closed
}

// GetLastError returns the last error message (thread-safe)
func (d *Dictation) GetLastError() string {
	d.lastErrorMutex.RLock()
	defer d.lastErrorMutex.RUnlock()
	return d.lastError
}

// setLastError sets the last error message (thread-safe)
func (d *Dictation) setLastError(err string) {
	d.lastErrorMutex.Lock()
	defer d.lastErrorMutex.Unlock()
	d.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (d *Dictation) clearLastError() {
	d.lastErrorMutex.Lock()
	defer d.lastErrorMutex.Unlock()
	d.lastError = ""
}
