package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Session owns one audio input stream, its frame buffer and the optional
// auto-stop timer. Only one recording attempt is active at a time.
type Session struct {
	params StreamParams
	source Source
	sink   Sink
	clock  Clock
	logger *slog.Logger

	// mutex serialises every state transition (Start, Stop, auto-stop, Close).
	mutex       sync.Mutex
	state       atomic.Int32
	stream      Stream
	timer       Timer
	attempt     uint64
	maxDuration time.Duration
	onAutoStop  AutoStopFunc

	// bufMutex guards the capture buffer. Driver callbacks only ever take this
	// lock, so closing a stream while holding mutex cannot deadlock with them.
	bufMutex   sync.Mutex
	frames     [][]byte
	capturing  bool
	bufAttempt uint64
	startedAt  time.Time
	dropped    int
}

// Option configures a Session
type Option func(*Session)

// WithClock replaces the runtime clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the session logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMaxDuration arms an auto-stop timer on every Start.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Session) { s.maxDuration = d }
}

// WithAutoStop registers the auto-stop callback.
func WithAutoStop(fn AutoStopFunc) Option {
	return func(s *Session) { s.onAutoStop = fn }
}

// NewSession creates an idle session with fixed capture parameters
func NewSession(params StreamParams, source Source, sink Sink, opts ...Option) (*Session, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream parameters: %w", err)
	}
	if source == nil {
		return nil, errors.New("audio source is required")
	}
	if sink == nil {
		return nil, errors.New("audio sink is required")
	}

	s := &Session{
		params: params,
		source: source,
		sink:   sink,
		clock:  SystemClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(StateIdle))
	return s, nil
}

// Params returns the capture parameters
func (s *Session) Params() StreamParams {
	return s.params
}

// State returns the current state without waiting for an in-flight transition.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Elapsed returns how long the current recording has been running.
func (s *Session) Elapsed() time.Duration {
	if s.State() != StateRecording {
		return 0
	}
	s.bufMutex.Lock()
	startedAt := s.startedAt
	s.bufMutex.Unlock()
	return s.clock.Now().Sub(startedAt)
}

// BufferedChunks returns the number of chunks captured so far.
func (s *Session) BufferedChunks() int {
	s.bufMutex.Lock()
	defer s.bufMutex.Unlock()
	return len(s.frames)
}

// SetMaxDuration changes the auto-stop limit. An armed timer keeps its
// original deadline; the new value applies from the next Start.
func (s *Session) SetMaxDuration(d time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.maxDuration = d
}

// OnAutoStop replaces the auto-stop callback
func (s *Session) OnAutoStop(fn AutoStopFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onAutoStop = fn
}

// Start opens the audio stream and begins buffering chunks
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.State() == StateRecording {
		return ErrAlreadyRecording
	}

	s.attempt++
	attempt := s.attempt
	s.resetBuffer(attempt, true)

	stream, err := s.source.Open(s.params, s.deliverFor(attempt))
	if err != nil {
		s.resetBuffer(attempt, false)
		s.setState(StateIdle)
		s.logger.Debug("Audio stream open failed", "attempt", attempt, "error", err)
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	s.stream = stream

	if s.maxDuration > 0 {
		s.timer = s.clock.AfterFunc(s.maxDuration, func() { s.autoStop(attempt) })
	}

	s.setState(StateRecording)
	s.logger.Info("Recording started",
		"attempt", attempt,
		"sample_rate", s.params.SampleRate,
		"channels", s.params.Channels,
		"max_duration", s.maxDuration)
	return nil
}

// Stop ends the recording and encodes the captured audio into a clip
func (s *Session) Stop(ctx context.Context) (*Clip, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.State() != StateRecording {
		return nil, ErrNotRecording
	}
	return s.finalize(ctx, "manual")
}

// Close disposes the session. A running recording is abandoned without
// producing a clip.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.State() != StateRecording {
		return nil
	}

	s.cancelTimer()
	frames := s.drainBuffer()
	s.closeStream()
	s.setState(StateIdle)

	s.logger.Info("Recording abandoned on close", "attempt", s.attempt, "chunks", len(frames))
	return nil
}

// autoStop runs on the timer's goroutine. The state check happens under the
// same lock as Stop, and a timer left over from an earlier attempt never
// touches a newer recording.
func (s *Session) autoStop(attempt uint64) {
	s.mutex.Lock()
	if s.State() != StateRecording || s.attempt != attempt {
		s.mutex.Unlock()
		s.logger.Debug("Auto-stop timer fired after recording ended", "attempt", attempt)
		return
	}

	s.timer = nil
	clip, err := s.finalize(context.Background(), "auto")
	fn := s.onAutoStop
	s.mutex.Unlock()

	if fn == nil {
		if clip != nil {
			s.logger.Warn("Auto-stopped clip has no consumer, discarding", "path", clip.Path)
			_ = clip.Remove()
		}
		return
	}

	// The callback may block on transcription; keep it off the timer goroutine.
	go fn(clip, err)
}

// finalize must be called with mutex held while Recording.
func (s *Session) finalize(ctx context.Context, reason string) (*Clip, error) {
	s.cancelTimer()
	frames := s.drainBuffer()
	s.closeStream()

	s.setState(StateStopping)
	defer s.setState(StateIdle)

	total := 0
	for _, f := range frames {
		total += len(f)
	}
	duration := s.params.DurationOf(total)

	s.logger.Debug("Recording stopped",
		"reason", reason,
		"attempt", s.attempt,
		"chunks", len(frames),
		"duration", duration)

	if len(frames) == 0 || duration < MinClipDuration {
		return nil, fmt.Errorf("%w: captured %s", ErrTooShort, duration.Round(time.Millisecond))
	}

	clip, err := s.sink.Encode(ctx, frames, s.params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}

	s.logger.Info("Recording completed", "reason", reason, "path", clip.Path, "duration", clip.Duration)
	return clip, nil
}

func (s *Session) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// closeStream is best effort: failures and driver panics are logged only.
func (s *Session) closeStream() {
	stream := s.stream
	s.stream = nil
	if stream == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Audio stream close panicked", "panic", r)
		}
	}()

	if err := stream.Close(); err != nil {
		s.logger.Warn("Failed to close audio stream", "error", err)
	}
}

func (s *Session) resetBuffer(attempt uint64, capturing bool) {
	s.bufMutex.Lock()
	defer s.bufMutex.Unlock()
	s.frames = nil
	s.dropped = 0
	s.capturing = capturing
	s.bufAttempt = attempt
	s.startedAt = s.clock.Now()
}

// drainBuffer stops capture and hands the buffered chunks to the caller.
func (s *Session) drainBuffer() [][]byte {
	s.bufMutex.Lock()
	defer s.bufMutex.Unlock()

	frames := s.frames
	if s.dropped > 0 {
		s.logger.Debug("Chunks dropped during capture", "count", s.dropped)
	}
	s.frames = nil
	s.dropped = 0
	s.capturing = false
	return frames
}

// deliverFor returns the driver callback for one attempt. It only appends;
// chunks arriving outside the attempt's capture window are dropped.
func (s *Session) deliverFor(attempt uint64) func([]byte) {
	return func(chunk []byte) {
		if len(chunk) == 0 {
			return
		}
		s.bufMutex.Lock()
		defer s.bufMutex.Unlock()
		if !s.capturing || s.bufAttempt != attempt {
			s.dropped++
			return
		}
		s.frames = append(s.frames, chunk)
	}
}
