package audio

import (
	"context"
	"fmt"
	"os"
	"time"
)

// State represents the current state of a recording session
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateStopping
	// StateError is reported by recorders that cannot recover on their own.
	// Session always settles back in StateIdle.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateStopping:
		return "STOPPING"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// BytesPerSample is fixed: capture is always signed 16-bit little-endian PCM.
const BytesPerSample = 2

// MinClipDuration is the shortest recording ever surfaced as a clip.
const MinClipDuration = time.Second

// StreamParams are the fixed capture parameters of a session
type StreamParams struct {
	SampleRate int    `json:"sample_rate"`
	ChunkSize  int    `json:"chunk_size"` // frames per driver callback
	Channels   int    `json:"channels"`
	Device     string `json:"device,omitempty"`
}

// DefaultStreamParams matches what the cloud providers expect: mono, 16-bit, 44.1kHz.
func DefaultStreamParams() StreamParams {
	return StreamParams{
		SampleRate: 44100,
		ChunkSize:  1024,
		Channels:   1,
	}
}

// Validate checks that the parameters describe a usable stream
func (p StreamParams) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0, got: %d", p.SampleRate)
	}
	if p.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be > 0, got: %d", p.ChunkSize)
	}
	if p.Channels != 1 && p.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got: %d", p.Channels)
	}
	return nil
}

// FrameBytes is the size of one sample across all channels.
func (p StreamParams) FrameBytes() int {
	return p.Channels * BytesPerSample
}

// ChunkBytes is the size of one full chunk as delivered by the driver.
func (p StreamParams) ChunkBytes() int {
	return p.ChunkSize * p.FrameBytes()
}

// DurationOf converts a byte count of interleaved PCM into playback time.
func (p StreamParams) DurationOf(n int) time.Duration {
	samples := n / p.FrameBytes()
	return time.Duration(samples) * time.Second / time.Duration(p.SampleRate)
}

// Clip is a finalized recording ready for transcription
type Clip struct {
	Path      string        `json:"path"`
	Duration  time.Duration `json:"duration"`
	Samples   int           `json:"samples"` // per channel
	Params    StreamParams  `json:"params"`
	CreatedAt time.Time     `json:"created_at"`
}

// Remove deletes the clip from disk. Removing an already deleted clip is not an error.
func (c *Clip) Remove() error {
	if c == nil || c.Path == "" {
		return nil
	}
	if err := os.Remove(c.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove clip %s: %w", c.Path, err)
	}
	return nil
}

// Stream is an open capture handle
type Stream interface {
	Close() error
}

// Source opens capture streams. deliver is called from the driver's own
// goroutine once per chunk and must not be retained past Close.
type Source interface {
	Open(params StreamParams, deliver func(chunk []byte)) (Stream, error)
}

// Sink turns ordered chunks into a durable clip
type Sink interface {
	Encode(ctx context.Context, frames [][]byte, params StreamParams) (*Clip, error)
}

// AutoStopFunc receives the outcome of a timer-initiated stop.
type AutoStopFunc func(clip *Clip, err error)

// Recorder is the contract the service layer drives
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*Clip, error)
	State() State
	Elapsed() time.Duration
	SetMaxDuration(d time.Duration)
	OnAutoStop(fn AutoStopFunc)
	Close() error
}
