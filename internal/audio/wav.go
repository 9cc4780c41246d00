package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// ClipPrefix marks temporary clips written by WAVSink.
const ClipPrefix = "dictate_"

const wavFormatPCM = 1

// WAVSink writes clips as uncompressed 16-bit PCM WAV files
type WAVSink struct {
	dir string
}

// NewWAVSink creates a sink writing into dir (os.TempDir when empty)
func NewWAVSink(dir string) *WAVSink {
	return &WAVSink{dir: dir}
}

// Dir returns the directory clips are written to
func (w *WAVSink) Dir() string {
	if w.dir == "" {
		return os.TempDir()
	}
	return w.dir
}

// Encode writes the chunks in order to a fresh WAV file
func (w *WAVSink) Encode(ctx context.Context, frames [][]byte, params StreamParams) (*Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := w.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clip directory: %w", err)
	}

	path := filepath.Join(dir, clipName())
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create clip file: %w", err)
	}

	samples, err := writeWAV(file, frames, params)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close clip file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	perChannel := samples / params.Channels
	return &Clip{
		Path:      path,
		Duration:  time.Duration(perChannel) * time.Second / time.Duration(params.SampleRate),
		Samples:   perChannel,
		Params:    params,
		CreatedAt: time.Now(),
	}, nil
}

// writeWAV streams interleaved little-endian int16 chunks through the encoder
// and returns the number of samples written across all channels.
func writeWAV(file *os.File, frames [][]byte, params StreamParams) (int, error) {
	enc := wav.NewEncoder(file, params.SampleRate, BytesPerSample*8, params.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: params.Channels, SampleRate: params.SampleRate},
		SourceBitDepth: BytesPerSample * 8,
	}

	samples := 0
	for _, chunk := range frames {
		data := buf.Data[:0]
		for i := 0; i+1 < len(chunk); i += BytesPerSample {
			data = append(data, int(int16(binary.LittleEndian.Uint16(chunk[i:]))))
		}
		buf.Data = data
		if len(data) == 0 {
			continue
		}
		if err := enc.Write(buf); err != nil {
			_ = enc.Close()
			return 0, fmt.Errorf("wav write failed: %w", err)
		}
		samples += len(data)
	}

	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("wav close failed: %w", err)
	}
	return samples, nil
}

// Inspect decodes a WAV file and reports its format and length
func Inspect(path string) (*Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	params := StreamParams{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}
	if params.SampleRate <= 0 || params.Channels <= 0 {
		return nil, fmt.Errorf("%w: invalid header in %s", ErrInvalidWAV, path)
	}

	perChannel := len(buf.Data) / params.Channels
	info, _ := file.Stat()
	createdAt := time.Time{}
	if info != nil {
		createdAt = info.ModTime()
	}

	return &Clip{
		Path:      path,
		Duration:  time.Duration(perChannel) * time.Second / time.Duration(params.SampleRate),
		Samples:   perChannel,
		Params:    params,
		CreatedAt: createdAt,
	}, nil
}

// StaleClipAge is how old a clip must be before CleanupStaleClips removes it.
// Clips still being transcribed by another process are much younger.
const StaleClipAge = time.Hour

// CleanupStaleClips removes clips left behind by an earlier run that were last
// modified more than olderThan ago.
func CleanupStaleClips(dir string, olderThan time.Duration) int {
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Debug("Cannot scan clip directory", "dir", dir, "error", err)
		return 0
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ClipPrefix) || !strings.HasSuffix(name, ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to remove stale clip", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Removed stale clips", "dir", dir, "count", removed)
	}
	return removed
}

func clipName() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	return ClipPrefix + id + ".wav"
}
