package audio

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pcmChunk encodes samples as interleaved little-endian int16.
func pcmChunk(samples ...int16) []byte {
	b := make([]byte, len(samples)*BytesPerSample)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(b[i*BytesPerSample:], uint16(v))
	}
	return b
}

func TestWAVSink_RoundTripPreservesSamples(t *testing.T) {
	dir := t.TempDir()
	sink := NewWAVSink(dir)
	params := StreamParams{SampleRate: 16000, ChunkSize: 4, Channels: 2}

	frames := [][]byte{
		pcmChunk(0, 1, -1, 32767, -32768, 100, 200, -200),
		pcmChunk(5, 6, 7, 8, 9, 10, 11, 12),
	}

	clip, err := sink.Encode(context.Background(), frames, params)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(clip.Path))
	assert.True(t, strings.HasPrefix(filepath.Base(clip.Path), ClipPrefix))
	assert.Equal(t, 8, clip.Samples)

	file, err := os.Open(clip.Path)
	require.NoError(t, err)
	defer file.Close()

	dec := wav.NewDecoder(file)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, uint32(16000), dec.SampleRate)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)
	assert.Equal(t, []int{0, 1, -1, 32767, -32768, 100, 200, -200, 5, 6, 7, 8, 9, 10, 11, 12}, buf.Data)
}

func TestInspect_ReportsFormat(t *testing.T) {
	sink := NewWAVSink(t.TempDir())
	params := StreamParams{SampleRate: 8000, ChunkSize: 800, Channels: 1}

	frames := make([][]byte, 15)
	for i := range frames {
		frames[i] = make([]byte, params.ChunkBytes())
	}

	clip, err := sink.Encode(context.Background(), frames, params)
	require.NoError(t, err)

	info, err := Inspect(clip.Path)
	require.NoError(t, err)
	assert.Equal(t, 8000, info.Params.SampleRate)
	assert.Equal(t, 1, info.Params.Channels)
	assert.Equal(t, 12000, info.Samples)
	assert.Equal(t, clip.Duration, info.Duration)
	assert.InDelta(t, 1.5, info.Duration.Seconds(), 0.001)
}

func TestInspect_RejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not RIFF"), 0644))

	_, err := Inspect(path)
	assert.ErrorIs(t, err, ErrInvalidWAV)
	assert.ErrorContains(t, err, "not a valid WAV file")

	_, err = Inspect(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestWAVSink_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	sink := NewWAVSink(dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sink.Encode(ctx, [][]byte{pcmChunk(1, 2)}, DefaultStreamParams())
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWAVSink_UnwritableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	sink := NewWAVSink(filepath.Join(blocker, "clips"))
	_, err := sink.Encode(context.Background(), [][]byte{pcmChunk(1, 2)}, DefaultStreamParams())
	assert.Error(t, err)
}

func TestClipRemove_Idempotent(t *testing.T) {
	sink := NewWAVSink(t.TempDir())
	clip, err := sink.Encode(context.Background(), [][]byte{pcmChunk(1, 2, 3)}, DefaultStreamParams())
	require.NoError(t, err)

	require.NoError(t, clip.Remove())
	assert.NoFileExists(t, clip.Path)
	require.NoError(t, clip.Remove())

	var nilClip *Clip
	assert.NoError(t, nilClip.Remove())
}

func TestCleanupStaleClips(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-2 * StaleClipAge)
	for _, name := range []string{"dictate_aaaa.wav", "dictate_bbbb.wav", "keep.wav", "dictate_notes.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, nil, 0644))
		require.NoError(t, os.Chtimes(path, old, old))
	}
	// A clip another process is still uploading
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dictate_cccc.wav"), nil, 0644))

	removed := CleanupStaleClips(dir, StaleClipAge)
	assert.Equal(t, 2, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"keep.wav", "dictate_notes.txt", "dictate_cccc.wav"}, names)

	assert.Equal(t, 0, CleanupStaleClips(filepath.Join(dir, "missing"), StaleClipAge))
}

func TestClipName_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		name := clipName()
		assert.False(t, seen[name], "duplicate clip name %s", name)
		seen[name] = true
		assert.Len(t, name, len(ClipPrefix)+16+len(".wav"))
	}
}
