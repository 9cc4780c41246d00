package audio

import "errors"

// Start errors
var (
	ErrAlreadyRecording  = errors.New("recording already in progress")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// Stop errors
var (
	ErrNotRecording = errors.New("no recording in progress")
	ErrTooShort     = errors.New("recording must be at least 1 second long")
	ErrEncodeFailed = errors.New("failed to encode recording")
)

// ErrInvalidWAV reports a file that cannot be decoded as PCM WAV
var ErrInvalidWAV = errors.New("not a valid WAV file")
