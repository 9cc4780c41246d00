package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio captures from an input device through the PortAudio library
type PortAudio struct{}

// NewPortAudio creates a PortAudio source
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

// Open starts a callback stream on the configured (or default) input device
func (p *PortAudio) Open(params StreamParams, deliver func(chunk []byte)) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init failed: %w", ErrDeviceUnavailable, err)
	}

	device, err := findInputDevice(params.Device)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	sp := portaudio.LowLatencyParameters(device, nil)
	sp.Input.Channels = params.Channels
	sp.SampleRate = float64(params.SampleRate)
	sp.FramesPerBuffer = params.ChunkSize

	// PortAudio reuses in between callbacks, so every chunk is copied out.
	callback := func(in []int16) {
		chunk := make([]byte, len(in)*BytesPerSample)
		for i, v := range in {
			binary.LittleEndian.PutUint16(chunk[i*BytesPerSample:], uint16(v))
		}
		deliver(chunk)
	}

	stream, err := portaudio.OpenStream(sp, callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open stream on %q failed: %w", ErrDeviceUnavailable, device.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: start stream on %q failed: %w", ErrDeviceUnavailable, device.Name, err)
	}

	slog.Debug("PortAudio stream started", "device", device.Name, "sample_rate", params.SampleRate, "chunk_size", params.ChunkSize)
	return &portAudioStream{stream: stream}, nil
}

// ListSources returns the names of all devices with input channels
func (p *PortAudio) ListSources() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list PortAudio devices: %w", err)
	}

	var names []string
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, nil
}

// ValidateSource checks that a named input device exists
func (p *PortAudio) ValidateSource(source string) error {
	if source == "" || source == "default" {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init failed: %w", err)
	}
	defer portaudio.Terminate()

	_, err := findInputDevice(source)
	return err
}

// findInputDevice must be called between Initialize and Terminate.
func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", name)
}

type portAudioStream struct {
	stream *portaudio.Stream
	once   sync.Once
	err    error
}

func (s *portAudioStream) Close() error {
	s.once.Do(func() {
		s.err = errors.Join(s.stream.Stop(), s.stream.Close(), portaudio.Terminate())
	})
	return s.err
}
