package audio

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/dictate/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypePipeWire  BackendType = "pipewire"
	BackendTypeAuto      BackendType = "auto"
)

// AudioBackend defines the interface for audio backend implementations
type AudioBackend interface {
	Source

	// List available audio sources
	ListSources() ([]string, error)

	// Validate if a source is available
	ValidateSource(source string) error

	// Get the backend type
	GetType() BackendType
}

// PortAudioBackend implements AudioBackend on top of PortAudio
type PortAudioBackend struct {
	*PortAudio
}

// GetType returns the backend type
func (p *PortAudioBackend) GetType() BackendType {
	return BackendTypePortAudio
}

// PipeWireBackend implements AudioBackend with the PipeWire command line tools
type PipeWireBackend struct {
	*PipeWire
}

// ListSources returns available PipeWire capture ports
func (p *PipeWireBackend) ListSources() ([]string, error) {
	return p.ListPorts()
}

// ValidateSource validates a PipeWire source
func (p *PipeWireBackend) ValidateSource(source string) error {
	return p.ValidatePort(source)
}

// GetType returns the backend type
func (p *PipeWireBackend) GetType() BackendType {
	return BackendTypePipeWire
}

// NewBackend creates the capture backend selected by configuration
func NewBackend(cfg *config.Config) (AudioBackend, error) {
	switch backendType := determineBackend(cfg.Audio.Backend); backendType {
	case BackendTypePortAudio:
		return &PortAudioBackend{PortAudio: NewPortAudio()}, nil
	case BackendTypePipeWire:
		return &PipeWireBackend{PipeWire: NewPipeWire()}, nil
	default:
		return nil, fmt.Errorf("unsupported audio backend: %s", backendType)
	}
}

// ParamsFromConfig builds the fixed stream parameters for a session
func ParamsFromConfig(cfg *config.Config) StreamParams {
	return StreamParams{
		SampleRate: cfg.Audio.SampleRate,
		ChunkSize:  cfg.Audio.ChunkSize,
		Channels:   cfg.Audio.Channels,
		Device:     cfg.Audio.Device,
	}
}

// determineBackend determines which backend to use based on configuration.
// PortAudio is linked in and preferred; auto falls back to it.
func determineBackend(name string) BackendType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pipewire":
		return BackendTypePipeWire
	case "portaudio", "auto", "":
		return BackendTypePortAudio
	default:
		return BackendType(name)
	}
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{BackendTypePortAudio}

	for _, tool := range []string{"pw-record", "arecord"} {
		if _, err := exec.LookPath(tool); err == nil {
			backends = append(backends, BackendTypePipeWire)
			break
		}
	}

	return backends
}
