package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// stopTimeout bounds how long Close waits for the recorder process to exit.
const stopTimeout = 5 * time.Second

// startTimeout bounds how long Open waits for the first chunk. A recorder
// that exits within this window never opened the device.
var startTimeout = 300 * time.Millisecond

// PipeWire captures raw PCM from pw-record, falling back to ALSA's arecord
type PipeWire struct {
	lookPath func(string) (string, error)
}

// NewPipeWire creates a new PipeWire source
func NewPipeWire() *PipeWire {
	return &PipeWire{lookPath: exec.LookPath}
}

// Open launches the recorder process and streams its stdout in chunks
func (pw *PipeWire) Open(params StreamParams, deliver func(chunk []byte)) (Stream, error) {
	args, err := pw.recordArgs(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	return startCapture(args, params.ChunkBytes(), deliver)
}

// startCapture runs args and delivers its stdout in chunkBytes pieces. It
// returns once the first chunk arrives or startTimeout passes, and reports
// ErrDeviceUnavailable when the process exits before producing audio.
func startCapture(args []string, chunkBytes int, deliver func(chunk []byte)) (Stream, error) {
	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create stdout pipe: %w", ErrDeviceUnavailable, err)
	}
	s := &pipeWireStream{cmd: cmd, exited: make(chan struct{})}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %w", ErrDeviceUnavailable, args[0], err)
	}

	slog.Info("Starting capture process", "command", strings.Join(args, " "))
	first := make(chan struct{})
	var firstOnce sync.Once
	go s.readLoop(stdout, chunkBytes, func(chunk []byte) {
		firstOnce.Do(func() { close(first) })
		deliver(chunk)
	})

	select {
	case <-first:
	case <-s.exited:
		select {
		case <-first:
			// Produced audio before exiting; Close reports the exit status.
		default:
			return nil, fmt.Errorf("%w: %s exited before producing audio: %v (stderr: %s)",
				ErrDeviceUnavailable, args[0], s.waitErr, s.stderrText())
		}
	case <-time.After(startTimeout):
		slog.Debug("No audio from capture process yet, continuing", "timeout", startTimeout)
	}
	return s, nil
}

// recordArgs builds the capture command line: s16le, interleaved, to stdout.
func (pw *PipeWire) recordArgs(params StreamParams) ([]string, error) {
	if _, err := pw.lookPath("pw-record"); err == nil {
		args := []string{
			"pw-record",
			"--format=s16",
			fmt.Sprintf("--rate=%d", params.SampleRate),
			fmt.Sprintf("--channels=%d", params.Channels),
			fmt.Sprintf("--latency=%d/%d", params.ChunkSize, params.SampleRate),
		}
		if params.Device != "" && params.Device != "default" {
			args = append(args, "--target="+params.Device)
		}
		return append(args, "-"), nil
	}

	if _, err := pw.lookPath("arecord"); err == nil {
		args := []string{
			"arecord",
			"-f", "S16_LE",
			"-r", strconv.Itoa(params.SampleRate),
			"-c", strconv.Itoa(params.Channels),
			"-t", "raw",
			"-q",
		}
		if params.Device != "" && params.Device != "default" {
			args = append(args, "-D", params.Device)
		}
		return append(args, "-"), nil
	}

	return nil, errors.New("neither pw-record nor arecord found in PATH")
}

// ListPorts returns all PipeWire output ports (capture candidates)
func (pw *PipeWire) ListPorts() ([]string, error) {
	cmd := exec.Command("pw-link", "-o")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePortList(string(output)), nil
}

// ValidatePort checks if a specific port exists and is not duplicated
func (pw *PipeWire) ValidatePort(portName string) error {
	if portName == "" || portName == "default" {
		return nil
	}

	ports, err := pw.ListPorts()
	if err != nil {
		return err
	}
	return validatePortInList(portName, ports)
}

func parsePortList(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

func validatePortInList(portName string, ports []string) error {
	matches := 0
	for _, port := range ports {
		if port == portName {
			matches++
		}
	}
	if matches == 0 {
		return fmt.Errorf("port not found: %s", portName)
	}
	if matches > 1 {
		return fmt.Errorf("duplicate sources detected for '%s' (%d ports). Please close conflicting applications", portName, matches)
	}
	return nil
}

type pipeWireStream struct {
	cmd *exec.Cmd
	// stderr is only read after exited is closed, when Wait has finished copying.
	stderr strings.Builder

	exited  chan struct{}
	waitErr error

	// interrupted is set once stop has signalled the process.
	interrupted atomic.Bool

	once sync.Once
	err  error
}

// readLoop delivers full chunks until the process closes stdout, then reaps it.
func (s *pipeWireStream) readLoop(stdout io.ReadCloser, chunkBytes int, deliver func([]byte)) {
	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			deliver(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("Capture read ended", "error", err)
			}
			break
		}
	}
	s.waitErr = s.cmd.Wait()
	close(s.exited)
}

func (s *pipeWireStream) stderrText() string {
	return strings.TrimSpace(s.stderr.String())
}

// Close interrupts the recorder and waits for it, killing it after stopTimeout.
func (s *pipeWireStream) Close() error {
	s.once.Do(func() {
		s.err = s.stop()
	})
	return s.err
}

func (s *pipeWireStream) stop() error {
	select {
	case <-s.exited:
		// Ended on its own while recording
		return s.exitError()
	default:
	}

	if s.cmd.Process != nil {
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to interrupt capture process, killing", "error", err)
			if err := s.cmd.Process.Kill(); err == nil {
				s.interrupted.Store(true)
			}
		} else {
			s.interrupted.Store(true)
		}
	}

	select {
	case <-s.exited:
		return s.exitError()

	case <-time.After(stopTimeout):
		slog.Warn("Capture process did not exit within timeout, force killing")
		_ = s.cmd.Process.Kill()
		<-s.exited
		return nil
	}
}

func (s *pipeWireStream) exitError() error {
	if s.waitErr == nil || s.isSignalExit(s.waitErr) {
		return nil
	}
	return fmt.Errorf("capture process failed: %w (stderr: %s)", s.waitErr, s.stderrText())
}

// isSignalExit reports whether the process ended because stop interrupted it.
// pw-record and arecord exit non-zero on SIGINT, which only counts as a clean
// stop once the signal was actually sent.
func (s *pipeWireStream) isSignalExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || !s.interrupted.Load() {
		return false
	}
	if exitErr.ExitCode() == 255 || exitErr.ExitCode() == 1 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		return state == "signal: interrupt" || state == "signal: killed"
	}
	return false
}
