package playback

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"
)

// deviceChannels is the output layout; the mono processed signal is
// mirrored onto both channels.
const deviceChannels = 2

// ErrDeviceClosed is returned when starting playback on a closed
// device.
var ErrDeviceClosed = errors.New("audio device is closed")

// DeviceConfig describes the output stream to open.
type DeviceConfig struct {
	// SampleRate is the device rate in Hz.
	SampleRate float64

	// BufferFrames sizes the device buffer. Larger values survive
	// scheduling hiccups, smaller values cut latency. Zero selects
	// four blocks of DefaultBlockFrames.
	BufferFrames int
}

// Device wraps the platform audio output. One Device can start
// multiple streams, though the live chain uses exactly one.
type Device struct {
	ctx    *oto.Context
	closed bool
}

// OpenDevice initializes the platform audio backend and waits until
// it is ready to accept streams.
//
// Parameters:
//   - cfg: output format; SampleRate is required
//
// Returns:
//   - *Device: ready output device
//   - error: backend initialization failure
func OpenDevice(cfg DeviceConfig) (*Device, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid device sample rate: %v", cfg.SampleRate)
	}
	frames := cfg.BufferFrames
	if frames <= 0 {
		frames = 4 * DefaultBlockFrames
	}
	bufferDur := time.Duration(float64(frames) / cfg.SampleRate * float64(time.Second))

	op := &oto.NewContextOptions{
		SampleRate:   int(cfg.SampleRate),
		ChannelCount: deviceChannels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   bufferDur,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	logrus.WithFields(logrus.Fields{
		"function":      "OpenDevice",
		"sample_rate":   cfg.SampleRate,
		"buffer_frames": frames,
		"buffer":        bufferDur,
	}).Info("Audio device ready")

	return &Device{ctx: ctx}, nil
}

// Start begins pulling from r on the device's own goroutine. The
// returned stream keeps playing until Close.
func (d *Device) Start(r io.Reader) (*Stream, error) {
	if d.closed {
		return nil, ErrDeviceClosed
	}
	player := d.ctx.NewPlayer(r)
	player.Play()
	return &Stream{player: player}, nil
}

// Suspend pauses the whole device without tearing streams down.
func (d *Device) Suspend() error {
	if d.closed {
		return ErrDeviceClosed
	}
	return d.ctx.Suspend()
}

// Resume continues a suspended device.
func (d *Device) Resume() error {
	if d.closed {
		return ErrDeviceClosed
	}
	return d.ctx.Resume()
}

// Close marks the device closed. The platform backend itself has no
// teardown; in-flight streams must be closed by their owners.
func (d *Device) Close() error {
	d.closed = true
	return nil
}

// Stream is one playing buffer chain on a Device.
type Stream struct {
	player *oto.Player
}

// Playing reports whether the stream is still feeding the device.
func (s *Stream) Playing() bool {
	return s.player.IsPlaying()
}

// Close stops the stream and releases its device slot.
func (s *Stream) Close() error {
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}
