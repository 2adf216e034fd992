// Package wavio reads and writes WAV files as mono float32 sample
// slices, the interchange format of the offline render pipeline.
// Multichannel files are mixed down on read; writes produce standard
// integer PCM. All functions run on the control plane and may
// allocate freely.
package wavio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
)

// DefaultBitDepth is the PCM depth WriteFile encodes at. 24 bits
// keeps quantization well below the noise floor of any capture.
const DefaultBitDepth = 24

var (
	// ErrInvalidFile is returned when the input is not a decodable
	// WAV file.
	ErrInvalidFile = errors.New("not a valid wav file")

	// ErrEmptyClip is returned when a clip with no samples or no
	// sample rate is written.
	ErrEmptyClip = errors.New("clip has no audio")

	// ErrBitDepth is returned for write depths other than 8, 16, 24,
	// or 32 bits.
	ErrBitDepth = errors.New("unsupported bit depth")
)

// Clip holds decoded mono audio.
type Clip struct {
	// Samples are mono, nominally in [-1, 1].
	Samples []float32

	// SampleRate is the clip's rate in Hz.
	SampleRate float64
}

// Duration returns the clip length as wall time.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	seconds := float64(len(c.Samples)) / c.SampleRate
	return time.Duration(seconds * float64(time.Second))
}

// Read decodes a WAV stream into a mono clip. Multichannel input is
// averaged down to one channel; integer PCM is normalized to [-1, 1]
// by its source bit depth.
//
// Parameters:
//   - r: seekable WAV stream, typically an open file
//
// Returns:
//   - *Clip: decoded mono audio
//   - error: ErrInvalidFile or a wrapped decode failure
func Read(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidFile
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidFile)
	}

	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}

	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = 16
	}
	scale := float64(int64(1) << (depth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var acc float64
		for c := 0; c < channels; c++ {
			acc += float64(buf.Data[i*channels+c])
		}
		samples[i] = float32(acc / (scale * float64(channels)))
	}

	rate := float64(dec.SampleRate)
	if rate <= 0 && buf.Format != nil {
		rate = float64(buf.Format.SampleRate)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%w: missing sample rate", ErrInvalidFile)
	}

	return &Clip{Samples: samples, SampleRate: rate}, nil
}

// ReadFile decodes the WAV file at path into a mono clip.
func ReadFile(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav file: %w", err)
	}
	defer f.Close()

	clip, err := Read(f)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ReadFile",
			"path":     path,
			"error":    err,
		}).Error("WAV decode failed")
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "ReadFile",
		"path":        path,
		"samples":     len(clip.Samples),
		"sample_rate": clip.SampleRate,
		"duration":    clip.Duration(),
	}).Info("WAV file loaded")

	return clip, nil
}

// Write encodes a mono clip as integer PCM at the given bit depth.
// Samples outside [-1, 1] hard clip to full scale.
//
// Parameters:
//   - w: seekable destination; the encoder rewrites the header on close
//   - clip: mono audio to encode
//   - bitDepth: 8, 16, 24, or 32
//
// Returns:
//   - error: validation or encode failure
func Write(w io.WriteSeeker, clip *Clip, bitDepth int) error {
	if clip == nil || len(clip.Samples) == 0 || clip.SampleRate <= 0 {
		return ErrEmptyClip
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: %d bits", ErrBitDepth, bitDepth)
	}

	fullScale := int64(1) << (bitDepth - 1)
	data := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		v := int64(float64(s) * float64(fullScale))
		if v > fullScale-1 {
			v = fullScale - 1
		}
		if v < -fullScale {
			v = -fullScale
		}
		data[i] = int(v)
	}

	rate := int(clip.SampleRate)
	enc := wav.NewEncoder(w, rate, bitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WriteFile encodes a mono clip to path at DefaultBitDepth.
func WriteFile(path string, clip *Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}

	if err := Write(f, clip, DefaultBitDepth); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close wav file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "WriteFile",
		"path":        path,
		"samples":     len(clip.Samples),
		"sample_rate": clip.SampleRate,
	}).Info("WAV file written")

	return nil
}
