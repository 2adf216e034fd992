package playback

import (
	"math"

	"github.com/opd-ai/namcore/wavio"
)

// Source produces mono audio for a Player to pull through the
// processor. Implementations are called from the playback goroutine
// only and must not block.
type Source interface {
	// ReadSamples fills dst from the source and returns how many
	// samples were written. Zero means the source is exhausted.
	ReadSamples(dst []float32) int
}

// ClipSource plays a decoded clip, optionally looping forever.
type ClipSource struct {
	samples []float32
	pos     int
	loop    bool
}

// NewClipSource wraps a clip's samples. With loop enabled the source
// never exhausts; playback wraps back to the start.
func NewClipSource(clip *wavio.Clip, loop bool) *ClipSource {
	return &ClipSource{samples: clip.Samples, loop: loop}
}

// ReadSamples implements Source.
func (s *ClipSource) ReadSamples(dst []float32) int {
	if len(s.samples) == 0 {
		return 0
	}
	written := 0
	for written < len(dst) {
		if s.pos >= len(s.samples) {
			if !s.loop {
				break
			}
			s.pos = 0
		}
		n := copy(dst[written:], s.samples[s.pos:])
		s.pos += n
		written += n
	}
	return written
}

// SineSource generates an endless sine tone, handy for level checks
// and latency probing without input hardware.
type SineSource struct {
	amplitude float32
	step      float64
	phase     float64
}

// NewSineSource creates a tone generator.
//
// Parameters:
//   - freq: tone frequency in Hz
//   - sampleRate: output rate in Hz
//   - amplitude: linear peak level, nominally in (0, 1]
func NewSineSource(freq, sampleRate float64, amplitude float32) *SineSource {
	return &SineSource{
		amplitude: amplitude,
		step:      2 * math.Pi * freq / sampleRate,
	}
}

// ReadSamples implements Source.
func (s *SineSource) ReadSamples(dst []float32) int {
	for i := range dst {
		dst[i] = s.amplitude * float32(math.Sin(s.phase))
		s.phase += s.step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return len(dst)
}
