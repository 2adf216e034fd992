// Package playback drives a Processor from an audio device. A Player
// pulls mono samples from a Source, runs them through the processor,
// and serves the result as interleaved stereo float32 frames, the
// format the output device consumes. A LevelMeter taps the processed
// signal and reports peak and RMS levels on a fixed interval.
package playback

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/namcore"
)

// DefaultBlockFrames is the pull block a Player requests from its
// source per iteration. The processor must be Reset with a maximum
// buffer size of at least this many frames.
const DefaultBlockFrames = 256

// bytesPerFrame is one stereo float32 frame on the wire.
const bytesPerFrame = 8

// ErrNoSource is returned when a Player is created without a source.
var ErrNoSource = errors.New("player needs a source")

// Player adapts the source-processor chain to the io.Reader the
// output device pulls from. Read never allocates once the player is
// constructed; the device goroutine is the audio thread.
type Player struct {
	proc   *namcore.Processor
	src    Source
	meter  *LevelMeter
	frames int

	in  []float32
	out []float32

	pending []byte
	pendOff int
	pendLen int
	done    bool
}

// PlayerConfig tunes a Player. The zero value selects defaults.
type PlayerConfig struct {
	// BlockFrames is the per-iteration pull size. Zero selects
	// DefaultBlockFrames.
	BlockFrames int

	// Meter, when set, observes every processed block.
	Meter *LevelMeter
}

// NewPlayer wires a source through a processor.
//
// The caller keeps ownership of the processor and must have Reset it
// for the device sample rate with a maximum buffer size of at least
// the configured block size.
//
// Parameters:
//   - proc: prepared processor
//   - src: mono sample source
//   - cfg: tuning, zero value for defaults
//
// Returns:
//   - *Player: ready to hand to a device
//   - error: validation failure
func NewPlayer(proc *namcore.Processor, src Source, cfg PlayerConfig) (*Player, error) {
	if src == nil {
		return nil, ErrNoSource
	}
	frames := cfg.BlockFrames
	if frames <= 0 {
		frames = DefaultBlockFrames
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewPlayer",
		"block_frames": frames,
		"metered":      cfg.Meter != nil,
	}).Info("Created player")

	return &Player{
		proc:    proc,
		src:     src,
		meter:   cfg.Meter,
		frames:  frames,
		in:      make([]float32, frames),
		out:     make([]float32, frames),
		pending: make([]byte, frames*bytesPerFrame),
	}, nil
}

// Read implements io.Reader for the output device: interleaved stereo
// float32 little-endian frames, the processed mono signal on both
// channels. Returns io.EOF once the source is exhausted and all
// buffered frames are drained.
func (p *Player) Read(b []byte) (int, error) {
	filled := 0
	for filled < len(b) {
		if p.pendLen > p.pendOff {
			n := copy(b[filled:], p.pending[p.pendOff:p.pendLen])
			p.pendOff += n
			filled += n
			continue
		}
		if p.done {
			break
		}
		if !p.pull() {
			p.done = true
		}
	}
	if filled == 0 && p.done {
		return 0, io.EOF
	}
	return filled, nil
}

// pull runs one source block through the processor into the pending
// byte buffer. Returns false when the source is exhausted.
func (p *Player) pull() bool {
	n := p.src.ReadSamples(p.in)
	if n == 0 {
		return false
	}

	p.proc.Process(p.in[:n], p.out[:n])
	if p.meter != nil {
		p.meter.Observe(p.out[:n])
	}

	for i := 0; i < n; i++ {
		bits := math.Float32bits(p.out[i])
		off := i * bytesPerFrame
		binary.LittleEndian.PutUint32(p.pending[off:], bits)
		binary.LittleEndian.PutUint32(p.pending[off+4:], bits)
	}
	p.pendOff = 0
	p.pendLen = n * bytesPerFrame
	return true
}
