package dsp

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// StreamResampler converts a continuous mono float32 stream between
// two sample rates using linear interpolation.
//
// Linear interpolation is deliberate: it is branch-light, needs one
// sample of history, and its quality is more than adequate for the
// rate deltas this package meets in practice (44.1/48/88.2/96 kHz
// families). The converter is streaming, so chunk boundaries are
// inaudible: processing a signal in arbitrary slices produces the
// same output as processing it in one call.
//
// Design decisions:
//   - One previous-sample history value carries interpolation state
//     across calls, so Process never looks behind its input slice.
//   - The fractional read position is rebased after every call to
//     keep it small; no drift accumulates over long sessions.
//   - Process performs no allocation, locking, or logging and is
//     safe on the audio thread once Prepare has run.
type StreamResampler struct {
	inRate  float64
	outRate float64
	step    float64 // input samples consumed per output sample

	pos  float64 // next output position, in input-sample units
	last float32 // final input sample of the previous call
}

// NewStreamResampler creates a resampler for the given rate pair.
//
// Parameters:
//   - inRate: input sample rate in Hz
//   - outRate: output sample rate in Hz
//
// Returns:
//   - *StreamResampler: ready-to-use converter
//   - error: validation error when either rate is not positive
func NewStreamResampler(inRate, outRate float64) (*StreamResampler, error) {
	r := &StreamResampler{}
	if err := r.Prepare(inRate, outRate); err != nil {
		return nil, err
	}
	return r, nil
}

// Prepare reconfigures the resampler for a new rate pair and clears
// all streaming state. Control plane only.
func (r *StreamResampler) Prepare(inRate, outRate float64) error {
	logrus.WithFields(logrus.Fields{
		"function": "StreamResampler.Prepare",
		"in_rate":  inRate,
		"out_rate": outRate,
	}).Debug("Preparing stream resampler")

	if inRate <= 0 || outRate <= 0 {
		logrus.WithFields(logrus.Fields{
			"function": "StreamResampler.Prepare",
			"in_rate":  inRate,
			"out_rate": outRate,
			"error":    "rates must be positive",
		}).Error("Resampler rate validation failed")
		return fmt.Errorf("invalid resampler rates: in=%f, out=%f", inRate, outRate)
	}

	r.inRate = inRate
	r.outRate = outRate
	r.step = inRate / outRate
	r.Reset()
	return nil
}

// Reset clears streaming state without changing the configured rates.
func (r *StreamResampler) Reset() {
	r.pos = 0
	r.last = 0
}

// Ratio returns input rate divided by output rate.
func (r *StreamResampler) Ratio() float64 {
	return r.step
}

// MaxOutput returns an upper bound on the samples Process can write
// for n input samples. Destination buffers sized with MaxOutput never
// truncate.
func (r *StreamResampler) MaxOutput(n int) int {
	if n <= 0 {
		return 0
	}
	return int(float64(n)/r.step) + 2
}

// Process consumes all of src and writes the resampled stream to dst,
// returning the number of samples written. dst must hold at least
// MaxOutput(len(src)) samples; shorter destinations drop the overflow.
//
// Safe on the audio thread: no allocation, no locking, no logging.
func (r *StreamResampler) Process(dst, src []float32) int {
	n := len(src)
	if n == 0 {
		return 0
	}

	written := 0
	pos := r.pos
	limit := float64(n - 1)

	for pos <= limit && written < len(dst) {
		idx := int(math.Floor(pos))
		frac := float32(pos - float64(idx))

		var s0 float32
		if idx < 0 {
			s0 = r.last
		} else {
			s0 = src[idx]
		}
		// idx+1 <= n-1 holds for pos <= limit except at the exact
		// endpoint, where frac is 0 and s1 is unused.
		var s1 float32
		if idx+1 < n {
			s1 = src[idx+1]
		} else {
			s1 = s0
		}

		dst[written] = s0 + frac*(s1-s0)
		written++
		pos += r.step
	}

	// Rebase so the next call's first input sample sits at zero.
	r.pos = pos - float64(n)
	r.last = src[n-1]
	return written
}
