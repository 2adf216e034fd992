package dsp

import "math"

// DBToLinear converts a gain in decibels to a linear multiplier.
//
// 0 dB maps to 1.0, +6 dB to roughly 2.0, -6 dB to roughly 0.5.
func DBToLinear(db float64) float64 {
	return math.Pow(10.0, db/20.0)
}

// LinearToDB converts a linear gain multiplier to decibels.
//
// Returns negative infinity for zero or negative input.
func LinearToDB(linear float64) float64 {
	if linear <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(linear)
}

// Clamp limits value to the inclusive range [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// denormalThreshold is the magnitude below which float32 filter state
// is flushed to zero. Denormal arithmetic stalls the FPU on common
// hardware and audible content never lives this far down.
const denormalThreshold = 1e-30

// FlushDenormal returns v, or zero when v is small enough to be a
// denormal concern.
func FlushDenormal(v float32) float32 {
	if v < denormalThreshold && v > -denormalThreshold {
		return 0
	}
	return v
}

// ApplyGain multiplies every sample in buf by gain, in place.
func ApplyGain(buf []float32, gain float32) {
	if gain == 1.0 {
		return
	}
	for i := range buf {
		buf[i] *= gain
	}
}

// Fade applies a linear gain ramp across buf, in place, starting at
// from and arriving at to by the final sample. With from == to it is
// an exact constant multiply, so steady-state gain accuracy does not
// depend on ramp arithmetic.
func Fade(buf []float32, from, to float32) {
	n := len(buf)
	if n == 0 {
		return
	}
	if from == to {
		ApplyGain(buf, to)
		return
	}
	step := (to - from) / float32(n)
	g := from + step
	for i := range buf {
		buf[i] *= g
		g += step
	}
}

// HardClip limits every sample in buf to [-limit, +limit], in place.
func HardClip(buf []float32, limit float32) {
	for i, v := range buf {
		if v > limit {
			buf[i] = limit
		} else if v < -limit {
			buf[i] = -limit
		}
	}
}

// Zero writes silence over buf.
func Zero(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}

// CopyAndZeroTail copies src into dst, silences whatever remains of
// dst past the copied region, and returns the number of samples
// copied. The copy is a bit-exact transfer; non-finite values pass
// through untouched.
func CopyAndZeroTail(dst, src []float32) int {
	n := copy(dst, src)
	Zero(dst[n:])
	return n
}

// IsFinite reports whether v is neither NaN nor an infinity.
func IsFinite(v float32) bool {
	if v != v {
		return false
	}
	return v >= -math.MaxFloat32 && v <= math.MaxFloat32
}

// Sanitize replaces every NaN or infinite sample in buf with silence,
// in place, and returns the number of samples replaced. Non-finite
// values must never escape to a host mixer; one NaN multiplied into a
// feedback path silences an entire session.
func Sanitize(buf []float32) int {
	replaced := 0
	for i, v := range buf {
		if !IsFinite(v) {
			buf[i] = 0
			replaced++
		}
	}
	return replaced
}
