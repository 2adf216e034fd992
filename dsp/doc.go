// Package dsp provides the numeric primitives shared by the namcore
// processing chain.
//
// # Overview
//
// The package collects the small, allocation-free building blocks the
// real-time path is assembled from:
//
//   - Decibel/linear conversion and clamping for gain staging
//   - In-place buffer operations (gain, linear fades, hard clipping)
//   - Non-finite sample containment (NaN/Inf scrubbing)
//   - Denormal flushing for recursive filter state
//   - A streaming linear-interpolation resampler for sample rate
//     adaptation between the host and a model's native rate
//
// # Real-Time Safety
//
// Every function and method in this package that touches sample data
// is safe to call from an audio callback: no allocation, no locking,
// no logging, no system calls. Construction and preparation methods
// (NewStreamResampler, Prepare) may allocate and log and belong on
// the control plane.
//
// # Conventions
//
// Sample buffers are []float32 mono frames in the nominal range
// [-1, +1]. Scalar conversion helpers use float64 internally for
// precision and return float32 where the result feeds the audio path.
package dsp
