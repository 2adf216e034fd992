package model

// Model is a loaded amp capture ready for streaming inference.
//
// Lifecycle: a Model comes out of Load or Parse fully constructed.
// Reset prepares it for a sample rate and maximum block size and may
// allocate; Process then runs allocation-free and lock-free. Close
// releases resources once the model is retired.
//
// Process is called from exactly one goroutine at a time (serialized
// audio callbacks); Reset and Close must not overlap with Process.
type Model interface {
	// Process runs inference over in and writes the result to out.
	// Both slices have the same length, at most the maxFrames given
	// to Reset. Never allocates, locks, or logs. Calling Process
	// before Reset writes silence.
	Process(out, in []float32)

	// Reset prepares internal state for the given sample rate and
	// maximum per-call frame count. May allocate. Clears all
	// streaming state.
	Reset(sampleRate float64, maxFrames int) error

	// ReceptiveField returns how many past input samples influence
	// one output sample. Used to size the prewarm run.
	ReceptiveField() int

	// Latency returns the fixed output delay in samples introduced
	// by internal buffering, zero for most architectures.
	Latency() int

	// Close releases resources. The model must not be used after.
	Close() error
}

// Info describes a loaded model for observers and logs. Values are
// immutable after load.
type Info struct {
	// Name is the model file's base name without extension.
	Name string

	// Title is the display name from file metadata, empty when the
	// file carries none.
	Title string

	// Architecture is the envelope's architecture string.
	Architecture string

	// Version is the envelope's format version string.
	Version string

	// SampleRate is the rate the capture was trained at, in Hz.
	SampleRate float64

	// HasLoudness reports whether the file carried a loudness
	// measurement; Loudness is only meaningful when true.
	HasLoudness bool

	// Loudness is the capture's measured output loudness in dB,
	// used for output normalization.
	Loudness float64

	// Fingerprint is the blake2b-256 hex digest of the raw file
	// bytes. Identical files produce identical fingerprints.
	Fingerprint string

	// Path is the file the model was loaded from, empty for models
	// parsed from memory.
	Path string
}

// Prewarm runs m over silence so internal state settles before the
// model is published to an audio thread. Control plane only; the
// scratch buffers are discarded afterwards.
func Prewarm(m Model, frames, blockSize int) {
	if frames <= 0 {
		return
	}
	if blockSize <= 0 {
		blockSize = 256
	}
	in := make([]float32, blockSize)
	out := make([]float32, blockSize)
	for frames > 0 {
		n := blockSize
		if frames < n {
			n = frames
		}
		m.Process(out[:n], in[:n])
		frames -= n
	}
}
