package namcore

import "errors"

// Sentinel errors returned by the Processor control surface. Match
// them with errors.Is; load and parse failures from the model package
// pass through wrapped and keep their own sentinels.
var (
	// ErrProcessorClosed is returned by control operations after
	// Close.
	ErrProcessorClosed = errors.New("processor is closed")

	// ErrInvalidSampleRate is returned by Reset for a sample rate
	// that is zero or negative.
	ErrInvalidSampleRate = errors.New("sample rate must be positive")

	// ErrInvalidBufferSize is returned by Reset for a maximum
	// buffer size outside the supported range.
	ErrInvalidBufferSize = errors.New("maximum buffer size out of range")

	// ErrInvalidOptions is returned by New when an Options field
	// is out of range.
	ErrInvalidOptions = errors.New("invalid processor options")
)
