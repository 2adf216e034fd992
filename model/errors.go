package model

import "errors"

// Model file loading and validation errors.
var (
	// ErrInvalidEnvelope is returned when a model file is not a valid
	// JSON envelope or lacks required fields.
	ErrInvalidEnvelope = errors.New("invalid model file envelope")

	// ErrUnknownArchitecture is returned when the envelope names an
	// architecture with no registered builder.
	ErrUnknownArchitecture = errors.New("unknown model architecture")

	// ErrInvalidConfig is returned when an architecture config block
	// fails validation.
	ErrInvalidConfig = errors.New("invalid architecture config")

	// ErrWeightCount is returned when the flat weight array does not
	// match the size the config demands.
	ErrWeightCount = errors.New("weight count mismatch")

	// ErrModelTooLarge is returned when a model file exceeds the
	// configured size limit before parsing is attempted.
	ErrModelTooLarge = errors.New("model file exceeds size limit")
)
