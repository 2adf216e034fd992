package namcore

import (
	"fmt"

	"github.com/opd-ai/namcore/model"
)

// Options configures a Processor.
type Options struct {
	// MaxModelFileBytes rejects model files larger than this many
	// bytes before parsing. Zero or negative selects the model
	// package default.
	MaxModelFileBytes int64

	// NormalizeTargetDB is the loudness target used when output
	// normalization is enabled, in decibels.
	NormalizeTargetDB float64

	// Prewarm runs silence through a freshly prepared model so its
	// internal state settles before real audio arrives.
	Prewarm bool
}

// NewOptions returns the default processor configuration.
func NewOptions() *Options {
	return &Options{
		MaxModelFileBytes: model.DefaultMaxFileBytes,
		NormalizeTargetDB: DefaultNormalizeTargetDB,
		Prewarm:           true,
	}
}

func (o *Options) validate() error {
	if o.NormalizeTargetDB > 0 || o.NormalizeTargetDB < -60 {
		return fmt.Errorf("%w: normalize target %.1f dB outside [-60, 0]", ErrInvalidOptions, o.NormalizeTargetDB)
	}
	return nil
}
