package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultSampleRate is assumed for model files that omit their
// training rate. Captures without an explicit rate historically come
// from 48 kHz pipelines.
const DefaultSampleRate = 48000.0

// DefaultMaxFileBytes caps how large a model file Load will read.
// Real capture files run from tens of kilobytes to a few megabytes.
const DefaultMaxFileBytes = 32 << 20

// Limits bounds resource use during model loading.
type Limits struct {
	// MaxFileBytes is the largest model file Load will read. Zero
	// selects DefaultMaxFileBytes.
	MaxFileBytes int64
}

func (l Limits) maxFileBytes() int64 {
	if l.MaxFileBytes <= 0 {
		return DefaultMaxFileBytes
	}
	return l.MaxFileBytes
}

// envelope is the on-disk JSON layout of a model file.
type envelope struct {
	Version      string          `json:"version"`
	Architecture string          `json:"architecture"`
	Config       json.RawMessage `json:"config"`
	Weights      []float64       `json:"weights"`
	SampleRate   float64         `json:"sample_rate"`
	Metadata     *fileMetadata   `json:"metadata,omitempty"`
}

type fileMetadata struct {
	Name     string   `json:"name,omitempty"`
	Loudness *float64 `json:"loudness,omitempty"`
}

// Load reads, parses, and fully constructs the model file at path.
//
// The returned model still needs Reset before processing. Info is
// complete, including the blake2b fingerprint of the file bytes and
// the display name derived from the file name.
//
// Parameters:
//   - path: model file location, conventionally a ".nam" file
//   - limits: resource bounds; the zero value applies defaults
//
// Returns:
//   - Model: constructed model, nil on error
//   - Info: model description, zero value on error
//   - error: wrapped sentinel describing the failure
func Load(path string, limits Limits) (Model, Info, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     path,
	}).Info("Loading model file")

	fi, err := os.Stat(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"path":     path,
			"error":    err,
		}).Error("Model file stat failed")
		return nil, Info{}, fmt.Errorf("stat model file: %w", err)
	}
	if max := limits.maxFileBytes(); fi.Size() > max {
		logrus.WithFields(logrus.Fields{
			"function":   "Load",
			"path":       path,
			"file_bytes": fi.Size(),
			"max_bytes":  max,
		}).Error("Model file exceeds size limit")
		return nil, Info{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrModelTooLarge, fi.Size(), max)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Info{}, fmt.Errorf("read model file: %w", err)
	}

	m, info, err := Parse(data)
	if err != nil {
		return nil, Info{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	info.Name = baseName(path)
	info.Path = path

	logrus.WithFields(logrus.Fields{
		"function":     "Load",
		"path":         path,
		"name":         info.Name,
		"architecture": info.Architecture,
		"sample_rate":  info.SampleRate,
		"fingerprint":  shortFingerprint(info.Fingerprint),
	}).Info("Model file loaded")

	return m, info, nil
}

// Parse constructs a model from raw file bytes. Info.Name and
// Info.Path are left empty; Load fills them from the file path.
func Parse(data []byte) (Model, Info, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, Info{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	if env.Architecture == "" {
		return nil, Info{}, fmt.Errorf("%w: missing architecture", ErrInvalidEnvelope)
	}
	if len(env.Weights) == 0 {
		return nil, Info{}, fmt.Errorf("%w: missing weights", ErrInvalidEnvelope)
	}

	builder, ok := lookupBuilder(env.Architecture)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":     "Parse",
			"architecture": env.Architecture,
			"registered":   Architectures(),
		}).Error("No builder for model architecture")
		return nil, Info{}, fmt.Errorf("%w: %q (registered: %s)",
			ErrUnknownArchitecture, env.Architecture, strings.Join(Architectures(), ", "))
	}

	m, err := builder(env.Config, env.Weights)
	if err != nil {
		return nil, Info{}, fmt.Errorf("build %s model: %w", env.Architecture, err)
	}

	info := Info{
		Architecture: env.Architecture,
		Version:      env.Version,
		SampleRate:   env.SampleRate,
		Fingerprint:  Fingerprint(data),
	}
	if info.SampleRate <= 0 {
		logrus.WithFields(logrus.Fields{
			"function":     "Parse",
			"default_rate": DefaultSampleRate,
		}).Debug("Model file omits sample rate, assuming default")
		info.SampleRate = DefaultSampleRate
	}
	if env.Metadata != nil {
		info.Title = env.Metadata.Name
		if env.Metadata.Loudness != nil {
			info.HasLoudness = true
			info.Loudness = *env.Metadata.Loudness
		}
	}

	return m, info, nil
}

// baseName strips the directory and extension from a model path,
// which is the name observers report.
func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
