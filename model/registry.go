package model

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Builder constructs a Model from an architecture config block and
// the envelope's flat weight array. The builder validates the config,
// consumes the weights exactly, and returns a fully constructed but
// not yet Reset model.
type Builder func(config json.RawMessage, weights []float64) (Model, error)

// Shipped architecture names.
const (
	ArchLinear  = "Linear"
	ArchLSTM    = "LSTM"
	ArchWaveNet = "WaveNet"
)

var registry = struct {
	mu       sync.RWMutex
	builders map[string]Builder
}{builders: make(map[string]Builder)}

// Register adds an architecture builder under the given name,
// replacing any existing registration. Safe for concurrent use;
// typically called from package init functions.
func Register(name string, builder Builder) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "Register",
		"architecture": name,
	}).Debug("Registering model architecture")

	registry.builders[name] = builder
}

// Architectures returns the registered architecture names, sorted.
func Architectures() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.builders))
	for name := range registry.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupBuilder(name string) (Builder, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	b, ok := registry.builders[name]
	return b, ok
}
