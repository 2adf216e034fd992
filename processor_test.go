package namcore

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/namcore/dsp"
	"github.com/opd-ai/namcore/model"
)

// trackedModel is a registered test architecture that multiplies by a
// fixed gain and counts Close calls, so model lifecycle can be
// asserted through the real load path.
type trackedModel struct {
	gain   float64
	closes atomic.Int32
}

func (m *trackedModel) Process(out, in []float32) {
	n := len(in)
	if len(out) < n {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] = in[i] * float32(m.gain)
	}
}

func (m *trackedModel) Reset(sampleRate float64, maxFrames int) error { return nil }
func (m *trackedModel) ReceptiveField() int                           { return 1 }
func (m *trackedModel) Latency() int                                  { return 0 }
func (m *trackedModel) Close() error {
	m.closes.Add(1)
	return nil
}

var (
	trackedMu    sync.Mutex
	trackedBuilt []*trackedModel
)

func init() {
	model.Register("TrackedGain", func(config json.RawMessage, weights []float64) (model.Model, error) {
		var cfg struct {
			Gain float64 `json:"gain"`
		}
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, err
		}
		m := &trackedModel{gain: cfg.Gain}
		trackedMu.Lock()
		trackedBuilt = append(trackedBuilt, m)
		trackedMu.Unlock()
		return m, nil
	})
}

// drainTracked returns the models built since the last drain. Tests
// that assert lifecycle call it once to clear and once to inspect.
func drainTracked() []*trackedModel {
	trackedMu.Lock()
	defer trackedMu.Unlock()
	built := trackedBuilt
	trackedBuilt = nil
	return built
}

func writeModelFile(t *testing.T, dir, name string, env map[string]any) string {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func linearEnvelope(taps []float64, sampleRate float64) map[string]any {
	return map[string]any{
		"version":      "0.5.2",
		"architecture": "Linear",
		"config":       map[string]any{"filter_length": len(taps)},
		"weights":      taps,
		"sample_rate":  sampleRate,
	}
}

func trackedEnvelope(gain float64) map[string]any {
	return map[string]any{
		"version":      "0.1.0",
		"architecture": "TrackedGain",
		"config":       map[string]any{"gain": gain},
		"weights":      []float64{0},
		"sample_rate":  48000.0,
	}
}

func ones(n int) []float32 {
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = 1.0
	}
	return buf
}

// newTestProcessor returns a prepared processor with an identity
// model active at the engine rate.
func newTestProcessor(t *testing.T, maxFrames int) *Processor {
	t.Helper()
	path := writeModelFile(t, t.TempDir(), "Identity.nam", linearEnvelope([]float64{1}, 48000))

	proc, err := New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { proc.Close() })

	require.NoError(t, proc.Reset(48000, maxFrames))
	require.NoError(t, proc.LoadModel(path))
	return proc
}

func TestNewDefaults(t *testing.T) {
	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()

	assert.False(t, proc.Bypass())
	assert.False(t, proc.OutputNormalization())
	assert.False(t, proc.IsModelLoaded())
	assert.Empty(t, proc.ModelName())
	assert.InDelta(t, 0.0, proc.InputGainDB(), 1e-6)
	assert.InDelta(t, 0.0, proc.OutputGainDB(), 1e-6)
}

func TestGainObserversRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		set  float64
		want float64
	}{
		{"unity", 0, 0},
		{"boost", 6, 6},
		{"cut", -6, -6},
		{"upper bound", 12, 12},
		{"lower bound", -12, -12},
		{"clamped high", 40, 12},
		{"clamped low", -40, -12},
	}

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc.SetInputGainDB(tt.set)
			assert.InDelta(t, tt.want, proc.InputGainDB(), 1e-4)

			proc.SetOutputGainDB(tt.set)
			assert.InDelta(t, tt.want, proc.OutputGainDB(), 1e-4)
		})
	}
}

func TestInputGainScalesSignal(t *testing.T) {
	tests := []struct {
		name   string
		db     float64
		linear float64
	}{
		{"unity", 0, 1.0},
		{"full boost", 12, 3.9810717055349722},
		{"full cut", -12, 0.251188643150958},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := newTestProcessor(t, 64)
			proc.SetInputGainDB(tt.db)

			in := ones(64)
			out := make([]float32, 64)
			// First block ramps from the previous gain; the second is
			// steady state.
			proc.Process(in, out)
			proc.Process(in, out)

			for i, v := range out {
				assert.InDelta(t, tt.linear, float64(v), 1e-5, "sample %d", i)
			}
		})
	}
}

func TestInputOutputGainsCancel(t *testing.T) {
	proc := newTestProcessor(t, 32)
	proc.SetInputGainDB(12)
	proc.SetOutputGainDB(-12)

	in := ones(32)
	out := make([]float32, 32)
	proc.Process(in, out)
	proc.Process(in, out)

	for i, v := range out {
		assert.InDelta(t, 1.0, float64(v), 1e-5, "sample %d", i)
	}
}

func TestBypassCopiesBitExact(t *testing.T) {
	proc := newTestProcessor(t, 16)
	proc.SetBypass(true)
	assert.True(t, proc.Bypass())

	in := []float32{1.5, float32(math.NaN()), float32(math.Inf(1)), -0.25, 0}
	out := make([]float32, len(in))
	proc.Process(in, out)

	for i := range in {
		assert.Equal(t, math.Float32bits(in[i]), math.Float32bits(out[i]), "sample %d", i)
	}
}

func TestBypassWithoutModel(t *testing.T) {
	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()

	proc.SetBypass(true)

	in := []float32{0.5, -0.5, 0.25, -0.25}
	out := make([]float32, 8)
	for i := range out {
		out[i] = 7
	}
	proc.Process(in, out)

	for i := range in {
		assert.Equal(t, in[i], out[i], "sample %d", i)
	}
	for i := len(in); i < len(out); i++ {
		assert.Zero(t, out[i], "tail sample %d", i)
	}
}

func TestSilenceWithoutModel(t *testing.T) {
	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.Reset(48000, 32))

	in := ones(32)
	out := make([]float32, 32)
	for i := range out {
		out[i] = 0.5
	}
	proc.Process(in, out)

	for i, v := range out {
		assert.Zero(t, v, "sample %d", i)
	}
}

func TestLoadBeforeResetThenPrepare(t *testing.T) {
	path := writeModelFile(t, t.TempDir(), "Doubler.nam", linearEnvelope([]float64{2}, 48000))

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()

	// Load with no stream format yet: observers see the model, audio
	// stays silent.
	require.NoError(t, proc.LoadModel(path))
	assert.True(t, proc.IsModelLoaded())
	assert.Equal(t, "Doubler", proc.ModelName())

	in := ones(16)
	out := make([]float32, 16)
	proc.Process(in, out)
	for i, v := range out {
		assert.Zero(t, v, "sample %d", i)
	}

	require.NoError(t, proc.Reset(48000, 16))
	proc.Process(in, out)
	for i, v := range out {
		assert.InDelta(t, 2.0, float64(v), 1e-6, "sample %d", i)
	}
}

func TestFramesBeyondMaxAreSilenced(t *testing.T) {
	proc := newTestProcessor(t, 8)

	in := ones(32)
	out := make([]float32, 32)
	for i := range out {
		out[i] = 0.5
	}
	proc.Process(in, out)

	for i := 0; i < 8; i++ {
		assert.InDelta(t, 1.0, float64(out[i]), 1e-6, "processed sample %d", i)
	}
	for i := 8; i < 32; i++ {
		assert.Zero(t, out[i], "tail sample %d", i)
	}
}

func TestShortOutputBuffer(t *testing.T) {
	proc := newTestProcessor(t, 64)

	in := ones(16)
	out := make([]float32, 8)
	proc.Process(in, out)

	for i, v := range out {
		assert.InDelta(t, 1.0, float64(v), 1e-6, "sample %d", i)
	}
}

func TestEmptyInputZeroesOutput(t *testing.T) {
	proc := newTestProcessor(t, 16)

	out := make([]float32, 8)
	for i := range out {
		out[i] = 3
	}
	proc.Process(nil, out)

	for i, v := range out {
		assert.Zero(t, v, "sample %d", i)
	}
}

func TestNonFiniteInferenceIsContained(t *testing.T) {
	// A kernel large enough to overflow float32 drives the model
	// output to +Inf; containment must turn that into silence.
	path := writeModelFile(t, t.TempDir(), "Blown.nam", linearEnvelope([]float64{1e38}, 48000))

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.Reset(48000, 16))
	require.NoError(t, proc.LoadModel(path))

	in := make([]float32, 16)
	for i := range in {
		in[i] = 10
	}
	out := make([]float32, 16)
	proc.Process(in, out)

	for i, v := range out {
		assert.True(t, dsp.IsFinite(v), "sample %d", i)
		assert.Zero(t, v, "sample %d", i)
	}
}

func TestFailedLoadKeepsActiveModel(t *testing.T) {
	dir := t.TempDir()
	good := writeModelFile(t, dir, "Keeper.nam", linearEnvelope([]float64{1}, 48000))

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.Reset(48000, 16))
	require.NoError(t, proc.LoadModel(good))

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{
			name: "corrupt json",
			path: func() string {
				p := filepath.Join(dir, "corrupt.nam")
				require.NoError(t, os.WriteFile(p, []byte("{not json"), 0o644))
				return p
			}(),
			wantErr: model.ErrInvalidEnvelope,
		},
		{
			name: "unknown architecture",
			path: writeModelFile(t, dir, "mystery.nam", map[string]any{
				"architecture": "Transformer",
				"weights":      []float64{1},
			}),
			wantErr: model.ErrUnknownArchitecture,
		},
		{
			name: "weight mismatch",
			path: writeModelFile(t, dir, "short.nam", map[string]any{
				"architecture": "Linear",
				"config":       map[string]any{"filter_length": 4},
				"weights":      []float64{1, 2},
			}),
			wantErr: model.ErrWeightCount,
		},
		{
			name:    "missing file",
			path:    filepath.Join(dir, "does-not-exist.nam"),
			wantErr: os.ErrNotExist,
		},
	}

	in := ones(16)
	out := make([]float32, 16)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := proc.LoadModel(tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			assert.True(t, proc.IsModelLoaded())
			assert.Equal(t, "Keeper", proc.ModelName())

			proc.Process(in, out)
			for i, v := range out {
				assert.InDelta(t, 1.0, float64(v), 1e-6, "sample %d", i)
			}
		})
	}
}

func TestFailedFirstLoadStaysUnloaded(t *testing.T) {
	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.Reset(48000, 16))

	err = proc.LoadModel(filepath.Join(t.TempDir(), "missing.nam"))
	require.Error(t, err)
	assert.False(t, proc.IsModelLoaded())
	assert.Empty(t, proc.ModelName())
}

func TestLoadReplacesAndClosesOldModel(t *testing.T) {
	drainTracked()
	dir := t.TempDir()
	first := writeModelFile(t, dir, "First.nam", trackedEnvelope(2.0))
	second := writeModelFile(t, dir, "Second.nam", trackedEnvelope(3.0))

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.Reset(48000, 16))

	require.NoError(t, proc.LoadModel(first))
	in := ones(16)
	out := make([]float32, 16)
	proc.Process(in, out)
	assert.InDelta(t, 2.0, float64(out[0]), 1e-6)

	require.NoError(t, proc.LoadModel(second))
	assert.Equal(t, "Second", proc.ModelName())
	proc.Process(in, out)
	assert.InDelta(t, 3.0, float64(out[0]), 1e-6)

	built := drainTracked()
	require.Len(t, built, 2)
	assert.Equal(t, int32(1), built[0].closes.Load(), "displaced model closed once")
	assert.Equal(t, int32(0), built[1].closes.Load(), "active model still open")
}

func TestLoadSameContentSkipsReload(t *testing.T) {
	drainTracked()
	dir := t.TempDir()
	path := writeModelFile(t, dir, "Amp.nam", trackedEnvelope(2.0))

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.Reset(48000, 16))

	require.NoError(t, proc.LoadModel(path))
	require.NoError(t, proc.LoadModel(path))

	// Same bytes under a different name still count as already
	// active; the observer name keeps the first load.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copied := filepath.Join(dir, "Copy Of Amp.nam")
	require.NoError(t, os.WriteFile(copied, data, 0o644))
	require.NoError(t, proc.LoadModel(copied))
	assert.Equal(t, "Amp", proc.ModelName())

	built := drainTracked()
	require.Len(t, built, 3)
	assert.Equal(t, int32(0), built[0].closes.Load(), "original stays active")
	assert.Equal(t, int32(1), built[1].closes.Load(), "duplicate discarded")
	assert.Equal(t, int32(1), built[2].closes.Load(), "renamed duplicate discarded")
}

func TestUnloadModel(t *testing.T) {
	drainTracked()
	path := writeModelFile(t, t.TempDir(), "Gone.nam", trackedEnvelope(2.0))

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.Reset(48000, 16))
	require.NoError(t, proc.LoadModel(path))

	proc.UnloadModel()
	assert.False(t, proc.IsModelLoaded())
	assert.Empty(t, proc.ModelName())

	in := ones(16)
	out := make([]float32, 16)
	proc.Process(in, out)
	for i, v := range out {
		assert.Zero(t, v, "sample %d", i)
	}

	// Unloading again is a no-op.
	proc.UnloadModel()

	built := drainTracked()
	require.Len(t, built, 1)
	assert.Equal(t, int32(1), built[0].closes.Load())
}

func TestModelInfoPassThrough(t *testing.T) {
	env := linearEnvelope([]float64{1}, 44100)
	env["metadata"] = map[string]any{"name": "Sweet Capture", "loudness": -12.5}
	path := writeModelFile(t, t.TempDir(), "Deluxe Clean.nam", env)

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.LoadModel(path))

	info, ok := proc.ModelInfo()
	require.True(t, ok)
	assert.Equal(t, "Deluxe Clean", info.Name)
	assert.Equal(t, "Sweet Capture", info.Title)
	assert.Equal(t, model.ArchLinear, info.Architecture)
	assert.InDelta(t, 44100.0, info.SampleRate, 0)
	assert.True(t, info.HasLoudness)
	assert.InDelta(t, -12.5, info.Loudness, 0)
	assert.NotEmpty(t, info.Fingerprint)
	assert.Equal(t, path, info.Path)

	_, ok = (&Processor{}).ModelInfo()
	assert.False(t, ok)
}

func TestOutputNormalization(t *testing.T) {
	env := linearEnvelope([]float64{1}, 48000)
	env["metadata"] = map[string]any{"loudness": -12.0}
	path := writeModelFile(t, t.TempDir(), "Loud.nam", env)

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.Reset(48000, 32))
	require.NoError(t, proc.LoadModel(path))

	in := ones(32)
	out := make([]float32, 32)

	// Capture at -12 dB against a -18 dB target wants a -6 dB trim.
	wantTrim := math.Pow(10, -6.0/20)

	proc.SetOutputNormalization(true)
	assert.True(t, proc.OutputNormalization())
	proc.Process(in, out)
	proc.Process(in, out)
	for i, v := range out {
		assert.InDelta(t, wantTrim, float64(v), 1e-5, "sample %d", i)
	}

	proc.SetOutputNormalization(false)
	proc.Process(in, out)
	proc.Process(in, out)
	for i, v := range out {
		assert.InDelta(t, 1.0, float64(v), 1e-5, "sample %d", i)
	}
}

func TestNormalizationWithoutLoudnessIsUnity(t *testing.T) {
	proc := newTestProcessor(t, 16)
	proc.SetOutputNormalization(true)

	in := ones(16)
	out := make([]float32, 16)
	proc.Process(in, out)
	proc.Process(in, out)
	for i, v := range out {
		assert.InDelta(t, 1.0, float64(v), 1e-6, "sample %d", i)
	}
}

func TestSampleRateAdaptation(t *testing.T) {
	// Model trained at 96 kHz, engine at 48 kHz: the chain resamples
	// in and out, and the bridge FIFO priming shows up as a short
	// leading silence.
	path := writeModelFile(t, t.TempDir(), "HiRate.nam", linearEnvelope([]float64{1}, 96000))

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.Reset(48000, 64))
	require.NoError(t, proc.LoadModel(path))

	in := ones(64)
	out := make([]float32, 64)
	proc.Process(in, out)
	for i := 0; i < fifoPrimeFrames; i++ {
		assert.InDelta(t, 0.0, float64(out[i]), 1e-6, "primed sample %d", i)
	}
	for i := fifoPrimeFrames; i < len(out); i++ {
		assert.InDelta(t, 1.0, float64(out[i]), 1e-6, "sample %d", i)
	}

	proc.Process(in, out)
	for i, v := range out {
		assert.InDelta(t, 1.0, float64(v), 1e-6, "steady sample %d", i)
	}
}

func TestResetRebuildsModelState(t *testing.T) {
	path := writeModelFile(t, t.TempDir(), "Doubler.nam", linearEnvelope([]float64{2}, 48000))

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.Reset(48000, 16))
	require.NoError(t, proc.LoadModel(path))

	in := ones(16)
	out := make([]float32, 16)
	proc.Process(in, out)
	assert.InDelta(t, 2.0, float64(out[0]), 1e-6)

	// New stream format, same model.
	require.NoError(t, proc.Reset(48000, 32))
	assert.True(t, proc.IsModelLoaded())

	in = ones(32)
	out = make([]float32, 32)
	proc.Process(in, out)
	for i, v := range out {
		assert.InDelta(t, 2.0, float64(v), 1e-6, "sample %d", i)
	}
}

func TestResetValidation(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		frames  int
		wantErr error
	}{
		{"zero rate", 0, 64, ErrInvalidSampleRate},
		{"negative rate", -44100, 64, ErrInvalidSampleRate},
		{"zero frames", 48000, 0, ErrInvalidBufferSize},
		{"negative frames", 48000, -1, ErrInvalidBufferSize},
		{"absurd frames", 48000, maxBufferSizeLimit + 1, ErrInvalidBufferSize},
	}

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, proc.Reset(tt.rate, tt.frames), tt.wantErr)
		})
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	drainTracked()
	path := writeModelFile(t, t.TempDir(), "Final.nam", trackedEnvelope(2.0))

	proc, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, proc.Reset(48000, 16))
	require.NoError(t, proc.LoadModel(path))

	require.NoError(t, proc.Close())
	require.NoError(t, proc.Close())

	assert.ErrorIs(t, proc.LoadModel(path), ErrProcessorClosed)
	assert.ErrorIs(t, proc.Reset(48000, 16), ErrProcessorClosed)
	assert.False(t, proc.IsModelLoaded())

	out := make([]float32, 8)
	proc.Process(ones(8), out)
	for i, v := range out {
		assert.Zero(t, v, "sample %d", i)
	}

	built := drainTracked()
	require.Len(t, built, 1)
	assert.Equal(t, int32(1), built[0].closes.Load())
}

func TestConcurrentLoadAndProcess(t *testing.T) {
	drainTracked()
	dir := t.TempDir()
	pathA := writeModelFile(t, dir, "Amp A.nam", trackedEnvelope(2.0))
	pathB := writeModelFile(t, dir, "Amp B.nam", trackedEnvelope(3.0))

	proc, err := New(nil)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.Reset(48000, 128))

	stop := make(chan struct{})
	var badSample atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		in := ones(128)
		out := make([]float32, 128)
		for {
			select {
			case <-stop:
				return
			default:
			}
			proc.Process(in, out)
			// Unity gains and model gains of 2 or 3: every sample is
			// silence or a whole model output, never garbage.
			for _, v := range out {
				if !dsp.IsFinite(v) || v < -0.001 || v > 3.001 {
					badSample.Store(true)
				}
			}
		}
	}()

	for i := 0; i < 40; i++ {
		path, want := pathA, "Amp A"
		if i%2 == 1 {
			path, want = pathB, "Amp B"
		}
		require.NoError(t, proc.LoadModel(path))
		assert.Equal(t, want, proc.ModelName())
		assert.True(t, proc.IsModelLoaded())
	}

	close(stop)
	wg.Wait()
	assert.False(t, badSample.Load(), "observed a torn or non-finite sample")

	proc.UnloadModel()
	built := drainTracked()
	require.Len(t, built, 40)
	for i, m := range built {
		assert.Equal(t, int32(1), m.closes.Load(), "model %d closed exactly once", i)
	}
}
