// Package namcore implements a real-time safe processor for neural
// amp model captures.
//
// A Processor fronts a loaded model with the control surface an audio
// host needs: model loading and replacement while audio runs, bypass,
// input and output gain in decibels, loudness normalization, and
// stream preparation for a sample rate and maximum buffer size. The
// audio-side Process call is lock-free and allocation-free; all
// coordination between the control plane and the audio thread happens
// through atomic publication of immutable state.
//
// Example:
//
//	options := namcore.NewOptions()
//
//	proc, err := namcore.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer proc.Close()
//
//	if err := proc.Reset(48000, 512); err != nil {
//	    log.Fatal(err)
//	}
//	if err := proc.LoadModel("captures/Clean Deluxe.nam"); err != nil {
//	    log.Fatal(err)
//	}
//	proc.SetInputGainDB(-3)
//
//	// Inside the audio callback:
//	proc.Process(input, output)
//
// Threading model: exactly one goroutine calls Process at a time
// (audio callbacks are serialized by every host API), while any
// number of goroutines may use the control surface concurrently.
// Reset must not overlap a Process call; the Processor degrades to
// silence rather than corrupting state if that contract is broken.
package namcore

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/namcore/dsp"
	"github.com/opd-ai/namcore/model"
)

// Gain bounds for the input and output stages, in decibels. Set
// calls outside the range clamp to these bounds before conversion.
const (
	MinGainDB = -12.0
	MaxGainDB = 12.0
)

// DefaultNormalizeTargetDB is the output loudness target applied when
// normalization is enabled and the model file carries a loudness
// measurement.
const DefaultNormalizeTargetDB = -18.0

// Processor is the real-time safe facade over a neural amp model.
// Create one with New; the zero value is not usable.
type Processor struct {
	opts Options

	// Audio-plane state. active holds the immutable record Process
	// reads; info holds the observer record. Both are replaced
	// wholesale, never mutated in place.
	active atomic.Pointer[streamState]
	info   atomic.Pointer[model.Info]

	bypass      atomic.Bool
	normalize   atomic.Bool
	inGainBits  atomic.Uint32
	outGainBits atomic.Uint32

	// cycle is odd while a Process call is running. The control
	// plane uses it to wait until a displaced record is provably
	// unreferenced before disposing it.
	cycle atomic.Uint64

	// Ramp memory, touched only by the audio thread.
	prevInGain  float32
	prevOutGain float32

	// Control-plane master state.
	mu         sync.Mutex
	closed     bool
	current    model.Model
	engineRate float64
	maxFrames  int
}

// New creates a Processor. A nil options pointer selects defaults.
//
// Parameters:
//   - options: configuration, typically from NewOptions
//
// Returns:
//   - *Processor: ready facade with unity gains and bypass off
//   - error: validation error for out-of-range options
func New(options *Options) (*Processor, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.validate(); err != nil {
		return nil, err
	}

	p := &Processor{opts: *options}
	unity := math.Float32bits(1.0)
	p.inGainBits.Store(unity)
	p.outGainBits.Store(unity)
	p.prevInGain = 1.0
	p.prevOutGain = 1.0

	logrus.WithFields(logrus.Fields{
		"function":         "New",
		"max_model_bytes":  options.MaxModelFileBytes,
		"normalize_target": options.NormalizeTargetDB,
		"prewarm":          options.Prewarm,
	}).Info("Created amp model processor")

	return p, nil
}

// quiescenceWarnAfter bounds how long waitQuiescent stays silent
// before logging that the audio thread looks stuck.
const quiescenceWarnAfter = time.Second

// waitQuiescent blocks until the audio thread is provably past any
// Process call that may still reference a just-displaced record. An
// even cycle value means no call is running; an odd value means a
// call is in flight, and any change means that call finished. Only
// the single-audio-reader assumption makes this sufficient.
func (p *Processor) waitQuiescent() {
	c := p.cycle.Load()
	if c%2 == 0 {
		return
	}
	start := time.Now()
	warned := false
	for p.cycle.Load() == c {
		if !warned && time.Since(start) > quiescenceWarnAfter {
			logrus.WithFields(logrus.Fields{
				"function": "Processor.waitQuiescent",
				"waited":   time.Since(start),
			}).Warn("Audio thread has not finished a process call")
			warned = true
		}
		time.Sleep(20 * time.Microsecond)
	}
}

// publishLocked swaps in a new stream state and observer record,
// then disposes whatever model was displaced once the audio thread
// is past it. Callers hold p.mu.
func (p *Processor) publishLocked(st *streamState, m model.Model, info *model.Info) {
	p.active.Store(st)
	p.info.Store(info)

	old := p.current
	p.current = m
	if old != nil && old != m {
		p.waitQuiescent()
		if err := old.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Processor.publishLocked",
				"error":    err,
			}).Warn("Retired model close failed")
		}
	}
}

// LoadModel reads, builds, and atomically activates the model file at
// path. Safe to call while audio is running: the audio thread keeps
// using the previous model until the new one is fully constructed,
// and a failed load leaves the active model untouched.
//
// Reloading the file already active (same content fingerprint) is
// recognized and skipped.
//
// Parameters:
//   - path: model file location
//
// Returns:
//   - error: wrapped load, parse, or preparation failure
func (p *Processor) LoadModel(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProcessorClosed
	}

	m, info, err := model.Load(path, model.Limits{MaxFileBytes: p.opts.MaxModelFileBytes})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Processor.LoadModel",
			"path":     path,
			"error":    err,
		}).Error("Model load failed, keeping active model")
		return err
	}

	if cur := p.info.Load(); cur != nil && cur.Fingerprint == info.Fingerprint {
		logrus.WithFields(logrus.Fields{
			"function": "Processor.LoadModel",
			"path":     path,
			"name":     cur.Name,
		}).Info("Model content already active, skipping reload")
		_ = m.Close()
		return nil
	}

	var st *streamState
	if p.engineRate > 0 {
		st, err = newStreamState(m, &info, p.engineRate, p.maxFrames, &p.opts)
		if err != nil {
			_ = m.Close()
			logrus.WithFields(logrus.Fields{
				"function": "Processor.LoadModel",
				"path":     path,
				"error":    err,
			}).Error("Model preparation failed, keeping active model")
			return err
		}
	}

	p.publishLocked(st, m, &info)

	logrus.WithFields(logrus.Fields{
		"function":     "Processor.LoadModel",
		"name":         info.Name,
		"architecture": info.Architecture,
		"adapted":      st != nil && st.adapt,
	}).Info("Model activated")

	return nil
}

// UnloadModel deactivates and disposes the current model. The
// processor then behaves as if nothing was ever loaded.
func (p *Processor) UnloadModel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.current == nil {
		return
	}

	name := p.ModelName()
	p.publishLocked(nil, nil, nil)

	logrus.WithFields(logrus.Fields{
		"function": "Processor.UnloadModel",
		"name":     name,
	}).Info("Model unloaded")
}

// Reset prepares the processor for a stream format. It must be called
// before audio flows and again whenever the host's sample rate or
// maximum buffer size changes, never concurrently with Process.
// Allocation happens here so Process never has to.
//
// Parameters:
//   - sampleRate: engine rate in Hz
//   - maxBufferSize: largest frame count a Process call will carry
//
// Returns:
//   - error: validation or model preparation failure
func (p *Processor) Reset(sampleRate float64, maxBufferSize int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProcessorClosed
	}
	if sampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	if maxBufferSize < 1 || maxBufferSize > maxBufferSizeLimit {
		return ErrInvalidBufferSize
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Processor.Reset",
		"sample_rate":     sampleRate,
		"max_buffer_size": maxBufferSize,
	}).Info("Preparing stream format")

	p.engineRate = sampleRate
	p.maxFrames = maxBufferSize

	// Detach the audio thread before touching model state, so a
	// caller that breaks the no-concurrent-reset contract gets
	// silence instead of a race on DSP internals.
	p.active.Store(nil)
	if p.current == nil {
		return nil
	}
	p.waitQuiescent()

	st, err := newStreamState(p.current, p.info.Load(), sampleRate, maxBufferSize, &p.opts)
	if err != nil {
		return err
	}
	p.active.Store(st)
	return nil
}

// Process runs one audio buffer through the chain: input gain, model
// inference, output gain, non-finite containment. Called from the
// audio thread; never locks, allocates, logs, or blocks.
//
// Exactly min(len(input), len(output)) frames are considered. Frames
// beyond the Reset maxBufferSize are not processed; the output tail
// is silenced instead. With bypass enabled the input is copied
// through untouched. With no model loaded, or before Reset, the
// output is silence.
func (p *Processor) Process(input, output []float32) {
	p.cycle.Add(1)
	defer p.cycle.Add(1)

	frames := len(input)
	if len(output) < frames {
		frames = len(output)
	}

	if p.bypass.Load() {
		dsp.CopyAndZeroTail(output, input[:frames])
		return
	}

	st := p.active.Load()
	if st == nil {
		dsp.Zero(output)
		return
	}

	n := frames
	if n > st.maxFrames {
		n = st.maxFrames
	}

	in := st.in[:n]
	copy(in, input[:n])

	inGain := math.Float32frombits(p.inGainBits.Load())
	dsp.Fade(in, p.prevInGain, inGain)
	p.prevInGain = inGain

	wet := st.wet[:n]
	st.render(wet, in)

	outGain := math.Float32frombits(p.outGainBits.Load())
	if p.normalize.Load() {
		outGain *= st.normGain
	}
	dsp.Fade(wet, p.prevOutGain, outGain)
	p.prevOutGain = outGain

	dsp.Sanitize(wet)
	copy(output[:n], wet)
	dsp.Zero(output[n:])
}

// SetBypass routes the input straight to the output when enabled.
// Bypass takes precedence over everything, including a missing model.
func (p *Processor) SetBypass(enabled bool) {
	p.bypass.Store(enabled)
	logrus.WithFields(logrus.Fields{
		"function": "Processor.SetBypass",
		"enabled":  enabled,
	}).Debug("Bypass changed")
}

// Bypass reports whether bypass is enabled.
func (p *Processor) Bypass() bool {
	return p.bypass.Load()
}

// SetInputGainDB sets the pre-inference gain. Values clamp to
// [MinGainDB, MaxGainDB]; conversion to a linear factor happens here
// so the audio thread only loads a ready multiplier.
func (p *Processor) SetInputGainDB(db float64) {
	clamped := dsp.Clamp(db, MinGainDB, MaxGainDB)
	p.inGainBits.Store(math.Float32bits(float32(dsp.DBToLinear(clamped))))
	logrus.WithFields(logrus.Fields{
		"function": "Processor.SetInputGainDB",
		"db":       db,
		"clamped":  clamped,
	}).Debug("Input gain changed")
}

// InputGainDB returns the effective input gain in decibels.
func (p *Processor) InputGainDB() float64 {
	return dsp.LinearToDB(float64(math.Float32frombits(p.inGainBits.Load())))
}

// SetOutputGainDB sets the post-inference gain. Values clamp to
// [MinGainDB, MaxGainDB].
func (p *Processor) SetOutputGainDB(db float64) {
	clamped := dsp.Clamp(db, MinGainDB, MaxGainDB)
	p.outGainBits.Store(math.Float32bits(float32(dsp.DBToLinear(clamped))))
	logrus.WithFields(logrus.Fields{
		"function": "Processor.SetOutputGainDB",
		"db":       db,
		"clamped":  clamped,
	}).Debug("Output gain changed")
}

// OutputGainDB returns the effective output gain in decibels, not
// including loudness normalization.
func (p *Processor) OutputGainDB() float64 {
	return dsp.LinearToDB(float64(math.Float32frombits(p.outGainBits.Load())))
}

// SetOutputNormalization enables loudness normalization. It only has
// an effect for models whose file carries a loudness measurement; the
// output stage then levels the capture to the configured target.
func (p *Processor) SetOutputNormalization(enabled bool) {
	p.normalize.Store(enabled)
	logrus.WithFields(logrus.Fields{
		"function": "Processor.SetOutputNormalization",
		"enabled":  enabled,
	}).Debug("Output normalization changed")
}

// OutputNormalization reports whether loudness normalization is
// enabled.
func (p *Processor) OutputNormalization() bool {
	return p.normalize.Load()
}

// IsModelLoaded reports whether a model is currently active.
func (p *Processor) IsModelLoaded() bool {
	return p.info.Load() != nil
}

// ModelName returns the active model's file name without extension,
// or the empty string when nothing is loaded.
func (p *Processor) ModelName() string {
	if info := p.info.Load(); info != nil {
		return info.Name
	}
	return ""
}

// ModelInfo returns a copy of the active model's description. The
// second return is false when nothing is loaded.
func (p *Processor) ModelInfo() (model.Info, bool) {
	if info := p.info.Load(); info != nil {
		return *info, true
	}
	return model.Info{}, false
}

// Close unloads any model and shuts the processor down. Further
// control calls return ErrProcessorClosed; Process produces silence.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	p.publishLocked(nil, nil, nil)
	p.closed = true

	logrus.WithFields(logrus.Fields{
		"function": "Processor.Close",
	}).Info("Processor closed")
	return nil
}
