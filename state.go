package namcore

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/namcore/dsp"
	"github.com/opd-ai/namcore/model"
)

// fifoPrimeFrames is the jitter margin pushed into the bridge FIFO
// when rate adaptation is active. Resampler output counts vary by a
// sample per block; the margin absorbs that without gaps.
const fifoPrimeFrames = 16

// maxBufferSizeLimit caps Reset's maximum buffer size. One million
// frames is far beyond any real host period and keeps scratch
// allocation bounded.
const maxBufferSizeLimit = 1 << 20

// streamState is the immutable record the audio thread works from.
// Every LoadModel and Reset builds a fresh one and publishes it
// atomically; Process never observes a half-prepared record.
type streamState struct {
	m         model.Model
	maxFrames int
	normGain  float32

	in  []float32
	wet []float32

	// Rate adaptation, present only when the model's native rate
	// differs from the engine rate.
	adapt     bool
	toModel   *dsp.StreamResampler
	fromModel *dsp.StreamResampler
	modelIn   []float32
	modelOut  []float32
	bridged   []float32
	bridge    dsp.FIFO32
}

// newStreamState prepares a model for an engine format: resets DSP
// state, sizes scratch for the largest buffer, sets up resamplers
// when the model was trained at a different rate, and computes the
// normalization gain. Runs on the control plane and may allocate.
func newStreamState(m model.Model, info *model.Info, engineRate float64, maxFrames int, opts *Options) (*streamState, error) {
	st := &streamState{
		m:         m,
		maxFrames: maxFrames,
		normGain:  1.0,
		in:        make([]float32, maxFrames),
		wet:       make([]float32, maxFrames),
	}

	modelRate := engineRate
	if info != nil && info.SampleRate > 0 {
		modelRate = info.SampleRate
	}

	modelMax := maxFrames
	if modelRate != engineRate {
		st.adapt = true

		var err error
		st.toModel, err = dsp.NewStreamResampler(engineRate, modelRate)
		if err != nil {
			return nil, fmt.Errorf("engine to model resampler: %w", err)
		}
		st.fromModel, err = dsp.NewStreamResampler(modelRate, engineRate)
		if err != nil {
			return nil, fmt.Errorf("model to engine resampler: %w", err)
		}

		modelMax = st.toModel.MaxOutput(maxFrames)
		st.modelIn = make([]float32, modelMax)
		st.modelOut = make([]float32, modelMax)
		st.bridged = make([]float32, st.fromModel.MaxOutput(modelMax))
		st.bridge.Init(maxFrames + 2*fifoPrimeFrames)
		st.bridge.PushZeros(fifoPrimeFrames)

		logrus.WithFields(logrus.Fields{
			"function":    "newStreamState",
			"engine_rate": engineRate,
			"model_rate":  modelRate,
		}).Info("Sample rate adaptation enabled")
	}

	if err := m.Reset(modelRate, modelMax); err != nil {
		return nil, fmt.Errorf("reset model: %w", err)
	}

	if info != nil && info.HasLoudness {
		st.normGain = float32(dsp.DBToLinear(opts.NormalizeTargetDB - info.Loudness))
	}

	if opts.Prewarm {
		warm := m.ReceptiveField() + m.Latency()
		model.Prewarm(m, warm, modelMax)
	}

	return st, nil
}

// render runs n frames of inference from in into wet. Both slices
// have equal length not exceeding maxFrames. Audio thread only.
func (st *streamState) render(wet, in []float32) {
	if !st.adapt {
		st.m.Process(wet, in)
		return
	}

	// Engine rate to model rate, inference, back to engine rate.
	// The bridge FIFO smooths the sample-count jitter both
	// conversions introduce.
	nm := st.toModel.Process(st.modelIn, in)
	st.m.Process(st.modelOut[:nm], st.modelIn[:nm])
	nb := st.fromModel.Process(st.bridged, st.modelOut[:nm])
	st.bridge.Push(st.bridged[:nb])
	st.bridge.Pop(wet)
}
