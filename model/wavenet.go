package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

const (
	maxWaveNetChannels = 256
	maxWaveNetKernel   = 32
	maxWaveNetLayers   = 64
	maxWaveNetDilation = 4096
)

func init() {
	Register(ArchWaveNet, newWaveNetModel)
}

type wavenetConfig struct {
	Channels   int   `json:"channels"`
	KernelSize int   `json:"kernel_size"`
	Dilations  []int `json:"dilations"`
	Gated      bool  `json:"gated,omitempty"`
}

// wavenetLayer is one dilated causal convolution layer. Each sample
// it convolves over the current input vector and (kernel-1) dilated
// taps from its history ring, applies the activation, mixes through a
// 1x1 matrix, adds the result to both the skip accumulator and the
// residual path, and records the input vector in the ring.
type wavenetLayer struct {
	convW    []float64 // convOut x channels x kernel, row major
	convB    []float64 // convOut
	mixW     []float64 // channels x channels, row major
	mixB     []float64 // channels
	dilation int
	gated    bool

	hist       []float64 // histFrames x channels
	histPos    int
	histFrames int
}

func (l *wavenetLayer) step(xv, z, act, mix, skip []float64, channels, kernel int) {
	convOut := len(l.convB)

	copy(z[:convOut], l.convB)
	for k := 0; k < kernel; k++ {
		// Tap k sits (kernel-1-k)*dilation samples in the past;
		// the final tap is the current input vector.
		delay := (kernel - 1 - k) * l.dilation
		var tap []float64
		if delay == 0 {
			tap = xv
		} else {
			idx := l.histPos - delay
			if idx < 0 {
				idx += l.histFrames
			}
			tap = l.hist[idx*channels : (idx+1)*channels]
		}
		for o := 0; o < convOut; o++ {
			row := l.convW[(o*channels)*kernel+k:]
			acc := 0.0
			for c := 0; c < channels; c++ {
				acc += row[c*kernel] * tap[c]
			}
			z[o] += acc
		}
	}

	if l.gated {
		for c := 0; c < channels; c++ {
			act[c] = math.Tanh(z[c]) * sigmoid(z[channels+c])
		}
	} else {
		for c := 0; c < channels; c++ {
			act[c] = math.Tanh(z[c])
		}
	}

	for o := 0; o < channels; o++ {
		row := l.mixW[o*channels : (o+1)*channels]
		acc := l.mixB[o]
		for c, w := range row {
			acc += w * act[c]
		}
		mix[o] = acc
	}

	if l.histFrames > 0 {
		copy(l.hist[l.histPos*channels:(l.histPos+1)*channels], xv)
		l.histPos++
		if l.histPos == l.histFrames {
			l.histPos = 0
		}
	}

	for c := 0; c < channels; c++ {
		skip[c] += mix[c]
		xv[c] += mix[c]
	}
}

// wavenetModel is a single stack of dilated convolution layers with
// an input projection and a linear head over the skip accumulator.
type wavenetModel struct {
	inW      []float64
	inB      []float64
	layers   []*wavenetLayer
	headW    []float64
	headB    float64
	channels int
	kernel   int
	rf       int

	xv    []float64
	z     []float64
	act   []float64
	mix   []float64
	skip  []float64
	ready bool
}

func newWaveNetModel(config json.RawMessage, weights []float64) (Model, error) {
	var cfg wavenetConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Channels < 1 || cfg.Channels > maxWaveNetChannels {
		return nil, fmt.Errorf("%w: channels %d outside 1..%d",
			ErrInvalidConfig, cfg.Channels, maxWaveNetChannels)
	}
	if cfg.KernelSize < 1 || cfg.KernelSize > maxWaveNetKernel {
		return nil, fmt.Errorf("%w: kernel_size %d outside 1..%d",
			ErrInvalidConfig, cfg.KernelSize, maxWaveNetKernel)
	}
	if len(cfg.Dilations) == 0 || len(cfg.Dilations) > maxWaveNetLayers {
		return nil, fmt.Errorf("%w: dilation count %d outside 1..%d",
			ErrInvalidConfig, len(cfg.Dilations), maxWaveNetLayers)
	}

	c := cfg.Channels
	k := cfg.KernelSize
	convOut := c
	if cfg.Gated {
		convOut = 2 * c
	}

	cur := newWeightCursor(weights)
	m := &wavenetModel{
		channels: c,
		kernel:   k,
		xv:       make([]float64, c),
		z:        make([]float64, convOut),
		act:      make([]float64, c),
		mix:      make([]float64, c),
		skip:     make([]float64, c),
	}

	var err error
	if m.inW, err = cur.take(c); err != nil {
		return nil, fmt.Errorf("input projection weights: %w", err)
	}
	if m.inB, err = cur.take(c); err != nil {
		return nil, fmt.Errorf("input projection bias: %w", err)
	}

	sumDil := 0
	for i, d := range cfg.Dilations {
		if d < 1 || d > maxWaveNetDilation {
			return nil, fmt.Errorf("%w: dilation[%d]=%d outside 1..%d",
				ErrInvalidConfig, i, d, maxWaveNetDilation)
		}
		sumDil += d

		layer := &wavenetLayer{
			dilation:   d,
			gated:      cfg.Gated,
			histFrames: (k - 1) * d,
		}
		if layer.convW, err = cur.take(convOut * c * k); err != nil {
			return nil, fmt.Errorf("layer %d conv weights: %w", i, err)
		}
		if layer.convB, err = cur.take(convOut); err != nil {
			return nil, fmt.Errorf("layer %d conv bias: %w", i, err)
		}
		if layer.mixW, err = cur.take(c * c); err != nil {
			return nil, fmt.Errorf("layer %d mix weights: %w", i, err)
		}
		if layer.mixB, err = cur.take(c); err != nil {
			return nil, fmt.Errorf("layer %d mix bias: %w", i, err)
		}
		if layer.histFrames > 0 {
			layer.hist = make([]float64, layer.histFrames*c)
		}
		m.layers = append(m.layers, layer)
	}

	if m.headW, err = cur.take(c); err != nil {
		return nil, fmt.Errorf("head weights: %w", err)
	}
	if m.headB, err = cur.takeOne(); err != nil {
		return nil, fmt.Errorf("head bias: %w", err)
	}
	if err := cur.done(); err != nil {
		return nil, err
	}

	m.rf = 1 + (k-1)*sumDil

	logrus.WithFields(logrus.Fields{
		"function":        "newWaveNetModel",
		"channels":        c,
		"kernel_size":     k,
		"layers":          len(m.layers),
		"gated":           cfg.Gated,
		"receptive_field": m.rf,
	}).Debug("Building WaveNet model")

	return m, nil
}

func (m *wavenetModel) Process(out, in []float32) {
	if !m.ready {
		zero32(out)
		return
	}
	n := len(in)
	if len(out) < n {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] = float32(m.step(float64(in[i])))
	}
	zero32(out[n:])
}

func (m *wavenetModel) step(x float64) float64 {
	for c := 0; c < m.channels; c++ {
		m.xv[c] = m.inW[c]*x + m.inB[c]
		m.skip[c] = 0
	}
	for _, l := range m.layers {
		l.step(m.xv, m.z, m.act, m.mix, m.skip, m.channels, m.kernel)
	}
	y := m.headB
	for c, w := range m.headW {
		y += w * m.skip[c]
	}
	return y
}

func (m *wavenetModel) Reset(sampleRate float64, maxFrames int) error {
	if maxFrames < 1 {
		return fmt.Errorf("invalid max frames: %d", maxFrames)
	}
	for _, l := range m.layers {
		for i := range l.hist {
			l.hist[i] = 0
		}
		l.histPos = 0
	}
	m.ready = true
	return nil
}

func (m *wavenetModel) ReceptiveField() int { return m.rf }

func (m *wavenetModel) Latency() int { return 0 }

func (m *wavenetModel) Close() error {
	m.ready = false
	return nil
}
