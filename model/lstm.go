package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// lstmSettleWindow is the prewarm length for recurrent models. The
// state has unbounded memory in principle; in practice captures
// settle well inside this many samples of silence.
const lstmSettleWindow = 2048

const maxLSTMLayers = 16
const maxLSTMHidden = 1024

func init() {
	Register(ArchLSTM, newLSTMModel)
}

type lstmConfig struct {
	NumLayers  int `json:"num_layers"`
	InputSize  int `json:"input_size"`
	HiddenSize int `json:"hidden_size"`
}

// lstmLayer holds one layer's weights and recurrent state. Gate rows
// are ordered input, forget, cell, output within the 4H block,
// matching the layout captures are exported with.
type lstmLayer struct {
	wih    []float64 // 4H x inSize, row major
	whh    []float64 // 4H x H, row major
	bias   []float64 // 4H
	inSize int

	h []float64
	c []float64
}

func (l *lstmLayer) step(in, z []float64) {
	hs := len(l.h)
	rows := 4 * hs

	copy(z[:rows], l.bias)
	for r := 0; r < rows; r++ {
		acc := 0.0
		row := l.wih[r*l.inSize : (r+1)*l.inSize]
		for k, w := range row {
			acc += w * in[k]
		}
		rec := l.whh[r*hs : (r+1)*hs]
		for k, w := range rec {
			acc += w * l.h[k]
		}
		z[r] += acc
	}

	for j := 0; j < hs; j++ {
		ig := sigmoid(z[j])
		fg := sigmoid(z[hs+j])
		cg := math.Tanh(z[2*hs+j])
		og := sigmoid(z[3*hs+j])
		l.c[j] = fg*l.c[j] + ig*cg
		l.h[j] = og * math.Tanh(l.c[j])
	}
}

// lstmModel evaluates stacked LSTM layers with a linear head, one
// sample at a time.
type lstmModel struct {
	layers []*lstmLayer
	headW  []float64
	headB  float64
	hidden int

	z     []float64 // 4H gate scratch
	inVec []float64 // first layer's single-sample input
	ready bool
}

func newLSTMModel(config json.RawMessage, weights []float64) (Model, error) {
	var cfg lstmConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.NumLayers < 1 || cfg.NumLayers > maxLSTMLayers {
		return nil, fmt.Errorf("%w: num_layers %d outside 1..%d",
			ErrInvalidConfig, cfg.NumLayers, maxLSTMLayers)
	}
	if cfg.InputSize != 1 {
		return nil, fmt.Errorf("%w: input_size must be 1 for mono captures, got %d",
			ErrInvalidConfig, cfg.InputSize)
	}
	if cfg.HiddenSize < 1 || cfg.HiddenSize > maxLSTMHidden {
		return nil, fmt.Errorf("%w: hidden_size %d outside 1..%d",
			ErrInvalidConfig, cfg.HiddenSize, maxLSTMHidden)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "newLSTMModel",
		"num_layers":  cfg.NumLayers,
		"hidden_size": cfg.HiddenSize,
	}).Debug("Building LSTM model")

	hs := cfg.HiddenSize
	cur := newWeightCursor(weights)
	m := &lstmModel{
		hidden: hs,
		z:      make([]float64, 4*hs),
		inVec:  make([]float64, 1),
	}

	inSize := cfg.InputSize
	for layer := 0; layer < cfg.NumLayers; layer++ {
		wih, err := cur.take(4 * hs * inSize)
		if err != nil {
			return nil, fmt.Errorf("layer %d input weights: %w", layer, err)
		}
		whh, err := cur.take(4 * hs * hs)
		if err != nil {
			return nil, fmt.Errorf("layer %d recurrent weights: %w", layer, err)
		}
		bias, err := cur.take(4 * hs)
		if err != nil {
			return nil, fmt.Errorf("layer %d bias: %w", layer, err)
		}
		m.layers = append(m.layers, &lstmLayer{
			wih:    wih,
			whh:    whh,
			bias:   bias,
			inSize: inSize,
			h:      make([]float64, hs),
			c:      make([]float64, hs),
		})
		inSize = hs
	}

	headW, err := cur.take(hs)
	if err != nil {
		return nil, fmt.Errorf("head weights: %w", err)
	}
	m.headW = headW
	if m.headB, err = cur.takeOne(); err != nil {
		return nil, fmt.Errorf("head bias: %w", err)
	}
	if err := cur.done(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *lstmModel) Process(out, in []float32) {
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

func (m *lstmModel) step(x float64) float64 {
	m.inVec[0] = x
	in := m.inVec
	for _, l := range m.layers {
		l.step(in, m.z)
		in = l.h
	}
	y := m.headB
	for j, w := range m.headW {
		y += w * in[j]
	}
	return y
}

func (m *lstmModel) Reset(sampleRate float64, maxFrames int) error {
	if maxFrames < 1 {
		return fmt.Errorf("invalid max frames: %d", maxFrames)
	}
	for _, l := range m.layers {
		for j := range l.h {
			l.h[j] = 0
			l.c[j] = 0
		}
	}
	m.ready = true
	return nil
}

func (m *lstmModel) ReceptiveField() int { return lstmSettleWindow }

func (m *lstmModel) Latency() int { return 0 }

func (m *lstmModel) Close() error {
	m.ready = false
	return nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
