package model

import (
	"encoding/json"
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"
	"github.com/sirupsen/logrus"
)

// directKernelMax is the largest tap count evaluated in the time
// domain. Longer kernels, typically cabinet impulse responses, switch
// to the FFT overlap-save engine.
const directKernelMax = 128

// fftHopSize is the fixed internal block of the FFT engine. It is
// also the engine's reported latency: output lags input by one hop
// while the input FIFO fills.
const fftHopSize = 128

func init() {
	Register(ArchLinear, newLinearModel)
}

type linearConfig struct {
	FilterLength int     `json:"filter_length"`
	Bias         float64 `json:"bias,omitempty"`
}

func newLinearModel(config json.RawMessage, weights []float64) (Model, error) {
	var cfg linearConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.FilterLength < 1 {
		return nil, fmt.Errorf("%w: filter_length must be positive, got %d",
			ErrInvalidConfig, cfg.FilterLength)
	}

	cur := newWeightCursor(weights)
	taps, err := cur.take(cfg.FilterLength)
	if err != nil {
		return nil, err
	}
	if err := cur.done(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "newLinearModel",
		"filter_length": cfg.FilterLength,
		"bias":          cfg.Bias,
		"fft_engine":    cfg.FilterLength > directKernelMax,
	}).Debug("Building linear model")

	if cfg.FilterLength <= directKernelMax {
		return newDirectFIR(taps, cfg.Bias), nil
	}
	return newFFTFIR(taps, cfg.Bias)
}

// directFIR evaluates a short FIR kernel in the time domain. Each
// output sample is a dot product between the reversed kernel and a
// contiguous window over history plus the current block, letting the
// elementwise multiply run vectorized.
type directFIR struct {
	revTaps []float64
	bias    float64

	window []float64 // kernel-1 history samples plus the current block
	prod   []float64
	ready  bool
}

func newDirectFIR(taps []float64, bias float64) *directFIR {
	m := len(taps)
	rev := make([]float64, m)
	for i, t := range taps {
		rev[m-1-i] = t
	}
	return &directFIR{
		revTaps: rev,
		bias:    bias,
		prod:    make([]float64, m),
	}
}

func (f *directFIR) Reset(sampleRate float64, maxFrames int) error {
	if maxFrames < 1 {
		return fmt.Errorf("invalid max frames: %d", maxFrames)
	}
	m := len(f.revTaps)
	f.window = make([]float64, m-1+maxFrames)
	f.ready = true
	return nil
}

func (f *directFIR) Process(out, in []float32) {
	n := len(in)
	if !f.ready || n == 0 {
		zero32(out)
		return
	}
	m := len(f.revTaps)
	if len(out) < n {
		n = len(out)
	}
	if n > len(f.window)-(m-1) {
		n = len(f.window) - (m - 1)
	}

	for i := 0; i < n; i++ {
		f.window[m-1+i] = float64(in[i])
	}
	for i := 0; i < n; i++ {
		vecmath.MulBlock(f.prod, f.revTaps, f.window[i:i+m])
		acc := f.bias
		for _, p := range f.prod {
			acc += p
		}
		out[i] = float32(acc)
	}
	copy(f.window[:m-1], f.window[n:n+m-1])
	zero32(out[n:])
}

func (f *directFIR) ReceptiveField() int { return len(f.revTaps) }

func (f *directFIR) Latency() int { return 0 }

func (f *directFIR) Close() error {
	f.ready = false
	f.window = nil
	return nil
}

// fftFIR evaluates a long FIR kernel with streaming overlap-save
// convolution on a fixed internal hop. Input and output FIFOs bridge
// arbitrary caller block sizes onto the hop; priming the output FIFO
// with one hop of silence guarantees the output never underruns, at
// the cost of one hop of latency.
type fftFIR struct {
	kernelLen int
	bias      float64
	fftSize   int

	plan      *algofft.Plan[complex128]
	kernelFFT []complex128

	window   []float64 // fftSize sliding input, newest hop at the tail
	cbuf     []complex128
	spectrum []complex128
	hopIn    []float64
	hopOut   []float64

	inFifo  ringF64
	outFifo ringF64
	ready   bool
}

func newFFTFIR(taps []float64, bias float64) (*fftFIR, error) {
	m := len(taps)
	fftSize := nextPowerOfTwo(fftHopSize + m - 1)

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("create FFT plan: %w", err)
	}

	kernelPadded := make([]complex128, fftSize)
	for i, t := range taps {
		kernelPadded[i] = complex(t, 0)
	}
	kernelFFT := make([]complex128, fftSize)
	if err := plan.Forward(kernelFFT, kernelPadded); err != nil {
		return nil, fmt.Errorf("transform kernel: %w", err)
	}

	return &fftFIR{
		kernelLen: m,
		bias:      bias,
		fftSize:   fftSize,
		plan:      plan,
		kernelFFT: kernelFFT,
		window:    make([]float64, fftSize),
		cbuf:      make([]complex128, fftSize),
		spectrum:  make([]complex128, fftSize),
		hopIn:     make([]float64, fftHopSize),
		hopOut:    make([]float64, fftHopSize),
	}, nil
}

func (f *fftFIR) Reset(sampleRate float64, maxFrames int) error {
	if maxFrames < 1 {
		return fmt.Errorf("invalid max frames: %d", maxFrames)
	}
	for i := range f.window {
		f.window[i] = 0
	}
	f.inFifo.init(maxFrames + fftHopSize)
	f.outFifo.init(maxFrames + 2*fftHopSize)

	// One hop of silence covers the fill time of the input FIFO, so
	// every Process call can pop exactly as many samples as it fed.
	f.outFifo.pushZeros(fftHopSize)
	f.ready = true
	return nil
}

func (f *fftFIR) Process(out, in []float32) {
	if !f.ready || len(in) == 0 {
		zero32(out)
		return
	}

	f.inFifo.pushF32(in)
	for f.inFifo.length() >= fftHopSize {
		f.inFifo.pop(f.hopIn)
		f.processHop()
		f.outFifo.push(f.hopOut)
	}

	n := len(out)
	if len(in) < n {
		n = len(in)
	}
	for i := 0; i < n; i++ {
		f.outFifo.popOneInto(&out[i], f.bias)
	}
	zero32(out[n:])
}

// processHop runs one overlap-save step: slide the input window by a
// hop, transform, multiply by the kernel spectrum, and keep the last
// hop of the inverse transform, which is the linearly valid region
// because fftSize covers hop+kernel-1.
func (f *fftFIR) processHop() {
	copy(f.window, f.window[fftHopSize:])
	copy(f.window[f.fftSize-fftHopSize:], f.hopIn)

	for i, v := range f.window {
		f.cbuf[i] = complex(v, 0)
	}
	// Sizes are fixed at construction; the plan cannot fail here.
	_ = f.plan.Forward(f.spectrum, f.cbuf)
	for i := range f.spectrum {
		f.spectrum[i] *= f.kernelFFT[i]
	}
	_ = f.plan.Inverse(f.cbuf, f.spectrum)

	base := f.fftSize - fftHopSize
	for i := 0; i < fftHopSize; i++ {
		f.hopOut[i] = real(f.cbuf[base+i])
	}
}

func (f *fftFIR) ReceptiveField() int { return f.kernelLen }

func (f *fftFIR) Latency() int { return fftHopSize }

func (f *fftFIR) Close() error {
	f.ready = false
	return nil
}

func zero32(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
