// Package model implements loading and evaluation of neural amp
// model files for the namcore processor.
//
// # Overview
//
// A model file is a JSON envelope describing a trained amp capture:
//
//	{
//	  "version": "0.1.0",
//	  "architecture": "LSTM",
//	  "config": { ... architecture specific ... },
//	  "weights": [ ... flat float array ... ],
//	  "sample_rate": 48000,
//	  "metadata": { "name": "Clean Deluxe", "loudness": -17.2 }
//	}
//
// The conventional file extension is ".nam". The architecture string
// selects a registered builder which validates the config block and
// consumes the flat weight array. Three architectures ship with the
// package:
//
//   - "Linear": a finite impulse response filter. Short kernels run
//     as direct time-domain convolution; long kernels switch to a
//     streaming FFT overlap-save engine with a fixed internal hop.
//   - "LSTM": stacked LSTM layers with a linear head, evaluated one
//     sample at a time. The common choice for low-latency captures.
//   - "WaveNet": a stack of dilated causal convolution layers with
//     optional gated activations, residual connections, and a linear
//     head over accumulated skip outputs.
//
// Additional architectures can be added with Register.
//
// # Weight Layout
//
// Weights are a single flat array consumed in a documented order so
// files are portable across implementations.
//
// Linear: filter_length taps, first tap multiplies the newest sample.
//
// LSTM, per layer (input size I, hidden size H), gate order
// input/forget/cell/output within each block of 4H rows:
//
//	W_ih (4H x I, row major) ‖ W_hh (4H x H, row major) ‖ bias (4H)
//
// followed by the head: H output weights and one bias.
//
// WaveNet: input projection (channels weights, channels biases), then
// per dilation layer the convolution kernel (out x channels x
// kernel_size, row major, out = 2*channels when gated), its biases,
// the 1x1 mixing matrix (channels x channels) and biases, and finally
// the head (channels weights, one bias).
//
// # Real-Time Contract
//
// A Model returned by Load or Parse is fully constructed: weights
// consumed and validated, internal buffers allocated by Reset. After
// Reset, Process performs no allocation, locking, or logging and is
// safe to call from an audio thread. Process is not safe for
// concurrent use; callers serialize audio callbacks.
package model
