package wavio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineClip(rate float64, freq float64, n int) *Clip {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return &Clip{Samples: samples, SampleRate: rate}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		bitDepth int
		tol      float64
	}{
		{"16 bit", 16, 1e-4},
		{"24 bit", 24, 1e-6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "clip.wav")
			want := sineClip(48000, 440, 4800)

			f, err := os.Create(path)
			require.NoError(t, err)
			require.NoError(t, Write(f, want, tt.bitDepth))
			require.NoError(t, f.Close())

			got, err := ReadFile(path)
			require.NoError(t, err)

			assert.InDelta(t, want.SampleRate, got.SampleRate, 0)
			require.Len(t, got.Samples, len(want.Samples))
			for i := range want.Samples {
				assert.InDelta(t, float64(want.Samples[i]), float64(got.Samples[i]), tt.tol, "sample %d", i)
			}
		})
	}
}

func TestWriteFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "render.wav")
	want := sineClip(44100, 220, 2205)

	require.NoError(t, WriteFile(path, want))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.InDelta(t, 44100.0, got.SampleRate, 0)
	require.Len(t, got.Samples, len(want.Samples))
	for i := range want.Samples {
		assert.InDelta(t, float64(want.Samples[i]), float64(got.Samples[i]), 1e-6, "sample %d", i)
	}
}

func TestReadMixesDownStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")

	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 48000, 16, 2, 1)
	// Left 0.25, right 0.5 at 16-bit full scale.
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 48000},
		Data:           []int{8192, 16384, 8192, 16384, 8192, 16384},
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	clip, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, clip.Samples, 3)
	for i, v := range clip.Samples {
		assert.InDelta(t, 0.375, float64(v), 1e-4, "frame %d", i)
	}
}

func TestWriteClipsOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hot.wav")
	clip := &Clip{Samples: []float32{2.0, -2.0, 0.0}, SampleRate: 48000}

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, Write(f, clip, 16))
	require.NoError(t, f.Close())

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got.Samples, 3)
	assert.InDelta(t, 1.0, float64(got.Samples[0]), 1e-3)
	assert.InDelta(t, -1.0, float64(got.Samples[1]), 1e-3)
	assert.InDelta(t, 0.0, float64(got.Samples[2]), 1e-6)
}

func TestReadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not riff data"), 0o644))

	_, err := ReadFile(path)
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestWriteValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tests := []struct {
		name    string
		clip    *Clip
		depth   int
		wantErr error
	}{
		{"nil clip", nil, 16, ErrEmptyClip},
		{"no samples", &Clip{SampleRate: 48000}, 16, ErrEmptyClip},
		{"no rate", &Clip{Samples: []float32{0}}, 16, ErrEmptyClip},
		{"odd depth", sineClip(48000, 440, 8), 12, ErrBitDepth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Write(f, tt.clip, tt.depth), tt.wantErr)
		})
	}
}

func TestClipDuration(t *testing.T) {
	clip := &Clip{Samples: make([]float32, 48000), SampleRate: 48000}
	assert.Equal(t, time.Second, clip.Duration())

	assert.Equal(t, time.Duration(0), (&Clip{}).Duration())
}
