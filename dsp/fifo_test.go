package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFO32PushPop(t *testing.T) {
	var f FIFO32
	f.Init(8)

	f.Push([]float32{1, 2, 3})
	require.Equal(t, 3, f.Len())

	dst := make([]float32, 2)
	assert.Equal(t, 2, f.Pop(dst))
	assert.Equal(t, []float32{1, 2}, dst)
	assert.Equal(t, 1, f.Len())
}

func TestFIFO32ShortfallIsSilence(t *testing.T) {
	var f FIFO32
	f.Init(4)
	f.Push([]float32{0.5})

	dst := []float32{9, 9, 9}
	assert.Equal(t, 1, f.Pop(dst))
	assert.Equal(t, []float32{0.5, 0, 0}, dst)
}

func TestFIFO32Wraparound(t *testing.T) {
	var f FIFO32
	f.Init(4)

	f.Push([]float32{1, 2, 3})
	dst := make([]float32, 2)
	f.Pop(dst)
	f.Push([]float32{4, 5, 6})

	out := make([]float32, 4)
	assert.Equal(t, 4, f.Pop(out))
	assert.Equal(t, []float32{3, 4, 5, 6}, out)
}

func TestFIFO32OverflowDropsNewest(t *testing.T) {
	var f FIFO32
	f.Init(3)

	f.Push([]float32{1, 2, 3, 4, 5})
	require.Equal(t, 3, f.Len())

	out := make([]float32, 3)
	f.Pop(out)
	assert.Equal(t, []float32{1, 2, 3}, out)
}

func TestFIFO32PushZeros(t *testing.T) {
	var f FIFO32
	f.Init(4)
	f.PushZeros(2)
	f.Push([]float32{7})

	out := make([]float32, 3)
	assert.Equal(t, 3, f.Pop(out))
	assert.Equal(t, []float32{0, 0, 7}, out)
}
