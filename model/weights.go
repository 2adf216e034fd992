package model

import "fmt"

// weightCursor consumes a flat weight array in layout order. Builders
// take successive chunks and finish with done, which rejects files
// carrying leftover weights so a truncated or padded array is always
// detected.
type weightCursor struct {
	weights []float64
	pos     int
}

func newWeightCursor(weights []float64) *weightCursor {
	return &weightCursor{weights: weights}
}

// take returns the next n weights as a subslice of the backing array.
func (c *weightCursor) take(n int) ([]float64, error) {
	if n < 0 || c.pos+n > len(c.weights) {
		return nil, fmt.Errorf("%w: need %d more weights at offset %d, have %d",
			ErrWeightCount, n, c.pos, len(c.weights)-c.pos)
	}
	out := c.weights[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

// takeOne returns the next single weight.
func (c *weightCursor) takeOne() (float64, error) {
	w, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return w[0], nil
}

// done verifies the array was consumed exactly.
func (c *weightCursor) done() error {
	if rest := len(c.weights) - c.pos; rest != 0 {
		return fmt.Errorf("%w: %d unconsumed weights", ErrWeightCount, rest)
	}
	return nil
}
