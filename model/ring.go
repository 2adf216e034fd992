package model

// ringF64 is a fixed-capacity float64 ring buffer for bridging
// caller block sizes onto the FFT engine's internal hop. All methods
// run allocation-free after init; overflow drops the newest samples
// rather than growing, so a misbehaving caller degrades instead of
// allocating on the audio thread.
type ringF64 struct {
	buf  []float64
	head int
	size int
}

func (r *ringF64) init(capacity int) {
	if cap(r.buf) < capacity {
		r.buf = make([]float64, capacity)
	} else {
		r.buf = r.buf[:capacity]
	}
	r.head = 0
	r.size = 0
}

func (r *ringF64) length() int { return r.size }

func (r *ringF64) pushOne(v float64) {
	if r.size == len(r.buf) {
		return
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
}

func (r *ringF64) push(src []float64) {
	for _, v := range src {
		r.pushOne(v)
	}
}

func (r *ringF64) pushF32(src []float32) {
	for _, v := range src {
		r.pushOne(float64(v))
	}
}

func (r *ringF64) pushZeros(n int) {
	for i := 0; i < n; i++ {
		r.pushOne(0)
	}
}

// pop fills dst from the oldest samples and returns how many were
// available; the remainder of dst is untouched.
func (r *ringF64) pop(dst []float64) int {
	n := len(dst)
	if n > r.size {
		n = r.size
	}
	for i := 0; i < n; i++ {
		dst[i] = r.buf[r.head]
		r.head++
		if r.head == len(r.buf) {
			r.head = 0
		}
	}
	r.size -= n
	return n
}

// popOneInto writes the oldest sample plus bias to dst as float32,
// or silence when the ring is empty.
func (r *ringF64) popOneInto(dst *float32, bias float64) {
	if r.size == 0 {
		*dst = 0
		return
	}
	*dst = float32(r.buf[r.head] + bias)
	r.head++
	if r.head == len(r.buf) {
		r.head = 0
	}
	r.size--
}
