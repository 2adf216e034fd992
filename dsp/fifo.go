package dsp

// FIFO32 is a fixed-capacity float32 sample queue used to bridge
// paths whose production and consumption counts jitter around each
// other, such as a resampled model chain feeding fixed-size host
// buffers. All methods are allocation-free after Init; overflow drops
// the newest samples rather than growing.
type FIFO32 struct {
	buf  []float32
	head int
	size int
}

// Init sizes the queue and clears it. Control plane only.
func (f *FIFO32) Init(capacity int) {
	if cap(f.buf) < capacity {
		f.buf = make([]float32, capacity)
	} else {
		f.buf = f.buf[:capacity]
	}
	f.head = 0
	f.size = 0
}

// Len returns the number of queued samples.
func (f *FIFO32) Len() int { return f.size }

// Push appends src, dropping samples once the queue is full.
func (f *FIFO32) Push(src []float32) {
	for _, v := range src {
		if f.size == len(f.buf) {
			return
		}
		f.buf[(f.head+f.size)%len(f.buf)] = v
		f.size++
	}
}

// PushZeros appends n samples of silence, typically to prime the
// queue so later pops never underrun.
func (f *FIFO32) PushZeros(n int) {
	for i := 0; i < n; i++ {
		if f.size == len(f.buf) {
			return
		}
		f.buf[(f.head+f.size)%len(f.buf)] = 0
		f.size++
	}
}

// Pop fills dst from the oldest samples, writing silence for any
// shortfall, and returns how many real samples were delivered.
func (f *FIFO32) Pop(dst []float32) int {
	n := len(dst)
	if n > f.size {
		n = f.size
	}
	for i := 0; i < n; i++ {
		dst[i] = f.buf[f.head]
		f.head++
		if f.head == len(f.buf) {
			f.head = 0
		}
	}
	f.size -= n
	Zero(dst[n:])
	return n
}
