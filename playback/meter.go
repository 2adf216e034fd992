package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/namcore/dsp"
)

// ErrAlreadyRunning is returned when starting a meter that is
// already reporting.
var ErrAlreadyRunning = errors.New("meter is already running")

// silenceFloorDB bounds reported levels from below so silence shows
// as a finite number instead of negative infinity.
const silenceFloorDB = -120.0

// LevelReport is one metering interval's summary.
type LevelReport struct {
	// PeakDB is the largest absolute sample in the interval, in dB.
	PeakDB float64

	// RMSDB is the interval's root mean square level, in dB.
	RMSDB float64

	// Frames is how many samples the interval covered.
	Frames uint64

	// Timestamp is when the report was taken.
	Timestamp time.Time
}

// LevelMeter accumulates peak and RMS levels from the audio thread
// and reports them periodically from its own goroutine.
//
// Observe is safe to call from the audio path: it only touches
// atomics and never locks, logs, or allocates. Reporting runs on the
// control plane.
//
// Example usage:
//
//	meter := NewLevelMeter(100 * time.Millisecond)
//	meter.OnReport(func(report LevelReport) {
//	    fmt.Printf("peak %.1f dB, rms %.1f dB\n", report.PeakDB, report.RMSDB)
//	})
//	meter.Start()
//	defer meter.Stop()
type LevelMeter struct {
	interval time.Duration

	peakBits atomic.Uint32
	sumSq    atomic.Uint64
	frames   atomic.Uint64

	mu       sync.Mutex
	running  bool
	callback func(report LevelReport)
	cancel   context.CancelFunc
}

// NewLevelMeter creates a meter reporting at the given interval.
func NewLevelMeter(interval time.Duration) *LevelMeter {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &LevelMeter{interval: interval}
}

// Observe folds one processed block into the running interval.
// Audio thread safe.
func (m *LevelMeter) Observe(buf []float32) {
	if len(buf) == 0 {
		return
	}

	var peak float32
	var sum float64
	for _, v := range buf {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
		sum += float64(v) * float64(v)
	}

	// Non-negative float32 values order the same as their bit
	// patterns, so a CAS max on the bits tracks the true peak.
	bits := math.Float32bits(peak)
	for {
		old := m.peakBits.Load()
		if bits <= old || m.peakBits.CompareAndSwap(old, bits) {
			break
		}
	}
	for {
		old := m.sumSq.Load()
		next := math.Float64bits(math.Float64frombits(old) + sum)
		if m.sumSq.CompareAndSwap(old, next) {
			break
		}
	}
	m.frames.Add(uint64(len(buf)))
}

// Snapshot returns the interval accumulated since the last snapshot
// and starts a fresh one.
func (m *LevelMeter) Snapshot() LevelReport {
	peak := float64(math.Float32frombits(m.peakBits.Swap(0)))
	sum := math.Float64frombits(m.sumSq.Swap(0))
	frames := m.frames.Swap(0)

	report := LevelReport{
		PeakDB:    silenceFloorDB,
		RMSDB:     silenceFloorDB,
		Frames:    frames,
		Timestamp: time.Now(),
	}
	if frames == 0 {
		return report
	}
	if db := dsp.LinearToDB(peak); db > silenceFloorDB {
		report.PeakDB = db
	}
	rms := math.Sqrt(sum / float64(frames))
	if db := dsp.LinearToDB(rms); db > silenceFloorDB {
		report.RMSDB = db
	}
	return report
}

// OnReport registers the callback invoked with each interval report.
func (m *LevelMeter) OnReport(callback func(report LevelReport)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = callback
}

// Start begins periodic reporting.
func (m *LevelMeter) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.reportLoop(ctx)

	logrus.WithFields(logrus.Fields{
		"function": "LevelMeter.Start",
		"interval": m.interval,
	}).Info("Level meter started")

	return nil
}

// Stop halts reporting. Observe remains safe to call; samples keep
// accumulating for a future Start or Snapshot.
func (m *LevelMeter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	m.cancel()

	logrus.WithFields(logrus.Fields{
		"function": "LevelMeter.Stop",
	}).Info("Level meter stopped")
}

// IsRunning reports whether the meter is reporting.
func (m *LevelMeter) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *LevelMeter) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := m.Snapshot()

			m.mu.Lock()
			callback := m.callback
			m.mu.Unlock()
			if callback != nil {
				callback(report)
			}
		}
	}
}
