package transfer

import (
	"sync"
	"time"
)

// SpeedWindowSamples is the number of 1-second samples averaged to
// smooth the reported transfer speed.
const SpeedWindowSamples = 10

// SpeedSampleInterval is how often Sample should be called while a
// session is InProgress.
const SpeedSampleInterval = time.Second

// Snapshot is an immutable read of a Progress at one instant.
type Snapshot struct {
	BytesTransferred int64
	TotalBytes       int64
	Percentage       float64
	Speed            float64 // bytes/sec, smoothed
	RemainingTime     time.Duration
	HasRemainingTime  bool
	StartTime        time.Time
	LastUpdateTime   time.Time
}

// Progress tracks bytes transferred and a smoothed transfer speed over
// a sliding window of SpeedWindowSamples one-second samples.
type Progress struct {
	mu sync.Mutex

	bytesTransferred int64
	totalBytes       int64
	startTime        time.Time
	lastUpdateTime   time.Time

	lastSampleBytes int64
	samples         []int64
}

// NewProgress constructs a Progress for a transfer of totalBytes, or an
// unknown total (0) until the peer's response supplies it.
func NewProgress(totalBytes int64) *Progress {
	now := time.Now()
	return &Progress{
		totalBytes:     totalBytes,
		startTime:      now,
		lastUpdateTime: now,
	}
}

// SetTotalBytes updates the total once it becomes known (inbound
// download transfers learn it from the peer's response, not the
// request).
func (p *Progress) SetTotalBytes(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalBytes = total
}

// Set records bytesTransferred, enforcing progress monotonicity: a
// smaller value than already recorded is ignored.
func (p *Progress) Set(bytesTransferred int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bytesTransferred < p.bytesTransferred {
		return
	}
	p.bytesTransferred = bytesTransferred
	p.lastUpdateTime = time.Now()
}

// Sample appends one 1-second delta sample and trims the window to the
// most recent SpeedWindowSamples. Call this once per SpeedSampleInterval
// while the owning session is InProgress.
func (p *Progress) Sample() {
	p.mu.Lock()
	defer p.mu.Unlock()

	delta := p.bytesTransferred - p.lastSampleBytes
	p.lastSampleBytes = p.bytesTransferred

	p.samples = append(p.samples, delta)
	if len(p.samples) > SpeedWindowSamples {
		p.samples = p.samples[len(p.samples)-SpeedWindowSamples:]
	}
}

func (p *Progress) speedLocked() float64 {
	if len(p.samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range p.samples {
		sum += s
	}
	return float64(sum) / float64(len(p.samples))
}

// Snapshot returns a consistent read of all derived fields.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		BytesTransferred: p.bytesTransferred,
		TotalBytes:       p.totalBytes,
		StartTime:        p.startTime,
		LastUpdateTime:   p.lastUpdateTime,
		Speed:            p.speedLocked(),
	}
	if p.totalBytes > 0 {
		snap.Percentage = 100 * float64(p.bytesTransferred) / float64(p.totalBytes)
	}
	if snap.Speed > 0 {
		remaining := float64(p.totalBytes-p.bytesTransferred) / snap.Speed
		if remaining < 0 {
			remaining = 0
		}
		snap.RemainingTime = time.Duration(remaining) * time.Second
		snap.HasRemainingTime = true
	}
	return snap
}
