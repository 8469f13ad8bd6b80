package ui

import (
	"sync"
	"time"

	"github.com/Aman-CERP/indexsync/internal/async"
)

const (
	// speedWindow is the minimum gap between speed samples.
	speedWindow = 500 * time.Millisecond
	// etaSmoothing is the weight of a fresh ETA against the previous one.
	etaSmoothing = 0.3
)

// SpeedStats are entity throughput figures in entities per second.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// Tracker derives speed and ETA from successive snapshots. It is safe for
// concurrent use.
type Tracker struct {
	mu        sync.Mutex
	last      async.Snapshot
	stage     string
	stageAt   time.Time
	sampledAt time.Time
	sampled   int64
	speed     SpeedStats
	samples   int
	eta       time.Duration
	sparkline *Sparkline
	now       func() time.Time
}

// NewTracker creates a tracker.
func NewTracker() *Tracker {
	return newTrackerAt(time.Now)
}

func newTrackerAt(now func() time.Time) *Tracker {
	t := now()
	return &Tracker{
		stageAt:   t,
		sampledAt: t,
		sparkline: NewSparkline(60),
		now:       now,
	}
}

// Observe records a snapshot.
func (t *Tracker) Observe(snap async.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if snap.Stage != t.stage {
		t.stage = snap.Stage
		t.stageAt = now
		t.eta = 0
	}
	t.last = snap

	elapsed := now.Sub(t.sampledAt)
	if elapsed < speedWindow {
		return
	}
	delta := snap.EntitiesLoaded - t.sampled
	if delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		t.speed.Current = speed
		t.samples++
		if t.samples == 1 {
			t.speed.Avg = speed
		} else {
			t.speed.Avg = 0.2*speed + 0.8*t.speed.Avg
		}
		if speed > t.speed.Peak {
			t.speed.Peak = speed
		}
		t.sparkline.Add(speed)
	} else {
		t.speed.Current = 0
	}
	t.sampled = snap.EntitiesLoaded
	t.sampledAt = now
}

// Last returns the most recent snapshot.
func (t *Tracker) Last() async.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Fraction returns loaded/total clamped to [0, 1].
func (t *Tracker) Fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fraction(t.last)
}

func fraction(s async.Snapshot) float64 {
	if s.EntitiesTotal <= 0 {
		return 0
	}
	f := float64(s.EntitiesLoaded) / float64(s.EntitiesTotal)
	if f > 1 {
		return 1
	}
	return f
}

// Speed returns the current throughput figures.
func (t *Tracker) Speed() SpeedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speed
}

// ETA estimates the remaining load time, smoothed across calls.
func (t *Tracker) ETA() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := fraction(t.last)
	if f <= 0 || f >= 1 {
		return 0
	}
	elapsed := t.now().Sub(t.stageAt)
	raw := time.Duration(float64(elapsed)/f) - elapsed
	if raw < 0 {
		return 0
	}
	if t.eta == 0 {
		t.eta = raw
		return raw
	}
	t.eta = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(t.eta))
	return t.eta
}

// Sparkline renders recent throughput at the given width.
func (t *Tracker) Sparkline(width int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sparkline.RenderWidth(width)
}
