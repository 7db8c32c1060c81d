// Package reliability keeps a bounded history of model attempts and derives
// success rates, fallback rates and a coarse health class from it.
package reliability

import (
	"sort"
	"sync"
	"time"

	"github.com/zen-systems/sitegen/pkg/logger"
)

const (
	DefaultCapacity = 1000
	// recommendWindow is how many recent records RecommendModel looks at.
	recommendWindow = 100
	// keepThreshold is the success rate above which the current model is kept.
	keepThreshold = 0.9
	// minRecommendSamples is the sample count a candidate needs to be recommended.
	minRecommendSamples = 5
	// minAvoidSamples is the sample count needed before ShouldAvoid may say yes.
	minAvoidSamples = 10
	// DefaultAvoidThreshold is the reliability below which a model is avoided.
	DefaultAvoidThreshold = 0.3
)

// Health classifies the overall fallback rate.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
	Critical Health = "critical"
)

// ClassifyHealth maps a fallback rate to a health class.
func ClassifyHealth(fallbackRate float64) Health {
	switch {
	case fallbackRate < 0.10:
		return Healthy
	case fallbackRate < 0.30:
		return Degraded
	default:
		return Critical
	}
}

// AttemptRecord is one completed call to a model.
type AttemptRecord struct {
	Model     string        `json:"model"`
	Task      string        `json:"task"`
	Timestamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"latency"`
	Cost      float64       `json:"cost"`
	Success   bool          `json:"success"`
	Reason    string        `json:"reason,omitempty"`
	// Fallback is set when the model was not the routed primary.
	Fallback bool `json:"fallback"`
}

// ModelStats aggregates attempts for one model.
type ModelStats struct {
	Requests    int           `json:"requests"`
	Successes   int           `json:"successes"`
	SuccessRate float64       `json:"success_rate"`
	MeanLatency time.Duration `json:"mean_latency"`
}

// Stats summarises a window of recent attempts.
type Stats struct {
	TotalRequests    int                   `json:"total_requests"`
	FallbackRequests int                   `json:"fallback_requests"`
	FallbackRate     float64               `json:"fallback_rate"`
	PerModel         map[string]ModelStats `json:"per_model"`
	Health           Health                `json:"health"`
}

// Tracker is a fixed-capacity ring buffer of attempt records. It is safe
// for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	buf    []AttemptRecord
	next   int
	full   bool
	logger logger.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCapacity sets the ring buffer size.
func WithCapacity(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.buf = make([]AttemptRecord, n)
		}
	}
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a tracker holding DefaultCapacity records.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		buf:    make([]AttemptRecord, DefaultCapacity),
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record appends rec, evicting the oldest record when full.
func (t *Tracker) Record(rec AttemptRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	t.mu.Lock()
	t.buf[t.next] = rec
	t.next = (t.next + 1) % len(t.buf)
	if t.next == 0 {
		t.full = true
	}
	t.mu.Unlock()

	if rec.Fallback {
		t.logger.Warn("fallback model used",
			"model", rec.Model, "task", rec.Task, "success", rec.Success, "reason", rec.Reason)
	}
}

// Len returns the number of records held.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lenLocked()
}

func (t *Tracker) lenLocked() int {
	if t.full {
		return len(t.buf)
	}
	return t.next
}

// recent returns up to n of the newest records, oldest first. n <= 0 means all.
func (t *Tracker) recent(n int) []AttemptRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	size := t.lenLocked()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]AttemptRecord, n)
	start := (t.next - n + len(t.buf)) % len(t.buf)
	for i := 0; i < n; i++ {
		out[i] = t.buf[(start+i)%len(t.buf)]
	}
	return out
}

// Stats summarises the newest window records; window <= 0 covers the whole buffer.
func (t *Tracker) Stats(window int) Stats {
	return summarise(t.recent(window))
}

func summarise(records []AttemptRecord) Stats {
	s := Stats{PerModel: make(map[string]ModelStats)}
	latency := make(map[string]time.Duration)
	for _, r := range records {
		s.TotalRequests++
		if r.Fallback {
			s.FallbackRequests++
		}
		ms := s.PerModel[r.Model]
		ms.Requests++
		if r.Success {
			ms.Successes++
		}
		s.PerModel[r.Model] = ms
		latency[r.Model] += r.Latency
	}
	for model, ms := range s.PerModel {
		ms.SuccessRate = float64(ms.Successes) / float64(ms.Requests)
		ms.MeanLatency = latency[model] / time.Duration(ms.Requests)
		s.PerModel[model] = ms
	}
	if s.TotalRequests > 0 {
		s.FallbackRate = float64(s.FallbackRequests) / float64(s.TotalRequests)
	}
	s.Health = ClassifyHealth(s.FallbackRate)
	return s
}

func filterTask(records []AttemptRecord, task string) []AttemptRecord {
	if task == "" {
		return records
	}
	out := records[:0:0]
	for _, r := range records {
		if r.Task == task {
			out = append(out, r)
		}
	}
	return out
}

// RecommendModel keeps current when its success rate over the newest 100
// records for task exceeds 0.9. Otherwise it returns the model with the best
// success rate among those with at least 5 samples, or current when none
// qualifies. An empty task considers every record.
func (t *Tracker) RecommendModel(task, current string) string {
	stats := summarise(filterTask(t.recent(recommendWindow), task))

	if ms, ok := stats.PerModel[current]; ok && ms.SuccessRate > keepThreshold {
		return current
	}

	models := make([]string, 0, len(stats.PerModel))
	for m := range stats.PerModel {
		models = append(models, m)
	}
	sort.Strings(models)

	best, bestRate := current, -1.0
	for _, m := range models {
		ms := stats.PerModel[m]
		if ms.Requests < minRecommendSamples {
			continue
		}
		if ms.SuccessRate > bestRate {
			best, bestRate = m, ms.SuccessRate
		}
	}
	return best
}

// ShouldAvoid reports whether model has at least 10 recorded attempts and a
// success rate below threshold. A threshold <= 0 uses DefaultAvoidThreshold.
func (t *Tracker) ShouldAvoid(model string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultAvoidThreshold
	}
	ms, ok := t.Stats(0).PerModel[model]
	if !ok || ms.Requests < minAvoidSamples {
		return false
	}
	return ms.SuccessRate < threshold
}

// Health classifies the fallback rate over the whole buffer.
func (t *Tracker) Health() Health {
	return t.Stats(0).Health
}
