package stream

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobstream_frames_total",
		Help: "Complete frames taken from the chunk buffer.",
	}, []string{"mode"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobstream_events_total",
		Help: "Parsed events applied to session state, by kind.",
	}, []string{"mode", "kind"})

	malformedFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobstream_malformed_frames_total",
		Help: "Frames whose payload was not a JSON object and was wrapped as text.",
	}, []string{"mode"})

	unknownEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobstream_unknown_events_total",
		Help: "Events with an unrecognized type or a non-object payload, dropped from state.",
	}, []string{"type"})

	unknownTypes = newLabelLimiter(maxUnknownTypeLabels)

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobstream_sessions_total",
		Help: "Finished stream sessions by outcome.",
	}, []string{"mode", "outcome"})

	sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobstream_session_duration_seconds",
		Help:    "Wall time from session start to terminal outcome.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"mode", "outcome"})
)

const (
	// maxUnknownTypeLabels bounds distinct values of the unknown type label.
	maxUnknownTypeLabels = 32
	// maxLabelLength is the longest wire value used as a label.
	maxLabelLength = 48
	// otherLabel replaces values outside the limits.
	otherLabel = "other"
)

// labelLimiter maps wire values to label values, capping cardinality.
type labelLimiter struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	limit int
}

func newLabelLimiter(limit int) *labelLimiter {
	return &labelLimiter{seen: make(map[string]struct{}), limit: limit}
}

// Label returns value once it has a slot, or "other" when it is too long,
// has characters outside [a-z0-9_.-], or every slot is taken.
func (l *labelLimiter) Label(value string) string {
	if value == "" || len(value) > maxLabelLength || !isLabelSafe(value) {
		return otherLabel
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[value]; ok {
		return value
	}
	if len(l.seen) >= l.limit {
		return otherLabel
	}
	l.seen[value] = struct{}{}
	return value
}

func isLabelSafe(value string) bool {
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
		default:
			return false
		}
	}
	return true
}
