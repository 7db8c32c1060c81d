package router

import "time"

// Priority selects which static table a route is drawn from.
type Priority string

const (
	PriorityQuality Priority = "quality"
	PrioritySpeed   Priority = "speed"
	PriorityCost    Priority = "cost"
)

// ParsePriority maps a string to a Priority, defaulting to quality.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PrioritySpeed:
		return PrioritySpeed
	case PriorityCost:
		return PriorityCost
	default:
		return PriorityQuality
	}
}

// Context is the part of a generation request that influences routing.
type Context struct {
	Industry string `json:"industry,omitempty"`
}

// RouteOptions tunes a single Route call.
type RouteOptions struct {
	Priority Priority `json:"priority,omitempty"`
	// Avoid lists models the caller does not want as primary.
	Avoid []string `json:"avoid,omitempty"`
}

// Selection is the outcome of one routing decision. Callers must treat it
// as read-only.
type Selection struct {
	Task             string        `json:"task"`
	Priority         Priority      `json:"priority"`
	Primary          string        `json:"primary"`
	Fallbacks        []string      `json:"fallbacks,omitempty"`
	EstimatedCost    float64       `json:"estimated_cost"`
	EstimatedLatency time.Duration `json:"estimated_latency"`
	Reasons          []string      `json:"reasons,omitempty"`
}

// Candidates returns the primary followed by the fallbacks.
func (s Selection) Candidates() []string {
	out := make([]string, 0, 1+len(s.Fallbacks))
	out = append(out, s.Primary)
	return append(out, s.Fallbacks...)
}
