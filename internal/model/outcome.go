package model

type OutcomeKind string

const (
	OutcomeMetrics OutcomeKind = "metrics"
	OutcomeState   OutcomeKind = "state"
)

// ScrapeOutcome is the unit consumed by the dispatcher. Exactly one of Metrics or State is meaningful,
// selected by Kind.
type ScrapeOutcome struct {
	Kind    OutcomeKind
	Job     string
	Metrics []Metric
	State   []StateEntry
}

func MetricsOutcome(job string, metrics []Metric) ScrapeOutcome {
	return ScrapeOutcome{Kind: OutcomeMetrics, Job: job, Metrics: metrics}
}

func StateOutcome(job string, entries []StateEntry) ScrapeOutcome {
	return ScrapeOutcome{Kind: OutcomeState, Job: job, State: entries}
}

func (o ScrapeOutcome) Len() int {
	if o.Kind == OutcomeState {
		return len(o.State)
	}
	return len(o.Metrics)
}
