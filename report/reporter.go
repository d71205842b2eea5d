package report

import (
	"encoding/json"
	"time"

	"github.com/jonwraymond/toolflow/dispatch"
	"github.com/jonwraymond/toolflow/endpoint"
	"github.com/jonwraymond/toolflow/queue"
)

// Report is a point-in-time view of the core's reliability state. It is
// derived entirely from the tracker, scheduler, and dispatcher; it holds
// no independent state.
type Report struct {
	// GeneratedAt is when the snapshot was taken.
	GeneratedAt time.Time `json:"generated_at"`

	// Endpoints maps endpoint key to its current health.
	Endpoints map[string]endpoint.Health `json:"endpoints"`

	// Queue summarizes scheduler occupancy.
	Queue queue.Stats `json:"queue"`

	// Dispatch summarizes dispatcher activity.
	Dispatch dispatch.Stats `json:"dispatch"`

	// Degraded lists endpoint keys whose status is not healthy, sorted
	// into the report for quick triage.
	Degraded []string `json:"degraded,omitempty"`
}

// Reporter aggregates circuit breaker and dispatcher statistics.
type Reporter struct {
	tracker    *endpoint.Tracker
	scheduler  *queue.Scheduler
	dispatcher *dispatch.Dispatcher
}

// New creates a reporter. Any component may be nil; its section of the
// report stays zero.
func New(tracker *endpoint.Tracker, scheduler *queue.Scheduler, dispatcher *dispatch.Dispatcher) *Reporter {
	return &Reporter{
		tracker:    tracker,
		scheduler:  scheduler,
		dispatcher: dispatcher,
	}
}

// Snapshot builds the current report. Read-only: calling it twice without
// an intervening dispatch yields equal endpoint and queue sections.
func (r *Reporter) Snapshot() Report {
	rep := Report{GeneratedAt: time.Now()}

	if r.tracker != nil {
		rep.Endpoints = r.tracker.Snapshot()
		for _, key := range r.tracker.Keys() {
			if h := rep.Endpoints[key]; h.Status != endpoint.StatusHealthy {
				rep.Degraded = append(rep.Degraded, key)
			}
		}
	}
	if r.scheduler != nil {
		rep.Queue = r.scheduler.Stats()
	}
	if r.dispatcher != nil {
		rep.Dispatch = r.dispatcher.Stats()
	}
	return rep
}

// JSON renders the report for export.
func (r *Reporter) JSON() ([]byte, error) {
	return json.Marshal(r.Snapshot())
}
