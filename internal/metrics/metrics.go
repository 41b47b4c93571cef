// Package metrics collects per-node protocol observability data (spec.md
// §7 "Observability"): message counters, state-transition counters,
// session outcomes and rolling timing averages. Counter shape is grounded
// on ptp4u/stats/stats.go's syncMapInt64 (mutex-guarded map, copy-out
// snapshot); export is grounded on sptp/stats/prom_exporter.go
// (prometheus.Registry + promhttp handler). Rolling averages use
// eclesh/welford, the same library ptp/c4u/clock/math.go uses for
// offset statistics. Grounded on
// original_source/src/protocol/metrics.py's NodeMetrics.
package metrics

import (
	"strings"
	"sync"

	"github.com/eclesh/welford"
	"github.com/prometheus/client_golang/prometheus"
)

// syncCounterMap is a mutex-guarded map of named counters.
type syncCounterMap struct {
	mu sync.Mutex
	m  map[string]int64
}

func newSyncCounterMap() *syncCounterMap {
	return &syncCounterMap{m: make(map[string]int64)}
}

func (s *syncCounterMap) inc(key string, n int64) {
	s.mu.Lock()
	s.m[key] += n
	s.mu.Unlock()
}

func (s *syncCounterMap) snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

func (s *syncCounterMap) total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, v := range s.m {
		total += v
	}
	return total
}

// rollingAverage is a mutex-guarded welford accumulator.
type rollingAverage struct {
	mu sync.Mutex
	w  *welford.Stats
}

func newRollingAverage() *rollingAverage {
	return &rollingAverage{w: welford.New()}
}

func (r *rollingAverage) add(v float64) {
	r.mu.Lock()
	r.w.Add(v)
	r.mu.Unlock()
}

func (r *rollingAverage) mean() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w.Count() == 0 {
		return 0
	}
	return r.w.Mean()
}

func (r *rollingAverage) count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(r.w.Count())
}

// Collector holds every counter and running average a node's protocol
// stack reports (spec.md §7). One Collector per node.
type Collector struct {
	messagesSent      *syncCounterMap
	messagesReceived  *syncCounterMap
	messagesForwarded *syncCounterMap
	messagesDropped   *syncCounterMap

	consumerStateTransitions *syncCounterMap
	phStateTransitions       *syncCounterMap
	rrehStateTransitions     *syncCounterMap

	sessionsSuccessful int64
	sessionsFailed     int64
	sessionsTimeout    int64

	totalRetries         int64
	totalBlacklistEvents int64
	backoffDurations     *rollingAverage
	sessionDurations     *rollingAverage

	rrehSelections    int64
	platoonSelections int64
	detourCosts       *rollingAverage
	urgencyRatios     *rollingAverage
	queuePenalties    *rollingAverage

	mprSelections int64
	mprForwards   int64

	registry *prometheus.Registry
}

// New constructs an empty Collector backed by a fresh prometheus registry.
func New() *Collector {
	return &Collector{
		messagesSent:             newSyncCounterMap(),
		messagesReceived:         newSyncCounterMap(),
		messagesForwarded:        newSyncCounterMap(),
		messagesDropped:          newSyncCounterMap(),
		consumerStateTransitions: newSyncCounterMap(),
		phStateTransitions:       newSyncCounterMap(),
		rrehStateTransitions:     newSyncCounterMap(),
		backoffDurations:         newRollingAverage(),
		sessionDurations:         newRollingAverage(),
		detourCosts:              newRollingAverage(),
		urgencyRatios:            newRollingAverage(),
		queuePenalties:           newRollingAverage(),
		registry:                 prometheus.NewRegistry(),
	}
}

func (c *Collector) IncSent(msgType string)      { c.messagesSent.inc(strings.ToLower(msgType), 1) }
func (c *Collector) IncReceived(msgType string)  { c.messagesReceived.inc(strings.ToLower(msgType), 1) }
func (c *Collector) IncForwarded(msgType string) { c.messagesForwarded.inc(strings.ToLower(msgType), 1) }
func (c *Collector) IncDropped(msgType string)   { c.messagesDropped.inc(strings.ToLower(msgType), 1) }

func (c *Collector) IncConsumerState(state string) { c.consumerStateTransitions.inc(state, 1) }
func (c *Collector) IncPHState(state string)       { c.phStateTransitions.inc(state, 1) }
func (c *Collector) IncRREHState(state string)     { c.rrehStateTransitions.inc(state, 1) }

func (c *Collector) IncSessionSuccess() { atomicAdd(&c.sessionsSuccessful, 1) }
func (c *Collector) IncSessionFailed()  { atomicAdd(&c.sessionsFailed, 1) }
func (c *Collector) IncSessionTimeout() { atomicAdd(&c.sessionsTimeout, 1) }

func (c *Collector) IncRetry()          { atomicAdd(&c.totalRetries, 1) }
func (c *Collector) IncBlacklistEvent() { atomicAdd(&c.totalBlacklistEvents, 1) }

func (c *Collector) RecordBackoff(seconds float64)    { c.backoffDurations.add(seconds) }
func (c *Collector) RecordSession(seconds float64)    { c.sessionDurations.add(seconds) }
func (c *Collector) RecordDetourCost(kWh float64)     { c.detourCosts.add(kWh) }
func (c *Collector) RecordUrgencyRatio(ratio float64) { c.urgencyRatios.add(ratio) }
func (c *Collector) RecordQueuePenalty(v float64)     { c.queuePenalties.add(v) }

func (c *Collector) IncRREHSelection()    { atomicAdd(&c.rrehSelections, 1) }
func (c *Collector) IncPlatoonSelection() { atomicAdd(&c.platoonSelections, 1) }

func (c *Collector) IncMPRSelection() { atomicAdd(&c.mprSelections, 1) }
func (c *Collector) IncMPRForward()   { atomicAdd(&c.mprForwards, 1) }

// Registry returns the collector's prometheus registry, for serving
// `/metrics` via promhttp (spec.md §7 "Metrics export").
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// MessageSummary is the sent/received/forwarded/dropped breakdown for one
// direction, by message type.
type MessageSummary struct {
	ByType map[string]int64
	Total  int64
}

// Summary is a point-in-time snapshot of every metric (spec.md §7
// "get_metrics_summary").
type Summary struct {
	Sent, Received, Forwarded, Dropped MessageSummary

	ConsumerStateTransitions map[string]int64
	PHStateTransitions       map[string]int64
	RREHStateTransitions     map[string]int64

	SessionsSuccessful, SessionsFailed, SessionsTimeout, SessionsTotal int64
	AvgSessionDurationSec                                             float64

	TotalRetries, TotalBlacklistEvents int64
	AvgBackoffSec                      float64

	RREHSelections, PlatoonSelections int64
	AvgDetourCostKWh                  float64
	AvgUrgencyRatio                   float64
	AvgQueuePenalty                   float64

	MPRSelections, MPRForwards int64
}

func summarize(m *syncCounterMap) MessageSummary {
	snap := m.snapshot()
	return MessageSummary{ByType: snap, Total: m.total()}
}

// Summary returns a consistent snapshot of every counter and rolling
// average (spec.md §7 "get_metrics_summary").
func (c *Collector) Summary() Summary {
	successful, failed, timeout := atomicLoad(&c.sessionsSuccessful), atomicLoad(&c.sessionsFailed), atomicLoad(&c.sessionsTimeout)
	return Summary{
		Sent:      summarize(c.messagesSent),
		Received:  summarize(c.messagesReceived),
		Forwarded: summarize(c.messagesForwarded),
		Dropped:   summarize(c.messagesDropped),

		ConsumerStateTransitions: c.consumerStateTransitions.snapshot(),
		PHStateTransitions:       c.phStateTransitions.snapshot(),
		RREHStateTransitions:     c.rrehStateTransitions.snapshot(),

		SessionsSuccessful:     successful,
		SessionsFailed:         failed,
		SessionsTimeout:        timeout,
		SessionsTotal:          successful + failed + timeout,
		AvgSessionDurationSec:  c.sessionDurations.mean(),

		TotalRetries:         atomicLoad(&c.totalRetries),
		TotalBlacklistEvents: atomicLoad(&c.totalBlacklistEvents),
		AvgBackoffSec:        c.backoffDurations.mean(),

		RREHSelections:    atomicLoad(&c.rrehSelections),
		PlatoonSelections: atomicLoad(&c.platoonSelections),
		AvgDetourCostKWh:  c.detourCosts.mean(),
		AvgUrgencyRatio:   c.urgencyRatios.mean(),
		AvgQueuePenalty:   c.queuePenalties.mean(),

		MPRSelections: atomicLoad(&c.mprSelections),
		MPRForwards:   atomicLoad(&c.mprForwards),
	}
}
