// Package layerc implements Layer C charging coordination: the
// Consumer, PlatoonHead and RREH state machines and the provider
// selection logic that drives the Consumer's JOIN_OFFER choice
// (spec.md §4.6). Grounded on
// original_source/src/protocol/layer_c/{consumer_handler,
// efficiency_calc,platoon_head_handler,rreh_handler,role_manager}.py.
package layerc

import (
	"math"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
)

// Evaluation is the scored result of comparing one provider against the
// direct-to-destination cost, grounded on efficiency_calc.py's
// ProviderEvaluation.
type Evaluation struct {
	Provider           model.ProviderEntry
	DirectCostKWh      float64
	ProviderCostKWh    float64
	DetourCostKWh      float64
	DetourPct          float64
	RouteAlignment     float64
	IsRREH             bool
	IsRecommended      bool
	EffectiveThreshold float64
	UrgencyRatio       float64
	QueueTimeSec       float64
	QueuePenaltyKWh    float64
	TotalCostKWh       float64
}

// Evaluator scores candidate providers for one Consumer against its
// current position, destination and battery state.
type Evaluator struct {
	ctx *mvccp.Context
}

// NewEvaluator wires an Evaluator to ctx.
func NewEvaluator(ctx *mvccp.Context) *Evaluator {
	return &Evaluator{ctx: ctx}
}

// UrgencyRatio is distance-the-battery-can-still-cover divided by
// distance-to-destination: < 1.0 means the node cannot reach its
// destination unassisted (spec.md §4.6 "urgency ratio"). Returns 0 if no
// destination is set, +Inf if already at the destination.
func (e *Evaluator) UrgencyRatio() float64 {
	n := e.ctx.Node
	if n.Destination == nil {
		return 0
	}
	distanceToEmptyKM := n.Battery.CurrentKWh / e.ctx.Cfg.EnergyConsumptionRate
	distanceToDestKM := model.EuclideanDistanceKM(n.Kinematics.Position, *n.Destination, e.ctx.Cfg.KMPerDegree)
	if distanceToDestKM < config.FloatEpsilon {
		return math.Inf(1)
	}
	return distanceToEmptyKM / distanceToDestKM
}

// DynamicThreshold scales the RREH-preference detour threshold with
// battery urgency: critical batteries get the widest threshold
// (ThresholdCrit), low ones ThresholdLow, and healthy batteries hold to
// the standard ThresholdHealthy (spec.md §4.6 "dynamic
// threshold").
func (e *Evaluator) DynamicThreshold() float64 {
	urgency := e.UrgencyRatio()
	cfg := e.ctx.Cfg
	switch {
	case urgency < cfg.UrgencyCritical:
		return cfg.ThresholdCrit
	case urgency < cfg.UrgencyLow:
		return cfg.ThresholdLow
	default:
		return cfg.ThresholdHealthy
	}
}

// DirectCostKWh is the energy to reach the destination without any
// charging stop.
func (e *Evaluator) DirectCostKWh() float64 {
	return e.ctx.EnergyToDestinationKWh()
}

// ProviderCostKWh is the energy to reach the destination by way of
// provider's position (spec.md §4.6 "provider_cost").
func (e *Evaluator) ProviderCostKWh(provider model.ProviderEntry) float64 {
	n := e.ctx.Node
	if n.Destination == nil {
		return 0
	}
	toProvider := e.ctx.EnergyToKWh(provider.Position)
	providerToDest := e.ctx.EnergyBetweenKWh(provider.Position, *n.Destination)
	return toProvider + providerToDest
}

// RouteAlignment is the dot product of the consumer's and provider's
// normalized direction vectors, (-1..1), 0 if either is stationary
// (spec.md §4.6 "route alignment").
func (e *Evaluator) RouteAlignment(provider model.ProviderEntry) float64 {
	cx, cy := e.ctx.Node.DirectionVector()
	px, py := provider.Direction[0], provider.Direction[1]
	if (cx == 0 && cy == 0) || (px == 0 && py == 0) {
		return 0
	}
	return cx*px + cy*py
}

// Evaluate scores a single provider (spec.md §4.6 "evaluate_provider").
func (e *Evaluator) Evaluate(provider model.ProviderEntry) Evaluation {
	directCost := e.DirectCostKWh()
	providerCost := e.ProviderCostKWh(provider)
	detourCost := providerCost - directCost

	var detourPct float64
	switch {
	case directCost > 0:
		detourPct = detourCost / directCost
	case detourCost <= 0:
		detourPct = 0
	default:
		detourPct = math.Inf(1)
	}

	threshold := e.DynamicThreshold()
	urgency := e.UrgencyRatio()
	isRREH := provider.IsRREH()
	isRecommended := isRREH && detourPct <= threshold

	queueTime := 0.0
	if isRREH {
		queueTime = provider.QueueTimeSec
	}
	queuePenalty := queueTime * e.ctx.Cfg.QueueTimeWeight

	return Evaluation{
		Provider:           provider,
		DirectCostKWh:      directCost,
		ProviderCostKWh:    providerCost,
		DetourCostKWh:      detourCost,
		DetourPct:          detourPct,
		RouteAlignment:     e.RouteAlignment(provider),
		IsRREH:             isRREH,
		IsRecommended:      isRecommended,
		EffectiveThreshold: threshold,
		UrgencyRatio:       urgency,
		QueueTimeSec:       queueTime,
		QueuePenaltyKWh:    queuePenalty,
		TotalCostKWh:       detourCost + queuePenalty,
	}
}

// EvaluateAll scores every provider with capacity that passes filter,
// sorted recommended-first then by ascending total cost (spec.md §4.6
// "evaluate_all_providers"). filter may be nil to include everything.
func (e *Evaluator) EvaluateAll(filter func(model.ProviderEntry) bool) []Evaluation {
	providers := e.ctx.ProviderTable.WithCapacity(e.ctx.CurrentTime)
	out := make([]Evaluation, 0, len(providers))
	for _, p := range providers {
		if filter != nil && !filter(p) {
			continue
		}
		out = append(out, e.Evaluate(p))
	}
	sortEvaluations(out)
	return out
}

func sortEvaluations(evals []Evaluation) {
	for i := 1; i < len(evals); i++ {
		for j := i; j > 0 && less(evals[j], evals[j-1]); j-- {
			evals[j], evals[j-1] = evals[j-1], evals[j]
		}
	}
}

func less(a, b Evaluation) bool {
	if a.IsRecommended != b.IsRecommended {
		return a.IsRecommended
	}
	return a.TotalCostKWh < b.TotalCostKWh
}

// SelectBest applies the RREH-vs-platoon decision with dynamic threshold
// and critical-battery fallback (spec.md §4.6 "select_best_provider").
// Returns false if no provider is available.
func (e *Evaluator) SelectBest(filter func(model.ProviderEntry) bool) (Evaluation, bool) {
	evals := e.EvaluateAll(filter)
	if len(evals) == 0 {
		return Evaluation{}, false
	}

	var bestRREH, bestPlatoon *Evaluation
	for i := range evals {
		ev := &evals[i]
		if ev.IsRREH {
			if bestRREH == nil || ev.TotalCostKWh < bestRREH.TotalCostKWh {
				bestRREH = ev
			}
		} else if bestPlatoon == nil || ev.TotalCostKWh < bestPlatoon.TotalCostKWh {
			bestPlatoon = ev
		}
	}

	if bestRREH == nil {
		return *bestPlatoon, true
	}
	if bestPlatoon == nil {
		return *bestRREH, true
	}

	directCost := e.DirectCostKWh()
	threshold := e.DynamicThreshold()
	if directCost > 0 && bestRREH.DetourCostKWh/directCost <= threshold {
		return *bestRREH, true
	}
	if bestPlatoon.TotalCostKWh < bestRREH.TotalCostKWh {
		return *bestPlatoon, true
	}
	if e.UrgencyRatio() < e.ctx.Cfg.UrgencyCritical {
		return *bestPlatoon, true
	}
	return *bestRREH, true
}
