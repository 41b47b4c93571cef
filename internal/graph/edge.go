// Package graph models the intra-platoon energy-transfer graph: pairwise
// wireless charging edges (spec.md §4.7 "edge model") and the
// backwards-Dijkstra routing and formation optimization built on top of
// it (spec.md §4.7 "formation optimizer"). Grounded on
// original_source/src/core/edge.py and src/core/platoon.py.
package graph

import (
	"math"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
)

// Edge is a directed wireless charging link from Source to Destination.
// Efficiency follows an inverse-square distance model combined with a
// hardware-ratio term; Cost is the weighted sum Dijkstra minimizes.
type Edge struct {
	Source, Destination model.NodeID
	DistanceM            float64

	HardwareEfficiency float64
	DistanceEfficiency float64
	TransferEfficiency float64

	EnergyLossKWh         float64
	ExpectedTransferTimeS float64
	Cost                  float64

	cfg *config.Config
}

// NewEdge builds an edge from source to destination at distanceM meters,
// deriving hardware and distance efficiency and an initial cost.
func NewEdge(source, destination model.NodeID, sourceMaxOutKW, destMaxInKW, distanceM float64, cfg *config.Config) *Edge {
	e := &Edge{
		Source:      source,
		Destination: destination,
		DistanceM:   distanceM,
		cfg:         cfg,
	}
	e.HardwareEfficiency = hardwareEfficiency(sourceMaxOutKW, destMaxInKW)
	e.DistanceEfficiency = distanceEfficiency(distanceM, cfg)
	e.TransferEfficiency = e.HardwareEfficiency * e.DistanceEfficiency
	e.Cost = e.calculateCost()
	return e
}

func hardwareEfficiency(sourceOutKW, destInKW float64) float64 {
	if sourceOutKW <= 0 || destInKW <= 0 {
		return 0
	}
	eff := destInKW / math.Max(sourceOutKW, destInKW)
	if eff < 0 {
		return 0
	}
	if eff > 1 {
		return 1
	}
	return eff
}

// distanceEfficiency is the inverse-square falloff 1/(1+scale*d^2),
// clamped to zero beyond max range or below the minimum useful
// efficiency (spec.md §4.7 edge efficiency model).
func distanceEfficiency(distanceM float64, cfg *config.Config) float64 {
	if distanceM <= 0 {
		return 1.0
	}
	if distanceM > cfg.EdgeMaxRangeM {
		return 0
	}
	eff := 1.0 / (1.0 + cfg.EdgeEfficiencyScale*distanceM*distanceM)
	if eff < cfg.EdgeMinEfficiency {
		return 0
	}
	return eff
}

// UpdateDistance recomputes distance/transfer efficiency and cost for a
// new physical separation, e.g. after a formation update.
func (e *Edge) UpdateDistance(distanceM float64) float64 {
	e.DistanceM = distanceM
	e.DistanceEfficiency = distanceEfficiency(distanceM, e.cfg)
	e.TransferEfficiency = e.HardwareEfficiency * e.DistanceEfficiency
	e.Cost = e.calculateCost()
	return e.TransferEfficiency
}

// UpdateExpectedTransferTime computes the time to move requestedEnergyKWh
// across this edge at its current efficiency, and refreshes Cost.
func (e *Edge) UpdateExpectedTransferTime(requestedEnergyKWh, sourceMaxOutKW, destMaxInKW float64) float64 {
	maxPowerKW := math.Min(sourceMaxOutKW, destMaxInKW)
	if maxPowerKW <= config.FloatEpsilon || e.TransferEfficiency <= 0 {
		e.ExpectedTransferTimeS = math.Inf(1)
		e.Cost = e.calculateCost()
		return e.ExpectedTransferTimeS
	}
	effectivePowerKW := maxPowerKW * e.TransferEfficiency
	e.ExpectedTransferTimeS = (requestedEnergyKWh / effectivePowerKW) * 3600.0

	requiredKWh := requestedEnergyKWh / math.Max(e.TransferEfficiency, config.FloatEpsilon)
	e.EnergyLossKWh = requiredKWh - requestedEnergyKWh

	e.Cost = e.calculateCost()
	return e.ExpectedTransferTimeS
}

func (e *Edge) calculateCost() float64 {
	normalizedDistance := e.DistanceM / math.Max(e.cfg.EdgeMaxRangeM, 1.0)
	efficiencyPenalty := 1.0 - e.TransferEfficiency

	var normalizedTime float64
	if math.IsInf(e.ExpectedTransferTimeS, 1) {
		normalizedTime = 1.0
	} else {
		normalizedTime = math.Min(e.ExpectedTransferTimeS/300.0, 1.0)
	}

	return e.cfg.EdgeWeightDistance*normalizedDistance +
		e.cfg.EdgeWeightLoss*efficiencyPenalty +
		e.cfg.EdgeWeightTime*normalizedTime
}

// IsUsable reports whether transfer efficiency clears the configured
// minimum (spec.md §4.7 "edge usability").
func (e *Edge) IsUsable() bool {
	return e.TransferEfficiency >= e.cfg.EdgeMinEfficiency
}

// MaxTransferRateKW returns the effective transfer power through this
// edge, after efficiency losses.
func (e *Edge) MaxTransferRateKW(sourceMaxOutKW, destMaxInKW float64) float64 {
	return math.Min(sourceMaxOutKW, destMaxInKW) * e.TransferEfficiency
}
