// Package config holds the tunable protocol constants for MVCCP.
//
// Defaults mirror the values in spec.md; they can be overridden from a yaml
// file for experimentation (e.g. tightening the OLSR weights or relaxing
// platoon formation constraints for a scenario).
//
// Every timing field is expressed in simulation seconds (float64), not
// time.Duration — the core never touches the wall clock (spec.md §6
// "Clock"), so there is no wall-clock unit to convert to or from.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// TTLMode selects how the effective TTL for outgoing PA messages is derived.
type TTLMode string

const (
	// TTLModeFixed always uses BaseTTL (spec.md default behavior).
	TTLModeFixed TTLMode = "fixed"
	// TTLModeDensityBased scales TTL down in dense neighborhoods
	// (SPEC_FULL.md supplemented feature, grounded on
	// original_source/src/protocol/context.py get_effective_ttl).
	TTLModeDensityBased TTLMode = "density"
)

// OLSRWeights is the QoS score weighting used by MPR selection (spec.md §4.4).
type OLSRWeights struct {
	Battery     float64 `yaml:"battery"`
	ETX         float64 `yaml:"etx"`
	Delay       float64 `yaml:"delay"`
	Mobility    float64 `yaml:"mobility"`
	Willingness float64 `yaml:"willingness"`
	Congestion  float64 `yaml:"congestion"`
	Stability   float64 `yaml:"stability"`
}

// Sum returns the sum of all weight components.
func (w OLSRWeights) Sum() float64 {
	return w.Battery + w.ETX + w.Delay + w.Mobility + w.Willingness + w.Congestion + w.Stability
}

// Config is the full set of tunable protocol constants.
type Config struct {
	// Timeouts / intervals, in simulation seconds.
	NeighborTimeout     float64 `yaml:"neighbor_timeout"`
	PruneInterval       float64 `yaml:"prune_interval"`
	HelloInterval       float64 `yaml:"hello_interval"`
	PAInterval          float64 `yaml:"pa_interval"`
	BeaconInterval      float64 `yaml:"beacon_interval"`
	GridStatusInterval  float64 `yaml:"grid_status_interval"`
	ProviderTimeout     float64 `yaml:"provider_timeout"`
	PlatoonEntryTimeout float64 `yaml:"platoon_entry_timeout"`
	PlatoonMemberTO     float64 `yaml:"platoon_member_timeout"`
	BeaconTimeout       float64 `yaml:"beacon_timeout"`
	StatusInterval      float64 `yaml:"status_interval"`
	PlatoonAnnounceIntv float64 `yaml:"platoon_announce_interval"`
	FormationInterval   float64 `yaml:"formation_update_interval"`

	// Handshake timeouts
	TAccept   float64 `yaml:"t_accept"`
	TAckAck   float64 `yaml:"t_ackack"`
	TAck      float64 `yaml:"t_ack"`
	TPHOffer  float64 `yaml:"t_ph_offer_window"`
	TRREHOfer float64 `yaml:"t_rreh_offer_window"`

	// OLSR
	OLSRWeights OLSRWeights `yaml:"olsr_weights"`

	// TTL
	TTLMode TTLMode `yaml:"ttl_mode"`
	BaseTTL uint8   `yaml:"base_ttl"`
	TTLMin  uint8   `yaml:"ttl_min"`
	TTLMax  uint8   `yaml:"ttl_max"`
	PATTL   uint8   `yaml:"pa_ttl"`
	PAnnTTL uint8   `yaml:"platoon_announce_ttl"`
	StatusT uint8   `yaml:"status_ttl"`

	// Retry / backoff
	RetryBaseDelay  float64 `yaml:"retry_base_delay"`
	RetryMaxJitter  float64 `yaml:"retry_max_jitter"`
	RetryMaxRetries int     `yaml:"retry_max_retries"`
	BlacklistTTL    float64 `yaml:"blacklist_duration"`

	// Urgency-based provider selection
	UrgencyCritical  float64 `yaml:"urgency_critical"`
	UrgencyLow       float64 `yaml:"urgency_low"`
	ThresholdCrit    float64 `yaml:"threshold_critical"`
	ThresholdLow     float64 `yaml:"threshold_low"`
	ThresholdHealthy float64 `yaml:"threshold_healthy"`

	// RREH queue model
	RREHAvgSession    float64 `yaml:"rreh_avg_session_duration"`
	QueueTimeWeight   float64 `yaml:"queue_time_weight"`
	MaxAcceptableQue  float64 `yaml:"max_acceptable_queue_time"`
	RREHDefaultMaxSes int     `yaml:"rreh_default_max_sessions"`

	// Role thresholds
	PHEnergyThresholdPct float64 `yaml:"ph_energy_threshold_percent"`
	PHWillingnessThresh  int     `yaml:"ph_willingness_threshold"`

	// Edge / formation model
	EdgeEfficiencyScale float64 `yaml:"edge_efficiency_scale"`
	EdgeMaxRangeM       float64 `yaml:"edge_max_range_m"`
	EdgeMinEfficiency   float64 `yaml:"edge_min_efficiency"`
	EdgeWeightDistance  float64 `yaml:"edge_weight_distance"`
	EdgeWeightLoss      float64 `yaml:"edge_weight_energy_loss"`
	EdgeWeightTime      float64 `yaml:"edge_weight_time"`
	FormationMinDist    float64 `yaml:"formation_min_distance"`
	FormationMaxLateral float64 `yaml:"formation_max_lateral"`
	FormationMaxLong    float64 `yaml:"formation_max_longitudinal"`
	FormationMaxPasses  int     `yaml:"formation_max_passes"`

	// Platoon scoring (inter-platoon discovery)
	PlatoonScoreDirection float64 `yaml:"platoon_score_direction"`
	PlatoonScoreDistance  float64 `yaml:"platoon_score_distance"`
	PlatoonScoreEnergy    float64 `yaml:"platoon_score_energy"`

	// Energy model
	EnergyConsumptionRate float64 `yaml:"energy_consumption_rate"`
	KMPerDegree           float64 `yaml:"km_per_degree"`

	// Caps
	MaxSeenMessages  int `yaml:"max_seen_messages"`
	MaxPendingOffers int `yaml:"max_pending_offers"`
	PlatoonMaxSize   int `yaml:"platoon_max_size"`

	// Default node attributes used when an attribute is absent from a HELLO.
	DefaultBatteryCapacityKWh float64 `yaml:"default_battery_capacity_kwh"`
	DefaultBatteryEnergyKWh   float64 `yaml:"default_battery_energy_kwh"`
	DefaultMinEnergyKWh       float64 `yaml:"default_min_energy_kwh"`
	DefaultMaxTransferInKW    float64 `yaml:"default_max_transfer_rate_in"`
	DefaultMaxTransferOutKW   float64 `yaml:"default_max_transfer_rate_out"`
	DefaultWillingness        int     `yaml:"default_willingness"`
	DefaultLaneWeight         float64 `yaml:"default_lane_weight"`
	DefaultLinkStability      float64 `yaml:"default_link_stability"`
	DefaultETX                float64 `yaml:"default_etx"`
}

// FloatEpsilon is used throughout the core to avoid division-by-zero noise.
const FloatEpsilon = 1e-9

// Default returns the spec.md-compliant default configuration.
func Default() *Config {
	return &Config{
		NeighborTimeout:     5,
		PruneInterval:       1,
		HelloInterval:       1,
		PAInterval:          5,
		BeaconInterval:      2,
		GridStatusInterval:  10,
		ProviderTimeout:     10,
		PlatoonEntryTimeout: 15,
		PlatoonMemberTO:     10,
		BeaconTimeout:       5,
		StatusInterval:      1,
		PlatoonAnnounceIntv: 5,
		FormationInterval:   2,

		TAccept:   5,
		TAckAck:   3,
		TAck:      3,
		TPHOffer:  3,
		TRREHOfer: 5,

		OLSRWeights: OLSRWeights{
			Battery:     0.20,
			ETX:         0.20,
			Delay:       0.15,
			Mobility:    0.15,
			Willingness: 0.10,
			Congestion:  0.10,
			Stability:   0.10,
		},

		TTLMode: TTLModeFixed,
		BaseTTL: 4,
		TTLMin:  2,
		TTLMax:  6,
		PATTL:   4,
		PAnnTTL: 3,
		StatusT: 1,

		RetryBaseDelay:  1,
		RetryMaxJitter:  0.5,
		RetryMaxRetries: 3,
		BlacklistTTL:    30,

		UrgencyCritical:  1.0,
		UrgencyLow:       1.2,
		ThresholdCrit:    1.0,
		ThresholdLow:     0.50,
		ThresholdHealthy: 0.20,

		RREHAvgSession:    1800,
		QueueTimeWeight:   0.01,
		MaxAcceptableQue:  3600,
		RREHDefaultMaxSes: 4,

		PHEnergyThresholdPct: 0.60,
		PHWillingnessThresh:  4,

		EdgeEfficiencyScale: 0.1,
		EdgeMaxRangeM:       10.0,
		EdgeMinEfficiency:   0.1,
		EdgeWeightDistance:  0.4,
		EdgeWeightLoss:      0.3,
		EdgeWeightTime:      0.3,
		FormationMinDist:    2.0,
		FormationMaxLateral: 3.5,
		FormationMaxLong:    20.0,
		FormationMaxPasses:  10,

		PlatoonScoreDirection: 0.4,
		PlatoonScoreDistance:  0.3,
		PlatoonScoreEnergy:    0.3,

		EnergyConsumptionRate: 0.15,
		KMPerDegree:           111.0,

		MaxSeenMessages:  10000,
		MaxPendingOffers: 5,
		PlatoonMaxSize:   6,

		DefaultBatteryCapacityKWh: 100.0,
		DefaultBatteryEnergyKWh:   50.0,
		DefaultMinEnergyKWh:       10.0,
		DefaultMaxTransferInKW:    50.0,
		DefaultMaxTransferOutKW:   50.0,
		DefaultWillingness:        3,
		DefaultLaneWeight:         0.5,
		DefaultLinkStability:      1.0,
		DefaultETX:                1.0,
	}
}

// Load reads a yaml config file and merges it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks internal consistency, mirroring
// original_source's validate_config(): OLSR weights must sum to 1, every
// weight must be positive, thresholds must fall in range, and intervals
// must be positive.
func (c *Config) Validate() error {
	sum := c.OLSRWeights.Sum()
	if math.Abs(sum-1.0) > 1e-5 {
		return fmt.Errorf("olsr weights must sum to 1.0, got %f", sum)
	}
	weights := []float64{
		c.OLSRWeights.Battery, c.OLSRWeights.ETX, c.OLSRWeights.Delay,
		c.OLSRWeights.Mobility, c.OLSRWeights.Willingness,
		c.OLSRWeights.Congestion, c.OLSRWeights.Stability,
	}
	for _, w := range weights {
		if w <= 0 {
			return fmt.Errorf("olsr weight must be positive, got %f", w)
		}
	}
	if c.EnergyConsumptionRate <= 0 {
		return fmt.Errorf("energy_consumption_rate must be positive")
	}
	if c.KMPerDegree <= 0 {
		return fmt.Errorf("km_per_degree must be positive")
	}
	if c.PHEnergyThresholdPct < 0 || c.PHEnergyThresholdPct > 1 {
		return fmt.Errorf("ph_energy_threshold_percent must be in [0,1]")
	}
	if c.PHWillingnessThresh < 0 || c.PHWillingnessThresh > 7 {
		return fmt.Errorf("ph_willingness_threshold must be in [0,7]")
	}
	for name, v := range map[string]float64{
		"pa_interval": c.PAInterval, "beacon_interval": c.BeaconInterval,
		"grid_status_interval": c.GridStatusInterval,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
