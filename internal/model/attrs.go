package model

// AttrKey identifies a whitelisted, validated node attribute accepted by
// the shared tables (spec.md §4.2 "Attribute validation"). The wire codec
// decodes a fixed NODE_ATTRIBUTES/METRICS layout (spec.md §6) directly into
// an Attrs map using these keys, so the validation path is identical
// regardless of which TLV produced the value.
type AttrKey string

// Whitelisted attribute keys (spec.md §4.2, original_source
// ALLOWED_NODE_ATTRS).
const (
	AttrBatteryCapacityKWh AttrKey = "battery_capacity_kwh"
	AttrBatteryEnergyKWh   AttrKey = "battery_energy_kwh"
	AttrMinEnergyKWh       AttrKey = "min_energy_kwh"
	AttrMaxTransferInKW    AttrKey = "max_transfer_rate_in"
	AttrMaxTransferOutKW   AttrKey = "max_transfer_rate_out"
	AttrLatitude           AttrKey = "latitude"
	AttrLongitude          AttrKey = "longitude"
	AttrVX                 AttrKey = "velocity_x"
	AttrVY                 AttrKey = "velocity_y"
	AttrBatteryHealth      AttrKey = "battery_health"
	AttrETX                AttrKey = "etx"
	AttrDelayMS            AttrKey = "delay"
	AttrWillingness        AttrKey = "willingness"
	AttrLaneWeight         AttrKey = "lane_weight"
	AttrLinkStability      AttrKey = "link_stability"
)

// attrRange describes an inclusive [Min, Max] bound; a nil pointer means
// unbounded on that side.
type attrRange struct {
	Min, Max *float64
}

func f(v float64) *float64 { return &v }

// attrRanges is the static range-validation table (spec.md §4.2,
// original_source ATTR_RANGES). A value failing its range is dropped, not
// clamped.
var attrRanges = map[AttrKey]attrRange{
	AttrBatteryCapacityKWh: {Min: f(0.1)},
	AttrBatteryEnergyKWh:   {Min: f(0)},
	AttrMinEnergyKWh:       {Min: f(0)},
	AttrMaxTransferInKW:    {Min: f(0)},
	AttrMaxTransferOutKW:   {Min: f(0)},
	AttrETX:                {Min: f(1.0)},
	AttrDelayMS:            {Min: f(0)},
	AttrWillingness:        {Min: f(0), Max: f(7)},
	AttrLaneWeight:         {Min: f(0), Max: f(1)},
	AttrLinkStability:      {Min: f(0), Max: f(1)},
	AttrBatteryHealth:      {Min: f(0), Max: f(1)},
	AttrLatitude:           {},
	AttrLongitude:          {},
	AttrVX:                 {},
	AttrVY:                 {},
}

// Defaults mirrors original_source's NODE_DEFAULTS: values substituted for
// required fields missing from an incoming attribute set.
type Defaults struct {
	BatteryCapacityKWh float64
	BatteryEnergyKWh   float64
	MinEnergyKWh       float64
	MaxTransferInKW    float64
	MaxTransferOutKW   float64
	Willingness        float64
	LaneWeight         float64
	LinkStability      float64
	ETX                float64
}

// Attrs is a validated, whitelisted set of attribute updates.
type Attrs map[AttrKey]float64

// ValidateAttrs filters an arbitrary attribute set down to values that are
// both whitelisted and within range. Values that fail are dropped (not
// clamped) — the caller is expected to log the drop at warning level.
// Returns the accepted set and the list of rejected keys.
func ValidateAttrs(in Attrs) (accepted Attrs, rejected []AttrKey) {
	accepted = make(Attrs, len(in))
	for k, v := range in {
		r, known := attrRanges[k]
		if !known {
			// Keys with no range entry (none currently) would still need to
			// be in the whitelist; since attrRanges covers every whitelisted
			// key today, an unknown key is rejected outright.
			rejected = append(rejected, k)
			continue
		}
		if r.Min != nil && v < *r.Min {
			rejected = append(rejected, k)
			continue
		}
		if r.Max != nil && v > *r.Max {
			rejected = append(rejected, k)
			continue
		}
		accepted[k] = v
	}
	return accepted, rejected
}

// ApplyToNode merges validated attrs onto a Node, using defaults for any
// required field that both the node and the incoming set lack.
func ApplyToNode(n *Node, attrs Attrs, def Defaults) {
	get := func(k AttrKey, fallback float64) (float64, bool) {
		if v, ok := attrs[k]; ok {
			return v, true
		}
		return fallback, false
	}

	if v, ok := get(AttrBatteryCapacityKWh, def.BatteryCapacityKWh); ok || n.Battery.CapacityKWh == 0 {
		n.Battery.CapacityKWh = v
	}
	if v, ok := get(AttrBatteryEnergyKWh, def.BatteryEnergyKWh); ok {
		n.Battery.CurrentKWh = v
	} else if n.Battery.CurrentKWh == 0 {
		n.Battery.CurrentKWh = def.BatteryEnergyKWh
	}
	if v, ok := get(AttrMinEnergyKWh, def.MinEnergyKWh); ok {
		n.Battery.MinReserveKWh = v
	} else if n.Battery.MinReserveKWh == 0 {
		n.Battery.MinReserveKWh = def.MinEnergyKWh
	}
	if v, ok := get(AttrMaxTransferInKW, def.MaxTransferInKW); ok {
		n.Battery.MaxInKW = v
	} else if n.Battery.MaxInKW == 0 {
		n.Battery.MaxInKW = def.MaxTransferInKW
	}
	if v, ok := get(AttrMaxTransferOutKW, def.MaxTransferOutKW); ok {
		n.Battery.MaxOutKW = v
	} else if n.Battery.MaxOutKW == 0 {
		n.Battery.MaxOutKW = def.MaxTransferOutKW
	}
	if v, ok := attrs[AttrBatteryHealth]; ok {
		n.Battery.Health = v
	} else if n.Battery.Health == 0 {
		n.Battery.Health = 1.0
	}
	if v, ok := attrs[AttrLatitude]; ok {
		n.Kinematics.Position.Lat = v
	}
	if v, ok := attrs[AttrLongitude]; ok {
		n.Kinematics.Position.Lon = v
	}
	if v, ok := attrs[AttrVX]; ok {
		n.Kinematics.VX = v
	}
	if v, ok := attrs[AttrVY]; ok {
		n.Kinematics.VY = v
	}
	if v, ok := get(AttrETX, def.ETX); ok {
		n.QoS.ETX = v
	} else if n.QoS.ETX == 0 {
		n.QoS.ETX = def.ETX
	}
	if v, ok := attrs[AttrDelayMS]; ok {
		n.QoS.DelayMS = v
	}
	if v, ok := get(AttrWillingness, def.Willingness); ok {
		n.QoS.Willingness = int(v)
	} else if n.QoS.Willingness == 0 {
		n.QoS.Willingness = int(def.Willingness)
	}
	if v, ok := get(AttrLaneWeight, def.LaneWeight); ok {
		n.QoS.LaneWeight = v
	} else if n.QoS.LaneWeight == 0 {
		n.QoS.LaneWeight = def.LaneWeight
	}
	if v, ok := get(AttrLinkStability, def.LinkStability); ok {
		n.QoS.LinkStability = v
	} else if n.QoS.LinkStability == 0 {
		n.QoS.LinkStability = def.LinkStability
	}
}
