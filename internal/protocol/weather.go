package protocol

// PatternStateWire is the per-pattern clock and variation carried with an
// index.
type PatternStateWire struct {
	Epoch     uint32  `json:"epoch"`
	Age       float64 `json:"age"`
	Lifetime  float64 `json:"lifetime"`
	Intensity float64 `json:"intensity"`
	Direction float64 `json:"direction,omitempty"`
}

type PatternWire struct {
	Index int32            `json:"index"`
	State PatternStateWire `json:"state"`
}

// WEATHER (server -> observer): full state of one region. Applying the same
// message twice has the same effect as applying it once.
type WeatherMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	RegionX         int32       `json:"region_x"`
	RegionZ         int32       `json:"region_z"`
	OldPattern      PatternWire `json:"old_pattern"`
	NewPattern      PatternWire `json:"new_pattern"`
	WindPattern     PatternWire `json:"wind_pattern"`
	Weight          float32     `json:"weight"`
	Transitioning   bool        `json:"transitioning"`
	TransitionDelay float32     `json:"transition_delay"`
	UpdateInstant   bool        `json:"update_instant"`
}
