package weather

import "voxelweather.ai/internal/protocol"

func PatternToWire(p PatternState) protocol.PatternWire {
	return protocol.PatternWire{
		Index: p.Index,
		State: protocol.PatternStateWire{
			Epoch:     p.Epoch,
			Age:       p.Age,
			Lifetime:  p.Lifetime,
			Intensity: p.Intensity,
			Direction: p.Direction,
		},
	}
}

func PatternFromWire(w protocol.PatternWire) PatternState {
	return PatternState{
		Index:     w.Index,
		Epoch:     w.State.Epoch,
		Age:       w.State.Age,
		Lifetime:  w.State.Lifetime,
		Intensity: w.State.Intensity,
		Direction: w.State.Direction,
	}
}

// Message captures the synchronized part of the region's state.
func (r *Region) Message(instant bool) protocol.WeatherMsg {
	return protocol.WeatherMsg{
		Type:            protocol.TypeWeather,
		ProtocolVersion: protocol.Version,
		RegionX:         r.Key.X,
		RegionZ:         r.Key.Z,
		OldPattern:      PatternToWire(r.Old),
		NewPattern:      PatternToWire(r.New),
		WindPattern:     PatternToWire(r.Wind),
		Weight:          float32(r.Weight),
		Transitioning:   r.Transitioning,
		TransitionDelay: float32(r.TransitionDelay),
		UpdateInstant:   instant,
	}
}
