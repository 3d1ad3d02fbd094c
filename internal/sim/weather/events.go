package weather

import "voxelweather.ai/internal/sim/catalogs"

// Event is the push-based "begin use" notification, fired once per
// transition start (and once per forced instant resync on observers).
type Event struct {
	Region  RegionKey     `json:"region"`
	Kind    catalogs.Kind `json:"kind"`
	Index   int32         `json:"index"`
	Code    string        `json:"code"`
	Instant bool          `json:"instant,omitempty"`
}

type EventSink interface {
	BeginUse(ev Event)
}

type EventSinkFunc func(ev Event)

func (f EventSinkFunc) BeginUse(ev Event) { f(ev) }

// MultiSink fans one event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) BeginUse(ev Event) {
	for _, s := range m {
		if s != nil {
			s.BeginUse(ev)
		}
	}
}
