package authority

// Metrics is a read-only view of runtime signals. It is updated from the loop
// goroutine and read from HTTP handlers and tests.
type Metrics struct {
	Tick uint64 `json:"tick"`

	Observers     int `json:"observers"`
	LoadedRegions int `json:"loaded_regions"`
	CachedRegions int `json:"cached_regions"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	Server Stats `json:"server"`
}

type QueueDepths struct {
	Join  int `json:"join"`
	Leave int `json:"leave"`
	Move  int `json:"move"`
	Save  int `json:"save"`
}

func (rt *Runtime) Metrics() Metrics {
	if rt == nil {
		return Metrics{}
	}
	m, _ := rt.metrics.Load().(Metrics)
	return m
}
