package protocol

// HELLO (observer -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ObserverName    string            `json:"observer_name"`
	Pos             [3]float64        `json:"pos"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> observer)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ObserverID      string         `json:"observer_id"`
	WorldParams     WorldParams    `json:"world_params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type WorldParams struct {
	Seed          int64 `json:"seed"`
	RegionSize    int   `json:"region_size"`
	TickMS        int   `json:"tick_ms"`
	ObserverRange int   `json:"observer_range"`
}

type CatalogDigests struct {
	WeatherDigest string `json:"weather_digest"`
	WindDigest    string `json:"wind_digest"`
	TuningDigest  string `json:"tuning_digest,omitempty"`
}

// POS (observer -> server): current observer position.
type PosMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float64 `json:"pos"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
