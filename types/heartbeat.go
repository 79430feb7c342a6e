package types

// HeartbeatConfig arrives on config/heartbeat.
type HeartbeatConfig struct {
	IntervalMS int `json:"interval_ms" yaml:"interval_ms"`
}

// Health is retained on heartbeat/<kind>/<id> and changes only when the
// probe result does.
type Health struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    int64  `json:"ts_ms"`
}
