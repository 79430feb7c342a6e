package types

// HAL configuration supplied on topic "config/hal".

type HALConfig struct {
	Devices []Device `json:"devices" yaml:"devices"`
}

type Device struct {
	ID     string `json:"id" yaml:"id"`
	Type   string `json:"type" yaml:"type"`
	Params any    `json:"params,omitempty" yaml:"params,omitempty"`
	BusRef BusRef `json:"bus_ref,omitempty" yaml:"bus_ref,omitempty"`
}

type BusRef struct {
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}
