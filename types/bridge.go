package types

// ------------------------
// Bridge (config/bridge)
// ------------------------

// BridgeConfig links the local bus to a remote peer over a byte stream.
type BridgeConfig struct {
	Transport        BridgeTransport `json:"transport" yaml:"transport"`
	Forward          []string        `json:"forward,omitempty" yaml:"forward,omitempty"` // topic filters pushed to the peer, e.g. "hal/capability/+/+/value"
	RequestTimeoutMS int             `json:"request_timeout_ms,omitempty" yaml:"request_timeout_ms,omitempty"`
}

type BridgeTransport struct {
	Type   string      `json:"type" yaml:"type"`                         // "tcp" or "uart"
	Listen string      `json:"listen,omitempty" yaml:"listen,omitempty"` // tcp listen address
	UART   *BridgeUART `json:"uart,omitempty" yaml:"uart,omitempty"`
}

// BridgeUART carries enough for an injected dialler to open the UART.
type BridgeUART struct {
	Baud  int `json:"baud" yaml:"baud"`
	RxPin int `json:"rx_pin" yaml:"rx_pin"`
	TxPin int `json:"tx_pin" yaml:"tx_pin"`
}
