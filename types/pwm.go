package types

// ------------------------
// PWM controller (capability "pwm")
// ------------------------

type PWMControllerInfo struct {
	Address     uint16  `json:"address"`
	Channels    int     `json:"channels"`
	Resolution  int     `json:"resolution"` // counts per frame
	FreqHz      uint16  `json:"freq_hz"`
	RealizedHz  float64 `json:"realized_hz"`
	Prescale    uint8   `json:"prescale"`
	Oscillator  uint32  `json:"oscillator_hz"`
	BusID       string  `json:"bus_id,omitempty"`
	CheckRanges bool    `json:"check_channels,omitempty"`
}

// PWMControllerValue is published retained after each successful control.
type PWMControllerValue struct {
	FreqHz     uint16  `json:"freq_hz"`
	RealizedHz float64 `json:"realized_hz"`
	Prescale   uint8   `json:"prescale"`
	Address    uint16  `json:"address"`
	Status     string  `json:"status"`
	Duty       []uint8 `json:"duty,omitempty"` // last duty set per channel, percent
}

type PWMSet struct {
	Channel uint8  `json:"channel"`
	On      uint16 `json:"on"`
	Off     uint16 `json:"off"`
}

type PWMSetBatch struct {
	Channel uint8    `json:"channel"`
	On      []uint16 `json:"on"`
	Off     []uint16 `json:"off"`
}

type PWMFreq struct {
	Hz uint16 `json:"hz"`
}

type PWMFreqReply struct {
	PrevHz uint16 `json:"prev_hz"`
}

type PWMPeriod struct {
	Channel uint8   `json:"channel"`
	PeriodS float32 `json:"period_s"`
	Duty    uint8   `json:"duty"`
}

type PWMDuty struct {
	Channel uint8 `json:"channel"`
	Duty    uint8 `json:"duty"` // percent
}

type PWMChannel struct {
	Channel uint8 `json:"channel"`
}

type PWMCounts struct {
	On  uint16 `json:"on"`
	Off uint16 `json:"off"`
	Raw uint32 `json:"raw"`
}

type RegRead struct {
	Reg uint8 `json:"reg"`
}

type RegValue struct {
	Reg   uint8  `json:"reg"`
	Value uint16 `json:"value"`
}

type RegWrite struct {
	Reg   uint8 `json:"reg"`
	Value uint8 `json:"value"`
}

type AddressSet struct {
	Addr uint16 `json:"addr"`
}

type AddressReply struct {
	Prev uint16 `json:"prev"`
}

type PWMStatus struct {
	Status     string  `json:"status"`
	Address    uint16  `json:"address"`
	FreqHz     uint16  `json:"freq_hz"`
	RealizedHz float64 `json:"realized_hz"`
	Prescale   uint8   `json:"prescale"`
}

// PWMRampMode mirrors the HAL modes.
type PWMRampMode uint8

const (
	PWMRampLinear PWMRampMode = iota // evenly spaced absolute steps
)

// PWMRamp fades a channel's off count from its current value to To.
type PWMRamp struct {
	Channel    uint8       `json:"channel"`
	To         uint16      `json:"to"`          // 0..4095
	DurationMs uint32      `json:"duration_ms"` // total duration
	Steps      uint16      `json:"steps"`       // 0 snaps to To
	Mode       PWMRampMode `json:"mode"`
}
