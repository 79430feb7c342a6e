package types

// ------------------------
// Capability kinds
// ------------------------

type Kind string

// KindPWM is the only capability kind served today; a pwm capability is a
// whole multi-channel controller, addressed by channel in its payloads.
const KindPWM Kind = "pwm"
