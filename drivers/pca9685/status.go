package pca9685

import "pca9685-go/errcode"

// Status is the outcome of the most recent bus transaction.
type Status uint8

const (
	StatusOK Status = iota
	StatusTimeout
	StatusBusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	default:
		return "bus_error"
	}
}

func statusOf(err error) Status {
	switch errcode.Of(err) {
	case errcode.OK:
		return StatusOK
	case errcode.Timeout:
		return StatusTimeout
	default:
		return StatusBusError
	}
}
