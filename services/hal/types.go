// services/hal/types.go
package hal

import (
	"context"

	"tinygo.org/x/drivers"
)

// CapInfo describes one capability's retained info document.
type CapInfo struct {
	Kind string // capability kind, e.g. "pwm"
	Info any    // JSON-serialisable
}

// Adaptor owns a concrete device/driver and exposes it through capability
// controls. Control is called from the service goroutine only.
type Adaptor interface {
	ID() string
	// Static capability descriptions (published as retained).
	Capabilities() []CapInfo
	// Control runs one method on one capability kind. Return
	// errcode.Unsupported for unknown methods.
	Control(kind, method string, payload any) (result any, err error)
	// Close releases the device when it leaves the configuration.
	Close() error
}

// Valuer is implemented by adaptors that keep a retained value per kind.
type Valuer interface {
	Value(kind string) (any, bool)
}

// I2CBusFactory injects configured I²C instances by id.
type I2CBusFactory interface {
	ByID(id string) (drivers.I2C, bool)
}

// BuildInput is provided to a device builder.
type BuildInput struct {
	Ctx        context.Context
	Buses      I2CBusFactory
	DeviceID   string
	Type       string
	ParamsJSON any
	BusRef     struct {
		Type string
		ID   string
	}
	// Changed may be called from any goroutine when the adaptor's value
	// moved outside a Control call (e.g. during a fade).
	Changed func()
}

// BuildOutput is returned by a builder.
type BuildOutput struct {
	Adaptor Adaptor
	BusID   string // informational
}

// Builder constructs an Adaptor from config and platform factories.
type Builder interface {
	Build(in BuildInput) (BuildOutput, error)
}
