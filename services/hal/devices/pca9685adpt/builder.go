package pca9685adpt

import (
	"errors"

	"pca9685-go/drivers/pca9685"
	"pca9685-go/errcode"
	"pca9685-go/services/hal"
	"pca9685-go/x/mathx"
)

// Params supplied via config.
type Params struct {
	Addr          int    `json:"addr,omitempty"`
	FreqHz        int    `json:"freq_hz,omitempty"`
	OscillatorHz  uint32 `json:"oscillator_hz,omitempty"`
	ExternalClock bool   `json:"external_clock,omitempty"`
	CheckChannels bool   `json:"check_channels,omitempty"`
}

func (p Params) config() pca9685.Config {
	cfg := pca9685.DefaultConfig()
	if p.Addr != 0 {
		cfg.Address = uint16(p.Addr)
	}
	if p.FreqHz > 0 {
		cfg.FreqHz = uint16(mathx.Min(p.FreqHz, 0xFFFF))
	}
	if p.OscillatorHz != 0 {
		cfg.OscillatorHz = p.OscillatorHz
	}
	cfg.ExternalClock = p.ExternalClock
	cfg.CheckChannels = p.CheckChannels
	return cfg
}

type builder struct{}

func init() {
	hal.RegisterBuilder("pca9685", builder{})
}

func (builder) Build(in hal.BuildInput) (hal.BuildOutput, error) {
	if in.BusRef.Type != "i2c" || in.BusRef.ID == "" {
		return hal.BuildOutput{}, errcode.Wrap(errcode.InvalidParams, "pca9685",
			errors.New("missing or invalid i2c bus reference"))
	}
	i2c, ok := in.Buses.ByID(in.BusRef.ID)
	if !ok {
		return hal.BuildOutput{}, errcode.Wrap(errcode.UnknownBus, "pca9685",
			errors.New("unknown i2c bus "+in.BusRef.ID))
	}
	var p Params
	if err := hal.DecodeJSON(in.ParamsJSON, &p); err != nil {
		return hal.BuildOutput{}, err
	}
	if p.Addr < 0 || p.Addr > 0x7F {
		return hal.BuildOutput{}, errcode.Wrap(errcode.InvalidParams, "pca9685",
			errors.New("addr out of range"))
	}
	cfg := p.config()
	dev, err := pca9685.New(i2c, cfg)
	if err != nil {
		_ = dev.Close()
		return hal.BuildOutput{}, err
	}
	ad := newAdaptor(in.Ctx, in.DeviceID, in.BusRef.ID, dev, cfg, in.Changed)
	return hal.BuildOutput{Adaptor: ad, BusID: in.BusRef.ID}, nil
}
