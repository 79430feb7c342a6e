// services/hal/devices/pca9685adpt/adaptor.go
package pca9685adpt

import (
	"context"
	"sync"
	"time"

	"pca9685-go/drivers/pca9685"
	"pca9685-go/errcode"
	"pca9685-go/services/hal"
	"pca9685-go/types"
	"pca9685-go/x/ramp"
)

const kindPWM = string(types.KindPWM)

type adaptor struct {
	id    string
	busID string
	check bool
	osc   uint32

	mu    sync.Mutex // guards dev, duty and fades
	dev   *pca9685.Device
	duty  [pca9685.NumChannels]uint8
	fades map[uint8]context.CancelFunc

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	changed func()
}

func newAdaptor(parent context.Context, id, busID string, dev *pca9685.Device, cfg pca9685.Config, changed func()) *adaptor {
	if parent == nil {
		parent = context.Background()
	}
	if changed == nil {
		changed = func() {}
	}
	ctx, cancel := context.WithCancel(parent)
	return &adaptor{
		id:      id,
		busID:   busID,
		check:   cfg.CheckChannels,
		osc:     cfg.OscillatorHz,
		dev:     dev,
		fades:   map[uint8]context.CancelFunc{},
		ctx:     ctx,
		cancel:  cancel,
		changed: changed,
	}
}

func (a *adaptor) ID() string { return a.id }

func (a *adaptor) Capabilities() []hal.CapInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return []hal.CapInfo{{
		Kind: kindPWM,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "pca9685",
			Detail: types.PWMControllerInfo{
				Address:     a.dev.Address(),
				Channels:    pca9685.NumChannels,
				Resolution:  pca9685.Counts,
				FreqHz:      a.dev.Frequency(),
				RealizedHz:  a.dev.RealizedFrequency(),
				Prescale:    a.dev.Prescale(),
				Oscillator:  a.osc,
				BusID:       a.busID,
				CheckRanges: a.check,
			},
		},
	}}
}

func (a *adaptor) Value(kind string) (any, bool) {
	if kind != kindPWM {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	duty := make([]uint8, len(a.duty))
	copy(duty, a.duty[:])
	return types.PWMControllerValue{
		FreqHz:     a.dev.Frequency(),
		RealizedHz: a.dev.RealizedFrequency(),
		Prescale:   a.dev.Prescale(),
		Address:    a.dev.Address(),
		Status:     a.dev.Status().String(),
		Duty:       duty,
	}, true
}

func (a *adaptor) Control(kind, method string, payload any) (any, error) {
	if kind != kindPWM {
		return nil, errcode.Unsupported
	}
	switch method {
	case "set_pwm":
		var p types.PWMSet
		if err := hal.DecodeJSON(payload, &p); err != nil {
			return nil, err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		a.stopFade(p.Channel)
		return nil, a.dev.SetPWM(p.Channel, p.On, p.Off)

	case "set_pwms":
		var p types.PWMSetBatch
		if err := hal.DecodeJSON(payload, &p); err != nil {
			return nil, err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		for i := range p.On {
			a.stopFade(p.Channel + uint8(i))
		}
		return nil, a.dev.SetPWMs(p.Channel, p.On, p.Off, len(p.On))

	case "set_all":
		var p types.PWMSet
		if err := hal.DecodeJSON(payload, &p); err != nil {
			return nil, err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		a.stopAllFades()
		return nil, a.dev.SetAllPWM(p.On, p.Off)

	case "set_freq":
		var p types.PWMFreq
		if err := hal.DecodeJSON(payload, &p); err != nil {
			return nil, err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		prev, err := a.dev.SetFrequency(p.Hz)
		if err != nil {
			return nil, err
		}
		return types.PWMFreqReply{PrevHz: prev}, nil

	case "set_period":
		var p types.PWMPeriod
		if err := hal.DecodeJSON(payload, &p); err != nil {
			return nil, err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		a.stopFade(p.Channel)
		return nil, a.dev.SetPeriod(p.Channel, p.PeriodS, p.Duty)

	case "set_duty":
		var p types.PWMDuty
		if err := hal.DecodeJSON(payload, &p); err != nil {
			return nil, err
		}
		if p.Channel >= pca9685.NumChannels {
			return nil, errcode.InvalidParams
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		a.stopFade(p.Channel)
		ch := a.dev.Channel(p.Channel)
		if err := ch.SetDuty(p.Duty); err != nil {
			return nil, err
		}
		a.duty[p.Channel] = ch.Duty()
		return nil, nil

	case "get_pwm":
		var p types.PWMChannel
		if err := hal.DecodeJSON(payload, &p); err != nil {
			return nil, err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		raw, err := a.dev.GetPWM(p.Channel)
		if err != nil {
			return nil, err
		}
		on, off := pca9685.SplitPWM(raw)
		return types.PWMCounts{On: on, Off: off, Raw: raw}, nil

	case "get_reg":
		var p types.RegRead
		if err := hal.DecodeJSON(payload, &p); err != nil {
			return nil, err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		v, err := a.dev.RegisterValue(p.Reg)
		if err != nil {
			return nil, err
		}
		return types.RegValue{Reg: p.Reg, Value: v}, nil

	case "set_reg":
		var p types.RegWrite
		if err := hal.DecodeJSON(payload, &p); err != nil {
			return nil, err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		return nil, a.dev.WriteRegister(p.Reg, p.Value)

	case "set_address":
		var p types.AddressSet
		if err := hal.DecodeJSON(payload, &p); err != nil {
			return nil, err
		}
		if p.Addr > 0x7F {
			return nil, errcode.InvalidParams
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		return types.AddressReply{Prev: a.dev.SetAddress(p.Addr)}, nil

	case "reset":
		a.mu.Lock()
		defer a.mu.Unlock()
		a.stopAllFades()
		return nil, a.dev.Reset()

	case "sleep":
		a.mu.Lock()
		defer a.mu.Unlock()
		return nil, a.dev.Sleep()

	case "wake":
		a.mu.Lock()
		defer a.mu.Unlock()
		return nil, a.dev.Wake()

	case "status":
		a.mu.Lock()
		defer a.mu.Unlock()
		return types.PWMStatus{
			Status:     a.dev.Status().String(),
			Address:    a.dev.Address(),
			FreqHz:     a.dev.Frequency(),
			RealizedHz: a.dev.RealizedFrequency(),
			Prescale:   a.dev.Prescale(),
		}, nil

	case "ramp":
		var p types.PWMRamp
		if err := hal.DecodeJSON(payload, &p); err != nil {
			return nil, err
		}
		if err := a.startFade(p); err != nil {
			return nil, err
		}
		return map[string]bool{"started": true}, nil

	default:
		return nil, errcode.Unsupported
	}
}

// startFade reads the channel's current off count and moves it towards p.To
// on a goroutine. A newer control on the same channel cancels it.
func (a *adaptor) startFade(p types.PWMRamp) error {
	if p.Channel >= pca9685.NumChannels || p.Mode != types.PWMRampLinear {
		return errcode.InvalidParams
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopFade(p.Channel)

	raw, err := a.dev.GetPWM(p.Channel)
	if err != nil {
		return err
	}
	_, cur := pca9685.SplitPWM(raw)

	ctx, cancel := context.WithCancel(a.ctx)
	a.fades[p.Channel] = cancel
	ch := p.Channel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := ramp.Linear(ctx, cur, p.To, pca9685.CountMask, time.Duration(p.DurationMs)*time.Millisecond, p.Steps,
			func(lvl uint16) error {
				a.mu.Lock()
				defer a.mu.Unlock()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return a.dev.SetPWM(ch, 0, lvl)
			})
		a.mu.Lock()
		if ctx.Err() == nil {
			cancel()
			delete(a.fades, ch)
		}
		a.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			println("[pca9685]", a.id, "fade on channel", ch, "stopped:", err.Error())
		}
		a.changed()
	}()
	return nil
}

// Callers hold a.mu.
func (a *adaptor) stopFade(ch uint8) {
	if c, ok := a.fades[ch]; ok {
		c()
		delete(a.fades, ch)
	}
}

func (a *adaptor) stopAllFades() {
	for ch, c := range a.fades {
		c()
		delete(a.fades, ch)
	}
}

func (a *adaptor) Close() error {
	a.cancel()
	a.wg.Wait()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopAllFades()
	return a.dev.Close()
}
