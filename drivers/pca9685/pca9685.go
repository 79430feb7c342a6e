package pca9685

import (
	"time"

	"tinygo.org/x/drivers"

	"pca9685-go/errcode"
)

// ErrChannelRange is returned instead of touching the bus when CheckChannels
// is set and a channel >= NumChannels is addressed.
const ErrChannelRange errcode.Code = "channel_range"

// Config for New. Zero fields take defaults.
type Config struct {
	Address       uint16
	FreqHz        uint16
	OscillatorHz  uint32 // external clock on EXTCLK; 0 means the internal 25 MHz
	ExternalClock bool
	CheckChannels bool
}

// DefaultConfig returns the power-on address and a 60 Hz frame.
func DefaultConfig() Config {
	return Config{
		Address:      AddressDefault,
		FreqHz:       60,
		OscillatorHz: OscillatorDefault,
	}
}

// Starter is implemented by transports that have to be brought up before the
// first transaction.
type Starter interface {
	Start() error
	Stop()
	Active() bool
}

// Device is one PCA9685 on an I²C bus. It is not safe for concurrent use;
// callers sharing a Device must serialise every call.
type Device struct {
	i2c     drivers.I2C
	addr    uint16
	osc     uint32
	freq    uint16
	pre     uint8
	status  Status
	check   bool
	started bool

	// Fixed buffers to avoid per-call heap allocations.
	w [1 + 4*MaxBatch]byte
	r [1]byte
}

var sleep = time.Sleep

func sleepUS(us int) { sleep(time.Duration(us) * time.Microsecond) }

// New binds a Device to the bus, starting the transport if it is not already
// running, then resets the chip and programs cfg.FreqHz. On error the Device
// is still returned so Status can be inspected.
func New(i2c drivers.I2C, cfg Config) (*Device, error) {
	d := &Device{
		i2c:   i2c,
		addr:  cfg.Address,
		osc:   cfg.OscillatorHz,
		check: cfg.CheckChannels,
	}
	if d.addr == 0 {
		d.addr = AddressDefault
	}
	if d.osc == 0 {
		d.osc = OscillatorDefault
	}
	freq := cfg.FreqHz
	if freq == 0 {
		freq = 60
	}
	if s, ok := i2c.(Starter); ok && !s.Active() {
		if err := s.Start(); err != nil {
			d.status = statusOf(err)
			return d, err
		}
		d.started = true
	}
	if err := d.Reset(); err != nil {
		return d, err
	}
	if cfg.ExternalClock {
		if err := d.useExternalClock(); err != nil {
			return d, err
		}
	}
	if _, err := d.SetFrequency(freq); err != nil {
		return d, err
	}
	return d, nil
}

// Close releases the transport when New started it.
func (d *Device) Close() error {
	if d.started {
		if s, ok := d.i2c.(Starter); ok {
			s.Stop()
		}
		d.started = false
	}
	return nil
}

// Reset clears MODE1 (sleep and restart off) and waits for the oscillator.
func (d *Device) Reset() error {
	err := d.writeReg(RegMode1, 0)
	sleepUS(resetSettleUS)
	return err
}

// EXTCLK is sticky until power cycle and may only be set while asleep.
func (d *Device) useExternalClock() error {
	if err := d.modifyBitmaskRegister(RegMode1, uint8(Mode1Sleep), uint8(Mode1Restart)); err != nil {
		return err
	}
	if err := d.modifyBitmaskRegister(RegMode1, uint8(Mode1Sleep|Mode1ExtClk), 0); err != nil {
		return err
	}
	return d.modifyBitmaskRegister(RegMode1, 0, uint8(Mode1Sleep))
}

// SetAddress changes the target address for subsequent transactions.
func (d *Device) SetAddress(addr uint16) (prev uint16) {
	prev, d.addr = d.addr, addr
	return prev
}

func (d *Device) Address() uint16 { return d.addr }

// Status reports the outcome of the most recent bus transaction.
func (d *Device) Status() Status { return d.status }

// Frequency is the last frequency requested through a successful SetFrequency.
func (d *Device) Frequency() uint16 { return d.freq }

// Prescale is the prescaler byte last written.
func (d *Device) Prescale() uint8 { return d.pre }

// RealizedFrequency is the frame rate the written prescaler actually yields.
func (d *Device) RealizedFrequency() float64 {
	return float64(d.osc) / (Counts * (float64(d.pre) + 1))
}

func (d *Device) checkChannel(ch uint8, n int) error {
	if d.check && int(ch)+n > NumChannels {
		return ErrChannelRange
	}
	return nil
}
