package pca9685

import (
	"math"

	"pca9685-go/x/mathx"
)

// SetPWM sets one channel's on and off counts. Counts are written as given;
// FullOn in either count selects the full-on / full-off bit. Without
// CheckChannels a channel >= 16 addresses 0x06+4*ch (mod 256), which lands on
// reserved, ALL_LED or PRESCALE registers.
func (d *Device) SetPWM(ch uint8, on, off uint16) error {
	if err := d.checkChannel(ch, 1); err != nil {
		return err
	}
	d.w[0] = ledBase(ch)
	putCounts(d.w[1:5], on, off)
	return d.tx(d.w[:5], nil)
}

// SetPWMs writes channels ch..ch+count-1 in one transaction, channel i taking
// on[i] and off[i]. count is clamped to MaxBatch and to the shorter slice.
// MODE1.AI is forced on for the transfer and MODE1 restored afterwards.
func (d *Device) SetPWMs(ch uint8, on, off []uint16, count int) error {
	count = mathx.Min(count, MaxBatch)
	count = mathx.Min(count, mathx.Min(len(on), len(off)))
	if count <= 0 {
		return nil
	}
	if err := d.checkChannel(ch, count); err != nil {
		return err
	}
	old, err := d.readReg(RegMode1)
	if err != nil {
		return err
	}
	if err := d.writeReg(RegMode1, old|uint8(Mode1AI)); err != nil {
		return err
	}
	d.w[0] = ledBase(ch)
	for i := 0; i < count; i++ {
		putCounts(d.w[1+4*i:5+4*i], on[i], off[i])
	}
	txErr := d.tx(d.w[:1+4*count], nil)
	if err := d.writeReg(RegMode1, old); txErr == nil {
		return err
	}
	return txErr
}

// SetAllPWM writes the ALL_LED registers, which the chip applies to every
// channel at once.
func (d *Device) SetAllPWM(on, off uint16) error {
	d.w[0] = RegAllOnL
	putCounts(d.w[1:5], on, off)
	return d.tx(d.w[:5], nil)
}

// SetPeriod programs the frequency implied by period (seconds) and duty
// (percent), ceil((100/duty)/period), and then drives ch with on=0 and
// off=40*duty. It changes the frame rate of every channel.
func (d *Device) SetPeriod(ch uint8, period float32, duty uint8) error {
	f := math.Inf(1)
	if period > 0 {
		f = math.Ceil((100 / float64(duty)) / float64(period))
	}
	if math.IsNaN(f) || f < 0 {
		f = math.Inf(1)
	}
	hz := uint16(mathx.Clamp(f, 0, math.MaxUint16))
	if _, err := d.SetFrequency(hz); err != nil {
		return err
	}
	return d.SetPWM(ch, 0, Counts/100*uint16(duty))
}

// GetPWM returns off<<16 | on for ch, each 12 bits. The full-on/full-off
// bits are not reported.
func (d *Device) GetPWM(ch uint8) (uint32, error) {
	if err := d.checkChannel(ch, 1); err != nil {
		return 0, err
	}
	base := ledBase(ch)
	off, err := d.readCounter(base + 2)
	if err != nil {
		return 0, err
	}
	on, err := d.readCounter(base)
	if err != nil {
		return 0, err
	}
	return uint32(off)<<16 | uint32(on), nil
}

// SplitPWM unpacks a GetPWM value.
func SplitPWM(v uint32) (on, off uint16) {
	return uint16(v) & CountMask, uint16(v>>16) & CountMask
}

func putCounts(b []byte, on, off uint16) {
	b[0] = byte(on)
	b[1] = byte(on >> 8)
	b[2] = byte(off)
	b[3] = byte(off >> 8)
}
