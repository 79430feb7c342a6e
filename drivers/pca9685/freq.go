package pca9685

import (
	"math"

	"pca9685-go/x/mathx"
)

// PrescaleFor returns the PRESCALE byte for hz on an oscillator of oscHz:
// floor(osc/(4096*hz) - 1), raised to PrescaleMin and truncated to 8 bits.
// No range is rejected; very low rates wrap and very high ones clamp.
func PrescaleFor(oscHz uint32, hz uint16) uint8 {
	if hz == 0 {
		return 0xFF
	}
	p := math.Floor(float64(oscHz)/(Counts*float64(hz)) - 1)
	if p < PrescaleMin {
		return PrescaleMin
	}
	b := uint8(int64(p))
	return mathx.Max(b, PrescaleMin)
}

// SetFrequency reprograms the prescaler and returns the previously requested
// frequency. The whole chip shares one frame rate.
//
// MODE1 sequence: sleep (restart cleared), PRESCALE, restore, 500 µs,
// restore|ALLCALL|AI|RESTART. Once the sleep write is out, the restore and
// re-arm writes are always attempted so a failed PRESCALE write cannot leave
// the outputs asleep. The first error is returned and the cached frequency
// only moves when every step succeeded.
func (d *Device) SetFrequency(hz uint16) (prev uint16, err error) {
	prev = d.freq
	pre := PrescaleFor(d.osc, hz)

	old, err := d.readReg(RegMode1)
	if err != nil {
		return prev, err
	}
	if err := d.writeReg(RegMode1, (old&^uint8(Mode1Restart))|uint8(Mode1Sleep)); err != nil {
		return prev, err
	}
	keep := func(e error) {
		if err == nil {
			err = e
		}
	}
	keep(d.writeReg(RegPrescale, pre))
	keep(d.writeReg(RegMode1, old))
	sleepUS(wakeSettleUS)
	keep(d.writeReg(RegMode1, old|uint8(Mode1AllCall|Mode1AI|Mode1Restart)))
	if err != nil {
		return prev, err
	}
	d.freq = hz
	d.pre = pre
	return prev, nil
}
