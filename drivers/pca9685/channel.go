package pca9685

import "pca9685-go/x/mathx"

// Channel is a single output seen as a plain PWM: a duty in percent and the
// chip-wide frequency. The duty is the last value set, not read back.
type Channel struct {
	d    *Device
	n    uint8
	duty uint8
}

func (d *Device) Channel(n uint8) *Channel { return &Channel{d: d, n: n} }

func (c *Channel) Number() uint8 { return c.n }

// SetDuty drives the channel at pct percent of the frame. 0 selects full-off
// and 100 or more full-on.
func (c *Channel) SetDuty(pct uint8) error {
	pct = mathx.Min(pct, 100)
	var on, off uint16
	switch pct {
	case 0:
		off = FullOn
	case 100:
		on = FullOn
	default:
		off = mathx.MapU16(uint16(pct), 0, 100, 0, Counts)
	}
	if err := c.d.SetPWM(c.n, on, off); err != nil {
		return err
	}
	c.duty = pct
	return nil
}

func (c *Channel) Duty() uint8 { return c.duty }

// SetFreq changes the frame rate of the whole chip.
func (c *Channel) SetFreq(hz uint32) error {
	_, err := c.d.SetFrequency(uint16(mathx.Min(hz, 0xFFFF)))
	return err
}

func (c *Channel) Freq() uint32 { return uint32(c.d.Frequency()) }
