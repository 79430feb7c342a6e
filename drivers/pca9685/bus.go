package pca9685

import "pca9685-go/x/mathx"

// Every transaction goes through tx so the cached status tracks the last one.
func (d *Device) tx(w, r []byte) error {
	err := d.i2c.Tx(d.addr, w, r)
	d.status = statusOf(err)
	return err
}

func (d *Device) readReg(reg byte) (uint8, error) {
	d.w[0] = reg
	if err := d.tx(d.w[:1], d.r[:1]); err != nil {
		return 0, err
	}
	return d.r[0], nil
}

func (d *Device) writeReg(reg, val byte) error {
	d.w[0] = reg
	d.w[1] = val
	return d.tx(d.w[:2], nil)
}

// ReadRegister reads one register. Addresses in the reserved block 70..249
// are not sent to the chip: the last byte received is returned instead.
func (d *Device) ReadRegister(reg uint8) (uint8, error) {
	if mathx.Between(reg, regReservedLo, regReservedHi) {
		return d.r[0], nil
	}
	return d.readReg(reg)
}

func (d *Device) WriteRegister(reg, val uint8) error {
	return d.writeReg(reg, val)
}

// RegisterValue returns the 12-bit counter for a LEDn_ON_L/LEDn_OFF_L
// address in 6..68, and the plain byte for every other register.
func (d *Device) RegisterValue(reg uint8) (uint16, error) {
	if mathx.Between(reg, regPairLo, regPairHi) && (reg-regPairLo)%2 == 0 {
		return d.readCounter(reg)
	}
	v, err := d.ReadRegister(reg)
	return uint16(v), err
}

// readCounter decodes a low/high register pair, high byte first. Pairs in the
// reserved block decode from the cached byte like ReadRegister.
func (d *Device) readCounter(lo byte) (uint16, error) {
	hi, err := d.ReadRegister(lo + 1)
	if err != nil {
		return 0, err
	}
	l, err := d.ReadRegister(lo)
	if err != nil {
		return 0, err
	}
	return uint16(hi&0x0F)<<8 | uint16(l), nil
}
