package pca9685

// MODE1 bits.
type Mode1 uint8

const (
	Mode1AllCall Mode1 = 1 << 0
	Mode1Sub3    Mode1 = 1 << 1
	Mode1Sub2    Mode1 = 1 << 2
	Mode1Sub1    Mode1 = 1 << 3
	Mode1Sleep   Mode1 = 1 << 4
	Mode1AI      Mode1 = 1 << 5
	Mode1ExtClk  Mode1 = 1 << 6
	Mode1Restart Mode1 = 1 << 7
)

// MODE2 bits.
type Mode2 uint8

const (
	Mode2OutNE  Mode2 = 0x03 // 2-bit field, behaviour while /OE is high
	Mode2OutDrv Mode2 = 1 << 2
	Mode2OCH    Mode2 = 1 << 3
	Mode2Invrt  Mode2 = 1 << 4
)

func (b Mode1) Has(flag Mode1) bool { return b&flag != 0 }
func (b Mode2) Has(flag Mode2) bool { return b&flag != 0 }

func (d *Device) ReadMode1() (Mode1, error) {
	v, err := d.readReg(RegMode1)
	return Mode1(v), err
}

func (d *Device) ReadMode2() (Mode2, error) {
	v, err := d.readReg(RegMode2)
	return Mode2(v), err
}
func (d *Device) WriteMode2(v Mode2) error {
	return d.writeReg(RegMode2, uint8(v))
}
func (d *Device) UpdateMode2(set, clear Mode2) error {
	return d.modifyBitmaskRegister(RegMode2, uint8(set), uint8(clear))
}

// Sleep stops the oscillator. Outputs are off while asleep.
func (d *Device) Sleep() error {
	return d.modifyBitmaskRegister(RegMode1, uint8(Mode1Sleep), uint8(Mode1Restart))
}

// Wake restarts the oscillator and, when the chip reports a pending restart,
// resumes the PWM channels where they stopped.
func (d *Device) Wake() error {
	m, err := d.ReadMode1()
	if err != nil {
		return err
	}
	if err := d.writeReg(RegMode1, uint8(m&^(Mode1Sleep|Mode1Restart))); err != nil {
		return err
	}
	sleepUS(wakeSettleUS)
	if !m.Has(Mode1Restart) {
		return nil
	}
	return d.writeReg(RegMode1, uint8((m&^Mode1Sleep)|Mode1Restart))
}

// Generic read-modify-write for 8-bit registers with bitmasks.
func (d *Device) modifyBitmaskRegister(reg byte, set, clear uint8) error {
	current, err := d.readReg(reg)
	if err != nil {
		return err
	}
	return d.writeReg(reg, (current&^clear)|set)
}
