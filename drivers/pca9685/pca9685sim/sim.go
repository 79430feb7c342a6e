// Package pca9685sim models a PCA9685 register file behind a drivers.I2C,
// so the driver and everything above it can run without hardware.
//
// Modelled: the register pointer with MODE1.AI auto-increment (LED block rolls
// over 0x45 -> 0x00), PRESCALE writes ignored unless MODE1.SLEEP is set,
// RESTART set on entering sleep and cleared by writing 1 while awake, sticky
// EXTCLK, ALL_LED writes fanned out to every channel, the ALLCALL address and
// the general-call software reset (0x00, 0x06).
package pca9685sim

import (
	"sync"

	"pca9685-go/errcode"
)

const (
	regMode1      = 0x00
	regAllCallAdr = 0x05
	regLED0       = 0x06
	regLEDLast    = 0x45
	regAllOnL     = 0xFA
	regAllOffH    = 0xFD
	regPrescale   = 0xFE

	mode1Restart = 0x80
	mode1ExtClk  = 0x40
	mode1AI      = 0x20
	mode1Sleep   = 0x10
	mode1AllCall = 0x01

	generalCall = 0x00
	swReset     = 0x06
)

// Tx is one recorded transaction.
type Tx struct {
	Addr uint16
	W    []byte
	R    int
	Err  error
}

// Chip is a simulated PCA9685. The zero value is not usable; call New.
type Chip struct {
	mu   sync.Mutex
	addr uint16
	osc  uint32
	regs [256]byte
	ptr  byte

	log     []Tx
	err     error
	okLeft  int
	failSet bool
	once    bool
}

// New returns a chip at addr in its power-on state.
func New(addr uint16) *Chip {
	c := &Chip{addr: addr, osc: 25_000_000}
	c.powerOn()
	return c
}

func (c *Chip) powerOn() {
	c.regs = [256]byte{}
	c.regs[regMode1] = mode1Sleep | mode1AllCall
	c.regs[0x01] = 0x04
	c.regs[0x02] = 0xE2
	c.regs[0x03] = 0xE4
	c.regs[0x04] = 0xE8
	c.regs[regAllCallAdr] = 0xE0
	for ch := 0; ch < 16; ch++ {
		c.regs[regLED0+4*ch+3] = 0x10 // LEDn_OFF_H full off
	}
	c.regs[regPrescale] = 0x1E
	c.ptr = 0
}

// Tx implements drivers.I2C.
func (c *Chip) Tx(addr uint16, w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := Tx{Addr: addr, W: append([]byte(nil), w...), R: len(r)}
	err := c.fault()
	if err == nil {
		err = c.exec(addr, w, r)
	}
	rec.Err = err
	c.log = append(c.log, rec)
	return err
}

func (c *Chip) fault() error {
	if !c.failSet {
		return nil
	}
	if c.okLeft > 0 {
		c.okLeft--
		return nil
	}
	if c.once {
		c.failSet = false
	}
	return c.err
}

func (c *Chip) exec(addr uint16, w, r []byte) error {
	if addr == generalCall && len(w) == 1 && w[0] == swReset {
		c.powerOn()
		return nil
	}
	if !c.responds(addr) {
		return &errcode.E{C: errcode.Nack, Op: "i2c"}
	}
	if len(w) > 0 {
		c.ptr = w[0]
		for _, b := range w[1:] {
			c.store(c.ptr, b)
			c.advance()
		}
	}
	for i := range r {
		r[i] = c.load(c.ptr)
		c.advance()
	}
	return nil
}

func (c *Chip) responds(addr uint16) bool {
	if addr == c.addr {
		return true
	}
	return c.regs[regMode1]&mode1AllCall != 0 && addr == uint16(c.regs[regAllCallAdr]>>1)
}

func (c *Chip) advance() {
	if c.regs[regMode1]&mode1AI == 0 {
		return
	}
	if c.ptr == regLEDLast {
		c.ptr = 0
		return
	}
	c.ptr++
}

func (c *Chip) load(reg byte) byte {
	if reg >= regAllOnL && reg <= regAllOffH {
		return 0
	}
	return c.regs[reg]
}

func (c *Chip) store(reg, v byte) {
	switch {
	case reg == regMode1:
		c.storeMode1(v)
	case reg == regPrescale:
		if c.regs[regMode1]&mode1Sleep != 0 {
			c.regs[regPrescale] = v
		}
	case reg >= regAllOnL && reg <= regAllOffH:
		off := int(reg - regAllOnL)
		for ch := 0; ch < 16; ch++ {
			c.regs[regLED0+4*ch+off] = v
		}
	default:
		c.regs[reg] = v
	}
}

func (c *Chip) storeMode1(v byte) {
	cur := c.regs[regMode1]
	restart := cur & mode1Restart
	switch {
	case v&mode1Sleep != 0 && cur&mode1Sleep == 0:
		restart = mode1Restart
	case v&mode1Sleep == 0 && v&mode1Restart != 0:
		restart = 0
	}
	c.regs[regMode1] = (v &^ mode1Restart) | restart | (cur & mode1ExtClk)
}

// ---------------- inspection ----------------

// Reg returns a raw register byte without touching the register pointer.
func (c *Chip) Reg(reg byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[reg]
}

// SetReg overwrites a register directly.
func (c *Chip) SetReg(reg, v byte) {
	c.mu.Lock()
	c.regs[reg] = v
	c.mu.Unlock()
}

// Address is the chip's strapped address.
func (c *Chip) Address() uint16 { return c.addr }

// Counts returns the raw 13-bit on/off values of ch, full bits included.
func (c *Chip) Counts(ch int) (on, off uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := regLED0 + 4*ch
	on = uint16(c.regs[b]) | uint16(c.regs[b+1]&0x1F)<<8
	off = uint16(c.regs[b+2]) | uint16(c.regs[b+3]&0x1F)<<8
	return on, off
}

// Frequency is the frame rate the current PRESCALE would produce.
func (c *Chip) Frequency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.osc) / (4096 * (float64(c.regs[regPrescale]) + 1))
}

// Log returns a copy of the recorded transactions.
func (c *Chip) Log() []Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tx(nil), c.log...)
}

// Writes returns the write payloads of successful transactions that carried
// no read, in order.
func (c *Chip) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, t := range c.log {
		if t.Err == nil && t.R == 0 {
			out = append(out, t.W)
		}
	}
	return out
}

func (c *Chip) ClearLog() {
	c.mu.Lock()
	c.log = nil
	c.mu.Unlock()
}

// Fail makes every following transaction return err. Fail(nil) heals the chip.
func (c *Chip) Fail(err error) { c.FailAfter(0, err) }

// FailAfter lets n more transactions through and then fails with err.
func (c *Chip) FailAfter(n int, err error) {
	c.mu.Lock()
	c.failSet = err != nil
	c.err = err
	c.okLeft = n
	c.once = false
	c.mu.Unlock()
}

// FailOnce lets n more transactions through, fails the next one with err and
// then heals.
func (c *Chip) FailOnce(n int, err error) {
	c.mu.Lock()
	c.failSet = err != nil
	c.err = err
	c.okLeft = n
	c.once = true
	c.mu.Unlock()
}
