package pca9685sim

import (
	"sync"

	"pca9685-go/errcode"
)

// Bus routes transactions to several chips sharing one set of wires. Writes
// to a shared address (ALLCALL, general call) reach every chip that answers
// it; reads are served by the first.
type Bus struct {
	mu    sync.Mutex
	chips []*Chip
}

func NewBus(chips ...*Chip) *Bus { return &Bus{chips: chips} }

// Add attaches a chip and returns it.
func (b *Bus) Add(c *Chip) *Chip {
	b.mu.Lock()
	b.chips = append(b.chips, c)
	b.mu.Unlock()
	return c
}

// Chip returns the chip strapped at addr.
func (b *Bus) Chip(addr uint16) (*Chip, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.chips {
		if c.addr == addr {
			return c, true
		}
	}
	return nil, false
}

// Tx implements drivers.I2C.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var scratch []byte
	hit := false
	for _, c := range b.chips {
		if !c.accepts(addr, w) {
			continue
		}
		rr := r
		if hit && len(r) > 0 {
			if scratch == nil {
				scratch = make([]byte, len(r))
			}
			rr = scratch
		}
		if err := c.Tx(addr, w, rr); err != nil {
			return err
		}
		hit = true
	}
	if !hit {
		return &errcode.E{C: errcode.Nack, Op: "i2c"}
	}
	return nil
}

func (c *Chip) accepts(addr uint16, w []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if addr == generalCall && len(w) == 1 && w[0] == swReset {
		return true
	}
	return c.responds(addr)
}
