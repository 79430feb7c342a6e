//go:build linux && !baremetal

package transport

import (
	"strconv"

	"github.com/warthog618/go-gpiocdev"

	"pca9685-go/errcode"
)

// OutputEnable drives the chip's active-low /OE pin through the GPIO
// character device.
type OutputEnable struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// OpenOutputEnable requests line on chip (e.g. "gpiochip0"). line is either a
// numeric offset or a line name such as "GPIO17". Outputs start disabled.
func OpenOutputEnable(chip, line string) (*OutputEnable, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, errcode.Wrap(errcode.UnknownBus, "oe", err)
	}
	offset, err := strconv.Atoi(line)
	if err != nil {
		offset, err = c.FindLine(line)
		if err != nil {
			_ = c.Close()
			return nil, errcode.Wrap(errcode.InvalidParams, "oe", err)
		}
	}
	l, err := c.RequestLine(offset, gpiocdev.AsOutput(1), gpiocdev.WithConsumer("pca9685-oe"))
	if err != nil {
		_ = c.Close()
		return nil, errcode.Wrap(errcode.Busy, "oe", err)
	}
	return &OutputEnable{chip: c, line: l}, nil
}

func (o *OutputEnable) Enable() error  { return o.line.SetValue(0) }
func (o *OutputEnable) Disable() error { return o.line.SetValue(1) }

func (o *OutputEnable) Close() error {
	err := o.line.Close()
	if cerr := o.chip.Close(); err == nil {
		err = cerr
	}
	return err
}
