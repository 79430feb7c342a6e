//go:build !linux || baremetal

package transport

import "pca9685-go/errcode"

type OutputEnable struct{}

func OpenOutputEnable(chip, line string) (*OutputEnable, error) {
	return nil, &errcode.E{C: errcode.Unsupported, Op: "oe", Msg: "gpio cdev needs linux"}
}

func (o *OutputEnable) Enable() error  { return errcode.Unsupported }
func (o *OutputEnable) Disable() error { return errcode.Unsupported }
func (o *OutputEnable) Close() error   { return nil }
