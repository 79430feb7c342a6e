//go:build !linux || baremetal

package transport

import "pca9685-go/errcode"

type Dev struct{}

func Open(path string) (*Dev, error) {
	return nil, &errcode.E{C: errcode.Unsupported, Op: "open " + path, Msg: "i2c-dev needs linux"}
}

func (d *Dev) Path() string                       { return "" }
func (d *Dev) Close() error                       { return nil }
func (d *Dev) Tx(addr uint16, w, r []byte) error { return errcode.Unsupported }
