//go:build linux && !baremetal

package transport

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"pca9685-go/errcode"
)

// Combined write+read (repeated start) through I2C_RDWR, which register reads
// on the PCA9685 need.
const (
	i2cMrd  = 0x0001
	i2cRdwr = 0x0707
)

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Dev is an opened /dev/i2c-N adapter. It implements drivers.I2C; wrap it in
// an Owner to get deadlines and cross-goroutine serialisation.
type Dev struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func Open(path string) (*Dev, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errcode.Wrap(errcode.UnknownBus, "open "+path, err)
	}
	return &Dev{f: f, path: path}, nil
}

func (d *Dev) Path() string { return d.path }

func (d *Dev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

// Tx implements drivers.I2C.
func (d *Dev) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return errcode.BusStopped
	}
	if addr > 0x7F {
		return &errcode.E{C: errcode.InvalidParams, Op: "i2c", Msg: "address beyond 7 bits"}
	}

	var msgs [2]i2cMsg
	n := 0
	if len(w) > 0 {
		msgs[n] = i2cMsg{addr: addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))}
		n++
	}
	if len(r) > 0 {
		msgs[n] = i2cMsg{addr: addr, flags: i2cMrd, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))}
		n++
	}
	if n == 0 {
		return nil
	}

	data := rdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(n)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), uintptr(i2cRdwr), uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return mapErrno(errno)
	}
	return nil
}

func mapErrno(errno unix.Errno) error {
	var c errcode.Code
	switch {
	case errors.Is(errno, unix.ETIMEDOUT):
		c = errcode.Timeout
	case errors.Is(errno, unix.ENXIO), errors.Is(errno, unix.EREMOTEIO):
		c = errcode.Nack
	case errors.Is(errno, unix.EAGAIN), errors.Is(errno, unix.EBUSY):
		c = errcode.Busy
	default:
		c = errcode.BusError
	}
	return &errcode.E{C: c, Op: "i2c", Err: errno}
}
