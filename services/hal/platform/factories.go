// services/hal/platform/factories.go
package platform

import (
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"pca9685-go/drivers/pca9685"
	"pca9685-go/drivers/pca9685/pca9685sim"
	"pca9685-go/errcode"
	"pca9685-go/services/config"
	"pca9685-go/services/hal"
	"pca9685-go/transport"
	"pca9685-go/x/strx"
)

// ----------------------------- I²C ------------------------------------------

// I2CFactory hands out owner-serialised handles to configured buses. Owners
// are started when added, so drivers borrow them and never stop a shared bus.
type I2CFactory struct {
	mu      sync.Mutex
	owners  map[string]*transport.Owner
	handles map[string]*transport.Handle
	sims    map[string]*pca9685sim.Bus
	closers []io.Closer
}

var _ hal.I2CBusFactory = (*I2CFactory)(nil)

func NewI2CFactory() *I2CFactory {
	return &I2CFactory{
		owners:  map[string]*transport.Owner{},
		handles: map[string]*transport.Handle{},
		sims:    map[string]*pca9685sim.Bus{},
	}
}

// Add puts hw behind an owner with the given per-transaction timeout.
func (f *I2CFactory) Add(id string, hw drivers.I2C, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.owners[id]; dup {
		return errcode.Wrap(errcode.InvalidParams, "i2c "+id, errors.New("duplicate bus id"))
	}
	if timeout <= 0 {
		timeout = transport.DefaultTimeout
	}
	o := transport.NewOwner(id, hw)
	if err := o.Start(); err != nil {
		return err
	}
	f.owners[id] = o
	f.handles[id] = o.Handle(timeout)
	return nil
}

// AddSim adds a simulated bus with one chip per address.
func (f *I2CFactory) AddSim(id string, timeout time.Duration, addrs ...uint16) (*pca9685sim.Bus, error) {
	sb := pca9685sim.NewBus()
	for _, a := range addrs {
		sb.Add(pca9685sim.New(a))
	}
	if err := f.Add(id, sb, timeout); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.sims[id] = sb
	f.mu.Unlock()
	return sb, nil
}

func (f *I2CFactory) ByID(id string) (drivers.I2C, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[id]
	if !ok {
		return nil, false
	}
	return h, true
}

// Sim returns the simulated bus behind id, if it is one.
func (f *I2CFactory) Sim(id string) (*pca9685sim.Bus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sims[id]
	return sb, ok
}

// IDs lists the bus ids, sorted.
func (f *I2CFactory) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.owners))
	for id := range f.owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every owner and releases opened device nodes.
func (f *I2CFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.owners {
		o.Stop()
	}
	var errs []error
	for _, c := range f.closers {
		errs = append(errs, c.Close())
	}
	f.closers = nil
	return errors.Join(errs...)
}

// FromConfig opens every configured bus. Simulated buses get a chip at each
// address the HAL devices on them ask for.
func FromConfig(cfg *config.Config) (*I2CFactory, error) {
	f := NewI2CFactory()
	for _, b := range cfg.Buses {
		if b.Path == config.BusSim {
			if _, err := f.AddSim(b.ID, b.Timeout(), simAddrs(cfg, b.ID)...); err != nil {
				_ = f.Close()
				return nil, err
			}
			continue
		}
		dev, err := transport.Open(b.Path)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.Add(b.ID, dev, b.Timeout()); err != nil {
			_ = dev.Close()
			_ = f.Close()
			return nil, err
		}
		f.mu.Lock()
		f.closers = append(f.closers, dev)
		f.mu.Unlock()
		println("[i2c]", b.ID, "->", strx.Coalesce(dev.Path(), b.Path))
	}
	return f, nil
}

func simAddrs(cfg *config.Config, busID string) []uint16 {
	seen := map[uint16]bool{}
	var out []uint16
	for _, d := range cfg.HAL.Devices {
		if d.BusRef.ID != busID {
			continue
		}
		var p struct {
			Addr int `json:"addr"`
		}
		_ = hal.DecodeJSON(d.Params, &p)
		a := uint16(p.Addr)
		if a == 0 {
			a = pca9685.AddressDefault
		}
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		out = append(out, pca9685.AddressDefault)
	}
	return out
}
