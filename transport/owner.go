// Package transport provides the bus side of the PCA9685 driver: a
// goroutine that owns an I²C controller and serialises transactions with a
// per-call deadline, plus Linux i2c-dev and /OE line backends.
package transport

import (
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"pca9685-go/errcode"
)

// DefaultTimeout bounds both queueing and completion of one transaction.
const DefaultTimeout = 100 * time.Millisecond

const queueLen = 16

type txReq struct {
	addr uint16
	w, r []byte
	done chan error // buffered(1); worker replies best-effort
}

// Owner hosts the single worker goroutine for one bus. Requests are
// executed in arrival order.
type Owner struct {
	name string
	hw   drivers.I2C

	mu   sync.Mutex
	reqs chan txReq
	quit chan struct{}
	gone chan struct{}
}

func NewOwner(name string, hw drivers.I2C) *Owner {
	return &Owner{name: name, hw: hw}
}

func (o *Owner) Name() string { return o.name }

// Start launches the worker. Starting a running owner is a no-op.
func (o *Owner) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reqs != nil {
		return nil
	}
	if o.hw == nil {
		return &errcode.E{C: errcode.UnknownBus, Op: "start", Msg: o.name}
	}
	o.reqs = make(chan txReq, queueLen)
	o.quit = make(chan struct{})
	o.gone = make(chan struct{})
	go o.loop(o.reqs, o.quit, o.gone)
	println("[i2c] " + o.name + " started")
	return nil
}

// Stop ends the worker after the transaction in flight, if any.
func (o *Owner) Stop() {
	o.mu.Lock()
	quit, gone := o.quit, o.gone
	o.reqs, o.quit, o.gone = nil, nil, nil
	o.mu.Unlock()
	if quit == nil {
		return
	}
	close(quit)
	<-gone
	println("[i2c] " + o.name + " stopped")
}

func (o *Owner) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reqs != nil
}

func (o *Owner) loop(reqs <-chan txReq, quit, gone chan struct{}) {
	defer close(gone)
	for {
		select {
		case req := <-reqs:
			err := o.hw.Tx(req.addr, req.w, req.r)
			select {
			case req.done <- err:
			default:
			}
		case <-quit:
			return
		}
	}
}

// Tx queues one write-then-read and waits for it. A full queue past the
// deadline gives errcode.Busy, a late completion errcode.Timeout. timeout <= 0
// waits indefinitely. The worker operates on private copies of w and r so a
// transaction that outlives its caller never touches the caller's buffers.
func (o *Owner) Tx(addr uint16, w, r []byte, timeout time.Duration) error {
	o.mu.Lock()
	reqs, quit := o.reqs, o.quit
	o.mu.Unlock()
	if reqs == nil {
		return errcode.BusStopped
	}

	req := txReq{addr: addr, done: make(chan error, 1)}
	if len(w) > 0 {
		req.w = append([]byte(nil), w...)
	}
	if len(r) > 0 {
		req.r = make([]byte, len(r))
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case reqs <- req:
	case <-deadline:
		return errcode.Busy
	case <-quit:
		return errcode.BusStopped
	}

	select {
	case err := <-req.done:
		if err == nil {
			copy(r, req.r)
		}
		return err
	case <-deadline:
		return &errcode.E{C: errcode.Timeout, Op: "i2c", Msg: o.name}
	case <-quit:
		return errcode.BusStopped
	}
}

// Handle returns a drivers.I2C view with a fixed per-transaction timeout.
// timeout 0 selects DefaultTimeout.
func (o *Owner) Handle(timeout time.Duration) *Handle {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Handle{o: o, timeout: timeout}
}

// Handle adapts an Owner to tinygo.org/x/drivers.I2C.
type Handle struct {
	o       *Owner
	timeout time.Duration
}

// Ensure compile-time conformance with drivers.I2C
var _ drivers.I2C = (*Handle)(nil)

func (h *Handle) Tx(addr uint16, w, r []byte) error {
	return h.o.Tx(addr, w, r, h.timeout)
}

func (h *Handle) WithTimeout(d time.Duration) *Handle {
	if d > 0 {
		return &Handle{o: h.o, timeout: d}
	}
	return h
}

func (h *Handle) Timeout() time.Duration { return h.timeout }
func (h *Handle) Start() error           { return h.o.Start() }
func (h *Handle) Stop()                  { h.o.Stop() }
func (h *Handle) Active() bool           { return h.o.Active() }
