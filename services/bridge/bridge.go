// services/bridge/bridge.go
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"pca9685-go/bus"
	"pca9685-go/errcode"
	"pca9685-go/services/hal"
	"pca9685-go/types"
	"pca9685-go/x/timex"
)

const defaultRequestTimeout = 2 * time.Second

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start runs the bridge until ctx is cancelled. It waits for a
// types.BridgeConfig on config/bridge and (re)builds the link from it.
// A peer can then drive HAL controls with request frames and receives
// the forwarded topics as publish frames.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("bridge", "state"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	curEnd chan struct{}
}

func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "bridge"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg := <-cfgSub.Channel():
			if msg.Payload == nil {
				s.stopCurrent()
				s.publishState("idle", "awaiting_config", nil)
				continue
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

// stopCurrent cancels the running link and waits for it to let go of its
// transport.
func (s *Service) stopCurrent() {
	s.mu.Lock()
	cancel, end := s.curRun, s.curEnd
	s.curRun, s.curEnd = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-end
	}
}

func (s *Service) reconfigure(parent context.Context, cfg types.BridgeConfig) {
	s.stopCurrent()

	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	ctx, cancel := context.WithCancel(parent)
	end := make(chan struct{})
	s.mu.Lock()
	s.curRun, s.curEnd = cancel, end
	s.mu.Unlock()

	go func() {
		defer close(end)
		defer tr.Close()
		s.runLink(ctx, tr, cfg)
	}()
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, tr Transport, cfg types.BridgeConfig) {
	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		rwc, err := tr.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		backoff = backoffSeq(250*time.Millisecond, 5*time.Second)

		err = s.handleLink(ctx, rwc, cfg)
		_ = rwc.Close()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.EOF
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// handleLink owns one connected peer until either side closes.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser, cfg types.BridgeConfig) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer rwc.Close() // unblocks the reader and any pending writes

	rd := newFramedReader(rwc)
	wr := newFramedWriter(rwc)

	timeout := defaultRequestTimeout
	if cfg.RequestTimeoutMS > 0 {
		timeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	}

	for _, f := range cfg.Forward {
		sub := s.conn.Subscribe(ParseFilter(f))
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.conn.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case m := <-sub.Channel():
					if err := wr.writeMsg(framePub, wirePub{
						Topic: topicToWire(m.Topic), Payload: m.Payload, Retained: m.Retained,
					}); err != nil {
						cancel()
						return
					}
				}
			}
		}()
	}

	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- s.readLoop(ctx, rd, wr, &wg, timeout)
	}()

	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			if d, ok := rwc.(interface{ SetWriteDeadline(time.Time) error }); ok {
				_ = d.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
			}
			_ = wr.WriteFrame(Frame{Type: frameClose})
			return nil
		case err := <-errCh:
			return err
		case <-tick.C:
			if err := wr.WriteFrame(Frame{Type: framePing}); err != nil {
				return err
			}
		}
	}
}

// readLoop answers pings and dispatches requests. A close frame ends the
// link cleanly.
func (s *Service) readLoop(ctx context.Context, rd *framedReader, wr *framedWriter, wg *sync.WaitGroup, timeout time.Duration) error {
	for {
		f, err := rd.ReadFrame()
		if err != nil {
			return err
		}
		switch f.Type {
		case framePing:
			err = wr.WriteFrame(Frame{Type: framePong})
		case frameReq:
			var req wireReq
			if derr := decMode.Unmarshal(f.Payload, &req); derr != nil {
				err = wr.writeMsg(frameReply, wireReply{ID: req.ID, Error: string(errcode.InvalidPayload)})
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = wr.writeMsg(frameReply, s.serve(ctx, req, timeout))
			}()
		case frameClose:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// serve forwards one peer request onto the bus and waits for the answer.
func (s *Service) serve(ctx context.Context, req wireReq, timeout time.Duration) wireReply {
	rep := wireReply{ID: req.ID}
	topic, err := topicFromWire(req.Topic)
	if err != nil || len(topic) == 0 {
		rep.Error = string(errcode.InvalidParams)
		return rep
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	m, err := s.conn.RequestWait(rctx, s.conn.NewMessage(topic, req.Payload, false))
	if err != nil {
		rep.Error = string(errcode.Of(err))
		return rep
	}
	rep.Payload = m.Payload
	return rep
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport hands out connected peers, one at a time.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	Close() error
	String() string
}

type TransportFactory func(types.BridgeTransport) (Transport, error)

var (
	regMu     sync.RWMutex
	registry  = map[string]TransportFactory{}
	errNoDial = errors.New("UARTDial not set")
)

// RegisterTransport adds a transport type (eg. "ws", "pipe").
func RegisterTransport(name string, f TransportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg types.BridgeTransport) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "uart":
		if cfg.UART == nil {
			return nil, errcode.Wrap(errcode.InvalidParams, "bridge", errors.New("uart transport requires uart config"))
		}
		return &uartTransport{cfg: *cfg.UART}, nil
	case "tcp":
		if cfg.Listen == "" {
			return nil, errcode.Wrap(errcode.InvalidParams, "bridge", errors.New("tcp transport requires listen address"))
		}
		return &tcpTransport{addr: cfg.Listen}, nil
	default:
		return nil, errcode.Wrap(errcode.Unsupported, "bridge", fmt.Errorf("unknown transport type: %q", cfg.Type))
	}
}

// UARTDial is injected by platform code. It must open and return an
// io.ReadWriteCloser over the configured UART.
var UARTDial func(ctx context.Context, u types.BridgeUART) (io.ReadWriteCloser, error)

type uartTransport struct {
	cfg types.BridgeUART
}

func (u *uartTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if UARTDial == nil {
		return nil, errNoDial
	}
	return UARTDial(ctx, u.cfg)
}

func (u *uartTransport) Close() error   { return nil }
func (u *uartTransport) String() string { return "uart" }

// tcpTransport listens once and accepts one peer per Open.
type tcpTransport struct {
	addr string

	mu sync.Mutex
	ln net.Listener
}

func (t *tcpTransport) listener() (net.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		return t.ln, nil
	}
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return nil, err
	}
	t.ln = ln
	return ln, nil
}

func (t *tcpTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	ln, err := t.listener()
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()
	return ln.Accept()
}

// Addr is the bound address once listening.
func (t *tcpTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

func (t *tcpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	err := t.ln.Close()
	t.ln = nil
	return err
}

func (t *tcpTransport) String() string { return "tcp " + t.addr }

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (types.BridgeConfig, error) {
	switch v := p.(type) {
	case types.BridgeConfig:
		return v, nil
	case *types.BridgeConfig:
		return *v, nil
	}
	var cfg types.BridgeConfig
	err := hal.DecodeJSON(p, &cfg)
	return cfg, err
}

func (s *Service) publishState(level, status string, err error) {
	st := types.HALState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
