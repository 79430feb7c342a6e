package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"pca9685-go/bus"
	"pca9685-go/errcode"
	"pca9685-go/types"
)

// fakeHAL answers status controls for pwm capability 0.
func fakeHAL(t *testing.T, b *bus.Bus, healthy *atomic.Bool) *bus.Connection {
	t.Helper()
	conn := b.NewConnection("hal")
	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "pwm", 0, "info"),
		types.Info{SchemaVersion: 1, Driver: "pca9685"}, true))

	sub := conn.Subscribe(bus.T("hal", "capability", "pwm", 0, "control", "status"))
	t.Cleanup(func() { conn.Unsubscribe(sub) })
	go func() {
		for m := range sub.Channel() {
			if healthy.Load() {
				conn.Reply(m, types.Reply{OK: true}, false)
			} else {
				conn.Reply(m, types.Reply{OK: false, Error: string(errcode.Nack)}, false)
			}
		}
	}()
	return conn
}

func nextHealth(t *testing.T, sub *bus.Subscription) types.Health {
	t.Helper()
	select {
	case m := <-sub.Channel():
		h, ok := m.Payload.(types.Health)
		if !ok {
			t.Fatalf("payload %T", m.Payload)
		}
		return h
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for health")
		return types.Health{}
	}
}

func TestHeartbeat_ReportsHealthChanges(t *testing.T) {
	b := bus.NewBus(16)
	var healthy atomic.Bool
	healthy.Store(true)
	hal := fakeHAL(t, b, &healthy)

	conn := b.NewConnection("heartbeat")
	conn.Publish(conn.NewMessage(bus.T("config", "heartbeat"), types.HeartbeatConfig{IntervalMS: 10}, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	New(conn).Start(ctx)

	sub := hal.Subscribe(bus.T("heartbeat", "pwm", 0))
	defer hal.Unsubscribe(sub)

	if h := nextHealth(t, sub); !h.OK {
		t.Fatalf("want ok, got %+v", h)
	}

	healthy.Store(false)
	h := nextHealth(t, sub)
	if h.OK || h.Error != string(errcode.Nack) {
		t.Fatalf("want nack, got %+v", h)
	}
}

func TestHeartbeat_TimeoutWithoutResponder(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("heartbeat")
	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "pwm", 2, "info"), types.Info{}, true))

	s := New(conn)
	s.caps[2] = true
	h := s.probe(context.Background(), 2)
	if h.OK || h.Error != string(errcode.Timeout) {
		t.Fatalf("got %+v", h)
	}
}

func TestHeartbeat_ForgetsRemovedCapability(t *testing.T) {
	b := bus.NewBus(16)
	var healthy atomic.Bool
	healthy.Store(true)
	hal := fakeHAL(t, b, &healthy)

	conn := b.NewConnection("heartbeat")
	conn.Publish(conn.NewMessage(bus.T("config", "heartbeat"), map[string]any{"interval_ms": 10}, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	New(conn).Start(ctx)

	sub := hal.Subscribe(bus.T("heartbeat", "pwm", 0))
	defer hal.Unsubscribe(sub)
	_ = nextHealth(t, sub)

	hal.Publish(hal.NewMessage(bus.T("hal", "capability", "pwm", 0, "info"), nil, true))
	select {
	case m := <-sub.Channel():
		if m.Payload != nil {
			t.Fatalf("want cleared health, got %#v", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("health not cleared")
	}
}
