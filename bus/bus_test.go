// bus/bus_test.go
package bus

import (
	"context"
	"sort"
	"testing"
	"time"
)

// Topic shapes used by the HAL and its clients.
func capTopic(kind string, id int, leaf ...any) Topic {
	return T(append([]any{"hal", "capability", kind, id}, leaf...)...)
}

func TestPublishDeliversAndRetains(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	live := conn.Subscribe(T("config", "hal"))
	conn.Publish(conn.NewMessage(T("config", "hal"), "devices", true))
	expectOneOf(t, live, "devices")

	late := conn.Subscribe(T("config", "hal"))
	expectOneOf(t, late, "devices")
}

// -----------------------------------------------------------------------------
// Wildcards
// -----------------------------------------------------------------------------

func TestWildcardMatching(t *testing.T) {
	cases := []struct {
		name   string
		filter Topic
		topic  Topic
		match  bool
	}{
		{"exact", capTopic("pwm", 0, "value"), capTopic("pwm", 0, "value"), true},
		{"int id differs", capTopic("pwm", 0, "value"), capTopic("pwm", 1, "value"), false},
		{"string vs int id", T("hal", "capability", "pwm", "0", "value"), capTopic("pwm", 0, "value"), false},
		{"plus id", T("hal", "capability", "pwm", "+", "value"), capTopic("pwm", 7, "value"), true},
		{"plus kind and id", T("hal", "capability", "+", "+", "info"), capTopic("pwm", 2, "info"), true},
		{"plus leaf mismatch", T("hal", "capability", "+", "+", "info"), capTopic("pwm", 2, "state"), false},
		{"control method", T("hal", "capability", "+", "+", "control", "+"), capTopic("pwm", 0, "control", "set_duty"), true},
		{"control too short", T("hal", "capability", "+", "+", "control", "+"), capTopic("pwm", 0, "control"), false},
		{"hash under hal", T("hal", "#"), capTopic("pwm", 0, "value"), true},
		{"hash matches parent", T("hal", "#"), T("hal"), true},
		{"hash root", T("#"), T("bridge", "state"), true},
		{"hash elsewhere", T("config", "#"), T("hal", "state"), false},
		{"plus then empty hash", T("hal", "+", "#"), T("hal", "state"), true},
		{"plus then hash too short", T("hal", "+", "#"), T("hal"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBus(4)
			c := b.NewConnection("test")
			s := c.Subscribe(tc.filter)
			c.Publish(b.NewMessage(tc.topic, "m", false))
			if tc.match {
				expectOneOf(t, s, "m")
			} else {
				expectNoMessage(t, s)
			}
		})
	}
}

func TestRetainedReplayThroughWildcards(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(T("hal", "state"), "ready", true))
	c.Publish(b.NewMessage(capTopic("pwm", 0, "info"), "info0", true))
	c.Publish(b.NewMessage(capTopic("pwm", 1, "info"), "info1", true))
	c.Publish(b.NewMessage(capTopic("pwm", 0, "value"), "value0", true))

	cases := []struct {
		filter Topic
		want   []string
	}{
		{T("hal", "#"), []string{"ready", "info0", "info1", "value0"}},
		{T("hal", "capability", "pwm", "+", "info"), []string{"info0", "info1"}},
		{T("hal", "capability", "+", "+", "+"), []string{"info0", "info1", "value0"}},
		{capTopic("pwm", 0, "#"), []string{"info0", "value0"}},
	}
	for _, tc := range cases {
		s := c.Subscribe(tc.filter)
		assertUnorderedEqual(t, drainPayloads(t, s, len(tc.want)), tc.want)
		c.Unsubscribe(s)
	}
}

func TestRetainedClearOnRemovedDevice(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(capTopic("pwm", 0, "info"), "info0", true))
	c.Publish(b.NewMessage(capTopic("pwm", 1, "info"), "info1", true))

	watch := c.Subscribe(T("hal", "capability", "pwm", "+", "info"))
	_ = drainPayloads(t, watch, 2)

	// A nil retained payload clears the topic and is still delivered live.
	c.Publish(b.NewMessage(capTopic("pwm", 0, "info"), nil, true))
	select {
	case m := <-watch.Channel():
		if m.Payload != nil || m.Topic[3] != 0 {
			t.Fatalf("clear delivered as %v %#v", m.Topic, m.Payload)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("clear not delivered")
	}

	s := c.Subscribe(T("hal", "capability", "pwm", "+", "info"))
	got := drainPayloads(t, s, 1)
	if got[0] != "info1" {
		t.Fatalf("expected only info1 after clear, got %v", got)
	}

	// Clearing an unknown topic is a no-op.
	c.Publish(b.NewMessage(capTopic("pwm", 9, "info"), nil, true))
}

// -----------------------------------------------------------------------------
// Request–Reply
// -----------------------------------------------------------------------------

func TestRequestReply_ControlRoundTrip(t *testing.T) {
	b := NewBus(8)
	ui := b.NewConnection("ui")
	hal := b.NewConnection("hal")

	ctrl := hal.Subscribe(T("hal", "capability", "+", "+", "control", "+"))
	defer hal.Unsubscribe(ctrl)

	go func() {
		if msg, ok := <-ctrl.Channel(); ok {
			hal.Reply(msg, map[string]any{"ok": true, "method": msg.Topic[5]}, false)
		}
	}()

	req := b.NewMessage(capTopic("pwm", 0, "control", "status"), nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	reply, err := ui.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error waiting for reply: %v", err)
	}
	m, ok := reply.Payload.(map[string]any)
	if !ok || m["ok"] != true || m["method"] != "status" {
		t.Fatalf("unexpected reply payload: %#v", reply.Payload)
	}
	if !req.CanReply() || !topicsEqual(reply.Topic, req.ReplyTo) {
		t.Fatalf("reply topic %v != request ReplyTo %v", reply.Topic, req.ReplyTo)
	}
}

func TestRequestReply_Timeout(t *testing.T) {
	b := NewBus(8)
	ui := b.NewConnection("ui")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ui.RequestWait(ctx, b.NewMessage(capTopic("pwm", 3, "control", "status"), nil, false))
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestRequestReply_ManualSubscription(t *testing.T) {
	b := NewBus(8)
	ui := b.NewConnection("ui")
	hal := b.NewConnection("hal")

	reqTopic := capTopic("pwm", 0, "control", "get_pwm")
	reqSub := hal.Subscribe(reqTopic)
	defer hal.Unsubscribe(reqSub)

	replySub := ui.Request(b.NewMessage(reqTopic, map[string]any{"channel": 3}, false))
	defer ui.Unsubscribe(replySub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if msg, ok := <-reqSub.Channel(); ok {
			hal.Reply(msg, map[string]any{"off": 2048}, false)
		}
	}()

	select {
	case got := <-replySub.Channel():
		m, ok := got.Payload.(map[string]any)
		if !ok || m["off"] != 2048 {
			t.Fatalf("unexpected reply: %#v", got.Payload)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for manual reply")
	}
	<-done
}

func TestReply_NoReplyTo(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("c")
	s := c.Subscribe(T("#"))

	m := b.NewMessage(T("hal", "state"), "ready", false)
	if m.CanReply() {
		t.Fatal("fresh message claims a reply topic")
	}
	c.Reply(m, "ignored", false)
	expectNoMessage(t, s)
}

// -----------------------------------------------------------------------------
// Connections and queues
// -----------------------------------------------------------------------------

func TestTopic_InvalidTokenPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for non-comparable token, got none")
		}
	}()
	_ = T("hal", []byte{1, 2, 3})
}

func TestDisconnectClosesSubscriptions(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("c")
	s1 := c.Subscribe(T("config", "hal"))
	s2 := c.Subscribe(T("hal", "capability", "+", "+", "control", "+"))

	c.Disconnect()
	for _, s := range []*Subscription{s1, s2} {
		if _, ok := <-s.Channel(); ok {
			t.Fatal("channel still open after Disconnect")
		}
	}
	// Publishing after disconnect must not panic on closed channels.
	c.Publish(b.NewMessage(capTopic("pwm", 0, "control", "reset"), "late", false))
	c.Unsubscribe(s1)
}

func TestQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("c")
	s := c.Subscribe(capTopic("pwm", 0, "value"))
	for _, p := range []string{"1", "2", "3"} {
		c.Publish(b.NewMessage(capTopic("pwm", 0, "value"), p, false))
	}
	got := drainPayloads(t, s, 2)
	if got[0] != "2" || got[1] != "3" {
		t.Fatalf("got %v, want [2 3]", got)
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func topicsEqual(a, b Topic) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func expectOneOf(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		if s, ok := got.Payload.(string); !ok || s != want {
			t.Fatalf("unexpected payload: %v (want %q)", got.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %#v", got)
	case <-time.After(40 * time.Millisecond):
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			s, ok := m.Payload.(string)
			if !ok {
				t.Fatalf("non-string payload in drain: %#v", m.Payload)
			}
			out = append(out, s)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(out) != n {
		t.Fatalf("expected %d messages, got %d (%v)", n, len(out), out)
	}
	return out
}

func assertUnorderedEqual(t *testing.T, got, want []string) {
	t.Helper()
	got = append([]string(nil), got...)
	want = append([]string(nil), want...)
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
