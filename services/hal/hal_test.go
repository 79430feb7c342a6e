package hal

import (
	"context"
	"sync"
	"testing"
	"time"

	"tinygo.org/x/drivers"

	"pca9685-go/bus"
	"pca9685-go/errcode"
	"pca9685-go/types"
)

// ---- fakes ----

type fakeAdaptor struct {
	id     string
	mu     sync.Mutex
	n      int
	closed bool
	fail   error
}

func (f *fakeAdaptor) ID() string { return f.id }
func (f *fakeAdaptor) Capabilities() []CapInfo {
	return []CapInfo{{Kind: "fake", Info: types.Info{SchemaVersion: 1, Driver: "fake"}}}
}
func (f *fakeAdaptor) Control(kind, method string, payload any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch method {
	case "inc":
		if f.fail != nil {
			return nil, f.fail
		}
		f.n++
		return f.n, nil
	default:
		return nil, errcode.Unsupported
	}
}
func (f *fakeAdaptor) Value(kind string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n, true
}
func (f *fakeAdaptor) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type fakeBuilder struct {
	mu    sync.Mutex
	built map[string]*fakeAdaptor
}

func (b *fakeBuilder) Build(in BuildInput) (BuildOutput, error) {
	var p struct {
		Fail bool `json:"fail"`
	}
	if err := DecodeJSON(in.ParamsJSON, &p); err != nil {
		return BuildOutput{}, err
	}
	if p.Fail {
		return BuildOutput{}, errcode.BusError
	}
	a := &fakeAdaptor{id: in.DeviceID}
	b.mu.Lock()
	b.built[in.DeviceID] = a
	b.mu.Unlock()
	return BuildOutput{Adaptor: a, BusID: in.BusRef.ID}, nil
}

func (b *fakeBuilder) get(id string) *fakeAdaptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.built[id]
}

var (
	fakeOnce sync.Once
	fakes    = &fakeBuilder{built: map[string]*fakeAdaptor{}}
)

type noBuses struct{}

func (noBuses) ByID(string) (drivers.I2C, bool) { return nil, false }

// ---- helpers ----

func startHAL(t *testing.T) (*bus.Connection, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	fakeOnce.Do(func() { RegisterBuilder("fake", fakes) })

	b := bus.NewBus(32)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, b.NewConnection("hal"), noBuses{})
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b.NewConnection("test"), cancel, done
}

func waitState(t *testing.T, conn *bus.Connection, level string) types.HALState {
	t.Helper()
	sub := conn.Subscribe(bus.T("hal", "state"))
	defer conn.Unsubscribe(sub)
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-sub.Channel():
			st, _ := m.Payload.(types.HALState)
			if st.Level == level {
				return st
			}
		case <-deadline:
			t.Fatalf("timeout waiting for hal state %q", level)
		}
	}
}

func call(t *testing.T, conn *bus.Connection, kind string, id int, method string, payload any) types.Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := conn.RequestWait(ctx, conn.NewMessage(capTopicInt(kind, id, "control", method), payload, false))
	if err != nil {
		t.Fatalf("%s/%d/%s: %v", kind, id, method, err)
	}
	r, ok := m.Payload.(types.Reply)
	if !ok {
		t.Fatalf("reply payload %T", m.Payload)
	}
	return r
}

func retained(conn *bus.Connection, topic bus.Topic) (any, bool) {
	sub := conn.Subscribe(topic)
	defer conn.Unsubscribe(sub)
	select {
	case m := <-sub.Channel():
		return m.Payload, true
	case <-time.After(50 * time.Millisecond):
		return nil, false
	}
}

func configure(conn *bus.Connection, devs ...types.Device) {
	conn.Publish(conn.NewMessage(bus.T("config", "hal"), types.HALConfig{Devices: devs}, true))
}

// ---- tests ----

func TestHALControlRoundTrip(t *testing.T) {
	conn, _, _ := startHAL(t)
	waitState(t, conn, "idle")

	configure(conn, types.Device{ID: "rt0", Type: "fake"})
	waitState(t, conn, "ready")

	if _, ok := retained(conn, capTopicInt("fake", 0, "info")); !ok {
		t.Fatal("capability info not retained")
	}

	r := call(t, conn, "fake", 0, "inc", nil)
	if !r.OK || r.Result != 1 {
		t.Fatalf("reply %+v", r)
	}
	if v, ok := retained(conn, capTopicInt("fake", 0, "value")); !ok || v != 1 {
		t.Fatalf("value %v %v", v, ok)
	}

	r = call(t, conn, "fake", 0, "nope", nil)
	if r.OK || r.Error != string(errcode.Unsupported) {
		t.Fatalf("reply %+v", r)
	}
	r = call(t, conn, "fake", 9, "inc", nil)
	if r.OK || r.Error != string(errcode.UnknownCapability) {
		t.Fatalf("reply %+v", r)
	}
}

func TestHALDegradedOnBusError(t *testing.T) {
	conn, _, _ := startHAL(t)
	configure(conn, types.Device{ID: "deg0", Type: "fake"})
	waitState(t, conn, "ready")

	fakes.get("deg0").mu.Lock()
	fakes.get("deg0").fail = &errcode.E{C: errcode.Timeout, Op: "i2c"}
	fakes.get("deg0").mu.Unlock()

	r := call(t, conn, "fake", 0, "inc", nil)
	if r.OK || r.Error != string(errcode.Timeout) {
		t.Fatalf("reply %+v", r)
	}
	v, _ := retained(conn, capTopicInt("fake", 0, "state"))
	st, _ := v.(types.CapabilityStatus)
	if st.Link != types.LinkDegraded || st.Error != string(errcode.Timeout) {
		t.Fatalf("state %+v", v)
	}
}

func TestHALRemovesDevicesAndReportsBuildErrors(t *testing.T) {
	conn, _, _ := startHAL(t)
	configure(conn, types.Device{ID: "rm0", Type: "fake"})
	waitState(t, conn, "ready")
	a := fakes.get("rm0")

	configure(conn,
		types.Device{ID: "rm1", Type: "fake", Params: map[string]any{"fail": true}},
		types.Device{ID: "rm2", Type: "missing"},
	)
	st := waitState(t, conn, "error")
	if st.Status != "apply_config_failed" || st.Error == "" {
		t.Fatalf("state %+v", st)
	}
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if !closed {
		t.Fatal("removed adaptor not closed")
	}
	if _, ok := retained(conn, capTopicInt("fake", 0, "info")); ok {
		t.Fatal("info still retained after removal")
	}
}

func TestHALStopClosesAdaptors(t *testing.T) {
	conn, cancel, done := startHAL(t)
	configure(conn, types.Device{ID: "st0", Type: "fake"})
	waitState(t, conn, "ready")

	cancel()
	<-done
	if a := fakes.get("st0"); !a.closed {
		t.Fatal("adaptor not closed on stop")
	}
	v, _ := retained(conn, bus.T("hal", "state"))
	if st, _ := v.(types.HALState); st.Level != "stopped" {
		t.Fatalf("state %+v", v)
	}
}

func TestDecodeJSON(t *testing.T) {
	var p struct {
		A int `json:"a"`
	}
	for _, src := range []any{`{"a":3}`, []byte(`{"a":3}`), map[string]any{"a": 3}} {
		p.A = 0
		if err := DecodeJSON(src, &p); err != nil || p.A != 3 {
			t.Fatalf("%T: %v %d", src, err, p.A)
		}
	}
	if err := DecodeJSON(nil, &p); err != nil {
		t.Fatal(err)
	}
	err := DecodeJSON("{", &p)
	if errcode.Of(err) != errcode.InvalidPayload {
		t.Fatalf("err=%v", err)
	}
}

func TestAsInt(t *testing.T) {
	for _, v := range []any{3, int64(3), uint8(3), uint16(3), 3.0, "3"} {
		if n, ok := asInt(v); !ok || n != 3 {
			t.Fatalf("%T: %d %v", v, n, ok)
		}
	}
	if _, ok := asInt("x"); ok {
		t.Fatal("asInt(\"x\") ok")
	}
}
