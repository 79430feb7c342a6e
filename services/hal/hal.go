// services/hal/hal.go
package hal

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"pca9685-go/bus"
	"pca9685-go/errcode"
	"pca9685-go/types"
	"pca9685-go/x/timex"
)

// -----------------------------------------------------------------------------
// Entry point
// -----------------------------------------------------------------------------

// Run serves HAL configuration and capability controls on conn until ctx is
// done. Every adaptor is closed before it returns.
func Run(ctx context.Context, conn *bus.Connection, i2cFactory I2CBusFactory) {
	s := &service{
		conn:       conn,
		i2cFactory: i2cFactory,
		devices:    map[string]devEntry{},
		capToDev:   map[capKey]string{},
		nextCapID:  map[string]int{},
		changed:    make(chan string, 16),
	}
	s.loop(ctx)
}

type devEntry struct {
	adaptor Adaptor
	caps    map[string]int // kind -> numeric capability id
	busID   string
}

type capKey struct {
	kind string
	id   int
}

type service struct {
	conn       *bus.Connection
	i2cFactory I2CBusFactory

	devices   map[string]devEntry
	capToDev  map[capKey]string
	nextCapID map[string]int

	// device ids whose value moved outside a control call
	changed chan string
}

// -----------------------------------------------------------------------------
// Main loop
// -----------------------------------------------------------------------------

func (s *service) loop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "hal"))
	ctrlSub := s.conn.Subscribe(bus.T("hal", "capability", bus.SingleWild, bus.SingleWild, "control", bus.SingleWild))
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			s.publishState("stopped", "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			var cfg types.HALConfig
			if err := DecodeJSON(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.publishState("error", "apply_config_failed", err)
				continue
			}
			s.publishState("ready", "configured", nil)

		case msg := <-ctrlSub.Channel():
			s.handleControl(msg)

		case devID := <-s.changed:
			if ent, ok := s.devices[devID]; ok {
				s.publishValues(ent)
			}
		}
	}
}

// hal/capability/<kind>/<id:int>/control/<method>
func (s *service) handleControl(msg *bus.Message) {
	if len(msg.Topic) < 6 {
		return
	}
	kind, _ := msg.Topic[2].(string)
	idNum, ok := asInt(msg.Topic[3])
	if !ok || kind == "" {
		s.replyErr(msg, errcode.InvalidParams)
		return
	}
	devID, ok := s.capToDev[capKey{kind: kind, id: idNum}]
	if !ok {
		s.replyErr(msg, errcode.UnknownCapability)
		return
	}
	ent := s.devices[devID]
	if ent.adaptor == nil {
		s.replyErr(msg, errcode.UnknownDevice)
		return
	}
	method, _ := msg.Topic[5].(string)

	res, err := ent.adaptor.Control(kind, method, msg.Payload)
	if err != nil {
		code := errcode.Of(err)
		switch code {
		case errcode.Timeout, errcode.BusError, errcode.Nack, errcode.BusStopped:
			s.pubRet(capTopicInt(kind, idNum, "state"),
				types.CapabilityStatus{Link: types.LinkDegraded, TS: timex.NowMs(), Error: string(code)})
		}
		s.replyErr(msg, code)
		return
	}
	s.replyOK(msg, res)
	s.pubRet(capTopicInt(kind, idNum, "state"),
		types.CapabilityStatus{Link: types.LinkUp, TS: timex.NowMs()})
	s.publishValues(ent)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

func (s *service) applyConfig(ctx context.Context, cfg types.HALConfig) error {
	var errs []error
	seen := map[string]struct{}{}

	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		seen[d.ID] = struct{}{}

		// Already running devices keep their state.
		if _, exists := s.devices[d.ID]; exists {
			continue
		}

		b, ok := Lookup(d.Type)
		if !ok {
			errs = append(errs, errcode.Wrap(errcode.Unsupported, d.ID, fmt.Errorf("no builder for type %q", d.Type)))
			continue
		}
		devID := d.ID
		in := BuildInput{
			Ctx:        ctx,
			Buses:      s.i2cFactory,
			DeviceID:   devID,
			Type:       d.Type,
			ParamsJSON: d.Params,
			Changed: func() {
				select {
				case s.changed <- devID:
				default:
				}
			},
		}
		in.BusRef.Type = d.BusRef.Type
		in.BusRef.ID = d.BusRef.ID

		out, err := b.Build(in)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.ID, err))
			continue
		}
		s.addDevice(d.ID, out)
	}

	// Tidy-up: remove devices not in config
	for devID, ent := range s.devices {
		if _, ok := seen[devID]; ok {
			continue
		}
		s.removeDevice(devID, ent)
	}

	return errors.Join(errs...)
}

func (s *service) addDevice(devID string, out BuildOutput) {
	ad := out.Adaptor
	entry := devEntry{adaptor: ad, busID: out.BusID, caps: map[string]int{}}

	for _, ci := range ad.Capabilities() {
		id := s.nextCapID[ci.Kind]
		s.nextCapID[ci.Kind]++

		entry.caps[ci.Kind] = id
		s.capToDev[capKey{kind: ci.Kind, id: id}] = devID

		s.pubRet(capTopicInt(ci.Kind, id, "info"), ci.Info)
		s.pubRet(capTopicInt(ci.Kind, id, "state"),
			types.CapabilityStatus{Link: types.LinkUp, TS: timex.NowMs()})
	}
	s.devices[devID] = entry
	s.publishValues(entry)
}

func (s *service) removeDevice(devID string, ent devEntry) {
	for kind, id := range ent.caps {
		s.pubRet(capTopicInt(kind, id, "info"), nil)
		s.pubRet(capTopicInt(kind, id, "value"), nil)
		s.pubRet(capTopicInt(kind, id, "state"),
			types.CapabilityStatus{Link: types.LinkDown, TS: timex.NowMs()})
		delete(s.capToDev, capKey{kind: kind, id: id})
	}
	if err := ent.adaptor.Close(); err != nil {
		println("[hal] close", devID, "failed:", err.Error())
	}
	delete(s.devices, devID)
}

func (s *service) closeAll() {
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.removeDevice(id, s.devices[id])
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *service) publishValues(ent devEntry) {
	v, ok := ent.adaptor.(Valuer)
	if !ok {
		return
	}
	for kind, id := range ent.caps {
		if val, ok := v.Value(kind); ok {
			s.pubRet(capTopicInt(kind, id, "value"), val)
		}
	}
}

func (s *service) publishState(level, status string, err error) {
	st := types.HALState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.pubRet(bus.T("hal", "state"), st)
}

func (s *service) replyOK(req *bus.Message, result any) {
	s.conn.Reply(req, types.Reply{OK: true, Result: result}, false)
}

func (s *service) replyErr(req *bus.Message, code errcode.Code) {
	s.conn.Reply(req, types.Reply{OK: false, Error: string(code)}, false)
}

func capTopicInt(kind string, id int, rest ...bus.Token) bus.Topic {
	base := bus.Topic{"hal", "capability", kind, id}
	return append(base, rest...)
}

func (s *service) pubRet(t bus.Topic, p any) {
	s.conn.Publish(s.conn.NewMessage(t, p, true))
}
