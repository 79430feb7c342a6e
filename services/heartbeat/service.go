// Package heartbeat periodically probes every discovered pwm capability with
// a status control and keeps a retained health record per capability.
package heartbeat

import (
	"context"
	"time"

	"pca9685-go/bus"
	"pca9685-go/errcode"
	"pca9685-go/services/hal"
	"pca9685-go/types"
	"pca9685-go/x/timex"
)

const (
	defaultInterval = 5 * time.Second
	probeTimeout    = 500 * time.Millisecond
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicPWMInfo         = bus.T("hal", "capability", string(types.KindPWM), bus.SingleWild, "info")
)

type Service struct {
	conn   *bus.Connection
	caps   map[int]bool
	health map[int]types.Health
}

func New(conn *bus.Connection) *Service {
	return &Service{conn: conn, caps: map[int]bool{}, health: map[int]types.Health{}}
}

func (s *Service) serviceLoop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigHeartbeat)
	defer s.conn.Unsubscribe(cfgSub)
	infoSub := s.conn.Subscribe(topicPWMInfo)
	defer s.conn.Unsubscribe(infoSub)

	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			println("[heartbeat] stopping")
			return
		case <-tick.C:
			s.probeAll(ctx)
		case msg := <-infoSub.Channel():
			id, ok := msg.Topic[3].(int)
			if !ok {
				continue
			}
			if msg.Payload == nil {
				delete(s.caps, id)
				delete(s.health, id)
				s.conn.Publish(s.conn.NewMessage(healthTopic(id), nil, true))
				continue
			}
			s.caps[id] = true
		case msg := <-cfgSub.Channel():
			var cfg types.HeartbeatConfig
			if err := hal.DecodeJSON(msg.Payload, &cfg); err != nil {
				println("[heartbeat] bad config: " + err.Error())
				continue
			}
			if cfg.IntervalMS > 0 {
				tick.Reset(time.Duration(cfg.IntervalMS) * time.Millisecond)
				println("[heartbeat] interval", cfg.IntervalMS, "ms")
			}
		}
	}
}

func (s *Service) probeAll(ctx context.Context) {
	for id := range s.caps {
		h := s.probe(ctx, id)
		prev, seen := s.health[id]
		if seen && prev.OK == h.OK && prev.Error == h.Error {
			continue
		}
		s.health[id] = h
		if h.OK {
			println("[heartbeat] pwm", id, "ok")
		} else {
			println("[heartbeat] pwm", id, "failed:", h.Error)
		}
		s.conn.Publish(s.conn.NewMessage(healthTopic(id), h, true))
	}
}

func (s *Service) probe(ctx context.Context, id int) types.Health {
	h := types.Health{TS: timex.NowMs()}
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	t := bus.T("hal", "capability", string(types.KindPWM), id, "control", "status")
	m, err := s.conn.RequestWait(pctx, s.conn.NewMessage(t, nil, false))
	if err != nil {
		h.Error = string(errcode.Of(err))
		return h
	}
	rep, ok := m.Payload.(types.Reply)
	if !ok {
		if err := hal.DecodeJSON(m.Payload, &rep); err != nil {
			h.Error = string(errcode.InvalidPayload)
			return h
		}
	}
	h.OK, h.Error = rep.OK, rep.Error
	return h
}

func healthTopic(id int) bus.Topic {
	return bus.T("heartbeat", string(types.KindPWM), id)
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context) {
	go s.serviceLoop(ctx)
}
