// Command pwm-hal runs the HAL service for the configured PWM controllers and
// serves their capabilities on the in-process bus until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"pca9685-go/bus"
	"pca9685-go/services/bridge"
	"pca9685-go/services/config"
	"pca9685-go/services/hal"
	_ "pca9685-go/services/hal/devices/pca9685adpt"
	"pca9685-go/services/hal/platform"
	"pca9685-go/services/heartbeat"
	"pca9685-go/transport"
	"pca9685-go/types"
)

func printTopic(prefix string, t bus.Topic) {
	print(prefix, " ")
	for i, tok := range t {
		if i > 0 {
			print("/")
		}
		switch v := tok.(type) {
		case string:
			print(v)
		case int:
			print(strconv.Itoa(v))
		default:
			print("?")
		}
	}
	println()
}

func main() {
	cfgPath := flag.String("config", "", "YAML configuration file")
	profile := flag.String("profile", config.DefaultProfile, "embedded profile when -config is empty")
	monitor := flag.Bool("monitor", true, "print hal/# traffic")
	demo := flag.Bool("demo", false, "fade channel 0 of pwm/0 up and down")
	bridgeAddr := flag.String("bridge", "", "serve the bus bridge on this TCP address (overrides config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg *config.Config
	if *cfgPath != "" {
		c, err := config.Load(*cfgPath)
		if err != nil {
			println("[main] config:", err.Error())
			os.Exit(1)
		}
		cfg = c
	} else {
		c, err := config.Embedded(*profile)
		if err != nil {
			println("[main] config:", err.Error())
			os.Exit(1)
		}
		cfg = c
	}

	if *bridgeAddr != "" {
		bc := types.BridgeConfig{Forward: []string{"hal/capability/+/+/value"}}
		if cfg.Bridge != nil {
			bc = *cfg.Bridge
		}
		bc.Transport = types.BridgeTransport{Type: "tcp", Listen: *bridgeAddr}
		cfg.Bridge = &bc
	}

	buses, err := platform.FromConfig(cfg)
	if err != nil {
		println("[main] buses:", err.Error())
		os.Exit(1)
	}
	defer buses.Close()

	if cfg.OutputEnable != nil {
		oe, err := transport.OpenOutputEnable(cfg.OutputEnable.Chip, cfg.OutputEnable.Line)
		if err != nil {
			println("[main] output enable:", err.Error())
			os.Exit(1)
		}
		defer oe.Close()
		if err := oe.Enable(); err != nil {
			println("[main] output enable:", err.Error())
		}
		defer oe.Disable()
	}

	println("[main] bootstrapping bus …")
	b := bus.NewBus(16)
	halConn := b.NewConnection("hal")
	uiConn := b.NewConnection("ui")

	if *monitor {
		mon := uiConn.Subscribe(bus.T("hal", bus.MultiWild))
		go func() {
			for m := range mon.Channel() {
				printTopic("[monitor] <-", m.Topic)
			}
		}()
	}

	halDone := make(chan struct{})
	go func() {
		hal.Run(ctx, halConn, buses)
		close(halDone)
	}()
	heartbeat.New(b.NewConnection("heartbeat")).Start(ctx)
	go bridge.Start(ctx, b.NewConnection("bridge"))
	config.NewConfigService(cfg).Start(ctx, b.NewConnection("config"))

	if *demo {
		go fade(ctx, uiConn)
	}

	<-ctx.Done()
	println("[main] shutting down …")
	<-halDone
}

// fade ramps channel 0 between off and full scale every two seconds.
func fade(ctx context.Context, conn *bus.Connection) {
	t := bus.T("hal", "capability", string(types.KindPWM), 0, "control", "ramp")
	to := uint16(4095)
	for {
		rctx, cancel := context.WithTimeout(ctx, time.Second)
		reply, err := conn.RequestWait(rctx, conn.NewMessage(t,
			types.PWMRamp{Channel: 0, To: to, DurationMs: 1500, Steps: 50}, false))
		cancel()
		switch {
		case err != nil:
			println("[demo] ramp:", err.Error())
		case !reply.Payload.(types.Reply).OK:
			println("[demo] ramp:", reply.Payload.(types.Reply).Error)
		}
		to = 4095 - to
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
