// Command pca9685-shell is an interactive console for one PCA9685 on a Linux
// I²C bus or on the built-in simulator.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"pca9685-go/drivers/pca9685"
	"pca9685-go/services/config"
	"pca9685-go/services/hal/platform"
	"pca9685-go/services/shell"
	"pca9685-go/transport"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML configuration file")
		profile = flag.String("profile", config.DefaultProfile, "embedded profile when -config is empty")
		sim     = flag.Bool("sim", false, "use the simulated bus regardless of -config")
		busID   = flag.String("bus", "", "bus id (default: first configured bus)")
		addr    = flag.Uint("addr", pca9685.AddressDefault, "7-bit chip address")
		freq    = flag.Uint("freq", 60, "PWM frequency in Hz")
		extClk  = flag.Bool("extclk", false, "run from the EXTCLK pin")
		osc     = flag.Uint("osc", pca9685.OscillatorDefault, "oscillator frequency in Hz")
		check   = flag.Bool("check", false, "reject out-of-range channels")
		script  = flag.String("c", "", "run ';'-separated commands and exit")
	)
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if *sim {
		*cfgPath, *profile = "", "sim"
	}
	cfg, err := loadConfig(*cfgPath, *profile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *busID == "" && len(cfg.Buses) > 0 {
		*busID = cfg.Buses[0].ID
	}

	buses, err := platform.FromConfig(cfg)
	if err != nil {
		log.Fatalf("buses: %v", err)
	}
	defer buses.Close()

	i2c, ok := buses.ByID(*busID)
	if !ok {
		log.Fatalf("unknown bus %q", *busID)
	}

	if cfg.OutputEnable != nil {
		oe, err := transport.OpenOutputEnable(cfg.OutputEnable.Chip, cfg.OutputEnable.Line)
		if err != nil {
			log.Fatalf("output enable: %v", err)
		}
		defer oe.Close()
		if err := oe.Enable(); err != nil {
			log.Fatalf("output enable: %v", err)
		}
		defer oe.Disable()
	}

	dev, err := pca9685.New(i2c, pca9685.Config{
		Address:       uint16(*addr),
		FreqHz:        uint16(*freq),
		OscillatorHz:  uint32(*osc),
		ExternalClock: *extClk,
		CheckChannels: *check,
	})
	if err != nil {
		log.Fatalf("pca9685 at 0x%02X on %s: %v (status %s)", *addr, *busID, err, dev.Status())
	}
	defer dev.Close()
	log.Printf("pca9685 at 0x%02X on %s, %d Hz (prescale %d)", dev.Address(), *busID, dev.Frequency(), dev.Prescale())

	if *script != "" {
		sh := shell.New(dev, os.Stdout)
		for _, line := range strings.Split(*script, ";") {
			if err := sh.Exec(line); err != nil {
				if errors.Is(err, shell.ErrExit) {
					return
				}
				log.Fatalf("%s: %v", strings.TrimSpace(line), err)
			}
		}
		return
	}
	interactive(dev)
}

func loadConfig(path, profile string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Embedded(profile)
}

func interactive(dev *pca9685.Device) {
	var items []readline.PrefixCompleterInterface
	for _, n := range shell.New(dev, io.Discard).Names() {
		items = append(items, readline.PcItem(n))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pca9685> ",
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Fatalf("readline: %v", err)
	}
	defer rl.Close()

	sh := shell.New(dev, rl.Stdout())

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return
		}
		if err := sh.Exec(line); err != nil {
			if errors.Is(err, shell.ErrExit) {
				return
			}
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}
