package config

import (
	"context"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pca9685-go/bus"
	"pca9685-go/errcode"
	"pca9685-go/types"
)

// -----------------------------------------------------------------------------
// String constants
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for the embedded profile name

	// BusSim selects the in-memory chip model instead of a device node.
	BusSim = "sim"

	defaultTimeoutMS = 100
)

// -----------------------------------------------------------------------------
// Document
// -----------------------------------------------------------------------------

type Config struct {
	Buses        []BusConfig     `yaml:"buses"`
	OutputEnable *OEConfig       `yaml:"output_enable,omitempty"`
	HAL          types.HALConfig `yaml:"hal"`

	Heartbeat *types.HeartbeatConfig `yaml:"heartbeat,omitempty"`
	Bridge    *types.BridgeConfig    `yaml:"bridge,omitempty"`
}

type BusConfig struct {
	ID        string `yaml:"id"`
	Type      string `yaml:"type"`
	Path      string `yaml:"path"` // /dev/i2c-N or "sim"
	TimeoutMS int    `yaml:"timeout_ms"`
}

// Timeout is the per-transaction deadline for this bus.
func (b BusConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

// OEConfig names the GPIO line wired to the chip's /OE pin.
type OEConfig struct {
	Chip string `yaml:"chip"`
	Line string `yaml:"line"`
}

// Bus looks a bus up by id.
func (c *Config) Bus(id string) (BusConfig, bool) {
	for _, b := range c.Buses {
		if b.ID == id {
			return b, true
		}
	}
	return BusConfig{}, false
}

// Parse decodes a YAML document, fills defaults and checks references.
func Parse(raw []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, errcode.Wrap(errcode.InvalidPayload, "config", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses a YAML file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// EmbeddedConfigLookup allows overriding how built-in profiles are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// Embedded parses a built-in profile.
func Embedded(device string) (*Config, error) {
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "config", Msg: "no embedded config for device: " + device}
	}
	return Parse(raw)
}

// Default parses the embedded DefaultProfile.
func Default() (*Config, error) { return Embedded(DefaultProfile) }

func (c *Config) applyDefaults() {
	for i := range c.Buses {
		b := &c.Buses[i]
		if b.Type == "" {
			b.Type = "i2c"
		}
		if b.TimeoutMS <= 0 {
			b.TimeoutMS = defaultTimeoutMS
		}
	}
	for i := range c.HAL.Devices {
		d := &c.HAL.Devices[i]
		if d.BusRef.Type == "" && d.BusRef.ID != "" {
			d.BusRef.Type = "i2c"
		}
	}
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for _, b := range c.Buses {
		if b.ID == "" || b.Path == "" {
			return &errcode.E{C: errcode.InvalidParams, Op: "config", Msg: "bus needs id and path"}
		}
		if seen[b.ID] {
			return &errcode.E{C: errcode.InvalidParams, Op: "config", Msg: "duplicate bus " + b.ID}
		}
		seen[b.ID] = true
	}
	ids := map[string]bool{}
	for _, d := range c.HAL.Devices {
		if d.ID == "" || d.Type == "" {
			return &errcode.E{C: errcode.InvalidParams, Op: "config", Msg: "device needs id and type"}
		}
		if ids[d.ID] {
			return &errcode.E{C: errcode.InvalidParams, Op: "config", Msg: "duplicate device " + d.ID}
		}
		ids[d.ID] = true
		if d.BusRef.ID != "" && !seen[d.BusRef.ID] {
			return &errcode.E{C: errcode.UnknownBus, Op: "config", Msg: d.ID + " -> " + d.BusRef.ID}
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	cfg  *Config
}

// NewConfigService publishes cfg, or the embedded profile named by the
// context's CtxDeviceKey when cfg is nil.
func NewConfigService(cfg *Config) *ConfigService {
	return &ConfigService{Name: serviceName, cfg: cfg}
}

// Publish sends each section retained on config/<key>.
func Publish(conn *bus.Connection, cfg *Config) {
	conn.Publish(conn.NewMessage(bus.T(configPrefix, "buses"), cfg.Buses, true))
	if cfg.OutputEnable != nil {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, "output_enable"), *cfg.OutputEnable, true))
	}
	conn.Publish(conn.NewMessage(bus.T(configPrefix, "hal"), cfg.HAL, true))
	if cfg.Heartbeat != nil {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, "heartbeat"), *cfg.Heartbeat, true))
	}
	if cfg.Bridge != nil {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, "bridge"), *cfg.Bridge, true))
	}
}

func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	cfg := s.cfg
	if cfg == nil {
		device, _ := ctx.Value(CtxDeviceKey).(string)
		if device == "" {
			return &errcode.E{C: errcode.InvalidParams, Op: "config", Msg: "missing device ID in context"}
		}
		var err error
		if cfg, err = Embedded(device); err != nil {
			return err
		}
	}
	Publish(conn, cfg)
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			println("[cfg] publish failed: " + err.Error())
		}
	}()
}
