package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: profile name (same value placed in ctx under CtxDeviceKey)
// Val: raw YAML for that profile
// -----------------------------------------------------------------------------

const cfgSim = `
buses:
  - id: i2c0
    path: sim
hal:
  devices:
    - id: pwm0
      type: pca9685
      bus_ref: {type: i2c, id: i2c0}
      params: {addr: 0x40, freq_hz: 60}
heartbeat:
  interval_ms: 2000
`

const cfgRPi = `
buses:
  - id: i2c1
    path: /dev/i2c-1
    timeout_ms: 100
output_enable:
  chip: gpiochip0
  line: GPIO17
hal:
  devices:
    - id: pwm0
      type: pca9685
      bus_ref: {type: i2c, id: i2c1}
      params: {addr: 0x40, freq_hz: 60}
heartbeat:
  interval_ms: 5000
bridge:
  transport: {type: tcp, listen: ":9685"}
  forward: ["hal/capability/+/+/value", "hal/capability/+/+/state"]
  request_timeout_ms: 2000
`

var embeddedConfigs = map[string][]byte{
	"sim": []byte(cfgSim),
	"rpi": []byte(cfgRPi),
}

// DefaultProfile is used when neither a file nor a profile is given.
const DefaultProfile = "sim"
