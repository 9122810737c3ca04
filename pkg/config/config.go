package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/goecho/pkg/bus"
	"github.com/itohio/goecho/pkg/channel"
	"github.com/itohio/goecho/pkg/transport"
)

// Bus libraries.
const (
	LibraryPeriph = "periph.io"
	LibraryRpio   = "rpio"
	LibraryMock   = "mock"
)

// Transport kinds.
const (
	TransportSerial = "serial"
	TransportStdout = "stdout"
)

// Host outputs.
const (
	OutputConsole = "console"
	OutputMQTT    = "mqtt"
)

var ErrInvalid = errors.New("invalid config")

// Config represents the application configuration.
type Config struct {
	ADC       ADCConfig       `yaml:"adc"`
	Bus       BusConfig       `yaml:"bus"`
	Transport TransportConfig `yaml:"transport"`
	Cycle     CycleConfig     `yaml:"cycle"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Host      HostConfig      `yaml:"host"`
}

// ADCConfig contains the converter reference and the channel table.
type ADCConfig struct {
	ReferenceVoltage float32         `yaml:"reference_voltage"`
	Channels         []ChannelConfig `yaml:"channels"`
}

// ChannelConfig is one row of the channel table.
type ChannelConfig struct {
	ID      int     `yaml:"id"`
	Name    string  `yaml:"name"`
	Bus     int     `yaml:"bus"`
	Command int     `yaml:"command"`
	Samples int     `yaml:"samples"`
	Scale   float32 `yaml:"scale"`
	Offset  float32 `yaml:"offset"`
}

// BusConfig contains the SPI bus and chip select configuration.
type BusConfig struct {
	Library        string        `yaml:"library"`
	Device         string        `yaml:"device"`
	Frequency      int           `yaml:"frequency"`
	Mode           int           `yaml:"mode"`
	ChipSelect     []string      `yaml:"chip_select"`      // periph.io pin names, one per line
	ChipSelectPins []int         `yaml:"chip_select_pins"` // BCM numbers for rpio
	SettleDelay    time.Duration `yaml:"settle_delay"`
	Timeout        time.Duration `yaml:"timeout"` // per transaction
}

// TransportConfig contains the host link configuration.
type TransportConfig struct {
	Kind     string        `yaml:"kind"`
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	FIFOSize int           `yaml:"fifo_size"`
	Direct   bool          `yaml:"direct"` // write to the link without the FIFO pump
	Timeout  time.Duration `yaml:"timeout"` // per byte
}

// CycleConfig contains scheduling and retry parameters.
type CycleConfig struct {
	Interval    time.Duration `yaml:"interval"`
	VoltageIDs  []int         `yaml:"voltage_ids,omitempty"` // empty means all voltage channels
	MaxFailures int           `yaml:"max_failures"`
	Backoff     time.Duration `yaml:"backoff"`
}

// HeartbeatConfig contains the heartbeat LED pin. An empty pin disables it.
type HeartbeatConfig struct {
	Pin string `yaml:"pin"`
}

// HostConfig contains the receiving side configuration.
type HostConfig struct {
	Port     string     `yaml:"port"`
	BaudRate int        `yaml:"baud_rate"`
	Outputs  []string   `yaml:"outputs"`
	MQTT     MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains the broker connection.
type MQTTConfig struct {
	Server   string `yaml:"server"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"` // prefix, channel id is appended
}

// Default returns a default configuration with the board channel table.
func Default() *Config {
	return &Config{
		ADC: ADCConfig{
			ReferenceVoltage: 3.3,
			Channels:         Channels(channel.DefaultDescriptors(), channel.DefaultCalibrations()),
		},
		Bus: BusConfig{
			Library:        LibraryPeriph,
			Device:         "/dev/spidev0.0",
			Frequency:      1_000_000,
			Mode:           0,
			ChipSelect:     []string{"GPIO8", "GPIO7", "GPIO25"},
			ChipSelectPins: []int{8, 7, 25},
			SettleDelay:    10 * time.Microsecond,
			Timeout:        10 * time.Millisecond,
		},
		Transport: TransportConfig{
			Kind:     TransportSerial,
			Port:     "/dev/ttyAMA0",
			BaudRate: transport.DefaultBaudRate,
			FIFOSize: transport.DefaultFIFOSize,
			Timeout:  100 * time.Millisecond,
		},
		Cycle: CycleConfig{
			Interval:    time.Second,
			MaxFailures: 5,
			Backoff:     10 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Pin: "GPIO17",
		},
		Host: HostConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: transport.DefaultBaudRate,
			Outputs:  []string{OutputConsole},
			MQTT: MQTTConfig{
				Server:   "tcp://localhost:1883",
				ClientID: "goecho",
				Topic:    "goecho/channel",
			},
		},
	}
}

// Channels converts a descriptor and calibration table to config rows.
func Channels(descs []channel.Descriptor, cals []channel.Calibration) []ChannelConfig {
	rows := make([]ChannelConfig, len(descs))
	for i, d := range descs {
		rows[i] = ChannelConfig{
			ID:      d.ID,
			Name:    d.Name,
			Bus:     int(d.Bus),
			Command: int(d.Command),
			Samples: d.Samples,
		}
		if i < len(cals) {
			rows[i].Scale = cals[i].Scale
			rows[i].Offset = cals[i].Offset
		}
	}
	return rows
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.ADC.ReferenceVoltage == 0 {
		c.ADC.ReferenceVoltage = def.ADC.ReferenceVoltage
	}
	if len(c.ADC.Channels) == 0 {
		c.ADC.Channels = def.ADC.Channels
	}

	if c.Bus.Library == "" {
		c.Bus.Library = def.Bus.Library
	}
	if c.Bus.Device == "" {
		c.Bus.Device = def.Bus.Device
	}
	if c.Bus.Frequency == 0 {
		c.Bus.Frequency = def.Bus.Frequency
	}
	if len(c.Bus.ChipSelect) == 0 {
		c.Bus.ChipSelect = def.Bus.ChipSelect
	}
	if len(c.Bus.ChipSelectPins) == 0 {
		c.Bus.ChipSelectPins = def.Bus.ChipSelectPins
	}
	if c.Bus.Timeout == 0 {
		c.Bus.Timeout = def.Bus.Timeout
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = def.Transport.Kind
	}
	if c.Transport.Port == "" {
		c.Transport.Port = def.Transport.Port
	}
	if c.Transport.BaudRate == 0 {
		c.Transport.BaudRate = def.Transport.BaudRate
	}
	if c.Transport.FIFOSize == 0 {
		c.Transport.FIFOSize = def.Transport.FIFOSize
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = def.Transport.Timeout
	}

	if c.Cycle.Interval == 0 {
		c.Cycle.Interval = def.Cycle.Interval
	}
	if c.Cycle.MaxFailures == 0 {
		c.Cycle.MaxFailures = def.Cycle.MaxFailures
	}
	if c.Cycle.Backoff == 0 {
		c.Cycle.Backoff = def.Cycle.Backoff
	}

	if c.Host.Port == "" {
		c.Host.Port = def.Host.Port
	}
	if c.Host.BaudRate == 0 {
		c.Host.BaudRate = def.Host.BaudRate
	}
	if len(c.Host.Outputs) == 0 {
		c.Host.Outputs = def.Host.Outputs
	}
	if c.Host.MQTT.Server == "" {
		c.Host.MQTT.Server = def.Host.MQTT.Server
	}
	if c.Host.MQTT.ClientID == "" {
		c.Host.MQTT.ClientID = def.Host.MQTT.ClientID
	}
	if c.Host.MQTT.Topic == "" {
		c.Host.MQTT.Topic = def.Host.MQTT.Topic
	}
}

// Registry builds the channel registry from the channel table. Sample counts
// above the buffer capacity fail with channel.ErrCapacityExceeded.
func (c *Config) Registry() (*channel.Registry, error) {
	descs := make([]channel.Descriptor, len(c.ADC.Channels))
	cals := make([]channel.Calibration, len(c.ADC.Channels))
	for i, row := range c.ADC.Channels {
		if row.Command < 0 || row.Command > 0xFF {
			return nil, fmt.Errorf("%w: channel %d command 0x%X", ErrInvalid, row.ID, row.Command)
		}
		if row.Bus < 0 || row.Bus > 0xFF {
			return nil, fmt.Errorf("%w: channel %d bus %d", ErrInvalid, row.ID, row.Bus)
		}
		descs[i] = channel.Descriptor{
			ID:      row.ID,
			Name:    row.Name,
			Bus:     bus.Line(row.Bus),
			Command: byte(row.Command),
			Samples: row.Samples,
		}
		cals[i] = channel.Calibration{Scale: row.Scale, Offset: row.Offset}
	}
	return channel.NewRegistry(descs, cals)
}

// Validate checks the configuration, including the channel table.
func (c *Config) Validate() error {
	if c.ADC.ReferenceVoltage <= 0 {
		return fmt.Errorf("%w: reference voltage %v", ErrInvalid, c.ADC.ReferenceVoltage)
	}
	reg, err := c.Registry()
	if err != nil {
		return err
	}

	switch c.Bus.Library {
	case LibraryPeriph:
		if len(c.Bus.ChipSelect) != len(bus.Lines) {
			return fmt.Errorf("%w: %d chip select pins, want %d", ErrInvalid, len(c.Bus.ChipSelect), len(bus.Lines))
		}
	case LibraryRpio:
		if len(c.Bus.ChipSelectPins) != len(bus.Lines) {
			return fmt.Errorf("%w: %d chip select pins, want %d", ErrInvalid, len(c.Bus.ChipSelectPins), len(bus.Lines))
		}
	case LibraryMock:
	default:
		return fmt.Errorf("%w: bus library %q", ErrInvalid, c.Bus.Library)
	}
	if c.Bus.Mode < 0 || c.Bus.Mode > 3 {
		return fmt.Errorf("%w: spi mode %d", ErrInvalid, c.Bus.Mode)
	}
	if c.Bus.Timeout < 0 || c.Bus.SettleDelay < 0 {
		return fmt.Errorf("%w: negative bus timing", ErrInvalid)
	}

	switch c.Transport.Kind {
	case TransportSerial, TransportStdout:
	default:
		return fmt.Errorf("%w: transport %q", ErrInvalid, c.Transport.Kind)
	}

	if c.Cycle.Interval <= 0 {
		return fmt.Errorf("%w: cycle interval %s", ErrInvalid, c.Cycle.Interval)
	}
	if c.Cycle.MaxFailures < 0 {
		return fmt.Errorf("%w: max failures %d", ErrInvalid, c.Cycle.MaxFailures)
	}
	voltages := reg.VoltageIDs()
	for _, id := range c.Cycle.VoltageIDs {
		if !slices.Contains(voltages, id) {
			return fmt.Errorf("%w: %d is not a paired voltage channel", channel.ErrInvalidChannel, id)
		}
	}

	for _, out := range c.Host.Outputs {
		switch out {
		case OutputConsole, OutputMQTT:
		default:
			return fmt.Errorf("%w: output %q", ErrInvalid, out)
		}
	}
	return nil
}

// VoltageIDs returns the voltage channels the cycle iterates over.
func (c *Config) VoltageIDs(reg *channel.Registry) []int {
	if len(c.Cycle.VoltageIDs) > 0 {
		return append([]int(nil), c.Cycle.VoltageIDs...)
	}
	return reg.VoltageIDs()
}
