package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"balancebot/internal/balance"
	"balancebot/internal/motor"
	"balancebot/internal/pid"
	"balancebot/internal/sensors/mpu6050"
	"balancebot/internal/sim"
	"balancebot/internal/stream"
)

type Config struct {
	Sensor    SensorConfig    `yaml:"sensor"`
	PID       PIDConfig       `yaml:"pid"`
	Motor     MotorConfig     `yaml:"motor"`
	Loop      LoopConfig      `yaml:"loop"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sim       SimConfig       `yaml:"sim"`
}

type SensorConfig struct {
	I2CBus  int    `yaml:"i2c_bus"`
	Address uint16 `yaml:"address"`
	// FirmwarePath is the DMP program image loaded at startup.
	FirmwarePath string `yaml:"firmware_path"`
	// InterruptPin is the BCM GPIO wired to the sensor INT output.
	InterruptPin int             `yaml:"interrupt_pin"`
	MaxSpin      int             `yaml:"max_spin"`
	Offsets      mpu6050.Offsets `yaml:"offsets"`
}

type PIDConfig struct {
	Kp             float64       `yaml:"kp"`
	Ki             float64       `yaml:"ki"`
	Kd             float64       `yaml:"kd"`
	Setpoint       float64       `yaml:"setpoint"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	OutMin         float64       `yaml:"out_min"`
	OutMax         float64       `yaml:"out_max"`
}

type MotorConfig struct {
	// Backend is "sysfs" (default) or "periph".
	Backend        string          `yaml:"backend"`
	DeadBand       int             `yaml:"dead_band"`
	MaxSpeed       int             `yaml:"max_speed"`
	PWMFrequencyHz int             `yaml:"pwm_frequency_hz"`
	Channels       []ChannelConfig `yaml:"channels"`
}

type ChannelConfig struct {
	Name       string  `yaml:"name"`
	ForwardPin int     `yaml:"forward_pin"`
	ReversePin int     `yaml:"reverse_pin"`
	PWMChannel int     `yaml:"pwm_channel"`
	PWMPin     string  `yaml:"pwm_pin"`
	Scale      float64 `yaml:"scale"`
}

type LoopConfig struct {
	// Idle is slept when an iteration finds no packet; 0 busy-polls.
	Idle time.Duration `yaml:"idle"`
}

type TelemetryConfig struct {
	Interval time.Duration `yaml:"interval"`
	UDP      UDPConfig     `yaml:"udp"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	HTTP     HTTPConfig    `yaml:"http"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// HTTPConfig serves /api/status and the /api/stream event feed.
type HTTPConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type SimConfig struct {
	Duration        time.Duration   `yaml:"duration"`
	InitialPitchDeg float64         `yaml:"initial_pitch_deg"`
	ScenarioPath    string          `yaml:"scenario_path"`
	Plant           sim.PlantConfig `yaml:"plant"`
}

var linePrefix = regexp.MustCompile(`^line \d+: `)

// Load reads path, rejects unknown fields and applies DefaultAndValidate.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			msgs := make([]string, 0, len(te.Errors))
			for _, m := range te.Errors {
				msgs = append(msgs, linePrefix.ReplaceAllString(m, ""))
			}
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields and checks the result. It is idempotent.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// Sensor.
	if cfg.Sensor.I2CBus <= 0 {
		cfg.Sensor.I2CBus = 1
	}
	if cfg.Sensor.Address == 0 {
		cfg.Sensor.Address = mpu6050.DefaultAddress()
	}
	if cfg.Sensor.Address > 0x7F {
		return fmt.Errorf("sensor.address must be a 7-bit address")
	}
	if cfg.Sensor.MaxSpin <= 0 {
		cfg.Sensor.MaxSpin = stream.DefaultMaxSpin
	}
	if cfg.Sensor.InterruptPin < 0 {
		return fmt.Errorf("sensor.interrupt_pin must be >= 0")
	}

	// PID.
	if cfg.PID.SampleInterval == 0 {
		cfg.PID.SampleInterval = 10 * time.Millisecond
	}
	if cfg.PID.SampleInterval < 0 {
		return fmt.Errorf("pid.sample_interval must be > 0")
	}
	if cfg.PID.OutMin == 0 && cfg.PID.OutMax == 0 {
		cfg.PID.OutMin, cfg.PID.OutMax = -255, 255
	}
	if cfg.PID.OutMin >= cfg.PID.OutMax {
		return fmt.Errorf("pid.out_min must be below pid.out_max")
	}
	if cfg.PID.Kp < 0 || cfg.PID.Ki < 0 || cfg.PID.Kd < 0 {
		return fmt.Errorf("pid gains must be >= 0")
	}

	// Motor.
	if cfg.Motor.Backend == "" {
		cfg.Motor.Backend = "sysfs"
	}
	cfg.Motor.Backend = strings.ToLower(strings.TrimSpace(cfg.Motor.Backend))
	if cfg.Motor.Backend != "sysfs" && cfg.Motor.Backend != "periph" {
		return fmt.Errorf("motor.backend must be 'sysfs' or 'periph'")
	}
	if cfg.Motor.MaxSpeed == 0 {
		cfg.Motor.MaxSpeed = 255
	}
	if cfg.Motor.MaxSpeed < 0 {
		return fmt.Errorf("motor.max_speed must be > 0")
	}
	if cfg.Motor.DeadBand < 0 || cfg.Motor.DeadBand > cfg.Motor.MaxSpeed {
		return fmt.Errorf("motor.dead_band must be within [0, motor.max_speed]")
	}
	if cfg.Motor.PWMFrequencyHz == 0 {
		cfg.Motor.PWMFrequencyHz = 20000
	}
	if cfg.Motor.PWMFrequencyHz < 0 {
		return fmt.Errorf("motor.pwm_frequency_hz must be > 0")
	}
	for i := range cfg.Motor.Channels {
		ch := &cfg.Motor.Channels[i]
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("ch%d", i)
		}
		if ch.Scale == 0 {
			ch.Scale = 1
		}
		if ch.Scale < 0 {
			return fmt.Errorf("motor.channels[%d].scale must be > 0", i)
		}
		if cfg.Motor.Backend == "periph" && ch.PWMPin == "" {
			return fmt.Errorf("motor.channels[%d].pwm_pin is required for the periph backend", i)
		}
	}

	// Loop.
	if cfg.Loop.Idle < 0 {
		return fmt.Errorf("loop.idle must be >= 0")
	}

	// Telemetry.
	if cfg.Telemetry.Interval <= 0 {
		cfg.Telemetry.Interval = 100 * time.Millisecond
	}
	if cfg.Telemetry.UDP.Enable && strings.TrimSpace(cfg.Telemetry.UDP.Dest) == "" {
		return fmt.Errorf("telemetry.udp.dest is required when telemetry.udp.enable is true")
	}
	if cfg.Telemetry.MQTT.Enable {
		if strings.TrimSpace(cfg.Telemetry.MQTT.Broker) == "" {
			return fmt.Errorf("telemetry.mqtt.broker is required when telemetry.mqtt.enable is true")
		}
		if cfg.Telemetry.MQTT.Topic == "" {
			cfg.Telemetry.MQTT.Topic = "balancebot/telemetry"
		}
		if cfg.Telemetry.MQTT.ClientID == "" {
			cfg.Telemetry.MQTT.ClientID = "balancebot"
		}
	}
	if cfg.Telemetry.HTTP.Enable {
		if strings.TrimSpace(cfg.Telemetry.HTTP.Listen) == "" {
			cfg.Telemetry.HTTP.Listen = ":8080"
		}
		if _, _, err := net.SplitHostPort(cfg.Telemetry.HTTP.Listen); err != nil {
			return fmt.Errorf("telemetry.http.listen must be host:port: %w", err)
		}
	}

	// Sim.
	if cfg.Sim.Duration < 0 {
		return fmt.Errorf("sim.duration must be >= 0")
	}
	return nil
}

// Balance maps the file config onto the control loop configuration.
func (c Config) Balance() balance.Config {
	return balance.Config{
		Offsets: c.Sensor.Offsets,
		PID: pid.Config{
			Kp:             c.PID.Kp,
			Ki:             c.PID.Ki,
			Kd:             c.PID.Kd,
			Setpoint:       c.PID.Setpoint,
			SampleInterval: c.PID.SampleInterval,
			OutMin:         c.PID.OutMin,
			OutMax:         c.PID.OutMax,
		},
		Motor:  motor.Config{DeadBand: c.Motor.DeadBand, MaxSpeed: c.Motor.MaxSpeed},
		Stream: stream.Config{MaxSpin: c.Sensor.MaxSpin},
		Idle:   c.Loop.Idle,
	}
}

// MotorBackend maps the motor section onto the hardware backend configuration.
func (c Config) MotorBackend() motor.BackendConfig {
	out := motor.BackendConfig{
		Backend:        c.Motor.Backend,
		PWMFrequencyHz: c.Motor.PWMFrequencyHz,
		MaxSpeed:       c.Motor.MaxSpeed,
	}
	for _, ch := range c.Motor.Channels {
		out.Channels = append(out.Channels, motor.ChannelPins{
			Name:       ch.Name,
			ForwardPin: ch.ForwardPin,
			ReversePin: ch.ReversePin,
			PWMChannel: ch.PWMChannel,
			PWMPin:     ch.PWMPin,
			Scale:      ch.Scale,
		})
	}
	return out
}

// ChannelScales lists the per-channel scales, for the simulator.
func (c Config) ChannelScales() []float64 {
	out := make([]float64, 0, len(c.Motor.Channels))
	for _, ch := range c.Motor.Channels {
		out = append(out, ch.Scale)
	}
	return out
}
