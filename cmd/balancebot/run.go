package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"balancebot/internal/balance"
	"balancebot/internal/config"
	"balancebot/internal/gpioline"
	"balancebot/internal/i2c"
	"balancebot/internal/motor"
	"balancebot/internal/sensors/mpu6050"
	"balancebot/internal/stream"
	"balancebot/internal/telemetry"
	"balancebot/internal/web"
)

var (
	loadFirmwareFn   = mpu6050.LoadFirmwareFile
	openMotorsFn     = motor.Open
	watchInterruptFn = func(pin int, fn func()) (io.Closer, error) {
		return gpioline.WatchRisingEdge(pin, "balancebot", fn)
	}
	newUDPSinkFn  = func(dest string) (telemetry.Sink, error) { return telemetry.NewUDPSink(dest) }
	newMQTTSinkFn = func(cfg telemetry.MQTTConfig) (telemetry.Sink, error) { return telemetry.NewMQTTSink(cfg) }
	serveHTTPFn   = web.Serve
)

func runHardware(ctx context.Context, cfg config.Config) error {
	if len(cfg.Motor.Channels) == 0 {
		return fmt.Errorf("motor.channels is required for run")
	}
	if cfg.Sensor.FirmwarePath == "" {
		return fmt.Errorf("sensor.firmware_path is required for run")
	}
	fw, err := loadFirmwareFn(cfg.Sensor.FirmwarePath)
	if err != nil {
		return err
	}

	bus, err := i2c.OpenNumber(cfg.Sensor.I2CBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	imu, err := mpu6050.New(bus.Dev(cfg.Sensor.Address), fw)
	if err != nil {
		return err
	}

	var flag stream.Flag
	if cfg.Sensor.InterruptPin > 0 {
		w, err := watchInterruptFn(cfg.Sensor.InterruptPin, flag.Set)
		if err != nil {
			return fmt.Errorf("sensor interrupt: %w", err)
		}
		defer w.Close()
	} else {
		log.Printf("sensor: no interrupt pin configured, polling fifo count only")
	}

	channels, motors, err := openMotorsFn(cfg.MotorBackend())
	if err != nil {
		return err
	}
	defer motors.Close()

	loop, err := balance.New(cfg.Balance(), imu, &flag, channels...)
	if err != nil {
		return err
	}
	if err := loop.Start(); err != nil {
		return err
	}

	pub, err := startTelemetry(ctx, cfg.Telemetry, loop)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	log.Printf("balancebot running (backend=%s channels=%d)", cfg.Motor.Backend, len(channels))
	err = loop.Run(ctx)
	log.Printf("balancebot stopping")
	return err
}

// startTelemetry returns nil when no sink is enabled. The HTTP server, when
// enabled, runs until ctx is done.
func startTelemetry(ctx context.Context, cfg config.TelemetryConfig, src telemetry.Source) (*telemetry.Publisher, error) {
	var sinks []telemetry.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}
	if cfg.UDP.Enable {
		s, err := newUDPSinkFn(cfg.UDP.Dest)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
		log.Printf("telemetry: udp dest=%s interval=%s", cfg.UDP.Dest, cfg.Interval)
	}
	if cfg.MQTT.Enable {
		s, err := newMQTTSinkFn(telemetry.MQTTConfig{Broker: cfg.MQTT.Broker, Topic: cfg.MQTT.Topic, ClientID: cfg.MQTT.ClientID})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
		log.Printf("telemetry: mqtt broker=%s topic=%s", cfg.MQTT.Broker, cfg.MQTT.Topic)
	}
	if cfg.HTTP.Enable {
		b := web.NewBroadcaster()
		sinks = append(sinks, b)
		go func() {
			if err := serveHTTPFn(ctx, cfg.HTTP.Listen, web.Handler(src, b)); err != nil && ctx.Err() == nil {
				log.Printf("web: server stopped: %v", err)
			}
		}()
		log.Printf("web: listening on %s", cfg.HTTP.Listen)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	pub, err := telemetry.NewPublisher(src, cfg.Interval, sinks...)
	if err != nil {
		closeAll()
		return nil, err
	}
	pub.Start(ctx)
	return pub, nil
}
