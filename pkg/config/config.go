// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the command station's YAML configuration file
// and layers environment variable overrides on top, the way a small Go
// service typically does.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Track   TrackConfig   `yaml:"track"`
	Service ServiceConfig `yaml:"service"`
	Serial  SerialConfig  `yaml:"serial"`
	HTTP    HTTPConfig    `yaml:"http"`
	NATS    NATSConfig    `yaml:"nats"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
}

// TrackConfig carries the bit-period timing constants and preamble
// lengths for the DCC signal (S-9.1, section A).
type TrackConfig struct {
	Bit0HalfPeriodUS int `yaml:"bit0_half_period_us"`
	Bit1HalfPeriodUS int `yaml:"bit1_half_period_us"`
	OpsPreambleBits  int `yaml:"ops_preamble_bits"`
	SvcPreambleBits  int `yaml:"svc_preamble_bits"`
}

// ServiceConfig carries the Service Mode programming sequence's packet
// counts and the ack-current detector's sample rate and threshold
// (S-9.2.3, section A).
type ServiceConfig struct {
	Reset1Count int    `yaml:"reset1_count"`
	CommandCount int   `yaml:"command_count"`
	Reset2Count int    `yaml:"reset2_count"`
	SampleRateHz int   `yaml:"sample_rate_hz"`
	AckIncreaseMA uint16 `yaml:"ack_increase_ma"`
}

// SerialConfig names the serial port used to capture RailCom/DCC bytes
// from an external front-end (go.bug.st/serial).
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// HTTPConfig is the operator-facing HTTP API and telemetry WebSocket
// listen address (go-chi + gorilla/websocket).
type HTTPConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// NATSConfig is the event-bus connection used to publish throttle and
// RailCom state changes for other services to consume.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// AuthConfig carries the JWT signing secret and bcrypt-hashed operator
// token used to authenticate HTTP API and console sessions.
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	TokenHash      string        `yaml:"token_hash"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
}

// LogConfig controls the zerolog logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a Config populated with the values this package treats
// as sane defaults, before any file or environment overrides are
// applied.
func Default() Config {
	return Config{
		Track: TrackConfig{
			Bit0HalfPeriodUS: 100,
			Bit1HalfPeriodUS: 58,
			OpsPreambleBits:  14,
			SvcPreambleBits:  20,
		},
		Service: ServiceConfig{
			Reset1Count:   20,
			CommandCount:  5,
			Reset2Count:   5,
			SampleRateHz:  10_000,
			AckIncreaseMA: 60,
		},
		Serial: SerialConfig{
			Port: "/dev/ttyACM0",
			Baud: 115_200,
		},
		HTTP: HTTPConfig{
			ListenAddr:   ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "dccstation.events",
		},
		Auth: AuthConfig{
			SessionTTL: 12 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads filename, unmarshals it over Default(), and applies
// environment variable overrides.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	cfg.applyEnvOverrides()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DCCSTATION_SERIAL_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv("DCCSTATION_HTTP_LISTEN"); v != "" {
		c.HTTP.ListenAddr = v
	}
	if v := os.Getenv("DCCSTATION_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("DCCSTATION_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("DCCSTATION_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}
