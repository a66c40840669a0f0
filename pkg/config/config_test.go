// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsSane(t *testing.T) {
	cfg := Default()
	if cfg.Track.Bit1HalfPeriodUS >= cfg.Track.Bit0HalfPeriodUS {
		t.Fatal("bit-1 half period should be shorter than bit-0")
	}
	if cfg.Service.Reset1Count == 0 || cfg.Service.CommandCount == 0 {
		t.Fatal("service mode packet counts should be non-zero")
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dccstation.yaml")
	yaml := "serial:\n  port: /dev/ttyUSB3\nhttp:\n  listen_addr: \":9090\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Serial.Port != "/dev/ttyUSB3" {
		t.Fatalf("serial.port = %q", cfg.Serial.Port)
	}
	if cfg.HTTP.ListenAddr != ":9090" {
		t.Fatalf("http.listen_addr = %q", cfg.HTTP.ListenAddr)
	}
	// Untouched fields should still carry their defaults.
	if cfg.Track.OpsPreambleBits != Default().Track.OpsPreambleBits {
		t.Fatal("unrelated default overwritten by partial yaml")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DCCSTATION_SERIAL_PORT", "/dev/ttyACM9")
	t.Setenv("DCCSTATION_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.applyEnvOverrides()

	if cfg.Serial.Port != "/dev/ttyACM9" {
		t.Fatalf("serial.port = %q", cfg.Serial.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log.level = %q", cfg.Log.Level)
	}
}
