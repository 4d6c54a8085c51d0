// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package main

import (
	"testing"
	"time"
)

// Tests that the defaults are used if nothing is configured.
func TestConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(map[string]string{}, nil)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.DataDir != "." || cfg.APIPort != 4444 || cfg.Verbosity != 3 {
		t.Errorf("basic defaults mismatch: have %+v", cfg)
	}
	if cfg.RedisURL != "" || cfg.RedisProxy != "" {
		t.Errorf("relay defaults mismatch: have %+v", cfg)
	}
	if cfg.SweepInterval != 30*time.Second || cfg.PingTimeout != 30*time.Second {
		t.Errorf("timing defaults mismatch: have %+v", cfg)
	}
}

// Tests that the environment is read and flags override it.
func TestConfigOverrides(t *testing.T) {
	environ := map[string]string{
		"RELAYPAIR_DATADIR":        "/var/lib/relaypair",
		"RELAYPAIR_APIPORT":        "5555",
		"RELAYPAIR_REDIS_URL":      "redis://localhost:6379/0",
		"RELAYPAIR_REDIS_PROXY":    "socks5://127.0.0.1:9050",
		"RELAYPAIR_SWEEP_INTERVAL": "1m",
		"APIPORT":                  "7777",
	}
	cfg, err := loadConfig(environ, []string{"--apiport", "6666", "--pingtimeout", "5s"})
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.DataDir != "/var/lib/relaypair" {
		t.Errorf("datadir mismatch: have %s, want %s", cfg.DataDir, "/var/lib/relaypair")
	}
	if cfg.APIPort != 6666 {
		t.Errorf("api port mismatch: have %d, want %d", cfg.APIPort, 6666)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" || cfg.RedisProxy != "socks5://127.0.0.1:9050" {
		t.Errorf("relay config mismatch: have %s via %s", cfg.RedisURL, cfg.RedisProxy)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("sweep interval mismatch: have %v, want %v", cfg.SweepInterval, time.Minute)
	}
	if cfg.PingTimeout != 5*time.Second {
		t.Errorf("ping timeout mismatch: have %v, want %v", cfg.PingTimeout, 5*time.Second)
	}
}

// Tests that invalid configurations are rejected.
func TestConfigInvalid(t *testing.T) {
	tests := []struct {
		environ map[string]string
		args    []string
	}{
		{map[string]string{"RELAYPAIR_APIPORT": "port"}, nil},
		{map[string]string{"RELAYPAIR_SWEEP_INTERVAL": "soon"}, nil},
		{map[string]string{}, []string{"--apiport", "70000"}},
		{map[string]string{}, []string{"--sweep", "0s"}},
		{map[string]string{}, []string{"--unknown"}},
	}
	for i, tt := range tests {
		if _, err := loadConfig(tt.environ, tt.args); err == nil {
			t.Errorf("test %d: invalid config accepted", i)
		}
	}
}

// Tests that ephemeral mode drops the data directory from both sources.
func TestConfigEphemeral(t *testing.T) {
	cfg, err := loadConfig(map[string]string{"RELAYPAIR_EPHEMERAL": "true"}, nil)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.DataDir != "" {
		t.Errorf("env datadir mismatch: have %q, want %q", cfg.DataDir, "")
	}
	cfg, err = loadConfig(map[string]string{}, []string{"--datadir", "/tmp/relaypair", "--ephemeral"})
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.DataDir != "" {
		t.Errorf("flag datadir mismatch: have %q, want %q", cfg.DataDir, "")
	}
}
