// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envPrefix is the namespace of the environment variables configuring the server.
const envPrefix = "RELAYPAIR_"

// config is the set of tunables of the development server. Everything can be set
// through the environment, and overridden via command line flags.
type config struct {
	DataDir       string        `env:"DATADIR" envDefault:"."`
	Ephemeral     bool          `env:"EPHEMERAL"`
	APIPort       int           `env:"APIPORT" envDefault:"4444"`
	Verbosity     int           `env:"VERBOSITY" envDefault:"3"`
	RedisURL      string        `env:"REDIS_URL"`
	RedisProxy    string        `env:"REDIS_PROXY"`
	RedisPrefix   string        `env:"REDIS_PREFIX"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	PingTimeout   time.Duration `env:"PING_TIMEOUT" envDefault:"30s"`
}

// loadConfig assembles the server configuration from the environment and the
// command line flags. A nil environment means the process environment.
func loadConfig(environ map[string]string, args []string) (*config, error) {
	cfg := new(config)
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	flags := flag.NewFlagSet("relaypair", flag.ContinueOnError)
	flags.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "Data directory for the node")
	flags.BoolVar(&cfg.Ephemeral, "ephemeral", cfg.Ephemeral, "Keep all state in memory, ignoring the data directory")
	flags.IntVar(&cfg.APIPort, "apiport", cfg.APIPort, "TCP port to launch the API server on")
	flags.IntVar(&cfg.Verbosity, "verbosity", cfg.Verbosity, "Log level to run with")
	flags.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis relay to connect to (empty for in-memory)")
	flags.StringVar(&cfg.RedisProxy, "redis.proxy", cfg.RedisProxy, "SOCKS5 proxy to reach the Redis relay through")
	flags.StringVar(&cfg.RedisPrefix, "redis.prefix", cfg.RedisPrefix, "Channel namespace on the Redis relay")
	flags.DurationVar(&cfg.SweepInterval, "sweep", cfg.SweepInterval, "Time between expired pairing sweeps")
	flags.DurationVar(&cfg.PingTimeout, "pingtimeout", cfg.PingTimeout, "Maximum time to wait for ping answers")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return nil, fmt.Errorf("invalid API port: %d", cfg.APIPort)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("invalid sweep interval: %v", cfg.SweepInterval)
	}
	if cfg.Ephemeral {
		cfg.DataDir = ""
	}
	return cfg, nil
}
