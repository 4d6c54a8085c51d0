// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// This file contains a development server to launch a local pairing node
// without all the mobile integration.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/relaypair/go-relaypair"
	"github.com/relaypair/go-relaypair/rest"
)

func main() {
	cfg, err := loadConfig(nil, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	// Enable colored terminal logging
	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(cfg.Verbosity), log.StreamHandler(os.Stderr, log.TerminalFormat(true))))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create a live node and expose via REST
	node, err := relaypair.NewNode(ctx, relaypair.NodeConfig{
		DataDir:       cfg.DataDir,
		RedisURL:      cfg.RedisURL,
		RedisProxy:    cfg.RedisProxy,
		RedisPrefix:   cfg.RedisPrefix,
		SweepInterval: cfg.SweepInterval,
	})
	if err != nil {
		log.Crit("Failed to create pairing node", "err", err)
	}
	defer node.Close()

	server := &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", cfg.APIPort),
		Handler: rest.New(node.Engine, rest.Config{PingTimeout: cfg.PingTimeout}),
	}
	go func() {
		log.Info("Starting REST API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("REST API server failed", "err", err)
			stop()
		}
	}()
	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info("Shutting down REST API server")
	server.Shutdown(shutdown)
}
