// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// agentd is the daemon binary: it loads internal/config, builds a
// connection.Manager over the configured broker transport, starts the
// Local Control Surface, and exposes Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sage-x-project/chanagent/internal/config"
	"github.com/sage-x-project/chanagent/internal/logging"
	"github.com/sage-x-project/chanagent/internal/metrics"
	"github.com/sage-x-project/chanagent/pkg/agent/connection"
	"github.com/sage-x-project/chanagent/pkg/agent/localcontrol"
	"github.com/sage-x-project/chanagent/pkg/agent/transport"
	httptransport "github.com/sage-x-project/chanagent/pkg/agent/transport/http"
	_ "github.com/sage-x-project/chanagent/pkg/agent/transport/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (defaults built in if omitted)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "agentd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	level := logging.InfoLevel
	switch cfg.Logging.Level {
	case "debug":
		level = logging.DebugLevel
	case "warn":
		level = logging.WarnLevel
	case "error":
		level = logging.ErrorLevel
	}
	logger := logging.New(os.Stdout, level)
	logging.SetDefault(logger)

	tr, err := transport.SelectByURL(cfg.Broker.ControlAddr)
	if err != nil {
		logger.Fatal("failed to select broker transport", logging.Err(err), logging.String("controlAddr", cfg.Broker.ControlAddr))
	}
	if httpTr, ok := tr.(*httptransport.HTTPTransport); ok && cfg.Broker.APIKeyScope == string(transport.ScopePrivate) && cfg.Broker.APIKeySecret != "" {
		httpTr.WithAPIKeySecret([]byte(cfg.Broker.APIKeySecret))
	}
	manager := connection.New(tr, cfg.SessionStore.Directory,
		connection.WithLogger(logger),
		connection.WithReceiveLimit(cfg.Receive.DefaultLimit),
	)

	var datagramBridge localcontrol.DatagramBridge
	if cfg.Broker.DatagramAddr != "" {
		datagramBridge = httptransport.NewDatagramTransport(cfg.Broker.DatagramAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
				logger.Warn("metrics server stopped", logging.Err(err))
			}
		}()
	}

	var controlServer *localcontrol.Server
	if cfg.LocalControl.Enabled {
		controlServer = localcontrol.NewServer(manager, datagramBridge, logger)
		l, err := net.Listen("tcp", cfg.LocalControl.BindAddr)
		if err != nil {
			logger.Fatal("failed to bind local control listener", logging.Err(err), logging.String("bindAddr", cfg.LocalControl.BindAddr))
		}
		go func() {
			if err := controlServer.Serve(l); err != nil {
				logger.Warn("local control server stopped", logging.Err(err))
			}
		}()
		logger.Info("local control surface listening", logging.String("bindAddr", cfg.LocalControl.BindAddr))
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if controlServer != nil {
		controlServer.Close()
	}
	if manager.IsReady() {
		if _, err := manager.Disconnect(context.Background(), true); err != nil {
			logger.Warn("beacon disconnect failed", logging.Err(err))
		}
	}
}
