// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hta-adapterd wires the Async HTA Service to a NATS bus and an
// in-memory HTA store, reading its configure payload from a JSON file at
// startup. It owns everything the core explicitly does not: CLI parsing,
// logging initialization, and signal handling (spec.md §1).
package main

import (
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/metricq/metricq-db-hta/internal/htastore"
	"github.com/metricq/metricq-db-hta/internal/service"
	natsbus "github.com/metricq/metricq-db-hta/internal/transport/nats"
)

func main() {
	var (
		flagConfigFile  string
		flagNatsAddress string
		flagDataSubject string
		flagHistorySubj string
		flagLogLevel    string
	)
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to the async_configure payload")
	flag.StringVar(&flagNatsAddress, "nats-address", "nats://localhost:4222", "NATS server address")
	flag.StringVar(&flagDataSubject, "data-subject", "hta.write", "NATS subject data chunks arrive on")
	flag.StringVar(&flagHistorySubj, "history-subject", "hta.read", "NATS subject history requests arrive on")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "Minimum log level (debug, info, warn, err)")
	flag.Parse()

	cclog.Init(flagLogLevel, true)

	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		cclog.Fatalf("could not read config file %q: %v", flagConfigFile, err)
	}

	client, err := natsbus.Dial(natsbus.Config{Address: flagNatsAddress})
	if err != nil {
		cclog.Fatalf("could not connect to NATS at %q: %v", flagNatsAddress, err)
	}
	defer client.Close()

	adapter := natsbus.NewAdapter(client)
	svc := service.New(htastore.New(), adapter)
	defer svc.Shutdown()

	entries, err := svc.Configure(json.RawMessage(raw))
	if err != nil {
		cclog.Fatalf("configure failed: %v", err)
	}
	for _, e := range entries {
		cclog.Infof("subscribed: input=%q -> name=%q", e.Input, e.Name)
	}

	adapter.OnDataChunk(svc.AsyncWrite)
	adapter.OnHistoryRequest(svc.AsyncRead)

	if err := adapter.Subscribe(flagDataSubject, flagHistorySubj); err != nil {
		cclog.Fatalf("could not subscribe: %v", err)
	}

	cclog.Infof("hta-adapterd ready, listening on %q (write) and %q (read)", flagDataSubject, flagHistorySubj)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	cclog.Info("shutting down")
}
