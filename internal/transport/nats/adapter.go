// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nats adapts cc-backend's pkg/nats.Client into the pkg/bus
// Inbound/Outbound interfaces, so internal/service never has to know a bus
// transport or wire format exists. Samples/requests travel as JSON: spec.md
// §1 puts protobuf framing out of scope for the core, and JSON keeps this
// adapter (which is demo wiring, not core) legible without pulling in a
// separate IDL toolchain.
package nats

import (
	"encoding/json"
	"fmt"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/metricq/metricq-db-hta/pkg/bus"
)

// Adapter wires inbound subjects to service.AsyncWrite/AsyncRead-shaped
// handlers and implements bus.Outbound for StatsMetrics, on top of the
// package's own Client (grounded on cc-backend's pkg/nats.Client).
type Adapter struct {
	client *Client

	dataHandler    func(inputName string, chunk bus.DataChunk, complete func())
	historyHandler func(metricName string, req bus.HistoryRequest, complete func(bus.HistoryResponse), failed func(name, message string))
}

// NewAdapter wraps an already-connected NATS client.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// OnDataChunk implements bus.Inbound.
func (a *Adapter) OnDataChunk(handler func(inputName string, chunk bus.DataChunk, complete func())) {
	a.dataHandler = handler
}

// OnHistoryRequest implements bus.Inbound.
func (a *Adapter) OnHistoryRequest(handler func(metricName string, req bus.HistoryRequest, complete func(bus.HistoryResponse), failed func(name, message string))) {
	a.historyHandler = handler
}

// dataEnvelope is the wire shape for an inbound chunk delivery.
type dataEnvelope struct {
	InputName string        `json:"input_name"`
	Chunk     bus.DataChunk `json:"chunk"`
}

// historyEnvelope is the wire shape for an inbound history request. Reply
// carries the NATS subject the response (or failure) should be published to.
type historyEnvelope struct {
	MetricName string             `json:"metric_name"`
	Request    bus.HistoryRequest `json:"request"`
	Reply      string             `json:"reply"`
}

// historyFailure is published to Reply when the service fails a read.
type historyFailure struct {
	Metric  string `json:"metric"`
	Message string `json:"message"`
}

// Subscribe starts listening for data chunks on dataSubject and history
// requests on historySubject. OnDataChunk/OnHistoryRequest must be called
// first to register the handlers this dispatches into.
func (a *Adapter) Subscribe(dataSubject, historySubject string) error {
	if a.dataHandler == nil || a.historyHandler == nil {
		return fmt.Errorf("[NATS]> Subscribe called before OnDataChunk/OnHistoryRequest were registered")
	}

	if err := a.client.Subscribe(dataSubject, a.handleData); err != nil {
		return fmt.Errorf("[NATS]> subscribing to data subject %q: %w", dataSubject, err)
	}
	if err := a.client.Subscribe(historySubject, a.handleHistory); err != nil {
		return fmt.Errorf("[NATS]> subscribing to history subject %q: %w", historySubject, err)
	}
	return nil
}

func (a *Adapter) handleData(_ string, data []byte) {
	var env dataEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		cclog.Errorf("[NATS]> malformed data chunk envelope: %v", err)
		return
	}
	a.dataHandler(env.InputName, env.Chunk, func() {})
}

func (a *Adapter) handleHistory(_ string, data []byte) {
	var env historyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		cclog.Errorf("[NATS]> malformed history request envelope: %v", err)
		return
	}

	a.historyHandler(env.MetricName, env.Request,
		func(resp bus.HistoryResponse) {
			payload, err := json.Marshal(resp)
			if err != nil {
				cclog.Errorf("[NATS]> could not marshal history response for %q: %v", env.MetricName, err)
				return
			}
			if err := a.client.Publish(env.Reply, payload); err != nil {
				cclog.Errorf("[NATS]> could not publish history response for %q: %v", env.MetricName, err)
			}
		},
		func(name, message string) {
			payload, err := json.Marshal(historyFailure{Metric: name, Message: message})
			if err != nil {
				cclog.Errorf("[NATS]> could not marshal history failure for %q: %v", name, err)
				return
			}
			if err := a.client.Publish(env.Reply, payload); err != nil {
				cclog.Errorf("[NATS]> could not publish history failure for %q: %v", name, err)
			}
		})
}

// telemetryPoint is the wire shape published for each StatsMetrics point.
type telemetryPoint struct {
	Metric string  `json:"metric"`
	TimeNs int64   `json:"time_ns"`
	Value  float64 `json:"value"`
}

// Publish implements bus.Outbound: it publishes metric as the NATS subject
// itself, matching cc-backend's pkg/nats convention of subject-per-series.
func (a *Adapter) Publish(metric string, ts time.Time, value float64) error {
	payload, err := json.Marshal(telemetryPoint{Metric: metric, TimeNs: ts.UnixNano(), Value: value})
	if err != nil {
		return fmt.Errorf("[NATS]> could not marshal telemetry point for %q: %w", metric, err)
	}
	return a.client.Publish(metric, payload)
}
