// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nats

import (
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/nats-io/nats.go"
)

// Config holds the connection options this demo adapter accepts. Grounded
// on cc-backend's pkg/nats.NatsConfig (address plus optional
// username/password or credentials-file authentication).
type Config struct {
	Address       string
	Username      string
	Password      string
	CredsFilePath string
}

// Client wraps a NATS connection with subscription bookkeeping, following
// the same shape as cc-backend's pkg/nats.Client: a thin layer adding
// reconnect/error logging and an unsubscribe-everything Close.
type Client struct {
	conn          *nats.Conn
	mu            sync.Mutex
	subscriptions []*nats.Subscription
}

// MessageHandler processes one received message.
type MessageHandler func(subject string, data []byte)

// Dial connects a new Client using cfg.
func Dial(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("[NATS]> address is required")
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				cclog.Warnf("[NATS]> disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			cclog.Infof("[NATS]> reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			cclog.Errorf("[NATS]> error: %v", err)
		}),
	)

	conn, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("[NATS]> connect to %q failed: %w", cfg.Address, err)
	}
	cclog.Infof("[NATS]> connected to %s", cfg.Address)

	return &Client{conn: conn}, nil
}

// Subscribe registers handler for every message on subject.
func (c *Client) Subscribe(subject string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("[NATS]> subscribe to %q failed: %w", subject, err)
	}
	c.subscriptions = append(c.subscriptions, sub)
	cclog.Infof("[NATS]> subscribed to %q", subject)
	return nil
}

// Publish sends data on subject.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("[NATS]> publish to %q failed: %w", subject, err)
	}
	return nil
}

// Close unsubscribes everything and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			cclog.Warnf("[NATS]> unsubscribe failed: %v", err)
		}
	}
	c.subscriptions = nil

	if c.conn != nil {
		c.conn.Close()
		cclog.Info("[NATS]> connection closed")
	}
}
