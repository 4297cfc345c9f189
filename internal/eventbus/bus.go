/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus provides distributed implementations of events.Broker.
package eventbus

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/kith/internal/config"
	"github.com/friendsincode/kith/internal/events"
)

// Bus is a broker that owns network resources.
type Bus interface {
	events.Broker
	io.Closer
}

// memoryBus adapts the in-process bus to Bus.
type memoryBus struct {
	*events.Bus
}

func (memoryBus) Close() error { return nil }

// NewMemory returns an in-process bus with a no-op Close.
func NewMemory() Bus {
	return memoryBus{Bus: events.NewBus()}
}

// New builds the bus selected by cfg.EventBus.
func New(cfg *config.Config, nodeID string, logger zerolog.Logger) (Bus, error) {
	switch cfg.EventBus {
	case config.EventBusRedis:
		rc := DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		return NewRedisBus(rc, nodeID, logger)
	case config.EventBusNATS:
		nc := DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		return NewNATSBus(nc, nodeID, logger)
	case config.EventBusMemory, "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown event bus %q", cfg.EventBus)
	}
}

// NodeID returns a process identity for echo suppression: the configured
// instance ID, or hostname plus a random suffix.
func NodeID(instanceID string) string {
	if instanceID != "" {
		return instanceID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "kith"
	}
	return host + "-" + uuid.NewString()[:8]
}

// wireMessage is the envelope carried between nodes.
type wireMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := wireMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	return json.Marshal(msg)
}

func unmarshalMessage(data []byte) (*wireMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal bus message: %w", err)
	}
	return &msg, nil
}
