// Copyright 2023 qbee.io
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package supervisor composes the bridge's components, runs the startup
// sequence, drives the two concurrent loops, and handles shutdown.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jessie-jamieson/spoolbridge/bridgeconfig"
	"github.com/jessie-jamieson/spoolbridge/device"
	"github.com/jessie-jamieson/spoolbridge/inventory"
	"github.com/jessie-jamieson/spoolbridge/logging"
	"github.com/jessie-jamieson/spoolbridge/mapping"
	spoolsync "github.com/jessie-jamieson/spoolbridge/sync"
)

// ShutdownGrace bounds how long Run waits, after a shutdown signal, for
// the poller and event loops to return before it abandons them. The loops
// share the cancelled context, so Inventory requests still in flight are
// cancelled rather than run to completion.
const ShutdownGrace = 5 * time.Second

// Supervisor owns every long-lived component and the two concurrent
// loops built on top of them.
type Supervisor struct {
	cfg config.Config

	deviceClient    *device.Client
	inventoryClient *inventory.Client
	store           *mapping.Store
	engine          *spoolsync.Engine
	events          *inventory.EventSubscriber
}

// New builds a Supervisor from validated configuration, wiring every
// component along the bridge's data flow: Device -> Engine -> Inventory,
// Inventory WebSocket -> Engine -> Mapping.
func New(cfg config.Config) *Supervisor {
	deviceClient := device.New(cfg.DeviceBaseURL(), cfg.DeviceSecurityKey)
	inventoryClient := inventory.New(cfg.InventoryBaseURL())
	store := mapping.New(cfg.MappingFilePath)

	engine := spoolsync.New(deviceClient, inventoryClient, store, spoolsync.Config{
		DeltaThresholdG:  cfg.DeltaThresholdG,
		PollInterval:     cfg.PollInterval,
		InitialSyncDelay: cfg.InitialSyncDelay,
		FanOutLimit:      spoolsync.DefaultFanOutLimit,
	})

	events := inventory.NewEventSubscriber(eventsURL(cfg))

	return &Supervisor{
		cfg:             cfg,
		deviceClient:    deviceClient,
		inventoryClient: inventoryClient,
		store:           store,
		engine:          engine,
		events:          events,
	}
}

func eventsURL(cfg config.Config) string {
	scheme := "ws"
	if cfg.InventoryScheme == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/api/v1/events", scheme, cfg.InventoryHost, cfg.InventoryPort)
}

// Run executes the startup sequence and then drives the poller and
// event listener concurrently until ctx is cancelled. On cancellation it
// gives both loops up to ShutdownGrace to return, then flushes any
// pending mapping save before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	log := logging.WithComponent("supervisor")

	if err := s.engine.Startup(ctx); err != nil {
		return fmt.Errorf("supervisor: startup sequence failed: %w", err)
	}
	log.Info("startup sequence complete, entering steady state")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.engine.RunPoller(ctx)
	}()

	go func() {
		defer wg.Done()
		s.runEvents(ctx)
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, waiting for in-flight work")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownGrace):
		log.Warn("shutdown grace period elapsed, abandoning in-flight work")
	}

	if err := s.store.Flush(); err != nil {
		log.WithError(err).Error("final mapping flush failed")
		return err
	}

	return nil
}

// runEvents runs the WebSocket subscriber and the engine's event
// dispatch loop side by side, both bound to the same context.
func (s *Supervisor) runEvents(ctx context.Context) {
	go s.events.Run(ctx)
	s.engine.RunEventLoop(ctx, s.events)
}
