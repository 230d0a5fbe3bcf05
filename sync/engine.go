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

// Package sync implements the reconciliation engine: the startup
// recovery sequence, the full-sync reconciliation pass, the incremental
// polling loop, and the event-driven invalidation loop. It is the only
// package that mutates the Mapping store's content based on domain
// decisions — every other package either reads the Mapping or is a pure
// transport client.
package sync

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/jessie-jamieson/spoolbridge/cipher"
	"github.com/jessie-jamieson/spoolbridge/device"
	"github.com/jessie-jamieson/spoolbridge/inventory"
	"github.com/jessie-jamieson/spoolbridge/logging"
	"github.com/jessie-jamieson/spoolbridge/mapping"
	"github.com/jessie-jamieson/spoolbridge/record"
)

// DefaultFanOutLimit bounds how many Inventory operations a single full
// sync pass may have in flight at once.
const DefaultFanOutLimit = 8

// Config holds the engine's tunable knobs, sourced from the process
// configuration at startup.
type Config struct {
	DeltaThresholdG  float64
	PollInterval     time.Duration
	InitialSyncDelay time.Duration
	FanOutLimit      int
}

// Engine is the reconciliation core composing the Device client, the
// Inventory client and the Mapping store.
type Engine struct {
	device    *device.Client
	inventory *inventory.Client
	store     *mapping.Store
	cfg       Config
}

// New returns an Engine. A zero FanOutLimit is replaced with
// DefaultFanOutLimit.
func New(deviceClient *device.Client, inventoryClient *inventory.Client, store *mapping.Store, cfg Config) *Engine {
	if cfg.FanOutLimit <= 0 {
		cfg.FanOutLimit = DefaultFanOutLimit
	}
	return &Engine{device: deviceClient, inventory: inventoryClient, store: store, cfg: cfg}
}

// Startup validates the Device key (retrying on transport failure,
// failing fast on auth failure), declares the Inventory extra-field
// schema, recovers the mapping if the on-disk file is absent or
// corrupt, waits the configured delay, then runs one full sync before
// steady state begins.
func (e *Engine) Startup(ctx context.Context) error {
	log := logging.WithComponent("sync.startup")

	if err := e.validateDeviceKeyWithRetry(ctx); err != nil {
		return err
	}

	if err := e.inventory.EnsureExtraFieldSchema(ctx); err != nil {
		return err
	}

	if err := e.store.Load(); err != nil {
		log.WithError(err).Warn("mapping file absent or unparseable, recovering from inventory")
		if err := e.recoverFromInventory(ctx); err != nil {
			return err
		}
	}

	select {
	case <-time.After(e.cfg.InitialSyncDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	return e.FullSync(ctx)
}

// validateDeviceKeyWithRetry calls device.ValidateKey, retrying with
// backoff on transport failure (the Device may still be booting) and
// returning immediately on an auth failure, which is fatal.
func (e *Engine) validateDeviceKeyWithRetry(ctx context.Context) error {
	log := logging.WithComponent("sync.startup")
	bo := &backoff.Backoff{Min: 1 * time.Second, Max: 60 * time.Second, Factor: 2, Jitter: true}

	for {
		err := e.device.ValidateKey(ctx)
		if err == nil {
			return nil
		}
		if cipher.IsAuthError(err) {
			return err
		}

		wait := bo.Duration()
		log.WithError(err).Warnf("device key validation failed, retrying in %s", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// recoverFromInventory rebuilds the mapping by listing Inventory spools
// and reading the tag_id extra field from each.
func (e *Engine) recoverFromInventory(ctx context.Context) error {
	spools, err := e.inventory.ListSpools(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	recovered := 0
	for _, spool := range spools {
		tagID := spool.TagID()
		if tagID == "" {
			continue
		}
		e.store.Upsert(tagID, mapping.Entry{
			InventorySpoolID: spool.ID,
			LastRemainingG:   spool.InitialWeightG - spool.UsedWeightG,
			LastSyncedAt:     now,
		})
		recovered++
	}

	logging.WithComponent("sync.startup").Infof("recovered %d mapping entries from inventory", recovered)
	return nil
}

// FullSync fetches the Device's current catalog and reconciles it
// against the Mapping. A failure to reach or decode the Device
// catalog is an end-to-end failure and is returned to the caller so the
// poller can back off; per-spool failures are isolated and only logged.
func (e *Engine) FullSync(ctx context.Context) error {
	log := logging.WithComponent("sync.fullsync")

	records, parseErrs, err := e.device.ListSpools(ctx)
	if err != nil {
		return err
	}
	for _, pe := range parseErrs {
		log.Warnf("skipping malformed device record at line %d: %s", pe.LineNumber, pe.Reason)
	}

	deviceByTag := make(map[string]record.DeviceRecord, len(records))
	for _, r := range records {
		deviceByTag[r.TagID] = r
	}

	snapshot := e.store.Iter()

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(e.cfg.FanOutLimit)

	for tagID, rec := range deviceByTag {
		tagID, rec := tagID, rec
		entry, exists := snapshot[tagID]

		grp.Go(func() error {
			if exists {
				e.reconcileExisting(grpCtx, tagID, rec, entry)
			} else {
				e.reconcileNew(grpCtx, rec)
			}
			return nil
		})
	}
	_ = grp.Wait()

	for tagID := range snapshot {
		if _, ok := deviceByTag[tagID]; !ok {
			log.WithField("tag_id", tagID).Debug("mapped tag_id no longer reported by device, leaving mapping intact")
		}
	}

	return nil
}

// reconcileNew creates Inventory-side vendor, filament and spool records
// for a tag_id the bridge has never seen before.
func (e *Engine) reconcileNew(ctx context.Context, rec record.DeviceRecord) {
	log := logging.WithTag(rec.TagID).WithField("component", "sync.fullsync")

	vendor, err := e.inventory.FindOrCreateVendor(ctx, rec.Brand)
	if err != nil {
		log.WithError(err).Warn("finding/creating vendor")
		return
	}

	filament, err := e.inventory.FindOrCreateFilament(ctx, vendor.ID, rec.Material, rec.ColorName, rec.ColorHex, nil, nil)
	if err != nil {
		log.WithError(err).Warn("finding/creating filament")
		return
	}

	usedWeightG := rec.NominalWeightG - rec.RemainingG
	spool, err := e.inventory.CreateSpool(ctx, filament.ID, rec.NominalWeightG, usedWeightG, map[string]string{
		inventory.TagIDFieldName: rec.TagID,
	})
	if err != nil {
		log.WithError(err).Warn("creating spool")
		return
	}

	e.store.Upsert(rec.TagID, mapping.Entry{
		InventorySpoolID: spool.ID,
		LastRemainingG:   rec.RemainingG,
		LastSyncedAt:     time.Now(),
	})
}

// reconcileExisting applies the delta-handling algorithm for a tag_id
// already present in the Mapping, then checks for metadata
// divergence independent of the delta outcome.
func (e *Engine) reconcileExisting(ctx context.Context, tagID string, rec record.DeviceRecord, entry mapping.Entry) {
	log := logging.WithTag(tagID).WithField("component", "sync.fullsync")

	delta := entry.LastRemainingG - rec.RemainingG

	switch {
	case delta >= e.cfg.DeltaThresholdG:
		if err := e.inventory.AddUsage(ctx, entry.InventorySpoolID, delta); err != nil {
			log.WithError(err).Warn("pushing usage delta")
			break
		}
		entry.LastRemainingG = rec.RemainingG
		entry.LastSyncedAt = time.Now()
		e.store.Upsert(tagID, entry)

	case delta < 0:
		usedWeightG := rec.NominalWeightG - rec.RemainingG
		err := e.inventory.UpdateSpool(ctx, entry.InventorySpoolID, inventory.SpoolPatch{UsedWeightG: &usedWeightG})
		if err != nil {
			log.WithError(err).Warn("pushing refill update")
			break
		}
		entry.LastRemainingG = rec.RemainingG
		entry.LastSyncedAt = time.Now()
		e.store.Upsert(tagID, entry)

	default:
		// Below threshold: no Inventory call, baseline not advanced.
	}

	e.reconcileMetadata(ctx, rec, entry)
}

// reconcileMetadata re-resolves the filament a spool should reference
// and reassigns it if the Device now reports different brand, material
// or color for the same tag_id.
func (e *Engine) reconcileMetadata(ctx context.Context, rec record.DeviceRecord, entry mapping.Entry) {
	log := logging.WithTag(rec.TagID).WithField("component", "sync.fullsync")

	spool, err := e.inventory.GetSpool(ctx, entry.InventorySpoolID)
	if err != nil {
		log.WithError(err).Warn("fetching spool for metadata check")
		return
	}

	vendor, err := e.inventory.FindOrCreateVendor(ctx, rec.Brand)
	if err != nil {
		log.WithError(err).Warn("finding/creating vendor for metadata check")
		return
	}

	filament, err := e.inventory.FindOrCreateFilament(ctx, vendor.ID, rec.Material, rec.ColorName, rec.ColorHex, nil, nil)
	if err != nil {
		log.WithError(err).Warn("finding/creating filament for metadata check")
		return
	}

	if spool.FilamentID == filament.ID {
		return
	}

	filamentID := filament.ID
	if err := e.inventory.UpdateSpool(ctx, entry.InventorySpoolID, inventory.SpoolPatch{FilamentID: &filamentID}); err != nil {
		log.WithError(err).Warn("pushing metadata update")
	}
}
