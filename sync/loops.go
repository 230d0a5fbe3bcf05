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

package sync

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"github.com/jessie-jamieson/spoolbridge/inventory"
	"github.com/jessie-jamieson/spoolbridge/logging"
	"github.com/jessie-jamieson/spoolbridge/mapping"
)

// RunPoller runs the incremental polling loop until ctx is cancelled:
// every PollInterval, run a full sync; an end-to-end failure
// (the Device unreachable or undecodable) backs off instead of firing
// again immediately.
func (e *Engine) RunPoller(ctx context.Context) {
	log := logging.WithComponent("sync.poller")
	bo := &backoff.Backoff{Min: 1 * time.Second, Max: 60 * time.Second, Factor: 2, Jitter: true}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.FullSync(ctx); err != nil {
				wait := bo.Duration()
				log.WithError(err).Warnf("poll failed end-to-end, backing off %s", wait)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
				continue
			}
			bo.Reset()
		}
	}
}

// RunEventLoop dispatches Inventory push events and triggers an
// immediate full sync whenever the subscriber signals a fresh connection
// (initial connect or reconnect), since events in flight during a
// disconnect are lost.
func (e *Engine) RunEventLoop(ctx context.Context, sub *inventory.EventSubscriber) {
	log := logging.WithComponent("sync.events")

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events:
			e.ApplyEvent(ev)
		case <-sub.Resync:
			if err := e.FullSync(ctx); err != nil {
				log.WithError(err).Warn("post-reconnect full sync failed")
			}
		}
	}
}

// ApplyEvent mutates the Mapping in response to one Inventory event.
// Exported so the event loop and tests driving individual events share
// one code path.
func (e *Engine) ApplyEvent(ev inventory.Event) {
	log := logging.WithComponent("sync.events").WithField("inventory_spool_id", ev.SpoolID)

	switch ev.Type {
	case inventory.EventSpoolDeleted:
		tagID, ok := e.store.TagForSpool(ev.SpoolID)
		if !ok {
			return
		}
		e.store.Remove(tagID)
		log.WithField("tag_id", tagID).Info("removed mapping for deleted spool")

	case inventory.EventSpoolUpdated:
		tagID, ok := e.store.TagForSpool(ev.SpoolID)
		if !ok {
			return
		}
		if newTag := ev.Spool.TagID(); newTag == "" || newTag != tagID {
			e.store.Remove(tagID)
			log.WithField("tag_id", tagID).Info("tag_id cleared or changed on update, dropping mapping")
		}

	case inventory.EventSpoolCreated:
		tagID := ev.Spool.TagID()
		if tagID == "" {
			return
		}
		if _, exists := e.store.Get(tagID); exists {
			return
		}
		e.store.Upsert(tagID, mapping.Entry{
			InventorySpoolID: ev.SpoolID,
			LastRemainingG:   ev.Spool.InitialWeightG - ev.Spool.UsedWeightG,
			LastSyncedAt:     time.Now(),
		})
		log.WithField("tag_id", tagID).Info("adopted externally created spool into mapping")
	}
}
