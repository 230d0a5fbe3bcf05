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

// Package mapping implements the durable, crash-safe linkage between
// Device tag_id identifiers and Inventory spool identifiers, with an
// in-memory cache and a reverse index for O(1) event handling.
package mapping

import "time"

// SchemaVersion is the current on-disk mapping document format version.
const SchemaVersion = 1

// Entry is one persisted tag_id -> Inventory spool linkage.
type Entry struct {
	InventorySpoolID string    `yaml:"inventory_spool_id"`
	LastRemainingG   float64   `yaml:"last_remaining_g"`
	LastSyncedAt     time.Time `yaml:"last_synced_at"`
}

// document is the on-disk shape: a schema version plus the tag_id -> Entry
// table, making the file self-describing across format changes.
type document struct {
	SchemaVersion int              `yaml:"schema_version"`
	Entries       map[string]Entry `yaml:"entries"`
}
