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

// Package inventory implements the typed REST + WebSocket client for the
// downstream Inventory service: catalog CRUD, the extra-field schema the
// bridge depends on, and the push event feed.
package inventory

// TagIDFieldName is the extra field the bridge declares on spools and
// later reads back to rebuild the Mapping from Inventory alone. Pinned,
// not configurable — a schema drift here is a silent data-loss bug.
const TagIDFieldName = "tag_id"

// Vendor is a filament vendor/brand catalog entry.
type Vendor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Filament is a catalog entry shared by many physical spools.
type Filament struct {
	ID        string   `json:"id"`
	VendorID  string   `json:"vendor_id"`
	Material  string   `json:"material"`
	ColorName string   `json:"color_name"`
	ColorHex  string   `json:"color_hex,omitempty"`
	Density   *float64 `json:"density,omitempty"`
	Diameter  *float64 `json:"diameter,omitempty"`
}

// Spool is one physical spool tracked by Inventory.
type Spool struct {
	ID             string            `json:"id"`
	FilamentID     string            `json:"filament_id"`
	InitialWeightG float64           `json:"initial_weight_g"`
	UsedWeightG    float64           `json:"used_weight_g"`
	Extra          map[string]string `json:"extra_fields"`
}

// TagID returns the tag_id extra field, if any.
func (s Spool) TagID() string {
	if s.Extra == nil {
		return ""
	}
	return s.Extra[TagIDFieldName]
}

// SpoolPatch is a partial update to a Spool. Nil fields are left
// unchanged by UpdateSpool.
type SpoolPatch struct {
	UsedWeightG *float64
	FilamentID  *string
	Extra       map[string]string
}

// EventType discriminates the push events Inventory sends over the
// WebSocket feed.
type EventType string

const (
	EventSpoolCreated EventType = "spool_created"
	EventSpoolUpdated EventType = "spool_updated"
	EventSpoolDeleted EventType = "spool_deleted"
)

// Event is one WebSocket push event, decoded from the wire envelope
// {type, resource, payload}.
type Event struct {
	Type    EventType
	SpoolID string
	Spool   Spool // zero value for EventSpoolDeleted
}
