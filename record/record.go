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

// Package record implements the Device's custom delimited textual record
// format: one DeviceRecord per spool, comma-separated fields, newline
// separated records, with an escape discipline for embedded delimiters,
// quotes and newlines.
package record

// DeviceRecord is one spool as reported by the Device. TagID is the only
// stable cross-system identity; DeviceSpoolID is ephemeral and may be
// reused after a physical spool is deleted on the Device.
type DeviceRecord struct {
	TagID          string
	Material       string
	Brand          string
	ColorName      string
	ColorHex       string // optional, 6-hex RGB, empty if unset
	NominalWeightG float64
	EmptyWeightG   float64
	RemainingG     float64
	DeviceSpoolID  int64
}

// headerFields is the canonical column order emitted by Serialize. Parse
// does not assume this order — it resolves columns by name from the
// first line of input.
var headerFields = []string{
	"tag_id",
	"material",
	"brand",
	"color_name",
	"color_hex",
	"nominal_weight_g",
	"empty_weight_g",
	"remaining_g",
	"device_spool_id",
}
