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

package mapping

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jessie-jamieson/spoolbridge/logging"
)

// DefaultDebounce coalesces bursts of mutations into a single disk write.
const DefaultDebounce = 500 * time.Millisecond

// StorageError wraps a mapping file write failure. The engine logs it and
// keeps running off the in-memory state; the next mutation retries the save.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("mapping: storage error: %v", e.Err) }
func (e *StorageError) Unwrap() error  { return e.Err }

// Store is the durable, crash-safe tag_id -> Entry table with an
// in-memory cache and a reverse index from inventory_spool_id to tag_id.
// All exported methods are safe for concurrent use; callers outside the
// package never need their own lock around it: a single mutex guards
// the whole table.
type Store struct {
	mu       sync.Mutex
	path     string
	debounce time.Duration

	entries map[string]Entry
	reverse map[string]string // inventory_spool_id -> tag_id

	dirty bool
	timer *time.Timer
}

// New returns a Store persisting to path, with the default debounce window.
func New(path string) *Store {
	return &Store{
		path:     path,
		debounce: DefaultDebounce,
		entries:  make(map[string]Entry),
		reverse:  make(map[string]string),
	}
}

// Load reads the mapping file into memory. A missing or unparseable file
// is reported as an error — the caller (the engine's startup recovery
// path) treats that as "absent" and rebuilds from Inventory.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("mapping: parsing %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry, len(doc.Entries))
	s.reverse = make(map[string]string, len(doc.Entries))
	for tagID, entry := range doc.Entries {
		s.entries[tagID] = entry
		s.reverse[entry.InventorySpoolID] = tagID
	}

	return nil
}

// Get returns the entry for tagID, if any.
func (s *Store) Get(tagID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[tagID]
	return e, ok
}

// TagForSpool resolves an Inventory spool id back to its tag_id via the
// reverse index, an O(1) lookup events need.
func (s *Store) TagForSpool(inventorySpoolID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tagID, ok := s.reverse[inventorySpoolID]
	return tagID, ok
}

// Upsert creates or replaces the entry for tagID and schedules a debounced
// save.
func (s *Store) Upsert(tagID string, entry Entry) {
	s.mu.Lock()
	if old, ok := s.entries[tagID]; ok {
		delete(s.reverse, old.InventorySpoolID)
	}
	s.entries[tagID] = entry
	s.reverse[entry.InventorySpoolID] = tagID
	s.markDirtyLocked()
	s.mu.Unlock()
}

// Remove deletes the entry for tagID, if present, and schedules a
// debounced save.
func (s *Store) Remove(tagID string) {
	s.mu.Lock()
	if old, ok := s.entries[tagID]; ok {
		delete(s.reverse, old.InventorySpoolID)
		delete(s.entries, tagID)
		s.markDirtyLocked()
	}
	s.mu.Unlock()
}

// Iter returns a snapshot copy of all entries, safe to range over without
// holding the Store's lock.
func (s *Store) Iter() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Len reports the number of entries currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// markDirtyLocked must be called with s.mu held. It (re)starts the
// debounce timer so a burst of mutations inside the debounce window
// coalesces into one disk write.
func (s *Store) markDirtyLocked() {
	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Save(); err != nil {
			logging.WithComponent("mapping").WithError(err).Warn("debounced mapping save failed")
		}
	})
}

// Save forces an immediate, atomic write of the current in-memory state
// to disk: serialize to a sibling temp file, flush and sync it, then
// rename it over the target so readers never observe a partial file.
func (s *Store) Save() error {
	s.mu.Lock()
	doc := document{
		SchemaVersion: SchemaVersion,
		Entries:       make(map[string]Entry, len(s.entries)),
	}
	for k, v := range s.entries {
		doc.Entries[k] = v
	}
	s.dirty = false
	s.mu.Unlock()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return &StorageError{Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return &StorageError{Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &StorageError{Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &StorageError{Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &StorageError{Err: err}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return &StorageError{Err: err}
	}

	return nil
}

// Flush forces any pending debounced save to happen now — called on
// shutdown so the final mapping state is always persisted.
func (s *Store) Flush() error {
	s.mu.Lock()
	dirty := s.dirty
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	if !dirty {
		return nil
	}
	return s.Save()
}
