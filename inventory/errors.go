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

package inventory

import "fmt"

// Error wraps a non-2xx response from Inventory, classified by status
// code: 4xx is the caller's fault (log and skip that spool), 5xx is
// worth retrying with backoff up to a bound.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("inventory: http %d: %s", e.Status, e.Body)
}

// Retryable reports whether the error is a server-side failure worth
// retrying (5xx), as opposed to a client-side failure that should just
// be logged and the spool skipped (4xx).
func (e *Error) Retryable() bool {
	return e.Status >= 500
}

// UnreachableError wraps a transport-level failure talking to Inventory.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string { return fmt.Sprintf("inventory: unreachable: %v", e.Err) }
func (e *UnreachableError) Unwrap() error  { return e.Err }
