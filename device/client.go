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

// Package device implements the typed client for the Device's encrypted
// REST surface: every request/response body is sealed with the cipher
// package and carries the record package's delimited text format in its
// plaintext.
package device

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jessie-jamieson/spoolbridge/cipher"
	"github.com/jessie-jamieson/spoolbridge/record"
)

const (
	listSpoolsPath = "/api/v1/spools"
	defaultTimeout = 10 * time.Second
)

// UnreachableError wraps a transport-level failure talking to the Device.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string { return fmt.Sprintf("device: unreachable: %v", e.Err) }
func (e *UnreachableError) Unwrap() error  { return e.Err }

// ProtocolError wraps a failure decrypting or parsing a Device response.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("device: protocol error: %v", e.Err) }
func (e *ProtocolError) Unwrap() error  { return e.Err }

// Client is a typed client for the Device REST surface.
type Client struct {
	baseURL    string
	key        []byte
	httpClient *http.Client
}

// New returns a Client for the Device at baseURL, authenticated with the
// PBKDF2-derived key for securityKey.
func New(baseURL, securityKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		key:     cipher.DeriveKey(securityKey),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// WithHTTPClient overrides the underlying HTTP client (tests, custom
// transports, connection pooling tuned by the caller).
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// ValidateKey issues a trivial authenticated request and classifies the
// result: nil on success, an *AuthError-wrapping error on decrypt
// failure, or an *UnreachableError on transport failure. Intended as a
// fail-fast startup check.
func (c *Client) ValidateKey(ctx context.Context) error {
	_, err := c.listSpoolsRaw(ctx)
	if err != nil {
		return err
	}
	return nil
}

// ListSpools fetches and decrypts the Device's full spool catalog.
func (c *Client) ListSpools(ctx context.Context) ([]record.DeviceRecord, []*record.RecordParseError, error) {
	plaintext, err := c.listSpoolsRaw(ctx)
	if err != nil {
		return nil, nil, err
	}

	records, parseErrs := record.Parse(string(plaintext))
	return records, parseErrs, nil
}

// GetSpool fetches a single record by tag_id. Diagnostic use only — the
// sync engine always reconciles off ListSpools.
func (c *Client) GetSpool(ctx context.Context, tagID string) (*record.DeviceRecord, error) {
	records, _, err := c.ListSpools(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.TagID == tagID {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("device: tag_id %q not found", tagID)
}

func (c *Client) listSpoolsRaw(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+listSpoolsPath, nil)
	if err != nil {
		return nil, &UnreachableError{Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnreachableError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnreachableError{Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &UnreachableError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	envelope := strings.TrimSpace(string(body))

	plaintext, err := cipher.Decrypt(envelope, c.key)
	if err != nil {
		if cipher.IsAuthError(err) {
			return nil, err
		}
		return nil, &ProtocolError{Err: err}
	}

	return plaintext, nil
}
