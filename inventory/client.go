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

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Client is a typed REST + WebSocket client for the Inventory service.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New returns a Client for the Inventory service at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// WithAuthToken attaches a bearer token to every request.
func (c *Client) WithAuthToken(token string) *Client {
	c.authToken = token
	return c
}

// WithHTTPClient overrides the underlying HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// request sends an HTTP request with an optional JSON payload (src) and
// optionally decodes the JSON response into dst.
func (c *Client) request(ctx context.Context, method, path string, src, dst any) error {
	var body io.Reader
	if src != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(src); err != nil {
			return fmt.Errorf("inventory: encoding request: %w", err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &UnreachableError{Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnreachableError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UnreachableError{Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{Status: resp.StatusCode, Body: string(respBody)}
	}

	if dst != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, dst); err != nil {
			return fmt.Errorf("inventory: decoding response: %w", err)
		}
	}

	return nil
}

// extraFieldSchema is the payload for declaring a custom field.
type extraFieldSchema struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Scope string `json:"scope"`
}

// EnsureExtraFieldSchema idempotently declares the tag_id extra field on
// spool resources. Safe to call on every startup.
func (c *Client) EnsureExtraFieldSchema(ctx context.Context) error {
	return c.request(ctx, http.MethodPut, "/api/v1/schema/extra-fields", extraFieldSchema{
		Name:  TagIDFieldName,
		Type:  "string",
		Scope: "spool",
	}, nil)
}

// FindOrCreateVendor finds a vendor by name, creating it if absent. A
// creation conflict (another caller created it first) is handled by
// retrying the find once.
func (c *Client) FindOrCreateVendor(ctx context.Context, name string) (Vendor, error) {
	var found []Vendor
	if err := c.request(ctx, http.MethodGet, "/api/v1/vendors?name="+url.QueryEscape(name), nil, &found); err != nil {
		return Vendor{}, err
	}
	if len(found) > 0 {
		return found[0], nil
	}

	var created Vendor
	err := c.request(ctx, http.MethodPost, "/api/v1/vendors", Vendor{Name: name}, &created)
	if err == nil {
		return created, nil
	}

	var apiErr *Error
	if !isConflict(err, &apiErr) {
		return Vendor{}, err
	}

	if err := c.request(ctx, http.MethodGet, "/api/v1/vendors?name="+url.QueryEscape(name), nil, &found); err != nil {
		return Vendor{}, err
	}
	if len(found) == 0 {
		return Vendor{}, fmt.Errorf("inventory: vendor %q conflicted on create but is not findable", name)
	}
	return found[0], nil
}

// findOrCreateFilamentRequest matches find-by-attribute-equality query
// parameters and the create body.
type findOrCreateFilamentRequest struct {
	VendorID  string   `json:"vendor_id"`
	Material  string   `json:"material"`
	ColorName string   `json:"color_name"`
	ColorHex  string   `json:"color_hex,omitempty"`
	Density   *float64 `json:"density,omitempty"`
	Diameter  *float64 `json:"diameter,omitempty"`
}

// FindOrCreateFilament finds a filament by (vendor, material, color_name,
// color_hex) equality, creating it if absent, retrying the find once on
// a creation conflict.
func (c *Client) FindOrCreateFilament(ctx context.Context, vendorID, material, colorName, colorHex string, density, diameter *float64) (Filament, error) {
	req := findOrCreateFilamentRequest{
		VendorID: vendorID, Material: material, ColorName: colorName, ColorHex: colorHex,
		Density: density, Diameter: diameter,
	}

	query := fmt.Sprintf("?vendor_id=%s&material=%s&color_name=%s&color_hex=%s",
		url.QueryEscape(vendorID), url.QueryEscape(material), url.QueryEscape(colorName), url.QueryEscape(colorHex))

	var found []Filament
	if err := c.request(ctx, http.MethodGet, "/api/v1/filaments"+query, nil, &found); err != nil {
		return Filament{}, err
	}
	if len(found) > 0 {
		return found[0], nil
	}

	var created Filament
	err := c.request(ctx, http.MethodPost, "/api/v1/filaments", req, &created)
	if err == nil {
		return created, nil
	}

	var apiErr *Error
	if !isConflict(err, &apiErr) {
		return Filament{}, err
	}

	if err := c.request(ctx, http.MethodGet, "/api/v1/filaments"+query, nil, &found); err != nil {
		return Filament{}, err
	}
	if len(found) == 0 {
		return Filament{}, fmt.Errorf("inventory: filament conflicted on create but is not findable")
	}
	return found[0], nil
}

// createSpoolRequest is the create-spool request body.
type createSpoolRequest struct {
	FilamentID     string            `json:"filament_id"`
	InitialWeightG float64           `json:"initial_weight_g"`
	UsedWeightG    float64           `json:"used_weight_g"`
	Extra          map[string]string `json:"extra_fields"`
}

// CreateSpool creates a new spool tracked against filamentID.
func (c *Client) CreateSpool(ctx context.Context, filamentID string, initialWeightG, usedWeightG float64, extra map[string]string) (Spool, error) {
	var created Spool
	err := c.request(ctx, http.MethodPost, "/api/v1/spools", createSpoolRequest{
		FilamentID:     filamentID,
		InitialWeightG: initialWeightG,
		UsedWeightG:    usedWeightG,
		Extra:          extra,
	}, &created)
	return created, err
}

// GetSpool fetches a single spool by id.
func (c *Client) GetSpool(ctx context.Context, id string) (Spool, error) {
	var s Spool
	err := c.request(ctx, http.MethodGet, "/api/v1/spools/"+id, nil, &s)
	return s, err
}

// ListSpools fetches every spool Inventory currently knows about.
func (c *Client) ListSpools(ctx context.Context) ([]Spool, error) {
	var spools []Spool
	err := c.request(ctx, http.MethodGet, "/api/v1/spools", nil, &spools)
	return spools, err
}

type addUsageRequest struct {
	DeltaG float64 `json:"delta_g"`
}

// AddUsage pushes a monotonic increment of used weight. Idempotent only
// to the extent the caller does not re-issue the same delta.
func (c *Client) AddUsage(ctx context.Context, id string, grams float64) error {
	return c.request(ctx, http.MethodPost, "/api/v1/spools/"+id+"/usage", addUsageRequest{DeltaG: grams}, nil)
}

type updateSpoolRequest struct {
	UsedWeightG *float64          `json:"used_weight_g,omitempty"`
	FilamentID  *string           `json:"filament_id,omitempty"`
	Extra       map[string]string `json:"extra_fields,omitempty"`
}

// UpdateSpool applies a partial update (absolute used weight, filament
// reassignment on metadata divergence, extra-field changes).
func (c *Client) UpdateSpool(ctx context.Context, id string, patch SpoolPatch) error {
	return c.request(ctx, http.MethodPatch, "/api/v1/spools/"+id, updateSpoolRequest{
		UsedWeightG: patch.UsedWeightG,
		FilamentID:  patch.FilamentID,
		Extra:       patch.Extra,
	}, nil)
}

// DeleteSpool deletes a spool by id.
func (c *Client) DeleteSpool(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/api/v1/spools/"+id, nil, nil)
}

func isConflict(err error, target **Error) bool {
	apiErr, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = apiErr
	return apiErr.Status == http.StatusConflict
}

