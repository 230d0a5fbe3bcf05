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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/jessie-jamieson/spoolbridge/logging"
)

// DefaultReadIdleTimeout bounds how long the subscriber waits for a frame
// (including pings) before it declares the connection dead and reconnects.
const DefaultReadIdleTimeout = 60 * time.Second

// eventEnvelope is the wire shape of a push event: {type, resource, payload}.
type eventEnvelope struct {
	Type     EventType       `json:"type"`
	Resource string          `json:"resource"`
	Payload  json.RawMessage `json:"payload"`
}

// EventSubscriber maintains a long-lived WebSocket connection to Inventory's
// event feed, reconnecting with exponential backoff and full jitter on any
// disconnect. Events observed while disconnected are permanently lost;
// callers recover lost events by triggering a full sync on every Resync
// signal.
type EventSubscriber struct {
	url       string
	authToken string

	readIdleTimeout time.Duration

	Events chan Event
	Resync chan struct{}
}

// NewEventSubscriber returns a subscriber for the WebSocket endpoint at url
// (ws:// or wss://).
func NewEventSubscriber(url string) *EventSubscriber {
	return &EventSubscriber{
		url:             url,
		readIdleTimeout: DefaultReadIdleTimeout,
		Events:          make(chan Event, 64),
		Resync:          make(chan struct{}, 1),
	}
}

// WithAuthToken attaches a bearer token to the WebSocket handshake.
func (s *EventSubscriber) WithAuthToken(token string) *EventSubscriber {
	s.authToken = token
	return s
}

// Run connects and reconnects until ctx is cancelled, emitting decoded
// events on s.Events and a resync signal on s.Resync every time a fresh
// connection is established (the first one included, since the bridge
// cannot tell how long it was disconnected before Run was called).
func (s *EventSubscriber) Run(ctx context.Context) {
	log := logging.WithComponent("inventory.events")
	bo := &backoff.Backoff{Min: 1 * time.Second, Max: 60 * time.Second, Factor: 2, Jitter: true}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, s.handshakeHeader())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.Duration()
			log.WithError(err).Warnf("connect failed, retrying in %s", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}

		log.Info("connected")
		bo.Reset()
		s.signalResync()

		if err := s.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("connection lost, reconnecting")
		}
		conn.Close()
	}
}

func (s *EventSubscriber) handshakeHeader() map[string][]string {
	if s.authToken == "" {
		return nil
	}
	return map[string][]string{"Authorization": {"Bearer " + s.authToken}}
}

// signalResync posts to Resync without blocking if a signal is already
// pending — the engine only needs to know "at least one resync is due",
// not how many.
func (s *EventSubscriber) signalResync() {
	select {
	case s.Resync <- struct{}{}:
	default:
	}
}

// readLoop reads frames until the connection errors, the idle timeout
// elapses, or ctx is cancelled.
func (s *EventSubscriber) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(s.readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readIdleTimeout))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.readIdleTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(s.readIdleTimeout))

		event, err := decodeEvent(data)
		if err != nil {
			logging.WithComponent("inventory.events").WithError(err).Warn("dropping malformed event frame")
			continue
		}

		select {
		case s.Events <- event:
		case <-ctx.Done():
			return nil
		}
	}
}

func decodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("inventory: decoding event envelope: %w", err)
	}
	if strings.ToLower(env.Resource) != "spool" {
		return Event{}, fmt.Errorf("inventory: unexpected event resource %q", env.Resource)
	}

	event := Event{Type: env.Type}
	switch env.Type {
	case EventSpoolDeleted:
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Event{}, fmt.Errorf("inventory: decoding delete payload: %w", err)
		}
		event.SpoolID = payload.ID
	case EventSpoolCreated, EventSpoolUpdated:
		var spool Spool
		if err := json.Unmarshal(env.Payload, &spool); err != nil {
			return Event{}, fmt.Errorf("inventory: decoding spool payload: %w", err)
		}
		event.Spool = spool
		event.SpoolID = spool.ID
	default:
		return Event{}, fmt.Errorf("inventory: unknown event type %q", env.Type)
	}

	return event, nil
}
