package inventory_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jessie-jamieson/spoolbridge/inventory"
	"github.com/stretchr/testify/require"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestEventSubscriberDecodesEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"spool_created","resource":"spool","payload":{"id":"s1","filament_id":"f1","extra_fields":{"tag_id":"A1"}}}`,
		)))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	sub := inventory.NewEventSubscriber(wsURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go sub.Run(ctx)

	select {
	case <-sub.Resync:
	case <-time.After(time.Second):
		t.Fatal("expected initial resync signal")
	}

	select {
	case ev := <-sub.Events:
		require.Equal(t, inventory.EventSpoolCreated, ev.Type)
		require.Equal(t, "s1", ev.SpoolID)
		require.Equal(t, "A1", ev.Spool.TagID())
	case <-time.After(time.Second):
		t.Fatal("expected spool_created event")
	}
}

func TestEventSubscriberDecodesDeleteEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"spool_deleted","resource":"spool","payload":{"id":"s9"}}`,
		)))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	sub := inventory.NewEventSubscriber(wsURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go sub.Run(ctx)
	<-sub.Resync

	select {
	case ev := <-sub.Events:
		require.Equal(t, inventory.EventSpoolDeleted, ev.Type)
		require.Equal(t, "s9", ev.SpoolID)
	case <-time.After(time.Second):
		t.Fatal("expected spool_deleted event")
	}
}
