package supervisor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jessie-jamieson/spoolbridge/bridgeconfig"
	"github.com/jessie-jamieson/spoolbridge/cipher"
	"github.com/jessie-jamieson/spoolbridge/record"
	"github.com/jessie-jamieson/spoolbridge/supervisor"
)

const testSecurityKey = "AB12CD3"

// deviceServer serves one encrypted spool list on every request.
func deviceServer(t *testing.T) *httptest.Server {
	t.Helper()
	key := cipher.DeriveKey(testSecurityKey)
	plaintext := record.Serialize([]record.DeviceRecord{
		{TagID: "A1", Material: "PLA", Brand: "Bambu", ColorName: "Red", ColorHex: "FF0000",
			NominalWeightG: 1000, EmptyWeightG: 250, RemainingG: 1000, DeviceSpoolID: 1},
	})
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelope, err := cipher.Encrypt([]byte(plaintext), key)
		require.NoError(t, err)
		w.Write([]byte(envelope))
	}))
}

// inventoryServer is a minimal REST fake sufficient for one startup +
// one full sync pass to complete without error.
func inventoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	var nextID int
	genID := func(prefix string) string {
		nextID++
		return prefix + strconv.Itoa(nextID)
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/api/v1/schema/extra-fields":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && (r.URL.Path == "/api/v1/vendors" || r.URL.Path == "/api/v1/filaments" || r.URL.Path == "/api/v1/spools"):
			w.Write([]byte("[]"))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/vendors":
			json.NewEncoder(w).Encode(map[string]string{"id": genID("v"), "name": "Bambu"})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/filaments":
			json.NewEncoder(w).Encode(map[string]string{"id": genID("f")})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/spools":
			json.NewEncoder(w).Encode(map[string]interface{}{"id": genID("s")})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/spools/"):
			json.NewEncoder(w).Encode(map[string]interface{}{"id": strings.TrimPrefix(r.URL.Path, "/api/v1/spools/")})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func TestSupervisorRunCompletesStartupAndShutsDownCleanly(t *testing.T) {
	devSrv := deviceServer(t)
	defer devSrv.Close()
	invSrv := inventoryServer(t)
	defer invSrv.Close()

	deviceHost, devicePort := hostPort(t, devSrv.URL)
	inventoryHost, inventoryPort := hostPort(t, invSrv.URL)

	cfg := config.Defaults()
	cfg.DeviceHost = deviceHost
	cfg.DevicePort = devicePort
	cfg.DeviceScheme = "http"
	cfg.DeviceSecurityKey = testSecurityKey
	cfg.InventoryHost = inventoryHost
	cfg.InventoryPort = inventoryPort
	cfg.InventoryScheme = "http"
	cfg.PollInterval = time.Hour
	cfg.InitialSyncDelay = 0
	cfg.MappingFilePath = t.TempDir() + "/mapping.yaml"

	sup := supervisor.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down in time")
	}
}
