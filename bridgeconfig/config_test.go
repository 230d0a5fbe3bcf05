package config_test

import (
	"os"
	"testing"

	config "github.com/jessie-jamieson/spoolbridge/bridgeconfig"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range []string{
		"SPOOLBRIDGE_CONFIG_FILE",
		"SPOOLBRIDGE_DEVICE_HOST", "SPOOLBRIDGE_DEVICE_SCHEME", "SPOOLBRIDGE_DEVICE_PORT",
		"SPOOLBRIDGE_DEVICE_SECURITY_KEY", "SPOOLBRIDGE_INVENTORY_HOST", "SPOOLBRIDGE_INVENTORY_PORT",
		"SPOOLBRIDGE_POLL_INTERVAL_SEC", "SPOOLBRIDGE_DELTA_THRESHOLD_G", "SPOOLBRIDGE_MAPPING_FILE_PATH",
		"SPOOLBRIDGE_INITIAL_SYNC_DELAY_SEC", "SPOOLBRIDGE_LOG_LEVEL",
	} {
		require.NoError(t, os.Unsetenv(e))
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	clearEnv(t)
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SPOOLBRIDGE_DEVICE_HOST", "192.168.1.50")
	t.Setenv("SPOOLBRIDGE_DEVICE_SECURITY_KEY", "AB12CD3")
	t.Setenv("SPOOLBRIDGE_INVENTORY_HOST", "inventory.local")
	t.Setenv("SPOOLBRIDGE_DELTA_THRESHOLD_G", "0.5")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "192.168.1.50", cfg.DeviceHost)
	require.Equal(t, 0.5, cfg.DeltaThresholdG)
	require.Equal(t, "https://192.168.1.50:443", cfg.DeviceBaseURL())
	require.Equal(t, "https://inventory.local:443", cfg.InventoryBaseURL())
}

func TestLoadRejectsBadSecurityKeyLength(t *testing.T) {
	clearEnv(t)
	t.Setenv("SPOOLBRIDGE_DEVICE_HOST", "192.168.1.50")
	t.Setenv("SPOOLBRIDGE_DEVICE_SECURITY_KEY", "short")
	t.Setenv("SPOOLBRIDGE_INVENTORY_HOST", "inventory.local")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadYAMLOverlay(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("device_host: 10.0.0.9\ninventory_host: inv.local\npoll_interval_sec: 30\n"), 0o600))

	t.Setenv("SPOOLBRIDGE_CONFIG_FILE", path)
	t.Setenv("SPOOLBRIDGE_DEVICE_SECURITY_KEY", "AB12CD3")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "10.0.0.9", cfg.DeviceHost)
	require.Equal(t, 30, cfg.PollIntervalSec)
}
