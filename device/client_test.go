package device_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jessie-jamieson/spoolbridge/cipher"
	"github.com/jessie-jamieson/spoolbridge/device"
	"github.com/jessie-jamieson/spoolbridge/record"
	"github.com/stretchr/testify/require"
)

const testSecurityKey = "AB12CD3"

func encryptedServer(t *testing.T, plaintext string, status int) *httptest.Server {
	t.Helper()
	key := cipher.DeriveKey(testSecurityKey)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		envelope, err := cipher.Encrypt([]byte(plaintext), key)
		require.NoError(t, err)
		w.Write([]byte(envelope))
	}))
}

func TestListSpools(t *testing.T) {
	records := []record.DeviceRecord{
		{TagID: "A1", Material: "PLA", Brand: "Bambu", ColorName: "Red", ColorHex: "FF0000",
			NominalWeightG: 1000, EmptyWeightG: 250, RemainingG: 1000, DeviceSpoolID: 1},
	}
	plaintext := record.Serialize(records)

	srv := encryptedServer(t, plaintext, http.StatusOK)
	defer srv.Close()

	cli := device.New(srv.URL, testSecurityKey)
	got, errs, err := cli.ListSpools(context.Background())
	require.NoError(t, err)
	require.Empty(t, errs)
	require.Len(t, got, 1)
	require.Equal(t, "A1", got[0].TagID)
}

func TestValidateKeyAuthError(t *testing.T) {
	srv := encryptedServer(t, "irrelevant", http.StatusOK)
	defer srv.Close()

	cli := device.New(srv.URL, "WRONGKE")
	err := cli.ValidateKey(context.Background())
	require.Error(t, err)
	require.True(t, cipher.IsAuthError(err))
}

func TestValidateKeyEmptyBodyIsNotSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cli := device.New(srv.URL, testSecurityKey)
	err := cli.ValidateKey(context.Background())
	require.Error(t, err)
}

func TestValidateKeyUnreachable(t *testing.T) {
	cli := device.New("http://127.0.0.1:1", testSecurityKey)
	err := cli.ValidateKey(context.Background())
	require.Error(t, err)

	var unreachable *device.UnreachableError
	require.ErrorAs(t, err, &unreachable)
}

func TestListSpoolsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cli := device.New(srv.URL, testSecurityKey)
	_, _, err := cli.ListSpools(context.Background())
	require.Error(t, err)

	var unreachable *device.UnreachableError
	require.ErrorAs(t, err, &unreachable)
}

