package cipher_test

import (
	"encoding/base64"
	"testing"

	"github.com/jessie-jamieson/spoolbridge/cipher"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := cipher.DeriveKey("AB12CD3")

	plaintexts := [][]byte{
		[]byte(""),
		[]byte("tag_id,material\nA1,PLA\n"),
		[]byte("unicode: café, 日本語"),
	}

	for _, plaintext := range plaintexts {
		envelope, err := cipher.Encrypt(plaintext, key)
		require.NoError(t, err)

		decrypted, err := cipher.Decrypt(envelope, key)
		require.NoError(t, err)
		require.Equal(t, plaintext, decrypted)
	}
}

func TestDecryptTamperedEnvelope(t *testing.T) {
	key := cipher.DeriveKey("AB12CD3")

	envelope, err := cipher.Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	tampered, err := base64.StdEncoding.DecodeString(envelope)
	require.NoError(t, err)
	tampered[len(tampered)-1] ^= 0x01

	_, err = cipher.Decrypt(base64.StdEncoding.EncodeToString(tampered), key)
	require.Error(t, err)
	require.True(t, cipher.IsAuthError(err))
}

func TestDecryptWrongKey(t *testing.T) {
	key := cipher.DeriveKey("AB12CD3")
	wrongKey := cipher.DeriveKey("ZZ99ZZ9")

	envelope, err := cipher.Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	_, err = cipher.Decrypt(envelope, wrongKey)
	require.True(t, cipher.IsAuthError(err))
}

func TestDecryptMalformedEnvelope(t *testing.T) {
	key := cipher.DeriveKey("AB12CD3")

	_, err := cipher.Decrypt("not-valid-base64!!!", key)
	require.True(t, cipher.IsFormatError(err))

	_, err = cipher.Decrypt("c2hvcnQ=", key) // valid base64, too short
	require.True(t, cipher.IsFormatError(err))
}

func TestEncryptNoncesAreDistinct(t *testing.T) {
	key := cipher.DeriveKey("AB12CD3")
	plaintext := []byte("remaining_g=975")

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		envelope, err := cipher.Encrypt(plaintext, key)
		require.NoError(t, err)

		nonce := envelope[:16] // base64 prefix covering the 12-byte nonce
		_, exists := seen[nonce]
		require.False(t, exists, "nonce collision detected")
		seen[nonce] = struct{}{}
	}
}
