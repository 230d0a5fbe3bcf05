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

// Package cipher implements the authenticated encryption used for every
// request and response body exchanged with the Device. The envelope
// format, KDF parameters and salt are part of the wire protocol and must
// match the Device firmware exactly — they are pinned here as constants,
// not configuration.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// keyLength is the AES-256 key size in bytes.
	keyLength = 32

	// nonceLength is the GCM nonce size in bytes.
	nonceLength = 12

	// tagLength is the GCM authentication tag size in bytes.
	tagLength = 16

	// pbkdf2Iterations and pbkdf2Salt are pinned by the Device firmware's
	// own KDF parameters. Changing either breaks compatibility with every
	// Device already in the field.
	pbkdf2Iterations = 210000
	pbkdf2Salt        = "spoolbridge-device-kdf-v1"

	// SecurityKeyLength is the length of the user-supplied Device security key.
	SecurityKeyLength = 7
)

// AuthError indicates the envelope's authentication tag did not match —
// either the key is wrong or the payload was tampered with. Never retry.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("cipher: authentication failed: %v", e.Err) }
func (e *AuthError) Unwrap() error  { return e.Err }

// FormatError indicates the envelope was too short or not valid base64.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return fmt.Sprintf("cipher: malformed envelope: %s", e.Reason) }

// DeriveKey derives the 256-bit AES key from the Device's 7-character
// security key using PBKDF2-HMAC-SHA256 over the pinned protocol salt.
func DeriveKey(securityKey string) []byte {
	return pbkdf2.Key([]byte(securityKey), []byte(pbkdf2Salt), pbkdf2Iterations, keyLength, sha256.New)
}

// Encrypt seals plaintext under key and returns the base64-encoded
// envelope: nonce(12) || ciphertext || tag(16).
func Encrypt(plaintext []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cipher: creating AES block: %w", err)
	}

	gcm, err := cipher.NewGCMWithTagSize(block, tagLength)
	if err != nil {
		return "", fmt.Errorf("cipher: creating GCM: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cipher: generating nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt (or the Device firmware)
// under key, returning the plaintext.
func Decrypt(envelope string, key []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("invalid base64: %v", err)}
	}

	if len(raw) < nonceLength+tagLength {
		return nil, &FormatError{Reason: fmt.Sprintf("envelope too short: %d bytes", len(raw))}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: creating AES block: %w", err)
	}

	gcm, err := cipher.NewGCMWithTagSize(block, tagLength)
	if err != nil {
		return nil, fmt.Errorf("cipher: creating GCM: %w", err)
	}

	nonce, ciphertext := raw[:nonceLength], raw[nonceLength:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	return plaintext, nil
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsFormatError reports whether err is (or wraps) a FormatError.
func IsFormatError(err error) bool {
	var formatErr *FormatError
	return errors.As(err, &formatErr)
}
