// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pinvault.
//
// go-pinvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters: time=1, memory=64MB, threads=4, keyLen=32
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32

	saltSize = 32
)

// encryptWithPassword encrypts key data using an Argon2id-derived AES-256-GCM key.
//
// Format: [salt(32)][nonce(12)][ciphertext+tag]
func encryptWithPassword(keyData, password []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := passwordAEAD(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Salt is bound as additional authenticated data
	ciphertext := gcm.Seal(nil, nonce, keyData, salt)

	result := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

// decryptWithPassword reverses encryptWithPassword.
func decryptWithPassword(encryptedData, password []byte) ([]byte, error) {
	minSize := saltSize + IVSize + TagSize
	if len(encryptedData) < minSize {
		return nil, fmt.Errorf("%w: wrapped key too short: %d bytes (minimum %d)", ErrCorruptKey, len(encryptedData), minSize)
	}

	salt := encryptedData[:saltSize]
	nonce := encryptedData[saltSize : saltSize+IVSize]
	ciphertext := encryptedData[saltSize+IVSize:]

	gcm, err := passwordAEAD(password, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, salt)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}

func passwordAEAD(password, salt []byte) (cipher.AEAD, error) {
	derivedKey := argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
