// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package secrets implements the symmetric codec for credentials at rest.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the default secrets errs class.
var Error = errs.Class("secrets")

// ErrUnreadable is returned when a stored credential cannot be decrypted.
var ErrUnreadable = errs.Class("credential unreadable")

// Codec encrypts and decrypts credentials with a process-wide AES-256-GCM
// key. There is no key rotation; re-encryption happens outside the
// generator.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a codec from a hex encoded 32 byte key.
func NewCodec(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, Error.New("invalid key encoding: %v", err)
	}
	if len(key) != 32 {
		return nil, Error.New("key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt returns "hex(nonce):hex(sealed)". The nonce is drawn fresh per
// call, so identical plaintexts produce distinct ciphertexts.
func (codec *Codec) Encrypt(plain string) (string, error) {
	nonce := make([]byte, codec.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", Error.Wrap(err)
	}

	sealed := codec.aead.Seal(nil, nonce, []byte(plain), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Malformed input, a wrong key, and tampered
// ciphertext all surface as ErrUnreadable.
func (codec *Codec) Decrypt(encoded string) (string, error) {
	nonceHex, dataHex, ok := strings.Cut(encoded, ":")
	if !ok {
		return "", ErrUnreadable.New("missing nonce separator")
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != codec.aead.NonceSize() {
		return "", ErrUnreadable.New("invalid nonce")
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", ErrUnreadable.New("invalid ciphertext")
	}

	plain, err := codec.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", ErrUnreadable.New("decrypt failed")
	}
	return string(plain), nil
}
