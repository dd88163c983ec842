// Package secret seals tenant database credentials and queued admin passwords.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrCiphertext = errors.New("secret: malformed or tampered ciphertext")

// Box encrypts values with a key derived from the application key.
type Box struct {
	key         [32]byte
	fingerprint string
}

func NewBox(appKey string) (*Box, error) {
	if len(appKey) < 32 {
		return nil, errors.New("secret: application key must be at least 32 bytes")
	}
	b := &Box{key: sha256.Sum256([]byte("tenancy/secretbox:" + appKey))}
	sum := sha256.Sum256([]byte(appKey))
	b.fingerprint = hex.EncodeToString(sum[:8])
	return b, nil
}

// Fingerprint identifies the key without revealing it.
func (b *Box) Fingerprint() string {
	return b.fingerprint
}

func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("secret: read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

func (b *Box) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, ErrCiphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	out, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrCiphertext
	}
	return out, nil
}

func (b *Box) SealString(s string) ([]byte, error) { return b.Seal([]byte(s)) }

func (b *Box) OpenString(ciphertext []byte) (string, error) {
	out, err := b.Open(ciphertext)
	return string(out), err
}
