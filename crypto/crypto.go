// Package crypto encrypts OAuth tokens at rest with AES-256-GCM. A Keyring holds the
// current key plus retired ones so tokens sealed before a rotation stay readable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrUnknownKey is returned when a ciphertext names a key the keyring does not hold.
var ErrUnknownKey = errors.New("unknown encryption key id")

// Encryptor provides authenticated encryption. Associated data is authenticated but not
// stored; the same value must be supplied to Decrypt.
type Encryptor interface {
	Encrypt(plaintext, ad []byte) ([]byte, error)
	Decrypt(ciphertext, ad []byte) ([]byte, error)
	KeyID() string
}

// AESEncryptor implements Encryptor with a single 256-bit key.
type AESEncryptor struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESEncryptor creates an encryptor from a base64-encoded 32-byte key, e.g. the output of
// `openssl rand -base64 32`.
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &AESEncryptor{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// KeyID is a short fingerprint of the key, safe to store next to ciphertext.
func (e *AESEncryptor) KeyID() string { return e.keyID }

// Encrypt returns nonce || ciphertext || tag.
func (e *AESEncryptor) Encrypt(plaintext, ad []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, ad), nil
}

// Decrypt reverses Encrypt. Any tampering, a wrong key or mismatched associated data
// yields the same opaque error.
func (e *AESEncryptor) Decrypt(ciphertext, ad []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext is empty")
	}
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize+e.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: got %d bytes", len(ciphertext))
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], ad)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return plaintext, nil
}

// Keyring seals with its primary key and opens with whichever key sealed the value.
type Keyring struct {
	primary *AESEncryptor
	byID    map[string]*AESEncryptor
}

// NewKeyring builds a keyring from the current key and any retired keys.
func NewKeyring(primary string, retired ...string) (*Keyring, error) {
	p, err := NewAESEncryptor(primary)
	if err != nil {
		return nil, err
	}
	kr := &Keyring{primary: p, byID: map[string]*AESEncryptor{p.KeyID(): p}}
	for i, k := range retired {
		if k == "" {
			continue
		}
		e, err := NewAESEncryptor(k)
		if err != nil {
			return nil, fmt.Errorf("retired key %d: %w", i, err)
		}
		if _, dup := kr.byID[e.KeyID()]; !dup {
			kr.byID[e.KeyID()] = e
		}
	}
	return kr, nil
}

// PrimaryID returns the id new values are sealed with.
func (k *Keyring) PrimaryID() string { return k.primary.KeyID() }

// Seal encrypts plaintext with the primary key and returns base64 ciphertext plus the key id
// to store alongside it. Empty input stays empty.
func (k *Keyring) Seal(plaintext, ad string) (string, string, error) {
	if plaintext == "" {
		return "", k.primary.KeyID(), nil
	}
	out, err := k.primary.Encrypt([]byte(plaintext), []byte(ad))
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(out), k.primary.KeyID(), nil
}

// Open decrypts a value produced by Seal. An empty keyID means the primary key.
func (k *Keyring) Open(ciphertext, keyID, ad string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	e := k.primary
	if keyID != "" {
		var ok bool
		if e, ok = k.byID[keyID]; !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
		}
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	plaintext, err := e.Decrypt(raw, []byte(ad))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// NeedsRotation reports whether a value sealed under keyID should be re-sealed.
func (k *Keyring) NeedsRotation(keyID string) bool {
	return keyID != k.primary.KeyID()
}
