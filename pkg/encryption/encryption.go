// Package encryption provides the optional at-rest capability applied to
// each serialized event before it is framed. Implementations are symmetric
// from the caller's point of view: Decrypt(Encrypt(b)) == b.
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// DataEncryption encrypts and decrypts event payloads.
type DataEncryption interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

var ErrShortCiphertext = errors.New("ciphertext too short")

// AESGCM seals payloads as nonce|ciphertext with AES-256-GCM.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCMHex builds an AES-256-GCM capability from a 64 character hex key.
func NewAESGCMHex(hexKey string) (*AESGCM, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes (AES-256)")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: gcm}, nil
}

func (a *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.aead.NonceSize(), a.aead.NonceSize()+len(plaintext)+a.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return a.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (a *AESGCM) Decrypt(data []byte) ([]byte, error) {
	ns := a.aead.NonceSize()
	if len(data) < ns {
		return nil, ErrShortCiphertext
	}
	return a.aead.Open(nil, data[:ns], data[ns:], nil)
}

// Age encrypts to an X25519 recipient. Decrypt needs the matching identity;
// an encrypt-only instance (no identity) fails on Decrypt.
type Age struct {
	recipient age.Recipient
	identity  age.Identity
}

// NewAge builds an age capability. identity may be empty for hosts that only
// write; recipient may be empty when identity is set, in which case the
// identity's own recipient is used.
func NewAge(recipient, identity string) (*Age, error) {
	a := &Age{}
	if id := strings.TrimSpace(identity); id != "" {
		x, err := age.ParseX25519Identity(id)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		a.identity = x
		a.recipient = x.Recipient()
	}
	if r := strings.TrimSpace(recipient); r != "" {
		x, err := age.ParseX25519Recipient(r)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", r, err)
		}
		a.recipient = x
	}
	if a.recipient == nil {
		return nil, errors.New("age encryption needs a recipient or identity")
	}
	return a, nil
}

// GenerateAgeKeypair returns a fresh identity and its public recipient.
func GenerateAgeKeypair() (identity, recipient string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating age keypair: %w", err)
	}
	return id.String(), id.Recipient().String(), nil
}

func (a *Age) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, a.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func (a *Age) Decrypt(ciphertext []byte) ([]byte, error) {
	if a.identity == nil {
		return nil, errors.New("age identity not configured")
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), a.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return io.ReadAll(r)
}

// FromConfig selects an implementation by kind: "", "none", "aesgcm", "age".
// A nil result with a nil error means encryption is disabled.
func FromConfig(kind, key, recipient string) (DataEncryption, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "none":
		return nil, nil
	case "aesgcm", "aes-gcm":
		e, err := NewAESGCMHex(key)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "age":
		e, err := NewAge(recipient, key)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("unsupported encryption kind: %s", kind)
}
