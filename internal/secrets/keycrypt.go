// Package secrets implements model API key encryption: admin
// writes a per-model key encrypted at rest with AES-256-GCM, using a key
// derived via scrypt from a platform secret, so that `config/models/*.json`
// never holds a plaintext key. The sealed layout uses the standard 12-byte
// GCM nonce and a per-call scrypt-derived key (random salt) rather than a
// shared IV.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	derivedKeyLen = 32 // AES-256
	saltLen      = 16
)

// ErrMasked is returned by Decrypt when given the UI's masked-key
// placeholder rather than real ciphertext; callers use it to detect the
// "preserve existing key" case.
var ErrMasked = errors.New("secrets: value is a masked placeholder, not ciphertext")

// MaskedPlaceholder is what the admin UI sends back for a key it never
// displays in full.
const MaskedPlaceholder = "••••••••"

// KeyCrypt encrypts and decrypts model API keys against a single platform
// secret, deriving a fresh scrypt key and random salt per call so
// two encryptions of the same plaintext never produce the same ciphertext.
type KeyCrypt struct {
	secret []byte
}

// New constructs a KeyCrypt from the platform's configured secret. The secret
// itself is never persisted by this package.
func New(platformSecret string) *KeyCrypt {
	return &KeyCrypt{secret: []byte(platformSecret)}
}

// Encrypt derives a per-call key via scrypt and seals plaintext with
// AES-256-GCM, returning base64(salt||nonce||ciphertext). GCM folds the
// auth tag into its sealed output, so the layout is salt||nonce||sealed
// rather than a separately-framed tag.
func (k *KeyCrypt) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("secrets: read salt: %w", err)
	}
	derived, err := scrypt.Key(k.secret, salt, scryptN, scryptR, scryptP, derivedKeyLen)
	if err != nil {
		return "", fmt.Errorf("secrets: derive key: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return "", fmt.Errorf("secrets: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: read nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	out := make([]byte, 0, saltLen+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Passing the UI's masked placeholder returns
// ErrMasked rather than attempting a decode, so callers can distinguish
// "admin left the key untouched" from a genuine ciphertext.
func (k *KeyCrypt) Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	if stored == MaskedPlaceholder {
		return "", ErrMasked
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("secrets: base64 decode: %w", err)
	}
	if len(raw) < saltLen {
		return "", errors.New("secrets: ciphertext too short")
	}
	salt, rest := raw[:saltLen], raw[saltLen:]
	derived, err := scrypt.Key(k.secret, salt, scryptN, scryptR, scryptP, derivedKeyLen)
	if err != nil {
		return "", fmt.Errorf("secrets: derive key: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return "", fmt.Errorf("secrets: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: new gcm: %w", err)
	}
	if len(rest) < gcm.NonceSize() {
		return "", errors.New("secrets: ciphertext too short")
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: gcm open: %w", err)
	}
	return string(plain), nil
}

// Mask renders a stored-or-plaintext key as the UI placeholder when
// non-empty, and "" otherwise.
func Mask(key string) string {
	if key == "" {
		return ""
	}
	return MaskedPlaceholder
}
