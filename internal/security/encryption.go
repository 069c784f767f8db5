package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/scrypt"
)

// ErrDecrypt is returned for any blob that cannot be opened with the cipher's
// passphrase: bad encoding, unsupported version, tampering or a wrong key.
var ErrDecrypt = errors.New("license decryption failed")

const payloadVersion = 1

// EncryptionConfig defines the key derivation and AES-GCM parameters.
type EncryptionConfig struct {
	SCryptN      int // CPU/memory cost, power of two
	SCryptR      int
	SCryptP      int
	SCryptKeyLen int // 32 for AES-256

	SaltSize  int
	NonceSize int // 96-bit GCM nonce
	TagSize   int // 128-bit GCM tag
}

// EncryptedPayload is the JSON envelope of an encrypted license.
type EncryptedPayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"auth_tag"`
	Integrity  []byte `json:"integrity"`
	Timestamp  int64  `json:"timestamp"`
}

// DefaultEncryptionConfig returns OWASP recommended parameters.
func DefaultEncryptionConfig() *EncryptionConfig {
	return &EncryptionConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		SaltSize:     32,
		NonceSize:    12,
		TagSize:      16,
	}
}

// ValidateEncryptionConfig checks that config describes AES-256-GCM with a
// usable scrypt cost.
func ValidateEncryptionConfig(config *EncryptionConfig) error {
	if config == nil {
		return errors.New("encryption config cannot be nil")
	}
	if config.SCryptN < 2 || config.SCryptN&(config.SCryptN-1) != 0 {
		return errors.New("SCryptN must be a power of two greater than 1")
	}
	if config.SCryptR < 1 {
		return errors.New("SCryptR must be at least 1")
	}
	if config.SCryptP < 1 {
		return errors.New("SCryptP must be at least 1")
	}
	if config.SCryptKeyLen != 32 {
		return errors.New("SCryptKeyLen must be 32 for AES-256")
	}
	if config.SaltSize < 16 {
		return errors.New("SaltSize must be at least 16")
	}
	if config.NonceSize != 12 {
		return errors.New("NonceSize must be 12 for AES-GCM")
	}
	if config.TagSize != 16 {
		return errors.New("TagSize must be 16 for AES-GCM")
	}
	return nil
}

// Cipher seals and opens license blobs with a key derived from a passphrase.
// A blob is the base64 encoding of a JSON EncryptedPayload.
type Cipher struct {
	passphrase []byte
	config     *EncryptionConfig
	now        func() time.Time
}

// NewCipher creates a cipher. A nil config selects DefaultEncryptionConfig.
func NewCipher(passphrase string, config *EncryptionConfig) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase cannot be empty")
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}
	if err := ValidateEncryptionConfig(config); err != nil {
		return nil, err
	}
	return &Cipher{passphrase: []byte(passphrase), config: config, now: time.Now}, nil
}

// Encrypt seals plaintext into a blob.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	payload, err := c.Seal(plaintext)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// Decrypt opens a blob produced by Encrypt. Every failure wraps ErrDecrypt.
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(blob)))
	n, err := base64.StdEncoding.Decode(raw, bytes.TrimSpace(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: decode blob: %v", ErrDecrypt, err)
	}

	var payload EncryptedPayload
	if err := json.Unmarshal(raw[:n], &payload); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrDecrypt, err)
	}

	return c.Open(&payload)
}

// Seal encrypts plaintext with a fresh salt and nonce.
func (c *Cipher) Seal(plaintext []byte) (*EncryptedPayload, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}

	salt := make([]byte, c.config.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := c.newGCM(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, c.config.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-c.config.TagSize]
	tag := sealed[len(sealed)-c.config.TagSize:]

	return &EncryptedPayload{
		Version:    payloadVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		AuthTag:    tag,
		Integrity:  integrityHash(ciphertext, salt, nonce),
		Timestamp:  c.now().Unix(),
	}, nil
}

// Open verifies and decrypts payload. Every failure wraps ErrDecrypt.
func (c *Cipher) Open(payload *EncryptedPayload) ([]byte, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrDecrypt)
	}
	if payload.Version != payloadVersion {
		return nil, fmt.Errorf("%w: unsupported payload version %d", ErrDecrypt, payload.Version)
	}
	if len(payload.Nonce) != c.config.NonceSize || len(payload.AuthTag) != c.config.TagSize {
		return nil, fmt.Errorf("%w: malformed payload", ErrDecrypt)
	}

	expected := integrityHash(payload.Ciphertext, payload.Salt, payload.Nonce)
	if subtle.ConstantTimeCompare(payload.Integrity, expected) != 1 {
		return nil, fmt.Errorf("%w: integrity check failed", ErrDecrypt)
	}

	gcm, err := c.newGCM(payload.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	sealed := make([]byte, 0, len(payload.Ciphertext)+len(payload.AuthTag))
	sealed = append(sealed, payload.Ciphertext...)
	sealed = append(sealed, payload.AuthTag...)

	plaintext, err := gcm.Open(nil, payload.Nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func (c *Cipher) newGCM(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(c.passphrase, salt, c.config.SCryptN, c.config.SCryptR, c.config.SCryptP, c.config.SCryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, c.config.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// integrityHash binds ciphertext, salt and nonce so a swapped field is
// rejected before any key derivation.
func integrityHash(ciphertext, salt, nonce []byte) []byte {
	h := sha256.New()
	h.Write([]byte("POLICYHUB-INTEGRITY-V1"))
	h.Write(ciphertext)
	h.Write(salt)
	h.Write(nonce)
	return h.Sum(nil)
}
