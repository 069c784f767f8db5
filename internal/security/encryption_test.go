package security

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps scrypt cheap in tests.
func fastConfig() *EncryptionConfig {
	cfg := DefaultEncryptionConfig()
	cfg.SCryptN = 1024
	return cfg
}

func newTestCipher(t *testing.T, passphrase string) *Cipher {
	t.Helper()
	c, err := NewCipher(passphrase, fastConfig())
	require.NoError(t, err)
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"license xml", []byte(`<SecurityPolicy xmlns="urn:x"><BrandName>B</BrandName></SecurityPolicy>`)},
		{"large", bytes.Repeat([]byte("0123456789abcdef"), 4096)},
	}

	c := newTestCipher(t, "correct horse battery staple")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := c.Encrypt(tt.plaintext)
			require.NoError(t, err)

			got, err := c.Decrypt(blob)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, got)
		})
	}
}

func TestCipher_DecryptToleratesSurroundingWhitespace(t *testing.T) {
	c := newTestCipher(t, "pw")

	blob, err := c.Encrypt([]byte("data"))
	require.NoError(t, err)

	got, err := c.Decrypt(append(append([]byte("\n  "), blob...), '\n'))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestCipher_FreshSaltAndNonce(t *testing.T) {
	c := newTestCipher(t, "pw")

	a, err := c.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := c.Seal([]byte("same"))
	require.NoError(t, err)

	assert.Len(t, a.Salt, 32)
	assert.Len(t, a.Nonce, 12)
	assert.Len(t, a.AuthTag, 16)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestCipher_WrongPassphrase(t *testing.T) {
	blob, err := newTestCipher(t, "first").Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = newTestCipher(t, "second").Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestCipher_DecryptGarbage(t *testing.T) {
	c := newTestCipher(t, "pw")

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"not base64", []byte("%%%not-base64%%%")},
		{"not json", []byte(base64.StdEncoding.EncodeToString([]byte("<xml/>")))},
		{"wrong version", []byte(base64.StdEncoding.EncodeToString([]byte(`{"version":9}`)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(tt.blob)
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func TestCipher_Tampering(t *testing.T) {
	c := newTestCipher(t, "pw")
	payload, err := c.Seal([]byte("test data"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		tamper func(*EncryptedPayload)
	}{
		{"ciphertext", func(p *EncryptedPayload) { p.Ciphertext[0] ^= 0x01 }},
		{"salt", func(p *EncryptedPayload) { p.Salt[0] ^= 0x01 }},
		{"nonce", func(p *EncryptedPayload) { p.Nonce[0] ^= 0x01 }},
		{"auth tag", func(p *EncryptedPayload) { p.AuthTag[0] ^= 0x01 }},
		{"integrity", func(p *EncryptedPayload) { p.Integrity[0] ^= 0x01 }},
		{"short nonce", func(p *EncryptedPayload) { p.Nonce = p.Nonce[:4] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(payload)
			require.NoError(t, err)
			var copied EncryptedPayload
			require.NoError(t, json.Unmarshal(raw, &copied))

			tt.tamper(&copied)

			_, err = c.Open(&copied)
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}

	_, err = c.Open(nil)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewCipher(t *testing.T) {
	_, err := NewCipher("", nil)
	assert.Error(t, err)

	c, err := NewCipher("pw", nil)
	require.NoError(t, err)
	assert.Equal(t, 32768, c.config.SCryptN)

	_, err = c.Seal(nil)
	assert.Error(t, err)
}

func TestValidateEncryptionConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EncryptionConfig)
		wantErr bool
	}{
		{"default", func(*EncryptionConfig) {}, false},
		{"N not power of two", func(c *EncryptionConfig) { c.SCryptN = 1000 }, true},
		{"N too small", func(c *EncryptionConfig) { c.SCryptN = 1 }, true},
		{"zero r", func(c *EncryptionConfig) { c.SCryptR = 0 }, true},
		{"zero p", func(c *EncryptionConfig) { c.SCryptP = 0 }, true},
		{"AES-128 key", func(c *EncryptionConfig) { c.SCryptKeyLen = 16 }, true},
		{"short salt", func(c *EncryptionConfig) { c.SaltSize = 8 }, true},
		{"nonce", func(c *EncryptionConfig) { c.NonceSize = 16 }, true},
		{"tag", func(c *EncryptionConfig) { c.TagSize = 12 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEncryptionConfig()
			tt.mutate(cfg)
			err := ValidateEncryptionConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, ValidateEncryptionConfig(nil))
}
