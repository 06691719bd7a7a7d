// internal/secret/codec.go
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// DefaultSecret is the fixed shared key used when none is configured.
const DefaultSecret = "llm-comparison-tool-secret-key"

// Codec is a symmetric, deterministic credential codec: the same plaintext
// always encodes to the same ciphertext, so stored provider configs stay
// stable across saves. It protects credentials at rest in local config
// files; it is not a substitute for a real secrets manager.
type Codec struct {
	block cipher.Block
	iv    []byte
}

// New derives an AES-256 key from the given secret. An empty secret falls
// back to DefaultSecret.
func New(appSecret string) (*Codec, error) {
	if appSecret == "" {
		appSecret = DefaultSecret
	}
	key := sha256.Sum256([]byte(appSecret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	// Fixed IV derived from the secret keeps the codec deterministic.
	ivSeed := sha256.Sum256([]byte(appSecret + "/iv"))
	return &Codec{block: block, iv: ivSeed[:aes.BlockSize]}, nil
}

// Encrypt returns a base64 ciphertext for the plaintext credential.
// Encrypting the empty string yields the empty string.
func (c *Codec) Encrypt(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	out := make([]byte, len(plaintext))
	cipher.NewCTR(c.block, c.iv).XORKeyStream(out, []byte(plaintext))
	return base64.StdEncoding.EncodeToString(out)
}

// Decrypt reverses Encrypt. Decrypting the empty string yields the empty
// string, so optional credentials pass through unchanged.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode credential: %w", err)
	}
	out := make([]byte, len(raw))
	cipher.NewCTR(c.block, c.iv).XORKeyStream(out, raw)
	return string(out), nil
}
