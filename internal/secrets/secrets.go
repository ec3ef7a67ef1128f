// Package secrets encrypts broker API credentials at rest.
//
// Tokens use the Fernet format (version 0x80, big-endian timestamp, AES-128
// in CBC mode with PKCS#7 padding, HMAC-SHA256 authentication, base64url
// encoding) so stored ciphertext is interoperable with other tooling that
// reads the same database.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const fernetVersion = 0x80

var (
	// ErrInvalidKey is returned when the configured key is not a valid
	// 32-byte url-safe base64 Fernet key.
	ErrInvalidKey = errors.New("secrets: invalid encryption key")

	// ErrInvalidToken is returned when a stored token fails structural
	// validation or HMAC verification.
	ErrInvalidToken = errors.New("secrets: invalid token")
)

// Vault encrypts and decrypts credential strings with a single symmetric key.
type Vault struct {
	signingKey    []byte // first 16 bytes of the decoded key
	encryptionKey []byte // last 16 bytes
}

// NewVault parses a url-safe base64 encoded 32-byte key.
func NewVault(key string) (*Vault, error) {
	raw, err := base64.URLEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: decoded length %d, want 32", ErrInvalidKey, len(raw))
	}
	return &Vault{signingKey: raw[:16], encryptionKey: raw[16:]}, nil
}

// GenerateKey returns a fresh random key suitable for NewVault.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("secrets: generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// Encrypt seals plaintext into a Fernet token.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("secrets: read iv: %w", err)
	}
	return v.encryptAt(plaintext, time.Now(), iv)
}

// encryptAt builds a token with an explicit timestamp and IV, split out so
// tests can produce deterministic tokens.
func (v *Vault) encryptAt(plaintext string, now time.Time, iv []byte) (string, error) {
	block, err := aes.NewCipher(v.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("secrets: cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	token := make([]byte, 0, 1+8+len(iv)+len(ciphertext)+sha256.Size)
	token = append(token, fernetVersion)
	token = binary.BigEndian.AppendUint64(token, uint64(now.Unix()))
	token = append(token, iv...)
	token = append(token, ciphertext...)

	mac := hmac.New(sha256.New, v.signingKey)
	mac.Write(token)
	token = mac.Sum(token)

	return base64.URLEncoding.EncodeToString(token), nil
}

// Decrypt opens a Fernet token and returns the plaintext.
func (v *Vault) Decrypt(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	// version + timestamp + iv + at least one block + hmac
	if len(raw) < 1+8+aes.BlockSize+aes.BlockSize+sha256.Size {
		return "", fmt.Errorf("%w: too short", ErrInvalidToken)
	}
	if raw[0] != fernetVersion {
		return "", fmt.Errorf("%w: version 0x%02x", ErrInvalidToken, raw[0])
	}

	body, sig := raw[:len(raw)-sha256.Size], raw[len(raw)-sha256.Size:]
	mac := hmac.New(sha256.New, v.signingKey)
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return "", fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	iv := body[9 : 9+aes.BlockSize]
	ciphertext := body[9+aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ragged ciphertext", ErrInvalidToken)
	}

	block, err := aes.NewCipher(v.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("secrets: cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// Mask returns a display form of a secret showing only the last four
// characters, for logs and API responses.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidToken)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidToken)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrInvalidToken)
		}
	}
	return data[:len(data)-n], nil
}
