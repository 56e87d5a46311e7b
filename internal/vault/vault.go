// Package vault provides authenticated encryption, token generation and
// masking for sensitive payment fields. Card data passes through here exactly
// once and is only ever stored masked or encrypted.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/hybridpay/paycore/pkg/errors"
)

const (
	keyLength = 32
	ivLength  = 16
	tagLength = 16

	kdfSalt = "hybrid-payment-salt"
)

// Vault holds the derived process-wide key. Key rotation is an external
// concern.
type Vault struct {
	key []byte
}

// New derives the symmetric key from the configured secret. Secrets shorter
// than the required key length are stretched with scrypt.
func New(secret string) (*Vault, error) {
	if len(secret) < keyLength {
		key, err := scrypt.Key([]byte(secret), []byte(kdfSalt), 1<<15, 8, 1, keyLength)
		if err != nil {
			return nil, fmt.Errorf("key derivation failed: %w", err)
		}
		return &Vault{key: key}, nil
	}
	return &Vault{key: []byte(secret[:keyLength])}, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random IV. The
// returned blob is base64(iv || tag || ciphertext), transportable as a single
// string.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return "", fmt.Errorf("GCM creation failed: %w", err)
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("IV generation failed: %w", err)
	}

	// Seal appends ciphertext || tag; the wire layout is iv || tag || ciphertext.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	blob := make([]byte, 0, ivLength+tagLength+len(ciphertext))
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt is the inverse of Encrypt. Tampered or malformed blobs fail with an
// IntegrityError; that failure is never silently ignored upstream.
func (v *Vault) Decrypt(blob string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", errors.ErrIntegrity.Explain("malformed ciphertext").Wrap(err)
	}
	if len(data) < ivLength+tagLength {
		return "", errors.ErrIntegrity.Explain("ciphertext too short")
	}

	iv := data[:ivLength]
	tag := data[ivLength : ivLength+tagLength]
	ciphertext := data[ivLength+tagLength:]

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return "", fmt.Errorf("GCM creation failed: %w", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+tagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", errors.ErrIntegrity.Explain("authentication failed").Wrap(err)
	}
	return string(plaintext), nil
}

// GenerateToken returns the externally shareable payment reference:
// "TOK_" + 16 random bytes, uppercase hex. Never the card number.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token generation failed: %w", err)
	}
	return "TOK_" + strings.ToUpper(hex.EncodeToString(buf)), nil
}

// GenerateSecureID returns a 40-character random hex identifier.
func GenerateSecureID() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("id generation failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// MaskCardNumber returns the fixed-format masked representation exposing only
// the last four digits.
func MaskCardNumber(cardNumber string) string {
	cleaned := strings.ReplaceAll(cardNumber, " ", "")
	if len(cleaned) < 4 {
		return "**** **** **** ****"
	}
	return "**** **** **** " + cleaned[len(cleaned)-4:]
}

// HashData returns the sha256 hex digest of data, for non-reversible audit
// references.
func HashData(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
