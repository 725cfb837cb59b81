// Package crypto signs and verifies consensus attestations, keeps attestor
// keys encrypted at rest, and signs requests to the external risk model.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	defaultIterations = 480_000
	saltLen           = 16
	aesKeyLen         = 32
	keyFileVersion    = 2
	kdfName           = "pbkdf2-sha256"
)

// keyFile is the on-disk format of a sealed private key. Iterations are
// stored so they can be raised without breaking existing files.
type keyFile struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where an attestor key comes from. A raw key wins over a
// key file.
type KeySource struct {
	RawKey   string
	KeyFile  string
	Password string
}

// Resolve returns the hex private key (no 0x prefix) described by s, or an
// empty string when s is empty.
func (s KeySource) Resolve() (string, error) {
	if s.RawKey != "" {
		k := strings.TrimPrefix(s.RawKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw key is not hex: %w", err)
		}
		return k, nil
	}
	if s.KeyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.KeyFile)
	if err != nil {
		return "", fmt.Errorf("crypto: read key file: %w", err)
	}
	return OpenKey(data, s.Password)
}

// SealKey encrypts a 32-byte hex private key under password with
// PBKDF2-SHA256 and AES-256-GCM.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(raw))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := deriveGCM(password, salt, defaultIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	enc := base64.StdEncoding
	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		KDF:        kdfName,
		Iterations: defaultIterations,
		Salt:       enc.EncodeToString(salt),
		Nonce:      enc.EncodeToString(nonce),
		Ciphertext: enc.EncodeToString(gcm.Seal(nil, nonce, raw, nil)),
	}, "", "  ")
}

// OpenKey decrypts a blob produced by SealKey.
func OpenKey(data []byte, password string) (string, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion || kf.KDF != kdfName {
		return "", fmt.Errorf("crypto: unsupported key file (version %d, kdf %q)", kf.Version, kf.KDF)
	}

	enc := base64.StdEncoding
	salt, err := enc.DecodeString(kf.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: salt: %w", err)
	}
	nonce, err := enc.DecodeString(kf.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	ct, err := enc.DecodeString(kf.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: ciphertext: %w", err)
	}

	gcm, err := deriveGCM(password, salt, kf.Iterations)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

func deriveGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if iterations <= 0 {
		return nil, fmt.Errorf("crypto: invalid iteration count %d", iterations)
	}
	key := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
