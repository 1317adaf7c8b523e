package fieldcrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize = 32

	// MinSecretLength is the shortest accepted process secret.
	MinSecretLength = 32

	envelopeVersion  byte = 0x01
	envelopePrefix        = "v1:"
	envelopeOverhead      = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
)

// HKDF info strings. Changing either invalidates stored ciphertext or
// index values.
var (
	hkdfInfoEncryption = []byte("clubpay.fields.enc.v1")
	hkdfInfoIndex      = []byte("clubpay.fields.index.v1")
)

var (
	ErrWeakSecret = errors.New("field encryption secret is missing or too short")
	ErrMalformed  = errors.New("malformed field ciphertext")
)

// Codec encrypts individual column values with XChaCha20-Poly1305 under a
// key derived from one process-wide secret. Each call uses a fresh random
// nonce, so equal plaintexts never produce equal ciphertexts.
type Codec struct {
	aead       aeadCipher
	indexKey   []byte
	blindIndex bool
}

type aeadCipher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// Options toggles the keyed-hash side index.
type Options struct {
	BlindIndex bool
}

// New derives the codec keys from secret. A missing or short secret is an error.
func New(secret string, opts Options) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrWeakSecret, MinSecretLength)
	}

	encKey, err := deriveKey([]byte(secret), hkdfInfoEncryption)
	if err != nil {
		return nil, err
	}
	indexKey, err := deriveKey([]byte(secret), hkdfInfoIndex)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return &Codec{aead: aead, indexKey: indexKey, blindIndex: opts.BlindIndex}, nil
}

// Encrypt returns "v1:" + base64(version || nonce || ciphertext+tag).
func (c *Codec) Encrypt(plaintext string) (string, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating random nonce: %w", err)
	}

	aad := []byte{envelopeVersion}
	out := make([]byte, 1+len(nonce), envelopeOverhead+len(plaintext))
	out[0] = envelopeVersion
	copy(out[1:], nonce[:])
	out = c.aead.Seal(out, nonce[:], []byte(plaintext), aad)

	return envelopePrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Tampered or foreign ciphertext fails authentication.
func (c *Codec) Decrypt(envelope string) (string, error) {
	encoded, ok := strings.CutPrefix(envelope, envelopePrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown envelope prefix", ErrMalformed)
	}
	blob, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(blob) < envelopeOverhead {
		return "", fmt.Errorf("%w: %d bytes, minimum is %d", ErrMalformed, len(blob), envelopeOverhead)
	}
	if blob[0] != envelopeVersion {
		return "", fmt.Errorf("%w: version %d is not supported", ErrMalformed, blob[0])
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := c.aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
	if err != nil {
		return "", fmt.Errorf("decrypting field: %w", err)
	}
	return string(plaintext), nil
}

// EncryptPtr encrypts optional values, mapping empty to nil.
func (c *Codec) EncryptPtr(plaintext string) (*string, error) {
	if plaintext == "" {
		return nil, nil
	}
	out, err := c.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BlindIndexEnabled reports whether writes should populate index columns.
func (c *Codec) BlindIndexEnabled() bool {
	return c.blindIndex
}

// BlindIndex is a deterministic keyed BLAKE3 hash of plaintext, hex encoded.
// It allows exact-match lookups without revealing the value.
func (c *Codec) BlindIndex(plaintext string) string {
	hasher, err := blake3.NewKeyed(c.indexKey)
	if err != nil {
		panic("fieldcrypt: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write([]byte(plaintext))
	return hex.EncodeToString(hasher.Sum(nil))
}

// BlindIndexPtr returns the index for plaintext when the index is enabled.
func (c *Codec) BlindIndexPtr(plaintext string) *string {
	if !c.blindIndex || plaintext == "" {
		return nil
	}
	idx := c.BlindIndex(plaintext)
	return &idx
}

func deriveKey(secret, info []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return key, nil
}
