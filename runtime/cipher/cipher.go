// Package cipher implements the vault cryptor: password-based
// authenticated encryption for vault histories and attachment blobs.
//
// Keys are derived with PBKDF2-SHA256. Every ciphertext carries its own
// algorithm tag, iteration count, salt, and nonce so that a vault
// written with overridden derivation rounds stays readable after the
// override is cleared. Text ciphertexts are a single `$`-separated
// ASCII line; buffer ciphertexts use a compact binary header.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/pbkdf2"

	"github.com/aledsdavies/lockbook/core/invariant"
)

// Sentinel errors.
var (
	// ErrAuthFailed covers both tampered ciphertext and a wrong
	// password. The two are deliberately indistinguishable.
	ErrAuthFailed = errors.New("cipher: authentication failed")
	// ErrMalformed means the ciphertext envelope could not be parsed.
	ErrMalformed = errors.New("cipher: malformed ciphertext")
)

const (
	// DefaultDerivationRounds is the PBKDF2 iteration floor. Overrides
	// below this value are clamped up to it.
	DefaultDerivationRounds = 250_000

	textPrefix = "lb1"
	textAlg    = "aes256gcm"

	keySize   = 32
	saltSize  = 16
	nonceSize = 12

	bufferMagic = "lbb1"
	bufferAlg   = 0x01
)

// Alphabet used by RandomString: the command layer emits these
// characters raw, without quoting.
const randomAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// derivationRoundsOverride is process-wide; see SetDerivationRounds.
var derivationRoundsOverride atomic.Int64

// SetDerivationRounds overrides the PBKDF2 iteration count for every
// subsequent encryption in this process. Zero restores the default.
// The effective count never falls below DefaultDerivationRounds.
func SetDerivationRounds(rounds int) {
	invariant.Precondition(rounds >= 0, "rounds must not be negative, got %d", rounds)
	derivationRoundsOverride.Store(int64(rounds))
}

// DerivationRounds returns the iteration count new ciphertexts will use.
func DerivationRounds() int {
	override := int(derivationRoundsOverride.Load())
	if override < DefaultDerivationRounds {
		return DefaultDerivationRounds
	}
	return override
}

func deriveKey(password string, salt []byte, rounds int) []byte {
	return pbkdf2.Key([]byte(password), salt, rounds, keySize, sha256.New)
}

func newGCM(key []byte) (gocipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: new block: %w", err)
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: new gcm: %w", err)
	}
	return aead, nil
}

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("cipher: read random: %w", err)
	}
	return buf, nil
}

// EncryptText encrypts plaintext with a key derived from password.
// The result is a single ASCII line:
//
//	lb1$aes256gcm$<rounds>$<salt b64>$<nonce b64>$<payload b64>
func EncryptText(plaintext, password string) (string, error) {
	salt, err := randomBytes(saltSize)
	if err != nil {
		return "", err
	}
	nonce, err := randomBytes(nonceSize)
	if err != nil {
		return "", err
	}

	rounds := DerivationRounds()
	aead, err := newGCM(deriveKey(password, salt, rounds))
	if err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)

	enc := base64.StdEncoding
	parts := []string{
		textPrefix,
		textAlg,
		strconv.Itoa(rounds),
		enc.EncodeToString(salt),
		enc.EncodeToString(nonce),
		enc.EncodeToString(sealed),
	}
	return strings.Join(parts, "$"), nil
}

// DecryptText reverses EncryptText. Returns ErrAuthFailed when the
// password is wrong or the ciphertext was modified.
func DecryptText(ciphertext, password string) (string, error) {
	parts := strings.Split(ciphertext, "$")
	if len(parts) != 6 || parts[0] != textPrefix {
		return "", ErrMalformed
	}
	if parts[1] != textAlg {
		return "", fmt.Errorf("%w: unknown algorithm %q", ErrMalformed, parts[1])
	}
	rounds, err := strconv.Atoi(parts[2])
	if err != nil || rounds <= 0 {
		return "", fmt.Errorf("%w: bad round count %q", ErrMalformed, parts[2])
	}

	enc := base64.StdEncoding
	salt, err := enc.DecodeString(parts[3])
	if err != nil || len(salt) != saltSize {
		return "", fmt.Errorf("%w: bad salt", ErrMalformed)
	}
	nonce, err := enc.DecodeString(parts[4])
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: bad nonce", ErrMalformed)
	}
	sealed, err := enc.DecodeString(parts[5])
	if err != nil {
		return "", fmt.Errorf("%w: bad payload", ErrMalformed)
	}

	aead, err := newGCM(deriveKey(password, salt, rounds))
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrAuthFailed
	}
	return string(plain), nil
}

// EncryptBuffer encrypts data with a key derived from password using a
// binary envelope: "lbb1" || alg(1) || rounds(4, BE) || salt || nonce || sealed.
func EncryptBuffer(data []byte, password string) ([]byte, error) {
	salt, err := randomBytes(saltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(nonceSize)
	if err != nil {
		return nil, err
	}

	rounds := DerivationRounds()
	aead, err := newGCM(deriveKey(password, salt, rounds))
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, data, nil)

	out := make([]byte, 0, len(bufferMagic)+1+4+saltSize+nonceSize+len(sealed))
	out = append(out, bufferMagic...)
	out = append(out, bufferAlg)
	out = binary.BigEndian.AppendUint32(out, uint32(rounds))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// DecryptBuffer reverses EncryptBuffer.
func DecryptBuffer(data []byte, password string) ([]byte, error) {
	headerSize := len(bufferMagic) + 1 + 4 + saltSize + nonceSize
	if len(data) < headerSize {
		return nil, ErrMalformed
	}
	if string(data[:len(bufferMagic)]) != bufferMagic {
		return nil, ErrMalformed
	}
	rest := data[len(bufferMagic):]
	if rest[0] != bufferAlg {
		return nil, fmt.Errorf("%w: unknown algorithm 0x%02x", ErrMalformed, rest[0])
	}
	rounds := int(binary.BigEndian.Uint32(rest[1:5]))
	if rounds <= 0 {
		return nil, fmt.Errorf("%w: bad round count %d", ErrMalformed, rounds)
	}
	salt := rest[5 : 5+saltSize]
	nonce := rest[5+saltSize : 5+saltSize+nonceSize]
	sealed := rest[5+saltSize+nonceSize:]

	aead, err := newGCM(deriveKey(password, salt, rounds))
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plain, nil
}

// RandomString returns a cryptographically random string of length n
// over [A-Za-z0-9].
func RandomString(n int) (string, error) {
	invariant.Precondition(n > 0, "length must be positive, got %d", n)

	// Rejection sampling keeps the distribution uniform: 248 is the
	// largest multiple of len(randomAlphabet) below 256.
	const limit = 248
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("cipher: read random: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, randomAlphabet[int(b)%len(randomAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
