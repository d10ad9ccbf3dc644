package cipher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptText_RoundTrip(t *testing.T) {
	// GIVEN: A plaintext and a password
	plaintext := "fmt 1\naid 2a17e386-6ad4-4e88-a199-12f1dbd0a9a8"

	// WHEN: We encrypt and decrypt with the same password
	ct, err := EncryptText(plaintext, "correct horse")
	require.NoError(t, err)
	got, err := DecryptText(ct, "correct horse")
	require.NoError(t, err)

	// THEN: The round trip is the identity
	assert.Equal(t, plaintext, got)
}

func TestEncryptText_CiphertextShape(t *testing.T) {
	ct, err := EncryptText("secret", "pw")
	require.NoError(t, err)

	parts := strings.Split(ct, "$")
	require.Len(t, parts, 6)
	assert.Equal(t, "lb1", parts[0])
	assert.Equal(t, "aes256gcm", parts[1])
	assert.Equal(t, "250000", parts[2])
}

func TestDecryptText_WrongPassword(t *testing.T) {
	ct, err := EncryptText("secret", "pw")
	require.NoError(t, err)

	_, err = DecryptText(ct, "not the password")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestDecryptText_Tampered(t *testing.T) {
	ct, err := EncryptText("secret", "pw")
	require.NoError(t, err)

	// Flip a character inside the base64 payload
	tampered := []byte(ct)
	i := strings.LastIndex(ct, "$") + 1
	if tampered[i] == 'A' {
		tampered[i] = 'B'
	} else {
		tampered[i] = 'A'
	}

	_, err = DecryptText(string(tampered), "pw")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestDecryptText_Malformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-ciphertext",
		"lb1$aes256gcm$250000$short",
		"xx9$aes256gcm$250000$a$b$c",
	}
	for _, ct := range cases {
		_, err := DecryptText(ct, "pw")
		assert.ErrorIs(t, err, ErrMalformed, "input %q", ct)
	}
}

func TestEncryptBuffer_RoundTrip(t *testing.T) {
	data := []byte{0x00, 0xff, 0x10, 0x80, 0x00}

	ct, err := EncryptBuffer(data, "pw")
	require.NoError(t, err)
	assert.Equal(t, "lbb1", string(ct[:4]))

	got, err := DecryptBuffer(ct, "pw")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDecryptBuffer_Tampered(t *testing.T) {
	ct, err := EncryptBuffer([]byte("attachment bytes"), "pw")
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0x01
	_, err = DecryptBuffer(ct, "pw")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestDecryptBuffer_TooShort(t *testing.T) {
	_, err := DecryptBuffer([]byte("lbb1"), "pw")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRandomString_AlphabetAndLength(t *testing.T) {
	s, err := RandomString(48)
	require.NoError(t, err)
	assert.Len(t, s, 48)

	for _, r := range s {
		ok := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		assert.True(t, ok, "character %q outside alphabet", r)
	}
}

func TestRandomString_Distinct(t *testing.T) {
	a, err := RandomString(32)
	require.NoError(t, err)
	b, err := RandomString(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSetDerivationRounds_ClampsToFloor(t *testing.T) {
	t.Cleanup(func() { SetDerivationRounds(0) })

	// An override below the floor is clamped up
	SetDerivationRounds(1000)
	assert.Equal(t, DefaultDerivationRounds, DerivationRounds())

	// An override above the floor takes effect
	SetDerivationRounds(300_000)
	assert.Equal(t, 300_000, DerivationRounds())

	// Zero restores the default
	SetDerivationRounds(0)
	assert.Equal(t, DefaultDerivationRounds, DerivationRounds())
}

func TestDecryptText_HonoursEmbeddedRounds(t *testing.T) {
	t.Cleanup(func() { SetDerivationRounds(0) })

	// GIVEN: A ciphertext written with a raised round count
	SetDerivationRounds(260_000)
	ct, err := EncryptText("secret", "pw")
	require.NoError(t, err)

	// WHEN: The override is cleared before decryption
	SetDerivationRounds(0)

	// THEN: Decryption still succeeds because rounds travel with the ciphertext
	got, err := DecryptText(ct, "pw")
	require.NoError(t, err)
	assert.Equal(t, "secret", got)
}
