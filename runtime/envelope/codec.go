// Package envelope recognises and wraps the signed vault envelope, and
// provides the deterministic compressor the history passes through
// before encryption.
//
// A serialized vault is SIG || BODY: an 8-byte ASCII magic naming the
// format, then the ciphertext. Sign and StripSignature form an
// involution on well-formed inputs.
package envelope

import (
	"bytes"
	"errors"
)

// Signature is the 8-byte ASCII magic of format A.
const Signature = "lckbk-a1"

// FormatKind identifies a recognised envelope format.
type FormatKind int

const (
	FormatUnknown FormatKind = iota
	FormatA
)

func (k FormatKind) String() string {
	if k == FormatA {
		return "A"
	}
	return "unknown"
}

// Sentinel errors.
var (
	ErrMissingSignature = errors.New("envelope: missing signature")
	ErrUnknownFormat    = errors.New("envelope: unknown format")
)

// Detect inspects the leading magic and reports the envelope format.
func Detect(data []byte) FormatKind {
	if bytes.HasPrefix(data, []byte(Signature)) {
		return FormatA
	}
	return FormatUnknown
}

// IsEncrypted reports whether data carries the format-A signature.
func IsEncrypted(data []byte) bool {
	return Detect(data) == FormatA
}

// Sign prepends the format-A signature to body.
func Sign(body []byte) []byte {
	out := make([]byte, 0, len(Signature)+len(body))
	out = append(out, Signature...)
	return append(out, body...)
}

// StripSignature removes the leading signature and returns the body.
func StripSignature(data []byte) ([]byte, error) {
	if Detect(data) != FormatA {
		return nil, ErrMissingSignature
	}
	return data[len(Signature):], nil
}

// HasValidSignature reports whether data begins with a known signature.
func HasValidSignature(data []byte) bool {
	return Detect(data) == FormatA
}
