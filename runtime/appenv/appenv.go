// Package appenv is the shared application environment: a registry of
// configurable capabilities (crypto, compression) keyed by versioned
// property names, and the process-wide credential store that holds
// unlock material while a vault is open.
//
// Each property key has exactly one registered implementation;
// re-registration replaces. The defaults wire the in-process cipher
// and envelope packages.
package appenv

import (
	"fmt"
	"sync"

	"github.com/aledsdavies/lockbook/core/invariant"
	"github.com/aledsdavies/lockbook/runtime/cipher"
	"github.com/aledsdavies/lockbook/runtime/envelope"
)

// Recognised capability keys.
const (
	KeyEncryptText         = "crypto/v1/encryptText"
	KeyDecryptText         = "crypto/v1/decryptText"
	KeyEncryptBuffer       = "crypto/v2/encryptBuffer"
	KeyDecryptBuffer       = "crypto/v2/decryptBuffer"
	KeyRandomString        = "crypto/v1/randomString"
	KeySetDerivationRounds = "crypto/v1/setDerivationRounds"
	KeyCompressText        = "compression/v1/compressText"
	KeyDecompressText      = "compression/v1/decompressText"
)

// Capability signatures. Registered values must match the signature
// their key implies.
type (
	EncryptTextFunc         func(plaintext, password string) (string, error)
	DecryptTextFunc         func(ciphertext, password string) (string, error)
	EncryptBufferFunc       func(data []byte, password string) ([]byte, error)
	DecryptBufferFunc       func(data []byte, password string) ([]byte, error)
	RandomStringFunc        func(length int) (string, error)
	SetDerivationRoundsFunc func(rounds int)
	CompressTextFunc        func(text string) ([]byte, error)
	DecompressTextFunc      func(data []byte) (string, error)
)

// Environment is a capability registry.
type Environment struct {
	mu         sync.RWMutex
	properties map[string]interface{}
}

// NewEnvironment returns a registry with no capabilities bound.
func NewEnvironment() *Environment {
	return &Environment{properties: make(map[string]interface{})}
}

// Default returns a registry wired to the in-process implementations.
func Default() *Environment {
	env := NewEnvironment()
	env.SetProperty(KeyEncryptText, EncryptTextFunc(cipher.EncryptText))
	env.SetProperty(KeyDecryptText, DecryptTextFunc(cipher.DecryptText))
	env.SetProperty(KeyEncryptBuffer, EncryptBufferFunc(cipher.EncryptBuffer))
	env.SetProperty(KeyDecryptBuffer, DecryptBufferFunc(cipher.DecryptBuffer))
	env.SetProperty(KeyRandomString, RandomStringFunc(cipher.RandomString))
	env.SetProperty(KeySetDerivationRounds, SetDerivationRoundsFunc(cipher.SetDerivationRounds))
	env.SetProperty(KeyCompressText, CompressTextFunc(envelope.CompressText))
	env.SetProperty(KeyDecompressText, DecompressTextFunc(envelope.DecompressText))
	return env
}

// SetProperty registers a capability, replacing any prior registration.
func (e *Environment) SetProperty(key string, fn interface{}) {
	invariant.Precondition(key != "", "key must not be empty")
	invariant.NotNil(fn, "fn")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.properties[key] = fn
}

// GetProperty returns the registered capability for key.
func (e *Environment) GetProperty(key string) (interface{}, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.properties[key]
	if !ok {
		return nil, fmt.Errorf("appenv: no capability registered for %q", key)
	}
	return fn, nil
}

// Crypto and compression accessors with the concrete signature. Each
// panics via invariant if the registered value has the wrong type:
// that is a wiring bug, not a runtime condition.

func (e *Environment) EncryptText() EncryptTextFunc {
	return capability[EncryptTextFunc](e, KeyEncryptText)
}

func (e *Environment) DecryptText() DecryptTextFunc {
	return capability[DecryptTextFunc](e, KeyDecryptText)
}

func (e *Environment) EncryptBuffer() EncryptBufferFunc {
	return capability[EncryptBufferFunc](e, KeyEncryptBuffer)
}

func (e *Environment) DecryptBuffer() DecryptBufferFunc {
	return capability[DecryptBufferFunc](e, KeyDecryptBuffer)
}

func (e *Environment) RandomString() RandomStringFunc {
	return capability[RandomStringFunc](e, KeyRandomString)
}

func (e *Environment) CompressText() CompressTextFunc {
	return capability[CompressTextFunc](e, KeyCompressText)
}

func (e *Environment) DecompressText() DecompressTextFunc {
	return capability[DecompressTextFunc](e, KeyDecompressText)
}

func capability[T any](e *Environment, key string) T {
	fn, err := e.GetProperty(key)
	invariant.ExpectNoError(err, "resolve capability")
	typed, ok := fn.(T)
	invariant.Invariant(ok, "capability %q has type %T", key, fn)
	return typed
}
