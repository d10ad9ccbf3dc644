// Package source composes the serialization pipeline around a format
// engine: envelope codec, cryptor, and compressor on the way in and
// out of a datasource. A Source is the unit the host application
// unlocks, edits, saves, and locks.
//
// Load path: bytes → strip signature → decrypt → decompress → replay.
// Save path is the reverse.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/aledsdavies/lockbook/core/invariant"
	"github.com/aledsdavies/lockbook/runtime/appenv"
	"github.com/aledsdavies/lockbook/runtime/attachment"
	"github.com/aledsdavies/lockbook/runtime/datasource"
	"github.com/aledsdavies/lockbook/runtime/engine"
	"github.com/aledsdavies/lockbook/runtime/envelope"
)

// Source binds a format engine to a datasource location.
type Source struct {
	log     logrus.FieldLogger
	env     *appenv.Environment
	backend datasource.Backend
	path    string
	format  *engine.Format
	creds   *appenv.CredentialStore
}

// New returns a locked source for the vault file at path.
func New(env *appenv.Environment, backend datasource.Backend, path string) *Source {
	invariant.NotNil(env, "env")
	invariant.NotNil(backend, "backend")
	invariant.Precondition(path != "", "path must not be empty")
	return &Source{
		log:     logrus.StandardLogger(),
		env:     env,
		backend: backend,
		path:    path,
		format:  engine.New(),
		creds:   appenv.SharedCredentials(),
	}
}

// SetLogger replaces the source's logger.
func (s *Source) SetLogger(log logrus.FieldLogger) {
	invariant.NotNil(log, "log")
	s.log = log
	s.format.SetLogger(log)
}

// SetCredentialStore replaces the shared credential store, mainly so
// tests can isolate state.
func (s *Source) SetCredentialStore(store *appenv.CredentialStore) {
	invariant.NotNil(store, "store")
	s.creds = store
}

// Format exposes the owned engine.
func (s *Source) Format() *engine.Format { return s.format }

// Attachments returns an attachment manager whose key-creation path
// saves through this source.
func (s *Source) Attachments() *attachment.Manager {
	return attachment.NewManager(s.format, s.backend, s.Save)
}

// Initialise creates a brand-new vault at the source's path and saves
// it encrypted under password.
func (s *Source) Initialise(ctx context.Context, password string) error {
	if err := s.format.Initialise(); err != nil {
		return err
	}
	s.creds.Put(s.format.Tree().ID, appenv.Credentials{Password: password})
	if err := s.Save(ctx); err != nil {
		return err
	}
	s.log.WithField("vaultID", s.format.Tree().ID).Info("vault created")
	return nil
}

// Unlock loads, decrypts, and replays the vault file. On success the
// password is retained in the credential store until Lock.
func (s *Source) Unlock(ctx context.Context, password string) error {
	data, err := s.backend.GetFileContents(ctx, s.path)
	if err != nil {
		return fmt.Errorf("source: read vault: %w", err)
	}
	body, err := envelope.StripSignature(data)
	if err != nil {
		return err
	}
	compressed, err := s.env.DecryptText()(string(body), password)
	if err != nil {
		return fmt.Errorf("source: unlock: %w", err)
	}
	text, err := s.env.DecompressText()([]byte(compressed))
	if err != nil {
		return fmt.Errorf("source: unlock: %w", err)
	}
	if err := s.format.LoadHistory(strings.Split(text, "\n")); err != nil {
		return err
	}

	s.creds.Put(s.format.Tree().ID, appenv.Credentials{Password: password})
	s.log.WithFields(logrus.Fields{
		"vaultID": s.format.Tree().ID,
		"groups":  len(s.format.Tree().Groups),
	}).Info("vault unlocked")
	return nil
}

// Save serializes the history (compress → encrypt → sign) and writes
// it to the datasource. Fires Updated after the write lands.
func (s *Source) Save(ctx context.Context) error {
	if s.format.State() == engine.StateEmpty {
		return engine.ErrNotInitialised
	}
	payload, err := s.creds.Get(s.format.Tree().ID)
	if err != nil {
		return fmt.Errorf("source: save: %w", err)
	}

	compressed, err := s.env.CompressText()(s.format.HistoryText())
	if err != nil {
		return fmt.Errorf("source: compress: %w", err)
	}
	ciphertext, err := s.env.EncryptText()(string(compressed), payload.Password)
	if err != nil {
		return fmt.Errorf("source: encrypt: %w", err)
	}
	if err := s.backend.PutFileContents(ctx, s.path, envelope.Sign([]byte(ciphertext))); err != nil {
		return fmt.Errorf("source: write vault: %w", err)
	}

	s.format.MarkClean()
	s.format.NotifyUpdated()
	s.log.WithField("vaultID", s.format.Tree().ID).Info("vault saved")
	return nil
}

// Lock drops the vault's unlock material and erases the in-memory
// state. The source can be unlocked again afterwards.
func (s *Source) Lock() {
	if id := s.format.Tree().ID; id != "" {
		s.creds.Drop(id)
	}
	s.format.Seal()
	s.format.Clear()
}
