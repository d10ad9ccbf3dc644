// Package attachment implements encrypted binary blobs referenced by
// vault entries. Blobs are encrypted with a per-vault attachment key
// held in the vault attribute bc_attachments_key and stored
// out-of-band by the datasource; each entry records its attachments'
// details as JSON under BC_ATTACHMENT:<id> attributes.
package attachment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aledsdavies/lockbook/core/invariant"
	"github.com/aledsdavies/lockbook/runtime/cipher"
	"github.com/aledsdavies/lockbook/runtime/datasource"
	"github.com/aledsdavies/lockbook/runtime/engine"
	"github.com/aledsdavies/lockbook/runtime/tree"
)

// Sentinel errors.
var (
	ErrNotFound    = errors.New("attachment: not found")
	ErrOutOfSpace  = errors.New("attachment: datasource out of space")
	ErrTooLarge    = errors.New("attachment: blob exceeds maximum size")
	ErrUnsupported = errors.New("attachment: datasource does not support attachments")
)

const (
	// AttributePrefix marks entry attributes holding attachment details.
	AttributePrefix = "BC_ATTACHMENT:"
	// MaxBlobSize is the single-blob ceiling.
	MaxBlobSize = 200 * 1024 * 1024
	// keyLength is the attachment key size in characters.
	keyLength = 48
)

// Details is the bookkeeping record of one attachment, stored as JSON
// on the owning entry.
type Details struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	SizeOriginal  int64  `json:"sizeOriginal"`
	SizeEncrypted int64  `json:"sizeEncrypted"`
	Created       string `json:"created"`
	Updated       string `json:"updated"`
}

// Saver persists the vault through its normal save path. The manager
// calls it before the first blob write so the freshly minted
// attachment key is never orphaned from the saved vault.
type Saver func(ctx context.Context) error

// Manager performs attachment operations against one vault.
type Manager struct {
	log     logrus.FieldLogger
	format  *engine.Format
	backend datasource.Backend
	save    Saver
	now     func() time.Time
}

// NewManager wires a manager over an unlocked vault.
func NewManager(format *engine.Format, backend datasource.Backend, save Saver) *Manager {
	invariant.NotNil(format, "format")
	invariant.NotNil(backend, "backend")
	invariant.NotNil(save, "save")
	return &Manager{
		log:     logrus.StandardLogger(),
		format:  format,
		backend: backend,
		save:    save,
		now:     time.Now,
	}
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(log logrus.FieldLogger) { m.log = log }

// key returns the vault's attachment key, minting and persisting it on
// first use. Once created the key is immutable for the vault's life.
func (m *Manager) key(ctx context.Context) (string, error) {
	if key, ok := m.format.Tree().Attributes[tree.AttachmentKeyAttribute]; ok {
		return key, nil
	}
	key, err := cipher.RandomString(keyLength)
	if err != nil {
		return "", fmt.Errorf("attachment: mint key: %w", err)
	}
	if err := m.format.SetVaultAttribute(tree.AttachmentKeyAttribute, key); err != nil {
		return "", fmt.Errorf("attachment: store key: %w", err)
	}
	// The key must reach durable storage before any blob references it.
	if err := m.save(ctx); err != nil {
		return "", fmt.Errorf("attachment: save vault with new key: %w", err)
	}
	m.log.WithField("vaultID", m.format.Tree().ID).Info("attachment key created")
	return key, nil
}

func (m *Manager) entry(entryID string) (*tree.Entry, error) {
	e := m.format.Tree().FindEntry(entryID)
	if e == nil {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
	}
	return e, nil
}

// Details returns the bookkeeping record for one attachment.
func (m *Manager) Details(entryID, attachmentID string) (Details, error) {
	e, err := m.entry(entryID)
	if err != nil {
		return Details{}, err
	}
	raw, ok := e.Attributes[AttributePrefix+attachmentID]
	if !ok {
		return Details{}, fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
	}
	var d Details
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Details{}, fmt.Errorf("attachment: decode details: %w", err)
	}
	return d, nil
}

// List returns the details of every attachment on an entry.
func (m *Manager) List(entryID string) ([]Details, error) {
	e, err := m.entry(entryID)
	if err != nil {
		return nil, err
	}
	var out []Details
	for key, raw := range e.Attributes {
		if !strings.HasPrefix(key, AttributePrefix) {
			continue
		}
		var d Details
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("attachment: decode details for %s: %w", key, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Get fetches and decrypts an attachment blob.
func (m *Manager) Get(ctx context.Context, entryID, attachmentID string) ([]byte, Details, error) {
	if !m.backend.SupportsAttachments() {
		return nil, Details{}, ErrUnsupported
	}
	d, err := m.Details(entryID, attachmentID)
	if err != nil {
		return nil, Details{}, err
	}
	key, err := m.key(ctx)
	if err != nil {
		return nil, Details{}, err
	}
	sealed, err := m.backend.GetAttachment(ctx, m.format.Tree().ID, attachmentID)
	if err != nil {
		if errors.Is(err, datasource.ErrNotFound) {
			return nil, Details{}, fmt.Errorf("%w: blob %s", ErrNotFound, attachmentID)
		}
		return nil, Details{}, fmt.Errorf("attachment: fetch blob: %w", err)
	}
	data, err := cipher.DecryptBuffer(sealed, key)
	if err != nil {
		return nil, Details{}, fmt.Errorf("attachment: decrypt blob: %w", err)
	}
	return data, d, nil
}

// Put encrypts and stores a blob on an entry, creating or replacing
// the attachment named by name. Returns the stored details.
func (m *Manager) Put(ctx context.Context, entryID, name, mediaType string, data []byte) (Details, error) {
	if !m.backend.SupportsAttachments() {
		return Details{}, ErrUnsupported
	}
	if int64(len(data)) > MaxBlobSize {
		return Details{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	e, err := m.entry(entryID)
	if err != nil {
		return Details{}, err
	}

	// Replacing an existing attachment of the same name keeps its ID
	// and only counts the size delta against the quota.
	var existing *Details
	list, err := m.List(entryID)
	if err != nil {
		return Details{}, err
	}
	for i := range list {
		if list[i].Name == name {
			existing = &list[i]
			break
		}
	}

	key, err := m.key(ctx)
	if err != nil {
		return Details{}, err
	}
	sealed, err := cipher.EncryptBuffer(data, key)
	if err != nil {
		return Details{}, fmt.Errorf("attachment: encrypt blob: %w", err)
	}

	var previousSize int64
	if existing != nil {
		previousSize = existing.SizeEncrypted
	}
	if err := m.checkQuota(ctx, int64(len(sealed))-previousSize); err != nil {
		return Details{}, err
	}

	now := m.now().UTC().Format(time.RFC3339)
	d := Details{
		ID:            uuid.NewString(),
		Name:          name,
		Type:          mediaType,
		SizeOriginal:  int64(len(data)),
		SizeEncrypted: int64(len(sealed)),
		Created:       now,
		Updated:       now,
	}
	if existing != nil {
		d.ID = existing.ID
		d.Created = existing.Created
	}

	detailsJSON, err := json.Marshal(d)
	invariant.ExpectNoError(err, "marshal attachment details")

	if err := m.backend.PutAttachment(ctx, m.format.Tree().ID, d.ID, sealed, string(detailsJSON)); err != nil {
		return Details{}, fmt.Errorf("attachment: store blob: %w", err)
	}
	if err := m.format.SetEntryAttribute(e.ID, AttributePrefix+d.ID, string(detailsJSON)); err != nil {
		return Details{}, fmt.Errorf("attachment: record details: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"entryID":      entryID,
		"attachmentID": d.ID,
		"size":         d.SizeOriginal,
	}).Info("attachment stored")
	return d, nil
}

// Remove deletes an attachment's blob and bookkeeping.
func (m *Manager) Remove(ctx context.Context, entryID, attachmentID string) error {
	if !m.backend.SupportsAttachments() {
		return ErrUnsupported
	}
	if _, err := m.Details(entryID, attachmentID); err != nil {
		return err
	}
	if err := m.backend.RemoveAttachment(ctx, m.format.Tree().ID, attachmentID); err != nil && !errors.Is(err, datasource.ErrNotFound) {
		return fmt.Errorf("attachment: remove blob: %w", err)
	}
	if err := m.format.DeleteEntryAttribute(entryID, AttributePrefix+attachmentID); err != nil {
		return fmt.Errorf("attachment: drop details: %w", err)
	}
	return nil
}

// checkQuota fails with ErrOutOfSpace when the net size increase
// exceeds the datasource's remaining capacity.
func (m *Manager) checkQuota(ctx context.Context, netIncrease int64) error {
	if netIncrease <= 0 {
		return nil
	}
	free, known, err := m.backend.AvailableStorage(ctx)
	if err != nil {
		return fmt.Errorf("attachment: query storage: %w", err)
	}
	if !known {
		return nil
	}
	if uint64(netIncrease) > free {
		return fmt.Errorf("%w: need %d bytes, %d free", ErrOutOfSpace, netIncrease, free)
	}
	return nil
}
