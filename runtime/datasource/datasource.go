// Package datasource defines the byte-oriented backend capability the
// engine consumes, and provides the local implementations: an
// in-memory backend for tests and a directory-backed backend for the
// CLI. Remote backends (WebDAV, cloud storage) live outside the
// engine and only need to satisfy Backend.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is the only backend failure the engine distinguishes;
// everything else surfaces opaquely.
var ErrNotFound = errors.New("datasource: not found")

// Backend is the byte-oriented capability consumed by the engine.
// Implementations surface cancellation as ctx.Err.
type Backend interface {
	GetFileContents(ctx context.Context, path string) ([]byte, error)
	PutFileContents(ctx context.Context, path string, data []byte) error

	// AvailableStorage returns the remaining capacity in bytes; ok is
	// false when the backend cannot tell (treated as unlimited).
	AvailableStorage(ctx context.Context) (bytes uint64, ok bool, err error)

	GetAttachment(ctx context.Context, vaultID, attachmentID string) ([]byte, error)
	PutAttachment(ctx context.Context, vaultID, attachmentID string, data []byte, detailsJSON string) error
	RemoveAttachment(ctx context.Context, vaultID, attachmentID string) error

	SupportsAttachments() bool
	SupportsRemoteBypass() bool
}

// Memory is an in-process Backend for tests. A zero Quota means
// unlimited; otherwise AvailableStorage reports Quota minus usage.
type Memory struct {
	mu          sync.Mutex
	Quota       uint64
	files       map[string][]byte
	attachments map[string][]byte
	details     map[string]string
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		files:       make(map[string][]byte),
		attachments: make(map[string][]byte),
		details:     make(map[string]string),
	}
}

func attachmentKey(vaultID, attachmentID string) string {
	return vaultID + "/" + attachmentID
}

func (m *Memory) usage() uint64 {
	var total uint64
	for _, b := range m.files {
		total += uint64(len(b))
	}
	for _, b := range m.attachments {
		total += uint64(len(b))
	}
	return total
}

func (m *Memory) GetFileContents(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) PutFileContents(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[path] = stored
	return nil
}

func (m *Memory) AvailableStorage(ctx context.Context) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Quota == 0 {
		return 0, false, nil
	}
	used := m.usage()
	if used >= m.Quota {
		return 0, true, nil
	}
	return m.Quota - used, true, nil
}

func (m *Memory) GetAttachment(ctx context.Context, vaultID, attachmentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.attachments[attachmentKey(vaultID, attachmentID)]
	if !ok {
		return nil, fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) PutAttachment(ctx context.Context, vaultID, attachmentID string, data []byte, detailsJSON string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	key := attachmentKey(vaultID, attachmentID)
	m.attachments[key] = stored
	m.details[key] = detailsJSON
	return nil
}

func (m *Memory) RemoveAttachment(ctx context.Context, vaultID, attachmentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attachmentKey(vaultID, attachmentID)
	if _, ok := m.attachments[key]; !ok {
		return fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
	}
	delete(m.attachments, key)
	delete(m.details, key)
	return nil
}

func (m *Memory) SupportsAttachments() bool  { return true }
func (m *Memory) SupportsRemoteBypass() bool { return false }

// File is a Backend over a local directory. Vault files live at the
// given paths relative to Root; attachments under
// Root/attachments/<vaultID>/<attachmentID>.
type File struct {
	Root string
}

// NewFile returns a directory-backed Backend rooted at root.
func NewFile(root string) *File {
	return &File{Root: root}
}

func (f *File) resolve(path string) string {
	return filepath.Join(f.Root, filepath.Clean("/"+path))
}

func (f *File) attachmentPath(vaultID, attachmentID string) string {
	return filepath.Join(f.Root, "attachments", vaultID, attachmentID)
}

func (f *File) GetFileContents(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.resolve(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("datasource: read %s: %w", path, err)
	}
	return data, nil
}

func (f *File) PutFileContents(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := f.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("datasource: mkdir: %w", err)
	}
	// Write-then-rename keeps a crash from truncating the vault.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("datasource: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("datasource: rename %s: %w", path, err)
	}
	return nil
}

func (f *File) AvailableStorage(ctx context.Context) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	// Local disks report no quota to the engine.
	return 0, false, nil
}

func (f *File) GetAttachment(ctx context.Context, vaultID, attachmentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.attachmentPath(vaultID, attachmentID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("datasource: read attachment: %w", err)
	}
	return data, nil
}

func (f *File) PutAttachment(ctx context.Context, vaultID, attachmentID string, data []byte, detailsJSON string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := f.attachmentPath(vaultID, attachmentID)
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("datasource: mkdir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return fmt.Errorf("datasource: write attachment: %w", err)
	}
	return nil
}

func (f *File) RemoveAttachment(ctx context.Context, vaultID, attachmentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(f.attachmentPath(vaultID, attachmentID))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
	}
	if err != nil {
		return fmt.Errorf("datasource: remove attachment: %w", err)
	}
	return nil
}

func (f *File) SupportsAttachments() bool  { return true }
func (f *File) SupportsRemoteBypass() bool { return false }
