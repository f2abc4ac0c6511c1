package snapshot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/snappy"
)

const (
	metaSuffix    = ".meta.json"
	payloadSuffix = ".snap"
)

// FileRepository stores each snapshot as a metadata file and a
// snappy-compressed payload file in one directory. File names are the
// base64url encoding of the snapshot name, so any name maps to a safe path.
type FileRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewFileRepository creates a FileRepository rooted at dir, creating the
// directory when it does not exist.
//
// Precondition: dir must be non-empty.
// Postcondition: Returns a usable repository or an error if dir cannot be created.
func NewFileRepository(dir string) (*FileRepository, error) {
	if dir == "" {
		return nil, errors.New("snapshot directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(name, suffix string) string {
	return filepath.Join(r.dir, base64.RawURLEncoding.EncodeToString([]byte(name))+suffix)
}

// List reads every metadata file in the directory. Unreadable entries are skipped.
func (r *FileRepository) List(ctx context.Context) ([]Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}
	var out []Metadata
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), metaSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
		if err != nil {
			continue
		}
		var m Metadata
		if json.Unmarshal(data, &m) != nil || m.Name == "" {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Save writes the payload before the metadata so a listed snapshot is
// always loadable.
//
// Postcondition: Both files are replaced atomically or an error is returned.
func (r *FileRepository) Save(ctx context.Context, meta Metadata, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot metadata: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writeAtomic(r.path(meta.Name, payloadSuffix), snappy.Encode(nil, payload)); err != nil {
		return err
	}
	return r.writeAtomic(r.path(meta.Name, metaSuffix), metaData)
}

// writeAtomic must be called with mu held for writing.
func (r *FileRepository) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(r.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Load returns the decompressed payload of the named snapshot.
//
// Postcondition: Returns ErrNotFound if no metadata exists for name.
func (r *FileRepository) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, err := os.Stat(r.path(name, metaSuffix)); errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	compressed, err := os.ReadFile(r.path(name, payloadSuffix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading snapshot payload: %w", err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot payload: %w", err)
	}
	return data, nil
}

// Delete removes the metadata first so a half-deleted snapshot is never listed.
func (r *FileRepository) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, suffix := range []string{metaSuffix, payloadSuffix} {
		if err := os.Remove(r.path(name, suffix)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing snapshot file: %w", err)
		}
	}
	return nil
}
