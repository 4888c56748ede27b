package toml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	catalogFileMode = 0o600
	catalogDirMode  = 0o700
)

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

// catalogFile is one TOML document on disk shared by every repository pointing at it.
type catalogFile struct {
	path string
	kind string
	mu   *sync.RWMutex
}

func newCatalogFile(path, kind string) (catalogFile, error) {
	if path == "" {
		return catalogFile{}, fmt.Errorf("%s path is empty", kind)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return catalogFile{}, fmt.Errorf("resolve %s path: %w", kind, err)
	}
	abs = filepath.Clean(abs)
	return catalogFile{path: abs, kind: kind, mu: lockForPath(abs)}, nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}
	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

// read decodes the file into out. It reports false when the file does not exist.
func (f catalogFile) read(out any) (bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s file: %w", f.kind, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s file: %w", f.kind, err)
	}
	return true, nil
}

func (f catalogFile) write(in any) error {
	if err := os.MkdirAll(filepath.Dir(f.path), catalogDirMode); err != nil {
		return fmt.Errorf("create %s directory: %w", f.kind, err)
	}

	data, err := toml.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s file: %w", f.kind, err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(f.path), "."+f.kind+"-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("create temp %s file: %w", f.kind, err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp %s file: %w", f.kind, err)
	}
	if err := tempFile.Chmod(catalogFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp %s file: %w", f.kind, err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp %s file: %w", f.kind, err)
	}
	if err := os.Rename(tempName, f.path); err != nil {
		return fmt.Errorf("replace %s file: %w", f.kind, err)
	}
	cleanup = false

	return nil
}
