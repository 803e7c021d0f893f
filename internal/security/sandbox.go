package security

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// MaxFileSize is the largest file ReadFile accepts.
const MaxFileSize = 1 << 20

var (
	ErrPathEscapes  = errors.New("path escapes working directory")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
	ErrFileTooLarge = errors.New("file too large")
	ErrFileExists   = errors.New("file already exists")
)

// Sandbox performs file operations confined to a root directory.
type Sandbox struct {
	root *os.Root
	path string
}

// New opens a Sandbox rooted at dir.
func New(dir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", absPath, err)
	}
	return &Sandbox{root: root, path: absPath}, nil
}

// Close releases the root directory.
func (s *Sandbox) Close() error {
	return s.root.Close()
}

// Dir returns the absolute root directory.
func (s *Sandbox) Dir() string {
	return s.path
}

// Normalize validates a user-provided path and returns it cleaned and
// relative to the root. Absolute paths and paths leaving the root are rejected.
func (s *Sandbox) Normalize(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}
	if filepath.IsAbs(userPath) {
		return "", fmt.Errorf("%w: %s", ErrAbsolutePath, userPath)
	}
	clean := filepath.Clean(userPath)
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}
	return clean, nil
}

// ReadFile reads a file of at most MaxFileSize bytes.
func (s *Sandbox) ReadFile(userPath string) ([]byte, error) {
	path, err := s.Normalize(userPath)
	if err != nil {
		return nil, err
	}

	f, err := s.root.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: %s is over %d bytes", ErrFileTooLarge, userPath, MaxFileSize)
	}
	return data, nil
}

// WriteFile writes data readable by the owner only, creating parent
// directories. An existing file is replaced only with overwrite set.
func (s *Sandbox) WriteFile(userPath string, data []byte, overwrite bool) error {
	path, err := s.Normalize(userPath)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := s.root.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := s.root.OpenFile(path, flags, 0600)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrFileExists, userPath)
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
