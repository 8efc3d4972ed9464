package app

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	maxFilenameLength = 255
	fallbackFilename  = "download"
	defaultMimeType   = "application/octet-stream"
)

var (
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrFilenameTooLong  = errors.New("filename too long")
	errNoFreeOutputName = errors.New("no free output name")
)

func validateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}

	// Check for path traversal attempts
	if strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		return ErrInvalidFilename
	}

	// Check for parent directory references
	if filename == "." || filename == ".." {
		return ErrInvalidFilename
	}

	if len(filename) > maxFilenameLength {
		return ErrFilenameTooLong
	}

	return nil
}

// safeFilename reduces a peer-supplied name to a single path element that
// passes validateFilename.
func safeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(path.Base(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:maxFilenameLength-len(ext)], "") + ext
	}
	if validateFilename(name) != nil {
		return fallbackFilename
	}
	return name
}

// spoolFile collects an incoming file in a hidden temp file inside the
// output directory until it is committed under its real name.
type spoolFile struct {
	dir string
	f   *os.File
}

func newSpoolFile(dir string) (*spoolFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".relaydrop-*.part")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &spoolFile{dir: dir, f: f}, nil
}

func (s *spoolFile) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Commit moves the spooled data to a safe version of name in the output
// directory without replacing an existing file, and returns the path written.
func (s *spoolFile) Commit(name string) (string, error) {
	if err := s.f.Chmod(0o644); err != nil {
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	target, err := reservePath(s.dir, safeFilename(name))
	if err != nil {
		return "", err
	}
	if err := os.Rename(s.f.Name(), target); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("rename temp file: %w", err)
	}
	return target, nil
}

// Discard removes the temp file unless it was committed.
func (s *spoolFile) Discard() {
	s.f.Close()
	os.Remove(s.f.Name())
}

// reservePath creates an empty placeholder at dir/name, or at
// dir/"name (n).ext" if that is taken, and returns its path. Creating it
// exclusively keeps a file that appears meanwhile from being replaced.
func reservePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := filepath.Join(dir, name)
	for i := 1; i <= 1000; i++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				os.Remove(candidate)
				return "", fmt.Errorf("reserve %s: %w", candidate, err)
			}
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("reserve %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
	return "", fmt.Errorf("%w for %s in %s", errNoFreeOutputName, name, dir)
}

// detectMimeType guesses a MIME type from the file extension.
func detectMimeType(name string) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if t == "" {
		return defaultMimeType
	}
	if mediaType, _, err := mime.ParseMediaType(t); err == nil {
		return mediaType
	}
	return t
}
