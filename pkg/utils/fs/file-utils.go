package fs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"

	"go.uber.org/multierr"
)

func GetUserAppDataDir(appName string) (string, error) {
	var base string

	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support")
	default: // Linux and others
		base = os.Getenv("XDG_CACHE_HOME")
		if base == "" && os.Getenv("HOME") != "" {
			base = filepath.Join(os.Getenv("HOME"), ".cache")
		}
	}

	if base == "" {
		return "", fmt.Errorf("could not determine base data path")
	}

	return filepath.Join(base, appName), nil
}

func EnsureDir(path string) error {
	err := os.MkdirAll(path, 0755)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// WriteFileAtomic streams write into a temporary file next to path and
// renames it into place once it is flushed, synced and closed. Readers see
// either the old content or the new content, never a partial file.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	err = func() (err error) {
		defer func() { err = multierr.Append(err, tmp.Close()) }()

		w := bufio.NewWriter(tmp)
		if err := write(w); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to flush %s: %w", tmpPath, err)
		}
		if err := tmp.Chmod(perm); err != nil {
			return fmt.Errorf("failed to chmod %s: %w", tmpPath, err)
		}
		if err := tmp.Sync(); err != nil {
			return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
		}
		return nil
	}()
	if err != nil {
		return err
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename %s into place: %w", tmpPath, err)
	}
	return nil
}

// SanitizeFileName strips whitespace and any directory part from name. The
// result is empty when nothing usable remains.
func SanitizeFileName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '\u200b' || r == '\u200c' {
			return -1
		}
		return r
	}, name)
	if cleaned == "" {
		return ""
	}

	base := filepath.Base(filepath.ToSlash(cleaned))
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	switch base {
	case ".", "..", "/":
		return ""
	}
	return base
}
