package fsx

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

const (
	lockTimeout    = 30 * time.Second
	lockRetry      = 10 * time.Millisecond
	lockStaleAfter = 2 * time.Minute
	maxInt         = int(^uint(0) >> 1)
	maxLineBytes   = 16 * 1024 * 1024
)

// AppendLineLocked appends one record plus a trailing newline under the path's lock file.
func AppendLineLocked(path string, line []byte, mode os.FileMode) error {
	return AppendLinesLocked(path, [][]byte{line}, mode)
}

// AppendLinesLocked appends every record in one locked, fsynced write.
func AppendLinesLocked(path string, lines [][]byte, mode os.FileMode) error {
	cleanPath, err := validateLocalOrAbsolutePath(path)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_path", "use a local relative or absolute path", false)
	}
	parent := filepath.Dir(cleanPath)
	if parent != "." && parent != "" {
		if err := os.MkdirAll(parent, 0o750); err != nil {
			return coreerrors.IOError(err, "create append directory")
		}
	}
	payload, err := appendPayload(lines)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_record", "records must be a single line", false)
	}

	if err := WithFileLock(cleanPath, func() error {
		// #nosec G304 -- append path is validated local relative or absolute.
		file, openErr := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, mode)
		if openErr != nil {
			return coreerrors.IOError(openErr, "open append file")
		}
		defer func() {
			_ = file.Close()
		}()
		if _, writeErr := file.Write(payload); writeErr != nil {
			return coreerrors.IOError(writeErr, "append file line")
		}
		return coreerrors.IOError(file.Sync(), "sync append file")
	}); err != nil {
		return err
	}

	if parent != "." && parent != "" {
		syncDirectory(parent)
	}
	return nil
}

// ReadLines returns the non-blank lines of path with their 1-based line numbers.
func ReadLines(path string) ([]Line, error) {
	// #nosec G304 -- caller supplies the record file path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.IOError(err, "read "+filepath.Base(path))
	}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lines := make([]Line, 0)
	number := 0
	for scanner.Scan() {
		number++
		content := bytes.TrimSpace(scanner.Bytes())
		if len(content) == 0 {
			continue
		}
		lines = append(lines, Line{Number: number, Content: append([]byte(nil), content...)})
	}
	if err := scanner.Err(); err != nil {
		return nil, coreerrors.IOError(err, "scan "+filepath.Base(path))
	}
	return lines, nil
}

type Line struct {
	Number  int
	Content []byte
}

// WithFileLock runs fn while holding an O_EXCL lock file next to path.
// Locks older than lockStaleAfter are treated as abandoned and removed.
func WithFileLock(path string, fn func() error) error {
	lockPath := path + ".lock"
	start := time.Now()
	for {
		// #nosec G304 -- lock path is derived from a validated append path.
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_ = lockFile.Close()
			defer func() {
				_ = os.Remove(lockPath)
			}()
			return fn()
		}
		if !isLockContention(err, lockPath) {
			return coreerrors.IOError(err, "acquire lock")
		}
		if shouldRecoverStaleLock(lockPath, time.Now().UTC()) {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Since(start) >= lockTimeout {
			return coreerrors.Wrap(fmt.Errorf("lock timeout: %s", lockPath), coreerrors.CategoryStateContention, "lock_timeout", "another writer holds the lock; retry later", true)
		}
		time.Sleep(lockRetry)
	}
}

func appendPayload(lines [][]byte) ([]byte, error) {
	total := 0
	for _, line := range lines {
		capacity, err := appendPayloadCapacity(len(line))
		if err != nil {
			return nil, err
		}
		if bytes.IndexByte(line, '\n') >= 0 {
			return nil, fmt.Errorf("record contains a newline")
		}
		if total > maxInt-capacity {
			return nil, fmt.Errorf("payload exceeds maximum supported size")
		}
		total += capacity
	}
	payload := make([]byte, 0, total)
	for _, line := range lines {
		payload = append(payload, line...)
		payload = append(payload, '\n')
	}
	return payload, nil
}

func appendPayloadCapacity(lineLength int) (int, error) {
	if lineLength < 0 {
		return 0, fmt.Errorf("line length must be >= 0")
	}
	if lineLength >= maxInt {
		return 0, fmt.Errorf("line length exceeds maximum supported size")
	}
	return lineLength + 1, nil
}

func isLockContention(acquireErr error, lockPath string) bool {
	if os.IsExist(acquireErr) {
		return true
	}
	if !os.IsPermission(acquireErr) {
		return false
	}
	_, statErr := os.Stat(lockPath)
	return statErr == nil
}

func shouldRecoverStaleLock(lockPath string, now time.Time) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime().UTC()) > lockStaleAfter
}

func validateLocalOrAbsolutePath(path string) (string, error) {
	cleanPath := filepath.Clean(path)
	if filepath.IsLocal(cleanPath) {
		return cleanPath, nil
	}
	if strings.HasPrefix(cleanPath, string(filepath.Separator)) {
		return cleanPath, nil
	}
	if volume := filepath.VolumeName(cleanPath); volume != "" && strings.HasPrefix(cleanPath, volume+string(filepath.Separator)) {
		return cleanPath, nil
	}
	return "", fmt.Errorf("path must be local relative or absolute")
}
