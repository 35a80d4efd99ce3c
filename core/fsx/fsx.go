package fsx

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

// WriteFileAtomic replaces path with content through a synced temp file and rename.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	tempFile, err := os.CreateTemp(parent, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return coreerrors.IOError(err, "create temp file")
	}
	tempPath := tempFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tempPath)
		}
	}()

	if err := writeAndSync(tempFile, content, mode); err != nil {
		return coreerrors.IOError(err, "write "+filepath.Base(path))
	}
	if err := replaceFile(tempPath, path); err != nil {
		return coreerrors.IOError(err, "commit "+filepath.Base(path))
	}
	committed = true
	syncDirectory(parent)
	return nil
}

// WriteFileExclusive writes content to path, failing when path already exists.
func WriteFileExclusive(path string, content []byte, mode os.FileMode) error {
	// #nosec G304 -- destination path is chosen by the caller.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return coreerrors.IOError(err, "create "+filepath.Base(path))
	}
	if _, err := file.Write(content); err != nil {
		_ = file.Close()
		return coreerrors.IOError(err, "write "+filepath.Base(path))
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return coreerrors.IOError(err, "sync "+filepath.Base(path))
	}
	if err := file.Close(); err != nil {
		return coreerrors.IOError(err, "close "+filepath.Base(path))
	}
	return nil
}

func writeAndSync(file *os.File, content []byte, mode os.FileMode) error {
	if _, err := file.Write(content); err != nil {
		_ = file.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := file.Chmod(mode); err != nil {
		_ = file.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	return file.Close()
}

func replaceFile(tempPath, path string) error {
	err := os.Rename(tempPath, path)
	if err == nil || runtime.GOOS != "windows" {
		return err
	}
	if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("remove destination before rename: %w", removeErr)
	}
	return os.Rename(tempPath, path)
}

func syncDirectory(path string) {
	// #nosec G304 -- directory is the parent of a caller-provided destination.
	if dirHandle, err := os.Open(path); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
}
