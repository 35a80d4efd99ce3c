package testutil

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
)

func RepoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to locate testutil source file")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}

func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("create parent directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteTree writes slash-separated relative paths under root.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		WriteFile(t, filepath.Join(root, filepath.FromSlash(path)), []byte(files[path]))
	}
}

// FlipByte inverts the lowest bit of the byte at offset in path.
func FlipByte(t *testing.T, path string, offset int) {
	t.Helper()
	content := MustReadFile(t, path)
	if offset < 0 || offset >= len(content) {
		t.Fatalf("offset %d outside %s (%d bytes)", offset, path, len(content))
	}
	content[offset] ^= 0x01
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("rewrite %s: %v", path, err)
	}
}

func MustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	content, err := os.ReadFile(path) // #nosec G304 -- test helper for controlled paths.
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

// BuildProofpackBinary compiles ./cmd/proofpack into a temp dir, or returns
// the prebuilt binary named by PROOFPACK_SCENARIO_BIN.
func BuildProofpackBinary(t *testing.T, root string) string {
	t.Helper()
	if prebuilt := strings.TrimSpace(os.Getenv("PROOFPACK_SCENARIO_BIN")); prebuilt != "" {
		if info, err := os.Stat(prebuilt); err == nil && !info.IsDir() {
			return prebuilt
		}
		t.Fatalf("PROOFPACK_SCENARIO_BIN does not point to a valid file: %s", prebuilt)
	}
	binName := "proofpack"
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	binPath := filepath.Join(t.TempDir(), binName)

	// #nosec G204 -- arguments are fixed and used only in test binaries.
	build := exec.Command("go", "build", "-o", binPath, "./cmd/proofpack")
	build.Dir = root
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build proofpack binary: %v\n%s", err, string(out))
	}
	return binPath
}

// ExitCodeOf maps a command error to its process exit code. Errors that are
// not exit statuses fail the test.
func ExitCodeOf(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected command exit error, got: %v", err)
	}
	return exitErr.ExitCode()
}
