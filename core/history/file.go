package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/fsx"
)

// FileStore keeps entries as NDJSON, one line per verdict.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Record(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.FailedChecks == nil {
		entry.FailedChecks = []string{}
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return coreerrors.Serialization(err)
	}
	return fsx.AppendLineLocked(s.Path, line, 0o600)
}

func (s *FileStore) List(ctx context.Context, query Query) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines, err := fsx.ReadLines(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, err
	}
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		var entry Entry
		if err := json.Unmarshal(line.Content, &entry); err != nil {
			return nil, coreerrors.ParseError(err, fmt.Sprintf("history line %d", line.Number))
		}
		entries = append(entries, entry)
	}
	return applyQuery(entries, query), nil
}
