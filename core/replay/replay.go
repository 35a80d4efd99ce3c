// Package replay diffs two run directories to prove a run reproduces, or to
// locate exactly where a replay diverged.
package replay

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
	"github.com/davidahmann/proofpack/core/proofpack"
	schemaproofpack "github.com/davidahmann/proofpack/core/schema/v1/proofpack"
	schemareplay "github.com/davidahmann/proofpack/core/schema/v1/replay"
)

const (
	ResultSchemaID      = "proofpack.replay_result"
	ResultSchemaVersion = "1.0.0"
)

type Diff = schemareplay.Diff

type Options struct {
	// Exclude lists slash-separated paths, relative to each root, left out of the walk.
	Exclude []string
	// Normalizer defaults to LineEndingNormalizer.
	Normalizer       Normalizer
	Workers          int
	IncludeIdentical bool
}

// CompareDirectories walks the union of both trees and reports every file that
// differs or exists on one side only, sorted by path. Each root must exist.
func CompareDirectories(left, right string, opts Options) ([]Diff, error) {
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = LineEndingNormalizer{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	exclude := make(map[string]struct{}, len(opts.Exclude))
	for _, path := range opts.Exclude {
		exclude[filepath.ToSlash(filepath.Clean(path))] = struct{}{}
	}

	leftFiles, err := listFiles(left, exclude)
	if err != nil {
		return nil, err
	}
	rightFiles, err := listFiles(right, exclude)
	if err != nil {
		return nil, err
	}
	union := make(map[string]struct{}, len(leftFiles)+len(rightFiles))
	for path := range leftFiles {
		union[path] = struct{}{}
	}
	for path := range rightFiles {
		union[path] = struct{}{}
	}
	paths := make([]string, 0, len(union))
	for path := range union {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	entries := make([]Diff, len(paths))
	var group errgroup.Group
	group.SetLimit(workers)
	for index, path := range paths {
		entry := &entries[index]
		entry.Path = path
		leftType, inLeft := leftFiles[path]
		rightType, inRight := rightFiles[path]
		group.Go(func() error {
			if inLeft {
				digest, err := hashEntry(filepath.Join(left, filepath.FromSlash(path)), leftType, normalizer)
				if err != nil {
					return err
				}
				entry.HashLeft = digest
			}
			if inRight {
				digest, err := hashEntry(filepath.Join(right, filepath.FromSlash(path)), rightType, normalizer)
				if err != nil {
					return err
				}
				entry.HashRight = digest
			}
			switch {
			case !inRight:
				entry.Status = schemareplay.StatusMissingInReplay
			case !inLeft:
				entry.Status = schemareplay.StatusMissingInBaseline
			case entry.HashLeft == entry.HashRight:
				entry.Status = schemareplay.StatusIdentical
			default:
				entry.Status = schemareplay.StatusDifferent
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	diffs := make([]Diff, 0, len(entries))
	for _, entry := range entries {
		if entry.Status == schemareplay.StatusIdentical && !opts.IncludeIdentical {
			continue
		}
		diffs = append(diffs, entry)
	}
	return diffs, nil
}

type RunOptions struct {
	// Seed, when set, must equal the seed recorded by both runs.
	Seed    *int64
	Workers int
	Now     func() time.Time
}

// CompareRuns compares a baseline run directory against a replay. Run identity
// files are excluded from the file diff; the manifests are compared with run
// identity cleared.
func CompareRuns(baselineDir, replayDir string, opts RunOptions) (schemareplay.Result, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	started := now()

	baseline, err := proofpack.ReadManifest(baselineDir)
	if err != nil {
		return schemareplay.Result{}, err
	}
	replayed, err := proofpack.ReadManifest(replayDir)
	if err != nil {
		return schemareplay.Result{}, err
	}
	diffs, err := CompareDirectories(baselineDir, replayDir, Options{
		Exclude: []string{proofpack.ManifestFile, proofpack.SidecarFile},
		Workers: opts.Workers,
	})
	if err != nil {
		return schemareplay.Result{}, err
	}
	baselineIdentity, err := replayDigest(baseline)
	if err != nil {
		return schemareplay.Result{}, err
	}
	replayIdentity, err := replayDigest(replayed)
	if err != nil {
		return schemareplay.Result{}, err
	}

	seedMatch := baseline.Seed == replayed.Seed
	if opts.Seed != nil {
		seedMatch = seedMatch && baseline.Seed == *opts.Seed
	}
	result := schemareplay.Result{
		SchemaID:      ResultSchemaID,
		SchemaVersion: ResultSchemaVersion,
		Differences:   diffs,
		ManifestMatch: baselineIdentity == replayIdentity,
		MerkleMatch:   baseline.MerkleRoot == replayed.MerkleRoot,
		SeedMatch:     seedMatch,
		BaselineRunID: baseline.RunID,
		ReplayRunID:   replayed.RunID,
	}
	result.Identical = len(diffs) == 0 && result.ManifestMatch && result.MerkleMatch && result.SeedMatch
	result.DurationMS = now().Sub(started).Milliseconds()
	return result, nil
}

// replayDigest hashes the manifest with run identity and signatures cleared.
func replayDigest(manifest schemaproofpack.Manifest) (string, error) {
	manifest.RunID = ""
	manifest.ManifestDigest = ""
	manifest.Signatures = nil
	return jcs.DigestValue(manifest)
}

// listFiles maps every non-directory entry below root to its type bits.
// Symlinks are recorded, not followed.
func listFiles(root string, exclude map[string]struct{}) (map[string]fs.FileMode, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, coreerrors.IOError(err, "stat "+root)
	}
	if !info.IsDir() {
		return nil, coreerrors.Validation("directory", root+" is not a directory")
	}
	files := map[string]fs.FileMode{}
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)
		if _, skip := exclude[relative]; skip {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if relative != "." && !entry.IsDir() {
			files[relative] = entry.Type()
		}
		return nil
	})
	if err != nil {
		return nil, coreerrors.IOError(err, "walk "+root)
	}
	return files, nil
}

// hashEntry hashes regular files after normalization. A symlink hashes as its
// target text and any other special file as its type, so neither can compare
// equal to a regular file.
func hashEntry(path string, mode fs.FileMode, normalizer Normalizer) (string, error) {
	switch {
	case mode.IsRegular():
		return hashNormalized(path, normalizer)
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return "", coreerrors.IOError(err, "readlink "+path)
		}
		return jcs.SHA256Hex([]byte("symlink\x00" + filepath.ToSlash(target))), nil
	default:
		return jcs.SHA256Hex([]byte("special\x00" + mode.Type().String())), nil
	}
}

func hashNormalized(path string, normalizer Normalizer) (string, error) {
	// #nosec G304 -- path comes from walking a caller-supplied root.
	content, err := os.ReadFile(path)
	if err != nil {
		return "", coreerrors.IOError(err, "read "+path)
	}
	return jcs.SHA256Hex(normalizer.Normalize(content)), nil
}
