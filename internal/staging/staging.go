// Package staging writes export files into a hidden staging tree and promotes
// a whole date at once, so readers never see a partially written export.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	stagingName = ".staging"
	partialExt  = ".partial"
)

// Area is an export tree rooted at a directory. Paths handed to it are
// relative to that root and start with the export date.
type Area struct {
	root    string
	staging string
}

func New(root string) *Area {
	return &Area{root: root, staging: filepath.Join(root, stagingName)}
}

func (a *Area) Root() string { return a.root }

// Final is where rel lives once promoted.
func (a *Area) Final(rel string) string {
	return filepath.Join(a.root, rel)
}

// Staged is where rel lives until its date is promoted.
func (a *Area) Staged(rel string) string {
	return filepath.Join(a.staging, rel)
}

// Exists reports whether rel has already been promoted.
func (a *Area) Exists(rel string) bool {
	_, err := os.Stat(a.Final(rel))
	return err == nil
}

// Write streams src into the staged location of rel. Output goes to a
// uniquely named partial file first and is renamed only after src succeeds.
func (a *Area) Write(ctx context.Context, rel string, src io.WriterTo) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dest := a.Staged(rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return 0, fmt.Errorf("creating staging dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*"+partialExt)
	if err != nil {
		return 0, fmt.Errorf("creating partial file: %w", err)
	}
	partial := f.Name()

	n, err := src.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(partial, dest)
	}
	if err != nil {
		_ = os.Remove(partial)
		return 0, fmt.Errorf("staging %s: %w", rel, err)
	}
	return n, nil
}

// Promote moves every finished staged file of date into the final tree,
// replacing older copies, and returns how many files moved.
func (a *Area) Promote(date string) (int, error) {
	dir := filepath.Join(a.staging, date)
	moved := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) && path == dir {
			return fs.SkipAll
		}
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, partialExt) {
			return nil
		}

		rel, err := filepath.Rel(a.staging, path)
		if err != nil {
			return err
		}
		dest := a.Final(rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
			return err
		}
		if err := os.Rename(path, dest); err != nil {
			return err
		}
		moved++
		return nil
	})
	return moved, err
}

// Discard drops whatever is staged for date.
func (a *Area) Discard(date string) error {
	return os.RemoveAll(filepath.Join(a.staging, date))
}

// Pending lists dates that still have a staging directory, typically left
// behind by an interrupted export.
func (a *Area) Pending() ([]string, error) {
	entries, err := os.ReadDir(a.staging)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			dates = append(dates, e.Name())
		}
	}
	sort.Strings(dates)
	return dates, nil
}
