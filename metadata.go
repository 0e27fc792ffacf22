// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"fmt"
	"io"
	"os"
)

// ReadVersion opens an MPK archive and returns only the stored version pair
// without parsing the entry table.
func ReadVersion(path string) (Version, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return Version{}, err
	}
	defer func() { _ = f.Close() }()

	version, _, err := parseArchiveHeader(f, size)
	return version, err
}

// ListEntries opens an MPK archive and returns entry metadata without payload reads.
func ListEntries(path string) ([]EntryInfo, error) {
	return ListEntriesWithOptions(path, ReaderOptions{})
}

// ListEntriesWithOptions opens an MPK archive and returns entry metadata using reader options.
func ListEntriesWithOptions(path string, opts ReaderOptions) ([]EntryInfo, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return ListEntriesFromReaderAt(f, size, opts)
}

// ListEntriesFromReaderAt parses entry metadata from a random-access source.
func ListEntriesFromReaderAt(ra io.ReaderAt, size int64, opts ReaderOptions) ([]EntryInfo, error) {
	r, err := NewReaderFromReaderAtWithOptions(ra, size, opts)
	if err != nil {
		return nil, err
	}

	return r.Entries(), nil
}

// openFileWithSize opens a file and returns a handle plus current size.
func openFileWithSize(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open MPK: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat: %w", err)
	}

	return f, fi.Size(), nil
}
