// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"fmt"
	"io"
)

// nopCloser wraps a reader and provides a no-op close.
type nopCloser struct {
	io.Reader
}

// Close closes nopCloser (no-op).
func (nopCloser) Close() error {
	return nil
}

// OpenEntry opens named entry for reading.
// Returned stream yields decompressed content for zlib-compressed entries.
func (r *Reader) OpenEntry(name string) (io.ReadCloser, error) {
	if r == nil || r.ra == nil {
		return nil, ErrNilReader
	}

	if r.isClosed() {
		return nil, ErrClosed
	}

	info, ok := r.FindByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}

	return r.openEntryByInfo(info), nil
}

// OpenEntryByID opens entry by stored numeric ID.
func (r *Reader) OpenEntryByID(id uint32) (io.ReadCloser, error) {
	if r == nil || r.ra == nil {
		return nil, ErrNilReader
	}

	if r.isClosed() {
		return nil, ErrClosed
	}

	info, ok := r.FindByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrEntryNotFound, id)
	}

	return r.openEntryByInfo(info), nil
}

// OpenEntryInfo opens entry stream by already resolved metadata.
func (r *Reader) OpenEntryInfo(info EntryInfo) (io.ReadCloser, error) {
	if r == nil || r.ra == nil {
		return nil, ErrNilReader
	}

	if r.isClosed() {
		return nil, ErrClosed
	}

	return r.openEntryByInfo(info), nil
}

// ReadEntry reads full (decompressed) content of the named entry.
// The returned buffer is always owned by the caller.
func (r *Reader) ReadEntry(name string) ([]byte, error) {
	rc, err := r.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}

// ReadEntryByID reads full (decompressed) content of the entry with stored ID.
func (r *Reader) ReadEntryByID(id uint32) ([]byte, error) {
	rc, err := r.OpenEntryByID(id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}

// openEntryByInfo opens payload stream for already resolved entry metadata.
func (r *Reader) openEntryByInfo(info EntryInfo) io.ReadCloser {
	sr := io.NewSectionReader(r.ra, int64(info.Offset), int64(info.DataSize)) //nolint:gosec // bounded by table validation
	if !info.Compressed {
		return nopCloser{Reader: sr}
	}

	pr, pw := io.Pipe()
	go streamDecompressEntry(info.Name, pw, sr, info.OriginalSize)

	return pr
}

// streamDecompressEntry decodes one compressed entry stream into pipe writer.
func streamDecompressEntry(name string, dst *io.PipeWriter, src io.Reader, expectedLen uint64) {
	if err := decompressToWriter(dst, src, expectedLen); err != nil {
		_ = dst.CloseWithError(fmt.Errorf("decompress entry %s: %w", name, err))
		return
	}

	_ = dst.Close()
}
