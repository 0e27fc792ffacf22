// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// extractCopyBufferSize defines per-task buffer size for file copy during extraction.
const extractCopyBufferSize = 64 * 1024

// extractCopyBufferPool reuses extraction copy buffers between workers.
var extractCopyBufferPool = sync.Pool{
	New: func() any {
		return new([extractCopyBufferSize]byte)
	},
}

// extractWorkItem stores one selected entry with prepared output name.
type extractWorkItem struct {
	outName string
	entry   EntryInfo
}

// Extract writes selected entries from the archive to dstDir. Extraction is
// parallelized by MaxWorkers; on failure it returns the first encountered error.
func (r *Reader) Extract(ctx context.Context, dstDir string, opts ExtractOptions) error {
	if r == nil || r.ra == nil {
		return ErrNilReader
	}

	if r.isClosed() {
		return ErrClosed
	}

	if ctx == nil {
		ctx = context.Background()
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}

	entries := r.entries
	if opts.Entries != nil {
		entries = opts.Entries
	}

	entries, err := filterEntriesByRules(entries, opts.Select, opts.SelectMatcherOptions)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		return nil
	}

	workItems, err := prepareExtractWorkItems(entries, opts.RawNames)
	if err != nil {
		return err
	}

	fileMode := opts.FileMode
	if fileMode == "" {
		fileMode = ExtractFileModeAuto
	}

	dstRootAbs, err := filepath.Abs(dstDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}

	if err := os.MkdirAll(dstRootAbs, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, task := range workItems {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			return r.extractPreparedEntry(dstRootAbs, task, fileMode, opts.OnEntryDone)
		})
	}

	return g.Wait()
}

// prepareExtractWorkItems maps entry names to collision-free output file names.
func prepareExtractWorkItems(entries []EntryInfo, rawNames bool) ([]extractWorkItem, error) {
	prepared := entries
	if !rawNames {
		sanitized, err := sanitizeEntryNames(entries)
		if err != nil {
			return nil, err
		}

		prepared = sanitized
	}

	items := make([]extractWorkItem, len(entries))
	for i := range entries {
		outName := prepared[i].Name
		if err := validateExtractName(outName); err != nil {
			return nil, fmt.Errorf("%w: %q", err, entries[i].Name)
		}

		items[i] = extractWorkItem{
			outName: outName,
			entry:   entries[i],
		}
	}

	return items, nil
}

// validateExtractName rejects names that would escape the destination directory.
func validateExtractName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidExtractPath
	}

	if filepath.Base(name) != name {
		return ErrInvalidExtractPath
	}

	return nil
}

// extractPreparedEntry writes one entry payload into prepared output file.
func (r *Reader) extractPreparedEntry(
	dstRoot string,
	task extractWorkItem,
	fileMode ExtractFileMode,
	onDone func(entry EntryInfo, written int64, outputPath string),
) error {
	outputPath := filepath.Join(dstRoot, task.outName)

	f, err := openExtractFile(outputPath, fileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", task.outName, err)
	}

	written, copyErr := r.copyEntryPayload(f, task.entry)
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("extract %s: %w", task.outName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", task.outName, closeErr)
	}

	if onDone != nil {
		onDone(task.entry, written, outputPath)
	}

	return nil
}

// copyEntryPayload streams one (decompressed) entry payload into dst.
func (r *Reader) copyEntryPayload(dst io.Writer, entry EntryInfo) (int64, error) {
	rc, err := r.OpenEntryInfo(entry)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	buf := extractCopyBufferPool.Get().(*[extractCopyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	defer extractCopyBufferPool.Put(buf)

	return io.CopyBuffer(dst, rc, buf[:])
}

// openExtractFile opens output file according to selected creation policy.
func openExtractFile(path string, mode ExtractFileMode) (*os.File, error) {
	switch mode {
	case ExtractFileModeCreateOnly:
		return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	case ExtractFileModeTruncate:
		return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	case ExtractFileModeAuto, "":
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		return os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o640)
	default:
		return nil, fmt.Errorf("unknown extract file mode %q", mode)
	}
}
