// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// Rebuild produces a complete new archive buffer with the given entry
// replacements applied. Untouched entries are copied verbatim; replaced
// payloads are re-encoded when the original entry was compressed. Every
// replacement name must exist in the table, otherwise the whole operation
// fails with ErrUnknownEntry before any output is produced.
func (r *Reader) Rebuild(ctx context.Context, replacements map[string][]byte) ([]byte, error) {
	buf := &seekableBuffer{}
	if _, err := r.RebuildTo(ctx, buf, replacements, RebuildOptions{}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// RebuildTo writes the rebuilt archive into out and returns write statistics.
func (r *Reader) RebuildTo(
	ctx context.Context,
	out io.WriteSeeker,
	replacements map[string][]byte,
	opts RebuildOptions,
) (*PackResult, error) {
	if r == nil || r.ra == nil {
		return nil, ErrNilReader
	}

	if r.isClosed() {
		return nil, ErrClosed
	}

	opts.applyDefaults()

	plan, err := r.buildRebuildPlan(replacements)
	if err != nil {
		return nil, err
	}

	if opts.EncodeWorkers > 1 {
		if err := preEncodeReplacements(ctx, plan, opts.EncodeWorkers); err != nil {
			return nil, err
		}
	}

	packOpts := PackOptions{
		Version:          r.version.Format(),
		VersionMinor:     r.version.Minor,
		WriterBufferSize: opts.WriterBufferSize,
		OnEntryDone:      opts.OnEntryDone,
	}
	packOpts.applyDefaults()

	return rewriteArchive(ctx, out, r.ra, plan, r.version, packOpts)
}

// buildRebuildPlan validates replacement names and maps each table entry to
// either a verbatim copy or a replacement payload.
func (r *Reader) buildRebuildPlan(replacements map[string][]byte) ([]rewriteEntry, error) {
	for name := range replacements {
		if _, ok := r.nameIndex[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, name)
		}
	}

	plan := make([]rewriteEntry, len(r.entries))
	for i := range r.entries {
		entry := r.entries[i]
		item := rewriteEntry{
			name: entry.Name,
			id:   entry.ID,
		}

		if data, ok := replacements[entry.Name]; ok {
			if data == nil {
				data = []byte{}
			}

			item.data = data
			// V1 archives store every payload raw.
			item.compress = entry.Compressed && r.version.Format() == FormatV2
		} else {
			item.source = &entry
		}

		plan[i] = item
	}

	return plan, nil
}

// preEncodeReplacements compresses replacement payloads in parallel before the
// sequential offset-assignment write pass.
func preEncodeReplacements(ctx context.Context, plan []rewriteEntry, workers int) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range plan {
		item := &plan[i]
		if item.data == nil || !item.compress {
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			encoded, err := Compress(item.data)
			if err != nil {
				return fmt.Errorf("compress entry %s: %w", item.name, err)
			}

			item.encoded = encoded
			item.preEncoded = true
			return nil
		})
	}

	return g.Wait()
}

// seekableBuffer is a minimal in-memory io.WriteSeeker for buffer-producing rebuilds.
type seekableBuffer struct {
	buf []byte
	pos int64
}

// Write writes p at current position, growing the buffer as needed.
func (b *seekableBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.buf)) {
		if end > int64(cap(b.buf)) {
			grown := make([]byte, end, end+end/2)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:end]
		}
	}

	copy(b.buf[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

// Seek sets the write position, padding with zeros implicitly on later writes.
func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = b.pos + offset
	case io.SeekEnd:
		pos = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("seekable buffer: invalid whence %d", whence)
	}

	if pos < 0 {
		return 0, fmt.Errorf("seekable buffer: negative position %d", pos)
	}

	b.pos = pos
	return pos, nil
}

// Bytes returns the written buffer.
func (b *seekableBuffer) Bytes() []byte {
	return b.buf
}
