// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

var (
	// defaultPackWriterPool reuses default-sized bufio writers between Pack calls.
	defaultPackWriterPool = sync.Pool{
		New: func() any {
			return bufio.NewWriterSize(io.Discard, DefaultWriteBuffer)
		},
	}
	// defaultPackCopyBufferPool reuses payload copy buffers between Pack calls.
	defaultPackCopyBufferPool = sync.Pool{
		New: func() any {
			return new([packCopyBufferSize]byte)
		},
	}
)

// packCopyBufferSize is per-pack temporary buffer used by streaming payload copy.
const packCopyBufferSize = 64 * 1024

// rewriteEntry describes one payload source for archive rewrite core.
type rewriteEntry struct {
	// source copies stored bytes verbatim from the source archive.
	source *EntryInfo
	// input streams caller-provided content (pack and editor flows).
	input *Input
	// data is an in-memory replacement payload.
	data []byte
	// encoded is pre-compressed data payload filled by parallel encode pass.
	encoded []byte
	name    string
	id      uint32
	// compress selects the codec path for data/input payloads.
	compress   bool
	preEncoded bool
	// replaced marks input payloads that substitute an existing entry.
	replaced bool
}

// writtenEntry stores concrete entry values produced during payload write.
type writtenEntry struct {
	offset       uint64
	dataSize     uint64
	originalSize uint64
	indicator    uint32
	compressed   bool
	replaced     bool
}

// Pack writes a new MPK archive to out from the given inputs.
// Input order is preserved; entry IDs are assigned positionally from 0.
func Pack(ctx context.Context, out io.WriteSeeker, inputs []Input, opts PackOptions) (*PackResult, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyInputs
	}

	opts.applyDefaults()

	plan, err := preparePackPlan(inputs)
	if err != nil {
		return nil, err
	}

	version := Version{Major: uint16(opts.Version), Minor: opts.VersionMinor}
	return rewriteArchive(ctx, out, nil, plan, version, opts)
}

// PackFile writes a new MPK archive to outPath.
func PackFile(ctx context.Context, outPath string, inputs []Input, opts PackOptions) (*PackResult, error) {
	f, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create MPK file: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	res, err := Pack(ctx, f, inputs, opts)
	if err != nil {
		return nil, err
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync MPK file: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close MPK file: %w", err)
	}
	f = nil

	return res, nil
}

// preparePackPlan validates pack inputs and assigns positional entry IDs.
func preparePackPlan(inputs []Input) ([]rewriteEntry, error) {
	plan := make([]rewriteEntry, len(inputs))
	seen := make(map[string]string, len(inputs))
	for i := range inputs {
		name, err := normalizeEntryName(inputs[i].Name)
		if err != nil {
			return nil, err
		}

		key := strings.ToLower(name)
		if existing, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: %q conflicts with %q", ErrDuplicateEntryName, name, existing)
		}
		seen[key] = name

		in := inputs[i]
		in.Name = name
		plan[i] = rewriteEntry{
			name:  name,
			id:    uint32(i), //nolint:gosec // table size is bounded far below uint32
			input: &in,
		}
	}

	return plan, nil
}

// acquirePackWriter returns a buffered writer and release callback for Pack.
func acquirePackWriter(out io.Writer, size int) (*bufio.Writer, func()) {
	if size == DefaultWriteBuffer {
		w := defaultPackWriterPool.Get().(*bufio.Writer) //nolint:forcetypeassert // pool contains only *bufio.Writer
		w.Reset(out)

		return w, func() {
			w.Reset(io.Discard)
			defaultPackWriterPool.Put(w)
		}
	}

	return bufio.NewWriterSize(out, size), func() {}
}

// acquirePackCopyBuffer returns reusable payload copy buffer and release callback.
func acquirePackCopyBuffer() ([]byte, func()) {
	arr := defaultPackCopyBufferPool.Get().(*[packCopyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	buf := arr[:]

	return buf, func() {
		defaultPackCopyBufferPool.Put(arr)
	}
}

// rewriteArchive is the shared writer core for Pack, Rebuild, and editor commit.
// It writes the header and a placeholder table, streams payloads left to right
// assigning block-aligned offsets, then patches the table in one seek-back write.
func rewriteArchive(
	ctx context.Context,
	out io.WriteSeeker,
	src io.ReaderAt,
	plan []rewriteEntry,
	version Version,
	opts PackOptions,
) (*PackResult, error) {
	if out == nil {
		return nil, ErrNilWriter
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := validatePlanNames(plan); err != nil {
		return nil, err
	}

	matcher, err := newCompressMatcher(opts.Compress, opts.CompressMatcherOptions)
	if err != nil {
		return nil, err
	}

	w, releaseWriter := acquirePackWriter(out, opts.WriterBufferSize)
	defer releaseWriter()

	if err := writeArchiveHeader(w, version, uint64(len(plan))); err != nil {
		return nil, err
	}

	tableLen := int64(len(plan)) * entryRecordSize
	if err := writeZeros(w, tableLen); err != nil {
		return nil, fmt.Errorf("write table placeholder: %w", err)
	}

	res := &PackResult{TableSize: tableLen}
	written := make([]writtenEntry, len(plan))

	if len(plan) > 0 {
		dataStart := alignUp(headerSize+tableLen, payloadAlign)
		if err := writeZeros(w, dataStart-headerSize-tableLen); err != nil {
			return nil, fmt.Errorf("write table padding: %w", err)
		}

		copyBuf, releaseCopyBuffer := acquirePackCopyBuffer()
		defer releaseCopyBuffer()

		pos := dataStart
		for i := range plan {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			record, err := writePlanPayload(w, src, &plan[i], opts, matcher, copyBuf)
			if err != nil {
				return nil, err
			}

			record.offset = uint64(pos)
			pos += int64(record.dataSize) //nolint:gosec // bounded by overflow check below
			if pos < dataStart {
				return nil, fmt.Errorf("%w: cumulative payload offset overflow", ErrArchiveTooLarge)
			}

			// The final payload is not padded to a block boundary.
			if i != len(plan)-1 {
				pad := paddingFor(record.dataSize)
				if err := writeZeros(w, pad); err != nil {
					return nil, fmt.Errorf("write payload padding: %w", err)
				}

				pos += pad
				res.PaddingBytes += pad
			}

			written[i] = record
			accountWrittenEntry(res, record)
			if opts.OnEntryDone != nil {
				opts.OnEntryDone(PackEntryProgress{
					Name:         plan[i].name,
					ID:           plan[i].id,
					Offset:       record.offset,
					DataSize:     record.dataSize,
					OriginalSize: record.originalSize,
					Compressed:   record.compressed,
					Replaced:     record.replaced,
				})
			}
		}
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush payloads: %w", err)
	}

	if len(plan) > 0 {
		table, err := encodeEntryTable(plan, written, version)
		if err != nil {
			return nil, err
		}

		if _, err := out.Seek(headerSize, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek to entry table: %w", err)
		}

		if _, err := out.Write(table); err != nil {
			return nil, fmt.Errorf("patch entry table: %w", err)
		}
	}

	res.WrittenEntries = len(plan)
	return res, nil
}

// accountWrittenEntry folds one written payload into pack statistics.
func accountWrittenEntry(res *PackResult, record writtenEntry) {
	res.DataSize += int64(record.dataSize) //nolint:gosec // bounded by offset overflow check
	if record.compressed {
		res.CompressedEntries++
		res.CompressedBytes += int64(record.dataSize) //nolint:gosec // bounded by offset overflow check
	} else {
		res.RawBytes += int64(record.dataSize) //nolint:gosec // bounded by offset overflow check
	}

	if record.replaced {
		res.ReplacedEntries++
	}
}

// validatePlanNames ensures every planned entry name fits the fixed name field.
func validatePlanNames(plan []rewriteEntry) error {
	for i := range plan {
		name := plan[i].name
		if name == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidEntryName)
		}

		if len(name) > maxNameLen {
			return fmt.Errorf("%w: %q", ErrNameTooLong, name)
		}

		if strings.IndexByte(name, 0) >= 0 {
			return fmt.Errorf("%w: %q contains NUL", ErrInvalidEntryName, name)
		}
	}

	return nil
}

// writeArchiveHeader writes the fixed 0x40-byte header block.
func writeArchiveHeader(w io.Writer, version Version, count uint64) error {
	var header [headerSize]byte
	copy(header[0:4], signature[:])
	binary.LittleEndian.PutUint16(header[4:6], version.Minor)
	binary.LittleEndian.PutUint16(header[6:8], version.Major)

	if version.Format() == FormatV1 {
		if count > maxV1Field {
			return fmt.Errorf("%w: %d entries exceed V1 count field", ErrArchiveTooLarge, count)
		}

		binary.LittleEndian.PutUint32(header[8:12], uint32(count))
	} else {
		binary.LittleEndian.PutUint64(header[8:16], count)
	}

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	return nil
}

// encodeEntryTable encodes all final table records for the seek-back patch.
func encodeEntryTable(plan []rewriteEntry, written []writtenEntry, version Version) ([]byte, error) {
	table := make([]byte, len(plan)*entryRecordSize)
	isOld := version.Format() == FormatV1

	for i := range plan {
		record := table[i*entryRecordSize : (i+1)*entryRecordSize]
		if err := encodeEntryRecord(record, plan[i], written[i], isOld); err != nil {
			return nil, err
		}
	}

	return table, nil
}

// encodeEntryRecord encodes one fixed-size table record for selected revision.
func encodeEntryRecord(record []byte, item rewriteEntry, entry writtenEntry, isOld bool) error {
	if isOld {
		if entry.offset > maxV1Field || entry.dataSize > maxV1Field || entry.originalSize > maxV1Field {
			return fmt.Errorf("%w: entry %s does not fit V1 32-bit fields", ErrArchiveTooLarge, item.name)
		}

		binary.LittleEndian.PutUint32(record[0:4], item.id)
		binary.LittleEndian.PutUint32(record[4:8], uint32(entry.offset))
		binary.LittleEndian.PutUint32(record[8:12], uint32(entry.dataSize))
		binary.LittleEndian.PutUint32(record[12:16], uint32(entry.originalSize))
	} else {
		binary.LittleEndian.PutUint32(record[0:4], entry.indicator)
		binary.LittleEndian.PutUint32(record[4:8], item.id)
		binary.LittleEndian.PutUint64(record[8:16], entry.offset)
		binary.LittleEndian.PutUint64(record[16:24], entry.dataSize)
		binary.LittleEndian.PutUint64(record[24:32], entry.originalSize)
	}

	copy(record[entryRecordSize-nameFieldSize:], item.name)
	return nil
}

// writePlanPayload writes one payload from its source and returns concrete sizes.
func writePlanPayload(
	dst io.Writer,
	src io.ReaderAt,
	item *rewriteEntry,
	opts PackOptions,
	matcher *compressMatcher,
	copyBuf []byte,
) (writtenEntry, error) {
	switch {
	case item.source != nil:
		return writeSourcePayload(dst, src, item, copyBuf)
	case item.data != nil || item.preEncoded:
		return writeReplacementPayload(dst, item)
	case item.input != nil:
		return writeInputPayload(dst, item, opts, matcher, copyBuf)
	default:
		return writtenEntry{}, fmt.Errorf("entry %s: missing payload source", item.name)
	}
}

// writeSourcePayload copies already packed bytes verbatim from source archive.
func writeSourcePayload(dst io.Writer, src io.ReaderAt, item *rewriteEntry, copyBuf []byte) (writtenEntry, error) {
	if src == nil {
		return writtenEntry{}, ErrNilReader
	}

	entry := item.source
	size := int64(entry.DataSize) //nolint:gosec // bounded by table validation
	sr := io.NewSectionReader(src, int64(entry.Offset), size)
	copied, err := io.CopyBuffer(dst, sr, copyBuf)
	if err != nil {
		return writtenEntry{}, fmt.Errorf("copy packed entry %s: %w", item.name, err)
	}
	if copied != size {
		return writtenEntry{}, fmt.Errorf("copy packed entry %s: short read (%d/%d)", item.name, copied, size)
	}

	return writtenEntry{
		dataSize:     entry.DataSize,
		originalSize: entry.OriginalSize,
		indicator:    entry.indicator,
		compressed:   entry.Compressed,
	}, nil
}

// writeReplacementPayload writes one in-memory replacement, encoding on demand.
// Compression falls back to raw storage when the encoding does not shrink the payload.
func writeReplacementPayload(dst io.Writer, item *rewriteEntry) (writtenEntry, error) {
	record := writtenEntry{
		dataSize:     uint64(len(item.data)),
		originalSize: uint64(len(item.data)),
		replaced:     true,
	}

	payload := item.data
	if item.compress {
		encoded := item.encoded
		if !item.preEncoded {
			var err error
			encoded, err = Compress(item.data)
			if err != nil {
				return writtenEntry{}, fmt.Errorf("compress entry %s: %w", item.name, err)
			}
		}

		if len(encoded) < len(item.data) {
			payload = encoded
			record.dataSize = uint64(len(encoded))
			record.compressed = true
			record.indicator = 1
		}
	}

	if _, err := dst.Write(payload); err != nil {
		return writtenEntry{}, fmt.Errorf("write payload %s: %w", item.name, err)
	}

	return record, nil
}

// writeInputPayload writes one caller-stream payload with compression candidate policy.
func writeInputPayload(
	dst io.Writer,
	item *rewriteEntry,
	opts PackOptions,
	matcher *compressMatcher,
	copyBuf []byte,
) (writtenEntry, error) {
	in := item.input
	if in.Open == nil {
		return writtenEntry{}, fmt.Errorf("input %s: Open is nil", item.name)
	}

	rc, err := in.Open()
	if err != nil {
		return writtenEntry{}, fmt.Errorf("open input %s: %w", item.name, err)
	}

	record, writeErr := writeInputPayloadFromStream(dst, rc, item, opts, matcher, copyBuf)
	closeErr := rc.Close()
	if writeErr != nil {
		return writtenEntry{}, writeErr
	}
	if closeErr != nil {
		return writtenEntry{}, fmt.Errorf("close input %s: %w", item.name, closeErr)
	}

	return record, nil
}

// writeInputPayloadFromStream selects in-memory compression path for sized
// candidates and streams everything else raw.
func writeInputPayloadFromStream(
	dst io.Writer,
	src io.Reader,
	item *rewriteEntry,
	opts PackOptions,
	matcher *compressMatcher,
	copyBuf []byte,
) (writtenEntry, error) {
	in := item.input
	candidate := item.compress ||
		(matcher != nil &&
			in.SizeHint > 0 &&
			uint64(in.SizeHint) <= opts.MaxCompressSize &&
			shouldCompress(opts, matcher, item.name, uint64(in.SizeHint)))

	if candidate {
		raw, err := readAllSized(src, in.SizeHint)
		if err != nil {
			return writtenEntry{}, fmt.Errorf("read input %s: %w", item.name, err)
		}

		item.data = raw
		item.compress = true
		record, err := writeReplacementPayload(dst, item)
		item.data = nil
		record.replaced = item.replaced
		return record, err
	}

	streamed, err := io.CopyBuffer(dst, src, copyBuf)
	if err != nil {
		return writtenEntry{}, fmt.Errorf("stream input %s: %w", item.name, err)
	}

	return writtenEntry{
		dataSize:     uint64(streamed),
		originalSize: uint64(streamed),
		replaced:     item.replaced,
	}, nil
}

// readAllSized reads whole payload into memory with capacity from known size.
func readAllSized(src io.Reader, sizeHint int64) ([]byte, error) {
	var buf bytes.Buffer
	if sizeHint > 0 {
		buf.Grow(int(sizeHint))
	}

	if _, err := buf.ReadFrom(src); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// normalizeEntryName validates and trims one archive entry name.
func normalizeEntryName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryName, raw)
	}

	if strings.ContainsAny(name, "/\\") || strings.IndexByte(name, 0) >= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryName, raw)
	}

	if len(name) > maxNameLen {
		return "", fmt.Errorf("%w: %q", ErrNameTooLong, raw)
	}

	return name, nil
}

// normalizeNameForMatching normalizes user names for rule matcher use.
func normalizeNameForMatching(name string) string {
	return strings.TrimSpace(name)
}

// alignUp rounds n up to the next multiple of align.
func alignUp(n int64, align int64) int64 {
	rem := n % align
	if rem == 0 {
		return n
	}

	return n + align - rem
}

// paddingFor returns alignment padding after one payload of given size.
// Zero-length payloads occupy a full block, matching shipped archives.
func paddingFor(size uint64) int64 {
	rem := int64(size % payloadAlign) //nolint:gosec // remainder is below payloadAlign
	if rem == 0 && size != 0 {
		return 0
	}

	return payloadAlign - rem
}

// writeZeros writes n zero bytes to w.
func writeZeros(w io.Writer, n int64) error {
	if n <= 0 {
		return nil
	}

	var zeros [4096]byte
	for n > 0 {
		chunk := int64(len(zeros))
		if chunk > n {
			chunk = n
		}

		if _, err := w.Write(zeros[:chunk]); err != nil {
			return err
		}

		n -= chunk
	}

	return nil
}
