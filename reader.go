// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"unicode/utf8"
)

// readerTableBufferSize is a sequential read buffer for entry table parsing.
const readerTableBufferSize = 64 * 1024

// entryTableReaderPool reuses buffered readers for sequential table parsing.
var entryTableReaderPool = sync.Pool{
	New: func() any {
		return bufio.NewReaderSize(bytes.NewReader(nil), readerTableBufferSize)
	},
}

// Reader provides read-only access to a parsed MPK archive.
type Reader struct {
	// ra is the underlying random-access reader used for payload reads.
	ra io.ReaderAt
	// file is set when Reader owns an *os.File opened via Open.
	file *os.File
	// nameIndex maps entry name to entries slice position.
	nameIndex map[string]int
	// idIndex maps stored entry ID to entries slice position.
	idIndex map[uint32]int
	// entries stores parsed immutable entry metadata in on-disk order.
	entries []EntryInfo
	// size is total source size in bytes.
	size int64
	// storedEntryCount is the header entry count, kept verbatim for rewrite
	// even when ghost records were skipped.
	storedEntryCount uint64
	// version is the stored archive version pair.
	version Version
	// mu guards closed state and close operation.
	mu sync.Mutex
	// closed reports whether Close was already called.
	closed bool
}

// Open opens MPK file by path and parses header and entry table.
func Open(path string) (*Reader, error) {
	return OpenWithOptions(path, ReaderOptions{})
}

// OpenWithOptions opens MPK file by path and parses structures using explicit reader options.
func OpenWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open MPK: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat: %w", err)
	}

	r, err := NewReaderFromReaderAtWithOptions(f, fi.Size(), opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r.file = f
	return r, nil
}

// NewReaderFromBytes parses MPK archive from an in-memory buffer.
func NewReaderFromBytes(data []byte) (*Reader, error) {
	return NewReaderFromReaderAt(bytes.NewReader(data), int64(len(data)))
}

// NewReaderFromReaderAt parses MPK archive from existing ReaderAt and known size.
func NewReaderFromReaderAt(ra io.ReaderAt, size int64) (*Reader, error) {
	return NewReaderFromReaderAtWithOptions(ra, size, ReaderOptions{})
}

// NewReaderFromReaderAtWithOptions parses MPK archive from existing ReaderAt
// and known size using explicit reader options.
func NewReaderFromReaderAtWithOptions(ra io.ReaderAt, size int64, opts ReaderOptions) (*Reader, error) {
	if ra == nil {
		return nil, ErrNilReader
	}

	r := &Reader{ra: ra, size: size}
	if err := r.parse(ra, size, opts); err != nil {
		return nil, err
	}

	return r, nil
}

// Version returns the stored archive version pair.
func (r *Reader) Version() Version {
	return r.version
}

// Format returns the archive format revision.
func (r *Reader) Format() Format {
	return r.version.Format()
}

// Size returns total archive size in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// Entries returns a copy of parsed entries in on-disk order.
func (r *Reader) Entries() []EntryInfo {
	if r == nil {
		return nil
	}

	entries := make([]EntryInfo, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// FindByName resolves one entry by exact stored name.
func (r *Reader) FindByName(name string) (EntryInfo, bool) {
	if r == nil {
		return EntryInfo{}, false
	}

	idx, ok := r.nameIndex[name]
	if !ok {
		return EntryInfo{}, false
	}

	return r.entries[idx], true
}

// FindByID resolves one entry by stored numeric ID.
func (r *Reader) FindByID(id uint32) (EntryInfo, bool) {
	if r == nil {
		return EntryInfo{}, false
	}

	idx, ok := r.idIndex[id]
	if !ok {
		return EntryInfo{}, false
	}

	return r.entries[idx], true
}

// Close closes the underlying file if reader owns one.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}

	return nil
}

// isClosed reports current closed state under lock.
func (r *Reader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// parse reads and validates MPK structure from ReaderAt.
func (r *Reader) parse(ra io.ReaderAt, size int64, opts ReaderOptions) error {
	version, count, err := parseArchiveHeader(ra, size)
	if err != nil {
		return err
	}

	r.version = version
	r.storedEntryCount = count

	if err := r.parseEntryTable(ra, count, opts.KeepGhostEntries); err != nil {
		return err
	}

	if err := validateEntryTable(r.entries, size); err != nil {
		return err
	}

	if opts.MinEntryOriginalSize > 0 {
		r.entries = filterEntriesBySize(r.entries, opts.MinEntryOriginalSize)
	}

	if opts.SanitizeNames {
		sanitized, err := sanitizeEntryNames(r.entries)
		if err != nil {
			return err
		}

		r.entries = sanitized
	}

	r.buildLookupIndexes()
	return nil
}

// parseArchiveHeader validates the fixed header block and returns version and entry count.
func parseArchiveHeader(ra io.ReaderAt, size int64) (Version, uint64, error) {
	if size < headerSize {
		return Version{}, 0, ErrTruncatedHeader
	}

	var header [headerSize]byte
	if _, err := ra.ReadAt(header[:], 0); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Version{}, 0, ErrTruncatedHeader
		}

		return Version{}, 0, fmt.Errorf("read header: %w", err)
	}

	if !bytes.Equal(header[0:4], signature[:]) {
		return Version{}, 0, fmt.Errorf("%w: % x", ErrInvalidMagic, header[0:4])
	}

	version := Version{
		Minor: binary.LittleEndian.Uint16(header[4:6]),
		Major: binary.LittleEndian.Uint16(header[6:8]),
	}
	if version.Major != 1 && version.Major != 2 {
		return Version{}, 0, fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, version.Major, version.Minor)
	}

	var count uint64
	if version.Format() == FormatV1 {
		count = uint64(binary.LittleEndian.Uint32(header[8:12]))
	} else {
		count = binary.LittleEndian.Uint64(header[8:16])
	}

	maxRecords := uint64(size-headerSize) / entryRecordSize
	if count > maxRecords {
		return Version{}, 0, fmt.Errorf("%w: header declares %d records, file fits %d", ErrCorruptEntryTable, count, maxRecords)
	}

	return version, count, nil
}

// parseEntryTable parses entry records with sequential buffered reads
// to reduce ReadAt syscall overhead on large tables.
func (r *Reader) parseEntryTable(ra io.ReaderAt, count uint64, keepGhosts bool) error {
	if count == 0 {
		r.entries = []EntryInfo{}
		return nil
	}

	tableLen := int64(count) * entryRecordSize
	sr := io.NewSectionReader(ra, headerSize, tableLen)
	br := entryTableReaderPool.Get().(*bufio.Reader) //nolint:forcetypeassert // pool contains only *bufio.Reader
	br.Reset(sr)
	defer entryTableReaderPool.Put(br)

	isOld := r.version.Format() == FormatV1
	r.entries = make([]EntryInfo, 0, count)

	var record [entryRecordSize]byte
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(br, record[:]); err != nil {
			return fmt.Errorf("%w: record %d: %v", ErrCorruptEntryTable, i, err)
		}

		entry, err := decodeEntryRecord(record[:], isOld)
		if err != nil {
			return fmt.Errorf("%w: record %d: %v", ErrCorruptEntryTable, i, err)
		}

		// Some shipped archives overstate the count and leave all-zero
		// records in the table; no real payload ever sits at offset 0.
		if entry.Offset == 0 && !keepGhosts {
			continue
		}

		r.entries = append(r.entries, entry)
	}

	return nil
}

// decodeEntryRecord decodes one fixed-size table record for selected revision.
func decodeEntryRecord(record []byte, isOld bool) (EntryInfo, error) {
	var entry EntryInfo

	if isOld {
		entry.ID = binary.LittleEndian.Uint32(record[0:4])
		entry.Offset = uint64(binary.LittleEndian.Uint32(record[4:8]))
		entry.DataSize = uint64(binary.LittleEndian.Uint32(record[8:12]))
		entry.OriginalSize = uint64(binary.LittleEndian.Uint32(record[12:16]))
		// record[16:32] is reserved padding, name starts at 32.
	} else {
		entry.indicator = binary.LittleEndian.Uint32(record[0:4])
		entry.ID = binary.LittleEndian.Uint32(record[4:8])
		entry.Offset = binary.LittleEndian.Uint64(record[8:16])
		entry.DataSize = binary.LittleEndian.Uint64(record[16:24])
		entry.OriginalSize = binary.LittleEndian.Uint64(record[24:32])
		entry.Compressed = entry.indicator != 0
	}

	name, err := decodeEntryName(record[entryRecordSize-nameFieldSize:])
	if err != nil {
		return EntryInfo{}, err
	}

	entry.Name = name
	return entry, nil
}

// decodeEntryName trims the NUL-terminated fixed-width name field.
func decodeEntryName(field []byte) (string, error) {
	end := bytes.IndexByte(field, 0)
	if end < 0 {
		return "", fmt.Errorf("name field is not NUL-terminated")
	}

	name := field[:end]
	if !utf8.Valid(name) {
		return "", fmt.Errorf("name is not valid UTF-8")
	}

	return string(name), nil
}

// validateEntryTable checks payload bounds, range overlap, and name uniqueness.
// Input is untrusted; violations are reported, never panic.
func validateEntryTable(entries []EntryInfo, size int64) error {
	seenNames := make(map[string]uint32, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.Name == "" {
			return fmt.Errorf("%w: entry %d has empty name", ErrCorruptEntryTable, e.ID)
		}

		if prev, ok := seenNames[e.Name]; ok {
			return fmt.Errorf("%w: entry %d duplicates name %q of entry %d", ErrCorruptEntryTable, e.ID, e.Name, prev)
		}
		seenNames[e.Name] = e.ID

		if e.Offset > uint64(size) || e.DataSize > uint64(size)-e.Offset {
			return fmt.Errorf("%w: entry %d payload out of file bounds", ErrCorruptEntryTable, e.ID)
		}

		if e.Compressed && e.DataSize > e.OriginalSize {
			return fmt.Errorf("%w: entry %d stored size exceeds original size", ErrCorruptEntryTable, e.ID)
		}

		if !e.Compressed && e.DataSize != e.OriginalSize {
			return fmt.Errorf("%w: entry %d stored size differs from original size for raw payload", ErrCorruptEntryTable, e.ID)
		}
	}

	return validateNoPayloadOverlap(entries)
}

// validateNoPayloadOverlap ensures no two payload ranges intersect.
func validateNoPayloadOverlap(entries []EntryInfo) error {
	if len(entries) < 2 {
		return nil
	}

	type span struct {
		start uint64
		end   uint64
		id    uint32
	}

	spans := make([]span, 0, len(entries))
	for i := range entries {
		if entries[i].DataSize == 0 {
			continue
		}

		spans = append(spans, span{
			start: entries[i].Offset,
			end:   entries[i].Offset + entries[i].DataSize,
			id:    entries[i].ID,
		})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return fmt.Errorf("%w: entry %d payload overlaps entry %d", ErrCorruptEntryTable, spans[i].id, spans[i-1].id)
		}
	}

	return nil
}

// buildLookupIndexes builds O(1) name and ID lookup maps.
func (r *Reader) buildLookupIndexes() {
	r.nameIndex = make(map[string]int, len(r.entries))
	r.idIndex = make(map[uint32]int, len(r.entries))
	for i := range r.entries {
		r.nameIndex[r.entries[i].Name] = i
		r.idIndex[r.entries[i].ID] = i
	}
}
