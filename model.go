// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"io"
	"math"

	"github.com/woozymasta/pathrules"
)

// Internal binary layout and format limits.
const (
	headerSize      = 0x40 // fixed archive header block, entry table starts right after
	entryRecordSize = 256  // one entry table record in both revisions
	nameFieldSize   = 224  // NUL-terminated name field inside entry record
	maxNameLen      = nameFieldSize - 1
	payloadAlign    = 2048 // payload block alignment, last entry is not padded
	maxV1Field      = uint64(math.MaxUint32)
)

// signature is the 4-byte magic at offset 0.
var signature = [4]byte{'M', 'P', 'K', 0}

// Default packer tuning values.
const (
	DefaultWriteBuffer     = 16 * 1024 * 1024
	DefaultMinCompressSize = 512
	DefaultMaxCompressSize = 64 * 1024 * 1024
)

// Format identifies one of the two supported archive revisions.
type Format uint16

// Supported archive format revisions.
const (
	// FormatV1 is the legacy revision with 32-bit fields and no compression.
	FormatV1 Format = 1
	// FormatV2 is the current revision with 64-bit fields and per-entry zlib compression.
	FormatV2 Format = 2
)

// Version is the full stored archive version pair.
type Version struct {
	// Major selects the table layout, 1 or 2.
	Major uint16 `json:"major" yaml:"major"`
	// Minor is carried verbatim for faithful rewrite.
	Minor uint16 `json:"minor" yaml:"minor"`
}

// Format returns the closed format variant for this version.
func (v Version) Format() Format {
	return Format(v.Major)
}

// EntryInfo describes a single parsed MPK entry.
type EntryInfo struct {
	// Name is the entry name as stored in the table, NUL padding trimmed.
	Name string `json:"name" yaml:"name"`
	// ID is the stored numeric entry identifier.
	ID uint32 `json:"id" yaml:"id"`
	// Offset is absolute byte offset of entry payload.
	Offset uint64 `json:"offset" yaml:"offset"`
	// DataSize is stored payload size in bytes.
	DataSize uint64 `json:"data_size" yaml:"data_size"`
	// OriginalSize is decompressed payload size; equals DataSize for raw entries.
	OriginalSize uint64 `json:"original_size" yaml:"original_size"`
	// Compressed reports whether payload is a zlib stream (V2 only).
	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`

	// indicator keeps the raw V2 compression indicator for byte-identical rewrite.
	indicator uint32
}

// Input describes one source stream to be packed into an MPK entry.
type Input struct {
	// Open returns raw source stream for this entry.
	Open func() (io.ReadCloser, error) `json:"-" yaml:"-"`
	// Name is the entry name inside the archive.
	Name string `json:"name" yaml:"name"`
	// SizeHint is expected size in bytes (zero when unknown).
	SizeHint int64 `json:"size_hint,omitempty" yaml:"size_hint,omitempty"`
}

// PackEntryProgress contains one completed entry write event from pack/rebuild flow.
type PackEntryProgress struct {
	// Name is entry name written to archive.
	Name string `json:"name" yaml:"name"`
	// ID is entry identifier in the written table.
	ID uint32 `json:"id" yaml:"id"`
	// Offset is payload offset in resulting archive.
	Offset uint64 `json:"offset" yaml:"offset"`
	// DataSize is stored payload size in bytes.
	DataSize uint64 `json:"data_size" yaml:"data_size"`
	// OriginalSize is decompressed payload size.
	OriginalSize uint64 `json:"original_size" yaml:"original_size"`
	// Compressed reports whether zlib payload was actually written.
	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`
	// Replaced reports whether payload came from a replacement source.
	Replaced bool `json:"replaced,omitempty" yaml:"replaced,omitempty"`
}

// PackOptions configures pack behavior.
type PackOptions struct {
	// OnEntryDone is called after one entry is fully written to archive payload.
	OnEntryDone func(entry PackEntryProgress) `json:"-" yaml:"-"`
	// Compress defines ordered name rules for compression candidate selection.
	Compress []pathrules.Rule `json:"compress,omitempty" yaml:"compress,omitempty"`
	// CompressMatcherOptions control compression name rule matching.
	CompressMatcherOptions pathrules.MatcherOptions `json:"compress_matcher_options,omitzero" yaml:"compress_matcher_options,omitzero"`
	// Version selects output archive revision; default is FormatV2.
	Version Format `json:"version,omitempty" yaml:"version,omitempty"`
	// VersionMinor is stored minor version for the output header.
	VersionMinor uint16 `json:"version_minor,omitempty" yaml:"version_minor,omitempty"`
	// WriterBufferSize is buffered writer size in bytes.
	WriterBufferSize int `json:"writer_buffer_size,omitempty" yaml:"writer_buffer_size,omitempty"`
	// MinCompressSize disables compression for entries smaller than this size.
	// Default is 512 bytes.
	MinCompressSize uint64 `json:"min_compress_size,omitempty" yaml:"min_compress_size,omitempty"`
	// MaxCompressSize bounds the in-memory compression path. Default is 64 MiB.
	MaxCompressSize uint64 `json:"max_compress_size,omitempty" yaml:"max_compress_size,omitempty"`
}

// PackResult contains pack/rebuild output statistics.
type PackResult struct {
	// WrittenEntries is number of entries written to archive.
	WrittenEntries int `json:"written_entries" yaml:"written_entries"`
	// DataSize is total payload bytes written, padding excluded.
	DataSize int64 `json:"data_size" yaml:"data_size"`
	// TableSize is total entry table bytes written.
	TableSize int64 `json:"table_size" yaml:"table_size"`
	// PaddingBytes is total alignment padding written after payloads.
	PaddingBytes int64 `json:"padding_bytes,omitempty" yaml:"padding_bytes,omitempty"`
	// RawBytes is total bytes written for uncompressed payload entries.
	RawBytes int64 `json:"raw_bytes,omitempty" yaml:"raw_bytes,omitempty"`
	// CompressedBytes is total bytes written for compressed payload entries.
	CompressedBytes int64 `json:"compressed_bytes,omitempty" yaml:"compressed_bytes,omitempty"`
	// CompressedEntries is number of entries written with compressed payload.
	CompressedEntries int `json:"compressed_entries,omitempty" yaml:"compressed_entries,omitempty"`
	// ReplacedEntries is number of entries whose payload came from replacement sources.
	ReplacedEntries int `json:"replaced_entries,omitempty" yaml:"replaced_entries,omitempty"`
}

// RebuildOptions configures archive rebuild behavior.
type RebuildOptions struct {
	// OnEntryDone is called after one entry is fully written to archive payload.
	OnEntryDone func(entry PackEntryProgress) `json:"-" yaml:"-"`
	// EncodeWorkers bounds parallel re-encoding of replacement payloads.
	// Zero or one keeps encoding sequential.
	EncodeWorkers int `json:"encode_workers,omitempty" yaml:"encode_workers,omitempty"`
	// WriterBufferSize is buffered writer size in bytes.
	WriterBufferSize int `json:"writer_buffer_size,omitempty" yaml:"writer_buffer_size,omitempty"`
}

// ReaderOptions configures reader parse compatibility behavior.
type ReaderOptions struct {
	// KeepGhostEntries keeps all-zero table records that shipped archives
	// sometimes carry when the header overstates the entry count.
	KeepGhostEntries bool `json:"keep_ghost_entries,omitempty" yaml:"keep_ghost_entries,omitempty"`
	// SanitizeNames rewrites entry names to filesystem-safe form for listing workflows.
	SanitizeNames bool `json:"sanitize_names,omitempty" yaml:"sanitize_names,omitempty"`
	// MinEntryOriginalSize drops entries with smaller decompressed size from listing.
	MinEntryOriginalSize uint64 `json:"min_entry_original_size,omitempty" yaml:"min_entry_original_size,omitempty"`
}

// EditOptions configures file-based archive edit flow.
type EditOptions struct {
	// PackOptions are applied for added/replaced entries during commit.
	PackOptions PackOptions `json:"pack_options,omitzero" yaml:"pack_options,omitzero"`
	// BackupKeep controls how many backup generations are kept after successful commit.
	// 0 means remove backup, 1 keeps only `<archive>.bak`, N keeps `.bak` + `.bak.1..N-1`.
	BackupKeep int `json:"backup_keep,omitempty" yaml:"backup_keep,omitempty"`
}

// ExtractOptions configures Extract behavior.
type ExtractOptions struct {
	// OnEntryDone is called after one entry is fully written to disk.
	OnEntryDone func(entry EntryInfo, written int64, outputPath string) `json:"-" yaml:"-"`
	// FileMode controls output file creation policy.
	FileMode ExtractFileMode `json:"file_mode,omitempty" yaml:"file_mode,omitempty"`
	// Entries limits extraction to selected metadata list; nil means all parsed entries.
	Entries []EntryInfo `json:"-" yaml:"-"`
	// Select defines ordered include/exclude name rules applied before extraction.
	Select []pathrules.Rule `json:"select,omitempty" yaml:"select,omitempty"`
	// SelectMatcherOptions control selection rule matching.
	SelectMatcherOptions pathrules.MatcherOptions `json:"select_matcher_options,omitzero" yaml:"select_matcher_options,omitzero"`
	// MaxWorkers is number of extraction workers (zero means GOMAXPROCS).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// RawNames disables default name sanitization during extract.
	RawNames bool `json:"raw_names,omitempty" yaml:"raw_names,omitempty"`
}

// ExtractFileMode controls output file open behavior during extraction.
type ExtractFileMode string

// Output file creation policies for extraction.
const (
	// ExtractFileModeAuto first tries create-only, then falls back to truncate for existing files.
	ExtractFileModeAuto ExtractFileMode = "auto"
	// ExtractFileModeTruncate opens existing files with truncate and creates missing files.
	ExtractFileModeTruncate ExtractFileMode = "truncate"
	// ExtractFileModeCreateOnly creates files only when absent and fails on existing files.
	ExtractFileModeCreateOnly ExtractFileMode = "create_only"
)

// applyDefaults fills zero-valued pack options with defaults.
func (opts *PackOptions) applyDefaults() {
	if opts.Version != FormatV1 && opts.Version != FormatV2 {
		opts.Version = FormatV2
	}

	if opts.WriterBufferSize < 4096 {
		opts.WriterBufferSize = DefaultWriteBuffer
	}

	if opts.MinCompressSize == 0 {
		opts.MinCompressSize = DefaultMinCompressSize
	}

	if opts.MaxCompressSize == 0 || opts.MaxCompressSize <= opts.MinCompressSize {
		opts.MaxCompressSize = DefaultMaxCompressSize
	}

	if opts.CompressMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.CompressMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}

	if opts.CompressMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.CompressMatcherOptions.DefaultAction = pathrules.ActionExclude
	}
}

// applyDefaults fills zero-valued rebuild options with defaults.
func (opts *RebuildOptions) applyDefaults() {
	if opts.EncodeWorkers < 0 {
		opts.EncodeWorkers = 0
	}

	if opts.WriterBufferSize < 4096 {
		opts.WriterBufferSize = DefaultWriteBuffer
	}
}

// applyDefaults fills zero-valued edit options with defaults.
func (opts *EditOptions) applyDefaults() {
	opts.PackOptions.applyDefaults()

	if opts.BackupKeep < 0 {
		opts.BackupKeep = 0
	}
}
