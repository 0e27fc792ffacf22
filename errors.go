// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import "errors"

// Sentinel errors for MPK operations. Use errors.Is in callers.
var (
	// ErrInvalidMagic means the file does not start with the MPK signature.
	ErrInvalidMagic = errors.New("invalid MPK file: bad signature")
	// ErrUnsupportedVersion means the archive major version is not 1 or 2.
	ErrUnsupportedVersion = errors.New("unsupported MPK archive version")
	// ErrTruncatedHeader means the file is shorter than the fixed header block.
	ErrTruncatedHeader = errors.New("file too short for MPK header")
	// ErrCorruptEntryTable means one or more entry records are malformed.
	ErrCorruptEntryTable = errors.New("corrupt entry table")
	// ErrMalformedStream means a compressed payload is not a valid zlib stream.
	ErrMalformedStream = errors.New("malformed compressed stream")
	// ErrTruncatedStream means a compressed payload ended before expected output length.
	ErrTruncatedStream = errors.New("truncated compressed stream")
	// ErrUnknownEntry means a replacement name does not match any table entry.
	ErrUnknownEntry = errors.New("unknown entry name")
	// ErrArchiveTooLarge means offsets or sizes exceed format field limits.
	ErrArchiveTooLarge = errors.New("archive exceeds format size limits")
	// ErrEntryNotFound means the entry is not found.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrNameTooLong means the entry name exceeds the 223-byte name field.
	ErrNameTooLong = errors.New("entry name exceeds maximum length")
	// ErrInvalidEntryName means input entry name is empty or invalid after normalization.
	ErrInvalidEntryName = errors.New("invalid entry name")
	// ErrDuplicateEntryName means two inputs resolve to the same entry name.
	ErrDuplicateEntryName = errors.New("duplicate entry name")
	// ErrNilReader means the reader is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrNilWriter means the writer is nil.
	ErrNilWriter = errors.New("writer is nil")
	// ErrClosed means the reader or resource is already closed.
	ErrClosed = errors.New("reader or resource already closed")
	// ErrEmptyInputs means no inputs provided for pack.
	ErrEmptyInputs = errors.New("no inputs provided for pack")
	// ErrInvalidCompressPattern means one or more compression rules are invalid.
	ErrInvalidCompressPattern = errors.New("invalid compress rules")
	// ErrInvalidSelectPattern means one or more entry selection rules are invalid.
	ErrInvalidSelectPattern = errors.New("invalid selection rules")
	// ErrInvalidExtractPath means entry name cannot be mapped to a safe output path.
	ErrInvalidExtractPath = errors.New("invalid extract path")
)
