// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/woozymasta/pathrules"
)

// Decompress decodes one zlib payload to exactly expectedLen bytes.
// It returns ErrTruncatedStream when the stream ends early and
// ErrMalformedStream on invalid zlib data.
func Decompress(stored []byte, expectedLen uint64) ([]byte, error) {
	if expectedLen > uint64(maxSliceLen()) {
		return nil, fmt.Errorf("%w: output size %d", ErrArchiveTooLarge, expectedLen)
	}

	zr, err := zlib.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStream, err)
	}
	defer func() { _ = zr.Close() }()

	out := make([]byte, expectedLen)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, mapDecodeError(err)
	}

	// One extra read confirms the stream decodes to exactly expectedLen bytes.
	var probe [1]byte
	n, err := zr.Read(probe[:])
	if n > 0 {
		return nil, fmt.Errorf("%w: stream longer than declared size %d", ErrMalformedStream, expectedLen)
	}
	if err != nil && err != io.EOF {
		return nil, mapDecodeError(err)
	}

	return out, nil
}

// Compress encodes raw bytes into the archive's zlib representation.
// Output always round-trips through Decompress, including empty and
// incompressible inputs (deflate falls back to stored blocks).
func Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(raw)/2 + 64)

	zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("init zlib writer: %w", err)
	}

	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish zlib stream: %w", err)
	}

	return buf.Bytes(), nil
}

// decompressToWriter streams one zlib payload into dst, enforcing exact output length.
func decompressToWriter(dst io.Writer, src io.Reader, expectedLen uint64) error {
	zr, err := zlib.NewReader(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStream, err)
	}
	defer func() { _ = zr.Close() }()

	written, err := io.CopyN(dst, zr, int64(expectedLen)) //nolint:gosec // bounded by table validation
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: decoded %d of %d bytes", ErrTruncatedStream, written, expectedLen)
		}

		return mapDecodeError(err)
	}

	return nil
}

// mapDecodeError converts zlib/io decode failures to codec sentinel errors.
func mapDecodeError(err error) error {
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return fmt.Errorf("%w: %v", ErrTruncatedStream, err)
	}

	return fmt.Errorf("%w: %v", ErrMalformedStream, err)
}

// maxSliceLen returns the platform limit for one allocated payload buffer.
func maxSliceLen() int {
	return int(^uint(0) >> 1)
}

// compressMatcher holds compiled allow-list rules for compression.
type compressMatcher struct {
	matcher *pathrules.Matcher
}

// newCompressMatcher compiles compression name rules.
func newCompressMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*compressMatcher, error) {
	rules = normalizeNameRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidCompressPattern, err)
	}

	return &compressMatcher{matcher: matcher}, nil
}

// normalizeNameRules normalizes rule patterns and drops empty patterns.
func normalizeNameRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := normalizeNameForMatching(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

// Match reports whether name is included by at least one compress rule.
func (m *compressMatcher) Match(name string) bool {
	if m == nil || m.matcher == nil {
		return false
	}

	candidate := normalizeNameForMatching(name)
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, false)
}

// shouldCompress returns true if name and size pass compression policy.
func shouldCompress(opts PackOptions, matcher *compressMatcher, name string, size uint64) bool {
	if opts.Version == FormatV1 {
		// Legacy revision stores every payload raw.
		return false
	}

	if !shouldCompressBySize(opts, size) {
		return false
	}

	return matcher.Match(name)
}

// shouldCompressBySize reports whether payload size fits compression boundaries.
func shouldCompressBySize(opts PackOptions, size uint64) bool {
	if size > opts.MaxCompressSize || size < opts.MinCompressSize {
		return false
	}

	return true
}
