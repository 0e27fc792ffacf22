// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"crypto/sha1" //nolint:gosec // Digest format uses SHA1 for file identity.
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// EntrySum is a content fingerprint of one archive entry.
type EntrySum struct {
	// Name is the entry name as stored in the table.
	Name string `json:"name" yaml:"name"`
	// ID is the stored numeric entry identifier.
	ID uint32 `json:"id" yaml:"id"`
	// Size is decompressed payload size in bytes.
	Size uint64 `json:"size" yaml:"size"`
	// XXH64 is the xxhash64 sum of decompressed entry content.
	XXH64 uint64 `json:"xxh64" yaml:"xxh64"`
}

// ArchiveDigest fingerprints one archive: raw file bytes plus per-entry content.
// Entry sums are computed over decompressed payloads, so a digest survives
// rebuilds that re-encode payloads with a different compressor.
type ArchiveDigest struct {
	// Entries holds per-entry content sums in table order.
	Entries []EntrySum `json:"entries" yaml:"entries"`
	// SHA1 is the digest of raw archive bytes.
	SHA1 [20]byte `json:"sha1" yaml:"sha1"`
}

// ComputeDigest calculates the archive digest from a parsed reader.
func ComputeDigest(r *Reader) (*ArchiveDigest, error) {
	if r == nil || r.ra == nil {
		return nil, ErrNilReader
	}

	if r.isClosed() {
		return nil, ErrClosed
	}

	digest := &ArchiveDigest{
		Entries: make([]EntrySum, 0, len(r.entries)),
	}

	h := sha1.New() //nolint:gosec // Digest format uses SHA1 for file identity.
	if _, err := io.Copy(h, io.NewSectionReader(r.ra, 0, r.size)); err != nil {
		return nil, fmt.Errorf("hash archive bytes: %w", err)
	}
	copy(digest.SHA1[:], h.Sum(nil))

	for i := range r.entries {
		sum, err := r.computeEntrySum(r.entries[i])
		if err != nil {
			return nil, err
		}

		digest.Entries = append(digest.Entries, sum)
	}

	return digest, nil
}

// computeEntrySum hashes decompressed content of one entry.
func (r *Reader) computeEntrySum(entry EntryInfo) (EntrySum, error) {
	rc, err := r.OpenEntryInfo(entry)
	if err != nil {
		return EntrySum{}, err
	}
	defer func() { _ = rc.Close() }()

	h := xxhash.New()
	written, err := io.Copy(h, rc)
	if err != nil {
		return EntrySum{}, fmt.Errorf("hash entry %s: %w", entry.Name, err)
	}

	return EntrySum{
		Name:  entry.Name,
		ID:    entry.ID,
		Size:  uint64(written),
		XXH64: h.Sum64(),
	}, nil
}

// VerifyRebuild compares decompressed entry content of two archives and
// returns the names whose content differs (or exists on only one side).
// A nil slice means both archives carry identical entry content in the
// same table order.
func VerifyRebuild(original *Reader, rebuilt *Reader) ([]string, error) {
	origDigest, err := ComputeDigest(original)
	if err != nil {
		return nil, fmt.Errorf("digest original: %w", err)
	}

	newDigest, err := ComputeDigest(rebuilt)
	if err != nil {
		return nil, fmt.Errorf("digest rebuilt: %w", err)
	}

	var changed []string
	bySide := make(map[string]EntrySum, len(newDigest.Entries))
	for _, sum := range newDigest.Entries {
		bySide[sum.Name] = sum
	}

	for _, sum := range origDigest.Entries {
		other, ok := bySide[sum.Name]
		if !ok {
			changed = append(changed, sum.Name)
			continue
		}

		delete(bySide, sum.Name)
		if other.Size != sum.Size || other.XXH64 != sum.XXH64 {
			changed = append(changed, sum.Name)
		}
	}

	for name := range bySide {
		changed = append(changed, name)
	}

	return changed, nil
}
