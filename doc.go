// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

/*
Package mpk provides read, extract, pack, rebuild, and edit operations for
MPK archives produced by the Mages engine. It is designed for streaming
workflows: packing accepts caller-provided streams (Input.Open), and
reading/extracting works without loading full archive payload into memory.

Two format revisions are supported: V1 (32-bit table fields, always raw
payloads) and V2 (64-bit table fields, optional per-entry zlib compression).
Payloads after the entry table are aligned to 2048-byte blocks.

Compression rules (summary, V2 only):
  - name decision must include entry via PackOptions.Compress rules;
  - final entry size must be within [MinCompressSize, MaxCompressSize];
  - known-size inputs use in-memory compression path (bounded by MaxCompressSize);
  - unknown-size inputs are streamed raw;
  - compression is written only when result is smaller than source.

# Reading

Open an archive and list or read entries:

	r, err := mpk.Open("script.mpk")
	if err != nil {
	    return err
	}
	defer r.Close()
	for _, e := range r.Entries() {
	    data, _ := r.ReadEntry(e.Name)
	    // use data
	}

For metadata-only scans, use fast helpers without creating a full reader:

	ver, err := mpk.ReadVersion("script.mpk")
	if err != nil {
	    return err
	}
	entries, err := mpk.ListEntries("script.mpk")
	if err != nil {
	    return err
	}
	_, _ = ver, entries

For filesystem-safe listing names:

	entries, err := mpk.ListEntriesWithOptions("script.mpk", mpk.ReaderOptions{
	    SanitizeNames: true,
	})
	if err != nil {
	    return err
	}
	_ = entries

Some shipped archives carry table records with a zero offset and more
records than real entries. Such ghost records are skipped by default;
keep them when raw table inspection is needed:

	r, err := mpk.OpenWithOptions("chara.mpk", mpk.ReaderOptions{
	    KeepGhostEntries: true,
	})
	if err != nil {
	    return err
	}
	defer r.Close()

# Extracting

Extract all entries to a directory (parallel workers):

	if err := r.Extract(ctx, "out/", mpk.ExtractOptions{MaxWorkers: 4}); err != nil {
	    return err
	}

Name sanitization is enabled by default during extraction.
Disable it explicitly when raw names are required:

	if err := r.Extract(ctx, "out/", mpk.ExtractOptions{
	    MaxWorkers: 4,
	    RawNames:   true,
	}); err != nil {
	    return err
	}

Select a subset of entries by exact name or by rules:

	if err := r.Extract(ctx, "out/", mpk.ExtractOptions{
	    Select: []pathrules.Rule{
	        {Action: pathrules.ActionInclude, Pattern: "*.scx"},
	    },
	    SelectMatcherOptions: pathrules.MatcherOptions{
	        CaseInsensitive: true,
	        DefaultAction:   pathrules.ActionExclude,
	    },
	}); err != nil {
	    return err
	}

# Packing

Pack from stream-oriented inputs (table order follows input order, entry
IDs are assigned positionally). Examples below use
github.com/woozymasta/pathrules for compression filters:

	inputs := []mpk.Input{
	    {Name: "title.png", Open: func() (io.ReadCloser, error) { return os.Open("src/title.png") }},
	}
	res, err := mpk.Pack(ctx, outFile, inputs, mpk.PackOptions{
	    Version: mpk.FormatV2,
	    // Empty rule set means no compression.
	    Compress: []pathrules.Rule{
	        {Action: pathrules.ActionInclude, Pattern: "*.txt"},
	        {Action: pathrules.ActionInclude, Pattern: "*.scx"},
	    },
	    CompressMatcherOptions: pathrules.MatcherOptions{
	        CaseInsensitive: true,
	        DefaultAction:   pathrules.ActionExclude,
	    },
	    OnEntryDone: func(entry mpk.PackEntryProgress) {
	        // progress callback per written entry
	    },
	})
	_ = res.CompressedEntries

To write to a path directly:

	res, err := mpk.PackFile(ctx, "script.mpk", inputs, opts)

# Rebuilding

Replace payloads of named entries while preserving table order, entry IDs,
format revision, and compression state of untouched entries:

	r, err := mpk.Open("script.mpk")
	if err != nil {
	    return err
	}
	defer r.Close()
	data, err := r.Rebuild(ctx, map[string][]byte{
	    "main.scx": patched,
	})

For large archives, stream the rebuild to a writer with parallel
re-encoding of replaced compressed entries:

	res, err := r.RebuildTo(ctx, outFile, replacements, mpk.RebuildOptions{
	    EncodeWorkers: 4,
	})
	_ = res.ReplacedEntries

To edit an existing archive in one transaction with backup/rollback:

	editor, err := mpk.OpenEditor("script.mpk", mpk.EditOptions{
	    BackupKeep: 1,
	})
	if err != nil {
	    return err
	}
	if err := editor.Replace(mpk.Input{
	    Name: "main.scx",
	    Open: func() (io.ReadCloser, error) { return os.Open("patched/main.scx") },
	}); err != nil {
	    return err
	}
	if _, err := editor.Commit(ctx); err != nil {
	    return err
	}

# Verifying

Compare decompressed content of two archives entry-by-entry:

	changed, err := mpk.VerifyRebuild(original, rebuilt)
	if err != nil {
	    return err
	}
	_ = changed // names whose content differs
*/
package mpk
