package mpk

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// createEditableArchive writes a two-entry V2 archive into a temp dir.
func createEditableArchive(t *testing.T) string {
	t.Helper()

	compressedRaw := bytes.Repeat([]byte("compressed scene text "), 200)
	image := buildArchiveBytes(t, Version{Major: 2}, []fixtureEntry{
		{name: "plain.bin", id: 0, data: []byte("plain payload"), origSize: 13},
		{name: "scene.scx", id: 1, data: compressFixture(t, compressedRaw), origSize: uint64(len(compressedRaw)), indicator: 1},
	})
	return writeArchiveFile(t, image)
}

func TestEditor_AddReplaceDeleteCommit(t *testing.T) {
	t.Parallel()

	path := createEditableArchive(t)

	editor, err := OpenEditor(path, EditOptions{})
	if err != nil {
		t.Fatalf("OpenEditor: %v", err)
	}

	if err := editor.Add(bytesInput("extra.bin", []byte("added entry"))); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := editor.Replace(bytesInput("plain.bin", []byte("replaced payload"))); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := editor.Delete("scene.scx"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	res, err := editor.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.WrittenEntries != 2 {
		t.Fatalf("WrittenEntries=%d, want 2", res.WrittenEntries)
	}
	if res.ReplacedEntries != 1 {
		t.Fatalf("ReplacedEntries=%d, want 1 (plain.bin)", res.ReplacedEntries)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open after commit: %v", err)
	}
	defer func() { _ = r.Close() }()

	if _, ok := r.FindByName("scene.scx"); ok {
		t.Fatal("deleted entry still present")
	}

	got, err := r.ReadEntry("plain.bin")
	if err != nil {
		t.Fatalf("ReadEntry plain.bin: %v", err)
	}
	if !bytes.Equal(got, []byte("replaced payload")) {
		t.Fatalf("plain.bin=%q", got)
	}

	added, ok := r.FindByName("extra.bin")
	if !ok {
		t.Fatal("added entry missing")
	}
	// Added entries get IDs after the current maximum.
	if added.ID != 2 {
		t.Fatalf("added entry ID=%d, want 2", added.ID)
	}

	// BackupKeep default removes the backup after success.
	if _, err := os.Stat(path + ".bak"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("backup must be removed with BackupKeep=0, stat err=%v", err)
	}
}

func TestEditor_ReplaceCompressedEntryStaysCompressed(t *testing.T) {
	t.Parallel()

	path := createEditableArchive(t)

	editor, err := OpenEditor(path, EditOptions{})
	if err != nil {
		t.Fatalf("OpenEditor: %v", err)
	}

	replacement := bytes.Repeat([]byte("fresh scene text with new lines "), 300)
	if err := editor.Replace(bytesInput("scene.scx", replacement)); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	res, err := editor.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.ReplacedEntries != 1 {
		t.Fatalf("ReplacedEntries=%d, want 1", res.ReplacedEntries)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open after commit: %v", err)
	}
	defer func() { _ = r.Close() }()

	entry, ok := r.FindByName("scene.scx")
	if !ok {
		t.Fatal("scene.scx missing after replace")
	}
	if !entry.Compressed {
		t.Fatal("replacing a compressed entry must keep compressed storage")
	}

	got, err := r.ReadEntry("scene.scx")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if !bytes.Equal(got, replacement) {
		t.Fatal("replaced content mismatch")
	}
}

func TestEditor_AddExistingNameFails(t *testing.T) {
	t.Parallel()

	path := createEditableArchive(t)

	editor, err := OpenEditor(path, EditOptions{})
	if err != nil {
		t.Fatalf("OpenEditor: %v", err)
	}
	if err := editor.Add(bytesInput("plain.bin", []byte("dup"))); err != nil {
		t.Fatalf("Add staging: %v", err)
	}

	_, err = editor.Commit(context.Background())
	if !errors.Is(err, ErrDuplicateEntryName) {
		t.Fatalf("expected ErrDuplicateEntryName, got %v", err)
	}

	// Failed commit must leave the original archive in place.
	r, openErr := Open(path)
	if openErr != nil {
		t.Fatalf("Open after failed commit: %v", openErr)
	}
	defer func() { _ = r.Close() }()

	got, readErr := r.ReadEntry("plain.bin")
	if readErr != nil {
		t.Fatalf("ReadEntry: %v", readErr)
	}
	if !bytes.Equal(got, []byte("plain payload")) {
		t.Fatal("original archive content changed after failed commit")
	}
}

func TestEditor_ReplaceUnknownNameFails(t *testing.T) {
	t.Parallel()

	path := createEditableArchive(t)

	editor, err := OpenEditor(path, EditOptions{})
	if err != nil {
		t.Fatalf("OpenEditor: %v", err)
	}
	if err := editor.Replace(bytesInput("missing.bin", []byte("x"))); err != nil {
		t.Fatalf("Replace staging: %v", err)
	}

	if _, err := editor.Commit(context.Background()); !errors.Is(err, ErrUnknownEntry) {
		t.Fatalf("expected ErrUnknownEntry, got %v", err)
	}
}

func TestEditor_DeleteMissingNameIsNoop(t *testing.T) {
	t.Parallel()

	path := createEditableArchive(t)

	editor, err := OpenEditor(path, EditOptions{})
	if err != nil {
		t.Fatalf("OpenEditor: %v", err)
	}
	if err := editor.Delete("not-there.bin"); err != nil {
		t.Fatalf("Delete staging: %v", err)
	}

	res, err := editor.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.WrittenEntries != 2 {
		t.Fatalf("WrittenEntries=%d, want 2", res.WrittenEntries)
	}
}

func TestEditor_BackupRotation(t *testing.T) {
	t.Parallel()

	path := createEditableArchive(t)
	backup := path + ".bak"

	for i := 0; i < 3; i++ {
		editor, err := OpenEditor(path, EditOptions{BackupKeep: 2})
		if err != nil {
			t.Fatalf("OpenEditor: %v", err)
		}
		if err := editor.Replace(bytesInput("plain.bin", []byte{byte('0' + i)})); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		if _, err := editor.Commit(context.Background()); err != nil {
			t.Fatalf("Commit #%d: %v", i, err)
		}
	}

	if _, err := os.Stat(backup); err != nil {
		t.Fatalf("newest backup missing: %v", err)
	}
	if _, err := os.Stat(backup + ".1"); err != nil {
		t.Fatalf("rotated backup missing: %v", err)
	}
	if _, err := os.Stat(backup + ".2"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("backup beyond keep limit must not exist, stat err=%v", err)
	}

	// Newest backup holds the previous generation content.
	rb, err := Open(backup)
	if err != nil {
		t.Fatalf("Open backup: %v", err)
	}
	defer func() { _ = rb.Close() }()

	got, err := rb.ReadEntry("plain.bin")
	if err != nil {
		t.Fatalf("ReadEntry backup: %v", err)
	}
	if !bytes.Equal(got, []byte("1")) {
		t.Fatalf("backup plain.bin=%q, want %q", got, "1")
	}
}

func TestEditor_CommitMissingArchiveFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.mpk")
	editor, err := OpenEditor(path, EditOptions{})
	if err != nil {
		t.Fatalf("OpenEditor: %v", err)
	}

	if _, err := editor.Commit(context.Background()); err == nil {
		t.Fatal("commit of missing archive must fail")
	}
}

func TestOpenEditor_EmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenEditor("   ", EditOptions{}); err == nil {
		t.Fatal("empty path must be rejected")
	}
}
