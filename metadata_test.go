package mpk

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadVersion(t *testing.T) {
	t.Parallel()

	image := buildArchiveBytes(t, Version{Major: 2, Minor: 7}, []fixtureEntry{
		{name: "a.bin", data: []byte("data"), origSize: 4},
	})
	path := writeArchiveFile(t, image)

	version, err := ReadVersion(path)
	if err != nil {
		t.Fatalf("ReadVersion: %v", err)
	}
	if version.Major != 2 || version.Minor != 7 {
		t.Fatalf("version=%d.%d, want 2.7", version.Major, version.Minor)
	}
	if version.Format() != FormatV2 {
		t.Fatalf("Format()=%d, want V2", version.Format())
	}
}

func TestReadVersion_InvalidFile(t *testing.T) {
	t.Parallel()

	path := writeArchiveFile(t, []byte("junk"))
	if _, err := ReadVersion(path); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("expected ErrTruncatedHeader, got %v", err)
	}
}

func TestListEntries(t *testing.T) {
	t.Parallel()

	image := buildArchiveBytes(t, Version{Major: 2}, []fixtureEntry{
		{name: "one.bin", id: 0, data: []byte("11"), origSize: 2},
		{name: "two.bin", id: 1, data: []byte("2222"), origSize: 4},
	})
	path := writeArchiveFile(t, image)

	entries, err := ListEntries(path)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries)=%d, want 2", len(entries))
	}
	if entries[0].Name != "one.bin" || entries[1].Name != "two.bin" {
		t.Fatalf("entries=%v", entries)
	}
	if entries[1].OriginalSize != 4 {
		t.Fatalf("entries[1].OriginalSize=%d, want 4", entries[1].OriginalSize)
	}
}

func TestListEntriesWithOptions_Sanitized(t *testing.T) {
	t.Parallel()

	image := buildArchiveBytes(t, Version{Major: 2}, []fixtureEntry{
		{name: "weird|name.bin", data: []byte("data"), origSize: 4},
	})
	path := writeArchiveFile(t, image)

	entries, err := ListEntriesWithOptions(path, ReaderOptions{SanitizeNames: true})
	if err != nil {
		t.Fatalf("ListEntriesWithOptions: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "weird_name.bin" {
		t.Fatalf("entries=%v, want weird_name.bin", entries)
	}
}

func TestListEntriesFromReaderAt(t *testing.T) {
	t.Parallel()

	image := buildArchiveBytes(t, Version{Major: 1}, []fixtureEntry{
		{name: "legacy.dat", id: 9, data: []byte("legacy"), origSize: 6},
	})

	entries, err := ListEntriesFromReaderAt(bytes.NewReader(image), int64(len(image)), ReaderOptions{})
	if err != nil {
		t.Fatalf("ListEntriesFromReaderAt: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != 9 {
		t.Fatalf("entries=%v", entries)
	}
}

func TestListEntries_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := ListEntries(t.TempDir() + "/absent.mpk"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
