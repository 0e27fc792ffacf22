package mpk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/woozymasta/pathrules"
)

// bytesInput wraps a static payload as pack input with known size.
func bytesInput(name string, data []byte) Input {
	return Input{
		Name:     name,
		SizeHint: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// streamInput wraps a payload as pack input without size hint.
func streamInput(name string, data []byte) Input {
	return Input{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// compressRulesFor builds a single include rule set for tests.
func compressRulesFor(patterns ...string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
	}
	return rules
}

// packToBytes packs inputs into an in-memory archive image.
func packToBytes(t *testing.T, inputs []Input, opts PackOptions) []byte {
	t.Helper()

	buf := &seekableBuffer{}
	if _, err := Pack(context.Background(), buf, inputs, opts); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return buf.Bytes()
}

func TestPack_RoundTripV2(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		bytesInput("first.bin", []byte("alpha payload")),
		bytesInput("second.bin", bytes.Repeat([]byte{0xAB}, 3000)),
		bytesInput("third.bin", []byte("gamma")),
	}

	image := packToBytes(t, inputs, PackOptions{})

	r, err := NewReaderFromBytes(image)
	if err != nil {
		t.Fatalf("parse packed archive: %v", err)
	}

	if r.Format() != FormatV2 {
		t.Fatalf("Format()=%d, want V2 default", r.Format())
	}

	entries := r.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(entries)=%d, want 3", len(entries))
	}
	for i, want := range []string{"first.bin", "second.bin", "third.bin"} {
		if entries[i].Name != want {
			t.Fatalf("entries[%d].Name=%q, want %q", i, entries[i].Name, want)
		}
		if entries[i].ID != uint32(i) {
			t.Fatalf("entries[%d].ID=%d, want positional %d", i, entries[i].ID, i)
		}
		if entries[i].Offset%payloadAlign != 0 {
			t.Fatalf("entries[%d].Offset=%d not block-aligned", i, entries[i].Offset)
		}
	}

	got, err := r.ReadEntry("second.bin")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{0xAB}, 3000)) {
		t.Fatal("second.bin content mismatch")
	}
}

func TestPack_AlignmentLayout(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		bytesInput("a.bin", []byte("12345")),
		bytesInput("b.bin", []byte("678")),
	}

	image := packToBytes(t, inputs, PackOptions{})

	r, err := NewReaderFromBytes(image)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	entries := r.Entries()
	if entries[0].Offset != 2048 {
		t.Fatalf("first payload offset=%d, want 2048", entries[0].Offset)
	}
	if entries[1].Offset != 4096 {
		t.Fatalf("second payload offset=%d, want 4096", entries[1].Offset)
	}

	// Final payload is not padded to a block boundary.
	if int64(len(image)) != 4096+3 {
		t.Fatalf("archive size=%d, want 4099", len(image))
	}
}

func TestPack_CompressionRules(t *testing.T) {
	t.Parallel()

	text := bytes.Repeat([]byte("compressible line of script text\n"), 200)
	blob := buildIncompressible(600)

	inputs := []Input{
		bytesInput("dialogue.txt", text),
		bytesInput("texture.bin", blob),
	}

	var done []PackEntryProgress
	image := packToBytes(t, inputs, PackOptions{
		Compress: compressRulesFor("*.txt"),
		OnEntryDone: func(entry PackEntryProgress) {
			done = append(done, entry)
		},
	})

	r, err := NewReaderFromBytes(image)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	compressed, _ := r.FindByName("dialogue.txt")
	if !compressed.Compressed {
		t.Fatal("dialogue.txt must be stored compressed")
	}
	if compressed.DataSize >= compressed.OriginalSize {
		t.Fatalf("stored size %d not smaller than original %d", compressed.DataSize, compressed.OriginalSize)
	}

	raw, _ := r.FindByName("texture.bin")
	if raw.Compressed {
		t.Fatal("texture.bin must stay raw (rule does not match)")
	}

	got, err := r.ReadEntry("dialogue.txt")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if !bytes.Equal(got, text) {
		t.Fatal("compressed entry content mismatch")
	}

	if len(done) != 2 {
		t.Fatalf("OnEntryDone calls=%d, want 2", len(done))
	}
	if !done[0].Compressed || done[1].Compressed {
		t.Fatalf("progress compressed flags = %v, %v", done[0].Compressed, done[1].Compressed)
	}
}

func TestPack_IncompressibleFallsBackToRaw(t *testing.T) {
	t.Parallel()

	blob := buildIncompressible(4096)
	image := packToBytes(t, []Input{bytesInput("noise.txt", blob)}, PackOptions{
		Compress: compressRulesFor("*.txt"),
	})

	r, err := NewReaderFromBytes(image)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	entry, _ := r.FindByName("noise.txt")
	if entry.Compressed {
		t.Fatal("incompressible payload must fall back to raw storage")
	}
	if entry.DataSize != uint64(len(blob)) {
		t.Fatalf("DataSize=%d, want %d", entry.DataSize, len(blob))
	}
}

func TestPack_StreamInputsStayRaw(t *testing.T) {
	t.Parallel()

	text := bytes.Repeat([]byte("stream without size hint\n"), 100)
	image := packToBytes(t, []Input{streamInput("stream.txt", text)}, PackOptions{
		Compress: compressRulesFor("*.txt"),
	})

	r, err := NewReaderFromBytes(image)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	entry, _ := r.FindByName("stream.txt")
	if entry.Compressed {
		t.Fatal("unknown-size input must stream raw")
	}

	got, err := r.ReadEntry("stream.txt")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if !bytes.Equal(got, text) {
		t.Fatal("streamed content mismatch")
	}
}

func TestPack_V1NeverCompresses(t *testing.T) {
	t.Parallel()

	text := bytes.Repeat([]byte("always raw in legacy revision\n"), 100)
	image := packToBytes(t, []Input{bytesInput("script.txt", text)}, PackOptions{
		Version:  FormatV1,
		Compress: compressRulesFor("*"),
	})

	r, err := NewReaderFromBytes(image)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if r.Format() != FormatV1 {
		t.Fatalf("Format()=%d, want V1", r.Format())
	}

	entry, _ := r.FindByName("script.txt")
	if entry.Compressed {
		t.Fatal("V1 archive must store payloads raw")
	}
	if entry.DataSize != uint64(len(text)) {
		t.Fatalf("DataSize=%d, want %d", entry.DataSize, len(text))
	}
}

func TestPack_EmptyInputs(t *testing.T) {
	t.Parallel()

	_, err := Pack(context.Background(), &seekableBuffer{}, nil, PackOptions{})
	if !errors.Is(err, ErrEmptyInputs) {
		t.Fatalf("expected ErrEmptyInputs, got %v", err)
	}
}

func TestPack_DuplicateNames(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		bytesInput("same.bin", []byte("one")),
		bytesInput("SAME.bin", []byte("two")),
	}

	_, err := Pack(context.Background(), &seekableBuffer{}, inputs, PackOptions{})
	if !errors.Is(err, ErrDuplicateEntryName) {
		t.Fatalf("expected ErrDuplicateEntryName, got %v", err)
	}
}

func TestPack_InvalidNames(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":     "",
		"separator": "dir/file.bin",
		"backslash": `dir\file.bin`,
		"blank":     "   ",
	}

	for label, name := range cases {
		t.Run(label, func(t *testing.T) {
			t.Parallel()

			_, err := Pack(context.Background(), &seekableBuffer{}, []Input{bytesInput(name, []byte("x"))}, PackOptions{})
			if !errors.Is(err, ErrInvalidEntryName) {
				t.Fatalf("expected ErrInvalidEntryName for %q, got %v", name, err)
			}
		})
	}
}

func TestPack_NameTooLong(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("n", maxNameLen+1)
	_, err := Pack(context.Background(), &seekableBuffer{}, []Input{bytesInput(long, []byte("x"))}, PackOptions{})
	if !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestPack_ZeroLengthPayloadTakesFullBlock(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		bytesInput("empty.bin", nil),
		bytesInput("next.bin", []byte("after")),
	}

	image := packToBytes(t, inputs, PackOptions{})

	r, err := NewReaderFromBytes(image)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	entries := r.Entries()
	if entries[0].DataSize != 0 {
		t.Fatalf("empty entry DataSize=%d", entries[0].DataSize)
	}
	if entries[1].Offset != entries[0].Offset+payloadAlign {
		t.Fatalf("zero-size payload must occupy one full block: offsets %d, %d", entries[0].Offset, entries[1].Offset)
	}
}

func TestPack_NilContextAndCancel(t *testing.T) {
	t.Parallel()

	inputs := []Input{bytesInput("a.bin", []byte("payload"))}

	//nolint:staticcheck // nil context must be tolerated
	if _, err := Pack(nil, &seekableBuffer{}, inputs, PackOptions{}); err != nil {
		t.Fatalf("Pack with nil context: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Pack(ctx, &seekableBuffer{}, inputs, PackOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPackFile_WritesReadableArchive(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/out.mpk"
	res, err := PackFile(context.Background(), path, []Input{
		bytesInput("payload.bin", []byte("on disk")),
	}, PackOptions{})
	if err != nil {
		t.Fatalf("PackFile: %v", err)
	}
	if res.WrittenEntries != 1 {
		t.Fatalf("WrittenEntries=%d, want 1", res.WrittenEntries)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	got, err := r.ReadEntry("payload.bin")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if !bytes.Equal(got, []byte("on disk")) {
		t.Fatalf("content=%q", got)
	}
}

func TestPack_ResultStatistics(t *testing.T) {
	t.Parallel()

	text := bytes.Repeat([]byte("statistics payload\n"), 200)
	blob := []byte("tiny raw")

	buf := &seekableBuffer{}
	res, err := Pack(context.Background(), buf, []Input{
		bytesInput("text.txt", text),
		bytesInput("blob.bin", blob),
	}, PackOptions{Compress: compressRulesFor("*.txt")})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	if res.WrittenEntries != 2 {
		t.Fatalf("WrittenEntries=%d, want 2", res.WrittenEntries)
	}
	if res.CompressedEntries != 1 {
		t.Fatalf("CompressedEntries=%d, want 1", res.CompressedEntries)
	}
	if res.TableSize != 2*entryRecordSize {
		t.Fatalf("TableSize=%d, want %d", res.TableSize, 2*entryRecordSize)
	}
	if res.RawBytes != int64(len(blob)) {
		t.Fatalf("RawBytes=%d, want %d", res.RawBytes, len(blob))
	}
	if res.DataSize != res.RawBytes+res.CompressedBytes {
		t.Fatalf("DataSize=%d, want raw+compressed=%d", res.DataSize, res.RawBytes+res.CompressedBytes)
	}
}
