package dump

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fixedNow() time.Time {
	return time.UnixMilli(1633046400123).UTC()
}

func TestFormatRevocations(t *testing.T) {
	t.Parallel()

	data := []struct {
		testcase string
		ids      []string
		want     string
	}{
		{"empty", nil, ""},
		{"single", []string{"a"}, "a"},
		{"no trailing newline", []string{"a", "b", "c"}, "a\nb\nc"},
		{"duplicates are kept", []string{"a", "a"}, "a\na"},
		{
			"uvci",
			[]string{"urn:uvci:01:CH:F0FDABC1708A81BB1A843891", "urn:uvci:01:CH:97DAB5E31B589AF3CAE2F53F"},
			"urn:uvci:01:CH:F0FDABC1708A81BB1A843891\nurn:uvci:01:CH:97DAB5E31B589AF3CAE2F53F",
		},
	}

	for _, d := range data {
		d := d
		t.Run(d.testcase, func(t *testing.T) {
			t.Parallel()
			if got := string(FormatRevocations(d.ids)); got != d.want {
				t.Fatalf("Expected %q but got %q", d.want, got)
			}
		})
	}
}

func TestFileWriter_Write(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewFileWriter(dir, "", "", WithNow(fixedNow))

	rec := Record{
		RevokedCerts:  []string{"a", "b", "c"},
		ValidDuration: 200,
		NextSince:     "9",
	}
	meta, err := w.Write(rec)
	if err != nil {
		t.Fatal(err)
	}

	wantMeta := Metadata{ValidDuration: 200, LastDownload: 1633046400123, NextSince: "9"}
	if diff := cmp.Diff(wantMeta, meta); diff != "" {
		t.Error(diff)
	}

	list, err := os.ReadFile(filepath.Join(dir, RevocationsFileDefault))
	if err != nil {
		t.Fatal(err)
	}
	if string(list) != "a\nb\nc" {
		t.Fatalf("Expected list file %q but got %q", "a\nb\nc", string(list))
	}

	raw, err := os.ReadFile(filepath.Join(dir, MetadataFileDefault))
	if err != nil {
		t.Fatal(err)
	}
	wantRaw := `{"validDuration":200,"lastDownload":1633046400123,"nextSince":"9"}`
	if string(raw) != wantRaw {
		t.Fatalf("Expected metadata file %s but got %s", wantRaw, string(raw))
	}

	var decoded Metadata
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantMeta, decoded); diff != "" {
		t.Error(diff)
	}
}

func TestFileWriter_Write_CustomNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewFileWriter(dir, "list.txt", "meta.json", WithNow(fixedNow))

	if w.RevocationsPath() != filepath.Join(dir, "list.txt") {
		t.Fatalf("unexpected revocations path: %s", w.RevocationsPath())
	}
	if w.MetadataPath() != filepath.Join(dir, "meta.json") {
		t.Fatalf("unexpected metadata path: %s", w.MetadataPath())
	}

	if _, err := w.Write(Record{NextSince: "0"}); err != nil {
		t.Fatal(err)
	}

	list, err := os.ReadFile(w.RevocationsPath())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("Expected empty list file but got %q", string(list))
	}
	if _, err := os.Stat(w.MetadataPath()); err != nil {
		t.Fatal(err)
	}
}

func TestFileWriter_Write_MissingDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "notfound")
	w := NewFileWriter(dir, "", "", WithNow(fixedNow))

	_, err := w.Write(Record{RevokedCerts: []string{"a"}})
	if err == nil {
		t.Fatal("Expected error for missing output directory")
	}

	if _, err := os.Stat(w.MetadataPath()); !os.IsNotExist(err) {
		t.Fatalf("Expected no metadata file but got: %v", err)
	}
}
