package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), indexFile)
	in := map[int64]int64{
		42:   1767225600,
		-7:   0,
		1001: 1767225700,
	}
	if err := writeIndex(path, in); err != nil {
		t.Fatalf("writeIndex() error: %v", err)
	}

	out, bad, err := readIndex(path)
	if err != nil {
		t.Fatalf("readIndex() error: %v", err)
	}
	if len(bad) != 0 {
		t.Fatalf("readIndex() reported corrupt lines: %v", bad)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d entries, want %d", len(out), len(in))
	}
	for id, marker := range in {
		if out[id] != marker {
			t.Errorf("marker[%d] = %d, want %d", id, out[id], marker)
		}
	}
}

func TestIndexWriteIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	markers := map[int64]int64{3: 30, 1: 10, 2: 0}

	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	if err := writeIndex(a, markers); err != nil {
		t.Fatal(err)
	}
	if err := writeIndex(b, markers); err != nil {
		t.Fatal(err)
	}

	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	if string(da) != string(db) {
		t.Errorf("two writes of the same table differ:\n%q\n%q", da, db)
	}
	if string(da) != "1 10\n2 0\n3 30\n" {
		t.Errorf("unexpected snapshot content %q", da)
	}
}

func TestReadIndexMissingFile(t *testing.T) {
	markers, bad, err := readIndex(filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(bad) != 0 || len(markers) != 0 {
		t.Errorf("readIndex(missing) = %v, %v, %v; want empty, no errors", markers, bad, err)
	}
}

func TestParseIndexLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		id      int64
		marker  int64
		corrupt bool
	}{
		{name: "unconfirmed", line: "42 0", id: 42, marker: 0},
		{name: "confirmed", line: "42 1767225600", id: 42, marker: 1767225600},
		{name: "negative id", line: "-100123 0", id: -100123, marker: 0},
		{name: "extra field", line: "42 0 junk", corrupt: true},
		{name: "missing marker", line: "42", corrupt: true},
		{name: "non-numeric id", line: "abc 0", corrupt: true},
		{name: "non-numeric marker", line: "42 soon", corrupt: true},
		{name: "negative marker", line: "42 -5", corrupt: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, marker, err := parseIndexLine(tt.line)
			if tt.corrupt {
				if !errors.Is(err, ErrCorruptState) {
					t.Fatalf("parseIndexLine(%q) error = %v, want ErrCorruptState", tt.line, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseIndexLine(%q) error: %v", tt.line, err)
			}
			if id != tt.id || marker != tt.marker {
				t.Errorf("parseIndexLine(%q) = (%d, %d), want (%d, %d)", tt.line, id, marker, tt.id, tt.marker)
			}
		})
	}
}

func TestWriteIndexLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, indexFile)
	if err := writeIndex(path, map[int64]int64{1: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after successful rename")
	}
}
