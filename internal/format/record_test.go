package format

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRecordRoundTrip(t *testing.T) {
	b := make([]byte, RecordSize)
	want := Record{
		PID:          7,
		State:        1,
		StackBase:    0x00200000,
		StackPointer: 0x00200FFC,
		Entry:        0x00100040,
		Name:         "idle",
	}
	if err := PutRecord(b, want); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	got, err := ReadRecord(b)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if got != want {
		t.Fatalf("record mismatch: got %+v want %+v", got, want)
	}
}

func TestRecordNameTruncated(t *testing.T) {
	b := make([]byte, RecordSize)
	long := strings.Repeat("x", 40)
	if err := PutRecord(b, Record{Name: long}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	got, err := ReadRecord(b)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if len(got.Name) != NameCapacity-1 {
		t.Fatalf("expected %d byte name, got %d", NameCapacity-1, len(got.Name))
	}
	if b[RecordNameOffset+NameCapacity-1] != 0 {
		t.Fatalf("name must stay NUL terminated")
	}
}

func TestTruncateNameRuneBoundary(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		// "é" occupies bytes 30-31; the cut at 31 would split it.
		{"two-byte straddle", strings.Repeat("a", 30) + "é", strings.Repeat("a", 30)},
		// "日" occupies bytes 29-31.
		{"three-byte straddle", strings.Repeat("a", 29) + "日本", strings.Repeat("a", 29)},
		{"rune ends at cut", strings.Repeat("a", 29) + "é" + "b", strings.Repeat("a", 29) + "é"},
		{"short multibyte", "日本語", "日本語"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TruncateName(tc.in)
			if got != tc.want {
				t.Fatalf("TruncateName(%q) = %q, want %q", tc.in, got, tc.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("TruncateName(%q) = %q is not valid UTF-8", tc.in, got)
			}
			if len(got) > NameCapacity-1 {
				t.Fatalf("len = %d, want <= %d", len(got), NameCapacity-1)
			}

			b := make([]byte, RecordSize)
			if err := PutRecord(b, Record{Name: tc.in}); err != nil {
				t.Fatalf("PutRecord: %v", err)
			}
			r, err := ReadRecord(b)
			if err != nil {
				t.Fatalf("ReadRecord: %v", err)
			}
			if r.Name != tc.want {
				t.Fatalf("stored name = %q, want %q", r.Name, tc.want)
			}
		})
	}
}

func TestRecordShortBuffer(t *testing.T) {
	if err := PutRecord(make([]byte, 8), Record{}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected truncated, got %v", err)
	}
	if _, err := ReadRecord(make([]byte, 8)); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected truncated, got %v", err)
	}
}
