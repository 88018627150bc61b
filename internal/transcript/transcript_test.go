package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRead_Text(t *testing.T) {
	for _, name := range []string{"meeting.txt", "meeting.MD", "meeting"} {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, name, []byte("Alice: hello\nBob: hi\n"))
			got, err := Read(path)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if got != "Alice: hello\nBob: hi\n" {
				t.Errorf("Read = %q", got)
			}
		})
	}
}

func TestRead_StripsBOM(t *testing.T) {
	path := writeFile(t, "bom.txt", []byte("\xef\xbb\xbfAlice: hi"))
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "Alice: hi" {
		t.Errorf("Read = %q", got)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr string
	}{
		{"unsupported", func(t *testing.T) string { return writeFile(t, "a.docx", []byte("x")) }, "unsupported"},
		{"invalid utf8", func(t *testing.T) string { return writeFile(t, "a.txt", []byte{0xff, 0xfe, 0x00}) }, "UTF-8"},
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.txt") }, "reading transcript"},
		{"broken pdf", func(t *testing.T) string { return writeFile(t, "a.pdf", []byte("not a pdf")) }, "pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(tt.path(t))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummaryPath(t *testing.T) {
	tests := map[string]string{
		"/tmp/meeting.txt":    "/tmp/meeting_summary.md",
		"notes/standup.md":    "notes/standup_summary.md",
		"transcript":          "transcript_summary.md",
		"/data/q3.review.pdf": "/data/q3.review_summary.md",
	}
	for in, want := range tests {
		if got := SummaryPath(in); got != want {
			t.Errorf("SummaryPath(%q) = %q, want %q", in, got, want)
		}
	}
}
