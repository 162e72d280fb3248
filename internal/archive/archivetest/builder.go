// Package archivetest builds zip fixtures for tests that exercise the archive pipeline.
package archivetest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

// Entry is one file to place in a fixture archive.
type Entry struct {
	Name     string
	Modified time.Time
	Data     []byte
}

// Write creates a zip archive named name inside dir and returns its path.
func Write(t testing.TB, dir, name string, entries []Entry) string {
	t.Helper()

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	defer file.Close()

	writer := zip.NewWriter(file)
	for _, entry := range entries {
		modified := entry.Modified
		if modified.IsZero() {
			modified = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		target, err := writer.CreateHeader(&zip.FileHeader{
			Name:     entry.Name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			t.Fatalf("failed to add %s: %v", entry.Name, err)
		}
		if _, err := target.Write(entry.Data); err != nil {
			t.Fatalf("failed to write %s: %v", entry.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to finish archive: %v", err)
	}
	return path
}

// Minute returns a fixed timestamp offset by the given number of minutes,
// convenient for ordering entries.
func Minute(offset int) time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Minute)
}
