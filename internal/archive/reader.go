package archive

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
)

const defaultMaxEntryBytes int64 = 256 << 20

var (
	// ErrMalformedArchive indicates the upload is not a readable archive or lacks a referenced entry.
	ErrMalformedArchive = errors.New("archive: malformed archive")
	// ErrNoChartsFound indicates that no entry carried the chart file header.
	ErrNoChartsFound = errors.New("archive: no charts found")
	// ErrArchiveTooLarge indicates the upload exceeded the configured size limit.
	ErrArchiveTooLarge = errors.New("archive: archive too large")
	// ErrEntryNotFound indicates a named entry is not present in the archive.
	ErrEntryNotFound = errors.New("archive: entry not found")
)

// Entry describes one file inside an archive.
type Entry struct {
	Name     string
	Modified time.Time
	Size     uint64
}

// Reader is the read-only view of an uploaded archive.
type Reader interface {
	Entries() []Entry
	ReadEntry(name string) ([]byte, error)
	Close() error
}

// ZipReader reads zip archives from disk.
type ZipReader struct {
	archive       *zip.ReadCloser
	files         map[string]*zip.File
	entries       []Entry
	maxEntryBytes int64
}

// OpenZip opens the zip archive at path. Directory entries are not listed.
func OpenZip(path string) (*ZipReader, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}

	reader := &ZipReader{
		archive:       archive,
		files:         make(map[string]*zip.File, len(archive.File)),
		entries:       make([]Entry, 0, len(archive.File)),
		maxEntryBytes: defaultMaxEntryBytes,
	}
	for _, file := range archive.File {
		if file.FileInfo().IsDir() {
			continue
		}
		if _, duplicate := reader.files[file.Name]; duplicate {
			continue
		}
		reader.files[file.Name] = file
		reader.entries = append(reader.entries, Entry{
			Name:     file.Name,
			Modified: file.Modified,
			Size:     file.UncompressedSize64,
		})
	}
	return reader, nil
}

// Entries lists the files in archive order.
func (r *ZipReader) Entries() []Entry {
	return r.entries
}

// ReadEntry returns the uncompressed content of the named entry.
func (r *ZipReader) ReadEntry(name string) ([]byte, error) {
	file, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	if int64(file.UncompressedSize64) > r.maxEntryBytes {
		return nil, fmt.Errorf("%w: entry %s exceeds %d bytes", ErrArchiveTooLarge, name, r.maxEntryBytes)
	}

	content, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer content.Close()

	data, err := io.ReadAll(io.LimitReader(content, r.maxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > r.maxEntryBytes {
		return nil, fmt.Errorf("%w: entry %s exceeds %d bytes", ErrArchiveTooLarge, name, r.maxEntryBytes)
	}
	return data, nil
}

// Close releases the underlying file.
func (r *ZipReader) Close() error {
	return r.archive.Close()
}
