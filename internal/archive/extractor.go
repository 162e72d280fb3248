package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/KumiProject/chartsets/internal/chartfile"
	"github.com/KumiProject/chartsets/internal/status"
	"go.uber.org/zap"
)

// Opener opens an archive stored on disk.
type Opener func(path string) (Reader, error)

// Document is a parsed chart enriched with the archive context it came from.
type Document struct {
	chartfile.ChartDocument
	EntryName  string
	Status     status.Status
	Music      []byte
	Background []byte
}

// ExtractorConfig wires the archive opener and logger.
type ExtractorConfig struct {
	Open   Opener
	Logger *zap.Logger
}

// Extractor turns an uploaded archive into ordered chart documents.
type Extractor struct {
	open   Opener
	logger *zap.Logger
}

// NewExtractor builds an Extractor that reads zip archives unless another opener is supplied.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	open := cfg.Open
	if open == nil {
		open = func(path string) (Reader, error) {
			return OpenZip(path)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{open: open, logger: logger}
}

// Extract reads every chart entry of the archive at archivePath. Entries are
// visited oldest first so the first returned document is the basis of the set.
// The archive file is removed before Extract returns, whatever the outcome.
func (e *Extractor) Extract(ctx context.Context, archivePath string, submissionStatus status.Status) ([]Document, error) {
	defer e.removeScratch(archivePath)

	reader, err := e.open(archivePath)
	if err != nil {
		if errors.Is(err, ErrMalformedArchive) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	defer reader.Close()

	entries := slices.Clone(reader.Entries())
	slices.SortStableFunc(entries, func(left, right Entry) int {
		if order := left.Modified.Compare(right.Modified); order != 0 {
			return order
		}
		return strings.Compare(left.Name, right.Name)
	})

	documents := make([]Document, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := reader.ReadEntry(entry.Name)
		if err != nil {
			return nil, wrapReadError(entry.Name, err)
		}
		if !chartfile.HasMagicHeader(data) {
			continue
		}

		e.logger.Debug("parsing chart file",
			zap.String("entry", entry.Name),
			zap.Uint64("size", entry.Size),
			zap.Time("modified", entry.Modified))

		parsed, err := chartfile.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name, err)
		}

		document := Document{
			ChartDocument: parsed,
			EntryName:     entry.Name,
			Status:        submissionStatus,
		}
		document.Music, err = reader.ReadEntry(parsed.Header.MusicFile)
		if err != nil {
			return nil, wrapReadError(parsed.Header.MusicFile, err)
		}
		if parsed.BackgroundFile != "" {
			document.Background, err = reader.ReadEntry(parsed.BackgroundFile)
			if err != nil {
				return nil, wrapReadError(parsed.BackgroundFile, err)
			}
		}
		documents = append(documents, document)
	}

	if len(documents) == 0 {
		return nil, ErrNoChartsFound
	}
	return documents, nil
}

func wrapReadError(name string, err error) error {
	if errors.Is(err, ErrArchiveTooLarge) {
		return err
	}
	return fmt.Errorf("%w: read %s: %v", ErrMalformedArchive, name, err)
}

func (e *Extractor) removeScratch(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("failed to remove archive scratch file", zap.String("path", path), zap.Error(err))
	}
}

// SaveUpload copies an uploaded archive into a scratch file under dir and
// returns its path. Uploads above maxBytes are rejected and nothing is kept.
func SaveUpload(source io.Reader, dir string, maxBytes int64) (string, error) {
	scratch, err := os.CreateTemp(dir, "chartset-*.zip")
	if err != nil {
		return "", err
	}
	path := scratch.Name()

	limited := source
	if maxBytes > 0 {
		limited = io.LimitReader(source, maxBytes+1)
	}
	written, copyErr := io.Copy(scratch, limited)
	closeErr := scratch.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return "", copyErr
	case closeErr != nil:
		_ = os.Remove(path)
		return "", closeErr
	case maxBytes > 0 && written > maxBytes:
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: exceeds %d bytes", ErrArchiveTooLarge, maxBytes)
	}
	return path, nil
}
