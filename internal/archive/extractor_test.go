package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/KumiProject/chartsets/internal/archive/archivetest"
	"github.com/KumiProject/chartsets/internal/chartfile"
	"github.com/KumiProject/chartsets/internal/status"
)

func TestExtractOrdersDocumentsByModificationTime(t *testing.T) {
	dir := t.TempDir()
	path := archivetest.Write(t, dir, "set.zip", []archivetest.Entry{
		{Name: "hard.kch", Modified: archivetest.Minute(3), Data: []byte(archivetest.Chart{Difficulty: "Hard"}.Text())},
		{Name: "easy.kch", Modified: archivetest.Minute(1), Data: []byte(archivetest.Chart{Difficulty: "Easy"}.Text())},
		{Name: "normal.kch", Modified: archivetest.Minute(2), Data: []byte(archivetest.Chart{Difficulty: "Normal"}.Text())},
		{Name: "audio.mp3", Modified: archivetest.Minute(0), Data: []byte("ID3-music")},
		{Name: "bg.png", Modified: archivetest.Minute(0), Data: []byte("png-bytes")},
		{Name: "readme.txt", Modified: archivetest.Minute(0), Data: []byte("not a chart")},
	})

	documents, err := NewExtractor(ExtractorConfig{}).Extract(context.Background(), path, status.Pending)
	if err != nil {
		t.Fatalf("unexpected extract error: %v", err)
	}

	if len(documents) != 3 {
		t.Fatalf("expected 3 chart documents, got %d", len(documents))
	}
	expectedOrder := []string{"Easy", "Normal", "Hard"}
	for index, difficulty := range expectedOrder {
		if documents[index].Header.DifficultyName != difficulty {
			t.Fatalf("expected document %d to be %s, got %s", index, difficulty, documents[index].Header.DifficultyName)
		}
	}

	basis := documents[0]
	if basis.EntryName != "easy.kch" {
		t.Fatalf("expected oldest entry as basis, got %s", basis.EntryName)
	}
	if basis.Status != status.Pending {
		t.Fatalf("expected caller status to be attached, got %s", basis.Status)
	}
	if !bytes.Equal(basis.Music, []byte("ID3-music")) || !bytes.Equal(basis.Background, []byte("png-bytes")) {
		t.Fatalf("expected music and background bytes to be resolved")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected archive scratch file to be removed, stat err: %v", err)
	}
}

func TestExtractRejectsArchivesWithoutCharts(t *testing.T) {
	dir := t.TempDir()
	path := archivetest.Write(t, dir, "empty.zip", []archivetest.Entry{
		{Name: "audio.mp3", Data: []byte("music")},
	})

	_, err := NewExtractor(ExtractorConfig{}).Extract(context.Background(), path, status.Pending)
	if !errors.Is(err, ErrNoChartsFound) {
		t.Fatalf("expected ErrNoChartsFound, got %v", err)
	}
}

func TestExtractRejectsNonArchives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.zip")
	if err := os.WriteFile(path, []byte("definitely not a zip"), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	_, err := NewExtractor(ExtractorConfig{}).Extract(context.Background(), path, status.Pending)
	if !errors.Is(err, ErrMalformedArchive) {
		t.Fatalf("expected ErrMalformedArchive, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected scratch file to be removed on failure")
	}
}

func TestExtractAbortsOnMalformedChart(t *testing.T) {
	dir := t.TempDir()
	broken := chartfile.MagicHeader + "\n[#CHART\nMUSIC_FILE = audio.mp3\n"
	path := archivetest.Write(t, dir, "broken.zip", []archivetest.Entry{
		{Name: "good.kch", Modified: archivetest.Minute(1), Data: []byte(archivetest.Chart{}.Text())},
		{Name: "broken.kch", Modified: archivetest.Minute(2), Data: []byte(broken)},
		{Name: "audio.mp3", Data: []byte("music")},
		{Name: "bg.png", Data: []byte("bg")},
	})

	documents, err := NewExtractor(ExtractorConfig{}).Extract(context.Background(), path, status.Pending)
	if !errors.Is(err, chartfile.ErrMalformedChart) {
		t.Fatalf("expected ErrMalformedChart, got %v", err)
	}
	if documents != nil {
		t.Fatalf("expected no partial result")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected scratch file to be removed on failure")
	}
}

func TestExtractRequiresReferencedMusic(t *testing.T) {
	dir := t.TempDir()
	path := archivetest.Write(t, dir, "nomusic.zip", []archivetest.Entry{
		{Name: "chart.kch", Data: []byte(archivetest.Chart{MusicFile: "missing.ogg"}.Text())},
		{Name: "bg.png", Data: []byte("bg")},
	})

	_, err := NewExtractor(ExtractorConfig{}).Extract(context.Background(), path, status.Pending)
	if !errors.Is(err, ErrMalformedArchive) {
		t.Fatalf("expected ErrMalformedArchive for missing music, got %v", err)
	}
}

func TestSaveUploadEnforcesLimit(t *testing.T) {
	dir := t.TempDir()

	path, err := SaveUpload(bytes.NewReader([]byte("small")), dir, 16)
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	stored, err := os.ReadFile(path)
	if err != nil || string(stored) != "small" {
		t.Fatalf("expected upload to be copied, got %q (%v)", stored, err)
	}

	_, err = SaveUpload(bytes.NewReader(bytes.Repeat([]byte("x"), 32)), dir, 16)
	if !errors.Is(err, ErrArchiveTooLarge) {
		t.Fatalf("expected ErrArchiveTooLarge, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to list scratch dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected oversized upload to be discarded, found %d files", len(entries))
	}
}
