// Package assets stores chart files, audio, backgrounds and previews and derives chart statistics.
package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KumiProject/chartsets/internal/blob"
	"github.com/KumiProject/chartsets/internal/chartfile"
	"github.com/KumiProject/chartsets/internal/media"
	"go.uber.org/zap"
)

const (
	previewLength          = 10 * time.Second
	previewFallbackPercent = 40
)

var errMissingDependency = errors.New("assets: store, prober and transcoder are required")

// ChartKey is the blob key of a chart file.
func ChartKey(setID, chartID int64) string {
	return fmt.Sprintf("sets/%d/%d.kch", setID, chartID)
}

// AssetKey is the blob key of a set asset such as the music or background file.
func AssetKey(setID int64, fileName string) string {
	return fmt.Sprintf("sets/%d/%s", setID, fileName)
}

// PreviewKey is the blob key of a set's preview clip.
func PreviewKey(setID int64, format string) string {
	return fmt.Sprintf("previews/%d.%s", setID, format)
}

// StoredChart is a chart file persisted with its assigned identifiers.
type StoredChart struct {
	Key      string
	Data     []byte
	Checksum string
}

// StoredAsset reports the outcome of a hash-guarded asset write.
type StoredAsset struct {
	Key     string
	Hash    string
	Written bool
}

// ProcessorConfig wires the capabilities the processor drives.
type ProcessorConfig struct {
	Store      blob.Store
	Prober     media.Prober
	Transcoder media.Transcoder
	ScratchDir string
	Logger     *zap.Logger
}

// Processor turns parsed charts and their media into stored assets.
type Processor struct {
	store      blob.Store
	prober     media.Prober
	transcoder media.Transcoder
	scratchDir string
	logger     *zap.Logger
}

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Store == nil || cfg.Prober == nil || cfg.Transcoder == nil {
		return nil, errMissingDependency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:      cfg.Store,
		prober:     cfg.Prober,
		transcoder: cfg.Transcoder,
		scratchDir: cfg.ScratchDir,
		logger:     logger,
	}, nil
}

// StoreChart writes the chart with its placeholder identifiers replaced and
// returns the stored bytes and their checksum.
func (p *Processor) StoreChart(ctx context.Context, setID, chartID int64, raw []byte) (StoredChart, error) {
	rewritten := chartfile.RewriteIdentifiers(raw, setID, chartID)
	key := ChartKey(setID, chartID)
	if err := p.store.Put(ctx, key, rewritten); err != nil {
		return StoredChart{}, fmt.Errorf("store chart %s: %w", key, err)
	}
	return StoredChart{Key: key, Data: rewritten, Checksum: chartfile.Checksum(rewritten)}, nil
}

// DeleteChart removes a chart file.
func (p *Processor) DeleteChart(ctx context.Context, setID, chartID int64) error {
	return p.store.Delete(ctx, ChartKey(setID, chartID))
}

// Statistics combines the note statistics with the probed music length.
func (p *Processor) Statistics(ctx context.Context, notes []chartfile.Note, music []byte, musicFile string) (Statistics, error) {
	statistics := ComputeNoteStatistics(notes)
	probe, err := p.probe(ctx, music, musicFile)
	if err != nil {
		return Statistics{}, err
	}
	statistics.MusicLength = probe.Milliseconds()
	return statistics, nil
}

// StoreAsset writes data under the set unless an identical object is already
// stored there.
func (p *Processor) StoreAsset(ctx context.Context, setID int64, fileName string, data []byte) (StoredAsset, error) {
	key := AssetKey(setID, fileName)
	hash := chartfile.Checksum(data)

	existing, err := p.store.Get(ctx, key)
	switch {
	case err == nil && chartfile.Checksum(existing) == hash:
		return StoredAsset{Key: key, Hash: hash}, nil
	case err != nil && !errors.Is(err, blob.ErrNotFound):
		return StoredAsset{}, fmt.Errorf("read asset %s: %w", key, err)
	}

	if err := p.store.Put(ctx, key, data); err != nil {
		return StoredAsset{}, fmt.Errorf("store asset %s: %w", key, err)
	}
	return StoredAsset{Key: key, Hash: hash, Written: true}, nil
}

// GeneratePreview cuts a clip starting at previewTime (milliseconds) and stores
// it under the set's preview key. A zero preview time starts the clip at 40%
// of the music's duration.
func (p *Processor) GeneratePreview(ctx context.Context, setID int64, music []byte, musicFile string, previewTime float64) (string, error) {
	input, err := p.writeScratch(music, musicFile)
	if err != nil {
		return "", err
	}
	defer p.removeScratch(input)

	probe, err := p.prober.Probe(ctx, input)
	if err != nil {
		return "", err
	}

	start := time.Duration(previewTime * float64(time.Millisecond))
	if previewTime == 0 {
		start = probe.Duration * previewFallbackPercent / 100
	}

	output, err := p.transcoder.Trim(ctx, input, start, previewLength)
	if err != nil {
		return "", err
	}
	defer p.removeScratch(output)

	clip, err := os.ReadFile(output)
	if err != nil {
		return "", fmt.Errorf("read preview: %w", err)
	}

	format := probe.Format
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(musicFile), ".")
	}
	key := PreviewKey(setID, format)
	if err := p.store.Put(ctx, key, clip); err != nil {
		return "", fmt.Errorf("store preview %s: %w", key, err)
	}
	return key, nil
}

func (p *Processor) probe(ctx context.Context, music []byte, musicFile string) (media.ProbeResult, error) {
	input, err := p.writeScratch(music, musicFile)
	if err != nil {
		return media.ProbeResult{}, err
	}
	defer p.removeScratch(input)
	return p.prober.Probe(ctx, input)
}

// writeScratch copies data to a scratch file keeping the extension of name,
// which ffprobe relies on for some containers.
func (p *Processor) writeScratch(data []byte, name string) (string, error) {
	scratch, err := os.CreateTemp(p.scratchDir, "music-*"+filepath.Ext(name))
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	_, writeErr := scratch.Write(data)
	closeErr := scratch.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(scratch.Name())
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	return scratch.Name(), nil
}

func (p *Processor) removeScratch(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("failed to remove scratch file", zap.String("path", path), zap.Error(err))
	}
}
