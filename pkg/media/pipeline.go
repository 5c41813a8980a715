package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/telemetry"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/transport"
)

type Phase string

const (
	PhaseOptimizing Phase = "optimizing"
	PhaseUploading  Phase = "uploading"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

// optimize owns 0-30% of the reported progress, upload the rest
const optimizeShare = 30

var ErrTooLarge = errors.New("media: asset exceeds max upload size")

// ProgressFunc receives pipeline progress. info is set once optimization
// has finished.
type ProgressFunc func(percent int, phase Phase, info *OptimizationInfo)

// PipelineError records which phase failed.
type PipelineError struct {
	Phase Phase
	Err   error
}

func (e *PipelineError) Error() string { return fmt.Sprintf("media %s failed: %v", e.Phase, e.Err) }
func (e *PipelineError) Unwrap() error { return e.Err }

type Uploader interface {
	Upload(ctx context.Context, in transport.UploadRequest, progress transport.UploadProgress) (*transport.UploadResult, error)
}

type Options struct {
	Optimizer     Optimizer
	MaxUploadSize int64
	Metrics       *telemetry.Metrics
	// ReadFile loads local files; defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
}

// Pipeline runs optimize then upload. A failed run is never resumed; calling
// Run again starts from the optimize phase.
type Pipeline struct {
	up   Uploader
	opts Options
}

func NewPipeline(up Uploader, opts Options) *Pipeline {
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}
	return &Pipeline{up: up, opts: opts}
}

func (p *Pipeline) Run(ctx context.Context, localFile string, kind models.MessageKind, progress ProgressFunc) (*models.Media, error) {
	if progress == nil {
		progress = func(int, Phase, *OptimizationInfo) {}
	}
	last := 0
	report := func(pct int, phase Phase, info *OptimizationInfo) {
		if pct < last {
			pct = last
		}
		last = pct
		progress(pct, phase, info)
	}
	fail := func(phase Phase, err error) (*models.Media, error) {
		report(last, PhaseFailed, nil)
		logger.Warn("media_pipeline_failed", "file", localFile, "phase", phase, "error", err)
		return nil, &PipelineError{Phase: phase, Err: err}
	}

	report(0, PhaseOptimizing, nil)
	started := time.Now()
	asset, info, err := p.optimize(localFile, kind)
	p.opts.Metrics.ObserveMediaPhase(string(PhaseOptimizing), time.Since(started))
	if err != nil {
		return fail(PhaseOptimizing, err)
	}
	p.opts.Metrics.MediaBytesSaved(info.OriginalBytes - info.OptimizedBytes)
	logger.Debug("media_optimized", "file", localFile,
		"original", humanize.IBytes(uint64(info.OriginalBytes)),
		"optimized", humanize.IBytes(uint64(info.OptimizedBytes)),
		"skipped", info.Skipped, "reason", info.Reason)
	report(optimizeShare, PhaseOptimizing, &info)

	if limit := p.opts.MaxUploadSize; limit > 0 && int64(len(asset.Data)) > limit {
		return fail(PhaseUploading, fmt.Errorf("%w: %s > %s", ErrTooLarge,
			humanize.IBytes(uint64(len(asset.Data))), humanize.IBytes(uint64(limit))))
	}
	if err := ctx.Err(); err != nil {
		return fail(PhaseUploading, err)
	}

	started = time.Now()
	res, err := p.up.Upload(ctx, transport.UploadRequest{
		FileName:    asset.FileName,
		ContentType: asset.ContentType,
		Data:        asset.Data,
		Kind:        kind,
	}, func(sent, total int64) {
		if total <= 0 {
			return
		}
		report(optimizeShare+int(float64(100-optimizeShare)*float64(sent)/float64(total)), PhaseUploading, &info)
	})
	p.opts.Metrics.ObserveMediaPhase(string(PhaseUploading), time.Since(started))
	if err != nil {
		return fail(PhaseUploading, err)
	}
	report(100, PhaseComplete, &info)
	return res.Media(), nil
}

func (p *Pipeline) optimize(localFile string, kind models.MessageKind) (Asset, OptimizationInfo, error) {
	data, err := p.opts.ReadFile(localFile)
	if err != nil {
		return Asset{}, OptimizationInfo{}, fmt.Errorf("read %s: %w", localFile, err)
	}
	a := Asset{
		FileName:    filepath.Base(localFile),
		ContentType: http.DetectContentType(data),
		Data:        data,
		Kind:        kind,
	}
	return p.opts.Optimizer.Optimize(a)
}

func renameExt(name, contentType string) string {
	if name == "" {
		return name
	}
	ext := ".jpg"
	if contentType == "image/png" {
		ext = ".png"
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}
