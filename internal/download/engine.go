// Package download retrieves audio for a canonical query from an ordered list
// of external sources.
//
// Every fetch writes into a fresh job directory under Dir. Each source attempt
// is isolated: its error is logged and counted, the job directory is emptied,
// and the next source runs. Success is decided by an
// existence check on the single expected output path, never by what the tool
// reports. The blocking tool call runs on its own goroutine behind a
// one-slot semaphore and the caller receives the result over a channel.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/tbourn/go-track-bot/internal/domain"
	"github.com/tbourn/go-track-bot/internal/observability"
)

// Source is one external audio platform.
type Source interface {
	// Name is a short, stable label used in logs and metrics.
	Name() string
	// Fetch searches for query and writes the transcoded audio to
	// outBase + ".mp3". A nil error is only a claim; the engine verifies.
	Fetch(ctx context.Context, query, outBase string) error
}

// Engine tries Sources in order until one leaves a file at the expected path.
type Engine struct {
	Sources []Source
	Dir     string

	// Retries is the number of extra attempts per source (0 = once).
	Retries int
	// Backoff is the pause between attempts on the same source.
	Backoff time.Duration

	Log zerolog.Logger

	slot *semaphore.Weighted
}

// NewEngine builds an Engine writing into dir.
func NewEngine(log zerolog.Logger, dir string, retries int, sources ...Source) *Engine {
	return &Engine{
		Sources: sources,
		Dir:     dir,
		Retries: retries,
		Backoff: 2 * time.Second,
		Log:     log.With().Str("component", "download").Logger(),
		slot:    semaphore.NewWeighted(1),
	}
}

// expectedPath is where a successful fetch of filename must leave its file.
func expectedPath(workDir, filename string) string {
	return filepath.Join(workDir, filepath.Base(filename))
}

// Fetch downloads query into filename inside a new job directory. On success
// the result's WorkDir is that directory and the caller owns it; on failure
// it is already gone. The download is not cancelled by ctx once started; a
// job runs to completion or failure.
func (e *Engine) Fetch(ctx context.Context, query, filename string) domain.DownloadResult {
	ctx, span := otel.Tracer("download").Start(ctx, "Fetch",
		trace.WithAttributes(attribute.String("download.filename", filename)),
	)
	defer span.End()

	detached := context.WithoutCancel(ctx)
	if err := e.slot.Acquire(detached, 1); err != nil {
		return failed(domain.ErrAllSourcesExhausted)
	}

	done := make(chan domain.DownloadResult, 1)
	go func() {
		defer e.slot.Release(1)
		done <- e.run(detached, query, filename)
	}()
	res := <-done

	if !res.Success {
		span.SetStatus(codes.Error, res.Failure.Error())
	}
	return res
}

func (e *Engine) run(ctx context.Context, query, filename string) domain.DownloadResult {
	workDir, err := e.newWorkDir()
	if err != nil {
		e.Log.Error().Err(err).Str("dir", e.Dir).Msg("create job directory")
		return failed(err)
	}
	path := expectedPath(workDir, filename)
	outBase := strings.TrimSuffix(path, filepath.Ext(path))
	claimedMissing := false

	for _, src := range e.Sources {
		for attempt := 0; attempt <= e.Retries; attempt++ {
			if attempt > 0 && e.Backoff > 0 {
				time.Sleep(e.Backoff)
			}
			ok, claimed := e.attempt(ctx, src, query, outBase, path, attempt)
			if ok {
				return domain.DownloadResult{Success: true, LocalPath: path, WorkDir: workDir}
			}
			if claimed {
				claimedMissing = true
			}
		}
	}

	if err := os.RemoveAll(workDir); err != nil {
		e.Log.Warn().Err(err).Str("dir", workDir).Msg("remove job directory")
	}
	if claimedMissing {
		return failed(domain.ErrFileMissingAfterReportedSuccess)
	}
	return failed(domain.ErrAllSourcesExhausted)
}

// attempt runs src once. claimed reports a nil error from the source with
// no file at path.
func (e *Engine) attempt(ctx context.Context, src Source, query, outBase, path string, n int) (ok, claimed bool) {
	log := e.Log.With().Str("source", src.Name()).Int("attempt", n+1).Logger()

	err := safeFetch(ctx, src, query, outBase)
	if err != nil {
		observability.DownloadAttempts.WithLabelValues(src.Name(), "error").Inc()
		log.Warn().Err(err).Msg("source attempt failed")
		emptyDir(filepath.Dir(path))
		return false, false
	}
	if fileExists(path) {
		observability.DownloadAttempts.WithLabelValues(src.Name(), "ok").Inc()
		log.Info().Str("path", path).Msg("source produced file")
		return true, false
	}
	observability.DownloadAttempts.WithLabelValues(src.Name(), "missing").Inc()
	log.Warn().Str("path", path).Msg("source reported success but file is missing")
	emptyDir(filepath.Dir(path))
	return false, true
}

// safeFetch keeps a panicking source from escaping the engine.
func safeFetch(ctx context.Context, src Source, query, outBase string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("source panicked")
		}
	}()
	return src.Fetch(ctx, query, outBase)
}

func failed(reason error) domain.DownloadResult {
	return domain.DownloadResult{Failure: &domain.DownloadFailure{Reason: reason}}
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func (e *Engine) newWorkDir() (string, error) {
	if err := os.MkdirAll(e.Dir, 0o700); err != nil {
		return "", fmt.Errorf("download dir: %w", err)
	}
	dir, err := os.MkdirTemp(e.Dir, "job-*")
	if err != nil {
		return "", fmt.Errorf("job dir: %w", err)
	}
	return dir, nil
}

// emptyDir deletes whatever a failed attempt left in its job directory
// (partial downloads, pre-transcode streams).
func emptyDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, ent := range entries {
		_ = os.RemoveAll(filepath.Join(dir, ent.Name()))
	}
}
