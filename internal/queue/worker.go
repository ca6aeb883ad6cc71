package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-track-bot/internal/domain"
	"github.com/tbourn/go-track-bot/internal/observability"
	"github.com/tbourn/go-track-bot/internal/resolver"
)

// Resolver resolves link references.
type Resolver interface {
	Resolve(ctx context.Context, ref domain.TrackReference) (*domain.ResolvedTrack, error)
}

// Downloader fetches audio for a canonical query.
type Downloader interface {
	Fetch(ctx context.Context, query, filename string) domain.DownloadResult
}

// Sink is the outbound delivery side of the messaging transport.
type Sink interface {
	UpdateStatus(ctx context.Context, h domain.StatusHandle, text string) error
	DeliverAudio(ctx context.Context, h domain.StatusHandle, path, title, performer string) error
	ClearStatus(ctx context.Context, h domain.StatusHandle) error
}

// Worker drains a Queue one job at a time.
type Worker struct {
	Queue      *Queue
	Resolver   Resolver
	Downloader Downloader
	Sink       Sink

	// Tag, when set, stamps title/artist into the file before delivery.
	// Errors are logged and ignored.
	Tag func(path, title, artist string) error

	// OnTransition, when set, observes every state change.
	OnTransition func(job *domain.Job, state domain.JobState)

	Log zerolog.Logger
}

// Run processes jobs until ctx is done. A job already dequeued is finished
// before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.Log.Info().Msg("worker started")
	for {
		job, err := w.Queue.Dequeue(ctx)
		if err != nil {
			w.Log.Info().Msg("worker stopped")
			return nil
		}
		w.Process(context.WithoutCancel(ctx), job)
		w.Queue.Done()
	}
}

// Process runs one job to a terminal state. It never panics.
func (w *Worker) Process(ctx context.Context, job *domain.Job) (state domain.JobState) {
	start := time.Now()
	log := w.Log.With().Str("job_id", job.ID).Int64("requester_id", job.RequesterID).Logger()

	ctx, span := otel.Tracer("queue").Start(ctx, "Job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("reference.kind", job.Reference.Kind.String()),
			attribute.Bool("job.prepaid", job.Prepaid),
		),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("job panicked")
			state = w.failQuietly(ctx, job)
		}
		span.SetAttributes(attribute.String("job.state", string(state)))
		span.End()
		observability.JobsTotal.WithLabelValues(string(state)).Inc()
		observability.JobDuration.Observe(time.Since(start).Seconds())
		log.Info().Str("state", string(state)).Dur("took", time.Since(start)).Msg("job finished")
	}()

	var track *domain.ResolvedTrack
	if job.Reference.Kind == domain.Link {
		w.transition(job, domain.JobResolving)
		w.status(ctx, job, domain.MsgResolving)

		t, err := w.Resolver.Resolve(ctx, job.Reference)
		if err != nil {
			log.Warn().Err(err).Msg("resolution failed")
			var rf *domain.ResolutionFailure
			if errors.As(err, &rf) {
				return w.fail(ctx, job, domain.MsgNotFound)
			}
			return w.fail(ctx, job, domain.MsgProcessingError)
		}
		track = t
	} else {
		track = resolver.FromFreeText(job.Reference.Raw)
	}

	w.transition(job, domain.JobDownloading)
	w.status(ctx, job, fmt.Sprintf(domain.MsgDownloading, track.Artist, track.Title))

	res := w.Downloader.Fetch(ctx, track.Query, track.Filename)
	if !res.Success {
		log.Warn().Err(res.Failure).Str("query", track.Query).Msg("download failed")
		return w.fail(ctx, job, domain.MsgDownloadFailed)
	}

	w.transition(job, domain.JobDelivering)
	defer func() {
		if err := os.Remove(res.LocalPath); err != nil && !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", res.LocalPath).Msg("remove delivered file")
		}
		if res.WorkDir != "" {
			if err := os.RemoveAll(res.WorkDir); err != nil {
				log.Error().Err(err).Str("dir", res.WorkDir).Msg("remove job directory")
			}
		}
	}()

	if w.Tag != nil {
		if err := w.Tag(res.LocalPath, track.Title, track.Artist); err != nil {
			log.Warn().Err(err).Msg("tagging failed")
		}
	}
	w.status(ctx, job, domain.MsgDelivering)

	if err := w.Sink.DeliverAudio(ctx, job.Status, res.LocalPath, track.Title, track.Artist); err != nil {
		log.Error().Err(err).Msg("delivery failed")
		return w.fail(ctx, job, domain.MsgProcessingError)
	}
	if err := w.Sink.ClearStatus(ctx, job.Status); err != nil {
		log.Warn().Err(err).Msg("clear status failed")
	}

	w.transition(job, domain.JobDone)
	return domain.JobDone
}

func (w *Worker) fail(ctx context.Context, job *domain.Job, text string) domain.JobState {
	w.transition(job, domain.JobFailed)
	w.status(ctx, job, text)
	return domain.JobFailed
}

// failQuietly reports a processing error from a recovered panic; a second
// panic from the sink is swallowed.
func (w *Worker) failQuietly(ctx context.Context, job *domain.Job) (state domain.JobState) {
	state = domain.JobFailed
	defer func() { _ = recover() }()
	w.fail(ctx, job, domain.MsgProcessingError)
	return state
}

func (w *Worker) status(ctx context.Context, job *domain.Job, text string) {
	if err := w.Sink.UpdateStatus(ctx, job.Status, text); err != nil {
		w.Log.Warn().Err(err).Str("job_id", job.ID).Msg("status update failed")
	}
}

func (w *Worker) transition(job *domain.Job, s domain.JobState) {
	if w.OnTransition != nil {
		w.OnTransition(job, s)
	}
}
