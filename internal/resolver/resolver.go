// Package resolver turns a track reference into a canonical ResolvedTrack.
//
// Links are resolved through an ordered cascade of strategies. Each strategy
// either yields a candidate (title, artist), declares itself skipped, or fails;
// the cascade stops at the first candidate with a non-empty title. Transport
// and parsing errors never escape a strategy: they are logged and counted, and
// the next strategy runs. Only exhaustion surfaces, as a ResolutionFailure.
package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-track-bot/internal/domain"
	"github.com/tbourn/go-track-bot/internal/observability"
)

// Sentinels used in place of missing metadata.
const (
	UnknownTitle  = "Unknown Title"
	UnknownArtist = "Unknown Artist"
)

// ErrSkipped is returned by a strategy that does not apply to the reference.
// A skipped strategy is not a failure.
var ErrSkipped = errors.New("strategy skipped")

// Candidate is the raw (title, artist) pair a strategy produced.
type Candidate struct {
	Title  string
	Artist string
}

// Strategy is one extraction attempt in the cascade.
type Strategy interface {
	// Name is a short, stable label used in logs and metrics.
	Name() string
	// Extract returns a candidate for link, ErrSkipped, or any other error
	// to signal failure.
	Extract(ctx context.Context, link string) (Candidate, error)
}

// Resolver runs Strategies in order.
type Resolver struct {
	Strategies []Strategy
	Log        zerolog.Logger
}

// New builds a Resolver with the given strategies in priority order.
func New(log zerolog.Logger, strategies ...Strategy) *Resolver {
	return &Resolver{
		Strategies: strategies,
		Log:        log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve produces the canonical track for ref. Free-text references bypass
// the cascade entirely (see FromFreeText).
func (r *Resolver) Resolve(ctx context.Context, ref domain.TrackReference) (*domain.ResolvedTrack, error) {
	if ref.Kind != domain.Link {
		return FromFreeText(ref.Raw), nil
	}

	ctx, span := otel.Tracer("resolver").Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("reference.kind", ref.Kind.String())),
	)
	defer span.End()

	for _, s := range r.Strategies {
		c, err := s.Extract(ctx, ref.Raw)
		switch {
		case errors.Is(err, ErrSkipped):
			observability.ResolveTotal.WithLabelValues(s.Name(), "skipped").Inc()
			continue
		case err != nil:
			observability.ResolveTotal.WithLabelValues(s.Name(), "failed").Inc()
			r.Log.Warn().Err(err).Str("strategy", s.Name()).Msg("strategy failed")
			continue
		case strings.TrimSpace(c.Title) == "":
			observability.ResolveTotal.WithLabelValues(s.Name(), "empty").Inc()
			continue
		}
		observability.ResolveTotal.WithLabelValues(s.Name(), "ok").Inc()
		span.SetAttributes(attribute.String("resolver.strategy", s.Name()))
		return Build(c.Title, c.Artist), nil
	}

	span.SetStatus(codes.Error, "not found")
	return nil, &domain.ResolutionFailure{Reason: domain.ErrNotFound}
}

// Build composes the canonical record from a title and artist, substituting
// the sentinels for blanks.
func Build(title, artist string) *domain.ResolvedTrack {
	title = orDefault(title, UnknownTitle)
	artist = orDefault(artist, UnknownArtist)
	full := artist + " - " + title
	return &domain.ResolvedTrack{
		Query:    full,
		Title:    title,
		Artist:   artist,
		Filename: LinkFilename(full),
	}
}

// FromFreeText treats the whole phrase as both query and title.
func FromFreeText(raw string) *domain.ResolvedTrack {
	raw = strings.TrimSpace(raw)
	return &domain.ResolvedTrack{
		Query:    raw,
		Title:    raw,
		Artist:   domain.UnknownSource,
		Filename: FreeTextFilename(raw),
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
