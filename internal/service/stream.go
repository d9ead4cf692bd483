package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"streamlink/internal/httprange"
	"streamlink/internal/logger"
	"streamlink/internal/metrics"
	"streamlink/internal/upstream"
)

// RangeNotSatisfiableError reports a well-formed range outside the object.
type RangeNotSatisfiableError struct {
	Size int64
}

func (e *RangeNotSatisfiableError) Error() string {
	return fmt.Sprintf("range not satisfiable for %d bytes", e.Size)
}

// Stream is a ready-to-send response. ContentLength is -1 when the size is unknown.
// The caller owns Body and must close it.
type Stream struct {
	Status        int
	ContentType   string
	Disposition   string
	ContentLength int64
	ContentRange  string
	Body          io.ReadCloser
}

// Fetcher issues the upstream GET.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, rng *httprange.Range) (*upstream.Response, error)
}

// StreamService defines the streaming use case.
type StreamService interface {
	// Open validates the token, resolves the upstream object, applies the client's Range
	// header and opens the upstream body. Errors are ErrNotFound, ErrExpired,
	// *RangeNotSatisfiableError, or upstream errors (*upstream.StatusError,
	// upstream.ErrUnavailable, upstream.ErrInvalidReference).
	Open(ctx context.Context, token, rangeHeader string) (*Stream, error)
	// Head runs the same checks and framing as Open without fetching the body.
	// The returned Stream has a nil Body.
	Head(ctx context.Context, token, rangeHeader string) (*Stream, error)
}

type streamService struct {
	links     LinkService
	resolver  upstream.Resolver
	fetcher   Fetcher
	chunkSize int
	log       *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// NewStreamService constructs a new StreamService.
func NewStreamService(links LinkService, resolver upstream.Resolver, fetcher Fetcher, chunkSize int, log *slog.Logger, m *metrics.Metrics) StreamService {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &streamService{
		links:     links,
		resolver:  resolver,
		fetcher:   fetcher,
		chunkSize: chunkSize,
		log:       log.With("component", "stream"),
		metrics:   m,
		tracer:    otel.Tracer("streamlink/service"),
	}
}

func (s *streamService) Open(ctx context.Context, token, rangeHeader string) (st *Stream, err error) {
	ctx, span := s.tracer.Start(ctx, "stream.open")
	defer func() { endSpan(span, st, err) }()

	p, err := s.prepare(ctx, span, token, rangeHeader)
	if err != nil {
		return nil, err
	}

	resp, err := s.fetcher.Fetch(ctx, p.url, p.rng)
	if err != nil {
		var se *upstream.StatusError
		if errors.As(err, &se) {
			s.metrics.Upstream("rejected")
			s.log.Warn("upstream_rejected", "token", logger.TokenHint(token), "upstream_status", se.Status)
		} else {
			s.metrics.Upstream("unavailable")
			s.log.Error("upstream_unavailable", "token", logger.TokenHint(token), "error", err.Error())
		}
		return nil, err
	}
	s.metrics.Upstream("ok")

	st = p.stream
	var body io.Reader = resp.Body
	if p.rng != nil && resp.Status == http.StatusOK && p.rng.Start > 0 {
		body = &skipReader{r: resp.Body, skip: p.rng.Start}
	}

	relayLog := s.log.With("token", logger.TokenHint(token), "status", st.Status)
	st.Body = newRelay(resp.Body, body, st.ContentLength, s.chunkSize, relayLog, s.metrics)
	return st, nil
}

func (s *streamService) Head(ctx context.Context, token, rangeHeader string) (st *Stream, err error) {
	ctx, span := s.tracer.Start(ctx, "stream.head")
	defer func() { endSpan(span, st, err) }()

	p, err := s.prepare(ctx, span, token, rangeHeader)
	if err != nil {
		return nil, err
	}
	return p.stream, nil
}

type streamPlan struct {
	stream *Stream
	url    string
	rng    *httprange.Range
}

// prepare checks the token, resolves the object and frames the response without
// touching the upstream body.
func (s *streamService) prepare(ctx context.Context, span trace.Span, token, rangeHeader string) (*streamPlan, error) {
	link, err := s.links.Open(ctx, token)
	if err != nil {
		return nil, err
	}

	target, err := s.resolver.Resolve(ctx, link)
	if err != nil {
		s.log.Error("resolve_failed", "token", logger.TokenHint(token), "error", err.Error())
		return nil, fmt.Errorf("resolve: %w", err)
	}
	span.SetAttributes(attribute.Int64("stream.size", target.Size))

	p := &streamPlan{
		url: target.URL,
		stream: &Stream{
			Status:        http.StatusOK,
			ContentType:   link.ContentType(),
			Disposition:   disposition(link.DisplayName()),
			ContentLength: target.Size,
		},
	}
	if rangeHeader == "" || target.Size < 0 {
		return p, nil
	}

	r, perr := httprange.Parse(rangeHeader, target.Size)
	switch {
	case perr == nil:
		p.rng = &r
		p.stream.Status = http.StatusPartialContent
		p.stream.ContentRange = r.ContentRange(target.Size)
		p.stream.ContentLength = r.Length()
	case errors.Is(perr, httprange.ErrUnsatisfiable):
		return nil, &RangeNotSatisfiableError{Size: target.Size}
	default:
		s.log.Debug("range_ignored", "token", logger.TokenHint(token), "reason", perr.Error())
	}
	return p, nil
}

func endSpan(span trace.Span, st *Stream, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream open failed")
	} else {
		span.SetAttributes(attribute.Int("stream.status", st.Status))
	}
	span.End()
}

// disposition renders an inline Content-Disposition, dropping characters that would
// break out of the quoted filename.
func disposition(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, name)
	return fmt.Sprintf(`inline; filename="%s"`, clean)
}
