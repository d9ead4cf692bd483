package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"streamlink/internal/metrics"
)

// DefaultChunkSize is the relay buffer when none is configured.
const DefaultChunkSize = 256 * 1024

var errShortBody = errors.New("upstream ended before the announced length")

// relay forwards an upstream body to the client one chunk at a time.
// When expected >= 0 it delivers exactly that many bytes or fails; Close always
// releases the upstream connection.
type relay struct {
	src      io.ReadCloser
	r        io.Reader
	chunk    int
	expected int64
	sent     int64
	done     bool
	started  time.Time
	log      *slog.Logger
	metrics  *metrics.Metrics
	once     sync.Once
	closeErr error
}

func newRelay(src io.ReadCloser, body io.Reader, expected int64, chunk int, log *slog.Logger, m *metrics.Metrics) *relay {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	r := body
	if expected >= 0 {
		r = io.LimitReader(body, expected)
	}
	return &relay{
		src:      src,
		r:        r,
		chunk:    chunk,
		expected: expected,
		started:  time.Now(),
		log:      log,
		metrics:  m,
	}
}

// Read serves callers that pull with their own buffer; reads are capped at one chunk.
func (rl *relay) Read(p []byte) (int, error) {
	if len(p) > rl.chunk {
		p = p[:rl.chunk]
	}
	n, err := rl.r.Read(p)
	rl.account(n)
	if errors.Is(err, io.EOF) {
		return n, rl.finish()
	}
	return n, err
}

// WriteTo pushes fixed-size chunks, flushing each one before reading the next so a
// slow client throttles the upstream read.
func (rl *relay) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, rl.chunk)
	var written int64
	for {
		n, err := io.ReadFull(rl.r, buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			rl.account(m)
			if werr == nil {
				werr = flush(w)
			}
			if werr != nil {
				return written, werr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if ferr := rl.finish(); !errors.Is(ferr, io.EOF) {
				return written, ferr
			}
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

func flush(w io.Writer) error {
	switch f := w.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Flush() }:
		f.Flush()
	}
	return nil
}

func (rl *relay) account(n int) {
	if n > 0 {
		rl.sent += int64(n)
		rl.metrics.RelayBytes(n)
	}
}

// finish runs at upstream EOF and rejects bodies shorter than the framed length.
func (rl *relay) finish() error {
	if rl.expected >= 0 && rl.sent < rl.expected {
		return errShortBody
	}
	rl.done = true
	return io.EOF
}

// Close releases the upstream body exactly once and records how the relay ended.
func (rl *relay) Close() error {
	rl.once.Do(func() {
		rl.closeErr = rl.src.Close()
		result := "complete"
		level := slog.LevelInfo
		if !rl.done {
			result = "interrupted"
			level = slog.LevelWarn
		}
		rl.metrics.RelayFinished(result)
		rl.log.Log(context.Background(), level, "relay_finished",
			"result", result,
			"bytes", rl.sent,
			"expected", rl.expected,
			"duration_ms", time.Since(rl.started).Milliseconds(),
		)
	})
	return rl.closeErr
}

// skipReader discards the first skip bytes of r. It is used when the upstream ignores
// a Range request and answers with the whole object.
type skipReader struct {
	r    io.Reader
	skip int64
}

func (s *skipReader) Read(p []byte) (int, error) {
	if s.skip > 0 {
		n, err := io.CopyN(io.Discard, s.r, s.skip)
		s.skip -= n
		if err != nil {
			return 0, err
		}
	}
	return s.r.Read(p)
}
