package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"streamlink/internal/config"
	"streamlink/internal/httprange"
)

var (
	// ErrUnavailable wraps network and timeout failures talking to the object store.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrInvalidReference marks an object reference that cannot be turned into a URL.
	ErrInvalidReference = errors.New("invalid object reference")
)

// StatusError is returned when the upstream answers outside 200/206.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// Response is an open upstream body. Close must always be called.
type Response struct {
	Status        int
	ContentLength int64
	Body          io.ReadCloser
}

// Client performs upstream HTTP requests with connection, header and idle-read timeouts.
// Errors never carry the request URL because it embeds the upstream credential.
type Client struct {
	http        *http.Client
	idleTimeout time.Duration
}

// NewClient builds a Client from upstream settings. The transport is instrumented with otelhttp.
func NewClient(cfg config.UpstreamConfig) *Client {
	connect := seconds(cfg.ConnectTimeoutSec, 10)
	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: seconds(cfg.HeaderTimeoutSec, 30),
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		// Range responses must reach the client byte-exact.
		DisableCompression: true,
	}
	return &Client{
		http:        &http.Client{Transport: otelhttp.NewTransport(tr)},
		idleTimeout: seconds(cfg.IdleTimeoutSec, 30),
	}
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// Probe issues a HEAD request and returns the reported Content-Length.
func (c *Client) Probe(ctx context.Context, rawURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return -1, fmt.Errorf("%w: build request", ErrInvalidReference)
	}
	req.Header.Set("Accept", "*/*")
	resp, err := c.http.Do(req)
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrUnavailable, scrub(err))
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return -1, &StatusError{Status: resp.StatusCode}
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength, nil
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n, nil
		}
	}
	return -1, errors.New("upstream did not report a length")
}

// Fetch opens a GET to rawURL, forwarding rng when non-nil.
// The request lives until the returned body is closed; ctx cancellation also aborts it.
func (c *Client) Fetch(ctx context.Context, rawURL string, rng *httprange.Range) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: build request", ErrInvalidReference)
	}
	req.Header.Set("Accept", "*/*")
	if rng != nil {
		req.Header.Set("Range", rng.Header())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, scrub(err))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{Status: resp.StatusCode}
	}

	return &Response{
		Status:        resp.StatusCode,
		ContentLength: resp.ContentLength,
		Body:          newIdleReader(resp.Body, c.idleTimeout, cancel),
	}, nil
}

// scrub drops the *url.Error wrapper, which would otherwise print the full request URL.
func scrub(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return fmt.Errorf("%s: timeout", ue.Op)
		}
		return fmt.Errorf("%s: %v", ue.Op, ue.Err)
	}
	return err
}

// idleReader cancels the request when no read completes within the idle window.
type idleReader struct {
	rc     io.ReadCloser
	idle   time.Duration
	timer  *time.Timer
	cancel context.CancelFunc
	once   sync.Once
}

func newIdleReader(rc io.ReadCloser, idle time.Duration, cancel context.CancelFunc) *idleReader {
	return &idleReader{
		rc:     rc,
		idle:   idle,
		timer:  time.AfterFunc(idle, cancel),
		cancel: cancel,
	}
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	r.timer.Reset(r.idle)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, scrub(err))
	}
	return n, err
}

func (r *idleReader) Close() error {
	var err error
	r.once.Do(func() {
		r.timer.Stop()
		r.cancel()
		err = r.rc.Close()
	})
	return err
}
