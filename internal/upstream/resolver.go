// Package upstream resolves link records to fetchable object-store URLs and talks to the object store.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"streamlink/internal/model"
	"streamlink/internal/storage"
)

// UnknownSize marks a Target whose length could not be determined.
const UnknownSize int64 = -1

// Target is where a link's bytes can be fetched from. URL carries the upstream credential
// and must never leave the server.
type Target struct {
	URL  string
	Size int64
}

// Resolver turns a link into a Target. A declared size is returned as-is; otherwise the
// resolver probes the upstream and reports UnknownSize when the probe fails.
type Resolver interface {
	Resolve(ctx context.Context, link *model.Link) (Target, error)
}

// validateRef rejects references that could escape the intended object namespace.
func validateRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: empty", ErrInvalidReference)
	}
	if strings.ContainsAny(ref, "?#\\") || strings.Contains(ref, "://") {
		return fmt.Errorf("%w: forbidden characters", ErrInvalidReference)
	}
	for _, seg := range strings.Split(strings.TrimPrefix(ref, "/"), "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: bad path segment", ErrInvalidReference)
		}
	}
	return nil
}

// HTTPResolver builds URLs of the form <base><template> where {token} is the server-held
// credential and {path} the escaped object reference, e.g. https://api.telegram.org/file/bot{token}/{path}.
type HTTPResolver struct {
	client       *Client
	base         string
	token        string
	template     string
	probeTimeout time.Duration
	log          *slog.Logger
}

// NewHTTPResolver validates the base URL and template.
func NewHTTPResolver(client *Client, baseURL, token, template string, probeTimeout time.Duration, log *slog.Logger) (*HTTPResolver, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base url must be absolute")
	}
	if !strings.Contains(template, "{path}") {
		return nil, fmt.Errorf("upstream path template must contain {path}")
	}
	if strings.Contains(template, "{token}") && token == "" {
		return nil, fmt.Errorf("upstream token is required by the path template")
	}
	return &HTTPResolver{
		client:       client,
		base:         strings.TrimRight(baseURL, "/"),
		token:        token,
		template:     template,
		probeTimeout: probeTimeout,
		log:          log,
	}, nil
}

// ResolveURL builds the fetch URL for ref.
func (r *HTTPResolver) ResolveURL(ref string) (string, error) {
	if err := validateRef(ref); err != nil {
		return "", err
	}
	segs := strings.Split(strings.TrimPrefix(ref, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	p := strings.ReplaceAll(r.template, "{token}", url.PathEscape(r.token))
	p = strings.ReplaceAll(p, "{path}", strings.Join(segs, "/"))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return r.base + p, nil
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, link *model.Link) (Target, error) {
	u, err := r.ResolveURL(link.ObjectRef)
	if err != nil {
		return Target{}, err
	}
	if size := link.Size(); size >= 0 {
		return Target{URL: u, Size: size}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	size, err := r.client.Probe(ctx, u)
	if err != nil {
		r.log.Debug("size_probe_failed", "component", "upstream", "error", err.Error())
		return Target{URL: u, Size: UnknownSize}, nil
	}
	return Target{URL: u, Size: size}, nil
}

// S3Resolver hands out presigned GET URLs for objects in an S3-compatible bucket and
// probes size with StatObject, since a GET signature does not cover HEAD.
type S3Resolver struct {
	store        storage.Storage
	presignTTL   time.Duration
	probeTimeout time.Duration
	log          *slog.Logger
}

// NewS3Resolver creates an S3Resolver.
func NewS3Resolver(store storage.Storage, presignTTL, probeTimeout time.Duration, log *slog.Logger) *S3Resolver {
	return &S3Resolver{store: store, presignTTL: presignTTL, probeTimeout: probeTimeout, log: log}
}

// Resolve implements Resolver.
func (r *S3Resolver) Resolve(ctx context.Context, link *model.Link) (Target, error) {
	key := strings.TrimPrefix(link.ObjectRef, "/")
	if err := validateRef(key); err != nil {
		return Target{}, err
	}
	u, err := r.store.PresignGet(ctx, key, r.presignTTL)
	if err != nil {
		return Target{}, fmt.Errorf("%w: presign: %v", ErrInvalidReference, err)
	}
	if size := link.Size(); size >= 0 {
		return Target{URL: u, Size: size}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	info, err := r.store.Stat(ctx, key)
	if err != nil || info.Size < 0 {
		r.log.Debug("size_probe_failed", "component", "upstream", "error", fmt.Sprint(err))
		return Target{URL: u, Size: UnknownSize}, nil
	}
	return Target{URL: u, Size: info.Size}, nil
}
