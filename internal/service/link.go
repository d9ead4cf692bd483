package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"streamlink/internal/logger"
	"streamlink/internal/metrics"
	"streamlink/internal/model"
	"streamlink/internal/repository"
)

var (
	ErrObjectRefRequired = errors.New("object reference is required")
	ErrInvalidSize       = errors.New("size must not be negative")
	ErrNotFound          = errors.New("link not found")
	ErrExpired           = errors.New("link expired")
	ErrTokenCollision    = errors.New("token collision")
)

// tokenBytes gives 128 bits of entropy; encoded as 22 URL-safe characters.
const tokenBytes = 16

// RegisterInput is what the ingestion source knows about a newly available object.
type RegisterInput struct {
	ObjectRef string
	SourceID  string
	MIME      string
	Filename  string
	Size      *int64
}

// Registration is the outcome of RegisterObject.
type Registration struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LinkOptions configures link lifetime and how outward URLs are built.
type LinkOptions struct {
	TTL           time.Duration
	PublicBaseURL string
	StreamPrefix  string
}

// LinkService defines the link lifecycle use cases.
type LinkService interface {
	// Register issues a new token for an upstream object.
	Register(ctx context.Context, in RegisterInput) (*Registration, error)

	// Open returns a live link. An expired link is deleted and reported as ErrExpired.
	Open(ctx context.Context, token string) (*model.Link, error)

	// Sweep removes every link past its TTL and reports how many were removed.
	Sweep(ctx context.Context) (int64, error)

	// TTL is the configured link lifetime.
	TTL() time.Duration
}

// linkService is a concrete implementation of LinkService.
type linkService struct {
	repo     repository.LinkRepository
	opts     LinkOptions
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newToken func() (string, error)
}

// NewLinkService constructs a new LinkService.
func NewLinkService(repo repository.LinkRepository, opts LinkOptions, log *slog.Logger, m *metrics.Metrics) LinkService {
	if opts.StreamPrefix == "" {
		opts.StreamPrefix = "s"
	}
	return &linkService{
		repo:     repo,
		opts:     opts,
		log:      log.With("component", "links"),
		metrics:  m,
		now:      time.Now,
		newToken: randomToken,
	}
}

func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *linkService) TTL() time.Duration {
	return s.opts.TTL
}

func (s *linkService) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	if in.ObjectRef == "" {
		return nil, ErrObjectRefRequired
	}
	if in.Size != nil && *in.Size < 0 {
		return nil, ErrInvalidSize
	}

	token, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	link := &model.Link{
		Token:        token,
		ObjectRef:    in.ObjectRef,
		SourceID:     in.SourceID,
		MIME:         in.MIME,
		Filename:     in.Filename,
		DeclaredSize: in.Size,
		// Every backend stores microsecond precision.
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.repo.Insert(ctx, link); err != nil {
		if errors.Is(err, repository.ErrDuplicateToken) {
			s.log.Error("token_collision", "token", logger.TokenHint(token))
			return nil, fmt.Errorf("%w: %v", ErrTokenCollision, err)
		}
		return nil, fmt.Errorf("store link: %w", err)
	}
	s.metrics.LinkRegistered()
	s.log.Info("link_registered", "token", logger.TokenHint(token), "declared_size", link.Size())

	return &Registration{
		Token:     token,
		URL:       s.linkURL(token),
		ExpiresAt: link.ExpiresAt(s.opts.TTL),
	}, nil
}

func (s *linkService) linkURL(token string) string {
	return s.opts.PublicBaseURL + "/" + s.opts.StreamPrefix + "/" + token
}

func (s *linkService) Open(ctx context.Context, token string) (*model.Link, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	link, err := s.repo.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if link.Expired(s.now(), s.opts.TTL) {
		if err := s.repo.Delete(ctx, token); err != nil {
			s.log.Warn("expired_link_delete_failed", "token", logger.TokenHint(token), "error", err.Error())
		}
		s.metrics.LinkExpired()
		return nil, ErrExpired
	}
	return link, nil
}

func (s *linkService) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.opts.TTL)
	return s.repo.SweepExpired(ctx, cutoff)
}
