package memory

import (
	"context"
	"sync"
	"time"

	"streamlink/internal/model"
	"streamlink/internal/repository"
)

// LinkMemory is an in-process implementation of repository.LinkRepository.
// Records are copied on the way in and out so callers never share memory with the store.
type LinkMemory struct {
	mu        sync.RWMutex
	links     map[string]model.Link
	batchSize int
}

// NewLinkMemory creates an empty store. batchSize bounds how many deletions a sweep
// performs while holding the write lock; values <= 0 use repository.DefaultSweepBatch.
func NewLinkMemory(batchSize int) *LinkMemory {
	if batchSize <= 0 {
		batchSize = repository.DefaultSweepBatch
	}
	return &LinkMemory{
		links:     make(map[string]model.Link),
		batchSize: batchSize,
	}
}

var _ repository.LinkRepository = (*LinkMemory)(nil)

// Insert stores a copy of link.
func (s *LinkMemory) Insert(_ context.Context, link *model.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.Token]; ok {
		return repository.ErrDuplicateToken
	}
	s.links[link.Token] = clone(link)
	return nil
}

// Lookup returns a copy of the stored record.
func (s *LinkMemory) Lookup(_ context.Context, token string) (*model.Link, error) {
	s.mu.RLock()
	l, ok := s.links[token]
	s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clone(&l)
	return &out, nil
}

// Delete removes token if present.
func (s *LinkMemory) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.links, token)
	s.mu.Unlock()
	return nil
}

// SweepExpired collects candidates under the read lock, then deletes them in batches,
// re-checking each record so a concurrent insert under a reused token is never dropped.
func (s *LinkMemory) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	var candidates []string
	for token, l := range s.links {
		if l.CreatedAt.Before(cutoff) {
			candidates = append(candidates, token)
		}
	}
	s.mu.RUnlock()

	var removed int64
	for len(candidates) > 0 {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n := min(s.batchSize, len(candidates))
		s.mu.Lock()
		for _, token := range candidates[:n] {
			if l, ok := s.links[token]; ok && l.CreatedAt.Before(cutoff) {
				delete(s.links, token)
				removed++
			}
		}
		s.mu.Unlock()
		candidates = candidates[n:]
	}
	return removed, nil
}

// Ping always succeeds.
func (s *LinkMemory) Ping(context.Context) error {
	return nil
}

// Len reports the number of stored records, expired or not.
func (s *LinkMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

func clone(l *model.Link) model.Link {
	out := *l
	if l.DeclaredSize != nil {
		size := *l.DeclaredSize
		out.DeclaredSize = &size
	}
	return out
}
