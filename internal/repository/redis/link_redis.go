package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"streamlink/internal/model"
	"streamlink/internal/repository"
)

// LinkRedis stores each link as a JSON value under its own key and keeps a sorted-set
// index scored by creation time (unix microseconds) for sweeping.
type LinkRedis struct {
	rdb       redis.UniversalClient
	prefix    string
	batchSize int
}

// NewLinkRedis creates a Redis-backed repository. prefix namespaces every key.
func NewLinkRedis(rdb redis.UniversalClient, prefix string, batchSize int) *LinkRedis {
	if batchSize <= 0 {
		batchSize = repository.DefaultSweepBatch
	}
	return &LinkRedis{rdb: rdb, prefix: prefix, batchSize: batchSize}
}

var _ repository.LinkRepository = (*LinkRedis)(nil)

// record is the stored form; model.Link hides ObjectRef from JSON.
type record struct {
	Token        string    `json:"token"`
	ObjectRef    string    `json:"object_ref"`
	SourceID     string    `json:"source_id,omitempty"`
	MIME         string    `json:"mime,omitempty"`
	Filename     string    `json:"filename,omitempty"`
	DeclaredSize *int64    `json:"declared_size,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *LinkRedis) linkKey(token string) string {
	return s.prefix + "link:" + token
}

func (s *LinkRedis) indexKey() string {
	return s.prefix + "links:created"
}

// Insert writes the record with SETNX, then indexes it. A record that cannot be
// indexed is removed again so the sweeper never misses it.
func (s *LinkRedis) Insert(ctx context.Context, link *model.Link) error {
	b, err := json.Marshal(record(*link))
	if err != nil {
		return fmt.Errorf("encode link: %w", err)
	}
	key := s.linkKey(link.Token)
	ok, err := s.rdb.SetNX(ctx, key, b, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrDuplicateToken
	}
	err = s.rdb.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(link.CreatedAt.UnixMicro()),
		Member: link.Token,
	}).Err()
	if err == nil {
		return nil
	}
	err = fmt.Errorf("index link: %w", err)
	if derr := s.rdb.Del(context.WithoutCancel(ctx), key).Err(); derr != nil {
		return errors.Join(err, fmt.Errorf("roll back link: %w", derr))
	}
	return err
}

// Lookup fetches and decodes a single record.
func (s *LinkRedis) Lookup(ctx context.Context, token string) (*model.Link, error) {
	b, err := s.rdb.Get(ctx, s.linkKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode link: %w", err)
	}
	l := model.Link(rec)
	return &l, nil
}

// Delete removes the record and its index entry.
func (s *LinkRedis) Delete(ctx context.Context, token string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.linkKey(token))
		p.ZRem(ctx, s.indexKey(), token)
		return nil
	})
	return err
}

// SweepExpired pages through the index below cutoff and deletes each batch in one MULTI/EXEC.
func (s *LinkRedis) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	upper := "(" + strconv.FormatInt(cutoff.UnixMicro(), 10)
	var total int64
	for {
		tokens, err := s.rdb.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   upper,
			Count: int64(s.batchSize),
		}).Result()
		if err != nil {
			return total, err
		}
		if len(tokens) == 0 {
			return total, nil
		}

		keys := make([]string, len(tokens))
		members := make([]any, len(tokens))
		for i, tok := range tokens {
			keys[i] = s.linkKey(tok)
			members[i] = tok
		}
		var del *redis.IntCmd
		_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			del = p.Del(ctx, keys...)
			p.ZRem(ctx, s.indexKey(), members...)
			return nil
		})
		if err != nil {
			return total, err
		}
		total += del.Val()
		if len(tokens) < s.batchSize {
			return total, nil
		}
	}
}

// Ping checks Redis connectivity.
func (s *LinkRedis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
