package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrExpired means the record outlived its ExpiresAt before Redis
	// evicted it.
	ErrExpired = errors.New("session expired")
	ErrCorrupt = errors.New("session corrupt")
	// ErrRedisUnavailable is wrapped around every backend failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Store keeps each record under <prefix>:s:<session id> and indexes ids in
// the set <prefix>:i:<identity id>. Multi-key writes go through
// transactional pipelines, which the cluster client splits per slot.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewStore returns a Store rooted at prefix ("as" when empty).
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) recordKey(sessionID string) string { return s.prefix + ":s:" + sessionID }

func (s *Store) indexKey(identityID string) string { return s.prefix + ":i:" + identityID }

// Save writes sess with ttl and adds it to its identity's index, whose TTL
// is pushed out to match.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	blob, err := Encode(sess)
	if err != nil {
		return err
	}
	idx := s.indexKey(sess.IdentityID)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.recordKey(sess.SessionID), blob, ttl)
		p.SAdd(ctx, idx, sess.SessionID)
		p.Expire(ctx, idx, ttl)
		return nil
	})
	return wrap(err)
}

// Get returns the live record for sessionID. A record found past its
// ExpiresAt is deleted and reported as ErrExpired.
func (s *Store) Get(ctx context.Context, sessionID string, now time.Time) (*Session, error) {
	blob, err := s.rdb.Get(ctx, s.recordKey(sessionID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrNotFound
	case err != nil:
		return nil, wrap(err)
	}
	sess, err := Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	sess.SessionID = sessionID
	if now.Unix() < sess.ExpiresAt {
		return sess, nil
	}
	if _, err := s.Delete(ctx, sess.IdentityID, sessionID); err != nil {
		return nil, err
	}
	return nil, ErrExpired
}

// Delete removes one session and its index entry. It reports whether the
// record still existed; deleting twice is not an error.
func (s *Store) Delete(ctx context.Context, identityID, sessionID string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, s.recordKey(sessionID))
		p.SRem(ctx, s.indexKey(identityID), sessionID)
		return nil
	})
	if err != nil {
		return false, wrap(err)
	}
	return del.Val() == 1, nil
}

// DeleteAllForIdentity revokes every indexed session of identityID other
// than keep and returns how many records were still live.
func (s *Store) DeleteAllForIdentity(ctx context.Context, identityID, keep string) (int, error) {
	ids, err := s.ActiveSessionIDs(ctx, identityID)
	if err != nil {
		return 0, err
	}
	removed := make([]any, 0, len(ids))
	for _, id := range ids {
		if id != keep {
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	dels := make([]*redis.IntCmd, len(removed))
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range removed {
			dels[i] = p.Del(ctx, s.recordKey(id.(string)))
		}
		p.SRem(ctx, s.indexKey(identityID), removed...)
		return nil
	})
	if err != nil {
		return 0, wrap(err)
	}
	var n int
	for _, d := range dels {
		n += int(d.Val())
	}
	return n, nil
}

// ActiveSessionIDs lists the index for identityID. Entries can briefly
// outlive records that Redis already expired.
func (s *Store) ActiveSessionIDs(ctx context.Context, identityID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey(identityID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrap(err)
	}
	return ids, nil
}

// Ping returns the round-trip time to Redis.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return 0, wrap(err)
	}
	return time.Since(start), nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}
