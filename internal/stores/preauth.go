package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	preAuthRecordVersion1 = 1
	maxTxRetries          = 4
)

// PreAuthState is the lifecycle position of a pre-auth record.
type PreAuthState uint8

const (
	// PreAuthPending accepts code submissions.
	PreAuthPending PreAuthState = iota
	// PreAuthConsumed has been exchanged for a session token.
	PreAuthConsumed
	// PreAuthLocked exhausted its attempt budget.
	PreAuthLocked
)

var (
	ErrPreAuthNotFound = errors.New("pre-auth record not found")
	ErrPreAuthExpired  = errors.New("pre-auth record expired")
	ErrPreAuthConsumed = errors.New("pre-auth record already consumed")
	ErrPreAuthLocked   = errors.New("pre-auth record locked")
	ErrPreAuthBackend  = errors.New("pre-auth backend unavailable")
)

// PreAuthRecord binds a pre-auth token id to the identity that passed step one.
type PreAuthRecord struct {
	IdentityID string
	IssuedAt   int64
	ExpiresAt  int64
	Attempts   uint16
	State      PreAuthState
}

// PreAuthStore persists pre-auth records under <prefix>:<token id>.
type PreAuthStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPreAuthStore(redisClient redis.UniversalClient, prefix string) *PreAuthStore {
	if prefix == "" {
		prefix = "apa"
	}
	return &PreAuthStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PreAuthStore) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}

// Save writes a fresh record. The key outlives ExpiresAt by retention so a
// consumed record keeps answering "already used" instead of "not found".
func (s *PreAuthStore) Save(ctx context.Context, tokenID string, record *PreAuthRecord, ttl time.Duration) error {
	encoded, err := encodePreAuthRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(tokenID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPreAuthBackend, err)
	}
	return nil
}

// Get returns a pending, unexpired record.
func (s *PreAuthStore) Get(ctx context.Context, tokenID string, now time.Time) (*PreAuthRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPreAuthNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPreAuthBackend, err)
	}

	record, err := decodePreAuthRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPreAuthBackend, err)
	}
	if err := record.usable(now); err != nil {
		return nil, err
	}
	return record, nil
}

// Consume atomically moves a pending record to consumed and returns it.
// Under concurrent calls with the same token id at most one succeeds; the
// others observe ErrPreAuthConsumed.
func (s *PreAuthStore) Consume(ctx context.Context, tokenID string, now time.Time) (*PreAuthRecord, error) {
	key := s.key(tokenID)

	for i := 0; i < maxTxRetries; i++ {
		var consumed *PreAuthRecord
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodePreAuthRecord(data)
			if err != nil {
				return err
			}
			if err := record.usable(now); err != nil {
				return err
			}

			record.State = PreAuthConsumed
			updated, err := encodePreAuthRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
				return nil
			})
			if err != nil {
				return err
			}
			consumed = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, mapPreAuthTxError(err)
		}
		return consumed, nil
	}

	return nil, fmt.Errorf("%w: consume contention", ErrPreAuthBackend)
}

// RecordFailure counts a wrong code. When the count reaches maxAttempts the
// record is locked and exceeded is true.
func (s *PreAuthStore) RecordFailure(ctx context.Context, tokenID string, maxAttempts int, now time.Time) (bool, error) {
	key := s.key(tokenID)

	for i := 0; i < maxTxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodePreAuthRecord(data)
			if err != nil {
				return err
			}
			if err := record.usable(now); err != nil {
				return err
			}

			record.Attempts++
			if maxAttempts > 0 && int(record.Attempts) >= maxAttempts {
				record.State = PreAuthLocked
				exceeded = true
			}
			updated, err := encodePreAuthRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, mapPreAuthTxError(err)
		}
		return exceeded, nil
	}

	return false, fmt.Errorf("%w: record failure contention", ErrPreAuthBackend)
}

func (r *PreAuthRecord) usable(now time.Time) error {
	switch r.State {
	case PreAuthConsumed:
		return ErrPreAuthConsumed
	case PreAuthLocked:
		return ErrPreAuthLocked
	}
	if now.Unix() >= r.ExpiresAt {
		return ErrPreAuthExpired
	}
	return nil
}

func mapPreAuthTxError(err error) error {
	switch {
	case errors.Is(err, redis.Nil):
		return ErrPreAuthNotFound
	case errors.Is(err, ErrPreAuthExpired),
		errors.Is(err, ErrPreAuthConsumed),
		errors.Is(err, ErrPreAuthLocked):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrPreAuthBackend, err)
	}
}

func encodePreAuthRecord(record *PreAuthRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(preAuthRecordVersion1)
	buf.WriteByte(byte(record.State))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.IdentityID) > 65535 {
		return nil, errors.New("pre-auth identity length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.IdentityID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.IdentityID)

	return buf.Bytes(), nil
}

func decodePreAuthRecord(data []byte) (*PreAuthRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != preAuthRecordVersion1 {
		return nil, errors.New("invalid pre-auth record version")
	}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if PreAuthState(state) > PreAuthLocked {
		return nil, errors.New("invalid pre-auth record state")
	}

	record := &PreAuthRecord{State: PreAuthState(state)}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.IdentityID = string(id)

	return record, nil
}
