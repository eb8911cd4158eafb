package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenRecordVersionV1 = 1

var (
	// ErrTokenNotFound indicates no record exists for the token or owner.
	ErrTokenNotFound = errors.New("token record not found")
	// ErrTokenExpired indicates the record existed past its deadline. The
	// record has been deleted by the time this error is returned.
	ErrTokenExpired = errors.New("token record expired")
)

// TokenRecord is one live verification token. Kind is opaque to the store;
// the engine assigns meaning. ExpiresAt and CreatedAt are Unix seconds.
type TokenRecord struct {
	Token        string
	OwnerID      string
	TenantID     string
	SubjectEmail string
	Kind         uint8
	CreatedAt    int64
	ExpiresAt    int64
}

func (r TokenRecord) live(now time.Time) bool {
	return now.Unix() < r.ExpiresAt
}

// TokenStore maps token → record with a secondary (owner, kind) index that
// holds at most one live entry. Put supersedes, Consume is single-use, and
// expiry is applied lazily on every read path.
type TokenStore interface {
	// Put stores the record, deleting any prior entry for the same
	// (owner, kind) first. Reports whether a live entry was superseded.
	Put(ctx context.Context, rec TokenRecord, ttl time.Duration) (superseded bool, err error)
	// Consume atomically looks up and deletes the record for token.
	Consume(ctx context.Context, token string) (*TokenRecord, error)
	// GetByOwner returns the live record for (owner, kind), deleting and
	// failing with ErrTokenExpired when the deadline has passed.
	GetByOwner(ctx context.Context, ownerID string, kind uint8) (*TokenRecord, error)
	// LiveBySubject returns all live records whose subject email matches.
	LiveBySubject(ctx context.Context, email string) ([]TokenRecord, error)
	Close()
}

func ownerKey(ownerID string, kind uint8) string {
	return ownerID + ":" + string('0'+rune(kind))
}

// MemoryTokenStore is the in-process TokenStore. A single mutex covers both
// indexes so supersession and consumption are atomic relative to each other.
// There is no background sweep: Consume and GetByOwner are the only access
// paths and unread expired entries stay bounded by the number of live owners.
type MemoryTokenStore struct {
	mu      sync.Mutex
	byToken map[string]TokenRecord
	byOwner map[string]string // ownerKey → token
	now     func() time.Time
}

// NewMemoryTokenStore creates a memory token store. A nil now falls back to
// time.Now.
func NewMemoryTokenStore(now func() time.Time) *MemoryTokenStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryTokenStore{
		byToken: make(map[string]TokenRecord),
		byOwner: make(map[string]string),
		now:     now,
	}
}

// Put stores rec, superseding any prior (owner, kind) entry.
func (s *MemoryTokenStore) Put(_ context.Context, rec TokenRecord, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := ownerKey(rec.OwnerID, rec.Kind)
	superseded := false
	if old, exists := s.byOwner[ok]; exists {
		if prev, found := s.byToken[old]; found {
			superseded = prev.live(s.now())
			delete(s.byToken, old)
		}
	}

	s.byToken[rec.Token] = rec
	s.byOwner[ok] = rec.Token
	return superseded, nil
}

// Consume looks up and deletes the record for token in one step.
func (s *MemoryTokenStore) Consume(_ context.Context, token string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byToken[token]
	if !ok {
		return nil, ErrTokenNotFound
	}

	s.deleteLocked(rec)
	if !rec.live(s.now()) {
		return nil, ErrTokenExpired
	}
	return &rec, nil
}

// GetByOwner returns the live record for (owner, kind).
func (s *MemoryTokenStore) GetByOwner(_ context.Context, ownerID string, kind uint8) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byOwner[ownerKey(ownerID, kind)]
	if !ok {
		return nil, ErrTokenNotFound
	}
	rec, ok := s.byToken[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if !rec.live(s.now()) {
		s.deleteLocked(rec)
		return nil, ErrTokenExpired
	}
	return &rec, nil
}

// LiveBySubject scans for live records on the given email.
func (s *MemoryTokenStore) LiveBySubject(_ context.Context, email string) ([]TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []TokenRecord
	for _, rec := range s.byToken {
		if rec.SubjectEmail != email {
			continue
		}
		if !rec.live(now) {
			s.deleteLocked(rec)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryTokenStore) Close() {}

func (s *MemoryTokenStore) deleteLocked(rec TokenRecord) {
	delete(s.byToken, rec.Token)
	ok := ownerKey(rec.OwnerID, rec.Kind)
	if s.byOwner[ok] == rec.Token {
		delete(s.byOwner, ok)
	}
}

// RedisTokenStore is the TokenStore for multi-process deployments. Layout:
//
//	<prefix>:t:<token>        — encoded record, TTL = token TTL
//	<prefix>:o:<owner>:<kind> — token string, same TTL (the owner index)
//	<prefix>:s:<email>        — SET of tokens pending on that address
//
// Dead members of the subject set are pruned lazily on read.
type RedisTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisTokenStore creates a Redis token store. Keys are written under the
// given prefix.
func NewRedisTokenStore(redisClient redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "gsvt"
	}
	return &RedisTokenStore{redis: redisClient, prefix: prefix}
}

func (s *RedisTokenStore) tokenKey(token string) string {
	return s.prefix + ":t:" + token
}

func (s *RedisTokenStore) ownerIdxKey(ownerID string, kind uint8) string {
	return s.prefix + ":o:" + ownerKey(ownerID, kind)
}

func (s *RedisTokenStore) subjectKey(email string) string {
	return s.prefix + ":s:" + email
}

// Put stores rec, superseding any prior (owner, kind) entry. The owner index
// is WATCHed so two concurrent issues for the same owner cannot both keep
// their token.
func (s *RedisTokenStore) Put(ctx context.Context, rec TokenRecord, ttl time.Duration) (bool, error) {
	const maxRetries = 4
	idxKey := s.ownerIdxKey(rec.OwnerID, rec.Kind)

	encoded, err := encodeTokenRecord(rec)
	if err != nil {
		return false, err
	}

	for i := 0; i < maxRetries; i++ {
		var superseded bool

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			oldToken, err := tx.Get(ctx, idxKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			// Superseded means a still-live record was displaced, matching
			// the memory store; an index entry over a lapsed record is not
			// counted.
			oldLive := false
			if oldToken != "" {
				data, err := tx.Get(ctx, s.tokenKey(oldToken)).Bytes()
				if err != nil && !errors.Is(err, redis.Nil) {
					return err
				}
				if err == nil {
					if old, decErr := decodeTokenRecord(data); decErr == nil {
						oldLive = old.live(time.Now())
					}
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if oldToken != "" {
					superseded = oldLive
					pipe.Del(ctx, s.tokenKey(oldToken))
				}
				pipe.Set(ctx, s.tokenKey(rec.Token), encoded, ttl)
				pipe.Set(ctx, idxKey, rec.Token, ttl)
				pipe.SAdd(ctx, s.subjectKey(rec.SubjectEmail), rec.Token)
				pipe.Expire(ctx, s.subjectKey(rec.SubjectEmail), ttl)
				return nil
			})
			return err
		}, idxKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return superseded, nil
	}

	return false, fmt.Errorf("%w: put contention not resolved", ErrUnavailable)
}

// Consume atomically looks up and deletes the record for token.
func (s *RedisTokenStore) Consume(ctx context.Context, token string) (*TokenRecord, error) {
	const maxRetries = 4
	key := s.tokenKey(token)

	for i := 0; i < maxRetries; i++ {
		var matched *TokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeTokenRecord(data)
			if err != nil {
				return err
			}

			expired := !rec.live(time.Now())
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.Del(ctx, s.ownerIdxKey(rec.OwnerID, rec.Kind))
				pipe.SRem(ctx, s.subjectKey(rec.SubjectEmail), rec.Token)
				return nil
			})
			if err != nil {
				return err
			}
			if expired {
				return ErrTokenExpired
			}

			matched = rec
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrTokenNotFound
			case errors.Is(err, ErrTokenExpired):
				return nil, ErrTokenExpired
			default:
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		return matched, nil
	}

	return nil, ErrTokenNotFound
}

// GetByOwner returns the live record for (owner, kind).
func (s *RedisTokenStore) GetByOwner(ctx context.Context, ownerID string, kind uint8) (*TokenRecord, error) {
	token, err := s.redis.Get(ctx, s.ownerIdxKey(ownerID, kind)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	data, err := s.redis.Get(ctx, s.tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rec, err := decodeTokenRecord(data)
	if err != nil {
		return nil, err
	}
	if !rec.live(time.Now()) {
		// Redis TTL should have removed it already; clean up anyway.
		_, _ = s.redis.Del(ctx, s.tokenKey(token), s.ownerIdxKey(ownerID, kind)).Result()
		return nil, ErrTokenExpired
	}
	return rec, nil
}

// LiveBySubject returns all live records pending on email, pruning dead
// subject-set members as it goes.
func (s *RedisTokenStore) LiveBySubject(ctx context.Context, email string) ([]TokenRecord, error) {
	members, err := s.redis.SMembers(ctx, s.subjectKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := time.Now()
	var out []TokenRecord
	for _, token := range members {
		data, err := s.redis.Get(ctx, s.tokenKey(token)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				_, _ = s.redis.SRem(ctx, s.subjectKey(email), token).Result()
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		rec, err := decodeTokenRecord(data)
		if err != nil {
			return nil, err
		}
		if !rec.live(now) {
			_, _ = s.redis.SRem(ctx, s.subjectKey(email), token).Result()
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisTokenStore) Close() {}

func encodeTokenRecord(rec TokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)
	buf.WriteByte(rec.Kind)
	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{rec.Token, rec.OwnerID, rec.TenantID, rec.SubjectEmail} {
		if len(field) > 65535 {
			return nil, errors.New("token record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	rec := &TokenRecord{Kind: kind}
	if err := binary.Read(reader, binary.BigEndian, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []*string{&rec.Token, &rec.OwnerID, &rec.TenantID, &rec.SubjectEmail} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*field = string(raw)
	}

	return rec, nil
}
