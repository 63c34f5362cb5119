package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aretw0/concierge/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "concierge:"

// farFuture is the index score of conversations that never expire.
const farFuture = 4102444800 // 2100-01-01

// Store implements ports.ConversationStore using Redis.
//
// State lives in one JSON string per conversation, the transition log in a
// list, and a sorted set per workspace indexes conversations by expiry.
// CompareAndSwap uses WATCH/MULTI so concurrent replicas cannot interleave.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for conversations. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store, dialing its own client.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) stateKey(key domain.ConversationKey) string {
	return s.prefix + "state:" + key.WorkspaceID + ":" + key.ConversationID
}

func (s *Store) logKey(key domain.ConversationKey) string {
	return s.prefix + "log:" + key.WorkspaceID + ":" + key.ConversationID
}

func (s *Store) indexKey(workspaceID string) string {
	return s.prefix + "index:" + workspaceID
}

// Load retrieves the state from Redis.
func (s *Store) Load(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	val, err := s.client.Get(ctx, s.stateKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var state domain.ConversationState
	if err := json.Unmarshal(val, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// CompareAndSwap commits next when the stored version matches expectedVersion.
func (s *Store) CompareAndSwap(ctx context.Context, next *domain.ConversationState, expectedVersion int64) (*domain.ConversationState, error) {
	key := next.Key()
	stateKey := s.stateKey(key)
	conflict := &domain.ConflictError{Key: key, ExpectedVersion: expectedVersion}

	var committed *domain.ConversationState
	txf := func(tx *backend.Tx) error {
		var current int64
		raw, err := tx.Get(ctx, stateKey).Bytes()
		switch {
		case errors.Is(err, backend.Nil):
		case err != nil:
			return fmt.Errorf("failed to read current version: %w", err)
		default:
			var stored domain.ConversationState
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("failed to unmarshal state: %w", err)
			}
			current = stored.Version
		}
		if current != expectedVersion {
			return conflict
		}

		c := next.Clone()
		c.Version = expectedVersion + 1
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, stateKey, data, s.ttl)
			pipe.ZAdd(ctx, s.indexKey(key.WorkspaceID), backend.Z{
				Score:  s.expiryScore(),
				Member: key.ConversationID,
			})
			return nil
		})
		if err != nil {
			return err
		}
		committed = c
		return nil
	}

	err := s.client.Watch(ctx, txf, stateKey)
	switch {
	case err == nil:
		return committed, nil
	case errors.Is(err, backend.TxFailedErr):
		return nil, conflict
	case errors.Is(err, domain.ErrConflict):
		return nil, err
	}
	return nil, fmt.Errorf("failed to commit to redis: %w", err)
}

func (s *Store) expiryScore() float64 {
	if s.ttl == 0 {
		return farFuture
	}
	return float64(time.Now().Add(s.ttl).Unix())
}

// Append pushes a record onto the conversation log.
func (s *Store) Append(ctx context.Context, record domain.TransitionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	logKey := s.logKey(record.Key())

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.RPush(ctx, logKey, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, logKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append to redis: %w", err)
	}
	return nil
}

// Transitions returns the conversation log in append order.
func (s *Store) Transitions(ctx context.Context, key domain.ConversationKey) ([]domain.TransitionRecord, error) {
	raws, err := s.client.LRange(ctx, s.logKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read log from redis: %w", err)
	}
	records := make([]domain.TransitionRecord, 0, len(raws))
	for _, raw := range raws {
		var rec domain.TransitionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// List returns the live conversation ids of a workspace, sorted.
// Expired entries are pruned from the index lazily.
func (s *Store) List(ctx context.Context, workspaceID string) ([]string, error) {
	now := float64(time.Now().Unix())
	idx := s.indexKey(workspaceID)

	if err := s.client.ZRemRangeByScore(ctx, idx, "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired conversations: %w", err)
	}

	ids, err := s.client.ZRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
