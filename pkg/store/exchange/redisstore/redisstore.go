/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package redisstore is an exchange store shared between service replicas through redis.
// Sequence checks use optimistic WATCH transactions and records expire natively at recordExpiresAt.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	exchangestore "github.com/hyperledger/aries-exchanger/pkg/store/exchange"
)

const defaultPrefix = "exchanger"

var logger = log.New("aries-exchanger/store/redis")

// Store is a redis backed exchange store.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Opt configures the store.
type Opt func(s *Store)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) Opt {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Opt {
	return func(s *Store) {
		s.now = now
	}
}

// New returns a redis exchange store.
func New(client redis.UniversalClient, opts ...Opt) *Store {
	s := &Store{client: client, prefix: defaultPrefix, now: time.Now}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create stores a new exchange.
func (s *Store) Create(ctx context.Context, ex exchange.Exchange) error {
	if ex.ID == "" {
		return errors.New("exchange id is mandatory")
	}

	b, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal exchange: %w", err)
	}

	ttl := s.retention(ex)

	ok, err := s.client.SetNX(ctx, s.exchangeKey(ex.ID), b, ttl).Result()
	if err != nil {
		return fmt.Errorf("store exchange: %w", err)
	}

	if !ok {
		return fmt.Errorf("%w: %s", exchangestore.ErrDuplicateExchange, ex.ID)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.writeIndexes(ctx, pipe, exchange.Exchange{}, ex, ttl)

		return nil
	})
	if err != nil {
		return fmt.Errorf("store exchange indexes: %w", err)
	}

	return nil
}

// Get returns the exchange with the given id.
func (s *Store) Get(ctx context.Context, id string, allowExpired bool) (exchange.Exchange, error) {
	ex, err := s.get(ctx, s.client, id)
	if err != nil {
		return exchange.Exchange{}, err
	}

	return s.checkExpiry(ex, allowExpired)
}

// GetByAccessToken returns the exchange holding the given access token.
func (s *Store) GetByAccessToken(ctx context.Context, token string, allowExpired bool) (exchange.Exchange, error) {
	ex, err := s.byIndex(ctx, s.tokenKey(token))
	if err != nil {
		return exchange.Exchange{}, err
	}

	if ex.AccessToken != token {
		return exchange.Exchange{}, exchangestore.ErrExchangeNotFound
	}

	return s.checkExpiry(ex, allowExpired)
}

// GetByOIDCCode returns the non-expired exchange holding the given one-time code.
func (s *Store) GetByOIDCCode(ctx context.Context, code string) (exchange.Exchange, error) {
	ex, err := s.byIndex(ctx, s.codeKey(code))
	if err != nil {
		return exchange.Exchange{}, err
	}

	if ex.OIDC.Code != code {
		return exchange.Exchange{}, exchangestore.ErrExchangeNotFound
	}

	return s.checkExpiry(ex, false)
}

// Update stores ex if the stored sequence equals ex.Sequence-1.
func (s *Store) Update(ctx context.Context, ex exchange.Exchange) error {
	key := s.exchangeKey(ex.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, ex.ID)
		if err != nil {
			return err
		}

		if current.Sequence != ex.Sequence-1 {
			return fmt.Errorf("%w: stored sequence %d, update sequence %d",
				exchangestore.ErrConflict, current.Sequence, ex.Sequence)
		}

		return s.write(ctx, tx, current, ex)
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent write to %s", exchangestore.ErrConflict, ex.ID)
	}

	return err
}

// Replace stores ex without a sequence check.
func (s *Store) Replace(ctx context.Context, ex exchange.Exchange) error {
	current, err := s.get(ctx, s.client, ex.ID)
	if err != nil && !errors.Is(err, exchangestore.ErrExchangeNotFound) {
		return err
	}

	return s.write(ctx, s.client, current, ex)
}

// Sweep is a no-op: redis expires records at recordExpiresAt.
func (s *Store) Sweep(context.Context) (int, error) {
	return 0, nil
}

type txPipeliner interface {
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

func (s *Store) write(ctx context.Context, c txPipeliner, current, ex exchange.Exchange) error {
	b, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal exchange: %w", err)
	}

	ttl := s.retention(ex)

	_, err = c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.exchangeKey(ex.ID), b, ttl)
		s.writeIndexes(ctx, pipe, current, ex, ttl)

		return nil
	})
	if err != nil {
		return fmt.Errorf("store exchange: %w", err)
	}

	return nil
}

func (s *Store) writeIndexes(ctx context.Context, pipe redis.Pipeliner, current, ex exchange.Exchange,
	ttl time.Duration) {
	if current.AccessToken != "" && current.AccessToken != ex.AccessToken {
		pipe.Del(ctx, s.tokenKey(current.AccessToken))
	}

	if current.OIDC.Code != "" && current.OIDC.Code != ex.OIDC.Code {
		pipe.Del(ctx, s.codeKey(current.OIDC.Code))
	}

	if ex.AccessToken != "" {
		pipe.Set(ctx, s.tokenKey(ex.AccessToken), ex.ID, ttl)
	}

	if ex.OIDC.Code != "" {
		pipe.Set(ctx, s.codeKey(ex.OIDC.Code), ex.ID, ttl)
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) get(ctx context.Context, c getter, id string) (exchange.Exchange, error) {
	b, err := c.Get(ctx, s.exchangeKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return exchange.Exchange{}, exchangestore.ErrExchangeNotFound
		}

		return exchange.Exchange{}, fmt.Errorf("failed to get exchange: %w", err)
	}

	var ex exchange.Exchange

	if err := json.Unmarshal(b, &ex); err != nil {
		return exchange.Exchange{}, fmt.Errorf("unmarshal exchange: %w", err)
	}

	return ex, nil
}

func (s *Store) byIndex(ctx context.Context, indexKey string) (exchange.Exchange, error) {
	id, err := s.client.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return exchange.Exchange{}, exchangestore.ErrExchangeNotFound
		}

		return exchange.Exchange{}, fmt.Errorf("failed to read index: %w", err)
	}

	return s.get(ctx, s.client, id)
}

func (s *Store) checkExpiry(ex exchange.Exchange, allowExpired bool) (exchange.Exchange, error) {
	if !allowExpired && ex.Expired(s.now()) {
		return exchange.Exchange{}, exchangestore.ErrExchangeNotFound
	}

	return ex, nil
}

func (s *Store) retention(ex exchange.Exchange) time.Duration {
	ttl := ex.RecordExpiresAt.Sub(s.now())
	if ttl < time.Second {
		logger.Debugf("exchange %s is past its retention horizon", ex.ID)

		return time.Second
	}

	return ttl
}

func (s *Store) exchangeKey(id string) string {
	return s.prefix + ":exchange:" + id
}

func (s *Store) tokenKey(token string) string {
	return s.prefix + ":token:" + token
}

func (s *Store) codeKey(code string) string {
	return s.prefix + ":code:" + code
}
