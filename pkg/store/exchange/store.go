/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package exchange persists exchange records.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
)

const (
	// NameSpace for exchange store.
	NameSpace = "exchange"

	accessTokenTag     = "accessToken"
	oidcCodeTag        = "oidcCode"
	recordExpiresAtTag = "recordExpiresAt"
)

var logger = log.New("aries-exchanger/store/exchange")

var (
	// ErrExchangeNotFound is returned when an exchange does not exist or has expired.
	ErrExchangeNotFound = errors.New("exchange not found")
	// ErrDuplicateExchange is returned when creating an exchange whose id is taken.
	ErrDuplicateExchange = errors.New("duplicate exchange")
	// ErrConflict is returned when an update is based on a stale sequence.
	ErrConflict = errors.New("exchange sequence conflict")
)

// Store is the exchange persistence contract.
type Store interface {
	Create(ctx context.Context, ex exchange.Exchange) error
	Get(ctx context.Context, id string, allowExpired bool) (exchange.Exchange, error)
	GetByAccessToken(ctx context.Context, token string, allowExpired bool) (exchange.Exchange, error)
	GetByOIDCCode(ctx context.Context, code string) (exchange.Exchange, error)
	// Update writes ex if the stored sequence equals ex.Sequence-1.
	Update(ctx context.Context, ex exchange.Exchange) error
	// Replace writes ex unconditionally.
	Replace(ctx context.Context, ex exchange.Exchange) error
	// Sweep deletes records past their recordExpiresAt and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// Opt configures a store.
type Opt func(o *options)

type options struct {
	now func() time.Time
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Opt {
	return func(o *options) {
		o.now = now
	}
}

func applyOpts(opts []Opt) *options {
	o := &options{now: time.Now}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// SPIStore is a Store over an aries storage provider (mem, leveldb).
// Sequence checks are serialized within the process.
type SPIStore struct {
	store storage.Store
	now   func() time.Time
	mu    sync.Mutex
}

// New returns a new exchange store.
func New(provider storage.Provider, opts ...Opt) (*SPIStore, error) {
	store, err := provider.OpenStore(NameSpace)
	if err != nil {
		return nil, fmt.Errorf("failed to open exchange store: %w", err)
	}

	err = provider.SetStoreConfig(NameSpace, storage.StoreConfiguration{
		TagNames: []string{accessTokenTag, oidcCodeTag, recordExpiresAtTag},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set store configuration: %w", err)
	}

	return &SPIStore{store: store, now: applyOpts(opts).now}, nil
}

// Create stores a new exchange.
func (s *SPIStore) Create(_ context.Context, ex exchange.Exchange) error {
	if ex.ID == "" {
		return errors.New("exchange id is mandatory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.store.Get(ex.ID)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateExchange, ex.ID)
	}

	if !errors.Is(err, storage.ErrDataNotFound) {
		return fmt.Errorf("get exchange: %w", err)
	}

	return s.put(ex)
}

// Get returns the exchange with the given id.
func (s *SPIStore) Get(_ context.Context, id string, allowExpired bool) (exchange.Exchange, error) {
	ex, err := s.get(id)
	if err != nil {
		return exchange.Exchange{}, err
	}

	return s.checkExpiry(ex, allowExpired)
}

// GetByAccessToken returns the exchange holding the given access token.
func (s *SPIStore) GetByAccessToken(_ context.Context, token string, allowExpired bool) (exchange.Exchange, error) {
	ex, err := s.queryOne(accessTokenTag, token)
	if err != nil {
		return exchange.Exchange{}, err
	}

	return s.checkExpiry(ex, allowExpired)
}

// GetByOIDCCode returns the non-expired exchange holding the given one-time code.
func (s *SPIStore) GetByOIDCCode(_ context.Context, code string) (exchange.Exchange, error) {
	ex, err := s.queryOne(oidcCodeTag, code)
	if err != nil {
		return exchange.Exchange{}, err
	}

	if ex.OIDC.Code != code {
		return exchange.Exchange{}, ErrExchangeNotFound
	}

	return s.checkExpiry(ex, false)
}

// Update stores ex if no concurrent writer advanced the sequence.
func (s *SPIStore) Update(_ context.Context, ex exchange.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.get(ex.ID)
	if err != nil {
		return err
	}

	if current.Sequence != ex.Sequence-1 {
		return fmt.Errorf("%w: stored sequence %d, update sequence %d", ErrConflict, current.Sequence, ex.Sequence)
	}

	return s.put(ex)
}

// Replace stores ex without a sequence check.
func (s *SPIStore) Replace(_ context.Context, ex exchange.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.put(ex)
}

// Sweep deletes records past their retention horizon.
func (s *SPIStore) Sweep(ctx context.Context) (int, error) {
	itr, err := s.store.Query(recordExpiresAtTag)
	if err != nil {
		return 0, fmt.Errorf("query exchanges: %w", err)
	}

	defer func() {
		errClose := itr.Close()
		if errClose != nil {
			logger.Errorf("failed to close iterator: %s", errClose.Error())
		}
	}()

	now := s.now().Unix()

	var ops []storage.Operation

	more, err := itr.Next()
	if err != nil {
		return 0, fmt.Errorf("iterate exchanges: %w", err)
	}

	for more {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		expired, key, err := recordExpired(itr, now)
		if err != nil {
			return 0, err
		}

		if expired {
			ops = append(ops, storage.Operation{Key: key})
		}

		more, err = itr.Next()
		if err != nil {
			return 0, fmt.Errorf("iterate exchanges: %w", err)
		}
	}

	if len(ops) == 0 {
		return 0, nil
	}

	if err := s.store.Batch(ops); err != nil {
		return 0, fmt.Errorf("delete expired exchanges: %w", err)
	}

	logger.Debugf("swept %d expired exchange records", len(ops))

	return len(ops), nil
}

func recordExpired(itr storage.Iterator, now int64) (bool, string, error) {
	key, err := itr.Key()
	if err != nil {
		return false, "", fmt.Errorf("read exchange key: %w", err)
	}

	tags, err := itr.Tags()
	if err != nil {
		return false, "", fmt.Errorf("read exchange tags: %w", err)
	}

	for _, tag := range tags {
		if tag.Name != recordExpiresAtTag {
			continue
		}

		at, err := strconv.ParseInt(tag.Value, 10, 64)
		if err != nil {
			logger.Warnf("exchange %s: invalid %s tag %q", key, recordExpiresAtTag, tag.Value)

			return false, key, nil
		}

		return now >= at, key, nil
	}

	return false, key, nil
}

func (s *SPIStore) put(ex exchange.Exchange) error {
	b, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal exchange: %w", err)
	}

	tags := []storage.Tag{
		{Name: recordExpiresAtTag, Value: strconv.FormatInt(ex.RecordExpiresAt.Unix(), 10)},
	}

	if ex.AccessToken != "" {
		tags = append(tags, storage.Tag{Name: accessTokenTag, Value: ex.AccessToken})
	}

	if ex.OIDC.Code != "" {
		tags = append(tags, storage.Tag{Name: oidcCodeTag, Value: ex.OIDC.Code})
	}

	if err := s.store.Put(ex.ID, b, tags...); err != nil {
		return fmt.Errorf("failed to put exchange: %w", err)
	}

	return nil
}

func (s *SPIStore) get(id string) (exchange.Exchange, error) {
	b, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return exchange.Exchange{}, ErrExchangeNotFound
		}

		return exchange.Exchange{}, fmt.Errorf("failed to get exchange: %w", err)
	}

	return unmarshal(b)
}

func (s *SPIStore) queryOne(tag, value string) (exchange.Exchange, error) {
	if !validTagValue(value) {
		return exchange.Exchange{}, ErrExchangeNotFound
	}

	itr, err := s.store.Query(tag + ":" + value)
	if err != nil {
		return exchange.Exchange{}, fmt.Errorf("query exchange by %s: %w", tag, err)
	}

	defer func() {
		errClose := itr.Close()
		if errClose != nil {
			logger.Errorf("failed to close iterator: %s", errClose.Error())
		}
	}()

	more, err := itr.Next()
	if err != nil {
		return exchange.Exchange{}, fmt.Errorf("iterate exchanges: %w", err)
	}

	if !more {
		return exchange.Exchange{}, ErrExchangeNotFound
	}

	b, err := itr.Value()
	if err != nil {
		return exchange.Exchange{}, fmt.Errorf("read exchange: %w", err)
	}

	return unmarshal(b)
}

func (s *SPIStore) checkExpiry(ex exchange.Exchange, allowExpired bool) (exchange.Exchange, error) {
	if !allowExpired && ex.Expired(s.now()) {
		return exchange.Exchange{}, ErrExchangeNotFound
	}

	return ex, nil
}

func unmarshal(b []byte) (exchange.Exchange, error) {
	var ex exchange.Exchange

	if err := json.Unmarshal(b, &ex); err != nil {
		return exchange.Exchange{}, fmt.Errorf("unmarshal exchange: %w", err)
	}

	return ex, nil
}

func validTagValue(v string) bool {
	return v != "" && !strings.ContainsAny(v, ":&")
}
