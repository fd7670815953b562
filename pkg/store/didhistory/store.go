/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didhistory stores the observed versions of issuer DID documents.
package didhistory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"
)

// NameSpace for did history store.
const NameSpace = "didhistory"

var (
	// ErrRecordNotFound is returned when no history exists for a DID.
	ErrRecordNotFound = errors.New("did history not found")
	// ErrRecordExists is returned when creating a history that already exists.
	ErrRecordExists = errors.New("did history already exists")
)

// Window is one version of a DID document. ValidUntil is nil for the current version.
type Window struct {
	ValidFrom   time.Time       `json:"validFrom"`
	ValidUntil  *time.Time      `json:"validUntil"`
	DIDDocument json.RawMessage `json:"didDocument"`
}

// Record is the document history of a DID. Windows are ordered, contiguous and only the last one
// may be open-ended.
type Record struct {
	DID     string   `json:"did"`
	History []Window `json:"history"`
}

// Current returns the open-ended window, if any.
func (r *Record) Current() (*Window, bool) {
	if len(r.History) == 0 {
		return nil, false
	}

	last := &r.History[len(r.History)-1]

	return last, last.ValidUntil == nil
}

// Store stores did document histories.
type Store struct {
	store storage.Store
}

// New returns a new did history store.
func New(provider storage.Provider) (*Store, error) {
	store, err := provider.OpenStore(NameSpace)
	if err != nil {
		return nil, fmt.Errorf("failed to open did history store: %w", err)
	}

	return &Store{store: store}, nil
}

// Create stores a new history; an existing history yields ErrRecordExists.
func (s *Store) Create(rec *Record) error {
	if rec.DID == "" {
		return errors.New("did is mandatory")
	}

	_, err := s.store.Get(rec.DID)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrRecordExists, rec.DID)
	}

	if !errors.Is(err, storage.ErrDataNotFound) {
		return fmt.Errorf("get did history: %w", err)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal did history: %w", err)
	}

	err = s.store.Batch([]storage.Operation{{
		Key:        rec.DID,
		Value:      b,
		PutOptions: &storage.PutOptions{IsNewKey: true},
	}})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("%w: %s", ErrRecordExists, rec.DID)
		}

		return fmt.Errorf("failed to put did history: %w", err)
	}

	return nil
}

// Get returns the history of did.
func (s *Store) Get(did string) (*Record, error) {
	b, err := s.store.Get(did)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, ErrRecordNotFound
		}

		return nil, fmt.Errorf("failed to get did history: %w", err)
	}

	rec := &Record{}

	if err := json.Unmarshal(b, rec); err != nil {
		return nil, fmt.Errorf("unmarshal did history: %w", err)
	}

	return rec, nil
}

// Update overwrites the history of rec.DID.
func (s *Store) Update(rec *Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal did history: %w", err)
	}

	if err := s.store.Put(rec.DID, b); err != nil {
		return fmt.Errorf("failed to put did history: %w", err)
	}

	return nil
}
