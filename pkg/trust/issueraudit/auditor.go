/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package issueraudit keeps a history of issuer DID documents and answers what a document looked
// like at the time a credential was presented.
package issueraudit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/models/did"
	vdrspi "github.com/hyperledger/aries-framework-go/spi/vdr"

	"github.com/hyperledger/aries-exchanger/pkg/store/didhistory"
	"github.com/hyperledger/aries-exchanger/pkg/vdr"
)

var logger = log.New("aries-exchanger/issueraudit")

var (
	// ErrUntrustedIssuer is returned when an issuer DID was never observed.
	ErrUntrustedIssuer = errors.New("issuer has never been observed")
	// ErrNoDocumentAtTime is returned when no history window contains the requested time.
	ErrNoDocumentAtTime = errors.New("no did document valid at requested time")
)

// Resolver resolves the live document of a DID.
type Resolver interface {
	ResolveLive(did string, opts ...vdrspi.DIDMethodOption) (*did.DocResolution, error)
}

// HistoryStore persists did document histories.
type HistoryStore interface {
	Create(rec *didhistory.Record) error
	Get(did string) (*didhistory.Record, error)
	Update(rec *didhistory.Record) error
}

// Opt configures the auditor.
type Opt func(a *Auditor)

// WithClock sets the time source.
func WithClock(now func() time.Time) Opt {
	return func(a *Auditor) {
		a.now = now
	}
}

// WithTrackedMethods sets the did methods whose documents can change over time. Defaults to "web".
// Documents of other methods are derived from the DID itself and resolved live once observed.
func WithTrackedMethods(methods ...string) Opt {
	return func(a *Auditor) {
		a.tracked = make(map[string]struct{}, len(methods))

		for _, m := range methods {
			a.tracked[m] = struct{}{}
		}
	}
}

// Auditor records issuer DID document versions.
type Auditor struct {
	resolver Resolver
	store    HistoryStore
	now      func() time.Time
	tracked  map[string]struct{}
	wg       sync.WaitGroup
}

// New returns an auditor.
func New(resolver Resolver, store HistoryStore, opts ...Opt) *Auditor {
	a := &Auditor{
		resolver: resolver,
		store:    store,
		now:      time.Now,
		tracked:  map[string]struct{}{"web": {}},
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// RecordObservation resolves the live document of didID, seen in a presentation at seenAt, and updates
// its history. Failures are logged and never returned.
func (a *Auditor) RecordObservation(ctx context.Context, didID string, seenAt time.Time) {
	if err := a.recordObservation(ctx, didID, seenAt); err != nil {
		logger.Warnf("record observation of %s: %s", didID, err)
	}
}

// ObserveAsync records observations of dids seen at seenAt in the background.
func (a *Auditor) ObserveAsync(dids []string, seenAt time.Time) {
	if len(dids) == 0 {
		return
	}

	a.wg.Add(1)

	go func() {
		defer a.wg.Done()

		for _, d := range dids {
			a.RecordObservation(context.Background(), d, seenAt)
		}
	}()
}

// Wait blocks until background observations finished.
func (a *Auditor) Wait() {
	a.wg.Wait()
}

// recordObservation opens the first window of a tracked DID at the earlier of seenAt and now, so the
// presentation that led to the observation resolves to it. Later changes open windows at detection time.
func (a *Auditor) recordObservation(ctx context.Context, didID string, seenAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	method, err := vdr.GetDidMethod(didID)
	if err != nil {
		return err
	}

	_, tracked := a.tracked[method]

	res, err := a.resolver.ResolveLive(didID)
	if err != nil {
		return fmt.Errorf("resolve live document: %w", err)
	}

	if res.DIDDocument == nil {
		return errors.New("resolution returned no document")
	}

	live, err := res.DIDDocument.JSONBytes()
	if err != nil {
		return fmt.Errorf("marshal live document: %w", err)
	}

	now := a.now().UTC()

	rec, err := a.store.Get(didID)
	if errors.Is(err, didhistory.ErrRecordNotFound) {
		rec = &didhistory.Record{DID: didID, History: []didhistory.Window{}}

		if tracked {
			from := now
			if !seenAt.IsZero() && seenAt.Before(now) {
				from = seenAt.UTC()
			}

			rec.History = append(rec.History, didhistory.Window{ValidFrom: from, DIDDocument: live})
		}

		err = a.store.Create(rec)
		if errors.Is(err, didhistory.ErrRecordExists) {
			logger.Debugf("history of %s created concurrently", didID)

			return nil
		}

		return err
	}

	if err != nil {
		return err
	}

	if !tracked {
		return nil
	}

	changed, err := documentChanged(rec, live)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	if current, ok := rec.Current(); ok {
		until := now
		current.ValidUntil = &until
	}

	rec.History = append(rec.History, didhistory.Window{ValidFrom: now, DIDDocument: live})

	logger.Infof("did document of %s changed, history now holds %d versions", didID, len(rec.History))

	return a.store.Update(rec)
}

func documentChanged(rec *didhistory.Record, live []byte) (bool, error) {
	if len(rec.History) == 0 {
		return true, nil
	}

	last := rec.History[len(rec.History)-1]

	cachedCanon, err := jcs.Transform(last.DIDDocument)
	if err != nil {
		return false, fmt.Errorf("canonicalize cached document: %w", err)
	}

	liveCanon, err := jcs.Transform(live)
	if err != nil {
		return false, fmt.Errorf("canonicalize live document: %w", err)
	}

	return !bytes.Equal(cachedCanon, liveCanon), nil
}

// ResolveAsOf returns the document of didID that was valid at the given time. A DID that was never
// observed is untrusted. Observed DIDs of untracked methods resolve to their live document.
func (a *Auditor) ResolveAsOf(ctx context.Context, didID string, at time.Time) (*did.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := a.store.Get(didID)
	if err != nil {
		if errors.Is(err, didhistory.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUntrustedIssuer, didID)
		}

		return nil, err
	}

	if len(rec.History) == 0 && !a.isTracked(didID) {
		res, err := a.resolver.ResolveLive(didID)
		if err != nil {
			return nil, fmt.Errorf("resolve live document: %w", err)
		}

		if res.DIDDocument == nil {
			return nil, errors.New("resolution returned no document")
		}

		return res.DIDDocument, nil
	}

	w, err := windowAt(rec.History, at)
	if err != nil {
		return nil, fmt.Errorf("%s at %s: %w", didID, at.Format(time.RFC3339), err)
	}

	doc, err := did.ParseDocument(w.DIDDocument)
	if err != nil {
		return nil, fmt.Errorf("parse historical document: %w", err)
	}

	return doc, nil
}

func (a *Auditor) isTracked(didID string) bool {
	method, err := vdr.GetDidMethod(didID)
	if err != nil {
		return false
	}

	_, ok := a.tracked[method]

	return ok
}

func windowAt(history []didhistory.Window, at time.Time) (*didhistory.Window, error) {
	if len(history) == 0 {
		return nil, ErrNoDocumentAtTime
	}

	last := &history[len(history)-1]
	if !last.ValidFrom.After(at) && (last.ValidUntil == nil || at.Before(*last.ValidUntil)) {
		return last, nil
	}

	for i := range history[:len(history)-1] {
		w := &history[i]

		if w.ValidUntil == nil {
			continue
		}

		if !w.ValidFrom.After(at) && at.Before(*w.ValidUntil) {
			return w, nil
		}
	}

	return nil, ErrNoDocumentAtTime
}
