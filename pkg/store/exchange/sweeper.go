/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import (
	"context"
	"time"
)

// Sweeper periodically deletes exchange records past their retention horizon.
type Sweeper struct {
	store    Store
	interval time.Duration
	onSwept  func(n int)
}

// SweeperOpt configures a Sweeper.
type SweeperOpt func(s *Sweeper)

// WithSweptHook is called with the number of records deleted by each successful sweep.
func WithSweptHook(fn func(n int)) SweeperOpt {
	return func(s *Sweeper) {
		s.onSwept = fn
	}
}

// NewSweeper returns a Sweeper running every interval.
func NewSweeper(store Store, interval time.Duration, opts ...SweeperOpt) *Sweeper {
	s := &Sweeper{store: store, interval: interval}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.Sweep(ctx)
			if err != nil {
				logger.Warnf("exchange sweep failed: %s", err)

				continue
			}

			if s.onSwept != nil {
				s.onSwept(n)
			}

			if n > 0 {
				logger.Infof("deleted %d expired exchange records", n)
			}
		}
	}
}
