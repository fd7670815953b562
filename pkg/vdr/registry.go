/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package vdr resolves DIDs for presentation verification and issuer auditing.
package vdr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bluele/gcache"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/models/did"
	vdrapi "github.com/hyperledger/aries-framework-go/component/vdr/api"
	"github.com/hyperledger/aries-framework-go/component/vdr/key"
	"github.com/hyperledger/aries-framework-go/component/vdr/web"
	vdrspi "github.com/hyperledger/aries-framework-go/spi/vdr"

	"github.com/hyperledger/aries-exchanger/pkg/vdr/jwk"
)

const (
	defaultCacheSize       = 1000
	defaultCacheExpiration = 5 * time.Minute
	defaultFetchTimeout    = 5 * time.Second
)

var logger = log.New("aries-exchanger/vdr")

// Option is a registry option.
type Option func(opts *Registry)

// Registry is a read-only VDR registry with a bounded resolution cache.
type Registry struct {
	vdr        []vdrapi.VDR
	httpClient *http.Client
	cacheSize  int
	cacheTTL   time.Duration
	cache      gcache.Cache
}

// New returns a registry resolving did:key, did:web and did:jwk plus any VDR given with WithVDR.
func New(opts ...Option) *Registry {
	r := &Registry{
		httpClient: &http.Client{Timeout: defaultFetchTimeout},
		cacheSize:  defaultCacheSize,
		cacheTTL:   defaultCacheExpiration,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.vdr = append(r.vdr, key.New(), web.New(), jwk.New())

	if r.cacheSize > 0 {
		r.cache = gcache.New(r.cacheSize).LRU().Expiration(r.cacheTTL).Build()
	}

	return r
}

// WithVDR adds a did method implementation, taking precedence over the defaults.
func WithVDR(method vdrapi.VDR) Option {
	return func(opts *Registry) {
		opts.vdr = append(opts.vdr, method)
	}
}

// WithHTTPClient sets the client used by did:web.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *Registry) {
		opts.httpClient = client
	}
}

// WithCache sets the resolution cache bounds; size 0 disables caching.
func WithCache(size int, expiration time.Duration) Option {
	return func(opts *Registry) {
		opts.cacheSize = size
		opts.cacheTTL = expiration
	}
}

// Resolve returns the DID document, from cache when available.
func (r *Registry) Resolve(didID string, opts ...vdrspi.DIDMethodOption) (*did.DocResolution, error) {
	didID = stripFragment(didID)

	if r.cache != nil {
		if v, err := r.cache.Get(didID); err == nil {
			return v.(*did.DocResolution), nil //nolint:forcetypeassert
		}
	}

	res, err := r.ResolveLive(didID, opts...)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(didID, res); err != nil {
			logger.Warnf("failed to cache resolution of %s: %s", didID, err)
		}
	}

	return res, nil
}

// ResolveLive resolves the DID document bypassing the cache.
func (r *Registry) ResolveLive(didID string, opts ...vdrspi.DIDMethodOption) (*did.DocResolution, error) {
	didID = stripFragment(didID)

	didMethod, err := GetDidMethod(didID)
	if err != nil {
		return nil, err
	}

	method, err := r.resolveVDR(didMethod)
	if err != nil {
		return nil, err
	}

	opts = append(opts, vdrspi.WithOption(web.HTTPClientOpt, r.httpClient))

	res, err := method.Read(didID, opts...)
	if err != nil {
		if errors.Is(err, vdrapi.ErrNotFound) {
			return nil, err
		}

		return nil, fmt.Errorf("did method read failed: %w", err)
	}

	return res, nil
}

// VerificationMethod resolves a DID URL such as did:web:example.com#key-1 to its verification method.
func (r *Registry) VerificationMethod(didURL string) (*did.VerificationMethod, error) {
	res, err := r.Resolve(didURL)
	if err != nil {
		return nil, err
	}

	if vm, ok := did.LookupPublicKey(didURL, res.DIDDocument); ok {
		return vm, nil
	}

	if i := strings.Index(didURL, "#"); i >= 0 {
		if vm, ok := did.LookupPublicKey(didURL[i:], res.DIDDocument); ok {
			return vm, nil
		}
	}

	return nil, fmt.Errorf("verification method %s not found", didURL)
}

// Close frees resources being maintained by the registry.
func (r *Registry) Close() error {
	for _, v := range r.vdr {
		if err := v.Close(); err != nil {
			return fmt.Errorf("close vdr: %w", err)
		}
	}

	return nil
}

func (r *Registry) resolveVDR(method string) (vdrapi.VDR, error) {
	for _, v := range r.vdr {
		if v.Accept(method) {
			return v, nil
		}
	}

	return nil, fmt.Errorf("did method %s not supported for vdr", method)
}

// GetDidMethod returns the method name of a DID.
func GetDidMethod(didID string) (string, error) {
	const numPartsDID = 3

	didParts := strings.Split(didID, ":")
	if len(didParts) < numPartsDID || didParts[0] != "did" {
		return "", fmt.Errorf("wrong format did input: %s", didID)
	}

	return didParts[1], nil
}

func stripFragment(didURL string) string {
	if i := strings.IndexAny(didURL, "#?"); i >= 0 {
		return didURL[:i]
	}

	return didURL
}
