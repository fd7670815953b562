/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ld builds the JSON-LD document loader used for Data Integrity proof verification.
package ld

import (
	"fmt"
	"net/http"
	"os"
	"time"

	jsonld "github.com/piprate/json-gold/ld"

	ldcontext "github.com/hyperledger/aries-framework-go/component/models/ld/context"
	"github.com/hyperledger/aries-framework-go/component/models/ld/documentloader"
	ldstore "github.com/hyperledger/aries-framework-go/component/models/ld/store"
	"github.com/hyperledger/aries-framework-go/spi/storage"
)

const defaultRemoteTimeout = 5 * time.Second

// DocumentLoader is a JSON-LD document loader backed by storage.
type DocumentLoader = documentloader.DocumentLoader

type provider struct {
	contextStore        ldstore.ContextStore
	remoteProviderStore ldstore.RemoteProviderStore
}

func (p *provider) JSONLDContextStore() ldstore.ContextStore {
	return p.contextStore
}

func (p *provider) JSONLDRemoteProviderStore() ldstore.RemoteProviderStore {
	return p.remoteProviderStore
}

// Opt configures the loader.
type Opt func(o *options)

type options struct {
	extraContexts []ldcontext.Document
	remoteClient  *http.Client
}

// WithExtraContexts preloads additional context documents.
func WithExtraContexts(docs ...ldcontext.Document) Opt {
	return func(o *options) {
		o.extraContexts = append(o.extraContexts, docs...)
	}
}

// WithRemoteFetch enables fetching unknown contexts over the network with client.
// A nil client uses one with a 5s timeout.
func WithRemoteFetch(client *http.Client) Opt {
	return func(o *options) {
		if client == nil {
			client = &http.Client{Timeout: defaultRemoteTimeout}
		}

		o.remoteClient = client
	}
}

// NewDocumentLoader returns a loader preloaded with the embedded W3C credential, DID and suite contexts.
func NewDocumentLoader(storageProvider storage.Provider, opts ...Opt) (*DocumentLoader, error) {
	o := &options{}

	for _, opt := range opts {
		opt(o)
	}

	contextStore, err := ldstore.NewContextStore(storageProvider)
	if err != nil {
		return nil, fmt.Errorf("create JSON-LD context store: %w", err)
	}

	remoteProviderStore, err := ldstore.NewRemoteProviderStore(storageProvider)
	if err != nil {
		return nil, fmt.Errorf("create remote provider store: %w", err)
	}

	var loaderOpts []documentloader.Opts

	if len(o.extraContexts) > 0 {
		loaderOpts = append(loaderOpts, documentloader.WithExtraContexts(o.extraContexts...))
	}

	if o.remoteClient != nil {
		loaderOpts = append(loaderOpts,
			documentloader.WithRemoteDocumentLoader(jsonld.NewDefaultDocumentLoader(o.remoteClient)))
	}

	loader, err := documentloader.NewDocumentLoader(&provider{
		contextStore:        contextStore,
		remoteProviderStore: remoteProviderStore,
	}, loaderOpts...)
	if err != nil {
		return nil, fmt.Errorf("create document loader: %w", err)
	}

	return loader, nil
}

// ContextFromFile reads a context document to be served for url.
func ContextFromFile(url, path string) (ldcontext.Document, error) {
	content, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return ldcontext.Document{}, fmt.Errorf("read context %s: %w", path, err)
	}

	return ldcontext.Document{URL: url, Content: content}, nil
}
