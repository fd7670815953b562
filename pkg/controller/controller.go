/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package controller

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperledger/aries-exchanger/pkg/controller/rest"
	exchangerest "github.com/hyperledger/aries-exchanger/pkg/controller/rest/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/workflow"
)

// MetricsPath serves the prometheus exposition when a gatherer is configured.
const MetricsPath = "/metrics"

type allOpts struct {
	adminToken string
	gatherer   prometheus.Gatherer
}

// Opt represents a controller option.
type Opt func(opts *allOpts)

// WithAdminToken is an option accepting a bearer token on every client authenticated route.
func WithAdminToken(token string) Opt {
	return func(opts *allOpts) {
		opts.adminToken = token
	}
}

// WithMetrics is an option exposing the gatherer on MetricsPath.
func WithMetrics(g prometheus.Gatherer) Opt {
	return func(opts *allOpts) {
		opts.gatherer = g
	}
}

// GetRESTHandlers returns all REST handlers provided by controller.
func GetRESTHandlers(registry *workflow.Registry, base *workflow.Base, opts ...Opt) ([]rest.Handler, error) {
	if registry == nil || base == nil {
		return nil, errors.New("workflow registry and base are mandatory")
	}

	restAPIOpts := &allOpts{}
	// Apply options
	for _, opt := range opts {
		opt(restAPIOpts)
	}

	var exchangeOpts []exchangerest.Option
	if restAPIOpts.adminToken != "" {
		exchangeOpts = append(exchangeOpts, exchangerest.WithAdminToken(restAPIOpts.adminToken))
	}

	exchangeOp := exchangerest.New(registry, base, exchangeOpts...)

	var allHandlers []rest.Handler
	allHandlers = append(allHandlers, exchangeOp.GetRESTHandlers()...)

	if restAPIOpts.gatherer != nil {
		allHandlers = append(allHandlers, rest.NewHandler(MetricsPath, http.MethodGet,
			promhttp.HandlerFor(restAPIOpts.gatherer, promhttp.HandlerOpts{}).ServeHTTP))
	}

	return allHandlers, nil
}
