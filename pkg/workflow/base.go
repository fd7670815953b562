/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/models/presexch"

	"github.com/hyperledger/aries-exchanger/pkg/callback"
	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/internal/idgen"
	"github.com/hyperledger/aries-exchanger/pkg/metrics"
	exchangestore "github.com/hyperledger/aries-exchanger/pkg/store/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/verifier"
)

const (
	defaultRetention = time.Hour

	notificationFailed = "relying party notification failed"
)

var logger = log.New("aries-exchanger/workflow")

// PresentationVerifier verifies wallet submissions.
type PresentationVerifier interface {
	VerifySubmission(ctx context.Context, vpToken string, submission *presexch.PresentationSubmission,
		req *verifier.Request) (*verifier.Result, error)
}

// PresentationAuditor re-verifies a stored presentation against the issuer documents valid at a given time.
type PresentationAuditor interface {
	AuditPresentation(ctx context.Context, vp json.RawMessage, at time.Time) (*verifier.AuditResult, error)
}

// Notifier delivers exchange events to relying parties.
type Notifier interface {
	Notify(ctx context.Context, cfg *exchange.CallbackConfig, ev callback.Event) error
}

// IDGenerator generates exchange ids, challenges, tokens and codes.
type IDGenerator interface {
	Generate() (string, error)
}

// Opt configures Base.
type Opt func(b *Base)

// WithVerifier sets the presentation verifier.
func WithVerifier(v PresentationVerifier) Opt {
	return func(b *Base) {
		b.verifier = v
	}
}

// WithAuditor enables exchange audits.
func WithAuditor(a PresentationAuditor) Opt {
	return func(b *Base) {
		b.auditor = a
	}
}

// WithNotifier sets the relying party notifier.
func WithNotifier(n Notifier) Opt {
	return func(b *Base) {
		b.notifier = n
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Opt {
	return func(b *Base) {
		b.metrics = m
	}
}

// WithIDGenerator replaces the random id generator.
func WithIDGenerator(g IDGenerator) Opt {
	return func(b *Base) {
		b.ids = g
	}
}

// WithRequestSigner sets the key signing authorization requests.
func WithRequestSigner(s *RequestSigner) Opt {
	return func(b *Base) {
		b.signer = s
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Opt {
	return func(b *Base) {
		b.now = now
	}
}

// WithBaseURL sets the external URL of the service.
func WithBaseURL(u string) Opt {
	return func(b *Base) {
		b.baseURL = u
	}
}

// WithServiceDID sets the DID the service presents itself with.
func WithServiceDID(d string) Opt {
	return func(b *Base) {
		b.serviceDID = d
	}
}

// WithRetention sets how long records are kept after exchange expiry.
func WithRetention(d time.Duration) Opt {
	return func(b *Base) {
		b.retention = d
	}
}

// Base implements the parts of exchange handling shared by all engines.
type Base struct {
	store      exchangestore.Store
	verifier   PresentationVerifier
	auditor    PresentationAuditor
	notifier   Notifier
	metrics    *metrics.Metrics
	ids        IDGenerator
	signer     *RequestSigner
	now        func() time.Time
	baseURL    string
	serviceDID string
	retention  time.Duration
}

// NewBase returns a Base persisting exchanges in st.
func NewBase(st exchangestore.Store, opts ...Opt) *Base {
	b := &Base{
		store:     st,
		notifier:  callback.New(),
		ids:       idgen.New(),
		now:       time.Now,
		retention: defaultRetention,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Store returns the exchange store.
func (b *Base) Store() exchangestore.Store {
	return b.store
}

// Now returns the current time of the configured clock.
func (b *Base) Now() time.Time {
	return b.now()
}

// ServiceDID returns the DID of the service.
func (b *Base) ServiceDID() string {
	return b.serviceDID
}

// Signer returns the authorization request signer, nil when none is configured.
func (b *Base) Signer() *RequestSigner {
	return b.signer
}

// GenerateID returns a new random identifier.
func (b *Base) GenerateID() (string, error) {
	return b.ids.Generate()
}

// URL joins elems to the service base URL.
func (b *Base) URL(elems ...string) (string, error) {
	if b.baseURL == "" {
		return "", fmt.Errorf("%w: base url is not set", ErrConfiguration)
	}

	return url.JoinPath(b.baseURL, elems...)
}

// NewExchange creates and persists a pending exchange of wf with a random id.
func (b *Base) NewExchange(ctx context.Context, wf *exchange.WorkflowDefinition, req *CreateRequest,
	internal *exchange.Internal) (exchange.Exchange, error) {
	id, err := b.ids.Generate()
	if err != nil {
		return exchange.Exchange{}, fmt.Errorf("generate exchange id: %w", err)
	}

	return b.NewExchangeWithID(ctx, wf, id, req, internal)
}

// NewExchangeWithID creates and persists a pending exchange of wf under an id assigned by a remote
// service.
func (b *Base) NewExchangeWithID(ctx context.Context, wf *exchange.WorkflowDefinition, id string,
	req *CreateRequest, internal *exchange.Internal) (exchange.Exchange, error) {
	var (
		vars      map[string]interface{}
		oidcState string
	)

	if req != nil {
		vars = req.Variables
		oidcState = req.OIDCState
	}

	secrets := make([]string, 2)

	for i := range secrets {
		s, err := b.ids.Generate()
		if err != nil {
			return exchange.Exchange{}, fmt.Errorf("generate exchange secrets: %w", err)
		}

		secrets[i] = s
	}

	ex, err := exchange.New(&exchange.Params{
		ID:          id,
		WorkflowID:  wf.ID,
		Step:        wf.InitialStep,
		Challenge:   secrets[0],
		AccessToken: secrets[1],
		TTL:         wf.ExchangeTTL(),
		Retention:   b.retention,
		OIDCState:   oidcState,
		Untrusted:   wf.FilterUntrusted(vars),
		Internal:    internal,
	}, b.now())
	if err != nil {
		return exchange.Exchange{}, err
	}

	if err = b.store.Create(ctx, ex); err != nil {
		return exchange.Exchange{}, fmt.Errorf("save exchange: %w", err)
	}

	b.metrics.ExchangeTransition(string(wf.Type), string(ex.State))

	logger.Debugf("created exchange %s of workflow %s", ex.ID, wf.ID)

	return ex, nil
}

// GetExchange reads an unexpired exchange of wf.
func (b *Base) GetExchange(ctx context.Context, wf *exchange.WorkflowDefinition, id string) (exchange.Exchange, error) {
	ex, err := b.store.Get(ctx, id, false)
	if err != nil {
		return exchange.Exchange{}, err
	}

	if ex.WorkflowID != wf.ID {
		return exchange.Exchange{}, fmt.Errorf("%w: %s", exchangestore.ErrExchangeNotFound, id)
	}

	return ex, nil
}

// Commit persists next, which was derived from an exchange in state prev.
func (b *Base) Commit(ctx context.Context, wf *exchange.WorkflowDefinition, prev exchange.State,
	next exchange.Exchange) error {
	if err := b.store.Update(ctx, next); err != nil {
		return fmt.Errorf("save exchange %s: %w", next.ID, err)
	}

	if next.State != prev {
		b.metrics.ExchangeTransition(string(wf.Type), string(next.State))

		logger.Debugf("exchange %s: %s -> %s", next.ID, prev, next.State)
	}

	return nil
}

// Fail invalidates ex with errs. A result already recorded for the current step is kept.
func (b *Base) Fail(ctx context.Context, wf *exchange.WorkflowDefinition, ex exchange.Exchange,
	errs ...string) (exchange.Exchange, error) {
	var result *exchange.StepResult

	if _, ok := ex.Result(ex.Step); !ok {
		result = &exchange.StepResult{Errors: errs, VerifiedAt: b.now().UTC()}
	}

	next := ex.Invalidate(result)

	if err := b.Commit(ctx, wf, ex.State, next); err != nil {
		return exchange.Exchange{}, err
	}

	return next, nil
}

// Verify runs the presentation verifier and converts its outcome into a step result.
func (b *Base) Verify(ctx context.Context, vpToken string, submission *presexch.PresentationSubmission,
	req *verifier.Request) (*exchange.StepResult, error) {
	if b.verifier == nil {
		return nil, fmt.Errorf("%w: no presentation verifier", ErrConfiguration)
	}

	start := time.Now()

	res, err := b.verifier.VerifySubmission(ctx, vpToken, submission, req)
	if err != nil {
		return nil, err
	}

	b.metrics.VerificationDone(res.Verified, time.Since(start))

	return &exchange.StepResult{
		Verified:               res.Verified,
		Errors:                 res.Errors,
		VerifiablePresentation: res.VerifiablePresentation,
		Issuers:                res.Issuers,
		VerifiedAt:             b.now().UTC(),
	}, nil
}

// Finalize applies result to ex. A verified result of a step with a next step advances the exchange
// to that step. A verified result of the last step completes the exchange with a new one-time code
// and notifies the relying party; when the notification fails the exchange is invalidated instead.
func (b *Base) Finalize(ctx context.Context, wf *exchange.WorkflowDefinition, ex exchange.Exchange,
	result *exchange.StepResult) (exchange.Exchange, error) {
	if !result.Verified {
		next := ex.Invalidate(result)

		if err := b.Commit(ctx, wf, ex.State, next); err != nil {
			return exchange.Exchange{}, err
		}

		return next, nil
	}

	if step, ok := wf.Steps[ex.Step]; ok && step.NextStep != "" {
		return b.advance(ctx, wf, ex, result, step.NextStep)
	}

	code, err := b.ids.Generate()
	if err != nil {
		return exchange.Exchange{}, fmt.Errorf("generate oidc code: %w", err)
	}

	next, err := ex.Complete(result, code)
	if err != nil {
		return exchange.Exchange{}, fmt.Errorf("%w: %v", ErrBadState, err)
	}

	if err = b.Commit(ctx, wf, ex.State, next); err != nil {
		return exchange.Exchange{}, err
	}

	if wf.Callback == nil || b.notifier == nil {
		return next, nil
	}

	err = b.notifier.Notify(context.WithoutCancel(ctx), wf.Callback, callback.NewEvent(&next))
	b.metrics.CallbackDone(err == nil)

	if err == nil {
		return next, nil
	}

	logger.Warnf("exchange %s: %s: %v", next.ID, notificationFailed, err)

	failed := *result
	failed.Errors = append(append([]string(nil), result.Errors...), notificationFailed)

	invalid := next.Invalidate(&failed)

	if err = b.Commit(ctx, wf, next.State, invalid); err != nil {
		return exchange.Exchange{}, err
	}

	return invalid, nil
}

func (b *Base) advance(ctx context.Context, wf *exchange.WorkflowDefinition, ex exchange.Exchange,
	result *exchange.StepResult, step string) (exchange.Exchange, error) {
	challenge, err := b.ids.Generate()
	if err != nil {
		return exchange.Exchange{}, fmt.Errorf("generate challenge: %w", err)
	}

	next, err := ex.Advance(result, step, challenge)
	if err != nil {
		return exchange.Exchange{}, fmt.Errorf("%w: %v", ErrBadState, err)
	}

	if err = b.Commit(ctx, wf, ex.State, next); err != nil {
		return exchange.Exchange{}, err
	}

	logger.Debugf("exchange %s: step %s passed, continuing with %s", ex.ID, ex.Step, step)

	return next, nil
}

// RedeemCode exchanges a one-time code for the completed exchange holding it. The code is cleared so
// a second redemption fails.
func (b *Base) RedeemCode(ctx context.Context, code string) (exchange.Exchange, error) {
	if code == "" {
		return exchange.Exchange{}, fmt.Errorf("%w: code is mandatory", ErrBadRequest)
	}

	ex, err := b.store.GetByOIDCCode(ctx, code)
	if err != nil {
		return exchange.Exchange{}, err
	}

	if ex.State != exchange.StateComplete {
		return exchange.Exchange{}, fmt.Errorf("%w: exchange %s is %s", ErrBadState, ex.ID, ex.State)
	}

	if err = b.store.Update(ctx, ex.RedeemCode()); err != nil {
		if errors.Is(err, exchangestore.ErrConflict) {
			return exchange.Exchange{}, fmt.Errorf("%w: code already redeemed", ErrBadState)
		}

		return exchange.Exchange{}, fmt.Errorf("save exchange %s: %w", ex.ID, err)
	}

	return ex, nil
}

// StepDefinition returns the resolved presentation definition of a step of wf.
func StepDefinition(wf *exchange.WorkflowDefinition, step string) (*presexch.PresentationDefinition, error) {
	s, ok := wf.Steps[step]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s has no step %q", ErrConfiguration, wf.ID, step)
	}

	pd, err := s.ResolvedDefinition()
	if err != nil {
		return nil, fmt.Errorf("%w: workflow %s step %s: %v", ErrConfiguration, wf.ID, step, err)
	}

	return pd, nil
}
