/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package verifier verifies presentations submitted in response to a presentation definition.
package verifier

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jsonld "github.com/piprate/json-gold/ld"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/models/did"
	"github.com/hyperledger/aries-framework-go/component/models/presexch"
	"github.com/hyperledger/aries-framework-go/component/models/signature/suite"
	"github.com/hyperledger/aries-framework-go/component/models/signature/suite/ecdsasecp256k1signature2019"
	"github.com/hyperledger/aries-framework-go/component/models/signature/suite/ed25519signature2018"
	"github.com/hyperledger/aries-framework-go/component/models/signature/suite/ed25519signature2020"
	"github.com/hyperledger/aries-framework-go/component/models/signature/suite/jsonwebsignature2020"
	sigverifier "github.com/hyperledger/aries-framework-go/component/models/signature/verifier"
	"github.com/hyperledger/aries-framework-go/component/models/verifiable"
	vdrspi "github.com/hyperledger/aries-framework-go/spi/vdr"

	"github.com/hyperledger/aries-exchanger/pkg/trust/certchain"
)

var logger = log.New("aries-exchanger/verifier")

// Submission formats.
const (
	FormatJWTVPJSON = "jwt_vp_json"
	FormatJWTVP     = "jwt_vp"
	FormatLDPVP     = "ldp_vp"
)

// Resolver resolves DIDs to documents.
type Resolver interface {
	Resolve(did string, opts ...vdrspi.DIDMethodOption) (*did.DocResolution, error)
}

// ChainValidator validates X.509 chains found in issuer key material.
type ChainValidator interface {
	HasAnchors() bool
	Validate(ctx context.Context, chain []*x509.Certificate) certchain.Result
}

// IssuerObserver records the issuers seen in presentations.
type IssuerObserver interface {
	ObserveAsync(dids []string, seenAt time.Time)
}

// Request is what a presentation is verified against.
type Request struct {
	Definition     *presexch.PresentationDefinition
	Challenge      string
	Domain         string
	Audience       string
	TrustedIssuers []string
	SkipX5CCheck   bool
}

// Result of a submission verification.
type Result struct {
	Verified               bool
	Errors                 []string
	VerifiablePresentation json.RawMessage
	Issuers                []string
}

// Opt configures the verifier.
type Opt func(v *Verifier)

// WithSignatureSuites replaces the supported linked data signature suites.
func WithSignatureSuites(suites ...sigverifier.SignatureSuite) Opt {
	return func(v *Verifier) {
		v.suites = suites
	}
}

// WithChainValidator enables X.509 chain validation of issuer keys carrying x5c.
func WithChainValidator(cv ChainValidator) Opt {
	return func(v *Verifier) {
		v.chains = cv
	}
}

// WithIssuerObserver enables issuer auditing.
func WithIssuerObserver(o IssuerObserver) Opt {
	return func(v *Verifier) {
		v.observer = o
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Opt {
	return func(v *Verifier) {
		v.now = now
	}
}

// Verifier verifies presentation submissions.
type Verifier struct {
	resolver Resolver
	loader   jsonld.DocumentLoader
	suites   []sigverifier.SignatureSuite
	chains   ChainValidator
	observer IssuerObserver
	history  IssuerHistory
	now      func() time.Time
}

// New returns a verifier resolving keys with resolver and contexts with loader.
func New(resolver Resolver, loader jsonld.DocumentLoader, opts ...Opt) *Verifier {
	v := &Verifier{
		resolver: resolver,
		loader:   loader,
		suites:   defaultSuites(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

func defaultSuites() []sigverifier.SignatureSuite {
	return []sigverifier.SignatureSuite{
		ed25519signature2018.New(suite.WithVerifier(ed25519signature2018.NewPublicKeyVerifier())),
		ed25519signature2020.New(suite.WithVerifier(ed25519signature2020.NewPublicKeyVerifier())),
		jsonwebsignature2020.New(suite.WithVerifier(jsonwebsignature2020.NewPublicKeyVerifier())),
		ecdsasecp256k1signature2019.New(suite.WithVerifier(ecdsasecp256k1signature2019.NewPublicKeyVerifier())),
	}
}

type descriptorResult struct {
	issuers []string
	errs    []string
}

// VerifySubmission verifies vpToken against the submission and request. Verification failures are
// reported in the Result; an error is returned only for an unusable request.
func (v *Verifier) VerifySubmission(ctx context.Context, vpToken string,
	submission *presexch.PresentationSubmission, req *Request) (*Result, error) {
	if req == nil || req.Definition == nil {
		return nil, errors.New("presentation definition is required")
	}

	res := &Result{VerifiablePresentation: rawPresentation(vpToken)}

	if err := checkSubmission(submission, req.Definition); err != nil {
		res.Errors = append(res.Errors, err.Error())

		return res, nil
	}

	root := parseToken(vpToken)

	issuers := map[string]struct{}{}

	for _, m := range submission.DescriptorMap {
		desc := inputDescriptor(req.Definition, m.ID)

		dr := v.verifyDescriptor(ctx, root, m, desc, req)

		for _, e := range dr.errs {
			res.Errors = append(res.Errors, fmt.Sprintf("descriptor %s: %s", m.ID, e))
		}

		for _, iss := range dr.issuers {
			issuers[iss] = struct{}{}
		}
	}

	for iss := range issuers {
		res.Issuers = append(res.Issuers, iss)
	}

	sort.Strings(res.Issuers)

	if untrusted := untrustedIssuers(res.Issuers, req.TrustedIssuers); len(untrusted) > 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("untrusted issuers: %s", strings.Join(untrusted, ", ")))
	}

	if v.observer != nil {
		v.observer.ObserveAsync(res.Issuers, v.now())
	}

	res.Verified = len(res.Errors) == 0

	logger.Debugf("verified submission for definition %s: verified=%t errors=%d",
		req.Definition.ID, res.Verified, len(res.Errors))

	return res, nil
}

func checkSubmission(submission *presexch.PresentationSubmission, pd *presexch.PresentationDefinition) error {
	if submission == nil {
		return errors.New("presentation submission is required")
	}

	if submission.DefinitionID != pd.ID {
		return fmt.Errorf("presentation submission definition id %q does not match presentation definition id %q",
			submission.DefinitionID, pd.ID)
	}

	if len(submission.DescriptorMap) != len(pd.InputDescriptors) {
		return fmt.Errorf("presentation submission has %d descriptors but presentation definition requires %d",
			len(submission.DescriptorMap), len(pd.InputDescriptors))
	}

	seen := map[string]struct{}{}

	for _, m := range submission.DescriptorMap {
		if m == nil {
			return errors.New("presentation submission has an empty descriptor")
		}

		if inputDescriptor(pd, m.ID) == nil {
			return fmt.Errorf("descriptor %q does not match any input descriptor", m.ID)
		}

		if _, ok := seen[m.ID]; ok {
			return fmt.Errorf("descriptor %q submitted more than once", m.ID)
		}

		seen[m.ID] = struct{}{}
	}

	return nil
}

func (v *Verifier) verifyDescriptor(ctx context.Context, root interface{}, m *presexch.InputDescriptorMapping,
	desc *presexch.InputDescriptor, req *Request) descriptorResult {
	if err := ctx.Err(); err != nil {
		return descriptorResult{errs: []string{err.Error()}}
	}

	selected, err := selectByPath(root, m.Path)
	if err != nil {
		return descriptorResult{errs: []string{err.Error()}}
	}

	var creds []interface{}

	switch m.Format {
	case FormatJWTVPJSON, FormatJWTVP:
		creds, err = v.verifyJWTPresentation(selected, m, req)
	case FormatLDPVP:
		creds, err = v.verifyLDPPresentation(selected, m, req)
	default:
		return descriptorResult{errs: []string{fmt.Sprintf("unsupported format %q", m.Format)}}
	}

	if err != nil {
		return descriptorResult{errs: []string{err.Error()}}
	}

	if len(creds) == 0 {
		return descriptorResult{errs: []string{"presentation holds no credential"}}
	}

	var dr descriptorResult

	for _, raw := range creds {
		vc, errs := v.verifyCredential(ctx, raw, req)
		dr.errs = append(dr.errs, errs...)

		if vc == nil {
			continue
		}

		if vc.Issuer.ID != "" {
			dr.issuers = append(dr.issuers, vc.Issuer.ID)
		}

		if err := matchDescriptor(vc, desc); err != nil {
			dr.errs = append(dr.errs, err.Error())
		}
	}

	return dr
}

func (v *Verifier) presentationOpts() []verifiable.PresentationOpt {
	return []verifiable.PresentationOpt{
		verifiable.WithPresPublicKeyFetcher(verifiable.NewVDRKeyResolver(v.resolver).PublicKeyFetcher()),
		verifiable.WithPresEmbeddedSignatureSuites(v.suites...),
		verifiable.WithPresJSONLDDocumentLoader(v.loader),
		verifiable.WithDisabledJSONLDChecks(),
	}
}

func inputDescriptor(pd *presexch.PresentationDefinition, id string) *presexch.InputDescriptor {
	for _, d := range pd.InputDescriptors {
		if d != nil && d.ID == id {
			return d
		}
	}

	return nil
}

func untrustedIssuers(issuers, trusted []string) []string {
	if len(trusted) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(trusted))
	for _, t := range trusted {
		allowed[t] = struct{}{}
	}

	var untrusted []string

	for _, iss := range issuers {
		if _, ok := allowed[iss]; !ok {
			untrusted = append(untrusted, iss)
		}
	}

	return untrusted
}

// parseToken decodes a JSON vp_token; anything that is not JSON is kept as a compact JWT string.
func parseToken(vpToken string) interface{} {
	var v interface{}

	if err := json.Unmarshal([]byte(vpToken), &v); err != nil {
		return vpToken
	}

	return v
}

func rawPresentation(vpToken string) json.RawMessage {
	if json.Valid([]byte(vpToken)) {
		return json.RawMessage(vpToken)
	}

	b, err := json.Marshal(vpToken)
	if err != nil {
		return nil
	}

	return b
}
