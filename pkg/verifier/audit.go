/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/hyperledger/aries-framework-go/component/models/did"
	"github.com/hyperledger/aries-framework-go/component/models/verifiable"
	vdrspi "github.com/hyperledger/aries-framework-go/spi/vdr"
)

// ErrAuditUnavailable is returned when no issuer history is configured.
var ErrAuditUnavailable = errors.New("issuer history is not configured")

// IssuerHistory resolves the document an issuer DID had at a point in time.
type IssuerHistory interface {
	ResolveAsOf(ctx context.Context, did string, at time.Time) (*did.Doc, error)
}

// WithIssuerHistory enables auditing of stored presentations against past issuer documents.
func WithIssuerHistory(h IssuerHistory) Opt {
	return func(v *Verifier) {
		v.history = h
	}
}

// AuditResult tells whether the credentials of a presentation verify against the issuer documents that
// were valid when it was presented.
type AuditResult struct {
	Trusted bool     `json:"trusted"`
	Issuers []string `json:"issuers,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// historicalResolver answers DID resolution with the document valid at a fixed time.
type historicalResolver struct {
	ctx     context.Context // nolint:containedctx
	history IssuerHistory
	at      time.Time
}

func (r *historicalResolver) Resolve(didID string, _ ...vdrspi.DIDMethodOption) (*did.DocResolution, error) {
	doc, err := r.history.ResolveAsOf(r.ctx, didID, r.at)
	if err != nil {
		return nil, err
	}

	return &did.DocResolution{DIDDocument: doc}, nil
}

// AuditPresentation re-verifies the credential proofs of a stored presentation with the issuer keys
// valid at the given time. Holder proofs and challenge binding are not checked again.
func (v *Verifier) AuditPresentation(ctx context.Context, vp json.RawMessage, at time.Time) (*AuditResult, error) {
	if v.history == nil {
		return nil, ErrAuditUnavailable
	}

	res := &AuditResult{}

	creds, err := storedCredentials(vp)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())

		return res, nil
	}

	if len(creds) == 0 {
		res.Errors = append(res.Errors, "presentation holds no credential")

		return res, nil
	}

	fetcher := verifiable.NewVDRKeyResolver(&historicalResolver{ctx: ctx, history: v.history, at: at}).
		PublicKeyFetcher()

	issuers := map[string]struct{}{}

	for i, raw := range creds {
		issuer, errs := v.auditCredential(ctx, raw, fetcher, at)

		if issuer != "" {
			issuers[issuer] = struct{}{}
		}

		for _, e := range errs {
			res.Errors = append(res.Errors, fmt.Sprintf("credential %d: %s", i, e))
		}
	}

	for iss := range issuers {
		res.Issuers = append(res.Issuers, iss)
	}

	sort.Strings(res.Issuers)

	res.Trusted = len(res.Errors) == 0

	return res, nil
}

func (v *Verifier) auditCredential(ctx context.Context, raw interface{}, fetcher verifiable.PublicKeyFetcher,
	at time.Time) (string, []string) {
	if err := ctx.Err(); err != nil {
		return "", []string{err.Error()}
	}

	data, err := credentialData(raw)
	if err != nil {
		return "", []string{err.Error()}
	}

	unverified, err := verifiable.ParseCredential(data,
		verifiable.WithDisabledProofCheck(),
		verifiable.WithJSONLDDocumentLoader(v.loader),
	)
	if err != nil {
		return "", []string{fmt.Sprintf("parse credential: %s", err)}
	}

	issuer := unverified.Issuer.ID
	if issuer == "" {
		return "", []string{"credential has no issuer"}
	}

	if _, err = v.history.ResolveAsOf(ctx, issuer, at); err != nil {
		return issuer, []string{fmt.Sprintf("issuer %s: %s", issuer, err)}
	}

	vc, err := verifiable.ParseCredential(data,
		verifiable.WithPublicKeyFetcher(fetcher),
		verifiable.WithEmbeddedSignatureSuites(v.suites...),
		verifiable.WithJSONLDDocumentLoader(v.loader),
	)
	if err != nil {
		return issuer, []string{fmt.Sprintf("verify credential: %s", err)}
	}

	if vc.JWT == "" && len(vc.Proofs) == 0 {
		return issuer, []string{"credential has no proof"}
	}

	if vc.Expired != nil && at.After(vc.Expired.Time) {
		return issuer, []string{fmt.Sprintf("credential expired at %s", vc.Expired.Time)}
	}

	return issuer, nil
}

// storedCredentials extracts the raw credentials of a stored vp_token: a compact presentation JWT, a data
// integrity presentation, or a list of either.
func storedCredentials(vp json.RawMessage) ([]interface{}, error) {
	var token interface{}

	if err := json.Unmarshal(vp, &token); err != nil {
		return nil, ErrUnrecognizedPresentation
	}

	return credentialsOf(token)
}

func credentialsOf(token interface{}) ([]interface{}, error) {
	switch t := token.(type) {
	case string:
		return jwtPresentationCredentials(t)
	case map[string]interface{}:
		return credentialList(t["verifiableCredential"]), nil
	case []interface{}:
		var creds []interface{}

		for _, e := range t {
			c, err := credentialsOf(e)
			if err != nil {
				return nil, err
			}

			creds = append(creds, c...)
		}

		return creds, nil
	default:
		return nil, ErrUnrecognizedPresentation
	}
}

func jwtPresentationCredentials(token string) ([]interface{}, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("parse presentation jwt: %w", err)
	}

	var rawClaims map[string]interface{}

	if err = parsed.UnsafeClaimsWithoutVerification(&rawClaims); err != nil {
		return nil, fmt.Errorf("decode presentation claims: %w", err)
	}

	vp, ok := rawClaims["vp"].(map[string]interface{})
	if !ok {
		return nil, errors.New("presentation jwt has no vp claim")
	}

	return credentialList(vp["verifiableCredential"]), nil
}
