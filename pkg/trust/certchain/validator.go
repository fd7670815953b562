/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package certchain validates X.509 certificate chains embedded in credential signer keys
// against a configured set of trust anchors.
package certchain

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/hyperledger/aries-framework-go/component/log"
)

const (
	defaultFetchTimeout = 5 * time.Second
	maxResponseSize     = 1 << 20

	// keyUsageOffset is the index of the first usage byte in the DER value of the key usage extension
	// (tag, length, unused bits).
	keyUsageOffset      = 3
	digitalSignatureBit = 0x80
)

var logger = log.New("aries-exchanger/trust/certchain")

var oidKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 15}

// Result is the outcome of a chain validation.
type Result struct {
	Verified bool     `json:"verified"`
	Errors   []string `json:"errors,omitempty"`
}

// Opt configures a Validator.
type Opt func(v *Validator)

// WithHTTPClient sets the client used for OCSP and CRL requests.
func WithHTTPClient(client *http.Client) Opt {
	return func(v *Validator) {
		v.httpClient = client
	}
}

// WithClock sets the time source for validity checks.
func WithClock(now func() time.Time) Opt {
	return func(v *Validator) {
		v.now = now
	}
}

// WithFetchTimeout bounds each OCSP or CRL request.
func WithFetchTimeout(d time.Duration) Opt {
	return func(v *Validator) {
		v.fetchTimeout = d
	}
}

// WithCRLChecking enables revocation checks against CRL distribution points. It is off by default.
func WithCRLChecking(enabled bool) Opt {
	return func(v *Validator) {
		v.crlEnabled = enabled
	}
}

// Validator validates leaf-first certificate chains.
type Validator struct {
	anchors      []*x509.Certificate
	httpClient   *http.Client
	now          func() time.Time
	fetchTimeout time.Duration
	crlEnabled   bool
}

// New returns a Validator trusting anchors.
func New(anchors []*x509.Certificate, opts ...Opt) *Validator {
	v := &Validator{
		anchors:      anchors,
		httpClient:   http.DefaultClient,
		now:          time.Now,
		fetchTimeout: defaultFetchTimeout,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// HasAnchors reports whether any trust anchor is configured.
func (v *Validator) HasAnchors() bool {
	return len(v.anchors) > 0
}

// Validate checks the chain, leaf first and without the trust anchor. All checks contribute to the
// error list in chain order; a missing trust anchor ends validation.
func (v *Validator) Validate(ctx context.Context, chain []*x509.Certificate) Result {
	if len(chain) == 0 {
		return Result{Errors: []string{"empty certificate chain"}}
	}

	var errs []string

	leaf := chain[0]
	now := v.now()

	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		errs = append(errs, fmt.Sprintf("leaf certificate is not valid at %s (valid from %s to %s)",
			now.UTC().Format(time.RFC3339), leaf.NotBefore.UTC().Format(time.RFC3339),
			leaf.NotAfter.UTC().Format(time.RFC3339)))
	}

	if err := checkKeyUsage(leaf); err != nil {
		errs = append(errs, err.Error())
	}

	for i := 0; i < len(chain)-1; i++ {
		errs = append(errs, v.checkIssued(ctx, i, chain[i], chain[i+1])...)
	}

	last := len(chain) - 1

	anchor := v.findAnchor(chain[last])
	if anchor == nil {
		errs = append(errs, fmt.Sprintf("no trust anchor found for certificate %d issued by %q",
			last, chain[last].Issuer.String()))

		return Result{Errors: errs}
	}

	errs = append(errs, v.checkRevocation(ctx, last, chain[last], anchor)...)

	return Result{Verified: len(errs) == 0, Errors: errs}
}

func checkKeyUsage(leaf *x509.Certificate) error {
	for _, ext := range leaf.Extensions {
		if !ext.Id.Equal(oidKeyUsage) {
			continue
		}

		if len(ext.Value) <= keyUsageOffset {
			return errors.New("leaf certificate key usage extension is malformed")
		}

		if ext.Value[keyUsageOffset]&digitalSignatureBit == 0 {
			return errors.New("leaf certificate key usage does not include digital signature")
		}

		return nil
	}

	return errors.New("leaf certificate has no key usage extension")
}

func (v *Validator) checkIssued(ctx context.Context, i int, cert, issuer *x509.Certificate) []string {
	if !bytes.Equal(cert.RawIssuer, issuer.RawSubject) {
		return []string{fmt.Sprintf("certificate %d is not issued by certificate %d", i, i+1)}
	}

	if err := issuer.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return []string{fmt.Sprintf("certificate %d signature does not verify against certificate %d: %s", i, i+1, err)}
	}

	return v.checkRevocation(ctx, i, cert, issuer)
}

func (v *Validator) findAnchor(cert *x509.Certificate) *x509.Certificate {
	for _, anchor := range v.anchors {
		if !bytes.Equal(cert.RawIssuer, anchor.RawSubject) {
			continue
		}

		if err := anchor.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
			logger.Debugf("anchor %q subject matches but signature does not verify: %s", anchor.Subject, err)

			continue
		}

		return anchor
	}

	return nil
}

func (v *Validator) checkRevocation(ctx context.Context, i int, cert, issuer *x509.Certificate) []string {
	var errs []string

	if len(cert.OCSPServer) > 0 {
		if status := v.ocspStatus(ctx, cert, issuer); status.revoked {
			errs = append(errs, fmt.Sprintf("certificate %d is revoked: %s", i, status.reason))
		}
	}

	if v.crlEnabled && len(cert.CRLDistributionPoints) > 0 {
		if err := v.crlCheck(ctx, cert, issuer); err != nil {
			errs = append(errs, fmt.Sprintf("certificate %d CRL check failed: %s", i, err))
		}
	}

	return errs
}

type ocspResult struct {
	revoked bool
	reason  string
}

// ocspStatus fails closed: any error or a non-good status is reported as revoked.
func (v *Validator) ocspStatus(ctx context.Context, cert, issuer *x509.Certificate) ocspResult {
	resp, err := v.queryOCSP(ctx, cert, issuer)
	if err != nil {
		return ocspResult{revoked: true, reason: fmt.Sprintf("ocsp check failed: %s", err)}
	}

	switch resp.Status {
	case ocsp.Good:
		return ocspResult{}
	case ocsp.Revoked:
		return ocspResult{revoked: true, reason: fmt.Sprintf("ocsp status revoked at %s",
			resp.RevokedAt.UTC().Format(time.RFC3339))}
	default:
		return ocspResult{revoked: true, reason: "ocsp status unknown"}
	}
}

func (v *Validator) queryOCSP(ctx context.Context, cert, issuer *x509.Certificate) (*ocsp.Response, error) {
	reqBytes, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("create ocsp request: %w", err)
	}

	body, err := v.fetch(ctx, http.MethodPost, cert.OCSPServer[0], "application/ocsp-request", reqBytes)
	if err != nil {
		return nil, err
	}

	resp, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return nil, fmt.Errorf("parse ocsp response: %w", err)
	}

	return resp, nil
}

func (v *Validator) crlCheck(ctx context.Context, cert, issuer *x509.Certificate) error {
	body, err := v.fetch(ctx, http.MethodGet, cert.CRLDistributionPoints[0], "", nil)
	if err != nil {
		return err
	}

	crl, err := x509.ParseRevocationList(body)
	if err != nil {
		return fmt.Errorf("parse crl: %w", err)
	}

	if err := crl.CheckSignatureFrom(issuer); err != nil {
		return fmt.Errorf("crl signature: %w", err)
	}

	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return fmt.Errorf("serial %s revoked at %s", cert.SerialNumber,
				entry.RevocationTime.UTC().Format(time.RFC3339))
		}
	}

	return nil
}

func (v *Validator) fetch(ctx context.Context, method, url, contentType string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", url, err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}

	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			logger.Warnf("failed to close response body: %s", errClose)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: unexpected status %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", url, err)
	}

	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", url, maxResponseSize)
	}

	return body, nil
}

// ParseAnchors parses PEM or DER encoded certificates. A PEM input may hold several certificates.
func ParseAnchors(inputs ...[]byte) ([]*x509.Certificate, error) {
	var anchors []*x509.Certificate

	for _, in := range inputs {
		rest := bytes.TrimSpace(in)

		if !bytes.HasPrefix(rest, []byte("-----BEGIN")) {
			cert, err := x509.ParseCertificate(rest)
			if err != nil {
				return nil, fmt.Errorf("parse DER certificate: %w", err)
			}

			anchors = append(anchors, cert)

			continue
		}

		for len(rest) > 0 {
			var block *pem.Block

			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}

			if block.Type != "CERTIFICATE" {
				continue
			}

			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse PEM certificate: %w", err)
			}

			anchors = append(anchors, cert)
		}
	}

	return anchors, nil
}
