/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-framework-go/component/kmscrypto/doc/util/fingerprint"
	"github.com/hyperledger/aries-framework-go/component/models/did"
	"github.com/hyperledger/aries-framework-go/component/models/jwt"
	ldcontext "github.com/hyperledger/aries-framework-go/component/models/ld/context"
	ldprocessor "github.com/hyperledger/aries-framework-go/component/models/ld/processor"
	"github.com/hyperledger/aries-framework-go/component/models/presexch"
	"github.com/hyperledger/aries-framework-go/component/models/signature/suite"
	"github.com/hyperledger/aries-framework-go/component/models/signature/suite/ed25519signature2018"
	"github.com/hyperledger/aries-framework-go/component/models/verifiable"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	vdrspi "github.com/hyperledger/aries-framework-go/spi/vdr"

	"github.com/hyperledger/aries-exchanger/pkg/ld"
	"github.com/hyperledger/aries-exchanger/pkg/vdr"
)

const (
	licenseContextURL = "https://example.org/contexts/drivers-license/v1"
	testAudience      = "did:web:verifier.example.com"
	testChallenge     = "z2b7c1a9f"
	definitionID      = "drivers-license-request"
	descriptorID      = "drivers_license"
)

const licenseContext = `{
  "@context": {
    "@version": 1.1,
    "DriversLicense": "https://example.org/dl#DriversLicense",
    "licenseClass": "https://example.org/dl#licenseClass",
    "licenseNumber": "https://example.org/dl#licenseNumber"
  }
}`

type edSigner struct {
	priv ed25519.PrivateKey
}

func (s edSigner) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}

func (s edSigner) Alg() string {
	return "EdDSA"
}

type party struct {
	did    string
	keyID  string
	priv   ed25519.PrivateKey
	signer edSigner
}

func newParty(t *testing.T) *party {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	didKey, keyID := fingerprint.CreateDIDKey(pub)

	return &party{did: didKey, keyID: keyID, priv: priv, signer: edSigner{priv: priv}}
}

func (p *party) suite() *ed25519signature2018.Suite {
	return ed25519signature2018.New(suite.WithSigner(p.signer))
}

// countingResolver counts resolutions; every signature check starts with one.
type countingResolver struct {
	next  Resolver
	calls int32
}

func (r *countingResolver) Resolve(didID string, opts ...vdrspi.DIDMethodOption) (*did.DocResolution, error) {
	atomic.AddInt32(&r.calls, 1)

	return r.next.Resolve(didID, opts...)
}

type fixture struct {
	t        *testing.T
	loader   *ld.DocumentLoader
	resolver *countingResolver
	issuer   *party
	holder   *party
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	loader, err := ld.NewDocumentLoader(mem.NewProvider(), ld.WithExtraContexts(ldcontext.Document{
		URL:     licenseContextURL,
		Content: []byte(licenseContext),
	}))
	require.NoError(t, err)

	return &fixture{
		t:        t,
		loader:   loader,
		resolver: &countingResolver{next: vdr.New()},
		issuer:   newParty(t),
		holder:   newParty(t),
	}
}

func (f *fixture) verifier(opts ...Opt) *Verifier {
	return New(f.resolver, f.loader, opts...)
}

func (f *fixture) credential(issuer string) *verifiable.Credential {
	f.t.Helper()

	vcJSON := fmt.Sprintf(`{
  "@context": ["https://www.w3.org/2018/credentials/v1", %q],
  "id": "urn:uuid:%s",
  "type": ["VerifiableCredential", "DriversLicense"],
  "issuer": %q,
  "issuanceDate": "2023-01-01T00:00:00Z",
  "credentialSubject": {
    "id": %q,
    "licenseClass": "C",
    "licenseNumber": "D1234567"
  }
}`, licenseContextURL, uuid.NewString(), issuer, f.holder.did)

	vc, err := verifiable.ParseCredential([]byte(vcJSON),
		verifiable.WithJSONLDDocumentLoader(f.loader),
		verifiable.WithDisabledProofCheck())
	require.NoError(f.t, err)

	return vc
}

func (f *fixture) ldpCredential() *verifiable.Credential {
	f.t.Helper()

	vc := f.credential(f.issuer.did)

	err := vc.AddLinkedDataProof(&verifiable.LinkedDataProofContext{
		SignatureType:           "Ed25519Signature2018",
		Suite:                   f.issuer.suite(),
		SignatureRepresentation: verifiable.SignatureJWS,
		VerificationMethod:      f.issuer.keyID,
	}, ldprocessor.WithDocumentLoader(f.loader))
	require.NoError(f.t, err)

	return vc
}

func (f *fixture) ldpPresentation(challenge, domain string, vcs ...*verifiable.Credential) string {
	f.t.Helper()

	vp, err := verifiable.NewPresentation(verifiable.WithCredentials(vcs...))
	require.NoError(f.t, err)

	vp.Holder = f.holder.did

	err = vp.AddLinkedDataProof(&verifiable.LinkedDataProofContext{
		SignatureType:           "Ed25519Signature2018",
		Suite:                   f.holder.suite(),
		SignatureRepresentation: verifiable.SignatureJWS,
		VerificationMethod:      f.holder.keyID,
		Challenge:               challenge,
		Domain:                  domain,
		Purpose:                 "authentication",
	}, ldprocessor.WithDocumentLoader(f.loader))
	require.NoError(f.t, err)

	b, err := vp.MarshalJSON()
	require.NoError(f.t, err)

	return string(b)
}

func (f *fixture) jwtCredential(issuer *party, keyID string) string {
	f.t.Helper()

	vc := f.credential(issuer.did)

	claims, err := vc.JWTClaims(false)
	require.NoError(f.t, err)

	vcJWT, err := claims.MarshalJWS(verifiable.EdDSA, issuer.signer, keyID)
	require.NoError(f.t, err)

	return vcJWT
}

func (f *fixture) jwtPresentation(audience, nonce string, vcs ...string) string {
	f.t.Helper()

	claims := map[string]interface{}{
		"iss":   f.holder.did,
		"aud":   audience,
		"nonce": nonce,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
		"vp": map[string]interface{}{
			"@context":             []string{"https://www.w3.org/2018/credentials/v1"},
			"type":                 []string{"VerifiablePresentation"},
			"verifiableCredential": vcs,
		},
	}

	token, err := jwt.NewSigned(claims, map[string]interface{}{"kid": f.holder.keyID},
		jwt.NewEd25519Signer(f.holder.priv))
	require.NoError(f.t, err)

	vpJWT, err := token.Serialize(false)
	require.NoError(f.t, err)

	return vpJWT
}

func definition() *presexch.PresentationDefinition {
	return &presexch.PresentationDefinition{
		ID: definitionID,
		InputDescriptors: []*presexch.InputDescriptor{{
			ID:     descriptorID,
			Schema: []*presexch.Schema{{URI: "https://example.org/dl#DriversLicense"}},
			Constraints: &presexch.Constraints{
				Fields: []*presexch.Field{{Path: []string{"$.credentialSubject.licenseClass"}}},
			},
		}},
	}
}

func submission(format, nestedFormat string) *presexch.PresentationSubmission {
	return &presexch.PresentationSubmission{
		ID:           uuid.NewString(),
		DefinitionID: definitionID,
		DescriptorMap: []*presexch.InputDescriptorMapping{{
			ID:     descriptorID,
			Format: format,
			Path:   "$",
			PathNested: &presexch.InputDescriptorMapping{
				ID:     descriptorID,
				Format: nestedFormat,
				Path:   "$.verifiableCredential[0]",
			},
		}},
	}
}

func request() *Request {
	return &Request{
		Definition: definition(),
		Challenge:  testChallenge,
		Audience:   testAudience,
	}
}

func toJSON(t *testing.T, v interface{}) string {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	return string(b)
}
