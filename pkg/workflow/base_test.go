/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package workflow

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-framework-go/component/models/presexch"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"

	"github.com/hyperledger/aries-exchanger/pkg/callback"
	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	mocks "github.com/hyperledger/aries-exchanger/pkg/internal/gomocks/workflow"
	exchangestore "github.com/hyperledger/aries-exchanger/pkg/store/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/verifier"
)

const (
	serviceDID = "did:web:verifier.example.com"
	baseURL    = "https://verifier.example.com"
)

type seqIDs struct {
	n int32
}

func (s *seqIDs) Generate() (string, error) {
	return fmt.Sprintf("id-%d", atomic.AddInt32(&s.n, 1)), nil
}

type failingIDs struct{}

func (failingIDs) Generate() (string, error) {
	return "", errors.New("entropy exhausted")
}

func definition() *presexch.PresentationDefinition {
	return &presexch.PresentationDefinition{
		ID: "drivers-license-request",
		InputDescriptors: []*presexch.InputDescriptor{{
			ID:     "drivers_license",
			Schema: []*presexch.Schema{{URI: "https://example.org/dl#DriversLicense"}},
		}},
	}
}

func nativeWorkflow() *exchange.WorkflowDefinition {
	return &exchange.WorkflowDefinition{
		ID:                         "dl",
		Type:                       exchange.WorkflowNative,
		InitialStep:                "license",
		Steps:                      map[string]*exchange.Step{"license": {PresentationDefinition: definition()}},
		UntrustedVariableAllowList: []string{"purpose"},
		Callback:                   &exchange.CallbackConfig{URL: "https://rp.example.com/hook"},
		TrustedIssuers:             []string{"did:web:dmv.example.com"},
	}
}

func newStore(t *testing.T) exchangestore.Store {
	t.Helper()

	st, err := exchangestore.New(mem.NewProvider())
	require.NoError(t, err)

	return st
}

func newBase(t *testing.T, opts ...Opt) *Base {
	t.Helper()

	opts = append([]Opt{
		WithIDGenerator(&seqIDs{}),
		WithServiceDID(serviceDID),
		WithBaseURL(baseURL),
	}, opts...)

	return NewBase(newStore(t), opts...)
}

func TestBase_NewExchange(t *testing.T) {
	wf := nativeWorkflow()

	t.Run("success", func(t *testing.T) {
		b := newBase(t)

		ex, err := b.NewExchange(context.Background(), wf, &CreateRequest{
			Variables: map[string]interface{}{"purpose": "age check", "admin": true},
		}, &exchange.Internal{WebhookToken: "secret"})
		require.NoError(t, err)
		require.Equal(t, "id-1", ex.ID)
		require.Equal(t, "id-2", ex.Challenge)
		require.Equal(t, "id-3", ex.AccessToken)
		require.Equal(t, exchange.StatePending, ex.State)
		require.Equal(t, "license", ex.Step)
		require.Equal(t, map[string]interface{}{"purpose": "age check"}, ex.Variables.Untrusted)

		stored, err := b.GetExchange(context.Background(), wf, ex.ID)
		require.NoError(t, err)
		require.Equal(t, "secret", stored.Variables.Internal.WebhookToken)
	})

	t.Run("remote id and oidc state", func(t *testing.T) {
		b := newBase(t)

		ex, err := b.NewExchangeWithID(context.Background(), wf, "remote-request-1", &CreateRequest{
			Variables: map[string]interface{}{"oidcState": "forged"},
			OIDCState: "rp-state",
		}, nil)
		require.NoError(t, err)
		require.Equal(t, "remote-request-1", ex.ID)
		require.Equal(t, "id-1", ex.Challenge)
		require.Equal(t, "id-2", ex.AccessToken)
		require.Equal(t, "rp-state", ex.OIDC.State)
		require.Empty(t, ex.Variables.Untrusted)

		stored, err := b.GetExchange(context.Background(), wf, "remote-request-1")
		require.NoError(t, err)
		require.Equal(t, "rp-state", stored.OIDC.State)

		_, err = b.NewExchangeWithID(context.Background(), wf, "remote-request-1", nil, nil)
		require.Error(t, err)
	})

	t.Run("id generation fails", func(t *testing.T) {
		b := newBase(t, WithIDGenerator(failingIDs{}))

		_, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "entropy exhausted")
	})

	t.Run("read from another workflow", func(t *testing.T) {
		b := newBase(t)

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		other := nativeWorkflow()
		other.ID = "other"

		_, err = b.GetExchange(context.Background(), other, ex.ID)
		require.ErrorIs(t, err, exchangestore.ErrExchangeNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		now := time.Now()
		clock := func() time.Time { return now }

		st, err := exchangestore.New(mem.NewProvider(), exchangestore.WithClock(func() time.Time {
			return now.Add(time.Hour)
		}))
		require.NoError(t, err)

		b := NewBase(st, WithClock(clock), WithIDGenerator(&seqIDs{}))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		_, err = b.GetExchange(context.Background(), wf, ex.ID)
		require.ErrorIs(t, err, exchangestore.ErrExchangeNotFound)
	})
}

func TestBase_Finalize(t *testing.T) {
	wf := nativeWorkflow()
	verified := &exchange.StepResult{Verified: true, Issuers: []string{"did:web:dmv.example.com"}}

	t.Run("complete and notify", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		notifier := mocks.NewMockNotifier(ctrl)
		b := newBase(t, WithNotifier(notifier))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		notifier.EXPECT().Notify(gomock.Any(), wf.Callback, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ *exchange.CallbackConfig, ev callback.Event) error {
				require.Equal(t, ex.ID, ev.ExchangeID)
				require.Equal(t, exchange.StateComplete, ev.State)
				require.Equal(t, ex.Sequence+1, ev.Sequence)

				return nil
			})

		done, err := b.Finalize(context.Background(), wf, ex, verified)
		require.NoError(t, err)
		require.Equal(t, exchange.StateComplete, done.State)
		require.Equal(t, "id-4", done.OIDC.Code)

		stored, err := b.GetExchange(context.Background(), wf, ex.ID)
		require.NoError(t, err)
		require.Equal(t, done, stored)
	})

	t.Run("notification failure invalidates", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		notifier := mocks.NewMockNotifier(ctrl)
		notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("503"))

		b := newBase(t, WithNotifier(notifier))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		done, err := b.Finalize(context.Background(), wf, ex, verified)
		require.NoError(t, err)
		require.Equal(t, exchange.StateInvalid, done.State)
		require.Empty(t, done.OIDC.Code)

		result, ok := done.Result("license")
		require.True(t, ok)
		require.True(t, result.Verified)
		require.Equal(t, []string{notificationFailed}, result.Errors)
		require.Empty(t, verified.Errors)

		stored, err := b.GetExchange(context.Background(), wf, ex.ID)
		require.NoError(t, err)
		require.Equal(t, exchange.StateInvalid, stored.State)
		require.Equal(t, ex.Sequence+2, stored.Sequence)
	})

	t.Run("failed verification is not notified", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		b := newBase(t, WithNotifier(mocks.NewMockNotifier(ctrl)))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		done, err := b.Finalize(context.Background(), wf, ex, &exchange.StepResult{Errors: []string{"bad proof"}})
		require.NoError(t, err)
		require.Equal(t, exchange.StateInvalid, done.State)
		require.Empty(t, done.OIDC.Code)
	})

	t.Run("no callback configured", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		b := newBase(t, WithNotifier(mocks.NewMockNotifier(ctrl)))

		noHook := nativeWorkflow()
		noHook.Callback = nil

		ex, err := b.NewExchange(context.Background(), noHook, nil, nil)
		require.NoError(t, err)

		done, err := b.Finalize(context.Background(), noHook, ex, verified)
		require.NoError(t, err)
		require.Equal(t, exchange.StateComplete, done.State)
	})

	t.Run("step with next step advances", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		twoStep := nativeWorkflow()
		twoStep.Steps["license"].NextStep = "address"
		twoStep.Steps["address"] = &exchange.Step{PresentationDefinition: definition()}

		notifier := mocks.NewMockNotifier(ctrl)
		b := newBase(t, WithNotifier(notifier))

		ex, err := b.NewExchange(context.Background(), twoStep, nil, nil)
		require.NoError(t, err)

		ex, err = ex.Activate(&exchange.AuthorizationRequest{Nonce: ex.Challenge})
		require.NoError(t, err)
		require.NoError(t, b.Commit(context.Background(), twoStep, exchange.StatePending, ex))

		advanced, err := b.Finalize(context.Background(), twoStep, ex, verified)
		require.NoError(t, err)
		require.Equal(t, exchange.StateActive, advanced.State)
		require.Equal(t, "address", advanced.Step)
		require.Equal(t, "id-4", advanced.Challenge)
		require.Nil(t, advanced.Variables.AuthorizationRequest)
		require.Empty(t, advanced.OIDC.Code)

		first, ok := advanced.Result("license")
		require.True(t, ok)
		require.True(t, first.Verified)

		notifier.EXPECT().Notify(gomock.Any(), twoStep.Callback, gomock.Any()).Return(nil).Times(1)

		done, err := b.Finalize(context.Background(), twoStep, advanced, verified)
		require.NoError(t, err)
		require.Equal(t, exchange.StateComplete, done.State)
		require.Equal(t, "id-5", done.OIDC.Code)
		require.Len(t, done.Variables.Results, 2)
	})

	t.Run("failed first step does not advance", func(t *testing.T) {
		twoStep := nativeWorkflow()
		twoStep.Steps["license"].NextStep = "address"
		twoStep.Steps["address"] = &exchange.Step{PresentationDefinition: definition()}

		b := newBase(t, WithNotifier(nil))

		ex, err := b.NewExchange(context.Background(), twoStep, nil, nil)
		require.NoError(t, err)

		done, err := b.Finalize(context.Background(), twoStep, ex, &exchange.StepResult{Errors: []string{"bad proof"}})
		require.NoError(t, err)
		require.Equal(t, exchange.StateInvalid, done.State)
		require.Equal(t, "license", done.Step)
	})

	t.Run("stale exchange", func(t *testing.T) {
		b := newBase(t, WithNotifier(nil))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		_, err = b.Finalize(context.Background(), wf, ex, verified)
		require.NoError(t, err)

		_, err = b.Finalize(context.Background(), wf, ex, verified)
		require.ErrorIs(t, err, exchangestore.ErrConflict)
	})

	t.Run("terminal exchange", func(t *testing.T) {
		b := newBase(t, WithNotifier(nil))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		_, err = b.Finalize(context.Background(), wf, ex.Invalidate(nil), verified)
		require.ErrorIs(t, err, ErrBadState)
	})
}

func TestBase_Fail(t *testing.T) {
	wf := nativeWorkflow()

	t.Run("records errors", func(t *testing.T) {
		b := newBase(t)

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		failed, err := b.Fail(context.Background(), wf, ex, "remote failure")
		require.NoError(t, err)
		require.Equal(t, exchange.StateInvalid, failed.State)

		result, ok := failed.Result("license")
		require.True(t, ok)
		require.False(t, result.Verified)
		require.Equal(t, []string{"remote failure"}, result.Errors)
	})

	t.Run("keeps recorded result", func(t *testing.T) {
		b := newBase(t, WithNotifier(nil))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		done, err := b.Finalize(context.Background(), wf, ex, &exchange.StepResult{Verified: true})
		require.NoError(t, err)

		failed, err := b.Fail(context.Background(), wf, done, "late response")
		require.NoError(t, err)
		require.Equal(t, exchange.StateInvalid, failed.State)

		result, ok := failed.Result("license")
		require.True(t, ok)
		require.True(t, result.Verified)
	})
}

func TestBase_Verify(t *testing.T) {
	t.Run("no verifier", func(t *testing.T) {
		_, err := newBase(t).Verify(context.Background(), "vp", &presexch.PresentationSubmission{},
			&verifier.Request{Definition: definition()})
		require.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("result", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		v := mocks.NewMockPresentationVerifier(ctrl)
		v.EXPECT().VerifySubmission(gomock.Any(), "vp", gomock.Any(), gomock.Any()).Return(&verifier.Result{
			Errors:  []string{"untrusted issuers: did:web:x"},
			Issuers: []string{"did:web:x"},
		}, nil)

		result, err := newBase(t, WithVerifier(v)).Verify(context.Background(), "vp",
			&presexch.PresentationSubmission{}, &verifier.Request{Definition: definition()})
		require.NoError(t, err)
		require.False(t, result.Verified)
		require.Equal(t, []string{"did:web:x"}, result.Issuers)
		require.False(t, result.VerifiedAt.IsZero())
	})

	t.Run("error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		v := mocks.NewMockPresentationVerifier(ctrl)
		v.EXPECT().VerifySubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("presentation definition is required"))

		_, err := newBase(t, WithVerifier(v)).Verify(context.Background(), "vp", nil, &verifier.Request{})
		require.Error(t, err)
	})
}

func TestBase_RedeemCode(t *testing.T) {
	wf := nativeWorkflow()

	t.Run("once", func(t *testing.T) {
		b := newBase(t, WithNotifier(nil))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		done, err := b.Finalize(context.Background(), wf, ex, &exchange.StepResult{Verified: true})
		require.NoError(t, err)

		redeemed, err := b.RedeemCode(context.Background(), done.OIDC.Code)
		require.NoError(t, err)
		require.Equal(t, ex.ID, redeemed.ID)

		_, err = b.RedeemCode(context.Background(), done.OIDC.Code)
		require.ErrorIs(t, err, exchangestore.ErrExchangeNotFound)

		stored, err := b.GetExchange(context.Background(), wf, ex.ID)
		require.NoError(t, err)
		require.Empty(t, stored.OIDC.Code)
		require.Equal(t, exchange.StateComplete, stored.State)
	})

	t.Run("empty code", func(t *testing.T) {
		_, err := newBase(t).RedeemCode(context.Background(), "")
		require.ErrorIs(t, err, ErrBadRequest)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := newBase(t).RedeemCode(context.Background(), "nope")
		require.ErrorIs(t, err, exchangestore.ErrExchangeNotFound)
	})
}

func TestBase_AuthorizationRequest(t *testing.T) {
	wf := nativeWorkflow()
	binding := &RequestBinding{ResponseMode: "direct_post", ResponseURI: baseURL + "/response"}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewRequestSigner(priv, serviceDID+"#key-1")
	require.NoError(t, err)

	t.Run("signed and activated", func(t *testing.T) {
		b := newBase(t, WithRequestSigner(signer))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		token, err := b.IssueAuthorizationRequest(context.Background(), wf, ex.ID, binding)
		require.NoError(t, err)

		parsed, err := jwt.ParseSigned(token)
		require.NoError(t, err)
		require.Len(t, parsed.Headers, 1)
		require.Equal(t, serviceDID+"#key-1", parsed.Headers[0].KeyID)
		require.EqualValues(t, RequestObjectType, parsed.Headers[0].ExtraHeaders["typ"])

		var claims RequestObject
		require.NoError(t, parsed.Claims(pub, &claims))
		require.Equal(t, "vp_token", claims.ResponseType)
		require.Equal(t, "direct_post", claims.ResponseMode)
		require.Equal(t, serviceDID, claims.ClientID)
		require.Equal(t, "did", claims.ClientIDScheme)
		require.Equal(t, ex.Challenge, claims.Nonce)
		require.Equal(t, ex.ID, claims.State)
		require.Equal(t, binding.ResponseURI, claims.ResponseURI)
		require.Equal(t, "drivers-license-request", claims.PresentationDefinition.ID)
		require.Contains(t, claims.ClientMetadata.VPFormats, "jwt_vp_json")
		require.True(t, claims.Audience.Contains(SelfIssuedAudience))

		stored, err := b.GetExchange(context.Background(), wf, ex.ID)
		require.NoError(t, err)
		require.Equal(t, exchange.StateActive, stored.State)
		require.Equal(t, token, stored.Variables.AuthorizationRequest.JWT)
		require.Empty(t, stored.Public().Variables.AuthorizationRequest.JWT)
	})

	t.Run("no signing key", func(t *testing.T) {
		b := newBase(t)

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		_, err = b.IssueAuthorizationRequest(context.Background(), wf, ex.ID, binding)
		require.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("terminal exchange", func(t *testing.T) {
		b := newBase(t, WithRequestSigner(signer))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		_, err = b.Fail(context.Background(), wf, ex, "x")
		require.NoError(t, err)

		_, err = b.IssueAuthorizationRequest(context.Background(), wf, ex.ID, binding)
		require.ErrorIs(t, err, ErrBadState)
	})

	t.Run("missing step", func(t *testing.T) {
		b := newBase(t, WithRequestSigner(signer))

		broken := nativeWorkflow()
		broken.InitialStep = "unknown"

		ex, err := b.NewExchange(context.Background(), broken, nil, nil)
		require.NoError(t, err)

		_, err = b.IssueAuthorizationRequest(context.Background(), broken, ex.ID, binding)
		require.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestBase_AuthorizationResponse(t *testing.T) {
	wf := nativeWorkflow()
	native := &ResponseBinding{Audience: serviceDID}
	resp := &AuthorizationResponse{
		VPToken:    "a.b.c",
		Submission: &presexch.PresentationSubmission{DefinitionID: "drivers-license-request"},
	}

	t.Run("double submission invalidates", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		v := mocks.NewMockPresentationVerifier(ctrl)
		v.EXPECT().VerifySubmission(gomock.Any(), "a.b.c", resp.Submission, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, _ *presexch.PresentationSubmission, req *verifier.Request) (*verifier.Result, error) {
				require.Equal(t, serviceDID, req.Audience)
				require.Empty(t, req.Domain)
				require.Equal(t, "id-2", req.Challenge)
				require.Equal(t, wf.TrustedIssuers, req.TrustedIssuers)
				require.Equal(t, "drivers-license-request", req.Definition.ID)

				return &verifier.Result{Verified: true}, nil
			}).Times(1)

		b := newBase(t, WithVerifier(v), WithNotifier(nil))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		done, err := b.AcceptAuthorizationResponse(context.Background(), wf, ex.ID, resp, native)
		require.NoError(t, err)
		require.Equal(t, exchange.StateComplete, done.State)

		_, err = b.AcceptAuthorizationResponse(context.Background(), wf, ex.ID, resp, native)
		require.ErrorIs(t, err, ErrBadState)

		stored, err := b.GetExchange(context.Background(), wf, ex.ID)
		require.NoError(t, err)
		require.Equal(t, exchange.StateInvalid, stored.State)
		require.Empty(t, stored.OIDC.Code)

		_, err = b.AcceptAuthorizationResponse(context.Background(), wf, ex.ID, resp, native)
		require.ErrorIs(t, err, ErrBadState)

		again, err := b.GetExchange(context.Background(), wf, ex.ID)
		require.NoError(t, err)
		require.Equal(t, stored.Sequence, again.Sequence)
	})

	t.Run("malformed response", func(t *testing.T) {
		b := newBase(t)

		_, err := b.AcceptAuthorizationResponse(context.Background(), wf, "x", &AuthorizationResponse{}, native)
		require.ErrorIs(t, err, ErrBadRequest)

		_, err = b.AcceptAuthorizationResponse(context.Background(), wf, "x", nil, native)
		require.ErrorIs(t, err, ErrBadRequest)
	})

	t.Run("state mismatch", func(t *testing.T) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		signer, err := NewRequestSigner(priv, serviceDID+"#key-1")
		require.NoError(t, err)

		b := newBase(t, WithRequestSigner(signer))

		ex, err := b.NewExchange(context.Background(), wf, nil, nil)
		require.NoError(t, err)

		_, err = b.IssueAuthorizationRequest(context.Background(), wf, ex.ID, &RequestBinding{ResponseMode: "direct_post"})
		require.NoError(t, err)

		_, err = b.AcceptAuthorizationResponse(context.Background(), wf, ex.ID, &AuthorizationResponse{
			VPToken:    "a.b.c",
			Submission: resp.Submission,
			State:      "forged",
		}, native)
		require.ErrorIs(t, err, ErrBadRequest)
	})

	t.Run("unknown exchange", func(t *testing.T) {
		_, err := newBase(t).AcceptAuthorizationResponse(context.Background(), wf, "missing", resp, native)
		require.ErrorIs(t, err, exchangestore.ErrExchangeNotFound)
	})
}

func TestBase_URL(t *testing.T) {
	u, err := newBase(t).URL("workflows", "dl", "exchanges", "x1")
	require.NoError(t, err)
	require.Equal(t, baseURL+"/workflows/dl/exchanges/x1", u)

	_, err = NewBase(newStore(t)).URL("x")
	require.ErrorIs(t, err, ErrConfiguration)
}
