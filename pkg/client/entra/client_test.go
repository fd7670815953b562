/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package entra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
)

func newTenant(t *testing.T, api http.HandlerFunc) (*httptest.Server, *exchange.EntraConfig) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "rp", id)
		require.Equal(t, "s3cret", secret)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1.0/verifiableCredentials/createPresentationRequest", api)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, &exchange.EntraConfig{
		APIURL:         srv.URL + "/v1.0",
		Authority:      "did:web:verifier.example.com",
		CredentialType: "VerifiedEmployee",
		OAuth2: &exchange.OAuth2Config{
			TokenURL:     srv.URL + "/token",
			ClientID:     "rp",
			ClientSecret: "s3cret",
			Scopes:       []string{"3db474b9-6a0c-4840-96ac-1fceb342124f/.default"},
		},
	}
}

func TestClient_CreatePresentationRequest(t *testing.T) {
	req := &PresentationRequest{
		IncludeReceipt: true,
		Authority:      "did:web:verifier.example.com",
		Registration:   Registration{ClientName: "Example"},
		Callback: Callback{
			URL:     "https://rp.example.com/callback",
			State:   "x1",
			Headers: map[string]string{"Authorization": "Bearer secret"},
		},
		RequestedCredentials: []RequestedCredential{{Type: "VerifiedEmployee"}},
	}

	t.Run("success", func(t *testing.T) {
		_, cfg := newTenant(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

			var got PresentationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			require.Equal(t, *req, got)

			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"requestId":"r1","url":"openid-vc://?request_uri=x","expiry":1700000000}`))
		})

		resp, err := New().CreatePresentationRequest(context.Background(), cfg, req)
		require.NoError(t, err)
		require.Equal(t, "r1", resp.RequestID)
		require.Equal(t, "openid-vc://?request_uri=x", resp.URL)
	})

	t.Run("service error", func(t *testing.T) {
		_, cfg := newTenant(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"badRequest","message":"authority is invalid"}}`))
		})

		_, err := New().CreatePresentationRequest(context.Background(), cfg, req)
		require.Error(t, err)
		require.Contains(t, err.Error(), "badRequest: authority is invalid")
	})

	t.Run("no request id", func(t *testing.T) {
		_, cfg := newTenant(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		})

		_, err := New().CreatePresentationRequest(context.Background(), cfg, req)
		require.Error(t, err)
		require.Contains(t, err.Error(), "no request id")
	})

	t.Run("token failure", func(t *testing.T) {
		srv, cfg := newTenant(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("api must not be called without a token")
		})

		cfg.OAuth2.TokenURL = srv.URL + "/missing"

		_, err := New().CreatePresentationRequest(context.Background(), cfg, req)
		require.Error(t, err)
	})

	t.Run("no credentials", func(t *testing.T) {
		_, err := New().CreatePresentationRequest(context.Background(), &exchange.EntraConfig{APIURL: "http://x"}, req)
		require.Error(t, err)
	})
}

func TestParseCallbackEvent(t *testing.T) {
	t.Run("verified", func(t *testing.T) {
		ev, err := ParseCallbackEvent([]byte(`{"requestId":"r1","requestStatus":"presentation_verified",
			"state":"x1","subject":"did:web:holder","receipt":{"vp_token":"a.b.c"}}`))
		require.NoError(t, err)
		require.Equal(t, StatusPresentationVerified, ev.RequestStatus)
		require.Equal(t, "a.b.c", ev.Receipt.VPToken)
	})

	t.Run("error", func(t *testing.T) {
		ev, err := ParseCallbackEvent([]byte(`{"requestId":"r1","requestStatus":"presentation_error",
			"error":{"code":"tokenError","message":"expired"}}`))
		require.NoError(t, err)
		require.EqualError(t, ev.Error, "tokenError: expired")
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := ParseCallbackEvent([]byte(`{"state":"x1"}`))
		require.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseCallbackEvent([]byte(`{`))
		require.Error(t, err)
	})
}
