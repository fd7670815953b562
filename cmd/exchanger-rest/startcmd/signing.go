/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/multiformats/go-multibase"

	"github.com/hyperledger/aries-framework-go/component/kmscrypto/doc/jose/jwk"
	"github.com/hyperledger/aries-framework-go/component/kmscrypto/doc/jose/jwk/jwksupport"

	vdrjwk "github.com/hyperledger/aries-exchanger/pkg/vdr/jwk"
	"github.com/hyperledger/aries-exchanger/pkg/workflow"
)

// createRequestSigner loads the signing key and returns the request signer and the service DID.
// Without a key the signer is nil and the configured service DID is returned as is.
func createRequestSigner(parameters *serviceParameters) (*workflow.RequestSigner, string, error) {
	key, err := loadSigningKey(parameters.signingKeyFile, parameters.signingSeed)
	if err != nil {
		return nil, "", err
	}

	if key == nil {
		return nil, parameters.serviceDID, nil
	}

	serviceDID := parameters.serviceDID

	if serviceDID == "" {
		pub, ok := key.(interface{ Public() crypto.PublicKey })
		if !ok {
			return nil, "", fmt.Errorf("unsupported signing key type %T", key)
		}

		pubJWK, err := jwksupport.JWKFromKey(pub.Public())
		if err != nil {
			return nil, "", fmt.Errorf("signing key to jwk: %w", err)
		}

		serviceDID, err = vdrjwk.FromKey(pubJWK)
		if err != nil {
			return nil, "", err
		}
	}

	kid := parameters.signingKeyID
	if kid == "" {
		kid = serviceDID + "#0"
	}

	signer, err := workflow.NewRequestSigner(key, kid)
	if err != nil {
		return nil, "", err
	}

	return signer, serviceDID, nil
}

func loadSigningKey(file, seed string) (interface{}, error) {
	switch {
	case file != "" && seed != "":
		return nil, errors.New("set either " + signingKeyFileFlagName + " or " + signingKeySeedFlagName)
	case file != "":
		raw, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}

		return parsePrivateJWK(raw)
	case seed != "":
		return keyFromSeed(seed)
	default:
		return nil, nil
	}
}

func parsePrivateJWK(raw []byte) (interface{}, error) {
	var key jwk.JWK

	if err := key.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	switch k := key.Key.(type) {
	case ed25519.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("signing key must be a private Ed25519 or P-256 jwk, got %T", key.Key)
	}
}

func keyFromSeed(encoded string) (ed25519.PrivateKey, error) {
	_, seed, err := multibase.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode signing key seed: %w", err)
	}

	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	return ed25519.NewKeyFromSeed(seed), nil
}
