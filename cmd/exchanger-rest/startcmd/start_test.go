/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/multiformats/go-multibase"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-framework-go/component/log"
	spi "github.com/hyperledger/aries-framework-go/spi/log"
)

const workflowsYAML = `
workflows:
  - id: dl
    type: native
    initialStep: license
    clientId: rp
    clientSecret: s3cret
    steps:
      license:
        presentationDefinition:
          id: dl-request
          input_descriptors:
            - id: credential
              schema:
                - uri: https://example.org/dl#DriversLicense
`

type mockServer struct {
	handler http.Handler
}

func (s *mockServer) ListenAndServe(host string, handler http.Handler, certFile, keyFile string) error {
	s.handler = handler

	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))

	return p
}

func requiredArgs(t *testing.T) []string {
	t.Helper()

	return []string{
		"--" + hostFlagName, "localhost:8080",
		"--" + baseURLFlagName, "https://verifier.example.com",
		"--" + configFileFlagName, writeFile(t, t.TempDir(), "config.yaml", workflowsYAML),
		"--" + databaseTypeFlagName, databaseTypeMemOption,
	}
}

func testSeed(t *testing.T) string {
	t.Helper()

	seed := make([]byte, ed25519.SeedSize)
	_, err := rand.Read(seed)
	require.NoError(t, err)

	encoded, err := multibase.Encode(multibase.Base58BTC, seed)
	require.NoError(t, err)

	return encoded
}

func TestStartCmdContents(t *testing.T) {
	startCmd, err := Cmd(&mockServer{})
	require.NoError(t, err)

	require.Equal(t, "start", startCmd.Use)
	require.Equal(t, "Start the exchanger", startCmd.Short)
	require.Equal(t, "Start the presentation exchange service", startCmd.Long)

	checkFlagPropertiesCorrect(t, startCmd, hostFlagName, hostFlagShorthand, hostFlagUsage, "")
	checkFlagPropertiesCorrect(t, startCmd, baseURLFlagName, baseURLFlagShorthand, baseURLFlagUsage, "")
	checkFlagPropertiesCorrect(t, startCmd, configFileFlagName, configFileFlagShorthand, configFileFlagUsage, "")
	checkFlagPropertiesCorrect(t, startCmd, databaseTypeFlagName, databaseTypeFlagShorthand, databaseTypeFlagUsage, "")
	checkFlagPropertiesCorrect(t, startCmd, corsOriginsFlagName, "", corsOriginsFlagUsage, "[]")
}

func checkFlagPropertiesCorrect(t *testing.T, cmd *cobra.Command, flagName,
	flagShorthand, flagUsage, expectedVal string) {
	flag := cmd.Flag(flagName)

	require.NotNil(t, flag)
	require.Equal(t, flagName, flag.Name)
	require.Equal(t, flagShorthand, flag.Shorthand)
	require.Equal(t, flagUsage, flag.Usage)
	require.Equal(t, expectedVal, flag.Value.String())

	flagAnnotations := flag.Annotations
	require.Nil(t, flagAnnotations)
}

func TestStartCmdValidArgs(t *testing.T) {
	server := &mockServer{}

	startCmd, err := Cmd(server)
	require.NoError(t, err)

	startCmd.SetArgs(append(requiredArgs(t), "--"+signingKeySeedFlagName, testSeed(t)))

	require.NoError(t, startCmd.Execute())
	require.NotNil(t, server.handler)
}

func TestStartCmdValidArgsEnvVar(t *testing.T) {
	startCmd, err := Cmd(&mockServer{})
	require.NoError(t, err)

	t.Setenv(hostEnvKey, "localhost:8080")
	t.Setenv(baseURLEnvKey, "https://verifier.example.com")
	t.Setenv(configFileEnvKey, writeFile(t, t.TempDir(), "config.yaml", workflowsYAML))
	t.Setenv(databaseTypeEnvKey, databaseTypeMemOption)
	t.Setenv(corsOriginsEnvKey, "https://a.example.com,https://b.example.com")
	t.Setenv(callbackRetriesEnvKey, "5")

	require.NoError(t, startCmd.Execute())
}

func TestStartCmdWithMissingArgs(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
		message string
	}{
		{
			name:    "host",
			drop:    hostFlagName,
			message: "Neither api-host (command line flag) nor EXCHANGER_API_HOST (environment variable) have been set.",
		},
		{
			name: "base url",
			drop: baseURLFlagName,
			message: "Neither base-url (command line flag) nor EXCHANGER_BASE_URL" +
				" (environment variable) have been set.",
		},
		{
			name: "config file",
			drop: configFileFlagName,
			message: "Neither config-file (command line flag) nor EXCHANGER_CONFIG_FILE" +
				" (environment variable) have been set.",
		},
		{
			name: "database type",
			drop: databaseTypeFlagName,
			message: "Neither database-type (command line flag) nor EXCHANGER_DATABASE_TYPE" +
				" (environment variable) have been set.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			startCmd, err := Cmd(&mockServer{})
			require.NoError(t, err)

			all := requiredArgs(t)

			var args []string

			for i := 0; i < len(all); i += 2 {
				if all[i] != "--"+tc.drop {
					args = append(args, all[i], all[i+1])
				}
			}

			startCmd.SetArgs(args)

			err = startCmd.Execute()
			require.EqualError(t, err, tc.message)
		})
	}
}

func TestStartCmdWithBlankHostArg(t *testing.T) {
	startCmd, err := Cmd(&mockServer{})
	require.NoError(t, err)

	startCmd.SetArgs(append(requiredArgs(t), "--"+hostFlagName, ""))

	err = startCmd.Execute()
	require.Equal(t, errMissingHost.Error(), err.Error())
}

func TestStartCmdWithInvalidArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		message string
	}{
		{
			name:    "database type",
			args:    []string{"--" + databaseTypeFlagName, "couchdb"},
			message: "database type not set to a valid type",
		},
		{
			name:    "database timeout",
			args:    []string{"--" + databaseTimeoutFlagName, "soon"},
			message: "failed to parse db timeout",
		},
		{
			name:    "crl check",
			args:    []string{"--" + crlCheckFlagName, "maybe"},
			message: "invalid syntax",
		},
		{
			name:    "did cache size",
			args:    []string{"--" + didCacheSizeFlagName, "big"},
			message: "failed to parse did cache size",
		},
		{
			name:    "callback retries",
			args:    []string{"--" + callbackRetriesFlagName, "-1"},
			message: "failed to parse callback retries",
		},
		{
			name:    "retention",
			args:    []string{"--" + retentionFlagName, "forever"},
			message: "failed to parse record-retention",
		},
		{
			name:    "sweep interval",
			args:    []string{"--" + sweepIntervalFlagName, "-5m"},
			message: "sweep-interval must be positive",
		},
		{
			name:    "both signing keys",
			args:    []string{"--" + signingKeySeedFlagName, "z1", "--" + signingKeyFileFlagName, "key.json"},
			message: "set either signing-key-file or signing-key-seed",
		},
		{
			name:    "short seed",
			args:    []string{"--" + signingKeySeedFlagName, "z1111"},
			message: "signing key seed must be 32 bytes",
		},
		{
			name:    "redis url",
			args:    []string{"--" + redisURLFlagName, "mysql://localhost"},
			message: "parse redis url",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			startCmd, err := Cmd(&mockServer{})
			require.NoError(t, err)

			startCmd.SetArgs(append(requiredArgs(t), tc.args...))

			err = startCmd.Execute()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestStartCmdWithLogLevel(t *testing.T) {
	t.Run("start with log level - success", func(t *testing.T) {
		startCmd, err := Cmd(&mockServer{})
		require.NoError(t, err)

		startCmd.SetArgs(append(requiredArgs(t), "--"+logLevelFlagName, "DEBUG"))

		require.NoError(t, startCmd.Execute())
	})

	t.Run("start with log level - invalid", func(t *testing.T) {
		startCmd, err := Cmd(&mockServer{})
		require.NoError(t, err)

		startCmd.SetArgs([]string{"--" + logLevelFlagName, "INVALID"})

		err = startCmd.Execute()
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("validate log level", func(t *testing.T) {
		err := setLogLevel("DEBUG")
		require.NoError(t, err)
		require.Equal(t, spi.DEBUG, log.GetLevel(""))

		err = setLogLevel("WARNING")
		require.NoError(t, err)
		require.Equal(t, spi.WARNING, log.GetLevel(""))

		err = setLogLevel("INFO")
		require.NoError(t, err)
		require.Equal(t, spi.INFO, log.GetLevel(""))

		err = setLogLevel("")
		require.NoError(t, err)
		require.Equal(t, spi.INFO, log.GetLevel(""))
	})
}

func TestCreateHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seed := testSeed(t)

	handler, err := createHandler(ctx, &serviceParameters{
		baseURL:         "https://verifier.example.com",
		configFile:      writeFile(t, t.TempDir(), "config.yaml", workflowsYAML),
		signingSeed:     seed,
		didCacheSize:    10,
		callbackRetries: 1,
		retention:       time.Minute,
		sweepInterval:   time.Minute,
		dbParam:         &dbParam{dbType: databaseTypeMemOption},
	})
	require.NoError(t, err)

	t.Run("create requires client credentials", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/workflows/dl/exchanges", nil))
		require.Equal(t, http.StatusUnauthorized, rr.Code)

		req := httptest.NewRequest(http.MethodPost, "/workflows/dl/exchanges", strings.NewReader(`{}`))
		req.SetBasicAuth("rp", "s3cret")

		rr = httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusCreated, rr.Code)
		require.True(t, strings.HasPrefix(rr.Header().Get("Location"),
			"https://verifier.example.com/workflows/dl/exchanges/"))
		require.Contains(t, rr.Body.String(), "openid4vp://authorize")
	})

	t.Run("unknown workflow", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/workflows/other/exchanges/x", nil))
		require.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		require.Contains(t, rr.Body.String(), "exchanger_")
		require.Contains(t, rr.Body.String(), "go_goroutines")
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/workflows/dl/exchanges", nil)
		req.Header.Set("Origin", "https://rp.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestStoreProvider(t *testing.T) {
	t.Run("mem", func(t *testing.T) {
		p, err := createStoreProvider(&dbParam{dbType: databaseTypeMemOption})
		require.NoError(t, err)
		require.NotNil(t, p)
	})

	t.Run("leveldb", func(t *testing.T) {
		p, err := createStoreProvider(&dbParam{dbType: databaseTypeLevelDBOption, url: t.TempDir()})
		require.NoError(t, err)
		require.NoError(t, p.Close())
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := createStoreProvider(&dbParam{dbType: "mongodb"})
		require.Error(t, err)
	})
}

func TestCreateRequestSigner(t *testing.T) {
	t.Run("no key", func(t *testing.T) {
		signer, serviceDID, err := createRequestSigner(&serviceParameters{serviceDID: "did:web:v.example.com"})
		require.NoError(t, err)
		require.Nil(t, signer)
		require.Equal(t, "did:web:v.example.com", serviceDID)
	})

	t.Run("seed derives did:jwk", func(t *testing.T) {
		seed := testSeed(t)

		signer, serviceDID, err := createRequestSigner(&serviceParameters{signingSeed: seed})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(serviceDID, "did:jwk:"))
		require.Equal(t, serviceDID+"#0", signer.KeyID())
		require.Equal(t, string(jose.EdDSA), signer.Algorithm())

		_, again, err := createRequestSigner(&serviceParameters{signingSeed: seed})
		require.NoError(t, err)
		require.Equal(t, serviceDID, again)
	})

	t.Run("jwk file with configured did", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		keyJSON := fmt.Sprintf(`{"kty":"OKP","crv":"Ed25519","x":%q,"d":%q}`,
			base64.RawURLEncoding.EncodeToString(pub), base64.RawURLEncoding.EncodeToString(priv.Seed()))

		signer, serviceDID, err := createRequestSigner(&serviceParameters{
			signingKeyFile: writeFile(t, t.TempDir(), "key.json", keyJSON),
			signingKeyID:   "did:web:v.example.com#key-1",
			serviceDID:     "did:web:v.example.com",
		})
		require.NoError(t, err)
		require.Equal(t, "did:web:v.example.com", serviceDID)
		require.Equal(t, "did:web:v.example.com#key-1", signer.KeyID())
	})

	t.Run("public jwk file", func(t *testing.T) {
		pub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		keyJSON := fmt.Sprintf(`{"kty":"OKP","crv":"Ed25519","x":%q}`, base64.RawURLEncoding.EncodeToString(pub))

		_, _, err = createRequestSigner(&serviceParameters{
			signingKeyFile: writeFile(t, t.TempDir(), "key.json", keyJSON),
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "must be a private")
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := createRequestSigner(&serviceParameters{signingKeyFile: filepath.Join(t.TempDir(), "absent")})
		require.Error(t, err)
	})
}
