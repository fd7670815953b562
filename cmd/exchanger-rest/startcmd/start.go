/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/storage/leveldb"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-exchanger/pkg/callback"
	entraclient "github.com/hyperledger/aries-exchanger/pkg/client/entra"
	vcapiclient "github.com/hyperledger/aries-exchanger/pkg/client/vcapi"
	"github.com/hyperledger/aries-exchanger/pkg/controller"
	"github.com/hyperledger/aries-exchanger/pkg/ld"
	"github.com/hyperledger/aries-exchanger/pkg/metrics"
	"github.com/hyperledger/aries-exchanger/pkg/store/didhistory"
	exchangestore "github.com/hyperledger/aries-exchanger/pkg/store/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/store/exchange/redisstore"
	"github.com/hyperledger/aries-exchanger/pkg/trust/certchain"
	"github.com/hyperledger/aries-exchanger/pkg/trust/issueraudit"
	"github.com/hyperledger/aries-exchanger/pkg/vdr"
	"github.com/hyperledger/aries-exchanger/pkg/verifier"
	"github.com/hyperledger/aries-exchanger/pkg/workflow"
	"github.com/hyperledger/aries-exchanger/pkg/workflow/dcapi"
	"github.com/hyperledger/aries-exchanger/pkg/workflow/entra"
	"github.com/hyperledger/aries-exchanger/pkg/workflow/native"
	"github.com/hyperledger/aries-exchanger/pkg/workflow/vcapi"
)

const (
	// api host flag.
	hostFlagName      = "api-host"
	hostEnvKey        = "EXCHANGER_API_HOST"
	hostFlagShorthand = "a"
	hostFlagUsage     = "Host Name:Port." +
		" Alternatively, this can be set with the following environment variable: " + hostEnvKey

	// api token flag.
	tokenFlagName      = "api-token"
	tokenEnvKey        = "EXCHANGER_API_TOKEN" // nolint:gosec
	tokenFlagShorthand = "t"
	tokenFlagUsage     = "Bearer token accepted in place of workflow client credentials (optional)." +
		" Alternatively, this can be set with the following environment variable: " + tokenEnvKey

	// external url flag.
	baseURLFlagName      = "base-url"
	baseURLEnvKey        = "EXCHANGER_BASE_URL"
	baseURLFlagShorthand = "b"
	baseURLFlagUsage     = "URL of this service as seen by wallets, used in request and callback URLs." +
		" Alternatively, this can be set with the following environment variable: " + baseURLEnvKey

	// workflow configuration flag.
	configFileFlagName      = "config-file"
	configFileEnvKey        = "EXCHANGER_CONFIG_FILE"
	configFileFlagShorthand = "f"
	configFileFlagUsage     = "YAML file with workflow definitions, trust anchors and JSON-LD contexts." +
		" Alternatively, this can be set with the following environment variable: " + configFileEnvKey

	databaseTypeFlagName      = "database-type"
	databaseTypeEnvKey        = "EXCHANGER_DATABASE_TYPE"
	databaseTypeFlagShorthand = "q"
	databaseTypeFlagUsage     = "The type of database to use. Supported options: mem, leveldb." +
		" Alternatively, this can be set with the following environment variable: " + databaseTypeEnvKey

	databaseURLFlagName      = "database-url"
	databaseURLEnvKey        = "EXCHANGER_DATABASE_URL"
	databaseURLFlagShorthand = "v"
	databaseURLFlagUsage     = "The URL (leveldb: the path) of the database. Not needed if using memstore." +
		" Alternatively, this can be set with the following environment variable: " + databaseURLEnvKey

	databaseTimeoutFlagName  = "database-timeout"
	databaseTimeoutFlagUsage = "Total time in seconds to wait until the db is available before giving up." +
		" Default: " + databaseTimeoutDefault + " seconds." +
		" Alternatively, this can be set with the following environment variable: " + databaseTimeoutEnvKey
	databaseTimeoutEnvKey  = "EXCHANGER_DATABASE_TIMEOUT"
	databaseTimeoutDefault = "30"

	redisURLFlagName  = "redis-url"
	redisURLEnvKey    = "EXCHANGER_REDIS_URL"
	redisURLFlagUsage = "Redis URL. When set, exchanges are kept in redis and shared between instances." +
		" Alternatively, this can be set with the following environment variable: " + redisURLEnvKey

	redisPrefixFlagName  = "redis-key-prefix"
	redisPrefixEnvKey    = "EXCHANGER_REDIS_KEY_PREFIX"
	redisPrefixFlagUsage = "Prefix of the redis keys (optional)." +
		" Alternatively, this can be set with the following environment variable: " + redisPrefixEnvKey

	// signing key flags.
	signingKeyFileFlagName  = "signing-key-file"
	signingKeyFileEnvKey    = "EXCHANGER_SIGNING_KEY_FILE"
	signingKeyFileFlagUsage = "File holding the private Ed25519 or P-256 JWK that signs authorization requests." +
		" Alternatively, this can be set with the following environment variable: " + signingKeyFileEnvKey

	signingKeySeedFlagName  = "signing-key-seed"
	signingKeySeedEnvKey    = "EXCHANGER_SIGNING_KEY_SEED" // nolint:gosec
	signingKeySeedFlagUsage = "Multibase encoded 32 byte Ed25519 seed of the signing key." +
		" Alternatively, this can be set with the following environment variable: " + signingKeySeedEnvKey

	signingKeyIDFlagName  = "signing-key-id"
	signingKeyIDEnvKey    = "EXCHANGER_SIGNING_KEY_ID"
	signingKeyIDFlagUsage = "Key id (kid) of the signing key. Defaults to the first key of the service DID." +
		" Alternatively, this can be set with the following environment variable: " + signingKeyIDEnvKey

	serviceDIDFlagName  = "service-did"
	serviceDIDEnvKey    = "EXCHANGER_SERVICE_DID"
	serviceDIDFlagUsage = "DID of this verifier, used as client_id. Defaults to the did:jwk of the signing key." +
		" Alternatively, this can be set with the following environment variable: " + serviceDIDEnvKey

	// trust flags.
	crlCheckFlagName  = "crl-check"
	crlCheckEnvKey    = "EXCHANGER_CRL_CHECK"
	crlCheckFlagUsage = "Check certificate revocation lists of x5c chains when no OCSP responder is listed." +
		" Possible values [true] [false]. Defaults to false if not set." +
		" Alternatively, this can be set with the following environment variable: " + crlCheckEnvKey

	remoteContextsFlagName  = "remote-contexts"
	remoteContextsEnvKey    = "EXCHANGER_REMOTE_CONTEXTS"
	remoteContextsFlagUsage = "Fetch JSON-LD contexts that are neither embedded nor configured." +
		" Possible values [true] [false]. Defaults to false if not set." +
		" Alternatively, this can be set with the following environment variable: " + remoteContextsEnvKey

	didCacheSizeFlagName  = "did-cache-size"
	didCacheSizeEnvKey    = "EXCHANGER_DID_CACHE_SIZE"
	didCacheSizeFlagUsage = "Number of resolved DID documents kept in memory. Default: 1000." +
		" Alternatively, this can be set with the following environment variable: " + didCacheSizeEnvKey

	// callback flags.
	callbackRetriesFlagName  = "callback-retries"
	callbackRetriesEnvKey    = "EXCHANGER_CALLBACK_RETRIES"
	callbackRetriesFlagUsage = "Retries of a failed relying party notification. Default: 3." +
		" Alternatively, this can be set with the following environment variable: " + callbackRetriesEnvKey

	// retention flags.
	retentionFlagName  = "record-retention"
	retentionEnvKey    = "EXCHANGER_RECORD_RETENTION"
	retentionFlagUsage = "How long exchange records are kept after they expire, e.g. 1h. Default: 1h." +
		" Alternatively, this can be set with the following environment variable: " + retentionEnvKey

	sweepIntervalFlagName  = "sweep-interval"
	sweepIntervalEnvKey    = "EXCHANGER_SWEEP_INTERVAL"
	sweepIntervalFlagUsage = "Interval of the deletion of exchange records past retention, e.g. 5m. Default: 5m." +
		" Alternatively, this can be set with the following environment variable: " + sweepIntervalEnvKey

	// cors flag.
	corsOriginsFlagName  = "cors-allowed-origins"
	corsOriginsEnvKey    = "EXCHANGER_CORS_ALLOWED_ORIGINS"
	corsOriginsFlagUsage = "Origins allowed to call the API from a browser. Defaults to all origins." +
		" Alternatively, this can be set with the following environment variable (in CSV format): " + corsOriginsEnvKey

	// log level.
	logLevelFlagName  = "log-level"
	logLevelEnvKey    = "EXCHANGER_LOG_LEVEL"
	logLevelFlagUsage = "Log level." +
		" Possible values [INFO] [DEBUG] [ERROR] [WARNING] [CRITICAL] . Defaults to INFO if not set." +
		" Alternatively, this can be set with the following environment variable: " + logLevelEnvKey

	tlsCertFileFlagName      = "tls-cert-file"
	tlsCertFileEnvKey        = "TLS_CERT_FILE"
	tlsCertFileFlagShorthand = "c"
	tlsCertFileFlagUsage     = "tls certificate file." +
		" Alternatively, this can be set with the following environment variable: " + tlsCertFileEnvKey

	tlsKeyFileFlagName      = "tls-key-file"
	tlsKeyFileEnvKey        = "TLS_KEY_FILE"
	tlsKeyFileFlagShorthand = "k"
	tlsKeyFileFlagUsage     = "tls key file." +
		" Alternatively, this can be set with the following environment variable: " + tlsKeyFileEnvKey

	databaseTypeMemOption     = "mem"
	databaseTypeLevelDBOption = "leveldb"

	defaultDIDCacheSize    = 1000
	defaultDIDCacheTTL     = 5 * time.Minute
	defaultCallbackRetries = 3
	defaultCallbackBackoff = 500 * time.Millisecond
	defaultRetention       = time.Hour
	defaultSweepInterval   = 5 * time.Minute
)

var (
	errMissingHost = errors.New("host not provided")
	logger         = log.New("aries-exchanger/exchanger-rest")
)

type serviceParameters struct {
	server                      server
	host, token, baseURL        string
	configFile                  string
	tlsCertFile, tlsKeyFile     string
	signingKeyFile, signingSeed string
	signingKeyID, serviceDID    string
	redisURL, redisPrefix       string
	corsOrigins                 []string
	crlCheck, remoteContexts    bool
	didCacheSize                int
	callbackRetries             uint64
	retention, sweepInterval    time.Duration
	dbParam                     *dbParam
}

type dbParam struct {
	dbType  string
	url     string
	timeout uint64
}

// nolint:gochecknoglobals
var supportedStorageProviders = map[string]func(url string) (storage.Provider, error){
	databaseTypeMemOption: func(_ string) (storage.Provider, error) { // nolint:unparam
		return mem.NewProvider(), nil
	},
	databaseTypeLevelDBOption: func(path string) (storage.Provider, error) { // nolint:unparam
		return leveldb.NewProvider(path), nil
	},
}

type server interface {
	ListenAndServe(host string, router http.Handler, certFile, keyFile string) error
}

// HTTPServer represents an actual server implementation.
type HTTPServer struct{}

// ListenAndServe starts the server using the standard Go HTTP server implementation.
func (s *HTTPServer) ListenAndServe(host string, router http.Handler, certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		return http.ListenAndServeTLS(host, certFile, keyFile, router)
	}

	return http.ListenAndServe(host, router) // nolint:gosec
}

// Cmd returns the Cobra start command.
func Cmd(server server) (*cobra.Command, error) {
	startCmd := createStartCMD(server)

	createFlags(startCmd)

	return startCmd, nil
}

func createStartCMD(server server) *cobra.Command { //nolint: funlen, gocyclo
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exchanger",
		Long:  `Start the presentation exchange service`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// log level
			logLevel, err := getUserSetVar(cmd, logLevelFlagName, logLevelEnvKey, true)
			if err != nil {
				return err
			}

			err = setLogLevel(logLevel)
			if err != nil {
				return err
			}

			parameters := &serviceParameters{server: server}

			parameters.host, err = getUserSetVar(cmd, hostFlagName, hostEnvKey, false)
			if err != nil {
				return err
			}

			parameters.baseURL, err = getUserSetVar(cmd, baseURLFlagName, baseURLEnvKey, false)
			if err != nil {
				return err
			}

			parameters.configFile, err = getUserSetVar(cmd, configFileFlagName, configFileEnvKey, false)
			if err != nil {
				return err
			}

			parameters.token, err = getUserSetVar(cmd, tokenFlagName, tokenEnvKey, true)
			if err != nil {
				return err
			}

			parameters.dbParam, err = getDBParam(cmd)
			if err != nil {
				return err
			}

			err = getSigningParams(cmd, parameters)
			if err != nil {
				return err
			}

			err = getTrustParams(cmd, parameters)
			if err != nil {
				return err
			}

			err = getExchangeParams(cmd, parameters)
			if err != nil {
				return err
			}

			parameters.corsOrigins, err = getUserSetVars(cmd, corsOriginsFlagName, corsOriginsEnvKey, true)
			if err != nil {
				return err
			}

			parameters.tlsCertFile, err = getUserSetVar(cmd, tlsCertFileFlagName, tlsCertFileEnvKey, true)
			if err != nil {
				return err
			}

			parameters.tlsKeyFile, err = getUserSetVar(cmd, tlsKeyFileFlagName, tlsKeyFileEnvKey, true)
			if err != nil {
				return err
			}

			return startService(parameters)
		},
	}
}

func getDBParam(cmd *cobra.Command) (*dbParam, error) {
	dbParam := &dbParam{}

	var err error

	dbParam.dbType, err = getUserSetVar(cmd, databaseTypeFlagName, databaseTypeEnvKey, false)
	if err != nil {
		return nil, err
	}

	dbParam.url, err = getUserSetVar(cmd, databaseURLFlagName, databaseURLEnvKey, true)
	if err != nil {
		return nil, err
	}

	dbTimeout, err := getUserSetVar(cmd, databaseTimeoutFlagName, databaseTimeoutEnvKey, true)
	if err != nil {
		return nil, err
	}

	if dbTimeout == "" || dbTimeout == "0" {
		dbTimeout = databaseTimeoutDefault
	}

	t, err := strconv.Atoi(dbTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db timeout %s: %w", dbTimeout, err)
	}

	dbParam.timeout = uint64(t)

	return dbParam, nil
}

func getSigningParams(cmd *cobra.Command, parameters *serviceParameters) error {
	var err error

	parameters.signingKeyFile, err = getUserSetVar(cmd, signingKeyFileFlagName, signingKeyFileEnvKey, true)
	if err != nil {
		return err
	}

	parameters.signingSeed, err = getUserSetVar(cmd, signingKeySeedFlagName, signingKeySeedEnvKey, true)
	if err != nil {
		return err
	}

	parameters.signingKeyID, err = getUserSetVar(cmd, signingKeyIDFlagName, signingKeyIDEnvKey, true)
	if err != nil {
		return err
	}

	parameters.serviceDID, err = getUserSetVar(cmd, serviceDIDFlagName, serviceDIDEnvKey, true)

	return err
}

func getTrustParams(cmd *cobra.Command, parameters *serviceParameters) error {
	var err error

	parameters.crlCheck, err = getBoolValue(cmd, crlCheckFlagName, crlCheckEnvKey)
	if err != nil {
		return err
	}

	parameters.remoteContexts, err = getBoolValue(cmd, remoteContextsFlagName, remoteContextsEnvKey)
	if err != nil {
		return err
	}

	cacheSize, err := getUserSetVar(cmd, didCacheSizeFlagName, didCacheSizeEnvKey, true)
	if err != nil {
		return err
	}

	parameters.didCacheSize = defaultDIDCacheSize

	if cacheSize != "" {
		parameters.didCacheSize, err = strconv.Atoi(cacheSize)
		if err != nil {
			return fmt.Errorf("failed to parse did cache size %s: %w", cacheSize, err)
		}
	}

	return nil
}

func getExchangeParams(cmd *cobra.Command, parameters *serviceParameters) error {
	var err error

	parameters.redisURL, err = getUserSetVar(cmd, redisURLFlagName, redisURLEnvKey, true)
	if err != nil {
		return err
	}

	parameters.redisPrefix, err = getUserSetVar(cmd, redisPrefixFlagName, redisPrefixEnvKey, true)
	if err != nil {
		return err
	}

	retries, err := getUserSetVar(cmd, callbackRetriesFlagName, callbackRetriesEnvKey, true)
	if err != nil {
		return err
	}

	parameters.callbackRetries = defaultCallbackRetries

	if retries != "" {
		parameters.callbackRetries, err = strconv.ParseUint(retries, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse callback retries %s: %w", retries, err)
		}
	}

	parameters.retention, err = getDurationValue(cmd, retentionFlagName, retentionEnvKey, defaultRetention)
	if err != nil {
		return err
	}

	parameters.sweepInterval, err = getDurationValue(cmd, sweepIntervalFlagName, sweepIntervalEnvKey,
		defaultSweepInterval)

	return err
}

func getBoolValue(cmd *cobra.Command, flagName, envKey string) (bool, error) {
	v, err := getUserSetVar(cmd, flagName, envKey, true)
	if err != nil {
		return false, err
	}

	if v == "" {
		return false, nil
	}

	return strconv.ParseBool(v)
}

func getDurationValue(cmd *cobra.Command, flagName, envKey string, defaultValue time.Duration) (time.Duration, error) {
	v, err := getUserSetVar(cmd, flagName, envKey, true)
	if err != nil {
		return 0, err
	}

	if v == "" {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %s: %w", flagName, v, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", flagName)
	}

	return d, nil
}

func createFlags(startCmd *cobra.Command) {
	// host flag
	startCmd.Flags().StringP(hostFlagName, hostFlagShorthand, "", hostFlagUsage)

	// token flag
	startCmd.Flags().StringP(tokenFlagName, tokenFlagShorthand, "", tokenFlagUsage)

	// base url flag
	startCmd.Flags().StringP(baseURLFlagName, baseURLFlagShorthand, "", baseURLFlagUsage)

	// config file flag
	startCmd.Flags().StringP(configFileFlagName, configFileFlagShorthand, "", configFileFlagUsage)

	// db type
	startCmd.Flags().StringP(databaseTypeFlagName, databaseTypeFlagShorthand, "", databaseTypeFlagUsage)

	// db url
	startCmd.Flags().StringP(databaseURLFlagName, databaseURLFlagShorthand, "", databaseURLFlagUsage)

	// db timeout
	startCmd.Flags().StringP(databaseTimeoutFlagName, "", "", databaseTimeoutFlagUsage)

	// redis
	startCmd.Flags().StringP(redisURLFlagName, "", "", redisURLFlagUsage)
	startCmd.Flags().StringP(redisPrefixFlagName, "", "", redisPrefixFlagUsage)

	// signing key
	startCmd.Flags().StringP(signingKeyFileFlagName, "", "", signingKeyFileFlagUsage)
	startCmd.Flags().StringP(signingKeySeedFlagName, "", "", signingKeySeedFlagUsage)
	startCmd.Flags().StringP(signingKeyIDFlagName, "", "", signingKeyIDFlagUsage)
	startCmd.Flags().StringP(serviceDIDFlagName, "", "", serviceDIDFlagUsage)

	// trust
	startCmd.Flags().StringP(crlCheckFlagName, "", "", crlCheckFlagUsage)
	startCmd.Flags().StringP(remoteContextsFlagName, "", "", remoteContextsFlagUsage)
	startCmd.Flags().StringP(didCacheSizeFlagName, "", "", didCacheSizeFlagUsage)

	// exchanges
	startCmd.Flags().StringP(callbackRetriesFlagName, "", "", callbackRetriesFlagUsage)
	startCmd.Flags().StringP(retentionFlagName, "", "", retentionFlagUsage)
	startCmd.Flags().StringP(sweepIntervalFlagName, "", "", sweepIntervalFlagUsage)

	// cors
	startCmd.Flags().StringSliceP(corsOriginsFlagName, "", []string{}, corsOriginsFlagUsage)

	// log level
	startCmd.Flags().StringP(logLevelFlagName, "", "", logLevelFlagUsage)

	// tls cert file
	startCmd.Flags().StringP(tlsCertFileFlagName, tlsCertFileFlagShorthand, "", tlsCertFileFlagUsage)

	// tls key file
	startCmd.Flags().StringP(tlsKeyFileFlagName, tlsKeyFileFlagShorthand, "", tlsKeyFileFlagUsage)
}

func getUserSetVar(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		return value, nil
	}

	return "", errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

func getUserSetVars(cmd *cobra.Command, flagName, envKey string, isOptional bool) ([]string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetStringSlice(flagName)
		if err != nil {
			return nil, fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	var values []string

	if isSet {
		values = strings.Split(value, ",")
	}

	if isOptional || isSet {
		return values, nil
	}

	return nil, fmt.Errorf(" %s not set. "+
		"It must be set via either command line or environment variable", flagName)
}

func setLogLevel(logLevel string) error {
	if logLevel != "" {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level '%s' : %w", logLevel, err)
		}

		log.SetLevel("", level)

		logger.Infof("logger level set to %s", logLevel)
	}

	return nil
}

func startService(parameters *serviceParameters) error {
	if parameters.host == "" {
		return errMissingHost
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, err := createHandler(ctx, parameters)
	if err != nil {
		return fmt.Errorf("failed to start exchanger on [%s]: %w", parameters.host, err)
	}

	logger.Infof("Starting exchanger rest on host [%s]", parameters.host)

	err = parameters.server.ListenAndServe(parameters.host, handler, parameters.tlsCertFile, parameters.tlsKeyFile)
	if err != nil {
		return fmt.Errorf("failed to start exchanger rest on [%s], cause:  %w", parameters.host, err)
	}

	return nil
}

// createHandler wires the service and starts the record sweeper, which stops with ctx.
func createHandler(ctx context.Context, parameters *serviceParameters) (http.Handler, error) { // nolint:funlen
	cfg, err := loadConfig(parameters.configFile)
	if err != nil {
		return nil, err
	}

	storeProvider, err := createStoreProvider(parameters.dbParam)
	if err != nil {
		return nil, err
	}

	signer, serviceDID, err := createRequestSigner(parameters)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	v, err := createVerifier(storeProvider, cfg, parameters)
	if err != nil {
		return nil, err
	}

	exchanges, err := createExchangeStore(storeProvider, parameters)
	if err != nil {
		return nil, err
	}

	baseOpts := []workflow.Opt{
		workflow.WithVerifier(v),
		workflow.WithAuditor(v),
		workflow.WithNotifier(callback.New(callback.WithRetry(parameters.callbackRetries, defaultCallbackBackoff))),
		workflow.WithMetrics(m),
		workflow.WithServiceDID(serviceDID),
		workflow.WithBaseURL(parameters.baseURL),
		workflow.WithRetention(parameters.retention),
	}

	if signer != nil {
		baseOpts = append(baseOpts, workflow.WithRequestSigner(signer))
	} else {
		logger.Warnf("no signing key configured: native and dcapi workflows cannot serve authorization requests")
	}

	base := workflow.NewBase(exchanges, baseOpts...)

	registry, err := workflow.NewRegistry(cfg.Workflows,
		native.New(base),
		dcapi.New(base),
		vcapi.New(base, vcapiclient.New()),
		entra.New(base, entraclient.New()),
	)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}

	logger.Infof("serving workflows %v as %s", registry.Workflows(), serviceDID)

	controllerOpts := []controller.Opt{controller.WithMetrics(reg)}
	if parameters.token != "" {
		controllerOpts = append(controllerOpts, controller.WithAdminToken(parameters.token))
	}

	handlers, err := controller.GetRESTHandlers(registry, base, controllerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to get rest service api: %w", err)
	}

	router := mux.NewRouter()

	for _, handler := range handlers {
		router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())
	}

	go exchangestore.NewSweeper(exchanges, parameters.sweepInterval, exchangestore.WithSweptHook(m.RecordsSwept)).Run(ctx)

	corsOpts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead},
		AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "Authorization"},
	}

	if len(parameters.corsOrigins) > 0 {
		corsOpts.AllowedOrigins = parameters.corsOrigins
	}

	return cors.New(corsOpts).Handler(router), nil
}

func createVerifier(storeProvider storage.Provider, cfg *serviceConfig,
	parameters *serviceParameters) (*verifier.Verifier, error) {
	var loaderOpts []ld.Opt

	if len(cfg.Contexts) > 0 {
		loaderOpts = append(loaderOpts, ld.WithExtraContexts(cfg.Contexts...))
	}

	if parameters.remoteContexts {
		loaderOpts = append(loaderOpts, ld.WithRemoteFetch(nil))
	}

	loader, err := ld.NewDocumentLoader(storeProvider, loaderOpts...)
	if err != nil {
		return nil, err
	}

	resolver := vdr.New(vdr.WithCache(parameters.didCacheSize, defaultDIDCacheTTL))

	history, err := didhistory.New(storeProvider)
	if err != nil {
		return nil, err
	}

	chains := certchain.New(cfg.TrustAnchors, certchain.WithCRLChecking(parameters.crlCheck))
	auditor := issueraudit.New(resolver, history)

	return verifier.New(resolver, loader,
		verifier.WithChainValidator(chains),
		verifier.WithIssuerObserver(auditor),
		verifier.WithIssuerHistory(auditor),
	), nil
}

func createExchangeStore(storeProvider storage.Provider, parameters *serviceParameters) (exchangestore.Store, error) {
	if parameters.redisURL == "" {
		return exchangestore.New(storeProvider)
	}

	opts, err := redis.ParseURL(parameters.redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	var storeOpts []redisstore.Opt
	if parameters.redisPrefix != "" {
		storeOpts = append(storeOpts, redisstore.WithKeyPrefix(parameters.redisPrefix))
	}

	return redisstore.New(redis.NewClient(opts), storeOpts...), nil
}

func createStoreProvider(param *dbParam) (storage.Provider, error) {
	provider, supported := supportedStorageProviders[param.dbType]
	if !supported {
		return nil, fmt.Errorf("database type not set to a valid type." +
			" run start --help to see the available options")
	}

	var store storage.Provider

	err := backoff.RetryNotify(
		func() error {
			var openErr error
			store, openErr = provider(param.url)
			return openErr
		},
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), param.timeout),
		func(retryErr error, t time.Duration) {
			logger.Warnf(
				"failed to connect to storage, will sleep for %s before trying again : %s\n",
				t, retryErr)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to storage at %s : %w", param.url, err)
	}

	return store, nil
}
