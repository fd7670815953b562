/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/models/presexch"

	"github.com/hyperledger/aries-exchanger/pkg/controller/command"
	"github.com/hyperledger/aries-exchanger/pkg/controller/rest"
	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	exchangestore "github.com/hyperledger/aries-exchanger/pkg/store/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/workflow"
)

var logger = log.New("aries-exchanger/rest/exchange")

// constants for the exchange operations.
const (
	WorkflowPath              = "/workflows/{workflowId}"
	ExchangesPath             = WorkflowPath + "/exchanges"
	ExchangePath              = ExchangesPath + "/{exchangeId}"
	AuthorizationRequestPath  = ExchangePath + "/openid/client/authorization/request"
	AuthorizationResponsePath = ExchangePath + "/openid/client/authorization/response"
	ExchangeAuditPath         = ExchangePath + "/audit"
	EntraCallbackPath         = WorkflowPath + "/entra/callback"
	DCAPIRequestPath          = ExchangePath + "/dcapi/request"
	DCAPIResponsePath         = ExchangePath + "/dcapi/response"
	TokenPath                 = WorkflowPath + "/oidc/token"

	requestObjectContentType = "application/" + workflow.RequestObjectType
	formContentType          = "application/x-www-form-urlencoded"
	authorizationCodeGrant   = "authorization_code"
	maxBodySize              = 4 << 20
)

// Error codes of the exchange operations.
const (
	InvalidRequestErrorCode = command.Code(iota + command.Exchange)
	UnauthorizedErrorCode
	NotFoundErrorCode
	BadStateErrorCode
	ConflictErrorCode
	RemoteErrorCode
	ExchangeErrorCode
)

// Error codes of code redemption.
const (
	InvalidGrantErrorCode = command.Code(iota + command.OIDC)
	UnsupportedGrantErrorCode
)

// Option configures the exchange operations.
type Option func(o *Operation)

// WithAdminToken accepts the bearer token on every client authenticated route.
func WithAdminToken(token string) Option {
	return func(o *Operation) {
		o.adminToken = token
	}
}

// Operation contains REST operations of workflow exchanges.
type Operation struct {
	handlers   []rest.Handler
	registry   *workflow.Registry
	base       *workflow.Base
	adminToken string
}

// New returns a new instance of the exchange REST controller.
func New(registry *workflow.Registry, base *workflow.Base, opts ...Option) *Operation {
	op := &Operation{registry: registry, base: base}

	for _, opt := range opts {
		opt(op)
	}

	op.registerHandlers()

	return op
}

func (o *Operation) registerHandlers() {
	o.handlers = []rest.Handler{
		rest.NewHandler(ExchangesPath, http.MethodPost, o.CreateExchange),
		rest.NewHandler(ExchangePath, http.MethodGet, o.GetExchange),
		rest.NewHandler(ExchangeAuditPath, http.MethodGet, o.AuditExchange),
		rest.NewHandler(AuthorizationRequestPath, http.MethodGet, o.AuthorizationRequest),
		rest.NewHandler(AuthorizationResponsePath, http.MethodPost, o.AuthorizationResponse),
		rest.NewHandler(EntraCallbackPath, http.MethodPost, o.EntraCallback),
		rest.NewHandler(DCAPIRequestPath, http.MethodGet, o.DCAPIRequest),
		rest.NewHandler(DCAPIResponsePath, http.MethodPost, o.DCAPIResponse),
		rest.NewHandler(TokenPath, http.MethodPost, o.RedeemCode),
	}
}

// GetRESTHandlers gets all controller API handlers available for this service.
func (o *Operation) GetRESTHandlers() []rest.Handler {
	return o.handlers
}

// CreateExchange swagger:route POST /workflows/{workflowId}/exchanges exchange createExchangeReq
//
// Creates an exchange for the workflow. Requires the workflow client credentials when configured. An
// OIDC state is only accepted from an authenticated client.
//
// Responses:
//    default: genericError
//    201: createExchangeRes
func (o *Operation) CreateExchange(rw http.ResponseWriter, req *http.Request) {
	wf, engine, err := o.registry.Lookup(mux.Vars(req)["workflowId"])
	if err != nil {
		sendError(rw, err)

		return
	}

	authorized := o.clientAuthorized(req, wf)

	if (wf.ClientID != "" || o.adminToken != "") && !authorized {
		sendError(rw, fmt.Errorf("%w: client credentials", workflow.ErrUnauthorized))

		return
	}

	var create workflow.CreateRequest

	if req.ContentLength != 0 {
		if err = json.NewDecoder(io.LimitReader(req.Body, maxBodySize)).Decode(&create); err != nil &&
			!errors.Is(err, io.EOF) {
			sendError(rw, fmt.Errorf("%w: decode request: %s", workflow.ErrBadRequest, err.Error()))

			return
		}
	}

	if create.OIDCState != "" && !authorized {
		sendError(rw, fmt.Errorf("%w: oidc state requires client credentials", workflow.ErrUnauthorized))

		return
	}

	created, err := engine.CreateExchange(req.Context(), wf, &create)
	if err != nil {
		sendError(rw, err)

		return
	}

	if location, e := o.base.URL("workflows", wf.ID, "exchanges", created.Exchange.ID); e == nil {
		rw.Header().Set("Location", location)
	}

	rest.WriteJSON(rw, http.StatusCreated, &createExchangeResponse{
		Exchange:  created.Exchange.Public(),
		Protocols: created.Protocols,
	})
}

// GetExchange swagger:route GET /workflows/{workflowId}/exchanges/{exchangeId} exchange getExchangeReq
//
// Reads an exchange with its access token or the workflow client credentials. Expired exchanges
// stay readable until their record is swept.
//
// Responses:
//    default: genericError
//    200: getExchangeRes
func (o *Operation) GetExchange(rw http.ResponseWriter, req *http.Request) {
	wf, engine, err := o.registry.Lookup(mux.Vars(req)["workflowId"])
	if err != nil {
		sendError(rw, err)

		return
	}

	id := mux.Vars(req)["exchangeId"]

	stored, err := o.base.Store().Get(req.Context(), id, true)
	if err != nil {
		sendError(rw, err)

		return
	}

	if stored.WorkflowID != wf.ID {
		sendError(rw, fmt.Errorf("%w: %s", exchangestore.ErrExchangeNotFound, id))

		return
	}

	if !equal(bearerToken(req), stored.AccessToken) && !o.clientAuthorized(req, wf) {
		sendError(rw, fmt.Errorf("%w: exchange %s", workflow.ErrUnauthorized, id))

		return
	}

	ex := stored

	if !stored.Expired(o.base.Now()) {
		ex, err = engine.GetExchange(req.Context(), wf, id)
		if err != nil {
			sendError(rw, err)

			return
		}
	}

	rest.WriteJSON(rw, http.StatusOK, &exchangeResponse{Exchange: ex.Public()})
}

// AuditExchange swagger:route GET /workflows/{workflowId}/exchanges/{exchangeId}/audit exchange auditExchangeReq
//
// Re-verifies the stored presentations of an exchange with the issuer DID documents that were valid
// when they were presented. Requires the workflow client credentials.
//
// Responses:
//    default: genericError
//    200: auditExchangeRes
func (o *Operation) AuditExchange(rw http.ResponseWriter, req *http.Request) {
	wf, _, err := o.registry.Lookup(mux.Vars(req)["workflowId"])
	if err != nil {
		sendError(rw, err)

		return
	}

	if !o.clientAuthorized(req, wf) {
		sendError(rw, fmt.Errorf("%w: client credentials", workflow.ErrUnauthorized))

		return
	}

	audit, err := o.base.AuditExchange(req.Context(), wf, mux.Vars(req)["exchangeId"])
	if err != nil {
		sendError(rw, err)

		return
	}

	rest.WriteJSON(rw, http.StatusOK, &auditExchangeResponse{Audit: audit})
}

// AuthorizationRequest swagger:route GET /workflows/{workflowId}/exchanges/{exchangeId}/openid/client/authorization/request exchange authorizationRequestReq
//
// Serves the signed OpenID4VP request object of the exchange.
//
// Responses:
//    default: genericError
//    200: authorizationRequestRes
func (o *Operation) AuthorizationRequest(rw http.ResponseWriter, req *http.Request) {
	o.authorizationRequest(rw, req, false)
}

// DCAPIRequest swagger:route GET /workflows/{workflowId}/exchanges/{exchangeId}/dcapi/request exchange dcapiRequestReq
//
// Serves the signed request object handed to the browser Digital Credentials API.
//
// Responses:
//    default: genericError
//    200: authorizationRequestRes
func (o *Operation) DCAPIRequest(rw http.ResponseWriter, req *http.Request) {
	o.authorizationRequest(rw, req, true)
}

func (o *Operation) authorizationRequest(rw http.ResponseWriter, req *http.Request, dcapi bool) {
	wf, engine, err := o.lookupBinding(req, dcapi)
	if err != nil {
		sendError(rw, err)

		return
	}

	requester, ok := engine.(workflow.AuthorizationRequester)
	if !ok {
		sendError(rw, fmt.Errorf("%w: %s workflows serve no authorization request", workflow.ErrWorkflowNotFound, wf.Type))

		return
	}

	token, err := requester.AuthorizationRequest(req.Context(), wf, mux.Vars(req)["exchangeId"])
	if err != nil {
		sendError(rw, err)

		return
	}

	rw.Header().Set("Content-Type", requestObjectContentType)

	if _, err = rw.Write([]byte(token)); err != nil {
		logger.Errorf("Unable to send authorization request, %s", err)
	}
}

// AuthorizationResponse swagger:route POST /workflows/{workflowId}/exchanges/{exchangeId}/openid/client/authorization/response exchange authorizationResponseReq
//
// Accepts the wallet authorization response posted with response mode direct_post. When the workflow
// continues with another step the response names it and the wallet fetches the next request.
//
// Responses:
//    default: genericError
//    200: authorizationResponseRes
//    400: authorizationResponseRes
func (o *Operation) AuthorizationResponse(rw http.ResponseWriter, req *http.Request) {
	o.authorizationResponse(rw, req, false)
}

// DCAPIResponse swagger:route POST /workflows/{workflowId}/exchanges/{exchangeId}/dcapi/response exchange dcapiResponseReq
//
// Accepts the response returned by the browser Digital Credentials API together with its origin.
//
// Responses:
//    default: genericError
//    200: authorizationResponseRes
//    400: authorizationResponseRes
func (o *Operation) DCAPIResponse(rw http.ResponseWriter, req *http.Request) {
	o.authorizationResponse(rw, req, true)
}

func (o *Operation) authorizationResponse(rw http.ResponseWriter, req *http.Request, dcapi bool) {
	wf, engine, err := o.lookupBinding(req, dcapi)
	if err != nil {
		sendError(rw, err)

		return
	}

	responder, ok := engine.(workflow.AuthorizationResponder)
	if !ok {
		sendError(rw, fmt.Errorf("%w: %s workflows accept no authorization response", workflow.ErrWorkflowNotFound, wf.Type))

		return
	}

	resp, err := parseAuthorizationResponse(rw, req)
	if err != nil {
		sendError(rw, err)

		return
	}

	if dcapi && resp.Origin == "" {
		resp.Origin = req.Header.Get("Origin")
	}

	ex, err := responder.AuthorizationResponse(req.Context(), wf, mux.Vars(req)["exchangeId"], resp)
	if err != nil {
		sendError(rw, err)

		return
	}

	res := &authorizationResponseResult{State: ex.State}
	status := http.StatusOK

	if ex.State == exchange.StateActive {
		res.Step = ex.Step
	} else if result, found := ex.Result(ex.Step); !found || !result.Verified {
		status = http.StatusBadRequest

		if found {
			res.Errors = result.Errors
		}
	}

	rest.WriteJSON(rw, status, res)
}

// EntraCallback swagger:route POST /workflows/{workflowId}/entra/callback exchange entraCallbackReq
//
// Receives presentation request status notifications of an Entra verified ID tenant. The exchange is
// the one keyed by the requestId of the notification and the bearer token must equal the secret
// minted for it.
//
// Responses:
//    default: genericError
//    200: emptyRes
func (o *Operation) EntraCallback(rw http.ResponseWriter, req *http.Request) {
	wf, engine, err := o.registry.Lookup(mux.Vars(req)["workflowId"])
	if err != nil {
		sendError(rw, err)

		return
	}

	receiver, ok := engine.(workflow.WebhookReceiver)
	if !ok {
		sendError(rw, fmt.Errorf("%w: %s workflows receive no callbacks", workflow.ErrWorkflowNotFound, wf.Type))

		return
	}

	payload, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
	if err != nil {
		sendError(rw, fmt.Errorf("%w: read callback: %s", workflow.ErrBadRequest, err.Error()))

		return
	}

	if err = receiver.HandleWebhook(req.Context(), wf, req.Header.Get("Authorization"), payload); err != nil {
		sendError(rw, err)

		return
	}

	rest.WriteJSON(rw, http.StatusOK, nil)
}

// RedeemCode swagger:route POST /workflows/{workflowId}/oidc/token exchange redeemCodeReq
//
// Exchanges the one-time code of a completed exchange for its verification results. The code is
// consumed by the first successful call.
//
// Responses:
//    default: genericError
//    200: redeemCodeRes
func (o *Operation) RedeemCode(rw http.ResponseWriter, req *http.Request) {
	wf, _, err := o.registry.Lookup(mux.Vars(req)["workflowId"])
	if err != nil {
		sendError(rw, err)

		return
	}

	if !o.clientAuthorized(req, wf) {
		sendError(rw, fmt.Errorf("%w: client credentials", workflow.ErrUnauthorized))

		return
	}

	if err = req.ParseForm(); err != nil {
		sendError(rw, fmt.Errorf("%w: parse form: %s", workflow.ErrBadRequest, err.Error()))

		return
	}

	if grant := req.PostForm.Get("grant_type"); grant != authorizationCodeGrant {
		rest.SendHTTPStatusError(rw, http.StatusBadRequest, UnsupportedGrantErrorCode,
			fmt.Errorf("unsupported grant type %q", grant))

		return
	}

	code := req.PostForm.Get("code")

	ex, err := o.base.Store().GetByOIDCCode(req.Context(), code)
	if err == nil && ex.WorkflowID != wf.ID {
		err = exchangestore.ErrExchangeNotFound
	}

	if err == nil {
		ex, err = o.base.RedeemCode(req.Context(), code)
	}

	if err != nil {
		if errors.Is(err, exchangestore.ErrExchangeNotFound) || errors.Is(err, workflow.ErrBadState) {
			rest.SendHTTPStatusError(rw, http.StatusBadRequest, InvalidGrantErrorCode, fmt.Errorf("invalid grant: %w", err))

			return
		}

		sendError(rw, err)

		return
	}

	rw.Header().Set("Cache-Control", "no-store")
	rest.WriteJSON(rw, http.StatusOK, &redeemCodeResponse{
		ExchangeID: ex.ID,
		WorkflowID: ex.WorkflowID,
		Step:       ex.Step,
		State:      ex.OIDC.State,
		Results:    ex.Variables.Results,
	})
}

// lookupBinding resolves the workflow and rejects routes of the other request binding.
func (o *Operation) lookupBinding(req *http.Request, dcapi bool) (*exchange.WorkflowDefinition, workflow.Engine, error) {
	wf, engine, err := o.registry.Lookup(mux.Vars(req)["workflowId"])
	if err != nil {
		return nil, nil, err
	}

	if dcapi != (wf.Type == exchange.WorkflowDCAPI) {
		return nil, nil, fmt.Errorf("%w: route not served for %s workflows", workflow.ErrWorkflowNotFound, wf.Type)
	}

	return wf, engine, nil
}

func (o *Operation) clientAuthorized(req *http.Request, wf *exchange.WorkflowDefinition) bool {
	if o.adminToken != "" && equal(bearerToken(req), o.adminToken) {
		return true
	}

	user, password, ok := req.BasicAuth()
	if !ok || wf.ClientID == "" {
		return false
	}

	return equal(user, wf.ClientID) && equal(password, wf.ClientSecret)
}

func parseAuthorizationResponse(rw http.ResponseWriter, req *http.Request) (*workflow.AuthorizationResponse, error) {
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))

	body := http.MaxBytesReader(rw, req.Body, maxBodySize)

	if mediaType == formContentType {
		req.Body = body

		if err := req.ParseForm(); err != nil {
			return nil, fmt.Errorf("%w: parse form: %s", workflow.ErrBadRequest, err.Error())
		}

		resp := &workflow.AuthorizationResponse{
			VPToken: req.PostForm.Get("vp_token"),
			State:   req.PostForm.Get("state"),
			Origin:  req.PostForm.Get("origin"),
		}

		if s := req.PostForm.Get("presentation_submission"); s != "" {
			resp.Submission = &presexch.PresentationSubmission{}

			if err := json.Unmarshal([]byte(s), resp.Submission); err != nil {
				return nil, fmt.Errorf("%w: decode presentation_submission: %s", workflow.ErrBadRequest, err.Error())
			}
		}

		return resp, nil
	}

	var raw authorizationResponseRequest

	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode response: %s", workflow.ErrBadRequest, err.Error())
	}

	resp := &workflow.AuthorizationResponse{
		VPToken:    string(raw.VPToken),
		Submission: raw.Submission,
		State:      raw.State,
		Origin:     raw.Origin,
	}

	// jwt presentations arrive as JSON strings, data integrity presentations as objects
	var token string
	if json.Unmarshal(raw.VPToken, &token) == nil {
		resp.VPToken = token
	}

	return resp, nil
}

func bearerToken(req *http.Request) string {
	const prefix = "Bearer "

	h := req.Header.Get("Authorization")
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}

	return h[len(prefix):]
}

func equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func sendError(rw http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrUnauthorized):
		rest.SendError(rw, command.NewAuthError(UnauthorizedErrorCode, err))
	case errors.Is(err, workflow.ErrWorkflowNotFound), errors.Is(err, exchangestore.ErrExchangeNotFound):
		rest.SendError(rw, command.NewNotFoundError(NotFoundErrorCode, err))
	case errors.Is(err, workflow.ErrBadRequest):
		rest.SendError(rw, command.NewValidationError(InvalidRequestErrorCode, err))
	case errors.Is(err, workflow.ErrBadState):
		rest.SendError(rw, command.NewValidationError(BadStateErrorCode, err))
	case errors.Is(err, exchangestore.ErrConflict):
		rest.SendError(rw, command.NewConflictError(ConflictErrorCode, err))
	case errors.Is(err, workflow.ErrRemote):
		rest.SendHTTPStatusError(rw, http.StatusBadGateway, RemoteErrorCode, err)
	default:
		logger.Errorf("exchange operation failed: %s", err)
		rest.SendError(rw, command.NewExecuteError(ExchangeErrorCode, err))
	}
}
