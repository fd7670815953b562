/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package rest

import (
	"encoding/json"
	"net/http"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-exchanger/pkg/controller/command"
)

var logger = log.New("aries-exchanger/rest")

// Handler http handler for each controller API endpoint.
type Handler interface {
	Path() string
	Method() string
	Handle() http.HandlerFunc
}

// NewHandler binds fn to method and path.
func NewHandler(path, method string, fn http.HandlerFunc) Handler {
	return &route{path: path, method: method, fn: fn}
}

type route struct {
	path   string
	method string
	fn     http.HandlerFunc
}

func (r *route) Path() string { return r.path }

func (r *route) Method() string { return r.method }

func (r *route) Handle() http.HandlerFunc { return r.fn }

// WriteJSON writes v as a JSON body with status. A nil v is written as an empty object.
func WriteJSON(rw http.ResponseWriter, status int, v interface{}) {
	if v == nil {
		v = map[string]interface{}{}
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		logger.Errorf("Unable to send response, %s", err)
	}
}

// genericErrorBody is the error response body of the REST API.
//
// swagger:response genericError
type genericErrorBody struct {
	// in: body
	Code command.Code `json:"code"`
	// in: body
	Message string `json:"message"`
}

// SendError sends the command error with the HTTP status of its type.
func SendError(rw http.ResponseWriter, err command.Error) {
	var status int

	switch err.Type() {
	case command.ValidationError:
		status = http.StatusBadRequest
	case command.AuthError:
		status = http.StatusUnauthorized
	case command.NotFoundError:
		status = http.StatusNotFound
	case command.ConflictError:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}

	SendHTTPStatusError(rw, status, err.Code(), err)
}

// SendHTTPStatusError sends given http status code to response with error body.
func SendHTTPStatusError(rw http.ResponseWriter, httpStatus int, code command.Code, err error) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(httpStatus)

	e := json.NewEncoder(rw).Encode(genericErrorBody{
		Code:    code,
		Message: err.Error(),
	})
	if e != nil {
		logger.Errorf("Unable to send error response, %s", e)
	}
}
