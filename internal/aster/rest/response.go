package rest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// APIError is a structured venue rejection. Code carries the venue's
// application error code, Status the HTTP status it arrived with.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue error %d (http %d): %s", e.Code, e.Status, e.Msg)
}

const (
	codeInvalidSignature = -1022
	codeCancelRejected   = -2011
	codeOrderNotFound    = -2013
	codeBadAPIKeyFormat  = -2014
	codeInvalidAPIKey    = -2015
)

// IsUnknownOrder reports whether err is the venue saying it no longer
// knows the order. For a cancel this usually means the order filled
// (or was already cancelled) before the cancel arrived.
func IsUnknownOrder(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeCancelRejected || apiErr.Code == codeOrderNotFound
}

// IsAuthFailure reports whether err indicates bad credentials or a bad
// signature rather than a problem with the request itself.
func IsAuthFailure(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case codeInvalidSignature, codeBadAPIKeyFormat, codeInvalidAPIKey:
		return true
	}
	return false
}

// retryable reports whether a request may be repeated. Venue 4xx
// responses are final; 5xx and transport failures are worth retrying.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return err != nil
}

func parseAPIError(status int, body []byte) error {
	apiErr := &APIError{Status: status}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Msg = payload.Msg
	}
	if apiErr.Msg == "" {
		apiErr.Msg = string(body)
	}
	return apiErr
}
