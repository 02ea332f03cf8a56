// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package pds

import (
	"errors"
	"fmt"
	"strings"
)

// XRPCError represents a structured error response from a PDS.
// Callers use errors.As to extract the structured information:
//
//	var xrpcErr *pds.XRPCError
//	if errors.As(err, &xrpcErr) {
//	    if xrpcErr.Name == pds.ErrNameRecordNotFound { ... }
//	}
type XRPCError struct {
	// Name is the XRPC error name (e.g., "RecordNotFound",
	// "AuthenticationRequired").
	Name string `json:"error"`
	// Message is the human-readable description from the server.
	Message string `json:"message"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *XRPCError) Error() string {
	return fmt.Sprintf("xrpc: %s (%d): %s", e.Name, e.StatusCode, e.Message)
}

// XRPC error names this client distinguishes.
const (
	ErrNameRecordNotFound    = "RecordNotFound"
	ErrNameAuthRequired      = "AuthenticationRequired"
	ErrNameAuthMissing       = "AuthMissing"
	ErrNameExpiredToken      = "ExpiredToken"
	ErrNameInvalidToken      = "InvalidToken"
	ErrNameInvalidRequest    = "InvalidRequest"
	ErrNameHandleNotFound    = "HandleNotFound"
	ErrNameAccountTakendown  = "AccountTakedown"
	ErrNameRateLimitExceeded = "RateLimitExceeded"
)

// IsXRPCError checks whether err is an *XRPCError with the given name.
func IsXRPCError(err error, name string) bool {
	var xrpcErr *XRPCError
	if errors.As(err, &xrpcErr) {
		return xrpcErr.Name == name
	}
	return false
}

// IsNotFound reports whether err is the server saying the requested
// record does not exist (as opposed to a transport or auth failure).
// Reference PDS implementations report a missing record either as
// RecordNotFound or as InvalidRequest with a "Could not locate
// record" message; both shapes count.
func IsNotFound(err error) bool {
	var xrpcErr *XRPCError
	if !errors.As(err, &xrpcErr) {
		return false
	}
	if xrpcErr.Name == ErrNameRecordNotFound {
		return true
	}
	return xrpcErr.Name == ErrNameInvalidRequest &&
		strings.Contains(xrpcErr.Message, "Could not locate record")
}
