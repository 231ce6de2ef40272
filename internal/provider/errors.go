// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/M0hamedSayed/MSMapper/internal/httputil"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindTimeout             ErrorKind = "timeout"
	KindRateLimited         ErrorKind = "rate_limited"
	KindUnavailable         ErrorKind = "unavailable"
	KindAuthFailure         ErrorKind = "auth_failure"
	KindInvalidResponse     ErrorKind = "invalid_response"
	KindCostCeilingExceeded ErrorKind = "cost_ceiling_exceeded"
	KindRateLimitExceeded   ErrorKind = "rate_limit_exceeded"
)

// Error is the typed failure returned by providers and the gateway.
type Error struct {
	Kind     ErrorKind
	Provider string

	// RetryAfter is the provider's requested delay for KindRateLimited.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether a retry may succeed.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited, KindUnavailable:
		return true
	}
	return false
}

// IsKind reports whether err is a provider error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

func newError(provider string, kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// classify maps a client error onto an ErrorKind.
func classify(provider string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			pe.Provider = provider
		}
		return pe
	}

	var se *httputil.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusUnauthorized, se.StatusCode == http.StatusForbidden:
			return newError(provider, KindAuthFailure, err)
		case se.StatusCode == http.StatusTooManyRequests:
			e := newError(provider, KindRateLimited, err)
			e.RetryAfter = se.RetryAfter
			return e
		case se.StatusCode == http.StatusRequestTimeout:
			return newError(provider, KindTimeout, err)
		case se.StatusCode >= 500:
			return newError(provider, KindUnavailable, err)
		default:
			return newError(provider, KindInvalidResponse, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newError(provider, KindTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newError(provider, KindTimeout, err)
	}
	return newError(provider, KindUnavailable, err)
}
