package main

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable means the Travis public key could not be fetched
	ErrUpstreamUnavailable = fmt.Errorf("upstream unavailable")
	// ErrInvalidSignature means the payload signature did not verify
	ErrInvalidSignature = fmt.Errorf("invalid signature")
	// ErrMalformedPayload means the payload was missing, unparseable or incomplete
	ErrMalformedPayload = fmt.Errorf("malformed payload")
	// ErrDeliveryFailed means the Telegram sendMessage call failed
	ErrDeliveryFailed = fmt.Errorf("delivery failed")
)

var failureKinds = []error{
	ErrUpstreamUnavailable,
	ErrInvalidSignature,
	ErrMalformedPayload,
	ErrDeliveryFailed,
}

// failureKind names the category of a pipeline error for logging.
func failureKind(err error) string {
	for _, kind := range failureKinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "unknown"
}

// upstreamError carries the response details of a failed outbound call.
type upstreamError struct {
	kind       error
	op         string
	statusCode int
	body       string
	err        error
}

func (e *upstreamError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: [%d] %s: %s", e.kind, e.op, e.statusCode, e.err, e.body)
	}
	return fmt.Sprintf("%s: %s: [%d] %s", e.kind, e.op, e.statusCode, e.body)
}

func (e *upstreamError) Is(target error) bool {
	return target == e.kind
}

func (e *upstreamError) Unwrap() error {
	return e.err
}

// StatusCode returns the HTTP status of the failed call, 0 on transport errors.
func (e *upstreamError) StatusCode() int {
	return e.statusCode
}

// Body returns the response body of the failed call, if any was read.
func (e *upstreamError) Body() string {
	return e.body
}
