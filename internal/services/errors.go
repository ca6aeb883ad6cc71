// Package services defines the business logic for entitlement and track
// requests. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by callers.
//
// Translation into user-facing text is performed by the transport layer; the
// typed failures in domain cover the request pipeline itself.
package services

import "errors"

var (
	// ErrEmptyRequest is returned when a request carries no usable text.
	ErrEmptyRequest = errors.New("request is empty")

	// ErrRateLimited is returned when a requester sends faster than allowed.
	ErrRateLimited = errors.New("requester rate limited")

	// ErrForbidden is returned when a non-whitelisted requester invokes an
	// admin command.
	ErrForbidden = errors.New("admin command not allowed")

	// ErrPaymentNotFound indicates that the payment payload does not match a
	// payment owned by the payer.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrPaymentNotPending is returned at pre-checkout for a payment that was
	// already settled.
	ErrPaymentNotPending = errors.New("payment is not pending")

	// ErrAlreadySettled is returned when a payment confirmation is delivered
	// more than once. No second job is admitted.
	ErrAlreadySettled = errors.New("payment already settled")
)
