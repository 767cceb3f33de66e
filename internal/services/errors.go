// Package services defines the business logic for chats, messages, settings,
// and authentication. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked by
// callers.
//
// These errors are internal to the service layer; translation into HTTP
// status codes happens at the handler boundary.
package services

import "errors"

var (
	// ErrChatNotFound indicates that the requested chat does not exist or is
	// not accessible to the current user. The two cases are deliberately not
	// distinguishable so callers cannot probe for other users' chats.
	ErrChatNotFound = errors.New("chat not found")

	// ErrInvalidRole is returned when a message carries a role outside the
	// closed {user, assistant} set.
	ErrInvalidRole = errors.New("role must be \"user\" or \"assistant\"")

	// ErrEmptyContent is returned when a message has no content after
	// trimming.
	ErrEmptyContent = errors.New("content is empty")

	// ErrTooLong is returned when message content exceeds the configured
	// maximum length.
	ErrTooLong = errors.New("content too long")

	// ErrEmptyTitle is returned when a title update carries nothing usable.
	ErrEmptyTitle = errors.New("title is empty")

	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password; login failures are intentionally indistinct.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned when registering with an email that already
	// has an account.
	ErrEmailTaken = errors.New("email already registered")
)
