package services

import "errors"

var (
	// ErrInvalidRequest indicates a malformed authorization request
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnsupportedResponseType indicates response_type was not "code"
	ErrUnsupportedResponseType = errors.New("unsupported response type")

	// ErrUnauthorizedClient indicates an unknown or archived echo app
	ErrUnauthorizedClient = errors.New("unauthorized client")

	// ErrInvalidRedirectURI indicates redirect_uri failed the allow-list
	ErrInvalidRedirectURI = errors.New("invalid redirect URI")

	// ErrInvalidScope indicates the requested scope exceeds the app's scopes
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidGrant is the uniform failure for code exchange and refresh.
	// Every rejection reason collapses into it so callers can't learn which
	// part of a stolen credential was wrong.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrInvalidCredentials indicates a failed login attempt
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrSessionNotFound indicates the session does not exist or is not
	// owned by the requesting user
	ErrSessionNotFound = errors.New("session not found")

	// ErrInsufficientBalance indicates the user's balance cannot cover a
	// metered request
	ErrInsufficientBalance = errors.New("insufficient balance")
)
