package store

import "errors"

var (
	// ErrInsufficientBalance is returned by DecrementBalance when the
	// conditional update matched no row (balance too low or missing).
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrRefreshTokenConsumed is returned by ArchiveRefreshToken when the
	// token was already archived by a concurrent rotation (0 rows updated).
	ErrRefreshTokenConsumed = errors.New("refresh token already consumed")

	// ErrAuthCodeConsumed is returned by ConsumeAuthCode when the code's
	// nonce has already been recorded by an earlier exchange.
	ErrAuthCodeConsumed = errors.New("authorization code already consumed")
)
