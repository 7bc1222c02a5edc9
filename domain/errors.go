package domain

import "errors"

// Engine validation errors. The error text doubles as the wire reason
// delivered to the requesting connection, so keep the dash naming stable.
var (
	ErrSessionNotFound    = errors.New("session-not-found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidQuestion    = errors.New("invalid-question")
	ErrInvalidOption      = errors.New("invalid-option")
	ErrNameTaken          = errors.New("name-taken")
	ErrInvalidName        = errors.New("invalid-name")
	ErrQuestionNotActive  = errors.New("question-not-active")
	ErrQuestionInProgress = errors.New("question-in-progress")
	ErrResourceExhausted  = errors.New("resource-exhausted")
	ErrEmptyMessage       = errors.New("empty-message")
)

var (
	DatabaseError     = errors.New("database-error")
	ErrRecordNotFound = errors.New("record-not-found")
)

var (
	TokenError               = errors.New("token-error")
	ErrInvalidSigningAlg     = errors.New("invalid-signing-alg")
	ErrExpiredToken          = errors.New("expired-token")
	ErrInvalidTokenSignature = errors.New("invalid-token-signature")
	ErrCorruptedToken        = errors.New("corrupted-token")
)
