// Package storage persists LEXIFY users, requests and attachments.
package storage

import "errors"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrRequestNotFound = errors.New("request not found")
)

// Request states.
const (
	StatePending = "PENDING"
	StateExpired = "EXPIRED"
)
