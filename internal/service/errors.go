package service

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrChannelNotFound    = errors.New("channel not found")
	ErrNotEncrypted       = errors.New("channel is not encrypted")
	ErrNoAccess           = errors.New("identity has no access")
	ErrRequestNotFound    = errors.New("key request not found")
	ErrStaleRequest       = errors.New("key request already settled")
	ErrVersionConflict    = errors.New("key version conflict")
	ErrAlreadyInitialized = errors.New("key already initialized")
	ErrKeyNotFound        = errors.New("wrapped key not found")
)
