package keywrap

import "errors"

var (
	// ErrBadKey is returned when a wrapped key cannot be opened. Callers treat
	// it as "no access"; it is never retried.
	ErrBadKey = errors.New("keywrap: wrapped key authentication failed")
	// ErrBadCiphertext is returned when a message body cannot be decrypted.
	ErrBadCiphertext = errors.New("keywrap: cannot decrypt body")

	ErrInvalidPublicID  = errors.New("keywrap: invalid public id")
	ErrInvalidKeyLength = errors.New("keywrap: invalid content key length")
)
