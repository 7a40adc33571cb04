package domain

import "errors"

var (
	ErrPayloadTooLarge   = errors.New("payload_too_large")
	ErrDecryptionFailed  = errors.New("decryption_failed")
	ErrMissingSessionKey = errors.New("missing_session_key")
	ErrInvalidCommand    = errors.New("invalid_command")
)
