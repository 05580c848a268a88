package core

import "errors"

var (
	ErrInvalidIdentity    = errors.New("invalid identity")
	ErrCorruptRecord      = errors.New("stored session record is corrupt")
	ErrStoreUnavailable   = errors.New("session store unavailable")
	ErrSetupFailed        = errors.New("session setup failed")
	ErrLoggedOut          = errors.New("session logged out")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrPairingFailed      = errors.New("pairing code request failed")
	ErrSessionDeleted     = errors.New("session deleted")
	ErrShuttingDown       = errors.New("controller is shutting down")

	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
)
