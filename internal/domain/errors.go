package domain

import "errors"

var (
	ErrConfig          = errors.New("config error")
	ErrCredential      = errors.New("credential error")
	ErrSecretService   = errors.New("secret service error")
	ErrSecretNotFound  = errors.New("secret not found")
	ErrAuth            = errors.New("authentication failed")
	ErrFatalAuth       = errors.New("authentication retries exhausted")
	ErrListener        = errors.New("listener error")
	ErrRuntimeNotFound = errors.New("runtime record not found")

	// ErrRestartRequested is returned by a lifecycle run that ended because the
	// scheduled restart fired. The process supervisor is expected to relaunch.
	ErrRestartRequested = errors.New("restart requested")
)
