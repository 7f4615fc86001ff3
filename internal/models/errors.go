package models

import "errors"

var (
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionNotConnected  = errors.New("session not connected")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrTransportFailure     = errors.New("transport failure")
	ErrPersistenceFailure   = errors.New("persistence failure")
	ErrNotFound             = errors.New("not found")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrSessionLimitExceeded, "SessionLimitExceeded"},
	{ErrSessionNotFound, "SessionNotFound"},
	{ErrSessionNotConnected, "SessionNotConnected"},
	{ErrInvalidPayload, "InvalidPayload"},
	{ErrTransportFailure, "TransportFailure"},
	{ErrPersistenceFailure, "PersistenceFailure"},
	{ErrNotFound, "NotFound"},
}

// ErrorKind devolve o nome do tipo de erro da taxonomia, ou "" quando não classificado.
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}
