package admission

import (
	"errors"
	"fmt"
)

// Kind classifies why an ingestion call was rejected.
type Kind string

const (
	Unknown          Kind = "Unknown"
	Unauthorized     Kind = "Unauthorized"
	InvalidPayload   Kind = "InvalidPayload"
	NoConfig         Kind = "NoConfig"
	QuotaExceeded    Kind = "QuotaExceeded"
	PersistenceError Kind = "PersistenceError"
)

// Error is returned by Controller.Admit when a request is rejected.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error returns a string version of the error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("admission: %s - %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("admission: %s - %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func reject(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf returns the rejection kind carried by err, Unknown for foreign
// errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
