// Package errs carries the service error taxonomy so handlers can map
// engine failures to distinct HTTP statuses.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: bad request shape, bad config fields, wrong endpoint
	// for the mission type. Never recorded as an attempt.
	KindValidation
	// KindNotFound: unknown mission, store, user or open check-in.
	KindNotFound
	// KindForbidden: owner-scope violations on definition mutation.
	KindForbidden
	// KindAlreadyCompleted: the reward ledger guard tripped; the caller can
	// never complete this mission again.
	KindAlreadyCompleted
	// KindExternal: upstream (judgment oracle, reference image fetch)
	// unavailable. Distinct from a verification failure.
	KindExternal
)

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func Validationf(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...interface{}) error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

func AlreadyCompletedf(format string, args ...interface{}) error {
	return &Error{Kind: KindAlreadyCompleted, Msg: fmt.Sprintf(format, args...)}
}

func Externalf(format string, args ...interface{}) error {
	return &Error{Kind: KindExternal, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the taxonomy kind of err, or KindUnknown for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
